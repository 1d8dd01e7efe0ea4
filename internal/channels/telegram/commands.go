package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/nextlevelbuilder/gchat/internal/keyring"
	"github.com/nextlevelbuilder/gchat/internal/sessions"
)

const helpText = "Owner commands:\n" +
	"/gchat on|off|del <user_id> - enable, disable, or clear history\n" +
	"/gchat all - toggle answering everyone\n" +
	"/role <user_id> <role> - set the primary role (empty resets to default)\n" +
	"/rolex <user_id> - toggle between primary and secondary role\n" +
	"/rolex <user_id> <role> - set a custom secondary role\n" +
	"/rolex <user_id> r - reset the secondary role to default\n" +
	"/setgkey add <key> | set <n> | del <n> - manage API keys\n" +
	"/setgkey - list API keys\n\n" +
	"The user_id may be left out when replying to a message from that user."

// Commands executes owner administration commands against the session
// manager and the credential pool.
type Commands struct {
	sessions *sessions.Manager
	pool     *keyring.Pool
}

// NewCommands creates the command executor.
func NewCommands(sess *sessions.Manager, pool *keyring.Pool) *Commands {
	return &Commands{sessions: sess, pool: pool}
}

// parseCommand splits "/name@bot arg1 arg2" into its lowercased name and
// arguments.
func parseCommand(text string) (string, []string, bool) {
	if len(text) == 0 || text[0] != '/' {
		return "", nil, false
	}
	fields := strings.Fields(text)
	cmd := strings.SplitN(fields[0], "@", 2)[0]
	cmd = strings.ToLower(strings.TrimPrefix(cmd, "/"))
	return cmd, fields[1:], cmd != ""
}

// userArg returns args[0] as a user ID when it is numeric, else fallback.
// A zero result means no user was named.
func userArg(args []string, fallback int64) (int64, []string) {
	if len(args) > 0 {
		if id, err := strconv.ParseInt(args[0], 10, 64); err == nil {
			return id, args[1:]
		}
	}
	return fallback, args
}

// Execute runs one command line. target is the user acted on when the
// command names none; 0 makes the user ID mandatory. handled is false for
// text that is not a known command.
func (c *Commands) Execute(ctx context.Context, text string, target int64) (reply string, handled bool) {
	cmd, args, ok := parseCommand(text)
	if !ok {
		return "", false
	}

	var err error
	switch cmd {
	case "gchat", "gc":
		reply, err = c.gchat(ctx, args, target)
		cmd = "gchat"
	case "role":
		reply, err = c.role(ctx, args, target)
	case "rolex":
		reply, err = c.rolex(ctx, args, target)
	case "setgkey":
		reply, err = c.setKey(ctx, args)
	case "help":
		reply = helpText
	default:
		return "", false
	}
	if err != nil {
		slog.Warn("owner command failed", "command", cmd, "error", err)
		return fmt.Sprintf("An error occurred in the `%s` command:\n\n%v", cmd, err), true
	}
	return reply, true
}

func (c *Commands) gchat(ctx context.Context, args []string, target int64) (string, error) {
	if len(args) == 0 {
		return "Usage: /gchat on, off, del, or all [user_id].", nil
	}
	sub := strings.ToLower(args[0])
	userID, _ := userArg(args[1:], target)
	if userID == 0 && (sub == "on" || sub == "off" || sub == "del") {
		return fmt.Sprintf("Usage: /gchat %s <user_id>.", sub), nil
	}

	switch sub {
	case "on":
		if err := c.sessions.Enable(ctx, userID); err != nil {
			return "", err
		}
		return fmt.Sprintf("gchat is enabled for user %d.", userID), nil
	case "off":
		if err := c.sessions.Disable(ctx, userID); err != nil {
			return "", err
		}
		return fmt.Sprintf("gchat is disabled for user %d.", userID), nil
	case "del":
		if err := c.sessions.ResetHistory(ctx, userID); err != nil {
			return "", err
		}
		return fmt.Sprintf("Chat history deleted for user %d.", userID), nil
	case "all":
		on, err := c.sessions.ToggleAll(ctx)
		if err != nil {
			return "", err
		}
		state := "disabled"
		if on {
			state = "enabled"
		}
		return fmt.Sprintf("gchat is now %s for all users.", state), nil
	}
	return "Usage: /gchat on, off, del, or all [user_id].", nil
}

func (c *Commands) role(ctx context.Context, args []string, target int64) (string, error) {
	userID, rest := userArg(args, target)
	if userID == 0 {
		return "Usage: /role <user_id> <role>.", nil
	}
	text := strings.Join(rest, " ")
	role, err := c.sessions.SetRole(ctx, userID, text)
	if err != nil {
		return "", err
	}
	if text == "" {
		return fmt.Sprintf("Role reset to default for user %d.", userID), nil
	}
	return fmt.Sprintf("Role set successfully for user %d!\nNew Role: %s", userID, role), nil
}

func (c *Commands) rolex(ctx context.Context, args []string, target int64) (string, error) {
	userID, rest := userArg(args, target)
	if userID == 0 {
		return "Usage: /rolex <user_id> [role|r].", nil
	}

	switch {
	case len(rest) > 0 && strings.EqualFold(rest[len(rest)-1], "r"):
		sw, err := c.sessions.ResetSecondary(ctx, userID)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Secondary role reset to default for user %d.\nNew Secondary Role:\n%s", userID, sw.Role), nil

	case len(rest) > 0:
		sw, err := c.sessions.SetSecondary(ctx, userID, strings.Join(rest, " "))
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Custom secondary role set for user %d!\nNew Secondary Role: %s", userID, sw.Role), nil
	}

	sw, err := c.sessions.ToggleSecondary(ctx, userID)
	if err != nil {
		return "", err
	}
	if sw.Secondary {
		return fmt.Sprintf("Secondary Role Activated for user %d:\n%s", userID, sw.Role), nil
	}
	return fmt.Sprintf("Switched back to Primary Role for user %d:\n%s", userID, sw.Role), nil
}

func (c *Commands) setKey(ctx context.Context, args []string) (string, error) {
	sub, arg := "", ""
	if len(args) > 0 {
		sub = strings.ToLower(args[0])
	}
	if len(args) > 1 {
		arg = args[1]
	}

	switch {
	case sub == "add" && arg != "":
		if err := c.pool.Add(ctx, arg); err != nil {
			return "", err
		}
		return "New API key added successfully!", nil

	case sub == "set" && arg != "":
		n, convErr := strconv.Atoi(arg)
		if convErr != nil {
			return fmt.Sprintf("Invalid key index: %s.", arg), nil
		}
		if err := c.pool.Select(ctx, n); err != nil {
			if errors.Is(err, keyring.ErrInvalidIndex) {
				return fmt.Sprintf("Invalid key index: %s.", arg), nil
			}
			return "", err
		}
		return fmt.Sprintf("Current API key set to key %s.", arg), nil

	case sub == "del" && arg != "":
		n, convErr := strconv.Atoi(arg)
		if convErr != nil {
			return fmt.Sprintf("Invalid key index: %s.", arg), nil
		}
		if err := c.pool.Remove(ctx, n); err != nil {
			if errors.Is(err, keyring.ErrInvalidIndex) {
				return fmt.Sprintf("Invalid key index: %s.", arg), nil
			}
			return "", err
		}
		return fmt.Sprintf("API key %s deleted successfully!", arg), nil
	}

	return formatKeys(c.pool.List()), nil
}

// formatKeys lists the stored keys with their 1-based positions. Keys are
// masked so the listing is safe to leave in chat history.
func formatKeys(keys []string, cursor int) string {
	var sb strings.Builder
	sb.WriteString("API keys:\n\n")
	for i, k := range keys {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, MaskKey(k))
	}
	current := "None"
	if cursor >= 0 && cursor < len(keys) {
		current = fmt.Sprintf("%d. %s", cursor+1, MaskKey(keys[cursor]))
	}
	sb.WriteString("\nCurrent key: " + current)
	return sb.String()
}

// MaskKey shows the first and last four characters of an API key.
func MaskKey(k string) string {
	if len(k) <= 8 {
		return strings.Repeat("*", len(k))
	}
	return k[:4] + "..." + k[len(k)-4:]
}

// handleBotCommand answers owner commands in place. It returns true when
// the message was consumed.
func (c *Channel) handleBotCommand(ctx context.Context, message *telego.Message) bool {
	text := message.Text
	if len(text) == 0 || text[0] != '/' {
		return false
	}
	if cmd, _, _ := parseCommand(text); cmd == "start" {
		return true
	}
	if c.commands == nil || !c.IsOwner(message.From.ID) {
		return false
	}

	reply, handled := c.commands.Execute(ctx, text, c.replyTarget(message))
	if !handled {
		return false
	}
	if _, err := c.bot.SendMessage(ctx, tu.Message(tu.ID(message.Chat.ID), reply)); err != nil {
		slog.Warn("failed to send command reply", "chat_id", message.Chat.ID, "error", err)
	}
	return true
}

// replyTarget is the author of the message an owner command replies to,
// or 0 when there is none. Owners and bots are never targets.
func (c *Channel) replyTarget(message *telego.Message) int64 {
	r := message.ReplyToMessage
	if r == nil || r.From == nil || r.From.IsBot || c.IsOwner(r.From.ID) {
		return 0
	}
	return r.From.ID
}

// SyncMenuCommands registers bot commands with Telegram via setMyCommands.
func (c *Channel) SyncMenuCommands(ctx context.Context, commands []telego.BotCommand) error {
	if err := c.bot.DeleteMyCommands(ctx, nil); err != nil {
		slog.Debug("deleteMyCommands failed (may not exist)", "error", err)
	}

	if len(commands) == 0 {
		return nil
	}

	if len(commands) > 100 {
		commands = commands[:100]
	}

	return c.bot.SetMyCommands(ctx, &telego.SetMyCommandsParams{Commands: commands})
}

// DefaultMenuCommands returns the owner command menu.
func DefaultMenuCommands() []telego.BotCommand {
	return []telego.BotCommand{
		{Command: "gchat", Description: "Enable, disable or clear a user"},
		{Command: "role", Description: "Set a user's primary role"},
		{Command: "rolex", Description: "Toggle or set the secondary role"},
		{Command: "setgkey", Description: "Manage API keys"},
		{Command: "help", Description: "Show available commands"},
	}
}
