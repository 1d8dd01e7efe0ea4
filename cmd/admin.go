package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/gchat/internal/channels/telegram"
	"github.com/nextlevelbuilder/gchat/internal/keyring"
	"github.com/nextlevelbuilder/gchat/internal/sessions"
)

// The admin subcommands edit persisted state directly. A running bot keeps
// its own copy of the user sets and key list, so restart it afterwards.

func keysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage the API key pool",
	}

	withPool := func(fn func(ctx context.Context, p *keyring.Pool) error) error {
		_, kvs, st, err := loadState()
		if err != nil {
			return err
		}
		defer kvs.Close()
		ctx := context.Background()
		p, err := keyring.NewPool(ctx, st, "")
		if err != nil {
			return err
		}
		return fn(ctx, p)
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(func(_ context.Context, p *keyring.Pool) error {
				keys, cursor := p.List()
				if len(keys) == 0 {
					fmt.Println("no keys stored")
					return nil
				}
				for i, k := range keys {
					marker := " "
					if i == cursor {
						marker = "*"
					}
					fmt.Printf("%s %d. %s\n", marker, i+1, telegram.MaskKey(k))
				}
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "add <key>",
		Short: "Append a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(func(ctx context.Context, p *keyring.Pool) error {
				return p.Add(ctx, args[0])
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "select <n>",
		Short: "Point the rotation cursor at key n (1-based)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid index: %w", err)
			}
			return withPool(func(ctx context.Context, p *keyring.Pool) error {
				return p.Select(ctx, n)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "remove <n>",
		Short: "Delete key n (1-based)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid index: %w", err)
			}
			return withPool(func(ctx context.Context, p *keyring.Pool) error {
				return p.Remove(ctx, n)
			})
		},
	})
	return cmd
}

func withSessions(fn func(ctx context.Context, m *sessions.Manager) error) error {
	cfg, kvs, st, err := loadState()
	if err != nil {
		return err
	}
	defer kvs.Close()
	ctx := context.Background()
	chat := cfg.ChatSettings()
	m, err := sessions.NewManager(ctx, st, chat.DefaultRole, chat.DefaultSecondaryRole)
	if err != nil {
		return err
	}
	return fn(ctx, m)
}

func userIDArg(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid user id %q", s)
	}
	return id, nil
}

func usersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage who the bot answers",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Show enabled and disabled users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSessions(func(_ context.Context, m *sessions.Manager) error {
				enabled, disabled, forAll := m.Snapshot()
				fmt.Printf("  %-10s %v\n", "All:", forAll)
				fmt.Printf("  %-10s %s\n", "Enabled:", joinIDs(enabled))
				fmt.Printf("  %-10s %s\n", "Disabled:", joinIDs(disabled))
				return nil
			})
		},
	})

	for _, action := range []struct {
		use, short string
		run        func(*sessions.Manager, context.Context, int64) error
	}{
		{"enable <user_id>", "Answer this user", (*sessions.Manager).Enable},
		{"disable <user_id>", "Never answer this user", (*sessions.Manager).Disable},
	} {
		cmd.AddCommand(&cobra.Command{
			Use:   action.use,
			Short: action.short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := userIDArg(args[0])
				if err != nil {
					return err
				}
				return withSessions(func(ctx context.Context, m *sessions.Manager) error {
					return action.run(m, ctx, id)
				})
			},
		})
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "all",
		Short: "Toggle answering everyone not explicitly disabled",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSessions(func(ctx context.Context, m *sessions.Manager) error {
				on, err := m.ToggleAll(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("answer all users: %v\n", on)
				return nil
			})
		},
	})
	return cmd
}

func historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect or clear a user's transcript",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show <user_id>",
		Short: "Print the stored transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := userIDArg(args[0])
			if err != nil {
				return err
			}
			return withSessions(func(ctx context.Context, m *sessions.Manager) error {
				lines, err := m.History(ctx, id)
				if err != nil {
					return err
				}
				role, err := m.Role(ctx, id)
				if err != nil {
					return err
				}
				fmt.Printf("role: %s\n\n%s\n", role, strings.Join(lines, "\n"))
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "clear <user_id>",
		Short: "Delete the stored transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := userIDArg(args[0])
			if err != nil {
				return err
			}
			return withSessions(func(ctx context.Context, m *sessions.Manager) error {
				return m.ResetHistory(ctx, id)
			})
		},
	})
	return cmd
}

func joinIDs(ids []int64) string {
	if len(ids) == 0 {
		return "-"
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ", ")
}
