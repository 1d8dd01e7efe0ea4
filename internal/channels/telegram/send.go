package telegram

import (
	"context"
	"fmt"
	"os"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/nextlevelbuilder/gchat/internal/notify"
)

// Sender implements the outbound side of the bot: typing actions, text and
// voice replies, and operator notes.
type Sender struct {
	bot *telego.Bot
}

// NewSender wraps bot.
func NewSender(bot *telego.Bot) *Sender {
	return &Sender{bot: bot}
}

// SendTyping shows the "typing" action in chatID.
func (s *Sender) SendTyping(ctx context.Context, chatID int64) error {
	return s.bot.SendChatAction(ctx, tu.ChatAction(tu.ID(chatID), telego.ChatActionTyping))
}

// SendText posts text, quoting replyTo when it is non-zero.
func (s *Sender) SendText(ctx context.Context, chatID int64, text string, replyTo int) error {
	msg := tu.Message(tu.ID(chatID), text)
	if replyTo > 0 {
		msg.ReplyParameters = replyParams(replyTo)
	}
	if _, err := s.bot.SendMessage(ctx, msg); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// SendVoice uploads the audio file at path as a voice note.
func (s *Sender) SendVoice(ctx context.Context, chatID int64, path string, replyTo int) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open voice file: %w", err)
	}
	defer f.Close()

	params := tu.Voice(tu.ID(chatID), tu.File(f))
	if replyTo > 0 {
		params.ReplyParameters = replyParams(replyTo)
	}
	if _, err := s.bot.SendVoice(ctx, params); err != nil {
		return fmt.Errorf("send voice: %w", err)
	}
	return nil
}

// NotifyFunc returns a notify.SendFunc that posts operator notes to chatID.
func (s *Sender) NotifyFunc(chatID int64) notify.SendFunc {
	return func(ctx context.Context, text string) error {
		return s.SendText(ctx, chatID, text, 0)
	}
}

func replyParams(messageID int) *telego.ReplyParameters {
	return &telego.ReplyParameters{MessageID: messageID, AllowSendingWithoutReply: true}
}
