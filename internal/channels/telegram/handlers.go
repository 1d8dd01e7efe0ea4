package telegram

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/mymmrac/telego"

	"github.com/nextlevelbuilder/gchat/internal/bus"
	"github.com/nextlevelbuilder/gchat/internal/channels"
)

// defaultSenderName is used when the sender has no first name.
const defaultSenderName = "User"

// inbound is a classified message before any download.
type inbound struct {
	kind      bus.Kind
	fileID    string
	fileSize  int64
	mediaKind string // set for bus.KindFile
	text      string
	caption   string
}

// handleMessage processes an incoming Telegram message.
func (c *Channel) handleMessage(ctx context.Context, message *telego.Message) {
	if isServiceMessage(message) {
		return
	}

	user := message.From
	if user == nil || user.IsBot {
		return
	}

	if message.Chat.Type != "private" {
		slog.Debug("telegram non-private message skipped", "chat_id", message.Chat.ID, "chat_type", message.Chat.Type)
		return
	}

	slog.Debug("telegram message received",
		"chat_id", message.Chat.ID,
		"user_id", user.ID,
		"username", user.Username,
		"text_preview", channels.Truncate(message.Text, 60),
	)

	if c.handleBotCommand(ctx, message) {
		return
	}

	if c.admit != nil && !c.admit(user.ID) {
		slog.Debug("telegram message from non-admitted user skipped", "user_id", user.ID)
		return
	}

	in, ok := classify(message)
	if !ok {
		slog.Debug("telegram message has no supported content", "chat_id", message.Chat.ID)
		return
	}

	name := user.FirstName
	if name == "" {
		name = defaultSenderName
	}
	msg := bus.InboundMessage{
		Kind:       in.kind,
		UserID:     user.ID,
		ChatID:     message.Chat.ID,
		MessageID:  message.MessageID,
		SenderName: name,
		Content:    in.text,
		Caption:    in.caption,
		MediaKind:  in.mediaKind,
	}

	if in.fileID != "" {
		path, err := c.downloadMedia(ctx, in.fileID, in.fileSize)
		if err != nil {
			slog.Warn("telegram media download failed", "user_id", user.ID, "kind", in.kind, "error", err)
			return
		}
		msg.Media = path
	}

	c.HandleMessage(msg)
}

// classify maps a message onto one routing kind. Stickers and GIFs come
// first: an animation also carries a Document. Photos take the largest size.
func classify(msg *telego.Message) (inbound, bool) {
	caption := strings.TrimSpace(msg.Caption)

	switch {
	case msg.Sticker != nil, msg.Animation != nil:
		return inbound{kind: bus.KindSticker}, true

	case len(msg.Photo) > 0:
		photo := msg.Photo[len(msg.Photo)-1]
		return inbound{kind: bus.KindPhoto, fileID: photo.FileID, fileSize: int64(photo.FileSize), caption: caption}, true

	case msg.Video != nil:
		return fileInbound(msg.Video.FileID, int64(msg.Video.FileSize), "video", caption), true

	case msg.VideoNote != nil:
		return fileInbound(msg.VideoNote.FileID, int64(msg.VideoNote.FileSize), "video", caption), true

	case msg.Audio != nil:
		return fileInbound(msg.Audio.FileID, int64(msg.Audio.FileSize), "audio", caption), true

	case msg.Voice != nil:
		return fileInbound(msg.Voice.FileID, int64(msg.Voice.FileSize), "audio", caption), true

	case msg.Document != nil:
		kind := "document"
		if strings.EqualFold(filepath.Ext(msg.Document.FileName), ".pdf") {
			kind = "pdf"
		}
		return fileInbound(msg.Document.FileID, int64(msg.Document.FileSize), kind, caption), true

	case strings.TrimSpace(msg.Text) != "":
		return inbound{kind: bus.KindText, text: strings.TrimSpace(msg.Text)}, true
	}
	return inbound{}, false
}

func fileInbound(fileID string, size int64, kind, caption string) inbound {
	return inbound{kind: bus.KindFile, fileID: fileID, fileSize: size, mediaKind: kind, caption: caption}
}

// isServiceMessage returns true for member joins, title changes and other
// updates with no user content.
func isServiceMessage(msg *telego.Message) bool {
	// Has text or caption → user message
	if msg.Text != "" || msg.Caption != "" {
		return false
	}

	// Has media → user message (photo, audio, video, document, sticker, etc.)
	if msg.Photo != nil || msg.Audio != nil || msg.Video != nil ||
		msg.Document != nil || msg.Voice != nil || msg.VideoNote != nil ||
		msg.Sticker != nil || msg.Animation != nil || msg.Contact != nil ||
		msg.Location != nil || msg.Venue != nil || msg.Poll != nil {
		return false
	}

	return true
}
