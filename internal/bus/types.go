package bus

import "context"

// Kind classifies an inbound message for routing.
type Kind string

const (
	KindText    Kind = "text"
	KindPhoto   Kind = "photo"
	KindFile    Kind = "file"
	KindSticker Kind = "sticker"
)

// InboundMessage is a user message received from a channel, with any media
// already downloaded to local paths.
type InboundMessage struct {
	Channel    string `json:"channel"`
	Kind       Kind   `json:"kind"`
	UserID     int64  `json:"user_id"`
	ChatID     int64  `json:"chat_id"`
	MessageID  int    `json:"message_id"`
	SenderName string `json:"sender_name"`
	Content    string `json:"content,omitempty"`
	Caption    string `json:"caption,omitempty"`
	// Media holds the downloaded file for photo and file messages.
	Media string `json:"media,omitempty"`
	// MediaKind is "video", "audio", "pdf" or "document" for KindFile.
	MediaKind string `json:"media_kind,omitempty"`
}

// MessageHandler handles an inbound message.
type MessageHandler func(ctx context.Context, msg InboundMessage) error

// MessageRouter abstracts inbound message hand-off between channels and
// the conversation runtime.
type MessageRouter interface {
	PublishInbound(msg InboundMessage)
	ConsumeInbound(ctx context.Context) (InboundMessage, bool)
}
