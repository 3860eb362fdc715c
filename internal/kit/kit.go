// Package kit holds the transport-neutral types shared between the
// Telegram adapter and the rest of the bot.
package kit

import (
	"context"
	"time"
)

type UpdateKind int

const (
	UpdateMessage UpdateKind = iota
	UpdateCommand
)

// Update is one inbound event from the messaging transport.
type Update struct {
	Kind    UpdateKind
	Message *Message
}

// Message is a normalized inbound text message.
type Message struct {
	ID        int
	ChatID    int64
	ChatTitle string
	Group     bool
	FromID    int64
	FromName  string
	Text      string
	At        time.Time
}

// ChatTarget addresses an outbound message.
type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

// ChatInfo describes a chat the account can see.
type ChatInfo struct {
	ID    int64
	Title string
	Type  string
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Adapter is the messaging-client boundary. Implementations must be safe
// for concurrent use; every method honors ctx cancellation.
type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error
	SendText(ctx context.Context, to ChatTarget, text string, opts *SendOptions) (int, error)
	ChatByID(ctx context.Context, chatID int64) (ChatInfo, error)
}
