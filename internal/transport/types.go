// Package transport defines the platform-neutral message and update types
// shared by the bot front-end, the notifier and the platform adapters.
package transport

import "context"

// ChatTarget addresses a chat, optionally a forum topic inside it.
type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

// MessageRef points at a message already delivered.
type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

func (r MessageRef) Target() ChatTarget { return ChatTarget{ChatID: r.ChatID, ThreadID: r.ThreadID} }

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateCallback UpdateKind = "callback"
)

// Update is one inbound event. Exactly one of Message and Callback is set,
// matching Kind.
type Update struct {
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
}

// Message is an inbound text message.
type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int
	FromID       int64
	FromUsername string
	Text         string
	IsGroup      bool
}

func (m *Message) Target() ChatTarget { return ChatTarget{ChatID: m.ChatID, ThreadID: m.ThreadID} }

// Callback is a press on an inline keyboard button of MessageID.
type Callback struct {
	ID           string
	FromID       int64
	FromUsername string
	ChatID       int64
	ThreadID     int
	MessageID    int
	Data         string
}

func (c *Callback) Ref() MessageRef {
	return MessageRef{ChatID: c.ChatID, ThreadID: c.ThreadID, MessageID: c.MessageID}
}

// SendOptions tune rendering. Markup is adapter specific; the Telegram
// adapter accepts *telebot.ReplyMarkup and ignores anything else.
type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	Markup         any
}

// Notification is an operator notice queued through the notifier. Priority
// runs from 0 (low) to 10.
type Notification struct {
	Channel  string
	Priority int
	Target   ChatTarget
	Text     string
	Options  *SendOptions
}

// Adapter connects the bot to one messaging platform. Send errors may wrap
// ErrRecipientGone or a *RateLimitedError.
type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	AnswerCallback(ctx context.Context, callbackID string, text string) error
}

// PhotoSender resends an uploaded photo by its platform file id.
type PhotoSender interface {
	SendPhoto(ctx context.Context, to ChatTarget, fileID, caption string, opt *SendOptions) error
}

type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater publishes the platform command menu.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
