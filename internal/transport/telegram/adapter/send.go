package adapter

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	tele "gopkg.in/telebot.v4"

	kit "adhanbot/internal/transport"
	"adhanbot/pkg/logx"
	"adhanbot/pkg/tgui"
)

const (
	maxMenuCommands = 100
	maxMenuDescLen  = 256
)

// ErrTooLong rejects texts over the Bot API limit. Callers split long texts
// with tgui.Message.
var ErrTooLong = fmt.Errorf("telegram: text longer than %d runes", tgui.MaxMessageLen)

func teleOptions(threadID int, opt *kit.SendOptions) *tele.SendOptions {
	so := &tele.SendOptions{ThreadID: threadID}
	if opt == nil {
		return so
	}
	so.ParseMode = opt.ParseMode
	so.DisableWebPagePreview = opt.DisablePreview
	if rm, ok := opt.Markup.(*tele.ReplyMarkup); ok {
		so.ReplyMarkup = rm
	}
	return so
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return kit.MessageRef{}, err
	}
	if utf8.RuneCountInString(text) > tgui.MaxMessageLen {
		return kit.MessageRef{}, ErrTooLong
	}
	msg, err := a.bot.Send(&tele.Chat{ID: to.ChatID}, text, teleOptions(to.ThreadID, opt))
	if err != nil {
		return kit.MessageRef{}, classify(err)
	}
	return kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}, nil
}

// EditText replaces the text (and markup) of ref. An edit that changes
// nothing succeeds.
func (a *Adapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stored := tele.StoredMessage{MessageID: strconv.Itoa(ref.MessageID), ChatID: ref.ChatID}
	so := teleOptions(0, opt)
	_, err := a.bot.Edit(stored, text, so)
	if err != nil && notModified(err) {
		return nil
	}
	return classify(err)
}

func (a *Adapter) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return classify(a.bot.Respond(&tele.Callback{ID: callbackID}, &tele.CallbackResponse{Text: text}))
}

// SendPhoto resends an already uploaded photo by file id.
func (a *Adapter) SendPhoto(ctx context.Context, to kit.ChatTarget, fileID, caption string, opt *kit.SendOptions) error {
	if strings.TrimSpace(fileID) == "" {
		return errors.New("telegram: empty photo file id")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	photo := &tele.Photo{File: tele.File{FileID: fileID}, Caption: caption}
	_, err := a.bot.Send(&tele.Chat{ID: to.ChatID}, photo, teleOptions(to.ThreadID, opt))
	return classify(err)
}

// UpdateMenuCommands calls setMyCommands unless cmds equal the last list
// published successfully.
func (a *Adapter) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	list := menuCommands(cmds)
	sum := menuHash(list)

	a.menuMu.Lock()
	defer a.menuMu.Unlock()
	if sum == a.menuHash {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := a.bot.SetCommands(list); err != nil {
		return classify(err)
	}
	a.menuHash = sum
	a.log.Info("menu commands updated", logx.Int("count", len(list)))
	return nil
}

func menuCommands(cmds []kit.BotCommand) []tele.Command {
	list := make([]tele.Command, 0, min(len(cmds), maxMenuCommands))
	for _, c := range cmds {
		if c.Command == "" {
			continue
		}
		if len(list) == maxMenuCommands {
			break
		}
		d := cmpOr(c.Description, c.Command)
		if len([]rune(d)) > maxMenuDescLen {
			d = string([]rune(d)[:maxMenuDescLen])
		}
		list = append(list, tele.Command{Text: c.Command, Description: d})
	}
	return list
}

func menuHash(list []tele.Command) uint64 {
	h := fnv.New64a()
	for _, c := range list {
		fmt.Fprintf(h, "%s\x00%s\x00", c.Text, c.Description)
	}
	return h.Sum64()
}

var goneErrors = []error{
	tele.ErrBlockedByUser,
	tele.ErrUserIsDeactivated,
	tele.ErrChatNotFound,
	tele.ErrKickedFromGroup,
}

// classify maps Bot API failures onto the transport error kinds.
func classify(err error) error {
	if err == nil {
		return nil
	}
	for _, g := range goneErrors {
		if errors.Is(err, g) {
			return fmt.Errorf("%w: %w", kit.ErrRecipientGone, err)
		}
	}
	var flood tele.FloodError
	if errors.As(err, &flood) {
		return &kit.RateLimitedError{After: time.Duration(flood.RetryAfter) * time.Second, Err: err}
	}
	return err
}

func notModified(err error) bool {
	return strings.Contains(err.Error(), "message is not modified")
}

// compile-time checks
var (
	_ kit.Adapter            = (*Adapter)(nil)
	_ kit.PhotoSender        = (*Adapter)(nil)
	_ kit.CommandMenuUpdater = (*Adapter)(nil)
)
