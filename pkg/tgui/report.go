package tgui

import (
	"context"
	"strings"

	kit "adhanbot/internal/transport"
)

// Report is an HTML text assembled line by line. String arguments are
// escaped, H arguments are taken as is.
type Report struct {
	lines []string
}

// NewReport starts a report with a bold title.
func NewReport(emoji, title string) *Report {
	return &Report{lines: []string{emoji + " " + B(title).String()}}
}

func (r *Report) Blank() *Report {
	r.lines = append(r.lines, "")
	return r
}

// Section opens a titled block preceded by a blank line.
func (r *Report) Section(emoji, title string) *Report {
	r.Blank()
	r.lines = append(r.lines, emoji+" "+B(title+":").String())
	return r
}

// KV adds "emoji key: value" with the key in bold.
func (r *Report) KV(emoji, key string, value H) *Report {
	line := B(key + ":").String() + " " + value.String()
	if emoji != "" {
		line = emoji + " " + line
	}
	r.lines = append(r.lines, line)
	return r
}

// Item adds a bullet.
func (r *Report) Item(v H) *Report {
	r.lines = append(r.lines, "  • "+v.String())
	return r
}

func (r *Report) Line(v H) *Report {
	r.lines = append(r.lines, v.String())
	return r
}

func (r *Report) String() string { return strings.Join(r.lines, "\n") }

// Message is HTML text with link previews off. Text over MaxMessageLen goes
// out in several messages; Markup rides on the last one.
type Message struct {
	Text   string
	Markup any
}

// Send delivers m and returns the reference of the last message sent.
func (m Message) Send(ctx context.Context, ad kit.Adapter, to kit.ChatTarget) (kit.MessageRef, error) {
	parts := Split(m.Text, MaxMessageLen)
	var ref kit.MessageRef
	for i, p := range parts {
		opt := &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}
		if i == len(parts)-1 && m.Markup != nil {
			opt.Markup = m.Markup
		}
		var err error
		if ref, err = ad.SendText(ctx, to, p, opt); err != nil {
			return ref, err
		}
	}
	return ref, nil
}
