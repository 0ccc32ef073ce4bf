package tgui

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	tele "gopkg.in/telebot.v4"

	kit "adhanbot/internal/transport"
)

func TestDataRoundTrip(t *testing.T) {
	t.Parallel()
	cases := []struct {
		ns, action, payload string
	}{
		{"city", "pick", "Damascus"},
		{"order", "request", ""},
		{"x", "y", "a:b:c"},
	}
	for _, tc := range cases {
		d := Data(tc.ns, tc.action, tc.payload)
		ns, action, payload, ok := ParseData(d)
		if !ok || ns != tc.ns || action != tc.action || payload != tc.payload {
			t.Fatalf("ParseData(%q) = %q %q %q %v", d, ns, action, payload, ok)
		}
	}
	for _, bad := range []string{"", "nope", ":x", "x:"} {
		if _, _, _, ok := ParseData(bad); ok {
			t.Fatalf("ParseData(%q) accepted", bad)
		}
	}
}

func TestCheckData(t *testing.T) {
	t.Parallel()
	if err := CheckData(Data("city", "pick", "Deir ez-Zor")); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if err := CheckData(strings.Repeat("x", MaxCallbackDataLen+1)); err != ErrCallbackDataTooLong {
		t.Fatalf("got %v, want %v", err, ErrCallbackDataTooLong)
	}
}

func TestEscAndTags(t *testing.T) {
	t.Parallel()
	if got := B("a<b").String(); got != "<b>a&lt;b</b>" {
		t.Fatalf("got %q", got)
	}
	if got := Code("/as 1-2").String(); got != "<code>/as 1-2</code>" {
		t.Fatalf("got %q", got)
	}
	if got := Join(" & ", B("x"), Esc("y")).String(); got != "<b>x</b> &amp; y" {
		t.Fatalf("got %q", got)
	}
}

func TestTruncRunes(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		n    int
		want string
	}{
		{"دمشق حلب", 4, "دمشق…"},
		{"abc", 3, "abc"},
		{"abc", 0, ""},
	}
	for _, tc := range cases {
		if got := TruncRunes(tc.in, tc.n); got != tc.want {
			t.Fatalf("TruncRunes(%q, %d) = %q, want %q", tc.in, tc.n, got, tc.want)
		}
	}
}

func TestSplit(t *testing.T) {
	t.Parallel()
	if got := Split("short", 10); len(got) != 1 || got[0] != "short" {
		t.Fatalf("got %q", got)
	}

	text := strings.Repeat("حلب حمص\n", 20)
	parts := Split(text, 30)
	if len(parts) < 2 {
		t.Fatalf("got %d parts", len(parts))
	}
	for _, p := range parts {
		if n := utf8.RuneCountInString(p); n > 30 {
			t.Fatalf("part has %d runes: %q", n, p)
		}
	}
	if strings.Join(parts, "\n") != text {
		t.Fatal("split lost text")
	}

	long := strings.Repeat("x", 25)
	parts = Split(long, 10)
	if len(parts) != 3 || parts[2] != "xxxxx" {
		t.Fatalf("hard cut = %q", parts)
	}
}

func TestReport(t *testing.T) {
	t.Parallel()
	got := NewReport("📊", "Stats").
		KV("👤", "total", Esc("3")).
		Section("⏰", "jobs").
		Item(Code("a<b")).
		String()
	want := "📊 <b>Stats</b>\n👤 <b>total:</b> 3\n\n⏰ <b>jobs:</b>\n  • <code>a&lt;b</code>"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

type recAdapter struct {
	texts []string
	opts  []*kit.SendOptions
}

func (r *recAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (r *recAdapter) Stop(context.Context) error                     { return nil }
func (r *recAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	r.texts = append(r.texts, text)
	r.opts = append(r.opts, opt)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(r.texts)}, nil
}
func (r *recAdapter) EditText(context.Context, kit.MessageRef, string, *kit.SendOptions) error {
	return nil
}
func (r *recAdapter) AnswerCallback(context.Context, string, string) error { return nil }

func TestMessageSendSplitsAndKeepsMarkupLast(t *testing.T) {
	t.Parallel()
	ad := &recAdapter{}
	text := strings.Repeat(strings.Repeat("y", 100)+"\n", 50)
	ref, err := Message{Text: text, Markup: NewKeyboard().Row(Btn("go", Data("order", "request", ""))).Markup()}.
		Send(context.Background(), ad, kit.ChatTarget{ChatID: 7})
	if err != nil {
		t.Fatal(err)
	}
	if len(ad.texts) != 2 || ref.MessageID != 2 {
		t.Fatalf("sent %d messages, ref %+v", len(ad.texts), ref)
	}
	for i, o := range ad.opts {
		if o.ParseMode != "HTML" || !o.DisablePreview {
			t.Fatalf("opt %d = %+v", i, o)
		}
	}
	if ad.opts[0].Markup != nil || ad.opts[1].Markup == nil {
		t.Fatal("markup not on the last part only")
	}
}

func TestGrid(t *testing.T) {
	t.Parallel()
	btns := make([]tele.Btn, 5)
	for i := range btns {
		btns[i] = Btn("b", Data("city", "pick", "x"))
	}
	rm := Grid(2, btns)
	if len(rm.InlineKeyboard) != 3 || len(rm.InlineKeyboard[2]) != 1 {
		t.Fatalf("rows = %+v", rm.InlineKeyboard)
	}
}
