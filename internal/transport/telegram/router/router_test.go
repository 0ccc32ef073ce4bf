package router

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"

	"adhanbot/internal/storage"
	"adhanbot/internal/subscription"
	"adhanbot/internal/task/scheduler"
	"adhanbot/internal/timesource"
	kit "adhanbot/internal/transport"
	"adhanbot/pkg/logx"
	"adhanbot/pkg/tgui"
)

type sent struct {
	op   string // send, edit, answer
	chat int64
	text string
	opt  *kit.SendOptions
}

type fakeAdapter struct {
	out chan sent

	mu   sync.Mutex
	menu []kit.BotCommand
}

func newFakeAdapter() *fakeAdapter { return &fakeAdapter{out: make(chan sent, 64)} }

func (f *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                     { return nil }
func (f *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.out <- sent{op: "send", chat: to.ChatID, text: text, opt: opt}
	return kit.MessageRef{ChatID: to.ChatID, MessageID: 1}, nil
}
func (f *fakeAdapter) EditText(_ context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	f.out <- sent{op: "edit", chat: ref.ChatID, text: text, opt: opt}
	return nil
}
func (f *fakeAdapter) AnswerCallback(_ context.Context, _ string, text string) error {
	if text != "" {
		f.out <- sent{op: "answer", text: text}
	}
	return nil
}
func (f *fakeAdapter) UpdateMenuCommands(_ context.Context, cmds []kit.BotCommand) error {
	f.mu.Lock()
	f.menu = cmds
	f.mu.Unlock()
	return nil
}

func (f *fakeAdapter) next(t *testing.T) sent {
	t.Helper()
	select {
	case s := <-f.out:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for adapter call")
		return sent{}
	}
}

type fakeSubs struct {
	mu        sync.Mutex
	chosen    map[int64]string
	confirmed []string
	confirm   func(order string) (storage.Subscriber, error)
}

func (f *fakeSubs) Touch(_ context.Context, id int64, u string) (storage.Subscriber, error) {
	return storage.Subscriber{ID: id, Username: u}, nil
}
func (f *fakeSubs) ChooseLocation(_ context.Context, id int64, name string) (timesource.Location, error) {
	loc, ok := timesource.LookupLocation(name)
	if !ok {
		return timesource.Location{}, subscription.ErrUnknownLocation
	}
	f.mu.Lock()
	f.chosen[id] = loc.Key
	f.mu.Unlock()
	return loc, nil
}
func (f *fakeSubs) RequestOrder(_ context.Context, id int64) (subscription.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.chosen[id] == "" {
		return subscription.Order{}, subscription.ErrLocationRequired
	}
	return subscription.Order{ID: "1-0001", SubscriberID: id, Instructions: "pay for 1-0001"}, nil
}
func (f *fakeSubs) Confirm(_ context.Context, _ int64, order string) (storage.Subscriber, error) {
	f.mu.Lock()
	f.confirmed = append(f.confirmed, order)
	f.mu.Unlock()
	return f.confirm(order)
}
func (f *fakeSubs) Stats(context.Context) (storage.Counts, error) {
	return storage.Counts{Total: 3, Active: 1}, nil
}
func (f *fakeSubs) PriceText() string { return "1$ (USD)" }

type fakeJobs []scheduler.JobInfo

func (f fakeJobs) List() []scheduler.JobInfo { return f }

const owner = int64(900)

func startRouter(t *testing.T, subs *fakeSubs) (*fakeAdapter, chan kit.Update) {
	t.Helper()
	ad := newFakeAdapter()
	m := NewCommandManager(logx.Nop(), ad, []int64{owner}, WithWorkers(2))
	cmds, cbs := NewBot(subs, fakeJobs{{ID: "prayer:1:Fajr:20250310", PayloadKind: "prayer"}}, nil, time.UTC).Commands()
	m.SetRegistry(cmds, cbs)

	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan kit.Update, 8)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.DispatchLoop(ctx, updates)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return ad, updates
}

func msgUpdate(from int64, text string) kit.Update {
	return kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: from, FromID: from, Text: text}}
}

func cbUpdate(from int64, data string) kit.Update {
	return kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{ID: "cb1", FromID: from, ChatID: from, MessageID: 7, Data: data}}
}

func newSubs() *fakeSubs {
	return &fakeSubs{
		chosen: map[int64]string{},
		confirm: func(string) (storage.Subscriber, error) {
			return storage.Subscriber{ID: 5, ExpiryDate: "2025-03-17"}, nil
		},
	}
}

func TestStartSendsCityKeyboard(t *testing.T) {
	t.Parallel()
	ad, updates := startRouter(t, newSubs())

	updates <- msgUpdate(5, "/start")
	s := ad.next(t)
	if s.op != "send" || !strings.Contains(s.text, "يرجى اختيار محافظتك") {
		t.Fatalf("got %+v", s)
	}
	rm, ok := s.opt.Markup.(*tele.ReplyMarkup)
	if !ok || len(rm.InlineKeyboard) != 7 {
		t.Fatalf("keyboard = %#v", s.opt.Markup)
	}
	if got := rm.InlineKeyboard[0][0].Data; got != "city:pick:Damascus" {
		t.Fatalf("first button data = %q", got)
	}
}

func TestCityPickThenOrder(t *testing.T) {
	t.Parallel()
	subs := newSubs()
	ad, updates := startRouter(t, subs)

	updates <- cbUpdate(5, "order:request")
	if s := ad.next(t); s.op != "send" || !strings.Contains(s.text, "اختيار محافظتك") {
		t.Fatalf("order before location: %+v", s)
	}

	updates <- cbUpdate(5, "city:pick:Aleppo")
	s := ad.next(t)
	if s.op != "edit" || !strings.Contains(s.text, "حلب") {
		t.Fatalf("city pick: %+v", s)
	}
	if subs.chosen[5] != "Aleppo" {
		t.Fatalf("chosen = %v", subs.chosen)
	}

	updates <- cbUpdate(5, "order:request")
	if s := ad.next(t); s.op != "edit" || s.text != "pay for 1-0001" {
		t.Fatalf("order: %+v", s)
	}

	updates <- cbUpdate(5, "city:pick:Atlantis")
	if s := ad.next(t); s.op != "answer" {
		t.Fatalf("unknown city: %+v", s)
	}
}

func TestOwnerOnlyCommands(t *testing.T) {
	t.Parallel()
	subs := newSubs()
	ad, updates := startRouter(t, subs)

	updates <- msgUpdate(5, "/as 1-0001")
	if s := ad.next(t); s.text != textOwnerOnly {
		t.Fatalf("non-owner: %+v", s)
	}
	if len(subs.confirmed) != 0 {
		t.Fatalf("confirm ran for non-owner")
	}

	updates <- msgUpdate(owner, "/as@adhan_bot 1-0001")
	s := ad.next(t)
	if !strings.Contains(s.text, "بنجاح") || !strings.Contains(s.text, "2025-03-17") {
		t.Fatalf("owner confirm: %+v", s)
	}

	updates <- msgUpdate(owner, "/as")
	if s := ad.next(t); !strings.Contains(s.text, "رقم الطلب") {
		t.Fatalf("usage: %+v", s)
	}

	updates <- msgUpdate(owner, "/stats")
	if s := ad.next(t); !strings.Contains(s.text, "إحصائيات") {
		t.Fatalf("stats: %+v", s)
	}

	updates <- msgUpdate(owner, "/jobs prayer")
	if s := ad.next(t); !strings.Contains(s.text, "prayer:1:Fajr:20250310") {
		t.Fatalf("jobs: %+v", s)
	}
}

func TestUnknownCommandAndPlainText(t *testing.T) {
	t.Parallel()
	ad, updates := startRouter(t, newSubs())

	updates <- msgUpdate(5, "hello")
	updates <- msgUpdate(5, "/nope")
	if s := ad.next(t); s.text != textUnknown {
		t.Fatalf("got %+v", s)
	}
}

func TestHelpHidesOwnerCommands(t *testing.T) {
	t.Parallel()
	ad, updates := startRouter(t, newSubs())

	updates <- msgUpdate(5, "/help")
	s := ad.next(t)
	if strings.Contains(s.text, "/stats") || !strings.Contains(s.text, "/start") {
		t.Fatalf("public help: %s", s.text)
	}

	updates <- msgUpdate(owner, "/help")
	s = ad.next(t)
	if !strings.Contains(s.text, "🔒 <code>/stats</code>") {
		t.Fatalf("owner help: %s", s.text)
	}
}

func TestConfirmReply(t *testing.T) {
	t.Parallel()
	cases := []struct {
		err  error
		want string
	}{
		{nil, "بنجاح"},
		{&subscription.NoticeError{Subscriber: 5, Err: errors.New("blocked")}, "فشل إرسال الإشعار"},
		{subscription.ErrStaleOrder, "قديم"},
		{subscription.ErrNoMatchingSubscriber, "لم يتم العثور"},
		{errors.New("db gone"), "db gone"},
	}
	for _, tc := range cases {
		got := ConfirmReply("1-0001", storage.Subscriber{ID: 5}, tc.err)
		if !strings.Contains(got, tc.want) {
			t.Fatalf("err=%v: got %q, want substring %q", tc.err, got, tc.want)
		}
	}
}

func TestMenuCommands(t *testing.T) {
	t.Parallel()
	cmds := []*Command{
		{Name: "stats", Description: "s", Access: AccessOwnerOnly},
		{Name: "start", Description: "begin"},
		{Name: "secret", Hidden: true},
	}
	got := buildTelegramMenuCommands(cmds)
	if len(got) != 2 || got[0].Command != "start" || got[1].Description != "🔒 s" {
		t.Fatalf("menu = %+v", got)
	}
}

func TestTokenizeCommandLine(t *testing.T) {
	t.Parallel()
	got := tokenizeCommandLine(`/jobs "prayer:42" x\ y`)
	want := []string{"/jobs", "prayer:42", "x y"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("got %q, want %q", got, want)
	}
	if w := commandWord("/Start@adhan_bot"); w != "start" {
		t.Fatalf("commandWord = %q", w)
	}
}

func TestJobsTextTruncates(t *testing.T) {
	t.Parallel()
	jobs := make([]scheduler.JobInfo, maxJobLines+5)
	for i := range jobs {
		jobs[i] = scheduler.JobInfo{ID: "broadcast:x"}
	}
	if got := JobsText(jobs, "", time.UTC); !strings.Contains(got, "… +5") {
		t.Fatalf("got %s", got)
	}
	if got := JobsText(jobs, "prayer", time.UTC); strings.Contains(got, "•") {
		t.Fatalf("filter ignored: %s", got)
	}
}

func TestCityKeyboardCallbackData(t *testing.T) {
	t.Parallel()
	rm := CityKeyboard()
	n := 0
	for _, row := range rm.InlineKeyboard {
		if len(row) > 2 {
			t.Fatalf("row has %d buttons", len(row))
		}
		for _, b := range row {
			n++
			if err := tgui.CheckData(b.Data); err != nil {
				t.Fatalf("%s: %v", b.Text, err)
			}
			if _, _, key, ok := tgui.ParseData(b.Data); !ok || key == "" {
				t.Fatalf("bad data %q", b.Data)
			}
		}
	}
	if n != len(timesource.Locations()) {
		t.Fatalf("got %d buttons, want %d", n, len(timesource.Locations()))
	}
}

func TestPipelineRecoversAndApologizes(t *testing.T) {
	t.Parallel()
	ad := newFakeAdapter()
	req := &Request{Chat: kit.ChatTarget{ChatID: 9}, Adapter: ad, Logger: logx.Nop()}

	h := pipeline(func(context.Context, *Request) error { panic("boom") },
		logged(time.Second), apologizing(), recovering(), deadline(time.Second))
	if err := h(context.Background(), req); !errors.Is(err, errPanic) {
		t.Fatalf("err = %v", err)
	}
	if s := ad.next(t); s.chat != 9 || s.text != textFailed {
		t.Fatalf("reply = %+v", s)
	}

	slow := pipeline(func(ctx context.Context, _ *Request) error {
		<-ctx.Done()
		return ctx.Err()
	}, apologizing(), deadline(10*time.Millisecond))
	if err := slow(context.Background(), req); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v", err)
	}
	if s := ad.next(t); s.text != textTimedOut {
		t.Fatalf("reply = %+v", s)
	}

	// callbacks answer via the spinner, not a message
	cbReq := &Request{Update: kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{ID: "c"}}, Adapter: ad, Logger: logx.Nop()}
	_ = pipeline(func(context.Context, *Request) error { return errors.New("x") }, apologizing())(context.Background(), cbReq)
	select {
	case s := <-ad.out:
		t.Fatalf("callback got a message: %+v", s)
	default:
	}
}
