package router

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"adhanbot/internal/health"
	"adhanbot/internal/storage"
	"adhanbot/internal/subscription"
	"adhanbot/internal/task/scheduler"
	"adhanbot/internal/timesource"
	kit "adhanbot/internal/transport"
	"adhanbot/pkg/logx"
	"adhanbot/pkg/tgui"
)

// Subscriptions is the part of the subscription manager the bot uses.
type Subscriptions interface {
	Touch(ctx context.Context, id int64, username string) (storage.Subscriber, error)
	ChooseLocation(ctx context.Context, id int64, name string) (timesource.Location, error)
	RequestOrder(ctx context.Context, id int64) (subscription.Order, error)
	Confirm(ctx context.Context, actorID int64, orderID string) (storage.Subscriber, error)
	Stats(ctx context.Context) (storage.Counts, error)
	PriceText() string
}

type JobLister interface {
	List() []scheduler.JobInfo
}

type HealthChecker interface {
	Check(ctx context.Context) health.Report
}

const (
	nsCity  = "city"
	nsOrder = "order"

	maxJobLines = 40
)

// Bot holds the subscriber and operator commands.
type Bot struct {
	subs   Subscriptions
	jobs   JobLister
	health HealthChecker
	loc    *time.Location
	now    func() time.Time
}

func NewBot(subs Subscriptions, jobs JobLister, hc HealthChecker, loc *time.Location) *Bot {
	if loc == nil {
		loc = time.UTC
	}
	return &Bot{subs: subs, jobs: jobs, health: hc, loc: loc, now: time.Now}
}

// Commands returns the command and callback tables for SetRegistry.
func (b *Bot) Commands() ([]Command, []CallbackRoute) {
	cmds := []Command{
		{
			Name:        "start",
			Description: "اختيار المحافظة وبدء الاشتراك",
			Usage:       "/start",
			Access:      AccessEveryone,
			Handle:      b.cmdStart,
		},
		{
			Name:        "as",
			Aliases:     []string{"confirm"},
			Description: "تأكيد دفع طلب وتفعيل الاشتراك",
			Usage:       "/as <رقم_الطلب>",
			Access:      AccessOwnerOnly,
			Handle:      b.cmdConfirm,
		},
		{
			Name:        "stats",
			Description: "إحصائيات المشتركين",
			Usage:       "/stats",
			Access:      AccessOwnerOnly,
			Handle:      b.cmdStats,
		},
		{
			Name:        "health",
			Description: "تقرير صحة البوت",
			Usage:       "/health",
			Access:      AccessOwnerOnly,
			Timeout:     30 * time.Second,
			Handle:      b.cmdHealth,
		},
		{
			Name:        "jobs",
			Description: "المهام المجدولة",
			Usage:       "/jobs [filter]",
			Access:      AccessOwnerOnly,
			Handle:      b.cmdJobs,
		},
	}
	cbs := []CallbackRoute{
		{Namespace: nsCity, Action: "pick", Description: "choose location", Access: CallbackAccessEveryone, Handle: b.cbCityPick},
		{Namespace: nsOrder, Action: "request", Description: "request an order", Access: CallbackAccessEveryone, Handle: b.cbOrderRequest},
	}
	return cmds, cbs
}

func htmlOpt(rm *tele.ReplyMarkup) *kit.SendOptions {
	opt := &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}
	if rm != nil {
		opt.Markup = rm
	}
	return opt
}

// CityKeyboard lists every location as a callback button, two per row.
func CityKeyboard() *tele.ReplyMarkup {
	locs := timesource.Locations()
	btns := make([]tele.Btn, 0, len(locs))
	for _, l := range locs {
		btns = append(btns, tgui.Btn(l.Arabic, tgui.Data(nsCity, "pick", l.Key)))
	}
	return tgui.Grid(2, btns)
}

func orderKeyboard() *tele.ReplyMarkup {
	return tgui.NewKeyboard().Row(tgui.Btn("💰 تفعيل الاشتراك الآن", tgui.Data(nsOrder, "request", ""))).Markup()
}

func (b *Bot) cmdStart(ctx context.Context, req *Request) error {
	if _, err := b.subs.Touch(ctx, req.FromID, req.FromUsername); err != nil {
		req.Logger.Warn("touch failed", logx.Err(err))
	}
	text := "👋 مرحباً بك في بوت الإشعارات المتميزة! 🕌\n\n" +
		"لضمان دقة مواقيت الصلاة حسب منطقتك، " + tgui.B("يرجى اختيار محافظتك أولاً").String() + ":\n" +
		tgui.I("(هذه الخطوة مجانية ولا تفعل الاشتراك بعد)").String()
	_, err := tgui.Message{Text: text, Markup: CityKeyboard()}.Send(ctx, req.Adapter, req.Chat)
	return err
}

func (b *Bot) cbCityPick(ctx context.Context, req *Request, payload string) error {
	loc, err := b.subs.ChooseLocation(ctx, req.FromID, payload)
	if errors.Is(err, subscription.ErrUnknownLocation) {
		_ = req.Adapter.AnswerCallback(ctx, req.Update.Callback.ID, "محافظة غير معروفة")
		return nil
	}
	if err != nil {
		return b.editOrSend(ctx, req, "❌ حدث خطأ في حفظ اختيارك. يرجى المحاولة مرة أخرى.", nil)
	}
	return b.editOrSend(ctx, req, subscription.LocationChosenText(loc, b.subs.PriceText()), orderKeyboard())
}

func (b *Bot) cbOrderRequest(ctx context.Context, req *Request, _ string) error {
	order, err := b.subs.RequestOrder(ctx, req.FromID)
	switch {
	case errors.Is(err, subscription.ErrLocationRequired):
		_, err = tgui.Message{Text: "⚠️ يرجى اختيار محافظتك أولاً:", Markup: CityKeyboard()}.Send(ctx, req.Adapter, req.Chat)
		return err
	case err != nil:
		return b.editOrSend(ctx, req, "❌ حدث خطأ أثناء إنشاء طلبك. يرجى المحاولة لاحقاً.", nil)
	}
	return b.editOrSend(ctx, req, order.Instructions, nil)
}

// editOrSend replaces the callback's message, falling back to a new message.
func (b *Bot) editOrSend(ctx context.Context, req *Request, text string, rm *tele.ReplyMarkup) error {
	if req.MessageID != 0 {
		ref := kit.MessageRef{ChatID: req.Chat.ChatID, ThreadID: req.Chat.ThreadID, MessageID: req.MessageID}
		if err := req.Adapter.EditText(ctx, ref, text, htmlOpt(rm)); err == nil {
			return nil
		}
	}
	msg := tgui.Message{Text: text}
	if rm != nil {
		msg.Markup = rm
	}
	_, err := msg.Send(ctx, req.Adapter, req.Chat)
	return err
}

func (b *Bot) cmdConfirm(ctx context.Context, req *Request) error {
	if len(req.Args) == 0 {
		return req.Reply(ctx, "⚠️ يرجى تحديد رقم الطلب:\n<code>/as &lt;رقم_الطلب&gt;</code>")
	}
	orderID := req.Args[0]
	sub, err := b.subs.Confirm(ctx, req.FromID, orderID)
	return req.Reply(ctx, ConfirmReply(orderID, sub, err))
}

// ConfirmReply renders the operator's answer to /as.
func ConfirmReply(orderID string, sub storage.Subscriber, err error) string {
	id := tgui.Code(strconv.FormatInt(sub.ID, 10)).String()
	order := tgui.Code(orderID).String()
	var notice *subscription.NoticeError
	switch {
	case err == nil:
		return "✅ تم تفعيل الاشتراك للمستخدم ID: " + id + " بنجاح.\n" +
			"📅 ينتهي في: " + tgui.Esc(sub.ExpiryDate).String() + "\nتم إرسال رسالة تأكيد له."
	case errors.As(err, &notice):
		return "✅ تم تفعيل الاشتراك للمستخدم " + id + " ولكن فشل إرسال الإشعار له."
	case errors.Is(err, subscription.ErrStaleOrder):
		return "⚠️ رقم الطلب " + order + " قديم: تم استبداله بطلب أحدث أو تم تأكيده مسبقاً."
	case errors.Is(err, subscription.ErrNoMatchingSubscriber):
		return "❌ لم يتم العثور على أي مستخدم مرتبط برقم الطلب: " + order
	default:
		return "❌ فشل في تفعيل الاشتراك: " + tgui.Esc(err.Error()).String()
	}
}

func (b *Bot) cmdStats(ctx context.Context, req *Request) error {
	c, err := b.subs.Stats(ctx)
	if err != nil {
		req.Logger.Warn("stats failed", logx.Err(err))
		return req.Reply(ctx, "❌ حدث خطأ في جلب الإحصائيات.")
	}
	return req.Reply(ctx, StatsText(c, b.now().In(b.loc)))
}

func StatsText(c storage.Counts, at time.Time) string {
	n := func(v int) tgui.H { return tgui.Esc(strconv.Itoa(v)) }
	return tgui.NewReport("📊", "إحصائيات المشتركين").
		Blank().
		KV("👤", "إجمالي المستخدمين المسجلين", n(c.Total)).
		KV("⭐️", "المشتركين المميزين (نشطين)", n(c.Active)).
		KV("⌛", "اشتراكات منتهية", n(c.Expired)).
		KV("🧾", "طلبات بانتظار التأكيد", n(c.Pending)).
		KV("📅", "التاريخ", tgui.Esc(at.Format("2006-01-02 15:04:05"))).
		String()
}

func (b *Bot) cmdHealth(ctx context.Context, req *Request) error {
	if b.health == nil {
		return req.Reply(ctx, "❌ فحص الصحة غير متاح.")
	}
	return req.Reply(ctx, HealthText(b.health.Check(ctx), b.loc))
}

func okMark(ok bool) string {
	if ok {
		return "✅"
	}
	return "❌"
}

// HealthText renders a health report for Telegram.
func HealthText(r health.Report, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	rep := tgui.NewReport("🏥", "تقرير صحة البوت").
		Section("🔑", "الإعدادات").
		Item(tgui.Esc("TOKEN: "+okMark(r.Settings.TokenSet))).
		Item(tgui.Esc("المالكون: "+strconv.Itoa(r.Settings.Owners))).
		Item(tgui.Esc("Webhook: "+okMark(r.Settings.Webhook))).
		Item(tgui.Esc("التخزين: "+r.Settings.StorageDriver)).
		Item(tgui.Esc("مصدر المواقيت: "+r.Settings.TimeSource)).
		Blank()
	for _, c := range r.Checks {
		line := okMark(c.OK) + " " + tgui.B(c.Name).String()
		if c.Took > 0 {
			line += " (" + c.Took.Round(time.Millisecond).String() + ")"
		}
		if c.Detail != "" {
			line += ": " + tgui.Esc(tgui.TruncRunes(c.Detail, 120)).String()
		}
		rep.Line(tgui.H(line))
	}

	rep.Blank().
		KV("🗄️", "المشتركون", tgui.Esc(fmt.Sprintf("%d (نشط: %d)", r.Counts.Total, r.Counts.Active))).
		KV("⏰", "المهام المجدولة", tgui.Esc(strconv.Itoa(r.JobsTotal)))
	for _, k := range slices.Sorted(maps.Keys(r.Jobs)) {
		rep.Item(tgui.Esc(k + ": " + strconv.Itoa(r.Jobs[k])))
	}
	if len(r.Runtime) > 0 {
		rep.Section("⚙️", "Runtime")
		for _, name := range slices.Sorted(maps.Keys(r.Runtime)) {
			s := r.Runtime[name]
			line := fmt.Sprintf("%s: active=%d started=%d", name, s.Active, s.Started)
			if s.FirstError != "" {
				line += " err=" + tgui.TruncRunes(s.FirstError, 80)
			}
			rep.Item(tgui.Esc(line))
		}
	}
	return rep.Blank().
		Line(tgui.Esc(fmt.Sprintf("🧵 goroutines: %d, uptime: %s", r.Goroutines, r.Uptime.Round(time.Second)))).
		KV("🕐", "الوقت الحالي", tgui.Esc(r.At.In(loc).Format("2006-01-02 15:04:05"))).
		String()
}

func (b *Bot) cmdJobs(ctx context.Context, req *Request) error {
	if b.jobs == nil {
		return req.Reply(ctx, "❌ الجدولة غير متاحة.")
	}
	filter := ""
	if len(req.Args) > 0 {
		filter = req.Args[0]
	}
	return req.Reply(ctx, JobsText(b.jobs.List(), filter, b.loc))
}

// JobsText renders the timer's job list, optionally filtered by id substring.
func JobsText(jobs []scheduler.JobInfo, filter string, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	var sel []scheduler.JobInfo
	for _, j := range jobs {
		if filter == "" || strings.Contains(j.ID, filter) {
			sel = append(sel, j)
		}
	}
	rep := tgui.NewReport("⏰", "المهام المجدولة: "+strconv.Itoa(len(sel)))
	if len(sel) == 0 {
		return rep.String()
	}
	rep.Blank()
	for i, j := range sel {
		if i == maxJobLines {
			rep.Line(tgui.Esc(fmt.Sprintf("… +%d", len(sel)-maxJobLines)))
			break
		}
		next := "-"
		if !j.Next.IsZero() {
			next = j.Next.In(loc).Format("01-02 15:04")
		}
		rep.Item(tgui.Join(" ", tgui.Code(j.ID), tgui.Esc(next)))
	}
	return rep.String()
}
