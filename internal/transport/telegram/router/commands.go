package router

import (
	"context"
	"runtime"
	"runtime/debug"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	rtsup "adhanbot/internal/runtime/supervisor"
	kit "adhanbot/internal/transport"
	"adhanbot/pkg/logx"
	"adhanbot/pkg/tgui"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

const (
	textOwnerOnly = "❌ هذا الأمر للمالك فقط."
	textUnknown   = "❓ أمر غير معروف. جرّب /help"
	textBusy      = "⏳ البوت مشغول حالياً، حاول مرة أخرى بعد قليل."
	textFailed    = "❌ حدث خطأ أثناء تنفيذ الأمر. حاول مرة أخرى لاحقاً."
	textTimedOut  = "⌛ استغرق تنفيذ الأمر وقتاً أطول من المسموح."
)

type Command struct {
	// Name is the single-token command, e.g. "start" or "as".
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Access      Access

	// Hidden commands are routed but left out of help and the menu.
	Hidden  bool
	Timeout time.Duration // optional per-command override
	Handle  HandlerFunc
}

type CallbackHandlerFunc func(ctx context.Context, req *Request, payload string) error

// CallbackAccess controls who can trigger an inline-button callback.
//
// Default is owner-only. Set CallbackAccessEveryone explicitly for
// subscriber-facing buttons.
type CallbackAccess int

const (
	CallbackAccessOwnerOnly CallbackAccess = iota
	CallbackAccessEveryone
)

// CallbackRoute handles callback data "namespace:action[:payload]".
type CallbackRoute struct {
	Namespace   string
	Action      string
	Description string
	Access      CallbackAccess
	Timeout     time.Duration
	Handle      CallbackHandlerFunc
}

type Request struct {
	Update       kit.Update
	Chat         kit.ChatTarget
	FromID       int64
	FromUsername string
	MessageID    int    // callback source message, 0 for commands
	Command      string // command name or "cb:namespace:action"
	Args         []string
	Payload      string // callback payload (raw string)
	ReqID        string
	Owner        bool

	Adapter kit.Adapter
	Logger  logx.Logger
}

// Reply sends HTML text to the request's chat.
func (r *Request) Reply(ctx context.Context, text string) error {
	_, err := tgui.Message{Text: text}.Send(ctx, r.Adapter, r.Chat)
	return err
}

type CommandManager struct {
	mu    sync.RWMutex
	cmds  map[string]*Command // name and aliases -> command
	order []*Command          // registration order, for help and menu

	cbMu      sync.RWMutex
	callbacks map[string]map[string]CallbackRoute // namespace -> action -> route

	owners []int64

	log      logx.Logger
	adapter  kit.Adapter
	runtime  *rtsup.Registry
	workers  int
	timeout  time.Duration
	menuRoot *rtsup.Supervisor

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	jobs chan func()
}

type Option func(*CommandManager)

// WithRuntimeRegistry publishes the dispatcher supervisor for /health.
func WithRuntimeRegistry(r *rtsup.Registry) Option {
	return func(m *CommandManager) { m.runtime = r }
}

// WithWorkers overrides the worker count (default NumCPU, min 2).
func WithWorkers(n int) Option {
	return func(m *CommandManager) { m.workers = n }
}

// WithDefaultTimeout bounds handlers that set no Timeout.
func WithDefaultTimeout(d time.Duration) Option {
	return func(m *CommandManager) { m.timeout = d }
}

// WithMenuSupervisor runs the menu update under sup so it is canceled on shutdown.
func WithMenuSupervisor(sup *rtsup.Supervisor) Option {
	return func(m *CommandManager) { m.menuRoot = sup }
}

func NewCommandManager(log logx.Logger, adapter kit.Adapter, owners []int64, opts ...Option) *CommandManager {
	if log.IsZero() {
		log = logx.Nop()
	}
	m := &CommandManager{
		cmds:      map[string]*Command{},
		callbacks: map[string]map[string]CallbackRoute{},
		log:       log.With(logx.String("comp", "telegram.router")),
		adapter:   adapter,
		owners:    slices.Clone(owners),
		timeout:   30 * time.Second,
		jobs:      make(chan func(), 256),
	}
	for _, o := range opts {
		o(m)
	}
	if m.workers <= 0 {
		m.workers = max(runtime.NumCPU(), 2)
	}
	return m
}

// Supervisor returns the dispatcher's internal supervisor (nil if not running).
func (m *CommandManager) Supervisor() *rtsup.Supervisor {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if !m.running {
		return nil
	}
	return m.sup
}

func (m *CommandManager) setSupervisor(sup *rtsup.Supervisor, running bool) {
	m.runMu.Lock()
	m.sup = sup
	m.running = running
	m.runMu.Unlock()
}

// tryEnqueue is a panic-safe enqueue helper (handles the jobs channel being closed).
func (m *CommandManager) tryEnqueue(fn func()) (ok bool) {
	if fn == nil {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	select {
	case m.jobs <- fn:
		return true
	default:
		return false
	}
}

// SetOwners updates the owner list used for owner-only checks.
// Safe to call during hot-reload.
func (m *CommandManager) SetOwners(owners []int64) {
	ownCopy := slices.Clone(owners)
	m.mu.Lock()
	m.owners = ownCopy
	m.mu.Unlock()
}

func (m *CommandManager) isOwner(id int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Contains(m.owners, id)
}

// SetRegistry replaces the command and callback tables. /help is always added.
func (m *CommandManager) SetRegistry(cmds []Command, cbs []CallbackRoute) {
	helper := Command{
		Name:        "help",
		Aliases:     []string{"h"},
		Description: "عرض قائمة الأوامر",
		Usage:       "/help [command]",
		Access:      AccessEveryone,
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, m.helpText(req.Args, req.Owner))
		},
	}
	cmds = append(slices.Clone(cmds), helper)

	table := map[string]*Command{}
	order := make([]*Command, 0, len(cmds))
	for _, c := range cmds {
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" || c.Handle == nil {
			continue
		}
		cc := c
		cc.Name = name
		if _, dup := table[name]; dup {
			m.log.Warn("duplicate command ignored", logx.String("cmd", name))
			continue
		}
		table[name] = &cc
		order = append(order, &cc)
		for _, a := range c.Aliases {
			a = strings.ToLower(strings.TrimSpace(a))
			if a == "" || strings.Contains(a, " ") {
				continue
			}
			if _, exists := table[a]; !exists {
				table[a] = &cc
			}
		}
	}

	cb := map[string]map[string]CallbackRoute{}
	for _, r := range cbs {
		ns := strings.TrimSpace(r.Namespace)
		a := strings.TrimSpace(r.Action)
		if ns == "" || a == "" || r.Handle == nil {
			continue
		}
		if cb[ns] == nil {
			cb[ns] = map[string]CallbackRoute{}
		}
		cb[ns][a] = r
	}

	m.mu.Lock()
	m.cmds = table
	m.order = order
	m.mu.Unlock()

	m.cbMu.Lock()
	m.callbacks = cb
	m.cbMu.Unlock()

	// Best-effort Telegram /menu autocomplete update (non-blocking).
	if up, ok := m.adapter.(kit.CommandMenuUpdater); ok {
		menu := buildTelegramMenuCommands(order)
		run := func(parent context.Context) {
			ctx, cancel := context.WithTimeout(parent, 5*time.Second)
			defer cancel()
			if err := up.UpdateMenuCommands(ctx, menu); err != nil {
				m.log.Warn("menu update failed", logx.Err(err))
			}
		}
		if m.menuRoot != nil {
			m.menuRoot.Go("telegram.menu.update", func(ctx context.Context) error {
				run(ctx)
				return nil
			})
		} else {
			go run(context.Background())
		}
	}
}

func (m *CommandManager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	// Internal supervisor keeps the worker pool resilient and observable.
	sup := rtsup.New(ctx,
		rtsup.WithLogger(m.log),
		rtsup.WithCancelOnError(false),
	)
	m.setSupervisor(sup, true)
	m.runtime.Set("telegram.router", sup)

	m.log.Info("command dispatcher started", logx.Int("workers", m.workers), logx.Int("job_queue_cap", cap(m.jobs)))

	var closeOnce sync.Once
	closeJobs := func() {
		closeOnce.Do(func() {
			// Mark as not running before closing so enqueue can degrade gracefully.
			m.setSupervisor(sup, false)
			close(m.jobs)
		})
	}

	for i := range m.workers {
		name := "command.worker." + strconv.Itoa(i)
		sup.GoRestart(name, func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-m.jobs:
					if !ok {
						return nil
					}
					if job == nil {
						continue
					}
					func() {
						defer func() {
							if r := recover(); r != nil {
								m.log.Error("panic in command job", logx.Int("worker", i), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
							}
						}()
						job()
					}()
				}
			}
		},
			rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			rtsup.WithPublishFirstError(true),
			rtsup.WithStopOnCleanExit(true),
		)
	}

	defer func() {
		closeJobs()
		// Wait briefly for workers to drain.
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		m.runtime.Delete("telegram.router")
		m.setSupervisor(nil, false)
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				m.log.Info("updates channel closed")
				return nil
			}
			m.routeUpdate(ctx, up)
		}
	}
}

func (m *CommandManager) routeUpdate(root context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		m.routeMessage(root, up)
	case kit.UpdateCallback:
		m.routeCallback(root, up)
	}
}

func (m *CommandManager) lookup(word string) (*Command, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.cmds[word]
	return c, ok
}

func (m *CommandManager) routeMessage(root context.Context, up kit.Update) {
	if up.Message == nil {
		return
	}
	msg := up.Message
	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		return
	}
	parts := tokenizeCommandLine(text)
	if len(parts) == 0 {
		return
	}
	word := commandWord(parts[0])
	chat := msg.Target()

	cmd, ok := m.lookup(word)
	if !ok {
		// Groups see many commands meant for other bots.
		if !msg.IsGroup {
			_, _ = m.adapter.SendText(root, chat, textUnknown, nil)
		}
		return
	}

	owner := m.isOwner(msg.FromID)
	if cmd.Access == AccessOwnerOnly && !owner {
		_, _ = m.adapter.SendText(root, chat, textOwnerOnly, &kit.SendOptions{ParseMode: "HTML"})
		return
	}

	rid := newReqID()
	req := &Request{
		Update:       up,
		Chat:         chat,
		FromID:       msg.FromID,
		FromUsername: msg.FromUsername,
		Command:      cmd.Name,
		Args:         parts[1:],
		ReqID:        rid,
		Owner:        owner,
		Adapter:      m.adapter,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Name),
		),
	}
	m.enqueue(root, req, cmd.Handle, cmd.Timeout, func() {
		_, _ = m.adapter.SendText(root, chat, textBusy, nil)
	})
}

func (m *CommandManager) routeCallback(root context.Context, up kit.Update) {
	if up.Callback == nil {
		return
	}
	cb := up.Callback
	ns, action, payload, ok := tgui.ParseData(cb.Data)
	if !ok {
		_ = m.adapter.AnswerCallback(root, cb.ID, "")
		return
	}

	m.cbMu.RLock()
	route, ok := m.callbacks[ns][action]
	m.cbMu.RUnlock()
	if !ok {
		_ = m.adapter.AnswerCallback(root, cb.ID, "")
		return
	}

	owner := m.isOwner(cb.FromID)
	if route.Access == CallbackAccessOwnerOnly && !owner {
		_ = m.adapter.AnswerCallback(root, cb.ID, textOwnerOnly)
		return
	}

	key := "cb:" + ns + ":" + action
	rid := newReqID()
	req := &Request{
		Update:       up,
		Chat:         cb.Ref().Target(),
		FromID:       cb.FromID,
		FromUsername: cb.FromUsername,
		MessageID:    cb.MessageID,
		Command:      key,
		Payload:      payload,
		ReqID:        rid,
		Owner:        owner,
		Adapter:      m.adapter,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", cb.ChatID),
			logx.Int64("from_id", cb.FromID),
			logx.String("cmd", key),
		),
	}
	h := func(ctx context.Context, r *Request) error {
		err := route.Handle(ctx, r, payload)
		// stop the client's "loading" spinner
		_ = m.adapter.AnswerCallback(ctx, cb.ID, "")
		return err
	}
	m.enqueue(root, req, h, route.Timeout, func() {
		_ = m.adapter.AnswerCallback(root, cb.ID, textBusy)
	})
}

func (m *CommandManager) enqueue(root context.Context, req *Request, h HandlerFunc, timeout time.Duration, busy func()) {
	if timeout <= 0 {
		timeout = m.timeout
	}
	final := pipeline(h,
		logged(750*time.Millisecond),
		apologizing(),
		recovering(),
		deadline(timeout),
	)
	if !m.tryEnqueue(func() { _ = final(root, req) }) {
		busy()
	}
}
