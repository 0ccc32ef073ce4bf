package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"adhanbot/internal/broadcast"
	"adhanbot/internal/config"
	"adhanbot/internal/eventbus"
	"adhanbot/internal/health"
	"adhanbot/internal/metrics"
	"adhanbot/internal/notifier"
	"adhanbot/internal/opshttp"
	"adhanbot/internal/planner"
	rtsup "adhanbot/internal/runtime/supervisor"
	"adhanbot/internal/storage"
	"adhanbot/internal/subscription"
	"adhanbot/internal/task/engine"
	"adhanbot/internal/task/scheduler"
	"adhanbot/internal/timesource"
	kit "adhanbot/internal/transport"
	telegram "adhanbot/internal/transport/telegram/adapter"
	"adhanbot/internal/transport/telegram/router"
	"adhanbot/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store   storage.Store
	source  *timesource.Cache
	adapter *telegram.Adapter

	engine *engine.Service
	sched  *scheduler.Service
	notif  *notifier.Service

	subs  *subscription.Manager
	plan  *planner.Planner
	casts *broadcast.Dispatcher

	health  *health.Checker
	metrics *metrics.Collector
	ops     *opshttp.Server
	runtime *rtsup.Registry
	cmdm    *router.CommandManager

	updates chan kit.Update
}

type options struct {
	offline bool
}

type Option func(*options)

// WithoutTelegram builds the app without a bot connection. Deliveries fail
// with notifier.ErrNoAdapter; used by maintenance commands.
func WithoutTelegram() Option {
	return func(o *options) { o.offline = true }
}

// NewApp loads configuration and builds every component. Nothing runs until
// Start.
func NewApp(ctx context.Context, cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	if err := config.LoadDotenv(); err != nil {
		return nil, err
	}
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}

	logs, root := logx.New(mapLogConfig(cfg), nil)
	log := root.With(logx.String("comp", "app"))

	a := &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logs,
		bus:     eventbus.New(),
		runtime: rtsup.NewRegistry(),
		updates: make(chan kit.Update, 256),
	}

	var ad kit.Adapter
	if !o.offline {
		pollTimeout, _ := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
		tg, err := telegram.New(telegram.Config{
			Token:       cfg.Telegram.Token,
			PollTimeout: pollTimeout,
			WebhookURL:  cfg.Telegram.WebhookURL,
			Listen:      cfg.Telegram.Listen,
		}, root.With(logx.String("comp", "telegram")))
		if err != nil {
			return nil, fmt.Errorf("telegram: %w", err)
		}
		a.adapter = tg
		ad = tg
		logs.SetSender(func(ctx context.Context, chatID int64, threadID int, text string) error {
			_, err := tg.SendText(ctx, kit.ChatTarget{ChatID: chatID, ThreadID: threadID}, text, nil)
			return err
		})
	}

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	if a.store, err = storage.Open(ctx, sc, root.With(logx.String("comp", "storage"))); err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	log.Info("storage opened", logx.String("driver", sc.Driver))

	if a.source, err = buildTimeSource(cfg, root.With(logx.String("comp", "timesource"))); err != nil {
		_ = a.store.Close()
		return nil, err
	}

	engCfg, _ := mapTaskEngineConfig(cfg)
	a.engine = engine.New(engCfg, root.With(logx.String("comp", "taskengine")), a.bus)
	schedCfg, _ := mapSchedulerConfig(cfg)
	a.sched = scheduler.New(schedCfg, a.engine, root.With(logx.String("comp", "scheduler")), a.bus)
	ncfg, _ := mapNotifierConfig(cfg)
	a.notif = notifier.New(ncfg, ad, root.With(logx.String("comp", "notifier")), a.bus)

	loc := a.sched.Location()
	a.subs = subscription.New(a.store, a.notif, mapSubscriptionConfig(cfg), root, a.bus, subscription.WithLocation(loc))
	pcfg, _ := mapPlannerConfig(cfg)
	a.plan = planner.New(a.store, a.source, a.sched, pcfg, root, a.bus, planner.WithLocation(loc))
	a.casts = broadcast.New(a.store, a.notif, root, a.bus)

	a.health = health.New(a.store, a.source, a.sched, a.settings, root, health.WithSupervisors(a.runtime))
	a.metrics = metrics.New(root)
	a.ops = opshttp.New(opshttp.Deps{
		Health:     a.health,
		Jobs:       a.sched,
		Stats:      a.subs,
		Planner:    a.plan,
		Broadcasts: a.casts,
		Deliveries: a.notif,
		Metrics:    a.metrics.Handler(),
	}, root)

	a.installHandlers()
	return a, nil
}

// validate runs the static checks plus the runtime mappings, so a reload
// that would fail to apply is rejected before commit.
func validate(cfg *config.Config) error {
	errs := []error{config.Validate(cfg)}
	if _, err := mapTaskEngineConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	if _, err := mapNotifierConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	if _, err := mapPlannerConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *App) settings() health.Settings {
	cfg := a.cfgm.Get()
	if cfg == nil {
		return health.Settings{}
	}
	return health.Settings{
		TokenSet:      strings.TrimSpace(cfg.Telegram.Token) != "",
		Owners:        len(cfg.Telegram.OwnerUserIDs),
		Webhook:       cfg.Telegram.WebhookURL != "",
		StorageDriver: cfg.Storage.Driver,
		TimeSource:    config.OrDefault(cfg.TimeSource.Driver, "aladhan"),
		Timezone:      a.sched.Location().String(),
	}
}

func (a *App) Subscriptions() *subscription.Manager { return a.subs }
func (a *App) Planner() *planner.Planner             { return a.plan }
func (a *App) Scheduler() *scheduler.Service         { return a.sched }
func (a *App) Logger() logx.Logger                   { return a.log }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	if a.adapter == nil {
		return errors.New("app built without telegram cannot serve")
	}
	cfg := a.cfgm.Get()
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.runtime.Set("app", a.sup)
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, c *config.Config) error { return validate(c) })

	if a.engine.Enabled() {
		a.engine.Start(a.sup.Context())
		a.runtime.Set("task.engine", a.engine.Supervisor())
	}
	if a.notif.Enabled() {
		a.notif.Start(a.sup.Context())
		a.runtime.Set("notifier", a.notif.Supervisor())
	}

	if err := a.installRecurring(cfg); err != nil {
		return err
	}
	a.sched.Start(a.sup.Context())

	a.sup.Go("metrics", func(c context.Context) error { return a.metrics.Run(c, a.bus) })

	if err := a.ops.Apply(a.sup.Context(), mapHTTPConfig(cfg)); err != nil {
		return fmt.Errorf("http: %w", err)
	}

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	a.runtime.Set("telegram.adapter", a.adapter.Supervisor())

	a.cmdm = router.NewCommandManager(a.log, a.adapter, cfg.Telegram.OwnerUserIDs,
		router.WithRuntimeRegistry(a.runtime),
		router.WithMenuSupervisor(a.sup),
	)
	a.cmdm.SetRegistry(router.NewBot(a.subs, a.sched, a.health, a.sched.Location()).Commands())
	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	})

	if catchUpEnabled(cfg) {
		a.sup.Go0("startup.catchup", a.catchUp)
	}

	events, unsub := a.bus.Subscribe(128, "planner.", "subscription.", "broadcast.")
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	a.sup.Go0("config.reload", a.reloadLoop)
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started",
		logx.Int("owners", len(cfg.Telegram.OwnerUserIDs)),
		logx.String("tz", a.sched.Location().String()),
		logx.Bool("webhook", cfg.Telegram.WebhookURL != ""),
	)
	return nil
}

// catchUp sweeps and plans the current day so a restart rebuilds today's
// registrations. Elapsed events are skipped by the planner.
func (a *App) catchUp(ctx context.Context) {
	if _, err := a.subs.Sweep(ctx); err != nil {
		a.log.Warn("startup sweep failed", logx.Err(err))
	}
	rep, err := a.plan.Run(ctx)
	if err != nil {
		a.log.Warn("startup planning failed", logx.Err(err))
		return
	}
	a.log.Info("startup planning done",
		logx.Int("registered", rep.Registered),
		logx.Int("past", rep.Past),
		logx.Int("failed", rep.Failed),
	)
}

// PlanDay runs one planning pass for day in the timer zone. Dry runs
// register nothing.
func (a *App) PlanDay(ctx context.Context, day time.Time, dryRun bool) (planner.Report, error) {
	return a.plan.Plan(ctx, day, dryRun)
}

// Close releases what NewApp opened, for maintenance commands that never
// call Start.
func (a *App) Close() error {
	err := a.store.Close()
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return err
}

// Confirm activates an order from the shell, acting as the first owner.
// The notifier runs only for the duration of the call.
func (a *App) Confirm(ctx context.Context, orderID string) (storage.Subscriber, error) {
	owners := a.cfgm.Get().Telegram.OwnerUserIDs
	if len(owners) == 0 {
		return storage.Subscriber{}, errors.New("no owner configured")
	}
	if a.notif.Enabled() {
		a.notif.Start(ctx)
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			a.notif.Stop(stopCtx)
		}()
	}
	return a.subs.Confirm(ctx, owners[0], orderID)
}
