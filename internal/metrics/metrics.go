// Package metrics turns eventbus signals into Prometheus series served on
// /metrics.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"adhanbot/internal/broadcast"
	"adhanbot/internal/eventbus"
	"adhanbot/internal/notifier"
	"adhanbot/internal/planner"
	"adhanbot/internal/subscription"
	"adhanbot/internal/task/engine"
	"adhanbot/internal/task/scheduler"
	"adhanbot/pkg/logx"
)

const namespace = "adhanbot"

// Collector owns a private registry so tests and multiple instances never
// collide on the global one.
type Collector struct {
	reg *prometheus.Registry
	log logx.Logger

	tasks        *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec
	timerFired   *prometheus.CounterVec

	planRuns        prometheus.Counter
	planRegistered  prometheus.Gauge
	planFailures    prometheus.Counter
	planEventErrors prometheus.Counter
	planDuration    prometheus.Histogram

	swept      prometheus.Counter
	orders     *prometheus.CounterVec
	broadcasts *prometheus.CounterVec
	deliveries *prometheus.CounterVec
}

func New(log logx.Logger) *Collector {
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Collector{
		reg: prometheus.NewRegistry(),
		log: log.With(logx.String("comp", "metrics")),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "tasks_total",
			Help: "Engine task outcomes by job family.",
		}, []string{"family", "result"}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "task_duration_seconds",
			Help:    "Engine task run time by job family.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"family"}),
		timerFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "timer_fired_total",
			Help: "Timer firings by payload kind.",
		}, []string{"kind"}),
		planRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "planner", Name: "runs_total",
			Help: "Completed planner passes (dry runs excluded).",
		}),
		planRegistered: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "planner", Name: "registered",
			Help: "Notifications registered by the last planner pass.",
		}),
		planFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "planner", Name: "lookup_failures_total",
			Help: "Subscribers skipped because their time lookup failed.",
		}),
		planEventErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "planner", Name: "event_errors_total",
			Help: "Individual events skipped because their time was malformed.",
		}),
		planDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "planner", Name: "duration_seconds",
			Help:    "Planner pass duration.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		swept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "subscription", Name: "expired_total",
			Help: "Subscribers demoted by the expiry sweep.",
		}),
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "subscription", Name: "orders_total",
			Help: "Orders by stage.",
		}, []string{"stage"}),
		broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "broadcast", Name: "deliveries_total",
			Help: "Broadcast deliveries by broadcast name and result.",
		}, []string{"name", "result"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "notifier", Name: "deliveries_total",
			Help: "Notifier outcomes by path (send/notify) and result.",
		}, []string{"path", "result"}),
	}
	c.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.tasks, c.taskDuration, c.timerFired,
		c.planRuns, c.planRegistered, c.planFailures, c.planEventErrors, c.planDuration,
		c.swept, c.orders, c.broadcasts, c.deliveries,
	)
	return c
}

// Registry exposes the private registry (tests, extra collectors).
func (c *Collector) Registry() *prometheus.Registry { return c.reg }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{Registry: c.reg})
}

// Run consumes bus events until ctx is done.
func (c *Collector) Run(ctx context.Context, bus eventbus.Bus) error {
	if bus == nil {
		<-ctx.Done()
		return nil
	}
	busDrops := prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "eventbus", Name: "dropped_total",
		Help: "Events lost to full subscriber buffers.",
	}, func() float64 { return float64(bus.Dropped()) })
	// Run may be restarted by its supervisor
	if err := c.reg.Register(busDrops); err != nil && !errors.As(err, new(prometheus.AlreadyRegisteredError)) {
		c.log.Warn("register bus drop counter", logx.Err(err))
	}

	ch, unsubscribe := bus.Subscribe(1024)
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			c.Observe(ev)
		}
	}
}

// Observe records one event. Unknown types are ignored.
func (c *Collector) Observe(ev eventbus.Event) {
	switch ev.Type {
	case eventbus.TaskFinished, eventbus.TaskFailed, eventbus.TaskSkipped, eventbus.TaskDropped:
		te, ok := ev.Data.(engine.TaskEvent)
		if !ok {
			return
		}
		fam := family(te.Name)
		c.tasks.WithLabelValues(fam, strings.TrimPrefix(ev.Type, "task.")).Inc()
		if ev.Type == eventbus.TaskFinished || ev.Type == eventbus.TaskFailed {
			c.taskDuration.WithLabelValues(fam).Observe(te.Duration.Seconds())
		}

	case eventbus.TimerFired:
		if ji, ok := ev.Data.(scheduler.JobInfo); ok {
			c.timerFired.WithLabelValues(ji.PayloadKind).Inc()
		}

	case eventbus.PlanFinished:
		rep, ok := ev.Data.(planner.Report)
		if !ok || rep.DryRun {
			return
		}
		c.planRuns.Inc()
		c.planRegistered.Set(float64(rep.Registered))
		c.planFailures.Add(float64(rep.Failed))
		c.planEventErrors.Add(float64(rep.EventErrors))
		c.planDuration.Observe(rep.Took.Seconds())

	case eventbus.SweepFinished:
		if rep, ok := ev.Data.(subscription.SweepReport); ok {
			c.swept.Add(float64(len(rep.Expired)))
		}

	case eventbus.OrderIssued:
		c.orders.WithLabelValues("issued").Inc()
	case eventbus.OrderActivated:
		c.orders.WithLabelValues("activated").Inc()

	case eventbus.BroadcastDone:
		if st, ok := ev.Data.(broadcast.Status); ok {
			c.broadcasts.WithLabelValues(st.Name, "sent").Add(float64(st.Sent))
			c.broadcasts.WithLabelValues(st.Name, "failed").Add(float64(st.Failed))
		}

	case eventbus.DeliverySent, eventbus.DeliveryFailed, eventbus.DeliveryDeduped, eventbus.DeliveryDropped:
		de, ok := ev.Data.(notifier.DeliveryEvent)
		if !ok {
			return
		}
		c.deliveries.WithLabelValues(de.Path, strings.TrimPrefix(ev.Type, "notifier.")).Inc()
	}
}

// family reduces a job id to its prefix so per-subscriber ids do not
// explode label cardinality: "prayer:42:Fajr:20250310" -> "prayer".
func family(name string) string {
	if i := strings.IndexByte(name, ':'); i > 0 {
		return name[:i]
	}
	if name == "" {
		return "unknown"
	}
	return name
}
