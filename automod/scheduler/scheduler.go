// Worker pool which runs moderation events concurrently across guilds, while keeping the events of any one guild strictly in arrival order.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/modwarden/warden/automod/event"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var ErrShutdown = errors.New("scheduler is shut down")

var workItemsAdded = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_scheduler_work_items_added_total",
	Help: "Total number of work items added to the consumer pool",
}, []string{"pool"})

var workItemsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_scheduler_work_items_processed_total",
	Help: "Total number of work items processed by the consumer pool",
}, []string{"pool"})

var workItemsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_scheduler_work_items_failed_total",
	Help: "Total number of work items whose handler returned an error",
}, []string{"pool"})

var workersActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "warden_scheduler_workers_active",
	Help: "Number of workers currently active",
}, []string{"pool"})

// Scheduler is a parallel scheduler that will run work on a fixed number of workers
type Scheduler struct {
	maxConcurrency int

	do func(context.Context, event.Event) error

	feeder chan *task
	out    chan struct{}

	lk     sync.Mutex
	active map[string][]*task
	closed bool

	ident string

	// metrics
	itemsAdded     prometheus.Counter
	itemsProcessed prometheus.Counter
	itemsFailed    prometheus.Counter
	workersActive  prometheus.Gauge

	log *slog.Logger
}

func NewScheduler(maxC int, ident string, logger *slog.Logger, do func(context.Context, event.Event) error) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Scheduler{
		maxConcurrency: maxC,

		do: do,

		feeder: make(chan *task),
		active: make(map[string][]*task),
		out:    make(chan struct{}),

		ident: ident,

		itemsAdded:     workItemsAdded.WithLabelValues(ident),
		itemsProcessed: workItemsProcessed.WithLabelValues(ident),
		itemsFailed:    workItemsFailed.WithLabelValues(ident),
		workersActive:  workersActive.WithLabelValues(ident),

		log: logger.With("system", "scheduler", "ident", ident),
	}

	for i := 0; i < maxC; i++ {
		go p.worker()
	}

	p.workersActive.Set(float64(maxC))

	return p
}

// Stops accepting work, lets workers finish everything already queued, and waits for them to exit.
func (p *Scheduler) Shutdown() {
	p.log.Info("shutting down scheduler")

	p.lk.Lock()
	if p.closed {
		p.lk.Unlock()
		return
	}
	p.closed = true
	p.lk.Unlock()

	for i := 0; i < p.maxConcurrency; i++ {
		p.feeder <- &task{
			control: "stop",
		}
	}

	// feeder stays open: a late AddWork blocks on it until its context is done

	for i := 0; i < p.maxConcurrency; i++ {
		<-p.out
	}
	p.workersActive.Set(0)

	p.log.Info("scheduler shutdown complete")
}

type task struct {
	key     string
	val     event.Event
	control string
}

// Queues an event. Events are keyed by guild: at most one event per guild is in flight at a time, in the order they were added.
func (p *Scheduler) AddWork(ctx context.Context, evt event.Event) error {
	key := evt.Guild()
	t := &task{
		key: key,
		val: evt,
	}
	p.lk.Lock()
	if p.closed {
		p.lk.Unlock()
		return ErrShutdown
	}
	p.itemsAdded.Inc()

	a, ok := p.active[key]
	if ok {
		p.active[key] = append(a, t)
		p.lk.Unlock()
		return nil
	}

	p.active[key] = []*task{}
	p.lk.Unlock()

	select {
	case p.feeder <- t:
		return nil
	case <-ctx.Done():
		p.lk.Lock()
		// events queued behind this one would otherwise never be picked up
		if dropped := len(p.active[key]); dropped > 0 {
			p.log.Warn("dropping queued events for guild", "guild", key, "count", dropped)
		}
		delete(p.active, key)
		p.lk.Unlock()
		return ctx.Err()
	}
}

func (p *Scheduler) worker() {
	for work := range p.feeder {
		for work != nil {
			if work.control == "stop" {
				p.out <- struct{}{}
				return
			}

			if err := p.do(context.Background(), work.val); err != nil {
				p.itemsFailed.Inc()
				p.log.Error("event handler failed", "err", err, "guild", work.key, "type", work.val.Type())
			}
			p.itemsProcessed.Inc()

			p.lk.Lock()
			rem, ok := p.active[work.key]
			if !ok {
				p.log.Error("should always have an 'active' entry if a worker is processing a job")
			}

			if len(rem) == 0 {
				delete(p.active, work.key)
				work = nil
			} else {
				work = rem[0]
				p.active[work.key] = rem[1:]
			}
			p.lk.Unlock()
		}
	}
}
