package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flicky/go-checkout-api/internal/metrics"
	"github.com/flicky/go-checkout-api/internal/model"
)

const publishTimeout = 5 * time.Second

// Publisher hands an intent to whatever executes it.
type Publisher interface {
	Publish(ctx context.Context, in Intent) error
}

// PublisherFunc adapts a plain function, typically worker.Processor.Process
// when no broker is configured.
type PublisherFunc func(ctx context.Context, in Intent) error

func (f PublisherFunc) Publish(ctx context.Context, in Intent) error { return f(ctx, in) }

// Dispatcher queues intents on a bounded channel and publishes them from a
// fixed pool of goroutines. Enqueueing never blocks: when the queue is full
// the intent is dropped and logged.
type Dispatcher struct {
	pub     Publisher
	queue   chan Intent
	workers int
	log     *slog.Logger
	metrics *metrics.Metrics

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(pub Publisher, workers, queueSize int, log *slog.Logger, m *metrics.Metrics) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	return &Dispatcher{
		pub:     pub,
		queue:   make(chan Intent, queueSize),
		workers: workers,
		log:     log,
		metrics: m,
	}
}

// Start launches the publishing goroutines. They exit after Close once the
// queue is drained.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for in := range d.queue {
				d.publish(ctx, in)
			}
		}()
	}
	d.log.Info("notification dispatcher started", "workers", d.workers, "queue", cap(d.queue))
}

func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
}

func (d *Dispatcher) publish(ctx context.Context, in Intent) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := d.pub.Publish(ctx, in); err != nil {
		d.metrics.NotificationResult(string(in.Kind), "failed")
		d.log.Error("publish notification", "intent_id", in.ID, "kind", in.Kind, "error", err)
		return
	}
	d.metrics.NotificationResult(string(in.Kind), "published")
}

func (d *Dispatcher) enqueue(in Intent) {
	in.ID = uuid.New()
	in.CreatedAt = time.Now().UTC()

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.log.Warn("notification dispatcher closed, dropping intent", "kind", in.Kind, "order_id", in.OrderID)
		return
	}
	select {
	case d.queue <- in:
	default:
		d.metrics.NotificationResult(string(in.Kind), "dropped")
		d.log.Warn("notification queue full, dropping intent", "kind", in.Kind, "order_id", in.OrderID)
	}
}

func (d *Dispatcher) SendConfirmation(order *model.Order) {
	d.enqueue(Intent{Kind: KindConfirmation, OrderID: order.ID, UserID: order.UserID})
}

func (d *Dispatcher) UpdateRecommendations(order *model.Order) {
	ids := make([]uuid.UUID, 0, len(order.Items))
	for _, item := range order.Items {
		ids = append(ids, item.ProductID)
	}
	d.enqueue(Intent{Kind: KindRecommendation, OrderID: order.ID, UserID: order.UserID, ProductIDs: ids})
}

func (d *Dispatcher) SendWelcome(user *model.User) {
	d.enqueue(Intent{Kind: KindWelcome, UserID: user.ID, Email: user.Email})
}
