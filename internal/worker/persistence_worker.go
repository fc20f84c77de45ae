package worker

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/pod-racer/internal/events"
)

const defaultPersistenceBuffer = 1024

// PersistenceWorker applies events to storage off the request path, one at a
// time and in publication order.
type PersistenceWorker struct {
	apply  events.EventHandler
	queue  chan events.Event
	logger *zap.Logger
}

// NewPersistenceWorker creates a worker that hands buffered events to apply.
func NewPersistenceWorker(apply events.EventHandler, buffer int, logger *zap.Logger) *PersistenceWorker {
	if buffer <= 0 {
		buffer = defaultPersistenceBuffer
	}
	return &PersistenceWorker{apply: apply, queue: make(chan events.Event, buffer), logger: logger}
}

// Register subscribes the worker to the given event types.
func (w *PersistenceWorker) Register(d events.Dispatcher, types ...events.EventType) {
	if d == nil {
		return
	}
	for _, t := range types {
		d.Subscribe(t, w.Enqueue)
	}
}

// Enqueue buffers an event. It never blocks; a full buffer drops the event.
func (w *PersistenceWorker) Enqueue(_ context.Context, event events.Event) error {
	select {
	case w.queue <- event:
	default:
		w.logger.Warn("persistence buffer full; dropping event",
			zap.String("event_type", string(event.Type)),
			zap.String("user_id", event.UserID))
	}
	return nil
}

// Run applies events until ctx is cancelled, then drains what is left.
func (w *PersistenceWorker) Run(ctx context.Context) error {
	for {
		select {
		case event := <-w.queue:
			w.handle(ctx, event)
		case <-ctx.Done():
			w.drain()
			return nil
		}
	}
}

func (w *PersistenceWorker) drain() {
	ctx := context.Background()
	for {
		select {
		case event := <-w.queue:
			w.handle(ctx, event)
		default:
			return
		}
	}
}

func (w *PersistenceWorker) handle(ctx context.Context, event events.Event) {
	if err := w.apply(ctx, event); err != nil {
		w.logger.Error("persist event",
			zap.String("event_type", string(event.Type)),
			zap.String("user_id", event.UserID),
			zap.Error(err))
	}
}
