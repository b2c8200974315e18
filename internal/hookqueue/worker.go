package hookqueue

import (
	"context"

	"github.com/agentworkforce/ledgerbridge/internal/engine"
)

// Handler processes one dequeued hook event.
type Handler func(ctx context.Context, event HookEvent) error

// Worker drains a queue with a single goroutine, so hook-triggered sync
// actions run one at a time in arrival order.
type Worker struct {
	queue   Queue
	handler Handler
	logger  engine.Logger
}

func NewWorker(queue Queue, handler Handler, logger engine.Logger) *Worker {
	return &Worker{queue: queue, handler: handler, logger: logger}
}

// Run blocks until ctx is canceled. Handler errors are logged and the
// worker moves on; a poisoned event never wedges the queue.
func (w *Worker) Run(ctx context.Context) {
	for {
		event, ok := w.queue.Dequeue(ctx)
		if !ok {
			return
		}
		if err := w.handler(ctx, event); err != nil {
			w.logf("hook event %s failed: %v", event.ID, err)
		}
	}
}

func (w *Worker) logf(format string, args ...any) {
	if w.logger == nil {
		return
	}
	w.logger.Printf(format, args...)
}
