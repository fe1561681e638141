package worker

import (
	"context"
	"log/slog"

	"ballotcore/internal/ledger/models"
	"ballotcore/pkg/platform/circuit"
)

// Sink receives committed ledger entries, typically the Kafka publisher.
type Sink interface {
	Publish(ctx context.Context, entry *models.Entry) error
}

// probeEvery is how many entries are dropped between probe attempts while
// the breaker is open.
const probeEvery = 10

// Worker drains the ledger's stream channel into a sink. Stream delivery is
// best-effort: the durable chain row already committed, so a sink failure
// is logged and the worker moves on. A circuit breaker stops the worker
// from paying the sink's timeout on every entry while the broker is down;
// it probes periodically and resumes once the sink recovers.
type Worker struct {
	sink    Sink
	inbox   <-chan *models.Entry
	breaker *circuit.Breaker
	skipped int
	logger  *slog.Logger
}

func NewWorker(sink Sink, inbox <-chan *models.Entry, logger *slog.Logger) *Worker {
	return &Worker{
		sink:    sink,
		inbox:   inbox,
		breaker: circuit.New("audit-stream"),
		logger:  logger,
	}
}

func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case entry := <-w.inbox:
			w.deliver(ctx, entry)
		}
	}
}

func (w *Worker) deliver(ctx context.Context, entry *models.Entry) {
	if w.breaker.IsOpen() {
		w.skipped++
		if w.skipped%probeEvery != 0 {
			w.logger.Debug("audit stream degraded, entry skipped",
				"position", entry.Position)
			return
		}
	}

	if err := w.sink.Publish(ctx, entry); err != nil {
		w.logger.Error("publish audit entry to stream",
			"position", entry.Position, "error", err)
		if _, change := w.breaker.RecordFailure(); change.Opened {
			w.logger.Warn("audit stream circuit opened",
				"breaker", w.breaker.Name())
		}
		return
	}

	if _, change := w.breaker.RecordSuccess(); change.Closed {
		w.logger.Info("audit stream circuit closed",
			"breaker", w.breaker.Name(), "skipped_while_open", w.skipped)
		w.skipped = 0
	}
}
