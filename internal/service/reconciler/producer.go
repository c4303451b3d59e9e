package reconciler

import (
	"context"
	"time"

	"github.com/nkiryanov/pointledger/internal/logger"
)

type Producer struct {
	interval  time.Duration
	batchSize int
	ledger    ledgerService
	logger    logger.Logger
}

func (p *Producer) Produce(ctx context.Context, out chan<- string) <-chan struct{} {
	idleStopped := make(chan struct{})
	p.logger.Debug("Starting reconciler producer", "interval", p.interval, "batch_size", p.batchSize)

	go func() {
		defer close(idleStopped)

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				p.logger.Debug("Producer stopped by context")
				return

			case <-ticker.C:
				p.logger.Debug("Producer tick: starting sweep")
				if !p.sweep(ctx, out) {
					return
				}
			}
		}
	}()

	return idleStopped
}

// sweep sends every user id once; returns false if ctx is done
func (p *Producer) sweep(ctx context.Context, out chan<- string) bool {
	after := ""

	for {
		ids, err := p.ledger.ListUserIDs(ctx, after, p.batchSize)
		if err != nil {
			p.logger.Error("Failed to list users", "error", err, "after", after)
			return ctx.Err() == nil
		}

		for _, id := range ids {
			select {
			case <-ctx.Done():
				p.logger.Debug("Producer stopped by context while sending users")
				return false
			case out <- id:
			}
		}

		if len(ids) < p.batchSize {
			return true
		}
		after = ids[len(ids)-1]
	}
}
