package reconciler

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/nkiryanov/pointledger/internal/logger"
)

type Consumer struct {
	countWorkers int

	ledger ledgerService
	logger logger.Logger

	checked    atomic.Int64
	mismatched atomic.Int64
}

func (c *Consumer) Consume(ctx context.Context, in <-chan string) <-chan struct{} {
	idleStopped := make(chan struct{})

	var wg sync.WaitGroup
	for range c.countWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.worker(ctx, in)
		}()
	}

	go func() {
		defer close(idleStopped)
		wg.Wait()
		c.logger.Debug("Consumer stopped")
	}()

	return idleStopped
}

func (c *Consumer) worker(ctx context.Context, in <-chan string) {
	for {
		select {
		case <-ctx.Done():
			return

		case userID, ok := <-in:
			if !ok {
				c.logger.Debug("Consumer worker stopped, input channel closed")
				return
			}

			rec, err := c.ledger.Reconcile(ctx, userID)
			if err != nil {
				c.logger.Error("Failed to reconcile balance", "error", err, "user_id", userID)
				continue
			}
			c.checked.Add(1)

			if !rec.Consistent() {
				c.mismatched.Add(1)
				c.logger.Error("Balance does not match transaction log",
					"user_id", userID,
					"stored", rec.Stored,
					"computed", rec.Computed,
				)
			}
		}
	}
}
