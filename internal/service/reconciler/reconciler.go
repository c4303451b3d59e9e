// Package reconciler periodically checks every cached user balance against the transaction log.
// A mismatch is never repaired automatically; it is reported for an operator to investigate.
package reconciler

import (
	"context"
	"time"

	"github.com/nkiryanov/pointledger/internal/logger"
	"github.com/nkiryanov/pointledger/internal/service/ledger"
)

const (
	defaultCountWorkers = 4   // Number of workers reconciling balances
	defaultBatchSize    = 500 // Users fetched per query
)

type ledgerService interface {
	ListUserIDs(ctx context.Context, after string, limit int) ([]string, error)
	Reconcile(ctx context.Context, userID string) (ledger.Reconciliation, error)
}

type Config struct {
	// Interval between sweeps
	// Required to be positive
	Interval time.Duration

	// If not set than default is used
	CountWorkers int
	BatchSize    int
}

type Processor struct {
	consumer *Consumer
	producer *Producer
}

func New(cfg Config, ledgerService ledgerService, logger logger.Logger) *Processor {
	if cfg.CountWorkers <= 0 {
		cfg.CountWorkers = defaultCountWorkers
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}

	return &Processor{
		consumer: &Consumer{
			countWorkers: cfg.CountWorkers,
			ledger:       ledgerService,
			logger:       logger,
		},
		producer: &Producer{
			interval:  cfg.Interval,
			batchSize: cfg.BatchSize,
			ledger:    ledgerService,
			logger:    logger,
		},
	}
}

// Process runs sweeps until ctx is done
func (p *Processor) Process(ctx context.Context) <-chan struct{} {
	idleStopped := make(chan struct{})

	userIDs := make(chan string)

	// Start producer to produce user ids
	producerStopped := p.producer.Produce(ctx, userIDs)

	// Start consumer to reconcile them
	consumerStopped := p.consumer.Consume(ctx, userIDs)

	go func() {
		defer close(idleStopped)
		<-producerStopped
		close(userIDs)
		<-consumerStopped
		p.consumer.logger.Debug("Reconciler stopped")
	}()

	return idleStopped
}

// Stats of balances checked since start
func (p *Processor) Stats() (checked int64, mismatched int64) {
	return p.consumer.checked.Load(), p.consumer.mismatched.Load()
}
