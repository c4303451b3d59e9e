// Package audit delivers credit audit records to reporting and notification collaborators.
// Delivery is one-way: the ledger hands a record over and never waits for the sink.
package audit

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/nkiryanov/pointledger/internal/logger"
)

const (
	defaultBufferSize   = 256
	defaultDrainTimeout = 5 * time.Second
)

// Record emitted once a credit commits
type Record struct {
	UserID        string    `json:"user_id"`
	EventID       string    `json:"event_id"`
	BasePoints    int64     `json:"base_points"`
	BonusPoints   int64     `json:"bonus_points"`
	BalanceBefore int64     `json:"balance_before"`
	BalanceAfter  int64     `json:"balance_after"`
	CouponID      string    `json:"coupon_id,omitempty"`
	CampaignID    string    `json:"campaign_id,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

type Sink interface {
	Send(ctx context.Context, r Record) error
}

// Dispatcher buffers records and sends them to sink from a single worker
type Dispatcher struct {
	records chan Record
	sink    Sink
	logger  logger.Logger

	dropped atomic.Int64
}

func NewDispatcher(sink Sink, bufferSize int, l logger.Logger) *Dispatcher {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}

	return &Dispatcher{
		records: make(chan Record, bufferSize),
		sink:    sink,
		logger:  l,
	}
}

// Emit never blocks; the record is dropped with a warning if the buffer is full
func (d *Dispatcher) Emit(r Record) {
	select {
	case d.records <- r:
	default:
		d.dropped.Add(1)
		d.logger.Warn("Audit buffer is full, record dropped", "user_id", r.UserID, "event_id", r.EventID)
	}
}

// Count of records dropped because of full buffer
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

// Run sends records until ctx is done, then drains what is buffered
func (d *Dispatcher) Run(ctx context.Context) <-chan struct{} {
	idleStopped := make(chan struct{})

	go func() {
		defer close(idleStopped)

		for {
			select {
			case <-ctx.Done():
				d.drain()
				d.logger.Debug("Audit dispatcher stopped")
				return
			case r := <-d.records:
				d.send(ctx, r)
			}
		}
	}()

	return idleStopped
}

func (d *Dispatcher) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), defaultDrainTimeout)
	defer cancel()

	for {
		select {
		case r := <-d.records:
			d.send(ctx, r)
		default:
			return
		}
	}
}

func (d *Dispatcher) send(ctx context.Context, r Record) {
	if err := d.sink.Send(ctx, r); err != nil {
		d.logger.Error("Failed to send audit record", "error", err, "user_id", r.UserID, "event_id", r.EventID)
	}
}

// LogSink writes records to the log only
type LogSink struct {
	Logger logger.Logger
}

func (s LogSink) Send(_ context.Context, r Record) error {
	s.Logger.Info("Audit record",
		"user_id", r.UserID,
		"event_id", r.EventID,
		"base_points", r.BasePoints,
		"bonus_points", r.BonusPoints,
		"balance_before", r.BalanceBefore,
		"balance_after", r.BalanceAfter,
		"coupon_id", r.CouponID,
		"campaign_id", r.CampaignID,
	)
	return nil
}
