package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/pointledger/internal/logger"
)

type sinkFunc func(context.Context, Record) error

func (f sinkFunc) Send(ctx context.Context, r Record) error { return f(ctx, r) }

func TestDispatcher(t *testing.T) {
	t.Run("sends emitted records", func(t *testing.T) {
		var mu sync.Mutex
		var got []Record
		sink := sinkFunc(func(_ context.Context, r Record) error {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, r)
			return nil
		})

		d := NewDispatcher(sink, 10, logger.NewNoOpLogger())
		ctx, cancel := context.WithCancel(t.Context())
		stopped := d.Run(ctx)

		d.Emit(Record{UserID: "user-1", EventID: "cs_1"})
		d.Emit(Record{UserID: "user-1", EventID: "cs_2"})

		require.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(got) == 2
		}, time.Second, 10*time.Millisecond)

		cancel()
		<-stopped
		require.Equal(t, "cs_1", got[0].EventID, "records are sent in order")
	})

	t.Run("drains buffer on stop", func(t *testing.T) {
		sent := 0
		sink := sinkFunc(func(context.Context, Record) error {
			sent++
			return nil
		})

		d := NewDispatcher(sink, 10, logger.NewNoOpLogger())
		for range 3 {
			d.Emit(Record{UserID: "user-1"})
		}

		ctx, cancel := context.WithCancel(t.Context())
		cancel()
		<-d.Run(ctx)

		require.Equal(t, 3, sent, "buffered records have to be sent before stop")
	})

	t.Run("emit does not block on full buffer", func(t *testing.T) {
		d := NewDispatcher(sinkFunc(func(context.Context, Record) error { return nil }), 1, logger.NewNoOpLogger())

		d.Emit(Record{EventID: "cs_1"})
		d.Emit(Record{EventID: "cs_2"})

		require.EqualValues(t, 1, d.Dropped())
	})

	t.Run("sink error does not stop worker", func(t *testing.T) {
		var mu sync.Mutex
		calls := 0
		sink := sinkFunc(func(context.Context, Record) error {
			mu.Lock()
			defer mu.Unlock()
			calls++
			return errors.New("broker is down")
		})

		d := NewDispatcher(sink, 10, logger.NewNoOpLogger())
		ctx, cancel := context.WithCancel(t.Context())
		defer cancel()
		d.Run(ctx)

		d.Emit(Record{EventID: "cs_1"})
		d.Emit(Record{EventID: "cs_2"})

		require.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return calls == 2
		}, time.Second, 10*time.Millisecond)
	})
}

func TestAMQP_newPublishing(t *testing.T) {
	occurred := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

	msg, err := newPublishing(Record{
		UserID:        "user-1",
		EventID:       "cs_1",
		BasePoints:    500,
		BonusPoints:   100,
		BalanceBefore: 1000,
		BalanceAfter:  1600,
		CampaignID:    "spring",
		OccurredAt:    occurred,
	})

	require.NoError(t, err)
	require.Equal(t, "application/json", msg.ContentType)
	require.Equal(t, amqp.Persistent, msg.DeliveryMode)
	require.Equal(t, "cs_1", msg.MessageId, "event id is used for consumer side deduplication")
	require.Equal(t, recordMessageType, msg.Type)
	require.Equal(t, occurred, msg.Timestamp)
	require.JSONEq(t, `{
		"user_id": "user-1",
		"event_id": "cs_1",
		"base_points": 500,
		"bonus_points": 100,
		"balance_before": 1000,
		"balance_after": 1600,
		"campaign_id": "spring",
		"occurred_at": "2026-10-14T12:00:00Z"
	}`, string(msg.Body))
}
