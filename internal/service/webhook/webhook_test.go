package webhook

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/pointledger/internal/apperrors"
	"github.com/nkiryanov/pointledger/internal/audit"
	"github.com/nkiryanov/pointledger/internal/logger"
	"github.com/nkiryanov/pointledger/internal/models"
	"github.com/nkiryanov/pointledger/internal/repository"
	"github.com/nkiryanov/pointledger/internal/service/ledger"
	"github.com/nkiryanov/pointledger/internal/service/signature"
)

const testSecret = "whsec_test"

// In memory ledger, counts every call
type memLedger struct {
	mu        sync.Mutex
	balances  map[string]int64
	records   map[string]models.Transaction
	coupons   map[string]bool
	checks    int
	credits   int
	couponErr error
	creditErr map[string]error // by transaction type
}

func newMemLedger() *memLedger {
	return &memLedger{
		balances:  make(map[string]int64),
		records:   make(map[string]models.Transaction),
		coupons:   make(map[string]bool),
		creditErr: make(map[string]error),
	}
}

func (m *memLedger) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.checks + m.credits
}

func (m *memLedger) CheckProcessed(_ context.Context, id string) (models.Transaction, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks++

	tx, ok := m.records[id]
	return tx, ok, nil
}

// Entries of one event are applied all or none, like the storage transaction does
func (m *memLedger) CreditEvent(_ context.Context, primary ledger.Entry, extras ...ledger.Entry) (repository.RecordResult, []repository.RecordResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.credits++

	entries := append([]ledger.Entry{primary}, extras...)
	for _, e := range entries {
		if err := m.creditErr[e.Type]; err != nil {
			return repository.RecordResult{}, nil, err
		}
	}

	if tx, ok := m.records[primary.ExternalEventID]; ok {
		return repository.RecordResult{Status: repository.RecordAlreadyExists, Transaction: tx}, nil, nil
	}

	results := make([]repository.RecordResult, 0, len(entries))
	for _, e := range entries {
		id := e.ExternalEventID
		before := m.balances[e.UserID]
		tx := models.Transaction{
			ID:              uuid.New(),
			UserID:          e.UserID,
			Type:            e.Type,
			Amount:          e.Amount,
			BalanceBefore:   before,
			BalanceAfter:    before + e.Amount,
			ExternalEventID: &id,
			ReferenceType:   e.ReferenceType,
			ReferenceID:     e.ReferenceID,
		}
		m.balances[e.UserID] = tx.BalanceAfter
		m.records[id] = tx
		results = append(results, repository.RecordResult{Status: repository.RecordCreated, Transaction: tx})
	}

	return results[0], results[1:], nil
}

func (m *memLedger) RecordCouponUsage(_ context.Context, couponID, userID, eventID string) (models.CouponUsage, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.couponErr != nil {
		return models.CouponUsage{}, false, m.couponErr
	}

	key := couponID + "/" + userID + "/" + eventID
	created := !m.coupons[key]
	m.coupons[key] = true

	return models.CouponUsage{CouponID: couponID, UserID: userID, ExternalEventID: eventID}, created, nil
}

type recordingEmitter struct {
	mu      sync.Mutex
	records []audit.Record
}

func (e *recordingEmitter) Emit(r audit.Record) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.records = append(e.records, r)
}

func newVerifier(t *testing.T) *signature.Verifier {
	v, err := signature.NewVerifier(signature.Config{Secret: testSecret})
	require.NoError(t, err)
	return v
}

func sign(payload string) string {
	return signature.Sign(testSecret, time.Now(), []byte(payload))
}

const checkoutWithBonus = `{
	"event_type": "checkout_completed",
	"data": {
		"external_event_id": "cs_123",
		"user_id": "user-1",
		"base_points": 500,
		"bonus_points": 100,
		"campaign_id": "spring",
		"plan_id": "plan_500"
	}
}`

func TestOrchestrator_Handle(t *testing.T) {
	t.Parallel()

	setup := func(t *testing.T) (*Orchestrator, *memLedger, *recordingEmitter) {
		l := newMemLedger()
		e := &recordingEmitter{}
		return NewOrchestrator(newVerifier(t), l, e, logger.NewNoOpLogger()), l, e
	}

	t.Run("first delivery credits purchase and bonus", func(t *testing.T) {
		o, l, e := setup(t)
		l.balances["user-1"] = 1000

		res := o.Handle(t.Context(), []byte(checkoutWithBonus), sign(checkoutWithBonus))

		require.Equal(t, OutcomeCredited, res.Outcome)
		require.Equal(t, StateAcknowledged, res.State)
		require.NoError(t, res.Err)
		require.EqualValues(t, 1000, res.Transaction.BalanceBefore)
		require.EqualValues(t, 1500, res.Transaction.BalanceAfter)
		require.EqualValues(t, 1600, l.balances["user-1"])

		bonus, ok := l.records["bonus:cs_123"]
		require.True(t, ok, "bonus has to be recorded under its own key")
		require.Equal(t, models.TransactionTypeBonus, bonus.Type)
		require.Equal(t, models.ReferenceTypeCampaign, bonus.ReferenceType)
		require.Equal(t, "spring", bonus.ReferenceID)

		require.NotNil(t, res.Bonus)
		require.EqualValues(t, 1500, res.Bonus.BalanceBefore)
		require.EqualValues(t, 1600, res.Bonus.BalanceAfter)
		require.Empty(t, res.SideEffects, "no coupon in event")

		require.Len(t, e.records, 1, "one audit record per credited event")
		require.EqualValues(t, 1000, e.records[0].BalanceBefore)
		require.EqualValues(t, 1600, e.records[0].BalanceAfter)
		require.EqualValues(t, 500, e.records[0].BasePoints)
		require.EqualValues(t, 100, e.records[0].BonusPoints)
	})

	t.Run("redelivery acknowledged without credit", func(t *testing.T) {
		o, l, e := setup(t)
		l.balances["user-1"] = 1000

		first := o.Handle(t.Context(), []byte(checkoutWithBonus), sign(checkoutWithBonus))
		require.Equal(t, OutcomeCredited, first.Outcome)

		again := o.Handle(t.Context(), []byte(checkoutWithBonus), sign(checkoutWithBonus))

		require.Equal(t, OutcomeAlreadyProcessed, again.Outcome)
		require.Equal(t, StateAcknowledged, again.State)
		require.Equal(t, first.Transaction.ID, again.Transaction.ID, "stored transaction has to be returned")
		require.EqualValues(t, 1600, l.balances["user-1"], "balance must not change on redelivery")
		require.Len(t, e.records, 1, "no audit record on redelivery")
	})

	t.Run("invalid signature rejected before storage", func(t *testing.T) {
		o, l, e := setup(t)
		header := signature.Sign("not-the-secret", time.Now(), []byte(checkoutWithBonus))

		res := o.Handle(t.Context(), []byte(checkoutWithBonus), header)

		require.Equal(t, OutcomeAuthenticityFailure, res.Outcome)
		require.Equal(t, StateRejected, res.State)
		require.ErrorIs(t, res.Err, apperrors.ErrSignatureInvalid)
		require.Zero(t, l.calls(), "storage must not be touched")
		require.Empty(t, e.records)
	})

	t.Run("missing signature rejected", func(t *testing.T) {
		o, l, _ := setup(t)

		res := o.Handle(t.Context(), []byte(checkoutWithBonus), "")

		require.Equal(t, OutcomeAuthenticityFailure, res.Outcome)
		require.Zero(t, l.calls())
	})

	t.Run("tampered body rejected", func(t *testing.T) {
		o, l, _ := setup(t)
		header := sign(checkoutWithBonus)
		tampered := []byte(`{"event_type":"checkout_completed","data":{"external_event_id":"cs_123","user_id":"user-1","base_points":50000}}`)

		res := o.Handle(t.Context(), tampered, header)

		require.Equal(t, OutcomeAuthenticityFailure, res.Outcome)
		require.Zero(t, l.calls())
	})

	t.Run("other event types ignored", func(t *testing.T) {
		o, l, e := setup(t)
		payload := `{"event_type":"refund_created","data":{"id":"re_1"}}`

		res := o.Handle(t.Context(), []byte(payload), sign(payload))

		require.Equal(t, OutcomeIgnored, res.Outcome)
		require.Equal(t, StateAcknowledged, res.State)
		require.Equal(t, "refund_created", res.EventType)
		require.Zero(t, l.calls())
		require.Empty(t, e.records)
	})

	t.Run("malformed event rejected", func(t *testing.T) {
		tests := []struct {
			name    string
			payload string
			field   string
		}{
			{"not json", `{"event_type":`, ""},
			{"no event type", `{"data":{}}`, "event_type"},
			{"no data", `{"event_type":"checkout_completed"}`, "data"},
			{"no event id", `{"event_type":"checkout_completed","data":{"user_id":"user-1","base_points":500}}`, "external_event_id"},
			{"blank user id", `{"event_type":"checkout_completed","data":{"external_event_id":"cs_1","user_id":"  ","base_points":500}}`, "user_id"},
			{"no base points", `{"event_type":"checkout_completed","data":{"external_event_id":"cs_1","user_id":"user-1"}}`, "base_points"},
			{"negative bonus", `{"event_type":"checkout_completed","data":{"external_event_id":"cs_1","user_id":"user-1","base_points":1,"bonus_points":-5}}`, "bonus_points"},
			{"reserved event id", `{"event_type":"checkout_completed","data":{"external_event_id":"bonus:cs_1","user_id":"user-1","base_points":1}}`, "external_event_id"},
			{"points out of range", `{"event_type":"checkout_completed","data":{"external_event_id":"cs_1","user_id":"user-1","base_points":9223372036854775807,"bonus_points":1}}`, "base_points"},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				o, l, _ := setup(t)

				res := o.Handle(t.Context(), []byte(tt.payload), sign(tt.payload))

				require.Equal(t, OutcomeMalformed, res.Outcome)
				require.Equal(t, StateRejected, res.State)
				require.ErrorIs(t, res.Err, apperrors.ErrMalformedEvent)
				require.Zero(t, l.calls())

				if tt.field != "" {
					var malformed *MalformedError
					require.ErrorAs(t, res.Err, &malformed)
					require.Contains(t, malformed.Fields, tt.field)
				}
			})
		}
	})

	t.Run("storage fault on credit rejected", func(t *testing.T) {
		o, l, e := setup(t)
		l.creditErr[models.TransactionTypePurchase] = apperrors.ErrRecord

		res := o.Handle(t.Context(), []byte(checkoutWithBonus), sign(checkoutWithBonus))

		require.Equal(t, OutcomeStorageFault, res.Outcome)
		require.Equal(t, StateRejected, res.State)
		require.ErrorIs(t, res.Err, apperrors.ErrRecord)
		require.Empty(t, res.SideEffects, "side effects run only after credit")
		require.Empty(t, e.records)
	})

	t.Run("side effect failure does not change outcome", func(t *testing.T) {
		o, l, e := setup(t)
		l.couponErr = errors.New("coupon store is down")
		payload := `{"event_type":"checkout_completed","data":{"external_event_id":"cs_9","user_id":"user-1","base_points":500,"bonus_points":50,"coupon_id":"SPRING10","plan_id":"plan_500"}}`

		res := o.Handle(t.Context(), []byte(payload), sign(payload))

		require.Equal(t, OutcomeCredited, res.Outcome)
		require.Equal(t, StateAcknowledged, res.State)
		require.Len(t, res.SideEffects, 1)
		require.Equal(t, SideEffectCoupon, res.SideEffects[0].Name)
		require.Error(t, res.SideEffects[0].Err)
		require.NotNil(t, res.Bonus, "bonus still applied")
		require.EqualValues(t, 550, l.balances["user-1"])
		require.Len(t, e.records, 1)
		require.Equal(t, "SPRING10", e.records[0].CouponID)
	})

	t.Run("bonus fault rejects whole credit and redelivery applies both", func(t *testing.T) {
		o, l, e := setup(t)
		l.balances["user-1"] = 1000
		l.creditErr[models.TransactionTypeBonus] = apperrors.ErrBalancePersist

		res := o.Handle(t.Context(), []byte(checkoutWithBonus), sign(checkoutWithBonus))

		require.Equal(t, OutcomeStorageFault, res.Outcome)
		require.Equal(t, StateRejected, res.State)
		require.EqualValues(t, 1000, l.balances["user-1"], "purchase must not be committed without bonus")
		require.Empty(t, e.records)

		// Storage recovered, provider retries
		delete(l.creditErr, models.TransactionTypeBonus)
		again := o.Handle(t.Context(), []byte(checkoutWithBonus), sign(checkoutWithBonus))

		require.Equal(t, OutcomeCredited, again.Outcome)
		require.EqualValues(t, 1600, l.balances["user-1"])
		require.Len(t, e.records, 1)
		require.EqualValues(t, 1600, e.records[0].BalanceAfter)
	})

	t.Run("balance out of range rejected as malformed", func(t *testing.T) {
		o, l, e := setup(t)
		l.creditErr[models.TransactionTypePurchase] = fmt.Errorf("%w: 9223372036854775000+1000", apperrors.ErrBalanceOverflow)

		res := o.Handle(t.Context(), []byte(checkoutWithBonus), sign(checkoutWithBonus))

		require.Equal(t, OutcomeMalformed, res.Outcome)
		require.ErrorIs(t, res.Err, apperrors.ErrMalformedEvent)
		require.ErrorIs(t, res.Err, apperrors.ErrBalanceOverflow)
		require.Empty(t, e.records)
	})

	t.Run("bonus without campaign references plan", func(t *testing.T) {
		o, l, _ := setup(t)
		payload := `{"event_type":"checkout_completed","data":{"external_event_id":"cs_7","user_id":"user-2","base_points":0,"bonus_points":20,"plan_id":"plan_free"}}`

		res := o.Handle(t.Context(), []byte(payload), sign(payload))

		require.Equal(t, OutcomeCredited, res.Outcome)
		bonus := l.records["bonus:cs_7"]
		require.Equal(t, models.ReferenceTypePlan, bonus.ReferenceType)
		require.Equal(t, "plan_free", bonus.ReferenceID)
		require.EqualValues(t, 20, l.balances["user-2"])
	})

	t.Run("late duplicate replays side effects", func(t *testing.T) {
		o, l, e := setup(t)
		// Purchase and bonus committed by concurrent delivery after guard check, coupon usage was not recorded yet
		l.records["cs_8"] = models.Transaction{ID: uuid.New(), UserID: "user-1", Amount: 500, BalanceAfter: 500}
		l.records["bonus:cs_8"] = models.Transaction{ID: uuid.New(), UserID: "user-1", Amount: 50, BalanceBefore: 500, BalanceAfter: 550}
		l.balances["user-1"] = 550
		o.ledger = &guardMissLedger{memLedger: l}
		payload := `{"event_type":"checkout_completed","data":{"external_event_id":"cs_8","user_id":"user-1","base_points":500,"bonus_points":50,"coupon_id":"SPRING10"}}`

		res := o.Handle(t.Context(), []byte(payload), sign(payload))

		require.Equal(t, OutcomeAlreadyProcessed, res.Outcome)
		require.Equal(t, StateAcknowledged, res.State)
		require.Nil(t, res.Bonus)
		require.Len(t, res.SideEffects, 1)
		require.True(t, res.SideEffects[0].Created, "missing coupon usage completed on replay")
		require.EqualValues(t, 550, l.balances["user-1"], "balance must not change")
		require.Empty(t, e.records, "audit is emitted by delivery that committed the credit")
	})
}

// Guard always misses, like a delivery racing with another one
type guardMissLedger struct {
	*memLedger
}

func (g *guardMissLedger) CheckProcessed(context.Context, string) (models.Transaction, bool, error) {
	return models.Transaction{}, false, nil
}
