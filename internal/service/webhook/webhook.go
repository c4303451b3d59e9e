// Package webhook turns at-least-once payment notifications into exactly-once ledger credits.
//
// Event life cycle:
//
//	Received -> Verified -> (Duplicate | New) -> Credited -> SideEffectsAttempted -> Acknowledged
//
// Any failure before Verified and any storage fault before Credited ends in Rejected.
// Once Credited the event always reaches Acknowledged.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nkiryanov/pointledger/internal/apperrors"
	"github.com/nkiryanov/pointledger/internal/audit"
	"github.com/nkiryanov/pointledger/internal/logger"
	"github.com/nkiryanov/pointledger/internal/models"
	"github.com/nkiryanov/pointledger/internal/repository"
	"github.com/nkiryanov/pointledger/internal/service/ledger"
)

type State string

const (
	StateReceived             State = "received"
	StateVerified             State = "verified"
	StateDuplicate            State = "duplicate"
	StateNew                  State = "new"
	StateCredited             State = "credited"
	StateSideEffectsAttempted State = "side_effects_attempted"
	StateAcknowledged         State = "acknowledged"
	StateRejected             State = "rejected"
)

type Outcome int

const (
	OutcomeCredited Outcome = iota + 1
	OutcomeAlreadyProcessed
	OutcomeIgnored
	OutcomeAuthenticityFailure
	OutcomeMalformed
	OutcomeStorageFault
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCredited:
		return "credited"
	case OutcomeAlreadyProcessed:
		return "already_processed"
	case OutcomeIgnored:
		return "ignored"
	case OutcomeAuthenticityFailure:
		return "authenticity_failure"
	case OutcomeMalformed:
		return "malformed"
	case OutcomeStorageFault:
		return "storage_fault"
	default:
		return "unknown"
	}
}

const SideEffectCoupon = "coupon_usage"

type SideEffectResult struct {
	Name    string
	Created bool // false when recorded by an earlier delivery
	Err     error
}

type Result struct {
	Outcome   Outcome
	State     State
	EventType string

	// Primary purchase transaction: created now or found stored
	Transaction models.Transaction

	// Bonus transaction credited together with the purchase, nil if none was credited now
	Bonus *models.Transaction

	SideEffects []SideEffectResult

	// Cause of Rejected state
	Err error
}

type verifier interface {
	Verify(payload []byte, header string) error
}

type ledgerService interface {
	CheckProcessed(ctx context.Context, externalEventID string) (models.Transaction, bool, error)
	CreditEvent(ctx context.Context, primary ledger.Entry, extras ...ledger.Entry) (repository.RecordResult, []repository.RecordResult, error)
	RecordCouponUsage(ctx context.Context, couponID string, userID string, externalEventID string) (models.CouponUsage, bool, error)
}

type auditEmitter interface {
	Emit(r audit.Record)
}

type Orchestrator struct {
	verifier verifier
	ledger   ledgerService
	audit    auditEmitter
	logger   logger.Logger
	now      func() time.Time
}

func NewOrchestrator(v verifier, l ledgerService, a auditEmitter, lg logger.Logger) *Orchestrator {
	return &Orchestrator{
		verifier: v,
		ledger:   l,
		audit:    a,
		logger:   lg,
		now:      time.Now,
	}
}

// Handle processes one delivery of a provider event
// payload has to be the raw request body, it is what the signature covers
func (o *Orchestrator) Handle(ctx context.Context, payload []byte, signatureHeader string) Result {
	res := Result{State: StateReceived}
	l := o.logger

	if err := o.verifier.Verify(payload, signatureHeader); err != nil {
		return o.reject(l, res, OutcomeAuthenticityFailure, err)
	}
	o.transition(l, &res, StateVerified)

	event, err := parseEvent(payload)
	if err != nil {
		return o.reject(l, res, OutcomeMalformed, err)
	}
	res.EventType = event.EventType
	l = l.With("event_type", event.EventType)

	if event.EventType != EventCheckoutCompleted {
		l.Info("Event type is not handled, ignored")
		res.Outcome = OutcomeIgnored
		o.transition(l, &res, StateAcknowledged)
		return res
	}

	checkout, err := parseCheckoutCompleted(event.Data)
	if err != nil {
		return o.reject(l, res, OutcomeMalformed, err)
	}
	l = l.With("event_id", checkout.ExternalEventID, "user_id", checkout.UserID)

	existing, found, err := o.ledger.CheckProcessed(ctx, checkout.ExternalEventID)
	switch {
	case err != nil:
		return o.reject(l, res, OutcomeStorageFault, err)
	case found:
		res.Outcome = OutcomeAlreadyProcessed
		res.Transaction = existing
		o.transition(l, &res, StateDuplicate)
		o.transition(l, &res, StateAcknowledged)
		return res
	}
	o.transition(l, &res, StateNew)

	credit, extras, err := o.ledger.CreditEvent(ctx, purchaseEntry(checkout), bonusEntries(checkout)...)
	switch {
	case errors.Is(err, apperrors.ErrBalanceOverflow):
		return o.reject(l, res, OutcomeMalformed, &MalformedError{Err: err})
	case err != nil:
		// Balance update and ledger append share one storage transaction, nothing is committed
		return o.reject(l, res, OutcomeStorageFault, err)
	}
	res.Transaction = credit.Transaction

	balanceAfter := credit.Transaction.BalanceAfter
	switch credit.Status {
	case repository.RecordAlreadyExists:
		// Concurrent delivery committed first
		l.Info("Event recorded by concurrent delivery")
		res.Outcome = OutcomeAlreadyProcessed
	default:
		res.Outcome = OutcomeCredited
		for _, extra := range extras {
			bonus := extra.Transaction
			res.Bonus = &bonus
			balanceAfter = bonus.BalanceAfter
		}
	}
	o.transition(l, &res, StateCredited)

	for _, task := range o.sideEffects(checkout) {
		r := task.run(ctx)
		if r.Err != nil {
			l.Warn("Side effect failed", "side_effect", r.Name, "error", r.Err)
		}
		res.SideEffects = append(res.SideEffects, r)
	}
	o.transition(l, &res, StateSideEffectsAttempted)

	if res.Outcome == OutcomeCredited {
		o.audit.Emit(audit.Record{
			UserID:        checkout.UserID,
			EventID:       checkout.ExternalEventID,
			BasePoints:    checkout.Base(),
			BonusPoints:   checkout.BonusPoints,
			BalanceBefore: credit.Transaction.BalanceBefore,
			BalanceAfter:  balanceAfter,
			CouponID:      checkout.CouponID,
			CampaignID:    checkout.CampaignID,
			OccurredAt:    o.now(),
		})
	}

	o.transition(l, &res, StateAcknowledged)
	return res
}

func purchaseEntry(c CheckoutCompleted) ledger.Entry {
	return ledger.Entry{
		UserID:          c.UserID,
		Type:            models.TransactionTypePurchase,
		Amount:          c.Base(),
		ExternalEventID: c.ExternalEventID,
		ReferenceType:   models.ReferenceTypePlan,
		ReferenceID:     c.PlanID,
		Description:     fmt.Sprintf("Points purchase, plan %q", c.PlanID),
	}
}

// Campaign bonus is a part of the credit: base and bonus points are applied exactly once together
func bonusEntries(c CheckoutCompleted) []ledger.Entry {
	if c.BonusPoints <= 0 {
		return nil
	}

	referenceType, referenceID := models.ReferenceTypePlan, c.PlanID
	if c.CampaignID != "" {
		referenceType, referenceID = models.ReferenceTypeCampaign, c.CampaignID
	}

	return []ledger.Entry{{
		UserID:          c.UserID,
		Type:            models.TransactionTypeBonus,
		Amount:          c.BonusPoints,
		ExternalEventID: ledger.BonusEventID(c.ExternalEventID),
		ReferenceType:   referenceType,
		ReferenceID:     referenceID,
		Description:     fmt.Sprintf("Bonus points, %s %q", referenceType, referenceID),
	}}
}

type sideEffect struct {
	run func(ctx context.Context) SideEffectResult
}

// Side effects run after the credit; each is idempotent on its own and
// its failure never changes the event outcome
func (o *Orchestrator) sideEffects(c CheckoutCompleted) []sideEffect {
	var tasks []sideEffect

	if c.CouponID != "" {
		tasks = append(tasks, sideEffect{
			run: func(ctx context.Context) SideEffectResult {
				_, created, err := o.ledger.RecordCouponUsage(ctx, c.CouponID, c.UserID, c.ExternalEventID)
				return SideEffectResult{Name: SideEffectCoupon, Created: created, Err: err}
			},
		})
	}

	return tasks
}

func (o *Orchestrator) transition(l logger.Logger, res *Result, to State) {
	l.Debug("Event state changed", "from", res.State, "to", to)
	res.State = to
}

func (o *Orchestrator) reject(l logger.Logger, res Result, outcome Outcome, err error) Result {
	switch outcome {
	case OutcomeStorageFault:
		l.Error("Event rejected, storage fault", "error", err)
	default:
		l.Warn("Event rejected", "outcome", outcome.String(), "error", err)
	}

	res.Outcome = outcome
	res.Err = err
	o.transition(l, &res, StateRejected)
	return res
}
