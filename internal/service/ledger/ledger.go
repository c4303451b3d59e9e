package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/pointledger/internal/apperrors"
	"github.com/nkiryanov/pointledger/internal/models"
	"github.com/nkiryanov/pointledger/internal/repository"
)

// Ledger service owns every write to balances, transactions and coupon usages
type Service struct {
	storage repository.Storage
	now     func() time.Time
}

func NewService(storage repository.Storage) *Service {
	return &Service{
		storage: storage,
		now:     time.Now,
	}
}

type Entry struct {
	UserID string
	Type   string
	Amount int64

	// Idempotency key; empty means the entry is not tied to an external event
	ExternalEventID string

	ReferenceType string
	ReferenceID   string
	Description   string
}

// Credit applies a credit entry: balance update and transaction append commit together.
// If the external event is recorded already (by a previous delivery or a concurrent one)
// nothing changes and RecordAlreadyExists with the stored transaction is returned.
func (s *Service) Credit(ctx context.Context, e Entry) (repository.RecordResult, error) {
	if !models.IsCredit(e.Type) {
		return repository.RecordResult{}, fmt.Errorf("transaction type %q is not a credit", e.Type)
	}

	return s.apply(ctx, e, nil)
}

// CreditEvent applies the primary credit and the extra credits derived from the same event
// in one storage transaction: either every entry is recorded or none.
//
// If the primary event is recorded already nothing changes, RecordAlreadyExists with the
// stored primary transaction is returned and extras is nil.
// An extra entry recorded already while the primary one is not is a fault.
func (s *Service) CreditEvent(ctx context.Context, primary Entry, extras ...Entry) (repository.RecordResult, []repository.RecordResult, error) {
	entries := append([]Entry{primary}, extras...)
	for _, e := range entries {
		if !models.IsCredit(e.Type) {
			return repository.RecordResult{}, nil, fmt.Errorf("transaction type %q is not a credit", e.Type)
		}
		if err := validateEntry(e); err != nil {
			return repository.RecordResult{}, nil, err
		}
	}

	var results []repository.RecordResult
	err := s.storage.InTx(ctx, func(st repository.Storage) error {
		results = make([]repository.RecordResult, 0, len(entries))

		for i, e := range entries {
			res, err := s.record(ctx, st, e, nil)
			if err != nil {
				return err
			}
			results = append(results, res)

			if res.Status == repository.RecordAlreadyExists {
				if i > 0 {
					return fmt.Errorf("%w: event %q recorded without %q", apperrors.ErrRecord, e.ExternalEventID, primary.ExternalEventID)
				}
				return apperrors.ErrDuplicateEvent
			}
		}

		return nil
	})

	switch {
	case err == nil:
		return results[0], results[1:], nil
	case errors.Is(err, apperrors.ErrDuplicateEvent):
		return results[0], nil, nil
	default:
		return repository.RecordResult{}, nil, err
	}
}

// Debit applies a debit entry if the user has enough points
// Must return apperrors.ErrBalanceInsufficient otherwise.
// A replay of a recorded debit returns RecordAlreadyExists whatever the balance is now.
func (s *Service) Debit(ctx context.Context, e Entry) (repository.RecordResult, error) {
	e.Type = models.TransactionTypeDebit

	return s.apply(ctx, e, func(current int64) error {
		if current < e.Amount {
			return apperrors.ErrBalanceInsufficient
		}
		return nil
	})
}

func validateEntry(e Entry) error {
	switch {
	case e.UserID == "":
		return errors.New("user id must not be empty")
	case e.Amount < 0:
		return fmt.Errorf("amount must not be negative, got %d", e.Amount)
	case !models.IsKnownTransactionType(e.Type):
		return fmt.Errorf("unknown transaction type %q", e.Type)
	}
	return nil
}

func (s *Service) apply(ctx context.Context, e Entry, check func(current int64) error) (repository.RecordResult, error) {
	if err := validateEntry(e); err != nil {
		return repository.RecordResult{}, err
	}

	var result repository.RecordResult
	err := s.storage.InTx(ctx, func(st repository.Storage) error {
		var err error
		result, err = s.record(ctx, st, e, check)
		if err != nil {
			return err
		}

		if result.Status == repository.RecordAlreadyExists {
			// Undo balance update made by record
			return apperrors.ErrDuplicateEvent
		}

		return nil
	})

	switch {
	case err == nil:
		return result, nil
	case errors.Is(err, apperrors.ErrDuplicateEvent):
		return result, nil
	default:
		return repository.RecordResult{}, err
	}
}

// record updates balance and appends the transaction within storage transaction st
func (s *Service) record(ctx context.Context, st repository.Storage, e Entry, check func(current int64) error) (repository.RecordResult, error) {
	current, err := lockBalance(ctx, st.Balance(), e.UserID)
	if err != nil {
		return repository.RecordResult{}, err
	}

	var externalEventID *string
	if e.ExternalEventID != "" {
		externalEventID = &e.ExternalEventID

		// Balance row is locked: an entry of this user with the same event id is either committed or absent
		existing, err := st.Transaction().GetByExternalEventID(ctx, e.ExternalEventID)
		switch {
		case err == nil:
			return repository.RecordResult{Status: repository.RecordAlreadyExists, Transaction: existing}, nil
		case !errors.Is(err, apperrors.ErrTransactionNotFound):
			return repository.RecordResult{}, fmt.Errorf("%w: %w", apperrors.ErrBalanceFetch, err)
		}
	}

	if check != nil {
		if err := check(current); err != nil {
			return repository.RecordResult{}, err
		}
	}

	next, err := addDelta(current, models.SignedAmount(e.Type, e.Amount))
	if err != nil {
		return repository.RecordResult{}, err
	}

	updated, err := st.Balance().SetBalance(ctx, e.UserID, next)
	if err != nil {
		return repository.RecordResult{}, err
	}

	return st.Transaction().CreateTransaction(ctx, models.Transaction{
		ID:              uuid.New(),
		UserID:          e.UserID,
		Type:            e.Type,
		Amount:          e.Amount,
		BalanceBefore:   current,
		BalanceAfter:    updated.Balance,
		ExternalEventID: externalEventID,
		ReferenceType:   e.ReferenceType,
		ReferenceID:     e.ReferenceID,
		Description:     e.Description,
		CreatedAt:       s.now(),
	})
}

// CheckProcessed reports whether a transaction for the external event exists.
// It is a fast path only: a concurrent delivery may pass it, the unique constraint decides.
func (s *Service) CheckProcessed(ctx context.Context, externalEventID string) (models.Transaction, bool, error) {
	t, err := s.storage.Transaction().GetByExternalEventID(ctx, externalEventID)

	switch {
	case err == nil:
		return t, true, nil
	case errors.Is(err, apperrors.ErrTransactionNotFound):
		return t, false, nil
	default:
		return t, false, fmt.Errorf("%w: %w", apperrors.ErrBalanceFetch, err)
	}
}

// RecordCouponUsage appends coupon usage for the event
// created is false when the usage has been recorded before
func (s *Service) RecordCouponUsage(ctx context.Context, couponID string, userID string, externalEventID string) (usage models.CouponUsage, created bool, err error) {
	usage, err = s.storage.Coupon().CreateUsage(ctx, models.CouponUsage{
		ID:              uuid.New(),
		CouponID:        couponID,
		UserID:          userID,
		ExternalEventID: externalEventID,
		CreatedAt:       s.now(),
	})

	switch {
	case err == nil:
		return usage, true, nil
	case errors.Is(err, apperrors.ErrCouponAlreadyUsed):
		return usage, false, nil
	default:
		return usage, false, fmt.Errorf("can't record coupon usage. Err: %w", err)
	}
}
