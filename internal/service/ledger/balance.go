package ledger

import (
	"context"
	"fmt"

	"github.com/nkiryanov/pointledger/internal/apperrors"
	"github.com/nkiryanov/pointledger/internal/models"
	"github.com/nkiryanov/pointledger/internal/repository"
)

// Read current balance (zero for new users) and lock it.
// The row stays locked until the surrounding storage transaction ends, so concurrent
// entries of one user are applied one after another.
func lockBalance(ctx context.Context, balances repository.BalanceRepo, userID string) (int64, error) {
	if err := balances.CreateBalance(ctx, userID); err != nil {
		return 0, err
	}

	current, err := balances.GetBalance(ctx, userID, true)
	if err != nil {
		return 0, err
	}

	return current.Balance, nil
}

// Add delta to the balance; returns apperrors.ErrBalanceOverflow if the result does not fit int64
func addDelta(current int64, delta int64) (int64, error) {
	next := current + delta
	if (delta > 0 && next < current) || (delta < 0 && next > current) {
		return 0, fmt.Errorf("%w: %d%+d", apperrors.ErrBalanceOverflow, current, delta)
	}
	return next, nil
}

func (s *Service) GetBalance(ctx context.Context, userID string) (models.Balance, error) {
	balance, err := s.storage.Balance().GetBalance(ctx, userID, false)
	if err != nil {
		return balance, fmt.Errorf("can't get balance. Err: %w", err)
	}

	return balance, nil
}

type Reconciliation struct {
	UserID   string
	Stored   int64 // cached UserBalance value
	Computed int64 // sum of signed transaction amounts
}

func (r Reconciliation) Consistent() bool {
	return r.Stored == r.Computed
}

// Reconcile compares cached balance with the transaction log
// Balance row is locked while summing so in-flight entries can't skew the result
func (s *Service) Reconcile(ctx context.Context, userID string) (Reconciliation, error) {
	r := Reconciliation{UserID: userID}

	err := s.storage.InTx(ctx, func(st repository.Storage) error {
		balance, err := st.Balance().GetBalance(ctx, userID, true)
		if err != nil {
			return err
		}

		sum, err := st.Transaction().SumSigned(ctx, userID)
		if err != nil {
			return err
		}

		r.Stored, r.Computed = balance.Balance, sum
		return nil
	})
	if err != nil {
		return r, fmt.Errorf("can't reconcile balance. Err: %w", err)
	}

	return r, nil
}
