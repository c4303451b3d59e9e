package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nkiryanov/pointledger/internal/apperrors"
	"github.com/nkiryanov/pointledger/internal/models"
)

type BalanceRepo struct {
	DB DBTX
}

func (r *BalanceRepo) CreateBalance(ctx context.Context, userID string) error {
	const createBalance = `
	INSERT INTO user_balances (user_id, balance)
	VALUES ($1, 0)
	ON CONFLICT (user_id) DO NOTHING
	`

	_, err := r.DB.Exec(ctx, createBalance, userID)
	if err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrBalanceFetch, err)
	}

	return nil
}

func (r *BalanceRepo) GetBalance(ctx context.Context, userID string, forUpdate bool) (models.Balance, error) {
	getBalance := `
	SELECT user_id, balance, created_at, updated_at FROM user_balances
	WHERE user_id = $1
	`
	if forUpdate {
		getBalance += " FOR UPDATE"
	}

	rows, _ := r.DB.Query(ctx, getBalance, userID)
	balance, err := pgx.CollectOneRow(rows, rowToBalance)

	switch {
	case err == nil:
		return balance, nil
	case errors.Is(err, pgx.ErrNoRows):
		return models.Balance{UserID: userID}, nil
	default:
		return balance, fmt.Errorf("%w: %w", apperrors.ErrBalanceFetch, err)
	}
}

func (r *BalanceRepo) SetBalance(ctx context.Context, userID string, balance int64) (models.Balance, error) {
	const setBalance = `
	UPDATE user_balances
	SET balance = $2, updated_at = now()
	WHERE user_id = $1
	RETURNING user_id, balance, created_at, updated_at
	`

	rows, _ := r.DB.Query(ctx, setBalance, userID, balance)
	b, err := pgx.CollectOneRow(rows, rowToBalance)

	if err != nil {
		var pgErr *pgconn.PgError
		switch {
		case errors.As(err, &pgErr) && pgErr.Code == pgerrcode.CheckViolation:
			return b, fmt.Errorf("%w: %w", apperrors.ErrBalanceInsufficient, err)
		case errors.Is(err, pgx.ErrNoRows):
			return b, fmt.Errorf("%w: balance for user %q not exists", apperrors.ErrBalancePersist, userID)
		default:
			return b, fmt.Errorf("%w: %w", apperrors.ErrBalancePersist, err)
		}
	}

	return b, nil
}

func (r *BalanceRepo) ListUserIDs(ctx context.Context, after string, limit int) ([]string, error) {
	const listUserIDs = `
	SELECT user_id FROM user_balances
	WHERE user_id > $1
	ORDER BY user_id
	LIMIT $2
	`

	rows, _ := r.DB.Query(ctx, listUserIDs, after, limit)
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrBalanceFetch, err)
	}

	return ids, nil
}

func rowToBalance(row pgx.CollectableRow) (models.Balance, error) {
	var b models.Balance
	err := row.Scan(&b.UserID, &b.Balance, &b.CreatedAt, &b.UpdatedAt)
	return b, err
}
