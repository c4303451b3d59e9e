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
	"github.com/nkiryanov/pointledger/internal/repository"
)

type TransactionRepo struct {
	DB DBTX
}

const transactionColumns = `id, user_id, transaction_type, amount, balance_before, balance_after,
	external_event_id, reference_type, reference_id, description, created_at`

// Insert transaction; conflict on external_event_id means another writer got there first.
// Under concurrent delivery the losing insert blocks until the winner commits and then does nothing.
const createTransaction = `-- name: CreateTransaction
INSERT INTO transactions (` + transactionColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (external_event_id) DO NOTHING
RETURNING ` + transactionColumns

func (r *TransactionRepo) CreateTransaction(ctx context.Context, t models.Transaction) (repository.RecordResult, error) {
	rows, _ := r.DB.Query(ctx, createTransaction,
		t.ID, t.UserID, t.Type, t.Amount, t.BalanceBefore, t.BalanceAfter,
		t.ExternalEventID, t.ReferenceType, t.ReferenceID, t.Description, t.CreatedAt,
	)
	created, err := pgx.CollectOneRow(rows, rowToTransaction)

	var pgErr *pgconn.PgError
	switch {
	case err == nil:
		return repository.RecordResult{Status: repository.RecordCreated, Transaction: created}, nil
	case errors.Is(err, pgx.ErrNoRows) && t.ExternalEventID != nil:
		// Statement above skipped the row; read it with a fresh snapshot
		existing, err := r.GetByExternalEventID(ctx, *t.ExternalEventID)
		if err != nil {
			return repository.RecordResult{}, fmt.Errorf("%w: conflicting transaction not readable: %w", apperrors.ErrRecord, err)
		}
		return repository.RecordResult{Status: repository.RecordAlreadyExists, Transaction: existing}, nil
	case errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation:
		return repository.RecordResult{}, fmt.Errorf("%w: transaction id already used: %w", apperrors.ErrRecord, err)
	default:
		return repository.RecordResult{}, fmt.Errorf("%w: %w", apperrors.ErrRecord, err)
	}
}

const getByExternalEventID = `-- name: GetByExternalEventID
SELECT ` + transactionColumns + ` FROM transactions
WHERE external_event_id = $1
`

func (r *TransactionRepo) GetByExternalEventID(ctx context.Context, externalEventID string) (models.Transaction, error) {
	rows, _ := r.DB.Query(ctx, getByExternalEventID, externalEventID)
	t, err := pgx.CollectOneRow(rows, rowToTransaction)

	switch {
	case err == nil:
		return t, nil
	case errors.Is(err, pgx.ErrNoRows):
		return t, apperrors.ErrTransactionNotFound
	default:
		return t, fmt.Errorf("db error: %w", err)
	}
}

const listTransactions = `-- name: ListTransactions
SELECT ` + transactionColumns + ` FROM transactions
WHERE user_id = $1 AND ($2::text[] IS NULL OR transaction_type = ANY($2))
ORDER BY created_at DESC, id
`

func (r *TransactionRepo) ListTransactions(ctx context.Context, userID string, types []string) ([]models.Transaction, error) {
	if len(types) == 0 {
		types = nil
	}

	rows, _ := r.DB.Query(ctx, listTransactions, userID, types)
	transactions, err := pgx.CollectRows(rows, rowToTransaction)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return transactions, nil
}

const sumSigned = `-- name: SumSigned
SELECT COALESCE(SUM(CASE WHEN transaction_type = 'debit' THEN -amount ELSE amount END), 0)::bigint
FROM transactions
WHERE user_id = $1
`

func (r *TransactionRepo) SumSigned(ctx context.Context, userID string) (int64, error) {
	rows, _ := r.DB.Query(ctx, sumSigned, userID)
	sum, err := pgx.CollectOneRow(rows, pgx.RowTo[int64])
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}

	return sum, nil
}

const summarizeReference = `-- name: SummarizeReference
SELECT COUNT(*), COUNT(DISTINCT user_id), COALESCE(SUM(amount), 0)::bigint
FROM transactions
WHERE transaction_type = $1 AND reference_type = $2 AND reference_id = $3
`

func (r *TransactionRepo) SummarizeReference(ctx context.Context, transactionType string, referenceType string, referenceID string) (repository.ReferenceSummary, error) {
	s := repository.ReferenceSummary{ReferenceType: referenceType, ReferenceID: referenceID}

	err := r.DB.QueryRow(ctx, summarizeReference, transactionType, referenceType, referenceID).Scan(&s.Count, &s.Users, &s.Total)
	if err != nil {
		return s, fmt.Errorf("db error: %w", err)
	}

	return s, nil
}

func rowToTransaction(row pgx.CollectableRow) (models.Transaction, error) {
	var t models.Transaction
	err := row.Scan(
		&t.ID, &t.UserID, &t.Type, &t.Amount, &t.BalanceBefore, &t.BalanceAfter,
		&t.ExternalEventID, &t.ReferenceType, &t.ReferenceID, &t.Description, &t.CreatedAt,
	)
	return t, err
}
