package repository

import (
	"context"

	"github.com/nkiryanov/pointledger/internal/models"
)

type Storage interface {
	Balance() BalanceRepo
	Transaction() TransactionRepo
	Coupon() CouponRepo

	// Run fn within one storage transaction
	// Commit if fn returns nil, rollback otherwise
	InTx(ctx context.Context, fn func(Storage) error) error
}

// UserBalance repository
// The balance row is a cached projection of the user transactions and has to be changed
// only together with a transaction append
type BalanceRepo interface {
	// Create zero balance for the user if it does not exist yet
	// Must be idempotent
	CreateBalance(ctx context.Context, userID string) error

	// Get user balance
	// If balance not exists return zero balance without error
	// If forUpdate is true the balance row is locked until the storage transaction ends
	GetBalance(ctx context.Context, userID string, forUpdate bool) (models.Balance, error)

	// Persist new balance value
	SetBalance(ctx context.Context, userID string, balance int64) (models.Balance, error)

	// List user ids ordered ascending, starting after the given one (empty means from the start)
	ListUserIDs(ctx context.Context, after string, limit int) ([]string, error)
}

type RecordStatus int

const (
	RecordCreated RecordStatus = iota + 1
	RecordAlreadyExists
)

func (s RecordStatus) String() string {
	switch s {
	case RecordCreated:
		return "created"
	case RecordAlreadyExists:
		return "already_exists"
	default:
		return "unknown"
	}
}

// Result of transaction append
// On RecordAlreadyExists Transaction holds the row stored by another writer
type RecordResult struct {
	Status      RecordStatus
	Transaction models.Transaction
}

type ReferenceSummary struct {
	ReferenceType string
	ReferenceID   string
	Count         int64
	Users         int64
	Total         int64
}

type TransactionRepo interface {
	// Append transaction
	// If transaction with the same external event id exists already has to return
	// RecordAlreadyExists with the existing transaction, not an error
	CreateTransaction(ctx context.Context, t models.Transaction) (RecordResult, error)

	// Get transaction by external event id
	// If not found must return apperrors.ErrTransactionNotFound
	GetByExternalEventID(ctx context.Context, externalEventID string) (models.Transaction, error)

	// List user transactions, newest first
	// If types is empty list all transactions
	ListTransactions(ctx context.Context, userID string, types []string) ([]models.Transaction, error)

	// Sum of transaction amounts with type sign applied
	SumSigned(ctx context.Context, userID string) (int64, error)

	// Aggregate transactions of a type linked to a reference (campaign, coupon, plan)
	SummarizeReference(ctx context.Context, transactionType string, referenceType string, referenceID string) (ReferenceSummary, error)
}

type CouponRepo interface {
	// Record coupon usage
	// If the same (coupon, user, event) exists already has to return apperrors.ErrCouponAlreadyUsed
	CreateUsage(ctx context.Context, usage models.CouponUsage) (models.CouponUsage, error)

	// List usages of a coupon
	ListUsages(ctx context.Context, couponID string) ([]models.CouponUsage, error)
}
