package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	TransactionTypePurchase   = "purchase"
	TransactionTypeBonus      = "bonus"
	TransactionTypeDebit      = "debit"
	TransactionTypeRefund     = "refund"
	TransactionTypeAdjustment = "adjustment"
)

const (
	ReferenceTypePlan     = "plan"
	ReferenceTypeCampaign = "campaign"
	ReferenceTypeCoupon   = "coupon"
	ReferenceTypeManual   = "manual"
)

// TransactionTypes lists every known type, credits first
var TransactionTypes = []string{
	TransactionTypePurchase,
	TransactionTypeBonus,
	TransactionTypeRefund,
	TransactionTypeAdjustment,
	TransactionTypeDebit,
}

type Balance struct {
	UserID    string
	Balance   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Transaction struct {
	ID              uuid.UUID
	UserID          string
	Type            string
	Amount          int64 // always >= 0, sign comes from Type
	BalanceBefore   int64
	BalanceAfter    int64
	ExternalEventID *string // nil for transactions not caused by an external event
	ReferenceType   string
	ReferenceID     string
	Description     string
	CreatedAt       time.Time
}

type CouponUsage struct {
	ID              uuid.UUID
	CouponID        string
	UserID          string
	ExternalEventID string
	CreatedAt       time.Time
}

// IsKnownTransactionType reports whether t is one of TransactionTypes
func IsKnownTransactionType(t string) bool {
	for _, known := range TransactionTypes {
		if known == t {
			return true
		}
	}
	return false
}

// IsCredit reports whether the transaction type increases balance
func IsCredit(transactionType string) bool {
	return transactionType != TransactionTypeDebit
}

// SignedAmount applies the type sign to the unsigned amount
func SignedAmount(transactionType string, amount int64) int64 {
	if IsCredit(transactionType) {
		return amount
	}
	return -amount
}

// Signed returns the transaction amount with its type sign applied
func (t Transaction) Signed() int64 {
	return SignedAmount(t.Type, t.Amount)
}
