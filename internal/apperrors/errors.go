package apperrors

import (
	"errors"
)

var (
	ErrSignatureInvalid = errors.New("signature invalid")
	ErrMalformedEvent   = errors.New("malformed event")

	ErrBalanceFetch        = errors.New("balance fetch failed")
	ErrBalancePersist      = errors.New("balance persist failed")
	ErrBalanceInsufficient = errors.New("insufficient balance")
	ErrBalanceOverflow     = errors.New("balance out of range")

	ErrRecord = errors.New("transaction record failed")

	// Returned from inside a storage transaction to roll it back when another writer
	// already recorded the same external event
	ErrDuplicateEvent = errors.New("event already recorded")

	ErrTransactionNotFound = errors.New("transaction not found")
	ErrCouponAlreadyUsed   = errors.New("coupon already used for this event")

	ErrTokenInvalid = errors.New("operator token invalid")
)
