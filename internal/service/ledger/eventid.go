package ledger

import "strings"

// Entries derived by the service share the external event id column with provider events.
// Provider event ids must not start with these prefixes.
const (
	bonusEventPrefix  = "bonus:"
	debitEventPrefix  = "debit:"
	creditEventPrefix = "credit:"
)

// BonusEventID is the external event id of the bonus granted for event eventID
func BonusEventID(eventID string) string {
	return bonusEventPrefix + eventID
}

// DebitEventID is the external event id of the debit with idempotency key
func DebitEventID(key string) string {
	return debitEventPrefix + key
}

// CreditEventID is the external event id of the operator credit with idempotency key
func CreditEventID(key string) string {
	return creditEventPrefix + key
}

func IsDerivedEventID(id string) bool {
	for _, prefix := range []string{bonusEventPrefix, debitEventPrefix, creditEventPrefix} {
		if strings.HasPrefix(id, prefix) {
			return true
		}
	}
	return false
}
