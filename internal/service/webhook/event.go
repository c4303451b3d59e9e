package webhook

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/nkiryanov/pointledger/internal/apperrors"
	"github.com/nkiryanov/pointledger/internal/service/ledger"
	"github.com/nkiryanov/pointledger/internal/service/validate"
)

const EventCheckoutCompleted = "checkout_completed"

// Provider event envelope; data is decoded according to event type
type Event struct {
	EventType string          `json:"event_type" validate:"required"`
	Data      json.RawMessage `json:"data"`
}

type CheckoutCompleted struct {
	ExternalEventID string `json:"external_event_id" validate:"required"`
	UserID          string `json:"user_id" validate:"required"`
	BasePoints      *int64 `json:"base_points" validate:"required,gte=0"`
	BonusPoints     int64  `json:"bonus_points" validate:"gte=0"`
	CouponID        string `json:"coupon_id"`
	CampaignID      string `json:"campaign_id"`
	PlanID          string `json:"plan_id"`
}

// Points of the plan itself; BasePoints is validated to be set
func (c CheckoutCompleted) Base() int64 {
	if c.BasePoints == nil {
		return 0
	}
	return *c.BasePoints
}

// MalformedError describes why event can't be used
// Fields maps json field name to problem description, it may be empty
type MalformedError struct {
	Fields map[string]string
	Err    error
}

func (e *MalformedError) Error() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("%s: %v", apperrors.ErrMalformedEvent, e.Err)
	}

	parts := make([]string, 0, len(e.Fields))
	for field, problem := range e.Fields {
		parts = append(parts, field+": "+problem)
	}
	return fmt.Sprintf("%s: %s", apperrors.ErrMalformedEvent, strings.Join(parts, "; "))
}

func (e *MalformedError) Unwrap() []error {
	return []error{apperrors.ErrMalformedEvent, e.Err}
}

func parseEvent(payload []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(payload, &e); err != nil {
		return e, &MalformedError{Err: err}
	}

	if err := validate.Struct(e); err != nil {
		return e, &MalformedError{Fields: validate.FieldErrors(err), Err: err}
	}

	return e, nil
}

func parseCheckoutCompleted(data json.RawMessage) (CheckoutCompleted, error) {
	var c CheckoutCompleted
	if len(data) == 0 {
		return c, &MalformedError{Fields: map[string]string{"data": "This field is required"}, Err: fmt.Errorf("event data is empty")}
	}

	if err := json.Unmarshal(data, &c); err != nil {
		return c, &MalformedError{Err: err}
	}

	c.ExternalEventID = strings.TrimSpace(c.ExternalEventID)
	c.UserID = strings.TrimSpace(c.UserID)

	if err := validate.Struct(c); err != nil {
		return c, &MalformedError{Fields: validate.FieldErrors(err), Err: err}
	}

	if ledger.IsDerivedEventID(c.ExternalEventID) {
		return c, &MalformedError{
			Fields: map[string]string{"external_event_id": "Reserved prefix"},
			Err:    fmt.Errorf("event id %q uses reserved prefix", c.ExternalEventID),
		}
	}

	if c.Base() > math.MaxInt64-c.BonusPoints {
		return c, &MalformedError{
			Fields: map[string]string{"base_points": "Too large"},
			Err:    fmt.Errorf("points out of range: %d+%d", c.Base(), c.BonusPoints),
		}
	}

	return c, nil
}
