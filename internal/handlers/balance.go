package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/nkiryanov/pointledger/internal/apperrors"
	"github.com/nkiryanov/pointledger/internal/handlers/operatorctx"
	"github.com/nkiryanov/pointledger/internal/handlers/render"
	"github.com/nkiryanov/pointledger/internal/logger"
	"github.com/nkiryanov/pointledger/internal/models"
	"github.com/nkiryanov/pointledger/internal/repository"
	"github.com/nkiryanov/pointledger/internal/service/ledger"
)

const IdempotencyKeyHeader = "Idempotency-Key"

type transactionResponse struct {
	ID              string    `json:"id"`
	Type            string    `json:"type"`
	Amount          int64     `json:"amount"`
	BalanceBefore   int64     `json:"balance_before"`
	BalanceAfter    int64     `json:"balance_after"`
	ExternalEventID *string   `json:"external_event_id,omitempty"`
	ReferenceType   string    `json:"reference_type,omitempty"`
	ReferenceID     string    `json:"reference_id,omitempty"`
	Description     string    `json:"description,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

func newTransactionResponse(t models.Transaction) transactionResponse {
	return transactionResponse{
		ID:              t.ID.String(),
		Type:            t.Type,
		Amount:          t.Amount,
		BalanceBefore:   t.BalanceBefore,
		BalanceAfter:    t.BalanceAfter,
		ExternalEventID: t.ExternalEventID,
		ReferenceType:   t.ReferenceType,
		ReferenceID:     t.ReferenceID,
		Description:     t.Description,
		CreatedAt:       t.CreatedAt,
	}
}

func handleUserBalance(ledgerService ledgerService, l logger.Logger) http.Handler {
	type response struct {
		UserID    string     `json:"user_id"`
		Balance   int64      `json:"balance"`
		UpdatedAt *time.Time `json:"updated_at,omitempty"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.PathValue("user_id")

		balance, err := ledgerService.GetBalance(r.Context(), userID)

		switch err {
		case nil:
			res := response{UserID: userID, Balance: balance.Balance}
			if !balance.UpdatedAt.IsZero() {
				res.UpdatedAt = &balance.UpdatedAt
			}
			render.JSON(w, res)
		default:
			l.Error("Failed to get balance", "error", err, "user_id", userID)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

// Optional filter: ?type=purchase,bonus or ?type=purchase&type=bonus
func handleListTransactions(ledgerService ledgerService, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.PathValue("user_id")

		var types []string
		for _, value := range r.URL.Query()["type"] {
			for _, t := range strings.Split(value, ",") {
				if t = strings.TrimSpace(t); t != "" {
					types = append(types, t)
				}
			}
		}
		for _, t := range types {
			if !models.IsKnownTransactionType(t) {
				render.ValidationErrors(w, map[string]string{"type": "Unknown transaction type " + t})
				return
			}
		}

		transactions, err := ledgerService.ListTransactions(r.Context(), userID, types)

		switch err {
		case nil:
			res := make([]transactionResponse, 0, len(transactions))
			for _, t := range transactions {
				res = append(res, newTransactionResponse(t))
			}
			render.JSON(w, res)
		default:
			l.Error("Failed to list transactions", "error", err, "user_id", userID)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

func handleReconcile(ledgerService ledgerService, l logger.Logger) http.Handler {
	type response struct {
		UserID     string `json:"user_id"`
		Stored     int64  `json:"stored"`
		Computed   int64  `json:"computed"`
		Consistent bool   `json:"consistent"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.PathValue("user_id")

		rec, err := ledgerService.Reconcile(r.Context(), userID)
		if err != nil {
			l.Error("Failed to reconcile balance", "error", err, "user_id", userID)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		if !rec.Consistent() {
			l.Warn("Balance does not match ledger", "user_id", userID, "stored", rec.Stored, "computed", rec.Computed)
		}

		render.JSON(w, response{
			UserID:     rec.UserID,
			Stored:     rec.Stored,
			Computed:   rec.Computed,
			Consistent: rec.Consistent(),
		})
	})
}

// Debit is idempotent by Idempotency-Key header, the key becomes external event id
type manualEntryResponse struct {
	Created     bool                `json:"created"`
	Transaction transactionResponse `json:"transaction"`
}

func idempotencyKey(w http.ResponseWriter, r *http.Request) (string, bool) {
	key := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
	if key == "" {
		render.ServiceError(w, "Idempotency-Key header is required", http.StatusBadRequest)
		return "", false
	}
	return key, true
}

// Replays answer 200 only when the stored row is the same kind of entry for the same user
func renderManualEntry(w http.ResponseWriter, res repository.RecordResult, userID string, txType string) {
	if res.Status == repository.RecordCreated {
		render.JSONWithStatus(w, manualEntryResponse{Created: true, Transaction: newTransactionResponse(res.Transaction)}, http.StatusCreated)
		return
	}
	if res.Transaction.UserID != userID || res.Transaction.Type != txType {
		render.ServiceError(w, "Idempotency key already used", http.StatusConflict)
		return
	}
	render.JSON(w, manualEntryResponse{Created: false, Transaction: newTransactionResponse(res.Transaction)})
}

func handleDebit(ledgerService ledgerService, l logger.Logger) http.Handler {
	type request struct {
		Amount      int64  `json:"amount" validate:"gt=0"`
		Reason      string `json:"reason" validate:"required"`
		ReferenceID string `json:"reference_id"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.PathValue("user_id")
		operator, ok := operatorctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal service error", http.StatusInternalServerError)
			return
		}

		key, ok := idempotencyKey(w, r)
		if !ok {
			return
		}

		debit, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		res, err := ledgerService.Debit(r.Context(), ledger.Entry{
			UserID:          userID,
			Amount:          debit.Amount,
			ExternalEventID: ledger.DebitEventID(key),
			ReferenceType:   models.ReferenceTypeManual,
			ReferenceID:     debit.ReferenceID,
			Description:     debit.Reason + " (by " + operator + ")",
		})

		switch {
		case err == nil:
			renderManualEntry(w, res, userID, models.TransactionTypeDebit)
		case errors.Is(err, apperrors.ErrBalanceInsufficient):
			render.ServiceError(w, "Insufficient balance", http.StatusPaymentRequired)
		default:
			l.Error("Failed to debit", "error", err, "user_id", userID, "operator", operator)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

// Operator credit for refunds and repairs found by reconciliation
func handleCredit(ledgerService ledgerService, l logger.Logger) http.Handler {
	type request struct {
		Type        string `json:"type" validate:"required,oneof=refund adjustment"`
		Amount      int64  `json:"amount" validate:"gt=0"`
		Reason      string `json:"reason" validate:"required"`
		ReferenceID string `json:"reference_id"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.PathValue("user_id")
		operator, ok := operatorctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal service error", http.StatusInternalServerError)
			return
		}

		key, ok := idempotencyKey(w, r)
		if !ok {
			return
		}

		credit, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		res, err := ledgerService.Credit(r.Context(), ledger.Entry{
			UserID:          userID,
			Type:            credit.Type,
			Amount:          credit.Amount,
			ExternalEventID: ledger.CreditEventID(key),
			ReferenceType:   models.ReferenceTypeManual,
			ReferenceID:     credit.ReferenceID,
			Description:     credit.Reason + " (by " + operator + ")",
		})

		switch {
		case err == nil:
			renderManualEntry(w, res, userID, credit.Type)
		case errors.Is(err, apperrors.ErrBalanceOverflow):
			render.ServiceError(w, "Balance out of range", http.StatusUnprocessableEntity)
		default:
			l.Error("Failed to credit", "error", err, "user_id", userID, "operator", operator)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}
