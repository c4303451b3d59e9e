package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/nkiryanov/pointledger/internal/handlers/render"
	"github.com/nkiryanov/pointledger/internal/logger"
	"github.com/nkiryanov/pointledger/internal/service/signature"
	"github.com/nkiryanov/pointledger/internal/service/webhook"
)

const maxWebhookBodyBytes = 1 << 20

// Provider retries every delivery answered with non 2xx status
// So 4xx is for events that will never succeed, 5xx for storage faults only
func handlePaymentWebhook(webhookService webhookService, l logger.Logger) http.Handler {
	type response struct {
		Status        string `json:"status"`
		TransactionID string `json:"transaction_id,omitempty"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Signature covers raw body, so it is read as is
		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				render.ServiceError(w, "Payload too large", http.StatusRequestEntityTooLarge)
				return
			}
			render.ServiceError(w, "Failed to read request body", http.StatusBadRequest)
			return
		}

		res := webhookService.Handle(r.Context(), payload, r.Header.Get(signature.HeaderName))

		switch res.Outcome {
		case webhook.OutcomeCredited, webhook.OutcomeAlreadyProcessed:
			render.JSON(w, response{Status: res.Outcome.String(), TransactionID: res.Transaction.ID.String()})
		case webhook.OutcomeIgnored:
			render.JSON(w, response{Status: res.Outcome.String()})
		case webhook.OutcomeAuthenticityFailure:
			render.ServiceError(w, "Invalid signature", http.StatusBadRequest)
		case webhook.OutcomeMalformed:
			var malformed *webhook.MalformedError
			if errors.As(res.Err, &malformed) && len(malformed.Fields) > 0 {
				render.ValidationErrors(w, malformed.Fields)
				return
			}
			render.ServiceError(w, "Malformed event", http.StatusBadRequest)
		default:
			l.Error("Webhook event not processed", "outcome", res.Outcome.String(), "error", res.Err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}
