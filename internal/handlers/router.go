package handlers

import (
	"context"
	"net/http"

	"github.com/nkiryanov/pointledger/internal/handlers/middleware"
	"github.com/nkiryanov/pointledger/internal/logger"
	"github.com/nkiryanov/pointledger/internal/models"
	"github.com/nkiryanov/pointledger/internal/repository"
	"github.com/nkiryanov/pointledger/internal/service/ledger"
	"github.com/nkiryanov/pointledger/internal/service/webhook"
)

// chain applies middlewares in the given order: m1(m2(...(h)))
func chain(h http.Handler, mds ...func(next http.Handler) http.Handler) http.Handler {
	for i := len(mds) - 1; i >= 0; i-- {
		h = mds[i](h)
	}
	return h
}

func NewRouter(
	webhookService webhookService,
	ledgerService ledgerService,
	tokens tokenParser,
	logger logger.Logger,
) http.Handler {
	withOperator := middleware.OperatorAuth(tokens)

	apiusers := http.NewServeMux()
	apiusers.Handle("GET /{user_id}/balance", withOperator(handleUserBalance(ledgerService, logger)))
	apiusers.Handle("GET /{user_id}/transactions", withOperator(handleListTransactions(ledgerService, logger)))
	apiusers.Handle("GET /{user_id}/reconcile", withOperator(handleReconcile(ledgerService, logger)))
	apiusers.Handle("POST /{user_id}/debit", withOperator(handleDebit(ledgerService, logger)))
	apiusers.Handle("POST /{user_id}/credit", withOperator(handleCredit(ledgerService, logger)))

	apireports := http.NewServeMux()
	apireports.Handle("GET /campaigns/{campaign_id}", withOperator(handleCampaignReport(ledgerService, logger)))
	apireports.Handle("GET /coupons/{coupon_id}", withOperator(handleCouponUsages(ledgerService, logger)))

	root := http.NewServeMux()
	root.Handle("POST /api/webhooks/payments", handlePaymentWebhook(webhookService, logger))
	root.Handle("/api/users/", http.StripPrefix("/api/users", apiusers))
	root.Handle("/api/reports/", http.StripPrefix("/api/reports", apireports))

	handler := chain(root,
		middleware.LoggerMiddleware(logger),
	)

	return handler
}

type webhookService interface {
	// Handle one delivery of provider event, payload is raw request body
	Handle(ctx context.Context, payload []byte, signatureHeader string) webhook.Result
}

type ledgerService interface {
	GetBalance(ctx context.Context, userID string) (models.Balance, error)

	// Has to return error if types contains unknown transaction type
	ListTransactions(ctx context.Context, userID string, types []string) ([]models.Transaction, error)

	Reconcile(ctx context.Context, userID string) (ledger.Reconciliation, error)

	// Has to return apperrors.ErrBalanceInsufficient if user has less points than requested
	Debit(ctx context.Context, e ledger.Entry) (repository.RecordResult, error)

	// Has to reject entries that are not credits
	Credit(ctx context.Context, e ledger.Entry) (repository.RecordResult, error)

	CampaignReport(ctx context.Context, campaignID string) (repository.ReferenceSummary, error)

	ListCouponUsages(ctx context.Context, couponID string) ([]models.CouponUsage, error)
}

type tokenParser interface {
	Parse(token string) (string, error)
}
