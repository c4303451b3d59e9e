package e2e

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/pointledger/internal/audit"
	"github.com/nkiryanov/pointledger/internal/handlers"
	"github.com/nkiryanov/pointledger/internal/logger"
	"github.com/nkiryanov/pointledger/internal/repository/postgres"
	"github.com/nkiryanov/pointledger/internal/service/ledger"
	"github.com/nkiryanov/pointledger/internal/service/operator"
	"github.com/nkiryanov/pointledger/internal/service/signature"
	"github.com/nkiryanov/pointledger/internal/service/webhook"
	"github.com/nkiryanov/pointledger/internal/testutil"
)

const (
	WebhookSecret = "whsec_e2e"
	SecretKey     = "e2e-secret-key"

	WebhookURL = "/api/webhooks/payments"
)

// Audit emitter that keeps records in memory
type AuditRecorder struct {
	mu      sync.Mutex
	records []audit.Record
}

func (r *AuditRecorder) Emit(rec audit.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
}

func (r *AuditRecorder) Records() []audit.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]audit.Record(nil), r.records...)
}

type Services struct {
	Ledger *ledger.Service
	Tokens *operator.TokenManager
	Audit  *AuditRecorder
}

// Create db transaction and run server in with that connection (one connection cause one transaction)
// The created transaction passed to inner function: so, you can safely use testutil.InTx with it
func ServeInTx(dbpool *pgxpool.Pool, t *testing.T, fn func(tx pgx.Tx, srvURL string, services Services)) {
	testutil.InTx(dbpool, t, func(tx pgx.Tx) {
		storage := postgres.NewStorage(tx)
		ledgerService := ledger.NewService(storage)
		recorder := &AuditRecorder{}

		verifier, err := signature.NewVerifier(signature.Config{Secret: WebhookSecret})
		require.NoError(t, err, "verifier should be created without errors")

		tokens, err := operator.NewTokenManager(operator.Config{SecretKey: SecretKey})
		require.NoError(t, err, "token manager should be created without errors")

		orchestrator := webhook.NewOrchestrator(verifier, ledgerService, recorder, logger.NewNoOpLogger())

		// Complete all together as router
		router := handlers.NewRouter(orchestrator, ledgerService, tokens, logger.NewNoOpLogger())

		// Run http server with the router in transaction
		srv := httptest.NewServer(router)
		defer srv.Close()

		fn(tx, srv.URL, Services{
			Ledger: ledgerService,
			Tokens: tokens,
			Audit:  recorder,
		})
	})
}

// Build signed webhook delivery like the payment provider does
func WebhookRequest(t *testing.T, srvURL string, payload string) *http.Request {
	req, err := http.NewRequestWithContext(t.Context(), http.MethodPost, srvURL+WebhookURL, strings.NewReader(payload))
	require.NoError(t, err, "failed to create request")

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(signature.HeaderName, signature.Sign(WebhookSecret, time.Now(), []byte(payload)))
	return req
}

// Build request authorized as operator
func OperatorRequest(t *testing.T, s Services, method string, url string, body string) *http.Request {
	req, err := http.NewRequestWithContext(t.Context(), method, url, strings.NewReader(body))
	require.NoError(t, err, "failed to create request")

	token, err := s.Tokens.Issue("e2e")
	require.NoError(t, err, "failed to issue operator token")

	req.Header.Set("Authorization", "Bearer "+token.Value)
	return req
}
