package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"

	"github.com/shjeon-96/ideatoprd-sub001/internal/auth"
	"github.com/shjeon-96/ideatoprd-sub001/internal/billing"
	"github.com/shjeon-96/ideatoprd-sub001/internal/domain"
	"github.com/shjeon-96/ideatoprd-sub001/internal/service"
)

const (
	webhookBodyLimit = 1024 * 1024 // 1MiB
	maxIdeaLen       = 8000
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "creditledger_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "creditledger_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 5, 30, 120},
	}, []string{"method", "endpoint"})

	generationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "creditledger_generations_total",
		Help: "Generation requests by terminal outcome",
	}, []string{"outcome"})

	webhookOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "creditledger_webhook_events_total",
		Help: "Billing webhook deliveries by reconcile outcome",
	}, []string{"outcome"})

	auditDriftTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "creditledger_audit_drift_total",
		Help: "Audits where the stored balance diverged from the entry sum",
	})
)

type Handler struct {
	accounts *service.AccountService
	orch     *service.Orchestrator
	recon    *service.Reconciler
	docs     *service.DocumentService
	verifier auth.Verifier
}

func NewHandler(
	accounts *service.AccountService,
	orch *service.Orchestrator,
	recon *service.Reconciler,
	docs *service.DocumentService,
	verifier auth.Verifier,
) *Handler {
	return &Handler{
		accounts: accounts,
		orch:     orch,
		recon:    recon,
		docs:     docs,
		verifier: verifier,
	}
}

// Register wires all routes onto the router.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/health", h.HealthCheckHandler).Methods("GET")
	r.HandleFunc("/webhooks/billing", h.BillingWebhookHandler).Methods("POST")

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/accounts", h.CreateAccountHandler).Methods("POST")
	v1.HandleFunc("/accounts/{id}", h.GetAccountHandler).Methods("GET")
	v1.HandleFunc("/accounts/{id}/entries", h.GetEntriesHandler).Methods("GET")
	v1.HandleFunc("/accounts/{id}/audit", h.AuditAccountHandler).Methods("GET")
	v1.HandleFunc("/generations", h.GenerateHandler).Methods("POST")
	v1.HandleFunc("/generations/{id}", h.GetRequestHandler).Methods("GET")
	v1.HandleFunc("/documents", h.ListDocumentsHandler).Methods("GET")
	v1.HandleFunc("/documents/{id}", h.GetDocumentHandler).Methods("GET")
	v1.HandleFunc("/documents/{id}/rating", h.RateDocumentHandler).Methods("POST")
}

// authenticate resolves the bearer token to an identity. Identity is
// handed to services explicitly; nothing reads it from ambient state.
func (h *Handler) authenticate(r *http.Request) (*auth.Identity, error) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return nil, domain.ErrUnauthorized
	}
	return h.verifier.Verify(r.Context(), strings.TrimSpace(token))
}

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"}, "GET", "/health")
}

type createAccountRequest struct {
	Kind           domain.AccountKind `json:"kind"`
	InitialBalance int64              `json:"initial_balance"`
}

// CreateAccountHandler provisions a balance-holding account. It is
// called by the signup backend, which is trusted at the network
// boundary; end-user sessions never hit it directly.
func (h *Handler) CreateAccountHandler(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body", "POST", "/accounts")
		return
	}
	if req.InitialBalance < 0 {
		respondWithError(w, http.StatusUnprocessableEntity, "Initial balance must not be negative", "POST", "/accounts")
		return
	}

	id, err := h.accounts.CreateAccount(r.Context(), req.Kind, req.InitialBalance)
	if err != nil {
		h.respondServiceError(w, err, "POST", "/accounts")
		return
	}
	respondWithJSON(w, http.StatusCreated, map[string]int64{"account_id": id}, "POST", "/accounts")
}

func (h *Handler) GetAccountHandler(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/accounts/{id}"
	caller, err := h.authenticate(r)
	if err != nil {
		h.respondServiceError(w, err, "GET", endpoint)
		return
	}
	id, err := pathID(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid account id", "GET", endpoint)
		return
	}

	account, err := h.accounts.GetAccount(r.Context(), caller, id)
	if err != nil {
		h.respondServiceError(w, err, "GET", endpoint)
		return
	}
	respondWithJSON(w, http.StatusOK, account, "GET", endpoint)
}

func (h *Handler) GetEntriesHandler(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/accounts/{id}/entries"
	caller, err := h.authenticate(r)
	if err != nil {
		h.respondServiceError(w, err, "GET", endpoint)
		return
	}
	id, err := pathID(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid account id", "GET", endpoint)
		return
	}

	entries, err := h.accounts.GetEntries(r.Context(), caller, id)
	if err != nil {
		h.respondServiceError(w, err, "GET", endpoint)
		return
	}
	if entries == nil {
		entries = []domain.LedgerEntry{}
	}
	respondWithJSON(w, http.StatusOK, entries, "GET", endpoint)
}

func (h *Handler) AuditAccountHandler(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/accounts/{id}/audit"
	caller, err := h.authenticate(r)
	if err != nil {
		h.respondServiceError(w, err, "GET", endpoint)
		return
	}
	id, err := pathID(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid account id", "GET", endpoint)
		return
	}

	report, err := h.accounts.Audit(r.Context(), caller, id)
	if err != nil {
		h.respondServiceError(w, err, "GET", endpoint)
		return
	}
	if !report.Consistent {
		auditDriftTotal.Inc()
		log.Error().
			Int64("account_id", report.AccountID).
			Int64("stored", report.StoredBalance).
			Int64("entry_sum", report.EntrySum).
			Msg("ledger audit drift detected")
	}
	respondWithJSON(w, http.StatusOK, report, "GET", endpoint)
}

func (h *Handler) GenerateHandler(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/generations"
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", endpoint))
	defer timer.ObserveDuration()

	caller, err := h.authenticate(r)
	if err != nil {
		h.respondServiceError(w, err, "POST", endpoint)
		return
	}

	var req domain.GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body", "POST", endpoint)
		return
	}
	if req.AccountID == 0 {
		req.AccountID = caller.AccountID
	}
	if strings.TrimSpace(req.Idea) == "" {
		respondWithError(w, http.StatusUnprocessableEntity, "Idea text required", "POST", endpoint)
		return
	}
	if len(req.Idea) > maxIdeaLen {
		respondWithError(w, http.StatusUnprocessableEntity, "Idea text too long", "POST", endpoint)
		return
	}

	resp, err := h.orch.Generate(r.Context(), caller, req)
	if err != nil {
		var insufficient *domain.InsufficientCreditsError
		var provider *domain.ProviderError
		switch {
		case errors.As(err, &insufficient):
			generationsTotal.WithLabelValues("denied").Inc()
			respondWithJSON(w, http.StatusPaymentRequired, map[string]interface{}{
				"error":   "Insufficient credits. Purchase more credits to generate this document.",
				"deficit": insufficient.Deficit,
			}, "POST", endpoint)
		case errors.As(err, &provider):
			generationsTotal.WithLabelValues("failed").Inc()
			respondWithError(w, http.StatusBadGateway,
				"Generation is temporarily unavailable. Please try again later; no credits were used.",
				"POST", endpoint)
		default:
			h.respondServiceError(w, err, "POST", endpoint)
		}
		return
	}

	generationsTotal.WithLabelValues("succeeded").Inc()
	respondWithJSON(w, http.StatusCreated, resp, "POST", endpoint)
}

func (h *Handler) GetRequestHandler(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/generations/{id}"
	caller, err := h.authenticate(r)
	if err != nil {
		h.respondServiceError(w, err, "GET", endpoint)
		return
	}

	req, err := h.orch.GetRequest(r.Context(), caller, mux.Vars(r)["id"])
	if err != nil {
		h.respondServiceError(w, err, "GET", endpoint)
		return
	}
	respondWithJSON(w, http.StatusOK, req, "GET", endpoint)
}

func (h *Handler) ListDocumentsHandler(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/documents"
	caller, err := h.authenticate(r)
	if err != nil {
		h.respondServiceError(w, err, "GET", endpoint)
		return
	}

	docs, err := h.docs.ListDocuments(r.Context(), caller)
	if err != nil {
		h.respondServiceError(w, err, "GET", endpoint)
		return
	}
	if docs == nil {
		docs = []domain.Document{}
	}
	respondWithJSON(w, http.StatusOK, docs, "GET", endpoint)
}

func (h *Handler) GetDocumentHandler(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/documents/{id}"
	caller, err := h.authenticate(r)
	if err != nil {
		h.respondServiceError(w, err, "GET", endpoint)
		return
	}

	doc, err := h.docs.GetDocument(r.Context(), caller, mux.Vars(r)["id"])
	if err != nil {
		h.respondServiceError(w, err, "GET", endpoint)
		return
	}
	respondWithJSON(w, http.StatusOK, doc, "GET", endpoint)
}

func (h *Handler) RateDocumentHandler(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/documents/{id}/rating"
	caller, err := h.authenticate(r)
	if err != nil {
		h.respondServiceError(w, err, "POST", endpoint)
		return
	}

	var req domain.RateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body", "POST", endpoint)
		return
	}

	rating, err := h.docs.Rate(r.Context(), caller, mux.Vars(r)["id"], req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidRating), errors.Is(err, service.ErrFeedbackTooLong):
			respondWithError(w, http.StatusUnprocessableEntity, err.Error(), "POST", endpoint)
		default:
			h.respondServiceError(w, err, "POST", endpoint)
		}
		return
	}
	respondWithJSON(w, http.StatusCreated, rating, "POST", endpoint)
}

// BillingWebhookHandler receives signed billing-provider deliveries.
// The signature is the authentication; there is no session. Any 2xx
// tells the provider to stop redelivering, so internal failures
// return 500 to trigger a retry.
func (h *Handler) BillingWebhookHandler(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/webhooks/billing"

	r.Body = http.MaxBytesReader(w, r.Body, webhookBodyLimit)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Failed to read request body", "POST", endpoint)
		return
	}

	outcome, err := h.recon.Reconcile(r.Context(), body, r.Header.Get(billing.SignatureHeader))
	webhookOutcomes.WithLabelValues(string(outcome)).Inc()
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrSignatureInvalid):
			respondWithError(w, http.StatusBadRequest, "Invalid webhook signature", "POST", endpoint)
		case outcome == domain.OutcomeRejected && isEventDataError(err):
			respondWithError(w, http.StatusBadRequest, "Unprocessable billing event", "POST", endpoint)
		default:
			respondWithError(w, http.StatusInternalServerError, "Failed to process billing event", "POST", endpoint)
		}
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"received": true,
		"status":   string(outcome),
	}, "POST", endpoint)
}

// isEventDataError distinguishes events the provider sent with bad
// data (no retry will fix them) from our own storage failures (the
// provider should retry those).
func isEventDataError(err error) bool {
	return errors.Is(err, billing.ErrMalformed) ||
		errors.Is(err, domain.ErrAccountNotFound) ||
		errors.Is(err, domain.ErrRequestNotFound) ||
		errors.Is(err, domain.ErrBadTransition)
}

// respondServiceError maps sentinel service errors onto HTTP codes.
func (h *Handler) respondServiceError(w http.ResponseWriter, err error, method, endpoint string) {
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		respondWithError(w, http.StatusUnauthorized, "Authentication required", method, endpoint)
	case errors.Is(err, domain.ErrForbidden), errors.Is(err, domain.ErrAccountDisabled):
		respondWithError(w, http.StatusForbidden, "Forbidden", method, endpoint)
	case errors.Is(err, domain.ErrAccountNotFound):
		respondWithError(w, http.StatusNotFound, "Account not found", method, endpoint)
	case errors.Is(err, domain.ErrRequestNotFound):
		respondWithError(w, http.StatusNotFound, "Generation request not found", method, endpoint)
	case errors.Is(err, domain.ErrDocumentNotFound):
		respondWithError(w, http.StatusNotFound, "Document not found", method, endpoint)
	case errors.Is(err, domain.ErrInconsistent):
		auditDriftTotal.Inc()
		log.Error().Err(err).Str("endpoint", endpoint).Msg("ledger inconsistency surfaced at API boundary")
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error", method, endpoint)
	default:
		log.Error().Err(err).Str("endpoint", endpoint).Msg("unhandled service error")
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error", method, endpoint)
	}
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
}

func respondWithError(w http.ResponseWriter, code int, message, method, endpoint string) {
	respondWithJSON(w, code, map[string]string{"error": message}, method, endpoint)
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}, method, endpoint string) {
	httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(code)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}
