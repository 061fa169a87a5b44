package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shjeon-96/ideatoprd-sub001/internal/auth"
	"github.com/shjeon-96/ideatoprd-sub001/internal/billing"
	"github.com/shjeon-96/ideatoprd-sub001/internal/domain"
	"github.com/shjeon-96/ideatoprd-sub001/internal/genai"
	"github.com/shjeon-96/ideatoprd-sub001/internal/service"
	"github.com/shjeon-96/ideatoprd-sub001/internal/store"
)

var webhookSecret = []byte("whsec_handlers_test")

type stubGenerator struct {
	err error
}

func (g *stubGenerator) Generate(_ context.Context, in genai.Input) (*genai.Output, error) {
	if g.err != nil {
		return nil, g.err
	}
	return &genai.Output{Title: "Stub PRD", Body: "# Stub PRD\n\nbody", Model: "gpt-4o"}, nil
}

type env struct {
	store  *store.Memory
	router *mux.Router
	gen    *stubGenerator
}

// newEnv wires a full handler stack over the in-memory store with two
// seeded accounts: token "alice" owns account 1 (10 credits), token
// "bob" owns account 2 (0 credits).
func newEnv(t *testing.T) *env {
	t.Helper()
	s := store.NewMemory()
	for i, balance := range []int64{10, 0} {
		id, err := s.CreateAccount(context.Background(), domain.AccountKindUser, balance)
		require.NoError(t, err)
		require.Equal(t, int64(i+1), id)
	}

	gen := &stubGenerator{}
	verifier := auth.NewStaticVerifier(map[string]int64{"alice": 1, "bob": 2})
	handler := NewHandler(
		service.NewAccountService(s),
		service.NewOrchestrator(s, gen, 5, 1, time.Millisecond, time.Minute),
		service.NewReconciler(s, webhookSecret),
		service.NewDocumentService(s),
		verifier,
	)

	r := mux.NewRouter()
	handler.Register(r)
	return &env{store: s, router: r, gen: gen}
}

func (e *env) do(t *testing.T, method, path, token string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	if payload != nil {
		require.NoError(t, json.NewEncoder(&body).Encode(payload))
	}
	req := httptest.NewRequest(method, path, &body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestAuthRequired(t *testing.T) {
	e := newEnv(t)

	for _, path := range []string{"/api/v1/accounts/1", "/api/v1/documents"} {
		w := e.do(t, "GET", path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
	}

	w := e.do(t, "GET", "/api/v1/accounts/1", "nobody", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestGetAccountOwnerOnly(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, "GET", "/api/v1/accounts/1", "alice", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	body := decodeJSON(t, w)
	assert.Equal(t, float64(10), body["balance"])

	w = e.do(t, "GET", "/api/v1/accounts/1", "bob", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestGenerateSuccessFlow(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, "POST", "/api/v1/generations", "alice", map[string]interface{}{"idea": "a meal planner"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	body := decodeJSON(t, w)
	assert.Equal(t, float64(5), body["balance"])
	doc := body["document"].(map[string]interface{})
	assert.Equal(t, "Stub PRD", doc["title"])

	// The document shows up in the owner's listing.
	w = e.do(t, "GET", "/api/v1/documents", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var docs []map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &docs))
	assert.Len(t, docs, 1)

	// Not in anyone else's.
	w = e.do(t, "GET", "/api/v1/documents", "bob", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &docs))
	assert.Len(t, docs, 0)
}

func TestGenerateInsufficientCredits(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, "POST", "/api/v1/generations", "bob", map[string]interface{}{"idea": "an app"})
	assert.Equal(t, http.StatusPaymentRequired, w.Code)

	body := decodeJSON(t, w)
	assert.Equal(t, float64(5), body["deficit"])
	assert.Contains(t, body["error"], "Insufficient credits")
}

func TestGenerateProviderFailure(t *testing.T) {
	e := newEnv(t)
	e.gen.err = &domain.ProviderError{StatusCode: 500, Message: "boom", Transient: true}

	w := e.do(t, "POST", "/api/v1/generations", "alice", map[string]interface{}{"idea": "an app"})
	assert.Equal(t, http.StatusBadGateway, w.Code)

	body := decodeJSON(t, w)
	assert.Contains(t, body["error"], "no credits were used")

	// Balance untouched.
	w = e.do(t, "GET", "/api/v1/accounts/1", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(10), decodeJSON(t, w)["balance"])
}

func TestGenerateValidation(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, "POST", "/api/v1/generations", "alice", map[string]interface{}{"idea": "   "})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	// Generating against someone else's account is forbidden.
	w = e.do(t, "POST", "/api/v1/generations", "bob", map[string]interface{}{"account_id": 1, "idea": "an app"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRatingFlow(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, "POST", "/api/v1/generations", "alice", map[string]interface{}{"idea": "a planner"})
	require.Equal(t, http.StatusCreated, w.Code)
	docID := decodeJSON(t, w)["document"].(map[string]interface{})["id"].(string)

	w = e.do(t, "POST", "/api/v1/documents/"+docID+"/rating", "alice", map[string]interface{}{"rating": 2, "feedback": "good"})
	assert.Equal(t, http.StatusCreated, w.Code)

	// Non-owner gets Forbidden, stored rating survives.
	w = e.do(t, "POST", "/api/v1/documents/"+docID+"/rating", "bob", map[string]interface{}{"rating": 1})
	assert.Equal(t, http.StatusForbidden, w.Code)

	stored, err := e.store.GetRating(context.Background(), docID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.Rating)

	// Out-of-scale rating rejected.
	w = e.do(t, "POST", "/api/v1/documents/"+docID+"/rating", "alice", map[string]interface{}{"rating": 5})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestEntriesAndAudit(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, "POST", "/api/v1/generations", "alice", map[string]interface{}{"idea": "a planner"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = e.do(t, "GET", "/api/v1/accounts/1/entries", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var entries []map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entries))
	assert.Len(t, entries, 2) // initial credit + generation debit

	w = e.do(t, "GET", "/api/v1/accounts/1/audit", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	report := decodeJSON(t, w)
	assert.Equal(t, true, report["consistent"])
}

func webhookRequest(t *testing.T, payload map[string]interface{}, secret []byte) *http.Request {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest("POST", "/webhooks/billing", bytes.NewReader(body))
	req.Header.Set(billing.SignatureHeader, billing.Sign(secret, body))
	return req
}

func TestWebhookAppliedThenDuplicate(t *testing.T) {
	e := newEnv(t)
	payload := map[string]interface{}{
		"id":         "evt_123",
		"type":       domain.EventPurchaseCompleted,
		"account_id": 2,
		"amount":     100,
	}

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, webhookRequest(t, payload, webhookSecret))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "applied", decodeJSON(t, w)["status"])

	w = httptest.NewRecorder()
	e.router.ServeHTTP(w, webhookRequest(t, payload, webhookSecret))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "duplicate", decodeJSON(t, w)["status"])

	acc, err := e.store.GetAccount(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, int64(100), acc.Balance)
}

func TestWebhookInvalidSignature(t *testing.T) {
	e := newEnv(t)
	payload := map[string]interface{}{
		"id":         "evt_bad",
		"type":       domain.EventPurchaseCompleted,
		"account_id": 2,
		"amount":     100,
	}

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, webhookRequest(t, payload, []byte("wrong-secret")))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	acc, err := e.store.GetAccount(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, int64(0), acc.Balance)
}

func TestHealth(t *testing.T) {
	e := newEnv(t)
	w := e.do(t, "GET", "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
