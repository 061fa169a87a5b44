// Package auth resolves bearer tokens to account identities. Identity
// comes from the hosted auth provider; this service only consumes an
// opaque account id and the fact that the session is valid. Identity
// is always passed explicitly to callers, never read from ambient
// state.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shjeon-96/ideatoprd-sub001/internal/domain"
)

// Identity is the authenticated caller.
type Identity struct {
	AccountID int64 `json:"account_id"`
}

// Verifier turns a session token into an identity or
// domain.ErrUnauthorized.
type Verifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

// HTTPVerifier asks the auth provider's introspection endpoint.
type HTTPVerifier struct {
	endpoint string
	client   *http.Client
}

func NewHTTPVerifier(endpoint string) *HTTPVerifier {
	return &HTTPVerifier{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (v *HTTPVerifier) Verify(ctx context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, domain.ErrUnauthorized
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create introspection request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth provider unreachable: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, domain.ErrUnauthorized
	default:
		return nil, fmt.Errorf("auth provider status %d", resp.StatusCode)
	}

	var id Identity
	if err := json.NewDecoder(resp.Body).Decode(&id); err != nil {
		return nil, fmt.Errorf("decode introspection response: %w", err)
	}
	if id.AccountID == 0 {
		return nil, domain.ErrUnauthorized
	}
	return &id, nil
}

// StaticVerifier maps fixed tokens to accounts. Used in tests and
// local development.
type StaticVerifier struct {
	tokens map[string]int64
}

func NewStaticVerifier(tokens map[string]int64) *StaticVerifier {
	return &StaticVerifier{tokens: tokens}
}

func (v *StaticVerifier) Verify(_ context.Context, token string) (*Identity, error) {
	id, ok := v.tokens[token]
	if !ok {
		return nil, domain.ErrUnauthorized
	}
	return &Identity{AccountID: id}, nil
}
