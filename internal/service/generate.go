package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/shjeon-96/ideatoprd-sub001/internal/auth"
	"github.com/shjeon-96/ideatoprd-sub001/internal/domain"
	"github.com/shjeon-96/ideatoprd-sub001/internal/genai"
	"github.com/shjeon-96/ideatoprd-sub001/internal/store"
)

// Orchestrator sequences one generation: authorize the cost, call the
// provider, debit and persist the document on success, release the
// hold on failure. Authorization is never billed unless the work was
// delivered.
type Orchestrator struct {
	store      store.Ledger
	gen        genai.Generator
	cost       int64
	maxRetries int
	retryDelay time.Duration
	callBudget time.Duration
}

func NewOrchestrator(s store.Ledger, g genai.Generator, cost int64, maxRetries int, retryDelay, callBudget time.Duration) *Orchestrator {
	return &Orchestrator{
		store:      s,
		gen:        g,
		cost:       cost,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
		callBudget: callBudget,
	}
}

// Cost is the credit price of one generation.
func (o *Orchestrator) Cost() int64 { return o.cost }

// Generate runs the full pipeline for the caller's account.
//
// The provider call runs on a context detached from the request: if
// the client disconnects after authorization, the request still
// resolves to succeeded or failed based on the provider's actual
// outcome instead of dangling as an unbilled hold.
func (o *Orchestrator) Generate(ctx context.Context, caller *auth.Identity, req domain.GenerateRequest) (*domain.GenerateResponse, error) {
	if err := requireOwner(caller, req.AccountID); err != nil {
		return nil, err
	}

	gr, err := o.store.AuthorizeRequest(ctx, req.AccountID, o.cost)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.callBudget)
	defer cancel()

	out, err := o.callProvider(callCtx, genai.Input{Idea: req.Idea, Template: req.Template})
	if err != nil {
		if failErr := o.store.FailRequest(callCtx, gr.ID); failErr != nil {
			// The stale-authorization sweep picks this up later.
			log.Error().Err(failErr).Str("request_id", gr.ID).Msg("failed to release authorization hold")
		}
		log.Warn().Err(err).Str("request_id", gr.ID).Int64("account_id", req.AccountID).Msg("generation failed, no debit")
		return nil, err
	}

	doc := &domain.Document{
		ID:    uuid.NewString(),
		Title: out.Title,
		Body:  out.Body,
		Model: out.Model,
	}
	balance, err := o.store.CommitDebit(callCtx, gr.ID, doc)
	if err != nil {
		return nil, err
	}

	resolved, err := o.store.GetRequest(callCtx, gr.ID)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("request_id", gr.ID).
		Int64("account_id", req.AccountID).
		Int64("cost", o.cost).
		Int64("balance", balance).
		Int("tokens", out.TotalTokens).
		Msg("generation succeeded")

	doc.RequestID = gr.ID
	doc.AccountID = req.AccountID
	return &domain.GenerateResponse{Request: *resolved, Document: doc, Balance: balance}, nil
}

// callProvider retries transient failures up to the configured bound;
// fatal errors return immediately.
func (o *Orchestrator) callProvider(ctx context.Context, in genai.Input) (*genai.Output, error) {
	var lastErr error
	for attempt := 0; attempt <= o.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(o.retryDelay * time.Duration(attempt)):
			case <-ctx.Done():
				return nil, &domain.ProviderError{Message: ctx.Err().Error(), Transient: true}
			}
		}

		out, err := o.gen.Generate(ctx, in)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !domain.IsTransient(err) {
			return nil, err
		}
		log.Warn().Err(err).Int("attempt", attempt+1).Msg("transient provider error")
	}
	return nil, lastErr
}

func (o *Orchestrator) GetRequest(ctx context.Context, caller *auth.Identity, requestID string) (*domain.GenerationRequest, error) {
	gr, err := o.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if err := requireOwner(caller, gr.AccountID); err != nil {
		return nil, err
	}
	return gr, nil
}

// ExpireStale fails authorized requests older than maxAge. Run
// periodically so a crash between authorization and resolution cannot
// hold credits forever.
func (o *Orchestrator) ExpireStale(ctx context.Context, maxAge time.Duration) (int64, error) {
	n, err := o.store.ExpireStaleAuthorizations(ctx, time.Now().Add(-maxAge))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Warn().Int64("expired", n).Msg("expired stale authorizations")
	}
	return n, nil
}
