package service

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/shjeon-96/ideatoprd-sub001/internal/billing"
	"github.com/shjeon-96/ideatoprd-sub001/internal/domain"
	"github.com/shjeon-96/ideatoprd-sub001/internal/store"
)

// Reconciler applies billing-provider webhook events to the ledger
// exactly once. It is the only writer of billing events; deliveries
// run to completion synchronously with no cancellation.
type Reconciler struct {
	store  store.Ledger
	secret []byte
}

func NewReconciler(s store.Ledger, secret []byte) *Reconciler {
	return &Reconciler{store: s, secret: secret}
}

// Reconcile verifies the raw delivery and applies it. Unverifiable or
// malformed deliveries are rejected with no side effects. Redelivered
// event ids return OutcomeDuplicate and write nothing. Event types
// this service does not credit for are marked processed with no
// ledger change, so new provider event types do not bounce.
func (r *Reconciler) Reconcile(ctx context.Context, body []byte, signature string) (domain.ReconcileOutcome, error) {
	if err := billing.VerifySignature(r.secret, body, signature); err != nil {
		log.Warn().Msg("rejected billing webhook with invalid signature")
		return domain.OutcomeRejected, err
	}

	ev, err := billing.DecodeEvent(body)
	if err != nil {
		return domain.OutcomeRejected, err
	}

	outcome, err := r.apply(ctx, ev)
	if err != nil {
		log.Error().Err(err).Str("event_id", ev.ExternalEventID).Str("type", ev.Type).Msg("billing event failed")
		return outcome, err
	}

	log.Info().
		Str("event_id", ev.ExternalEventID).
		Str("type", ev.Type).
		Str("outcome", string(outcome)).
		Msg("billing event reconciled")
	return outcome, nil
}

func (r *Reconciler) apply(ctx context.Context, ev *domain.WebhookEvent) (domain.ReconcileOutcome, error) {
	if reason, ok := billing.CreditReason(ev.Type); ok {
		if ev.AccountID == 0 || ev.Amount <= 0 {
			return domain.OutcomeRejected, domain.ErrAccountNotFound
		}
		return r.store.ApplyBillingCredit(ctx, *ev, reason)
	}

	if ev.Type == domain.EventGenerationRefunded {
		if ev.RequestID == "" {
			return domain.OutcomeRejected, domain.ErrRequestNotFound
		}
		return r.store.RefundRequest(ctx, ev.RequestID, ev.ExternalEventID)
	}

	// Cancellations and unknown types: record and move on.
	return r.store.MarkEventProcessed(ctx, ev.ExternalEventID, ev.Type)
}
