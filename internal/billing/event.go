package billing

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shjeon-96/ideatoprd-sub001/internal/domain"
)

// ErrMalformed marks payloads the provider sent broken; redelivery
// will not fix them, so they are rejected without retry.
var ErrMalformed = errors.New("malformed billing event")

// DecodeEvent parses a verified webhook body. The provider may send
// event types this service has never seen; those still decode as long
// as the envelope fields are present, so the reconciler can accept
// them without a ledger change.
func DecodeEvent(body []byte) (*domain.WebhookEvent, error) {
	var ev domain.WebhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if ev.ExternalEventID == "" {
		return nil, fmt.Errorf("%w: missing id", ErrMalformed)
	}
	if ev.Type == "" {
		return nil, fmt.Errorf("%w: event %s missing type", ErrMalformed, ev.ExternalEventID)
	}
	ev.Raw = append(json.RawMessage(nil), body...)
	return &ev, nil
}

// CreditReason maps a crediting event type to its ledger entry reason.
// The second return is false for types that carry no credit.
func CreditReason(eventType string) (domain.EntryReason, bool) {
	switch eventType {
	case domain.EventPurchaseCompleted:
		return domain.ReasonPurchaseCredit, true
	case domain.EventSubscriptionRenewed:
		return domain.ReasonSubscriptionCredit, true
	default:
		return "", false
	}
}
