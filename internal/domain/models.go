package domain

import (
	"encoding/json"
	"time"
)

// AccountKind distinguishes personal balances from shared workspace balances.
type AccountKind string

const (
	AccountKindUser      AccountKind = "user"
	AccountKindWorkspace AccountKind = "workspace"
)

// Account holds the credit balance for a user or workspace.
// Balance is never negative and is mutated only through ledger entries.
type Account struct {
	ID         int64       `json:"id"`
	Kind       AccountKind `json:"kind"`
	Balance    int64       `json:"balance"`
	CreatedAt  time.Time   `json:"created_at"`
	DisabledAt *time.Time  `json:"disabled_at,omitempty"`
}

// Disabled reports whether the account has been soft-disabled.
func (a *Account) Disabled() bool { return a.DisabledAt != nil }

// EntryReason classifies a ledger entry.
type EntryReason string

const (
	ReasonGenerationDebit    EntryReason = "generation_debit"
	ReasonPurchaseCredit     EntryReason = "purchase_credit"
	ReasonSubscriptionCredit EntryReason = "subscription_renewal_credit"
	ReasonRefund             EntryReason = "refund"
)

// LedgerEntry is one immutable balance change. Corrections are new
// offsetting entries, never edits. ExternalEventID is set for entries
// driven by a billing-provider event and is unique per reason.
type LedgerEntry struct {
	ID              int64       `json:"id"`
	AccountID       int64       `json:"account_id"`
	Delta           int64       `json:"delta"`
	Reason          EntryReason `json:"reason"`
	ExternalEventID string      `json:"external_event_id,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
}

// BillingEvent records a webhook delivery from the billing provider.
// The unique ExternalEventID is what makes reconciliation idempotent.
type BillingEvent struct {
	ExternalEventID string    `json:"external_event_id"`
	Type            string    `json:"type"`
	ProcessedAt     time.Time `json:"processed_at"`
}

// Billing event types this service credits for. Anything else is
// accepted and marked processed with no ledger change.
const (
	EventPurchaseCompleted     = "purchase.completed"
	EventSubscriptionRenewed   = "subscription.renewed"
	EventSubscriptionCancelled = "subscription.cancelled"
	EventGenerationRefunded    = "generation.refunded"
)

// WebhookEvent is the decoded billing-provider payload after signature
// verification.
type WebhookEvent struct {
	ExternalEventID string          `json:"id"`
	Type            string          `json:"type"`
	AccountID       int64           `json:"account_id"`
	Amount          int64           `json:"amount"`
	RequestID       string          `json:"request_id,omitempty"`
	Raw             json.RawMessage `json:"-"`
}

// ReconcileOutcome is the result of processing one webhook delivery.
type ReconcileOutcome string

const (
	OutcomeApplied   ReconcileOutcome = "applied"
	OutcomeDuplicate ReconcileOutcome = "duplicate"
	OutcomeRejected  ReconcileOutcome = "rejected"
)

// RequestStatus is the lifecycle state of a generation request.
// authorized -> succeeded | failed; succeeded -> refunded is an
// administrative transition driven by a provider refund event.
type RequestStatus string

const (
	StatusAuthorized RequestStatus = "authorized"
	StatusSucceeded  RequestStatus = "succeeded"
	StatusFailed     RequestStatus = "failed"
	StatusRefunded   RequestStatus = "refunded"
)

// GenerationRequest is one attempt to produce a document. A debit
// ledger entry exists iff the request reached succeeded; refunded
// requests additionally carry an offsetting refund entry.
type GenerationRequest struct {
	ID         string        `json:"id"`
	AccountID  int64         `json:"account_id"`
	Cost       int64         `json:"cost"`
	Status     RequestStatus `json:"status"`
	CreatedAt  time.Time     `json:"created_at"`
	ResolvedAt *time.Time    `json:"resolved_at,omitempty"`
}

// Document is the persisted PRD artifact of a succeeded request.
type Document struct {
	ID        string    `json:"id"`
	RequestID string    `json:"request_id"`
	AccountID int64     `json:"account_id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"created_at"`
}

// Rating is the owner's verdict on a document. The 1/2 scale is
// inherited from the product; semantics of each value live client-side.
type Rating struct {
	DocumentID string    `json:"document_id"`
	AccountID  int64     `json:"account_id"`
	Rating     int       `json:"rating"`
	Feedback   string    `json:"feedback,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// MaxFeedbackLen caps rating feedback length.
const MaxFeedbackLen = 1000

// GenerateRequest is the DTO for incoming generation calls.
type GenerateRequest struct {
	AccountID int64  `json:"account_id"`
	Idea      string `json:"idea"`
	Template  string `json:"template,omitempty"`
}

// GenerateResponse is returned for a completed generation.
type GenerateResponse struct {
	Request  GenerationRequest `json:"request"`
	Document *Document         `json:"document,omitempty"`
	Balance  int64             `json:"balance"`
}

// RateRequest is the DTO for rating submissions.
type RateRequest struct {
	Rating   int    `json:"rating"`
	Feedback string `json:"feedback,omitempty"`
}

// AuditReport compares the stored balance with the recomputed sum of
// ledger deltas for an account.
type AuditReport struct {
	AccountID     int64 `json:"account_id"`
	StoredBalance int64 `json:"stored_balance"`
	EntrySum      int64 `json:"entry_sum"`
	Consistent    bool  `json:"consistent"`
}
