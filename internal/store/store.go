package store

import (
	"context"
	"time"

	"github.com/shjeon-96/ideatoprd-sub001/internal/domain"
)

// Ledger is the persistence boundary for accounts, ledger entries,
// billing events, generation requests, documents and ratings.
//
// Every balance-affecting method runs as one atomic unit together with
// whatever triggered it (debit with status transition, credit with
// event marking) so the ledger and its triggering record are never
// observably inconsistent. Operations on the same account are
// serialized; operations on different accounts are independent.
type Ledger interface {
	CreateAccount(ctx context.Context, kind domain.AccountKind, initialBalance int64) (int64, error)
	GetAccount(ctx context.Context, id int64) (*domain.Account, error)
	GetEntries(ctx context.Context, accountID int64) ([]domain.LedgerEntry, error)

	// AuditAccount recomputes the balance from ledger entries and
	// reports whether it matches the stored balance.
	AuditAccount(ctx context.Context, accountID int64) (*domain.AuditReport, error)

	// AuthorizeRequest checks that the account can cover cost on top of
	// its outstanding authorized holds and records a new request in
	// status authorized. No balance change happens here; the debit is
	// committed only by CommitDebit. Returns
	// *domain.InsufficientCreditsError when the available balance
	// (stored balance minus outstanding holds) is short.
	AuthorizeRequest(ctx context.Context, accountID, cost int64) (*domain.GenerationRequest, error)

	// CommitDebit transitions an authorized request to succeeded,
	// writes the generation_debit entry and persists the document, all
	// in one atomic unit. Returns the balance after the debit.
	CommitDebit(ctx context.Context, requestID string, doc *domain.Document) (int64, error)

	// FailRequest releases the hold of an authorized request with no
	// debit.
	FailRequest(ctx context.Context, requestID string) error

	GetRequest(ctx context.Context, requestID string) (*domain.GenerationRequest, error)

	// ExpireStaleAuthorizations fails every request still authorized
	// before cutoff. Returns the number of requests expired.
	ExpireStaleAuthorizations(ctx context.Context, cutoff time.Time) (int64, error)

	// ApplyBillingCredit credits an account for a billing-provider
	// event. The event record and the ledger entry commit together;
	// a redelivered event id yields OutcomeDuplicate and no entry.
	ApplyBillingCredit(ctx context.Context, ev domain.WebhookEvent, reason domain.EntryReason) (domain.ReconcileOutcome, error)

	// MarkEventProcessed records an event that carries no ledger
	// change (cancellations, unknown types).
	MarkEventProcessed(ctx context.Context, externalEventID, eventType string) (domain.ReconcileOutcome, error)

	// RefundRequest applies a provider refund event: the succeeded
	// request transitions to refunded and an offsetting refund entry
	// is written, keyed by the event id for idempotency.
	RefundRequest(ctx context.Context, requestID, externalEventID string) (domain.ReconcileOutcome, error)

	GetDocument(ctx context.Context, docID string) (*domain.Document, error)
	ListDocuments(ctx context.Context, accountID int64) ([]domain.Document, error)
	SaveRating(ctx context.Context, r domain.Rating) error
	GetRating(ctx context.Context, docID string) (*domain.Rating, error)
}
