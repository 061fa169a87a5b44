package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shjeon-96/ideatoprd-sub001/internal/domain"
)

func newAccount(t *testing.T, s *Memory, balance int64) int64 {
	t.Helper()
	id, err := s.CreateAccount(context.Background(), domain.AccountKindUser, balance)
	require.NoError(t, err)
	return id
}

func requireAudit(t *testing.T, s *Memory, accountID int64) {
	t.Helper()
	report, err := s.AuditAccount(context.Background(), accountID)
	require.NoError(t, err)
	assert.True(t, report.Consistent,
		"balance %d diverged from entry sum %d", report.StoredBalance, report.EntrySum)
}

func TestCreateAccountKeepsAuditInvariant(t *testing.T) {
	s := NewMemory()
	id := newAccount(t, s, 50)

	acc, err := s.GetAccount(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, int64(50), acc.Balance)
	requireAudit(t, s, id)
}

func TestAuthorizeDeniedWithDeficit(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	id := newAccount(t, s, 10)

	_, err := s.AuthorizeRequest(ctx, id, 15)
	var insufficient *domain.InsufficientCreditsError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, int64(5), insufficient.Deficit)

	// A denial writes nothing.
	entries, err := s.GetEntries(ctx, id)
	require.NoError(t, err)
	assert.Len(t, entries, 1) // only the initial credit
	requireAudit(t, s, id)
}

func TestAuthorizeAccountsForOutstandingHolds(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	id := newAccount(t, s, 10)

	_, err := s.AuthorizeRequest(ctx, id, 7)
	require.NoError(t, err)

	// 3 credits remain unheld; a second request for 7 must be denied
	// even though the stored balance is still 10.
	_, err = s.AuthorizeRequest(ctx, id, 7)
	var insufficient *domain.InsufficientCreditsError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, int64(4), insufficient.Deficit)
}

func TestConcurrentAuthorizationsExactlyCovered(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	id := newAccount(t, s, 25)

	var wg sync.WaitGroup
	results := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.AuthorizeRequest(ctx, id, 5)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var ok, denied int
	for err := range results {
		if err == nil {
			ok++
		} else {
			var insufficient *domain.InsufficientCreditsError
			require.ErrorAs(t, err, &insufficient)
			denied++
		}
	}
	assert.Equal(t, 5, ok, "balance 25 covers exactly five holds of 5")
	assert.Equal(t, 5, denied)
}

func TestCommitDebitHappyPath(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	id := newAccount(t, s, 10)

	req, err := s.AuthorizeRequest(ctx, id, 5)
	require.NoError(t, err)

	balance, err := s.CommitDebit(ctx, req.ID, &domain.Document{ID: "doc-1", Title: "t", Body: "b"})
	require.NoError(t, err)
	assert.Equal(t, int64(5), balance)

	entries, err := s.GetEntries(ctx, id)
	require.NoError(t, err)
	var debits []domain.LedgerEntry
	for _, e := range entries {
		if e.Reason == domain.ReasonGenerationDebit {
			debits = append(debits, e)
		}
	}
	require.Len(t, debits, 1)
	assert.Equal(t, int64(-5), debits[0].Delta)

	got, err := s.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSucceeded, got.Status)
	require.NotNil(t, got.ResolvedAt)

	doc, err := s.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, req.ID, doc.RequestID)
	assert.Equal(t, id, doc.AccountID)

	requireAudit(t, s, id)
}

func TestCommitDebitRequiresAuthorizedStatus(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	id := newAccount(t, s, 10)

	req, err := s.AuthorizeRequest(ctx, id, 5)
	require.NoError(t, err)
	require.NoError(t, s.FailRequest(ctx, req.ID))

	_, err = s.CommitDebit(ctx, req.ID, &domain.Document{ID: "doc-1"})
	assert.ErrorIs(t, err, domain.ErrBadTransition)
	requireAudit(t, s, id)
}

func TestFailRequestReleasesHold(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	id := newAccount(t, s, 10)

	req, err := s.AuthorizeRequest(ctx, id, 7)
	require.NoError(t, err)
	require.NoError(t, s.FailRequest(ctx, req.ID))

	// Hold released: the full balance is available again.
	_, err = s.AuthorizeRequest(ctx, id, 10)
	require.NoError(t, err)

	acc, err := s.GetAccount(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(10), acc.Balance)
}

func TestExpireStaleAuthorizations(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	id := newAccount(t, s, 10)

	base := time.Now()
	s.now = func() time.Time { return base.Add(-30 * time.Minute) }
	stale, err := s.AuthorizeRequest(ctx, id, 5)
	require.NoError(t, err)

	s.now = func() time.Time { return base }
	fresh, err := s.AuthorizeRequest(ctx, id, 5)
	require.NoError(t, err)

	n, err := s.ExpireStaleAuthorizations(ctx, base.Add(-15*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := s.GetRequest(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)

	got, err = s.GetRequest(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAuthorized, got.Status)

	// No debit for expired requests.
	acc, err := s.GetAccount(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(10), acc.Balance)
	requireAudit(t, s, id)
}

func TestApplyBillingCreditIdempotent(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	id := newAccount(t, s, 0)

	ev := domain.WebhookEvent{
		ExternalEventID: "evt_123",
		Type:            domain.EventPurchaseCompleted,
		AccountID:       id,
		Amount:          100,
	}

	outcome, err := s.ApplyBillingCredit(ctx, ev, domain.ReasonPurchaseCredit)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApplied, outcome)

	outcome, err = s.ApplyBillingCredit(ctx, ev, domain.ReasonPurchaseCredit)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeDuplicate, outcome)

	acc, err := s.GetAccount(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(100), acc.Balance, "redelivery must not double-credit")

	entries, err := s.GetEntries(ctx, id)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	requireAudit(t, s, id)
}

func TestRefundRequest(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	id := newAccount(t, s, 10)

	req, err := s.AuthorizeRequest(ctx, id, 5)
	require.NoError(t, err)
	_, err = s.CommitDebit(ctx, req.ID, &domain.Document{ID: "doc-1"})
	require.NoError(t, err)

	outcome, err := s.RefundRequest(ctx, req.ID, "evt_refund_1")
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApplied, outcome)

	acc, err := s.GetAccount(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(10), acc.Balance)

	got, err := s.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRefunded, got.Status)

	// Redelivered refund is a no-op.
	outcome, err = s.RefundRequest(ctx, req.ID, "evt_refund_1")
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeDuplicate, outcome)

	acc, err = s.GetAccount(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(10), acc.Balance)
	requireAudit(t, s, id)
}

func TestRefundRequiresSucceeded(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	id := newAccount(t, s, 10)

	req, err := s.AuthorizeRequest(ctx, id, 5)
	require.NoError(t, err)

	_, err = s.RefundRequest(ctx, req.ID, "evt_refund_2")
	assert.ErrorIs(t, err, domain.ErrBadTransition)
}

func TestMarkEventProcessed(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	outcome, err := s.MarkEventProcessed(ctx, "evt_cancel_1", domain.EventSubscriptionCancelled)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApplied, outcome)

	outcome, err = s.MarkEventProcessed(ctx, "evt_cancel_1", domain.EventSubscriptionCancelled)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeDuplicate, outcome)
}

func TestDisabledAccountCannotAuthorize(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	id := newAccount(t, s, 10)

	now := time.Now()
	s.mu.Lock()
	s.accounts[id].DisabledAt = &now
	s.mu.Unlock()

	_, err := s.AuthorizeRequest(ctx, id, 5)
	assert.ErrorIs(t, err, domain.ErrAccountDisabled)
}
