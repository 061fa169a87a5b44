package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shjeon-96/ideatoprd-sub001/internal/domain"
)

// Memory is an in-process Ledger used by tests and local development.
// A single mutex stands in for the row locks of the Postgres
// implementation; semantics are otherwise identical.
type Memory struct {
	mu sync.Mutex

	nextAccountID int64
	nextEntryID   int64

	accounts map[int64]*domain.Account
	entries  []domain.LedgerEntry
	events   map[string]*domain.BillingEvent
	requests map[string]*domain.GenerationRequest
	docs     map[string]*domain.Document
	ratings  map[string]*domain.Rating

	now func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		nextAccountID: 1,
		nextEntryID:   1,
		accounts:      make(map[int64]*domain.Account),
		events:        make(map[string]*domain.BillingEvent),
		requests:      make(map[string]*domain.GenerationRequest),
		docs:          make(map[string]*domain.Document),
		ratings:       make(map[string]*domain.Rating),
		now:           time.Now,
	}
}

func (s *Memory) CreateAccount(_ context.Context, kind domain.AccountKind, initialBalance int64) (int64, error) {
	if initialBalance < 0 {
		return 0, domain.ErrNegativeBalance
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextAccountID
	s.nextAccountID++
	s.accounts[id] = &domain.Account{
		ID:        id,
		Kind:      kind,
		Balance:   initialBalance,
		CreatedAt: s.now(),
	}
	if initialBalance > 0 {
		s.appendEntry(id, initialBalance, domain.ReasonPurchaseCredit, "")
	}
	return id, nil
}

func (s *Memory) GetAccount(_ context.Context, id int64) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *Memory) GetEntries(_ context.Context, accountID int64) ([]domain.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[accountID]; !ok {
		return nil, domain.ErrAccountNotFound
	}
	var out []domain.LedgerEntry
	for _, e := range s.entries {
		if e.AccountID == accountID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (s *Memory) AuditAccount(_ context.Context, accountID int64) (*domain.AuditReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[accountID]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	var sum int64
	for _, e := range s.entries {
		if e.AccountID == accountID {
			sum += e.Delta
		}
	}
	return &domain.AuditReport{
		AccountID:     accountID,
		StoredBalance: a.Balance,
		EntrySum:      sum,
		Consistent:    a.Balance == sum,
	}, nil
}

func (s *Memory) AuthorizeRequest(_ context.Context, accountID, cost int64) (*domain.GenerationRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[accountID]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	if a.Disabled() {
		return nil, domain.ErrAccountDisabled
	}

	var held int64
	for _, r := range s.requests {
		if r.AccountID == accountID && r.Status == domain.StatusAuthorized {
			held += r.Cost
		}
	}

	available := a.Balance - held
	if available < cost {
		return nil, &domain.InsufficientCreditsError{Deficit: cost - available}
	}

	req := &domain.GenerationRequest{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Cost:      cost,
		Status:    domain.StatusAuthorized,
		CreatedAt: s.now(),
	}
	s.requests[req.ID] = req
	cp := *req
	return &cp, nil
}

func (s *Memory) CommitDebit(_ context.Context, requestID string, doc *domain.Document) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[requestID]
	if !ok {
		return 0, domain.ErrRequestNotFound
	}
	if req.Status != domain.StatusAuthorized {
		return 0, domain.ErrBadTransition
	}
	a := s.accounts[req.AccountID]
	if a.Balance < req.Cost {
		return 0, domain.ErrInconsistent
	}

	s.appendEntry(req.AccountID, -req.Cost, domain.ReasonGenerationDebit, "")
	a.Balance -= req.Cost

	now := s.now()
	req.Status = domain.StatusSucceeded
	req.ResolvedAt = &now

	d := *doc
	d.RequestID = requestID
	d.AccountID = req.AccountID
	d.CreatedAt = now
	s.docs[d.ID] = &d

	return a.Balance, nil
}

func (s *Memory) FailRequest(_ context.Context, requestID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[requestID]
	if !ok {
		return domain.ErrRequestNotFound
	}
	if req.Status != domain.StatusAuthorized {
		return domain.ErrBadTransition
	}
	now := s.now()
	req.Status = domain.StatusFailed
	req.ResolvedAt = &now
	return nil
}

func (s *Memory) GetRequest(_ context.Context, requestID string) (*domain.GenerationRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[requestID]
	if !ok {
		return nil, domain.ErrRequestNotFound
	}
	cp := *req
	return &cp, nil
}

func (s *Memory) ExpireStaleAuthorizations(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	now := s.now()
	for _, req := range s.requests {
		if req.Status == domain.StatusAuthorized && req.CreatedAt.Before(cutoff) {
			req.Status = domain.StatusFailed
			req.ResolvedAt = &now
			n++
		}
	}
	return n, nil
}

func (s *Memory) ApplyBillingCredit(_ context.Context, ev domain.WebhookEvent, reason domain.EntryReason) (domain.ReconcileOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, seen := s.events[ev.ExternalEventID]; seen {
		return domain.OutcomeDuplicate, nil
	}
	a, ok := s.accounts[ev.AccountID]
	if !ok {
		return domain.OutcomeRejected, domain.ErrAccountNotFound
	}

	s.events[ev.ExternalEventID] = &domain.BillingEvent{
		ExternalEventID: ev.ExternalEventID,
		Type:            ev.Type,
		ProcessedAt:     s.now(),
	}
	s.appendEntry(ev.AccountID, ev.Amount, reason, ev.ExternalEventID)
	a.Balance += ev.Amount
	return domain.OutcomeApplied, nil
}

func (s *Memory) MarkEventProcessed(_ context.Context, externalEventID, eventType string) (domain.ReconcileOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, seen := s.events[externalEventID]; seen {
		return domain.OutcomeDuplicate, nil
	}
	s.events[externalEventID] = &domain.BillingEvent{
		ExternalEventID: externalEventID,
		Type:            eventType,
		ProcessedAt:     s.now(),
	}
	return domain.OutcomeApplied, nil
}

func (s *Memory) RefundRequest(_ context.Context, requestID, externalEventID string) (domain.ReconcileOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, seen := s.events[externalEventID]; seen {
		return domain.OutcomeDuplicate, nil
	}
	req, ok := s.requests[requestID]
	if !ok {
		return domain.OutcomeRejected, domain.ErrRequestNotFound
	}
	if req.Status != domain.StatusSucceeded {
		return domain.OutcomeRejected, domain.ErrBadTransition
	}

	s.events[externalEventID] = &domain.BillingEvent{
		ExternalEventID: externalEventID,
		Type:            domain.EventGenerationRefunded,
		ProcessedAt:     s.now(),
	}
	s.appendEntry(req.AccountID, req.Cost, domain.ReasonRefund, externalEventID)
	s.accounts[req.AccountID].Balance += req.Cost
	req.Status = domain.StatusRefunded
	return domain.OutcomeApplied, nil
}

func (s *Memory) GetDocument(_ context.Context, docID string) (*domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.docs[docID]
	if !ok {
		return nil, domain.ErrDocumentNotFound
	}
	cp := *d
	return &cp, nil
}

func (s *Memory) ListDocuments(_ context.Context, accountID int64) ([]domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Document
	for _, d := range s.docs {
		if d.AccountID == accountID {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Memory) SaveRating(_ context.Context, r domain.Rating) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}
	s.ratings[r.DocumentID] = &r
	return nil
}

func (s *Memory) GetRating(_ context.Context, docID string) (*domain.Rating, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.ratings[docID]
	if !ok {
		return nil, domain.ErrDocumentNotFound
	}
	cp := *r
	return &cp, nil
}

// appendEntry must be called with the mutex held.
func (s *Memory) appendEntry(accountID, delta int64, reason domain.EntryReason, externalEventID string) {
	s.entries = append(s.entries, domain.LedgerEntry{
		ID:              s.nextEntryID,
		AccountID:       accountID,
		Delta:           delta,
		Reason:          reason,
		ExternalEventID: externalEventID,
		CreatedAt:       s.now(),
	})
	s.nextEntryID++
}
