package service

import (
	"context"

	"github.com/shjeon-96/ideatoprd-sub001/internal/auth"
	"github.com/shjeon-96/ideatoprd-sub001/internal/domain"
	"github.com/shjeon-96/ideatoprd-sub001/internal/store"
)

// AccountService owns account-scoped reads. Every method takes the
// caller's identity explicitly and checks ownership before touching
// the store; there is no ambient session state.
type AccountService struct {
	store store.Ledger
}

func NewAccountService(s store.Ledger) *AccountService {
	return &AccountService{store: s}
}

func (s *AccountService) CreateAccount(ctx context.Context, kind domain.AccountKind, initialBalance int64) (int64, error) {
	if kind != domain.AccountKindUser && kind != domain.AccountKindWorkspace {
		kind = domain.AccountKindUser
	}
	return s.store.CreateAccount(ctx, kind, initialBalance)
}

func (s *AccountService) GetAccount(ctx context.Context, caller *auth.Identity, accountID int64) (*domain.Account, error) {
	if err := requireOwner(caller, accountID); err != nil {
		return nil, err
	}
	return s.store.GetAccount(ctx, accountID)
}

func (s *AccountService) GetEntries(ctx context.Context, caller *auth.Identity, accountID int64) ([]domain.LedgerEntry, error) {
	if err := requireOwner(caller, accountID); err != nil {
		return nil, err
	}
	return s.store.GetEntries(ctx, accountID)
}

// Audit recomputes the balance from ledger entries. A mismatch means
// a partially applied write slipped through the transactional design;
// the caller surfaces it operationally, never to end users.
func (s *AccountService) Audit(ctx context.Context, caller *auth.Identity, accountID int64) (*domain.AuditReport, error) {
	if err := requireOwner(caller, accountID); err != nil {
		return nil, err
	}
	return s.store.AuditAccount(ctx, accountID)
}

func requireOwner(caller *auth.Identity, accountID int64) error {
	if caller == nil {
		return domain.ErrUnauthorized
	}
	if caller.AccountID != accountID {
		return domain.ErrForbidden
	}
	return nil
}
