package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shjeon-96/ideatoprd-sub001/internal/domain"
)

// Postgres implements Ledger on top of a pgx connection pool.
// Per-account serialization uses SELECT ... FOR UPDATE on the account
// row; event idempotency uses a conditional insert against the unique
// external_event_id instead of check-then-insert.
type Postgres struct {
	db *pgxpool.Pool
}

func NewPostgres(connString string) (*Postgres, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Postgres{db: pool}, nil
}

// NewPostgresFromPool wraps an existing pool (used by cmd wiring).
func NewPostgresFromPool(pool *pgxpool.Pool) *Postgres {
	return &Postgres{db: pool}
}

func (s *Postgres) Close() {
	s.db.Close()
}

func (s *Postgres) CreateAccount(ctx context.Context, kind domain.AccountKind, initialBalance int64) (int64, error) {
	if initialBalance < 0 {
		return 0, domain.ErrNegativeBalance
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	var id int64
	err = tx.QueryRow(ctx,
		"INSERT INTO accounts (kind, balance) VALUES ($1, $2) RETURNING id",
		kind, initialBalance,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("account insert failed: %w", err)
	}

	// Keep the audit invariant: any starting balance enters the
	// ledger as a credit entry rather than appearing out of thin air.
	if initialBalance > 0 {
		_, err = tx.Exec(ctx,
			"INSERT INTO ledger_entries (account_id, delta, reason) VALUES ($1, $2, $3)",
			id, initialBalance, domain.ReasonPurchaseCredit,
		)
		if err != nil {
			return 0, fmt.Errorf("ledger entry failed: %w", err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("tx commit failed: %w", err)
	}
	return id, nil
}

func (s *Postgres) GetAccount(ctx context.Context, id int64) (*domain.Account, error) {
	var a domain.Account
	err := s.db.QueryRow(ctx,
		"SELECT id, kind, balance, created_at, disabled_at FROM accounts WHERE id = $1",
		id,
	).Scan(&a.ID, &a.Kind, &a.Balance, &a.CreatedAt, &a.DisabledAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, fmt.Errorf("account query failed: %w", err)
	}
	return &a, nil
}

func (s *Postgres) GetEntries(ctx context.Context, accountID int64) ([]domain.LedgerEntry, error) {
	if _, err := s.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}

	rows, err := s.db.Query(ctx,
		`SELECT id, account_id, delta, reason, COALESCE(external_event_id, ''), created_at
		 FROM ledger_entries WHERE account_id = $1 ORDER BY created_at DESC, id DESC`,
		accountID)
	if err != nil {
		return nil, fmt.Errorf("entries query failed: %w", err)
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Delta, &e.Reason, &e.ExternalEventID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("entry scan failed: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Postgres) AuditAccount(ctx context.Context, accountID int64) (*domain.AuditReport, error) {
	var report domain.AuditReport
	err := s.db.QueryRow(ctx,
		`SELECT a.id, a.balance, COALESCE(SUM(e.delta), 0)
		 FROM accounts a LEFT JOIN ledger_entries e ON e.account_id = a.id
		 WHERE a.id = $1 GROUP BY a.id, a.balance`,
		accountID,
	).Scan(&report.AccountID, &report.StoredBalance, &report.EntrySum)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, fmt.Errorf("audit query failed: %w", err)
	}
	report.Consistent = report.StoredBalance == report.EntrySum
	return &report, nil
}

func (s *Postgres) AuthorizeRequest(ctx context.Context, accountID, cost int64) (*domain.GenerationRequest, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return nil, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	// Lock the account row so concurrent authorizations against the
	// same balance serialize.
	var balance int64
	var disabledAt *time.Time
	err = tx.QueryRow(ctx,
		"SELECT balance, disabled_at FROM accounts WHERE id = $1 FOR UPDATE", accountID,
	).Scan(&balance, &disabledAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, fmt.Errorf("lock acquisition failed: %w", err)
	}
	if disabledAt != nil {
		return nil, domain.ErrAccountDisabled
	}

	// Outstanding authorized requests hold part of the balance; a new
	// authorization must fit in what is left so that every authorized
	// request can be debited without going negative.
	var held int64
	err = tx.QueryRow(ctx,
		"SELECT COALESCE(SUM(cost), 0) FROM generation_requests WHERE account_id = $1 AND status = 'authorized'",
		accountID,
	).Scan(&held)
	if err != nil {
		return nil, fmt.Errorf("holds query failed: %w", err)
	}

	available := balance - held
	if available < cost {
		return nil, &domain.InsufficientCreditsError{Deficit: cost - available}
	}

	req := domain.GenerationRequest{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Cost:      cost,
		Status:    domain.StatusAuthorized,
	}
	err = tx.QueryRow(ctx,
		"INSERT INTO generation_requests (id, account_id, cost, status) VALUES ($1, $2, $3, $4) RETURNING created_at",
		req.ID, req.AccountID, req.Cost, req.Status,
	).Scan(&req.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("request insert failed: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("tx commit failed: %w", err)
	}
	return &req, nil
}

func (s *Postgres) CommitDebit(ctx context.Context, requestID string, doc *domain.Document) (int64, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return 0, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	var accountID, cost int64
	var status domain.RequestStatus
	err = tx.QueryRow(ctx,
		"SELECT account_id, cost, status FROM generation_requests WHERE id = $1 FOR UPDATE",
		requestID,
	).Scan(&accountID, &cost, &status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrRequestNotFound
		}
		return 0, fmt.Errorf("request lock failed: %w", err)
	}
	if status != domain.StatusAuthorized {
		return 0, domain.ErrBadTransition
	}

	var balance int64
	err = tx.QueryRow(ctx,
		"SELECT balance FROM accounts WHERE id = $1 FOR UPDATE", accountID,
	).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("account lock failed: %w", err)
	}
	if balance < cost {
		// Holds guarantee coverage; reaching here means the ledger
		// drifted from the request table.
		return 0, domain.ErrInconsistent
	}

	_, err = tx.Exec(ctx,
		"INSERT INTO ledger_entries (account_id, delta, reason) VALUES ($1, $2, $3)",
		accountID, -cost, domain.ReasonGenerationDebit,
	)
	if err != nil {
		return 0, fmt.Errorf("ledger entry failed: %w", err)
	}

	balanceAfter := balance - cost
	_, err = tx.Exec(ctx, "UPDATE accounts SET balance = $1 WHERE id = $2", balanceAfter, accountID)
	if err != nil {
		return 0, fmt.Errorf("balance update failed: %w", err)
	}

	_, err = tx.Exec(ctx,
		"UPDATE generation_requests SET status = $1, resolved_at = now() WHERE id = $2",
		domain.StatusSucceeded, requestID,
	)
	if err != nil {
		return 0, fmt.Errorf("request update failed: %w", err)
	}

	_, err = tx.Exec(ctx,
		"INSERT INTO documents (id, request_id, account_id, title, body, model) VALUES ($1, $2, $3, $4, $5, $6)",
		doc.ID, requestID, accountID, doc.Title, doc.Body, doc.Model,
	)
	if err != nil {
		return 0, fmt.Errorf("document insert failed: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("tx commit failed: %w", err)
	}
	return balanceAfter, nil
}

func (s *Postgres) FailRequest(ctx context.Context, requestID string) error {
	tag, err := s.db.Exec(ctx,
		"UPDATE generation_requests SET status = $1, resolved_at = now() WHERE id = $2 AND status = $3",
		domain.StatusFailed, requestID, domain.StatusAuthorized,
	)
	if err != nil {
		return fmt.Errorf("request update failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetRequest(ctx, requestID); err != nil {
			return err
		}
		return domain.ErrBadTransition
	}
	return nil
}

func (s *Postgres) GetRequest(ctx context.Context, requestID string) (*domain.GenerationRequest, error) {
	var r domain.GenerationRequest
	err := s.db.QueryRow(ctx,
		"SELECT id, account_id, cost, status, created_at, resolved_at FROM generation_requests WHERE id = $1",
		requestID,
	).Scan(&r.ID, &r.AccountID, &r.Cost, &r.Status, &r.CreatedAt, &r.ResolvedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrRequestNotFound
		}
		return nil, fmt.Errorf("request query failed: %w", err)
	}
	return &r, nil
}

func (s *Postgres) ExpireStaleAuthorizations(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx,
		"UPDATE generation_requests SET status = $1, resolved_at = now() WHERE status = $2 AND created_at < $3",
		domain.StatusFailed, domain.StatusAuthorized, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("stale expiry failed: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Postgres) ApplyBillingCredit(ctx context.Context, ev domain.WebhookEvent, reason domain.EntryReason) (domain.ReconcileOutcome, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return domain.OutcomeRejected, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	dup, err := insertEventOnce(ctx, tx, ev.ExternalEventID, ev.Type)
	if err != nil {
		return domain.OutcomeRejected, err
	}
	if dup {
		return domain.OutcomeDuplicate, nil
	}

	var balance int64
	err = tx.QueryRow(ctx,
		"SELECT balance FROM accounts WHERE id = $1 FOR UPDATE", ev.AccountID,
	).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.OutcomeRejected, domain.ErrAccountNotFound
		}
		return domain.OutcomeRejected, fmt.Errorf("account lock failed: %w", err)
	}

	_, err = tx.Exec(ctx,
		"INSERT INTO ledger_entries (account_id, delta, reason, external_event_id) VALUES ($1, $2, $3, $4)",
		ev.AccountID, ev.Amount, reason, ev.ExternalEventID,
	)
	if err != nil {
		return domain.OutcomeRejected, fmt.Errorf("ledger entry failed: %w", err)
	}

	_, err = tx.Exec(ctx,
		"UPDATE accounts SET balance = balance + $1 WHERE id = $2", ev.Amount, ev.AccountID,
	)
	if err != nil {
		return domain.OutcomeRejected, fmt.Errorf("balance update failed: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return domain.OutcomeRejected, fmt.Errorf("tx commit failed: %w", err)
	}
	return domain.OutcomeApplied, nil
}

func (s *Postgres) MarkEventProcessed(ctx context.Context, externalEventID, eventType string) (domain.ReconcileOutcome, error) {
	tag, err := s.db.Exec(ctx,
		"INSERT INTO billing_events (external_event_id, type) VALUES ($1, $2) ON CONFLICT (external_event_id) DO NOTHING",
		externalEventID, eventType,
	)
	if err != nil {
		return domain.OutcomeRejected, fmt.Errorf("event insert failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.OutcomeDuplicate, nil
	}
	return domain.OutcomeApplied, nil
}

func (s *Postgres) RefundRequest(ctx context.Context, requestID, externalEventID string) (domain.ReconcileOutcome, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return domain.OutcomeRejected, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	dup, err := insertEventOnce(ctx, tx, externalEventID, domain.EventGenerationRefunded)
	if err != nil {
		return domain.OutcomeRejected, err
	}
	if dup {
		return domain.OutcomeDuplicate, nil
	}

	var accountID, cost int64
	var status domain.RequestStatus
	err = tx.QueryRow(ctx,
		"SELECT account_id, cost, status FROM generation_requests WHERE id = $1 FOR UPDATE",
		requestID,
	).Scan(&accountID, &cost, &status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.OutcomeRejected, domain.ErrRequestNotFound
		}
		return domain.OutcomeRejected, fmt.Errorf("request lock failed: %w", err)
	}
	if status != domain.StatusSucceeded {
		return domain.OutcomeRejected, domain.ErrBadTransition
	}

	_, err = tx.Exec(ctx,
		"INSERT INTO ledger_entries (account_id, delta, reason, external_event_id) VALUES ($1, $2, $3, $4)",
		accountID, cost, domain.ReasonRefund, externalEventID,
	)
	if err != nil {
		return domain.OutcomeRejected, fmt.Errorf("ledger entry failed: %w", err)
	}

	_, err = tx.Exec(ctx, "UPDATE accounts SET balance = balance + $1 WHERE id = $2", cost, accountID)
	if err != nil {
		return domain.OutcomeRejected, fmt.Errorf("balance update failed: %w", err)
	}

	_, err = tx.Exec(ctx,
		"UPDATE generation_requests SET status = $1 WHERE id = $2", domain.StatusRefunded, requestID,
	)
	if err != nil {
		return domain.OutcomeRejected, fmt.Errorf("request update failed: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return domain.OutcomeRejected, fmt.Errorf("tx commit failed: %w", err)
	}
	return domain.OutcomeApplied, nil
}

func (s *Postgres) GetDocument(ctx context.Context, docID string) (*domain.Document, error) {
	var d domain.Document
	err := s.db.QueryRow(ctx,
		"SELECT id, request_id, account_id, title, body, model, created_at FROM documents WHERE id = $1",
		docID,
	).Scan(&d.ID, &d.RequestID, &d.AccountID, &d.Title, &d.Body, &d.Model, &d.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrDocumentNotFound
		}
		return nil, fmt.Errorf("document query failed: %w", err)
	}
	return &d, nil
}

func (s *Postgres) ListDocuments(ctx context.Context, accountID int64) ([]domain.Document, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, request_id, account_id, title, model, created_at
		 FROM documents WHERE account_id = $1 ORDER BY created_at DESC`,
		accountID)
	if err != nil {
		return nil, fmt.Errorf("documents query failed: %w", err)
	}
	defer rows.Close()

	var docs []domain.Document
	for rows.Next() {
		var d domain.Document
		if err := rows.Scan(&d.ID, &d.RequestID, &d.AccountID, &d.Title, &d.Model, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("document scan failed: %w", err)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func (s *Postgres) SaveRating(ctx context.Context, r domain.Rating) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO ratings (document_id, account_id, rating, feedback)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (document_id) DO UPDATE SET rating = EXCLUDED.rating, feedback = EXCLUDED.feedback`,
		r.DocumentID, r.AccountID, r.Rating, r.Feedback,
	)
	if err != nil {
		return fmt.Errorf("rating upsert failed: %w", err)
	}
	return nil
}

func (s *Postgres) GetRating(ctx context.Context, docID string) (*domain.Rating, error) {
	var r domain.Rating
	err := s.db.QueryRow(ctx,
		"SELECT document_id, account_id, rating, COALESCE(feedback, ''), created_at FROM ratings WHERE document_id = $1",
		docID,
	).Scan(&r.DocumentID, &r.AccountID, &r.Rating, &r.Feedback, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrDocumentNotFound
		}
		return nil, fmt.Errorf("rating query failed: %w", err)
	}
	return &r, nil
}

// insertEventOnce is the conditional insert that backs webhook
// idempotency: one statement, no check-then-insert race. Returns true
// when the event id was already recorded.
func insertEventOnce(ctx context.Context, tx pgx.Tx, externalEventID, eventType string) (bool, error) {
	tag, err := tx.Exec(ctx,
		"INSERT INTO billing_events (external_event_id, type) VALUES ($1, $2) ON CONFLICT (external_event_id) DO NOTHING",
		externalEventID, eventType,
	)
	if err != nil {
		return false, fmt.Errorf("event insert failed: %w", err)
	}
	return tag.RowsAffected() == 0, nil
}
