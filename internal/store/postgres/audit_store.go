package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/treasurechest/internal/domain"
)

// AuditStore implements domain.AuditStore over the append-only audit_log
// table: session transitions, owner withdrawals and archive runs.
type AuditStore struct {
	pool *pgxpool.Pool
}

// NewAuditStore creates an AuditStore backed by pool.
func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// auditRow is the column form of domain.AuditEntry. Detail is raw JSONB.
type auditRow struct {
	ID        int64
	Event     string
	Detail    []byte
	CreatedAt time.Time
}

func (r auditRow) entry() (domain.AuditEntry, error) {
	e := domain.AuditEntry{ID: r.ID, Event: r.Event, CreatedAt: r.CreatedAt}
	if r.Detail != nil {
		if err := json.Unmarshal(r.Detail, &e.Detail); err != nil {
			return domain.AuditEntry{}, fmt.Errorf("audit %d detail: %w", r.ID, err)
		}
	}
	return e, nil
}

// Log appends an entry. A nil detail stores NULL.
func (s *AuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	var raw []byte
	if detail != nil {
		var err error
		if raw, err = json.Marshal(detail); err != nil {
			return fmt.Errorf("postgres: audit %s: %w", event, err)
		}
	}
	if _, err := s.pool.Exec(ctx, `INSERT INTO audit_log (event, detail) VALUES ($1, $2)`, event, raw); err != nil {
		return fmt.Errorf("postgres: audit %s: %w", event, err)
	}
	return nil
}

// List returns entries newest first within the optional time window.
func (s *AuditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	query, args := windowQuery("id, event, detail, created_at", "audit_log", "created_at", "created_at DESC, id DESC", opts)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit: %w", err)
	}
	found, err := pgx.CollectRows(rows, pgx.RowToStructByPos[auditRow])
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit: %w", err)
	}

	entries := make([]domain.AuditEntry, 0, len(found))
	for _, r := range found {
		e, err := r.entry()
		if err != nil {
			return nil, fmt.Errorf("postgres: list audit: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

var _ domain.AuditStore = (*AuditStore)(nil)
