package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/auctiond/internal/domain"
)

// AuditStore appends auction audit rows to audit_log.
type AuditStore struct {
	pool *pgxpool.Pool
}

// NewAuditStore creates a new AuditStore backed by the given connection pool.
func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// Log writes rec. Detail is stored as JSONB, an empty object when nil.
func (s *AuditStore) Log(ctx context.Context, rec domain.AuditRecord) error {
	detail, err := auditDetail(rec)
	if err != nil {
		return err
	}

	const query = `INSERT INTO audit_log (auction_id, event, detail) VALUES ($1, $2, $3)`
	if _, err := s.pool.Exec(ctx, query, rec.AuctionID, rec.Event, detail); err != nil {
		return fmt.Errorf("postgres: audit %s %s: %w", rec.Event, rec.AuctionID, err)
	}
	return nil
}

func auditDetail(rec domain.AuditRecord) ([]byte, error) {
	if rec.AuctionID == "" || rec.Event == "" {
		return nil, errors.New("postgres: audit record needs auction id and event")
	}
	if rec.Detail == nil {
		return []byte("{}"), nil
	}
	detail, err := json.Marshal(rec.Detail)
	if err != nil {
		return nil, fmt.Errorf("postgres: marshal audit detail: %w", err)
	}
	return detail, nil
}

var _ domain.AuditStore = (*AuditStore)(nil)
