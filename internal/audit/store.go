package audit

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// SQLSink persists decision records to postgres.
type SQLSink struct {
	db *sqlx.DB
}

// NewSQLSink creates a postgres-backed sink.
func NewSQLSink(db *sqlx.DB) *SQLSink {
	return &SQLSink{db: db}
}

func (s *SQLSink) Record(ctx context.Context, e Entry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO authz_audit (principal_id, permission, resource_id, decision, reason, applied_grants, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.PrincipalID, e.Permission, e.ResourceID, e.Decision, e.Reason, pq.Array(e.AppliedGrants), e.Timestamp,
	)
	return err
}
