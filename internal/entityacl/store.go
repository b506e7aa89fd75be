package entityacl

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Store implements GraphProvider against postgres. The write methods are the
// persistence half of (external) ACL management; writers must run the cycle
// check before SetParent and call the engine's invalidation hooks after every
// mutation.
type Store struct {
	db *sqlx.DB
}

// NewStore creates a postgres-backed ACL store.
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

type aclRow struct {
	ResourceID        string         `db:"resource_id"`
	OwnerID           sql.NullString `db:"owner_id"`
	DefaultAccess     string         `db:"default_access"`
	InheritFromParent bool           `db:"inherit_from_parent"`
	ParentID          sql.NullString `db:"parent_id"`
}

func (s *Store) Acl(ctx context.Context, resourceID string) (*Acl, error) {
	var row aclRow
	err := s.db.GetContext(ctx, &row,
		`SELECT resource_id, owner_id, default_access, inherit_from_parent, parent_id
		 FROM entity_acls WHERE resource_id = $1`, resourceID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrResourceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("entityacl: load acl: %w", err)
	}

	acl := &Acl{
		ResourceID:        row.ResourceID,
		DefaultAccess:     row.DefaultAccess,
		InheritFromParent: row.InheritFromParent,
	}
	if row.OwnerID.Valid {
		acl.OwnerID = &row.OwnerID.String
	}
	if row.ParentID.Valid {
		acl.ParentID = &row.ParentID.String
	}

	if err := s.db.SelectContext(ctx, &acl.Entries,
		`SELECT id, resource_id, principal_id, principal_type, allowed, denied, expires_at, active, stop_inheritance
		 FROM acl_entries WHERE resource_id = $1 ORDER BY id`, resourceID); err != nil {
		return nil, fmt.Errorf("entityacl: load entries: %w", err)
	}
	return acl, nil
}

func (s *Store) Parent(ctx context.Context, resourceID string) (string, bool, error) {
	var parent sql.NullString
	err := s.db.GetContext(ctx, &parent,
		`SELECT parent_id FROM entity_acls WHERE resource_id = $1`, resourceID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, ErrResourceNotFound
	}
	if err != nil {
		return "", false, fmt.Errorf("entityacl: load parent: %w", err)
	}
	return parent.String, parent.Valid, nil
}

func (s *Store) Owner(ctx context.Context, resourceID string) (string, bool, error) {
	var owner sql.NullString
	err := s.db.GetContext(ctx, &owner,
		`SELECT owner_id FROM entity_acls WHERE resource_id = $1`, resourceID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, ErrResourceNotFound
	}
	if err != nil {
		return "", false, fmt.Errorf("entityacl: load owner: %w", err)
	}
	return owner.String, owner.Valid, nil
}

// UpsertAcl writes the ACL header row.
func (s *Store) UpsertAcl(ctx context.Context, acl Acl) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO entity_acls (resource_id, owner_id, default_access, inherit_from_parent, parent_id)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (resource_id)
		 DO UPDATE SET owner_id = $2, default_access = $3, inherit_from_parent = $4, parent_id = $5`,
		acl.ResourceID, acl.OwnerID, acl.DefaultAccess, acl.InheritFromParent, acl.ParentID)
	return err
}

// SetParent updates the resource's parent edge. Callers must have verified
// the edge with the cycle check first; this method does not re-check.
func (s *Store) SetParent(ctx context.Context, resourceID string, parentID *string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE entity_acls SET parent_id = $2 WHERE resource_id = $1`, resourceID, parentID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrResourceNotFound
	}
	return nil
}

// PutEntry inserts or replaces an ACL entry, assigning an id when the entry
// has none.
func (s *Store) PutEntry(ctx context.Context, entry Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO acl_entries (id, resource_id, principal_id, principal_type, allowed, denied, expires_at, active, stop_inheritance)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id)
		 DO UPDATE SET allowed = $5, denied = $6, expires_at = $7, active = $8, stop_inheritance = $9`,
		entry.ID, entry.ResourceID, entry.PrincipalID, entry.PrincipalType,
		entry.Allowed, entry.Denied, entry.ExpiresAt, entry.Active, entry.StopInheritance)
	return err
}

// DeleteEntry removes an ACL entry.
func (s *Store) DeleteEntry(ctx context.Context, entryID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM acl_entries WHERE id = $1`, entryID)
	return err
}
