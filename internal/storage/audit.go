package storage

import (
	"context"
	"fmt"

	"upkeep/internal/maintenance"
)

type auditRow struct {
	ID        string `db:"id"`
	AccountID string `db:"account_id"`
	Entity    string `db:"entity"`
	EntityID  string `db:"entity_id"`
	Action    string `db:"action"`
	Detail    string `db:"detail"`
	CreatedAt string `db:"created_at"`
}

// RecordAudit appends an entry. The audit log is never updated or deleted.
func (s *Store) RecordAudit(ctx context.Context, e maintenance.AuditEntry) error {
	_, err := s.exec(ctx, `INSERT INTO audit_log (id, account_id, entity, entity_id, action, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.AccountID, e.Entity, e.EntityID, e.Action, e.Detail, stamp(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// ListAudit returns the newest entries first. A limit of zero means 100.
func (s *Store) ListAudit(ctx context.Context, scope string, limit int) ([]maintenance.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, account_id, entity, entity_id, action, detail, created_at FROM audit_log`
	var args []any
	if scope != "" {
		query += ` WHERE account_id = ?`
		args = append(args, scope)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	var rows []auditRow
	if err := s.selectRows(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	out := make([]maintenance.AuditEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, maintenance.AuditEntry{
			ID:        r.ID,
			AccountID: r.AccountID,
			Entity:    r.Entity,
			EntityID:  r.EntityID,
			Action:    r.Action,
			Detail:    r.Detail,
			CreatedAt: parseStamp(r.CreatedAt),
		})
	}
	return out, nil
}
