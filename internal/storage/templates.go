package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	upkeeperrors "upkeep/internal/errors"
	"upkeep/internal/maintenance"
)

type templateRow struct {
	ID              string         `db:"id"`
	AccountID       string         `db:"account_id"`
	Title           string         `db:"title"`
	Notes           string         `db:"notes"`
	CadenceMonths   int            `db:"cadence_months"`
	LeadTimeDays    int            `db:"lead_time_days"`
	StartDate       sql.NullString `db:"start_date"`
	AssetID         sql.NullString `db:"asset_id"`
	Active          int            `db:"active"`
	LastGeneratedAt sql.NullString `db:"last_generated_at"`
	NextScheduledAt sql.NullString `db:"next_scheduled_at"`
	CreatedAt       string         `db:"created_at"`
	UpdatedAt       string         `db:"updated_at"`
}

const templateColumns = `id, account_id, title, notes, cadence_months, lead_time_days, start_date,
	asset_id, active, last_generated_at, next_scheduled_at, created_at, updated_at`

func (r templateRow) toTemplate() maintenance.Template {
	return maintenance.Template{
		ID:              r.ID,
		AccountID:       r.AccountID,
		Title:           r.Title,
		Notes:           r.Notes,
		CadenceMonths:   r.CadenceMonths,
		LeadTimeDays:    r.LeadTimeDays,
		StartDate:       parseDateCol(r.StartDate),
		AssetID:         r.AssetID.String,
		Active:          r.Active == 1,
		LastGeneratedAt: parseDateCol(r.LastGeneratedAt),
		NextScheduledAt: parseDateCol(r.NextScheduledAt),
		CreatedAt:       parseStamp(r.CreatedAt),
		UpdatedAt:       parseStamp(r.UpdatedAt),
	}
}

// CreateTemplate inserts tpl.
func (s *Store) CreateTemplate(ctx context.Context, tpl *maintenance.Template) error {
	_, err := s.exec(ctx, `INSERT INTO maintenance_templates (`+templateColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tpl.ID, tpl.AccountID, tpl.Title, tpl.Notes, tpl.CadenceMonths, tpl.LeadTimeDays,
		dateArg(tpl.StartDate), nullIfEmpty(tpl.AssetID), boolInt(tpl.Active),
		dateArg(tpl.LastGeneratedAt), dateArg(tpl.NextScheduledAt),
		stamp(tpl.CreatedAt), stamp(tpl.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert template: %w", err)
	}
	return nil
}

// GetTemplate returns TEMPLATE_NOT_FOUND when id is unknown.
func (s *Store) GetTemplate(ctx context.Context, id string) (*maintenance.Template, error) {
	var row templateRow
	err := s.get(ctx, &row, `SELECT `+templateColumns+` FROM maintenance_templates WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, upkeeperrors.ErrTemplateNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("get template %s: %w", id, err)
	}
	tpl := row.toTemplate()
	return &tpl, nil
}

// ListActiveTemplates returns active templates, optionally limited to one
// account, ordered by next scheduled date with never-scheduled ones first.
func (s *Store) ListActiveTemplates(ctx context.Context, scope string) ([]maintenance.Template, error) {
	query := `SELECT ` + templateColumns + ` FROM maintenance_templates WHERE active = 1`
	var args []any
	if scope != "" {
		query += ` AND account_id = ?`
		args = append(args, scope)
	}
	query += ` ORDER BY (next_scheduled_at IS NOT NULL), next_scheduled_at, created_at, id`
	return s.listTemplates(ctx, query, args...)
}

// ListTemplates returns every template in scope, inactive ones included.
func (s *Store) ListTemplates(ctx context.Context, scope string) ([]maintenance.Template, error) {
	query := `SELECT ` + templateColumns + ` FROM maintenance_templates`
	var args []any
	if scope != "" {
		query += ` WHERE account_id = ?`
		args = append(args, scope)
	}
	query += ` ORDER BY title, id`
	return s.listTemplates(ctx, query, args...)
}

func (s *Store) listTemplates(ctx context.Context, query string, args ...any) ([]maintenance.Template, error) {
	var rows []templateRow
	if err := s.selectRows(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	out := make([]maintenance.Template, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toTemplate())
	}
	return out, nil
}

// UpdateTemplateSchedule writes the generator bookkeeping fields, stamping
// updated_at with at.
func (s *Store) UpdateTemplateSchedule(ctx context.Context, id string, lastGeneratedAt, nextScheduledAt *time.Time, at time.Time) error {
	n, err := s.exec(ctx, `UPDATE maintenance_templates
		SET last_generated_at = ?, next_scheduled_at = ?, updated_at = ?
		WHERE id = ?`,
		dateArg(lastGeneratedAt), dateArg(nextScheduledAt), stamp(at), id)
	if err != nil {
		return fmt.Errorf("update template schedule: %w", err)
	}
	if n == 0 {
		return upkeeperrors.ErrTemplateNotFound(id)
	}
	return nil
}

// SetTemplateActive pauses or resumes generation without touching history.
func (s *Store) SetTemplateActive(ctx context.Context, id string, active bool) error {
	n, err := s.exec(ctx, `UPDATE maintenance_templates SET active = ?, updated_at = ? WHERE id = ?`,
		boolInt(active), nowStamp(), id)
	if err != nil {
		return fmt.Errorf("set template active: %w", err)
	}
	if n == 0 {
		return upkeeperrors.ErrTemplateNotFound(id)
	}
	return nil
}
