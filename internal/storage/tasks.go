package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	upkeeperrors "upkeep/internal/errors"
	"upkeep/internal/maintenance"
	"upkeep/internal/recurrence"
)

type taskRow struct {
	ID               string         `db:"id"`
	AccountID        string         `db:"account_id"`
	Title            string         `db:"title"`
	Notes            string         `db:"notes"`
	DueDate          sql.NullString `db:"due_date"`
	NextDueDate      sql.NullString `db:"next_due_date"`
	Completed        int            `db:"completed"`
	CompletedAt      sql.NullString `db:"completed_at"`
	IsRecurring      int            `db:"is_recurring"`
	RecurrenceMonths sql.NullInt64  `db:"recurrence_months"`
	TemplateID       sql.NullString `db:"template_id"`
	AssetID          sql.NullString `db:"asset_id"`
	SpawnedFrom      sql.NullString `db:"spawned_from"`
	CancelledAt      sql.NullString `db:"cancelled_at"`
	CancelReason     sql.NullString `db:"cancel_reason"`
	CreatedAt        string         `db:"created_at"`
	UpdatedAt        string         `db:"updated_at"`
}

const taskColumns = `id, account_id, title, notes, due_date, next_due_date, completed, completed_at,
	is_recurring, recurrence_months, template_id, asset_id, spawned_from, cancelled_at, cancel_reason,
	created_at, updated_at`

func (r taskRow) toTask() maintenance.Task {
	t := maintenance.Task{
		ID:           r.ID,
		AccountID:    r.AccountID,
		Title:        r.Title,
		Notes:        r.Notes,
		DueDate:      parseDateCol(r.DueDate),
		NextDueDate:  parseDateCol(r.NextDueDate),
		Completed:    r.Completed == 1,
		CompletedAt:  parseStampCol(r.CompletedAt),
		IsRecurring:  r.IsRecurring == 1,
		TemplateID:   r.TemplateID.String,
		AssetID:      r.AssetID.String,
		SpawnedFrom:  r.SpawnedFrom.String,
		CancelledAt:  parseStampCol(r.CancelledAt),
		CancelReason: r.CancelReason.String,
		CreatedAt:    parseStamp(r.CreatedAt),
		UpdatedAt:    parseStamp(r.UpdatedAt),
	}
	if r.RecurrenceMonths.Valid {
		m := int(r.RecurrenceMonths.Int64)
		t.RecurrenceMonths = &m
	}
	return t
}

// TaskFilter narrows ListTasks.
type TaskFilter struct {
	AccountID        string
	TemplateID       string
	IncludeCompleted bool
	IncludeCancelled bool
}

// CreateTask inserts task. A second occurrence for the same template and due
// date yields DUPLICATE_OCCURRENCE. The conflict is absorbed by the insert
// itself, so an enclosing transaction stays usable on every dialect.
func (s *Store) CreateTask(ctx context.Context, task *maintenance.Task) error {
	n, err := s.exec(ctx, `INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (template_id, due_date) DO NOTHING`,
		task.ID, task.AccountID, task.Title, task.Notes,
		dateArg(task.DueDate), dateArg(task.NextDueDate),
		boolInt(task.Completed), stampArg(task.CompletedAt),
		boolInt(task.IsRecurring), intArg(task.RecurrenceMonths),
		nullIfEmpty(task.TemplateID), nullIfEmpty(task.AssetID), nullIfEmpty(task.SpawnedFrom),
		stampArg(task.CancelledAt), nullIfEmpty(task.CancelReason),
		stamp(task.CreatedAt), stamp(task.UpdatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return upkeeperrors.ErrDuplicateOccurrence(task.TemplateID, recurrence.FormatDate(task.DueDate)).WithCause(err)
		}
		return fmt.Errorf("insert task: %w", err)
	}
	if n == 0 {
		return upkeeperrors.ErrDuplicateOccurrence(task.TemplateID, recurrence.FormatDate(task.DueDate))
	}
	return nil
}

// GetTask returns TASK_NOT_FOUND when id is unknown.
func (s *Store) GetTask(ctx context.Context, id string) (*maintenance.Task, error) {
	var row taskRow
	err := s.get(ctx, &row, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, upkeeperrors.ErrTaskNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	t := row.toTask()
	return &t, nil
}

// UpdateTask writes the user-editable fields of task.
func (s *Store) UpdateTask(ctx context.Context, task *maintenance.Task) error {
	updated := task.UpdatedAt
	if updated.IsZero() {
		updated = time.Now().UTC()
	}
	n, err := s.exec(ctx, `UPDATE tasks SET
			title = ?, notes = ?, due_date = ?, next_due_date = ?, completed = ?, completed_at = ?,
			is_recurring = ?, recurrence_months = ?, updated_at = ?
		WHERE id = ?`,
		task.Title, task.Notes, dateArg(task.DueDate), dateArg(task.NextDueDate),
		boolInt(task.Completed), stampArg(task.CompletedAt),
		boolInt(task.IsRecurring), intArg(task.RecurrenceMonths), stamp(updated),
		task.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return upkeeperrors.ErrDuplicateOccurrence(task.TemplateID, recurrence.FormatDate(task.DueDate)).WithCause(err)
		}
		return fmt.Errorf("update task: %w", err)
	}
	if n == 0 {
		return upkeeperrors.ErrTaskNotFound(task.ID)
	}
	return nil
}

// DeleteTask removes a task. Only users delete tasks; the engine never does.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	n, err := s.exec(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if n == 0 {
		return upkeeperrors.ErrTaskNotFound(id)
	}
	return nil
}

// ListTasks returns tasks ordered by due date, undated last.
func (s *Store) ListTasks(ctx context.Context, f TaskFilter) ([]maintenance.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE 1 = 1`
	var args []any
	if f.AccountID != "" {
		query += ` AND account_id = ?`
		args = append(args, f.AccountID)
	}
	if f.TemplateID != "" {
		query += ` AND template_id = ?`
		args = append(args, f.TemplateID)
	}
	if !f.IncludeCompleted {
		query += ` AND completed = 0`
	}
	if !f.IncludeCancelled {
		query += ` AND cancelled_at IS NULL`
	}
	query += ` ORDER BY (due_date IS NULL), due_date, created_at, id`

	var rows []taskRow
	if err := s.selectRows(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	out := make([]maintenance.Task, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toTask())
	}
	return out, nil
}

// FindTaskByTemplateDue looks up the occurrence at (templateID, due) in any
// state. It returns nil when there is none.
func (s *Store) FindTaskByTemplateDue(ctx context.Context, templateID string, due time.Time) (*maintenance.Task, error) {
	return s.findOne(ctx, `SELECT `+taskColumns+` FROM tasks WHERE template_id = ? AND due_date = ?`,
		templateID, due.Format(recurrence.DateLayout))
}

// FindOpenFollowUp looks up the open follow-up identified by key. Empty
// template or asset ids match NULL columns.
func (s *Store) FindOpenFollowUp(ctx context.Context, key maintenance.FollowUpKey) (*maintenance.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks
		WHERE due_date = ? AND is_recurring = 1 AND completed = 0 AND cancelled_at IS NULL
		AND spawned_from = ?`
	args := []any{key.DueDate.Format(recurrence.DateLayout), key.SpawnedFrom}
	query, args = matchNullable(query, args, "template_id", key.TemplateID)
	query, args = matchNullable(query, args, "asset_id", key.AssetID)
	query += ` ORDER BY created_at, id`
	return s.findOne(ctx, query, args...)
}

func matchNullable(query string, args []any, column, value string) (string, []any) {
	if value == "" {
		return query + ` AND ` + column + ` IS NULL`, args
	}
	return query + ` AND ` + column + ` = ?`, append(args, value)
}

func (s *Store) findOne(ctx context.Context, query string, args ...any) (*maintenance.Task, error) {
	var rows []taskRow
	if err := s.selectRows(ctx, &rows, query+` LIMIT 1`, args...); err != nil {
		return nil, fmt.Errorf("find task: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	t := rows[0].toTask()
	return &t, nil
}

// UpdateTaskNextDue corrects the cached next-due preview.
func (s *Store) UpdateTaskNextDue(ctx context.Context, id string, next *time.Time, at time.Time) error {
	n, err := s.exec(ctx, `UPDATE tasks SET next_due_date = ?, updated_at = ? WHERE id = ?`,
		dateArg(next), stamp(at), id)
	if err != nil {
		return fmt.Errorf("update next due date: %w", err)
	}
	if n == 0 {
		return upkeeperrors.ErrTaskNotFound(id)
	}
	return nil
}

// CancelTask marks a task cancelled with reason.
func (s *Store) CancelTask(ctx context.Context, id string, at time.Time, reason string) error {
	n, err := s.exec(ctx, `UPDATE tasks SET cancelled_at = ?, cancel_reason = ?, updated_at = ? WHERE id = ?`,
		stamp(at), reason, stamp(at), id)
	if err != nil {
		return fmt.Errorf("cancel task: %w", err)
	}
	if n == 0 {
		return upkeeperrors.ErrTaskNotFound(id)
	}
	return nil
}

// RestoreTask clears a cancellation.
func (s *Store) RestoreTask(ctx context.Context, id string, at time.Time) error {
	n, err := s.exec(ctx, `UPDATE tasks SET cancelled_at = NULL, cancel_reason = NULL, updated_at = ? WHERE id = ?`,
		stamp(at), id)
	if err != nil {
		return fmt.Errorf("restore task: %w", err)
	}
	if n == 0 {
		return upkeeperrors.ErrTaskNotFound(id)
	}
	return nil
}
