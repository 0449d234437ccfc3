// Package maintenance is the recurring-maintenance scheduling engine.
//
// A Template describes a cadence ("every 3 months, visible 7 days early").
// The Generator expands active templates into Task occurrences inside a
// lookahead horizon, and the TransitionHandler keeps a task's next-due preview
// and its follow-up occurrence consistent as the task is completed or reopened.
// Standalone recurring tasks use the same Task type with no TemplateID.
package maintenance

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// AssetStatusActive is the only asset status for which templates generate work.
const AssetStatusActive = "Active"

// ReasonPreviousReopened is the cancel reason stamped on a follow-up whose
// originating occurrence was reopened.
const ReasonPreviousReopened = "Previous occurrence reopened"

// Template is a recurrence definition from which occurrences are generated.
type Template struct {
	ID              string     `json:"id" yaml:"id"`
	AccountID       string     `json:"account_id" yaml:"account_id"`
	Title           string     `json:"title" yaml:"title"`
	Notes           string     `json:"notes,omitempty" yaml:"notes,omitempty"`
	CadenceMonths   int        `json:"cadence_months" yaml:"cadence_months"`
	LeadTimeDays    int        `json:"lead_time_days" yaml:"lead_time_days"`
	StartDate       *time.Time `json:"start_date,omitempty" yaml:"start_date,omitempty"`
	AssetID         string     `json:"asset_id,omitempty" yaml:"asset_id,omitempty"`
	Active          bool       `json:"active" yaml:"active"`
	LastGeneratedAt *time.Time `json:"last_generated_at,omitempty" yaml:"last_generated_at,omitempty"`
	NextScheduledAt *time.Time `json:"next_scheduled_at,omitempty" yaml:"next_scheduled_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at" yaml:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" yaml:"updated_at"`
}

// Task is one concrete occurrence, generated or user-created.
type Task struct {
	ID               string     `json:"id" yaml:"id"`
	AccountID        string     `json:"account_id" yaml:"account_id"`
	Title            string     `json:"title" yaml:"title"`
	Notes            string     `json:"notes,omitempty" yaml:"notes,omitempty"`
	DueDate          *time.Time `json:"due_date,omitempty" yaml:"due_date,omitempty"`
	NextDueDate      *time.Time `json:"next_due_date,omitempty" yaml:"next_due_date,omitempty"`
	Completed        bool       `json:"completed" yaml:"completed"`
	CompletedAt      *time.Time `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
	IsRecurring      bool       `json:"is_recurring" yaml:"is_recurring"`
	RecurrenceMonths *int       `json:"recurrence_months,omitempty" yaml:"recurrence_months,omitempty"`
	TemplateID       string     `json:"template_id,omitempty" yaml:"template_id,omitempty"`
	AssetID          string     `json:"asset_id,omitempty" yaml:"asset_id,omitempty"`
	// SpawnedFrom is the task whose completion created this follow-up.
	SpawnedFrom  string     `json:"spawned_from,omitempty" yaml:"spawned_from,omitempty"`
	CancelledAt  *time.Time `json:"cancelled_at,omitempty" yaml:"cancelled_at,omitempty"`
	CancelReason string     `json:"cancel_reason,omitempty" yaml:"cancel_reason,omitempty"`
	CreatedAt    time.Time  `json:"created_at" yaml:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" yaml:"updated_at"`
}

// Open reports whether the task still needs doing.
func (t *Task) Open() bool {
	return !t.Completed && t.CancelledAt == nil
}

// Clone returns a deep copy so before/after snapshots never share pointers.
func (t Task) Clone() Task {
	c := t
	c.DueDate = cloneTime(t.DueDate)
	c.NextDueDate = cloneTime(t.NextDueDate)
	c.CompletedAt = cloneTime(t.CompletedAt)
	c.CancelledAt = cloneTime(t.CancelledAt)
	if t.RecurrenceMonths != nil {
		m := *t.RecurrenceMonths
		c.RecurrenceMonths = &m
	}
	return c
}

// Asset is the piece of equipment or property a template maintains.
type Asset struct {
	ID        string    `json:"id" yaml:"id"`
	AccountID string    `json:"account_id" yaml:"account_id"`
	Name      string    `json:"name" yaml:"name"`
	Kind      string    `json:"kind,omitempty" yaml:"kind,omitempty"`
	Status    string    `json:"status" yaml:"status"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// AuditEntry is one append-only audit record.
type AuditEntry struct {
	ID        string    `json:"id" yaml:"id"`
	AccountID string    `json:"account_id" yaml:"account_id"`
	Entity    string    `json:"entity" yaml:"entity"`
	EntityID  string    `json:"entity_id" yaml:"entity_id"`
	Action    string    `json:"action" yaml:"action"`
	Detail    string    `json:"detail,omitempty" yaml:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// FollowUpKey identifies the speculative follow-up created when a task was
// completed. Only open, recurring, uncancelled tasks match.
type FollowUpKey struct {
	TemplateID  string
	AssetID     string
	DueDate     time.Time
	SpawnedFrom string
}

// Store is the durable collaborator the engine reads from and writes to.
// Lookups that find nothing return (nil, nil); Get* methods return a
// not-found error instead.
type Store interface {
	ListActiveTemplates(ctx context.Context, scope string) ([]Template, error)
	GetTemplate(ctx context.Context, id string) (*Template, error)
	CreateTemplate(ctx context.Context, tpl *Template) error
	UpdateTemplateSchedule(ctx context.Context, id string, lastGeneratedAt, nextScheduledAt *time.Time, at time.Time) error

	AssetStatus(ctx context.Context, assetID string) (string, error)

	CreateTask(ctx context.Context, task *Task) error
	GetTask(ctx context.Context, id string) (*Task, error)
	UpdateTask(ctx context.Context, task *Task) error
	FindTaskByTemplateDue(ctx context.Context, templateID string, due time.Time) (*Task, error)
	FindOpenFollowUp(ctx context.Context, key FollowUpKey) (*Task, error)
	UpdateTaskNextDue(ctx context.Context, id string, next *time.Time, at time.Time) error
	CancelTask(ctx context.Context, id string, at time.Time, reason string) error
	RestoreTask(ctx context.Context, id string, at time.Time) error
}

// AuditSink receives creation events. Failures are logged, never propagated.
type AuditSink interface {
	RecordAudit(ctx context.Context, entry AuditEntry) error
}

// Backend is a Store that can also run a function atomically and record audits.
// InTx commits when fn returns nil and rolls back otherwise.
type Backend interface {
	Store
	AuditSink
	InTx(ctx context.Context, fn func(ctx context.Context, s Store) error) error
}

func newID() string {
	return uuid.NewString()
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func intPtr(v int) *int {
	return &v
}
