package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	upkeeperrors "upkeep/internal/errors"
	"upkeep/internal/recurrence"
)

// Service is the caller side of the engine: it writes a user's literal edit
// and runs the transition handler in the same transaction.
type Service struct {
	backend     Backend
	generator   *Generator
	transitions *TransitionHandler
	logger      *slog.Logger
	clock       func() time.Time
	lookahead   int
}

// Option configures a Service.
type Option func(*serviceOptions)

type serviceOptions struct {
	logger        *slog.Logger
	clock         func() time.Time
	lookahead     int
	maxIterations int
}

// WithLogger sets the logger for the service and the components it builds.
func WithLogger(logger *slog.Logger) Option {
	return func(o *serviceOptions) { o.logger = logger }
}

// WithClock sets the clock used for edit timestamps and default run times.
func WithClock(clock func() time.Time) Option {
	return func(o *serviceOptions) { o.clock = clock }
}

// WithLookahead sets the default lookahead for RunScheduler.
func WithLookahead(months int) Option {
	return func(o *serviceOptions) { o.lookahead = months }
}

// WithIterationCap sets the generator's per-template iteration cap.
func WithIterationCap(n int) Option {
	return func(o *serviceOptions) { o.maxIterations = n }
}

// NewService wires a generator and transition handler over backend.
func NewService(backend Backend, opts ...Option) *Service {
	o := serviceOptions{
		logger:        slog.Default(),
		clock:         func() time.Time { return time.Now().UTC() },
		lookahead:     DefaultLookaheadMonths,
		maxIterations: DefaultMaxIterations,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	return &Service{
		backend: backend,
		generator: NewGenerator(backend,
			WithGeneratorLogger(o.logger),
			WithGeneratorClock(o.clock),
			WithMaxIterations(o.maxIterations)),
		transitions: NewTransitionHandler(o.logger),
		logger:      o.logger,
		clock:       o.clock,
		lookahead:   o.lookahead,
	}
}

// TaskEdit is a partial update. Nil fields are left alone.
type TaskEdit struct {
	Title            *string
	Notes            *string
	DueDate          *time.Time
	ClearDueDate     bool
	Recurring        *bool
	RecurrenceMonths *int
	Completed        *bool
}

func (e TaskEdit) apply(t *Task) {
	if e.Title != nil {
		t.Title = *e.Title
	}
	if e.Notes != nil {
		t.Notes = *e.Notes
	}
	if e.ClearDueDate {
		t.DueDate = nil
	} else if e.DueDate != nil {
		d := recurrence.StartOfDay(*e.DueDate)
		t.DueDate = &d
	}
	if e.Recurring != nil {
		t.IsRecurring = *e.Recurring
	}
	if e.RecurrenceMonths != nil {
		t.RecurrenceMonths = intPtr(*e.RecurrenceMonths)
	}
	if e.Completed != nil {
		t.Completed = *e.Completed
	}
}

// CompleteTask marks a task complete, spawning its follow-up when recurring.
func (s *Service) CompleteTask(ctx context.Context, id string) (TransitionResult, error) {
	done := true
	return s.EditTask(ctx, id, TaskEdit{Completed: &done})
}

// ReopenTask marks a task open again, cancelling the follow-up its
// completion created.
func (s *Service) ReopenTask(ctx context.Context, id string) (TransitionResult, error) {
	open := false
	return s.EditTask(ctx, id, TaskEdit{Completed: &open})
}

// ToggleTask flips completion.
func (s *Service) ToggleTask(ctx context.Context, id string) (TransitionResult, error) {
	return s.UpdateTask(ctx, id, func(t *Task) error {
		t.Completed = !t.Completed
		return nil
	})
}

// EditTask applies edit and its derived consequences atomically.
func (s *Service) EditTask(ctx context.Context, id string, edit TaskEdit) (TransitionResult, error) {
	return s.UpdateTask(ctx, id, func(t *Task) error {
		edit.apply(t)
		return nil
	})
}

// UpdateTask loads task id, lets mutate change it, writes it, and applies the
// transition, all in one transaction. Unknown ids yield TASK_NOT_FOUND and
// storage failures TRANSACTION_FAILED; either way nothing is saved.
func (s *Service) UpdateTask(ctx context.Context, id string, mutate func(t *Task) error) (TransitionResult, error) {
	var res TransitionResult
	now := s.clock()

	err := s.backend.InTx(ctx, func(ctx context.Context, st Store) error {
		current, err := st.GetTask(ctx, id)
		if err != nil {
			return err
		}
		before := current.Clone()
		after := current.Clone()
		if err := mutate(&after); err != nil {
			return err
		}
		if err := validateTask(after); err != nil {
			return err
		}

		switch {
		case !before.Completed && after.Completed:
			after.CompletedAt = &now
		case before.Completed && !after.Completed:
			after.CompletedAt = nil
		}
		after.UpdatedAt = now

		if err := st.UpdateTask(ctx, &after); err != nil {
			return fmt.Errorf("write task: %w", err)
		}

		res, err = s.transitions.Apply(ctx, st, Transition{Before: before, After: after, At: now})
		return err
	})
	if err != nil {
		return TransitionResult{}, s.wrapTxError("update task "+id, err)
	}
	return res, nil
}

// CreateTask stores a user-created task. Recurring tasks get their next-due
// preview stamped.
func (s *Service) CreateTask(ctx context.Context, task *Task) error {
	now := s.clock()
	if task.ID == "" {
		task.ID = newID()
	}
	task.Title = strings.TrimSpace(task.Title)
	if task.Title == "" {
		return upkeeperrors.ErrTaskInvalid(task.ID, "title cannot be empty")
	}
	if task.DueDate != nil {
		d := recurrence.StartOfDay(*task.DueDate)
		task.DueDate = &d
	}
	if err := validateTask(*task); err != nil {
		return err
	}
	if task.IsRecurring {
		task.NextDueDate = recurrence.ComputeNextDueDate(task.DueDate, task.RecurrenceMonths, nil)
	} else {
		task.NextDueDate = nil
	}
	task.CreatedAt = now
	task.UpdatedAt = now

	err := s.backend.InTx(ctx, func(ctx context.Context, st Store) error {
		return st.CreateTask(ctx, task)
	})
	if err != nil {
		return s.wrapTxError("create task", err)
	}
	s.recordAudit(ctx, task.AccountID, "task", task.ID, "created", task.Title)
	return nil
}

// CreateTemplate validates and stores a template.
func (s *Service) CreateTemplate(ctx context.Context, tpl *Template) error {
	now := s.clock()
	if tpl.ID == "" {
		tpl.ID = newID()
	}
	tpl.Title = strings.TrimSpace(tpl.Title)
	if tpl.Title == "" {
		return upkeeperrors.ErrConfigInvalid("title", "template title cannot be empty")
	}
	if tpl.Active && tpl.CadenceMonths < 1 {
		return upkeeperrors.ErrCadenceInvalid(tpl.ID, tpl.CadenceMonths)
	}
	if tpl.LeadTimeDays < 0 {
		return upkeeperrors.ErrConfigInvalid("lead_time_days", "lead time cannot be negative")
	}
	if tpl.StartDate != nil {
		d := recurrence.StartOfDay(*tpl.StartDate)
		tpl.StartDate = &d
	}
	tpl.CreatedAt = now
	tpl.UpdatedAt = now

	err := s.backend.InTx(ctx, func(ctx context.Context, st Store) error {
		return st.CreateTemplate(ctx, tpl)
	})
	if err != nil {
		return s.wrapTxError("create template", err)
	}
	s.recordAudit(ctx, tpl.AccountID, "template", tpl.ID, "created", tpl.Title)
	return nil
}

// RunScheduler generates occurrences for scope. Zero lookahead uses the
// configured default and a zero now uses the service clock.
func (s *Service) RunScheduler(ctx context.Context, scope string, lookaheadMonths int, now time.Time) (*RunResult, error) {
	if lookaheadMonths <= 0 {
		lookaheadMonths = s.lookahead
	}
	if now.IsZero() {
		now = s.clock()
	}
	return s.generator.Run(ctx, RunOptions{Scope: scope, LookaheadMonths: lookaheadMonths, Now: now})
}

// RunTemplate generates occurrences for one template, looking ahead by its
// own cadence.
func (s *Service) RunTemplate(ctx context.Context, templateID string, now time.Time) (*RunResult, error) {
	if now.IsZero() {
		now = s.clock()
	}
	return s.generator.RunTemplate(ctx, templateID, now)
}

func (s *Service) recordAudit(ctx context.Context, account, entity, id, action, detail string) {
	entry := AuditEntry{
		ID:        newID(),
		AccountID: account,
		Entity:    entity,
		EntityID:  id,
		Action:    action,
		Detail:    detail,
		CreatedAt: s.clock(),
	}
	if err := s.backend.RecordAudit(ctx, entry); err != nil {
		s.logger.Warn("audit write failed", "entity", entity, "id", id, "error", err)
	}
}

// wrapTxError keeps structured errors as they are and reports anything else
// as a rolled-back transaction.
func (s *Service) wrapTxError(op string, err error) error {
	if upkeeperrors.AsError(err) != nil {
		return err
	}
	s.logger.Error("transaction rolled back", "op", op, "error", err)
	return upkeeperrors.ErrTransactionFailed(op, err)
}

func validateTask(t Task) error {
	if !t.IsRecurring {
		return nil
	}
	if t.RecurrenceMonths == nil || *t.RecurrenceMonths < 1 {
		return upkeeperrors.ErrTaskInvalid(t.ID, "recurring tasks need a recurrence of at least one month")
	}
	if t.DueDate == nil {
		return upkeeperrors.ErrTaskInvalid(t.ID, "recurring tasks need a due date")
	}
	return nil
}
