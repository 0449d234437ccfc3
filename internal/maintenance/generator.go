package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	upkeeperrors "upkeep/internal/errors"
	"upkeep/internal/recurrence"
)

const (
	// DefaultLookaheadMonths is the horizon used when a run does not set one.
	DefaultLookaheadMonths = 12
	// DefaultMaxIterations bounds the occurrences walked per template per run.
	DefaultMaxIterations = 48
)

// RunOptions scope a generator run. A zero Now uses the generator's clock.
type RunOptions struct {
	Scope           string
	LookaheadMonths int
	Now             time.Time
}

// RunResult summarizes a generator run.
type RunResult struct {
	Processed   int              `json:"processed" yaml:"processed"`
	Created     int              `json:"created" yaml:"created"`
	Horizon     string           `json:"horizon" yaml:"horizon"`
	PerTemplate []TemplateResult `json:"per_template" yaml:"per_template"`
}

// TemplateResult is the outcome for one template. Skips and errors are
// recorded here rather than failing the batch.
type TemplateResult struct {
	TemplateID      string   `json:"template_id" yaml:"template_id"`
	Title           string   `json:"title" yaml:"title"`
	Created         int      `json:"created" yaml:"created"`
	CreatedDue      []string `json:"created_due,omitempty" yaml:"created_due,omitempty"`
	Skipped         bool     `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	SkipReason      string   `json:"skip_reason,omitempty" yaml:"skip_reason,omitempty"`
	CapReached      bool     `json:"cap_reached,omitempty" yaml:"cap_reached,omitempty"`
	LastGeneratedAt string   `json:"last_generated_at,omitempty" yaml:"last_generated_at,omitempty"`
	NextScheduledAt string   `json:"next_scheduled_at,omitempty" yaml:"next_scheduled_at,omitempty"`
	Error           string   `json:"error,omitempty" yaml:"error,omitempty"`
}

// Generator walks active templates and creates the occurrences that are due
// inside the horizon and already inside their lead window. Creation is gated
// on an existence check at (template, due date), so reruns create nothing new.
type Generator struct {
	backend       Backend
	logger        *slog.Logger
	clock         func() time.Time
	maxIterations int
	flight        singleflight.Group
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

// WithGeneratorLogger sets the logger.
func WithGeneratorLogger(logger *slog.Logger) GeneratorOption {
	return func(g *Generator) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithGeneratorClock sets the clock used when RunOptions.Now is zero.
func WithGeneratorClock(clock func() time.Time) GeneratorOption {
	return func(g *Generator) {
		if clock != nil {
			g.clock = clock
		}
	}
}

// WithMaxIterations overrides the per-template iteration cap.
func WithMaxIterations(n int) GeneratorOption {
	return func(g *Generator) {
		if n > 0 {
			g.maxIterations = n
		}
	}
}

// NewGenerator creates a generator over backend.
func NewGenerator(backend Backend, opts ...GeneratorOption) *Generator {
	g := &Generator{
		backend:       backend,
		logger:        slog.Default(),
		clock:         func() time.Time { return time.Now().UTC() },
		maxIterations: DefaultMaxIterations,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Run processes every active template in opts.Scope, ordered by next
// scheduled date. Concurrent runs with the same scope, day and lookahead
// share one execution; runs that differ in any of those execute separately.
func (g *Generator) Run(ctx context.Context, opts RunOptions) (*RunResult, error) {
	if opts.Now.IsZero() {
		opts.Now = g.clock()
	}
	if opts.LookaheadMonths <= 0 {
		opts.LookaheadMonths = DefaultLookaheadMonths
	}

	key := fmt.Sprintf("scope:%s:%s:%d", opts.Scope, opts.Now.Format(recurrence.DateLayout), opts.LookaheadMonths)
	v, err, shared := g.flight.Do(key, func() (any, error) {
		return g.run(ctx, opts)
	})
	if shared {
		g.logger.Debug("joined in-flight scheduler run", "scope", opts.Scope, "now", opts.Now.Format(recurrence.DateLayout))
	}
	if err != nil {
		return nil, err
	}
	return v.(*RunResult), nil
}

// RunTemplate processes a single template using its own cadence as lookahead.
func (g *Generator) RunTemplate(ctx context.Context, templateID string, now time.Time) (*RunResult, error) {
	tpl, err := g.backend.GetTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}
	if now.IsZero() {
		now = g.clock()
	}
	lookahead := tpl.CadenceMonths
	if lookahead < 1 {
		lookahead = 1
	}

	key := fmt.Sprintf("template:%s:%s:%d", templateID, now.Format(recurrence.DateLayout), lookahead)
	v, err, _ := g.flight.Do(key, func() (any, error) {
		horizon := recurrence.AddMonths(now, lookahead)
		res := &RunResult{Horizon: horizon.Format(recurrence.DateLayout)}
		if !tpl.Active {
			res.Processed = 1
			res.PerTemplate = append(res.PerTemplate, skipped(*tpl, "template is inactive"))
			return res, nil
		}
		g.collect(res, g.processTemplate(ctx, *tpl, now, horizon))
		return res, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*RunResult), nil
}

func (g *Generator) run(ctx context.Context, opts RunOptions) (*RunResult, error) {
	now := opts.Now
	horizon := recurrence.AddMonths(now, opts.LookaheadMonths)

	templates, err := g.backend.ListActiveTemplates(ctx, opts.Scope)
	if err != nil {
		return nil, fmt.Errorf("list active templates: %w", err)
	}

	res := &RunResult{Horizon: horizon.Format(recurrence.DateLayout)}
	for _, tpl := range templates {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		g.collect(res, g.processTemplate(ctx, tpl, now, horizon))
	}

	g.logger.Info("maintenance scheduler run",
		"scope", opts.Scope,
		"processed", res.Processed,
		"created", res.Created,
		"horizon", res.Horizon)
	return res, nil
}

func (g *Generator) collect(res *RunResult, tr TemplateResult) {
	res.Processed++
	res.Created += tr.Created
	res.PerTemplate = append(res.PerTemplate, tr)
}

func skipped(tpl Template, reason string) TemplateResult {
	return TemplateResult{
		TemplateID: tpl.ID,
		Title:      tpl.Title,
		Skipped:    true,
		SkipReason: reason,
	}
}

// processTemplate runs one template's loop and bookkeeping in its own
// transaction. Audit entries are written only after that transaction commits.
func (g *Generator) processTemplate(ctx context.Context, tpl Template, now, horizon time.Time) TemplateResult {
	res := TemplateResult{TemplateID: tpl.ID, Title: tpl.Title}
	var created []Task
	// now drives the schedule and may be simulated; rows are stamped with the clock.
	stamped := g.clock()

	err := g.backend.InTx(ctx, func(ctx context.Context, s Store) error {
		if reason, err := g.skipReason(ctx, s, tpl); err != nil {
			return err
		} else if reason != "" {
			res = skipped(tpl, reason)
			return nil
		}

		due := startingDue(tpl, now)
		var lastCreated *time.Time

		for i := 0; !due.After(horizon); i++ {
			if i >= g.maxIterations {
				res.CapReached = true
				g.logger.Warn("template iteration cap reached",
					"template", tpl.ID,
					"cap", g.maxIterations,
					"resume_at", due.Format(recurrence.DateLayout))
				break
			}

			availableFrom := due.AddDate(0, 0, -tpl.LeadTimeDays)
			if availableFrom.After(now) {
				break
			}

			nextCandidate := recurrence.NextOccurrence(due, tpl.CadenceMonths)

			task, err := g.createIfMissing(ctx, s, tpl, due, nextCandidate, stamped)
			if err != nil {
				return err
			}
			if task != nil {
				created = append(created, *task)
				d := due
				lastCreated = &d
			}

			if recurrence.SameDay(nextCandidate, due) {
				break
			}
			due = nextCandidate
		}

		last := tpl.LastGeneratedAt
		if lastCreated != nil {
			last = lastCreated
		}
		next := tpl.NextScheduledAt
		moved := !recurrence.EqualDates(&due, tpl.NextScheduledAt)
		if moved {
			next = &due
		}
		if lastCreated != nil || moved {
			if err := s.UpdateTemplateSchedule(ctx, tpl.ID, last, next, stamped); err != nil {
				return fmt.Errorf("update template schedule: %w", err)
			}
		}
		res.LastGeneratedAt = recurrence.FormatDate(last)
		res.NextScheduledAt = recurrence.FormatDate(next)
		return nil
	})
	if err != nil {
		g.logger.Error("template processing failed", "template", tpl.ID, "error", err)
		return TemplateResult{TemplateID: tpl.ID, Title: tpl.Title, Error: err.Error()}
	}

	if res.Skipped {
		g.logger.Warn("template skipped", "template", tpl.ID, "reason", res.SkipReason)
		return res
	}

	for _, task := range created {
		res.Created++
		res.CreatedDue = append(res.CreatedDue, recurrence.FormatDate(task.DueDate))
		g.audit(ctx, tpl, task, stamped)
	}
	return res
}

// skipReason returns a non-empty reason when tpl must not generate this run.
func (g *Generator) skipReason(ctx context.Context, s Store, tpl Template) (string, error) {
	if tpl.AssetID != "" {
		status, err := s.AssetStatus(ctx, tpl.AssetID)
		if err != nil {
			if upkeeperrors.IsNotFound(err) {
				return "linked asset not found", nil
			}
			return "", fmt.Errorf("asset status: %w", err)
		}
		if status != AssetStatusActive {
			return fmt.Sprintf("linked asset status is %q", status), nil
		}
	}
	if tpl.CadenceMonths <= 0 {
		return upkeeperrors.ErrCadenceInvalid(tpl.ID, tpl.CadenceMonths).Error(), nil
	}
	return "", nil
}

// startingDue resumes from the template's bookmark, falling back to the last
// generated date, the start date and finally now.
func startingDue(tpl Template, now time.Time) time.Time {
	switch {
	case tpl.NextScheduledAt != nil:
		return recurrence.AdjustToNextBusinessDay(*tpl.NextScheduledAt)
	case tpl.LastGeneratedAt != nil:
		return recurrence.NextOccurrence(*tpl.LastGeneratedAt, tpl.CadenceMonths)
	case tpl.StartDate != nil:
		return recurrence.AdjustToNextBusinessDay(*tpl.StartDate)
	default:
		return recurrence.AdjustToNextBusinessDay(now)
	}
}

// createIfMissing returns the created task, or nil when an occurrence for
// (template, due) already exists. A uniqueness violation from a concurrent
// writer counts as already existing.
func (g *Generator) createIfMissing(ctx context.Context, s Store, tpl Template, due, next, stamped time.Time) (*Task, error) {
	existing, err := s.FindTaskByTemplateDue(ctx, tpl.ID, due)
	if err != nil {
		return nil, fmt.Errorf("find occurrence %s: %w", due.Format(recurrence.DateLayout), err)
	}
	if existing != nil {
		return nil, nil
	}

	d, n := due, next
	task := Task{
		ID:               newID(),
		AccountID:        tpl.AccountID,
		Title:            tpl.Title,
		Notes:            tpl.Notes,
		DueDate:          &d,
		NextDueDate:      &n,
		IsRecurring:      true,
		RecurrenceMonths: intPtr(tpl.CadenceMonths),
		TemplateID:       tpl.ID,
		AssetID:          tpl.AssetID,
		CreatedAt:        stamped,
		UpdatedAt:        stamped,
	}
	if err := s.CreateTask(ctx, &task); err != nil {
		if upkeeperrors.HasCode(err, upkeeperrors.CodeDuplicateOccurrence) {
			g.logger.Debug("occurrence created concurrently", "template", tpl.ID, "due", due.Format(recurrence.DateLayout))
			return nil, nil
		}
		return nil, fmt.Errorf("create occurrence %s: %w", due.Format(recurrence.DateLayout), err)
	}

	g.logger.Debug("occurrence created", "template", tpl.ID, "task", task.ID, "due", due.Format(recurrence.DateLayout))
	return &task, nil
}

func (g *Generator) audit(ctx context.Context, tpl Template, task Task, at time.Time) {
	entry := AuditEntry{
		ID:        newID(),
		AccountID: tpl.AccountID,
		Entity:    "task",
		EntityID:  task.ID,
		Action:    "generated",
		Detail:    fmt.Sprintf("template %s due %s", tpl.ID, recurrence.FormatDate(task.DueDate)),
		CreatedAt: at,
	}
	if err := g.backend.RecordAudit(ctx, entry); err != nil {
		g.logger.Warn("audit write failed", "task", task.ID, "error", err)
	}
}
