package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	upkeeperrors "upkeep/internal/errors"
	"upkeep/internal/recurrence"
)

// Transition is a task's state on either side of a user edit. At is the
// moment of the edit and is used for timestamps written by the handler.
type Transition struct {
	Before Task
	After  Task
	At     time.Time
}

// TransitionResult describes the derived side effects that were applied.
type TransitionResult struct {
	PreviewRefreshed bool       `json:"preview_refreshed" yaml:"preview_refreshed"`
	NextDueDate      *time.Time `json:"next_due_date,omitempty" yaml:"next_due_date,omitempty"`
	FollowUp         *Task      `json:"follow_up,omitempty" yaml:"follow_up,omitempty"`
	Cancelled        *Task      `json:"cancelled,omitempty" yaml:"cancelled,omitempty"`
}

// TransitionHandler derives and applies the consequences of a task edit:
// refresh the next-due preview, spawn a follow-up on completion and cancel
// that follow-up again on reopen. It never writes the edit itself.
type TransitionHandler struct {
	logger *slog.Logger
}

// NewTransitionHandler creates a handler. A nil logger uses slog.Default().
func NewTransitionHandler(logger *slog.Logger) *TransitionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &TransitionHandler{logger: logger}
}

// Apply runs against s, which must be the transaction the caller used to
// write tr.After so that the edit and its consequences commit together.
func (h *TransitionHandler) Apply(ctx context.Context, s Store, tr Transition) (TransitionResult, error) {
	var res TransitionResult
	after := tr.After.Clone()

	if !after.IsRecurring || after.RecurrenceMonths == nil || *after.RecurrenceMonths < 1 || after.CancelledAt != nil {
		return res, nil
	}

	expected := recurrence.ComputeNextDueDate(after.DueDate, after.RecurrenceMonths, nil)
	if !recurrence.EqualDates(expected, after.NextDueDate) {
		if err := s.UpdateTaskNextDue(ctx, after.ID, expected, tr.At); err != nil {
			return res, fmt.Errorf("refresh next due date for %s: %w", after.ID, err)
		}
		h.logger.Debug("next due date refreshed",
			"task", after.ID,
			"was", recurrence.FormatDate(after.NextDueDate),
			"now", recurrence.FormatDate(expected))
		after.NextDueDate = expected
		res.PreviewRefreshed = true
	}
	res.NextDueDate = cloneTime(after.NextDueDate)

	switch {
	case !tr.Before.Completed && after.Completed:
		followUp, err := h.spawnFollowUp(ctx, s, after, tr.At)
		if err != nil {
			return res, err
		}
		res.FollowUp = followUp
	case tr.Before.Completed && !after.Completed:
		cancelled, err := h.cancelFollowUp(ctx, s, after, tr.At)
		if err != nil {
			return res, err
		}
		res.Cancelled = cancelled
	}

	return res, nil
}

func (h *TransitionHandler) spawnFollowUp(ctx context.Context, s Store, after Task, at time.Time) (*Task, error) {
	if after.NextDueDate == nil {
		h.logger.Debug("completed recurring task has no next due date", "task", after.ID)
		return nil, nil
	}

	months := *after.RecurrenceMonths
	due := recurrence.AdjustToNextBusinessDay(*after.NextDueDate)
	next := recurrence.NextOccurrence(due, months)

	if after.TemplateID != "" {
		existing, err := s.FindTaskByTemplateDue(ctx, after.TemplateID, due)
		if err != nil {
			return nil, fmt.Errorf("check existing occurrence: %w", err)
		}
		if existing != nil && existing.CancelledAt != nil && existing.SpawnedFrom == after.ID {
			if err := s.RestoreTask(ctx, existing.ID, at); err != nil {
				return nil, fmt.Errorf("restore follow-up %s: %w", existing.ID, err)
			}
			existing.CancelledAt = nil
			existing.CancelReason = ""
			h.logger.Info("follow-up restored", "task", after.ID, "follow_up", existing.ID)
			return existing, nil
		}
		if existing != nil {
			h.logger.Debug("follow-up slot already occupied",
				"task", after.ID,
				"template", after.TemplateID,
				"existing", existing.ID,
				"due", due.Format(recurrence.DateLayout))
			return nil, nil
		}
	}

	followUp := Task{
		ID:               newID(),
		AccountID:        after.AccountID,
		Title:            after.Title,
		Notes:            after.Notes,
		DueDate:          &due,
		NextDueDate:      &next,
		IsRecurring:      true,
		RecurrenceMonths: intPtr(months),
		TemplateID:       after.TemplateID,
		AssetID:          after.AssetID,
		SpawnedFrom:      after.ID,
		CreatedAt:        at,
		UpdatedAt:        at,
	}
	if err := s.CreateTask(ctx, &followUp); err != nil {
		if upkeeperrors.HasCode(err, upkeeperrors.CodeDuplicateOccurrence) {
			h.logger.Debug("follow-up created concurrently", "task", after.ID, "due", due.Format(recurrence.DateLayout))
			return nil, nil
		}
		return nil, fmt.Errorf("create follow-up for %s: %w", after.ID, err)
	}

	if after.TemplateID != "" {
		if err := h.advanceTemplate(ctx, s, after.TemplateID, due, next, at); err != nil {
			return nil, err
		}
	}

	h.logger.Info("follow-up created",
		"task", after.ID,
		"follow_up", followUp.ID,
		"due", due.Format(recurrence.DateLayout))
	return &followUp, nil
}

// advanceTemplate records a follow-up in the template's bookkeeping. Neither
// field moves backwards, so a generator run that already went further wins.
func (h *TransitionHandler) advanceTemplate(ctx context.Context, s Store, templateID string, due, next, at time.Time) error {
	tpl, err := s.GetTemplate(ctx, templateID)
	if err != nil {
		if upkeeperrors.IsNotFound(err) {
			h.logger.Warn("follow-up references missing template", "template", templateID)
			return nil
		}
		return fmt.Errorf("load template %s: %w", templateID, err)
	}

	last := laterOf(tpl.LastGeneratedAt, due)
	scheduled := laterOf(tpl.NextScheduledAt, next)
	if recurrence.EqualDates(last, tpl.LastGeneratedAt) && recurrence.EqualDates(scheduled, tpl.NextScheduledAt) {
		return nil
	}
	if err := s.UpdateTemplateSchedule(ctx, templateID, last, scheduled, at); err != nil {
		return fmt.Errorf("update template %s schedule: %w", templateID, err)
	}
	return nil
}

func (h *TransitionHandler) cancelFollowUp(ctx context.Context, s Store, after Task, at time.Time) (*Task, error) {
	expected := after.NextDueDate
	if expected == nil {
		expected = recurrence.ComputeNextDueDate(after.DueDate, after.RecurrenceMonths, nil)
	}
	if expected == nil {
		return nil, nil
	}

	key := FollowUpKey{
		TemplateID:  after.TemplateID,
		AssetID:     after.AssetID,
		DueDate:     recurrence.AdjustToNextBusinessDay(*expected),
		SpawnedFrom: after.ID,
	}
	followUp, err := s.FindOpenFollowUp(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("find follow-up for %s: %w", after.ID, err)
	}
	if followUp == nil {
		return nil, nil
	}

	if err := s.CancelTask(ctx, followUp.ID, at, ReasonPreviousReopened); err != nil {
		return nil, fmt.Errorf("cancel follow-up %s: %w", followUp.ID, err)
	}
	followUp.CancelledAt = &at
	followUp.CancelReason = ReasonPreviousReopened

	h.logger.Info("follow-up cancelled", "task", after.ID, "follow_up", followUp.ID)
	return followUp, nil
}

func laterOf(current *time.Time, candidate time.Time) *time.Time {
	if current != nil && current.After(candidate) {
		return cloneTime(current)
	}
	return &candidate
}
