package maintenance_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"upkeep/internal/maintenance"
	"upkeep/internal/storage"
)

var errInjected = errors.New("injected storage failure")

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func datePtr(y int, m time.Month, d int) *time.Time {
	t := date(y, m, d)
	return &t
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func addTemplate(t *testing.T, s *storage.Store, tpl maintenance.Template) maintenance.Template {
	t.Helper()
	if tpl.Title == "" {
		tpl.Title = "Service " + tpl.ID
	}
	require.NoError(t, s.CreateTemplate(context.Background(), &tpl))
	return tpl
}

func templateTasks(t *testing.T, s *storage.Store, templateID string) []maintenance.Task {
	t.Helper()
	tasks, err := s.ListTasks(context.Background(), storage.TaskFilter{
		TemplateID:       templateID,
		IncludeCompleted: true,
		IncludeCancelled: true,
	})
	require.NoError(t, err)
	return tasks
}

func dueDates(tasks []maintenance.Task) []string {
	out := make([]string, 0, len(tasks))
	for _, task := range tasks {
		out = append(out, task.DueDate.Format("2006-01-02"))
	}
	return out
}

// faultyBackend is a real store whose transactional writes can be made to
// fail on demand.
type faultyBackend struct {
	*storage.Store
	failCreateForTemplate string
	failCreateSpawned     bool
	failAudit             bool
}

func (b *faultyBackend) InTx(ctx context.Context, fn func(ctx context.Context, s maintenance.Store) error) error {
	return b.Store.InTx(ctx, func(ctx context.Context, st maintenance.Store) error {
		return fn(ctx, faultyStore{Store: st, backend: b})
	})
}

func (b *faultyBackend) RecordAudit(ctx context.Context, e maintenance.AuditEntry) error {
	if b.failAudit {
		return errInjected
	}
	return b.Store.RecordAudit(ctx, e)
}

type faultyStore struct {
	maintenance.Store
	backend *faultyBackend
}

func (s faultyStore) CreateTask(ctx context.Context, task *maintenance.Task) error {
	if s.backend.failCreateForTemplate != "" && task.TemplateID == s.backend.failCreateForTemplate {
		return errInjected
	}
	if s.backend.failCreateSpawned && task.SpawnedFrom != "" {
		return errInjected
	}
	return s.Store.CreateTask(ctx, task)
}
