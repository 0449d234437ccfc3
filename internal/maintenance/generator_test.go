package maintenance_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	upkeeperrors "upkeep/internal/errors"
	"upkeep/internal/maintenance"
	"upkeep/internal/storage"
)

func quarterly(id string) maintenance.Template {
	return maintenance.Template{
		ID:            id,
		AccountID:     "acct",
		CadenceMonths: 3,
		LeadTimeDays:  7,
		StartDate:     datePtr(2024, 1, 1),
		Active:        true,
	}
}

func newGenerator(b maintenance.Backend, opts ...maintenance.GeneratorOption) *maintenance.Generator {
	return maintenance.NewGenerator(b, append([]maintenance.GeneratorOption{maintenance.WithGeneratorLogger(quietLogger())}, opts...)...)
}

func TestGenerator_FirstRunRespectsLeadTime(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := storage.NewTestStore(t)
	addTemplate(t, s, quarterly("tpl"))
	g := newGenerator(s)

	res, err := g.Run(ctx, maintenance.RunOptions{Scope: "acct", LookaheadMonths: 12, Now: date(2024, 1, 1)})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, "2025-01-01", res.Horizon)
	require.Len(t, res.PerTemplate, 1)
	assert.Equal(t, []string{"2024-01-01"}, res.PerTemplate[0].CreatedDue)
	assert.Equal(t, "2024-01-01", res.PerTemplate[0].LastGeneratedAt)
	assert.Equal(t, "2024-04-01", res.PerTemplate[0].NextScheduledAt)

	tasks := templateTasks(t, s, "tpl")
	require.Len(t, tasks, 1)
	task := tasks[0]
	assert.True(t, task.IsRecurring)
	require.NotNil(t, task.RecurrenceMonths)
	assert.Equal(t, 3, *task.RecurrenceMonths)
	assert.Equal(t, datePtr(2024, 4, 1), task.NextDueDate)
	assert.Equal(t, "acct", task.AccountID)

	tpl, err := s.GetTemplate(ctx, "tpl")
	require.NoError(t, err)
	assert.Equal(t, datePtr(2024, 1, 1), tpl.LastGeneratedAt)
	assert.Equal(t, datePtr(2024, 4, 1), tpl.NextScheduledAt)
}

func TestGenerator_Idempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := storage.NewTestStore(t)
	addTemplate(t, s, quarterly("tpl"))
	g := newGenerator(s)
	opts := maintenance.RunOptions{LookaheadMonths: 12, Now: date(2024, 9, 25)}

	first, err := g.Run(ctx, opts)
	require.NoError(t, err)
	require.Positive(t, first.Created)

	second, err := g.Run(ctx, opts)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Created)
	assert.Len(t, templateTasks(t, s, "tpl"), first.Created)
}

func TestGenerator_CatchesUpFromBookmark(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := storage.NewTestStore(t)
	addTemplate(t, s, quarterly("tpl"))
	g := newGenerator(s)

	_, err := g.Run(ctx, maintenance.RunOptions{LookaheadMonths: 12, Now: date(2024, 1, 1)})
	require.NoError(t, err)

	res, err := g.Run(ctx, maintenance.RunOptions{LookaheadMonths: 12, Now: date(2024, 9, 25)})
	require.NoError(t, err)
	require.Len(t, res.PerTemplate, 1)
	assert.Equal(t, []string{"2024-04-01", "2024-07-01", "2024-10-01"}, res.PerTemplate[0].CreatedDue)
	assert.Equal(t, "2025-01-01", res.PerTemplate[0].NextScheduledAt)

	assert.Equal(t,
		[]string{"2024-01-01", "2024-04-01", "2024-07-01", "2024-10-01"},
		dueDates(templateTasks(t, s, "tpl")))
}

func TestGenerator_BusinessDayDueDates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := storage.NewTestStore(t)
	tpl := quarterly("tpl")
	// 2024-06-01 is a Saturday.
	tpl.StartDate = datePtr(2024, 6, 1)
	tpl.LeadTimeDays = 0
	addTemplate(t, s, tpl)

	res, err := newGenerator(s).Run(ctx, maintenance.RunOptions{Now: date(2024, 6, 5)})
	require.NoError(t, err)
	require.Len(t, res.PerTemplate, 1)
	assert.Equal(t, []string{"2024-06-03"}, res.PerTemplate[0].CreatedDue)
	for _, task := range templateTasks(t, s, "tpl") {
		assert.NotContains(t, []string{"Saturday", "Sunday"}, task.DueDate.Weekday().String())
	}
}

func TestGenerator_StopsAtHorizon(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := storage.NewTestStore(t)
	tpl := quarterly("tpl")
	tpl.LeadTimeDays = 400
	addTemplate(t, s, tpl)

	res, err := newGenerator(s).Run(ctx, maintenance.RunOptions{LookaheadMonths: 6, Now: date(2024, 1, 1)})
	require.NoError(t, err)
	require.Len(t, res.PerTemplate, 1)
	assert.Equal(t, []string{"2024-01-01", "2024-04-01", "2024-07-01"}, res.PerTemplate[0].CreatedDue)
	assert.Equal(t, "2024-10-01", res.PerTemplate[0].NextScheduledAt)
	assert.False(t, res.PerTemplate[0].CapReached)
}

func TestGenerator_IterationCap(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := storage.NewTestStore(t)
	tpl := quarterly("tpl")
	tpl.CadenceMonths = 1
	tpl.LeadTimeDays = 10000
	addTemplate(t, s, tpl)
	g := newGenerator(s)
	opts := maintenance.RunOptions{LookaheadMonths: 60, Now: date(2024, 1, 1)}

	res, err := g.Run(ctx, opts)
	require.NoError(t, err)
	require.Len(t, res.PerTemplate, 1)
	assert.Equal(t, maintenance.DefaultMaxIterations, res.Created)
	assert.True(t, res.PerTemplate[0].CapReached)

	// The next run resumes where the cap stopped.
	res, err = g.Run(ctx, opts)
	require.NoError(t, err)
	assert.Positive(t, res.Created)
	assert.False(t, res.PerTemplate[0].CapReached)
}

func TestGenerator_CustomIterationCap(t *testing.T) {
	t.Parallel()
	s := storage.NewTestStore(t)
	tpl := quarterly("tpl")
	tpl.CadenceMonths = 1
	tpl.LeadTimeDays = 10000
	addTemplate(t, s, tpl)

	res, err := newGenerator(s, maintenance.WithMaxIterations(5)).
		Run(context.Background(), maintenance.RunOptions{LookaheadMonths: 24, Now: date(2024, 1, 1)})
	require.NoError(t, err)
	assert.Equal(t, 5, res.Created)
	assert.True(t, res.PerTemplate[0].CapReached)
}

func TestGenerator_SkipsTemplates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := storage.NewTestStore(t)

	require.NoError(t, s.CreateAsset(ctx, &maintenance.Asset{ID: "retired", AccountID: "acct", Name: "Old van", Status: "Retired"}))
	withAsset := quarterly("retired-asset")
	withAsset.AssetID = "retired"
	addTemplate(t, s, withAsset)

	badCadence := quarterly("bad-cadence")
	badCadence.CadenceMonths = 0
	addTemplate(t, s, badCadence)

	healthy := quarterly("healthy")
	addTemplate(t, s, healthy)

	res, err := newGenerator(s).Run(ctx, maintenance.RunOptions{Now: date(2024, 1, 1)})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Processed)
	assert.Equal(t, 1, res.Created)

	byID := map[string]maintenance.TemplateResult{}
	for _, tr := range res.PerTemplate {
		byID[tr.TemplateID] = tr
	}
	assert.True(t, byID["retired-asset"].Skipped)
	assert.Contains(t, byID["retired-asset"].SkipReason, "Retired")
	assert.True(t, byID["bad-cadence"].Skipped)
	assert.Contains(t, byID["bad-cadence"].SkipReason, "invalid cadence 0")
	assert.False(t, byID["healthy"].Skipped)

	assert.Empty(t, templateTasks(t, s, "retired-asset"))
	assert.Empty(t, templateTasks(t, s, "bad-cadence"))
}

func TestGenerator_ScopeAndInactive(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := storage.NewTestStore(t)

	addTemplate(t, s, quarterly("mine"))
	other := quarterly("theirs")
	other.AccountID = "other"
	addTemplate(t, s, other)
	paused := quarterly("paused")
	addTemplate(t, s, paused)
	require.NoError(t, s.SetTemplateActive(ctx, "paused", false))

	res, err := newGenerator(s).Run(ctx, maintenance.RunOptions{Scope: "acct", Now: date(2024, 1, 1)})
	require.NoError(t, err)
	require.Len(t, res.PerTemplate, 1)
	assert.Equal(t, "mine", res.PerTemplate[0].TemplateID)
	assert.Empty(t, templateTasks(t, s, "theirs"))
	assert.Empty(t, templateTasks(t, s, "paused"))
}

func TestGenerator_IsolatesTemplateFailures(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := storage.NewTestStore(t)
	addTemplate(t, s, quarterly("broken"))
	addTemplate(t, s, quarterly("fine"))
	b := &faultyBackend{Store: s, failCreateForTemplate: "broken"}

	res, err := newGenerator(b).Run(ctx, maintenance.RunOptions{Now: date(2024, 1, 1)})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, 1, res.Created)

	for _, tr := range res.PerTemplate {
		switch tr.TemplateID {
		case "broken":
			assert.Contains(t, tr.Error, errInjected.Error())
			assert.Zero(t, tr.Created)
		case "fine":
			assert.Empty(t, tr.Error)
			assert.Equal(t, 1, tr.Created)
		}
	}

	broken, err := s.GetTemplate(ctx, "broken")
	require.NoError(t, err)
	assert.Nil(t, broken.NextScheduledAt, "failed template keeps its bookmark")
	assert.Empty(t, templateTasks(t, s, "broken"))
}

func TestGenerator_AuditEntries(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := storage.NewTestStore(t)
	addTemplate(t, s, quarterly("tpl"))

	_, err := newGenerator(s).Run(ctx, maintenance.RunOptions{Now: date(2024, 1, 1)})
	require.NoError(t, err)

	entries, err := s.ListAudit(ctx, "acct", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "generated", entries[0].Action)
	assert.Equal(t, "task", entries[0].Entity)
	assert.Contains(t, entries[0].Detail, "2024-01-01")
}

func TestGenerator_AuditFailureIsNotFatal(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := storage.NewTestStore(t)
	addTemplate(t, s, quarterly("tpl"))
	b := &faultyBackend{Store: s, failAudit: true}

	res, err := newGenerator(b).Run(ctx, maintenance.RunOptions{Now: date(2024, 1, 1)})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	assert.Empty(t, res.PerTemplate[0].Error)
	assert.Len(t, templateTasks(t, s, "tpl"), 1)
}

func TestGenerator_DefaultsToClock(t *testing.T) {
	t.Parallel()
	s := storage.NewTestStore(t)
	addTemplate(t, s, quarterly("tpl"))

	g := newGenerator(s, maintenance.WithGeneratorClock(fixedClock(date(2024, 1, 1))))
	res, err := g.Run(context.Background(), maintenance.RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, "2025-01-01", res.Horizon)
	assert.Equal(t, 1, res.Created)
}

func TestGenerator_RunTemplate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := storage.NewTestStore(t)
	tpl := quarterly("tpl")
	tpl.LeadTimeDays = 400
	addTemplate(t, s, tpl)
	g := newGenerator(s)

	res, err := g.RunTemplate(ctx, "tpl", date(2024, 1, 1))
	require.NoError(t, err)
	assert.Equal(t, "2024-04-01", res.Horizon)
	assert.Equal(t, []string{"2024-01-01", "2024-04-01"}, res.PerTemplate[0].CreatedDue)

	require.NoError(t, s.SetTemplateActive(ctx, "tpl", false))
	res, err = g.RunTemplate(ctx, "tpl", date(2024, 6, 1))
	require.NoError(t, err)
	assert.True(t, res.PerTemplate[0].Skipped)
	assert.Equal(t, 0, res.Created)

	_, err = g.RunTemplate(ctx, "missing", date(2024, 1, 1))
	assert.True(t, upkeeperrors.HasCode(err, upkeeperrors.CodeTemplateNotFound))
}

// gatedBackend holds the first ListActiveTemplates call until release closes.
type gatedBackend struct {
	*storage.Store
	calls   atomic.Int32
	entered chan struct{}
	release chan struct{}
}

func (b *gatedBackend) ListActiveTemplates(ctx context.Context, scope string) ([]maintenance.Template, error) {
	if b.calls.Add(1) == 1 {
		close(b.entered)
		<-b.release
	}
	return b.Store.ListActiveTemplates(ctx, scope)
}

func TestGenerator_ConcurrentRunsWithDifferentHorizons(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := storage.NewTestStore(t)
	addTemplate(t, s, maintenance.Template{
		ID: "tpl", AccountID: "acct", CadenceMonths: 1, StartDate: datePtr(2024, 1, 1), Active: true,
	})
	b := &gatedBackend{Store: s, entered: make(chan struct{}), release: make(chan struct{})}
	g := newGenerator(b)

	type outcome struct {
		res *maintenance.RunResult
		err error
	}
	early := make(chan outcome, 1)
	go func() {
		res, err := g.Run(ctx, maintenance.RunOptions{Scope: "acct", LookaheadMonths: 1, Now: date(2024, 1, 1)})
		early <- outcome{res, err}
	}()
	<-b.entered

	late := make(chan outcome, 1)
	go func() {
		res, err := g.Run(ctx, maintenance.RunOptions{Scope: "acct", LookaheadMonths: 24, Now: date(2026, 6, 1)})
		late <- outcome{res, err}
	}()

	var second outcome
	select {
	case second = <-late:
	case <-time.After(5 * time.Second):
		close(b.release)
		t.Fatal("second run waited on the first run's result")
	}
	require.NoError(t, second.err)
	assert.Equal(t, "2028-06-01", second.res.Horizon)
	assert.Greater(t, second.res.Created, 1)

	close(b.release)
	first := <-early
	require.NoError(t, first.err)
	assert.Equal(t, "2024-02-01", first.res.Horizon)
	assert.Equal(t, 0, first.res.Created, "the later run already covered this slot")
	assert.Len(t, templateTasks(t, s, "tpl"), second.res.Created)
}

func TestGenerator_StampsRowsWithClock(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := storage.NewTestStore(t)
	addTemplate(t, s, quarterly("tpl"))
	wall := time.Date(2024, 10, 1, 10, 0, 0, 0, time.UTC)
	g := newGenerator(s, maintenance.WithGeneratorClock(fixedClock(wall)))

	res, err := g.Run(ctx, maintenance.RunOptions{Scope: "acct", Now: date(2024, 9, 25)})
	require.NoError(t, err)
	require.Positive(t, res.Created)

	for _, task := range templateTasks(t, s, "tpl") {
		assert.True(t, wall.Equal(task.CreatedAt), "task %s created_at", task.ID)
	}
	entries, err := s.ListAudit(ctx, "acct", 0)
	require.NoError(t, err)
	require.Len(t, entries, res.Created)
	for _, e := range entries {
		assert.True(t, wall.Equal(e.CreatedAt), "audit %s created_at", e.ID)
	}
	tpl, err := s.GetTemplate(ctx, "tpl")
	require.NoError(t, err)
	assert.True(t, wall.Equal(tpl.UpdatedAt))
}
