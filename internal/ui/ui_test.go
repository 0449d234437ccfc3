package ui

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"upkeep/internal/config"
	"upkeep/internal/maintenance"
	"upkeep/internal/storage"
)

func testConfig() config.Config {
	return config.Config{
		Account:       "acct",
		DefaultFilter: "open",
		Scheduler:     config.Scheduler{LookaheadMonths: 12, MaxIterations: 48},
		Keys: config.Keymap{
			Quit: "q", Add: "a", Up: "k", Down: "j", Toggle: " ", Delete: "d",
			Detail: "enter", Confirm: "enter", Cancel: "esc", Edit: "e",
			DueForward: "]", DueBack: "[", RunScheduler: "g", Filter: "f",
		},
	}
}

func newTestModel(t *testing.T) (Model, *storage.Store) {
	t.Helper()
	s := storage.NewTestStore(t)
	svc := maintenance.NewService(s,
		maintenance.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		maintenance.WithClock(func() time.Time { return time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC) }))
	m, err := newModel(context.Background(), s, svc, testConfig())
	require.NoError(t, err)
	m.now = func() time.Time { return time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC) }
	return m, s
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func press(t *testing.T, m Model, msgs ...tea.KeyMsg) Model {
	t.Helper()
	for _, msg := range msgs {
		next, _ := m.Update(msg)
		m = next.(Model)
	}
	return m
}

func typeText(t *testing.T, m Model, text string) Model {
	t.Helper()
	for _, r := range text {
		m = press(t, m, runes(string(r)))
	}
	return m
}

func TestAddTask(t *testing.T) {
	t.Parallel()
	m, s := newTestModel(t)

	m = press(t, m, runes("a"))
	assert.Equal(t, modeAdd, m.mode)
	m = typeText(t, m, "Clean gutters")
	m = press(t, m, tea.KeyMsg{Type: tea.KeyEnter})

	assert.Equal(t, modeList, m.mode)
	require.Len(t, m.tasks, 1)
	assert.Equal(t, "Clean gutters", m.tasks[0].Title)
	assert.Equal(t, "acct", m.tasks[0].AccountID)

	stored, err := s.ListTasks(context.Background(), storage.TaskFilter{AccountID: "acct"})
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestRunSchedulerKey(t *testing.T) {
	t.Parallel()
	m, s := newTestModel(t)
	tpl := maintenance.Template{
		ID: "tpl", AccountID: "acct", Title: "Boiler service",
		CadenceMonths: 12, LeadTimeDays: 14, Active: true,
	}
	require.NoError(t, s.CreateTemplate(context.Background(), &tpl))

	m = press(t, m, runes("g"))
	require.Len(t, m.tasks, 1)
	assert.Equal(t, "Boiler service", m.tasks[0].Title)
	assert.Contains(t, m.status, "1 task(s) created")
}

func TestToggleSpawnsAndCancelsFollowUp(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m, _ := newTestModel(t)

	months := 3
	due := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	task := &maintenance.Task{AccountID: "acct", Title: "Filter", DueDate: &due, IsRecurring: true, RecurrenceMonths: &months}
	require.NoError(t, m.svc.CreateTask(ctx, task))
	require.NoError(t, m.reload())

	m = press(t, m, tea.KeyMsg{Type: tea.KeySpace})
	assert.Contains(t, m.status, "2024-04-01")
	require.Len(t, m.tasks, 1, "completed task is hidden under the open filter")
	assert.Equal(t, "Filter", m.tasks[0].Title)
	assert.NotEqual(t, task.ID, m.tasks[0].ID)

	m = press(t, m, runes("f"))
	assert.Equal(t, "done", m.filter)
	require.Len(t, m.tasks, 1)
	assert.Equal(t, task.ID, m.tasks[0].ID)

	m = press(t, m, tea.KeyMsg{Type: tea.KeySpace})
	assert.Contains(t, m.status, "Cancelled")
	assert.Empty(t, m.tasks)
}

func TestDeleteConfirm(t *testing.T) {
	t.Parallel()
	m, _ := newTestModel(t)
	m = press(t, m, runes("a"))
	m = typeText(t, m, "Temp")
	m = press(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	require.Len(t, m.tasks, 1)

	m = press(t, m, runes("d"))
	assert.True(t, m.confirmDel)
	m = press(t, m, runes("n"))
	assert.Len(t, m.tasks, 1)

	m = press(t, m, runes("d"), runes("y"))
	assert.Empty(t, m.tasks)
	assert.False(t, m.confirmDel)
}

func TestMetadataEditSetsRecurrence(t *testing.T) {
	t.Parallel()
	m, _ := newTestModel(t)
	m = press(t, m, runes("a"))
	m = typeText(t, m, "Smoke alarm")
	m = press(t, m, tea.KeyMsg{Type: tea.KeyEnter})

	m = press(t, m, runes("e"))
	require.NotNil(t, m.meta)

	// title, notes: keep
	m = press(t, m, tea.KeyMsg{Type: tea.KeyEnter}, tea.KeyMsg{Type: tea.KeyEnter})
	m = typeText(t, m, "2024-04-04")
	m = press(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	m.input.SetValue("")
	m = typeText(t, m, "y")
	m = press(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	m = typeText(t, m, "1")
	m = press(t, m, tea.KeyMsg{Type: tea.KeyEnter})

	assert.Nil(t, m.meta)
	assert.Contains(t, m.status, "next due 2024-05-06")
	require.Len(t, m.tasks, 1)
	task := m.tasks[0]
	assert.True(t, task.IsRecurring)
	require.NotNil(t, task.NextDueDate)
	assert.Equal(t, "2024-05-06", task.NextDueDate.Format("2006-01-02"))
}

func TestMetadataEditRejectsBadDate(t *testing.T) {
	t.Parallel()
	m, _ := newTestModel(t)
	m = press(t, m, runes("a"))
	m = typeText(t, m, "Fence")
	m = press(t, m, tea.KeyMsg{Type: tea.KeyEnter}, runes("e"))
	m = press(t, m, tea.KeyMsg{Type: tea.KeyEnter}, tea.KeyMsg{Type: tea.KeyEnter})
	m = typeText(t, m, "soon")
	m = press(t, m, tea.KeyMsg{Type: tea.KeyEnter}, tea.KeyMsg{Type: tea.KeyEnter}, tea.KeyMsg{Type: tea.KeyEnter})

	assert.NotNil(t, m.meta, "editor stays open")
	assert.Contains(t, m.status, "due date invalid")
}

func TestShiftDue(t *testing.T) {
	t.Parallel()
	m, _ := newTestModel(t)
	m = press(t, m, runes("a"))
	m = typeText(t, m, "Fence")
	m = press(t, m, tea.KeyMsg{Type: tea.KeyEnter})

	m = press(t, m, runes("]"))
	require.NotNil(t, m.tasks[0].DueDate)
	assert.Equal(t, "2024-01-02", m.tasks[0].DueDate.Format("2006-01-02"))

	m = press(t, m, runes("["), runes("["))
	assert.Equal(t, "2023-12-31", m.tasks[0].DueDate.Format("2006-01-02"))
}

func TestViewRenders(t *testing.T) {
	t.Parallel()
	m, _ := newTestModel(t)
	assert.Contains(t, m.View(), "No tasks")

	m = press(t, m, runes("a"))
	m = typeText(t, m, "Gutters")
	m = press(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	view := m.View()
	assert.Contains(t, view, "Gutters")
	assert.Contains(t, view, "schedule")
}

func TestHelpers(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 0, clampCursor(-1, 3))
	assert.Equal(t, 2, clampCursor(5, 3))
	assert.Equal(t, 0, clampCursor(1, 0))
	assert.Equal(t, 4, wrapIndex(-1, 5))
	assert.Equal(t, "done", nextFilter("open"))
	assert.Equal(t, "all", nextFilter("done"))
	assert.Equal(t, "open", nextFilter("all"))
	assert.True(t, parseYN("Yes"))
	assert.False(t, parseYN("nope"))
}
