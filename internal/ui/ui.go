package ui

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"upkeep/internal/config"
	"upkeep/internal/maintenance"
	"upkeep/internal/recurrence"
	"upkeep/internal/storage"
)

type mode int

const (
	modeList mode = iota
	modeAdd
	modeMetadata
)

var (
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	overdueStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	doneStyle      = lipgloss.NewStyle().Faint(true)
	cancelledStyle = lipgloss.NewStyle().Faint(true).Strikethrough(true)
	statusStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	helpStyle      = lipgloss.NewStyle().Faint(true)
)

type metaState struct {
	taskID    string
	title     string
	notes     string
	due       string
	recurring string
	months    string
	index     int
}

type Model struct {
	ctx        context.Context
	store      *storage.Store
	svc        *maintenance.Service
	cfg        config.Config
	now        func() time.Time
	tasks      []maintenance.Task
	cursor     int
	mode       mode
	input      textinput.Model
	status     string
	filter     string
	confirmDel bool
	pendingDel *maintenance.Task
	meta       *metaState
}

func Run(ctx context.Context, store *storage.Store, svc *maintenance.Service, cfg config.Config) error {
	m, err := newModel(ctx, store, svc, cfg)
	if err != nil {
		return err
	}
	program := tea.NewProgram(m, tea.WithContext(ctx))
	_, err = program.Run()
	return err
}

func newModel(ctx context.Context, store *storage.Store, svc *maintenance.Service, cfg config.Config) (Model, error) {
	ti := textinput.New()
	ti.Placeholder = "Task title"
	ti.CharLimit = 256
	ti.Width = 40

	m := Model{
		ctx:    ctx,
		store:  store,
		svc:    svc,
		cfg:    cfg,
		now:    time.Now,
		status: fmt.Sprintf("Press '%s' to add, '%s' to schedule, space to toggle.", cfg.Keys.Add, cfg.Keys.RunScheduler),
		input:  ti,
		mode:   modeList,
		filter: strings.ToLower(cfg.DefaultFilter),
	}
	if m.filter == "" {
		m.filter = "open"
	}
	if err := m.reload(); err != nil {
		return m, err
	}
	m.cursor = clampCursor(0, len(m.tasks))
	return m, nil
}

// reload fetches the tasks visible under the current filter.
func (m *Model) reload() error {
	tasks, err := m.store.ListTasks(m.ctx, storage.TaskFilter{
		AccountID:        m.cfg.Account,
		IncludeCompleted: m.filter != "open",
		IncludeCancelled: m.filter == "all",
	})
	if err != nil {
		return err
	}
	if m.filter == "done" {
		done := tasks[:0]
		for _, t := range tasks {
			if t.Completed {
				done = append(done, t)
			}
		}
		tasks = done
	}
	m.tasks = tasks
	return nil
}

// reloadKeeping reloads and moves the cursor back onto id when it is still listed.
func (m *Model) reloadKeeping(id string) error {
	if err := m.reload(); err != nil {
		return err
	}
	for i, t := range m.tasks {
		if t.ID == id {
			m.cursor = i
			return nil
		}
	}
	m.cursor = clampCursor(m.cursor, len(m.tasks))
	return nil
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.meta != nil {
			return m.updateMetadataMode(msg.String(), msg)
		}
		if m.confirmDel {
			return m.updateDeleteConfirm(msg.String())
		}
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.input.Width = msg.Width - 10
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	if m.mode == modeAdd {
		return m.updateAddMode(key, msg)
	}
	return m.updateListMode(key)
}

func (m Model) updateAddMode(key string, msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key {
	case m.cfg.Keys.Cancel:
		m.mode = modeList
		m.input.SetValue("")
		m.input.Blur()
		m.status = "Cancelled"
		return m, nil
	case m.cfg.Keys.Confirm:
		title := strings.TrimSpace(m.input.Value())
		if title == "" {
			m.status = "Title cannot be empty"
			return m, nil
		}
		task := &maintenance.Task{AccountID: m.cfg.Account, Title: title}
		if err := m.svc.CreateTask(m.ctx, task); err != nil {
			m.status = fmt.Sprintf("save failed: %v", err)
			return m, nil
		}
		if err := m.reloadKeeping(task.ID); err != nil {
			m.status = fmt.Sprintf("reload failed: %v", err)
		} else {
			m.status = "Added task"
		}
		m.input.SetValue("")
		m.input.Blur()
		m.mode = modeList
		return m, nil
	default:
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
}

func (m Model) updateListMode(key string) (tea.Model, tea.Cmd) {
	switch key {
	case "ctrl+c", m.cfg.Keys.Quit:
		return m, tea.Quit
	case m.cfg.Keys.Down, "down":
		if len(m.tasks) == 0 {
			return m, nil
		}
		m.cursor = clampCursor(m.cursor+1, len(m.tasks))
	case m.cfg.Keys.Up, "up":
		if m.cursor > 0 {
			m.cursor = clampCursor(m.cursor-1, len(m.tasks))
		}
	case m.cfg.Keys.Add:
		m.mode = modeAdd
		m.input.Placeholder = "Task title"
		m.input.Focus()
		m.status = "Add mode: type a title and press Enter"
	case m.cfg.Keys.Toggle:
		if len(m.tasks) == 0 {
			return m, nil
		}
		return m.toggle(m.tasks[m.cursor])
	case m.cfg.Keys.Delete:
		if len(m.tasks) == 0 {
			return m, nil
		}
		t := m.tasks[m.cursor]
		m.confirmDel = true
		m.pendingDel = &t
		m.status = fmt.Sprintf("Delete \"%s\"? y/n", t.Title)
	case m.cfg.Keys.Detail:
		if len(m.tasks) == 0 {
			m.status = "No tasks"
			return m, nil
		}
		m.status = m.describe(m.tasks[m.cursor])
	case m.cfg.Keys.Edit:
		if len(m.tasks) == 0 {
			m.status = "No tasks to edit"
			return m, nil
		}
		return m.startMetadataEdit(m.tasks[m.cursor])
	case m.cfg.Keys.DueForward:
		return m.shiftDue(1)
	case m.cfg.Keys.DueBack:
		return m.shiftDue(-1)
	case m.cfg.Keys.RunScheduler:
		return m.runScheduler()
	case m.cfg.Keys.Filter:
		m.filter = nextFilter(m.filter)
		if err := m.reload(); err != nil {
			m.status = fmt.Sprintf("reload failed: %v", err)
			return m, nil
		}
		m.cursor = clampCursor(m.cursor, len(m.tasks))
		m.status = "Showing " + m.filter + " tasks"
	}
	return m, nil
}

func (m Model) toggle(t maintenance.Task) (tea.Model, tea.Cmd) {
	res, err := m.svc.ToggleTask(m.ctx, t.ID)
	if err != nil {
		m.status = fmt.Sprintf("toggle failed: %v", err)
		return m, nil
	}
	if err := m.reloadKeeping(t.ID); err != nil {
		m.status = fmt.Sprintf("reload failed: %v", err)
		return m, nil
	}
	switch {
	case res.FollowUp != nil:
		m.status = fmt.Sprintf("Completed. Next occurrence due %s", recurrence.FormatDate(res.FollowUp.DueDate))
	case res.Cancelled != nil:
		m.status = "Reopened. Cancelled the queued next occurrence"
	case t.Completed:
		m.status = "Reopened task"
	default:
		m.status = "Completed task"
	}
	return m, nil
}

func (m Model) shiftDue(days int) (tea.Model, tea.Cmd) {
	if len(m.tasks) == 0 {
		return m, nil
	}
	t := m.tasks[m.cursor]
	base := recurrence.StartOfDay(m.now().UTC())
	if t.DueDate != nil {
		base = *t.DueDate
	}
	due := base.AddDate(0, 0, days)
	if _, err := m.svc.EditTask(m.ctx, t.ID, maintenance.TaskEdit{DueDate: &due}); err != nil {
		m.status = fmt.Sprintf("due change failed: %v", err)
		return m, nil
	}
	if err := m.reloadKeeping(t.ID); err != nil {
		m.status = fmt.Sprintf("reload failed: %v", err)
		return m, nil
	}
	m.status = "Due " + due.Format(recurrence.DateLayout)
	return m, nil
}

func (m Model) runScheduler() (tea.Model, tea.Cmd) {
	res, err := m.svc.RunScheduler(m.ctx, m.cfg.Account, m.cfg.Scheduler.LookaheadMonths, time.Time{})
	if err != nil {
		m.status = fmt.Sprintf("scheduler failed: %v", err)
		return m, nil
	}
	if err := m.reload(); err != nil {
		m.status = fmt.Sprintf("reload failed: %v", err)
		return m, nil
	}
	m.cursor = clampCursor(m.cursor, len(m.tasks))
	failed := 0
	for _, tr := range res.PerTemplate {
		if tr.Error != "" {
			failed++
		}
	}
	m.status = fmt.Sprintf("Scheduler: %d template(s), %d task(s) created", res.Processed, res.Created)
	if failed > 0 {
		m.status += fmt.Sprintf(", %d failed", failed)
	}
	return m, nil
}

func (m Model) describe(t maintenance.Task) string {
	info := fmt.Sprintf("%s • %s", t.Title, humanState(t))
	if t.DueDate != nil {
		info += " • due:" + recurrence.FormatDate(t.DueDate)
	}
	if t.IsRecurring && t.RecurrenceMonths != nil {
		info += fmt.Sprintf(" • every %dmo", *t.RecurrenceMonths)
	}
	if t.NextDueDate != nil {
		info += " • next:" + recurrence.FormatDate(t.NextDueDate)
	}
	if t.TemplateID != "" {
		info += " • template:" + t.TemplateID
	}
	return info
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(headerStyle.Render(fmt.Sprintf("Upkeep • %s tasks", m.filter)))
	b.WriteString("\n\n")

	if len(m.tasks) == 0 {
		b.WriteString(fmt.Sprintf("No tasks. Press '%s' to add one or '%s' to run the scheduler.", m.cfg.Keys.Add, m.cfg.Keys.RunScheduler))
	} else {
		b.WriteString(m.renderTaskList())
	}

	b.WriteString("\n---\n")

	if m.meta != nil {
		b.WriteString("Task editor (tab/shift+tab to move, enter to save/next, esc to cancel)")
		b.WriteString("\n\n")
		b.WriteString(m.renderMetaBox())
		b.WriteString("\n")
		b.WriteString("Field: " + m.currentMetaLabel())
		b.WriteString("\n")
		b.WriteString(m.input.View())
	} else if m.mode == modeAdd {
		b.WriteString(m.input.View())
	} else {
		b.WriteString(m.renderMetadataPanel())
	}

	b.WriteString("\n\n")
	b.WriteString(statusStyle.Render(m.status))
	b.WriteString("\n")
	b.WriteString(helpStyle.Render(renderHelp(m.cfg.Keys)))

	return b.String()
}

func (m Model) updateDeleteConfirm(key string) (tea.Model, tea.Cmd) {
	switch key {
	case "n", "N", "esc":
		m.status = "Delete cancelled"
		m.confirmDel = false
		m.pendingDel = nil
		return m, nil
	case "y", "Y":
		if m.pendingDel == nil {
			m.status = "Nothing to delete"
			m.confirmDel = false
			return m, nil
		}
		if err := m.store.DeleteTask(m.ctx, m.pendingDel.ID); err != nil {
			m.status = fmt.Sprintf("delete failed: %v", err)
			m.confirmDel = false
			m.pendingDel = nil
			return m, nil
		}
		if err := m.reload(); err == nil {
			m.cursor = clampCursor(m.cursor, len(m.tasks))
			m.status = "Deleted task"
		} else {
			m.status = fmt.Sprintf("reload failed: %v", err)
		}
		m.confirmDel = false
		m.pendingDel = nil
		return m, nil
	default:
		return m, nil
	}
}

func renderHelp(k config.Keymap) string {
	return fmt.Sprintf("%s/%s move • %s add • %s detail • %s toggle • %s delete • %s edit • %s/%s due • %s schedule • %s filter • %s quit",
		k.Up, k.Down, k.Add, k.Detail, keyLabel(k.Toggle), k.Delete, k.Edit, k.DueBack, k.DueForward, k.RunScheduler, k.Filter, k.Quit)
}

func keyLabel(k string) string {
	if k == " " {
		return "space"
	}
	return k
}

func (m Model) renderTaskList() string {
	var b strings.Builder
	today := recurrence.StartOfDay(m.now().UTC())
	for i, t := range m.tasks {
		cursor := " "
		if m.cursor == i && m.mode == modeList {
			cursor = ">"
		}

		checkbox := "[ ]"
		if t.Completed {
			checkbox = "[x]"
		}

		due := ""
		if t.DueDate != nil {
			due = "  " + recurrence.FormatDate(t.DueDate) + " (" + humanize.RelTime(*t.DueDate, today, "ago", "from now") + ")"
			if t.DueDate.Equal(today) {
				due = "  " + recurrence.FormatDate(t.DueDate) + " (today)"
			}
		}
		repeat := ""
		if t.IsRecurring && t.RecurrenceMonths != nil {
			repeat = fmt.Sprintf("  ↻%dmo", *t.RecurrenceMonths)
		}

		body := fmt.Sprintf("%s %s %s%s%s", cursor, checkbox, t.Title, due, repeat)
		switch {
		case t.CancelledAt != nil:
			body = cancelledStyle.Render(body)
		case t.Completed:
			body = doneStyle.Render(body)
		case t.DueDate != nil && t.DueDate.Before(today):
			body = overdueStyle.Render(body)
		}

		b.WriteString(body)
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) startMetadataEdit(t maintenance.Task) (tea.Model, tea.Cmd) {
	months := ""
	if t.RecurrenceMonths != nil {
		months = strconv.Itoa(*t.RecurrenceMonths)
	}
	m.meta = &metaState{
		taskID:    t.ID,
		title:     t.Title,
		notes:     t.Notes,
		due:       recurrence.FormatDate(t.DueDate),
		recurring: boolToYN(t.IsRecurring),
		months:    months,
		index:     0,
	}
	m.input.SetValue(m.meta.currentValue())
	m.input.Placeholder = m.meta.currentLabel()
	m.input.Focus()
	m.mode = modeMetadata
	m.status = "Edit task: tab to move, enter to save/next, esc to cancel"
	return m, nil
}

func (m Model) updateMetadataMode(key string, msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key {
	case m.cfg.Keys.Cancel, "esc":
		m.meta = nil
		m.mode = modeList
		m.input.Blur()
		m.status = "Edit cancelled"
		return m, nil
	case "tab", "down":
		m.meta.setCurrentValue(m.input.Value())
		m.meta.index = wrapIndex(m.meta.index+1, len(metaFields()))
		m.input.SetValue(m.meta.currentValue())
		m.input.Placeholder = m.meta.currentLabel()
		m.status = m.metaPrompt()
		return m, nil
	case "shift+tab", "up":
		m.meta.setCurrentValue(m.input.Value())
		m.meta.index = wrapIndex(m.meta.index-1, len(metaFields()))
		m.input.SetValue(m.meta.currentValue())
		m.input.Placeholder = m.meta.currentLabel()
		m.status = m.metaPrompt()
		return m, nil
	case m.cfg.Keys.Confirm, "enter":
		m.meta.setCurrentValue(m.input.Value())
		if m.meta.index >= len(metaFields())-1 {
			return m.saveMetadata()
		}
		m.meta.index++
		m.input.SetValue(m.meta.currentValue())
		m.input.Placeholder = m.meta.currentLabel()
		m.status = m.metaPrompt()
		return m, nil
	default:
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
}

func (m Model) saveMetadata() (tea.Model, tea.Cmd) {
	if m.meta == nil {
		return m, nil
	}
	taskID := m.meta.taskID

	edit, err := m.meta.toEdit()
	if err != nil {
		m.status = err.Error()
		return m, nil
	}
	res, err := m.svc.EditTask(m.ctx, taskID, edit)
	if err != nil {
		m.status = fmt.Sprintf("save failed: %v", err)
		return m, nil
	}
	m.meta = nil
	m.mode = modeList
	m.input.Blur()

	if err := m.reloadKeeping(taskID); err != nil {
		m.status = fmt.Sprintf("reload failed: %v", err)
		return m, nil
	}
	m.status = "Task saved"
	if res.PreviewRefreshed && res.NextDueDate != nil {
		m.status += " • next due " + recurrence.FormatDate(res.NextDueDate)
	}
	return m, nil
}

func (ms metaState) toEdit() (maintenance.TaskEdit, error) {
	var edit maintenance.TaskEdit
	title := strings.TrimSpace(ms.title)
	if title == "" {
		return edit, fmt.Errorf("title cannot be empty")
	}
	edit.Title = &title
	notes := ms.notes
	edit.Notes = &notes

	due, err := recurrence.ParseDate(strings.TrimSpace(ms.due))
	if err != nil {
		return edit, fmt.Errorf("due date invalid: %v", err)
	}
	if due == nil {
		edit.ClearDueDate = true
	} else {
		edit.DueDate = due
	}

	recurring := parseYN(ms.recurring)
	edit.Recurring = &recurring
	if v := strings.TrimSpace(ms.months); v != "" {
		months, err := strconv.Atoi(v)
		if err != nil {
			return edit, fmt.Errorf("months invalid: %v", err)
		}
		edit.RecurrenceMonths = &months
	}
	return edit, nil
}

func metaFields() []string {
	return []string{"title", "notes", "due date (YYYY-MM-DD)", "recurring (y/n)", "every N months"}
}

func (ms metaState) currentLabel() string {
	return metaFields()[ms.index]
}

func (ms metaState) currentValue() string {
	switch ms.index {
	case 0:
		return ms.title
	case 1:
		return ms.notes
	case 2:
		return ms.due
	case 3:
		return ms.recurring
	case 4:
		return ms.months
	default:
		return ""
	}
}

func (ms *metaState) setCurrentValue(v string) {
	switch ms.index {
	case 0:
		ms.title = v
	case 1:
		ms.notes = v
	case 2:
		ms.due = v
	case 3:
		ms.recurring = v
	case 4:
		ms.months = v
	}
}

func (m Model) metaPrompt() string {
	if m.meta == nil {
		return ""
	}
	return fmt.Sprintf("Editing %s (field %d of %d). Enter to advance, Esc to cancel, tab to move.",
		m.meta.currentLabel(), m.meta.index+1, len(metaFields()))
}

func parseYN(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "y" || v == "yes" || v == "true" || v == "1"
}

func boolToYN(b bool) string {
	if b {
		return "y"
	}
	return "n"
}

func (m Model) currentMetaLabel() string {
	if m.meta == nil {
		return ""
	}
	return m.meta.currentLabel()
}

func (m Model) renderMetaBox() string {
	if m.meta == nil {
		return ""
	}
	fields := metaFields()
	values := []string{
		m.meta.title,
		m.meta.notes,
		m.meta.due,
		m.meta.recurring,
		m.meta.months,
	}
	var b strings.Builder
	for i, name := range fields {
		prefix := " "
		if i == m.meta.index {
			prefix = ">"
		}
		val := values[i]
		if strings.TrimSpace(val) == "" {
			val = "(empty)"
		}
		b.WriteString(fmt.Sprintf("%s %-22s : %s\n", prefix, name, val))
	}
	return b.String()
}

func wrapIndex(idx, n int) int {
	if n <= 0 {
		return 0
	}
	idx %= n
	if idx < 0 {
		idx += n
	}
	return idx
}

func (m Model) renderMetadataPanel() string {
	if len(m.tasks) == 0 {
		return "No task selected"
	}
	t := m.tasks[clampCursor(m.cursor, len(m.tasks))]
	months := "-"
	if t.RecurrenceMonths != nil {
		months = strconv.Itoa(*t.RecurrenceMonths)
	}
	var b strings.Builder
	b.WriteString("Details\n")
	b.WriteString(fmt.Sprintf("Title     : %s\n", t.Title))
	b.WriteString(fmt.Sprintf("State     : %s\n", humanState(t)))
	b.WriteString(fmt.Sprintf("Notes     : %s\n", emptyPlaceholder(t.Notes)))
	b.WriteString(fmt.Sprintf("Due       : %s\n", emptyPlaceholder(recurrence.FormatDate(t.DueDate))))
	b.WriteString(fmt.Sprintf("Recurring : %t (every %s months)\n", t.IsRecurring, months))
	b.WriteString(fmt.Sprintf("Next due  : %s\n", emptyPlaceholder(recurrence.FormatDate(t.NextDueDate))))
	return b.String()
}

func emptyPlaceholder(v string) string {
	if strings.TrimSpace(v) == "" {
		return "(empty)"
	}
	return v
}

func clampCursor(cur, n int) int {
	if n <= 0 {
		return 0
	}
	if cur < 0 {
		return 0
	}
	if cur >= n {
		return n - 1
	}
	return cur
}

func nextFilter(f string) string {
	switch f {
	case "open":
		return "done"
	case "done":
		return "all"
	default:
		return "open"
	}
}

func humanState(t maintenance.Task) string {
	switch {
	case t.CancelledAt != nil:
		return "cancelled (" + t.CancelReason + ")"
	case t.Completed:
		return "done"
	default:
		return "pending"
	}
}
