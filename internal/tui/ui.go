package tui

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	units "github.com/docker/go-units"
	"github.com/gdamore/tcell/v2"
	"github.com/mattn/go-runewidth"
	"github.com/rivo/tview"

	"github.com/Paintersrp/remotelaunch/internal/status"
)

const (
	tableTitle      = "Entries"
	messagesTitle   = "Messages"
	promptPageName  = "prompt"
	defaultRefresh  = time.Second
	maxMessages     = 200
	maxCommandWidth = 60
)

// Backend is the supervisor the UI observes and drives.
type Backend interface {
	Status(ctx context.Context) (*status.Snapshot, error)
	Start(ctx context.Context, id uint, args string) error
	Stop(ctx context.Context, id uint) error
}

// Option configures UI behaviour.
type Option func(*UI)

// WithRefresh sets how often the status is polled.
func WithRefresh(d time.Duration) Option {
	return func(u *UI) {
		if d > 0 {
			u.refresh = d
		}
	}
}

// UI is an interactive entry table backed by tview.
type UI struct {
	app      *tview.Application
	pages    *tview.Pages
	table    *tview.Table
	messages *tview.TextView
	backend  Backend
	refresh  time.Duration

	mu         sync.RWMutex
	snapshot   *status.Snapshot
	visible    []status.EntryStatus
	filter     string
	filterExpr *regexp.Regexp
	lines      []string

	cancelMu sync.Mutex
	cancel   context.CancelFunc

	wg       sync.WaitGroup
	stopOnce sync.Once
	done     chan struct{}
}

// New constructs a UI polling backend.
func New(backend Backend, opts ...Option) *UI {
	app := tview.NewApplication()
	table := tview.NewTable().SetFixed(1, 1).SetSelectable(true, false)
	table.SetBorder(true).SetTitle(tableTitle)

	messages := tview.NewTextView().SetDynamicColors(false).SetWrap(true)
	messages.SetBorder(true).SetTitle(messagesTitle)

	flex := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(table, 0, 3, true).
		AddItem(messages, 0, 1, false)

	pages := tview.NewPages().AddPage("main", flex, true, true)

	ui := &UI{
		app:      app,
		pages:    pages,
		table:    table,
		messages: messages,
		backend:  backend,
		refresh:  defaultRefresh,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(ui)
	}

	app.SetRoot(pages, true)
	app.SetInputCapture(ui.handleKey)

	ui.mu.Lock()
	ui.refreshTableLocked()
	ui.mu.Unlock()
	return ui
}

// Done returns a channel that is closed when the UI stops.
func (u *UI) Done() <-chan struct{} {
	return u.done
}

// Run starts the application and polls the backend until Stop is invoked or
// ctx is cancelled.
func (u *UI) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	u.cancelMu.Lock()
	u.cancel = cancel
	u.cancelMu.Unlock()

	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		u.poll(ctx)
	}()

	go func() {
		<-ctx.Done()
		u.Stop()
	}()

	err := u.app.Run()
	cancel()
	u.wg.Wait()
	u.Stop()
	return err
}

// Stop terminates the application loop.
func (u *UI) Stop() {
	u.stopOnce.Do(func() {
		u.cancelMu.Lock()
		cancel := u.cancel
		u.cancel = nil
		u.cancelMu.Unlock()
		if cancel != nil {
			cancel()
		}
		u.app.Stop()
		close(u.done)
	})
}

func (u *UI) poll(ctx context.Context) {
	ticker := time.NewTicker(u.refresh)
	defer ticker.Stop()

	for {
		u.fetch(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (u *UI) fetch(ctx context.Context) {
	snap, err := u.backend.Status(ctx)
	if err != nil {
		if ctx.Err() == nil {
			u.appendMessage(fmt.Sprintf("status: %v", err))
		}
		return
	}
	u.applySnapshot(snap)
}

func (u *UI) applySnapshot(snap *status.Snapshot) {
	u.mu.Lock()
	u.snapshot = snap
	u.mu.Unlock()
	u.queueRefresh()
}

func (u *UI) queueRefresh() {
	u.app.QueueUpdateDraw(func() {
		u.mu.Lock()
		defer u.mu.Unlock()
		u.refreshTableLocked()
	})
}

func (u *UI) handleKey(event *tcell.EventKey) *tcell.EventKey {
	if u.pages.HasPage(promptPageName) {
		return event
	}
	switch event.Key() {
	case tcell.KeyUp, tcell.KeyDown:
		return event
	case tcell.KeyRune:
		switch event.Rune() {
		case 'q', 'Q':
			go u.Stop()
			return nil
		case '/':
			u.showFilterPrompt()
			return nil
		case 's':
			u.startSelected("")
			return nil
		case 'S':
			u.showArgsPrompt()
			return nil
		case 'x', 'X':
			u.stopSelected()
			return nil
		}
	}
	return event
}

func (u *UI) selectedEntry() (status.EntryStatus, bool) {
	row, _ := u.table.GetSelection()
	u.mu.RLock()
	defer u.mu.RUnlock()
	if row <= 0 || row-1 >= len(u.visible) {
		return status.EntryStatus{}, false
	}
	return u.visible[row-1], true
}

func (u *UI) startSelected(args string) {
	entry, ok := u.selectedEntry()
	if !ok {
		return
	}
	go func() {
		if err := u.backend.Start(context.Background(), entry.ID, args); err != nil {
			u.appendMessage(fmt.Sprintf("start %s: %v", entry.Name, err))
			return
		}
		u.appendMessage(fmt.Sprintf("started %s", entry.Name))
	}()
}

func (u *UI) stopSelected() {
	entry, ok := u.selectedEntry()
	if !ok {
		return
	}
	go func() {
		if err := u.backend.Stop(context.Background(), entry.ID); err != nil {
			u.appendMessage(fmt.Sprintf("stop %s: %v", entry.Name, err))
			return
		}
		u.appendMessage(fmt.Sprintf("stopped %s", entry.Name))
	}()
}

func (u *UI) appendMessage(msg string) {
	line := fmt.Sprintf("%s %s", time.Now().Format("15:04:05"), msg)
	u.mu.Lock()
	u.lines = append(u.lines, line)
	if len(u.lines) > maxMessages {
		u.lines = append([]string(nil), u.lines[len(u.lines)-maxMessages:]...)
	}
	text := strings.Join(u.lines, "\n")
	u.mu.Unlock()

	u.app.QueueUpdateDraw(func() {
		u.messages.SetText(text)
		u.messages.ScrollToEnd()
	})
}

func (u *UI) showArgsPrompt() {
	entry, ok := u.selectedEntry()
	if !ok {
		return
	}
	input := tview.NewInputField().
		SetLabel("Arguments: ").
		SetFieldWidth(40)

	u.showPrompt(fmt.Sprintf("Start %s", entry.Name), input, func() {
		u.startSelected(input.GetText())
	})
}

func (u *UI) showFilterPrompt() {
	u.mu.RLock()
	current := u.filter
	u.mu.RUnlock()

	input := tview.NewInputField().
		SetLabel("Regex filter: ").
		SetText(current).
		SetFieldWidth(40)

	u.showPrompt("Filter Entries", input, func() {
		u.applyFilter(input.GetText())
	})
}

func (u *UI) showPrompt(title string, input *tview.InputField, apply func()) {
	closePrompt := func() {
		u.pages.RemovePage(promptPageName)
		u.app.SetFocus(u.table)
	}
	form := tview.NewForm().
		AddFormItem(input).
		AddButton("Apply", func() {
			closePrompt()
			apply()
		}).
		AddButton("Cancel", closePrompt)
	form.SetBorder(true).SetTitle(title)
	form.SetCancelFunc(closePrompt)

	grid := tview.NewGrid().
		SetColumns(0, 60, 0).
		SetRows(0, 7, 0).
		AddItem(form, 1, 1, 1, 1, 0, 0, true)

	u.pages.AddPage(promptPageName, grid, true, true)
	u.app.SetFocus(input)
}

func (u *UI) applyFilter(expr string) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		u.mu.Lock()
		u.filter = ""
		u.filterExpr = nil
		u.mu.Unlock()
		u.queueRefresh()
		return
	}

	re, err := regexp.Compile(expr)
	if err != nil {
		u.appendMessage(fmt.Sprintf("invalid filter: %v", err))
		return
	}

	u.mu.Lock()
	u.filter = expr
	u.filterExpr = re
	u.mu.Unlock()
	u.queueRefresh()
}

func (u *UI) refreshTableLocked() {
	selectedRow, _ := u.table.GetSelection()
	u.table.Clear()

	for col, header := range tableHeaders {
		cell := tview.NewTableCell(header).
			SetSelectable(false).
			SetAttributes(tcell.AttrBold)
		u.table.SetCell(0, col, cell)
	}

	u.visible = u.visible[:0]
	if u.snapshot != nil {
		for _, entry := range u.snapshot.Entries {
			if u.filterExpr != nil && !u.filterExpr.MatchString(entry.Name) {
				continue
			}
			u.visible = append(u.visible, entry)
		}
	}

	if u.filter != "" {
		u.table.SetTitle(fmt.Sprintf("%s /%s/", tableTitle, u.filter))
	} else {
		u.table.SetTitle(tableTitle)
	}

	now := time.Now()
	for row, entry := range u.visible {
		for col, value := range rowValues(entry, now) {
			cell := tview.NewTableCell(tview.Escape(value))
			if col == 2 && entry.Running {
				cell.SetTextColor(tcell.ColorGreen)
			}
			u.table.SetCell(row+1, col, cell)
		}
	}

	switch {
	case len(u.visible) == 0:
		u.table.Select(0, 0)
	case selectedRow <= 0:
		u.table.Select(1, 0)
	case selectedRow > len(u.visible):
		u.table.Select(len(u.visible), 0)
	default:
		u.table.Select(selectedRow, 0)
	}
}

var tableHeaders = []string{"ID", "NAME", "STATE", "PID", "UPTIME", "WORKDIR", "COMMAND"}

// rowValues renders one entry as table cells in tableHeaders order.
func rowValues(entry status.EntryStatus, now time.Time) []string {
	state := "Stopped"
	pid := "-"
	uptime := "-"
	if entry.Running {
		state = "Running"
		if entry.Pid > 0 {
			pid = fmt.Sprintf("%d", entry.Pid)
		}
		if entry.StartedAt != nil {
			uptime = FormatUptime(now.Sub(*entry.StartedAt))
		}
	}
	return []string{
		fmt.Sprintf("%d", entry.ID),
		entry.Name,
		state,
		pid,
		uptime,
		entry.WorkingDirectory,
		runewidth.Truncate(entry.Command, maxCommandWidth, "..."),
	}
}

// FormatUptime renders d the way docker ps does.
func FormatUptime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return units.HumanDuration(d)
}
