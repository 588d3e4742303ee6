// internal/tui/app.go
//
// This is the operator console for atc. It uses bubbletea, which follows
// The Elm Architecture:
//
// 1. Model: the mirrored simulation state plus local UI state
// 2. Update: engine outputs and key presses come in as messages
// 3. View: renders the board to a string
//
// The console never touches the engine directly. Outputs arrive through a
// transport, are buffered in a mirror, and are flushed into the board on a
// fixed cadence so the screen redraws at most once per throttle window.

package tui

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"

	"github.com/ajtruex/agenttrafficcontrol/internal/logbook"
	"github.com/ajtruex/agenttrafficcontrol/internal/mirror"
	"github.com/ajtruex/agenttrafficcontrol/internal/protocol"
	"github.com/ajtruex/agenttrafficcontrol/internal/transport"
	"github.com/ajtruex/agenttrafficcontrol/internal/work"
	"github.com/ajtruex/agenttrafficcontrol/internal/work/plan"
)

// appState represents which screen we're on
type appState int

const (
	stateBoard      appState = iota // Live board with items, agents and metrics
	statePlanPicker                 // Plan selector overlay
)

const (
	sendTimeout = 2 * time.Second
	minFrame    = 16 * time.Millisecond
)

var speedSteps = []float64{0.25, 0.5, 1, 2, 4, 8}

// engineMsg carries one engine output read off the transport.
type engineMsg struct {
	msg protocol.Message
}

// transportClosedMsg reports that the transport stopped delivering.
type transportClosedMsg struct {
	err error
}

// flushMsg fires once per mirror throttle window.
type flushMsg time.Time

// intentSentMsg reports the outcome of a Send.
type intentSentMsg struct {
	intent protocol.Intent
	err    error
}

// AppOption customizes App construction for tests and alternate runtimes.
type AppOption func(*App)

// WithLogbook journals engine outputs and feeds the log panel.
func WithLogbook(lb *logbook.Logbook) AppOption {
	return func(a *App) {
		a.logbook = lb
	}
}

// WithRecording controls whether the console journals outputs itself. Remote
// consoles leave that to the serving process.
func WithRecording(enabled bool) AppOption {
	return func(a *App) {
		a.record = enabled
	}
}

// WithSeedSource overrides how fresh seeds are generated.
func WithSeedSource(next func() string) AppOption {
	return func(a *App) {
		if next != nil {
			a.nextSeed = next
		}
	}
}

// WithSource labels where the engine runs (for example "local" or a URL).
func WithSource(source string) AppOption {
	return func(a *App) {
		a.source = source
	}
}

// App is the main application model. In bubbletea, this holds ALL your state.
type App struct {
	state     appState
	transport transport.Transport
	mirror    *mirror.Mirror
	logbook   *logbook.Logbook
	record    bool
	nextSeed  func() string
	source    string

	keys     keyMap
	help     help.Model
	items    table.Model
	bar      progress.Model
	planMenu list.Model

	// Local copies of settings that only reach the mirror via snapshots.
	running bool
	speed   float64

	view         work.State
	lastTick     uint64
	statusMsg    string
	notice       string
	disconnected bool

	// Journal tail shown in the log panel, reloaded on flush.
	logLines []string
	logTotal int

	width  int
	height int
}

// planOption implements list.Item for the plan picker.
type planOption struct {
	name plan.Name
}

func (o planOption) Title() string       { return string(o.name) }
func (o planOption) Description() string { return o.name.Description() }
func (o planOption) FilterValue() string { return string(o.name) }

// NewApp creates the console around a transport and a mirror.
func NewApp(t transport.Transport, m *mirror.Mirror, opts ...AppOption) *App {
	if m == nil {
		m = mirror.New()
	}
	options := make([]list.Item, 0, len(plan.Names()))
	for _, name := range plan.Names() {
		options = append(options, planOption{name: name})
	}
	planMenu := list.New(options, list.NewDefaultDelegate(), 0, 0)
	planMenu.Title = "Select Plan"
	planMenu.SetShowStatusBar(false)
	planMenu.SetFilteringEnabled(false)

	app := &App{
		state:     stateBoard,
		transport: t,
		mirror:    m,
		record:    true,
		nextSeed:  func() string { return uuid.NewString()[:8] },
		source:    "local",
		keys:      defaultKeyMap(),
		help:      help.New(),
		items:     newItemTable(),
		bar:       progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		planMenu:  planMenu,
		speed:     1,
		view:      work.NewState("", ""),
		statusMsg: "Waiting for engine...",
	}
	for _, opt := range opts {
		if opt != nil {
			opt(app)
		}
	}
	app.loadLog()
	return app
}

// Init starts reading engine outputs and the flush cadence.
func (a *App) Init() tea.Cmd {
	return tea.Batch(a.waitForEngine(), a.scheduleFlush())
}

// Update is called when a message is received.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.planMenu.SetSize(max(0, msg.Width-6), max(0, msg.Height-10))
		a.items.SetHeight(max(5, msg.Height-18))
		a.bar.Width = max(20, min(60, msg.Width/2))
		a.help.Width = msg.Width
		return a, nil

	case engineMsg:
		a.mirror.Enqueue(msg.msg)
		if snap, ok := msg.msg.(protocol.Snapshot); ok {
			a.running = snap.State.Running
			a.speed = snap.State.Speed
		}
		if a.record {
			a.logbook.Record(msg.msg)
		}
		return a, a.waitForEngine()

	case transportClosedMsg:
		a.disconnected = true
		a.running = false
		if msg.err != nil {
			a.notice = fmt.Sprintf("Engine disconnected: %v", msg.err)
		} else {
			a.notice = "Engine stream closed"
		}
		a.logbook.Warn("%s", a.notice)
		a.mirror.FlushNow()
		a.refresh()
		a.loadLog()
		return a, nil

	case flushMsg:
		if a.mirror.Flush() {
			a.refresh()
		}
		a.loadLog()
		return a, a.scheduleFlush()

	case intentSentMsg:
		if msg.err != nil {
			a.notice = fmt.Sprintf("%s failed: %v", msg.intent.Type(), msg.err)
			if errors.Is(msg.err, transport.ErrClosed) {
				a.disconnected = true
			}
			return a, nil
		}
		a.notice = ""
		return a, nil

	case tea.KeyMsg:
		if a.state == statePlanPicker {
			return a.updatePlanPicker(msg)
		}
		return a.updateBoard(msg)
	}
	return a, nil
}

func (a *App) updateBoard(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case keyMatches(msg, a.keys.Quit):
		return a, tea.Quit
	case keyMatches(msg, a.keys.Help):
		a.help.ShowAll = !a.help.ShowAll
		return a, nil
	}
	if a.disconnected {
		a.statusMsg = "Engine unavailable; press q to quit"
		return a, nil
	}
	switch {
	case keyMatches(msg, a.keys.Toggle):
		a.running = !a.running
		if a.running {
			a.statusMsg = "Running"
		} else {
			a.statusMsg = "Paused"
		}
		return a, a.send(protocol.SetRunning{Running: a.running})
	case keyMatches(msg, a.keys.Plan):
		a.state = statePlanPicker
		a.selectPlan(a.view.Plan)
		return a, nil
	case keyMatches(msg, a.keys.Reseed):
		seed := a.nextSeed()
		a.statusMsg = fmt.Sprintf("Reseeding with %q", seed)
		return a, a.send(protocol.SetSeed{Seed: seed})
	case keyMatches(msg, a.keys.Faster):
		return a, a.changeSpeed(nextSpeed(a.speed, 1))
	case keyMatches(msg, a.keys.Slower):
		return a, a.changeSpeed(nextSpeed(a.speed, -1))
	case keyMatches(msg, a.keys.Snapshot):
		a.statusMsg = "Requesting snapshot..."
		return a, a.send(protocol.RequestSnapshot{})
	}
	var cmd tea.Cmd
	a.items, cmd = a.items.Update(msg)
	return a, cmd
}

func (a *App) updatePlanPicker(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return a, tea.Quit
	case "esc", "q":
		a.state = stateBoard
		return a, nil
	case "enter":
		a.state = stateBoard
		option, ok := a.planMenu.SelectedItem().(planOption)
		if !ok {
			return a, nil
		}
		a.statusMsg = fmt.Sprintf("Loading plan %s", option.name)
		return a, a.send(protocol.SetPlan{Plan: option.name})
	}
	var cmd tea.Cmd
	a.planMenu, cmd = a.planMenu.Update(msg)
	return a, cmd
}

func (a *App) selectPlan(current string) {
	for idx, name := range plan.Names() {
		if string(name) == current {
			a.planMenu.Select(idx)
			return
		}
	}
}

func (a *App) changeSpeed(speed float64) tea.Cmd {
	if speed == a.speed {
		return nil
	}
	a.speed = speed
	a.statusMsg = fmt.Sprintf("Speed %sx", formatSpeed(speed))
	return a.send(protocol.SetSpeed{Speed: speed})
}

// refresh copies the mirror into the rendered view.
func (a *App) refresh() {
	a.view = a.mirror.State()
	a.lastTick = a.mirror.LastTick()
	a.items.SetRows(itemRows(a.view))
	if a.mirror.Synced() && !a.disconnected {
		if a.running {
			a.statusMsg = fmt.Sprintf("Running · tick %d", a.lastTick)
		} else {
			a.statusMsg = fmt.Sprintf("Paused · tick %d", a.lastTick)
		}
	}
}

func (a *App) loadLog() {
	a.logLines, a.logTotal = a.logbook.Tail(logPanelLines)
}

func (a *App) waitForEngine() tea.Cmd {
	if a.transport == nil {
		return nil
	}
	messages := a.transport.Messages()
	return func() tea.Msg {
		msg, ok := <-messages
		if !ok {
			return transportClosedMsg{err: a.transport.Err()}
		}
		return engineMsg{msg: msg}
	}
}

func (a *App) scheduleFlush() tea.Cmd {
	window := a.mirror.Throttle()
	if window < minFrame {
		window = minFrame
	}
	return tea.Tick(window, func(t time.Time) tea.Msg {
		return flushMsg(t)
	})
}

func (a *App) send(intent protocol.Intent) tea.Cmd {
	if a.transport == nil {
		return nil
	}
	t := a.transport
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		return intentSentMsg{intent: intent, err: t.Send(ctx, intent)}
	}
}

func nextSpeed(current float64, direction int) float64 {
	if direction > 0 {
		for _, step := range speedSteps {
			if step > current {
				return step
			}
		}
		return speedSteps[len(speedSteps)-1]
	}
	for i := len(speedSteps) - 1; i >= 0; i-- {
		if speedSteps[i] < current {
			return speedSteps[i]
		}
	}
	return speedSteps[0]
}

func formatSpeed(speed float64) string {
	return fmt.Sprintf("%g", speed)
}
