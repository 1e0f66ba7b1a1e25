package console

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/driftlab/rovlink/internal/message"
	"github.com/driftlab/rovlink/internal/shore"
)

const (
	// cameraStep is the pan/tilt change per arrow key press, in degrees.
	cameraStep = 5.0
	// cameraLimit bounds the gimbal range in both axes.
	cameraLimit = 90.0
	// refreshInterval drives the periodic connection-list refresh.
	refreshInterval = 500 * time.Millisecond
)

// Commander is the command surface the dashboard drives. *shore.Server
// implements it.
type Commander interface {
	SendControl(cm *message.ControlMessage) bool
	RequestHeartbeat() bool
	ConnectionInfo() []shore.ConnectionInfo
}

// Messages delivered into the running program
type heartbeatMsg struct {
	id string
	hb message.Heartbeat
}

type connectionMsg struct {
	connected bool
	id        string
}

type refreshMsg time.Time

// dashboardKeyMap defines the operator key bindings
type dashboardKeyMap struct {
	Run       key.Binding
	Lights    key.Binding
	PanLeft   key.Binding
	PanRight  key.Binding
	TiltUp    key.Binding
	TiltDown  key.Binding
	Heartbeat key.Binding
	Quit      key.Binding
}

// ShortHelp returns keybindings to be shown in the mini help view
func (k dashboardKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Run, k.Lights, k.Heartbeat, k.Quit}
}

// FullHelp returns keybindings for the expanded help view
func (k dashboardKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Run, k.Lights, k.Heartbeat},
		{k.PanLeft, k.PanRight, k.TiltUp, k.TiltDown},
		{k.Quit},
	}
}

func defaultKeyMap() dashboardKeyMap {
	return dashboardKeyMap{
		Run: key.NewBinding(
			key.WithKeys(" "),
			key.WithHelp("space", "run/stop"),
		),
		Lights: key.NewBinding(
			key.WithKeys("l"),
			key.WithHelp("l", "lights"),
		),
		PanLeft: key.NewBinding(
			key.WithKeys("left"),
			key.WithHelp("←", "pan left"),
		),
		PanRight: key.NewBinding(
			key.WithKeys("right"),
			key.WithHelp("→", "pan right"),
		),
		TiltUp: key.NewBinding(
			key.WithKeys("up"),
			key.WithHelp("↑", "tilt up"),
		),
		TiltDown: key.NewBinding(
			key.WithKeys("down"),
			key.WithHelp("↓", "tilt down"),
		),
		Heartbeat: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "request heartbeat"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}

// Dashboard owns the Bubble Tea program and bridges server events into
// it. Events arriving before Run are dropped.
type Dashboard struct {
	mu      sync.Mutex
	program *tea.Program
}

// New creates a dashboard. Call Callbacks to wire it into a server,
// then Run to take over the terminal.
func New() *Dashboard {
	return &Dashboard{}
}

// Callbacks returns server callbacks that forward events into the
// running dashboard. Safe to install before Run is called.
func (d *Dashboard) Callbacks() shore.Callbacks {
	return shore.Callbacks{
		OnHeartbeat: func(id string, hb message.Heartbeat) {
			d.send(heartbeatMsg{id: id, hb: hb})
		},
		OnConnectionChange: func(connected bool, id string, _ net.Addr) {
			d.send(connectionMsg{connected: connected, id: id})
		},
	}
}

func (d *Dashboard) send(msg tea.Msg) {
	d.mu.Lock()
	p := d.program
	d.mu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

// Run starts the dashboard and blocks until the operator quits.
func (d *Dashboard) Run(cmd Commander) error {
	p := tea.NewProgram(newDashboardModel(cmd), tea.WithAltScreen())

	d.mu.Lock()
	d.program = p
	d.mu.Unlock()

	_, err := p.Run()

	d.mu.Lock()
	d.program = nil
	d.mu.Unlock()
	return err
}

// controlState is the operator-side command state the dashboard
// broadcasts on every change.
type controlState struct {
	run    bool
	lights bool
	pan    float64
	tilt   float64
}

// DashboardModel is the Bubble Tea model for the operator dashboard.
type DashboardModel struct {
	commander Commander

	Width  int
	Height int

	keys dashboardKeyMap
	help help.Model

	thrusterTable table.Model

	conns      []shore.ConnectionInfo
	heartbeats map[string]message.Heartbeat
	latestID   string

	control controlState

	sentAny    bool
	lastSendOK bool
	lastSendAt time.Time
}

func newDashboardModel(cmd Commander) DashboardModel {
	width, height := GetTerminalSize()

	columns := []table.Column{
		{Title: "Thruster", Width: 8},
		{Title: "Velocity", Width: 9},
		{Title: "Enabled", Width: 8},
		{Title: "Current", Width: 9},
		{Title: "Temp", Width: 7},
	}
	tbl := table.New(
		table.WithColumns(columns),
		table.WithHeight(message.ThrusterCount),
	)
	tblStyles := table.DefaultStyles()
	tblStyles.Header = tblStyles.Header.
		Foreground(PrimaryColor).
		Bold(true)
	tblStyles.Selected = lipgloss.NewStyle()
	tbl.SetStyles(tblStyles)

	return DashboardModel{
		commander:     cmd,
		Width:         width,
		Height:        height,
		keys:          defaultKeyMap(),
		help:          help.New(),
		thrusterTable: tbl,
		heartbeats:    make(map[string]message.Heartbeat),
	}
}

// Init implements tea.Model
func (m DashboardModel) Init() tea.Cmd {
	return scheduleRefresh()
}

func scheduleRefresh() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return refreshMsg(t)
	})
}

// Update implements tea.Model
func (m DashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		m.help.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case heartbeatMsg:
		m.heartbeats[msg.id] = msg.hb
		m.latestID = msg.id
		m.thrusterTable.SetRows(thrusterRows(msg.hb))
		return m, nil

	case connectionMsg:
		if !msg.connected {
			delete(m.heartbeats, msg.id)
			if m.latestID == msg.id {
				m.latestID = ""
			}
		}
		m.conns = m.commander.ConnectionInfo()
		return m, nil

	case refreshMsg:
		m.conns = m.commander.ConnectionInfo()
		return m, scheduleRefresh()
	}

	return m, nil
}

func (m DashboardModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Run):
		m.control.run = !m.control.run
		return m.broadcast()

	case key.Matches(msg, m.keys.Lights):
		m.control.lights = !m.control.lights
		return m.broadcast()

	case key.Matches(msg, m.keys.PanLeft):
		m.control.pan = clamp(m.control.pan-cameraStep, -cameraLimit, cameraLimit)
		return m.broadcast()

	case key.Matches(msg, m.keys.PanRight):
		m.control.pan = clamp(m.control.pan+cameraStep, -cameraLimit, cameraLimit)
		return m.broadcast()

	case key.Matches(msg, m.keys.TiltUp):
		m.control.tilt = clamp(m.control.tilt+cameraStep, -cameraLimit, cameraLimit)
		return m.broadcast()

	case key.Matches(msg, m.keys.TiltDown):
		m.control.tilt = clamp(m.control.tilt-cameraStep, -cameraLimit, cameraLimit)
		return m.broadcast()

	case key.Matches(msg, m.keys.Heartbeat):
		m.sentAny = true
		m.lastSendOK = m.commander.RequestHeartbeat()
		m.lastSendAt = time.Now()
		return m, nil
	}

	return m, nil
}

// broadcast sends the current control state to every connected vehicle.
func (m DashboardModel) broadcast() (tea.Model, tea.Cmd) {
	cm := &message.ControlMessage{
		Run:        m.control.run,
		LightsOn:   m.control.lights,
		CameraPan:  m.control.pan,
		CameraTilt: m.control.tilt,
		Timestamp:  message.NowTimestamp(),
	}
	m.sentAny = true
	m.lastSendOK = m.commander.SendControl(cm)
	m.lastSendAt = time.Now()
	return m, nil
}

func thrusterRows(hb message.Heartbeat) []table.Row {
	rows := make([]table.Row, 0, len(hb.Thrusters))
	for _, ts := range hb.Thrusters {
		rows = append(rows, table.Row{
			fmt.Sprintf("%d", ts.ID),
			fmt.Sprintf("%+.2f", ts.Velocity),
			formatEnabled(ts.Enabled),
			fmt.Sprintf("%.2f A", ts.Current),
			fmt.Sprintf("%.1f°", ts.Temperature),
		})
	}
	return rows
}

func formatEnabled(enabled bool) string {
	if enabled {
		return "yes"
	}
	return "no"
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// View implements tea.Model
func (m DashboardModel) View() string {
	content := lipgloss.JoinVertical(
		lipgloss.Left,
		m.renderConnectionsPanel(),
		m.renderVehiclePanel(),
		m.renderControlPanel(),
	)
	return RenderApplicationContainer(content, m.help.View(m.keys), m.Width, m.Height)
}

func (m DashboardModel) renderConnectionsPanel() string {
	title := TitleStyle.Render("Vehicles")

	var body string
	if len(m.conns) == 0 {
		body = StatusBadStyle.Render("no vehicle connected")
	} else {
		lines := make([]string, 0, len(m.conns))
		for _, info := range m.conns {
			silent := info.SilentFor.Round(100 * time.Millisecond)
			lines = append(lines,
				ValueStyle.Render(info.ID)+
					LabelStyle.Render(fmt.Sprintf("  last seen %s ago", silent)))
		}
		body = lipgloss.JoinVertical(lipgloss.Left, lines...)
	}

	return PanelStyle.Render(lipgloss.JoinVertical(lipgloss.Left, title, body))
}

func (m DashboardModel) renderVehiclePanel() string {
	title := TitleStyle.Render("Telemetry")

	hb, ok := m.heartbeats[m.latestID]
	if !ok {
		return PanelStyle.Render(lipgloss.JoinVertical(lipgloss.Left,
			title, LabelStyle.Render("waiting for heartbeat")))
	}

	status := lipgloss.JoinHorizontal(lipgloss.Top,
		LabelStyle.Render("Battery: "), ValueStyle.Render(fmt.Sprintf("%.1f V", hb.BatteryVoltage)),
		LabelStyle.Render("   Temp: "), ValueStyle.Render(fmt.Sprintf("%.1f°", hb.Temperature)),
		LabelStyle.Render("   PDB: "), ValueStyle.Render(fmt.Sprintf("%.1f°", hb.PDBTemperature)),
		LabelStyle.Render("   Error: "), renderSurfaceError(hb.SurfaceError),
	)

	return PanelStyle.Render(lipgloss.JoinVertical(lipgloss.Left,
		title, status, m.thrusterTable.View()))
}

func renderSurfaceError(code int) string {
	switch code {
	case message.ErrorNone:
		return StatusGoodStyle.Render("none")
	case message.ErrorInvalidData:
		return StatusBadStyle.Render("invalid data")
	case message.ErrorUnknownThruster:
		return StatusBadStyle.Render("unknown thruster")
	default:
		return StatusBadStyle.Render(fmt.Sprintf("code %d", code))
	}
}

func (m DashboardModel) renderControlPanel() string {
	title := TitleStyle.Render("Control")

	state := lipgloss.JoinHorizontal(lipgloss.Top,
		LabelStyle.Render("Run: "), renderToggle(m.control.run),
		LabelStyle.Render("   Lights: "), renderToggle(m.control.lights),
		LabelStyle.Render("   Pan: "), ValueStyle.Render(fmt.Sprintf("%+.0f°", m.control.pan)),
		LabelStyle.Render("   Tilt: "), ValueStyle.Render(fmt.Sprintf("%+.0f°", m.control.tilt)),
	)

	var sendStatus string
	switch {
	case !m.sentAny:
		sendStatus = LabelStyle.Render("no command sent yet")
	case m.lastSendOK:
		sendStatus = StatusGoodStyle.Render(
			fmt.Sprintf("last command delivered at %s", m.lastSendAt.Format("15:04:05")))
	default:
		sendStatus = StatusBadStyle.Render(
			fmt.Sprintf("last command failed at %s", m.lastSendAt.Format("15:04:05")))
	}

	return PanelStyle.Render(lipgloss.JoinVertical(lipgloss.Left, title, state, sendStatus))
}

func renderToggle(on bool) string {
	if on {
		return StatusGoodStyle.Render("ON")
	}
	return LabelStyle.Render("off")
}
