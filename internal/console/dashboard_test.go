package console

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/driftlab/rovlink/internal/message"
	"github.com/driftlab/rovlink/internal/shore"
)

// fakeCommander records broadcasts so tests can assert on them.
type fakeCommander struct {
	controls   []*message.ControlMessage
	requests   int
	sendResult bool
	infos      []shore.ConnectionInfo
}

func (f *fakeCommander) SendControl(cm *message.ControlMessage) bool {
	f.controls = append(f.controls, cm)
	return f.sendResult
}

func (f *fakeCommander) RequestHeartbeat() bool {
	f.requests++
	return f.sendResult
}

func (f *fakeCommander) ConnectionInfo() []shore.ConnectionInfo {
	return f.infos
}

func keyPress(s string) tea.KeyMsg {
	if s == " " {
		return tea.KeyMsg{Type: tea.KeySpace}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestRunToggleBroadcasts(t *testing.T) {
	fake := &fakeCommander{sendResult: true}
	m := newDashboardModel(fake)

	updated, _ := m.Update(keyPress(" "))
	m = updated.(DashboardModel)

	if len(fake.controls) != 1 {
		t.Fatalf("broadcasts = %d, want 1", len(fake.controls))
	}
	if !fake.controls[0].Run {
		t.Error("first toggle should broadcast run=true")
	}
	if !m.control.run {
		t.Error("model run state was not toggled")
	}

	updated, _ = m.Update(keyPress(" "))
	m = updated.(DashboardModel)
	if fake.controls[1].Run {
		t.Error("second toggle should broadcast run=false")
	}
	if m.control.run {
		t.Error("model run state was not toggled back")
	}
}

func TestLightsToggleBroadcasts(t *testing.T) {
	fake := &fakeCommander{sendResult: true}
	m := newDashboardModel(fake)

	updated, _ := m.Update(keyPress("l"))
	m = updated.(DashboardModel)

	if len(fake.controls) != 1 || !fake.controls[0].LightsOn {
		t.Fatalf("lights toggle did not broadcast lights_on=true")
	}
	if !m.lastSendOK {
		t.Error("successful broadcast was not reflected in send status")
	}
}

func TestCameraPanClamped(t *testing.T) {
	fake := &fakeCommander{sendResult: true}
	m := newDashboardModel(fake)

	// Far more presses than the gimbal range allows.
	for i := 0; i < 40; i++ {
		updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyLeft})
		m = updated.(DashboardModel)
	}

	if m.control.pan != -cameraLimit {
		t.Errorf("pan = %v, want clamped at %v", m.control.pan, -cameraLimit)
	}
	last := fake.controls[len(fake.controls)-1]
	if last.CameraPan != -cameraLimit {
		t.Errorf("broadcast pan = %v, want %v", last.CameraPan, -cameraLimit)
	}
}

func TestHeartbeatRequestKey(t *testing.T) {
	fake := &fakeCommander{sendResult: false}
	m := newDashboardModel(fake)

	updated, _ := m.Update(keyPress("r"))
	m = updated.(DashboardModel)

	if fake.requests != 1 {
		t.Fatalf("heartbeat requests = %d, want 1", fake.requests)
	}
	if m.lastSendOK {
		t.Error("failed request was not reflected in send status")
	}
}

func TestHeartbeatUpdatesTable(t *testing.T) {
	fake := &fakeCommander{sendResult: true}
	m := newDashboardModel(fake)

	hb := message.Heartbeat{
		BatteryVoltage: 14.2,
		Thrusters: []message.ThrusterStatus{
			{ID: 0, Velocity: 0.5, Enabled: true, Current: 1.2, Temperature: 31.0},
			{ID: 1, Velocity: -0.25, Enabled: true, Current: 0.8, Temperature: 29.5},
		},
	}
	updated, _ := m.Update(heartbeatMsg{id: "10.0.0.2:50000", hb: hb})
	m = updated.(DashboardModel)

	if m.latestID != "10.0.0.2:50000" {
		t.Errorf("latestID = %q, want the heartbeat's connection", m.latestID)
	}
	if rows := m.thrusterTable.Rows(); len(rows) != 2 {
		t.Errorf("table rows = %d, want 2", len(rows))
	}
}

func TestDisconnectClearsHeartbeat(t *testing.T) {
	fake := &fakeCommander{sendResult: true}
	m := newDashboardModel(fake)

	updated, _ := m.Update(heartbeatMsg{id: "10.0.0.2:50000", hb: message.Heartbeat{}})
	m = updated.(DashboardModel)
	updated, _ = m.Update(connectionMsg{connected: false, id: "10.0.0.2:50000"})
	m = updated.(DashboardModel)

	if m.latestID != "" {
		t.Errorf("latestID = %q after disconnect, want empty", m.latestID)
	}
	if _, ok := m.heartbeats["10.0.0.2:50000"]; ok {
		t.Error("heartbeat for the disconnected vehicle was retained")
	}
}

func TestQuitKey(t *testing.T) {
	fake := &fakeCommander{}
	m := newDashboardModel(fake)

	_, cmd := m.Update(keyPress("q"))
	if cmd == nil {
		t.Fatal("quit key produced no command")
	}
	if msg := cmd(); msg == nil {
		t.Fatal("quit command produced no message")
	}
}
