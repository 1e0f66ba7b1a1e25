package vehicle

import (
	"math/rand"
	"sync"

	"go.uber.org/zap"

	"github.com/driftlab/rovlink/internal/logging"
	"github.com/driftlab/rovlink/internal/message"
)

// Telemetry models the vehicle's actuator and sensor state for builds
// that run without real hardware. It applies incoming control commands
// and produces heartbeats from the resulting state, with mildly noisy
// sensor readings so shore-side consumers see realistic traffic.
type Telemetry struct {
	mu sync.Mutex

	run    bool
	lights bool
	pan    float64
	tilt   float64

	thrusters [message.ThrusterCount]message.ThrusterStatus
	pdbs      [message.ThrusterCount]message.PDBStatus

	surfaceError   int
	batteryVoltage float64
	temperature    float64
	pdbTemperature float64
}

// NewTelemetry returns a telemetry source at a fully charged idle state.
func NewTelemetry() *Telemetry {
	t := &Telemetry{
		batteryVoltage: 16.8,
		temperature:    18.0,
		pdbTemperature: 22.0,
	}
	for i := range t.thrusters {
		t.thrusters[i] = message.ThrusterStatus{ID: i}
		t.pdbs[i] = message.PDBStatus{ID: i, Enabled: true}
	}
	return t
}

// Apply processes a control command. Out-of-range fields do not change
// any actuator state; they only latch a surface error code that the
// next heartbeat reports. A subsequent valid command clears the code.
func (t *Telemetry) Apply(cm message.ControlMessage) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := cm.Validate(); err != nil {
		logging.Warn("Rejecting control command", zap.Error(err))
		t.surfaceError = message.ErrorCode(err)
		return
	}

	t.surfaceError = message.ErrorNone
	t.run = cm.Run
	t.lights = cm.LightsOn
	t.pan = cm.CameraPan
	t.tilt = cm.CameraTilt
	for _, tc := range cm.Thrusters {
		t.thrusters[tc.ID].Enabled = tc.Enabled
		if t.run && tc.Enabled {
			t.thrusters[tc.ID].Velocity = tc.Velocity
		} else {
			t.thrusters[tc.ID].Velocity = 0
		}
	}
	if !t.run {
		for i := range t.thrusters {
			t.thrusters[i].Velocity = 0
		}
	}

	logging.Debug("Applied control command",
		zap.Bool("run", t.run),
		zap.Bool("lights", t.lights),
		zap.Float64("pan", t.pan),
		zap.Float64("tilt", t.tilt),
		zap.Int("thrusters", len(cm.Thrusters)),
	)
}

// SurfaceError returns the currently latched surface error code.
func (t *Telemetry) SurfaceError() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.surfaceError
}

// Snapshot produces a heartbeat from the current state. Each call
// advances the simulated sensors: the battery drains slowly while
// running and electrical readings track thruster velocity.
func (t *Telemetry) Snapshot() message.Heartbeat {
	t.mu.Lock()
	defer t.mu.Unlock()

	load := 0.0
	for i := range t.thrusters {
		v := t.thrusters[i].Velocity
		if v < 0 {
			v = -v
		}
		t.thrusters[i].Current = 8.0*v + rand.Float64()*0.2
		t.thrusters[i].Temperature = t.temperature + 10.0*v + rand.Float64()
		load += v
	}
	for i := range t.pdbs {
		if t.pdbs[i].Enabled {
			t.pdbs[i].BusCurrent = t.thrusters[i].Current
		} else {
			t.pdbs[i].BusCurrent = 0
		}
	}

	t.batteryVoltage -= 0.0001 * (1 + load)
	if t.batteryVoltage < 12.0 {
		t.batteryVoltage = 12.0
	}
	t.pdbTemperature = 22.0 + 2.0*load + rand.Float64()*0.5

	hb := message.Heartbeat{
		SurfaceError:   t.surfaceError,
		BatteryVoltage: t.batteryVoltage,
		Temperature:    t.temperature + rand.Float64()*0.3,
		PDBTemperature: t.pdbTemperature,
		Timestamp:      message.NowTimestamp(),
		Thrusters:      make([]message.ThrusterStatus, message.ThrusterCount),
		PDBStati:       make([]message.PDBStatus, message.ThrusterCount),
	}
	copy(hb.Thrusters, t.thrusters[:])
	copy(hb.PDBStati, t.pdbs[:])
	return hb
}
