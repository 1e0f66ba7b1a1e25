package message

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ThrusterCount is the number of thrusters on the vehicle. Thruster IDs
// run 0 through ThrusterCount-1.
const ThrusterCount = 6

// Velocity limits for a thruster command, as fractions of full scale.
const (
	MinVelocity = -1.0
	MaxVelocity = 1.0
)

// Surface error codes reported in Heartbeat.SurfaceError. These mirror the
// codes the vehicle firmware has always used, so the shore side can
// interpret them without a schema exchange.
const (
	ErrorNone            = 0 // no error
	ErrorInvalidData     = 1 // command field out of range
	ErrorUnknownThruster = 2 // command referenced a thruster that does not exist
)

var (
	// ErrInvalidControl is wrapped by all ControlMessage validation
	// failures.
	ErrInvalidControl = errors.New("message: invalid control command")
)

// ThrusterCommand is one thruster's target state within a control command.
type ThrusterCommand struct {
	ID       int     `json:"id"`
	Velocity float64 `json:"velocity"`
	Enabled  bool    `json:"enabled"`
}

// ControlMessage is the operator-to-vehicle command: master run state,
// lights, camera gimbal, and per-thruster targets.
type ControlMessage struct {
	Run        bool              `json:"run"`
	LightsOn   bool              `json:"lights_on"`
	CameraPan  float64           `json:"camera_pan"`
	CameraTilt float64           `json:"camera_tilt"`
	Timestamp  int64             `json:"timestamp"` // ms since epoch
	Thrusters  []ThrusterCommand `json:"thrusters"`
}

// ThrusterStatus is one thruster's live readings within a heartbeat.
type ThrusterStatus struct {
	ID          int     `json:"id"`
	Velocity    float64 `json:"velocity"`
	Enabled     bool    `json:"enabled"`
	Current     float64 `json:"current"`
	Temperature float64 `json:"temperature"`
}

// PDBStatus is one power-distribution-board bus channel's state.
type PDBStatus struct {
	ID         int     `json:"id"`
	Enabled    bool    `json:"enabled"`
	BusCurrent float64 `json:"bus_current"`
}

// Heartbeat is the periodic vehicle-to-shore status report, produced once
// per heartbeat cycle from live sensor and actuator readings. It is
// read-only once sent.
type Heartbeat struct {
	SurfaceError   int              `json:"surface_error"`
	BatteryVoltage float64          `json:"battery_voltage"`
	Temperature    float64          `json:"temperature"`
	PDBTemperature float64          `json:"pdb_temperature"`
	Timestamp      int64            `json:"timestamp"` // ms since epoch
	Thrusters      []ThrusterStatus `json:"thrusters"`
	PDBStati       []PDBStatus      `json:"pdb_stati"`
}

// HeartbeatRequest asks the vehicle to send a heartbeat immediately
// instead of waiting for its next cycle.
type HeartbeatRequest struct {
	RequestHeartbeat bool `json:"request_heartbeat"`
}

// ValidationError is a control validation failure. Code is the surface
// error code the vehicle reports in its next heartbeat.
type ValidationError struct {
	Code int
	msg  string
}

func (e *ValidationError) Error() string { return "message: invalid control command: " + e.msg }

// Is lets errors.Is(err, ErrInvalidControl) match any validation error.
func (e *ValidationError) Is(target error) bool { return target == ErrInvalidControl }

// ErrorCode maps an error from Validate to its surface error code, or
// ErrorNone for nil and non-validation errors.
func ErrorCode(err error) int {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Code
	}
	return ErrorNone
}

// Validate checks a control command's fields: thruster IDs must be in
// range and unique within the batch, velocities within [-1, 1]. Failures
// return a *ValidationError matching ErrInvalidControl.
func (c *ControlMessage) Validate() error {
	seen := make(map[int]bool, len(c.Thrusters))
	for _, tc := range c.Thrusters {
		if tc.ID < 0 || tc.ID >= ThrusterCount {
			return &ValidationError{
				Code: ErrorUnknownThruster,
				msg:  fmt.Sprintf("thruster id %d out of range", tc.ID),
			}
		}
		if seen[tc.ID] {
			return &ValidationError{
				Code: ErrorInvalidData,
				msg:  fmt.Sprintf("duplicate thruster id %d", tc.ID),
			}
		}
		seen[tc.ID] = true
		if tc.Velocity < MinVelocity || tc.Velocity > MaxVelocity {
			return &ValidationError{
				Code: ErrorInvalidData,
				msg:  fmt.Sprintf("thruster %d velocity %v out of range", tc.ID, tc.Velocity),
			}
		}
	}
	return nil
}

// Encode serializes the control message for the envelope layer.
func (c *ControlMessage) Encode() ([]byte, error) {
	return json.Marshal(c)
}

// Encode serializes the heartbeat for the envelope layer.
func (h *Heartbeat) Encode() ([]byte, error) {
	return json.Marshal(h)
}

// Encode serializes the heartbeat request for the envelope layer.
func (r *HeartbeatRequest) Encode() ([]byte, error) {
	return json.Marshal(r)
}

// DecodeControl parses a control message payload.
func DecodeControl(b []byte) (ControlMessage, error) {
	var c ControlMessage
	if err := json.Unmarshal(b, &c); err != nil {
		return ControlMessage{}, fmt.Errorf("message: decode control: %w", err)
	}
	return c, nil
}

// DecodeHeartbeat parses a heartbeat payload.
func DecodeHeartbeat(b []byte) (Heartbeat, error) {
	var h Heartbeat
	if err := json.Unmarshal(b, &h); err != nil {
		return Heartbeat{}, fmt.Errorf("message: decode heartbeat: %w", err)
	}
	return h, nil
}

// DecodeHeartbeatRequest parses a heartbeat request payload.
func DecodeHeartbeatRequest(b []byte) (HeartbeatRequest, error) {
	var r HeartbeatRequest
	if err := json.Unmarshal(b, &r); err != nil {
		return HeartbeatRequest{}, fmt.Errorf("message: decode heartbeat request: %w", err)
	}
	return r, nil
}

// NowTimestamp returns the current time in the wire's millisecond epoch
// convention.
func NowTimestamp() int64 {
	return time.Now().UnixMilli()
}
