package vehicle

import (
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/driftlab/rovlink/internal/config"
	"github.com/driftlab/rovlink/internal/message"
	"github.com/driftlab/rovlink/internal/protocol"
)

// testConfig returns a vehicle config with timers compressed for tests.
func testConfig(addr string) config.VehicleConfig {
	cfg := config.DefaultVehicleConfig()
	cfg.ShoreAddr = addr
	cfg.ConnectTimeout = time.Second
	cfg.ReconnectInterval = 50 * time.Millisecond
	cfg.HeartbeatInterval = 100 * time.Millisecond
	return cfg
}

// shoreStub is a minimal in-test shore endpoint: it accepts connections
// and exposes them for the test to script.
type shoreStub struct {
	ln    net.Listener
	conns chan net.Conn
}

func newShoreStub(t *testing.T) *shoreStub {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	s := &shoreStub{ln: ln, conns: make(chan net.Conn, 4)}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			s.conns <- conn
		}
	}()
	t.Cleanup(func() { _ = ln.Close() })
	return s
}

func (s *shoreStub) addr() string { return s.ln.Addr().String() }

func (s *shoreStub) accept(t *testing.T) net.Conn {
	t.Helper()
	select {
	case conn := <-s.conns:
		t.Cleanup(func() { _ = conn.Close() })
		return conn
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for the link to connect")
		return nil
	}
}

// readFrame reads one complete frame off the stub's side of the socket.
func readFrame(t *testing.T, conn net.Conn) *protocol.Frame {
	t.Helper()
	var buf []byte
	chunk := make([]byte, 4096)
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		_ = conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, err := conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			if frame, _, err := protocol.Decode(buf); err == nil && frame != nil {
				return frame
			}
		}
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			t.Fatalf("stub read error: %v", err)
		}
	}
	t.Fatal("timed out waiting for a frame from the link")
	return nil
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestConnectAndSendHeartbeat(t *testing.T) {
	stub := newShoreStub(t)

	var connected atomic.Bool
	link := New(testConfig(stub.addr()), Callbacks{
		OnConnectionChange: func(up bool) { connected.Store(up) },
	})
	if err := link.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(link.Stop)

	conn := stub.accept(t)
	waitFor(t, link.Connected, "link to reach connected state")
	if !connected.Load() {
		t.Error("OnConnectionChange(true) was not invoked")
	}
	if got := link.ReconnectAttempts(); got != 0 {
		t.Errorf("ReconnectAttempts() = %d after successful connect, want 0", got)
	}

	hb := &message.Heartbeat{BatteryVoltage: 14.8, Timestamp: message.NowTimestamp()}
	if err := link.SendHeartbeat(hb); err != nil {
		t.Fatalf("SendHeartbeat() error = %v", err)
	}

	frame := readFrame(t, conn)
	env, err := protocol.Unwrap(frame.Payload)
	if err != nil {
		t.Fatalf("Unwrap() error = %v", err)
	}
	if env.Kind != protocol.KindHeartbeat {
		t.Fatalf("kind = %v, want heartbeat", env.Kind)
	}
	got, err := message.DecodeHeartbeat(env.Payload)
	if err != nil {
		t.Fatalf("DecodeHeartbeat() error = %v", err)
	}
	if got.BatteryVoltage != 14.8 {
		t.Errorf("battery_voltage = %v, want 14.8", got.BatteryVoltage)
	}
}

// The §8-style end-to-end scenario: a control frame delivered in two
// chunks must produce exactly one decoded control message, and nothing
// before the full frame has arrived.
func TestControlDispatchAcrossSplitFrame(t *testing.T) {
	stub := newShoreStub(t)

	controls := make(chan message.ControlMessage, 1)
	link := New(testConfig(stub.addr()), Callbacks{
		OnControl: func(cm message.ControlMessage) { controls <- cm },
	})
	if err := link.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(link.Stop)

	conn := stub.accept(t)
	waitFor(t, link.Connected, "link to reach connected state")

	cm := &message.ControlMessage{
		Run:       true,
		Timestamp: message.NowTimestamp(),
		Thrusters: []message.ThrusterCommand{{ID: 2, Velocity: 0.5, Enabled: true}},
	}
	payload, err := cm.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	wire, err := protocol.Encode(protocol.Wrap(protocol.KindControl, payload))
	if err != nil {
		t.Fatalf("protocol.Encode() error = %v", err)
	}

	if _, err := conn.Write(wire[:5]); err != nil {
		t.Fatalf("writing first chunk: %v", err)
	}
	// With only 5 of 8 header bytes delivered, nothing may decode.
	time.Sleep(300 * time.Millisecond)
	select {
	case <-controls:
		t.Fatal("control message decoded before the full frame arrived")
	default:
	}

	if _, err := conn.Write(wire[5:]); err != nil {
		t.Fatalf("writing second chunk: %v", err)
	}

	select {
	case got := <-controls:
		if !got.Run {
			t.Error("run = false, want true")
		}
		if len(got.Thrusters) != 1 {
			t.Fatalf("thrusters = %d, want 1", len(got.Thrusters))
		}
		tc := got.Thrusters[0]
		if tc.ID != 2 || tc.Velocity != 0.5 || !tc.Enabled {
			t.Errorf("thruster = %+v, want {2 0.5 true}", tc)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("control message was never dispatched")
	}

	// Exactly one message from one frame.
	select {
	case <-controls:
		t.Error("more than one control message dispatched")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestHeartbeatRequestDispatch(t *testing.T) {
	stub := newShoreStub(t)

	requests := make(chan struct{}, 1)
	link := New(testConfig(stub.addr()), Callbacks{
		OnHeartbeatRequest: func() { requests <- struct{}{} },
	})
	if err := link.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(link.Stop)

	conn := stub.accept(t)
	waitFor(t, link.Connected, "link to reach connected state")

	req := &message.HeartbeatRequest{RequestHeartbeat: true}
	payload, _ := req.Encode()
	wire, _ := protocol.Encode(protocol.Wrap(protocol.KindHeartbeatRequest, payload))
	if _, err := conn.Write(wire); err != nil {
		t.Fatalf("writing request: %v", err)
	}

	select {
	case <-requests:
	case <-time.After(3 * time.Second):
		t.Fatal("heartbeat request callback never fired")
	}
}

// Repeated failed connects must never reach CONNECTED, and a later
// successful connect must reset the failure counter.
func TestReconnectAfterRefusedConnections(t *testing.T) {
	// Reserve a port with no listener behind it.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to reserve port: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	link := New(testConfig(addr), Callbacks{})
	if err := link.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(link.Stop)

	waitFor(t, func() bool { return link.ReconnectAttempts() >= 2 }, "repeated connect failures")
	if link.Connected() {
		t.Fatal("link reported connected with no listener present")
	}

	// Bring the shore station up on the reserved port.
	ln, err = net.Listen("tcp", addr)
	if err != nil {
		t.Skipf("reserved port was taken: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			t.Cleanup(func() { _ = conn.Close() })
		}
	}()

	waitFor(t, link.Connected, "link to connect once a listener exists")
	if got := link.ReconnectAttempts(); got != 0 {
		t.Errorf("ReconnectAttempts() = %d after connect, want 0", got)
	}
}

// A silent shore must trip the liveness monitor and push the link back
// into its reconnect cycle.
func TestLivenessTimeoutTriggersReconnect(t *testing.T) {
	stub := newShoreStub(t)

	changes := make(chan bool, 8)
	link := New(testConfig(stub.addr()), Callbacks{
		OnConnectionChange: func(up bool) { changes <- up },
	})
	link.livenessEvery = 20 * time.Millisecond
	if err := link.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(link.Stop)

	stub.accept(t)
	waitFor(t, link.Connected, "initial connect")
	<-changes // the connect notification

	// Say nothing. After 3x the heartbeat interval the liveness loop
	// must declare the connection dead.
	select {
	case up := <-changes:
		if up {
			t.Fatal("expected a disconnect notification first")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("liveness timeout never fired")
	}

	// The link reconnects on its own.
	stub.accept(t)
	waitFor(t, link.Connected, "automatic reconnect")
}

func TestSendWhileDisconnected(t *testing.T) {
	// Point at a reserved-but-closed port so the link never connects.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to reserve port: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	link := New(testConfig(addr), Callbacks{})
	if err := link.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(link.Stop)

	hb := &message.Heartbeat{}
	if err := link.SendHeartbeat(hb); !errors.Is(err, ErrNotConnected) {
		t.Errorf("SendHeartbeat() error = %v, want ErrNotConnected", err)
	}
}

func TestStopIsPromptAndIdempotent(t *testing.T) {
	stub := newShoreStub(t)

	link := New(testConfig(stub.addr()), Callbacks{})
	if err := link.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	stub.accept(t)
	waitFor(t, link.Connected, "connect before stop")

	start := time.Now()
	link.Stop()
	link.Stop() // second call must be a no-op
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Stop() took %v, want bounded shutdown", elapsed)
	}
	if link.Connected() {
		t.Error("link still reports connected after Stop()")
	}
}

func TestStartTwice(t *testing.T) {
	stub := newShoreStub(t)
	link := New(testConfig(stub.addr()), Callbacks{})
	if err := link.Start(); err != nil {
		t.Fatalf("first Start() error = %v", err)
	}
	t.Cleanup(link.Stop)
	if err := link.Start(); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start() error = %v, want ErrAlreadyStarted", err)
	}
}
