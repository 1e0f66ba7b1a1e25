package shore

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/driftlab/rovlink/internal/config"
	"github.com/driftlab/rovlink/internal/message"
	"github.com/driftlab/rovlink/internal/protocol"
)

// testConfig returns a shore config bound to an ephemeral port with
// timers compressed for tests.
func testConfig() config.ShoreConfig {
	cfg := config.DefaultShoreConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	cfg.HeartbeatTimeout = 200 * time.Millisecond
	cfg.CleanupInterval = 50 * time.Millisecond
	cfg.Advertise = false
	return cfg
}

func startServer(t *testing.T, cb Callbacks) *Server {
	t.Helper()
	s := New(testConfig(), cb)
	if err := s.Start(); err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	t.Cleanup(s.Stop)
	return s
}

// vehicleStub is the client side of a test connection: a raw socket the
// test scripts byte by byte.
type vehicleStub struct {
	conn net.Conn
}

func dialStub(t *testing.T, s *Server) *vehicleStub {
	t.Helper()
	conn, err := net.Dial("tcp", s.Addr().String())
	if err != nil {
		t.Fatalf("failed to dial server: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return &vehicleStub{conn: conn}
}

func (v *vehicleStub) sendHeartbeat(t *testing.T, hb *message.Heartbeat) {
	t.Helper()
	payload, err := hb.Encode()
	if err != nil {
		t.Fatalf("failed to encode heartbeat: %v", err)
	}
	wire, err := protocol.Encode(protocol.Wrap(protocol.KindHeartbeat, payload))
	if err != nil {
		t.Fatalf("failed to frame heartbeat: %v", err)
	}
	if _, err := v.conn.Write(wire); err != nil {
		t.Fatalf("stub write failed: %v", err)
	}
}

// readFrame reads one complete frame off the stub's socket.
func (v *vehicleStub) readFrame(t *testing.T) *protocol.Frame {
	t.Helper()
	var buf []byte
	chunk := make([]byte, 4096)
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		_ = v.conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, err := v.conn.Read(chunk)
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
	t.Fatal("timed out waiting for a frame from the server")
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

func TestHeartbeatDispatch(t *testing.T) {
	type received struct {
		id string
		hb message.Heartbeat
	}
	got := make(chan received, 1)
	srv := startServer(t, Callbacks{
		OnHeartbeat: func(id string, hb message.Heartbeat) {
			got <- received{id: id, hb: hb}
		},
	})

	stub := dialStub(t, srv)
	stub.sendHeartbeat(t, &message.Heartbeat{
		SurfaceError:   message.ErrorNone,
		BatteryVoltage: 14.8,
		Temperature:    21.5,
		Timestamp:      message.NowTimestamp(),
	})

	select {
	case r := <-got:
		if r.id != stub.conn.LocalAddr().String() {
			t.Errorf("heartbeat attributed to %q, want %q", r.id, stub.conn.LocalAddr())
		}
		if r.hb.BatteryVoltage != 14.8 {
			t.Errorf("battery voltage = %v, want 14.8", r.hb.BatteryVoltage)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("heartbeat was never dispatched")
	}
}

func TestHeartbeatAcrossSplitFrame(t *testing.T) {
	got := make(chan message.Heartbeat, 1)
	srv := startServer(t, Callbacks{
		OnHeartbeat: func(_ string, hb message.Heartbeat) { got <- hb },
	})

	stub := dialStub(t, srv)
	payload, err := (&message.Heartbeat{BatteryVoltage: 12.1}).Encode()
	if err != nil {
		t.Fatalf("failed to encode heartbeat: %v", err)
	}
	wire, err := protocol.Encode(protocol.Wrap(protocol.KindHeartbeat, payload))
	if err != nil {
		t.Fatalf("failed to frame heartbeat: %v", err)
	}

	// First half of the frame only: nothing must be dispatched.
	if _, err := stub.conn.Write(wire[:len(wire)/2]); err != nil {
		t.Fatalf("stub write failed: %v", err)
	}
	select {
	case <-got:
		t.Fatal("heartbeat dispatched from an incomplete frame")
	case <-time.After(200 * time.Millisecond):
	}

	if _, err := stub.conn.Write(wire[len(wire)/2:]); err != nil {
		t.Fatalf("stub write failed: %v", err)
	}
	select {
	case hb := <-got:
		if hb.BatteryVoltage != 12.1 {
			t.Errorf("battery voltage = %v, want 12.1", hb.BatteryVoltage)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("heartbeat was never dispatched after frame completion")
	}
}

func TestStaleConnectionEvictedOnce(t *testing.T) {
	var disconnects atomic.Int32
	srv := startServer(t, Callbacks{
		OnConnectionChange: func(connected bool, _ string, _ net.Addr) {
			if !connected {
				disconnects.Add(1)
			}
		},
	})

	dialStub(t, srv)
	waitFor(t, func() bool { return srv.ConnectionCount() == 1 }, "connection registration")

	// Stay silent past the heartbeat timeout and let the sweep evict it.
	waitFor(t, func() bool { return srv.ConnectionCount() == 0 }, "stale eviction")
	waitFor(t, func() bool { return disconnects.Load() == 1 }, "disconnect callback")

	// Several more sweep cycles must not re-fire the callback.
	time.Sleep(200 * time.Millisecond)
	if n := disconnects.Load(); n != 1 {
		t.Errorf("disconnect callback fired %d times, want exactly 1", n)
	}
}

func TestAnyBytesResetLivenessClock(t *testing.T) {
	srv := startServer(t, Callbacks{})

	stub := dialStub(t, srv)
	waitFor(t, func() bool { return srv.ConnectionCount() == 1 }, "connection registration")

	// Garbage bytes are not valid frames, but they still count as
	// liveness. Keep sending for several timeout periods.
	stop := time.Now().Add(600 * time.Millisecond)
	for time.Now().Before(stop) {
		// An incomplete header never decodes, so the bytes just pool in
		// the buffer without producing a corrupt-frame drop.
		if _, err := stub.conn.Write([]byte{0x00}); err != nil {
			t.Fatalf("stub write failed: %v", err)
		}
		time.Sleep(50 * time.Millisecond)
	}

	if srv.ConnectionCount() != 1 {
		t.Error("connection was evicted despite continuous traffic")
	}
}

func TestBroadcastReachesAllConnections(t *testing.T) {
	srv := startServer(t, Callbacks{})

	first := dialStub(t, srv)
	second := dialStub(t, srv)
	waitFor(t, func() bool { return srv.ConnectionCount() == 2 }, "both registrations")

	cm := &message.ControlMessage{
		Run:       true,
		LightsOn:  true,
		Timestamp: message.NowTimestamp(),
		Thrusters: []message.ThrusterCommand{{ID: 0, Velocity: 0.25, Enabled: true}},
	}
	if !srv.SendControl(cm) {
		t.Fatal("SendControl reported failure with two live connections")
	}

	for _, stub := range []*vehicleStub{first, second} {
		frame := stub.readFrame(t)
		env, err := protocol.Unwrap(frame.Payload)
		if err != nil {
			t.Fatalf("failed to unwrap broadcast: %v", err)
		}
		if env.Kind != protocol.KindControl {
			t.Fatalf("broadcast kind = %v, want %v", env.Kind, protocol.KindControl)
		}
		decoded, err := message.DecodeControl(env.Payload)
		if err != nil {
			t.Fatalf("failed to decode broadcast control: %v", err)
		}
		if !decoded.Run || !decoded.LightsOn {
			t.Errorf("decoded control = %+v, want run and lights set", decoded)
		}
	}
}

func TestBroadcastSucceedsPastBrokenConnection(t *testing.T) {
	srv := New(testConfig(), Callbacks{})
	if err := srv.Start(); err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	t.Cleanup(srv.Stop)

	// One healthy pipe and one already-closed pipe, registered directly
	// so the broken one cannot be reaped before the broadcast runs.
	healthyServer, healthyClient := net.Pipe()
	t.Cleanup(func() { _ = healthyServer.Close(); _ = healthyClient.Close() })
	brokenServer, brokenClient := net.Pipe()
	_ = brokenServer.Close()
	_ = brokenClient.Close()

	srv.mu.Lock()
	srv.conns["healthy"] = &ROVConnection{id: "healthy", addr: healthyServer.RemoteAddr(), conn: healthyServer, lastActivity: time.Now()}
	srv.conns["broken"] = &ROVConnection{id: "broken", addr: brokenServer.RemoteAddr(), conn: brokenServer, lastActivity: time.Now()}
	srv.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		buf := make([]byte, 4096)
		_ = healthyClient.SetReadDeadline(time.Now().Add(3 * time.Second))
		_, _ = healthyClient.Read(buf)
	}()

	if !srv.RequestHeartbeat() {
		t.Error("broadcast reported total failure with one healthy connection")
	}
	wg.Wait()
}

func TestBroadcastWithNoConnections(t *testing.T) {
	srv := startServer(t, Callbacks{})
	if srv.SendControl(&message.ControlMessage{Run: true}) {
		t.Error("SendControl reported success with no connections")
	}
	if srv.RequestHeartbeat() {
		t.Error("RequestHeartbeat reported success with no connections")
	}
}

func TestConnectionInfoSnapshot(t *testing.T) {
	srv := startServer(t, Callbacks{})

	stub := dialStub(t, srv)
	waitFor(t, func() bool { return srv.ConnectionCount() == 1 }, "connection registration")

	infos := srv.ConnectionInfo()
	if len(infos) != 1 {
		t.Fatalf("ConnectionInfo returned %d entries, want 1", len(infos))
	}
	if infos[0].ID != stub.conn.LocalAddr().String() {
		t.Errorf("connection id = %q, want %q", infos[0].ID, stub.conn.LocalAddr())
	}
	if infos[0].SilentFor < 0 {
		t.Errorf("silent-for = %v, want non-negative", infos[0].SilentFor)
	}
}

func TestStartBindFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to reserve a port: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	cfg := testConfig()
	cfg.Port = ln.Addr().(*net.TCPAddr).Port

	srv := New(cfg, Callbacks{})
	if err := srv.Start(); err == nil {
		srv.Stop()
		t.Fatal("Start succeeded on an occupied port")
	}
}

func TestStopClosesConnections(t *testing.T) {
	var disconnects atomic.Int32
	srv := New(testConfig(), Callbacks{
		OnConnectionChange: func(connected bool, _ string, _ net.Addr) {
			if !connected {
				disconnects.Add(1)
			}
		},
	})
	if err := srv.Start(); err != nil {
		t.Fatalf("failed to start server: %v", err)
	}

	conn, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatalf("failed to dial server: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	waitFor(t, func() bool { return srv.ConnectionCount() == 1 }, "connection registration")

	srv.Stop()
	srv.Stop() // idempotent

	if n := disconnects.Load(); n != 1 {
		t.Errorf("disconnect callback fired %d times on shutdown, want 1", n)
	}
	if srv.ConnectionCount() != 0 {
		t.Errorf("ConnectionCount = %d after Stop, want 0", srv.ConnectionCount())
	}
}
