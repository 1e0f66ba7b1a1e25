package shore

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/driftlab/rovlink/internal/config"
	"github.com/driftlab/rovlink/internal/logging"
	"github.com/driftlab/rovlink/internal/message"
	"github.com/driftlab/rovlink/internal/metrics"
	"github.com/driftlab/rovlink/internal/protocol"
)

const (
	// acceptTimeout is the accept deadline; each expiry lets the accept
	// loop re-check the stop flag.
	acceptTimeout = 1 * time.Second
	// readTimeout bounds one handler receive pass.
	readTimeout = 200 * time.Millisecond
	// writeTimeout bounds one broadcast send per connection.
	writeTimeout = 2 * time.Second
	// readChunkSize is the per-pass receive buffer size.
	readChunkSize = 4096
	// stopJoinTimeout bounds how long Stop waits for workers to exit.
	stopJoinTimeout = 1 * time.Second
)

// ErrAlreadyStarted is returned by Start on a running server.
var ErrAlreadyStarted = errors.New("shore: server already started")

// Callbacks are the hooks the server invokes for decoded telemetry and
// connection lifecycle events. Nil hooks are skipped.
type Callbacks struct {
	// OnHeartbeat receives each decoded heartbeat with the originating
	// connection id.
	OnHeartbeat func(id string, hb message.Heartbeat)
	// OnConnectionChange fires with true when a vehicle connects and
	// false exactly once when its connection is removed.
	OnConnectionChange func(connected bool, id string, addr net.Addr)
}

// Server is the shore-station peer: it accepts any number of vehicle
// connections, dispatches their telemetry, and broadcasts commands.
type Server struct {
	cfg config.ShoreConfig
	cb  Callbacks
	m   *metrics.Metrics

	ln net.Listener

	mu            sync.Mutex // guards conns and lastHeartbeat
	conns         map[string]*ROVConnection
	lastHeartbeat time.Time

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// New creates a server for the given config. Start must be called before
// it accepts anything.
func New(cfg config.ShoreConfig, cb Callbacks) *Server {
	return &Server{
		cfg:    cfg,
		cb:     cb,
		m:      metrics.Default(),
		conns:  make(map[string]*ROVConnection),
		stopCh: make(chan struct{}),
	}
}

// Start binds the listen socket and launches the accept and cleanup
// workers. A bind failure is fatal: there is no degraded mode for a shore
// station that cannot listen.
func (s *Server) Start() error {
	err := ErrAlreadyStarted
	s.startOnce.Do(func() {
		s.ln, err = net.Listen("tcp", s.cfg.ListenAddr())
		if err != nil {
			err = fmt.Errorf("shore: failed to listen on %s: %w", s.cfg.ListenAddr(), err)
			return
		}

		s.wg.Add(2)
		go s.acceptLoop()
		go s.cleanupLoop()

		logging.Info("Shore server started", zap.String("addr", s.ln.Addr().String()))
		err = nil
	})
	return err
}

// Stop closes the listener and every connection, then waits a bounded
// time for the workers to exit.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		if s.ln != nil {
			_ = s.ln.Close()
		}

		s.mu.Lock()
		snapshot := make([]*ROVConnection, 0, len(s.conns))
		for _, c := range s.conns {
			snapshot = append(snapshot, c)
		}
		s.mu.Unlock()
		for _, c := range snapshot {
			s.closeConnection(c, "shutdown")
		}

		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(stopJoinTimeout):
			logging.Warn("Shore server workers did not exit in time, abandoning")
		}
		logging.Info("Shore server stopped")
	})
}

// Addr returns the bound listen address, useful when the configured port
// was 0.
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// ConnectionCount returns the number of registered vehicle connections.
func (s *Server) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// ConnectionInfo returns a snapshot of every registered connection.
func (s *Server) ConnectionInfo() []ConnectionInfo {
	s.mu.Lock()
	snapshot := make([]*ROVConnection, 0, len(s.conns))
	for _, c := range s.conns {
		snapshot = append(snapshot, c)
	}
	s.mu.Unlock()

	infos := make([]ConnectionInfo, 0, len(snapshot))
	for _, c := range snapshot {
		c.mu.Lock()
		infos = append(infos, ConnectionInfo{
			ID:           c.id,
			Addr:         c.addr.String(),
			SilentFor:    time.Since(c.lastActivity),
			LastActivity: c.lastActivity,
		})
		c.mu.Unlock()
	}
	return infos
}

// SendControl broadcasts a control command to every connected vehicle.
// It reports true when at least one connection accepted the message.
func (s *Server) SendControl(cm *message.ControlMessage) bool {
	payload, err := cm.Encode()
	if err != nil {
		logging.Error("Failed to encode control message", zap.Error(err))
		return false
	}
	return s.broadcast(protocol.KindControl, payload)
}

// RequestHeartbeat broadcasts a heartbeat request to every connected
// vehicle.
func (s *Server) RequestHeartbeat() bool {
	req := &message.HeartbeatRequest{RequestHeartbeat: true}
	payload, err := req.Encode()
	if err != nil {
		logging.Error("Failed to encode heartbeat request", zap.Error(err))
		return false
	}
	return s.broadcast(protocol.KindHeartbeatRequest, payload)
}

// broadcast frames the message once and attempts delivery to a snapshot
// of the registry. Per-connection failures are logged and do not abort
// delivery to the rest; a broken connection is reaped by its own handler
// or the sweep.
func (s *Server) broadcast(kind protocol.Kind, payload []byte) bool {
	wire, err := protocol.Encode(protocol.Wrap(kind, payload))
	if err != nil {
		logging.Error("Failed to frame broadcast", zap.Error(err))
		return false
	}

	s.mu.Lock()
	snapshot := make([]*ROVConnection, 0, len(s.conns))
	for _, c := range s.conns {
		snapshot = append(snapshot, c)
	}
	s.mu.Unlock()

	sent := 0
	for _, c := range snapshot {
		if err := c.send(wire, writeTimeout); err != nil {
			logging.Warn("Broadcast send failed",
				zap.String("conn_id", c.id),
				zap.String("kind", kind.String()),
				zap.Error(err),
			)
			s.m.BroadcastFailures.Inc()
			continue
		}
		s.m.FramesSent.WithLabelValues(kind.String()).Inc()
		s.m.BytesSent.Add(float64(len(wire)))
		logging.LogMessage(c.id, "send", kind.String(), len(payload))
		sent++
	}
	return sent > 0
}

// acceptLoop registers each accepted socket and gives it a handler
// goroutine. Accept deadline expiries are not errors, they only let the
// loop notice Stop.
func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for s.running() {
		if tcpLn, ok := s.ln.(*net.TCPListener); ok {
			_ = tcpLn.SetDeadline(time.Now().Add(acceptTimeout))
		}
		conn, err := s.ln.Accept()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if s.running() {
				logging.Error("Accept failed", zap.Error(err))
			}
			return
		}
		s.register(conn)
	}
}

func (s *Server) register(conn net.Conn) {
	c := newROVConnection(conn)

	// A reconnect from the same ip:port retires the dead record first so
	// the registry count and callbacks stay balanced.
	s.mu.Lock()
	old := s.conns[c.id]
	s.mu.Unlock()
	if old != nil {
		s.closeConnection(old, "replaced")
	}

	s.mu.Lock()
	s.conns[c.id] = c
	s.mu.Unlock()

	s.m.ConnectionsTotal.Inc()
	s.m.ConnectionsActive.Inc()
	logging.LogConnection(c.id, "accepted")
	if s.cb.OnConnectionChange != nil {
		s.cb.OnConnectionChange(true, c.id, c.addr)
	}

	s.wg.Add(1)
	go s.handleConnection(c)
}

// handleConnection is the per-connection receive loop: read with a
// deadline, refresh liveness on any bytes, decode and dispatch complete
// frames. Read failure or peer close removes the connection exactly once.
func (s *Server) handleConnection(c *ROVConnection) {
	defer s.wg.Done()
	reason := "peer_closed"

	for s.running() {
		chunk := make([]byte, readChunkSize)
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()

		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		n, err := conn.Read(chunk)
		if n > 0 {
			c.touch()
			s.m.BytesReceived.Add(float64(n))

			c.mu.Lock()
			c.recvBuf = append(c.recvBuf, chunk[:n]...)
			c.mu.Unlock()

			if !s.drainFrames(c) {
				reason = "oversized_frame"
				break
			}
		}
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if s.running() {
				logging.Debug("Connection read ended",
					zap.String("conn_id", c.id), zap.Error(err))
				reason = "read_error"
			}
			break
		}
	}

	s.closeConnection(c, reason)
}

// drainFrames consumes the connection's buffer front to back. It returns
// false when the stream is unusable and the connection must be dropped.
func (s *Server) drainFrames(c *ROVConnection) bool {
	for {
		c.mu.Lock()
		frame, consumed, err := protocol.Decode(c.recvBuf)
		if consumed > 0 {
			c.recvBuf = c.recvBuf[consumed:]
		}
		c.mu.Unlock()

		switch {
		case errors.Is(err, protocol.ErrChecksumMismatch):
			logging.Warn("Dropping corrupt frame", zap.String("conn_id", c.id))
			s.m.FramesCorrupt.Inc()
			continue
		case errors.Is(err, protocol.ErrFrameTooLarge):
			logging.Error("Oversized frame, dropping connection",
				zap.String("conn_id", c.id), zap.Error(err))
			return false
		case frame == nil:
			return true // incomplete, wait for more bytes
		}

		s.dispatch(c.id, frame.Payload)
	}
}

func (s *Server) dispatch(id string, payload []byte) {
	env, err := protocol.Unwrap(payload)
	if err != nil {
		logging.Warn("Discarding undecodable envelope",
			zap.String("conn_id", id), zap.Error(err))
		s.m.UnknownKinds.Inc()
		return
	}

	s.m.FramesReceived.WithLabelValues(env.Kind.String()).Inc()
	logging.LogMessage(id, "recv", env.Kind.String(), len(env.Payload))

	switch env.Kind {
	case protocol.KindHeartbeat:
		hb, err := message.DecodeHeartbeat(env.Payload)
		if err != nil {
			logging.Warn("Malformed heartbeat",
				zap.String("conn_id", id), zap.Error(err))
			s.m.DecodeFailures.Inc()
			return
		}
		s.mu.Lock()
		s.lastHeartbeat = time.Now()
		s.mu.Unlock()
		s.m.HeartbeatsReceived.Inc()
		s.m.HeartbeatAge.Set(0)
		if s.cb.OnHeartbeat != nil {
			s.cb.OnHeartbeat(id, hb)
		}
	default:
		// Control and heartbeat-request traffic is send-only from this
		// role; anything else inbound is dropped.
		logging.Warn("Unexpected message kind from vehicle",
			zap.String("conn_id", id), zap.String("kind", env.Kind.String()))
	}
}

// cleanupLoop evicts connections that have gone silent past the
// heartbeat timeout. This catches half-open sockets whose peer vanished
// without a close.
func (s *Server) cleanupLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		snapshot := make([]*ROVConnection, 0, len(s.conns))
		for _, c := range s.conns {
			snapshot = append(snapshot, c)
		}
		if !s.lastHeartbeat.IsZero() {
			s.m.HeartbeatAge.Set(time.Since(s.lastHeartbeat).Seconds())
		}
		s.mu.Unlock()

		for _, c := range snapshot {
			if c.silentFor() > s.cfg.HeartbeatTimeout {
				logging.Warn("Evicting stale connection",
					zap.String("conn_id", c.id),
					zap.Duration("silent_for", c.silentFor()),
				)
				s.m.Evictions.Inc()
				s.closeConnection(c, "stale")
			}
		}
	}
}

// closeConnection removes a connection from the registry and closes its
// socket. The identity check under the lock makes the disconnect
// callback fire exactly once per connection, and keeps a lingering
// handler from removing a newer record registered under the same
// ip:port.
func (s *Server) closeConnection(c *ROVConnection, reason string) {
	s.mu.Lock()
	current, exists := s.conns[c.id]
	if exists && current == c {
		delete(s.conns, c.id)
	} else {
		exists = false
	}
	s.mu.Unlock()
	if !exists {
		return
	}

	c.close()
	s.m.ConnectionsActive.Dec()
	s.m.Disconnects.WithLabelValues(reason).Inc()
	logging.LogConnection(c.id, "closed")
	if s.cb.OnConnectionChange != nil {
		s.cb.OnConnectionChange(false, c.id, c.addr)
	}
}

func (s *Server) running() bool {
	select {
	case <-s.stopCh:
		return false
	default:
		return true
	}
}
