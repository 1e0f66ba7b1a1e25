package vehicle

import (
	"errors"
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
	// loopPause throttles the network loop between passes.
	loopPause = 100 * time.Millisecond
	// readTimeout bounds one receive pass so the loop can re-check the
	// stop flag.
	readTimeout = 200 * time.Millisecond
	// writeTimeout bounds one outbound send.
	writeTimeout = 2 * time.Second
	// readChunkSize is the per-pass receive buffer size.
	readChunkSize = 4096
	// stopJoinTimeout bounds how long Stop waits for the loops to exit.
	stopJoinTimeout = 1 * time.Second
)

var (
	// ErrNotConnected is returned by send operations while the link is
	// down. A no-op failure, not a fault: the caller simply skips this
	// cycle.
	ErrNotConnected = errors.New("vehicle: link not connected")

	// ErrAlreadyStarted is returned by Start on a running link.
	ErrAlreadyStarted = errors.New("vehicle: link already started")
)

// Callbacks are the hooks the link invokes for decoded traffic and state
// transitions. Nil hooks are skipped.
type Callbacks struct {
	// OnControl receives each decoded control command.
	OnControl func(message.ControlMessage)
	// OnHeartbeatRequest fires when shore asks for an immediate
	// heartbeat.
	OnHeartbeatRequest func()
	// OnConnectionChange fires with true on connect and false on
	// disconnect.
	OnConnectionChange func(connected bool)
}

// Link is the vehicle-side peer: one outbound connection, a reconnecting
// state machine, and a liveness monitor.
type Link struct {
	cfg config.VehicleConfig
	cb  Callbacks
	m   *metrics.Metrics

	mu       sync.Mutex // guards state, conn, recvBuf, lastRecv, attempts
	state    State
	conn     net.Conn
	recvBuf  []byte
	lastRecv time.Time
	attempts int

	sendMu sync.Mutex // serializes writes to the socket

	// livenessEvery is how often the liveness loop checks for silence.
	// Overridden only by tests.
	livenessEvery time.Duration

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// New creates a link for the given config. Start must be called before
// the link does anything.
func New(cfg config.VehicleConfig, cb Callbacks) *Link {
	return &Link{
		cfg:           cfg,
		cb:            cb,
		m:             metrics.Default(),
		state:         StateDisconnected,
		livenessEvery: 500 * time.Millisecond,
		stopCh:        make(chan struct{}),
	}
}

// Start launches the network and liveness loops.
func (l *Link) Start() error {
	err := ErrAlreadyStarted
	l.startOnce.Do(func() {
		l.wg.Add(2)
		go l.networkLoop()
		go l.livenessLoop()
		logging.Info("Vehicle link started", zap.String("shore_addr", l.cfg.ShoreAddr))
		err = nil
	})
	return err
}

// Stop tears the link down: socket first, so any in-flight receive
// unblocks, then the loops. It waits a bounded time for the loops to exit
// and abandons them rather than hanging shutdown.
func (l *Link) Stop() {
	l.stopOnce.Do(func() {
		l.mu.Lock()
		if l.conn != nil {
			_ = l.conn.Close()
			l.conn = nil
		}
		l.recvBuf = nil
		wasConnected := l.state == StateConnected
		l.state = StateDisconnected
		l.mu.Unlock()

		close(l.stopCh)

		done := make(chan struct{})
		go func() {
			l.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(stopJoinTimeout):
			logging.Warn("Vehicle link loops did not exit in time, abandoning")
		}

		if wasConnected {
			l.m.ConnectionsActive.Dec()
			l.notifyConnectionChange(false)
		}
		logging.Info("Vehicle link stopped")
	})
}

// State returns the current connection state.
func (l *Link) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Connected reports whether the link is currently up.
func (l *Link) Connected() bool {
	return l.State() == StateConnected
}

// ReconnectAttempts returns the consecutive failure count. It resets to
// zero on a successful connect.
func (l *Link) ReconnectAttempts() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.attempts
}

// SendHeartbeat frames and sends one heartbeat to shore. While the link
// is down it fails with ErrNotConnected without side effects.
func (l *Link) SendHeartbeat(hb *message.Heartbeat) error {
	payload, err := hb.Encode()
	if err != nil {
		return err
	}
	if err := l.send(protocol.KindHeartbeat, payload); err != nil {
		return err
	}
	l.m.HeartbeatsSent.Inc()
	return nil
}

func (l *Link) send(kind protocol.Kind, payload []byte) error {
	wire, err := protocol.Encode(protocol.Wrap(kind, payload))
	if err != nil {
		return err
	}

	l.mu.Lock()
	conn := l.conn
	connected := l.state == StateConnected
	l.mu.Unlock()
	if !connected || conn == nil {
		return ErrNotConnected
	}

	l.sendMu.Lock()
	defer l.sendMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := conn.Write(wire); err != nil {
		logging.Error("Send failed", zap.String("kind", kind.String()), zap.Error(err))
		l.handleConnectionError("write")
		return err
	}

	l.m.FramesSent.WithLabelValues(kind.String()).Inc()
	l.m.BytesSent.Add(float64(len(wire)))
	logging.LogMessage(l.cfg.ShoreAddr, "send", kind.String(), len(payload))
	return nil
}

// networkLoop drives the state machine: connect when disconnected, read
// and dispatch when connected, wait out the delay when reconnecting.
func (l *Link) networkLoop() {
	defer l.wg.Done()
	for l.running() {
		switch l.State() {
		case StateDisconnected:
			l.connect()
		case StateConnected:
			l.receivePass()
		case StateReconnecting:
			l.sleep(l.cfg.ReconnectInterval)
			l.setState(StateReconnecting, StateDisconnected)
		}
		l.sleep(loopPause)
	}
}

// livenessLoop declares the connection dead when nothing has arrived for
// three heartbeat intervals. Shore sends traffic at least that often, so
// silence means the socket is dead even if the kernel has not noticed.
func (l *Link) livenessLoop() {
	defer l.wg.Done()
	ticker := time.NewTicker(l.livenessEvery)
	defer ticker.Stop()
	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
		}

		l.mu.Lock()
		silent := l.state == StateConnected &&
			time.Since(l.lastRecv) > 3*l.cfg.HeartbeatInterval
		l.mu.Unlock()

		if silent {
			logging.Warn("Heartbeat timeout, connection presumed lost")
			l.handleConnectionError("heartbeat_timeout")
		}
	}
}

func (l *Link) connect() {
	l.setState(StateDisconnected, StateConnecting)
	logging.Info("Connecting to shore station", zap.String("addr", l.cfg.ShoreAddr))

	conn, err := net.DialTimeout("tcp", l.cfg.ShoreAddr, l.cfg.ConnectTimeout)
	if err != nil {
		logging.Error("Connection failed", zap.Error(err))
		l.handleConnectionError("connect")
		return
	}

	l.mu.Lock()
	// Stop may have raced us; do not resurrect a stopped link.
	select {
	case <-l.stopCh:
		l.mu.Unlock()
		_ = conn.Close()
		return
	default:
	}
	l.conn = conn
	l.state = StateConnected
	l.attempts = 0
	l.lastRecv = time.Now()
	l.recvBuf = nil
	l.mu.Unlock()

	l.m.ConnectionsTotal.Inc()
	l.m.ConnectionsActive.Inc()
	logging.LogConnection(l.cfg.ShoreAddr, "connected")
	l.notifyConnectionChange(true)
}

// receivePass performs one deadline-bounded read, then decodes and
// dispatches every complete frame in the buffer.
func (l *Link) receivePass() {
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()
	if conn == nil {
		return
	}

	chunk := make([]byte, readChunkSize)
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	n, err := conn.Read(chunk)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return // nothing arrived this pass
		}
		logging.Error("Receive failed", zap.Error(err))
		l.handleConnectionError("read")
		return
	}
	if n == 0 {
		return
	}

	l.mu.Lock()
	l.recvBuf = append(l.recvBuf, chunk[:n]...)
	l.lastRecv = time.Now()
	l.mu.Unlock()
	l.m.BytesReceived.Add(float64(n))

	l.drainFrames()
}

// drainFrames consumes the receive buffer front to back, dispatching each
// complete frame in arrival order.
func (l *Link) drainFrames() {
	for {
		l.mu.Lock()
		frame, consumed, err := protocol.Decode(l.recvBuf)
		if consumed > 0 {
			l.recvBuf = l.recvBuf[consumed:]
		}
		l.mu.Unlock()

		switch {
		case errors.Is(err, protocol.ErrChecksumMismatch):
			logging.Warn("Dropping corrupt frame")
			l.m.FramesCorrupt.Inc()
			continue
		case errors.Is(err, protocol.ErrFrameTooLarge):
			logging.Error("Oversized frame, stream unusable", zap.Error(err))
			l.handleConnectionError("oversized_frame")
			return
		case frame == nil:
			return // incomplete, wait for more bytes
		}

		l.dispatch(frame.Payload)
	}
}

func (l *Link) dispatch(payload []byte) {
	env, err := protocol.Unwrap(payload)
	if err != nil {
		logging.Warn("Discarding undecodable envelope", zap.Error(err))
		l.m.UnknownKinds.Inc()
		return
	}

	l.m.FramesReceived.WithLabelValues(env.Kind.String()).Inc()
	logging.LogMessage(l.cfg.ShoreAddr, "recv", env.Kind.String(), len(env.Payload))

	switch env.Kind {
	case protocol.KindControl:
		cm, err := message.DecodeControl(env.Payload)
		if err != nil {
			logging.Warn("Malformed control message", zap.Error(err))
			l.m.DecodeFailures.Inc()
			return
		}
		if l.cb.OnControl != nil {
			l.cb.OnControl(cm)
		}
	case protocol.KindHeartbeatRequest:
		if _, err := message.DecodeHeartbeatRequest(env.Payload); err != nil {
			logging.Warn("Malformed heartbeat request", zap.Error(err))
			l.m.DecodeFailures.Inc()
			return
		}
		if l.cb.OnHeartbeatRequest != nil {
			l.cb.OnHeartbeatRequest()
		}
	default:
		// Heartbeats flow vehicle to shore; one arriving here is a
		// confused peer, not a fault.
		logging.Warn("Unexpected message kind", zap.String("kind", env.Kind.String()))
	}
}

// handleConnectionError is the single funnel for socket faults, liveness
// timeouts, and send failures: close the socket, clear the buffer, notify,
// and decide the next state.
func (l *Link) handleConnectionError(reason string) {
	l.mu.Lock()
	if l.conn != nil {
		_ = l.conn.Close()
		l.conn = nil
	}
	l.recvBuf = nil
	wasConnected := l.state == StateConnected
	l.attempts++
	attempts := l.attempts

	// Past the attempt ceiling the link skips the reconnect delay and
	// retries immediately from DISCONNECTED. The counter never halts
	// reconnection, it only changes pacing; see ReconnectAttempts.
	if attempts >= l.cfg.MaxReconnectAttempts {
		l.state = StateDisconnected
	} else {
		l.state = StateReconnecting
	}
	l.mu.Unlock()

	l.m.ReconnectAttempts.Inc()
	l.m.Disconnects.WithLabelValues(reason).Inc()
	if attempts == l.cfg.MaxReconnectAttempts {
		logging.Warn("Max reconnect attempts reached, continuing without delay",
			zap.Int("attempts", attempts))
	}

	if wasConnected {
		l.m.ConnectionsActive.Dec()
		logging.LogConnection(l.cfg.ShoreAddr, "disconnected")
		l.notifyConnectionChange(false)
	}
}

func (l *Link) notifyConnectionChange(connected bool) {
	if l.cb.OnConnectionChange != nil {
		l.cb.OnConnectionChange(connected)
	}
}

func (l *Link) setState(from, to State) {
	l.mu.Lock()
	changed := l.state == from
	if changed {
		l.state = to
	}
	l.mu.Unlock()
	if changed {
		logging.LogStateChange(from.String(), to.String())
	}
}

func (l *Link) running() bool {
	select {
	case <-l.stopCh:
		return false
	default:
		return true
	}
}

// sleep waits for d or until the link is stopped, whichever comes first.
func (l *Link) sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-time.After(d):
	case <-l.stopCh:
	}
}
