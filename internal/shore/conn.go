package shore

import (
	"net"
	"sync"
	"time"
)

// ROVConnection is the per-accepted-socket record: the socket, its
// receive buffer, and its liveness clock. The registry owns its
// lifecycle; the embedded mutex guards the socket and buffer against the
// handler and broadcast sends touching them at once.
type ROVConnection struct {
	id   string
	addr net.Addr

	mu           sync.Mutex
	conn         net.Conn
	recvBuf      []byte
	lastActivity time.Time
}

func newROVConnection(conn net.Conn) *ROVConnection {
	return &ROVConnection{
		id:           conn.RemoteAddr().String(),
		addr:         conn.RemoteAddr(),
		conn:         conn,
		lastActivity: time.Now(),
	}
}

// ID returns the connection's registry key, the remote "ip:port".
func (c *ROVConnection) ID() string { return c.id }

// Addr returns the peer address.
func (c *ROVConnection) Addr() net.Addr { return c.addr }

// touch refreshes the liveness clock. Called for any received bytes.
func (c *ROVConnection) touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

// silentFor reports how long the connection has gone without traffic.
func (c *ROVConnection) silentFor() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.lastActivity)
}

// send writes pre-framed bytes to the socket under the connection lock.
func (c *ROVConnection) send(wire []byte, timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(timeout))
	_, err := c.conn.Write(wire)
	return err
}

// close closes the socket. Safe to call more than once.
func (c *ROVConnection) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.Close()
}

// ConnectionInfo is a read-only snapshot of one registered connection,
// exposed to the operator console and any other telemetry consumer.
type ConnectionInfo struct {
	ID           string
	Addr         string
	SilentFor    time.Duration
	LastActivity time.Time
}
