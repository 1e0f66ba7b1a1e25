// Package shore implements the shore-station peer of the ROV link.
//
// A Server listens for inbound vehicle connections and keeps a registry
// of every live one, keyed by remote "ip:port". Three kinds of goroutine
// run: an accept loop (whose accept deadline doubles as the shutdown
// re-check), one handler per connection that reassembles frames from that
// connection's buffer and dispatches decoded heartbeats, and a cleanup
// sweep that evicts connections which have gone silent past the heartbeat
// timeout. The sweep is what catches half-open sockets left behind by a
// vehicle that lost power mid-dive: the kernel never reports an error on
// those, so silence is the only signal.
//
// Any received byte counts as liveness, not just decoded heartbeats. A
// vehicle mid-way through a large frame is demonstrably alive even though
// no complete message has arrived yet.
//
// Outbound control and heartbeat-request messages are broadcast to every
// registered connection. Delivery is best effort: a per-connection send
// failure is logged and skipped, and the broadcast reports success when
// at least one connection accepted the message. A connection broken by a
// failed send is torn down by its own handler's next read or by the
// sweep, never left registered indefinitely.
//
// Locking discipline: the registry has one mutex for insert, remove, and
// iterate; each connection has its own mutex for its socket and buffer.
// The two are never held across a blocking call, and the registry lock is
// never taken while holding a connection lock.
package shore
