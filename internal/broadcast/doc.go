// Package broadcast fans events out to the WebSocket connections of their recipient.
//
// Registry maps users to their live connections and delivers each event to a
// point-in-time snapshot of the recipient's set. The lock is never held across a
// send: every connection is a Client whose writer goroutine owns the socket, and
// Send only enqueues into a bounded buffer. A connection that cannot accept a
// frame is evicted asynchronously so stale entries do not accumulate.
package broadcast
