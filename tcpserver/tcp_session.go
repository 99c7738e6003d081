// Package tcpserver provides the TCP transport of the chat server: an accept
// loop that numbers connections, and line-oriented sessions that read framed
// commands and write replies through a bounded outbound queue.
package tcpserver

// TCPServerSession is one accepted connection. The server runs Handle in its
// own goroutine and forgets the session when Handle returns.
type TCPServerSession interface {
	// ID returns the connection id assigned by the server.
	ID() uint32

	// Handle runs the session until the connection ends.
	Handle()

	// Close ends the session. Safe to call more than once and from any goroutine.
	//
	// Returns:
	//   - An error if closing failed
	Close() error

	// Send queues data for the peer. Safe for concurrent use.
	//
	// Parameters:
	//   - data: One complete frame
	//
	// Returns:
	//   - An error if the session can no longer accept data
	Send(data []byte) error
}
