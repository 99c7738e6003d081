package tcpserver

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/cyberinferno/linechat/logger"
	"github.com/cyberinferno/linechat/protocol"
)

var (
	ErrSessionClosed = errors.New("session closed")
	ErrSendQueueFull = errors.New("send queue full")
)

// LineHandler receives the events of a LineSession. OnConnect runs before the
// first OnLine, and OnDisconnect runs exactly once after the last one. All
// three are called from the session's reader goroutine.
type LineHandler interface {
	OnConnect(s *LineSession)
	OnLine(s *LineSession, line string)
	OnDisconnect(s *LineSession, err error)
}

// SessionOptions tunes a LineSession.
type SessionOptions struct {
	// MaxLineBytes bounds a single inbound line; see protocol.NewFramer.
	MaxLineBytes int
	// QueueSize is the number of outbound frames buffered before the peer is
	// considered too slow and disconnected.
	QueueSize int
	// WriteTimeout bounds each socket write; 0 means no deadline.
	WriteTimeout time.Duration
}

// DefaultSessionOptions returns options suitable for interactive chat clients.
func DefaultSessionOptions() SessionOptions {
	return SessionOptions{
		MaxLineBytes: protocol.DefaultMaxLineBytes,
		QueueSize:    256,
		WriteTimeout: 10 * time.Second,
	}
}

// LineSession reads newline-delimited lines from a connection and writes
// frames queued with Send. Writes happen on a dedicated goroutine so that Send
// never blocks on the network.
type LineSession struct {
	id      uint32
	conn    net.Conn
	handler LineHandler
	opts    SessionOptions
	log     logger.Logger

	mu     sync.Mutex
	closed bool
	out    chan []byte

	writerDone chan struct{}
}

// NewLineSession wraps an accepted connection.
//
// Parameters:
//   - id: The connection id assigned by TCPServer
//   - conn: The accepted connection; the session owns it from now on
//   - handler: Receives connect, line and disconnect events
//   - opts: Queue and framing limits
//   - log: Logger for transport-level events
//
// Returns:
//   - A session ready for Handle
func NewLineSession(id uint32, conn net.Conn, handler LineHandler, opts SessionOptions, log logger.Logger) *LineSession {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultSessionOptions().QueueSize
	}

	return &LineSession{
		id:         id,
		conn:       conn,
		handler:    handler,
		opts:       opts,
		log:        log.With(logger.Field{Key: "conn", Value: id}),
		out:        make(chan []byte, opts.QueueSize),
		writerDone: make(chan struct{}),
	}
}

// ID implements TCPServerSession.
func (s *LineSession) ID() uint32 {
	return s.id
}

// RemoteAddr returns the peer address as text.
func (s *LineSession) RemoteAddr() string {
	return s.conn.RemoteAddr().String()
}

// Handle implements TCPServerSession. It returns after the disconnect event
// has been delivered and queued frames have been flushed or dropped.
func (s *LineSession) Handle() {
	go s.writeLoop()

	s.handler.OnConnect(s)

	framer := protocol.NewFramer(s.conn, s.opts.MaxLineBytes)
	var readErr error
	for {
		line, err := framer.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				readErr = err
			}
			break
		}

		s.handler.OnLine(s, line)
	}

	_ = s.Close()
	s.handler.OnDisconnect(s, readErr)
	<-s.writerDone
}

// Send implements TCPServerSession. It never blocks: when the queue is full
// the connection is dropped and ErrSendQueueFull returned.
func (s *LineSession) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}

	select {
	case s.out <- data:
		return nil
	default:
		s.closed = true
		close(s.out)
		_ = s.conn.Close()
		s.log.Warn("send queue full, dropping connection", logger.Field{Key: "queue", Value: s.opts.QueueSize})
		return ErrSendQueueFull
	}
}

// Close implements TCPServerSession. Frames already queued are still written;
// the socket is closed once the queue drains, which also ends Handle.
func (s *LineSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	close(s.out)
	return nil
}

func (s *LineSession) writeLoop() {
	defer close(s.writerDone)
	defer func() {
		_ = s.conn.Close()
	}()

	failed := false
	for data := range s.out {
		if failed {
			continue
		}

		if s.opts.WriteTimeout > 0 {
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
		}

		if _, err := s.conn.Write(data); err != nil {
			failed = true
			_ = s.conn.Close()
			s.log.Debug("write failed", logger.Field{Key: "error", Value: err})
		}
	}
}
