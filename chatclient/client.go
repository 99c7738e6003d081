// Package chatclient provides an event-driven client for the line chat
// protocol. It notifies callers of connection state changes, received replies
// and errors via registered handlers, and offers one method per command.
package chatclient

import (
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/cyberinferno/linechat/protocol"
)

var (
	// ErrClosed is returned by Connect and the send methods after Close.
	ErrClosed = errors.New("client is closed")
	// ErrNotConnected is returned by the send methods while no connection is up.
	ErrNotConnected = errors.New("not connected")
	// ErrAlreadyConnected is returned by Connect while a connection is up.
	ErrAlreadyConnected = errors.New("already connected or connecting")
	// ErrInvalidLine is returned when an outgoing line would contain a separator.
	ErrInvalidLine = errors.New("line contains a line separator")
)

// ConnectionState represents the current state of the connection.
type ConnectionState int

const (
	Disconnected ConnectionState = iota // Not connected
	Connecting                          // Dial in progress
	Connected                           // Connection up
	Closed                              // Client closed; cannot be reused
)

// String returns a human-readable name for the connection state.
func (cs ConnectionState) String() string {
	switch cs {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// StateEvent is emitted when the connection state changes.
type StateEvent struct {
	State     ConnectionState
	Address   string
	Timestamp time.Time
	Error     error // Non-nil if the change was caused by an error
}

// LineEvent is emitted for every line received from the server.
type LineEvent struct {
	Line      string
	Reply     protocol.Reply
	Timestamp time.Time
}

// ErrorEvent is emitted when a read, write or dial error occurs.
type ErrorEvent struct {
	Error     error
	Timestamp time.Time
}

// StateHandler is called on state changes, from its own goroutine.
type StateHandler func(event StateEvent)

// LineHandler is called for each received line, in arrival order, from the
// read goroutine. A slow handler delays the lines after it.
type LineHandler func(event LineEvent)

// ErrorHandler is called on errors, from its own goroutine.
type ErrorHandler func(event ErrorEvent)

// Config holds the client settings.
type Config struct {
	// Address is the "host:port" of the chat server.
	Address string
	// ConnectionTimeout bounds the dial.
	ConnectionTimeout time.Duration
	// WriteTimeout bounds a single write; 0 means no timeout.
	WriteTimeout time.Duration
	// MaxLineBytes bounds a received line.
	MaxLineBytes int
}

// DefaultConfig returns a Config with default values for the given address.
//
// Parameters:
//   - address: The "host:port" to connect to
//
// Returns:
//   - A Config with ConnectionTimeout 10s, WriteTimeout 10s and a 64 KiB line limit
func DefaultConfig(address string) Config {
	return Config{
		Address:           address,
		ConnectionTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		MaxLineBytes:      protocol.DefaultMaxLineBytes,
	}
}

// Client is a chat protocol client. Register handlers, then call Connect. It
// is safe for concurrent use.
type Client struct {
	config Config
	conn   net.Conn
	state  ConnectionState
	closed bool

	onState StateHandler
	onLine  LineHandler
	onError ErrorHandler

	mu      sync.RWMutex
	writeMu sync.Mutex
	wg      sync.WaitGroup
}

// New creates a client in the Disconnected state.
func New(config Config) *Client {
	if config.MaxLineBytes <= 0 {
		config.MaxLineBytes = protocol.DefaultMaxLineBytes
	}

	return &Client{config: config, state: Disconnected}
}

// OnState registers the state change handler, replacing any previous one.
func (c *Client) OnState(handler StateHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = handler
}

// OnLine registers the received line handler, replacing any previous one.
func (c *Client) OnLine(handler LineHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onLine = handler
}

// OnError registers the error handler, replacing any previous one.
func (c *Client) OnError(handler ErrorHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = handler
}

// Connect dials the server and starts reading replies.
//
// Returns:
//   - ErrClosed, ErrAlreadyConnected, or the dial error
func (c *Client) Connect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}

	if c.state == Connected || c.state == Connecting {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}

	c.state = Connecting
	c.mu.Unlock()
	c.emitState(Connecting, nil)

	dialer := net.Dialer{Timeout: c.config.ConnectionTimeout}
	conn, err := dialer.Dial("tcp", c.config.Address)
	if err != nil {
		c.setState(Disconnected, err)
		c.emitError(err)
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return ErrClosed
	}

	c.conn = conn
	c.mu.Unlock()

	c.setState(Connected, nil)

	c.wg.Add(1)
	go c.readLoop(conn)

	return nil
}

// Close closes the connection and waits for the read goroutine. Idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}

	c.closed = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close()
	}

	c.wg.Wait()
	c.setState(Closed, nil)

	return err
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// IsConnected returns true if the client is in Connected state.
func (c *Client) IsConnected() bool {
	return c.State() == Connected
}

// SendLine writes one raw line followed by "\n".
//
// Returns:
//   - ErrInvalidLine, ErrClosed, ErrNotConnected, or the write error
func (c *Client) SendLine(line string) error {
	if strings.ContainsAny(line, "\r\n") {
		return ErrInvalidLine
	}

	c.mu.RLock()
	conn, state, closed := c.conn, c.state, c.closed
	c.mu.RUnlock()

	if closed {
		return ErrClosed
	}

	if state != Connected || conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.config.WriteTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout)); err != nil {
			return err
		}
	}

	if _, err := conn.Write(protocol.Frame(line)); err != nil {
		c.emitError(err)
		return err
	}

	return nil
}

// Login sends LOGIN name.
func (c *Client) Login(name string) error {
	return c.SendLine("LOGIN " + name)
}

// Msg sends MSG text.
func (c *Client) Msg(text string) error {
	return c.SendLine("MSG " + text)
}

// Who sends WHO.
func (c *Client) Who() error {
	return c.SendLine("WHO")
}

// DM sends DM target text.
func (c *Client) DM(target, text string) error {
	return c.SendLine("DM " + target + " " + text)
}

// Ping sends PING.
func (c *Client) Ping() error {
	return c.SendLine("PING")
}

func (c *Client) readLoop(conn net.Conn) {
	defer c.wg.Done()

	framer := protocol.NewFramer(conn, c.config.MaxLineBytes)
	for {
		line, err := framer.Next()
		if err != nil {
			c.readDone(conn, err)
			return
		}

		line = strings.TrimSuffix(line, "\r")
		c.emitLine(LineEvent{
			Line:      line,
			Reply:     protocol.ParseReply(line),
			Timestamp: time.Now(),
		})
	}
}

// readDone moves to Disconnected when the server ends the connection. After
// Close the state is left to Close.
func (c *Client) readDone(conn net.Conn, err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}

	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()

	_ = conn.Close()

	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		err = nil
	} else {
		c.emitError(err)
	}

	c.setState(Disconnected, err)
}

func (c *Client) setState(state ConnectionState, err error) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()

	c.emitState(state, err)
}

func (c *Client) emitState(state ConnectionState, err error) {
	c.mu.RLock()
	handler := c.onState
	c.mu.RUnlock()

	if handler != nil {
		go handler(StateEvent{
			State:     state,
			Address:   c.config.Address,
			Timestamp: time.Now(),
			Error:     err,
		})
	}
}

func (c *Client) emitLine(event LineEvent) {
	c.mu.RLock()
	handler := c.onLine
	c.mu.RUnlock()

	if handler != nil {
		handler(event)
	}
}

func (c *Client) emitError(err error) {
	c.mu.RLock()
	handler := c.onError
	c.mu.RUnlock()

	if handler != nil {
		go handler(ErrorEvent{Error: err, Timestamp: time.Now()})
	}
}
