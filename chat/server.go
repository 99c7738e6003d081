// Package chat implements the line-protocol chat service: command dispatch,
// the per-verb handlers, broadcast and unicast delivery, disconnect handling,
// optional idle sweeping and graceful shutdown.
package chat

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"github.com/cyberinferno/linechat/logger"
	"github.com/cyberinferno/linechat/presence"
	"github.com/cyberinferno/linechat/protocol"
	"github.com/cyberinferno/linechat/registry"
	"github.com/cyberinferno/linechat/tcpserver"
)

// Options configures a Server.
type Options struct {
	// Addr is the TCP listen address, e.g. ":4000" or "127.0.0.1:0".
	Addr string
	// Session bounds line length, outbound queue and write time per connection.
	Session tcpserver.SessionOptions
	// IdleTimeout disconnects identified sessions without activity for this
	// long. 0 disables the sweep.
	IdleTimeout time.Duration
	// IdleSweepInterval is how often idle sessions are looked for.
	IdleSweepInterval time.Duration
	// PresenceTimeout bounds each presence mirror call.
	PresenceTimeout time.Duration
}

// DefaultOptions returns the options of a server listening on addr with the
// idle sweep disabled.
func DefaultOptions(addr string) Options {
	return Options{
		Addr:              addr,
		Session:           tcpserver.DefaultSessionOptions(),
		IdleSweepInterval: 10 * time.Second,
		PresenceTimeout:   2 * time.Second,
	}
}

// Server is one chat server instance. Each instance owns its own registry, so
// several servers can run in one process.
type Server struct {
	opts     Options
	log      logger.Logger
	registry *registry.Registry
	presence presence.Publisher
	idle     *IdleTracker
	tcp      *tcpserver.TCPServer
	stopping atomic.Bool
	now      func() time.Time
}

// NewServer creates a Server. It does not listen until Start.
//
// Parameters:
//   - opts: Listen address and limits
//   - log: Logger for the server and its sessions
//   - pub: Presence mirror; nil disables mirroring
//
// Returns:
//   - The Server
func NewServer(opts Options, log logger.Logger, pub presence.Publisher) *Server {
	if pub == nil {
		pub = presence.Nop{}
	}

	if opts.PresenceTimeout <= 0 {
		opts.PresenceTimeout = DefaultOptions("").PresenceTimeout
	}

	s := &Server{
		opts:     opts,
		log:      log,
		registry: registry.New(),
		presence: pub,
		now:      time.Now,
	}

	if opts.IdleTimeout > 0 {
		s.idle = NewIdleTracker(opts.IdleTimeout, opts.IdleSweepInterval, s.kickIdle)
	}

	s.tcp = &tcpserver.TCPServer{
		Logger: log,
		Name:   "chat",
		Addr:   opts.Addr,
		NewSession: func(id uint32, conn net.Conn) tcpserver.TCPServerSession {
			return tcpserver.NewLineSession(id, conn, s, opts.Session, log)
		},
	}

	return s
}

// Start clears the presence mirror and begins accepting connections.
//
// Returns:
//   - An error if the listen address cannot be bound
func (s *Server) Start() error {
	s.publish("reset", func(ctx context.Context) error {
		return s.presence.Reset(ctx)
	})

	return s.tcp.Start()
}

// Addr returns the bound listen address, or nil before Start.
func (s *Server) Addr() net.Addr {
	return s.tcp.ListenAddr()
}

// Registry exposes the session registry for inspection.
func (s *Server) Registry() *registry.Registry {
	return s.registry
}

// Run starts the server, blocks until ctx is done, then shuts down within
// shutdownTimeout.
//
// Returns:
//   - The Start error, or the Shutdown error
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	if err := s.Start(); err != nil {
		return err
	}

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown tells every identified session the server is going away, closes
// all connections after their queued replies are written, and stops
// accepting. Disconnects caused by the shutdown are not announced. Only the
// first call has any effect.
//
// Returns:
//   - ctx.Err() if connections were still open when ctx ended
func (s *Server) Shutdown(ctx context.Context) error {
	if !s.stopping.CompareAndSwap(false, true) {
		return nil
	}

	notified := s.broadcast(protocol.InfoShuttingDown, 0)
	s.log.Info("shutting down", logger.Field{Key: "notified", Value: notified})

	err := s.tcp.Stop(ctx)
	if s.idle != nil {
		s.idle.Flush()
	}

	s.publish("reset", func(ctx context.Context) error {
		return s.presence.Reset(ctx)
	})
	if cerr := s.presence.Close(); cerr != nil {
		s.log.Warn("presence close failed", logger.Field{Key: "error", Value: cerr})
	}

	return err
}

// OnConnect implements tcpserver.LineHandler.
func (s *Server) OnConnect(ls *tcpserver.LineSession) {
	s.connect(registry.ConnID(ls.ID()), ls, ls.RemoteAddr())
}

// OnLine implements tcpserver.LineHandler.
func (s *Server) OnLine(ls *tcpserver.LineSession, line string) {
	s.handleLine(registry.ConnID(ls.ID()), line)
}

// OnDisconnect implements tcpserver.LineHandler.
func (s *Server) OnDisconnect(ls *tcpserver.LineSession, err error) {
	if err != nil {
		s.log.Warn("connection error", logger.Field{Key: "conn", Value: ls.ID()}, logger.Field{Key: "error", Value: err})
	}

	s.disconnect(registry.ConnID(ls.ID()))
}

func (s *Server) connect(id registry.ConnID, conn registry.Conn, remote string) {
	sess, err := s.registry.Register(id, conn)
	if err != nil {
		s.log.Error("register failed", logger.Field{Key: "conn", Value: id}, logger.Field{Key: "error", Value: err})
		_ = conn.Close()
		return
	}

	s.log.Info("client connected",
		logger.Field{Key: "conn", Value: id},
		logger.Field{Key: "token", Value: sess.Token},
		logger.Field{Key: "remote", Value: remote},
	)
}

// disconnect runs the end-of-connection effects. Registry.Unregister reports
// success only once per id, so repeated calls are harmless.
func (s *Server) disconnect(id registry.ConnID) {
	sess, ok := s.registry.Unregister(id)
	if !ok {
		return
	}

	if s.idle != nil {
		s.idle.Forget(id)
	}

	if !sess.Identified() {
		s.log.Info("anonymous client disconnected", logger.Field{Key: "conn", Value: id}, logger.Field{Key: "token", Value: sess.Token})
		return
	}

	s.log.Info("client disconnected",
		logger.Field{Key: "conn", Value: id},
		logger.Field{Key: "token", Value: sess.Token},
		logger.Field{Key: "identity", Value: sess.Identity},
	)

	if !s.stopping.Load() {
		s.broadcast(protocol.Disconnected(sess.Identity), id)
	}

	s.publish("left", func(ctx context.Context) error {
		return s.presence.Left(ctx, sess.Identity, sess.Token)
	})
}

// publish runs one presence mirror call with a timeout, logging failures.
func (s *Server) publish(op string, call func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.PresenceTimeout)
	defer cancel()

	if err := call(ctx); err != nil {
		s.log.Warn("presence update failed", logger.Field{Key: "op", Value: op}, logger.Field{Key: "error", Value: err})
	}
}
