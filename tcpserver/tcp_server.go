package tcpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/cyberinferno/linechat/logger"
)

var ErrServerRunning = errors.New("server already running")

// NewSessionFunc creates the session for an accepted connection. It receives
// the connection id assigned by the server and the accepted net.Conn.
type NewSessionFunc func(id uint32, conn net.Conn) TCPServerSession

// TCPServer accepts connections and hands each one to a session created by
// NewSession. Connection ids increase from 1. When the counter wraps, 0 and
// ids of still-live sessions are skipped, so 0 never names a connection and
// no two live connections share an id.
type TCPServer struct {
	Logger     logger.Logger
	Name       string
	Addr       string
	NewSession NewSessionFunc

	listener net.Listener
	running  atomic.Bool
	nextID   atomic.Uint32

	mu       sync.Mutex
	sessions map[uint32]TCPServerSession
	wg       sync.WaitGroup
}

// Start binds Addr and runs the accept loop in a goroutine.
//
// Returns:
//   - ErrServerRunning if already started, or the listen error
func (s *TCPServer) Start() error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("%s: %w", s.Name, ErrServerRunning)
	}

	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		s.running.Store(false)
		s.Logger.Error("server failed to start", logger.Field{Key: "error", Value: err})
		return fmt.Errorf("server %s failed to start: %w", s.Name, err)
	}

	s.mu.Lock()
	s.listener = ln
	if s.sessions == nil {
		s.sessions = make(map[uint32]TCPServerSession)
	}
	s.mu.Unlock()

	s.Logger.Info(fmt.Sprintf("%s server started", s.Name), logger.Field{Key: "addr", Value: ln.Addr().String()})
	go s.acceptLoop(ln)

	return nil
}

// ListenAddr returns the bound address, which differs from Addr when port 0
// was requested. It is nil before Start.
func (s *TCPServer) ListenAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}

	return s.listener.Addr()
}

// Stop closes the listener, closes every session and waits for their Handle
// loops to return or for ctx to end. Calling Stop on a stopped server is a no-op.
//
// Returns:
//   - ctx.Err() if sessions were still running when ctx ended
func (s *TCPServer) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	s.mu.Lock()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	sessions := make([]TCPServerSession, 0, len(s.sessions))
	for _, session := range s.sessions {
		sessions = append(sessions, session)
	}
	s.mu.Unlock()

	for _, session := range sessions {
		_ = session.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.Logger.Info(fmt.Sprintf("%s server stopped", s.Name))
		return nil
	case <-ctx.Done():
		s.Logger.Warn(fmt.Sprintf("%s server stop timed out", s.Name), logger.Field{Key: "sessions", Value: s.SessionCount()})
		return ctx.Err()
	}
}

// GetSession returns the session for id, if it is still running.
func (s *TCPServer) GetSession(id uint32) (TCPServerSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	return session, ok
}

// SessionCount returns the number of sessions whose Handle has not returned.
func (s *TCPServer) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.sessions)
}

func (s *TCPServer) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if !s.running.Load() || errors.Is(err, net.ErrClosed) {
				return
			}

			s.Logger.Error(fmt.Sprintf("%s server accept error", s.Name), logger.Field{Key: "error", Value: err})
			continue
		}

		id := s.allocateID()
		session := s.NewSession(id, conn)

		s.mu.Lock()
		if !s.running.Load() {
			s.mu.Unlock()
			_ = conn.Close()
			return
		}
		s.sessions[id] = session
		s.wg.Add(1)
		s.mu.Unlock()

		go s.serve(id, session)
	}
}

// allocateID returns the next id that is neither 0 nor held by a live
// session. Only the accept loop allocates, so the id stays free until it is
// stored in the session table.
func (s *TCPServer) allocateID() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		id := s.nextID.Add(1)
		if id == 0 {
			continue
		}

		if _, live := s.sessions[id]; !live {
			return id
		}
	}
}

func (s *TCPServer) serve(id uint32, session TCPServerSession) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.sessions, id)
		s.mu.Unlock()
	}()

	session.Handle()
}
