// Package registry holds the process-wide table of live chat sessions and the
// identities they have claimed. Every operation runs under one mutex so the
// session table and the identity set always change together.
package registry

import (
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrAlreadyRegistered = errors.New("connection already registered")
	ErrUnknownSession    = errors.New("unknown session")
	ErrInvalidIdentity   = errors.New("invalid identity")
	ErrIdentityTaken     = errors.New("identity taken")
	ErrAlreadyIdentified = errors.New("session already identified")
)

// ConnID is the opaque key of a live connection.
type ConnID uint32

// Conn is the part of a connection the registry hands back to callers for
// delivery. The registry never writes to or closes it.
type Conn interface {
	Send(data []byte) error
	Close() error
}

// Recipient is a snapshot of one session taken under the registry lock, used
// to deliver outside of it.
type Recipient struct {
	ID       ConnID
	Identity string
	Conn     Conn
}

// Registry is the monitor over sessions and claimed identities. The zero value
// is not usable; create one with New.
type Registry struct {
	mu       sync.Mutex
	sessions map[ConnID]*Session
	claimed  map[string]ConnID
	order    []string
	now      func() time.Time
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		sessions: make(map[ConnID]*Session),
		claimed:  make(map[string]ConnID),
		now:      time.Now,
	}
}

// Register adds a session for a newly accepted connection.
//
// Parameters:
//   - id: The connection id assigned by the transport
//   - conn: Where replies for this session are sent
//
// Returns:
//   - A snapshot of the new session
//   - ErrAlreadyRegistered if id is already present
func (r *Registry) Register(id ConnID, conn Conn) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[id]; ok {
		return Session{}, ErrAlreadyRegistered
	}

	now := r.now()
	s := &Session{
		ID:           id,
		Token:        uuid.NewString(),
		ConnectedAt:  now,
		LastActivity: now,
		conn:         conn,
	}
	r.sessions[id] = s
	return *s, nil
}

// Lookup returns a snapshot of the session for id.
func (r *Registry) Lookup(id ConnID) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return Session{}, false
	}

	return *s, true
}

// ClaimIdentity trims rawName and, if it is free, assigns it to the session.
// The check and the assignment happen under the same lock, so of any number
// of concurrent claims for one name at most one succeeds.
//
// When ack is non-nil it is sent to the session before the lock is released,
// so it precedes any broadcast that includes the new identity. Conn.Send must
// not block.
//
// Parameters:
//   - id: The claiming session
//   - rawName: The requested identity, before trimming
//   - ack: Frame sent to the session on success, or nil
//
// Returns:
//   - The trimmed identity on success
//   - ErrUnknownSession, ErrAlreadyIdentified, ErrInvalidIdentity or ErrIdentityTaken
func (r *Registry) ClaimIdentity(id ConnID, rawName string, ack []byte) (string, error) {
	name := strings.TrimSpace(rawName)

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return "", ErrUnknownSession
	}

	if s.Identity != "" {
		return "", ErrAlreadyIdentified
	}

	if name == "" {
		return "", ErrInvalidIdentity
	}

	if _, taken := r.claimed[name]; taken {
		return "", ErrIdentityTaken
	}

	s.Identity = name
	s.LastActivity = r.now()
	r.claimed[name] = id
	r.order = append(r.order, name)

	if ack != nil {
		_ = s.conn.Send(ack)
	}

	return name, nil
}

// FindByIdentity returns the session holding the trimmed name.
func (r *Registry) FindByIdentity(name string) (Recipient, bool) {
	name = strings.TrimSpace(name)

	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.claimed[name]
	if !ok {
		return Recipient{}, false
	}

	s := r.sessions[id]
	return s.recipient(), true
}

// ListIdentities returns every claimed identity in the order it was claimed.
func (r *Registry) ListIdentities() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return slices.Clone(r.order)
}

// Identified returns the identified sessions in claim order, leaving out
// exclude. Pass 0 to include everyone; the transport never hands out id 0.
func (r *Registry) Identified(exclude ConnID) []Recipient {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Recipient, 0, len(r.order))
	for _, name := range r.order {
		id := r.claimed[name]
		if id == exclude {
			continue
		}

		out = append(out, r.sessions[id].recipient())
	}

	return out
}

// Unregister removes the session and releases its identity in one step. Only
// the first call for an id reports ok, which lets callers run disconnect side
// effects exactly once.
//
// Returns:
//   - A snapshot of the removed session
//   - false if id was not registered
func (r *Registry) Unregister(id ConnID) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return Session{}, false
	}

	delete(r.sessions, id)
	if s.Identity != "" {
		delete(r.claimed, s.Identity)
		r.order = slices.DeleteFunc(r.order, func(name string) bool {
			return name == s.Identity
		})
	}

	return *s, true
}

// Touch records activity on the session. Unknown ids are ignored.
func (r *Registry) Touch(id ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[id]; ok {
		s.LastActivity = r.now()
	}
}

// Len returns the number of live sessions, identified or not.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.sessions)
}
