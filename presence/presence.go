// Package presence mirrors the set of online identities to an external store
// so that observers outside the chat server can see who is connected. The
// mirror is write-only: the chat server never reads it back.
package presence

import (
	"context"
	"slices"
	"sync"
	"time"
)

// Publisher receives identity claims and releases. Implementations must be
// safe for concurrent use. Errors are reported to the caller for logging only;
// chat delivery never depends on them.
//
// Calls for one name may arrive out of order when a released name is claimed
// again at once. Every claim therefore carries the claiming session's owner
// token, and Left only removes a name still held by the same owner.
type Publisher interface {
	// Joined records that owner claimed name at the given time, replacing any
	// previous owner.
	Joined(ctx context.Context, name, owner string, at time.Time) error

	// Left records that owner released name. It is a no-op when name is now
	// held by a different owner.
	Left(ctx context.Context, name, owner string) error

	// Reset forgets every recorded identity.
	Reset(ctx context.Context) error

	// Close releases the publisher's resources.
	Close() error
}

// Nop is a Publisher that records nothing.
type Nop struct{}

// Joined implements Publisher.
func (Nop) Joined(context.Context, string, string, time.Time) error { return nil }

// Left implements Publisher.
func (Nop) Left(context.Context, string, string) error { return nil }

// Reset implements Publisher.
func (Nop) Reset(context.Context) error { return nil }

// Close implements Publisher.
func (Nop) Close() error { return nil }

// Memory is an in-process Publisher with the same ownership rules as
// RedisPublisher.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	owner string
	at    time.Time
}

// NewMemory creates an empty in-process publisher.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]memoryEntry)}
}

// Joined implements Publisher.
func (m *Memory) Joined(_ context.Context, name, owner string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[name] = memoryEntry{owner: owner, at: at}
	return nil
}

// Left implements Publisher.
func (m *Memory) Left(_ context.Context, name, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.entries[name]; ok && e.owner == owner {
		delete(m.entries, name)
	}

	return nil
}

// Reset implements Publisher.
func (m *Memory) Reset(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	clear(m.entries)
	return nil
}

// Online returns the recorded identities in claim order.
func (m *Memory) Online() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.entries))
	for name := range m.entries {
		names = append(names, name)
	}

	slices.SortStableFunc(names, func(a, b string) int {
		return m.entries[a].at.Compare(m.entries[b].at)
	})
	return names
}

// Owner returns the owner token recorded for name.
func (m *Memory) Owner(name string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[name]
	return e.owner, ok
}

// Close implements Publisher.
func (m *Memory) Close() error { return nil }
