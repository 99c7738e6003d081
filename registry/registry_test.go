package registry

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopConn struct{}

func (nopConn) Send([]byte) error { return nil }
func (nopConn) Close() error      { return nil }

func registered(t *testing.T, r *Registry, ids ...ConnID) {
	t.Helper()
	for _, id := range ids {
		_, err := r.Register(id, nopConn{})
		require.NoError(t, err)
	}
}

func TestRegistry_Register(t *testing.T) {
	r := New()

	t.Run("new session has no identity", func(t *testing.T) {
		s, err := r.Register(1, nopConn{})
		require.NoError(t, err)
		assert.Equal(t, ConnID(1), s.ID)
		assert.False(t, s.Identified())
		assert.NotEmpty(t, s.Token)
		assert.NotNil(t, s.Conn())
		assert.Equal(t, 1, r.Len())
	})

	t.Run("registering twice fails", func(t *testing.T) {
		_, err := r.Register(1, nopConn{})
		assert.ErrorIs(t, err, ErrAlreadyRegistered)
		assert.Equal(t, 1, r.Len())
	})

	t.Run("tokens differ per session", func(t *testing.T) {
		s2, err := r.Register(2, nopConn{})
		require.NoError(t, err)
		s1, ok := r.Lookup(1)
		require.True(t, ok)
		assert.NotEqual(t, s1.Token, s2.Token)
	})
}

func TestRegistry_ClaimIdentity(t *testing.T) {
	t.Run("claims trimmed name", func(t *testing.T) {
		r := New()
		registered(t, r, 1)

		name, err := r.ClaimIdentity(1, "  Alice \r", nil)
		require.NoError(t, err)
		assert.Equal(t, "Alice", name)

		s, ok := r.Lookup(1)
		require.True(t, ok)
		assert.Equal(t, "Alice", s.Identity)
	})

	t.Run("blank name is invalid", func(t *testing.T) {
		r := New()
		registered(t, r, 1)

		_, err := r.ClaimIdentity(1, "   ", nil)
		assert.ErrorIs(t, err, ErrInvalidIdentity)
		assert.Empty(t, r.ListIdentities())
	})

	t.Run("taken name is rejected", func(t *testing.T) {
		r := New()
		registered(t, r, 1, 2)

		_, err := r.ClaimIdentity(1, "Alice", nil)
		require.NoError(t, err)
		_, err = r.ClaimIdentity(2, " Alice", nil)
		assert.ErrorIs(t, err, ErrIdentityTaken)
	})

	t.Run("names are case-sensitive", func(t *testing.T) {
		r := New()
		registered(t, r, 1, 2)

		_, err := r.ClaimIdentity(1, "Alice", nil)
		require.NoError(t, err)
		_, err = r.ClaimIdentity(2, "alice", nil)
		assert.NoError(t, err)
	})

	t.Run("second claim by same session is rejected", func(t *testing.T) {
		r := New()
		registered(t, r, 1)

		_, err := r.ClaimIdentity(1, "Alice", nil)
		require.NoError(t, err)
		_, err = r.ClaimIdentity(1, "Alicia", nil)
		assert.ErrorIs(t, err, ErrAlreadyIdentified)
		assert.Equal(t, []string{"Alice"}, r.ListIdentities())
	})

	t.Run("unknown session", func(t *testing.T) {
		r := New()
		_, err := r.ClaimIdentity(9, "Alice", nil)
		assert.ErrorIs(t, err, ErrUnknownSession)
	})
}

func TestRegistry_ClaimIdentity_Concurrent(t *testing.T) {
	r := New()
	const sessions = 200
	for i := 1; i <= sessions; i++ {
		registered(t, r, ConnID(i))
	}

	var wins atomic.Int32
	var taken atomic.Int32
	var wg sync.WaitGroup
	wg.Add(sessions)
	for i := 1; i <= sessions; i++ {
		go func(id ConnID) {
			defer wg.Done()
			_, err := r.ClaimIdentity(id, "Alice", nil)
			switch err {
			case nil:
				wins.Add(1)
			case ErrIdentityTaken:
				taken.Add(1)
			}
		}(ConnID(i))
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(sessions-1), taken.Load())
	assert.Equal(t, []string{"Alice"}, r.ListIdentities())
}

// frameConn records the frames sent to it.
type frameConn struct {
	mu     sync.Mutex
	frames []string
}

func (c *frameConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, string(data))
	return nil
}

func (c *frameConn) Close() error { return nil }

func (c *frameConn) sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.frames...)
}

func TestRegistry_ClaimIdentity_Ack(t *testing.T) {
	t.Run("ack is sent only when the claim succeeds", func(t *testing.T) {
		r := New()
		first, second := &frameConn{}, &frameConn{}
		_, err := r.Register(1, first)
		require.NoError(t, err)
		_, err = r.Register(2, second)
		require.NoError(t, err)

		_, err = r.ClaimIdentity(1, "Alice", []byte("OK\n"))
		require.NoError(t, err)
		_, err = r.ClaimIdentity(2, "Alice", []byte("OK\n"))
		require.ErrorIs(t, err, ErrIdentityTaken)

		assert.Equal(t, []string{"OK\n"}, first.sent())
		assert.Empty(t, second.sent())
	})

	t.Run("ack precedes any broadcast that includes the new identity", func(t *testing.T) {
		for i := 0; i < 200; i++ {
			r := New()
			registered(t, r, 1)
			_, err := r.ClaimIdentity(1, "Bob", nil)
			require.NoError(t, err)

			joiner := &frameConn{}
			_, err = r.Register(2, joiner)
			require.NoError(t, err)

			stop := make(chan struct{})
			var wg sync.WaitGroup
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					select {
					case <-stop:
						return
					default:
					}
					for _, rcpt := range r.Identified(1) {
						_ = rcpt.Conn.Send([]byte("MSG Bob hi\n"))
					}
				}
			}()

			_, err = r.ClaimIdentity(2, "Alice", []byte("OK\n"))
			require.NoError(t, err)
			time.Sleep(100 * time.Microsecond)
			close(stop)
			wg.Wait()

			frames := joiner.sent()
			require.NotEmpty(t, frames)
			require.Equal(t, "OK\n", frames[0], "iteration %d", i)
		}
	})
}

func TestRegistry_FindByIdentity(t *testing.T) {
	r := New()
	registered(t, r, 1, 2)
	_, err := r.ClaimIdentity(2, "Bob", nil)
	require.NoError(t, err)

	t.Run("finds by trimmed query", func(t *testing.T) {
		rcpt, ok := r.FindByIdentity(" Bob ")
		require.True(t, ok)
		assert.Equal(t, ConnID(2), rcpt.ID)
		assert.Equal(t, "Bob", rcpt.Identity)
	})

	t.Run("missing identity", func(t *testing.T) {
		_, ok := r.FindByIdentity("Carol")
		assert.False(t, ok)
	})
}

func TestRegistry_ListIdentities(t *testing.T) {
	r := New()
	registered(t, r, 1, 2, 3, 4)

	for _, claim := range []struct {
		id   ConnID
		name string
	}{{3, "Carol"}, {1, "Alice"}, {4, "Dave"}} {
		_, err := r.ClaimIdentity(claim.id, claim.name, nil)
		require.NoError(t, err)
	}

	t.Run("join order, not alphabetical", func(t *testing.T) {
		assert.Equal(t, []string{"Carol", "Alice", "Dave"}, r.ListIdentities())
	})

	t.Run("returned slice is a copy", func(t *testing.T) {
		names := r.ListIdentities()
		names[0] = "Mallory"
		assert.Equal(t, "Carol", r.ListIdentities()[0])
	})

	t.Run("release keeps remaining order", func(t *testing.T) {
		_, ok := r.Unregister(1)
		require.True(t, ok)
		_, err := r.ClaimIdentity(2, "Alice", nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"Carol", "Dave", "Alice"}, r.ListIdentities())
	})
}

func TestRegistry_Identified(t *testing.T) {
	r := New()
	registered(t, r, 1, 2, 3)
	_, err := r.ClaimIdentity(1, "Alice", nil)
	require.NoError(t, err)
	_, err = r.ClaimIdentity(3, "Carol", nil)
	require.NoError(t, err)

	t.Run("only identified sessions", func(t *testing.T) {
		got := r.Identified(0)
		require.Len(t, got, 2)
		assert.Equal(t, ConnID(1), got[0].ID)
		assert.Equal(t, ConnID(3), got[1].ID)
	})

	t.Run("exclude drops one session", func(t *testing.T) {
		got := r.Identified(1)
		require.Len(t, got, 1)
		assert.Equal(t, "Carol", got[0].Identity)
	})
}

func TestRegistry_Unregister(t *testing.T) {
	r := New()
	registered(t, r, 1, 2)
	_, err := r.ClaimIdentity(1, "Alice", nil)
	require.NoError(t, err)

	t.Run("releases identity", func(t *testing.T) {
		s, ok := r.Unregister(1)
		require.True(t, ok)
		assert.Equal(t, "Alice", s.Identity)
		assert.Empty(t, r.ListIdentities())
		_, found := r.FindByIdentity("Alice")
		assert.False(t, found)
	})

	t.Run("identity is immediately claimable", func(t *testing.T) {
		_, err := r.ClaimIdentity(2, "Alice", nil)
		assert.NoError(t, err)
	})

	t.Run("second unregister reports false", func(t *testing.T) {
		_, ok := r.Unregister(1)
		assert.False(t, ok)
	})

	t.Run("anonymous session", func(t *testing.T) {
		registered(t, r, 5)
		s, ok := r.Unregister(5)
		require.True(t, ok)
		assert.False(t, s.Identified())
		assert.Equal(t, 1, r.Len())
	})
}

func TestRegistry_Touch(t *testing.T) {
	r := New()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return base }
	registered(t, r, 1)

	r.now = func() time.Time { return base.Add(time.Minute) }
	r.Touch(1)
	r.Touch(42)

	s, ok := r.Lookup(1)
	require.True(t, ok)
	assert.Equal(t, base, s.ConnectedAt)
	assert.Equal(t, base.Add(time.Minute), s.LastActivity)
}

func TestRegistry_ConcurrentChurn(t *testing.T) {
	r := New()
	const workers = 50
	const rounds = 100

	var wg sync.WaitGroup
	wg.Add(workers + 1)
	for w := range workers {
		go func(w int) {
			defer wg.Done()
			for i := range rounds {
				id := ConnID(w*rounds + i + 1)
				_, _ = r.Register(id, nopConn{})
				_, _ = r.ClaimIdentity(id, fmt.Sprintf("user-%d", i%10), nil)
				r.Touch(id)
				_, _ = r.Unregister(id)
			}
		}(w)
	}
	go func() {
		defer wg.Done()
		for range rounds {
			names := r.ListIdentities()
			seen := make(map[string]bool, len(names))
			for _, name := range names {
				assert.False(t, seen[name], "duplicate identity %s", name)
				seen[name] = true
			}
		}
	}()
	wg.Wait()

	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.ListIdentities())
}
