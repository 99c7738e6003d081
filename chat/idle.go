package chat

import (
	"strconv"
	"sync/atomic"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/cyberinferno/linechat/logger"
	"github.com/cyberinferno/linechat/protocol"
	"github.com/cyberinferno/linechat/registry"
)

// IdleTracker holds an expiring entry per identified connection. Every
// activity re-arms the entry; the go-cache janitor evicts entries that were
// not re-armed within the timeout and reports them through onIdle.
type IdleTracker struct {
	cache  *cache.Cache
	onIdle func(registry.ConnID)
}

type idleEntry struct {
	forgotten atomic.Bool
}

// NewIdleTracker creates a tracker that reports a connection idle once timeout
// has passed since its last Track call. Expiry is checked every sweep.
//
// Parameters:
//   - timeout: Inactivity allowed per connection
//   - sweep: Interval of the expiry check
//   - onIdle: Called from the sweeper goroutine for each idle connection
//
// Returns:
//   - The IdleTracker
func NewIdleTracker(timeout, sweep time.Duration, onIdle func(registry.ConnID)) *IdleTracker {
	t := &IdleTracker{
		cache:  cache.New(timeout, sweep),
		onIdle: onIdle,
	}

	t.cache.OnEvicted(t.evicted)
	return t
}

// Track starts or re-arms the idle deadline of id.
func (t *IdleTracker) Track(id registry.ConnID) {
	t.cache.Set(idleKey(id), &idleEntry{}, cache.DefaultExpiration)
}

// Forget stops tracking id without reporting it idle.
func (t *IdleTracker) Forget(id registry.ConnID) {
	key := idleKey(id)
	if v, ok := t.cache.Get(key); ok {
		v.(*idleEntry).forgotten.Store(true)
	}

	t.cache.Delete(key)
}

// Len returns the number of tracked connections, expired or not.
func (t *IdleTracker) Len() int {
	return t.cache.ItemCount()
}

// Flush drops every entry without reporting any of them idle.
func (t *IdleTracker) Flush() {
	t.cache.Flush()
}

func (t *IdleTracker) evicted(key string, v interface{}) {
	entry, ok := v.(*idleEntry)
	if !ok || entry.forgotten.Load() {
		return
	}

	id, err := strconv.ParseUint(key, 10, 32)
	if err != nil {
		return
	}

	t.onIdle(registry.ConnID(id))
}

func idleKey(id registry.ConnID) string {
	return strconv.FormatUint(uint64(id), 10)
}

// kickIdle disconnects an identified session that has been silent for the
// whole idle timeout. A session touched since the entry expired is re-armed
// instead.
func (s *Server) kickIdle(id registry.ConnID) {
	if s.stopping.Load() {
		return
	}

	sess, ok := s.registry.Lookup(id)
	if !ok || !sess.Identified() {
		return
	}

	if idleFor := s.now().Sub(sess.LastActivity); idleFor < s.opts.IdleTimeout {
		s.idle.Track(id)
		return
	}

	s.log.Warn("disconnecting idle client",
		logger.Field{Key: "conn", Value: id},
		logger.Field{Key: "identity", Value: sess.Identity},
	)

	s.reply(sess, protocol.InfoIdleTimeout)
	if err := sess.Conn().Close(); err != nil {
		s.log.Debug("idle close failed", logger.Field{Key: "conn", Value: id}, logger.Field{Key: "error", Value: err})
	}
}
