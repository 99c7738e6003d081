package registry

import "time"

// Session is the registry's record of one live connection. Values returned by
// Registry methods are copies; changing them has no effect on the registry.
type Session struct {
	ID ConnID
	// Token is a random id used to correlate log lines for the session.
	Token string
	// Identity is empty until LOGIN succeeds.
	Identity     string
	ConnectedAt  time.Time
	LastActivity time.Time

	conn Conn
}

// Identified reports whether the session has claimed an identity.
func (s Session) Identified() bool {
	return s.Identity != ""
}

// Conn returns the connection replies for this session are sent to.
func (s Session) Conn() Conn {
	return s.conn
}

func (s *Session) recipient() Recipient {
	return Recipient{ID: s.ID, Identity: s.Identity, Conn: s.conn}
}
