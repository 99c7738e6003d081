package chat

import (
	"github.com/cyberinferno/linechat/logger"
	"github.com/cyberinferno/linechat/protocol"
	"github.com/cyberinferno/linechat/registry"
)

// reply sends one line to the session that issued the command.
func (s *Server) reply(sess registry.Session, line string) {
	if err := sess.Conn().Send(protocol.Frame(line)); err != nil {
		s.log.Debug("reply dropped", logger.Field{Key: "conn", Value: sess.ID}, logger.Field{Key: "error", Value: err})
	}
}

// broadcast sends line to every identified session except exclude (0 for
// none). Recipients are snapshotted under the registry lock and written to
// after it is released. A failed recipient is skipped.
//
// Returns:
//   - The number of recipients the line was queued for
func (s *Server) broadcast(line string, exclude registry.ConnID) int {
	frame := protocol.Frame(line)
	delivered := 0
	for _, r := range s.registry.Identified(exclude) {
		if err := r.Conn.Send(frame); err != nil {
			s.log.Debug("broadcast skipped recipient",
				logger.Field{Key: "conn", Value: r.ID},
				logger.Field{Key: "error", Value: err},
			)
			continue
		}

		delivered++
	}

	return delivered
}

// unicast sends line to a single recipient.
func (s *Server) unicast(r registry.Recipient, line string) bool {
	if err := r.Conn.Send(protocol.Frame(line)); err != nil {
		s.log.Debug("unicast dropped", logger.Field{Key: "conn", Value: r.ID}, logger.Field{Key: "error", Value: err})
		return false
	}

	return true
}
