package chat

import (
	"context"
	"errors"
	"strings"

	"github.com/samber/lo"

	"github.com/cyberinferno/linechat/logger"
	"github.com/cyberinferno/linechat/protocol"
	"github.com/cyberinferno/linechat/registry"
)

// handleLine parses one line from a connection and runs the matching handler.
func (s *Server) handleLine(id registry.ConnID, line string) {
	cmd := protocol.ParseCommand(line)
	if cmd.Kind == protocol.KindNoop {
		return
	}

	sess, ok := s.registry.Lookup(id)
	if !ok {
		return
	}

	s.log.Debug("command received",
		logger.Field{Key: "conn", Value: id},
		logger.Field{Key: "verb", Value: cmd.Verb},
	)

	switch cmd.Kind {
	case protocol.KindLogin:
		s.handleLogin(sess, cmd)
	case protocol.KindMsg:
		s.handleMsg(sess, cmd)
	case protocol.KindWho:
		s.handleWho(sess)
	case protocol.KindDM:
		s.handleDM(sess, cmd)
	case protocol.KindPing:
		s.handlePing(sess)
	default:
		s.reply(sess, protocol.Err(protocol.ReasonUnknownCommand, cmd.Verb))
	}
}

func (s *Server) handleLogin(sess registry.Session, cmd protocol.Command) {
	name, err := s.registry.ClaimIdentity(sess.ID, cmd.Args, protocol.Frame(protocol.ReplyOK))
	switch {
	case errors.Is(err, registry.ErrAlreadyIdentified):
		s.reply(sess, protocol.Err(protocol.ReasonAlreadyLoggedIn))
		return
	case errors.Is(err, registry.ErrInvalidIdentity):
		s.reply(sess, protocol.Err(protocol.ReasonInvalidUsername))
		return
	case errors.Is(err, registry.ErrIdentityTaken):
		s.reply(sess, protocol.Err(protocol.ReasonUsernameTaken))
		return
	case err != nil:
		return
	}

	s.log.Info("client logged in",
		logger.Field{Key: "conn", Value: sess.ID},
		logger.Field{Key: "token", Value: sess.Token},
		logger.Field{Key: "identity", Value: name},
	)

	if s.idle != nil {
		s.idle.Track(sess.ID)
	}

	s.broadcast(protocol.Joined(name), sess.ID)

	at := s.now()
	s.publish("joined", func(ctx context.Context) error {
		return s.presence.Joined(ctx, name, sess.Token, at)
	})
}

func (s *Server) handleMsg(sess registry.Session, cmd protocol.Command) {
	if !sess.Identified() {
		s.reply(sess, protocol.Err(protocol.ReasonNotLoggedIn))
		return
	}

	text := strings.TrimSpace(cmd.Args)
	if text == "" {
		s.reply(sess, protocol.Err(protocol.ReasonEmptyMessage))
		return
	}

	s.touch(sess)
	delivered := s.broadcast(protocol.Msg(sess.Identity, text), 0)
	s.log.Debug("message broadcast",
		logger.Field{Key: "identity", Value: sess.Identity},
		logger.Field{Key: "recipients", Value: delivered},
	)
}

func (s *Server) handleWho(sess registry.Session) {
	if !sess.Identified() {
		s.reply(sess, protocol.Err(protocol.ReasonNotLoggedIn))
		return
	}

	s.touch(sess)
	lines := lo.Map(s.registry.ListIdentities(), func(name string, _ int) string {
		return protocol.User(name)
	})
	for _, line := range lines {
		s.reply(sess, line)
	}
}

func (s *Server) handleDM(sess registry.Session, cmd protocol.Command) {
	if cmd.Malformed {
		s.reply(sess, protocol.Err(protocol.ReasonInvalidDMFormat))
		return
	}

	if !sess.Identified() {
		s.reply(sess, protocol.Err(protocol.ReasonNotLoggedIn))
		return
	}

	text := strings.TrimSpace(cmd.Text)
	if cmd.Target == "" || text == "" {
		s.reply(sess, protocol.Err(protocol.ReasonInvalidDMFormat))
		return
	}

	s.touch(sess)

	target, ok := s.registry.FindByIdentity(cmd.Target)
	if !ok {
		s.reply(sess, protocol.Err(protocol.ReasonUserNotFound, cmd.Target))
		return
	}

	s.unicast(target, protocol.DM(sess.Identity, text))
	s.reply(sess, protocol.DMSent(cmd.Target, text))
	s.log.Debug("direct message",
		logger.Field{Key: "from", Value: sess.Identity},
		logger.Field{Key: "to", Value: target.Identity},
	)
}

func (s *Server) handlePing(sess registry.Session) {
	if sess.Identified() {
		s.touch(sess)
	}

	s.reply(sess, protocol.ReplyPong)
}

// touch records activity and pushes back the idle deadline.
func (s *Server) touch(sess registry.Session) {
	s.registry.Touch(sess.ID)
	if s.idle != nil {
		s.idle.Track(sess.ID)
	}
}
