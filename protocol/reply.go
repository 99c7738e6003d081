package protocol

import "strings"

// Error reasons carried by ERR replies.
const (
	ReasonInvalidUsername = "invalid-username"
	ReasonUsernameTaken   = "username-taken"
	ReasonAlreadyLoggedIn = "already-logged-in"
	ReasonNotLoggedIn     = "not-logged-in"
	ReasonEmptyMessage    = "empty-message"
	ReasonInvalidDMFormat = "invalid-dm-format"
	ReasonUserNotFound    = "user-not-found"
	ReasonUnknownCommand  = "unknown-command"
)

// Fixed server lines.
const (
	ReplyOK           = "OK"
	ReplyPong         = "PONG"
	InfoShuttingDown  = "INFO server shutting down"
	InfoIdleTimeout   = "INFO disconnected due to inactivity"
	infoJoined        = "joined"
	infoDisconnected  = "disconnected"
	separatorByte     = '\n'
	replyFieldDivider = " "
)

// Err builds "ERR <reason>" with optional detail, e.g. the missing user.
func Err(reason string, detail ...string) string {
	return join(append([]string{"ERR", reason}, detail...)...)
}

// Joined builds "INFO <name> joined".
func Joined(name string) string {
	return join("INFO", name, infoJoined)
}

// Disconnected builds "INFO <name> disconnected".
func Disconnected(name string) string {
	return join("INFO", name, infoDisconnected)
}

// Msg builds the broadcast line "MSG <name> <text>".
func Msg(name, text string) string {
	return join("MSG", name, text)
}

// User builds one WHO entry, "USER <name>".
func User(name string) string {
	return join("USER", name)
}

// DM builds the line delivered to a DM target, "DM <sender> <text>".
func DM(sender, text string) string {
	return join("DM", sender, text)
}

// DMSent builds the acknowledgement to a DM sender, "DM-SENT <target> <text>".
func DMSent(target, text string) string {
	return join("DM-SENT", target, text)
}

// Frame appends the line separator and returns the bytes to write.
func Frame(line string) []byte {
	b := make([]byte, 0, len(line)+1)
	b = append(b, line...)
	return append(b, separatorByte)
}

func join(parts ...string) string {
	return strings.Join(parts, replyFieldDivider)
}

// ReplyKind classifies a server line by its leading token.
type ReplyKind int

const (
	ReplyKindUnknown ReplyKind = iota
	ReplyKindOK
	ReplyKindErr
	ReplyKindInfo
	ReplyKindMsg
	ReplyKindUser
	ReplyKindDM
	ReplyKindDMSent
	ReplyKindPong
)

var replyKinds = map[string]ReplyKind{
	"OK":      ReplyKindOK,
	"ERR":     ReplyKindErr,
	"INFO":    ReplyKindInfo,
	"MSG":     ReplyKindMsg,
	"USER":    ReplyKindUser,
	"DM":      ReplyKindDM,
	"DM-SENT": ReplyKindDMSent,
	"PONG":    ReplyKindPong,
}

// Reply is a server line as seen by a client.
type Reply struct {
	Kind ReplyKind
	// Line is the raw line without separator.
	Line string
	// Rest is everything after the leading token.
	Rest string
}

// ParseReply classifies one server line. A trailing '\r' is ignored.
//
// Parameters:
//   - line: A line read from the server
//
// Returns:
//   - The classified Reply; Kind is ReplyKindUnknown for unrecognised lines
func ParseReply(line string) Reply {
	line = strings.TrimRight(line, "\r")
	head, rest, _ := strings.Cut(line, replyFieldDivider)
	return Reply{
		Kind: replyKinds[head],
		Line: line,
		Rest: rest,
	}
}

// Sender returns the name that follows the leading token for MSG, DM, USER,
// DM-SENT and INFO lines, or "" when the line carries none.
func (r Reply) Sender() string {
	switch r.Kind {
	case ReplyKindMsg, ReplyKindDM, ReplyKindUser, ReplyKindDMSent, ReplyKindInfo:
		name, _, _ := strings.Cut(r.Rest, replyFieldDivider)
		return name
	default:
		return ""
	}
}

// Body returns the text after the name for MSG, DM and DM-SENT lines.
func (r Reply) Body() string {
	switch r.Kind {
	case ReplyKindMsg, ReplyKindDM, ReplyKindDMSent:
		_, body, _ := strings.Cut(r.Rest, replyFieldDivider)
		return body
	default:
		return ""
	}
}
