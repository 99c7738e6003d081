package protocol

import "strings"

// Kind identifies the verb of a parsed command line.
type Kind int

const (
	KindNoop    Kind = iota // Blank line; nothing to do
	KindLogin               // LOGIN <name>
	KindMsg                 // MSG <text>
	KindWho                 // WHO
	KindDM                  // DM <name> <text>
	KindPing                // PING
	KindUnknown             // Any other verb
)

// String returns the wire verb for the kind.
func (k Kind) String() string {
	switch k {
	case KindNoop:
		return "NOOP"
	case KindLogin:
		return "LOGIN"
	case KindMsg:
		return "MSG"
	case KindWho:
		return "WHO"
	case KindDM:
		return "DM"
	case KindPing:
		return "PING"
	default:
		return "UNKNOWN"
	}
}

var verbs = map[string]Kind{
	"LOGIN": KindLogin,
	"MSG":   KindMsg,
	"WHO":   KindWho,
	"DM":    KindDM,
	"PING":  KindPing,
}

// Command is one parsed client line.
type Command struct {
	Kind Kind
	// Verb is the first token upper-cased, as echoed in unknown-command errors.
	Verb string
	// Args is everything after the verb, re-joined with single spaces.
	Args string
	// Target and Text are the DM recipient and body.
	Target string
	Text   string
	// Malformed is set for a DM line with fewer than two tokens after the verb.
	Malformed bool
}

// ParseCommand turns one separator-stripped line into a Command. The line is
// trimmed, split on single spaces, and the first token upper-cased to select
// the verb. Runs of spaces inside the arguments survive as empty tokens, so
// the payload keeps its internal spacing.
//
// Parameters:
//   - line: A line produced by Framer
//
// Returns:
//   - The parsed Command; Kind is KindNoop for blank lines
func ParseCommand(line string) Command {
	line = strings.TrimSpace(line)
	if line == "" {
		return Command{Kind: KindNoop}
	}

	parts := strings.Split(line, " ")
	verb := strings.ToUpper(parts[0])
	cmd := Command{
		Kind: KindUnknown,
		Verb: verb,
		Args: strings.Join(parts[1:], " "),
	}

	if kind, ok := verbs[verb]; ok {
		cmd.Kind = kind
	}

	if cmd.Kind == KindDM {
		if len(parts) < 3 {
			cmd.Malformed = true
		} else {
			cmd.Target = parts[1]
			cmd.Text = strings.Join(parts[2:], " ")
		}
	}

	return cmd
}
