// Package imapengine implements the IMAP state machine of spec §4.5,
// grounded on the teacher's ioutils/delim line reader (ioutils/delim/io.go)
// for the tagged-command framing and generalized into the per-state verb
// allow-list the g3 original carries (original_source
// g3proxy/src/inspect/imap/not_authenticated.rs, see SPEC_FULL.md §12).
package imapengine

import (
	"bufio"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/nabbar/g3relay/internal/protoerr"
)

// State is one node of the Greeting → NotAuthenticated → Authenticated →
// Selected → LogoutPending → Closed state machine (spec §4.5).
type State int

const (
	Greeting State = iota
	NotAuthenticated
	Authenticated
	Selected
	LogoutPending
	Closed
)

// preAuthAllowed is the literal allow-list of verbs forwarded before
// authentication (SPEC_FULL.md §12, original_source not_authenticated.rs):
// anything else gets a synthesized "<tag> BAD" without reaching upstream.
var preAuthAllowed = map[string]bool{
	"CAPABILITY":   true,
	"NOOP":         true,
	"LOGOUT":       true,
	"STARTTLS":     true,
	"AUTHENTICATE": true,
	"LOGIN":        true,
	"ID":           true,
}

// Command is one parsed client command line, including any trailing
// literal byte count (spec §4.5 "literal-bearing commands").
type Command struct {
	Tag     string
	Verb    string
	Rest    string
	Literal int64 // >0 when the line ends in "{N}" or "{N+}"
	NonSync bool  // true for "{N+}" (no continuation request needed)
}

// Engine drives one client⇄upstream IMAP bridge.
type Engine struct {
	state          State
	authenticating bool // true between AUTHENTICATE and its terminal response
	afterAuthSeen  bool // true once an AUTHENTICATE has completed successfully
}

// New builds an Engine starting at Greeting.
func New() *Engine { return &Engine{state: Greeting} }

// State returns the engine's current state.
func (e *Engine) State() State { return e.state }

// ParseGreeting classifies the server's opening line (spec §4.5
// "Greeting"): "* OK" advances to NotAuthenticated, "* PREAUTH" jumps
// straight to Authenticated, "* BYE" terminates the session.
func (e *Engine) ParseGreeting(line string) error {
	upper := strings.ToUpper(line)
	switch {
	case strings.HasPrefix(upper, "* OK"):
		e.state = NotAuthenticated
	case strings.HasPrefix(upper, "* PREAUTH"):
		e.state = Authenticated
	case strings.HasPrefix(upper, "* BYE"):
		e.state = Closed
		return protoerr.UpstreamProtocolError.Error(nil)
	default:
		return protoerr.UpstreamProtocolError.Error(nil)
	}
	return nil
}

// ParseCommand parses one client command line into tag/verb/literal.
func ParseCommand(line string) (*Command, error) {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 {
		return nil, protoerr.ClientProtocolError.Error(nil)
	}
	cmd := &Command{Tag: parts[0], Verb: strings.ToUpper(parts[1])}
	if len(parts) == 3 {
		cmd.Rest = parts[2]
	}
	if n, sync, ok := trailingLiteral(line); ok {
		cmd.Literal = n
		cmd.NonSync = !sync
	}
	return cmd, nil
}

// trailingLiteral extracts a trailing "{N}" (sync) or "{N+}" (non-sync)
// literal byte count from a command line, per spec §4.5/Glossary "Literal".
func trailingLiteral(line string) (n int64, sync bool, ok bool) {
	line = strings.TrimRight(line, "\r\n")
	if !strings.HasSuffix(line, "}") {
		return 0, false, false
	}
	open := strings.LastIndexByte(line, '{')
	if open < 0 {
		return 0, false, false
	}
	inner := line[open+1 : len(line)-1]
	nonSync := strings.HasSuffix(inner, "+")
	if nonSync {
		inner = inner[:len(inner)-1]
	}
	v, err := strconv.ParseInt(inner, 10, 63)
	if err != nil || v < 0 {
		return 0, false, false
	}
	return v, !nonSync, true
}

// Allow reports whether cmd may be forwarded in the engine's current
// state, per spec §4.5's per-state command gating.
func (e *Engine) Allow(cmd *Command) bool {
	if cmd.Verb == "STARTTLS" && e.afterAuthSeen {
		// SPEC_FULL.md §13c: STARTTLS after a successful AUTHENTICATE
		// is rejected with BAD.
		return false
	}
	switch e.state {
	case NotAuthenticated:
		return preAuthAllowed[cmd.Verb]
	case Authenticated, Selected:
		return true
	default:
		return false
	}
}

// OnAuthenticateStart records that an AUTHENTICATE exchange has begun, so
// server continuation requests ("+") are relayed verbatim until it ends.
func (e *Engine) OnAuthenticateStart() { e.authenticating = true }

// OnAuthenticateEnd records the end of one AUTHENTICATE exchange; success
// transitions NotAuthenticated → Authenticated and marks afterAuthSeen for
// the STARTTLS-after-AUTHENTICATE rule above.
func (e *Engine) OnAuthenticateEnd(success bool) {
	e.authenticating = false
	if success {
		e.afterAuthSeen = true
		if e.state == NotAuthenticated {
			e.state = Authenticated
		}
	}
}

// InAuthenticate reports whether a continuation exchange is in progress.
func (e *Engine) InAuthenticate() bool { return e.authenticating }

// OnSTARTTLSAccepted transitions the engine back to a fresh
// NotAuthenticated/initiation state after the STARTTLS sub-engine hands
// control back (spec §4.5: "yield control to the STARTTLS sub-engine...
// then re-enters initiation").
func (e *Engine) OnSTARTTLSAccepted() {
	e.state = NotAuthenticated
	e.afterAuthSeen = false
}

// OnLogout transitions toward Closed after a tagged LOGOUT completes.
func (e *Engine) OnLogout() { e.state = LogoutPending }

// OnSelect transitions Authenticated → Selected.
func (e *Engine) OnSelect() {
	if e.state == Authenticated {
		e.state = Selected
	}
}

// BadResponse synthesizes the "<tag> BAD" response for a disallowed
// command (spec §4.5: "any other command before auth returns BAD to
// client without forwarding").
func BadResponse(tag string) string {
	return tag + " BAD command not allowed in this state\r\n"
}

// ReadLiteral copies exactly n opaque bytes from br to w, treating them as
// data rather than parsed protocol (spec §4.5 invariant). It enforces
// maxSize as a ResourceExhausted boundary (spec §8 "literal too large").
func ReadLiteral(br *bufio.Reader, w io.Writer, n int64, maxSize int64) error {
	if maxSize > 0 && n > maxSize {
		return protoerr.ResourceExhausted.Error(nil)
	}
	_, err := io.CopyN(w, br, n)
	if err != nil {
		return protoerr.UpstreamProtocolError.Error(err)
	}
	return nil
}

// GreetingTimeoutBye is the message sent to the client when the greeting
// deadline expires (spec §8: "An IMAP greeting timeout emits * BYE to
// client and closes").
const GreetingTimeoutBye = "* BYE greeting timeout\r\n"

// WaitGreeting reads the single greeting line with a deadline; on timeout
// it returns a protoerr so the caller can write GreetingTimeoutBye.
func WaitGreeting(br *bufio.Reader, deadline time.Duration, setDeadline func(time.Duration)) (string, error) {
	setDeadline(deadline)
	line, err := br.ReadString('\n')
	if err != nil {
		return "", protoerr.IdleTimeout.Error(err)
	}
	return line, nil
}
