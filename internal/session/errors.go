package session

import (
	"errors"
	"strings"
)

// Kind classifies a session client failure at the point it happens.
type Kind int

const (
	KindUnknown Kind = iota
	KindExpired
	KindInvalid
	KindLocked
	KindNetwork
)

func (k Kind) String() string {
	switch k {
	case KindExpired:
		return "expired"
	case KindInvalid:
		return "invalid"
	case KindLocked:
		return "locked"
	case KindNetwork:
		return "network"
	default:
		return "unknown"
	}
}

// SessionScoped reports whether the failure means the local session can no
// longer be used and must be purged.
func (k Kind) SessionScoped() bool {
	return k == KindExpired || k == KindInvalid || k == KindLocked
}

// Error is returned by every remote and local session operation.
type Error struct {
	Kind    Kind
	Op      string
	Status  int    // HTTP status, 0 when no response was received
	Code    string // error.code from the server, if any
	Message string
	Err     error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the Kind of err, KindUnknown if err is not an *Error.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindUnknown
}

// Error codes the session endpoint uses in {"error":{"code":...}}.
const (
	CodeExpired = "session_expired"
	CodeInvalid = "session_invalid"
	CodeLocked  = "session_locked"
)

// classifyRemote derives a Kind from a failed response. The server's error
// code wins, then the status; the keyword match on the message is kept only
// for servers that send neither.
func classifyRemote(status int, code, message string) Kind {
	switch code {
	case CodeExpired:
		return KindExpired
	case CodeInvalid:
		return KindInvalid
	case CodeLocked:
		return KindLocked
	}
	switch status {
	case 410:
		return KindExpired
	case 423:
		return KindLocked
	}
	if code == "" {
		return keywordKind(message)
	}
	return KindUnknown
}

// keywordKind is the legacy heuristic. It can misfire on unrelated messages
// that happen to mention "invalid"; see DESIGN.md before changing the words.
func keywordKind(message string) Kind {
	m := strings.ToLower(message)
	switch {
	case strings.Contains(m, "expired"):
		return KindExpired
	case strings.Contains(m, "invalid"):
		return KindInvalid
	case strings.Contains(m, "locked"):
		return KindLocked
	}
	return KindUnknown
}
