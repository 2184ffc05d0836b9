package client

import "fmt"

// Kind classifies a failure so callers can choose a user-facing
// rendering and a retry policy without parsing messages.
type Kind int

const (
	// KindConfig: the named provider is not registered. Fatal to the
	// request, never retried.
	KindConfig Kind = iota + 1
	// KindProtocol: the provider answered outside the expected status
	// set or with an unparseable body. Carries the upstream status and
	// raw body.
	KindProtocol
	// KindTokenInvalid: a request token was expired/replayed/forged, or
	// no access token is bound. The authorization must restart from
	// login.
	KindTokenInvalid
	// KindQuota: the per-token action budget for the current window is
	// spent. Retryable after the window elapses.
	KindQuota
	// KindTransport: the provider was unreachable. Retry is left to the
	// caller; the core never retries side-effecting calls.
	KindTransport
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindProtocol:
		return "protocol"
	case KindTokenInvalid:
		return "token_invalid"
	case KindQuota:
		return "quota"
	case KindTransport:
		return "transport"
	}
	return "unknown"
}

// Error is the structured failure surfaced by every Client operation.
// Code is the HTTP-equivalent status to report to the caller; Body, if
// set, is the provider's raw response.
type Error struct {
	Kind    Kind
	Code    int
	Message string
	Body    string
	Err     error
}

func (e *Error) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s error %d: %s [%s]", e.Kind, e.Code, e.Message, e.Body)
	}
	return fmt.Sprintf("%s error %d: %s", e.Kind, e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the Kind from err, or 0 when err is not an *Error.
func KindOf(err error) Kind {
	if e, ok := err.(*Error); ok {
		return e.Kind
	}
	return 0
}

func configErrorf(format string, args ...any) *Error {
	return &Error{Kind: KindConfig, Code: 400, Message: fmt.Sprintf(format, args...)}
}

func protocolError(code int, body, message string) *Error {
	return &Error{Kind: KindProtocol, Code: code, Message: message, Body: body}
}

func tokenError(code int, message string) *Error {
	return &Error{Kind: KindTokenInvalid, Code: code, Message: message}
}

func transportError(err error, message string) *Error {
	return &Error{Kind: KindTransport, Code: 502, Message: message, Err: err}
}
