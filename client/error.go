package client

import (
	"errors"
	"fmt"
	"strings"

	"github.com/crossbario/crossbar/auth"
	"github.com/crossbario/crossbar/wamp"
	"github.com/crossbario/crossbar/wamp/crsign"
)

var (
	// ErrProtocolViolation is fatal: the router sent a message that is
	// malformed or unexpected in the current state, and the session closes.
	ErrProtocolViolation = auth.ErrProtocolViolation

	// ErrUnsupportedAuthMethod and ErrMissingAuthHandler end the opening
	// handshake.
	ErrUnsupportedAuthMethod = auth.ErrUnsupportedAuthMethod
	ErrMissingAuthHandler    = auth.ErrMissingAuthHandler

	// ErrInvalidParameters rejects malformed arguments before anything is
	// sent.
	ErrInvalidParameters = crsign.ErrInvalidParameters

	// ErrConnectionLost rejects every request that cannot complete because
	// the session closed, or was not open, or because the caller canceled it.
	ErrConnectionLost = errors.New("connection lost")

	// ErrPermissionDenied matches an OpError carrying one of the router's
	// authorization errors.
	ErrPermissionDenied = errors.New("permission denied")

	ErrAlreadyOpen    = errors.New("session already open")
	ErrAlreadyClosed  = errors.New("already closed")
	ErrNotEstablished = errors.New("session not established")
	ErrNotRegistered  = errors.New("not registered for procedure")
	ErrNotSubscribed  = errors.New("not subscribed to topic")
)

// AbortError is returned by Open when the router answers the handshake with
// ABORT, and carries the reason given by the router.
type AbortError struct {
	Reason  wamp.URI
	Details wamp.Dict
}

func (e *AbortError) Error() string {
	s := "session aborted by router: " + string(e.Reason)
	if msg := wamp.OptionString(e.Details, wamp.OptMessage); msg != "" {
		s += ": " + msg
	}
	return s
}

// OpError is an ERROR returned by the router in answer to a request.  The
// session stays open.
type OpError struct {
	// Request is the type of the request that failed, such as CALL.
	Request wamp.MessageType
	// URI is the procedure or topic of the request, if it had one.
	URI wamp.URI
	Err *wamp.Error
}

func (e *OpError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%v", e.Request)
	if e.URI != "" {
		fmt.Fprintf(&b, " %s", e.URI)
	}
	fmt.Fprintf(&b, " failed: %s", e.Err.Error)
	if len(e.Err.Arguments) != 0 {
		fmt.Fprintf(&b, ": %v", e.Err.Arguments)
	}
	if len(e.Err.ArgumentsKw) != 0 {
		fmt.Fprintf(&b, ": %v", e.Err.ArgumentsKw)
	}
	return b.String()
}

// Is maps the router's error URIs onto the package sentinels.
func (e *OpError) Is(target error) bool {
	switch target {
	case ErrPermissionDenied:
		return e.Err.Error == wamp.ErrNotAuthorized ||
			e.Err.Error == wamp.ErrAuthorizationFailed
	case ErrNotRegistered:
		return e.Err.Error == wamp.ErrNoSuchRegistration
	case ErrNotSubscribed:
		return e.Err.Error == wamp.ErrNoSuchSubscription
	}
	return false
}

// InvokeError is returned by an InvocationHandler to answer the call with a
// specific error URI.  Any other error is sent as wamp.error.runtime_error.
type InvokeError struct {
	URI    wamp.URI
	Args   wamp.List
	Kwargs wamp.Dict
}

func (e *InvokeError) Error() string {
	if len(e.Args) != 0 {
		return fmt.Sprintf("%s: %v", e.URI, e.Args)
	}
	return string(e.URI)
}
