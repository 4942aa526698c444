package stage

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind classifies a stage failure
type Kind string

const (
	KindUnavailable Kind = "backend_unavailable"
	KindTimeout     Kind = "backend_timeout"
	KindMalformed   Kind = "malformed_result"
	KindUpstream    Kind = "upstream_error"
	KindFatal       Kind = "stage_fatal"
)

// ErrExhausted is wrapped by the selector when no candidate succeeded.
var ErrExhausted = errors.New("all backends exhausted")

// Error is a classified failure from one backend attempt or from a stage.
type Error struct {
	Kind    Kind
	Stage   Name
	Backend string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Backend != "":
		return fmt.Sprintf("%s/%s: %s: %v", e.Stage, e.Backend, e.Kind, e.Err)
	case e.Stage != "":
		return fmt.Sprintf("%s: %s: %v", e.Stage, e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

func Unavailable(err error) error { return &Error{Kind: KindUnavailable, Err: err} }
func Malformed(err error) error   { return &Error{Kind: KindMalformed, Err: err} }
func Upstream(err error) error    { return &Error{Kind: KindUpstream, Err: err} }

// Malformedf is shorthand for a malformed-result error with a message.
func Malformedf(format string, args ...any) error {
	return Malformed(fmt.Errorf(format, args...))
}

// Classify maps an arbitrary backend error onto a Kind. Errors already
// classified by the backend keep their kind.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindUnavailable
	}
	return KindUpstream
}
