package viewer

import "fmt"

// RelayErrorKind classifies live-relay failures.
type RelayErrorKind string

const (
	// RelayConnectFailed means the live connection never opened.
	RelayConnectFailed RelayErrorKind = "connect_failed"
	// RelayUnexpectedClose means an established connection dropped mid-run.
	RelayUnexpectedClose RelayErrorKind = "unexpected_close"
	// RelayProtocolError means a frame failed boundary validation.
	RelayProtocolError RelayErrorKind = "protocol_error"
)

// RelayError is a failure on the live delivery path. It degrades the view
// to the fallback feed rather than failing it.
type RelayError struct {
	Kind RelayErrorKind
	Err  error
}

func (e *RelayError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("relay %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("relay %s", e.Kind)
}

func (e *RelayError) Unwrap() error { return e.Err }
