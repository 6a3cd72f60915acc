package types

import (
	"fmt"

	"github.com/pkg/errors"
)

// PreconditionViolation marks a programming error: a precondition the
// caller was responsible for upholding (height >= 1, master resolved,
// enter before attach, ...) did not hold. The core panics with this value
// rather than returning an error, since there is no sane recovery.
type PreconditionViolation struct {
	Reason string
}

func (p PreconditionViolation) Error() string {
	return fmt.Sprintf("precondition violation: %s", p.Reason)
}

// PanicPrecondition panics with a PreconditionViolation built from format
// and args.
func PanicPrecondition(format string, args ...interface{}) {
	panic(PreconditionViolation{Reason: fmt.Sprintf(format, args...)})
}

// TransportFailure wraps an error returned by Node.send; it surfaces to
// the caller of send (and, from enter(), as a failed entry) rather than
// blocking the core.
type TransportFailure struct {
	cause error
}

func NewTransportFailure(cause error) error {
	return &TransportFailure{cause: errors.Wrap(cause, "transport failure")}
}

func (t *TransportFailure) Error() string { return t.cause.Error() }
func (t *TransportFailure) Unwrap() error { return t.cause }

// ProtocolViolation marks a malformed or unrecognized incoming packet. The
// dispatcher logs and discards these; the session keeps running.
type ProtocolViolation struct {
	cause error
}

func NewProtocolViolation(format string, args ...interface{}) error {
	return &ProtocolViolation{cause: errors.Errorf(format, args...)}
}

func (p *ProtocolViolation) Error() string { return p.cause.Error() }
func (p *ProtocolViolation) Unwrap() error { return p.cause }

// NewUnsupportedProtocol reports a CMD_NODE_CONNECT handshake whose peer
// advertises a protocol major version this node doesn't speak.
func NewUnsupportedProtocol(peerVersion, localVersion string) error {
	return &ProtocolViolation{cause: errors.Errorf(
		"unsupported protocol: peer speaks %s, this node speaks %s", peerVersion, localVersion)}
}
