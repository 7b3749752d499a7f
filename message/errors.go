package message

import "fmt"

// ErrorCode is a Maelstrom protocol error code.
type ErrorCode int

const (
	Timeout                ErrorCode = 0
	NodeNotFound           ErrorCode = 1
	NotSupported           ErrorCode = 10
	TemporarilyUnavailable ErrorCode = 11
	MalformedRequest       ErrorCode = 12
	Crash                  ErrorCode = 13
	Abort                  ErrorCode = 14
	KeyDoesNotExist        ErrorCode = 20
	KeyAlreadyExists       ErrorCode = 21
	PreconditionFailed     ErrorCode = 22
	TxnConflict            ErrorCode = 30
)

// IsDefinite reports whether an operation that failed with this code definitely did not
// take effect. Timeouts and crashes are indeterminate.
func (c ErrorCode) IsDefinite() bool {
	return c != Timeout && c != Crash
}

func (c ErrorCode) String() string {
	switch c {
	case Timeout:
		return "timeout"
	case NodeNotFound:
		return "node-not-found"
	case NotSupported:
		return "not-supported"
	case TemporarilyUnavailable:
		return "temporarily-unavailable"
	case MalformedRequest:
		return "malformed-request"
	case Crash:
		return "crash"
	case Abort:
		return "abort"
	case KeyDoesNotExist:
		return "key-does-not-exist"
	case KeyAlreadyExists:
		return "key-already-exists"
	case PreconditionFailed:
		return "precondition-failed"
	case TxnConflict:
		return "txn-conflict"
	default:
		return fmt.Sprintf("error-%d", int(c))
	}
}

// RPCError is the "error" payload of the protocol. It doubles as a Go error so handlers can
// return it; the server replies with it when the failed request carried a msg_id.
type RPCError struct {
	Code ErrorCode `json:"code"`
	Text string    `json:"text,omitempty"`
}

// NewRPCError returns an RPCError with a formatted text.
func NewRPCError(code ErrorCode, format string, args ...any) RPCError {
	return RPCError{Code: code, Text: fmt.Sprintf(format, args...)}
}

func (RPCError) Type() string { return "error" }

func (e RPCError) Error() string {
	if e.Text == "" {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Text)
}

// ProtocolViolation reports an operation that the protocol does not allow, such as replying
// to an envelope without msg_id. It is returned as a value, never raised as a panic.
type ProtocolViolation struct {
	Op     string
	Reason string
}

func (e *ProtocolViolation) Error() string {
	return fmt.Sprintf("protocol violation in %s: %s", e.Op, e.Reason)
}
