package codec

import "fmt"

// DecodeError reports an inbound line that cannot be turned into an envelope: malformed
// JSON, a missing or unknown type, or a missing or mistyped field.
type DecodeError struct {
	Line   string
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode %q: %s: %v", e.Line, e.Reason, e.Err)
	}
	return fmt.Sprintf("decode %q: %s", e.Line, e.Reason)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// EncodeError reports an outbound envelope that cannot be serialized. It is returned to
// the caller of Send; it never reaches the writer.
type EncodeError struct {
	Type   string
	Reason string
	Err    error
}

func (e *EncodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("encode %q: %s: %v", e.Type, e.Reason, e.Err)
	}
	return fmt.Sprintf("encode %q: %s", e.Type, e.Reason)
}

func (e *EncodeError) Unwrap() error {
	return e.Err
}
