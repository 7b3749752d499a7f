// Package codec turns wire lines into envelopes and back.
//
// A line holds a single JSON object. The body's payload fields sit next to the
// routing keys instead of being nested, so decoding happens in two passes: the
// routing keys select a Shape from the payload Registry, then the whole body is
// unmarshalled into that shape.
package codec

import "mini-maelstrom/message"

// Codec encodes and decodes one envelope per line. Lines never include the trailing newline.
type Codec interface {
	Encode(env *message.Envelope) ([]byte, error)
	Decode(line []byte) (*message.Envelope, error)
	Name() string
}
