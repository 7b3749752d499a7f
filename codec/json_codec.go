package codec

import (
	"bytes"
	"encoding/json"
	"reflect"
	"strconv"

	"mini-maelstrom/message"
)

// JSONCodec uses encoding/json and a payload Registry to map the flattened wire body onto
// typed payloads.
type JSONCodec struct {
	payloads *message.Registry
}

// NewJSONCodec returns a codec that decodes the variants declared in payloads.
func NewJSONCodec(payloads *message.Registry) *JSONCodec {
	return &JSONCodec{payloads: payloads}
}

type wireEnvelope struct {
	Src  string          `json:"src"`
	Dest string          `json:"dest"`
	Body json.RawMessage `json:"body"`
}

type wireHeader struct {
	MsgID     *uint64 `json:"msg_id"`
	InReplyTo *uint64 `json:"in_reply_to"`
}

// Decode parses one line.
func (c *JSONCodec) Decode(line []byte) (*message.Envelope, error) {
	var wire wireEnvelope
	if err := json.Unmarshal(line, &wire); err != nil {
		return nil, &DecodeError{Line: string(line), Reason: "malformed envelope", Err: err}
	}

	body := bytes.TrimSpace(wire.Body)
	if len(body) == 0 || body[0] != '{' {
		return nil, &DecodeError{Line: string(line), Reason: "body is missing or not an object"}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, &DecodeError{Line: string(line), Reason: "malformed body", Err: err}
	}

	rawType, ok := fields[message.KeyType]
	if !ok {
		return nil, &DecodeError{Line: string(line), Reason: "body has no type"}
	}
	var typ string
	if err := json.Unmarshal(rawType, &typ); err != nil {
		return nil, &DecodeError{Line: string(line), Reason: "type is not a string", Err: err}
	}

	// msg_id and in_reply_to must be unsigned integers; null counts as absent
	var header wireHeader
	if err := json.Unmarshal(body, &header); err != nil {
		return nil, &DecodeError{Line: string(line), Reason: "msg_id/in_reply_to must be unsigned integers", Err: err}
	}

	shape, ok := c.payloads.Lookup(typ)
	if !ok {
		return nil, &DecodeError{Line: string(line), Reason: "unknown type " + strconv.Quote(typ)}
	}
	for _, name := range shape.Required {
		if _, ok := fields[name]; !ok {
			return nil, &DecodeError{Line: string(line), Reason: "missing field " + strconv.Quote(name)}
		}
	}
	for _, name := range shape.NonNull {
		if bytes.Equal(bytes.TrimSpace(fields[name]), []byte("null")) {
			return nil, &DecodeError{Line: string(line), Reason: "field " + strconv.Quote(name) + " is null"}
		}
	}

	ptr := shape.New()
	if err := json.Unmarshal(body, ptr); err != nil {
		return nil, &DecodeError{Line: string(line), Reason: "payload does not match " + strconv.Quote(typ), Err: err}
	}
	payload := reflect.ValueOf(ptr).Elem().Interface().(message.Payload)

	return &message.Envelope{
		Src:  wire.Src,
		Dest: wire.Dest,
		Body: message.Body{
			MsgID:     header.MsgID,
			InReplyTo: header.InReplyTo,
			Payload:   payload,
		},
	}, nil
}

// Encode renders env as a single line. The type key comes first, then msg_id and
// in_reply_to when present, then the payload fields in struct order.
func (c *JSONCodec) Encode(env *message.Envelope) ([]byte, error) {
	if env == nil {
		return nil, &EncodeError{Reason: "nil envelope"}
	}
	p := env.Body.Payload
	if p == nil {
		return nil, &EncodeError{Reason: "nil payload"}
	}
	if v := reflect.ValueOf(p); v.Kind() == reflect.Ptr && v.IsNil() {
		return nil, &EncodeError{Reason: "nil payload"}
	}
	typ := p.Type()
	if typ == "" {
		return nil, &EncodeError{Reason: "payload has an empty type"}
	}

	fields, err := json.Marshal(p)
	if err != nil {
		return nil, &EncodeError{Type: typ, Reason: "payload cannot be marshalled", Err: err}
	}
	if len(fields) < 2 || fields[0] != '{' {
		return nil, &EncodeError{Type: typ, Reason: "payload must encode to a JSON object"}
	}

	var buf bytes.Buffer
	buf.Grow(len(fields) + 64)
	buf.WriteString(`{"src":`)
	writeString(&buf, env.Src)
	buf.WriteString(`,"dest":`)
	writeString(&buf, env.Dest)
	buf.WriteString(`,"body":{"type":`)
	writeString(&buf, typ)
	if env.Body.MsgID != nil {
		buf.WriteString(`,"msg_id":`)
		buf.WriteString(strconv.FormatUint(*env.Body.MsgID, 10))
	}
	if env.Body.InReplyTo != nil {
		buf.WriteString(`,"in_reply_to":`)
		buf.WriteString(strconv.FormatUint(*env.Body.InReplyTo, 10))
	}
	if inner := fields[1 : len(fields)-1]; len(inner) > 0 {
		buf.WriteByte(',')
		buf.Write(inner)
	}
	buf.WriteString("}}")
	return buf.Bytes(), nil
}

func (c *JSONCodec) Name() string {
	return "json"
}

func writeString(buf *bytes.Buffer, s string) {
	// Marshalling a string cannot fail
	b, _ := json.Marshal(s)
	buf.Write(b)
}
