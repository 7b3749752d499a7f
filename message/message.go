// Package message defines the envelope exchanged between a node and the rest of the cluster.
//
// Every line on the wire is one Envelope. The body carries the routing metadata
// (type, msg_id, in_reply_to) and the application payload flattened into the same object:
//
//	{"src":"c1","dest":"n1","body":{"type":"echo","msg_id":2,"echo":"hi"}}
//	                                 └─ Body.Type()  └─ MsgID  └─ Payload fields
//
// The payload is one variant of a closed set declared by the application (see Registry).
package message

// Payload is one variant of the application's closed set of message kinds.
// Type returns the wire discriminator, e.g. "echo" or "echo_ok".
type Payload interface {
	Type() string
}

// Body is the interior of an envelope.
//
//   - On request: MsgID is set if the sender expects a reply.
//   - On reply:   InReplyTo equals the MsgID of the request it answers.
type Body struct {
	MsgID     *uint64 // Optional, present on requests that may be replied to
	InReplyTo *uint64 // Optional, present on replies
	Payload   Payload // Flattened next to type/msg_id/in_reply_to on the wire
}

// Type returns the discriminator of the body's payload, or "" without a payload.
func (b Body) Type() string {
	if b.Payload == nil {
		return ""
	}
	return b.Payload.Type()
}

// Envelope is one complete wire message. Envelopes are treated as immutable once built.
type Envelope struct {
	Src  string
	Dest string
	Body Body
}

// BodyOption customizes a Body built with NewBody.
type BodyOption func(*Body)

// WithMsgID marks the body as a request that may be replied to.
func WithMsgID(id uint64) BodyOption {
	return func(b *Body) {
		b.MsgID = &id
	}
}

// WithInReplyTo marks the body as a reply to the request with the given id.
func WithInReplyTo(id uint64) BodyOption {
	return func(b *Body) {
		b.InReplyTo = &id
	}
}

// NewBody builds a body around a payload.
func NewBody(payload Payload, opts ...BodyOption) Body {
	b := Body{Payload: payload}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

// NewEnvelope builds an envelope from src to dest.
func NewEnvelope(src, dest string, body Body) *Envelope {
	return &Envelope{Src: src, Dest: dest, Body: body}
}

// Type returns the discriminator of the envelope's payload.
func (e *Envelope) Type() string {
	return e.Body.Type()
}

// IsReply reports whether the envelope answers an earlier request.
func (e *Envelope) IsReply() bool {
	return e.Body.InReplyTo != nil
}

// IntoReply builds the reply to e: source and destination are swapped and in_reply_to
// points at e's msg_id. The reply itself carries no msg_id.
func IntoReply(e *Envelope, payload Payload) (*Envelope, error) {
	if e.Body.MsgID == nil {
		return nil, &ProtocolViolation{Op: "into_reply", Reason: "original envelope carries no msg_id"}
	}
	return &Envelope{
		Src:  e.Dest,
		Dest: e.Src,
		Body: NewBody(payload, WithInReplyTo(*e.Body.MsgID)),
	}, nil
}

// IntoReplyWithID is IntoReply for replies that are themselves repliable.
func IntoReplyWithID(e *Envelope, payload Payload, id uint64) (*Envelope, error) {
	reply, err := IntoReply(e, payload)
	if err != nil {
		return nil, err
	}
	reply.Body.MsgID = &id
	return reply, nil
}

// Init is the payload of the handshake message every node receives first.
type Init struct {
	NodeID  string   `json:"node_id"`
	NodeIDs []string `json:"node_ids"`
}

func (Init) Type() string { return "init" }

// InitOk acknowledges Init.
type InitOk struct{}

func (InitOk) Type() string { return "init_ok" }
