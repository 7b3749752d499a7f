// Package kv talks to the key/value services a Maelstrom cluster provides (seq-kv, lin-kv,
// lww-kv). Every operation is an RPC through the node's network; its continuation runs on
// the processing loop when the service answers.
//
//	c := kv.New(net, kv.SeqKV)
//	c.ReadInt("counter", func(v int, err error) error {
//		return c.CAS("counter", v, v+1, true, func(err error) error { ... })
//	})
package kv

import (
	"encoding/json"
	"errors"
	"fmt"

	"mini-maelstrom/message"
	"mini-maelstrom/network"
)

// Service node ids.
const (
	SeqKV = "seq-kv" // Sequentially consistent
	LinKV = "lin-kv" // Linearizable
	LWWKV = "lww-kv" // Last write wins
)

// Requests. They are only ever sent, so they need no registration.

type Read struct {
	Key any `json:"key"`
}

func (Read) Type() string { return "read" }

type Write struct {
	Key   any `json:"key"`
	Value any `json:"value"`
}

func (Write) Type() string { return "write" }

type Cas struct {
	Key               any  `json:"key"`
	From              any  `json:"from"`
	To                any  `json:"to"`
	CreateIfNotExists bool `json:"create_if_not_exists,omitempty"`
}

func (Cas) Type() string { return "cas" }

// Replies.

type ReadOk struct {
	Value json.RawMessage `json:"value"`
}

func (ReadOk) Type() string { return "read_ok" }

type WriteOk struct{}

func (WriteOk) Type() string { return "write_ok" }

type CasOk struct{}

func (CasOk) Type() string { return "cas_ok" }

// Register adds the reply payloads to reg. A node using this package must not declare its
// own read_ok, write_ok or cas_ok.
func Register(reg *message.Registry) error {
	for _, p := range []message.Payload{ReadOk{}, WriteOk{}, CasOk{}} {
		if err := reg.Register(p); err != nil {
			return err
		}
	}
	return nil
}

// Client issues requests to one service.
type Client struct {
	net     *network.Network
	service string
}

// New returns a client for service, e.g. SeqKV.
func New(net *network.Network, service string) *Client {
	return &Client{net: net, service: service}
}

// Service returns the node id requests are sent to.
func (c *Client) Service() string {
	return c.service
}

// Read fetches key. cb receives the raw JSON value, or the service's RPCError (for a
// missing key, code key-does-not-exist).
func (c *Client) Read(key any, cb func(value json.RawMessage, err error) error) error {
	_, err := c.net.RPC(c.service, Read{Key: key}, func(reply *message.Envelope) error {
		switch p := reply.Body.Payload.(type) {
		case ReadOk:
			return cb(p.Value, nil)
		case message.RPCError:
			return cb(nil, p)
		default:
			return cb(nil, unexpected("read", reply))
		}
	})
	return err
}

// ReadInt is Read for integer values.
func (c *Client) ReadInt(key any, cb func(value int, err error) error) error {
	return c.Read(key, func(raw json.RawMessage, err error) error {
		if err != nil {
			return cb(0, err)
		}
		var v int
		if err := json.Unmarshal(raw, &v); err != nil {
			return cb(0, fmt.Errorf("kv: value of %v is not an integer: %w", key, err))
		}
		return cb(v, nil)
	})
}

// Write stores value under key.
func (c *Client) Write(key, value any, cb func(err error) error) error {
	_, err := c.net.RPC(c.service, Write{Key: key, Value: value}, c.ack("write", cb))
	return err
}

// CAS replaces the value of key with to if it currently equals from. A mismatch fails with
// code precondition-failed. With create set, a missing key is created with to.
func (c *Client) CAS(key, from, to any, create bool, cb func(err error) error) error {
	req := Cas{Key: key, From: from, To: to, CreateIfNotExists: create}
	_, err := c.net.RPC(c.service, req, c.ack("cas", cb))
	return err
}

func (c *Client) ack(op string, cb func(err error) error) network.Callback {
	return func(reply *message.Envelope) error {
		switch p := reply.Body.Payload.(type) {
		case WriteOk, CasOk:
			return cb(nil)
		case message.RPCError:
			return cb(p)
		default:
			return cb(unexpected(op, reply))
		}
	}
}

func unexpected(op string, reply *message.Envelope) error {
	return fmt.Errorf("kv: unexpected %q reply to %s", reply.Type(), op)
}

// IsCode reports whether err is an RPCError with the given code.
func IsCode(err error, code message.ErrorCode) bool {
	var rpcErr message.RPCError
	return errors.As(err, &rpcErr) && rpcErr.Code == code
}
