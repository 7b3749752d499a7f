package kv

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mini-maelstrom/codec"
	"mini-maelstrom/config"
	"mini-maelstrom/message"
	"mini-maelstrom/network"
	"mini-maelstrom/queue"
)

type harness struct {
	t   *testing.T
	net *network.Network
	out *queue.Queue[[]byte]
}

func newHarness(t *testing.T) *harness {
	reg := message.MustRegistry()
	require.NoError(t, Register(reg))
	out := queue.New[[]byte]()
	logger := config.NewTestConfig(t, logrus.DebugLevel).Logger()
	return &harness{t: t, net: network.New("n1", codec.NewJSONCodec(reg), out, logger, nil), out: out}
}

// sent returns the last request line and its msg_id.
func (h *harness) sent() (string, uint64) {
	line, ok := h.out.TryPop()
	require.True(h.t, ok, "expect a request")
	var wire struct {
		Body struct {
			MsgID uint64 `json:"msg_id"`
		} `json:"body"`
	}
	require.NoError(h.t, json.Unmarshal(line, &wire))
	return string(line), wire.Body.MsgID
}

// answer delivers payload as the reply to id, the way the processing loop would.
func (h *harness) answer(id uint64, payload message.Payload) error {
	cb, ok := h.net.Take(id)
	require.True(h.t, ok, "no callback pending for %d", id)
	return cb(message.NewEnvelope(SeqKV, "n1", message.NewBody(payload, message.WithInReplyTo(id))))
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	reg := message.MustRegistry(ReadOk{})
	assert.Error(t, Register(reg))
}

func TestReadInt(t *testing.T) {
	h := newHarness(t)
	c := New(h.net, SeqKV)
	assert.Equal(t, SeqKV, c.Service())

	var got int
	require.NoError(t, c.ReadInt("counter", func(v int, err error) error {
		require.NoError(t, err)
		got = v
		return nil
	}))

	line, id := h.sent()
	assert.Equal(t, `{"src":"n1","dest":"seq-kv","body":{"type":"read","msg_id":1,"key":"counter"}}`, line)

	require.NoError(t, h.answer(id, ReadOk{Value: json.RawMessage("17")}))
	assert.Equal(t, 17, got)
}

func TestReadMissingKey(t *testing.T) {
	h := newHarness(t)
	c := New(h.net, LinKV)

	var readErr error
	c.Read(3, func(v json.RawMessage, err error) error {
		readErr = err
		return nil
	})
	_, id := h.sent()
	h.answer(id, message.NewRPCError(message.KeyDoesNotExist, "not found"))

	assert.True(t, IsCode(readErr, message.KeyDoesNotExist))
	assert.False(t, IsCode(readErr, message.PreconditionFailed))
}

func TestReadIntNotAnInteger(t *testing.T) {
	h := newHarness(t)
	c := New(h.net, SeqKV)

	var readErr error
	c.ReadInt("k", func(v int, err error) error {
		readErr = err
		return nil
	})
	_, id := h.sent()
	h.answer(id, ReadOk{Value: json.RawMessage(`"x"`)})
	assert.Error(t, readErr)
}

func TestCAS(t *testing.T) {
	h := newHarness(t)
	c := New(h.net, SeqKV)

	results := []error{}
	record := func(err error) error {
		results = append(results, err)
		return err
	}

	require.NoError(t, c.CAS("k", 1, 2, true, record))
	line, id := h.sent()
	assert.Equal(t, `{"src":"n1","dest":"seq-kv","body":{"type":"cas","msg_id":1,"key":"k","from":1,"to":2,"create_if_not_exists":true}}`, line)
	assert.NoError(t, h.answer(id, CasOk{}))

	require.NoError(t, c.CAS("k", 1, 2, false, record))
	_, id = h.sent()
	err := h.answer(id, message.NewRPCError(message.PreconditionFailed, "expected 1, had 5"))
	assert.True(t, IsCode(err, message.PreconditionFailed), "callback error is returned")

	require.Len(t, results, 2)
	assert.NoError(t, results[0])
	assert.True(t, IsCode(results[1], message.PreconditionFailed))
}

func TestWrite(t *testing.T) {
	h := newHarness(t)
	c := New(h.net, LWWKV)

	var done bool
	require.NoError(t, c.Write("k", []int{1, 2}, func(err error) error {
		done = err == nil
		return nil
	}))
	line, id := h.sent()
	assert.Equal(t, `{"src":"n1","dest":"lww-kv","body":{"type":"write","msg_id":1,"key":"k","value":[1,2]}}`, line)
	require.NoError(t, h.answer(id, WriteOk{}))
	assert.True(t, done)
}

func TestUnexpectedReply(t *testing.T) {
	h := newHarness(t)
	c := New(h.net, SeqKV)

	var writeErr error
	c.Write("k", 1, func(err error) error {
		writeErr = err
		return nil
	})
	_, id := h.sent()
	h.answer(id, ReadOk{Value: json.RawMessage("1")})

	require.Error(t, writeErr)
	var rpcErr message.RPCError
	assert.False(t, errors.As(writeErr, &rpcErr))
}
