package network

import (
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/rcrowley/go-metrics"
	"github.com/sirupsen/logrus"

	"mini-maelstrom/codec"
	"mini-maelstrom/config"
	"mini-maelstrom/message"
	"mini-maelstrom/queue"
)

type Ping struct {
	N int `json:"n"`
}

func (Ping) Type() string { return "ping" }

type Pong struct {
	N int `json:"n"`
}

func (Pong) Type() string { return "pong" }

type broken struct {
	Ch chan int `json:"ch"`
}

func (broken) Type() string { return "broken" }

var payloads = message.MustRegistry(Ping{}, Pong{})

func newTestNetwork(t *testing.T) (*Network, *queue.Queue[[]byte], metrics.Registry) {
	out := queue.New[[]byte]()
	reg := metrics.NewRegistry()
	logger := config.NewTestConfig(t, logrus.DebugLevel).Logger()
	return New("n1", codec.NewJSONCodec(payloads), out, logger, reg), out, reg
}

func popEnvelope(t *testing.T, out *queue.Queue[[]byte]) *message.Envelope {
	t.Helper()
	line, ok := out.TryPop()
	if !ok {
		t.Fatal("expect a queued line")
	}
	env, err := codec.NewJSONCodec(payloads).Decode(line)
	if err != nil {
		t.Fatalf("queued line does not decode: %v", err)
	}
	return env
}

func TestRPCRegistersBeforeSend(t *testing.T) {
	net, out, reg := newTestNetwork(t)

	called := 0
	id, err := net.RPC("n2", Ping{N: 1}, func(reply *message.Envelope) error {
		called++
		return nil
	})
	if err != nil {
		t.Fatalf("RPC failed: %v", err)
	}
	if id != 1 {
		t.Fatalf("first msg_id should be 1, got %d", id)
	}

	env := popEnvelope(t, out)
	if env.Src != "n1" || env.Dest != "n2" || *env.Body.MsgID != id {
		t.Fatalf("unexpected envelope %+v", env)
	}
	if net.Pending() != 1 {
		t.Fatalf("expect 1 pending, got %d", net.Pending())
	}

	cb, ok := net.Take(id)
	if !ok {
		t.Fatal("callback should be pending")
	}
	cb(nil)
	if _, ok := net.Take(id); ok {
		t.Fatal("a callback must be taken at most once")
	}
	if called != 1 || net.Pending() != 0 {
		t.Fatalf("called=%d pending=%d", called, net.Pending())
	}

	if c := metrics.GetOrRegisterCounter("rpc.completed", reg).Count(); c != 1 {
		t.Errorf("rpc.completed = %d", c)
	}
}

func TestRPCSendFailureRemovesPending(t *testing.T) {
	net, out, _ := newTestNetwork(t)
	out.Close()

	_, err := net.RPC("n2", Ping{N: 1}, func(*message.Envelope) error { return nil })
	if !errors.Is(err, queue.ErrClosed) {
		t.Fatalf("expect queue.ErrClosed, got %v", err)
	}
	if net.Pending() != 0 {
		t.Fatalf("failed RPC left %d pending entries", net.Pending())
	}
}

func TestSendEncodeErrorIsReturned(t *testing.T) {
	net, out, _ := newTestNetwork(t)

	err := net.SendTo("c1", broken{Ch: make(chan int)})
	var encodeErr *codec.EncodeError
	if !errors.As(err, &encodeErr) {
		t.Fatalf("expect *codec.EncodeError, got %v", err)
	}
	if out.Len() != 0 {
		t.Fatal("a failed encode must not reach the queue")
	}
}

func TestReply(t *testing.T) {
	net, out, _ := newTestNetwork(t)
	req := message.NewEnvelope("c1", "n1", message.NewBody(Ping{N: 3}, message.WithMsgID(9)))

	if err := net.Reply(req, Pong{N: 3}); err != nil {
		t.Fatalf("Reply failed: %v", err)
	}
	env := popEnvelope(t, out)
	if env.Dest != "c1" || *env.Body.InReplyTo != 9 || env.Body.MsgID != nil {
		t.Fatalf("unexpected reply %+v", env)
	}

	noID := message.NewEnvelope("c1", "n1", message.NewBody(Ping{N: 3}))
	var violation *message.ProtocolViolation
	if err := net.Reply(noID, Pong{}); !errors.As(err, &violation) {
		t.Fatalf("expect *message.ProtocolViolation, got %v", err)
	}
}

func TestForget(t *testing.T) {
	net, _, _ := newTestNetwork(t)

	id, _ := net.RPC("n2", Ping{}, func(*message.Envelope) error { return nil })
	if !net.Forget(id) {
		t.Fatal("Forget should report a pending entry")
	}
	if net.Forget(id) {
		t.Fatal("second Forget should report nothing")
	}
	if _, ok := net.Take(id); ok {
		t.Fatal("forgotten callback must not be taken")
	}
}

func TestRequestHasNoCallback(t *testing.T) {
	net, out, _ := newTestNetwork(t)

	id, err := net.Request("n2", Ping{N: 2})
	if err != nil {
		t.Fatal(err)
	}
	if net.Pending() != 0 {
		t.Fatal("Request should not register a callback")
	}
	if env := popEnvelope(t, out); *env.Body.MsgID != id {
		t.Fatalf("msg_id mismatch")
	}
}

func TestMsgIDsUniqueUnderConcurrency(t *testing.T) {
	net, _, _ := newTestNetwork(t)

	const workers, perWorker = 8, 200
	ids := make(chan uint64, workers*perWorker)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			var last uint64
			for i := 0; i < perWorker; i++ {
				var id uint64
				if i%2 == 0 {
					id, _ = net.RPC("n2", Ping{N: i}, func(*message.Envelope) error { return nil })
				} else {
					id = net.NextMsgID()
				}
				if id <= last {
					t.Errorf("worker %d: id %d not increasing after %d", w, id, last)
				}
				last = id
				ids <- id
			}
		}(w)
	}
	wg.Wait()
	close(ids)

	var all []uint64
	for id := range ids {
		all = append(all, id)
	}
	sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })
	for i, id := range all {
		if id != uint64(i+1) {
			t.Fatalf("ids are not exactly 1..%d: position %d holds %d", len(all), i, id)
		}
	}
	if net.Pending() != workers*perWorker/2 {
		t.Fatalf("expect %d pending, got %d", workers*perWorker/2, net.Pending())
	}
}
