package middleware

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"

	"mini-maelstrom/config"
	"mini-maelstrom/message"
)

type Add struct {
	Delta int `json:"delta"`
}

func (Add) Type() string { return "add" }

func okHandler(ctx context.Context, env *message.Envelope) error {
	return nil
}

func failHandler(ctx context.Context, env *message.Envelope) error {
	return errors.New("handler failed")
}

func panicHandler(ctx context.Context, env *message.Envelope) error {
	panic("boom")
}

func request(id uint64) *message.Envelope {
	return message.NewEnvelope("c1", "n1", message.NewBody(Add{Delta: 1}, message.WithMsgID(id)))
}

func TestLogging(t *testing.T) {
	logger := config.NewTestConfig(t, logrus.DebugLevel).Logger()

	if err := Logging(logger)(okHandler)(context.Background(), request(1)); err != nil {
		t.Fatalf("expect no error, got %v", err)
	}
	if err := Logging(logger)(failHandler)(context.Background(), request(2)); err == nil {
		t.Fatal("Logging must pass the handler error through")
	}
}

func TestRecover(t *testing.T) {
	err := Recover()(panicHandler)(context.Background(), request(1))
	if err == nil {
		t.Fatal("expect error from recovered panic")
	}

	var rpcErr message.RPCError
	if !errors.As(err, &rpcErr) || rpcErr.Code != message.Crash {
		t.Fatalf("expect crash RPCError, got %v", err)
	}

	if err := Recover()(okHandler)(context.Background(), request(2)); err != nil {
		t.Fatalf("expect no error, got %v", err)
	}
}

func TestRateLimit(t *testing.T) {
	// rate=1 per second, burst=2: the first 2 pass, the 3rd is rejected
	handler := RateLimit(1, 2)(okHandler)

	for i := 0; i < 2; i++ {
		if err := handler(context.Background(), request(uint64(i))); err != nil {
			t.Fatalf("request %d should pass, got error: %v", i, err)
		}
	}

	err := handler(context.Background(), request(3))
	var rpcErr message.RPCError
	if !errors.As(err, &rpcErr) || rpcErr.Code != message.TemporarilyUnavailable {
		t.Fatalf("request 3 should be rate limited, got: %v", err)
	}

	reply := message.NewEnvelope("n2", "n1", message.NewBody(Add{}, message.WithInReplyTo(7)))
	if err := handler(context.Background(), reply); err != nil {
		t.Fatalf("replies are never limited, got: %v", err)
	}
}

func TestChain(t *testing.T) {
	var order []string
	trace := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, env *message.Envelope) error {
				order = append(order, name+".before")
				err := next(ctx, env)
				order = append(order, name+".after")
				return err
			}
		}
	}

	handler := Chain(trace("A"), trace("B"), Recover())(panicHandler)
	if err := handler(context.Background(), request(1)); err == nil {
		t.Fatal("expect recovered error")
	}

	want := []string{"A.before", "B.before", "B.after", "A.after"}
	if len(order) != len(want) {
		t.Fatalf("order mismatch: got %v", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order mismatch: got %v, want %v", order, want)
		}
	}
}

func TestPanicError(t *testing.T) {
	inner := errors.New("inner")
	if !errors.Is(PanicError(inner), inner) {
		t.Fatal("PanicError should wrap error values")
	}
	if PanicError("x").Error() != "panic: x" {
		t.Fatalf("unexpected message %q", PanicError("x").Error())
	}
}
