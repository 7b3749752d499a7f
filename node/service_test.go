package node

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mini-maelstrom/message"
)

type counter struct {
	echoes []string
	reads  int
}

func (c *counter) OnEcho(env *message.Envelope, p Echo) error {
	c.echoes = append(c.echoes, p.Echo)
	return nil
}

func (c *counter) OnRead(env *message.Envelope, p Read) error {
	c.reads++
	return errors.New("read failed")
}

// Not a handler: wrong arity
func (c *counter) Reset() {}

// Not a handler: second argument is not a payload
func (c *counter) Other(env *message.Envelope, s string) error { return nil }

type twice struct{}

func (twice) A(env *message.Envelope, p Echo) error { return nil }
func (twice) B(env *message.Envelope, p Echo) error { return nil }

func TestNewService(t *testing.T) {
	c := &counter{}
	mux, err := NewService(c)
	require.NoError(t, err)
	assert.Equal(t, []string{"echo", "read"}, mux.Types())

	require.NoError(t, mux.HandleMessage(message.NewEnvelope("c1", "n1", message.NewBody(Echo{Echo: "a"}))))
	assert.EqualError(t, mux.HandleMessage(message.NewEnvelope("c1", "n1", message.NewBody(Read{}))), "read failed")
	assert.Equal(t, []string{"a"}, c.echoes)
	assert.Equal(t, 1, c.reads)
}

func TestNewServiceRejects(t *testing.T) {
	_, err := NewService(counter{})
	assert.Error(t, err, "non-pointer receiver")

	s := "x"
	_, err = NewService(&s)
	assert.Error(t, err, "pointer to non-struct")

	_, err = NewService(&twice{})
	assert.Error(t, err, "duplicate type")
}
