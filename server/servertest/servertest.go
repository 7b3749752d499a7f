// Package servertest drives a node through a complete server run from canned input lines.
package servertest

import (
	"bytes"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"mini-maelstrom/codec"
	"mini-maelstrom/config"
	"mini-maelstrom/message"
	"mini-maelstrom/node"
	"mini-maelstrom/server"
)

// Run feeds lines to a fresh server and returns the output lines (init_ok first) and the
// error Run returned.
func Run(t testing.TB, payloads *message.Registry, factory node.Factory, lines ...string) ([]string, error) {
	t.Helper()
	s := server.New(config.NewTestConfig(t, logrus.DebugLevel), payloads, factory)
	var out bytes.Buffer
	err := s.Run(strings.NewReader(strings.Join(lines, "\n")+"\n"), &out)

	trimmed := strings.TrimSuffix(out.String(), "\n")
	if trimmed == "" {
		return nil, err
	}
	return strings.Split(trimmed, "\n"), err
}

// Init returns the handshake line for nodeID in a cluster of nodeIDs.
func Init(nodeID string, nodeIDs ...string) string {
	env := message.NewEnvelope("c0", nodeID, message.NewBody(
		message.Init{NodeID: nodeID, NodeIDs: nodeIDs}, message.WithMsgID(1)))
	return encode(env)
}

// Request returns a line carrying p from src to dest under msg_id id.
func Request(src, dest string, id uint64, p message.Payload) string {
	return encode(message.NewEnvelope(src, dest, message.NewBody(p, message.WithMsgID(id))))
}

// Reply returns a line carrying p from src to dest in reply to id.
func Reply(src, dest string, inReplyTo uint64, p message.Payload) string {
	return encode(message.NewEnvelope(src, dest, message.NewBody(p, message.WithInReplyTo(inReplyTo))))
}

// Decode parses an output line, failing the test if it does not decode against payloads.
func Decode(t testing.TB, payloads *message.Registry, line string) *message.Envelope {
	t.Helper()
	env, err := codec.NewJSONCodec(payloads).Decode([]byte(line))
	if err != nil {
		t.Fatalf("output line %s does not decode: %v", line, err)
	}
	return env
}

// DecodeAll decodes every line after init_ok.
func DecodeAll(t testing.TB, payloads *message.Registry, lines []string) []*message.Envelope {
	t.Helper()
	if len(lines) == 0 {
		t.Fatal("no output, expected init_ok first")
	}
	envs := make([]*message.Envelope, 0, len(lines)-1)
	for _, line := range lines[1:] {
		envs = append(envs, Decode(t, payloads, line))
	}
	return envs
}

func encode(env *message.Envelope) string {
	line, err := codec.NewJSONCodec(nil).Encode(env)
	if err != nil {
		panic(err)
	}
	return string(line)
}
