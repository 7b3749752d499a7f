// Package server runs one node: it performs the init handshake, then pumps envelopes from
// the input to the node and from the node to the output until the input ends.
//
// Processing pipeline:
//
//	stdin → reader goroutine (decode) → inbound queue
//	  → processing loop: reply with pending callback? → callback
//	                     otherwise                    → Middleware Chain → node.HandleMessage
//	  → network.Send (encode) → outbound queue → writer goroutine → stdout
//
// The processing loop is the only goroutine that runs node code, so node state needs no
// locking.
package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/rcrowley/go-metrics"
	"github.com/sirupsen/logrus"

	"mini-maelstrom/codec"
	"mini-maelstrom/config"
	"mini-maelstrom/message"
	"mini-maelstrom/middleware"
	"mini-maelstrom/network"
	"mini-maelstrom/node"
	"mini-maelstrom/protocol"
	"mini-maelstrom/queue"
	"mini-maelstrom/registry"
)

// ErrNoInit is returned by Run when the input ends before the init message.
var ErrNoInit = errors.New("server: input ended before init")

// State is the lifecycle stage of a Server.
type State int32

const (
	Uninitialized State = iota
	Active
	Terminated
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "Uninitialized"
	case Active:
		return "Active"
	case Terminated:
		return "Terminated"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

var handshakePayloads = message.MustRegistry(message.Init{})

// Server hosts a single node.
type Server struct {
	conf        *config.Config
	payloads    *message.Registry
	factory     node.Factory
	logger      *logrus.Entry
	middlewares []middleware.Middleware
	registry    registry.Registry // nil if the node does not announce itself
	metrics     metrics.Registry

	state    atomic.Int32
	network  atomic.Pointer[network.Network]
	outbound *queue.Queue[[]byte] // Encoded lines for the writer, created at handshake

	fatalMu sync.Mutex
	fatal   error // First error that ends the run

	inbound      metrics.Counter
	handlerErrs  metrics.Counter
	decodeErrs   metrics.Counter
	callbacksRun metrics.Counter
}

// New returns a server that decodes the payload variants in payloads and builds its node
// with factory. Recover and Logging are always installed; RateLimit is added when
// conf.Rate is positive.
func New(conf *config.Config, payloads *message.Registry, factory node.Factory) *Server {
	reg := metrics.NewRegistry()
	s := &Server{
		conf:         conf,
		payloads:     payloads,
		factory:      factory,
		logger:       conf.Logger(),
		metrics:      reg,
		inbound:      metrics.GetOrRegisterCounter("inbound.messages", reg),
		handlerErrs:  metrics.GetOrRegisterCounter("handler.errors", reg),
		decodeErrs:   metrics.GetOrRegisterCounter("decode.errors", reg),
		callbacksRun: metrics.GetOrRegisterCounter("callbacks.invoked", reg),
	}
	s.Use(middleware.Recover(), middleware.Logging(s.logger.WithField("component", "handler")))
	if conf.Rate > 0 {
		burst := conf.Burst
		if burst < 1 {
			burst = 1
		}
		s.Use(middleware.RateLimit(conf.Rate, burst))
	}
	return s
}

// Use registers middlewares. They are applied in the order they are added, after the
// built-in ones, and must be added before Run.
func (s *Server) Use(mws ...middleware.Middleware) {
	s.middlewares = append(s.middlewares, mws...)
}

// SetRegistry makes the node announce itself in reg once initialized.
func (s *Server) SetRegistry(reg registry.Registry) {
	s.registry = reg
}

// Network returns the node's network, or nil before the handshake.
func (s *Server) Network() *network.Network {
	return s.network.Load()
}

// Metrics returns the registry holding the server and network counters.
func (s *Server) Metrics() metrics.Registry {
	return s.metrics
}

// State returns the current lifecycle stage.
func (s *Server) State() State {
	return State(s.state.Load())
}

// Run performs the handshake on in/out and serves the node until in is exhausted. It
// returns nil on a clean end of input, or the error that stopped the node.
func (s *Server) Run(in io.Reader, out io.Writer) error {
	defer s.state.Store(int32(Terminated))

	reader := protocol.NewReader(in)
	writer := protocol.NewWriter(out)

	n, hello, err := s.handshake(reader, writer)
	if err != nil {
		s.logger.WithError(err).Error("Handshake failed")
		return err
	}
	net := s.Network()
	s.state.Store(int32(Active))
	s.logger.WithFields(logrus.Fields{
		"node_id":  hello.NodeID,
		"node_ids": hello.NodeIDs,
	}).Info("Initialized")

	s.announce(hello)

	// Build the middleware chain once, not per message
	handler := middleware.Chain(s.middlewares...)(func(ctx context.Context, env *message.Envelope) error {
		return n.HandleMessage(env)
	})

	inbound := queue.New[*message.Envelope]()
	outbound := s.outbound

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.readLoop(reader, inbound)
	}()
	go func() {
		defer wg.Done()
		s.writeLoop(writer, outbound)
	}()

	ctx := context.Background()
	for {
		env, ok := inbound.Pop()
		if !ok {
			break
		}
		s.dispatch(ctx, net, handler, env)
	}

	// The reader has closed inbound, so it is done; let the writer drain
	outbound.Close()
	wg.Wait()

	s.withdraw(hello)
	s.logMetrics()

	if err := s.fatalError(); err != nil {
		s.logger.WithError(err).Error("Terminated")
		return err
	}
	s.logger.Info("Terminated")
	return nil
}

// handshake reads init, builds the node and writes init_ok straight to the output, before
// the writer goroutine exists, so nothing can precede it.
func (s *Server) handshake(reader *protocol.Reader, writer *protocol.Writer) (node.Node, message.Init, error) {
	line, err := reader.ReadLine()
	if err == io.EOF {
		return nil, message.Init{}, ErrNoInit
	}
	if err != nil {
		return nil, message.Init{}, fmt.Errorf("read init: %w", err)
	}

	initCodec := codec.NewJSONCodec(handshakePayloads)
	env, err := initCodec.Decode(line)
	if err != nil {
		s.decodeErrs.Inc(1)
		return nil, message.Init{}, err
	}
	hello, ok := env.Body.Payload.(message.Init)
	if !ok {
		return nil, message.Init{}, &message.ProtocolViolation{Op: "init", Reason: "first message is " + env.Type() + ", not init"}
	}

	reply, err := message.IntoReply(env, message.InitOk{})
	if err != nil {
		return nil, hello, &message.ProtocolViolation{Op: "init", Reason: "init carries no msg_id"}
	}
	reply.Src = hello.NodeID

	s.outbound = queue.New[[]byte]()
	net := network.New(hello.NodeID, codec.NewJSONCodec(s.payloads), s.outbound, s.logger, s.metrics)
	s.network.Store(net)

	n, err := s.build(net, hello)
	if err != nil {
		return nil, hello, err
	}

	ack, err := initCodec.Encode(reply)
	if err != nil {
		return nil, hello, err
	}
	if err := writer.WriteLine(ack); err != nil {
		return nil, hello, fmt.Errorf("write init_ok: %w", err)
	}
	if err := writer.Flush(); err != nil {
		return nil, hello, fmt.Errorf("write init_ok: %w", err)
	}
	return n, hello, nil
}

func (s *Server) build(net *network.Network, hello message.Init) (n node.Node, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("node factory: %w", middleware.PanicError(r))
		}
	}()
	n = s.factory(net, hello.NodeID, hello.NodeIDs)
	if n == nil {
		return nil, errors.New("node factory returned nil")
	}
	return n, nil
}

// readLoop decodes lines into inbound until the input ends or a line fails to decode.
// Either way it closes inbound, so envelopes read so far are still processed.
func (s *Server) readLoop(reader *protocol.Reader, inbound *queue.Queue[*message.Envelope]) {
	defer inbound.Close()
	c := codec.NewJSONCodec(s.payloads)
	for {
		line, err := reader.ReadLine()
		if err == io.EOF {
			return
		}
		if err != nil {
			s.setFatal(fmt.Errorf("read: %w", err))
			return
		}
		env, err := c.Decode(line)
		if err != nil {
			s.decodeErrs.Inc(1)
			s.setFatal(err)
			return
		}
		inbound.Push(env)
	}
}

// writeLoop writes encoded lines in queue order and flushes whenever it catches up. After
// a write error the remaining lines are dropped so senders never block.
func (s *Server) writeLoop(writer *protocol.Writer, outbound *queue.Queue[[]byte]) {
	var failed bool
	for {
		line, ok := outbound.Pop()
		if !ok {
			break
		}
		if failed {
			continue
		}
		err := writer.WriteLine(line)
		if err == nil && outbound.Len() == 0 {
			err = writer.Flush()
		}
		if err != nil {
			failed = true
			s.setFatal(fmt.Errorf("write: %w", err))
		}
	}
	if !failed {
		if err := writer.Flush(); err != nil {
			s.setFatal(fmt.Errorf("write: %w", err))
		}
	}
}

// dispatch routes one envelope: a reply with a pending callback goes to that callback,
// everything else to the handler chain.
func (s *Server) dispatch(ctx context.Context, net *network.Network, handler middleware.HandlerFunc, env *message.Envelope) {
	s.inbound.Inc(1)

	if env.Body.InReplyTo != nil {
		if cb, ok := net.Take(*env.Body.InReplyTo); ok {
			s.callbacksRun.Inc(1)
			if err := runCallback(cb, env); err != nil {
				s.handlerError(net, env, err)
			}
			return
		}
	}

	if err := handler(ctx, env); err != nil {
		s.handlerError(net, env, err)
	}
}

func runCallback(cb network.Callback, env *message.Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = middleware.PanicError(r)
		}
	}()
	return cb(env)
}

// handlerError logs a failed handler or callback. Node-level failures never stop the
// server; an RPCError is also returned to the requester when it expects a reply.
func (s *Server) handlerError(net *network.Network, env *message.Envelope, err error) {
	s.handlerErrs.Inc(1)
	entry := s.logger.WithFields(logrus.Fields{
		"src":  env.Src,
		"type": env.Type(),
	})
	if env.Body.MsgID != nil {
		entry = entry.WithField("msg_id", *env.Body.MsgID)
	}
	entry.WithError(err).Warn("Handler error")

	var rpcErr message.RPCError
	if !errors.As(err, &rpcErr) || env.Body.MsgID == nil {
		return
	}
	if err := net.Reply(env, rpcErr); err != nil {
		entry.WithError(err).Error("Failed to send error reply")
	}
}

func (s *Server) announce(hello message.Init) {
	if s.registry == nil {
		return
	}
	peers := make([]string, 0, len(hello.NodeIDs))
	for _, id := range hello.NodeIDs {
		if id != hello.NodeID {
			peers = append(peers, id)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), config.DefaultDialTimeout)
	defer cancel()
	instance := registry.NodeInstance{ID: hello.NodeID, Peers: peers}
	if err := s.registry.Register(ctx, instance, s.conf.RegistryTTL); err != nil {
		s.logger.WithError(err).Warn("Failed to register node")
	}
}

func (s *Server) withdraw(hello message.Init) {
	if s.registry == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), config.DefaultDialTimeout)
	defer cancel()
	if err := s.registry.Deregister(ctx, hello.NodeID); err != nil {
		s.logger.WithError(err).Warn("Failed to deregister node")
	}
}

func (s *Server) logMetrics() {
	var buf bytes.Buffer
	metrics.WriteJSONOnce(s.metrics, &buf)
	s.logger.WithField("metrics", string(bytes.TrimSpace(buf.Bytes()))).Debug("Metrics")
}

func (s *Server) setFatal(err error) {
	s.fatalMu.Lock()
	defer s.fatalMu.Unlock()
	if s.fatal == nil {
		s.fatal = err
		s.logger.WithError(err).Error("Fatal")
	}
}

func (s *Server) fatalError() error {
	s.fatalMu.Lock()
	defer s.fatalMu.Unlock()
	return s.fatal
}
