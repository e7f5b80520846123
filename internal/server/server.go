// Package server accepts TCP connections, runs the WebSocket handshake
// and framing by hand, and feeds decoded protocol messages to the chat
// dispatcher through a strictly ordered queue.
package server

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/ktauchathuranga/notebud-sub000/internal/auth"
	"github.com/ktauchathuranga/notebud-sub000/internal/chat"
	"github.com/ktauchathuranga/notebud-sub000/internal/config"
	"github.com/ktauchathuranga/notebud-sub000/internal/metrics"
	"github.com/ktauchathuranga/notebud-sub000/internal/store"
	"github.com/ktauchathuranga/notebud-sub000/internal/wire"
)

// maxRequestHead caps how many bytes a client may send before completing
// the upgrade handshake.
const maxRequestHead = 8 << 10

// dispatchQueueDepth bounds in-flight protocol messages across all
// connections. Past this, read loops block and TCP backpressure does
// the rest.
const dispatchQueueDepth = 1024

type Server struct {
	cfg      *config.Config
	log      zerolog.Logger
	registry *Registry
	dispatch *chat.Dispatcher
	queue    *DispatchQueue

	ln     net.Listener
	ready  chan struct{}
	nextID atomic.Uint64
	wg     sync.WaitGroup
}

func New(cfg *config.Config, st store.Store, verifier auth.Verifier, log zerolog.Logger) *Server {
	registry := NewRegistry()
	return &Server{
		cfg:      cfg,
		log:      log.With().Str("component", "server").Logger(),
		registry: registry,
		dispatch: chat.NewDispatcher(st, verifier, registry, cfg.HistoryLimit, log),
		queue:    NewDispatchQueue(dispatchQueueDepth),
		ready:    make(chan struct{}),
	}
}

// Ready is closed once the listener is bound.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Addr returns the bound listen address, valid after Run has started
// accepting. Tests use it with WS_ADDR=":0".
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// Connections and UsersOnline feed the health endpoint.
func (s *Server) Connections() int { return s.registry.Len() }
func (s *Server) UsersOnline() int { return s.registry.BoundUsers() }

// Run serves until ctx is cancelled, then closes the listener, tells
// clients to go away, and waits up to ShutdownGrace for the pumps and
// the dispatch queue to wind down.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.ln = ln
	close(s.ready)

	queueCtx, stopQueue := context.WithCancel(context.Background())
	s.queue.Start(queueCtx)

	acceptDone := make(chan struct{})
	go func() {
		defer close(acceptDone)
		s.acceptLoop(ctx)
	}()

	s.log.Info().Str("addr", ln.Addr().String()).Int("max_connections", s.cfg.MaxConnections).Msg("listening")

	<-ctx.Done()
	ln.Close()
	<-acceptDone

	for _, c := range s.registry.Snapshot() {
		c.raw.SetWriteDeadline(time.Now().Add(time.Second))
		c.raw.Write(wire.EncodeControl(wire.OpClose, nil))
		c.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.cfg.ShutdownGrace):
		s.log.Warn().Msg("shutdown grace elapsed with connections still draining")
	}

	stopQueue()
	s.queue.Stop()
	s.log.Info().Msg("server stopped")
	return nil
}

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		raw, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warn().Err(err).Msg("accept failed")
			continue
		}

		if s.registry.Len() >= s.cfg.MaxConnections {
			metrics.ConnectionsRejected.Inc()
			raw.Close()
			continue
		}

		metrics.ConnectionsTotal.Inc()
		c := newConn(s.nextID.Add(1), raw,
			s.cfg.ReadBufferSize, s.cfg.SendQueueSize, s.cfg.MsgRate, s.cfg.MsgBurst, s.log)
		s.registry.Add(c)

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, c)
		}()
	}
}

func (s *Server) handleConn(ctx context.Context, c *Conn) {
	defer s.teardown(c)

	tmp := make([]byte, s.cfg.ReadBufferSize)
	for {
		n, err := c.raw.Read(tmp)
		if n > 0 {
			metrics.BytesReceived.Add(float64(n))
			c.buf = append(c.buf, tmp[:n]...)
			if !s.drainBuffer(ctx, c) {
				return
			}
		}
		if err != nil {
			if err != io.EOF && !errors.Is(err, net.ErrClosed) {
				c.log.Debug().Err(err).Msg("read failed")
			}
			return
		}
	}
}

// drainBuffer consumes everything parseable from c.buf. It reports
// false when the connection must be dropped.
func (s *Server) drainBuffer(ctx context.Context, c *Conn) bool {
	if !c.upgraded {
		up, n, err := wire.ParseUpgrade(c.buf)
		if errors.Is(err, wire.ErrIncomplete) {
			if len(c.buf) > maxRequestHead {
				metrics.HandshakeFailures.Inc()
				return false
			}
			return true
		}
		if err != nil {
			metrics.HandshakeFailures.Inc()
			c.log.Debug().Err(err).Msg("handshake rejected")
			c.raw.SetWriteDeadline(time.Now().Add(writeWait))
			c.raw.Write(wire.BadRequest("Invalid WebSocket request"))
			return false
		}

		c.raw.SetWriteDeadline(time.Now().Add(writeWait))
		if _, err := c.raw.Write(wire.SwitchingProtocols(up.Key)); err != nil {
			c.log.Debug().Err(err).Msg("handshake response failed")
			return false
		}
		c.consume(n)
		c.upgraded = true
		go c.writePump()
		c.log.Debug().Str("request", up.RequestLine).Msg("upgraded")
	}

	for {
		f, n, err := wire.Decode(c.buf)
		if errors.Is(err, wire.ErrIncomplete) {
			return true
		}
		if err != nil {
			metrics.MalformedFrames.Inc()
			c.log.Warn().Err(err).Msg("dropping connection")
			return false
		}
		c.consume(n)

		if !s.handleFrame(ctx, c, f) {
			return false
		}
	}
}

func (s *Server) handleFrame(ctx context.Context, c *Conn, f wire.Frame) bool {
	switch f.Opcode {
	case wire.OpText:
		if !f.Fin {
			// Fragmented messages are not part of this protocol.
			metrics.MalformedFrames.Inc()
			return false
		}
		if !c.limiter.Allow() {
			metrics.RateLimitedMessages.Inc()
			c.Send(chat.Error("Rate limit exceeded"))
			return true
		}
		metrics.MessagesReceived.Inc()

		env, err := chat.Decode(f.Payload)
		if err != nil {
			c.log.Debug().Err(err).Msg("undecodable message")
			return true
		}
		s.queue.Submit(func() {
			s.dispatch.Dispatch(ctx, c, env)
		})
		return true

	case wire.OpPing:
		c.enqueue(wire.EncodeControl(wire.OpPong, f.Payload))
		return true

	case wire.OpClose:
		c.raw.SetWriteDeadline(time.Now().Add(writeWait))
		c.raw.Write(wire.EncodeControl(wire.OpClose, nil))
		return false

	default:
		// Pong, binary and continuation frames carry nothing we use.
		return true
	}
}

func (s *Server) teardown(c *Conn) {
	c.Close()
	s.registry.Remove(c)
	// Cleanup runs with a fresh context so a cancelled run context
	// cannot block the final presence write.
	s.queue.Submit(func() {
		s.dispatch.Disconnected(context.Background(), c)
	})
}
