package server

import (
	"encoding/json"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/ktauchathuranga/notebud-sub000/internal/metrics"
	"github.com/ktauchathuranga/notebud-sub000/internal/wire"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// Interval between server pings. Browsers answer pongs automatically,
	// so this doubles as a liveness probe for half-dead TCP sessions.
	pingPeriod = 54 * time.Second

	// Consecutive full-queue sends before a client is declared too slow
	// to keep and disconnected.
	maxSendStrikes = 3
)

// Conn is one client connection. The read loop owns the receive buffer
// and handshake state; the write pump owns the socket for writes. The
// identity fields are written by the dispatch worker (on auth) and read
// under the mutex everywhere else.
type Conn struct {
	id  uint64
	raw net.Conn
	log zerolog.Logger

	// Receive side, owned by the read loop.
	buf      []byte
	upgraded bool
	limiter  *rate.Limiter

	// Send side.
	send      chan []byte
	strikes   int32
	closeOnce sync.Once
	closed    chan struct{}

	mu       sync.RWMutex
	userID   string
	username string
}

func newConn(id uint64, raw net.Conn, readBufferSize, sendQueueSize, msgRate, msgBurst int, log zerolog.Logger) *Conn {
	return &Conn{
		id:      id,
		raw:     raw,
		log:     log.With().Uint64("conn_id", id).Logger(),
		buf:     make([]byte, 0, readBufferSize),
		limiter: rate.NewLimiter(rate.Limit(msgRate), msgBurst),
		send:    make(chan []byte, sendQueueSize),
		closed:  make(chan struct{}),
	}
}

func (c *Conn) ConnID() uint64 { return c.id }

// consume drops the first n parsed bytes, sliding the remainder to the
// front so the buffer never grows past what is actually pending.
func (c *Conn) consume(n int) {
	remaining := copy(c.buf, c.buf[n:])
	c.buf = c.buf[:remaining]
}

func (c *Conn) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

func (c *Conn) Username() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.username
}

func (c *Conn) Bind(userID, username string) {
	c.mu.Lock()
	c.userID = userID
	c.username = username
	c.mu.Unlock()
}

// Send encodes v as JSON, frames it, and queues it for the write pump.
// The queue never blocks the caller: a full queue counts a strike
// against the client, and three strikes in a row close the connection.
func (c *Conn) Send(v any) bool {
	payload, err := json.Marshal(v)
	if err != nil {
		c.log.Error().Err(err).Msg("marshal outbound message")
		return false
	}
	return c.enqueue(wire.EncodeText(payload))
}

func (c *Conn) enqueue(frame []byte) bool {
	select {
	case <-c.closed:
		return false
	default:
	}

	select {
	case c.send <- frame:
		atomic.StoreInt32(&c.strikes, 0)
		return true
	default:
		if atomic.AddInt32(&c.strikes, 1) >= maxSendStrikes {
			c.log.Warn().Msg("slow client, disconnecting")
			metrics.SlowClientsDisconnected.Inc()
			c.Close()
		}
		return false
	}
}

// Close shuts the socket down exactly once. Both pumps and the accept
// path may race to call it.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.raw.Close()
	})
}

// writePump drains the send queue onto the socket and pings idle peers.
// It exits when the queue source closes the connection or a write fails.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.closed:
			return

		case frame := <-c.send:
			c.raw.SetWriteDeadline(time.Now().Add(writeWait))
			if _, err := c.raw.Write(frame); err != nil {
				c.log.Debug().Err(err).Msg("write failed")
				return
			}
			metrics.MessagesSent.Inc()
			metrics.BytesSent.Add(float64(len(frame)))

		case <-ticker.C:
			c.raw.SetWriteDeadline(time.Now().Add(writeWait))
			if _, err := c.raw.Write(wire.EncodeControl(wire.OpPing, nil)); err != nil {
				c.log.Debug().Err(err).Msg("ping failed")
				return
			}
		}
	}
}
