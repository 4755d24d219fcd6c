package push

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/lox/plantwatch/internal/metrics"
	"github.com/lox/plantwatch/internal/models"
)

// Transport opens connections to the push server.
type Transport interface {
	Dial(ctx context.Context) (Conn, error)
}

// Conn is one live push connection. Receive blocks until a message arrives
// or the connection is closed.
type Conn interface {
	Send(Message) error
	Receive() (Message, error)
	Close() error
}

type Handler func(Event)

// StateListener observes connection state changes. err is set when the
// change was caused by a failure.
type StateListener func(state models.ConnectionState, err error)

type Config struct {
	// Retries bounds the reconnection attempts after a failed dial.
	Retries int
	// Interval is the fixed delay between attempts.
	Interval time.Duration
}

const (
	DefaultRetries  = 5
	DefaultInterval = time.Second
)

// Channel owns a single push connection: its lifecycle, bounded
// reconnection, the subscription command and event dispatch.
type Channel struct {
	transport Transport
	cfg       Config

	mu        sync.Mutex
	state     models.ConnectionState
	conn      Conn
	handlers  map[EventKind]Handler
	listeners []StateListener
	parent    context.Context
	cancel    context.CancelFunc
	done      chan struct{}

	sendMu sync.Mutex
}

func NewChannel(transport Transport, cfg Config) *Channel {
	if cfg.Retries <= 0 {
		cfg.Retries = DefaultRetries
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	return &Channel{
		transport: transport,
		cfg:       cfg,
		handlers:  make(map[EventKind]Handler),
		parent:    context.Background(),
	}
}

// Start binds the channel to ctx and connects. Cancelling ctx disconnects.
func (c *Channel) Start(ctx context.Context) models.ConnectionState {
	c.mu.Lock()
	c.parent = ctx
	c.mu.Unlock()
	return c.Connect()
}

// Stop disconnects and waits for the connection goroutine to exit.
func (c *Channel) Stop() {
	c.Disconnect()
}

// Connect starts connecting unless already connecting or connected, and
// returns the resulting state.
func (c *Channel) Connect() models.ConnectionState {
	c.mu.Lock()
	if c.state != models.Disconnected || c.done != nil {
		state := c.state
		c.mu.Unlock()
		return state
	}
	ctx, cancel := context.WithCancel(c.parent)
	c.cancel = cancel
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	c.setState(models.Connecting, nil)
	go c.run(ctx, done)
	return models.Connecting
}

// Disconnect closes the connection and stops reconnecting.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	if cancel == nil {
		c.mu.Unlock()
		return
	}
	cancel()
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	<-done

	c.mu.Lock()
	c.cancel = nil
	c.done = nil
	c.conn = nil
	c.mu.Unlock()
	c.setState(models.Disconnected, nil)
}

func (c *Channel) State() models.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// On registers the handler for an event kind, replacing any earlier one.
func (c *Channel) On(kind EventKind, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h == nil {
		delete(c.handlers, kind)
		return
	}
	c.handlers[kind] = h
}

func (c *Channel) OnStateChange(l StateListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

// Subscribe asks the server for events about plantID. It is a no-op that
// returns false unless the channel is connected; the intent is not queued.
func (c *Channel) Subscribe(plantID int) bool {
	c.mu.Lock()
	conn, state := c.conn, c.state
	c.mu.Unlock()

	if state != models.Connected || conn == nil {
		return false
	}
	c.sendMu.Lock()
	err := conn.Send(subscribeMessage(plantID))
	c.sendMu.Unlock()
	if err != nil {
		log.Printf("push: subscribe plant %d: %v", plantID, err)
		return false
	}
	return true
}

func (c *Channel) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		conn, err := c.dial(ctx)
		if ctx.Err() != nil {
			if conn != nil {
				conn.Close()
			}
			return
		}
		if err != nil {
			log.Printf("push: giving up after %d retries: %v", c.cfg.Retries, err)
			c.mu.Lock()
			if c.cancel != nil {
				c.cancel()
			}
			c.cancel = nil
			c.done = nil
			c.mu.Unlock()
			c.setState(models.Disconnected, err)
			return
		}

		c.mu.Lock()
		if ctx.Err() != nil {
			c.mu.Unlock()
			conn.Close()
			return
		}
		c.conn = conn
		c.mu.Unlock()
		c.setState(models.Connected, nil)

		stop := context.AfterFunc(ctx, func() { conn.Close() })
		err = c.receive(conn)
		stop()
		conn.Close()
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		if ctx.Err() != nil {
			c.setState(models.Disconnected, nil)
			return
		}
		log.Printf("push: connection lost: %v", err)
		c.setState(models.Disconnected, err)
		c.setState(models.Connecting, nil)
	}
}

func (c *Channel) dial(ctx context.Context) (Conn, error) {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.cfg.Interval), uint64(c.cfg.Retries)),
		ctx,
	)
	attempt := 0
	return backoff.RetryWithData(func() (Conn, error) {
		if attempt > 0 {
			metrics.PushReconnectsTotal.Inc()
			c.setState(models.Connecting, nil)
		}
		attempt++
		conn, err := c.transport.Dial(ctx)
		if err != nil {
			if ctx.Err() == nil {
				c.setState(models.Disconnected, err)
			}
			return nil, err
		}
		return conn, nil
	}, policy)
}

var errServerDisconnect = errors.New("server closed the session")

func (c *Channel) receive(conn Conn) error {
	for {
		msg, err := conn.Receive()
		if err != nil {
			return err
		}
		if msg.Event == signalDisconnect {
			return errServerDisconnect
		}
		kind := EventKind(msg.Event)
		if !kind.Known() {
			metrics.PushEventsTotal.WithLabelValues("unknown", "ignored").Inc()
			continue
		}
		ev, err := decodeEvent(msg, time.Now())
		if err != nil {
			log.Printf("push: %v", err)
			metrics.PushEventsTotal.WithLabelValues(string(kind), "invalid").Inc()
			continue
		}

		c.mu.Lock()
		h := c.handlers[kind]
		c.mu.Unlock()
		if h == nil {
			metrics.PushEventsTotal.WithLabelValues(string(kind), "unhandled").Inc()
			continue
		}
		h(ev)
	}
}

func (c *Channel) setState(state models.ConnectionState, err error) {
	c.mu.Lock()
	changed := c.state != state
	c.state = state
	listeners := make([]StateListener, len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.Unlock()

	metrics.PushConnectionState.Set(float64(state))
	if !changed && err == nil {
		return
	}
	for _, l := range listeners {
		l(state, err)
	}
}
