package client

import (
	"context"
	"errors"
	"math/rand"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/conclave-games/conclave-services/pkg/protocol"
)

// Connection states. Closing is reachable from any state through an
// explicit Disconnect.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateClosing
)

const (
	defaultBaseInterval = time.Second
	defaultMaxInterval  = 30 * time.Second
	defaultDialTimeout  = 10 * time.Second
)

// Conn is the minimal transport surface the client needs. A gorilla
// *websocket.Conn satisfies it; tests substitute fakes.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// DialFunc opens one transport attempt against a fully-formed URL.
type DialFunc func(ctx context.Context, rawURL string) (Conn, error)

// CredentialProvider supplies a fresh credential for one connection
// attempt. It is invoked once per attempt and never cached across attempts,
// so an expired token can be replaced transparently on the next retry.
type CredentialProvider func(ctx context.Context) (string, error)

// Handler receives dispatched server events.
type Handler func(event protocol.ServerEvent)

type Options struct {
	// URL of the sync endpoint, e.g. wss://host/v1/ws.
	URL    string
	GameID uuid.UUID

	Credentials CredentialProvider

	// Dial defaults to a gorilla websocket dialer.
	Dial        DialFunc
	DialTimeout time.Duration

	// Reconnect backoff. Delay for the n-th retry is
	// min(MaxInterval, BaseInterval*2^(n-1)) plus up to half of that again
	// as jitter. Retries are unbounded.
	BaseInterval time.Duration
	MaxInterval  time.Duration
}

// Client maintains one connection to a game's channel, reconnecting with
// exponential backoff and jitter on unplanned closes. Actions sent while
// disconnected are queued and flushed FIFO once the transport opens. All
// methods are safe for concurrent use with the transport callbacks.
type Client struct {
	opts Options

	mu    sync.Mutex
	state State
	conn  Conn
	// gen is the connection generation. It advances on every teardown,
	// planned or not, so a second report of the same drop and any callback
	// or timer from before the teardown are dropped as stale.
	gen        uint64
	attempts   int
	closing    bool
	queue      [][]byte
	retryTimer *time.Timer

	handlers   map[string][]Handler
	onConnect  []func()
	randFloat  func() float64
	writeMu    sync.Mutex
}

func New(opts Options) (*Client, error) {
	if opts.URL == "" {
		return nil, errors.New("client: URL is required")
	}
	if opts.Credentials == nil {
		return nil, errors.New("client: credential provider is required")
	}
	if opts.Dial == nil {
		opts.Dial = dialWebsocket
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = defaultDialTimeout
	}
	if opts.BaseInterval == 0 {
		opts.BaseInterval = defaultBaseInterval
	}
	if opts.MaxInterval == 0 {
		opts.MaxInterval = defaultMaxInterval
	}
	return &Client{
		opts:      opts,
		handlers:  make(map[string][]Handler),
		randFloat: rand.Float64,
	}, nil
}

func dialWebsocket(ctx context.Context, rawURL string) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, rawURL, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// On subscribes a handler to one event type, or to every event with "*".
func (c *Client) On(eventType string, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[eventType] = append(c.handlers[eventType], h)
}

// OnConnect subscribes to successful opens, including reconnects.
func (c *Client) OnConnect(f func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnect = append(c.onConnect, f)
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect starts the connection attempt. It is a no-op while already
// Connecting or Open, and it never blocks on the network.
func (c *Client) Connect() {
	c.mu.Lock()
	if c.state == StateConnecting || c.state == StateOpen {
		c.mu.Unlock()
		return
	}
	c.closing = false
	c.state = StateConnecting
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	gen := c.gen
	c.mu.Unlock()

	go c.dial(gen)
}

// dial performs one attempt: fresh credential, then transport open.
func (c *Client) dial(gen uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.DialTimeout)
	defer cancel()

	cred, err := c.opts.Credentials(ctx)
	if err != nil {
		log.Warnf("credential refresh failed: %v", err)
		c.connectionFailed(gen)
		return
	}

	target, err := c.buildURL(cred)
	if err != nil {
		log.Errorf("invalid sync endpoint url: %v", err)
		c.connectionFailed(gen)
		return
	}

	conn, err := c.opts.Dial(ctx, target)
	if err != nil {
		log.Warnf("connect attempt failed: %v", err)
		c.connectionFailed(gen)
		return
	}

	c.mu.Lock()
	if c.closing || gen != c.gen {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.state = StateOpen
	c.attempts = 0
	backlog := c.queue
	c.queue = nil
	connected := append([]func(){}, c.onConnect...)
	c.mu.Unlock()

	// Flush the outbound backlog in the order it was enqueued.
	for i, frame := range backlog {
		if err := c.write(conn, frame); err != nil {
			c.mu.Lock()
			c.queue = append(backlog[i:], c.queue...)
			c.mu.Unlock()
			c.transportClosed(gen)
			return
		}
	}

	for _, f := range connected {
		f()
	}

	go c.readLoop(conn, gen)
}

func (c *Client) buildURL(cred string) (string, error) {
	u, err := url.Parse(c.opts.URL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("gameId", c.opts.GameID.String())
	q.Set("token", cred)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) readLoop(conn Conn, gen uint64) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.transportClosed(gen)
			return
		}
		event, err := protocol.DecodeEvent(data)
		if err != nil {
			// A bad frame is surfaced locally, the transport stays open.
			c.dispatch(protocol.ErrorEvent{Message: err.Error()})
			continue
		}
		c.dispatch(event)
	}
}

func (c *Client) dispatch(event protocol.ServerEvent) {
	c.mu.Lock()
	hs := append([]Handler{}, c.handlers[event.EventType()]...)
	hs = append(hs, c.handlers["*"]...)
	c.mu.Unlock()
	for _, h := range hs {
		h(event)
	}
}

// Send transmits immediately when Open, otherwise appends to the unbounded
// FIFO outbound queue for flush on the next open.
func (c *Client) Send(action protocol.ClientAction) error {
	frame, err := protocol.EncodeAction(action)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.state != StateOpen || c.conn == nil {
		c.queue = append(c.queue, frame)
		c.mu.Unlock()
		return nil
	}
	conn := c.conn
	gen := c.gen
	c.mu.Unlock()

	if err := c.write(conn, frame); err != nil {
		c.mu.Lock()
		c.queue = append([][]byte{frame}, c.queue...)
		c.mu.Unlock()
		c.transportClosed(gen)
	}
	return nil
}

func (c *Client) write(conn Conn, frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, frame)
}

// connectionFailed handles a dial or credential failure as an unplanned
// close: back off and retry.
func (c *Client) connectionFailed(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closing || gen != c.gen {
		return
	}
	c.gen++
	c.state = StateDisconnected
	c.scheduleReconnectLocked()
}

// transportClosed handles an established connection dropping out from
// under us. One drop can be reported twice, by a failing write and by the
// read loop; advancing the generation here makes the loser a no-op, so
// exactly one reconnect is scheduled per drop.
func (c *Client) transportClosed(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closing || gen != c.gen {
		return
	}
	c.gen++
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.state = StateDisconnected
	c.scheduleReconnectLocked()
}

// scheduleReconnectLocked arms the retry timer. Caller holds c.mu.
func (c *Client) scheduleReconnectLocked() {
	delay := reconnectDelay(c.attempts, c.opts.BaseInterval, c.opts.MaxInterval, c.randFloat())
	c.attempts++
	gen := c.gen

	log.Infof("reconnecting in %s (attempt %d)", delay, c.attempts)
	c.retryTimer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		if c.closing || gen != c.gen {
			c.mu.Unlock()
			return
		}
		c.state = StateConnecting
		c.mu.Unlock()
		c.dial(gen)
	})
}

// reconnectDelay computes min(max, base*2^attempts) plus up to half of the
// capped value again as jitter, spreading out retry storms.
func reconnectDelay(attempts int, base, max time.Duration, jitter float64) time.Duration {
	capped := base
	for i := 0; i < attempts && capped < max; i++ {
		capped *= 2
	}
	if capped > max {
		capped = max
	}
	return capped + time.Duration(jitter*0.5*float64(capped))
}

// Disconnect closes intentionally: the pending retry timer is cancelled,
// the attempt counter reset, and no reconnection happens until Connect is
// called again. It is idempotent, and a timer that fires late can never
// resurrect the connection because the generation has moved on.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.closing = true
	c.state = StateClosing
	c.gen++
	c.attempts = 0
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}

	c.mu.Lock()
	c.state = StateDisconnected
	c.mu.Unlock()
}
