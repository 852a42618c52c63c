package client

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/conclave-games/conclave-services/pkg/protocol"
)

type fakeConn struct {
	mu        sync.Mutex
	frames    [][]byte
	in        chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data, ok := <-c.in:
		if !ok {
			return 0, nil, errors.New("stream ended")
		}
		return websocket.TextMessage, data, nil
	case <-c.closed:
		return 0, nil, errors.New("use of closed connection")
	}
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	select {
	case <-c.closed:
		return errors.New("use of closed connection")
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) sent() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.frames))
	copy(out, c.frames)
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func staticCredentials(token string) CredentialProvider {
	return func(context.Context) (string, error) { return token, nil }
}

func newTestClient(t *testing.T, opts Options) *Client {
	t.Helper()
	if opts.URL == "" {
		opts.URL = "ws://sync.test/v1/ws"
	}
	if opts.GameID == uuid.Nil {
		opts.GameID = uuid.New()
	}
	if opts.Credentials == nil {
		opts.Credentials = staticCredentials("token-1")
	}
	if opts.BaseInterval == 0 {
		opts.BaseInterval = time.Millisecond
	}
	if opts.MaxInterval == 0 {
		opts.MaxInterval = 5 * time.Millisecond
	}
	c, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(c.Disconnect)
	return c
}

func TestReconnectDelayBounds(t *testing.T) {
	base := 100 * time.Millisecond
	max := 2 * time.Second

	for attempts := 0; attempts < 8; attempts++ {
		capped := base << uint(attempts)
		if capped > max {
			capped = max
		}
		lo := reconnectDelay(attempts, base, max, 0)
		hi := reconnectDelay(attempts, base, max, 0.999)
		if lo != capped {
			t.Errorf("attempts=%d jitter=0: delay = %s, want %s", attempts, lo, capped)
		}
		if hi < capped || hi > capped+capped/2 {
			t.Errorf("attempts=%d jitter=max: delay = %s, want within [%s, %s]", attempts, hi, capped, capped+capped/2)
		}
	}
}

func TestQueuedActionsFlushInOrder(t *testing.T) {
	conn := newFakeConn()
	c := newTestClient(t, Options{
		Dial: func(context.Context, string) (Conn, error) { return conn, nil },
	})

	// Everything sent while disconnected queues.
	for _, delta := range []int32{-1, -2, -3} {
		if err := c.Send(protocol.UpdateLifeAction{PlayerID: uuid.New(), ChangeAmount: delta}); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}

	var connected int32
	c.OnConnect(func() { atomic.AddInt32(&connected, 1) })
	c.Connect()

	waitFor(t, "backlog flush", func() bool { return len(conn.sent()) == 3 })
	for i, want := range []int32{-1, -2, -3} {
		action, err := protocol.DecodeAction(conn.sent()[i])
		if err != nil {
			t.Fatalf("DecodeAction frame %d: %v", i, err)
		}
		life, ok := action.(protocol.UpdateLifeAction)
		if !ok || life.ChangeAmount != want {
			t.Fatalf("frame %d = %#v, want changeAmount %d", i, action, want)
		}
	}
	if atomic.LoadInt32(&connected) != 1 {
		t.Fatalf("OnConnect fired %d times, want 1", connected)
	}

	// Once open, sends go straight to the transport.
	if err := c.Send(protocol.EndGameAction{}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	waitFor(t, "direct send", func() bool { return len(conn.sent()) == 4 })
}

func TestFreshCredentialPerAttempt(t *testing.T) {
	var creds, dials int32
	c := newTestClient(t, Options{
		Credentials: func(context.Context) (string, error) {
			atomic.AddInt32(&creds, 1)
			return "token", nil
		},
		Dial: func(context.Context, string) (Conn, error) {
			if atomic.AddInt32(&dials, 1) < 3 {
				return nil, errors.New("connection refused")
			}
			return newFakeConn(), nil
		},
	})

	c.Connect()
	waitFor(t, "third attempt to succeed", func() bool { return c.State() == StateOpen })

	if got := atomic.LoadInt32(&creds); got != 3 {
		t.Fatalf("credential provider invoked %d times, want once per attempt (3)", got)
	}
}

func TestDisconnectCancelsReconnect(t *testing.T) {
	var dials int32
	c := newTestClient(t, Options{
		Dial: func(context.Context, string) (Conn, error) {
			atomic.AddInt32(&dials, 1)
			return nil, errors.New("connection refused")
		},
	})

	c.Connect()
	waitFor(t, "a failed attempt", func() bool { return atomic.LoadInt32(&dials) >= 1 })

	c.Disconnect()
	if c.State() != StateDisconnected {
		t.Fatalf("state after Disconnect = %d, want StateDisconnected", c.State())
	}

	settled := atomic.LoadInt32(&dials)
	time.Sleep(30 * time.Millisecond) // well past MaxInterval
	if got := atomic.LoadInt32(&dials); got != settled {
		t.Fatalf("dials continued after Disconnect: %d -> %d", settled, got)
	}
}

func TestDuplicateDropReportsCoalesce(t *testing.T) {
	var dials int32
	c := newTestClient(t, Options{
		Dial: func(context.Context, string) (Conn, error) {
			atomic.AddInt32(&dials, 1)
			return newFakeConn(), nil
		},
	})

	c.Connect()
	waitFor(t, "open", func() bool { return c.State() == StateOpen })
	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()

	// A failing write and the read loop both report the same drop. Only the
	// first report may schedule a reconnect.
	c.transportClosed(gen)
	c.transportClosed(gen)

	waitFor(t, "reconnect", func() bool {
		return atomic.LoadInt32(&dials) == 2 && c.State() == StateOpen
	})

	// An orphaned second timer would fire within MaxInterval and dial a
	// third connection on top of the open one.
	time.Sleep(30 * time.Millisecond)
	if got := atomic.LoadInt32(&dials); got != 2 {
		t.Fatalf("dials after one drop = %d, want 2", got)
	}
	if c.State() != StateOpen {
		t.Fatalf("state = %d, want StateOpen", c.State())
	}
	c.mu.Lock()
	attempts := c.attempts
	c.mu.Unlock()
	if attempts != 0 {
		t.Fatalf("attempts after successful reconnect = %d, want 0", attempts)
	}
}

func TestReconnectAfterTransportDrop(t *testing.T) {
	var mu sync.Mutex
	conns := []*fakeConn{}
	c := newTestClient(t, Options{
		Dial: func(context.Context, string) (Conn, error) {
			conn := newFakeConn()
			mu.Lock()
			conns = append(conns, conn)
			mu.Unlock()
			return conn, nil
		},
	})

	c.Connect()
	waitFor(t, "first open", func() bool { return c.State() == StateOpen })

	mu.Lock()
	first := conns[0]
	mu.Unlock()
	first.Close()

	waitFor(t, "reconnect", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(conns) == 2 && c.State() == StateOpen
	})

	// The replacement transport carries subsequent sends.
	if err := c.Send(protocol.GetGameStateAction{}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	mu.Lock()
	second := conns[1]
	mu.Unlock()
	waitFor(t, "send on new transport", func() bool { return len(second.sent()) == 1 })
}

func TestDispatchTypedAndWildcard(t *testing.T) {
	conn := newFakeConn()
	c := newTestClient(t, Options{
		Dial: func(context.Context, string) (Conn, error) { return conn, nil },
	})

	var mu sync.Mutex
	var typed []protocol.ServerEvent
	var all []protocol.ServerEvent
	var errs []string
	c.On(protocol.EventLifeUpdate, func(e protocol.ServerEvent) {
		mu.Lock()
		typed = append(typed, e)
		mu.Unlock()
	})
	c.On("*", func(e protocol.ServerEvent) {
		mu.Lock()
		all = append(all, e)
		mu.Unlock()
	})
	c.On(protocol.EventError, func(e protocol.ServerEvent) {
		mu.Lock()
		errs = append(errs, e.(protocol.ErrorEvent).Message)
		mu.Unlock()
	})

	c.Connect()
	waitFor(t, "open", func() bool { return c.State() == StateOpen })

	frame, err := protocol.EncodeEvent(protocol.LifeUpdateEvent{GameID: uuid.New(), NewLife: 14, ChangeAmount: -6})
	if err != nil {
		t.Fatalf("EncodeEvent: %v", err)
	}
	conn.in <- frame

	waitFor(t, "typed dispatch", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(typed) == 1 && len(all) == 1
	})
	mu.Lock()
	if life, ok := typed[0].(protocol.LifeUpdateEvent); !ok || life.NewLife != 14 {
		t.Fatalf("typed handler got %#v", typed[0])
	}
	mu.Unlock()

	// A bad frame surfaces as a local error event and does not kill the
	// connection.
	conn.in <- []byte(`{"type":"lifeUpdate","newLife":"fourteen"}`)
	waitFor(t, "error dispatch", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(errs) == 1
	})

	conn.in <- frame
	waitFor(t, "dispatch after bad frame", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(typed) == 2
	})
	if c.State() != StateOpen {
		t.Fatalf("state = %d, want StateOpen after a bad frame", c.State())
	}
}

func TestNewValidatesOptions(t *testing.T) {
	if _, err := New(Options{Credentials: staticCredentials("t")}); err == nil {
		t.Fatal("New accepted empty URL")
	}
	if _, err := New(Options{URL: "ws://sync.test/v1/ws"}); err == nil {
		t.Fatal("New accepted missing credential provider")
	}
}
