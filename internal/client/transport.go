package client

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tripwish/triproom/internal/types"
)

const (
	defaultMinBackoff = time.Second
	defaultMaxBackoff = 30 * time.Second
	dialTimeout       = 10 * time.Second
	sendTimeout       = 10 * time.Second
)

type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// StateListener observes connection-state transitions. No business data
// flows through it.
type StateListener func(ConnState)

// FrameHandler receives every decoded server frame.
type FrameHandler func(*types.ServerFrame)

// TransportClient owns the single websocket connection of a session and the
// reconnect policy. It carries the bearer credential at connect time and it
// does not remember subscriptions across a hard reconnect; that is the
// registry's job, hooked in via OnConnect.
type TransportClient struct {
	url        string
	credential string
	log        *log.Logger
	dialer     *websocket.Dialer

	minBackoff time.Duration
	maxBackoff time.Duration

	onFrame   FrameHandler
	onConnect func()

	mu        sync.Mutex
	conn      *websocket.Conn
	state     ConnState
	listeners []StateListener
	started   bool

	writeMu sync.Mutex

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

type TransportOption func(*TransportClient)

// WithBackoff overrides the reconnect delay bounds.
func WithBackoff(min, max time.Duration) TransportOption {
	return func(t *TransportClient) {
		t.minBackoff = min
		t.maxBackoff = max
	}
}

func NewTransportClient(url, credential string, logger *log.Logger, opts ...TransportOption) *TransportClient {
	t := &TransportClient{
		url:        url,
		credential: credential,
		log:        logger,
		dialer:     &websocket.Dialer{HandshakeTimeout: dialTimeout},
		minBackoff: defaultMinBackoff,
		maxBackoff: defaultMaxBackoff,
		state:      StateDisconnected,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// OnFrame registers the single consumer of inbound frames. Must be called
// before Connect.
func (t *TransportClient) OnFrame(h FrameHandler) {
	t.onFrame = h
}

// OnConnect registers a hook invoked after every successful (re)connect,
// before any frame is read. Must be called before Connect.
func (t *TransportClient) OnConnect(h func()) {
	t.onConnect = h
}

// OnState registers a connection-state listener.
func (t *TransportClient) OnState(l StateListener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, l)
}

// Connect starts the connection loop. Connecting without a credential is a
// hard precondition failure: anonymous connects fail silently downstream,
// so they are refused here.
func (t *TransportClient) Connect() error {
	if t.credential == "" {
		return &AuthError{Reason: "no credential available at connect time"}
	}

	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return nil
	}
	t.started = true
	t.mu.Unlock()

	go t.run()
	return nil
}

func (t *TransportClient) run() {
	defer close(t.done)

	backoff := t.minBackoff
	for {
		select {
		case <-t.stop:
			return
		default:
		}

		t.setState(StateConnecting)

		header := http.Header{}
		header.Set("Authorization", "Bearer "+t.credential)
		conn, resp, err := t.dialer.Dial(t.url, header)
		if err != nil {
			if resp != nil {
				resp.Body.Close()
			}
			t.log.Printf("dial %s: %v", t.url, err)
			t.setState(StateDisconnected)

			select {
			case <-t.stop:
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > t.maxBackoff {
				backoff = t.maxBackoff
			}
			continue
		}
		backoff = t.minBackoff

		t.mu.Lock()
		t.conn = conn
		t.mu.Unlock()
		t.setState(StateConnected)

		if t.onConnect != nil {
			t.onConnect()
		}

		t.readLoop(conn)

		t.mu.Lock()
		t.conn = nil
		t.mu.Unlock()
		conn.Close()
		t.setState(StateDisconnected)
	}
}

func (t *TransportClient) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-t.stop:
			default:
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway,
					websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
					t.log.Printf("ws read: %v", err)
				}
			}
			return
		}

		var frame types.ServerFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			t.log.Printf("error parsing server frame: %v", err)
			continue
		}

		if t.onFrame != nil {
			t.onFrame(&frame)
		}
	}
}

// Send publishes a body to a destination as a bare frame, without an id for
// response tracking. It fails fast with ErrNotConnected before the
// connection reaches the connected state; nothing is queued.
func (t *TransportClient) Send(destination string, body json.RawMessage) error {
	return t.SendFrame(&types.ClientFrame{
		Publish: &types.Publish{
			Destination: destination,
			Body:        body,
		},
	})
}

// SendFrame writes a raw client frame. Same connectivity contract as Send.
func (t *TransportClient) SendFrame(frame *types.ClientFrame) error {
	t.mu.Lock()
	conn := t.conn
	connected := t.state == StateConnected
	t.mu.Unlock()

	if !connected || conn == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(sendTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	return nil
}

// Connected reports whether the transport is currently in the connected
// state.
func (t *TransportClient) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == StateConnected
}

// State returns the current connection state.
func (t *TransportClient) State() ConnState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *TransportClient) setState(s ConnState) {
	t.mu.Lock()
	if t.state == s {
		t.mu.Unlock()
		return
	}
	t.state = s
	listeners := make([]StateListener, len(t.listeners))
	copy(listeners, t.listeners)
	t.mu.Unlock()

	for _, l := range listeners {
		l(s)
	}
}

// Close stops the connection loop and tears down the connection. It is safe
// to call multiple times.
func (t *TransportClient) Close() {
	t.stopOnce.Do(func() {
		close(t.stop)
		t.mu.Lock()
		conn := t.conn
		started := t.started
		t.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		if started {
			<-t.done
		}
	})
	t.setState(StateDisconnected)
}
