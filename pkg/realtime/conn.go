package realtime

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"ficsync/pkg/logger"
	"ficsync/pkg/telemetry"
)

// TokenSource supplies the bearer token presented on dial.
type TokenSource interface {
	Token() (string, error)
}

// Options configures a conversation-scoped realtime connection.
type Options struct {
	// URL is the realtime base endpoint, e.g. wss://api.ficlance.com.
	URL            string
	ConversationID string
	Tokens         TokenSource
	// ReconnectAttempts bounds consecutive failed dials; once exhausted the
	// adapter stays disconnected until the owner reopens it.
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	// TypingRate/TypingBurst throttle outbound typing notifications.
	TypingRate  float64
	TypingBurst int
}

// joinAckGrace is how long we wait for the gateway's join acknowledgement
// before logging its absence. A missing ack is tolerated.
const joinAckGrace = 5 * time.Second

// Conn owns exactly one realtime connection scoped to one conversation.
// Events are delivered on the Events channel in arrival order; the channel
// is closed when the connection is torn down for good.
type Conn struct {
	opts   Options
	events chan Event
	done   chan struct{}
	once   sync.Once
	typing *rate.Limiter

	mu    sync.Mutex
	state State
	ws    *websocket.Conn

	// wmu serializes websocket writes (gorilla allows one writer).
	wmu sync.Mutex

	ackMu   sync.Mutex
	ackSeen bool
}

// Open starts the connection loop and returns immediately. The first
// EventState on Events reports the connecting transition.
func Open(opts Options) (*Conn, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("realtime url required")
	}
	if opts.ConversationID == "" {
		return nil, fmt.Errorf("conversation id required")
	}
	if opts.ReconnectAttempts <= 0 {
		opts.ReconnectAttempts = 5
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 2 * time.Second
	}
	if opts.TypingRate <= 0 {
		opts.TypingRate = 1
	}
	if opts.TypingBurst <= 0 {
		opts.TypingBurst = 2
	}
	c := &Conn{
		opts:   opts,
		events: make(chan Event, 16),
		done:   make(chan struct{}),
		typing: rate.NewLimiter(rate.Limit(opts.TypingRate), opts.TypingBurst),
		state:  Disconnected,
	}
	go c.run()
	return c, nil
}

// Events returns the adapter's event channel.
func (c *Conn) Events() <-chan Event { return c.events }

// State returns the current connection state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SendTyping emits an outbound typing notification. Calls are throttled and
// silently dropped while not connected; typing signals are best-effort.
func (c *Conn) SendTyping(isTyping bool) {
	c.mu.Lock()
	ws := c.ws
	st := c.state
	c.mu.Unlock()
	if st != Connected || ws == nil {
		return
	}
	if !c.typing.Allow() {
		return
	}
	if err := c.writeJSON(ws, envelope{Type: frameTyping, ConversationID: c.opts.ConversationID, Typing: isTyping}); err != nil {
		logger.Debug("typing_send_failed", "error", err)
	}
}

// Close sends the leave signal, closes the socket and stops the loop. It is
// safe to call more than once and must run unconditionally on teardown so
// no connection leaks across conversation switches.
func (c *Conn) Close() {
	c.once.Do(func() {
		close(c.done)
		c.mu.Lock()
		ws := c.ws
		c.mu.Unlock()
		if ws != nil {
			_ = c.writeJSON(ws, envelope{Type: frameLeave, ConversationID: c.opts.ConversationID})
			_ = ws.Close()
		}
	})
}

func (c *Conn) run() {
	defer close(c.events)
	attempts := 0
	for {
		select {
		case <-c.done:
			return
		default:
		}

		c.setState(Connecting)
		ws, err := c.dial()
		if err != nil {
			attempts++
			logger.Warn("realtime_connect_failed", "conversation", c.opts.ConversationID, "attempt", attempts, "error", err)
			if attempts >= c.opts.ReconnectAttempts {
				logger.Error("realtime_reconnect_exhausted", "conversation", c.opts.ConversationID, "attempts", attempts)
				c.setState(Disconnected)
				return
			}
			if !c.sleep(c.opts.ReconnectDelay) {
				return
			}
			continue
		}
		attempts = 0

		select {
		case <-c.done:
			_ = ws.Close()
			return
		default:
		}

		c.mu.Lock()
		c.ws = ws
		c.mu.Unlock()
		c.setState(Connected)
		telemetry.RecordConnect()

		c.join(ws)
		err = c.readLoop(ws)
		_ = ws.Close()
		c.mu.Lock()
		c.ws = nil
		c.mu.Unlock()

		select {
		case <-c.done:
			return
		default:
		}
		logger.Warn("realtime_connection_lost", "conversation", c.opts.ConversationID, "error", err)
		telemetry.RecordDisconnect()
		c.setState(Disconnected)
	}
}

func (c *Conn) dial() (*websocket.Conn, error) {
	url := strings.TrimSuffix(c.opts.URL, "/") + "/ws"
	hdr := make(map[string][]string)
	if c.opts.Tokens != nil {
		tok, err := c.opts.Tokens.Token()
		if err != nil {
			return nil, err
		}
		hdr["Authorization"] = []string{"Bearer " + tok}
	}
	d := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	ws, _, err := d.Dial(url, hdr)
	return ws, err
}

// join emits the conversation-scoped join signal and arms a timer that logs
// a missing join acknowledgement. The ack is informational only.
func (c *Conn) join(ws *websocket.Conn) {
	c.ackMu.Lock()
	c.ackSeen = false
	c.ackMu.Unlock()
	if err := c.writeJSON(ws, envelope{Type: frameJoin, ConversationID: c.opts.ConversationID}); err != nil {
		logger.Warn("join_send_failed", "conversation", c.opts.ConversationID, "error", err)
		return
	}
	time.AfterFunc(joinAckGrace, func() {
		c.ackMu.Lock()
		seen := c.ackSeen
		c.ackMu.Unlock()
		if !seen {
			logger.Warn("join_ack_missing", "conversation", c.opts.ConversationID)
		}
	})
}

func (c *Conn) readLoop(ws *websocket.Conn) error {
	for {
		var env envelope
		if err := ws.ReadJSON(&env); err != nil {
			return err
		}
		switch env.Type {
		case frameJoined:
			c.ackMu.Lock()
			c.ackSeen = true
			c.ackMu.Unlock()
			logger.Debug("join_acked", "conversation", c.opts.ConversationID)
		case frameMessage:
			if env.Message == nil {
				logger.Debug("message_frame_without_payload")
				continue
			}
			telemetry.RecordPushReceived()
			c.emit(Event{Type: EventMessage, Message: *env.Message})
		case frameTyping:
			c.emit(Event{Type: EventTyping, Typing: env.Typing})
		case frameAgentError:
			// an agent error always clears the typing indicator
			c.emit(Event{Type: EventTyping, Typing: false})
			c.emit(Event{Type: EventAgentError, Reason: env.Error})
		default:
			logger.Debug("realtime_frame_ignored", "type", env.Type)
		}
	}
}

func (c *Conn) writeJSON(ws *websocket.Conn, env envelope) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return ws.WriteJSON(env)
}

func (c *Conn) setState(s State) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	c.mu.Unlock()
	telemetry.SetConnectionState(s.String())
	c.emit(Event{Type: EventState, State: s})
}

func (c *Conn) emit(ev Event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *Conn) sleep(d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-c.done:
		return false
	}
}
