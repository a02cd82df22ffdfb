package realtime

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"ficsync/pkg/models"
)

var upgrader = websocket.Upgrader{}

// startGateway runs a fake realtime gateway and hands each accepted socket
// to serve. It returns the ws:// base URL to dial.
func startGateway(t *testing.T, serve func(*websocket.Conn)) string {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer ws.Close()
		serve(ws)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func readFrame(t *testing.T, ws *websocket.Conn) envelope {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env envelope
	if err := ws.ReadJSON(&env); err != nil {
		t.Errorf("read frame: %v", err)
	}
	return env
}

func nextEvent(t *testing.T, c *Conn) Event {
	t.Helper()
	select {
	case ev, ok := <-c.Events():
		if !ok {
			t.Fatalf("event channel closed early")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("no event in time")
	}
	return Event{}
}

func TestConn_JoinThenFrames(t *testing.T) {
	joined := make(chan envelope, 1)
	url := startGateway(t, func(ws *websocket.Conn) {
		env := readFrame(t, ws)
		joined <- env
		ws.WriteJSON(envelope{Type: frameJoined, ConversationID: env.ConversationID})
		ws.WriteJSON(envelope{Type: frameMessage, Message: &models.Message{ID: "m1", Content: "hi", CreatedAt: time.Now().UTC()}})
		ws.WriteJSON(envelope{Type: frameTyping, Typing: true})
		ws.WriteJSON(envelope{Type: frameAgentError, Error: "model overloaded"})
		// hold the socket open until the client walks away
		ws.SetReadDeadline(time.Now().Add(5 * time.Second))
		ws.ReadJSON(&envelope{})
	})

	c, err := Open(Options{URL: url, ConversationID: "conv-1"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer c.Close()

	env := <-joined
	if env.Type != frameJoin || env.ConversationID != "conv-1" {
		t.Fatalf("expected join frame for conv-1, got %+v", env)
	}

	if ev := nextEvent(t, c); ev.Type != EventState || ev.State != Connecting {
		t.Fatalf("first event must be connecting, got %+v", ev)
	}
	if ev := nextEvent(t, c); ev.Type != EventState || ev.State != Connected {
		t.Fatalf("second event must be connected, got %+v", ev)
	}
	if ev := nextEvent(t, c); ev.Type != EventMessage || ev.Message.ID != "m1" {
		t.Fatalf("expected message event, got %+v", ev)
	}
	if ev := nextEvent(t, c); ev.Type != EventTyping || !ev.Typing {
		t.Fatalf("expected typing on, got %+v", ev)
	}
	// an agent error clears typing before the error itself is delivered
	if ev := nextEvent(t, c); ev.Type != EventTyping || ev.Typing {
		t.Fatalf("expected typing cleared, got %+v", ev)
	}
	if ev := nextEvent(t, c); ev.Type != EventAgentError || ev.Reason != "model overloaded" {
		t.Fatalf("expected agent error, got %+v", ev)
	}
}

func TestConn_CloseSendsLeave(t *testing.T) {
	frames := make(chan envelope, 4)
	url := startGateway(t, func(ws *websocket.Conn) {
		for {
			ws.SetReadDeadline(time.Now().Add(2 * time.Second))
			var env envelope
			if err := ws.ReadJSON(&env); err != nil {
				return
			}
			frames <- env
		}
	})

	c, err := Open(Options{URL: url, ConversationID: "conv-1"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if env := <-frames; env.Type != frameJoin {
		t.Fatalf("expected join first, got %+v", env)
	}
	// wait for the connected transition so close has a live socket
	for ev := range c.Events() {
		if ev.Type == EventState && ev.State == Connected {
			break
		}
	}
	c.Close()
	c.Close() // idempotent

	select {
	case env := <-frames:
		if env.Type != frameLeave || env.ConversationID != "conv-1" {
			t.Fatalf("expected leave frame, got %+v", env)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no leave frame after close")
	}
}

func TestConn_SendTypingWhileConnected(t *testing.T) {
	frames := make(chan envelope, 8)
	url := startGateway(t, func(ws *websocket.Conn) {
		for {
			ws.SetReadDeadline(time.Now().Add(3 * time.Second))
			var env envelope
			if err := ws.ReadJSON(&env); err != nil {
				return
			}
			frames <- env
		}
	})

	c, err := Open(Options{URL: url, ConversationID: "conv-1", TypingRate: 100, TypingBurst: 4})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer c.Close()

	<-frames // join
	for ev := range c.Events() {
		if ev.Type == EventState && ev.State == Connected {
			break
		}
	}

	c.SendTyping(true)
	select {
	case env := <-frames:
		if env.Type != frameTyping || !env.Typing {
			t.Fatalf("expected typing frame, got %+v", env)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("typing frame never arrived")
	}
}

func TestConn_TypingDroppedWhileDisconnected(t *testing.T) {
	c := &Conn{opts: Options{ConversationID: "conv-1"}, state: Disconnected}
	// must not panic or block without a socket
	c.SendTyping(true)
}

func TestConn_ReconnectExhaustion(t *testing.T) {
	// nothing listens on this address; every dial fails fast
	srv := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	c, err := Open(Options{URL: url, ConversationID: "conv-1", ReconnectAttempts: 2, ReconnectDelay: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer c.Close()

	var last State
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-c.Events():
			if !ok {
				if last != Disconnected {
					t.Fatalf("final state = %v, want disconnected", last)
				}
				return
			}
			if ev.Type == EventState {
				last = ev.State
			}
		case <-deadline:
			t.Fatalf("event channel never closed after exhausting reconnects")
		}
	}
}

func TestOpen_Validation(t *testing.T) {
	if _, err := Open(Options{ConversationID: "c"}); err == nil {
		t.Fatalf("missing url must fail")
	}
	if _, err := Open(Options{URL: "ws://example"}); err == nil {
		t.Fatalf("missing conversation id must fail")
	}
}
