package sync

import (
	"context"
	"sync"
	"testing"
	"time"

	"ficsync/pkg/models"
	"ficsync/pkg/realtime"
)

type fakeTransport struct {
	ch   chan realtime.Event
	once sync.Once

	mu      sync.Mutex
	typings []bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{ch: make(chan realtime.Event, 32)}
}

func (f *fakeTransport) Events() <-chan realtime.Event { return f.ch }

func (f *fakeTransport) SendTyping(isTyping bool) {
	f.mu.Lock()
	f.typings = append(f.typings, isTyping)
	f.mu.Unlock()
}

func (f *fakeTransport) Close() {
	f.once.Do(func() { close(f.ch) })
}

func (f *fakeTransport) push(ev realtime.Event) { f.ch <- ev }

type createFunc func(ctx context.Context, conversationID, content, clientMessageID string) (models.Message, error)

func (f createFunc) CreateMessage(ctx context.Context, conversationID, content, clientMessageID string) (models.Message, error) {
	return f(ctx, conversationID, content, clientMessageID)
}

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []string
}

func (n *recordingNotifier) Notify(m string) {
	n.mu.Lock()
	n.msgs = append(n.msgs, m)
	n.mu.Unlock()
}

func (n *recordingNotifier) all() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.msgs))
	copy(out, n.msgs)
	return out
}

// openSession builds a session over fakes. The returned session is closed
// with the test.
func openSession(t *testing.T, create createFunc, initial ...models.Message) (*Session, *fakeTransport, *recordingNotifier) {
	t.Helper()
	tr := newFakeTransport()
	n := &recordingNotifier{}
	if create == nil {
		create = func(ctx context.Context, conv, content, clientID string) (models.Message, error) {
			return models.Message{ID: "m-" + clientID, ClientMessageID: clientID, Content: content, CreatedAt: time.Now().UTC()}, nil
		}
	}
	s, err := Open(Options{
		ConversationID: "conv-1",
		Rest:           create,
		Transport:      tr,
		Initial:        initial,
		Notifier:       n,
		FeedbackWindow: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	t.Cleanup(s.Close)
	return s, tr, n
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not reached in time")
}
