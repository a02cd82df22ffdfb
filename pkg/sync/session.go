package sync

import (
	"fmt"
	"sync"
	"time"

	"ficsync/pkg/logger"
	"ficsync/pkg/models"
	"ficsync/pkg/realtime"
)

// Transport is the slice of the realtime adapter the session consumes.
// *realtime.Conn satisfies it; tests inject fakes.
type Transport interface {
	Events() <-chan realtime.Event
	SendTyping(isTyping bool)
	Close()
}

// Cache persists confirmed messages; optional.
type Cache interface {
	PutMessage(conversationID string, m models.Message) error
}

// Options configures a Session. ConversationID and Transport are required;
// everything else has a usable zero value.
type Options struct {
	ConversationID string
	Rest           MessageCreator
	Transport      Transport
	// Initial is the message batch from the history fetch. The session does
	// not fetch it itself; the caller owns that request.
	Initial  []models.Message
	Notifier Notifier
	Cache    Cache
	// FeedbackWindow is the dedup window for feedback-kind messages.
	// Configurable because the fixed heuristic is sensitive to clock skew.
	FeedbackWindow time.Duration
}

// Session owns the merged, ordered message list for one conversation. One
// session exists per joined conversation; the list is never shared across
// sessions.
type Session struct {
	conversationID string
	rest           MessageCreator
	transport      Transport
	notifier       Notifier
	cache          Cache
	window         time.Duration

	mu          sync.Mutex
	msgs        []models.Message
	inFlight    bool
	agentTyping bool
	connState   realtime.State

	updates chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
}

// Open seeds the session from the initial batch and starts consuming
// transport events. Transport-internal sentinel messages are filtered out
// before anything is exposed to callers.
func Open(opts Options) (*Session, error) {
	if opts.ConversationID == "" {
		return nil, fmt.Errorf("conversation id required")
	}
	if opts.Transport == nil {
		return nil, fmt.Errorf("transport required")
	}
	if opts.Rest == nil {
		return nil, fmt.Errorf("rest client required")
	}
	if opts.FeedbackWindow <= 0 {
		opts.FeedbackWindow = 5 * time.Second
	}
	s := &Session{
		conversationID: opts.ConversationID,
		rest:           opts.Rest,
		transport:      opts.Transport,
		notifier:       opts.Notifier,
		cache:          opts.Cache,
		window:         opts.FeedbackWindow,
		updates:        make(chan struct{}, 1),
	}

	s.mu.Lock()
	for _, m := range opts.Initial {
		if m.Kind == models.KindSentinel {
			continue
		}
		s.seedLocked(m)
	}
	s.mu.Unlock()

	s.wg.Add(1)
	go s.dispatch()
	return s, nil
}

// Messages returns a sorted snapshot of the merged list.
func (s *Session) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Message, len(s.msgs))
	copy(out, s.msgs)
	return out
}

// AgentTyping reports whether the agent-side typing indicator is on.
func (s *Session) AgentTyping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agentTyping
}

// ConnectionState returns the last observed transport state.
func (s *Session) ConnectionState() realtime.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connState
}

// Typing forwards a local typing notification to the channel.
func (s *Session) Typing(isTyping bool) {
	s.transport.SendTyping(isTyping)
}

// Updates signals (coalesced) whenever the visible state changed.
func (s *Session) Updates() <-chan struct{} { return s.updates }

// Close leaves the channel and stops the event loop. It runs
// unconditionally and is safe to call twice.
func (s *Session) Close() {
	s.once.Do(func() {
		s.transport.Close()
	})
	s.wg.Wait()
}

// dispatch consumes transport events strictly in delivery order; it is the
// only goroutine mutating state from the realtime side.
func (s *Session) dispatch() {
	defer s.wg.Done()
	for ev := range s.transport.Events() {
		switch ev.Type {
		case realtime.EventMessage:
			s.Merge(ev.Message)
		case realtime.EventTyping:
			s.setTyping(ev.Typing)
		case realtime.EventAgentError:
			s.setTyping(false)
			reason := ev.Reason
			if reason == "" {
				reason = "The agent ran into a problem. Please try again."
			}
			s.notify(reason)
		case realtime.EventState:
			s.mu.Lock()
			s.connState = ev.State
			s.mu.Unlock()
			logger.Debug("connection_state", "conversation", s.conversationID, "state", ev.State.String())
			s.signal()
		}
	}
}

func (s *Session) setTyping(v bool) {
	s.mu.Lock()
	changed := s.agentTyping != v
	s.agentTyping = v
	s.mu.Unlock()
	if changed {
		s.signal()
	}
}

func (s *Session) notify(msg string) {
	if s.notifier != nil {
		s.notifier.Notify(msg)
	}
}

func (s *Session) signal() {
	select {
	case s.updates <- struct{}{}:
	default:
	}
}

// persist writes a confirmed message through to the cache; placeholders are
// never cached.
func (s *Session) persist(m models.Message) {
	if s.cache == nil || !m.Confirmed() {
		return
	}
	if err := s.cache.PutMessage(s.conversationID, m); err != nil {
		logger.Warn("cache_put_failed", "conversation", s.conversationID, "id", m.ID, "error", err)
	}
}
