package sync

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"ficsync/pkg/logger"
	"ficsync/pkg/models"
	"ficsync/pkg/rest"
	"ficsync/pkg/telemetry"
)

// MessageCreator is the slice of the REST client the send pipeline uses.
type MessageCreator interface {
	CreateMessage(ctx context.Context, conversationID, content, clientMessageID string) (models.Message, error)
}

// SendOutcome enumerates the pipeline's terminal branches so callers and
// tests see them as values rather than exception paths.
type SendOutcome int

const (
	// SendNoop: empty input or another send in flight (single-flight).
	SendNoop SendOutcome = iota
	// SendConfirmed: the write succeeded and the placeholder was resolved.
	SendConfirmed
	// SendDuplicate: server reported the idempotency key as already
	// processed; the optimistic entry stands.
	SendDuplicate
	// SendRejected: policy rejection; placeholder removed, reason surfaced.
	SendRejected
	// SendFailed: transient failure; placeholder removed, generic notice.
	SendFailed
)

const genericSendFailure = "Message failed to send. Please try again."

// Send runs the optimistic send pipeline for rawText. It blocks until the
// write settles; callers wanting fire-and-forget run it on a goroutine and
// watch Updates. At most one send is in flight per session; a second call
// is a silent no-op while the first is pending.
func (s *Session) Send(ctx context.Context, rawText string) SendOutcome {
	text := strings.TrimSpace(rawText)
	if text == "" {
		return SendNoop
	}

	clientID := uuid.NewString()
	placeholder := models.Message{
		ID:              models.TempIDPrefix + uuid.NewString(),
		ClientMessageID: clientID,
		Conversation:    s.conversationID,
		Content:         text,
		Sender:          models.Sender{Type: models.SenderUser},
		Kind:            models.KindChat,
		CreatedAt:       time.Now().UTC(),
		Status:          models.StatusSending,
	}

	s.mu.Lock()
	if s.inFlight {
		s.mu.Unlock()
		return SendNoop
	}
	s.inFlight = true
	s.msgs = append(s.msgs, placeholder)
	models.SortMessages(s.msgs)
	s.mu.Unlock()
	s.signal()
	telemetry.RecordSend()

	// the in-flight flag clears on every path, including panics below
	defer func() {
		s.mu.Lock()
		s.inFlight = false
		s.mu.Unlock()
	}()

	confirmed, err := s.rest.CreateMessage(ctx, s.conversationID, text, clientID)
	var forbidden *rest.ForbiddenError
	switch {
	case err == nil:
		s.confirm(clientID, confirmed)
		return SendConfirmed
	case errors.Is(err, rest.ErrDuplicate):
		// soft success: the server confirms prior receipt, leave the
		// optimistic entry standing
		logger.Info("send_duplicate", "conversation", s.conversationID, "client_id", clientID)
		return SendDuplicate
	case errors.As(err, &forbidden):
		s.removePlaceholder(clientID)
		s.notify(forbidden.Error())
		telemetry.RecordSendFailure("forbidden")
		logger.Warn("send_rejected", "conversation", s.conversationID, "reason", forbidden.Error())
		return SendRejected
	default:
		s.removePlaceholder(clientID)
		s.notify(genericSendFailure)
		telemetry.RecordSendFailure("transient")
		logger.Warn("send_failed", "conversation", s.conversationID, "error", err)
		return SendFailed
	}
}

// confirm resolves the optimistic entry for clientID to the authoritative
// payload. The entry may already have been replaced by a push arrival;
// either order converges to one confirmed message.
func (s *Session) confirm(clientID string, confirmed models.Message) {
	if confirmed.ClientMessageID == "" {
		confirmed.ClientMessageID = clientID
	}
	confirmed.Status = models.StatusSent
	if confirmed.Kind == "" {
		confirmed.Kind = models.KindChat
	}

	s.mu.Lock()
	// drop the optimistic entry and any push copy carrying the authoritative
	// id (a push without a clientMessageId appends rather than replacing the
	// placeholder), then insert the confirmed payload exactly once
	kept := s.msgs[:0]
	for _, m := range s.msgs {
		if m.ClientMessageID == clientID || m.ID == confirmed.ID {
			continue
		}
		kept = append(kept, m)
	}
	s.msgs = append(kept, confirmed)
	models.SortMessages(s.msgs)
	s.mu.Unlock()
	s.persist(confirmed)
	s.signal()
}

// removePlaceholder drops the optimistic entry for a failed send so the
// user can retype and resend.
func (s *Session) removePlaceholder(clientID string) {
	s.mu.Lock()
	kept := s.msgs[:0]
	for _, m := range s.msgs {
		if m.IsPlaceholder() && m.ClientMessageID == clientID {
			continue
		}
		kept = append(kept, m)
	}
	s.msgs = kept
	s.mu.Unlock()
	s.signal()
}
