package sync

import (
	"ficsync/pkg/logger"
	"ficsync/pkg/models"
	"ficsync/pkg/telemetry"
)

// Merge folds one inbound authoritative or push message into the local
// list. It is idempotent: delivering the same message twice leaves the list
// unchanged, which covers the channel's at-least-once delivery.
func (s *Session) Merge(incoming models.Message) {
	s.mu.Lock()
	changed := s.mergeLocked(incoming)
	s.mu.Unlock()
	if changed {
		s.signal()
	}
}

// seedLocked ingests one history entry during Open. History is authoritative,
// so only the identity rules apply; the feedback window guards a locally
// optimistic feedback insert against its own push duplicate and must not run
// across persisted entries, which may legitimately sit close together.
// Caller holds s.mu.
func (s *Session) seedLocked(incoming models.Message) {
	if incoming.ID != "" {
		for _, m := range s.msgs {
			if m.ID == incoming.ID {
				return
			}
		}
	}
	if incoming.ClientMessageID != "" {
		for _, m := range s.msgs {
			if m.ClientMessageID == incoming.ClientMessageID {
				return
			}
		}
	}
	if incoming.Status == "" {
		incoming.Status = models.StatusSent
	}
	s.msgs = append(s.msgs, incoming)
	models.SortMessages(s.msgs)
}

// mergeLocked applies the de-duplication rules in order and re-sorts after
// any mutation. Caller holds s.mu. Returns whether the list changed.
func (s *Session) mergeLocked(incoming models.Message) bool {
	// rule 1: authoritative id already known
	if incoming.ID != "" {
		for _, m := range s.msgs {
			if m.ID == incoming.ID {
				telemetry.RecordMerge(telemetry.MergeDuplicateID)
				return false
			}
		}
	}

	// rule 2: idempotency key already known (e.g. the send pipeline's own
	// optimistic path already resolved it)
	if incoming.ClientMessageID != "" {
		for _, m := range s.msgs {
			if m.ClientMessageID == incoming.ClientMessageID {
				telemetry.RecordMerge(telemetry.MergeDuplicateClientID)
				return false
			}
		}
	}

	// rule 3: a feedback signal inserted optimistically can come back over
	// the push channel with a different id; treat feedback entries created
	// within the window as the same signal
	if incoming.Kind == models.KindFeedback {
		for _, m := range s.msgs {
			if m.Kind != models.KindFeedback {
				continue
			}
			d := incoming.CreatedAt.Sub(m.CreatedAt)
			if d < 0 {
				d = -d
			}
			if d <= s.window {
				telemetry.RecordMerge(telemetry.MergeDuplicateFeedback)
				logger.Debug("feedback_dedup", "conversation", s.conversationID, "window", s.window)
				return false
			}
		}
	}

	if incoming.Status == "" {
		incoming.Status = models.StatusSent
	}

	// rule 4: replace a matching placeholder in place
	for i, m := range s.msgs {
		if m.IsPlaceholder() && m.ClientMessageID == "" && m.Content == incoming.Content {
			s.msgs[i] = incoming
			models.SortMessages(s.msgs)
			telemetry.RecordMerge(telemetry.MergeReplaced)
			s.persist(incoming)
			return true
		}
	}

	// rule 5: new entry
	s.msgs = append(s.msgs, incoming)
	models.SortMessages(s.msgs)
	telemetry.RecordMerge(telemetry.MergeAppended)
	s.persist(incoming)
	return true
}
