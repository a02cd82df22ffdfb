package cache

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"

	"ficsync/pkg/logger"
	"ficsync/pkg/models"
)

// Cache is a local, per-client history cache backed by Pebble. It lets the
// CLI show a conversation while the API is unreachable and survives
// restarts. Each instance owns its DB handle; there is no package-global
// state so tests can run caches side by side.
type Cache struct {
	db   *pebble.DB
	path string
}

// Open opens (or creates) the cache at path.
func Open(path string) (*Cache, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("cache_open_failed", "path", path, "error", err)
		return nil, err
	}
	logger.Info("cache_opened", "path", path)
	return &Cache{db: db, path: path}, nil
}

// Close closes the underlying DB.
func (c *Cache) Close() error {
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	return err
}

// Message keys sort by creation time within a conversation; the message id
// suffix keeps keys unique and re-puts idempotent.
func msgKey(conversationID string, m models.Message) []byte {
	return []byte(fmt.Sprintf("conv:%s:msg:%020d-%s", conversationID, m.CreatedAt.UTC().UnixNano(), m.ID))
}

func msgPrefix(conversationID string) []byte {
	return []byte("conv:" + conversationID + ":msg:")
}

func metaKey(conversationID string) []byte {
	return []byte("conv:" + conversationID + ":meta")
}

// PutMessage stores a confirmed message. Placeholders are rejected; the
// cache only ever holds server-confirmed history.
func (c *Cache) PutMessage(conversationID string, m models.Message) error {
	if c.db == nil {
		return fmt.Errorf("cache not open")
	}
	if !m.Confirmed() {
		return fmt.Errorf("refusing to cache unconfirmed message %q", m.ID)
	}
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := c.db.Set(msgKey(conversationID, m), data, pebble.Sync); err != nil {
		return err
	}
	logger.Debug("message_cached", "conversation", conversationID, "id", m.ID)
	return nil
}

// ListMessages returns cached messages for a conversation in creation
// order. When limit > 0 only the newest limit entries are returned.
func (c *Cache) ListMessages(conversationID string, limit int) ([]models.Message, error) {
	if c.db == nil {
		return nil, fmt.Errorf("cache not open")
	}
	prefix := msgPrefix(conversationID)
	iter, err := c.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []models.Message
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			logger.Warn("cache_entry_corrupt", "key", string(iter.Key()), "error", err)
			continue
		}
		out = append(out, m)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// PutConversation stores conversation metadata alongside its messages.
func (c *Cache) PutConversation(conv models.Conversation) error {
	if c.db == nil {
		return fmt.Errorf("cache not open")
	}
	data, err := json.Marshal(conv)
	if err != nil {
		return err
	}
	return c.db.Set(metaKey(conv.ID), data, pebble.Sync)
}

// GetConversation loads cached conversation metadata.
func (c *Cache) GetConversation(conversationID string) (models.Conversation, error) {
	var conv models.Conversation
	if c.db == nil {
		return conv, fmt.Errorf("cache not open")
	}
	v, closer, err := c.db.Get(metaKey(conversationID))
	if err != nil {
		return conv, err
	}
	defer closer.Close()
	if err := json.Unmarshal(v, &conv); err != nil {
		return conv, fmt.Errorf("invalid cached conversation: %w", err)
	}
	return conv, nil
}

// PruneOlderThan deletes cached messages created before cutoff and returns
// how many were removed. Conversation metadata is left in place.
func (c *Cache) PruneOlderThan(cutoff time.Time) (int, error) {
	if c.db == nil {
		return 0, fmt.Errorf("cache not open")
	}
	iter, err := c.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return 0, err
	}
	var doomed [][]byte
	prefix := []byte("conv:")
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		if !bytes.Contains(iter.Key(), []byte(":msg:")) {
			continue
		}
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			continue
		}
		if m.ID != "" && !m.CreatedAt.IsZero() && m.CreatedAt.Before(cutoff) {
			k := make([]byte, len(iter.Key()))
			copy(k, iter.Key())
			doomed = append(doomed, k)
		}
	}
	if err := iter.Close(); err != nil {
		return 0, err
	}
	if len(doomed) == 0 {
		return 0, nil
	}
	batch := c.db.NewBatch()
	for _, k := range doomed {
		_ = batch.Delete(k, nil)
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return 0, err
	}
	logger.Info("cache_pruned", "removed", len(doomed), "cutoff", cutoff.UTC().Format(time.RFC3339))
	return len(doomed), nil
}
