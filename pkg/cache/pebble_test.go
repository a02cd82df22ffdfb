package cache

import (
	"testing"
	"time"

	"ficsync/pkg/models"
)

func openTemp(t *testing.T) *Cache {
	t.Helper()
	c, err := Open(t.TempDir() + "/cache")
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func cachedMsg(id string, ts time.Time) models.Message {
	return models.Message{ID: id, Content: "content-" + id, Kind: models.KindChat, CreatedAt: ts, Status: models.StatusSent}
}

func TestPutAndListMessages(t *testing.T) {
	c := openTemp(t)
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	// stored out of order; keys sort by creation time
	for _, m := range []models.Message{
		cachedMsg("m2", t0.Add(time.Second)),
		cachedMsg("m1", t0),
		cachedMsg("m3", t0.Add(2*time.Second)),
	} {
		if err := c.PutMessage("conv-1", m); err != nil {
			t.Fatalf("put %s: %v", m.ID, err)
		}
	}

	msgs, err := c.ListMessages("conv-1", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{"m1", "m2", "m3"}
	if len(msgs) != len(want) {
		t.Fatalf("got %d messages, want %d", len(msgs), len(want))
	}
	for i, w := range want {
		if msgs[i].ID != w {
			t.Fatalf("pos %d: got %s want %s", i, msgs[i].ID, w)
		}
	}
}

func TestListMessages_LimitKeepsNewest(t *testing.T) {
	c := openTemp(t)
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		m := cachedMsg("m"+string(rune('1'+i)), t0.Add(time.Duration(i)*time.Second))
		if err := c.PutMessage("conv-1", m); err != nil {
			t.Fatalf("put: %v", err)
		}
	}

	msgs, err := c.ListMessages("conv-1", 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 2 || msgs[0].ID != "m4" || msgs[1].ID != "m5" {
		t.Fatalf("limit must keep the newest entries, got %+v", msgs)
	}
}

func TestPutMessage_RejectsPlaceholder(t *testing.T) {
	c := openTemp(t)
	ph := cachedMsg(models.TempIDPrefix+"x", time.Now().UTC())
	if err := c.PutMessage("conv-1", ph); err == nil {
		t.Fatalf("placeholder must not be cached")
	}
}

func TestPutMessage_RePutIsIdempotent(t *testing.T) {
	c := openTemp(t)
	m := cachedMsg("m1", time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	if err := c.PutMessage("conv-1", m); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := c.PutMessage("conv-1", m); err != nil {
		t.Fatalf("re-put: %v", err)
	}
	msgs, err := c.ListMessages("conv-1", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("re-put must not duplicate, got %d", len(msgs))
	}
}

func TestConversationsIsolated(t *testing.T) {
	c := openTemp(t)
	t0 := time.Now().UTC()
	c.PutMessage("conv-1", cachedMsg("m1", t0))
	c.PutMessage("conv-2", cachedMsg("m2", t0))

	msgs, err := c.ListMessages("conv-1", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 1 || msgs[0].ID != "m1" {
		t.Fatalf("listing must stay scoped to its conversation, got %+v", msgs)
	}
}

func TestConversationMetaRoundTrip(t *testing.T) {
	c := openTemp(t)
	conv := models.Conversation{ID: "conv-1", Title: "Draft negotiation", ClientName: "Avery", Status: "active"}
	if err := c.PutConversation(conv); err != nil {
		t.Fatalf("put conversation: %v", err)
	}
	got, err := c.GetConversation("conv-1")
	if err != nil {
		t.Fatalf("get conversation: %v", err)
	}
	if got.Title != conv.Title || got.ClientName != conv.ClientName {
		t.Fatalf("metadata mismatch: %+v", got)
	}
	if _, err := c.GetConversation("missing"); err == nil {
		t.Fatalf("unknown conversation must error")
	}
}

func TestPruneOlderThan(t *testing.T) {
	c := openTemp(t)
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	c.PutMessage("conv-1", cachedMsg("old1", t0))
	c.PutMessage("conv-1", cachedMsg("old2", t0.Add(time.Minute)))
	c.PutMessage("conv-1", cachedMsg("new1", t0.Add(time.Hour)))
	c.PutConversation(models.Conversation{ID: "conv-1", Title: "kept"})

	n, err := c.PruneOlderThan(t0.Add(30 * time.Minute))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 2 {
		t.Fatalf("pruned %d, want 2", n)
	}

	msgs, err := c.ListMessages("conv-1", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 1 || msgs[0].ID != "new1" {
		t.Fatalf("newer entry must survive, got %+v", msgs)
	}
	// metadata is untouched by retention
	if _, err := c.GetConversation("conv-1"); err != nil {
		t.Fatalf("conversation meta lost: %v", err)
	}
}
