package retention

import (
	"context"
	"testing"
	"time"

	"ficsync/pkg/cache"
	"ficsync/pkg/config"
	"ficsync/pkg/models"
)

func TestParsePeriod(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
		ok   bool
	}{
		{"30d", 30 * 24 * time.Hour, true},
		{"1d", 24 * time.Hour, true},
		{"12h", 12 * time.Hour, true},
		{"45m", 45 * time.Minute, true},
		{" 7d ", 7 * 24 * time.Hour, true},
		{"", 0, false},
		{"0d", 0, false},
		{"-3d", 0, false},
		{"bogus", 0, false},
		{"-1h", 0, false},
	}
	for _, tc := range cases {
		got, err := ParsePeriod(tc.in)
		if tc.ok && (err != nil || got != tc.want) {
			t.Fatalf("ParsePeriod(%q) = %v, %v; want %v", tc.in, got, err, tc.want)
		}
		if !tc.ok && err == nil {
			t.Fatalf("ParsePeriod(%q) should fail", tc.in)
		}
	}
}

func TestRunOnce(t *testing.T) {
	c, err := cache.Open(t.TempDir() + "/cache")
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	defer c.Close()

	now := time.Now().UTC()
	old := models.Message{ID: "old", Content: "x", CreatedAt: now.Add(-48 * time.Hour), Status: models.StatusSent}
	fresh := models.Message{ID: "fresh", Content: "y", CreatedAt: now.Add(-time.Hour), Status: models.StatusSent}
	if err := c.PutMessage("conv-1", old); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := c.PutMessage("conv-1", fresh); err != nil {
		t.Fatalf("put: %v", err)
	}

	n, err := RunOnce(c, 24*time.Hour)
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if n != 1 {
		t.Fatalf("removed %d, want 1", n)
	}
	msgs, err := c.ListMessages("conv-1", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 1 || msgs[0].ID != "fresh" {
		t.Fatalf("wrong survivor: %+v", msgs)
	}
}

func TestStart_DisabledIsNoop(t *testing.T) {
	cfg := &config.Config{}
	cancel, err := Start(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("disabled retention must not error: %v", err)
	}
	cancel()
}

func TestStart_InvalidInputs(t *testing.T) {
	c, err := cache.Open(t.TempDir() + "/cache")
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	defer c.Close()

	cfg := &config.Config{}
	cfg.Retention.Enabled = true
	cfg.Retention.Period = "never"
	if _, err := Start(context.Background(), cfg, c); err == nil {
		t.Fatalf("invalid period must fail")
	}

	cfg.Retention.Period = "30d"
	cfg.Retention.Cron = "not a cron"
	if _, err := Start(context.Background(), cfg, c); err == nil {
		t.Fatalf("invalid cron must fail")
	}
}

func TestStart_ValidSchedule(t *testing.T) {
	c, err := cache.Open(t.TempDir() + "/cache")
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	defer c.Close()

	cfg := &config.Config{}
	cfg.Retention.Enabled = true
	cfg.Retention.Period = "30d"
	cancel, err := Start(context.Background(), cfg, c)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	cancel()
}
