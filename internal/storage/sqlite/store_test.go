package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/tjfontaine/polyglot-agent-gateway/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_RecordAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := &storage.Interaction{
		ID:           "int_1",
		Protocol:     "openai",
		Model:        "gpt-agent",
		SessionID:    "sess_1",
		Streaming:    true,
		Status:       storage.StatusIntercepted,
		StopReason:   "tool_use",
		PendingTool:  "get_weather",
		DurationNS:   1500,
		InputTokens:  21,
		OutputTokens: 8,
	}
	if err := s.RecordInteraction(ctx, rec); err != nil {
		t.Fatalf("RecordInteraction() error = %v", err)
	}

	got, err := s.GetInteraction(ctx, "int_1")
	if err != nil {
		t.Fatalf("GetInteraction() error = %v", err)
	}
	if got.SessionID != "sess_1" || !got.Streaming || got.PendingTool != "get_weather" {
		t.Errorf("got = %+v", got)
	}
	if got.InputTokens != 21 || got.OutputTokens != 8 {
		t.Errorf("tokens = %d/%d", got.InputTokens, got.OutputTokens)
	}

	if _, err := s.GetInteraction(ctx, "absent"); err == nil {
		t.Error("absent id returned no error")
	}
}

func TestStore_ListOrderAndFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	seed := []*storage.Interaction{
		{ID: "a", Protocol: "anthropic", Model: "m", Status: storage.StatusCompleted, CreatedAt: base},
		{ID: "b", Protocol: "openai", Model: "m", Status: storage.StatusError, CreatedAt: base.Add(time.Minute)},
		{ID: "c", Protocol: "openai", Model: "m", Status: storage.StatusCompleted, CreatedAt: base.Add(2 * time.Minute)},
	}
	for _, rec := range seed {
		if err := s.RecordInteraction(ctx, rec); err != nil {
			t.Fatalf("seed %s: %v", rec.ID, err)
		}
	}

	got, err := s.ListInteractions(ctx, storage.ListOptions{})
	if err != nil {
		t.Fatalf("ListInteractions() error = %v", err)
	}
	if len(got) != 3 || got[0].ID != "c" || got[2].ID != "a" {
		t.Errorf("order = %+v", ids(got))
	}

	got, err = s.ListInteractions(ctx, storage.ListOptions{Protocol: "openai", Status: storage.StatusError})
	if err != nil {
		t.Fatalf("filtered list: %v", err)
	}
	if len(got) != 1 || got[0].ID != "b" {
		t.Errorf("filtered = %+v", ids(got))
	}

	got, err = s.ListInteractions(ctx, storage.ListOptions{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("paged list: %v", err)
	}
	if len(got) != 1 || got[0].ID != "b" {
		t.Errorf("paged = %+v", ids(got))
	}
}

func ids(recs []*storage.Interaction) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}
