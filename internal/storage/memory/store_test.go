package memory

import (
	"context"
	"testing"

	"github.com/tjfontaine/polyglot-agent-gateway/internal/storage"
)

func TestStore_RecordAndGet(t *testing.T) {
	s := New()
	ctx := context.Background()

	rec := &storage.Interaction{
		ID:           "int_1",
		Protocol:     "anthropic",
		Model:        "m",
		Status:       storage.StatusCompleted,
		InputTokens:  10,
		OutputTokens: 5,
	}
	if err := s.RecordInteraction(ctx, rec); err != nil {
		t.Fatalf("RecordInteraction() error = %v", err)
	}

	got, err := s.GetInteraction(ctx, "int_1")
	if err != nil {
		t.Fatalf("GetInteraction() error = %v", err)
	}
	if got.Protocol != "anthropic" || got.InputTokens != 10 {
		t.Errorf("got = %+v", got)
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}

	if err := s.RecordInteraction(ctx, rec); err == nil {
		t.Error("duplicate id accepted")
	}
	if _, err := s.GetInteraction(ctx, "absent"); err == nil {
		t.Error("absent id returned no error")
	}
}

func TestStore_ListFilters(t *testing.T) {
	s := New()
	ctx := context.Background()

	seed := []*storage.Interaction{
		{ID: "a", Protocol: "anthropic", Model: "m", Status: storage.StatusCompleted},
		{ID: "b", Protocol: "openai", Model: "m", Status: storage.StatusError},
		{ID: "c", Protocol: "openai", Model: "m", Status: storage.StatusCompleted},
	}
	for _, rec := range seed {
		if err := s.RecordInteraction(ctx, rec); err != nil {
			t.Fatalf("seed %s: %v", rec.ID, err)
		}
	}

	tests := []struct {
		name    string
		opts    storage.ListOptions
		wantIDs []string
	}{
		{"all newest first", storage.ListOptions{}, []string{"c", "b", "a"}},
		{"by protocol", storage.ListOptions{Protocol: "openai"}, []string{"c", "b"}},
		{"by status", storage.ListOptions{Status: storage.StatusError}, []string{"b"}},
		{"limit", storage.ListOptions{Limit: 1}, []string{"c"}},
		{"offset", storage.ListOptions{Offset: 2}, []string{"a"}},
		{"offset past end", storage.ListOptions{Offset: 9}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListInteractions(ctx, tt.opts)
			if err != nil {
				t.Fatalf("ListInteractions() error = %v", err)
			}
			if len(got) != len(tt.wantIDs) {
				t.Fatalf("got %d records, want %d", len(got), len(tt.wantIDs))
			}
			for i, want := range tt.wantIDs {
				if got[i].ID != want {
					t.Errorf("result[%d] = %s, want %s", i, got[i].ID, want)
				}
			}
		})
	}
}
