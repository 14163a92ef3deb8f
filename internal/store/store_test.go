package store

import (
	"testing"
	"time"

	"github.com/fleetwire/fleetrelay/internal/message"
)

func TestPickActive(t *testing.T) {
	base := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		candidates []*message.Template
		wantID     string
	}{
		{
			name:       "empty",
			candidates: nil,
			wantID:     "",
		},
		{
			name: "single candidate",
			candidates: []*message.Template{
				{ID: "a", Priority: 5, CreatedAt: base},
			},
			wantID: "a",
		},
		{
			name: "lowest priority wins",
			candidates: []*message.Template{
				{ID: "a", Priority: 2, CreatedAt: base},
				{ID: "b", Priority: 1, CreatedAt: base.Add(time.Hour)},
			},
			wantID: "b",
		},
		{
			name: "priority tie broken by creation time",
			candidates: []*message.Template{
				{ID: "a", Priority: 1, CreatedAt: base.Add(time.Hour)},
				{ID: "b", Priority: 1, CreatedAt: base},
			},
			wantID: "b",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := pickActive(tt.candidates)
			if tt.wantID == "" {
				if got != nil {
					t.Fatalf("expected nil, got %v", got)
				}
				return
			}
			if got == nil || got.ID != tt.wantID {
				t.Errorf("pickActive = %v, want ID %q", got, tt.wantID)
			}
		})
	}
}

func TestOrderResponsesStable(t *testing.T) {
	responses := []message.ResponseOption{
		{ButtonPayload: "third", SortOrder: 2},
		{ButtonPayload: "first", SortOrder: 1},
		{ButtonPayload: "second", SortOrder: 1},
	}

	orderResponses(responses)

	want := []string{"first", "second", "third"}
	for i, payload := range want {
		if responses[i].ButtonPayload != payload {
			t.Errorf("responses[%d] = %q, want %q", i, responses[i].ButtonPayload, payload)
		}
	}
}
