package store

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestSetDefaultsDerivesExpiry(t *testing.T) {
	tests := []struct {
		name           string
		item           Item
		wantExpiresAt  int64
		wantTargetDays int
	}{
		{
			name: "targetDays resolves expiresAt against openedAt",
			item: Item{
				ID:         "1",
				OpenedAt:   1700000000000,
				TargetDays: 3,
			},
			wantExpiresAt:  1700000000000 + 3*millisPerDay,
			wantTargetDays: 3,
		},
		{
			name: "expiresAt resolves targetDays",
			item: Item{
				ID:        "2",
				OpenedAt:  1700000000000,
				ExpiresAt: 1700000000000 + 7*millisPerDay,
			},
			wantExpiresAt:  1700000000000 + 7*millisPerDay,
			wantTargetDays: 7,
		},
		{
			name: "partial day rounds up to one",
			item: Item{
				ID:        "3",
				OpenedAt:  1700000000000,
				ExpiresAt: 1700000000000 + millisPerDay/2,
			},
			wantExpiresAt:  1700000000000 + millisPerDay/2,
			wantTargetDays: 1,
		},
		{
			name: "both absent falls back to category shelf life",
			item: Item{
				ID:       "4",
				Category: CategoryMeat,
				OpenedAt: 1700000000000,
			},
			wantExpiresAt:  1700000000000 + 3*millisPerDay,
			wantTargetDays: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := tt.item
			item.SetDefaults()
			if item.ExpiresAt != tt.wantExpiresAt {
				t.Errorf("expiresAt = %d, want %d", item.ExpiresAt, tt.wantExpiresAt)
			}
			if item.TargetDays != tt.wantTargetDays {
				t.Errorf("targetDays = %d, want %d", item.TargetDays, tt.wantTargetDays)
			}
			if item.Status != StatusActive {
				t.Errorf("status = %q, want active", item.Status)
			}
		})
	}
}

func TestItemIDJSONRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantID  string
		wantRaw string // id fragment the re-marshalled JSON must contain
	}{
		{
			name:    "numeric id stays a number",
			in:      `{"id":1699999999999,"name":"Lait","openedAt":1,"status":"active"}`,
			wantID:  "1699999999999",
			wantRaw: `"id":1699999999999`,
		},
		{
			name:    "string id stays a string",
			in:      `{"id":"a1b2c3","name":"Lait","openedAt":1,"status":"active"}`,
			wantID:  "a1b2c3",
			wantRaw: `"id":"a1b2c3"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var item Item
			if err := json.Unmarshal([]byte(tt.in), &item); err != nil {
				t.Fatalf("Unmarshal() error: %v", err)
			}
			if item.ID != tt.wantID {
				t.Errorf("ID = %q, want %q", item.ID, tt.wantID)
			}

			out, err := json.Marshal(item)
			if err != nil {
				t.Fatalf("Marshal() error: %v", err)
			}
			if !strings.Contains(string(out), tt.wantRaw) {
				t.Errorf("Marshal() = %s, want fragment %s", out, tt.wantRaw)
			}
		})
	}
}
