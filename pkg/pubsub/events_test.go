package pubsub

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestInvalidationEvent_Validate(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name    string
		event   InvalidationEvent
		wantErr bool
	}{
		{
			name: "valid with keys",
			event: InvalidationEvent{
				Version:     EventVersion1,
				Keys:        []string{"user:123", "user:456"},
				TriggeredAt: now,
				RequestID:   "req-123",
			},
		},
		{
			name: "valid with pattern",
			event: InvalidationEvent{
				Version:     EventVersion1,
				Pattern:     "users:*",
				TriggeredAt: now,
				RequestID:   "req-456",
			},
		},
		{
			name: "valid with both keys and pattern",
			event: InvalidationEvent{
				Version:     EventVersion1,
				Keys:        []string{"user:123"},
				Pattern:     "sessions:*",
				TriggeredAt: now,
				RequestID:   "req-789",
			},
		},
		{
			name: "invalid version",
			event: InvalidationEvent{
				Version:     999,
				Keys:        []string{"user:123"},
				TriggeredAt: now,
				RequestID:   "req-123",
			},
			wantErr: true,
		},
		{
			name: "missing keys and pattern",
			event: InvalidationEvent{
				Version:     EventVersion1,
				TriggeredAt: now,
				RequestID:   "req-123",
			},
			wantErr: true,
		},
		{
			name: "zero triggered_at",
			event: InvalidationEvent{
				Version:   EventVersion1,
				Keys:      []string{"user:123"},
				RequestID: "req-123",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.event.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRebuildTriggeredEvent_Validate(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name    string
		event   RebuildTriggeredEvent
		wantErr bool
	}{
		{
			name: "valid",
			event: RebuildTriggeredEvent{
				Version:     EventVersion1,
				Scope:       "all",
				TriggeredBy: "admin",
				TriggeredAt: now,
				RequestID:   "req-123",
			},
		},
		{
			name: "scoped to an item",
			event: RebuildTriggeredEvent{
				Version:     EventVersion1,
				Scope:       "item:tt1",
				TriggeredBy: "admin",
				TriggeredAt: now,
				RequestID:   "req-456",
			},
		},
		{
			name: "invalid version",
			event: RebuildTriggeredEvent{
				Version:     999,
				Scope:       "all",
				TriggeredBy: "admin",
				TriggeredAt: now,
				RequestID:   "req-123",
			},
			wantErr: true,
		},
		{
			name: "missing scope",
			event: RebuildTriggeredEvent{
				Version:     EventVersion1,
				TriggeredBy: "admin",
				TriggeredAt: now,
				RequestID:   "req-123",
			},
			wantErr: true,
		},
		{
			name: "zero triggered_at",
			event: RebuildTriggeredEvent{
				Version:     EventVersion1,
				Scope:       "all",
				TriggeredBy: "admin",
				RequestID:   "req-123",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.event.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
