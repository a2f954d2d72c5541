package digest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestScheduler_NextRun(t *testing.T) {
	scheduler := NewScheduler(nil, 7)

	tests := []struct {
		name     string
		now      time.Time
		expected time.Time
	}{
		{
			name:     "Before the hour runs today",
			now:      time.Date(2024, 3, 15, 5, 30, 0, 0, time.UTC),
			expected: time.Date(2024, 3, 15, 7, 0, 0, 0, time.UTC),
		},
		{
			name:     "At the hour runs tomorrow",
			now:      time.Date(2024, 3, 15, 7, 0, 1, 0, time.UTC),
			expected: time.Date(2024, 3, 16, 7, 0, 0, 0, time.UTC),
		},
		{
			name:     "After the hour runs tomorrow",
			now:      time.Date(2024, 3, 15, 22, 0, 0, 0, time.UTC),
			expected: time.Date(2024, 3, 16, 7, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, scheduler.nextRun(tt.now))
		})
	}
}
