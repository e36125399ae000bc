package reservation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChooseTime(t *testing.T) {
	tests := []struct {
		name      string
		preferred string
		open      []string
		want      string
		ok        bool
	}{
		{"empty", "12:00", nil, "", false},
		{"preferred listed", "12:00", []string{"11:50", "12:00", "12:10"}, "12:00", true},
		{"preferred missing", "12:00", []string{"13:00", "13:10"}, "13:00", true},
		{"no preference", "", []string{"09:00", "09:10"}, "09:00", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ChooseTime(tt.preferred, tt.open)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSample(t *testing.T) {
	assert.Equal(t, "a, b", Sample([]string{"a", "b"}, 3))
	assert.Equal(t, "a, b…", Sample([]string{"a", "b", "c"}, 2))
}
