package engagement

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseReadTime(t *testing.T) {
	t.Parallel()

	tests := []struct {
		hint     string
		fallback int
		want     int
	}{
		{hint: "5 min read", want: 5},
		{hint: "12 minutes", want: 12},
		{hint: "~3 mins", want: 3},
		{hint: "1 hour", want: 60},
		{hint: "1.5 hr", want: 90},
		{hint: "2,5 min", want: 3},
		{hint: "7", want: 7},
		{hint: "quick read", want: DefaultReadMinutes},
		{hint: "", fallback: 8, want: 8},
		{hint: "0 min", want: DefaultReadMinutes},
		{hint: "5-min read", want: 5},
		{hint: "0.1h", want: 6},
		{hint: "30 seconds", want: 1},
		{hint: "45 sec read", want: 1},
		{hint: "90 s", want: 2},
		{hint: "1h30m", want: 90},
		{hint: "1h 30m", want: 90},
		{hint: "1 hour 30 minutes", want: 90},
		{hint: "1h30", want: 90},
		{hint: "2m30", want: 3},
		{hint: "10 min 30 sec", want: 11},
		{hint: "5 min 2024", want: 5},
		{hint: "3 days", want: DefaultReadMinutes},
		{hint: "5 parsecs", fallback: 4, want: 4},
		{hint: "1,000 words", want: DefaultReadMinutes},
	}
	for _, tt := range tests {
		t.Run(tt.hint, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, ParseReadTime(tt.hint, tt.fallback))
		})
	}
}
