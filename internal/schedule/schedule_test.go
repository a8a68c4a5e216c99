package schedule

import (
	"testing"
	"time"
)

func TestNextRun(t *testing.T) {
	loc, err := time.LoadLocation("America/Sao_Paulo")
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{
			name: "before today's slot",
			now:  time.Date(2026, 8, 31, 10, 0, 0, 0, loc),
			want: time.Date(2026, 8, 31, 18, 0, 0, 0, loc),
		},
		{
			name: "exactly at the slot rolls to tomorrow",
			now:  time.Date(2026, 8, 31, 18, 0, 0, 0, loc),
			want: time.Date(2026, 9, 1, 18, 0, 0, 0, loc),
		},
		{
			name: "after today's slot",
			now:  time.Date(2026, 8, 31, 18, 0, 1, 0, loc),
			want: time.Date(2026, 9, 1, 18, 0, 0, 0, loc),
		},
		{
			name: "now in another zone still schedules in loc",
			now:  time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC), // 07:00 in Sao Paulo
			want: time.Date(2026, 8, 31, 18, 0, 0, 0, loc),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextRun(tt.now, 18, 0, loc)
			if !got.Equal(tt.want) {
				t.Errorf("NextRun(%s) = %s, want %s", tt.now, got, tt.want)
			}
			if !got.After(tt.now) {
				t.Errorf("NextRun(%s) = %s is not strictly after now", tt.now, got)
			}
		})
	}
}
