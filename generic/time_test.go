package generic_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/absence-engine/generic"
)

func TestInclusiveDays(t *testing.T) {
	tests := []struct {
		name       string
		start, end string
		want       int
	}{
		{"same day", "2025-01-15", "2025-01-15", 1},
		{"three days", "2025-01-15", "2025-01-17", 3},
		{"across month end", "2025-01-30", "2025-02-02", 4},
		{"leap day", "2024-02-28", "2024-03-01", 3},
		{"full year", "2025-01-01", "2025-12-31", 365},
		{"four centuries", "1700-01-01", "2100-01-01", 146098},
		{"year one", "0001-01-01", "0001-01-03", 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := generic.InclusiveDays(generic.MustParseDate(tt.start), generic.MustParseDate(tt.end))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDaysBetween_Inverted(t *testing.T) {
	start := generic.NewDate(2025, time.January, 17)
	end := generic.NewDate(2025, time.January, 15)
	assert.Equal(t, -2, generic.DaysBetween(start, end))
	assert.True(t, end.Before(start))
}

func TestParseDate(t *testing.T) {
	d, err := generic.ParseDate("2025-03-10")
	require.NoError(t, err)
	assert.Equal(t, "2025-03-10", d.String())
	assert.True(t, d.Equal(generic.NewDate(2025, time.March, 10)))

	_, err = generic.ParseDate("10/03/2025")
	assert.Error(t, err)
}

func TestDateOf_DropsTimeOfDay(t *testing.T) {
	a := generic.DateOf(time.Date(2025, time.May, 1, 23, 59, 0, 0, time.UTC))
	b := generic.NewDate(2025, time.May, 1)
	assert.True(t, a.Equal(b))
	assert.True(t, a.AddDays(1).After(b))
}
