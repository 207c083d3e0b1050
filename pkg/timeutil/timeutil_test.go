package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadLocation(t *testing.T) {
	loc, err := LoadLocation("")
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)

	loc, err = LoadLocation("UTC+5")
	require.NoError(t, err)
	_, offset := time.Date(2024, 1, 1, 0, 0, 0, 0, loc).Zone()
	assert.Equal(t, 5*3600, offset)

	loc, err = LoadLocation("-03:30")
	require.NoError(t, err)
	_, offset = time.Date(2024, 1, 1, 0, 0, 0, 0, loc).Zone()
	assert.Equal(t, -(3*3600 + 30*60), offset)

	_, err = LoadLocation("Mars/Olympus")
	assert.Error(t, err)
}

func TestDateOf_UsesReferenceZone(t *testing.T) {
	almaty := time.FixedZone("UTC+5", 5*3600)

	// 20:30 UTC is already the next day in UTC+5.
	instant := time.Date(2024, 3, 10, 20, 30, 0, 0, time.UTC)

	assert.Equal(t, "2024-03-10", FormatDate(DateOf(instant, time.UTC)))
	assert.Equal(t, "2024-03-11", FormatDate(DateOf(instant, almaty)))
}

func TestDaysBetween(t *testing.T) {
	d1 := time.Date(2024, 2, 28, 0, 0, 0, 0, time.UTC)
	d2 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, 2, DaysBetween(d1, d2)) // leap year
	assert.Equal(t, -2, DaysBetween(d2, d1))
	assert.Equal(t, 0, DaysBetween(d1, d1.Add(23*time.Hour)))
}

func TestDaysBetween_AcrossDST(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("tzdata not available")
	}

	before := time.Date(2024, 3, 9, 23, 0, 0, 0, ny)
	after := time.Date(2024, 3, 10, 23, 0, 0, 0, ny) // 23h later in wall terms

	assert.Equal(t, 1, DaysBetween(DateOf(before, ny), DateOf(after, ny)))
}

func TestClockWindows(t *testing.T) {
	assert.True(t, IsBeforeNoon(time.Date(2024, 1, 1, 11, 59, 0, 0, time.UTC), time.UTC))
	assert.False(t, IsBeforeNoon(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC), time.UTC))
	assert.True(t, IsAfterMidnight(time.Date(2024, 1, 1, 0, 1, 0, 0, time.UTC), time.UTC))
	assert.True(t, IsAfterMidnight(time.Date(2024, 1, 1, 4, 59, 0, 0, time.UTC), time.UTC))
	assert.False(t, IsAfterMidnight(time.Date(2024, 1, 1, 5, 0, 0, 0, time.UTC), time.UTC))
}

func TestParseFormatDate(t *testing.T) {
	d, err := ParseDate("2024-07-01")
	require.NoError(t, err)
	assert.Equal(t, "2024-07-01", FormatDate(d))

	d, err = ParseDate("")
	require.NoError(t, err)
	assert.True(t, d.IsZero())
	assert.Equal(t, "", FormatDate(d))

	_, err = ParseDate("01/07/2024")
	assert.Error(t, err)
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "0m", FormatDuration(-5))
	assert.Equal(t, "45m", FormatDuration(45*60))
	assert.Equal(t, "2h 05m", FormatDuration(2*3600+5*60))
}
