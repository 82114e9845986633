package clock_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cvehub/cvehub/internal/clock"
)

func TestFormatISO8601_HasZSuffix(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	got := clock.FormatISO8601(ts)
	assert.Equal(t, "2024-03-01T12:30:00.000Z", got)
}

func TestParseISO8601_RoundTrip(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 30, 45, 0, time.UTC)
	s := clock.FormatISO8601(ts)

	parsed, err := clock.ParseISO8601(s)
	require.NoError(t, err)
	assert.True(t, ts.Equal(parsed))
}

func TestParseISO8601_AcceptsRFC3339(t *testing.T) {
	parsed, err := clock.ParseISO8601("2024-03-01T12:30:45Z")
	require.NoError(t, err)
	assert.Equal(t, 2024, parsed.Year())
}

func TestFrozen_AlwaysReturnsSameInstant(t *testing.T) {
	at := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	c := clock.Frozen{At: at}
	assert.Equal(t, at, c.Now())
	assert.Equal(t, at, c.Now())
}

func TestNewID_Unique(t *testing.T) {
	a := clock.NewID()
	b := clock.NewID()
	assert.NotEqual(t, a, b)
	assert.NotEmpty(t, a)
}
