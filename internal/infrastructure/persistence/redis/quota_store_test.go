package redis

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindowMember_RoundTripsNanosecondsExactly(t *testing.T) {
	// A timestamp whose nanosecond value exceeds float64's 52-bit mantissa,
	// so encoding it as a ZSET score would round it.
	ts := time.Date(2026, 8, 30, 14, 3, 7, 123456789, time.UTC)
	require.NotEqual(t, ts.UnixNano(), int64(float64(ts.UnixNano())))

	z := windowMember(ts)
	got, err := parseWindowMember(z.Member.(string))
	require.NoError(t, err)
	assert.True(t, got.Equal(ts))
}

func TestWindowMember_ScoreIsMillisecondTime(t *testing.T) {
	ts := time.Date(2026, 8, 30, 14, 3, 7, 123456789, time.UTC)
	z := windowMember(ts)
	assert.Equal(t, float64(ts.UnixMilli()), z.Score)
	assert.Equal(t, strconv.FormatInt(ts.UnixNano(), 10), z.Member)
}

func TestParseWindowMember_RejectsGarbage(t *testing.T) {
	_, err := parseWindowMember("not-a-timestamp")
	assert.Error(t, err)
}
