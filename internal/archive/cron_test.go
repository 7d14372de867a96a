package archive

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCronField(t *testing.T) {
	f, err := parseCronField("*")
	require.NoError(t, err)
	assert.True(t, f.matches(0))
	assert.True(t, f.matches(59))

	f, err = parseCronField("15")
	require.NoError(t, err)
	assert.True(t, f.matches(15))
	assert.False(t, f.matches(16))

	f, err = parseCronField("1,15,30")
	require.NoError(t, err)
	assert.True(t, f.matches(1))
	assert.True(t, f.matches(30))
	assert.False(t, f.matches(2))

	_, err = parseCronField("every")
	assert.Error(t, err)
}

func TestParseCronFieldCount(t *testing.T) {
	_, err := parseCron("0 3 * *")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "5 fields")

	_, err = parseCron("0 3 * * * *")
	assert.Error(t, err)
}

func TestMatchesTime(t *testing.T) {
	cron, err := parseCron("0 3 1 * *")
	require.NoError(t, err)

	assert.True(t, cron.matchesTime(time.Date(2026, 9, 1, 3, 0, 0, 0, time.UTC)))
	assert.False(t, cron.matchesTime(time.Date(2026, 9, 1, 3, 1, 0, 0, time.UTC)))
	assert.False(t, cron.matchesTime(time.Date(2026, 9, 2, 3, 0, 0, 0, time.UTC)))
}

func TestNextCronTime(t *testing.T) {
	after := time.Date(2026, 8, 30, 10, 17, 42, 0, time.UTC)

	// Daily at 03:00, so the next run is tomorrow morning.
	next, err := nextCronTime("0 3 * * *", after)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 8, 31, 3, 0, 0, 0, time.UTC), next)

	// Every hour at :30, so later the same hour.
	next, err = nextCronTime("30 * * * *", after)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 8, 30, 10, 30, 0, 0, time.UTC), next)

	// Monthly on the 1st at 03:00.
	next, err = nextCronTime("0 3 1 * *", after)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 9, 1, 3, 0, 0, 0, time.UTC), next)
}

func TestNextCronTimeStartsAtNextMinute(t *testing.T) {
	// A wildcard expression never matches the current minute.
	after := time.Date(2026, 8, 30, 10, 17, 0, 0, time.UTC)
	next, err := nextCronTime("* * * * *", after)
	require.NoError(t, err)
	assert.Equal(t, after.Add(time.Minute), next)
}

func TestNextCronTimeInvalidExpression(t *testing.T) {
	_, err := nextCronTime("bogus", time.Now())
	assert.Error(t, err)
}
