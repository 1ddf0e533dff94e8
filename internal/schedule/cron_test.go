package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(y int, m time.Month, d, hh, mm, ss int) time.Time {
	return time.Date(y, m, d, hh, mm, ss, 0, time.UTC)
}

func TestParseErrors(t *testing.T) {
	for _, expr := range []string{
		"",
		"* * * *",
		"* * * * * * *",
		"60 * * * *",
		"* 24 * * *",
		"* * 32 * *",
		"* * * 13 *",
		"* * * * 8",
		"a * * * *",
		"1-0 * * * *",
		"*/0 * * * *",
	} {
		t.Run(expr, func(t *testing.T) {
			_, err := Parse(expr)
			assert.Error(t, err)
		})
	}
}

func TestNext(t *testing.T) {
	cases := []struct {
		name  string
		expr  string
		after time.Time
		want  time.Time
	}{
		{
			"every minute",
			"* * * * *",
			at(2026, 8, 24, 10, 30, 15),
			at(2026, 8, 24, 10, 31, 0),
		},
		{
			"top of hour",
			"0 * * * *",
			at(2026, 8, 24, 10, 30, 0),
			at(2026, 8, 24, 11, 0, 0),
		},
		{
			"exact fire time is not returned for itself",
			"30 10 * * *",
			at(2026, 8, 24, 10, 30, 0),
			at(2026, 8, 25, 10, 30, 0),
		},
		{
			"step minutes",
			"*/15 * * * *",
			at(2026, 8, 24, 10, 16, 0),
			at(2026, 8, 24, 10, 30, 0),
		},
		{
			"range with step",
			"0 9-17/2 * * *",
			at(2026, 8, 24, 12, 0, 0),
			at(2026, 8, 24, 13, 0, 0),
		},
		{
			"list",
			"0 0 1,15 * *",
			at(2026, 8, 24, 0, 0, 0),
			at(2026, 9, 1, 0, 0, 0),
		},
		{
			"month names",
			"0 0 1 jan,jul *",
			at(2026, 8, 24, 0, 0, 0),
			at(2027, 1, 1, 0, 0, 0),
		},
		{
			"weekday names",
			"0 9 * * mon-fri",
			// 2026-08-28 is a Friday.
			at(2026, 8, 28, 10, 0, 0),
			at(2026, 8, 31, 9, 0, 0),
		},
		{
			"sunday as seven",
			"0 9 * * 7",
			at(2026, 8, 24, 0, 0, 0),
			at(2026, 8, 30, 9, 0, 0),
		},
		{
			"six fields with seconds",
			"30 * * * * *",
			at(2026, 8, 24, 10, 0, 31),
			at(2026, 8, 24, 10, 1, 30),
		},
		{
			"dom and dow both restricted match either",
			// The 13th or any Friday, whichever comes first.
			"0 0 13 * fri",
			at(2026, 8, 24, 0, 0, 0),
			at(2026, 8, 28, 0, 0, 0),
		},
		{
			"dom restricted only",
			"0 0 13 * *",
			at(2026, 8, 24, 0, 0, 0),
			at(2026, 9, 13, 0, 0, 0),
		},
		{
			"year rollover",
			"0 0 1 1 *",
			at(2026, 2, 1, 0, 0, 0),
			at(2027, 1, 1, 0, 0, 0),
		},
		{
			"leap day",
			"0 0 29 2 *",
			at(2026, 3, 1, 0, 0, 0),
			at(2028, 2, 29, 0, 0, 0),
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			expr, err := Parse(tc.expr)
			require.NoError(t, err)
			assert.Equal(t, tc.want, expr.Next(tc.after))
		})
	}
}

func TestNextConvertsToUTC(t *testing.T) {
	loc := time.FixedZone("plus2", 2*3600)
	expr := MustParse("0 12 * * *")
	next := expr.Next(time.Date(2026, 8, 24, 13, 0, 0, 0, loc)) // 11:00 UTC
	assert.Equal(t, at(2026, 8, 24, 12, 0, 0), next)
	assert.Equal(t, time.UTC, next.Location())
}

func TestNextNeverMatching(t *testing.T) {
	// February 30th does not exist.
	expr := MustParse("0 0 30 2 *")
	assert.Equal(t, FarFuture, expr.Next(at(2026, 1, 1, 0, 0, 0)))
}

func TestSpec(t *testing.T) {
	now := at(2026, 8, 24, 10, 30, 0)

	t.Run("disabled returns the sentinel", func(t *testing.T) {
		next, err := Spec{Enabled: false, CronExpression: "* * * * *"}.Next(now)
		require.NoError(t, err)
		assert.Equal(t, FarFuture, next)
	})

	t.Run("missing expression ticks hourly", func(t *testing.T) {
		next, err := Spec{Enabled: true}.Next(now)
		require.NoError(t, err)
		assert.Equal(t, at(2026, 8, 24, 11, 0, 0), next)
	})

	t.Run("expression drives the cadence", func(t *testing.T) {
		next, err := Spec{Enabled: true, CronExpression: "*/5 * * * *"}.Next(now)
		require.NoError(t, err)
		assert.Equal(t, at(2026, 8, 24, 10, 35, 0), next)
	})

	t.Run("validate rejects bad expressions", func(t *testing.T) {
		assert.Error(t, Spec{CronExpression: "not cron"}.Validate())
		assert.NoError(t, Spec{CronExpression: "0 * * * *"}.Validate())
		assert.NoError(t, Spec{}.Validate())
	})
}
