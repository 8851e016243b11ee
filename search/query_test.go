package search

import (
	"testing"
	"time"

	"github.com/poiesic/recall/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanQuery_Defaults(t *testing.T) {
	q, err := PlanQuery(Request{Terms: "solstice"})
	require.NoError(t, err)

	assert.Equal(t, "solstice", q.Terms)
	assert.False(t, q.Browse())
	assert.Equal(t, DefaultTopK, q.TopK)
	assert.Equal(t, 60, q.Fanout) // 15*4 exceeds the floor
	assert.Equal(t, DefaultConvos, q.Convos)
	assert.Equal(t, DefaultPerConvo, q.PerConvo)
	assert.True(t, q.Filter.Empty())
}

func TestPlanQuery_BrowseMode(t *testing.T) {
	q, err := PlanQuery(Request{Terms: "   ", Role: "user"})
	require.NoError(t, err)

	assert.True(t, q.Browse())
	require.NotNil(t, q.Filter.Role)
	assert.Equal(t, core.RoleUser, *q.Filter.Role)
}

func TestPlanQuery_TopKBounds(t *testing.T) {
	q, err := PlanQuery(Request{Terms: "x", TopK: 1000})
	require.NoError(t, err)
	assert.Equal(t, MaxTopK, q.TopK)

	q, err = PlanQuery(Request{Terms: "x", TopK: 3})
	require.NoError(t, err)
	assert.Equal(t, 3, q.TopK)
	assert.Equal(t, 50, q.Fanout) // floor applies for small top_k

	_, err = PlanQuery(Request{Terms: "x", TopK: -1})
	assert.ErrorIs(t, err, ErrInvalidQuery)
}

func TestPlanQuery_TimeBounds(t *testing.T) {
	t.Run("bare date is UTC midnight", func(t *testing.T) {
		q, err := PlanQuery(Request{Terms: "x", Since: "2024-03-01"})
		require.NoError(t, err)
		require.NotNil(t, q.Filter.Since)
		assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), *q.Filter.Since)
	})

	t.Run("unix seconds", func(t *testing.T) {
		q, err := PlanQuery(Request{Terms: "x", Until: "1700000000"})
		require.NoError(t, err)
		require.NotNil(t, q.Filter.Until)
		assert.Equal(t, time.Unix(1700000000, 0).UTC(), *q.Filter.Until)
	})

	t.Run("rfc3339", func(t *testing.T) {
		q, err := PlanQuery(Request{Terms: "x", Since: "2024-03-01T12:30:00Z"})
		require.NoError(t, err)
		require.NotNil(t, q.Filter.Since)
		assert.Equal(t, time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC), *q.Filter.Since)
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := PlanQuery(Request{Terms: "x", Since: "yesterday"})
		assert.ErrorIs(t, err, ErrInvalidQuery)
	})

	t.Run("since after until", func(t *testing.T) {
		_, err := PlanQuery(Request{Terms: "x", Since: "2024-06-01", Until: "2024-01-01"})
		assert.ErrorIs(t, err, ErrInvalidQuery)
	})
}

func TestPlanQuery_Role(t *testing.T) {
	_, err := PlanQuery(Request{Terms: "x", Role: "narrator"})
	assert.ErrorIs(t, err, ErrInvalidQuery)

	q, err := PlanQuery(Request{Terms: "x", Role: "assistant"})
	require.NoError(t, err)
	require.NotNil(t, q.Filter.Role)
	assert.Equal(t, core.RoleAssistant, *q.Filter.Role)
}

func TestPlanQuery_GroupingCaps(t *testing.T) {
	_, err := PlanQuery(Request{Terms: "x", Convos: -1})
	assert.ErrorIs(t, err, ErrInvalidQuery)

	q, err := PlanQuery(Request{Terms: "x", Group: true, Convos: 3, PerConvo: 2})
	require.NoError(t, err)
	assert.True(t, q.Group)
	assert.Equal(t, 3, q.Convos)
	assert.Equal(t, 2, q.PerConvo)
}

func TestPlanQuery_GroupingWidensRankingPool(t *testing.T) {
	// 8 conversations of 5 hits each need 40 ranked candidates, more than
	// the default TopK would keep.
	q, err := PlanQuery(Request{Terms: "x", Group: true, Convos: 8, PerConvo: 5})
	require.NoError(t, err)
	assert.Equal(t, 40, q.TopK)
	assert.Equal(t, 160, q.Fanout)

	// A pool smaller than TopK never shrinks it.
	q, err = PlanQuery(Request{Terms: "x", Group: true, TopK: 30, Convos: 2, PerConvo: 2})
	require.NoError(t, err)
	assert.Equal(t, 30, q.TopK)

	// Flat queries are unaffected by the grouping caps.
	q, err = PlanQuery(Request{Terms: "x", Convos: 8, PerConvo: 5})
	require.NoError(t, err)
	assert.Equal(t, DefaultTopK, q.TopK)
}
