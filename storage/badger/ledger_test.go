package badger

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/poiesic/recall/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerRepository_AppendAndRecent(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)
	defer backend.Close()

	repo := NewLedgerRepository(backend)
	defer repo.Close()

	ctx := context.Background()
	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		event := &core.LedgerEvent{
			Id:         fmt.Sprintf("event-%d", i),
			Kind:       "search",
			Status:     "ok",
			StartedAt:  base.Add(time.Duration(i) * time.Minute),
			FinishedAt: base.Add(time.Duration(i)*time.Minute + time.Second),
			Seconds:    1.0,
			Params:     map[string]string{"query": fmt.Sprintf("q%d", i)},
		}
		require.NoError(t, repo.AppendEvent(ctx, event))
	}

	events, err := repo.RecentEvents(ctx, 3)
	require.NoError(t, err)
	require.Len(t, events, 3)

	// Most recent first.
	assert.Equal(t, "event-4", events[0].Id)
	assert.Equal(t, "event-3", events[1].Id)
	assert.Equal(t, "event-2", events[2].Id)
	assert.Equal(t, "q4", events[0].Params["query"])
}

func TestLedgerRepository_Empty(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)
	defer backend.Close()

	repo := NewLedgerRepository(backend)
	events, err := repo.RecentEvents(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, events)
}
