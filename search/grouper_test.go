package search

import (
	"fmt"
	"testing"

	"github.com/poiesic/recall/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rankedHit(conversation core.ID, id core.ID, score float32) Hit {
	return Hit{
		Message: &core.Message{Id: id, ConversationId: conversation},
		Score:   score,
	}
}

func TestGroupHits_Bounds(t *testing.T) {
	// 20 hits spread over 6 conversations, ranked by score.
	hits := make([]Hit, 0, 20)
	for i := 0; i < 20; i++ {
		convo := core.ID(i%6 + 1)
		hits = append(hits, rankedHit(convo, core.ID(100+i), float32(20-i)))
	}

	groups := groupHits(hits, 3, 2)
	require.Len(t, groups, 3)
	for _, g := range groups {
		assert.LessOrEqual(t, len(g.Hits), 2)
		for _, h := range g.Hits {
			assert.Equal(t, g.Conversation.Id, h.Message.ConversationId)
		}
	}
}

func TestGroupHits_OuterOrderByBestScore(t *testing.T) {
	hits := []Hit{
		rankedHit(1, 10, 0.9),
		rankedHit(2, 20, 0.8),
		rankedHit(2, 21, 0.7),
		rankedHit(1, 11, 0.3),
	}

	groups := groupHits(hits, 5, 5)
	require.Len(t, groups, 2)
	assert.Equal(t, core.ID(1), groups[0].Conversation.Id)
	assert.Equal(t, core.ID(2), groups[1].Conversation.Id)

	// Inner order stays by fused score, not chronology.
	require.Len(t, groups[0].Hits, 2)
	assert.Equal(t, core.ID(10), groups[0].Hits[0].Message.Id)
	assert.Equal(t, core.ID(11), groups[0].Hits[1].Message.Id)
}

func TestGroupHits_PerConvoKeepsBest(t *testing.T) {
	hits := []Hit{
		rankedHit(1, 10, 0.9),
		rankedHit(1, 11, 0.8),
		rankedHit(1, 12, 0.7),
	}

	groups := groupHits(hits, 5, 2)
	require.Len(t, groups, 1)
	require.Len(t, groups[0].Hits, 2)
	assert.Equal(t, core.ID(10), groups[0].Hits[0].Message.Id)
	assert.Equal(t, core.ID(11), groups[0].Hits[1].Message.Id)
}

func TestGroupHits_Empty(t *testing.T) {
	assert.Nil(t, groupHits(nil, 3, 2))
}

func TestGroupHits_FewerConversationsThanCap(t *testing.T) {
	hits := []Hit{
		rankedHit(1, 10, 0.9),
		rankedHit(2, 20, 0.8),
	}
	groups := groupHits(hits, 10, 10)
	assert.Len(t, groups, 2)
}

func TestGroupHits_Deterministic(t *testing.T) {
	hits := make([]Hit, 0, 30)
	for i := 0; i < 30; i++ {
		hits = append(hits, rankedHit(core.ID(i%7+1), core.ID(i), float32(30-i)))
	}

	first := groupHits(hits, 4, 3)
	for run := 0; run < 5; run++ {
		again := groupHits(hits, 4, 3)
		require.Equal(t, len(first), len(again), "run %d", run)
		for i := range first {
			assert.Equal(t, first[i].Conversation.Id, again[i].Conversation.Id, fmt.Sprintf("run %d group %d", run, i))
			assert.Equal(t, first[i].Hits, again[i].Hits)
		}
	}
}
