package search

import (
	"sort"

	"github.com/poiesic/recall/core"
)

// Group is one conversation's slice of a grouped result. Hits keep
// fused-score order; the group's rank among groups is decided by its
// best hit.
type Group struct {
	Conversation *core.Conversation
	Hits         []Hit
}

// groupHits buckets ranked hits by conversation, keeps at most perConvo
// hits per conversation, and returns the top convos conversations
// ordered by their best fused score. It is a pure transform over an
// already-ranked hit list.
func groupHits(hits []Hit, convos, perConvo int) []Group {
	if len(hits) == 0 || convos <= 0 || perConvo <= 0 {
		return nil
	}

	type bucket struct {
		conversationId core.ID
		best           float32
		hits           []Hit
	}

	buckets := make(map[core.ID]*bucket)
	order := make([]*bucket, 0)
	for _, hit := range hits {
		id := hit.Message.ConversationId
		b, ok := buckets[id]
		if !ok {
			// Hits arrive in rank order, so the first hit seen for a
			// conversation carries its best score.
			b = &bucket{conversationId: id, best: hit.Score}
			buckets[id] = b
			order = append(order, b)
		}
		if len(b.hits) < perConvo {
			b.hits = append(b.hits, hit)
		}
	}

	sort.SliceStable(order, func(i, j int) bool {
		return order[i].best > order[j].best
	})
	if len(order) > convos {
		order = order[:convos]
	}

	groups := make([]Group, 0, len(order))
	for _, b := range order {
		groups = append(groups, Group{
			Conversation: &core.Conversation{Id: b.conversationId},
			Hits:         b.hits,
		})
	}
	return groups
}
