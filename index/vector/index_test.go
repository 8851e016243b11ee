package vector

import (
	"context"
	"testing"
	"time"

	"github.com/poiesic/recall/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vecMessage(uid string, role core.Role, project string, ts time.Time, vec []float32) *core.Message {
	return &core.Message{
		Id:             core.IDFromContent(uid),
		ConversationId: core.IDFromContent("c-" + uid),
		Role:           role,
		Project:        project,
		Timestamp:      ts,
		Text:           uid,
		Vector:         vec,
	}
}

func TestIndex_Search_NearestFirst(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	b := NewBuilder()
	b.Add(vecMessage("east", core.RoleUser, "", base, []float32{1, 0, 0}))
	b.Add(vecMessage("north", core.RoleUser, "", base, []float32{0, 1, 0}))
	b.Add(vecMessage("northeast", core.RoleUser, "", base, []float32{1, 1, 0}))
	idx := b.Build()
	require.Equal(t, 3, idx.Len())
	require.Equal(t, 3, idx.Dim())

	matches, err := idx.Search(context.Background(), []float32{1, 0.1, 0}, core.Filter{}, 2)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, core.IDFromContent("east"), matches[0].MessageId)
	assert.Equal(t, core.IDFromContent("northeast"), matches[1].MessageId)
	assert.Greater(t, matches[0].Score, matches[1].Score)
}

func TestIndex_Search_ScoreIsCosine(t *testing.T) {
	b := NewBuilder()
	// Magnitude must not matter: a long vector in the same direction
	// scores identically to a short one.
	b.Add(vecMessage("long", core.RoleUser, "", time.Now().UTC(), []float32{100, 0}))
	idx := b.Build()

	matches, err := idx.Search(context.Background(), []float32{0.5, 0}, core.Filter{}, 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-5)
}

func TestBuilder_SkipsUnembeddedAndMismatched(t *testing.T) {
	base := time.Now().UTC()
	b := NewBuilder()
	b.Add(vecMessage("plain", core.RoleUser, "", base, nil))
	b.Add(vecMessage("ok", core.RoleUser, "", base, []float32{1, 0, 0}))
	b.Add(vecMessage("old-model", core.RoleUser, "", base, []float32{1, 0}))
	b.Add(vecMessage("zero", core.RoleUser, "", base, []float32{0, 0, 0}))
	idx := b.Build()

	assert.Equal(t, 1, idx.Len())
	assert.Equal(t, 3, idx.Dim())
}

func TestIndex_Search_Filters(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	b := NewBuilder()
	b.Add(vecMessage("m1", core.RoleUser, "Iris", base, []float32{1, 0}))
	b.Add(vecMessage("m2", core.RoleAssistant, "Iris", base.Add(time.Hour), []float32{1, 0}))
	b.Add(vecMessage("m3", core.RoleUser, "Dolores", base.Add(2*time.Hour), []float32{1, 0}))
	idx := b.Build()
	ctx := context.Background()
	query := []float32{1, 0}

	user := core.RoleUser
	matches, err := idx.Search(ctx, query, core.Filter{Role: &user}, 10)
	require.NoError(t, err)
	assert.Len(t, matches, 2)

	matches, err = idx.Search(ctx, query, core.Filter{Project: "Dolores"}, 10)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, core.IDFromContent("m3"), matches[0].MessageId)

	// Time bounds are inclusive on both ends.
	since := base.Add(time.Hour)
	until := base.Add(time.Hour)
	matches, err = idx.Search(ctx, query, core.Filter{Since: &since, Until: &until}, 10)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, core.IDFromContent("m2"), matches[0].MessageId)
}

func TestIndex_Search_Edges(t *testing.T) {
	empty := NewBuilder().Build()
	matches, err := empty.Search(context.Background(), []float32{1, 0}, core.Filter{}, 10)
	require.NoError(t, err)
	assert.Empty(t, matches)

	b := NewBuilder()
	b.Add(vecMessage("m1", core.RoleUser, "", time.Now().UTC(), []float32{1, 0}))
	idx := b.Build()

	// Dimension mismatch between query and index.
	matches, err = idx.Search(context.Background(), []float32{1, 0, 0}, core.Filter{}, 10)
	require.NoError(t, err)
	assert.Empty(t, matches)

	matches, err = idx.Search(context.Background(), []float32{1, 0}, core.Filter{}, 0)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestIndex_Search_CanceledContext(t *testing.T) {
	b := NewBuilder()
	b.Add(vecMessage("m1", core.RoleUser, "", time.Now().UTC(), []float32{1, 0}))
	idx := b.Build()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := idx.Search(ctx, []float32{1, 0}, core.Filter{}, 10)
	assert.ErrorIs(t, err, context.Canceled)
}
