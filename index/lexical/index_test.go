package lexical

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/poiesic/recall/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTestIndex(t *testing.T, messages ...*core.Message) *Index {
	t.Helper()
	b := NewBuilder()
	for _, m := range messages {
		b.Add(m)
	}
	return b.Build()
}

func testMessage(uid string, role core.Role, project string, ts time.Time, text string) *core.Message {
	return &core.Message{
		Id:             core.IDFromContent(uid),
		ConversationId: core.IDFromContent("c-" + uid),
		Role:           role,
		Project:        project,
		Timestamp:      ts,
		Text:           text,
	}
}

func TestIndex_Search_Relevance(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m1 := testMessage("m1", core.RoleUser, "", base, "Primerium cristaux rouges")
	m2 := testMessage("m2", core.RoleAssistant, "", base.Add(time.Hour), "Aristote philosophie grecque")
	m3 := testMessage("m3", core.RoleUser, "", base.Add(2*time.Hour), "recette de cuisine simple")

	idx := buildTestIndex(t, m1, m2, m3)
	require.Equal(t, 3, idx.Len())

	matches, err := idx.Search(context.Background(), "Primerium cristaux", core.Filter{}, 10)
	require.NoError(t, err)
	require.NotEmpty(t, matches)

	// The document containing both query terms ranks first.
	assert.Equal(t, m1.Id, matches[0].MessageId)
	for _, match := range matches {
		assert.NotEqual(t, m3.Id, match.MessageId, "unrelated document must not match")
	}
}

func TestIndex_Search_MultiTermUnion(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m1 := testMessage("m1", core.RoleUser, "", base, "Primerium cristaux")
	m2 := testMessage("m2", core.RoleAssistant, "", base.Add(time.Hour), "Aristote philosophie")

	idx := buildTestIndex(t, m1, m2)

	// A query mentioning terms from both documents returns both.
	matches, err := idx.Search(context.Background(), "Primerium Aristote cristaux", core.Filter{}, 10)
	require.NoError(t, err)
	require.Len(t, matches, 2)

	// m1 matches two query terms, m2 one: direct lexical overlap wins.
	assert.Equal(t, m1.Id, matches[0].MessageId)
	assert.Equal(t, m2.Id, matches[1].MessageId)
	assert.Greater(t, matches[0].Score, matches[1].Score)
}

func TestIndex_Search_EmptyQuery(t *testing.T) {
	idx := buildTestIndex(t, testMessage("m1", core.RoleUser, "", time.Now().UTC(), "hello world"))

	for _, query := range []string{"", "   ", "...", "the of and"} {
		matches, err := idx.Search(context.Background(), query, core.Filter{}, 10)
		require.NoError(t, err)
		assert.Empty(t, matches, "query %q should produce no candidates", query)
	}
}

func TestIndex_Search_EmptyIndex(t *testing.T) {
	idx := NewBuilder().Build()
	matches, err := idx.Search(context.Background(), "anything", core.Filter{}, 10)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestIndex_Search_Filters(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m1 := testMessage("m1", core.RoleUser, "Iris", base, "solstice monologue abbaye")
	m2 := testMessage("m2", core.RoleAssistant, "Iris", base.Add(time.Hour), "solstice counterpoint")
	m3 := testMessage("m3", core.RoleUser, "Dolores", base.Add(2*time.Hour), "solstice reprise")

	idx := buildTestIndex(t, m1, m2, m3)
	ctx := context.Background()

	user := core.RoleUser
	matches, err := idx.Search(ctx, "solstice", core.Filter{Role: &user}, 10)
	require.NoError(t, err)
	require.Len(t, matches, 2)

	matches, err = idx.Search(ctx, "solstice", core.Filter{Role: &user, Project: "Dolores"}, 10)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, m3.Id, matches[0].MessageId)

	since := base.Add(30 * time.Minute)
	until := base.Add(90 * time.Minute)
	matches, err = idx.Search(ctx, "solstice", core.Filter{Since: &since, Until: &until}, 10)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, m2.Id, matches[0].MessageId)
}

func TestIndex_Search_Limit(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	b := NewBuilder()
	for i := 0; i < 20; i++ {
		b.Add(testMessage(fmt.Sprintf("m%d", i), core.RoleUser, "", base.Add(time.Duration(i)*time.Minute), "solstice chant"))
	}
	idx := b.Build()

	matches, err := idx.Search(context.Background(), "solstice", core.Filter{}, 5)
	require.NoError(t, err)
	assert.Len(t, matches, 5)
}

func TestIndex_Search_Deterministic(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	b := NewBuilder()
	for i := 0; i < 30; i++ {
		// Identical texts and timestamps tie on score and recency; id
		// ordering must make the outcome stable anyway.
		b.Add(testMessage(fmt.Sprintf("m%d", i), core.RoleUser, "", base, "solstice chant"))
	}
	idx := b.Build()

	first, err := idx.Search(context.Background(), "solstice", core.Filter{}, 10)
	require.NoError(t, err)
	for run := 0; run < 5; run++ {
		again, err := idx.Search(context.Background(), "solstice", core.Filter{}, 10)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestIndex_SkipsUntokenizableMessages(t *testing.T) {
	idx := buildTestIndex(t,
		testMessage("m1", core.RoleUser, "", time.Now().UTC(), "!!! ... ???"),
		testMessage("m2", core.RoleUser, "", time.Now().UTC(), "actual words"),
	)
	assert.Equal(t, 1, idx.Len())
}

func TestIndex_Snapshot_RoundTrip(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	idx := buildTestIndex(t,
		testMessage("m1", core.RoleUser, "Iris", base, "Primerium cristaux"),
		testMessage("m2", core.RoleAssistant, "", base.Add(time.Hour), "Aristote philosophie"),
	)

	var buf bytes.Buffer
	require.NoError(t, idx.Save(&buf))

	loaded, err := Load(&buf)
	require.NoError(t, err)
	assert.Equal(t, idx.Len(), loaded.Len())
	assert.Equal(t, idx.Token(), loaded.Token())

	want, err := idx.Search(context.Background(), "Primerium cristaux", core.Filter{}, 10)
	require.NoError(t, err)
	got, err := loaded.Search(context.Background(), "Primerium cristaux", core.Filter{}, 10)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestLoad_RejectsBadVersion(t *testing.T) {
	var buf bytes.Buffer
	idx := NewBuilder().Build()
	require.NoError(t, idx.Save(&buf))

	// Corrupt the version string inside the payload.
	data := bytes.Replace(buf.Bytes(), []byte(snapshotFormatVersion), []byte("9.9.9"), 1)
	_, err := Load(bytes.NewReader(data))
	assert.ErrorIs(t, err, ErrSnapshotVersion)
}

func TestTokenize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{name: "lowercases and strips punctuation", in: "Primerium, Cristaux!", want: []string{"primerium", "cristaux"}},
		{name: "drops stop words", in: "the cat and the hat", want: []string{"cat", "hat"}},
		{name: "keeps numbers", in: "universe 01", want: []string{"universe", "01"}},
		{name: "empty", in: "  ", want: []string{}},
		{name: "only stop words", in: "the of and", want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Tokenize(tt.in)
			assert.Equal(t, tt.want, got)
		})
	}
}
