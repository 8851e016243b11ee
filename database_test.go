package recall

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/poiesic/recall/ai/mock"
	"github.com/poiesic/recall/config"
	"github.com/poiesic/recall/core"
	"github.com/poiesic/recall/search"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDatabase(t *testing.T, embedder *mock.MockEmbedder) *Database {
	t.Helper()

	db, err := NewDatabase("", WithInMemory(), WithEmbedder(embedder))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestDatabase_EndToEnd(t *testing.T) {
	// Pin the embedding space so the semantic signal agrees with the
	// lexical one: the Primerium message and the query share an axis,
	// the Aristote message sits on the other.
	embedder := mock.NewMockEmbedder()
	embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		vectors := make([][]float32, len(texts))
		for i, text := range texts {
			if strings.Contains(text, "Primerium") {
				vectors[i] = []float32{1, 0}
			} else {
				vectors[i] = []float32{0, 1}
			}
		}
		return vectors, nil
	}
	embedder.EmbedTextFunc = func(ctx context.Context, text string) ([]float32, error) {
		return []float32{1, 0}, nil
	}

	db := newTestDatabase(t, embedder)
	ctx := context.Background()

	pipeline, err := db.NewIngestionPipeline()
	require.NoError(t, err)
	defer pipeline.Release()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	stats, err := pipeline.Ingest(ctx, []*core.Message{
		{
			Id:             core.IDFromContent("m1"),
			ConversationId: core.IDFromContent("c1"),
			Role:           core.RoleUser,
			Timestamp:      base,
			Text:           "Primerium cristaux rouges",
		},
		{
			Id:             core.IDFromContent("m2"),
			ConversationId: core.IDFromContent("c1"),
			Role:           core.RoleAssistant,
			Timestamp:      base.Add(time.Minute),
			Text:           "Aristote philosophie grecque",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Stored)
	assert.Equal(t, 2, stats.Embedded)

	engine, err := db.NewSearchEngine()
	require.NoError(t, err)
	require.NoError(t, engine.Refresh(ctx))

	result, err := engine.Search(ctx, search.Request{Terms: "Primerium cristaux"})
	require.NoError(t, err)
	require.NotEmpty(t, result.Hits)
	assert.Equal(t, core.IDFromContent("m1"), result.Hits[0].Message.Id)

	recorder, err := db.NewLedgerRecorder()
	require.NoError(t, err)
	require.NoError(t, recorder.Record(ctx, "refresh", nil, func(ctx context.Context) error {
		return engine.Refresh(ctx)
	}))
	events, err := recorder.Recent(ctx, 5)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "refresh", events[0].Kind)
}

func TestOpen_AppliesConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Database.InMemory = true
	cfg.Search.LexicalWeight = 0.8
	cfg.Search.SemanticWeight = 0.2

	db, err := Open(cfg, WithEmbedder(mock.NewMockEmbedder()))
	require.NoError(t, err)
	defer db.Close()

	engine, err := db.NewSearchEngine()
	require.NoError(t, err)
	assert.NotNil(t, engine)
}

func TestDatabase_RepositoriesShareBackend(t *testing.T) {
	db := newTestDatabase(t, mock.NewMockEmbedder())
	ctx := context.Background()

	_, err := db.MessageRepository().AddMessages(ctx, &core.Message{
		Id:             core.IDFromContent("m1"),
		ConversationId: core.IDFromContent("c1"),
		Role:           core.RoleUser,
		Timestamp:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Text:           "hello",
	})
	require.NoError(t, err)

	convo, err := db.ConversationRepository().GetConversation(ctx, core.IDFromContent("c1"))
	require.NoError(t, err)
	assert.Equal(t, 1, convo.MessageCount)
}
