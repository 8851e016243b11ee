package mock

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockEmbedder_Deterministic(t *testing.T) {
	m := NewMockEmbedder()
	ctx := context.Background()

	first, err := m.EmbedText(ctx, "the same text")
	require.NoError(t, err)
	second, err := m.EmbedText(ctx, "the same text")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, first, vectorDim)
	assert.Equal(t, 2, m.CallCount())
}

func TestMockEmbedder_ConcurrentCallCount(t *testing.T) {
	m := NewMockEmbedder()
	ctx := context.Background()

	// The ingestion pool drives EmbedTexts from several workers at once;
	// the counter must survive that.
	const workers = 16
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := m.EmbedTexts(ctx, []string{fmt.Sprintf("batch %d", i)})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, workers, m.CallCount())
}

func TestMockEmbedder_Reset(t *testing.T) {
	m := NewMockEmbedder()
	m.EmbedTextFunc = func(ctx context.Context, text string) ([]float32, error) {
		return []float32{1}, nil
	}

	_, err := m.EmbedText(context.Background(), "x")
	require.NoError(t, err)
	require.Equal(t, 1, m.CallCount())

	m.Reset()
	assert.Equal(t, 0, m.CallCount())
	assert.Nil(t, m.EmbedTextFunc)
}
