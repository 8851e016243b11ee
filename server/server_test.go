package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/poiesic/recall/ai/mock"
	"github.com/poiesic/recall/core"
	"github.com/poiesic/recall/ledger"
	"github.com/poiesic/recall/search"
	"github.com/poiesic/recall/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*httptest.Server, *ledger.Recorder) {
	t.Helper()

	messages, conversations, backend, err := badger.NewMemoryRepositories()
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })

	embedder := mock.NewMockEmbedder()
	embedder.EmbedTextFunc = func(ctx context.Context, text string) ([]float32, error) {
		return []float32{1, 0}, nil
	}

	engine, err := search.NewEngine(messages, conversations, embedder)
	require.NoError(t, err)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	msgs := make([]*core.Message, 0, 10)
	for i := 0; i < 10; i++ {
		role := core.RoleUser
		if i%2 == 1 {
			role = core.RoleAssistant
		}
		msgs = append(msgs, &core.Message{
			Id:             core.IDFromContent(fmt.Sprintf("m%d", i)),
			ConversationId: core.IDFromContent(fmt.Sprintf("c%d", i%3)),
			Role:           role,
			Timestamp:      base.Add(time.Duration(i) * time.Minute),
			Text:           "Primerium cristaux entry",
			Vector:         []float32{1, 0},
		})
	}
	_, err = messages.AddMessages(context.Background(), msgs...)
	require.NoError(t, err)
	require.NoError(t, engine.Refresh(context.Background()))

	recorder, err := ledger.NewRecorder(badger.NewLedgerRepository(backend))
	require.NoError(t, err)

	srv, err := NewServer(engine, recorder)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, recorder
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp.StatusCode
}

func TestSearchEndpoint_Flat(t *testing.T) {
	ts, _ := newTestServer(t)

	var resp struct {
		Hits []struct {
			Id    string  `json:"id"`
			Text  string  `json:"text"`
			Score float32 `json:"score"`
		} `json:"hits"`
		Counts struct {
			Merged int `json:"merged"`
		} `json:"counts"`
	}
	status := getJSON(t, ts.URL+"/api/search?q=Primerium&top=5", &resp)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, resp.Hits, 5)
	assert.Equal(t, 5, resp.Counts.Merged)
	assert.NotEmpty(t, resp.Hits[0].Id)
}

func TestSearchEndpoint_BrowseWithFilters(t *testing.T) {
	ts, _ := newTestServer(t)

	var resp struct {
		Hits []struct {
			Role string `json:"role"`
		} `json:"hits"`
	}
	status := getJSON(t, ts.URL+"/api/search?role=user&top=3", &resp)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, resp.Hits, 3)
	for _, h := range resp.Hits {
		assert.Equal(t, "user", h.Role)
	}
}

func TestSearchEndpoint_Grouped(t *testing.T) {
	ts, _ := newTestServer(t)

	var resp struct {
		Groups []struct {
			Conversation struct {
				Id           string `json:"id"`
				MessageCount int    `json:"message_count"`
			} `json:"conversation"`
			Hits []struct {
				Id string `json:"id"`
			} `json:"hits"`
		} `json:"groups"`
	}
	status := getJSON(t, ts.URL+"/api/search?q=Primerium&group=true&convos=2&per_convo=2", &resp)
	require.Equal(t, http.StatusOK, status)
	require.NotEmpty(t, resp.Groups)
	assert.LessOrEqual(t, len(resp.Groups), 2)
	for _, g := range resp.Groups {
		assert.LessOrEqual(t, len(g.Hits), 2)
		assert.NotZero(t, g.Conversation.MessageCount)
	}
}

func TestSearchEndpoint_ValidationErrors(t *testing.T) {
	ts, _ := newTestServer(t)

	for _, url := range []string{
		"/api/search?q=x&role=narrator",
		"/api/search?q=x&since=2024-06-01&until=2024-01-01",
		"/api/search?q=x&top=nope",
	} {
		var resp struct {
			Error string `json:"error"`
		}
		status := getJSON(t, ts.URL+url, &resp)
		assert.Equal(t, http.StatusBadRequest, status, url)
		assert.NotEmpty(t, resp.Error, url)
	}
}

func TestGetMessageEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)
	id := core.IDFromContent("m0")

	var resp struct {
		Id   string `json:"id"`
		Text string `json:"text"`
	}
	status := getJSON(t, ts.URL+"/api/messages/"+strconv.FormatUint(uint64(id), 10), &resp)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Primerium cristaux entry", resp.Text)

	var errResp struct {
		Error string `json:"error"`
	}
	status = getJSON(t, ts.URL+"/api/messages/42", &errResp)
	assert.Equal(t, http.StatusNotFound, status)

	status = getJSON(t, ts.URL+"/api/messages/not-a-number", &errResp)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestLedgerEndpoint(t *testing.T) {
	ts, recorder := newTestServer(t)

	require.NoError(t, recorder.Record(context.Background(), "ingest", map[string]string{"source": "x.jsonl"}, func(ctx context.Context) error {
		return nil
	}))

	var resp struct {
		Events []struct {
			Kind   string `json:"kind"`
			Status string `json:"status"`
		} `json:"events"`
	}
	status := getJSON(t, ts.URL+"/api/ledger", &resp)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, resp.Events, 1)
	assert.Equal(t, "ingest", resp.Events[0].Kind)
	assert.Equal(t, "ok", resp.Events[0].Status)
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	ts, _ := newTestServer(t)

	var health struct {
		Status string `json:"status"`
	}
	status := getJSON(t, ts.URL+"/healthz", &health)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", health.Status)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
