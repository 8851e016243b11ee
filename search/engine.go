// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package search

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/poiesic/recall/ai"
	"github.com/poiesic/recall/core"
	"github.com/poiesic/recall/index/lexical"
	"github.com/poiesic/recall/index/vector"
	"github.com/poiesic/recall/storage"
)

// Warnings attached to degraded results.
const (
	WarnLexicalUnavailable  = "lexical index unavailable"
	WarnSemanticUnavailable = "semantic index unavailable"
)

// defaultSubQueryTimeout bounds each per-index sub-query so one slow
// signal degrades the result instead of stalling the whole request.
const defaultSubQueryTimeout = 5 * time.Second

// Counts reports how many candidates each stage produced.
type Counts struct {
	Lexical  int
	Semantic int
	Merged   int
}

// Result is a flat ranked search result.
type Result struct {
	Hits     []Hit
	Counts   Counts
	Warnings []string
}

// GroupedResult is a search result bucketed by conversation.
type GroupedResult struct {
	Groups   []Group
	Counts   Counts
	Warnings []string
}

// Engine answers hybrid search queries over the corpus. It owns
// immutable snapshots of the lexical and semantic indexes, swapped
// atomically on Refresh so queries in flight always observe a
// consistent index state.
type Engine struct {
	messages      storage.MessageRepository
	conversations storage.ConversationRepository
	embedder      ai.Embedder

	weights         Weights
	subQueryTimeout time.Duration
	snapshotPath    string
	logger          *slog.Logger

	lexIndex atomic.Pointer[lexical.Index]
	vecIndex atomic.Pointer[vector.Index]

	// refreshMu serializes index rebuilds; queries never take it.
	refreshMu sync.Mutex
	lexToken  lexical.Token
}

// Option configures an Engine.
type Option func(*Engine) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) error {
		if logger == nil {
			logger = slog.Default()
		}
		e.logger = logger
		return nil
	}
}

// WithWeights sets the fusion weights. Default is DefaultWeights.
func WithWeights(w Weights) Option {
	return func(e *Engine) error {
		e.weights = w
		return nil
	}
}

// WithSubQueryTimeout sets the per-index sub-query deadline.
func WithSubQueryTimeout(d time.Duration) Option {
	return func(e *Engine) error {
		if d > 0 {
			e.subQueryTimeout = d
		}
		return nil
	}
}

// WithSnapshotPath enables persisting the lexical index to the given
// file after each Refresh, and loading it via LoadLexicalSnapshot.
func WithSnapshotPath(path string) Option {
	return func(e *Engine) error {
		e.snapshotPath = path
		return nil
	}
}

// NewEngine creates a search engine over the given repositories and
// embedder. The indexes start empty; call Refresh (or
// LoadLexicalSnapshot) before expecting term queries to match.
func NewEngine(
	messages storage.MessageRepository,
	conversations storage.ConversationRepository,
	embedder ai.Embedder,
	opts ...Option,
) (*Engine, error) {
	if messages == nil {
		return nil, ErrMessageRepositoryRequired
	}
	if conversations == nil {
		return nil, ErrConversationRepositoryRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}

	e := &Engine{
		messages:        messages,
		conversations:   conversations,
		embedder:        embedder,
		weights:         DefaultWeights(),
		subQueryTimeout: defaultSubQueryTimeout,
		logger:          slog.Default().With("component", "search-engine"),
	}

	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}

	return e, nil
}

// Refresh rebuilds both indexes from a single scan of the corpus and
// swaps them in atomically. Queries running concurrently keep reading
// the previous snapshots until the swap.
func (e *Engine) Refresh(ctx context.Context) error {
	e.refreshMu.Lock()
	defer e.refreshMu.Unlock()

	start := time.Now()
	lexBuilder := lexical.NewBuilder()
	vecBuilder := vector.NewBuilder()

	err := e.messages.ForEachMessage(ctx, func(m *core.Message) error {
		lexBuilder.Add(m)
		vecBuilder.Add(m)
		return nil
	})
	if err != nil {
		e.logger.Error("index rebuild failed", "err", err)
		return err
	}

	lexIdx := lexBuilder.Build()
	vecIdx := vecBuilder.Build()
	e.lexIndex.Store(lexIdx)
	e.vecIndex.Store(vecIdx)

	e.logger.Info("indexes rebuilt",
		"lexicalDocs", lexIdx.Len(),
		"vectorDocs", vecIdx.Len(),
		"elapsed", time.Since(start))

	if e.snapshotPath != "" && lexIdx.Token() != e.lexToken {
		if err := e.saveLexicalSnapshot(lexIdx); err != nil {
			e.logger.Warn("failed to persist lexical snapshot", "path", e.snapshotPath, "err", err)
		} else {
			e.lexToken = lexIdx.Token()
		}
	}
	return nil
}

// LoadLexicalSnapshot installs a previously persisted lexical index so
// term queries work before the first Refresh. The semantic index still
// requires a Refresh.
func (e *Engine) LoadLexicalSnapshot() error {
	f, err := os.Open(e.snapshotPath)
	if err != nil {
		return err
	}
	defer f.Close()

	idx, err := lexical.Load(f)
	if err != nil {
		return err
	}

	e.refreshMu.Lock()
	defer e.refreshMu.Unlock()
	e.lexIndex.Store(idx)
	e.lexToken = idx.Token()
	e.logger.Info("lexical snapshot loaded", "path", e.snapshotPath, "docs", idx.Len())
	return nil
}

func (e *Engine) saveLexicalSnapshot(idx *lexical.Index) error {
	tmp := e.snapshotPath + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := idx.Save(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, e.snapshotPath)
}

// GetMessage retrieves a single message by id. Returns
// storage.ErrNotFound for unknown ids, distinct from an empty search.
func (e *Engine) GetMessage(ctx context.Context, id core.ID) (*core.Message, error) {
	return e.messages.GetMessage(ctx, id)
}

// Search runs a flat hybrid query and returns up to top_k ranked hits.
func (e *Engine) Search(ctx context.Context, req Request) (*Result, error) {
	return e.SearchWithMonitor(ctx, req, nil)
}

// SearchWithMonitor is Search with per-stage observation callbacks.
func (e *Engine) SearchWithMonitor(ctx context.Context, req Request, monitor Monitor) (*Result, error) {
	if monitor == nil {
		monitor = &noopMonitor{}
	}

	q, err := PlanQuery(req)
	if err != nil {
		return nil, err
	}
	monitor.Start(q)

	hits, counts, warnings, err := e.run(ctx, q, monitor)
	if err != nil {
		return nil, err
	}
	monitor.Finish(hits)

	return &Result{Hits: hits, Counts: counts, Warnings: warnings}, nil
}

// SearchGrouped runs a query and buckets the ranked hits by
// conversation, most relevant conversation first.
func (e *Engine) SearchGrouped(ctx context.Context, req Request) (*GroupedResult, error) {
	return e.SearchGroupedWithMonitor(ctx, req, nil)
}

// SearchGroupedWithMonitor is SearchGrouped with observation callbacks.
func (e *Engine) SearchGroupedWithMonitor(ctx context.Context, req Request, monitor Monitor) (*GroupedResult, error) {
	if monitor == nil {
		monitor = &noopMonitor{}
	}

	req.Group = true
	q, err := PlanQuery(req)
	if err != nil {
		return nil, err
	}
	monitor.Start(q)

	hits, counts, warnings, err := e.run(ctx, q, monitor)
	if err != nil {
		return nil, err
	}
	monitor.Finish(hits)

	groups := groupHits(hits, q.Convos, q.PerConvo)
	e.attachConversations(ctx, groups)

	return &GroupedResult{Groups: groups, Counts: counts, Warnings: warnings}, nil
}

// run executes the planned query: a recency scan in browse mode, the
// concurrent two-index pipeline otherwise.
func (e *Engine) run(ctx context.Context, q *Query, monitor Monitor) ([]Hit, Counts, []string, error) {
	if q.Browse() {
		hits, err := e.browse(ctx, q)
		if err != nil {
			return nil, Counts{}, nil, err
		}
		return hits, Counts{Merged: len(hits)}, nil, nil
	}
	return e.hybrid(ctx, q, monitor)
}

// browse answers a term-less query with a filtered scan of the corpus
// by timestamp descending. Neither index is consulted.
func (e *Engine) browse(ctx context.Context, q *Query) ([]Hit, error) {
	messages, err := e.messages.GetRecentMessages(ctx, q.Filter, q.TopK)
	if err != nil {
		e.logger.Error("browse scan failed", "err", err)
		return nil, err
	}

	hits := make([]Hit, 0, len(messages))
	for _, m := range messages {
		hits = append(hits, Hit{Message: m})
	}
	return hits, nil
}

// hybrid dispatches the lexical and semantic sub-queries concurrently,
// joins them, and fuses the candidates into one ranked list.
//
// Degradation rules: a missing index contributes nothing and adds a
// warning; an embedding failure silently reduces the query to
// lexical-only. Only storage errors fail the whole request.
func (e *Engine) hybrid(ctx context.Context, q *Query, monitor Monitor) ([]Hit, Counts, []string, error) {
	lexIdx := e.lexIndex.Load()
	vecIdx := e.vecIndex.Load()

	var warnings []string
	if lexIdx == nil {
		warnings = append(warnings, WarnLexicalUnavailable)
		monitor.Degraded("lexical", "index unavailable")
	}
	if vecIdx == nil {
		warnings = append(warnings, WarnSemanticUnavailable)
		monitor.Degraded("semantic", "index unavailable")
	}

	// Sub-query failures are recorded here and reported to the monitor
	// only after the join, so Monitor implementations never see
	// concurrent calls.
	var (
		wg         sync.WaitGroup
		lexMatches []core.Match
		semMatches []core.Match
		lexFailure error
		semFailure error
	)

	if lexIdx != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			subCtx, cancel := context.WithTimeout(ctx, e.subQueryTimeout)
			defer cancel()

			matches, err := lexIdx.Search(subCtx, q.Terms, q.Filter, q.Fanout)
			if err != nil {
				e.logger.Warn("lexical sub-query failed", "err", err)
				lexFailure = err
				return
			}
			lexMatches = matches
		}()
	}

	if vecIdx != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			subCtx, cancel := context.WithTimeout(ctx, e.subQueryTimeout)
			defer cancel()

			embedding, err := e.embedder.EmbedText(subCtx, q.Terms)
			if err != nil {
				// Expected degradation: hybrid quietly becomes lexical-only.
				e.logger.Debug("query embedding unavailable", "err", err)
				semFailure = err
				return
			}

			matches, err := vecIdx.Search(subCtx, embedding, q.Filter, q.Fanout)
			if err != nil {
				e.logger.Warn("semantic sub-query failed", "err", err)
				semFailure = err
				return
			}
			semMatches = matches
		}()
	}

	wg.Wait()
	if lexFailure != nil {
		monitor.Degraded("lexical", lexFailure.Error())
	}
	if semFailure != nil {
		monitor.Degraded("semantic", semFailure.Error())
	}
	monitor.AfterLexicalSearch(lexMatches)
	monitor.AfterSemanticSearch(semMatches)

	counts := Counts{Lexical: len(lexMatches), Semantic: len(semMatches)}

	candidates := fuseCandidates(lexMatches, semMatches, e.weights)
	if len(candidates) == 0 {
		return nil, counts, warnings, nil
	}

	ids := make([]core.ID, 0, len(candidates))
	for _, c := range candidates {
		ids = append(ids, c.id)
	}
	records, err := e.messages.GetMessages(ctx, ids...)
	if err != nil {
		e.logger.Error("failed to load candidate messages", "count", len(ids), "err", err)
		return nil, Counts{}, nil, err
	}
	byID := make(map[core.ID]*core.Message, len(records))
	for _, m := range records {
		byID[m.Id] = m
	}

	hits := rankHits(candidates, byID, q.TopK)
	counts.Merged = len(hits)
	return hits, counts, warnings, nil
}

// attachConversations replaces the placeholder conversation stubs in
// groups with stored conversation records where available.
func (e *Engine) attachConversations(ctx context.Context, groups []Group) {
	if len(groups) == 0 {
		return
	}

	ids := make([]core.ID, 0, len(groups))
	for _, g := range groups {
		ids = append(ids, g.Conversation.Id)
	}
	conversations, err := e.conversations.GetConversations(ctx, ids...)
	if err != nil {
		e.logger.Warn("failed to load conversation records", "err", err)
		return
	}

	byID := make(map[core.ID]*core.Conversation, len(conversations))
	for _, c := range conversations {
		byID[c.Id] = c
	}
	for i := range groups {
		if c := byID[groups[i].Conversation.Id]; c != nil {
			groups[i].Conversation = c
		}
	}
}
