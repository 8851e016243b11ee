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
	"sort"

	"github.com/poiesic/recall/core"
)

// Weights control how much each signal contributes to the fused score.
type Weights struct {
	Lexical  float32
	Semantic float32
}

// DefaultWeights weighs both signals equally.
func DefaultWeights() Weights {
	return Weights{Lexical: 0.5, Semantic: 0.5}
}

// Hit is one ranked search result. The per-signal scores are the raw
// values from each index; HasLexical/HasSemantic report whether the
// message was found by that signal at all.
type Hit struct {
	Message *core.Message

	// Score is the fused relevance score in [0, 1].
	Score float32

	LexicalScore  float32
	HasLexical    bool
	SemanticScore float32
	HasSemantic   bool
}

// candidate carries per-signal scores for one message id between the
// union and ranking stages.
type candidate struct {
	id          core.ID
	fused       float32
	lexical     float32
	hasLexical  bool
	semantic    float32
	hasSemantic bool
}

// fuseCandidates unions the two candidate lists and computes fused
// scores. Each signal is min-max normalized to [0, 1] within the batch
// before weighting, so the raw score scales of the two engines cannot
// dominate each other. A candidate missing a signal contributes 0 for it
// but stays eligible.
func fuseCandidates(lexical, semantic []core.Match, weights Weights) []candidate {
	if len(lexical) == 0 && len(semantic) == 0 {
		return nil
	}

	byID := make(map[core.ID]*candidate, len(lexical)+len(semantic))
	for _, m := range lexical {
		byID[m.MessageId] = &candidate{id: m.MessageId, lexical: m.Score, hasLexical: true}
	}
	for _, m := range semantic {
		if c, ok := byID[m.MessageId]; ok {
			c.semantic = m.Score
			c.hasSemantic = true
			continue
		}
		byID[m.MessageId] = &candidate{id: m.MessageId, semantic: m.Score, hasSemantic: true}
	}

	lexNorm := newNormalizer(lexical)
	semNorm := newNormalizer(semantic)

	out := make([]candidate, 0, len(byID))
	for _, c := range byID {
		var fused float32
		if c.hasLexical {
			fused += weights.Lexical * lexNorm.normalize(c.lexical)
		}
		if c.hasSemantic {
			fused += weights.Semantic * semNorm.normalize(c.semantic)
		}
		c.fused = fused
		out = append(out, *c)
	}
	return out
}

type normalizer struct {
	min, max float32
}

func newNormalizer(matches []core.Match) normalizer {
	n := normalizer{}
	for i, m := range matches {
		if i == 0 || m.Score < n.min {
			n.min = m.Score
		}
		if i == 0 || m.Score > n.max {
			n.max = m.Score
		}
	}
	return n
}

// normalize maps a raw score onto [0, 1] within the observed batch.
// When every score in the batch is identical, presence is the only
// signal left, so all of them normalize to 1.
func (n normalizer) normalize(score float32) float32 {
	if n.max == n.min {
		return 1.0
	}
	return (score - n.min) / (n.max - n.min)
}

// rankHits orders fused candidates and materializes the top hits.
// Ordering is fused score descending, then more recent timestamp, then
// message id, so identical inputs always rank identically. Candidates
// whose message is absent from the map are dropped.
func rankHits(candidates []candidate, messages map[core.ID]*core.Message, topK int) []Hit {
	kept := make([]candidate, 0, len(candidates))
	for _, c := range candidates {
		if messages[c.id] != nil {
			kept = append(kept, c)
		}
	}

	sort.Slice(kept, func(i, j int) bool {
		if kept[i].fused != kept[j].fused {
			return kept[i].fused > kept[j].fused
		}
		ti := messages[kept[i].id].Timestamp
		tj := messages[kept[j].id].Timestamp
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return kept[i].id < kept[j].id
	})
	if len(kept) > topK {
		kept = kept[:topK]
	}

	hits := make([]Hit, 0, len(kept))
	for _, c := range kept {
		hits = append(hits, Hit{
			Message:       messages[c.id],
			Score:         c.fused,
			LexicalScore:  c.lexical,
			HasLexical:    c.hasLexical,
			SemanticScore: c.semantic,
			HasSemantic:   c.hasSemantic,
		})
	}
	return hits
}
