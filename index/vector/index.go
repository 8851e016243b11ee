// Copyright 2025 The Poiesic Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package vector provides an immutable flat cosine-similarity index over
// message embeddings. Vectors are unit-normalized at build time so a
// search reduces to a dot product per document.
package vector

import (
	"context"
	"math"
	"sort"

	"github.com/poiesic/recall/core"
)

type docEntry struct {
	ID      core.ID
	Role    core.Role
	Project string
	Unix    int64
	Vector  []float32
}

// Builder accumulates embedded messages for a single index build.
// It is not safe for concurrent use.
type Builder struct {
	dim  int
	docs []docEntry
}

func NewBuilder() *Builder {
	return &Builder{}
}

// Add registers a message's embedding. Messages without a vector, or
// whose vector dimension disagrees with the first one added, are
// skipped: a dimension mismatch means the embedding model changed and
// the message awaits re-embedding.
func (b *Builder) Add(m *core.Message) {
	if len(m.Vector) == 0 {
		return
	}
	if b.dim == 0 {
		b.dim = len(m.Vector)
	}
	if len(m.Vector) != b.dim {
		return
	}

	normalized := normalize(m.Vector)
	if normalized == nil {
		return
	}
	b.docs = append(b.docs, docEntry{
		ID:      m.Id,
		Role:    m.Role,
		Project: m.Project,
		Unix:    m.Timestamp.UnixMicro(),
		Vector:  normalized,
	})
}

// Build freezes the accumulated documents into an immutable Index.
func (b *Builder) Build() *Index {
	docs := b.docs
	b.docs = nil
	return &Index{dim: b.dim, docs: docs}
}

// Index answers nearest-neighbor queries over a fixed set of unit
// vectors. It is immutable after Build and safe for concurrent reads.
type Index struct {
	dim  int
	docs []docEntry
}

// Len returns the number of indexed documents.
func (idx *Index) Len() int {
	return len(idx.docs)
}

// Dim returns the embedding dimension, or 0 for an empty index.
func (idx *Index) Dim() int {
	return idx.dim
}

// Search scores every document against the query vector and returns
// the top matches passing the filter, best first. Scores are cosine
// similarities. An empty index, an empty query, or a dimension
// mismatch yields no matches.
func (idx *Index) Search(ctx context.Context, query []float32, filter core.Filter, limit int) ([]core.Match, error) {
	if len(idx.docs) == 0 || len(query) != idx.dim || limit <= 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	q := normalize(query)
	if q == nil {
		return nil, nil
	}

	var sinceUnix, untilUnix int64
	if filter.Since != nil {
		sinceUnix = filter.Since.UnixMicro()
	}
	if filter.Until != nil {
		untilUnix = filter.Until.UnixMicro()
	}

	matches := make([]core.Match, 0, limit)
	for i := range idx.docs {
		doc := &idx.docs[i]
		if filter.Role != nil && doc.Role != *filter.Role {
			continue
		}
		if filter.Project != "" && doc.Project != filter.Project {
			continue
		}
		if filter.Since != nil && doc.Unix < sinceUnix {
			continue
		}
		if filter.Until != nil && doc.Unix > untilUnix {
			continue
		}
		matches = append(matches, core.Match{
			MessageId: doc.ID,
			Score:     dotProduct(q, doc.Vector),
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].MessageId < matches[j].MessageId
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func dotProduct(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// normalize returns a unit-length copy of v, or nil for a zero vector.
func normalize(v []float32) []float32 {
	var sumSquares float64
	for _, x := range v {
		sumSquares += float64(x) * float64(x)
	}
	if sumSquares == 0 {
		return nil
	}
	inv := float32(1 / math.Sqrt(sumSquares))
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x * inv
	}
	return out
}
