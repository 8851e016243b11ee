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


// Package search provides hybrid lexical and semantic retrieval over the
// message corpus.
//
// The Engine type implements the full query pipeline:
//   - Query planning: raw requests are validated and normalized; term-less
//     requests become a filtered recency scan ("browse" mode)
//   - Lexical search via a BM25 inverted index
//   - Semantic search via embedding cosine similarity
//   - Rank fusion: per-query min-max normalization of each signal, then a
//     weighted sum, with deterministic tie-breaking
//   - Optional conversation grouping of the ranked hits
//
// The two index sub-queries run concurrently and join before fusion. The
// Engine degrades gracefully: a failed or missing signal narrows the
// result instead of failing the query.
package search
