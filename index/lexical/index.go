package lexical

import (
	"context"
	"math"
	"sort"

	"github.com/poiesic/recall/core"
)

// BM25 parameters, conventional values.
const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

// docEntry carries the per-document metadata needed for filtering and
// length normalization. Fields are exported for snapshot encoding.
type docEntry struct {
	ID      core.ID   `msgpack:"i"`
	Role    core.Role `msgpack:"r"`
	Project string    `msgpack:"p"`
	Unix    int64     `msgpack:"u"` // timestamp, microseconds since epoch
	Length  uint32    `msgpack:"l"` // token count
}

// posting is one (document, term frequency) pair.
type posting struct {
	Doc uint32 `msgpack:"d"`
	TF  uint16 `msgpack:"t"`
}

// Index is an immutable BM25 term index over a corpus snapshot.
// Build once via Builder, then share freely: all methods are safe for
// concurrent readers because nothing mutates after Build.
type Index struct {
	docs         []docEntry
	postings     map[string][]posting
	avgDocLength float64
	maxUnix      int64
}

// Builder accumulates messages and produces an immutable Index.
// Not safe for concurrent use; exactly one builder owns an index build.
type Builder struct {
	docs        []docEntry
	postings    map[string][]posting
	totalLength int64
	maxUnix     int64
}

// NewBuilder creates an empty index builder.
func NewBuilder() *Builder {
	return &Builder{
		postings: make(map[string][]posting),
	}
}

// Add indexes one message. Messages whose text tokenizes to nothing are
// skipped; they can never match a term query.
func (b *Builder) Add(m *core.Message) {
	tokens := Tokenize(m.Text)
	if len(tokens) == 0 {
		return
	}

	docNum := uint32(len(b.docs))
	unix := m.Timestamp.UnixMicro()
	b.docs = append(b.docs, docEntry{
		ID:      m.Id,
		Role:    m.Role,
		Project: m.Project,
		Unix:    unix,
		Length:  uint32(len(tokens)),
	})
	b.totalLength += int64(len(tokens))
	if unix > b.maxUnix {
		b.maxUnix = unix
	}

	termFreq := make(map[string]int, len(tokens))
	for _, token := range tokens {
		termFreq[token]++
	}
	for token, tf := range termFreq {
		if tf > math.MaxUint16 {
			tf = math.MaxUint16
		}
		b.postings[token] = append(b.postings[token], posting{Doc: docNum, TF: uint16(tf)})
	}
}

// Build finalizes the index. The builder must not be used afterwards.
func (b *Builder) Build() *Index {
	idx := &Index{
		docs:     b.docs,
		postings: b.postings,
		maxUnix:  b.maxUnix,
	}
	if len(b.docs) > 0 {
		idx.avgDocLength = float64(b.totalLength) / float64(len(b.docs))
	}
	b.docs = nil
	b.postings = nil
	return idx
}

// Len returns the number of indexed documents.
func (idx *Index) Len() int {
	return len(idx.docs)
}

// matchesFilter applies the conjunctive filter to a document entry.
func matchesFilter(doc *docEntry, filter *core.Filter) bool {
	if filter.Role != nil && doc.Role != *filter.Role {
		return false
	}
	if filter.Project != "" && doc.Project != filter.Project {
		return false
	}
	if filter.Since != nil && doc.Unix < filter.Since.UnixMicro() {
		return false
	}
	if filter.Until != nil && doc.Unix > filter.Until.UnixMicro() {
		return false
	}
	return true
}

// Search scores documents against the query terms with BM25, applies the
// filter, and returns up to limit matches ordered by score descending.
// A query that tokenizes to nothing returns an empty result, not an error:
// filter-only requests are the corpus store's browse path, not the index's.
func (idx *Index) Search(ctx context.Context, terms string, filter core.Filter, limit int) ([]core.Match, error) {
	tokens := Tokenize(terms)
	if len(tokens) == 0 || len(idx.docs) == 0 || limit <= 0 {
		return nil, nil
	}

	unique := make(map[string]bool, len(tokens))
	scores := make(map[uint32]float64)
	n := float64(len(idx.docs))

	for _, token := range tokens {
		if unique[token] {
			continue
		}
		unique[token] = true

		if err := ctx.Err(); err != nil {
			return nil, err
		}

		postings := idx.postings[token]
		if len(postings) == 0 {
			continue
		}
		df := float64(len(postings))
		idf := math.Log(1 + (n-df+0.5)/(df+0.5))

		for _, p := range postings {
			doc := &idx.docs[p.Doc]
			if !matchesFilter(doc, &filter) {
				continue
			}
			tf := float64(p.TF)
			numerator := tf * (bm25K1 + 1)
			denominator := tf + bm25K1*(1-bm25B+bm25B*(float64(doc.Length)/idx.avgDocLength))
			scores[p.Doc] += idf * (numerator / denominator)
		}
	}

	if len(scores) == 0 {
		return nil, nil
	}

	type scored struct {
		doc   uint32
		score float64
	}
	ranked := make([]scored, 0, len(scores))
	for doc, score := range scores {
		ranked = append(ranked, scored{doc: doc, score: score})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		di, dj := &idx.docs[ranked[i].doc], &idx.docs[ranked[j].doc]
		if di.Unix != dj.Unix {
			return di.Unix > dj.Unix
		}
		return di.ID < dj.ID
	})

	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	matches := make([]core.Match, len(ranked))
	for i, s := range ranked {
		matches[i] = core.Match{
			MessageId: idx.docs[s.doc].ID,
			Score:     float32(s.score),
		}
	}
	return matches, nil
}
