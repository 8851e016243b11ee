package lexical

import (
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

const snapshotFormatVersion = "1.0.0"

// ErrSnapshotVersion indicates a snapshot written by an incompatible
// index format.
var ErrSnapshotVersion = errors.New("incompatible snapshot format version")

// Token identifies the corpus state an index was built from. Two indexes
// built from the same corpus produce equal tokens, so a persisted
// snapshot can be reused instead of re-tokenizing every message.
type Token struct {
	DocCount int   `msgpack:"n"`
	MaxUnix  int64 `msgpack:"t"`
}

// Token returns the validity token of this index.
func (idx *Index) Token() Token {
	return Token{DocCount: len(idx.docs), MaxUnix: idx.maxUnix}
}

type snapshot struct {
	Version   string               `msgpack:"v"`
	Docs      []docEntry           `msgpack:"d"`
	Postings  map[string][]posting `msgpack:"p"`
	AvgLength float64              `msgpack:"a"`
	MaxUnix   int64                `msgpack:"t"`
}

// Save writes the index as a msgpack snapshot.
func (idx *Index) Save(w io.Writer) error {
	snap := snapshot{
		Version:   snapshotFormatVersion,
		Docs:      idx.docs,
		Postings:  idx.postings,
		AvgLength: idx.avgDocLength,
		MaxUnix:   idx.maxUnix,
	}
	return msgpack.NewEncoder(w).Encode(&snap)
}

// Load reads a msgpack snapshot written by Save.
func Load(r io.Reader) (*Index, error) {
	var snap snapshot
	if err := msgpack.NewDecoder(r).Decode(&snap); err != nil {
		return nil, err
	}
	if snap.Version != snapshotFormatVersion {
		return nil, fmt.Errorf("%w: got %q, want %q", ErrSnapshotVersion, snap.Version, snapshotFormatVersion)
	}
	idx := &Index{
		docs:         snap.Docs,
		postings:     snap.Postings,
		avgDocLength: snap.AvgLength,
		maxUnix:      snap.MaxUnix,
	}
	if idx.postings == nil {
		idx.postings = make(map[string][]posting)
	}
	return idx, nil
}
