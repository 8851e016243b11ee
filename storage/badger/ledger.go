package badger

import (
	"context"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/recall/core"
	"github.com/poiesic/recall/storage"
	"github.com/vmihailenco/msgpack/v5"
)

// LedgerRepository implements storage.LedgerRepository for BadgerDB.
// Events are msgpack-encoded under time-ordered keys so the recent-events
// query is a bounded reverse scan.
type LedgerRepository struct {
	backend *Backend
}

var _ storage.LedgerRepository = (*LedgerRepository)(nil)

// NewLedgerRepository creates a new LedgerRepository.
func NewLedgerRepository(backend *Backend) *LedgerRepository {
	return &LedgerRepository{backend: backend}
}

// Close releases repository resources.
func (r *LedgerRepository) Close() error {
	return nil
}

// AppendEvent stores a ledger event.
func (r *LedgerRepository) AppendEvent(ctx context.Context, event *core.LedgerEvent) error {
	value, err := msgpack.Marshal(event)
	if err != nil {
		return err
	}
	return r.backend.WithTx(func(tx *badger.Txn) error {
		key := makeLedgerKey(event.StartedAt, event.Id)
		if err := tx.Set(key, value); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// RecentEvents retrieves up to limit events, most recent first.
func (r *LedgerRepository) RecentEvents(ctx context.Context, limit int) ([]*core.LedgerEvent, error) {
	if limit <= 0 {
		return nil, nil
	}

	var results []*core.LedgerEvent
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = []byte(ledgerPrefix + ":")
		iter := tx.NewIterator(opts)
		defer iter.Close()

		// Reverse iteration needs a seek past the last possible key.
		startKey := makeLedgerKey(maxDateSeek, "")
		for iter.Seek(startKey); iter.Valid() && len(results) < limit; iter.Next() {
			var event core.LedgerEvent
			if err := iter.Item().Value(func(val []byte) error {
				return msgpack.Unmarshal(val, &event)
			}); err != nil {
				return err
			}
			results = append(results, &event)
		}
		return nil
	}, false)

	return results, err
}
