package badger

import (
	"context"
	"slices"
	"time"
	"unicode/utf8"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/recall/core"
	"github.com/poiesic/recall/storage"
)

// maxDateSeek is past any representable message timestamp; reverse
// iteration over the date index starts here.
var maxDateSeek = time.Date(9999, 12, 31, 23, 59, 59, 999999999, time.UTC)

// MessageRepository implements storage.MessageRepository for BadgerDB.
type MessageRepository struct {
	backend *Backend
}

var _ storage.MessageRepository = (*MessageRepository)(nil)

// NewMessageRepository creates a new MessageRepository.
func NewMessageRepository(backend *Backend) (*MessageRepository, error) {
	return &MessageRepository{backend: backend}, nil
}

// Close releases repository resources.
func (r *MessageRepository) Close() error {
	return nil
}

// AddMessages stores messages that do not yet exist, skipping duplicates.
// Maintains the date index, the missing-embedding set, and the derived
// conversation records in the same transaction.
func (r *MessageRepository) AddMessages(ctx context.Context, messages ...*core.Message) (int, error) {
	added := 0
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		for _, message := range messages {
			if err := core.ValidateMessage(message); err != nil {
				return err
			}

			key := makeMessageKey(message.Id)
			if _, err := tx.Get(key); err == nil {
				// Append-only corpus: same export re-ingested.
				continue
			} else if err != badger.ErrKeyNotFound {
				return err
			}

			message.InsertedAt = time.Now().UTC()

			if err := tx.Set(key, storage.MarshalMessage(message)); err != nil {
				return err
			}

			dateKey := makeMessageDateKey(message.Timestamp, message.Id)
			if err := tx.Set(dateKey, storage.MarshalID(message.Id)); err != nil {
				return err
			}

			if len(message.Vector) == 0 {
				if err := tx.Set(makeNoVectorKey(message.Id), storage.MarshalID(message.Id)); err != nil {
					return err
				}
			}

			if err := upsertConversation(tx, message); err != nil {
				return err
			}
			added++
		}
		return tx.Commit()
	}, true)

	return added, err
}

// SetMessageVector attaches an embedding to an existing message.
func (r *MessageRepository) SetMessageVector(ctx context.Context, id core.ID, vector []float32) error {
	return r.backend.WithTx(func(tx *badger.Txn) error {
		key := makeMessageKey(id)
		message, err := readMessage(tx, key)
		if err != nil {
			return err
		}
		if message == nil {
			return storage.ErrNotFound
		}

		message.Vector = vector
		if err := tx.Set(key, storage.MarshalMessage(message)); err != nil {
			return err
		}
		if err := tx.Delete(makeNoVectorKey(id)); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// GetMessage retrieves a single message by ID.
func (r *MessageRepository) GetMessage(ctx context.Context, id core.ID) (*core.Message, error) {
	var result *core.Message
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		result, err = readMessage(tx, makeMessageKey(id))
		if err != nil {
			return err
		}
		if result == nil {
			return storage.ErrNotFound
		}
		return nil
	}, false)
	return result, err
}

// GetMessages retrieves multiple messages by their IDs.
func (r *MessageRepository) GetMessages(ctx context.Context, ids ...core.ID) ([]*core.Message, error) {
	var result []*core.Message
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		for _, id := range ids {
			message, err := readMessage(tx, makeMessageKey(id))
			if err != nil {
				return err
			}
			if message != nil {
				result = append(result, message)
			}
		}
		return nil
	}, false)
	return result, err
}

// GetRecentMessages retrieves up to limit messages satisfying the filter,
// ordered by timestamp descending. Walks the date index in reverse so the
// scan stops as soon as limit matches are found or the Since bound passes.
func (r *MessageRepository) GetRecentMessages(ctx context.Context, filter core.Filter, limit int) ([]*core.Message, error) {
	if limit <= 0 {
		return nil, nil
	}

	var results []*core.Message
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		iter := tx.NewIterator(opts)
		defer iter.Close()

		// Seek just past the Until bound so entries at exactly Until are
		// included (bounds are inclusive).
		seekTime := maxDateSeek
		if filter.Until != nil {
			seekTime = filter.Until.Add(time.Microsecond)
		}
		startKey := makePartialMessageDateKey(seekTime)
		prefix := []byte(messageDatePrefix + ":")

		for iter.Seek(startKey); iter.Valid() && len(results) < limit; iter.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			key := iter.Item().Key()
			ts, ok := dateKeyTimestamp(key)
			if !ok {
				if len(key) < len(prefix) || slices.Compare(key[:len(prefix)], prefix) != 0 {
					break
				}
				continue
			}
			if filter.Since != nil && ts.Before(*filter.Since) {
				break
			}

			var messageID core.ID
			if err := iter.Item().Value(func(val []byte) error {
				var err error
				messageID, err = storage.UnmarshalID(val)
				return err
			}); err != nil {
				return err
			}

			message, err := readMessage(tx, makeMessageKey(messageID))
			if err != nil {
				return err
			}
			if message != nil && filter.Matches(message) {
				results = append(results, message)
			}
		}
		return nil
	}, false)

	return results, err
}

// ForEachMessage visits every stored message.
func (r *MessageRepository) ForEachMessage(ctx context.Context, fn func(*core.Message) error) error {
	return r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(messagePrefix + ":")
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			var message *core.Message
			if err := iter.Item().Value(func(val []byte) error {
				var err error
				message, err = storage.UnmarshalMessage(val)
				return err
			}); err != nil {
				return err
			}
			if message == nil {
				continue
			}
			if err := fn(message); err != nil {
				return err
			}
		}
		return nil
	}, false)
}

// MessagesWithoutVector retrieves up to limit messages lacking an embedding.
func (r *MessageRepository) MessagesWithoutVector(ctx context.Context, limit int) ([]*core.Message, error) {
	if limit <= 0 {
		return nil, nil
	}

	var results []*core.Message
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(messageNoVecPrefix + ":")
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid() && len(results) < limit; iter.Next() {
			var messageID core.ID
			if err := iter.Item().Value(func(val []byte) error {
				var err error
				messageID, err = storage.UnmarshalID(val)
				return err
			}); err != nil {
				return err
			}

			message, err := readMessage(tx, makeMessageKey(messageID))
			if err != nil {
				return err
			}
			if message != nil {
				results = append(results, message)
			}
		}
		return nil
	}, false)

	return results, err
}

// CountMessages returns the total number of stored messages.
func (r *MessageRepository) CountMessages(ctx context.Context) (int, error) {
	count := 0
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(messageDatePrefix + ":")
		opts.PrefetchValues = false
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			count++
		}
		return nil
	}, false)
	return count, err
}

// Helper methods

// readMessage reads a message from the transaction.
// Returns nil, nil when the key does not exist.
func readMessage(tx *badger.Txn, key []byte) (*core.Message, error) {
	item, err := tx.Get(key)
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return nil, nil
		}
		return nil, err
	}

	var message *core.Message
	err = item.Value(func(val []byte) error {
		var unmarshalErr error
		message, unmarshalErr = storage.UnmarshalMessage(val)
		return unmarshalErr
	})
	return message, err
}

// upsertConversation expands the derived conversation record for a
// newly stored message.
func upsertConversation(tx *badger.Txn, message *core.Message) error {
	key := makeConversationKey(message.ConversationId)
	conversation, err := readConversation(tx, key)
	if err != nil {
		return err
	}

	if conversation == nil {
		conversation = &core.Conversation{
			Id:        message.ConversationId,
			Title:     deriveTitle(message.Text),
			Project:   message.Project,
			SpanStart: message.Timestamp,
			SpanEnd:   message.Timestamp,
		}
	} else {
		if message.Timestamp.Before(conversation.SpanStart) {
			conversation.SpanStart = message.Timestamp
		}
		if message.Timestamp.After(conversation.SpanEnd) {
			conversation.SpanEnd = message.Timestamp
		}
		if conversation.Project == "" {
			conversation.Project = message.Project
		}
	}
	conversation.MessageCount++

	return tx.Set(key, storage.MarshalConversation(conversation))
}

const maxTitleRunes = 64

// deriveTitle produces a display title from the first message seen.
func deriveTitle(text string) string {
	if utf8.RuneCountInString(text) <= maxTitleRunes {
		return text
	}
	runes := []rune(text)
	return string(runes[:maxTitleRunes]) + "…"
}
