package badger

import (
	"context"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/recall/core"
	"github.com/poiesic/recall/storage"
)

// ConversationRepository implements storage.ConversationRepository for BadgerDB.
// Conversation records are derived metadata written by the message
// repository; this repository only reads them.
type ConversationRepository struct {
	backend *Backend
}

var _ storage.ConversationRepository = (*ConversationRepository)(nil)

// NewConversationRepository creates a new ConversationRepository.
func NewConversationRepository(backend *Backend) (*ConversationRepository, error) {
	return &ConversationRepository{backend: backend}, nil
}

// Close releases repository resources.
func (r *ConversationRepository) Close() error {
	return nil
}

// GetConversation retrieves a single conversation by ID.
func (r *ConversationRepository) GetConversation(ctx context.Context, id core.ID) (*core.Conversation, error) {
	var result *core.Conversation
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		result, err = readConversation(tx, makeConversationKey(id))
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

// GetConversations retrieves multiple conversations by their IDs.
func (r *ConversationRepository) GetConversations(ctx context.Context, ids ...core.ID) ([]*core.Conversation, error) {
	var result []*core.Conversation
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		for _, id := range ids {
			conversation, err := readConversation(tx, makeConversationKey(id))
			if err != nil {
				return err
			}
			if conversation != nil {
				result = append(result, conversation)
			}
		}
		return nil
	}, false)
	return result, err
}

// readConversation reads a conversation from the transaction.
// Returns nil, nil when the key does not exist.
func readConversation(tx *badger.Txn, key []byte) (*core.Conversation, error) {
	item, err := tx.Get(key)
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return nil, nil
		}
		return nil, err
	}

	var conversation *core.Conversation
	err = item.Value(func(val []byte) error {
		var unmarshalErr error
		conversation, unmarshalErr = storage.UnmarshalConversation(val)
		return unmarshalErr
	})
	return conversation, err
}
