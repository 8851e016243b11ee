package storage

import (
	"context"

	"github.com/poiesic/recall/core"
)

// MessageRepository provides operations for the append-only message corpus.
// Implementations must be thread-safe and support concurrent access.
type MessageRepository interface {
	// AddMessages stores messages that do not yet exist.
	// Messages whose ID is already present are skipped (the corpus is
	// append-only; connectors deliver each message exactly once, so a
	// duplicate means the same export is being re-ingested).
	// Sets InsertedAt and maintains the derived conversation records.
	// Returns the number of messages actually stored.
	AddMessages(ctx context.Context, messages ...*core.Message) (int, error)

	// SetMessageVector attaches an embedding to an existing message.
	// This is the only post-insert mutation: embedding production lags
	// ingestion. Returns ErrNotFound if the message doesn't exist.
	SetMessageVector(ctx context.Context, id core.ID, vector []float32) error

	// GetMessage retrieves a single message by ID.
	// Returns ErrNotFound if the message doesn't exist.
	GetMessage(ctx context.Context, id core.ID) (*core.Message, error)

	// GetMessages retrieves multiple messages by their IDs.
	// Returns only the messages that exist (no error for missing ones).
	GetMessages(ctx context.Context, ids ...core.ID) ([]*core.Message, error)

	// GetRecentMessages retrieves up to limit messages satisfying the
	// filter, ordered by timestamp descending. This is the browse path for
	// queries that carry filters but no search terms.
	GetRecentMessages(ctx context.Context, filter core.Filter, limit int) ([]*core.Message, error)

	// ForEachMessage visits every stored message in key order.
	// Used by index builds; the callback must not retain the message
	// beyond the call unless it copies it.
	ForEachMessage(ctx context.Context, fn func(*core.Message) error) error

	// MessagesWithoutVector retrieves up to limit messages that have no
	// embedding yet, for backfill.
	MessagesWithoutVector(ctx context.Context, limit int) ([]*core.Message, error)

	// CountMessages returns the total number of stored messages.
	CountMessages(ctx context.Context) (int, error)

	// Close releases repository resources.
	Close() error
}

// ConversationRepository reads the derived conversation records maintained
// by the message repository.
type ConversationRepository interface {
	// GetConversation retrieves a single conversation by ID.
	// Returns ErrNotFound if the conversation doesn't exist.
	GetConversation(ctx context.Context, id core.ID) (*core.Conversation, error)

	// GetConversations retrieves multiple conversations by their IDs.
	// Returns only the conversations that exist.
	GetConversations(ctx context.Context, ids ...core.ID) ([]*core.Conversation, error)

	// Close releases repository resources.
	Close() error
}

// LedgerRepository provides the append-only activity ledger.
type LedgerRepository interface {
	// AppendEvent stores a ledger event.
	AppendEvent(ctx context.Context, event *core.LedgerEvent) error

	// RecentEvents retrieves up to limit events, most recent first.
	RecentEvents(ctx context.Context, limit int) ([]*core.LedgerEvent, error)

	// Close releases repository resources.
	Close() error
}
