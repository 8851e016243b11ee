package badger

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/poiesic/recall/core"
)

// Key prefixes for different data types
const (
	messagePrefix      = "msgrec"
	messageDatePrefix  = "msgdate"
	messageNoVecPrefix = "msgnovec"
	conversationPrefix = "convrec"
	ledgerPrefix       = "ledger"
)

// makeMessageKey generates a key for a message by ID.
func makeMessageKey(id core.ID) []byte {
	return []byte(fmt.Sprintf("%s:%d", messagePrefix, id))
}

// makeMessageDateKey generates a composite key for the date index.
// Format: prefix:timestamp:id
func makeMessageDateKey(timestamp time.Time, id core.ID) []byte {
	prefix := messageDatePrefix + ":"
	buf := make([]byte, len(prefix)+16) // 8 bytes timestamp + 8 bytes ID
	offset := copy(buf, prefix)
	// BigEndian so lexicographic sort equals chronological sort
	binary.BigEndian.PutUint64(buf[offset:], uint64(timestamp.UnixMicro()))
	offset += 8
	binary.BigEndian.PutUint64(buf[offset:], uint64(id))
	return buf
}

// makePartialMessageDateKey generates a partial key for date range seeks.
// Format: prefix:timestamp
func makePartialMessageDateKey(timestamp time.Time) []byte {
	prefix := messageDatePrefix + ":"
	buf := make([]byte, len(prefix)+8)
	offset := copy(buf, prefix)
	binary.BigEndian.PutUint64(buf[offset:], uint64(timestamp.UnixMicro()))
	return buf
}

// dateKeyTimestamp extracts the timestamp from a date index key.
// Returns false if the key is not a date index key.
func dateKeyTimestamp(key []byte) (time.Time, bool) {
	prefix := messageDatePrefix + ":"
	if len(key) != len(prefix)+16 || string(key[:len(prefix)]) != prefix {
		return time.Time{}, false
	}
	us := int64(binary.BigEndian.Uint64(key[len(prefix):]))
	return time.UnixMicro(us).UTC(), true
}

// makeNoVectorKey generates a key for the missing-embedding set.
func makeNoVectorKey(id core.ID) []byte {
	return []byte(fmt.Sprintf("%s:%d", messageNoVecPrefix, id))
}

// makeConversationKey generates a key for a conversation by ID.
func makeConversationKey(id core.ID) []byte {
	return []byte(fmt.Sprintf("%s:%d", conversationPrefix, id))
}

// makeLedgerKey generates a composite key for ledger events.
// Format: prefix:startedAt:idHash. Keys sort by time; a hash of the
// event id breaks ties within the same microsecond.
func makeLedgerKey(startedAt time.Time, eventId string) []byte {
	prefix := ledgerPrefix + ":"
	buf := make([]byte, len(prefix)+16)
	offset := copy(buf, prefix)
	binary.BigEndian.PutUint64(buf[offset:], uint64(startedAt.UnixMicro()))
	offset += 8
	binary.BigEndian.PutUint64(buf[offset:], uint64(core.IDFromContent(eventId)))
	return buf
}
