package core

import (
	"encoding/binary"
	"time"

	"github.com/go-crypt/x/blake2b"
)

// ID is a unique identifier for domain entities.
// It is derived from provider-stable string identifiers via content hashing.
type ID uint64

// IDFromContent generates a deterministic ID from text content using BLAKE2b hashing.
// This ensures that identical content produces identical IDs, so re-ingesting
// the same export never creates duplicate records.
func IDFromContent(text string) ID {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write([]byte(text))
	sum := h.Sum(nil)
	return ID(binary.LittleEndian.Uint64(sum))
}

// Role identifies the author of a message within a conversation.
type Role int

const (
	// RoleUser represents the human participant.
	RoleUser Role = iota + 1
	// RoleAssistant represents the AI participant.
	RoleAssistant
	// RoleSystem represents system or tool messages.
	RoleSystem
	// RoleOther represents any author the connector could not classify.
	RoleOther
)

// String returns the wire representation of the role.
func (r Role) String() string {
	switch r {
	case RoleUser:
		return "user"
	case RoleAssistant:
		return "assistant"
	case RoleSystem:
		return "system"
	case RoleOther:
		return "other"
	default:
		return "unknown"
	}
}

// ParseRole converts a wire-format role string to a Role.
// Returns ErrInvalidRole for unrecognized values.
func ParseRole(s string) (Role, error) {
	switch s {
	case "user":
		return RoleUser, nil
	case "assistant":
		return RoleAssistant, nil
	case "system":
		return RoleSystem, nil
	case "other":
		return RoleOther, nil
	default:
		return 0, ErrInvalidRole
	}
}

// Message is the atomic retrievable unit: one utterance in a conversation.
// Text is immutable once stored; Vector may be absent until the embedding
// producer catches up with ingestion.
type Message struct {
	Id             ID
	ConversationId ID
	Role           Role
	Project        string // optional free-form tag, exact-match filter only
	Timestamp      time.Time
	Text           string
	Vector         []float32 // embedding, empty until backfilled
	InsertedAt     time.Time
}

// Conversation is derived metadata over the messages sharing a ConversationId.
// It is maintained by the message repository at ingestion time and used only
// for display and grouping, never as an authoritative record.
type Conversation struct {
	Id           ID
	Title        string
	Project      string // first non-empty message project
	SpanStart    time.Time
	SpanEnd      time.Time
	MessageCount int
}

// Filter restricts search candidates. All provided fields are conjunctive:
// a message must satisfy every set field to remain eligible.
// Since and Until are inclusive bounds.
type Filter struct {
	Role    *Role
	Project string
	Since   *time.Time
	Until   *time.Time
}

// Matches reports whether the message satisfies every set filter field.
func (f *Filter) Matches(m *Message) bool {
	if f.Role != nil && m.Role != *f.Role {
		return false
	}
	if f.Project != "" && m.Project != f.Project {
		return false
	}
	if f.Since != nil && m.Timestamp.Before(*f.Since) {
		return false
	}
	if f.Until != nil && m.Timestamp.After(*f.Until) {
		return false
	}
	return true
}

// Empty reports whether no filter field is set.
func (f *Filter) Empty() bool {
	return f.Role == nil && f.Project == "" && f.Since == nil && f.Until == nil
}

// Match is a scored candidate produced by a single index.
type Match struct {
	MessageId ID
	Score     float32
}

// LedgerEvent records one operation run for the activity ledger.
type LedgerEvent struct {
	Id         string // uuid
	Kind       string
	Status     string // running, ok, error
	StartedAt  time.Time
	FinishedAt time.Time
	Seconds    float64
	Params     map[string]string
	Error      string
}
