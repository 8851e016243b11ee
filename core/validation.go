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


package core

import (
	"fmt"
	"time"
)

// ValidateMessage validates a Message according to domain rules.
//
// Validation rules:
//   - Id and ConversationId must be set
//   - Text must not be empty
//   - Role must be a known value
//   - Timestamp must be set and not in the future
//
// NOT validated (populated later):
//   - Vector (empty until the embedding producer runs)
//   - InsertedAt (set by the repository)
func ValidateMessage(m *Message) error {
	if m == nil {
		return fmt.Errorf("%w: message is nil", ErrInvalidMessage)
	}

	if m.Id == 0 {
		return fmt.Errorf("%w: %w", ErrInvalidMessage, ErrMissingId)
	}

	if m.ConversationId == 0 {
		return fmt.Errorf("%w: %w", ErrInvalidMessage, ErrMissingConversationId)
	}

	if m.Text == "" {
		return fmt.Errorf("%w: %w", ErrInvalidMessage, ErrEmptyText)
	}

	if err := ValidateRole(m.Role); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}

	if !IsValidTimestamp(m.Timestamp) {
		return fmt.Errorf("%w: %w", ErrInvalidMessage, ErrInvalidTimestamp)
	}

	return nil
}

// ValidateRole validates that a Role has a known value.
func ValidateRole(role Role) error {
	switch role {
	case RoleUser, RoleAssistant, RoleSystem, RoleOther:
		return nil
	default:
		return fmt.Errorf("%w: value %d", ErrInvalidRole, role)
	}
}

// IsValidTimestamp checks if a timestamp is set and not in the future.
func IsValidTimestamp(ts time.Time) bool {
	return !ts.IsZero() && !ts.After(time.Now())
}
