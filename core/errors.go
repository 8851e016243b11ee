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

import "errors"

// Domain validation errors
var (
	// ErrInvalidMessage indicates a Message failed validation.
	ErrInvalidMessage = errors.New("invalid message")

	// ErrInvalidTimestamp indicates a timestamp is missing or in the future.
	ErrInvalidTimestamp = errors.New("invalid timestamp")

	// ErrEmptyText indicates the Text field is empty.
	ErrEmptyText = errors.New("text cannot be empty")

	// ErrInvalidRole indicates an unrecognized Role value.
	ErrInvalidRole = errors.New("invalid role")

	// ErrMissingId indicates a record is missing its identifier.
	ErrMissingId = errors.New("id is required")

	// ErrMissingConversationId indicates a message without an owning conversation.
	ErrMissingConversationId = errors.New("conversation id is required")
)
