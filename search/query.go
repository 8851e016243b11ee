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


package search

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/poiesic/recall/core"
)

const (
	// DefaultTopK is the result cap applied when a request leaves TopK unset.
	DefaultTopK = 15

	// MaxTopK is the hard ceiling on requested results; larger values are clamped.
	MaxTopK = 200

	// DefaultConvos is the number of conversation groups returned when grouping.
	DefaultConvos = 5

	// DefaultPerConvo is the per-conversation hit cap when grouping.
	DefaultPerConvo = 3

	// fanoutFactor and fanoutFloor size the per-index over-fetch so rank
	// fusion has enough candidates from each signal to work with.
	fanoutFactor = 4
	fanoutFloor  = 50
)

// Request is a raw, untrusted search request as it arrives from a caller
// (CLI flags, HTTP query parameters). PlanQuery validates it into a Query.
type Request struct {
	// Terms is the free-text query. Empty terms switch the engine into
	// browse mode: a filtered scan of the corpus by recency.
	Terms string

	// Role restricts results to one speaker role ("user", "assistant",
	// "system", "other"). Empty means any role.
	Role string

	// Project restricts results to one project by exact match.
	Project string

	// Since and Until bound the message timestamp, both inclusive.
	// Accepted forms: RFC 3339, a bare date "2006-01-02" (UTC midnight),
	// or a unix timestamp in seconds.
	Since string
	Until string

	// TopK caps the number of results. Zero means DefaultTopK; values
	// above MaxTopK are clamped.
	TopK int

	// Group requests conversation-grouped output.
	Group bool

	// Convos caps the number of conversation groups; zero means DefaultConvos.
	Convos int

	// PerConvo caps hits per conversation group; zero means DefaultPerConvo.
	PerConvo int
}

// Query is a validated, normalized query descriptor. All defaulting and
// clamping has been applied; the engine trusts its contents.
type Query struct {
	Terms    string
	Filter   core.Filter
	TopK     int
	Fanout   int
	Group    bool
	Convos   int
	PerConvo int
}

// Browse reports whether the query has no search terms and should be
// answered by a recency scan instead of the indexes.
func (q *Query) Browse() bool {
	return q.Terms == ""
}

// PlanQuery validates a Request and normalizes it into a Query.
// Malformed filters and bounds are rejected here, before any index
// is consulted; errors wrap ErrInvalidQuery.
func PlanQuery(req Request) (*Query, error) {
	q := &Query{
		Terms:    strings.TrimSpace(req.Terms),
		TopK:     req.TopK,
		Group:    req.Group,
		Convos:   req.Convos,
		PerConvo: req.PerConvo,
	}

	if req.Role != "" {
		role, err := core.ParseRole(req.Role)
		if err != nil {
			return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidQuery, req.Role)
		}
		q.Filter.Role = &role
	}
	q.Filter.Project = strings.TrimSpace(req.Project)

	if req.Since != "" {
		since, err := parseTimeBound(req.Since)
		if err != nil {
			return nil, fmt.Errorf("%w: bad since bound %q", ErrInvalidQuery, req.Since)
		}
		q.Filter.Since = &since
	}
	if req.Until != "" {
		until, err := parseTimeBound(req.Until)
		if err != nil {
			return nil, fmt.Errorf("%w: bad until bound %q", ErrInvalidQuery, req.Until)
		}
		q.Filter.Until = &until
	}
	if q.Filter.Since != nil && q.Filter.Until != nil && q.Filter.Since.After(*q.Filter.Until) {
		return nil, fmt.Errorf("%w: since is after until", ErrInvalidQuery)
	}

	if q.TopK < 0 {
		return nil, fmt.Errorf("%w: top_k must be positive", ErrInvalidQuery)
	}
	if q.TopK == 0 {
		q.TopK = DefaultTopK
	}
	if q.TopK > MaxTopK {
		q.TopK = MaxTopK
	}

	if q.Convos < 0 || q.PerConvo < 0 {
		return nil, fmt.Errorf("%w: grouping caps must be positive", ErrInvalidQuery)
	}
	if q.Convos == 0 {
		q.Convos = DefaultConvos
	}
	if q.PerConvo == 0 {
		q.PerConvo = DefaultPerConvo
	}

	// Grouped output buckets the ranked list, so the ranking pool must be
	// deep enough to fill every group even when the caps exceed TopK.
	if q.Group {
		if pool := q.Convos * q.PerConvo; pool > q.TopK {
			q.TopK = pool
		}
	}

	q.Fanout = q.TopK * fanoutFactor
	if q.Fanout < fanoutFloor {
		q.Fanout = fanoutFloor
	}

	return q, nil
}

// parseTimeBound accepts RFC 3339 timestamps, bare dates at UTC midnight,
// and unix seconds.
func parseTimeBound(value string) (time.Time, error) {
	if secs, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	if t, err := time.Parse("2006-01-02", value); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
