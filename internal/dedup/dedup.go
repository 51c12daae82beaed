// Copyright (c) 2026 John Earle
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

// Package dedup provides a message-id fast path in front of the store's
// unique constraint on (account, message-id): day-granularity search
// windows overlap between cycles, and this avoids re-checking Postgres
// for every overlap hit. Correctness never depends on it.
//
// Checking and marking are separate operations. A message id is marked
// only after its row is known durable; marking up front would make a
// transient insert failure permanent, because later cycles would skip
// the message on the fast path.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL is how long we remember a seen message ID. Search windows
	// reach back at most a day past the watermark, so 48h is safe.
	DefaultTTL = 48 * time.Hour

	// keyPrefix namespaces dedup keys in Redis.
	keyPrefix = "crm:seen:"
)

// Filter tracks which messages have already been processed per account.
type Filter struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewFilter creates a dedup filter backed by Redis.
func NewFilter(rdb *redis.Client) *Filter {
	return &Filter{
		rdb: rdb,
		ttl: DefaultTTL,
	}
}

func key(accountID, messageID string) string {
	return fmt.Sprintf("%s%s:%s", keyPrefix, accountID, messageID)
}

// IsSeen reports whether the message was already recorded for this
// account. Read-only; it never alters the key.
func (f *Filter) IsSeen(ctx context.Context, accountID, messageID string) (bool, error) {
	n, err := f.rdb.Exists(ctx, key(accountID, messageID)).Result()
	if err != nil {
		return false, fmt.Errorf("dedup EXISTS: %w", err)
	}
	return n > 0, nil
}

// MarkSeen records the message id. Called only once the communication row
// is known to exist in the store.
func (f *Filter) MarkSeen(ctx context.Context, accountID, messageID string) error {
	if err := f.rdb.Set(ctx, key(accountID, messageID), 1, f.ttl).Err(); err != nil {
		return fmt.Errorf("dedup SET: %w", err)
	}
	return nil
}
