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

// Package dedup keeps two deliveries of the same email from being processed
// at once. Providers retry aggressively, so a redelivery can arrive while the
// first attempt is still writing to the store.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL bounds how long a crashed worker can hold a claim.
	DefaultTTL = 10 * time.Minute

	keyPrefix = "mailhook:inflight:"
)

// Claims tracks message ids currently being processed.
type Claims struct {
	rdb redis.Cmdable
	ttl time.Duration
}

// NewClaims creates a claim set backed by Redis. A zero ttl uses DefaultTTL.
func NewClaims(rdb redis.Cmdable, ttl time.Duration) *Claims {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Claims{rdb: rdb, ttl: ttl}
}

func key(messageID string) string {
	return keyPrefix + messageID
}

// Claim marks messageID as in flight. It returns false when another worker
// already holds the claim.
func (c *Claims) Claim(ctx context.Context, messageID string) (bool, error) {
	set, err := c.rdb.SetNX(ctx, key(messageID), time.Now().Unix(), c.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup SETNX: %w", err)
	}
	return set, nil
}

// Release drops the claim so a later redelivery can retry.
func (c *Claims) Release(ctx context.Context, messageID string) error {
	if err := c.rdb.Del(ctx, key(messageID)).Err(); err != nil {
		return fmt.Errorf("dedup DEL: %w", err)
	}
	return nil
}
