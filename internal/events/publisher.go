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

// Package events publishes CRM event-log entries to Redis. The
// notification fan-out consumes the list on the other side; from the
// pipeline's perspective publishing is fire-and-forget.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Event types emitted by the ingestion pipeline.
const (
	TypeMeetingImported       = "crm.meeting.imported"
	TypeCommunicationRecorded = "crm.communication.recorded"
	TypeCycleCompleted        = "crm.sync.cycle_completed"
)

// Entry is one event-log record as serialised onto the queue.
type Entry struct {
	ID         string      `json:"id"`
	Type       string      `json:"type"`
	OccurredAt time.Time   `json:"occurred_at"`
	Payload    interface{} `json:"payload"`
}

// Publisher sends event-log entries to a Redis list.
type Publisher struct {
	rdb       *redis.Client
	queueName string
}

// NewPublisher creates a publisher targeting the specified queue.
func NewPublisher(rdb *redis.Client, queueName string) *Publisher {
	return &Publisher{
		rdb:       rdb,
		queueName: queueName,
	}
}

// Publish serialises an event entry and pushes it onto the queue.
func (p *Publisher) Publish(ctx context.Context, eventType string, payload interface{}) error {
	entry := Entry{
		ID:         uuid.New().String(),
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal event entry: %w", err)
	}

	if err := p.rdb.LPush(ctx, p.queueName, string(data)).Err(); err != nil {
		return fmt.Errorf("redis LPUSH: %w", err)
	}

	slog.Debug("published event",
		"event_id", entry.ID,
		"type", eventType,
		"queue", p.queueName,
	)

	return nil
}

// Ping checks the Redis connection.
func (p *Publisher) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return p.rdb.Ping(ctx).Err()
}
