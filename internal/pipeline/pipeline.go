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

// Package pipeline orchestrates one sync cycle per mailbox account:
// derive the search window from the cursor, fetch candidate messages,
// record communications, extract and reconcile calendar events, and
// advance the watermark only once the whole cycle has completed.
//
// Failure semantics: connect/search/fetch/commit failures abort the cycle
// without advancing the cursor, so the same window is retried next
// trigger. Everything else is message-scoped — recorded in the result's
// error list and the cycle moves on.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/emersion/go-imap/v2"

	"github.com/jearle/mailsync/internal/cursor"
	"github.com/jearle/mailsync/internal/events"
	"github.com/jearle/mailsync/internal/ics"
	"github.com/jearle/mailsync/internal/mailbox"
	"github.com/jearle/mailsync/internal/models"
	"github.com/jearle/mailsync/internal/partwalker"
)

// MailboxSession is the per-cycle mailbox surface the pipeline drives.
type MailboxSession interface {
	Search(ctx context.Context, w cursor.Window) ([]imap.UID, error)
	FetchMessages(ctx context.Context, uids []imap.UID) ([]mailbox.Message, error)
	FetchBodyPart(ctx context.Context, uid imap.UID, path []int) ([]byte, error)
	Close() error
}

// MailboxClient opens sessions.
type MailboxClient interface {
	Connect(ctx context.Context) (MailboxSession, error)
}

// ClientFunc adapts a connect function to the MailboxClient interface.
type ClientFunc func(ctx context.Context) (MailboxSession, error)

func (f ClientFunc) Connect(ctx context.Context) (MailboxSession, error) { return f(ctx) }

// ContactResolver maps an email address to a known contact, or nil.
type ContactResolver interface {
	FindActiveByEmail(ctx context.Context, email string) (*models.Contact, error)
}

// Reconciler applies a calendar event to the meeting store.
type Reconciler interface {
	Reconcile(ctx context.Context, event models.CalendarEvent, meta models.MessageMeta, debtorNo string) (int64, error)
}

// CommunicationStore records inbound messages.
type CommunicationStore interface {
	ExistsByMessageID(ctx context.Context, accountID, messageID string) (bool, error)
	Insert(ctx context.Context, c *models.Communication) (int64, bool, error)
}

// CursorStore tracks the per-account watermark.
type CursorStore interface {
	Window(ctx context.Context, accountID string) (cursor.Window, error)
	Commit(ctx context.Context, accountID string, at time.Time) error
}

// DedupFilter is the optional redis fast path in front of the store's
// unique constraint. Marking is deliberately separate from checking: a
// message id is only marked once its row is known durable.
type DedupFilter interface {
	IsSeen(ctx context.Context, accountID, messageID string) (bool, error)
	MarkSeen(ctx context.Context, accountID, messageID string) error
}

// EventPublisher fans out CRM event-log entries. Optional; publish
// failures are logged, never message-fatal.
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, payload interface{}) error
}

// Pipeline runs sync cycles for a single mailbox account. Pipelines for
// different accounts are independent and safe to run concurrently: the
// store's unique constraints on ics_uid and (account, message-id) carry
// the dedup guarantee, not in-process locks.
type Pipeline struct {
	accountID  string
	client     MailboxClient
	contacts   ContactResolver
	reconciler Reconciler
	comms      CommunicationStore
	cursor     CursorStore
	dedup      DedupFilter
	events     EventPublisher
}

// Config holds the pipeline's collaborators. Dedup and Events may be nil.
type Config struct {
	AccountID      string
	Client         MailboxClient
	Contacts       ContactResolver
	Reconciler     Reconciler
	Communications CommunicationStore
	Cursor         CursorStore
	Dedup          DedupFilter
	Events         EventPublisher
}

// New creates a pipeline for one account.
func New(cfg Config) *Pipeline {
	return &Pipeline{
		accountID:  cfg.AccountID,
		client:     cfg.Client,
		contacts:   cfg.Contacts,
		reconciler: cfg.Reconciler,
		comms:      cfg.Communications,
		cursor:     cfg.Cursor,
		dedup:      cfg.Dedup,
		events:     cfg.Events,
	}
}

// RunCycle performs one full sync cycle and returns its result. The
// returned error is non-nil only for cycle-fatal failures; message-scoped
// problems are inside result.Errors.
func (p *Pipeline) RunCycle(ctx context.Context) (*models.CycleResult, error) {
	start := time.Now()
	// The watermark is the cycle's start, not its end: messages arriving
	// while we run fall inside the next window.
	cycleStart := start.UTC()
	result := &models.CycleResult{AccountID: p.accountID}

	window, err := p.cursor.Window(ctx, p.accountID)
	if err != nil {
		return result, err
	}

	slog.Info("starting sync cycle",
		"account", p.accountID,
		"unseen_only", window.UnseenOnly,
		"since", window.Since,
	)

	session, err := p.client.Connect(ctx)
	if err != nil {
		return result, err
	}
	defer session.Close()

	uids, err := session.Search(ctx, window)
	if err != nil {
		return result, err
	}

	msgs, err := session.FetchMessages(ctx, uids)
	if err != nil {
		return result, err
	}

	for _, msg := range msgs {
		// Cooperative cancellation checkpoint. Aborting here is safe:
		// the cursor has not moved, and everything already written is
		// idempotent on reprocessing.
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		p.processMessage(ctx, session, msg, result)
	}

	if err := p.cursor.Commit(ctx, p.accountID, cycleStart); err != nil {
		return result, fmt.Errorf("commit cursor for %s: %w", p.accountID, err)
	}

	result.Elapsed = time.Since(start)
	p.publish(ctx, events.TypeCycleCompleted, result)

	slog.Info("sync cycle complete",
		"account", p.accountID,
		"candidates", len(msgs),
		"imported", result.ImportedCount,
		"meetings", result.MeetingCount,
		"skipped", result.Skipped,
		"errors", len(result.Errors),
		"elapsed", result.Elapsed,
	)

	return result, nil
}

func (p *Pipeline) processMessage(ctx context.Context, session MailboxSession, msg mailbox.Message, result *models.CycleResult) {
	meta := msg.Meta
	meta.AccountID = p.accountID

	if meta.MessageID == "" {
		// No Message-ID header; synthesise a stable dedup key from the
		// mailbox UID so re-delivery within the window stays idempotent.
		meta.MessageID = fmt.Sprintf("uid-%d@%s", msg.UID, p.accountID)
	}

	contact, err := p.resolveContact(ctx, meta)
	if err != nil {
		p.recordError(result, meta, fmt.Errorf("resolve contact: %w", err))
		return
	}
	if contact == nil {
		// Mail unrelated to any known contact is the common case.
		result.Skipped++
		return
	}

	if err := p.recordCommunication(ctx, session, msg, meta, contact, result); err != nil {
		p.recordError(result, meta, err)
		return
	}

	fetcher := partwalker.FetcherFunc(func(ctx context.Context, path []int) ([]byte, error) {
		return session.FetchBodyPart(ctx, msg.UID, path)
	})

	for _, att := range partwalker.FindCalendarParts(ctx, msg.Structure, fetcher) {
		for _, ev := range ics.Parse(string(att.Content)) {
			meetingID, err := p.reconciler.Reconcile(ctx, ev, meta, contact.DebtorNo)
			if err != nil {
				p.recordError(result, meta, fmt.Errorf("reconcile event %s: %w", ev.UID, err))
				continue
			}
			result.MeetingCount++
			p.publish(ctx, events.TypeMeetingImported, map[string]interface{}{
				"account_id": p.accountID,
				"meeting_id": meetingID,
				"ics_uid":    ev.UID,
			})
		}
	}
}

// resolveContact matches the message's from-address first, then the
// to-address. Neither matching means the message is skipped entirely.
func (p *Pipeline) resolveContact(ctx context.Context, meta models.MessageMeta) (*models.Contact, error) {
	if meta.From != "" {
		c, err := p.contacts.FindActiveByEmail(ctx, meta.From)
		if err != nil || c != nil {
			return c, err
		}
	}
	if meta.To != "" {
		return p.contacts.FindActiveByEmail(ctx, meta.To)
	}
	return nil, nil
}

// recordCommunication inserts exactly one communication per distinct
// message-id per account. A message already recorded — by an earlier
// cycle or a racing one — is a no-op, not an error.
func (p *Pipeline) recordCommunication(ctx context.Context, session MailboxSession, msg mailbox.Message, meta models.MessageMeta, contact *models.Contact, result *models.CycleResult) error {
	if p.dedup != nil {
		seen, err := p.dedup.IsSeen(ctx, p.accountID, meta.MessageID)
		if err != nil {
			// Redis trouble degrades to the store check.
			slog.Warn("dedup check failed", "account", p.accountID, "error", err)
		} else if seen {
			return nil
		}
	}

	exists, err := p.comms.ExistsByMessageID(ctx, p.accountID, meta.MessageID)
	if err != nil {
		return fmt.Errorf("communication lookup: %w", err)
	}
	if exists {
		p.markSeen(ctx, meta.MessageID)
		return nil
	}

	body, err := session.FetchBodyPart(ctx, msg.UID, nil)
	if err != nil {
		slog.Warn("message body fetch failed",
			"account", p.accountID,
			"message_id", meta.MessageID,
			"error", err,
		)
		body = nil
	}

	id, inserted, err := p.comms.Insert(ctx, &models.Communication{
		AccountID:   p.accountID,
		DebtorNo:    contact.DebtorNo,
		ContactID:   contact.ID,
		Type:        "email",
		Direction:   "inbound",
		Subject:     meta.Subject,
		Message:     string(body),
		EmailFrom:   meta.From,
		EmailTo:     meta.To,
		Status:      "completed",
		CompletedAt: meta.ReceivedAt,
		MessageID:   meta.MessageID,
		CreatedBy:   "email_import",
	})
	if err != nil {
		// The dedup key stays unmarked, so the next cycle retries the
		// insert instead of skipping the message on the fast path.
		return fmt.Errorf("insert communication: %w", err)
	}

	p.markSeen(ctx, meta.MessageID)

	if inserted {
		result.ImportedCount++
		p.publish(ctx, events.TypeCommunicationRecorded, map[string]interface{}{
			"account_id":       p.accountID,
			"communication_id": id,
			"message_id":       meta.MessageID,
			"contact_id":       contact.ID,
		})
	}

	return nil
}

// markSeen primes the fast path once the communication row is durable.
// Best-effort: a failed mark only costs a store lookup next cycle.
func (p *Pipeline) markSeen(ctx context.Context, messageID string) {
	if p.dedup == nil {
		return
	}
	if err := p.dedup.MarkSeen(ctx, p.accountID, messageID); err != nil {
		slog.Warn("dedup mark failed", "account", p.accountID, "error", err)
	}
}

func (p *Pipeline) recordError(result *models.CycleResult, meta models.MessageMeta, err error) {
	slog.Error("message processing failed",
		"account", p.accountID,
		"message_id", meta.MessageID,
		"error", err,
	)
	result.Errors = append(result.Errors, models.MessageError{
		MessageID: meta.MessageID,
		Cause:     err.Error(),
	})
}

func (p *Pipeline) publish(ctx context.Context, eventType string, payload interface{}) {
	if p.events == nil {
		return
	}
	if err := p.events.Publish(ctx, eventType, payload); err != nil {
		slog.Warn("event publish failed", "type", eventType, "error", err)
	}
}
