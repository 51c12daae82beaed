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

// Package mailbox wraps go-imap for the ingestion pipeline: connect and
// authenticate, search a window, fetch envelopes and body structures, and
// fetch individual part bodies lazily. A Session owns the IMAP connection
// exclusively for one cycle and must be closed on every exit path.
package mailbox

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-sasl"
	"golang.org/x/oauth2"

	"github.com/jearle/mailsync/internal/cursor"
	"github.com/jearle/mailsync/internal/models"
)

// ConnectionError wraps transport-level failures (dial, auth, search,
// fetch). The pipeline treats these as cycle-fatal: the cursor is not
// advanced and the whole window is retried on the next trigger.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string { return fmt.Sprintf("mailbox %s: %v", e.Op, e.Err) }
func (e *ConnectionError) Unwrap() error { return e.Err }

// Options configures one mailbox account connection.
type Options struct {
	Host       string
	Port       int
	Encryption string // "ssl" (implicit TLS), "tls" (STARTTLS), "none"
	AuthMethod string // "password" or "oauth2"
	Username   string
	Password   string

	// TokenSource supplies access tokens for accounts using AuthMethod
	// "oauth2" (client-credentials against the provider's token endpoint).
	TokenSource oauth2.TokenSource

	DialTimeout time.Duration
}

// Client dials and authenticates IMAP sessions for one account.
type Client struct {
	opts Options
}

// NewClient creates a mailbox client for the given account options.
func NewClient(opts Options) *Client {
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 30 * time.Second
	}
	return &Client{opts: opts}
}

// Connect dials the server, authenticates, and selects INBOX. The caller
// owns the returned session and must Close it.
func (c *Client) Connect(ctx context.Context) (*Session, error) {
	addr := net.JoinHostPort(c.opts.Host, strconv.Itoa(c.opts.Port))
	dialer := &net.Dialer{Timeout: c.opts.DialTimeout}
	tlsConfig := &tls.Config{ServerName: c.opts.Host}

	var client *imapclient.Client

	switch c.opts.Encryption {
	case "ssl", "":
		conn, err := tls.DialWithDialer(dialer, "tcp", addr, tlsConfig)
		if err != nil {
			return nil, &ConnectionError{Op: "dial", Err: err}
		}
		client = imapclient.New(conn, nil)

	case "tls":
		conn, err := dialer.Dial("tcp", addr)
		if err != nil {
			return nil, &ConnectionError{Op: "dial", Err: err}
		}
		var startErr error
		client, startErr = imapclient.NewStartTLS(conn, &imapclient.Options{TLSConfig: tlsConfig})
		if startErr != nil {
			conn.Close()
			return nil, &ConnectionError{Op: "starttls", Err: startErr}
		}

	case "none":
		conn, err := dialer.Dial("tcp", addr)
		if err != nil {
			return nil, &ConnectionError{Op: "dial", Err: err}
		}
		client = imapclient.New(conn, nil)

	default:
		return nil, &ConnectionError{Op: "dial", Err: fmt.Errorf("unknown encryption %q", c.opts.Encryption)}
	}

	if err := c.authenticate(client); err != nil {
		_ = client.Logout().Wait()
		return nil, &ConnectionError{Op: "auth", Err: err}
	}

	if _, err := client.Select("INBOX", nil).Wait(); err != nil {
		_ = client.Logout().Wait()
		return nil, &ConnectionError{Op: "select", Err: err}
	}

	return &Session{client: client}, nil
}

func (c *Client) authenticate(client *imapclient.Client) error {
	if c.opts.AuthMethod == "oauth2" {
		if c.opts.TokenSource == nil {
			return fmt.Errorf("oauth2 auth configured without a token source")
		}
		tok, err := c.opts.TokenSource.Token()
		if err != nil {
			return fmt.Errorf("obtain access token: %w", err)
		}
		saslClient := sasl.NewOAuthBearerClient(&sasl.OAuthBearerOptions{
			Username: c.opts.Username,
			Token:    tok.AccessToken,
			Host:     c.opts.Host,
			Port:     c.opts.Port,
		})
		return client.Authenticate(saslClient)
	}

	return client.Login(c.opts.Username, c.opts.Password).Wait()
}

// Message is one candidate message: header metadata plus the part tree.
// Bodies are fetched separately, part by part, only when needed.
type Message struct {
	UID       imap.UID
	Meta      models.MessageMeta
	Structure imap.BodyStructure
}

// Session is a connected, authenticated IMAP session with INBOX selected.
type Session struct {
	client *imapclient.Client
}

// Search returns the UIDs matching the cycle's window: unseen messages
// for a first sync, or everything since the watermark otherwise.
func (s *Session) Search(ctx context.Context, w cursor.Window) ([]imap.UID, error) {
	criteria := &imap.SearchCriteria{}
	if w.UnseenOnly {
		criteria.NotFlag = []imap.Flag{imap.FlagSeen}
	} else {
		criteria.Since = w.Since
	}

	data, err := s.client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, &ConnectionError{Op: "search", Err: err}
	}
	return data.AllUIDs(), nil
}

// FetchMessages retrieves envelope metadata and the body structure for
// each UID. Messages whose data cannot be collected are skipped.
func (s *Session) FetchMessages(ctx context.Context, uids []imap.UID) ([]Message, error) {
	if len(uids) == 0 {
		return nil, nil
	}

	fetchCmd := s.client.Fetch(imap.UIDSetNum(uids...), &imap.FetchOptions{
		UID:           true,
		Envelope:      true,
		BodyStructure: &imap.FetchItemBodyStructure{Extended: true},
	})

	var out []Message
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}
		buf, err := msg.Collect()
		if err != nil {
			continue
		}
		out = append(out, messageFromBuffer(buf))
	}

	if err := fetchCmd.Close(); err != nil {
		return out, &ConnectionError{Op: "fetch", Err: err}
	}
	return out, nil
}

func messageFromBuffer(buf *imapclient.FetchMessageBuffer) Message {
	m := Message{
		UID:       buf.UID,
		Structure: buf.BodyStructure,
	}

	if buf.Envelope != nil {
		env := buf.Envelope
		m.Meta.MessageID = env.MessageID
		m.Meta.Subject = env.Subject
		m.Meta.ReceivedAt = env.Date
		if len(env.From) > 0 {
			m.Meta.From = env.From[0].Addr()
		}
		if len(env.To) > 0 {
			m.Meta.To = env.To[0].Addr()
		}
	}

	return m
}

// FetchBodyPart retrieves the raw body of one part. An empty path fetches
// the whole message text (single-part messages).
func (s *Session) FetchBodyPart(ctx context.Context, uid imap.UID, path []int) ([]byte, error) {
	section := &imap.FetchItemBodySection{Peek: true}
	if len(path) > 0 {
		section.Part = path
	} else {
		section.Specifier = imap.PartSpecifierText
	}

	fetchCmd := s.client.Fetch(imap.UIDSetNum(uid), &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{section},
	})

	msg := fetchCmd.Next()
	if msg == nil {
		_ = fetchCmd.Close()
		return nil, fmt.Errorf("message UID %d not found", uid)
	}

	buf, err := msg.Collect()
	if err != nil {
		_ = fetchCmd.Close()
		return nil, fmt.Errorf("collect body part: %w", err)
	}

	if err := fetchCmd.Close(); err != nil {
		return nil, &ConnectionError{Op: "fetch", Err: err}
	}

	body := buf.FindBodySection(section)
	if body == nil {
		return nil, fmt.Errorf("body section missing for UID %d", uid)
	}

	return body, nil
}

// Close logs out and releases the connection.
func (s *Session) Close() error {
	return s.client.Logout().Wait()
}
