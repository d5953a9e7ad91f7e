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

// Package gmail talks to the Gmail REST API on behalf of connected mailbox
// accounts: list unseen messages, fetch one message, mark it seen. Each
// connection gets its own OAuth2 token source and circuit breaker.
package gmail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/tradeline/inbound/internal/breaker"
	"github.com/tradeline/inbound/internal/models"
)

// ErrNoCredentials is returned by Open for a connection without tokens.
var ErrNoCredentials = errors.New("connection has no credentials")

// maxPageSize is the largest page the list endpoint accepts.
const maxPageSize = 500

// TokenSaver persists refreshed tokens. Implemented by store.Store.
type TokenSaver interface {
	UpdateConnectionTokens(ctx context.Context, id, accessToken, refreshToken string, expiry time.Time) error
}

// Config holds the Gmail client settings.
type Config struct {
	ClientID     string
	ClientSecret string

	// BaseURL and TokenURL override the Google endpoints (tests).
	BaseURL  string
	TokenURL string

	// HTTPClient is the transport under the OAuth2 layer (optional).
	HTTPClient *http.Client

	// Tokens receives refreshed tokens (optional).
	Tokens TokenSaver
}

// Client opens mailboxes for connections.
type Client struct {
	oauth      *oauth2.Config
	baseURL    string
	httpClient *http.Client
	tokens     TokenSaver

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewClient creates a Gmail client.
func NewClient(cfg Config) *Client {
	endpoint := google.Endpoint
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}
	return &Client{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Scopes:       []string{gmailapi.GmailModifyScope},
			Endpoint:     endpoint,
		},
		baseURL:    cfg.BaseURL,
		httpClient: cfg.HTTPClient,
		tokens:     cfg.Tokens,
		breakers:   make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Open returns a mailbox authorised with conn's stored tokens. Expired
// access tokens are refreshed on first use and the new token is persisted.
func (c *Client) Open(ctx context.Context, conn models.Connection) (*Mailbox, error) {
	if conn.AccessToken == "" && conn.RefreshToken == "" {
		return nil, fmt.Errorf("open mailbox %s: %w", conn.EmailAddress, ErrNoCredentials)
	}

	tok := &oauth2.Token{
		AccessToken:  conn.AccessToken,
		RefreshToken: conn.RefreshToken,
		TokenType:    "Bearer",
	}
	if conn.TokenExpiry != nil {
		tok.Expiry = *conn.TokenExpiry
	} else if conn.AccessToken == "" {
		tok.Expiry = time.Unix(1, 0)
	}

	// The token source outlives this call; refreshes must not be tied to
	// the caller's cancellation.
	tsCtx := context.WithoutCancel(ctx)
	if c.httpClient != nil {
		tsCtx = context.WithValue(tsCtx, oauth2.HTTPClient, c.httpClient)
	}
	ts := &persistingSource{
		base:   c.oauth.TokenSource(tsCtx, tok),
		connID: conn.ID,
		last:   conn.AccessToken,
		saver:  c.tokens,
	}

	opts := []option.ClientOption{option.WithHTTPClient(oauth2.NewClient(tsCtx, ts))}
	if c.baseURL != "" {
		opts = append(opts, option.WithEndpoint(c.baseURL))
	}
	svc, err := gmailapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gmail service for %s: %w", conn.EmailAddress, err)
	}

	return &Mailbox{
		svc:     svc,
		account: conn.EmailAddress,
		cb:      c.breaker(conn.ID),
	}, nil
}

func (c *Client) breaker(connID string) *gobreaker.CircuitBreaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	cb, ok := c.breakers[connID]
	if !ok {
		cb = breaker.New("gmail:" + connID)
		c.breakers[connID] = cb
	}
	return cb
}

// persistingSource saves every newly issued access token.
type persistingSource struct {
	base   oauth2.TokenSource
	connID string
	saver  TokenSaver

	mu   sync.Mutex
	last string
}

func (s *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, breaker.Permanent(fmt.Errorf("refresh token: %w", err))
	}

	s.mu.Lock()
	changed := tok.AccessToken != s.last
	s.last = tok.AccessToken
	s.mu.Unlock()

	if changed && s.saver != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.saver.UpdateConnectionTokens(ctx, s.connID, tok.AccessToken, tok.RefreshToken, tok.Expiry); err != nil {
			slog.Error("failed to persist refreshed token", "connection", s.connID, "error", err)
		} else {
			slog.Info("refreshed token persisted", "connection", s.connID, "expiry", tok.Expiry)
		}
	}
	return tok, nil
}

// Mailbox is one connected account.
type Mailbox struct {
	svc     *gmailapi.Service
	account string
	cb      *gobreaker.CircuitBreaker
}

// UnseenQuery selects unread, non-chat messages received after since.
func UnseenQuery(since time.Time) string {
	return fmt.Sprintf("is:unread after:%d -in:chats", since.Unix())
}

// ListUnseen returns up to limit ids of unread messages newer than since,
// newest first.
func (m *Mailbox) ListUnseen(ctx context.Context, since time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}

	q := UnseenQuery(since)
	ids := make([]string, 0, limit)
	pageToken := ""

	for len(ids) < limit {
		size := min(limit-len(ids), maxPageSize)
		call := m.svc.Users.Messages.List("me").Q(q).MaxResults(int64(size)).Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		resp, err := breaker.Do(m.cb, func() (*gmailapi.ListMessagesResponse, error) {
			resp, err := call.Do()
			return resp, classify(err)
		})
		if err != nil {
			return nil, fmt.Errorf("list unseen for %s: %w", m.account, err)
		}

		for _, msg := range resp.Messages {
			ids = append(ids, msg.Id)
			if len(ids) == limit {
				break
			}
		}
		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}

	slog.Debug("listed unseen messages", "account", m.account, "count", len(ids))
	return ids, nil
}

// GetMessage fetches a message in full format.
func (m *Mailbox) GetMessage(ctx context.Context, id string) (*gmailapi.Message, error) {
	msg, err := breaker.Do(m.cb, func() (*gmailapi.Message, error) {
		msg, err := m.svc.Users.Messages.Get("me", id).Format("full").Context(ctx).Do()
		return msg, classify(err)
	})
	if err != nil {
		return nil, fmt.Errorf("get message %s: %w", id, err)
	}
	return msg, nil
}

// MarkSeen removes the UNREAD label.
func (m *Mailbox) MarkSeen(ctx context.Context, id string) error {
	_, err := breaker.Do(m.cb, func() (*gmailapi.Message, error) {
		msg, err := m.svc.Users.Messages.Modify("me", id, &gmailapi.ModifyMessageRequest{
			RemoveLabelIds: []string{"UNREAD"},
		}).Context(ctx).Do()
		return msg, classify(err)
	})
	if err != nil {
		return fmt.Errorf("mark seen %s: %w", id, err)
	}
	return nil
}

// classify keeps client errors from tripping the breaker. Rate limiting
// and server errors do count.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
			return breaker.Permanent(err)
		}
	}
	return err
}

// IsNotFound reports whether err is a 404 from the Gmail API.
func IsNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}
