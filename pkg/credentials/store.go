// Copyright 2025 Kadir Pekel
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

package credentials

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/kadirpekel/switchboard/pkg/apierror"
)

// Qwen OAuth2 constants. The client id is the public device-flow id the auth
// flow registers tokens under.
const (
	QwenTokenURL = "https://chat.qwen.ai/api/v1/oauth2/token"
	QwenClientID = "f0304373b74a44d2b584a3fb70ca9e56"

	refreshUserAgent = "google-api-nodejs-client/9.15.1"
)

// Auth failure reasons, carried in the error details.
const (
	ReasonFileMissing         = "auth-file-missing"
	ReasonRefreshTokenExpired = "refresh-token-expired"
	ReasonRefreshFailed       = "refresh-failed"
)

const defaultRefreshTimeout = 120 * time.Second

// CacheEntry is one row of the cache-status surface. It deliberately carries
// no token material.
type CacheEntry struct {
	ExpiresAt time.Time `json:"expires_at"`
	Stale     bool      `json:"stale"`
}

// Store resolves auth file names to bearer tokens.
type Store struct {
	dir      string
	tokenURL string
	clientID string
	timeout  time.Duration
	client   *http.Client
	now      func() time.Time

	mu    sync.RWMutex
	cache map[string]*Record

	group singleflight.Group
}

// StoreOption configures the store.
type StoreOption func(*Store)

// WithTokenURL overrides the token endpoint.
func WithTokenURL(url string) StoreOption {
	return func(s *Store) { s.tokenURL = url }
}

// WithHTTPClient overrides the refresh HTTP client.
func WithHTTPClient(client *http.Client) StoreOption {
	return func(s *Store) { s.client = client }
}

// WithRefreshTimeout bounds how long one refresh may take.
func WithRefreshTimeout(d time.Duration) StoreOption {
	return func(s *Store) { s.timeout = d }
}

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// NewStore builds a store over the given auth directory.
func NewStore(dir string, opts ...StoreOption) *Store {
	if dir == "" {
		dir = DefaultAuthDir()
	}
	s := &Store{
		dir:      dir,
		tokenURL: QwenTokenURL,
		clientID: QwenClientID,
		timeout:  defaultRefreshTimeout,
		client:   http.DefaultClient,
		now:      time.Now,
		cache:    make(map[string]*Record),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns a valid access token for authFileName, refreshing if the
// cached one is within 30 seconds of expiry. Concurrent callers for the same
// name share one refresh.
func (s *Store) Get(ctx context.Context, authFileName string) (string, error) {
	rec, err := s.record(authFileName)
	if err != nil {
		return "", err
	}
	if !rec.Stale(s.now()) {
		return rec.AccessToken, nil
	}
	return s.refresh(ctx, authFileName)
}

// Resolve returns the full record, refreshed if needed. The upstream layer
// needs resource_url as well as the token.
func (s *Store) Resolve(ctx context.Context, authFileName string) (*Record, error) {
	if _, err := s.Get(ctx, authFileName); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec := *s.cache[authFileName]
	return &rec, nil
}

// ClearCache drops every cached record; the next Get re-reads from disk.
func (s *Store) ClearCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = make(map[string]*Record)
}

// CacheStatus reports the cache without exposing token material.
func (s *Store) CacheStatus() map[string]CacheEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.now()
	out := make(map[string]CacheEntry, len(s.cache))
	for name, rec := range s.cache {
		out[name] = CacheEntry{ExpiresAt: rec.Expiry(), Stale: rec.Stale(now)}
	}
	return out
}

func (s *Store) path(authFileName string) string {
	name := authFileName
	if !strings.HasSuffix(name, ".json") {
		name += ".json"
	}
	return filepath.Join(s.dir, name)
}

// record returns the cached record, loading it from disk on first use.
func (s *Store) record(authFileName string) (*Record, error) {
	s.mu.RLock()
	rec, ok := s.cache[authFileName]
	s.mu.RUnlock()
	if ok {
		return rec, nil
	}

	rec, err := ReadRecord(s.path(authFileName))
	if err != nil {
		return nil, apierror.Newf(apierror.CodeAuth,
			"credential file for %q not found; run the qwen auth flow to re-authenticate", authFileName).
			WithDetail("reason", ReasonFileMissing)
	}

	s.mu.Lock()
	s.cache[authFileName] = rec
	s.mu.Unlock()
	return rec, nil
}

// refresh runs the single-flight token refresh. The initiating caller's
// context drives the upstream POST; waiters that give up stop waiting
// without cancelling the flight.
func (s *Store) refresh(ctx context.Context, authFileName string) (string, error) {
	ch := s.group.DoChan(authFileName, func() (any, error) {
		refreshCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		return s.doRefresh(refreshCtx, authFileName)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", apierror.Wrap(apierror.CodeAuth, ctx.Err(), "credential refresh abandoned").
			WithDetail("reason", ReasonRefreshFailed)
	}
}

func (s *Store) doRefresh(ctx context.Context, authFileName string) (string, error) {
	rec, err := s.record(authFileName)
	if err != nil {
		return "", err
	}

	// Another flight may have refreshed while this caller queued up.
	if !rec.Stale(s.now()) {
		return rec.AccessToken, nil
	}

	cfg := &oauth2.Config{
		ClientID: s.clientID,
		Endpoint: oauth2.Endpoint{
			TokenURL:  s.tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, &http.Client{
		Transport: userAgentTransport{base: s.client.Transport},
		Timeout:   s.client.Timeout,
	})

	token, err := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: rec.RefreshToken}).Token()
	if err != nil {
		refreshErr, permanent := classifyRefreshError(authFileName, err)
		if permanent {
			// A dead refresh token never recovers; evict the record so the
			// next Get re-reads whatever the auth flow wrote to disk.
			s.mu.Lock()
			delete(s.cache, authFileName)
			s.mu.Unlock()
		}
		return "", refreshErr
	}

	updated := &Record{
		AccessToken:  token.AccessToken,
		RefreshToken: rec.RefreshToken,
		ResourceURL:  rec.ResourceURL,
		ExpiresAt:    token.Expiry.UnixMilli(),
		CreatedAt:    s.now().UTC().Format(time.RFC3339),
		AccountIndex: rec.AccountIndex,
	}
	if token.RefreshToken != "" {
		updated.RefreshToken = token.RefreshToken
	}
	if ru, ok := token.Extra("resource_url").(string); ok && ru != "" {
		updated.ResourceURL = ru
	}

	if err := WriteRecord(s.path(authFileName), updated); err != nil {
		return "", apierror.Wrap(apierror.CodeAuth, err, "persist refreshed credential").
			WithDetail("reason", ReasonRefreshFailed)
	}

	s.mu.Lock()
	s.cache[authFileName] = updated
	s.mu.Unlock()

	return updated.AccessToken, nil
}

// classifyRefreshError separates the permanently dead refresh token from
// transient failures; permanent reports the invalid-grant case. The error
// message never includes the token.
func classifyRefreshError(authFileName string, err error) (error, bool) {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		invalidGrant := retrieveErr.ErrorCode == "invalid_grant" ||
			(retrieveErr.Response != nil && retrieveErr.Response.StatusCode == http.StatusBadRequest)
		if invalidGrant {
			return apierror.Newf(apierror.CodeAuth,
				"refresh token for %q has expired; run the qwen auth flow to re-authenticate", authFileName).
				WithDetail("reason", ReasonRefreshTokenExpired), true
		}
	}
	return apierror.Wrap(apierror.CodeAuth, err, "credential refresh failed").
		WithDetail("reason", ReasonRefreshFailed), false
}

// userAgentTransport pins the stable user agent on refresh POSTs.
type userAgentTransport struct {
	base http.RoundTripper
}

func (t userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", refreshUserAgent)
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}
