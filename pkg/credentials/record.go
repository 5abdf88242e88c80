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

// Package credentials maps auth file names to valid bearer tokens. The Qwen
// OAuth2 flow is the interesting case: tokens live in JSON files under the
// auth directory, are cached in memory, and are refreshed single-flight when
// the wall clock gets within 30 seconds of expiry.
package credentials

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ExpiryWindow is how close to expiry a token may get before it is treated
// as stale.
const ExpiryWindow = 30 * time.Second

// Record is one on-disk credential. expires_at is milliseconds since epoch,
// created_at is ISO-8601; both match the files the auth flow writes.
type Record struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ResourceURL  string `json:"resource_url,omitempty"`
	ExpiresAt    int64  `json:"expires_at"`
	CreatedAt    string `json:"created_at,omitempty"`
	AccountIndex int    `json:"account_index,omitempty"`
}

// Expiry returns the absolute expiry instant.
func (r *Record) Expiry() time.Time {
	return time.UnixMilli(r.ExpiresAt)
}

// Stale reports whether the token is within the expiry window of now.
func (r *Record) Stale(now time.Time) bool {
	return !now.Add(ExpiryWindow).Before(r.Expiry())
}

// DefaultAuthDir is where the auth flow drops credential files.
func DefaultAuthDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".route-claudecode", "auth")
	}
	return filepath.Join(home, ".route-claudecode", "auth")
}

// ReadRecord loads one credential file.
func ReadRecord(path string) (*Record, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("parse credential file: %w", err)
	}
	return &rec, nil
}

// WriteRecord persists a credential atomically: the record lands in a temp
// file first and is renamed into place, so a crash never leaves a
// half-written credential behind.
func WriteRecord(path string, rec *Record) error {
	raw, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode credential: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".cred-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
