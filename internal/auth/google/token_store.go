package google

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/sjson"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/wscli-dev/wscli/internal/config"
	"github.com/wscli-dev/wscli/internal/misc"
)

// refreshSafetyWindow treats a token as expired this long before its actual
// expiry, tolerating clock skew and in-flight request latency.
const refreshSafetyWindow = 5 * time.Minute

// pathLocks serializes writers per token file path, so an explicit save and
// a provider-triggered merge-update never interleave partial writes.
var pathLocks sync.Map

func lockForPath(path string) *sync.Mutex {
	actual, _ := pathLocks.LoadOrStore(filepath.Clean(path), &sync.Mutex{})
	return actual.(*sync.Mutex)
}

// TokenStore persists, loads, atomically rewrites and single-flight
// refreshes the stored credential.
type TokenStore struct {
	mu     sync.Mutex
	path   string
	cfg    *config.Config
	cred   *StoredCredential
	client *GoogleClient

	// refreshGroup deduplicates concurrent refresh attempts: all callers
	// arriving while one refresh is in flight share its outcome.
	refreshGroup singleflight.Group
}

// NewTokenStore creates a store bound to the token path resolved from cfg.
func NewTokenStore(cfg *config.Config) *TokenStore {
	return NewTokenStoreAt(cfg, cfg.TokenFilePath())
}

// NewTokenStoreAt creates a store bound to an explicit token path.
func NewTokenStoreAt(cfg *config.Config, path string) *TokenStore {
	return &TokenStore{
		path: path,
		cfg:  cfg,
	}
}

// Path returns the on-disk location of the token file.
func (s *TokenStore) Path() string { return s.path }

// SetClient wires the provider client used for refreshes and subscribes the
// store to its silent token-update notifications.
func (s *TokenStore) SetClient(client *GoogleClient) {
	s.mu.Lock()
	s.client = client
	s.mu.Unlock()
	if client != nil {
		client.OnTokenUpdate(s.handleTokenUpdate)
	}
}

// Credential returns a copy of the in-memory credential, or nil when none
// is loaded.
func (s *TokenStore) Credential() *StoredCredential {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cred == nil {
		return nil
	}
	copied := *s.cred
	return &copied
}

// LoadSaved reads the token file into memory. A missing file returns false
// without error. A file that fails schema validation is deleted and false
// is returned: corrupted state must never silently persist.
func (s *TokenStore) LoadSaved() bool {
	s.migrateLegacyTokens()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warnf("cannot read token file %s: %v", s.path, err)
		}
		return false
	}

	cred, err := decodeStoredCredential(data)
	if err != nil {
		log.Warnf("stored token file failed schema validation, removing it: %v", err)
		if errRemove := os.Remove(s.path); errRemove != nil && !os.IsNotExist(errRemove) {
			log.Warnf("cannot remove corrupted token file: %v", errRemove)
		}
		return false
	}

	s.mu.Lock()
	s.cred = cred
	s.mu.Unlock()
	return true
}

// Validate reports whether a usable credential exists, loading it from disk
// when needed and refreshing it when stale.
func (s *TokenStore) Validate(ctx context.Context) bool {
	s.mu.Lock()
	loaded := s.cred != nil && s.cred.AccessToken != ""
	s.mu.Unlock()

	if !loaded && !s.LoadSaved() {
		return false
	}
	return s.RefreshIfNeeded(ctx)
}

// RefreshIfNeeded refreshes the credential when it expires inside the
// safety window and a refresh token is available. Concurrent callers while
// a refresh is outstanding all await the single in-flight attempt and
// receive its result. Unrecoverable refresh errors proactively clear the
// stored tokens. Returns false when there is no token material to work
// with.
func (s *TokenStore) RefreshIfNeeded(ctx context.Context) bool {
	s.mu.Lock()
	cred := s.cred
	if cred == nil || cred.AccessToken == "" {
		s.mu.Unlock()
		return false
	}
	if !cred.ExpiresWithin(refreshSafetyWindow) {
		s.mu.Unlock()
		return true
	}
	refreshToken := cred.RefreshToken
	s.mu.Unlock()

	if refreshToken == "" {
		log.Debug("access token is stale and no refresh token is stored")
		return false
	}

	_, err, _ := s.refreshGroup.Do(s.path, func() (interface{}, error) {
		return nil, s.doRefresh(ctx, refreshToken)
	})
	if err != nil {
		log.Warnf("token refresh failed: %v", err)
		return false
	}
	return true
}

// doRefresh performs the upstream refresh call and reacts to its
// classification. Persistence happens through the token-update hook the
// client fires on success.
func (s *TokenStore) doRefresh(ctx context.Context, refreshToken string) error {
	client, err := s.ensureClient()
	if err != nil {
		return err
	}

	if _, err = client.Refresh(ctx, refreshToken); err != nil {
		classified := Classify(err)
		if classified.RequiresTokenClear() {
			log.Warnf("stored credential is permanently unusable (%s); clearing it", classified.Code)
			s.Clear()
		}
		return classified
	}
	return nil
}

// Save writes the credential atomically, stamping created_at with the
// current time. The write goes to a uniquely named temporary file in the
// same directory which is then renamed over the destination, so readers
// never observe a partially written file.
func (s *TokenStore) Save(cred *StoredCredential) error {
	if cred == nil {
		return fmt.Errorf("token store: credential is nil")
	}
	cred.CreatedAt = time.Now().UnixMilli()

	data, err := json.MarshalIndent(cred, "", "  ")
	if err != nil {
		return fmt.Errorf("token store: marshal credential: %w", err)
	}

	misc.LogSavingCredentials(s.path)

	lock := lockForPath(s.path)
	lock.Lock()
	defer lock.Unlock()

	if err = writeFileAtomic(s.path, data); err != nil {
		return err
	}

	s.mu.Lock()
	copied := *cred
	s.cred = &copied
	s.mu.Unlock()
	return nil
}

// Clear drops the in-memory credential and deletes the token file.
// Clearing is best-effort: a missing file is not an error and all other
// failures are logged rather than returned.
func (s *TokenStore) Clear() {
	s.mu.Lock()
	s.cred = nil
	s.mu.Unlock()

	lock := lockForPath(s.path)
	lock.Lock()
	defer lock.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		log.Warnf("cannot delete token file %s: %v", s.path, err)
	}
}

// handleTokenUpdate merges a provider-issued token into the existing file
// rather than overwriting it wholesale: the new refresh_token is used only
// if the provider actually returned one, and created_at is always carried
// forward from the original file. The merge-write is serialized with any
// other writer to the same path.
func (s *TokenStore) handleTokenUpdate(tok *oauth2.Token) {
	if tok == nil || tok.AccessToken == "" {
		return
	}

	lock := lockForPath(s.path)
	lock.Lock()
	defer lock.Unlock()

	existing, err := os.ReadFile(s.path)
	if err != nil || validateCredentialJSON(existing) != nil {
		// No usable file to merge into; fall back to a full write.
		cred := credentialFromToken(tok)
		cred.CreatedAt = time.Now().UnixMilli()
		data, errMarshal := json.MarshalIndent(cred, "", "  ")
		if errMarshal != nil {
			log.Warnf("cannot marshal refreshed credential: %v", errMarshal)
			return
		}
		if errWrite := writeFileAtomic(s.path, data); errWrite != nil {
			log.Warnf("cannot persist refreshed credential: %v", errWrite)
			return
		}
		s.mu.Lock()
		s.cred = cred
		s.mu.Unlock()
		return
	}

	merged := existing
	merged, _ = sjson.SetBytes(merged, "access_token", tok.AccessToken)
	if tok.RefreshToken != "" {
		merged, _ = sjson.SetBytes(merged, "refresh_token", tok.RefreshToken)
	}
	if !tok.Expiry.IsZero() {
		merged, _ = sjson.SetBytes(merged, "expiry_date", tok.Expiry.UnixMilli())
	}
	if tok.TokenType != "" {
		merged, _ = sjson.SetBytes(merged, "token_type", tok.TokenType)
	}
	if scope, ok := tok.Extra("scope").(string); ok && scope != "" {
		merged, _ = sjson.SetBytes(merged, "scope", scope)
	}

	if err = writeFileAtomic(s.path, merged); err != nil {
		log.Warnf("cannot persist refreshed credential: %v", err)
		return
	}
	if cred, errDecode := decodeStoredCredential(merged); errDecode == nil {
		s.mu.Lock()
		s.cred = cred
		s.mu.Unlock()
	}
	log.Debug("merged refreshed token into token file")
}

// ensureClient lazily builds the provider client from the resolved client
// credential when none has been wired explicitly.
func (s *TokenStore) ensureClient() (*GoogleClient, error) {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	if client != nil {
		return client, nil
	}

	cred, err := ResolveClientCredential(s.cfg)
	if err != nil {
		return nil, err
	}
	client = NewGoogleClient(cred, "", WithProxy(s.cfg.ProxyURL))
	s.SetClient(client)
	return client, nil
}

// migrateLegacyTokens moves a pre-migration token file into the resolved
// path, once, when the new path has nothing yet.
func (s *TokenStore) migrateLegacyTokens() {
	if _, err := os.Stat(s.path); err == nil {
		return
	}
	legacy := config.LegacyTokenPath()
	if legacy == s.path {
		return
	}
	data, err := os.ReadFile(legacy)
	if err != nil {
		return
	}
	if err = validateCredentialJSON(data); err != nil {
		log.Warnf("legacy token file %s is not usable, skipping migration: %v", legacy, err)
		return
	}
	if err = writeFileAtomic(s.path, data); err != nil {
		log.Warnf("cannot migrate legacy token file: %v", err)
		return
	}
	if err = os.Remove(legacy); err != nil {
		log.Debugf("cannot remove legacy token file %s: %v", legacy, err)
	}
	log.Warnf("migrated tokens from deprecated location %s to %s", legacy, s.path)
}

// writeFileAtomic writes data to a uniquely named temporary file in the
// destination directory and renames it into place. On failure the
// temporary file is removed best-effort and the error propagated.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("token store: create dir failed: %w", err)
	}

	tmp := filepath.Join(dir, fmt.Sprintf(".%s.%s.tmp", filepath.Base(path), uuid.NewString()))
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("token store: write temp file failed: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("token store: rename failed: %w", err)
	}
	return nil
}
