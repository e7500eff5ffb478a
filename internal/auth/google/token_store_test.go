package google

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"

	"github.com/wscli-dev/wscli/internal/config"
)

func newTestStore(t *testing.T) *TokenStore {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "tokens.json")
	return NewTokenStoreAt(&config.Config{}, path)
}

// newRefreshServer stands in for the provider token endpoint. Every refresh
// call bumps calls and answers with the given handler.
func newRefreshServer(t *testing.T, calls *int32, handler http.HandlerFunc) *GoogleClient {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		handler(w, r)
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	cred := &ClientCredential{ClientID: "test-client" + GoogleClientSuffix, ClientSecret: "shhh"}
	return NewGoogleClient(cred, "http://127.0.0.1/oauth2callback",
		WithEndpoint(oauth2.Endpoint{AuthURL: ts.URL + "/auth", TokenURL: ts.URL + "/token"}),
	)
}

func grantJSON(w http.ResponseWriter, accessToken string, expiresIn int64) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"access_token": accessToken,
		"token_type":   "Bearer",
		"expires_in":   expiresIn,
	})
}

func TestTokenStoreSaveLoadRoundTrip(t *testing.T) {
	store := newTestStore(t)

	saved := &StoredCredential{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiryDate:   time.Now().Add(time.Hour).UnixMilli(),
		TokenType:    "Bearer",
		Scope:        "email",
	}
	if err := store.Save(saved); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if saved.CreatedAt == 0 {
		t.Error("Save() did not stamp created_at")
	}

	reloaded := NewTokenStoreAt(&config.Config{}, store.Path())
	if !reloaded.LoadSaved() {
		t.Fatal("LoadSaved() = false after Save()")
	}
	got := reloaded.Credential()
	if got.AccessToken != saved.AccessToken || got.RefreshToken != saved.RefreshToken {
		t.Errorf("round trip mismatch: got %+v", got)
	}
	if got.CreatedAt != saved.CreatedAt {
		t.Errorf("created_at changed across round trip: %d != %d", got.CreatedAt, saved.CreatedAt)
	}

	// Nothing in the directory besides the final file; the temp file must be
	// gone after the rename.
	entries, err := os.ReadDir(filepath.Dir(store.Path()))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("token directory holds %d entries, want only the token file", len(entries))
	}
}

func TestTokenStoreLoadSavedMissingFile(t *testing.T) {
	store := newTestStore(t)
	if store.LoadSaved() {
		t.Error("LoadSaved() = true with no file on disk")
	}
}

func TestTokenStoreLoadSavedCorrupted(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"truncated json", `{"access_token":"a`},
		{"wrong type", `{"access_token":12345}`},
		{"missing access token", `{"refresh_token":"r"}`},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			store := newTestStore(t)
			if err := os.WriteFile(store.Path(), []byte(tt.data), 0o600); err != nil {
				t.Fatal(err)
			}
			if store.LoadSaved() {
				t.Error("LoadSaved() = true for corrupted file")
			}
			if _, err := os.Stat(store.Path()); !os.IsNotExist(err) {
				t.Error("corrupted token file was not removed")
			}
			if store.Validate(context.Background()) {
				t.Error("Validate() = true after corrupted file")
			}
		})
	}
}

func TestTokenStoreRefreshIfNeededFresh(t *testing.T) {
	store := newTestStore(t)
	var calls int32
	store.SetClient(newRefreshServer(t, &calls, func(w http.ResponseWriter, r *http.Request) {
		grantJSON(w, "should-not-happen", 3600)
	}))

	if err := store.Save(&StoredCredential{
		AccessToken:  "fresh",
		RefreshToken: "refresh-1",
		ExpiryDate:   time.Now().Add(10 * time.Minute).UnixMilli(),
	}); err != nil {
		t.Fatal(err)
	}

	if !store.RefreshIfNeeded(context.Background()) {
		t.Error("RefreshIfNeeded() = false for a fresh token")
	}
	if n := atomic.LoadInt32(&calls); n != 0 {
		t.Errorf("token endpoint called %d times for a fresh token", n)
	}
}

func TestTokenStoreRefreshIfNeededStale(t *testing.T) {
	store := newTestStore(t)
	var calls int32
	store.SetClient(newRefreshServer(t, &calls, func(w http.ResponseWriter, r *http.Request) {
		if got := r.FormValue("grant_type"); got != "refresh_token" {
			t.Errorf("grant_type = %q", got)
		}
		if got := r.FormValue("refresh_token"); got != "refresh-1" {
			t.Errorf("refresh_token = %q", got)
		}
		grantJSON(w, "access-2", 3600)
	}))

	if err := store.Save(&StoredCredential{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiryDate:   time.Now().Add(4 * time.Minute).UnixMilli(),
	}); err != nil {
		t.Fatal(err)
	}
	createdAt := store.Credential().CreatedAt

	if !store.RefreshIfNeeded(context.Background()) {
		t.Fatal("RefreshIfNeeded() = false, want successful refresh")
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("token endpoint called %d times, want 1", n)
	}

	data, err := os.ReadFile(store.Path())
	if err != nil {
		t.Fatal(err)
	}
	if got := gjson.GetBytes(data, "access_token").String(); got != "access-2" {
		t.Errorf("persisted access_token = %q, want refreshed value", got)
	}
	if got := gjson.GetBytes(data, "refresh_token").String(); got != "refresh-1" {
		t.Errorf("persisted refresh_token = %q, want original kept", got)
	}
	if got := gjson.GetBytes(data, "created_at").Int(); got != createdAt {
		t.Errorf("created_at = %d, want original %d carried forward", got, createdAt)
	}
}

func TestTokenStoreRefreshNoRefreshToken(t *testing.T) {
	store := newTestStore(t)
	var calls int32
	store.SetClient(newRefreshServer(t, &calls, func(w http.ResponseWriter, r *http.Request) {
		grantJSON(w, "unused", 3600)
	}))

	if err := store.Save(&StoredCredential{
		AccessToken: "access-1",
		ExpiryDate:  time.Now().Add(-time.Minute).UnixMilli(),
	}); err != nil {
		t.Fatal(err)
	}

	if store.RefreshIfNeeded(context.Background()) {
		t.Error("RefreshIfNeeded() = true with no refresh token")
	}
	if n := atomic.LoadInt32(&calls); n != 0 {
		t.Errorf("token endpoint called %d times, want 0", n)
	}
}

func TestTokenStoreRefreshDeduplicatesConcurrent(t *testing.T) {
	store := newTestStore(t)
	var calls int32
	store.SetClient(newRefreshServer(t, &calls, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		grantJSON(w, "access-2", 3600)
	}))

	if err := store.Save(&StoredCredential{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiryDate:   time.Now().Add(time.Minute).UnixMilli(),
	}); err != nil {
		t.Fatal(err)
	}

	const workers = 8
	results := make([]bool, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = store.RefreshIfNeeded(context.Background())
		}(i)
	}
	wg.Wait()

	for i, ok := range results {
		if !ok {
			t.Errorf("concurrent caller %d got false", i)
		}
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("token endpoint called %d times, want exactly 1", n)
	}
}

func TestTokenStoreRefreshInvalidGrantClearsTokens(t *testing.T) {
	store := newTestStore(t)
	var calls int32
	store.SetClient(newRefreshServer(t, &calls, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"Bad Request"}`))
	}))

	if err := store.Save(&StoredCredential{
		AccessToken:  "access-1",
		RefreshToken: "refresh-dead",
		ExpiryDate:   time.Now().Add(-time.Minute).UnixMilli(),
	}); err != nil {
		t.Fatal(err)
	}

	if store.RefreshIfNeeded(context.Background()) {
		t.Error("RefreshIfNeeded() = true after invalid_grant")
	}
	if _, err := os.Stat(store.Path()); !os.IsNotExist(err) {
		t.Error("token file survived an invalid_grant refresh")
	}
	if store.Credential() != nil {
		t.Error("in-memory credential survived an invalid_grant refresh")
	}
}

func TestTokenStoreRefreshTransientErrorKeepsTokens(t *testing.T) {
	store := newTestStore(t)
	var calls int32
	store.SetClient(newRefreshServer(t, &calls, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal_failure"}`))
	}))

	if err := store.Save(&StoredCredential{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiryDate:   time.Now().Add(-time.Minute).UnixMilli(),
	}); err != nil {
		t.Fatal(err)
	}

	if store.RefreshIfNeeded(context.Background()) {
		t.Error("RefreshIfNeeded() = true after server error")
	}
	if _, err := os.Stat(store.Path()); err != nil {
		t.Error("token file was cleared for a recoverable refresh failure")
	}
}

func TestHandleTokenUpdateMerge(t *testing.T) {
	store := newTestStore(t)

	if err := store.Save(&StoredCredential{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiryDate:   time.Now().Add(time.Minute).UnixMilli(),
		Scope:        "email",
	}); err != nil {
		t.Fatal(err)
	}
	createdAt := store.Credential().CreatedAt

	// The provider omits the refresh token on refresh responses.
	store.handleTokenUpdate(&oauth2.Token{
		AccessToken: "access-2",
		TokenType:   "Bearer",
		Expiry:      time.Now().Add(time.Hour),
	})

	data, err := os.ReadFile(store.Path())
	if err != nil {
		t.Fatal(err)
	}
	if got := gjson.GetBytes(data, "access_token").String(); got != "access-2" {
		t.Errorf("access_token = %q after merge", got)
	}
	if got := gjson.GetBytes(data, "refresh_token").String(); got != "refresh-1" {
		t.Errorf("refresh_token = %q, want preserved original", got)
	}
	if got := gjson.GetBytes(data, "created_at").Int(); got != createdAt {
		t.Errorf("created_at = %d, want untouched %d", got, createdAt)
	}
	if got := gjson.GetBytes(data, "scope").String(); got != "email" {
		t.Errorf("scope = %q, want untouched original", got)
	}
	if got := store.Credential().AccessToken; got != "access-2" {
		t.Errorf("in-memory access token = %q after merge", got)
	}
}

func TestHandleTokenUpdateNoExistingFile(t *testing.T) {
	store := newTestStore(t)

	store.handleTokenUpdate(&oauth2.Token{
		AccessToken: "access-1",
		TokenType:   "Bearer",
		Expiry:      time.Now().Add(time.Hour),
	})

	data, err := os.ReadFile(store.Path())
	if err != nil {
		t.Fatalf("merge without existing file did not write: %v", err)
	}
	if got := gjson.GetBytes(data, "access_token").String(); got != "access-1" {
		t.Errorf("access_token = %q", got)
	}
	if gjson.GetBytes(data, "created_at").Int() == 0 {
		t.Error("full write did not stamp created_at")
	}
}

func TestTokenStoreClearIdempotent(t *testing.T) {
	store := newTestStore(t)

	if err := store.Save(&StoredCredential{AccessToken: "a"}); err != nil {
		t.Fatal(err)
	}
	store.Clear()
	if _, err := os.Stat(store.Path()); !os.IsNotExist(err) {
		t.Error("Clear() left the token file behind")
	}
	if store.Credential() != nil {
		t.Error("Clear() left the in-memory credential behind")
	}

	// Clearing again with nothing on disk must not panic or error.
	store.Clear()
}

func TestTokenStoreMigratesLegacyTokens(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	legacy := filepath.Join(home, ".wscli")
	if err := os.MkdirAll(legacy, 0o700); err != nil {
		t.Fatal(err)
	}
	blob := []byte(`{"access_token":"legacy-access","refresh_token":"legacy-refresh","expiry_date":` +
		`4102444800000,"created_at":1700000000000}`)
	if err := os.WriteFile(filepath.Join(legacy, "tokens.json"), blob, 0o600); err != nil {
		t.Fatal(err)
	}

	store := NewTokenStoreAt(&config.Config{}, filepath.Join(t.TempDir(), "tokens.json"))
	if !store.LoadSaved() {
		t.Fatal("LoadSaved() = false, want legacy tokens migrated")
	}
	if got := store.Credential().AccessToken; got != "legacy-access" {
		t.Errorf("access token = %q after migration", got)
	}
	if _, err := os.Stat(store.Path()); err != nil {
		t.Errorf("migrated token file missing at new path: %v", err)
	}
}
