package cmd

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/wscli-dev/wscli/internal/auth/google"
	"github.com/wscli-dev/wscli/internal/config"
)

func TestWaitForFlowResolvesOnExternalLogin(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	store := google.NewTokenStoreAt(&config.Config{}, filepath.Join(t.TempDir(), "tokens.json"))
	if err := store.Save(&google.StoredCredential{
		AccessToken: "external",
		ExpiryDate:  time.Now().Add(time.Hour).UnixMilli(),
	}); err != nil {
		t.Fatal(err)
	}

	// The server's own flow never completes; only the reload signal can
	// resolve the wait.
	server := google.NewOAuthServer(&config.Config{}, store)
	reloaded := make(chan struct{}, 1)
	reloaded <- struct{}{}

	done := make(chan error, 1)
	go func() {
		done <- waitForFlow(server, store, reloaded, nil)
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("waitForFlow() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("wait did not resolve after another process wrote the credential")
	}
}

func TestWaitForFlowIgnoresEmptyReload(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	store := google.NewTokenStoreAt(&config.Config{}, filepath.Join(t.TempDir(), "tokens.json"))
	server := google.NewOAuthServer(&config.Config{}, store)

	reloaded := make(chan struct{}, 1)
	reloaded <- struct{}{}

	done := make(chan error, 1)
	go func() {
		done <- waitForFlow(server, store, reloaded, nil)
	}()

	// A reload that did not produce a usable credential (file deleted or
	// unreadable) must keep the wait alive.
	select {
	case err := <-done:
		t.Fatalf("waitForFlow() returned (%v) on a reload without a credential", err)
	case <-time.After(300 * time.Millisecond):
	}
}
