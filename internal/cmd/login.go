// Package cmd implements the top-level wscli commands dispatched from main.
package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/wscli-dev/wscli/internal/auth/google"
	"github.com/wscli-dev/wscli/internal/config"
	"github.com/wscli-dev/wscli/internal/watcher"
)

// loginWaitLimit bounds how long the login command waits for the user to
// click through; the callback server itself imposes no timeout.
const loginWaitLimit = 15 * time.Minute

// DoLogin runs the browser-based authorization flow and persists the
// resulting credential. With noBrowser set, the authorization URL is
// printed and the user may paste the callback URL manually.
func DoLogin(ctx context.Context, cfg *config.Config, noBrowser bool) error {
	store := google.NewTokenStore(cfg)
	server := google.NewOAuthServer(cfg, store)

	started, err := server.Start(ctx, !noBrowser)
	if err != nil {
		return err
	}
	if !started {
		fmt.Println("Already authenticated; stored credential is valid.")
		return nil
	}
	defer func() {
		if errStop := server.Stop(); errStop != nil {
			log.Debugf("callback server stop: %v", errStop)
		}
	}()

	// A login running in another terminal may write the token file first.
	// Watching it lets this wait resolve either way.
	reloaded := watchTokenFile(ctx, store)

	fmt.Println("Waiting for authentication callback...")

	var prompt <-chan string
	if noBrowser {
		prompt = promptForCallbackURL()
	}
	if err = waitForFlow(server, store, reloaded, prompt); err != nil {
		return err
	}

	fmt.Printf("Authentication successful. Tokens saved to %s\n", store.Path())
	return nil
}

// watchTokenFile starts a token file watcher and returns its reload signal,
// or nil when watching is unavailable. Watching is an optimization; login
// proceeds without it.
func watchTokenFile(ctx context.Context, store *google.TokenStore) <-chan struct{} {
	w, err := watcher.NewTokenWatcher(store)
	if err != nil {
		log.Debugf("cannot watch token file: %v", err)
		return nil
	}
	if err = w.Start(ctx); err != nil {
		log.Debugf("cannot watch token file: %v", err)
		return nil
	}
	return w.Reloaded()
}

// promptForCallbackURL reads one pasted callback URL from stdin.
func promptForCallbackURL() <-chan string {
	prompt := make(chan string, 1)
	go func() {
		fmt.Print("Paste the callback URL here (or press Enter to keep waiting): ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil {
			return
		}
		prompt <- strings.TrimSpace(line)
	}()
	return prompt
}

// waitForFlow blocks until the server's flow completes, a credential written
// by another process appears on disk, or a pasted callback URL finishes the
// flow. Nil channels simply never fire.
func waitForFlow(server *google.OAuthServer, store *google.TokenStore, reloaded <-chan struct{}, prompt <-chan string) error {
	waitErr := make(chan error, 1)
	go func() {
		waitErr <- server.WaitForCompletion(loginWaitLimit)
	}()

	for {
		select {
		case err := <-waitErr:
			return err
		case <-reloaded:
			if cred := store.Credential(); cred != nil && cred.AccessToken != "" {
				log.Debug("credential appeared on disk, another process completed the login")
				return nil
			}
		case line := <-prompt:
			if line == "" {
				continue
			}
			if err := server.SubmitCallbackURL(line); err != nil {
				return err
			}
			return <-waitErr
		}
	}
}
