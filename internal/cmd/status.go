package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/wscli-dev/wscli/internal/auth/google"
	"github.com/wscli-dev/wscli/internal/config"
)

// DoStatus reports whether a usable credential exists, refreshing it first
// when it is stale.
func DoStatus(ctx context.Context, cfg *config.Config) error {
	store := google.NewTokenStore(cfg)

	if !store.LoadSaved() {
		fmt.Println("Not authenticated. Run wscli --login to sign in.")
		return nil
	}

	if !store.Validate(ctx) {
		fmt.Println("Stored credential is stale and could not be refreshed. Run wscli --login to sign in again.")
		return nil
	}

	cred := store.Credential()
	fmt.Printf("Authenticated. Token file: %s\n", store.Path())
	if expiry := cred.Expiry(); !expiry.IsZero() {
		fmt.Printf("Access token expires at %s\n", expiry.Format(time.RFC3339))
	}
	if cred.CreatedAt != 0 {
		fmt.Printf("First authorized at %s\n", time.UnixMilli(cred.CreatedAt).Format(time.RFC3339))
	}
	return nil
}
