package cmd

import (
	"fmt"
	"os"

	"github.com/wscli-dev/wscli/internal/auth/google"
	"github.com/wscli-dev/wscli/internal/config"
)

// DoLogout deletes the stored credential for the active profile. A missing
// token file is not an error.
func DoLogout(cfg *config.Config) error {
	store := google.NewTokenStore(cfg)
	path := store.Path()

	_, statErr := os.Stat(path)
	store.Clear()

	if os.IsNotExist(statErr) {
		fmt.Println("No stored credential found; nothing to do.")
		return nil
	}
	fmt.Printf("Removed stored credential %s\n", path)
	return nil
}
