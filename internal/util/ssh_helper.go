// Package util provides helper functions for SSH tunnel instructions and
// network-related tasks, used when the login flow runs on a remote machine
// without a local browser.
package util

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// IsSSHSession reports whether this process runs inside an SSH session,
// which is when tunnel instructions are worth printing.
func IsSSHSession() bool {
	return os.Getenv("SSH_CONNECTION") != "" || os.Getenv("SSH_TTY") != ""
}

var ipServices = []string{
	"https://api.ipify.org",
	"https://ifconfig.me/ip",
	"https://icanhazip.com",
}

// getPublicIP attempts to retrieve the public IP address from a list of
// external services, returning the first successful response.
func getPublicIP() (string, error) {
	for _, service := range ipServices {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		req, err := http.NewRequestWithContext(ctx, "GET", service, nil)
		if err != nil {
			cancel()
			continue
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			cancel()
			log.Debugf("failed to get public IP from %s: %v", service, err)
			continue
		}
		body, errRead := io.ReadAll(io.LimitReader(resp.Body, 64))
		_ = resp.Body.Close()
		cancel()
		if errRead != nil {
			continue
		}
		ip := strings.TrimSpace(string(body))
		if ip != "" {
			return ip, nil
		}
	}
	return "", fmt.Errorf("all public IP services failed")
}

// PrintSSHTunnelInstructions prints the ssh command needed to forward the
// loopback callback port from the user's workstation to this machine.
func PrintSSHTunnelInstructions(port int) {
	host := "<this-machine>"
	if ip, err := getPublicIP(); err == nil {
		host = ip
	}
	fmt.Println("It looks like this session has no local browser.")
	fmt.Println("From the machine running your browser, open an SSH tunnel first:")
	fmt.Printf("\n  ssh -L %d:127.0.0.1:%d <user>@%s\n\n", port, port, host)
	fmt.Println("then open the authorization URL in that browser.")
}
