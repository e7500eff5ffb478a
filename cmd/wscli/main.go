// Package main provides the entry point for wscli, a command-line tool for
// Google Workspace APIs. This binary covers the authentication lifecycle:
// signing in through the browser-based OAuth flow, inspecting the stored
// credential, and signing out.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/wscli-dev/wscli/internal/buildinfo"
	"github.com/wscli-dev/wscli/internal/cmd"
	"github.com/wscli-dev/wscli/internal/config"
	"github.com/wscli-dev/wscli/internal/logging"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// init initializes the shared logger setup and build metadata.
func init() {
	logging.SetupBaseLogger()
	buildinfo.Version = Version
	buildinfo.Commit = Commit
	buildinfo.BuildDate = BuildDate
}

// main parses command-line flags, loads configuration, and dispatches to
// the selected command.
func main() {
	var login bool
	var logout bool
	var status bool
	var noBrowser bool
	var showVersion bool
	var configPath string
	var profile string

	flag.BoolVar(&login, "login", false, "sign in through the browser-based OAuth flow")
	flag.BoolVar(&logout, "logout", false, "delete the stored credential")
	flag.BoolVar(&status, "status", false, "report whether a usable credential exists")
	flag.BoolVar(&noBrowser, "no-browser", false, "do not open the browser; print the authorization URL instead")
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.StringVar(&configPath, "config", "", "path to the wscli config file")
	flag.StringVar(&profile, "profile", "", "named credential/token profile to use")
	flag.Parse()

	if showVersion {
		fmt.Printf("wscli %s (commit %s, built %s)\n", buildinfo.Version, buildinfo.Commit, buildinfo.BuildDate)
		return
	}

	// A .env next to the binary may carry WSCLI_* overrides.
	if err := godotenv.Load(); err == nil {
		log.Debug("loaded environment overrides from .env")
	}

	if configPath == "" {
		configPath = config.DefaultConfigPath()
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if profile != "" {
		cfg.Profile = profile
	}
	logging.ConfigureFromConfig(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case login:
		err = cmd.DoLogin(ctx, cfg, noBrowser)
	case logout:
		err = cmd.DoLogout(cfg)
	case status:
		err = cmd.DoStatus(ctx, cfg)
	default:
		flag.Usage()
		return
	}
	if err != nil {
		log.Fatalf("%v", err)
	}
}
