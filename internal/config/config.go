// Package config defines the wscli configuration model and the helpers that
// resolve on-disk locations for configuration and credential files. The
// configuration is stored as YAML; every value can also be supplied through
// environment variables, which take precedence over the file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Environment variables recognized by the configuration layer.
const (
	EnvConfigDir    = "WSCLI_CONFIG_DIR"
	EnvProfile      = "WSCLI_PROFILE"
	EnvTokenFile    = "WSCLI_TOKEN_FILE"
	EnvClientID     = "WSCLI_OAUTH_CLIENT_ID"
	EnvClientSecret = "WSCLI_OAUTH_CLIENT_SECRET"
	EnvCredentials  = "WSCLI_OAUTH_CREDENTIALS"
)

// appDirName is the directory created under the user config root.
const appDirName = "wscli"

// legacyDirName is the pre-migration dot directory in the user's home.
const legacyDirName = ".wscli"

// Config holds the user-tunable settings for wscli.
type Config struct {
	// Profile selects a named credential/token namespace. Empty means the
	// default profile.
	Profile string `yaml:"profile" json:"profile"`

	// ProxyURL routes outbound OAuth traffic through an HTTP, HTTPS or
	// SOCKS5 proxy when set.
	ProxyURL string `yaml:"proxy-url" json:"proxy-url"`

	// Debug enables debug-level logging.
	Debug bool `yaml:"debug" json:"debug"`

	// LoggingToFile mirrors log output into a rotating file under the
	// config directory instead of stderr only.
	LoggingToFile bool `yaml:"logging-to-file" json:"logging-to-file"`
}

// LoadConfig reads the YAML configuration from configFile. A missing file is
// not an error; defaults plus environment overrides are returned instead.
func LoadConfig(configFile string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(configFile)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	} else if err = yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", configFile, err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides lets environment variables win over file values.
func (c *Config) applyEnvOverrides() {
	if v := strings.TrimSpace(os.Getenv(EnvProfile)); v != "" {
		c.Profile = v
	}
}

// DefaultConfigPath returns the path of the YAML config file.
func DefaultConfigPath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// ConfigDir resolves the wscli configuration directory. Resolution order:
// WSCLI_CONFIG_DIR, XDG_CONFIG_HOME/wscli, ~/.config/wscli.
func ConfigDir() string {
	if dir := strings.TrimSpace(os.Getenv(EnvConfigDir)); dir != "" {
		return dir
	}
	if xdg := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); xdg != "" {
		return filepath.Join(xdg, appDirName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		log.Debugf("cannot resolve home directory: %v", err)
		return appDirName
	}
	return filepath.Join(home, ".config", appDirName)
}

// LegacyDir returns the pre-migration configuration directory (~/.wscli).
func LegacyDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return legacyDirName
	}
	return filepath.Join(home, legacyDirName)
}

// profileDir returns the directory holding per-profile files, or the base
// config directory for the default profile.
func (c *Config) profileDir() string {
	if p := strings.TrimSpace(c.Profile); p != "" {
		return filepath.Join(ConfigDir(), "profiles", p)
	}
	return ConfigDir()
}

// TokenFilePath resolves where the stored credential lives. WSCLI_TOKEN_FILE
// overrides everything; otherwise the path is profile-aware under the config
// directory.
func (c *Config) TokenFilePath() string {
	if p := strings.TrimSpace(os.Getenv(EnvTokenFile)); p != "" {
		return p
	}
	return filepath.Join(c.profileDir(), "tokens.json")
}

// CredentialFilePath returns the profile-aware OAuth client credential file.
func (c *Config) CredentialFilePath() string {
	return filepath.Join(c.profileDir(), "oauth-credentials.json")
}

// DefaultCredentialFilePath returns the credential file of the default
// profile, consulted when the active profile has none.
func DefaultCredentialFilePath() string {
	return filepath.Join(ConfigDir(), "oauth-credentials.json")
}

// LegacyCredentialPaths lists pre-migration credential locations, in the
// order they are tried. Using one emits a deprecation notice.
func LegacyCredentialPaths() []string {
	paths := []string{"gcp-oauth.keys.json"}
	if wd, err := os.Getwd(); err == nil {
		paths[0] = filepath.Join(wd, "gcp-oauth.keys.json")
	}
	return append(paths, filepath.Join(LegacyDir(), "credentials.json"))
}

// LegacyTokenPath returns the pre-migration token file location.
func LegacyTokenPath() string {
	return filepath.Join(LegacyDir(), "tokens.json")
}
