package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv(EnvProfile, "")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := []byte("profile: work\nproxy-url: socks5://127.0.0.1:1080\ndebug: true\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Profile != "work" {
		t.Errorf("profile = %q", cfg.Profile)
	}
	if cfg.ProxyURL != "socks5://127.0.0.1:1080" {
		t.Errorf("proxy-url = %q", cfg.ProxyURL)
	}
	if !cfg.Debug {
		t.Error("debug not set")
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	t.Setenv(EnvProfile, "")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig() error = %v for a missing file", err)
	}
	if cfg.Profile != "" || cfg.Debug {
		t.Errorf("missing file produced non-default config: %+v", cfg)
	}
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("profile: [unclosed"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("LoadConfig() accepted invalid YAML")
	}
}

func TestLoadConfigEnvProfileWins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("profile: from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvProfile, "from-env")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Profile != "from-env" {
		t.Errorf("profile = %q, want environment override", cfg.Profile)
	}
}

func TestConfigDirResolution(t *testing.T) {
	explicit := t.TempDir()
	t.Setenv(EnvConfigDir, explicit)
	if got := ConfigDir(); got != explicit {
		t.Errorf("ConfigDir() = %q, want %s to win", got, EnvConfigDir)
	}

	t.Setenv(EnvConfigDir, "")
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	if got := ConfigDir(); got != filepath.Join(xdg, "wscli") {
		t.Errorf("ConfigDir() = %q, want XDG fallback", got)
	}

	t.Setenv("XDG_CONFIG_HOME", "")
	home := t.TempDir()
	t.Setenv("HOME", home)
	if got := ConfigDir(); got != filepath.Join(home, ".config", "wscli") {
		t.Errorf("ConfigDir() = %q, want home fallback", got)
	}
}

func TestTokenFilePath(t *testing.T) {
	base := t.TempDir()
	t.Setenv(EnvConfigDir, base)
	t.Setenv(EnvTokenFile, "")

	cfg := &Config{}
	if got := cfg.TokenFilePath(); got != filepath.Join(base, "tokens.json") {
		t.Errorf("default token path = %q", got)
	}

	cfg.Profile = "work"
	if got := cfg.TokenFilePath(); got != filepath.Join(base, "profiles", "work", "tokens.json") {
		t.Errorf("profile token path = %q", got)
	}

	override := filepath.Join(t.TempDir(), "elsewhere.json")
	t.Setenv(EnvTokenFile, override)
	if got := cfg.TokenFilePath(); got != override {
		t.Errorf("token path = %q, want %s to win", got, EnvTokenFile)
	}
}

func TestCredentialFilePaths(t *testing.T) {
	base := t.TempDir()
	t.Setenv(EnvConfigDir, base)

	cfg := &Config{Profile: "work"}
	if got := cfg.CredentialFilePath(); got != filepath.Join(base, "profiles", "work", "oauth-credentials.json") {
		t.Errorf("profile credential path = %q", got)
	}
	if got := DefaultCredentialFilePath(); got != filepath.Join(base, "oauth-credentials.json") {
		t.Errorf("default credential path = %q", got)
	}
}
