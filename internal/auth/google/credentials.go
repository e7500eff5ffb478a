package google

import (
	"errors"
	"fmt"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/wscli-dev/wscli/internal/config"
)

// GoogleClientSuffix is the suffix every Google-issued OAuth client id ends
// with. Ids without it are suspicious but not necessarily broken.
const GoogleClientSuffix = ".apps.googleusercontent.com"

// ClientCredential is the OAuth client identity resolved from the
// environment or a credential file. It is loaded once per authentication
// attempt and never persisted alongside tokens.
type ClientCredential struct {
	ClientID     string
	ClientSecret string
	RedirectURIs []string
}

// errCredentialNotFound signals that a resolver source had nothing to
// offer, letting resolution fall through to the next source.
var errCredentialNotFound = errors.New("credential source not found")

// credentialResolver is one source in the ordered resolution chain.
type credentialResolver struct {
	name    string
	legacy  bool
	resolve func(cfg *config.Config) (*ClientCredential, error)
}

// ResolveClientCredential locates and parses the OAuth client identity.
// Sources are tried in order: environment variables, the active profile's
// credential file, the default credential file, then legacy pre-migration
// paths. It fails with an OAUTH_NOT_CONFIGURED classified error when no
// source yields a client id.
func ResolveClientCredential(cfg *config.Config) (*ClientCredential, error) {
	resolvers := []credentialResolver{
		{name: "environment", resolve: resolveFromEnv},
		{name: "profile credential file", resolve: resolveFromProfileFile},
		{name: "default credential file", resolve: resolveFromDefaultFile},
	}
	for _, path := range config.LegacyCredentialPaths() {
		p := path
		resolvers = append(resolvers, credentialResolver{
			name:   fmt.Sprintf("legacy path %s", p),
			legacy: true,
			resolve: func(*config.Config) (*ClientCredential, error) {
				return parseCredentialPath(p)
			},
		})
	}

	for _, r := range resolvers {
		cred, err := r.resolve(cfg)
		if errors.Is(err, errCredentialNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("resolve credentials from %s: %w", r.name, err)
		}
		if r.legacy {
			log.Warnf("loaded OAuth credentials from deprecated location (%s); move them to %s", r.name, cfg.CredentialFilePath())
		}
		if err = validateClientCredential(cred); err != nil {
			return nil, err
		}
		log.Debugf("resolved OAuth client credential from %s", r.name)
		return cred, nil
	}

	return nil, &AuthError{
		Code:   ErrOAuthNotConfigured,
		Reason: "no OAuth client credentials were found",
		Fix: []string{
			"Create an OAuth client (Desktop app) in the Google Cloud console.",
			fmt.Sprintf("Save the downloaded JSON as %s,", cfg.CredentialFilePath()),
			fmt.Sprintf("or set %s and %s in the environment.", config.EnvClientID, config.EnvClientSecret),
		},
		Links: []string{credentialsConsoleURL},
	}
}

// resolveFromEnv builds a credential from WSCLI_OAUTH_CLIENT_ID /
// WSCLI_OAUTH_CLIENT_SECRET, or from a file named by WSCLI_OAUTH_CREDENTIALS.
func resolveFromEnv(*config.Config) (*ClientCredential, error) {
	if path := strings.TrimSpace(os.Getenv(config.EnvCredentials)); path != "" {
		cred, err := parseCredentialPath(path)
		if errors.Is(err, errCredentialNotFound) {
			return nil, fmt.Errorf("%s points at %s but the file does not exist", config.EnvCredentials, path)
		}
		return cred, err
	}

	id := os.Getenv(config.EnvClientID)
	if strings.TrimSpace(id) == "" {
		return nil, errCredentialNotFound
	}
	return &ClientCredential{
		ClientID:     id,
		ClientSecret: os.Getenv(config.EnvClientSecret),
	}, nil
}

func resolveFromProfileFile(cfg *config.Config) (*ClientCredential, error) {
	if strings.TrimSpace(cfg.Profile) == "" {
		return nil, errCredentialNotFound
	}
	return parseCredentialPath(cfg.CredentialFilePath())
}

func resolveFromDefaultFile(*config.Config) (*ClientCredential, error) {
	return parseCredentialPath(config.DefaultCredentialFilePath())
}

// parseCredentialPath reads and normalizes one credential file.
func parseCredentialPath(path string) (*ClientCredential, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errCredentialNotFound
		}
		return nil, err
	}
	cred, err := parseCredentialFile(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cred, nil
}

// parseCredentialFile normalizes the three known credential file shapes
// ("installed" for desktop apps, "web", or a flat object) into a single
// ClientCredential.
func parseCredentialFile(data []byte) (*ClientCredential, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("credential file is not valid JSON")
	}

	root := gjson.ParseBytes(data)
	section := root
	switch {
	case root.Get("installed").Exists():
		section = root.Get("installed")
	case root.Get("web").Exists():
		section = root.Get("web")
	}

	cred := &ClientCredential{
		ClientID:     section.Get("client_id").String(),
		ClientSecret: section.Get("client_secret").String(),
	}
	for _, uri := range section.Get("redirect_uris").Array() {
		cred.RedirectURIs = append(cred.RedirectURIs, uri.String())
	}

	if cred.ClientID == "" {
		return nil, fmt.Errorf("credential file has no client_id")
	}
	return cred, nil
}

// validateClientCredential runs the structural check on the client id.
// Failing the minimal check is fatal (INVALID_CLIENT); everything else only
// warns, since unusual ids can still be valid.
func validateClientCredential(cred *ClientCredential) error {
	id := cred.ClientID
	if strings.TrimSpace(id) == "" {
		return &AuthError{
			Code:   ErrInvalidClient,
			Reason: "the configured OAuth client id is empty",
			Fix: []string{
				"Re-download the OAuth client JSON from the Google Cloud console.",
			},
			Links: []string{credentialsConsoleURL},
		}
	}
	if id != strings.TrimSpace(id) {
		log.Warnf("OAuth client id has surrounding whitespace; this usually indicates a copy/paste error")
	}
	trimmed := strings.TrimSpace(id)
	if !strings.HasSuffix(trimmed, GoogleClientSuffix) {
		log.Warnf("OAuth client id does not end in %s; Google-issued ids always do", GoogleClientSuffix)
	}
	if len(trimmed) < 30 {
		log.Warnf("OAuth client id looks suspiciously short (%d characters)", len(trimmed))
	}
	return nil
}
