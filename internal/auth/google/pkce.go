// Package google implements the wscli authentication subsystem for Google
// Workspace APIs: resolving the OAuth client credential, running the
// loopback PKCE authorization-code flow, classifying provider errors, and
// persisting/refreshing the resulting tokens.
package google

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// PKCECodes holds a verifier/challenge pair for one authorization attempt.
// The pair is single-use: it lives only in server memory and is discarded
// once the code exchange succeeds or fails.
type PKCECodes struct {
	// CodeVerifier is the high-entropy secret proven during token exchange.
	CodeVerifier string
	// CodeChallenge is the base64url-encoded SHA-256 digest of the verifier.
	CodeChallenge string
	// Method is the challenge derivation method, always S256.
	Method string
}

// GeneratePKCECodes generates a new pair of PKCE (Proof Key for Code
// Exchange) codes as specified in RFC 7636: a cryptographically random code
// verifier and its SHA-256 code challenge.
func GeneratePKCECodes() (*PKCECodes, error) {
	codeVerifier, err := generateCodeVerifier()
	if err != nil {
		return nil, fmt.Errorf("failed to generate code verifier: %w", err)
	}

	return &PKCECodes{
		CodeVerifier:  codeVerifier,
		CodeChallenge: generateCodeChallenge(codeVerifier),
		Method:        "S256",
	}, nil
}

// GenerateState produces a single-use anti-CSRF state token. 32 random
// bytes keep the token above the 256-bit entropy floor required for state
// values that are only ever compared, never derived from.
func GenerateState() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(bytes), nil
}

// generateCodeVerifier creates a cryptographically secure random string to
// be used as the code verifier in the PKCE flow.
func generateCodeVerifier() (string, error) {
	// 96 random bytes encode to 128 base64 characters, the RFC 7636 maximum.
	bytes := make([]byte, 96)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(bytes), nil
}

// generateCodeChallenge derives the S256 challenge for a code verifier.
func generateCodeChallenge(codeVerifier string) string {
	hash := sha256.Sum256([]byte(codeVerifier))
	return base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(hash[:])
}
