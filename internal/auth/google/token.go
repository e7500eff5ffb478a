package google

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"
)

// StoredCredential is the durable token entity written to the token file.
// It is created on first successful exchange, mutated in place on every
// refresh, and deleted on logout or when classified as unrecoverable.
type StoredCredential struct {
	// AccessToken is the bearer token presented to Workspace APIs.
	AccessToken string `json:"access_token"`

	// RefreshToken obtains new access tokens. A refresh response that omits
	// it must never drop the previously stored value.
	RefreshToken string `json:"refresh_token,omitempty"`

	// ExpiryDate is the access token expiry as Unix milliseconds. Zero
	// means the expiry is unknown.
	ExpiryDate int64 `json:"expiry_date,omitempty"`

	// TokenType is the token type reported by the provider, usually Bearer.
	TokenType string `json:"token_type,omitempty"`

	// Scope is the space-separated list of granted scopes.
	Scope string `json:"scope,omitempty"`

	// CreatedAt is set once on first acquisition (Unix milliseconds) and
	// preserved across every refresh-triggered rewrite.
	CreatedAt int64 `json:"created_at"`
}

// Expiry returns the expiry as a time.Time, or the zero time when unknown.
func (c *StoredCredential) Expiry() time.Time {
	if c.ExpiryDate == 0 {
		return time.Time{}
	}
	return time.UnixMilli(c.ExpiryDate)
}

// ExpiresWithin reports whether the credential expires inside the given
// window. Credentials without a known expiry are treated as fresh.
func (c *StoredCredential) ExpiresWithin(window time.Duration) bool {
	if c.ExpiryDate == 0 {
		return false
	}
	return time.Now().Add(window).After(c.Expiry())
}

// Token converts the stored credential into an oauth2.Token.
func (c *StoredCredential) Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		TokenType:    c.TokenType,
		Expiry:       c.Expiry(),
	}
}

// credentialFromToken builds a StoredCredential from a freshly acquired
// oauth2.Token. CreatedAt is left zero; the store stamps it on save.
func credentialFromToken(tok *oauth2.Token) *StoredCredential {
	cred := &StoredCredential{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
	}
	if !tok.Expiry.IsZero() {
		cred.ExpiryDate = tok.Expiry.UnixMilli()
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		cred.Scope = scope
	}
	return cred
}

// validateCredentialJSON checks that raw bytes look like a stored
// credential: a JSON object whose access_token is a non-empty string and
// whose optional fields carry the right types. Files failing this check are
// treated as corrupted.
func validateCredentialJSON(data []byte) error {
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("token file is not valid JSON")
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return fmt.Errorf("token file is not a JSON object")
	}
	at := root.Get("access_token")
	if at.Type != gjson.String || at.String() == "" {
		return fmt.Errorf("token file has no access_token")
	}
	for _, field := range []string{"refresh_token", "token_type", "scope"} {
		if v := root.Get(field); v.Exists() && v.Type != gjson.String {
			return fmt.Errorf("token file field %s has the wrong type", field)
		}
	}
	for _, field := range []string{"expiry_date", "created_at"} {
		if v := root.Get(field); v.Exists() && v.Type != gjson.Number {
			return fmt.Errorf("token file field %s has the wrong type", field)
		}
	}
	return nil
}

// decodeStoredCredential parses validated token file bytes.
func decodeStoredCredential(data []byte) (*StoredCredential, error) {
	if err := validateCredentialJSON(data); err != nil {
		return nil, err
	}
	var cred StoredCredential
	if err := json.Unmarshal(data, &cred); err != nil {
		return nil, fmt.Errorf("decode token file: %w", err)
	}
	return &cred, nil
}
