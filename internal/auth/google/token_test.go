package google

import (
	"testing"
	"time"

	"golang.org/x/oauth2"
)

func TestStoredCredentialExpiresWithin(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		expiry time.Duration
		window time.Duration
		want   bool
	}{
		{"well inside the window", 2 * time.Minute, 5 * time.Minute, true},
		{"already expired", -time.Minute, 5 * time.Minute, true},
		{"outside the window", 10 * time.Minute, 5 * time.Minute, false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cred := &StoredCredential{ExpiryDate: time.Now().Add(tt.expiry).UnixMilli()}
			if got := cred.ExpiresWithin(tt.window); got != tt.want {
				t.Errorf("ExpiresWithin(%v) = %v, want %v", tt.window, got, tt.want)
			}
		})
	}

	t.Run("unknown expiry counts as fresh", func(t *testing.T) {
		t.Parallel()
		cred := &StoredCredential{}
		if cred.ExpiresWithin(5 * time.Minute) {
			t.Error("credential without expiry reported as expiring")
		}
		if !cred.Expiry().IsZero() {
			t.Error("Expiry() not zero for unknown expiry")
		}
	})
}

func TestCredentialFromToken(t *testing.T) {
	t.Parallel()

	expiry := time.Now().Add(time.Hour)
	tok := (&oauth2.Token{
		AccessToken:  "a",
		RefreshToken: "r",
		TokenType:    "Bearer",
		Expiry:       expiry,
	}).WithExtra(map[string]interface{}{"scope": "email drive"})

	cred := credentialFromToken(tok)
	if cred.AccessToken != "a" || cred.RefreshToken != "r" {
		t.Errorf("credentialFromToken() = %+v", cred)
	}
	if cred.ExpiryDate != expiry.UnixMilli() {
		t.Errorf("expiry_date = %d, want %d", cred.ExpiryDate, expiry.UnixMilli())
	}
	if cred.Scope != "email drive" {
		t.Errorf("scope = %q", cred.Scope)
	}
	if cred.CreatedAt != 0 {
		t.Error("created_at stamped before save")
	}

	back := cred.Token()
	if back.AccessToken != "a" || back.RefreshToken != "r" || !back.Expiry.Equal(time.UnixMilli(expiry.UnixMilli())) {
		t.Errorf("Token() = %+v", back)
	}
}

func TestValidateCredentialJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		data    string
		wantErr bool
	}{
		{"minimal valid", `{"access_token":"a"}`, false},
		{"full valid", `{"access_token":"a","refresh_token":"r","expiry_date":1,"token_type":"Bearer","scope":"s","created_at":1}`, false},
		{"not json", `nope`, true},
		{"array", `[1,2]`, true},
		{"empty access token", `{"access_token":""}`, true},
		{"numeric access token", `{"access_token":42}`, true},
		{"string expiry", `{"access_token":"a","expiry_date":"soon"}`, true},
		{"numeric refresh token", `{"access_token":"a","refresh_token":7}`, true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := validateCredentialJSON([]byte(tt.data))
			if (err != nil) != tt.wantErr {
				t.Errorf("validateCredentialJSON() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
