package google

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"golang.org/x/oauth2"

	"github.com/tidwall/gjson"
)

// ErrorCode identifies one kind of authentication failure. The set is
// closed: classification always lands on exactly one of these values.
type ErrorCode string

// The closed set of actionable error kinds.
const (
	ErrOAuthNotConfigured  ErrorCode = "OAUTH_NOT_CONFIGURED"
	ErrInvalidClient       ErrorCode = "INVALID_CLIENT"
	ErrDeletedClient       ErrorCode = "DELETED_CLIENT"
	ErrRedirectURIMismatch ErrorCode = "REDIRECT_URI_MISMATCH"
	ErrInvalidGrant        ErrorCode = "INVALID_GRANT"
	ErrAccessDenied        ErrorCode = "ACCESS_DENIED"
	ErrTokenExpired        ErrorCode = "TOKEN_EXPIRED"
	ErrTokenRevoked        ErrorCode = "TOKEN_REVOKED"
	ErrInsufficientScope   ErrorCode = "INSUFFICIENT_SCOPE"
	ErrQuotaExceeded       ErrorCode = "QUOTA_EXCEEDED"
	ErrAPINotEnabled       ErrorCode = "API_NOT_ENABLED"
	ErrNetworkError        ErrorCode = "NETWORK_ERROR"
	ErrUnknown             ErrorCode = "UNKNOWN"
)

const credentialsConsoleURL = "https://console.cloud.google.com/apis/credentials"

// AuthError is a classified authentication failure carrying a
// human-readable reason and concrete remediation steps.
type AuthError struct {
	// Code is the classified error kind.
	Code ErrorCode `json:"code"`
	// Reason is a human-readable description of what went wrong.
	Reason string `json:"reason"`
	// Fix lists remediation steps in the order the user should try them.
	Fix []string `json:"fix,omitempty"`
	// Links point at provider console pages relevant to the fix.
	Links []string `json:"links,omitempty"`
	// Account is the affected account, when known.
	Account string `json:"account,omitempty"`
	// Cause is the underlying error, when one exists.
	Cause error `json:"-"`
}

// Error returns a string representation of the classified error.
func (e *AuthError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Reason, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Reason)
}

// Unwrap exposes the underlying cause to errors.Is/errors.As chains.
func (e *AuthError) Unwrap() error { return e.Cause }

// IsClientInvalid reports whether the OAuth app registration itself is
// broken. Retrying the flow against such a client wastes the user's time.
func (e *AuthError) IsClientInvalid() bool {
	return e.Code == ErrDeletedClient || e.Code == ErrInvalidClient
}

// RequiresTokenClear reports whether the stored credential is permanently
// unusable and must be deleted rather than refreshed again.
func (e *AuthError) RequiresTokenClear() bool {
	switch e.Code {
	case ErrInvalidGrant, ErrTokenRevoked, ErrDeletedClient:
		return true
	}
	return false
}

// OAuthHTTPError preserves a non-2xx provider response so it can be
// classified from its body instead of only its message string.
type OAuthHTTPError struct {
	// StatusCode is the HTTP status of the provider response.
	StatusCode int
	// Body is the raw response body.
	Body []byte
}

// Error returns a short description of the failed provider call.
func (e *OAuthHTTPError) Error() string {
	return fmt.Sprintf("provider returned status %d: %s", e.StatusCode, strings.TrimSpace(string(e.Body)))
}

// Classify maps an arbitrary error from a provider call into the closed
// AuthError taxonomy. Already-classified errors pass through unchanged.
func Classify(err error) *AuthError {
	if err == nil {
		return nil
	}

	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr
	}

	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		statusCode := 0
		if retrieveErr.Response != nil {
			statusCode = retrieveErr.Response.StatusCode
		}
		return classifyProviderResponse(statusCode, retrieveErr.Body, err)
	}

	var httpErr *OAuthHTTPError
	if errors.As(err, &httpErr) {
		return classifyProviderResponse(httpErr.StatusCode, httpErr.Body, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return &AuthError{
			Code:   ErrNetworkError,
			Reason: "could not reach the Google OAuth endpoints",
			Fix: []string{
				"Check your network connection.",
				"If you are behind a proxy, set proxy-url in the wscli config.",
				"Retry in a few minutes; the outage may be transient.",
			},
			Cause: err,
		}
	}

	return &AuthError{
		Code:   ErrUnknown,
		Reason: err.Error(),
		Fix:    []string{"Re-run the command with --debug and inspect the log output."},
		Cause:  err,
	}
}

// classifyProviderResponse inspects an OAuth error response body
// (RFC 6749 error/error_description JSON) plus the HTTP status.
func classifyProviderResponse(statusCode int, body []byte, cause error) *AuthError {
	errCode := gjson.GetBytes(body, "error").String()
	if errCode == "" {
		// Workspace APIs wrap errors one level deeper.
		errCode = gjson.GetBytes(body, "error.status").String()
	}
	desc := gjson.GetBytes(body, "error_description").String()
	if desc == "" {
		desc = gjson.GetBytes(body, "error.message").String()
	}
	lowerDesc := strings.ToLower(desc)

	switch errCode {
	case "deleted_client":
		return &AuthError{
			Code:   ErrDeletedClient,
			Reason: "the OAuth client this tool was configured with has been deleted",
			Fix: []string{
				"Create a new OAuth client (Desktop app) in the Google Cloud console.",
				"Download its credentials and replace your oauth-credentials.json.",
				"Run wscli --login again.",
			},
			Links: []string{credentialsConsoleURL},
			Cause: cause,
		}
	case "invalid_client", "unauthorized_client":
		return &AuthError{
			Code:   ErrInvalidClient,
			Reason: "Google rejected the configured OAuth client id or secret",
			Fix: []string{
				"Verify client_id and client_secret match the Cloud console values exactly.",
				"Make sure the credential file was not truncated or edited by hand.",
			},
			Links: []string{credentialsConsoleURL},
			Cause: cause,
		}
	case "redirect_uri_mismatch":
		return &AuthError{
			Code:   ErrRedirectURIMismatch,
			Reason: "the loopback redirect URI is not accepted by the OAuth client",
			Fix: []string{
				"Use an OAuth client of type \"Desktop app\"; web clients pin redirect URIs.",
			},
			Links: []string{credentialsConsoleURL},
			Cause: cause,
		}
	case "access_denied":
		return &AuthError{
			Code:   ErrAccessDenied,
			Reason: "the authorization request was denied",
			Fix: []string{
				"Re-run wscli --login and approve the consent screen.",
				"If your organization blocks the app, ask an admin to allow it.",
			},
			Cause: cause,
		}
	case "invalid_scope":
		return &AuthError{
			Code:   ErrInsufficientScope,
			Reason: "the granted scopes do not cover the requested operation",
			Fix: []string{
				"Run wscli --login again and approve every requested permission.",
			},
			Cause: cause,
		}
	case "invalid_grant":
		if strings.Contains(lowerDesc, "expired or revoked") || strings.Contains(lowerDesc, "revoked") {
			return &AuthError{
				Code:   ErrTokenRevoked,
				Reason: "the stored token has been revoked or has expired upstream",
				Fix: []string{
					"Run wscli --login to authorize again.",
				},
				Cause: cause,
			}
		}
		return &AuthError{
			Code:   ErrInvalidGrant,
			Reason: "the authorization grant or refresh token is no longer valid",
			Fix: []string{
				"Run wscli --login to authorize again.",
				"If this repeats, check that the machine clock is accurate.",
			},
			Cause: cause,
		}
	case "RESOURCE_EXHAUSTED":
		return quotaExceededError(cause)
	case "PERMISSION_DENIED":
		if strings.Contains(lowerDesc, "has not been used") || strings.Contains(lowerDesc, "is disabled") {
			return apiNotEnabledError(desc, cause)
		}
		return &AuthError{
			Code:   ErrInsufficientScope,
			Reason: "the credential lacks permission for this operation",
			Fix:    []string{"Run wscli --login again and approve every requested permission."},
			Cause:  cause,
		}
	}

	switch {
	case statusCode == 429 || strings.Contains(lowerDesc, "quota"):
		return quotaExceededError(cause)
	case strings.Contains(lowerDesc, "has not been used") || strings.Contains(lowerDesc, "accessnotconfigured"):
		return apiNotEnabledError(desc, cause)
	case statusCode == 401:
		return &AuthError{
			Code:   ErrTokenExpired,
			Reason: "the access token was rejected as expired",
			Fix:    []string{"Retry the command; wscli refreshes expired tokens automatically."},
			Cause:  cause,
		}
	}

	reason := desc
	if reason == "" {
		reason = fmt.Sprintf("unexpected provider response (status %d)", statusCode)
	}
	return &AuthError{
		Code:   ErrUnknown,
		Reason: reason,
		Fix:    []string{"Re-run the command with --debug and inspect the log output."},
		Cause:  cause,
	}
}

func quotaExceededError(cause error) *AuthError {
	return &AuthError{
		Code:   ErrQuotaExceeded,
		Reason: "the project's API quota has been exhausted",
		Fix: []string{
			"Wait for the quota window to reset.",
			"Request a higher quota in the Google Cloud console.",
		},
		Links: []string{"https://console.cloud.google.com/iam-admin/quotas"},
		Cause: cause,
	}
}

func apiNotEnabledError(desc string, cause error) *AuthError {
	reason := "a required Google API is not enabled for this project"
	if desc != "" {
		reason = desc
	}
	return &AuthError{
		Code:   ErrAPINotEnabled,
		Reason: reason,
		Fix: []string{
			"Enable the API named above in the Google Cloud console.",
			"Wait a few minutes for the change to propagate, then retry.",
		},
		Links: []string{"https://console.cloud.google.com/apis/library"},
		Cause: cause,
	}
}
