package google

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"
	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"
)

// Scopes requested during authorization. The set covers every Workspace
// surface wscli talks to plus the user's email for display.
var Scopes = []string{
	"https://www.googleapis.com/auth/drive",
	"https://www.googleapis.com/auth/documents",
	"https://www.googleapis.com/auth/spreadsheets",
	"https://www.googleapis.com/auth/presentations",
	"https://www.googleapis.com/auth/calendar",
	"https://www.googleapis.com/auth/gmail.modify",
	"https://www.googleapis.com/auth/userinfo.email",
}

// GoogleClient wraps the OAuth2 protocol operations against Google's
// endpoints: building the authorization URL, exchanging an authorization
// code, and refreshing tokens. It also exposes a hook that fires whenever
// the underlying token source silently refreshes a token.
type GoogleClient struct {
	conf       *oauth2.Config
	httpClient *http.Client

	updateMu sync.Mutex
	onUpdate []func(*oauth2.Token)
}

// ClientOption configures a GoogleClient.
type ClientOption func(*GoogleClient)

// WithHTTPClient sets a custom HTTP client for token endpoint calls.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *GoogleClient) {
		c.httpClient = httpClient
	}
}

// WithEndpoint overrides the OAuth endpoints, used against local fixtures.
func WithEndpoint(endpoint oauth2.Endpoint) ClientOption {
	return func(c *GoogleClient) {
		c.conf.Endpoint = endpoint
	}
}

// WithProxy routes token endpoint traffic through an HTTP, HTTPS or SOCKS5
// proxy URL. Invalid or unsupported proxy URLs are ignored with a warning.
func WithProxy(proxyURL string) ClientOption {
	return func(c *GoogleClient) {
		transport := proxyTransport(proxyURL)
		if transport != nil {
			c.httpClient = &http.Client{Transport: transport, Timeout: 30 * time.Second}
		}
	}
}

// NewGoogleClient creates a provider client for the given resolved client
// credential and loopback redirect URL.
func NewGoogleClient(cred *ClientCredential, redirectURL string, opts ...ClientOption) *GoogleClient {
	c := &GoogleClient{
		conf: &oauth2.Config{
			ClientID:     strings.TrimSpace(cred.ClientID),
			ClientSecret: cred.ClientSecret,
			RedirectURL:  redirectURL,
			Scopes:       Scopes,
			Endpoint:     googleoauth.Endpoint,
		},
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AuthCodeURL builds the authorization URL carrying the PKCE challenge,
// offline access and forced consent so a refresh token is always issued.
func (c *GoogleClient) AuthCodeURL(state string, pkce *PKCECodes) string {
	return c.conf.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
		oauth2.SetAuthURLParam("code_challenge", pkce.CodeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", pkce.Method),
	)
}

// Exchange trades an authorization code plus PKCE verifier for tokens.
func (c *GoogleClient) Exchange(ctx context.Context, code string, pkce *PKCECodes) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	tok, err := c.conf.Exchange(ctx, code,
		oauth2.SetAuthURLParam("code_verifier", pkce.CodeVerifier),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange token: %w", err)
	}
	return tok, nil
}

// Refresh exchanges a refresh token for a new access token. The request is
// issued directly against the token endpoint so that error responses keep
// their bodies and can be classified.
func (c *GoogleClient) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("refresh token is required")
	}

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"client_id":     {c.conf.ClientID},
	}
	if c.conf.ClientSecret != "" {
		form.Set("client_secret", c.conf.ClientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.conf.Endpoint.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token refresh request failed: %w", err)
	}
	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			log.Debugf("failed to close refresh response body: %v", errClose)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read refresh response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &OAuthHTTPError{StatusCode: resp.StatusCode, Body: body}
	}

	var payload struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		TokenType    string `json:"token_type"`
		ExpiresIn    int64  `json:"expires_in"`
		Scope        string `json:"scope"`
	}
	if err = json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse refresh response: %w", err)
	}
	if payload.AccessToken == "" {
		return nil, fmt.Errorf("refresh response carried no access_token")
	}

	tok := &oauth2.Token{
		AccessToken:  payload.AccessToken,
		RefreshToken: payload.RefreshToken,
		TokenType:    payload.TokenType,
	}
	if payload.ExpiresIn > 0 {
		tok.Expiry = time.Now().Add(time.Duration(payload.ExpiresIn) * time.Second)
	}
	if payload.Scope != "" {
		tok = tok.WithExtra(map[string]interface{}{"scope": payload.Scope})
	}

	c.notifyTokenUpdate(tok)
	return tok, nil
}

// OnTokenUpdate registers a hook invoked whenever the client obtains a new
// token outside an explicit call chain, including silent refreshes
// performed by a TokenSource handed to API clients.
func (c *GoogleClient) OnTokenUpdate(fn func(*oauth2.Token)) {
	if fn == nil {
		return
	}
	c.updateMu.Lock()
	c.onUpdate = append(c.onUpdate, fn)
	c.updateMu.Unlock()
}

func (c *GoogleClient) notifyTokenUpdate(tok *oauth2.Token) {
	c.updateMu.Lock()
	hooks := make([]func(*oauth2.Token), len(c.onUpdate))
	copy(hooks, c.onUpdate)
	c.updateMu.Unlock()
	for _, fn := range hooks {
		fn(tok)
	}
}

// TokenSource returns a token source for API clients that fires the
// OnTokenUpdate hooks whenever the library refreshes behind the scenes.
func (c *GoogleClient) TokenSource(ctx context.Context, tok *oauth2.Token) oauth2.TokenSource {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	return &notifyingTokenSource{
		client: c,
		source: c.conf.TokenSource(ctx, tok),
		last:   tok.AccessToken,
	}
}

// notifyingTokenSource wraps an oauth2.TokenSource and reports token
// changes back to the owning client.
type notifyingTokenSource struct {
	client *GoogleClient
	mu     sync.Mutex
	source oauth2.TokenSource
	last   string
}

func (n *notifyingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := n.source.Token()
	if err != nil {
		return nil, err
	}
	n.mu.Lock()
	changed := tok.AccessToken != n.last
	n.last = tok.AccessToken
	n.mu.Unlock()
	if changed {
		log.Debug("token source refreshed the access token silently")
		n.client.notifyTokenUpdate(tok)
	}
	return tok, nil
}

// proxyTransport builds an HTTP transport for the given proxy URL, or nil
// when the URL is empty or unusable.
func proxyTransport(rawURL string) *http.Transport {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil
	}
	proxyURL, err := url.Parse(rawURL)
	if err != nil {
		log.Warnf("ignoring invalid proxy-url %q: %v", rawURL, err)
		return nil
	}

	switch proxyURL.Scheme {
	case "socks5":
		var auth *proxy.Auth
		if proxyURL.User != nil {
			password, _ := proxyURL.User.Password()
			auth = &proxy.Auth{User: proxyURL.User.Username(), Password: password}
		}
		dialer, errSOCKS5 := proxy.SOCKS5("tcp", proxyURL.Host, auth, proxy.Direct)
		if errSOCKS5 != nil {
			log.Warnf("create SOCKS5 dialer failed: %v", errSOCKS5)
			return nil
		}
		return &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				return dialer.Dial(network, addr)
			},
		}
	case "http", "https":
		return &http.Transport{Proxy: http.ProxyURL(proxyURL)}
	default:
		log.Warnf("ignoring proxy-url with unsupported scheme %q", proxyURL.Scheme)
		return nil
	}
}
