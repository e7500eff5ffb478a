package google

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/wscli-dev/wscli/internal/browser"
	"github.com/wscli-dev/wscli/internal/config"
	"github.com/wscli-dev/wscli/internal/misc"
	"github.com/wscli-dev/wscli/internal/util"
)

// FlowState tracks the loopback server's position in the authorization
// flow.
type FlowState int

// Flow states, in the order they are normally traversed.
const (
	StateIdle FlowState = iota
	StateListening
	StateAwaitingCallback
	StateCompleted
	StateFailed
	StateStopped
)

// shutdownGraceDelay keeps the listener alive briefly after a successful
// callback so the success page finishes flushing to the browser before the
// socket closes.
const shutdownGraceDelay = 2 * time.Second

// callbackPath is the redirect path registered with the provider.
const callbackPath = "/oauth2callback"

// OAuthServer conducts one browser-based authorization attempt: it binds a
// loopback-only listener on an ephemeral port, serves the authorization
// link, receives the provider redirect, validates state, exchanges the code
// and persists the resulting credential.
type OAuthServer struct {
	cfg   *config.Config
	store *TokenStore

	// newClient builds the provider client for a resolved credential and
	// redirect URL; replaceable for tests against local fixtures.
	newClient func(cred *ClientCredential, redirectURL string) *GoogleClient

	mu         sync.Mutex
	state      FlowState
	listener   net.Listener
	server     *http.Server
	port       int
	client     *GoogleClient
	pkce       *PKCECodes
	stateToken string
	lastErr    *AuthError
	done       chan error
}

// ServerOption configures an OAuthServer.
type ServerOption func(*OAuthServer)

// WithClientFactory overrides how the provider client is constructed.
func WithClientFactory(factory func(cred *ClientCredential, redirectURL string) *GoogleClient) ServerOption {
	return func(s *OAuthServer) {
		s.newClient = factory
	}
}

// NewOAuthServer creates a callback server bound to the given config and
// token store. Nothing is listening until Start succeeds.
func NewOAuthServer(cfg *config.Config, store *TokenStore, opts ...ServerOption) *OAuthServer {
	s := &OAuthServer{
		cfg:   cfg,
		store: store,
		state: StateIdle,
		done:  make(chan error, 1),
	}
	s.newClient = func(cred *ClientCredential, redirectURL string) *GoogleClient {
		return NewGoogleClient(cred, redirectURL, WithProxy(cfg.ProxyURL))
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins an authorization attempt. When a cached credential already
// validates it returns (false, nil) without opening a listener. When the
// previous attempt failed because the client registration itself is broken,
// it aborts immediately instead of sending the user into a doomed flow.
// Otherwise it binds 127.0.0.1:0, prepares the PKCE/state pair and, if
// openBrowser is set, launches the system browser at the authorization URL.
func (s *OAuthServer) Start(ctx context.Context, openBrowser bool) (bool, error) {
	if s.store.Validate(ctx) {
		log.Debug("cached credential is valid, skipping authorization flow")
		return false, nil
	}

	s.mu.Lock()
	if s.lastErr != nil && s.lastErr.IsClientInvalid() {
		lastErr := s.lastErr
		s.mu.Unlock()
		return false, fmt.Errorf("refusing to start a new flow, the OAuth client registration is broken: %w", lastErr)
	}
	if s.listener != nil {
		s.mu.Unlock()
		return false, fmt.Errorf("authorization flow is already running")
	}
	s.mu.Unlock()

	cred, err := ResolveClientCredential(s.cfg)
	if err != nil {
		s.recordFailure(Classify(err))
		return false, err
	}

	// Port 0 hands out an OS-assigned ephemeral port: no collisions between
	// concurrent instances, and the listener stays unreachable from other
	// hosts.
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return false, fmt.Errorf("failed to bind loopback listener: %w", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	redirectURL := fmt.Sprintf("http://127.0.0.1:%d%s", port, callbackPath)

	client := s.newClient(cred, redirectURL)
	s.store.SetClient(client)

	pkce, err := GeneratePKCECodes()
	if err != nil {
		_ = listener.Close()
		return false, err
	}
	stateToken, err := GenerateState()
	if err != nil {
		_ = listener.Close()
		return false, err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc(callbackPath, s.handleCallback)

	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.mu.Lock()
	s.listener = listener
	s.server = server
	s.port = port
	s.client = client
	s.pkce = pkce
	s.stateToken = stateToken
	s.state = StateListening
	s.mu.Unlock()

	go func() {
		if errServe := server.Serve(listener); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			log.Errorf("callback server failed: %v", errServe)
		}
	}()

	authURL := client.AuthCodeURL(stateToken, pkce)

	s.mu.Lock()
	s.state = StateAwaitingCallback
	s.mu.Unlock()

	if openBrowser {
		if !browser.IsAvailable() {
			log.Warn("no browser available on this system")
			if util.IsSSHSession() {
				util.PrintSSHTunnelInstructions(port)
			}
			fmt.Printf("Please manually open this URL in your browser:\n\n%s\n", authURL)
		} else if errOpen := browser.OpenURL(authURL); errOpen != nil {
			log.Warnf("could not open browser: %v", errOpen)
			fmt.Printf("Please manually open this URL in your browser:\n\n%s\n", authURL)
		}
	} else {
		if util.IsSSHSession() {
			util.PrintSSHTunnelInstructions(port)
		}
		fmt.Printf("Please open this URL in your browser:\n\n%s\n", authURL)
	}

	log.Debugf("callback server listening on 127.0.0.1:%d", port)
	return true, nil
}

// Stop closes the listener if open and resolves immediately otherwise.
// Safe to call multiple times and before Start.
func (s *OAuthServer) Stop() error {
	s.mu.Lock()
	server := s.server
	s.server = nil
	s.listener = nil
	s.port = 0
	if server != nil {
		s.state = StateStopped
	}
	s.mu.Unlock()

	if server == nil {
		return nil
	}

	log.Debug("stopping callback server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// RunningPort returns the bound ephemeral port, or 0 when not listening.
func (s *OAuthServer) RunningPort() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return 0
	}
	return s.port
}

// State returns the current flow state.
func (s *OAuthServer) State() FlowState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastError returns the classified error of the most recent failed attempt,
// or nil. It replaces any process-wide "last auth error" global: the value
// lives on the server that produced it.
func (s *OAuthServer) LastError() *AuthError {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// WaitForCompletion blocks until the flow completes or fails. A
// non-positive timeout waits indefinitely; the server itself never imposes
// one on the user's click-through.
func (s *OAuthServer) WaitForCompletion(timeout time.Duration) error {
	if timeout <= 0 {
		return <-s.done
	}
	select {
	case err := <-s.done:
		return err
	case <-time.After(timeout):
		return fmt.Errorf("timed out waiting for the authorization callback")
	}
}

// handleIndex serves the authorization-link page on "/" and 404s every
// other path.
func (s *OAuthServer) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	s.mu.Lock()
	pkce := s.pkce
	stateToken := s.stateToken
	client := s.client
	s.mu.Unlock()

	if pkce == nil || stateToken == "" {
		http.Error(w, "authorization flow not initialized", http.StatusServiceUnavailable)
		return
	}
	if client == nil {
		// Start never installs pkce/state without a client; reaching this
		// means internal state is inconsistent.
		http.Error(w, "authorization flow in unexpected state", http.StatusInternalServerError)
		return
	}

	page := strings.Replace(AuthLinkHtml, "{{AUTH_URL}}", client.AuthCodeURL(stateToken, pkce), 1)
	writeHTML(w, http.StatusOK, page)
}

// handleCallback processes the provider redirect: it validates state in
// constant time, exchanges the code, persists tokens and schedules the
// listener shutdown.
func (s *OAuthServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	log.Debug("received authorization callback")
	query := r.URL.Query()

	// State first: a mismatch or absence means this request does not belong
	// to the pending attempt, so the code is never even looked at. A match
	// consumes the attempt in the same lock hold, so of two simultaneous
	// callbacks carrying the valid state exactly one proceeds; the PKCE/state
	// pair is cleared no matter how the rest goes, making any replay fail
	// this comparison.
	gotState := query.Get("state")

	s.mu.Lock()
	pkce := s.pkce
	client := s.client
	matched := s.stateToken != "" && subtle.ConstantTimeCompare([]byte(s.stateToken), []byte(gotState)) == 1
	if matched {
		s.pkce = nil
		s.stateToken = ""
	}
	s.mu.Unlock()

	if !matched {
		log.Warn("callback state mismatch, rejecting request")
		writeHTML(w, http.StatusBadRequest, CSRFErrorHtml)
		return
	}

	if errParam := query.Get("error"); errParam != "" {
		body := fmt.Sprintf(`{"error":%q,"error_description":%q}`, errParam, query.Get("error_description"))
		classified := Classify(&OAuthHTTPError{StatusCode: http.StatusBadRequest, Body: []byte(body)})
		s.recordFailure(classified)
		s.renderAuthError(w, http.StatusInternalServerError, classified)
		s.finish(classified)
		return
	}

	code := query.Get("code")
	if code == "" {
		log.Warn("callback carried no authorization code")
		classified := &AuthError{
			Code:   ErrUnknown,
			Reason: "the authorization response carried no code",
			Fix:    []string{"Run the login command again and complete the consent screen."},
		}
		s.recordFailure(classified)
		s.renderAuthError(w, http.StatusBadRequest, classified)
		s.finish(classified)
		return
	}

	token, err := client.Exchange(r.Context(), code, pkce)
	if err != nil {
		classified := Classify(err)
		log.Errorf("code exchange failed: %v", classified)
		s.recordFailure(classified)
		s.renderAuthError(w, http.StatusInternalServerError, classified)
		s.finish(classified)
		return
	}

	if err = s.store.Save(credentialFromToken(token)); err != nil {
		classified := Classify(err)
		log.Errorf("cannot persist tokens: %v", classified)
		s.recordFailure(classified)
		s.renderAuthError(w, http.StatusInternalServerError, classified)
		s.finish(classified)
		return
	}

	s.mu.Lock()
	s.state = StateCompleted
	s.lastErr = nil
	s.mu.Unlock()

	page := strings.Replace(LoginSuccessHtml, "{{TOKEN_PATH}}", s.store.Path(), 1)
	page = strings.Replace(page, "{{VCS_NOTICE}}", vcsNoticeFor(s.store.Path()), 1)
	writeHTML(w, http.StatusOK, page)

	// Let the response flush before the socket closes.
	time.AfterFunc(shutdownGraceDelay, func() {
		if errStop := s.Stop(); errStop != nil {
			log.Debugf("callback server shutdown: %v", errStop)
		}
	})
	s.finish(nil)
}

// SubmitCallbackURL feeds a manually pasted callback URL into the flow, for
// sessions whose browser runs on another machine. The parameters are
// replayed against the loopback callback endpoint so state validation and
// the code exchange follow exactly the same path as a browser redirect.
func (s *OAuthServer) SubmitCallbackURL(input string) error {
	cb, err := misc.ParseOAuthCallback(input)
	if err != nil {
		return err
	}
	if cb == nil {
		return nil
	}

	port := s.RunningPort()
	if port == 0 {
		return fmt.Errorf("authorization flow is not running")
	}

	params := url.Values{}
	if cb.Code != "" {
		params.Set("code", cb.Code)
	}
	if cb.State != "" {
		params.Set("state", cb.State)
	}
	if cb.Error != "" {
		params.Set("error", cb.Error)
		params.Set("error_description", cb.ErrorDescription)
	}

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d%s?%s", port, callbackPath, params.Encode()))
	if err != nil {
		return fmt.Errorf("failed to submit callback parameters: %w", err)
	}
	return resp.Body.Close()
}

// recordFailure stores the classified error for later inspection.
func (s *OAuthServer) recordFailure(err *AuthError) {
	s.mu.Lock()
	s.state = StateFailed
	s.lastErr = err
	s.mu.Unlock()
}

// finish resolves WaitForCompletion exactly once.
func (s *OAuthServer) finish(err error) {
	select {
	case s.done <- err:
	default:
	}
}

// renderAuthError writes the classified error page.
func (s *OAuthServer) renderAuthError(w http.ResponseWriter, status int, authErr *AuthError) {
	var steps strings.Builder
	for _, fix := range authErr.Fix {
		steps.WriteString("<li>")
		steps.WriteString(fix)
		steps.WriteString("</li>")
	}
	var links strings.Builder
	for _, link := range authErr.Links {
		fmt.Fprintf(&links, `<p><a href=%q>%s</a></p>`, link, link)
	}

	page := strings.Replace(AuthErrorHtml, "{{ERROR_CODE}}", string(authErr.Code), 1)
	page = strings.Replace(page, "{{ERROR_REASON}}", authErr.Reason, 1)
	page = strings.Replace(page, "{{FIX_STEPS}}", steps.String(), 1)
	page = strings.Replace(page, "{{LINKS}}", links.String(), 1)
	writeHTML(w, status, page)
}

// vcsNoticeFor returns the ignore-rules warning when the token path sits
// inside the current working directory.
func vcsNoticeFor(tokenPath string) string {
	wd, err := os.Getwd()
	if err != nil {
		return ""
	}
	rel, err := filepath.Rel(wd, tokenPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return ""
	}
	return VCSNoticeHtml
}

func writeHTML(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write([]byte(body)); err != nil {
		log.Debugf("failed to write response: %v", err)
	}
}
