package mcp

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"forge-ai/internal/domain"
)

const (
	// DefaultCallbackPort is the loopback port the authorization redirect
	// lands on. Tests use port 0 to grab an ephemeral one.
	DefaultCallbackPort = 8976
	callbackPath        = "/callback"

	// authFlowTimeout bounds how long InitiateFlow waits for the user to
	// finish in the browser.
	authFlowTimeout = 120 * time.Second
)

// OAuthManager runs the authorization-code-with-PKCE flow for capability
// servers and keeps their tokens fresh through a TokenStore.
type OAuthManager struct {
	store        domain.TokenStore
	httpClient   *http.Client
	openBrowser  func(url string) error
	callbackPort int
	now          func() time.Time
	logger       *slog.Logger
}

// OAuthOption customizes an OAuthManager.
type OAuthOption func(*OAuthManager)

// WithHTTPClient overrides the HTTP client used for token endpoints.
func WithHTTPClient(c *http.Client) OAuthOption {
	return func(m *OAuthManager) { m.httpClient = c }
}

// WithBrowserOpener overrides how the authorization URL is presented.
func WithBrowserOpener(open func(url string) error) OAuthOption {
	return func(m *OAuthManager) { m.openBrowser = open }
}

// WithCallbackPort overrides the loopback callback port. Zero picks an
// ephemeral port.
func WithCallbackPort(port int) OAuthOption {
	return func(m *OAuthManager) { m.callbackPort = port }
}

// WithClock overrides the time source for expiry checks.
func WithClock(now func() time.Time) OAuthOption {
	return func(m *OAuthManager) { m.now = now }
}

// NewOAuthManager creates a manager over the given token store.
func NewOAuthManager(store domain.TokenStore, logger *slog.Logger, opts ...OAuthOption) *OAuthManager {
	m := &OAuthManager{
		store:        store,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		callbackPort: DefaultCallbackPort,
		now:          time.Now,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.openBrowser == nil {
		m.openBrowser = func(u string) error {
			fmt.Printf("Open this URL to authorize: %s\n", u)
			return nil
		}
	}
	return m
}

// GetValidTokens returns usable tokens for a server: stored and unexpired
// tokens as-is, expired tokens refreshed when refresh material exists.
// Anything else is ErrNoValidTokens, signaling that an interactive
// InitiateFlow is required.
func (m *OAuthManager) GetValidTokens(ctx context.Context, serverName string, cfg *domain.OAuthConfig) (*domain.OAuthTokens, error) {
	tokens, err := m.store.GetTokens(serverName)
	if err != nil {
		return nil, domain.WrapOp("OAuthManager.GetValidTokens", err)
	}
	if tokens == nil || tokens.AccessToken == "" {
		return nil, domain.NewDomainError("OAuthManager.GetValidTokens", domain.ErrNoValidTokens, serverName)
	}
	if !tokens.Expired(m.now()) {
		return tokens, nil
	}
	if tokens.RefreshToken == "" {
		return nil, domain.NewDomainError("OAuthManager.GetValidTokens", domain.ErrNoValidTokens,
			serverName+": expired without refresh token")
	}

	refreshed, err := m.refresh(ctx, cfg, tokens.RefreshToken)
	if err != nil {
		return nil, domain.NewDomainError("OAuthManager.GetValidTokens", domain.ErrNoValidTokens,
			fmt.Sprintf("%s: refresh failed: %v", serverName, err))
	}
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = tokens.RefreshToken
	}
	if err := m.store.StoreTokens(serverName, refreshed); err != nil {
		return nil, domain.WrapOp("OAuthManager.GetValidTokens", err)
	}
	m.logger.Debug("oauth tokens refreshed", "server", serverName)
	return refreshed, nil
}

// InitiateFlow runs the full interactive authorization-code flow: it opens
// the authorization URL with a PKCE challenge, waits for the loopback
// redirect, verifies state, exchanges the code, and persists the tokens.
func (m *OAuthManager) InitiateFlow(ctx context.Context, serverName string, cfg *domain.OAuthConfig) (*domain.OAuthTokens, error) {
	verifier, challenge, err := newPKCEPair()
	if err != nil {
		return nil, domain.WrapOp("OAuthManager.InitiateFlow", err)
	}
	state, err := randomToken(16)
	if err != nil {
		return nil, domain.WrapOp("OAuthManager.InitiateFlow", err)
	}

	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", m.callbackPort))
	if err != nil {
		return nil, domain.NewDomainError("OAuthManager.InitiateFlow", domain.ErrAuthFlow,
			fmt.Sprintf("callback listener: %v", err))
	}
	redirectURI := fmt.Sprintf("http://%s%s", ln.Addr().String(), callbackPath)

	type callback struct {
		code  string
		state string
		err   string
	}
	resultCh := make(chan callback, 1)

	srv := &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != callbackPath {
				http.NotFound(w, r)
				return
			}
			q := r.URL.Query()
			cb := callback{
				code:  q.Get("code"),
				state: q.Get("state"),
				err:   q.Get("error"),
			}
			if cb.err != "" {
				fmt.Fprintln(w, "Authorization failed. You can close this window.")
			} else {
				fmt.Fprintln(w, "Authorization complete. You can close this window.")
			}
			select {
			case resultCh <- cb:
			default:
			}
		}),
	}
	go srv.Serve(ln)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	authURL, err := buildAuthorizeURL(cfg, redirectURI, state, challenge)
	if err != nil {
		return nil, domain.WrapOp("OAuthManager.InitiateFlow", err)
	}
	if err := m.openBrowser(authURL); err != nil {
		m.logger.Warn("browser open failed, authorize manually", "url", authURL, "error", err)
	}

	var cb callback
	select {
	case cb = <-resultCh:
	case <-time.After(authFlowTimeout):
		return nil, domain.NewDomainError("OAuthManager.InitiateFlow", domain.ErrTimeout,
			"authorization not completed in time")
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if cb.err != "" {
		return nil, domain.NewDomainError("OAuthManager.InitiateFlow", domain.ErrAuthFlow, cb.err)
	}
	if subtle.ConstantTimeCompare([]byte(cb.state), []byte(state)) != 1 {
		return nil, domain.NewDomainError("OAuthManager.InitiateFlow", domain.ErrStateMismatch, "")
	}
	if cb.code == "" {
		return nil, domain.NewDomainError("OAuthManager.InitiateFlow", domain.ErrAuthFlow, "no authorization code")
	}

	tokens, err := m.exchange(ctx, cfg, cb.code, redirectURI, verifier)
	if err != nil {
		return nil, err
	}
	if err := m.store.StoreTokens(serverName, tokens); err != nil {
		return nil, domain.WrapOp("OAuthManager.InitiateFlow", err)
	}
	m.logger.Info("oauth authorization complete", "server", serverName)
	return tokens, nil
}

// Logout discards stored tokens for a server.
func (m *OAuthManager) Logout(serverName string) error {
	return m.store.ClearTokens(serverName)
}

// exchange swaps an authorization code for tokens.
func (m *OAuthManager) exchange(ctx context.Context, cfg *domain.OAuthConfig, code, redirectURI, verifier string) (*domain.OAuthTokens, error) {
	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {redirectURI},
		"client_id":     {cfg.ClientID},
		"code_verifier": {verifier},
	}
	if cfg.ClientSecret != "" {
		form.Set("client_secret", cfg.ClientSecret)
	}
	return m.tokenRequest(ctx, cfg.TokenURL, form)
}

// refresh swaps a refresh token for a new access token.
func (m *OAuthManager) refresh(ctx context.Context, cfg *domain.OAuthConfig, refreshToken string) (*domain.OAuthTokens, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"client_id":     {cfg.ClientID},
	}
	if cfg.ClientSecret != "" {
		form.Set("client_secret", cfg.ClientSecret)
	}
	return m.tokenRequest(ctx, cfg.TokenURL, form)
}

func (m *OAuthManager) tokenRequest(ctx context.Context, tokenURL string, form url.Values) (*domain.OAuthTokens, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, domain.WrapOp("token request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, domain.WrapOp("token request", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, domain.WrapOp("token response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, domain.NewDomainError("token request", domain.ErrAuthFlow,
			fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var tr struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		TokenType    string `json:"token_type"`
		ExpiresIn    int    `json:"expires_in"`
		Scope        string `json:"scope"`
	}
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, domain.NewDomainError("token response", domain.ErrAuthFlow, err.Error())
	}
	if tr.AccessToken == "" {
		return nil, domain.NewDomainError("token response", domain.ErrAuthFlow, "no access token")
	}

	tokens := &domain.OAuthTokens{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		TokenType:    tr.TokenType,
		Scope:        tr.Scope,
	}
	if tr.ExpiresIn > 0 {
		tokens.ExpiresAt = m.now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	}
	return tokens, nil
}

// AuthorizationHeader renders tokens as the header to attach to SSE
// connections.
func AuthorizationHeader(tokens *domain.OAuthTokens) map[string]string {
	typ := tokens.TokenType
	if typ == "" {
		typ = "Bearer"
	}
	return map[string]string{"Authorization": typ + " " + tokens.AccessToken}
}

// buildAuthorizeURL assembles the browser URL with PKCE and state params.
func buildAuthorizeURL(cfg *domain.OAuthConfig, redirectURI, state, challenge string) (string, error) {
	u, err := url.Parse(cfg.AuthorizeURL)
	if err != nil {
		return "", fmt.Errorf("authorize url: %w", err)
	}
	q := u.Query()
	q.Set("response_type", "code")
	q.Set("client_id", cfg.ClientID)
	q.Set("redirect_uri", redirectURI)
	q.Set("state", state)
	q.Set("code_challenge", challenge)
	q.Set("code_challenge_method", "S256")
	if len(cfg.Scopes) > 0 {
		q.Set("scope", strings.Join(cfg.Scopes, " "))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// newPKCEPair generates a code verifier and its S256 challenge.
func newPKCEPair() (verifier, challenge string, err error) {
	verifier, err = randomToken(32)
	if err != nil {
		return "", "", err
	}
	sum := sha256.Sum256([]byte(verifier))
	challenge = base64.RawURLEncoding.EncodeToString(sum[:])
	return verifier, challenge, nil
}

// randomToken returns n random bytes as unpadded base64url.
func randomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("random token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
