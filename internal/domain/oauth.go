package domain

import "time"

// OAuthConfig describes the authorization server for a capability server
// that requires OAuth2 authorization-code-with-PKCE.
type OAuthConfig struct {
	ClientID     string   `json:"client_id"               yaml:"client_id"`
	ClientSecret string   `json:"client_secret,omitempty" yaml:"client_secret,omitempty"`
	AuthorizeURL string   `json:"authorize_url"           yaml:"authorize_url"`
	TokenURL     string   `json:"token_url"               yaml:"token_url"`
	Scopes       []string `json:"scopes,omitempty"        yaml:"scopes,omitempty"`
}

// OAuthTokens holds an access token and its refresh material.
type OAuthTokens struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
	Scope        string    `json:"scope,omitempty"`
}

// Expired reports whether the access token is past its expiry. Tokens with
// no recorded expiry never expire locally.
func (t *OAuthTokens) Expired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && now.After(t.ExpiresAt)
}

// TokenStore persists OAuth tokens per capability server.
type TokenStore interface {
	GetTokens(serverName string) (*OAuthTokens, error)
	StoreTokens(serverName string, tokens *OAuthTokens) error
	ClearTokens(serverName string) error
}
