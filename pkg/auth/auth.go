// Package auth implements the OAuth2 flows used against Tesla's
// authorization server: the authorization-code grant that establishes a user
// session, the refresh-token grant that mints short-lived access tokens, and
// the client-credentials grant used for one-time partner registration.
//
// Refresh tokens rotate on every exchange. The persisted token is always the
// most recently issued one; presenting a stale token is rejected upstream.
// Access tokens are never written to disk.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"wallcharge/internal/log"
	"wallcharge/pkg/session"
)

const (
	DefaultTokenURL     = "https://auth.tesla.com/oauth2/v3/token"
	DefaultAuthorizeURL = "https://auth.tesla.com/oauth2/v3/authorize"

	// Scope requested for both user authorization and partner registration.
	Scope = "openid offline_access energy_device_data"

	// CallbackPath is appended to the configured redirect base URL.
	CallbackPath = "/oauth_return/"

	maxResponseLength = 1 << 20
)

// ErrNoCredential indicates the user has no refresh token on file and must
// be sent through authorization.
var ErrNoCredential = errors.New("no refresh token on file; authorization required")

// Error indicates the authorization server rejected an exchange, e.g.
// because a refresh token was revoked, expired, or superseded by rotation.
// Callers treat it exactly like ErrNoCredential: restart authorization.
type Error struct {
	Code    int
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("authorization server returned %s", http.StatusText(e.Code))
	}
	return fmt.Sprintf("authorization server returned %d: %s", e.Code, e.Message)
}

// AuthorizationRequired reports whether err means the caller should redirect
// the user to the authorization endpoint rather than surface a failure.
func AuthorizationRequired(err error) bool {
	var authErr *Error
	return errors.Is(err, ErrNoCredential) || errors.As(err, &authErr)
}

// Client drives token exchanges for one OAuth application.
type Client struct {
	ClientID     string
	ClientSecret string
	// Audience is the Fleet API origin the issued tokens are scoped to,
	// e.g. "https://fleet-api.prd.na.vn.cloud.tesla.com".
	Audience string
	// RedirectBase is the externally visible base URL of this service;
	// CallbackPath is appended to form the OAuth redirect_uri.
	RedirectBase string
	// TokenURL and AuthorizeURL default to Tesla's production endpoints.
	TokenURL     string
	AuthorizeURL string

	client http.Client
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

func (c *Client) tokenURL() string {
	if c.TokenURL != "" {
		return c.TokenURL
	}
	return DefaultTokenURL
}

// RedirectURI returns the registered OAuth callback URI.
func (c *Client) RedirectURI() string {
	return strings.TrimSuffix(c.RedirectBase, "/") + CallbackPath
}

// AuthorizationURL builds the URL the user's browser is sent to in order to
// begin the authorization-code flow.
func (c *Client) AuthorizationURL(state string) string {
	endpoint := c.AuthorizeURL
	if endpoint == "" {
		endpoint = DefaultAuthorizeURL
	}
	args := url.Values{
		"response_type": {"code"},
		"client_id":     {c.ClientID},
		"redirect_uri":  {c.RedirectURI()},
		"scope":         {Scope},
		"state":         {state},
	}
	return endpoint + "?" + args.Encode()
}

func (c *Client) exchange(ctx context.Context, form url.Values) (*tokenResponse, error) {
	request, err := http.NewRequestWithContext(ctx, "POST", c.tokenURL(), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("error constructing token request: %w", err)
	}
	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	log.Debug("Requesting %s grant from %s", form.Get("grant_type"), c.tokenURL())

	response, err := c.client.Do(request)
	if err != nil {
		return nil, fmt.Errorf("error reaching authorization server: %w", err)
	}
	defer response.Body.Close()

	reader := io.LimitedReader{R: response.Body, N: maxResponseLength}
	body, err := io.ReadAll(&reader)
	if err != nil {
		return nil, fmt.Errorf("error reading authorization server response: %w", err)
	}
	if response.StatusCode != http.StatusOK {
		log.Warning("Authorization server returned %d: %s", response.StatusCode, body)
		return nil, &Error{Code: response.StatusCode, Message: string(body)}
	}

	var token tokenResponse
	if err := json.Unmarshal(body, &token); err != nil {
		return nil, fmt.Errorf("malformed authorization server response: %w", err)
	}
	return &token, nil
}

// AccessToken exchanges the session's persisted refresh token for a fresh
// access token. The rotated refresh token is persisted before returning; the
// previous value is invalid from that point on. Returns ErrNoCredential if
// the user never authorized, or *Error if the server rejects the exchange.
//
// Concurrent calls for the same user can each hit the token endpoint and
// each persist a rotated token; the later write wins and the loser's next
// refresh fails with *Error. This race is accepted for the
// single-user-at-a-time usage pattern.
func (c *Client) AccessToken(ctx context.Context, sess *session.Session) (string, error) {
	refresh, err := sess.RefreshToken()
	if err != nil {
		return "", err
	}
	if refresh == "" {
		return "", ErrNoCredential
	}

	token, err := c.exchange(ctx, url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {c.ClientID},
		"refresh_token": {refresh},
	})
	if err != nil {
		return "", err
	}
	if err := sess.SetRefreshToken(token.RefreshToken); err != nil {
		return "", fmt.Errorf("failed to persist rotated refresh token: %w", err)
	}
	return token.AccessToken, nil
}

// ExchangeCode performs the authorization-code grant and establishes a new
// user session under a freshly generated key, persisting only the refresh
// token.
func (c *Client) ExchangeCode(ctx context.Context, sessions *session.Manager, code string) (*session.Session, error) {
	token, err := c.exchange(ctx, url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {c.ClientID},
		"client_secret": {c.ClientSecret},
		"code":          {code},
		"audience":      {c.Audience},
		"redirect_uri":  {c.RedirectURI()},
	})
	if err != nil {
		return nil, err
	}

	sess, err := sessions.Create()
	if err != nil {
		return nil, err
	}
	if err := sess.SetRefreshToken(token.RefreshToken); err != nil {
		return nil, fmt.Errorf("failed to persist refresh token: %w", err)
	}
	log.Info("Established session %s", sess.Key)
	return sess, nil
}

// PartnerToken returns the application's partner access token, minting one
// with the client-credentials grant on first use and caching it in the
// application-level store. Partner tokens authorize account registration,
// not user data access.
func (c *Client) PartnerToken(ctx context.Context, store session.Store) (string, error) {
	token, ok, err := store.Get("Auth", "PartnerToken")
	if err != nil {
		return "", err
	}
	if ok && token != "" {
		return token, nil
	}

	minted, err := c.exchange(ctx, url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.ClientID},
		"client_secret": {c.ClientSecret},
		"scope":         {Scope},
		"audience":      {c.Audience},
	})
	if err != nil {
		return "", err
	}
	if err := store.Set("Auth", "PartnerToken", minted.AccessToken); err != nil {
		return "", err
	}
	return minted.AccessToken, nil
}
