package auth

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

const (
	idBaseURL  = "https://id.twitch.tv/oauth2"
	apiBaseURL = "https://api.twitch.tv/helix"
)

// Scopes the bot needs: reading chat and speaking in it.
var chatScopes = []string{"chat:read", "chat:edit"}

// ErrTokenInvalid means the access token was rejected upstream.
var ErrTokenInvalid = errors.New("access token rejected")

// TokenInfo is the validate-endpoint response.
type TokenInfo struct {
	ClientID  string   `json:"client_id"`
	Login     string   `json:"login"`
	UserID    string   `json:"user_id"`
	Scopes    []string `json:"scopes"`
	ExpiresIn int      `json:"expires_in"`
}

// OAuthClient talks to the Twitch identity endpoints.
type OAuthClient struct {
	clientID   string
	httpClient *http.Client
	conf       *oauth2.Config

	// Overridable in tests.
	idBase  string
	apiBase string
}

func NewOAuthClient(clientID, clientSecret string) *OAuthClient {
	return &OAuthClient{
		clientID:   clientID,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		conf: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     endpoints.Twitch,
			Scopes:       chatScopes,
		},
		idBase:  idBaseURL,
		apiBase: apiBaseURL,
	}
}

// Validate checks an access token and returns its metadata, including
// the login it belongs to. A 401 yields ErrTokenInvalid.
func (c *OAuthClient) Validate(ctx context.Context, accessToken string) (*TokenInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.idBase+"/validate", nil)
	if err != nil {
		return nil, errors.Wrap(err, "build validate request")
	}
	req.Header.Set("Authorization", "OAuth "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "validate token")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrTokenInvalid
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("validate token: status %d", resp.StatusCode)
	}

	var info TokenInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, errors.Wrap(err, "decode validate response")
	}
	return &info, nil
}

// Refresh exchanges a refresh token for a fresh credential pair via
// the standard refresh_token grant.
func (c *OAuthClient) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	tok, err := c.conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, errors.Wrap(err, "refresh token")
	}
	return tok, nil
}

// Revoke invalidates a token upstream.
func (c *OAuthClient) Revoke(ctx context.Context, token string) error {
	form := url.Values{
		"client_id": {c.clientID},
		"token":     {token},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.idBase+"/revoke", strings.NewReader(form.Encode()))
	if err != nil {
		return errors.Wrap(err, "build revoke request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "revoke token")
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("revoke token: status %d", resp.StatusCode)
	}
	return nil
}

// AuthorizationURL builds the consent URL for first-time setup,
// returning the random state the callback must echo back.
func (c *OAuthClient) AuthorizationURL(redirectURI string) (string, string) {
	state := uuid.NewString()
	conf := *c.conf
	conf.RedirectURL = redirectURI
	return conf.AuthCodeURL(state), state
}

// Exchange trades an authorization code for the first credential
// pair.
func (c *OAuthClient) Exchange(ctx context.Context, code, redirectURI string) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	conf := *c.conf
	conf.RedirectURL = redirectURI
	tok, err := conf.Exchange(ctx, code)
	if err != nil {
		return nil, errors.Wrap(err, "exchange authorization code")
	}
	return tok, nil
}

// helixUser is one entry of the helix /users response.
type helixUser struct {
	ID          string `json:"id"`
	Login       string `json:"login"`
	DisplayName string `json:"display_name"`
}

// UserInfo resolves the authenticated user via the helix API. Used
// when the validate response does not carry a login (app tokens).
func (c *OAuthClient) UserInfo(ctx context.Context, accessToken string) (login, displayName string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBase+"/users", nil)
	if err != nil {
		return "", "", errors.Wrap(err, "build users request")
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Client-Id", c.clientID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", "", errors.Wrap(err, "fetch user info")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return "", "", ErrTokenInvalid
	}
	if resp.StatusCode != http.StatusOK {
		return "", "", errors.Errorf("fetch user info: status %d", resp.StatusCode)
	}

	var payload struct {
		Data []helixUser `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", "", errors.Wrap(err, "decode user info")
	}
	if len(payload.Data) == 0 {
		return "", "", errors.New("user info response is empty")
	}
	return payload.Data[0].Login, payload.Data[0].DisplayName, nil
}
