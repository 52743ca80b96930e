package auth

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/pkg/errors"
	"golang.org/x/oauth2"

	"github.com/clankbot/clank/internal/logging"
	"github.com/clankbot/clank/store"
)

// expiryBuffer triggers refresh slightly before the actual deadline.
const expiryBuffer = 5 * time.Minute

// refreshAttempts with 1s/2s/4s backoff.
const (
	refreshAttempts  = 3
	refreshBaseDelay = time.Second
)

// Manager keeps one valid decrypted access token available. All
// methods are safe for concurrent use; the transport calls
// EnsureValidToken on every (re)connect.
type Manager struct {
	store  *store.Store
	oauth  *OAuthClient
	key    []byte
	logger *slog.Logger
	now    func() time.Time

	mu          sync.Mutex
	accessToken string
	botUsername string
	expiresAt   time.Time
}

func NewManager(st *store.Store, oauth *OAuthClient, key []byte, logger *slog.Logger) *Manager {
	return &Manager{
		store:  st,
		oauth:  oauth,
		key:    key,
		logger: logger,
		now:    time.Now,
	}
}

// GetBotUsername returns the login the current token belongs to.
// Valid after a successful EnsureValidToken.
func (m *Manager) GetBotUsername() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.botUsername
}

// EnsureValidToken returns a decrypted access token, refreshing it
// first when expired or rejected upstream.
func (m *Manager) EnsureValidToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.accessToken != "" && !m.expired(m.expiresAt) {
		return m.accessToken, nil
	}

	row, err := m.store.GetAuthToken(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNoAuthToken) {
			return "", errors.New("no stored credential; set TWITCH_ACCESS_TOKEN and TWITCH_REFRESH_TOKEN to bootstrap")
		}
		return "", errors.Wrap(err, "load stored token")
	}

	access, err := DecryptToken(row.AccessToken, m.key)
	if err != nil {
		return "", errors.Wrap(err, "decrypt access token; has TOKEN_ENCRYPTION_KEY changed?")
	}

	if row.ExpiresTs != nil && m.expired(time.Unix(*row.ExpiresTs, 0)) {
		m.logger.Info("stored token expired, refreshing")
		return m.refreshLocked(ctx, row)
	}

	info, err := m.oauth.Validate(ctx, access)
	if err != nil {
		if errors.Is(err, ErrTokenInvalid) {
			m.logger.Info("stored token rejected, refreshing")
			return m.refreshLocked(ctx, row)
		}
		return "", err
	}

	m.adoptLocked(access, m.loginFor(ctx, access, info, row), time.Unix(valueOrZero(row.ExpiresTs), 0))
	return access, nil
}

// refreshLocked runs the refresh grant with bounded retries and
// persists the new pair. Caller holds m.mu.
func (m *Manager) refreshLocked(ctx context.Context, row *store.AuthToken) (string, error) {
	if row.RefreshToken == nil || *row.RefreshToken == "" {
		return "", errors.New("stored credential has no refresh token; re-authorize the bot")
	}
	refresh, err := DecryptToken(*row.RefreshToken, m.key)
	if err != nil {
		return "", errors.Wrap(err, "decrypt refresh token")
	}

	var fresh *oauth2.Token
	err = retry.Do(
		func() error {
			var attemptErr error
			fresh, attemptErr = m.oauth.Refresh(ctx, refresh)
			return attemptErr
		},
		retry.Attempts(refreshAttempts),
		retry.Delay(refreshBaseDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return "", errors.Wrap(err, "refresh token after retries")
	}

	info, err := m.oauth.Validate(ctx, fresh.AccessToken)
	if err != nil {
		return "", errors.Wrap(err, "validate refreshed token")
	}

	if err := m.persistLocked(ctx, row, fresh, info); err != nil {
		return "", err
	}
	m.logger.Info("authentication token refreshed", "login", m.botUsername)
	return fresh.AccessToken, nil
}

func (m *Manager) persistLocked(ctx context.Context, row *store.AuthToken, fresh *oauth2.Token, info *TokenInfo) error {
	encAccess, err := EncryptToken(fresh.AccessToken, m.key)
	if err != nil {
		return errors.Wrap(err, "encrypt access token")
	}
	row.AccessToken = encAccess

	if fresh.RefreshToken != "" {
		encRefresh, err := EncryptToken(fresh.RefreshToken, m.key)
		if err != nil {
			return errors.Wrap(err, "encrypt refresh token")
		}
		row.RefreshToken = &encRefresh
	}

	var expiresAt time.Time
	if !fresh.Expiry.IsZero() {
		expiresAt = fresh.Expiry
		ts := fresh.Expiry.Unix()
		row.ExpiresTs = &ts
	}

	login := m.loginFor(ctx, fresh.AccessToken, info, row)
	row.BotUsername = &login

	if err := m.store.UpdateAuthToken(ctx, row); err != nil {
		return errors.Wrap(err, "persist refreshed token")
	}
	m.adoptLocked(fresh.AccessToken, login, expiresAt)
	return nil
}

// Bootstrap validates plain-text credentials from the environment,
// detects the bot's login and stores the pair encrypted. A no-op when
// a credential row already exists.
func (m *Manager) Bootstrap(ctx context.Context, accessToken, refreshToken string) error {
	if _, err := m.store.GetAuthToken(ctx); err == nil {
		return nil
	} else if !errors.Is(err, store.ErrNoAuthToken) {
		return errors.Wrap(err, "check stored credential")
	}

	info, err := m.oauth.Validate(ctx, accessToken)
	if err != nil {
		return errors.Wrap(err, "bootstrap token validation")
	}

	encAccess, err := EncryptToken(accessToken, m.key)
	if err != nil {
		return errors.Wrap(err, "encrypt access token")
	}

	row := &store.AuthToken{AccessToken: encAccess}
	if refreshToken != "" {
		encRefresh, err := EncryptToken(refreshToken, m.key)
		if err != nil {
			return errors.Wrap(err, "encrypt refresh token")
		}
		row.RefreshToken = &encRefresh
	}
	if info.ExpiresIn > 0 {
		ts := m.now().Add(time.Duration(info.ExpiresIn) * time.Second).Unix()
		row.ExpiresTs = &ts
	}

	login := m.loginFor(ctx, accessToken, info, row)
	row.BotUsername = &login

	if err := m.store.StoreAuthToken(ctx, row); err != nil {
		return errors.Wrap(err, "store bootstrap credential")
	}

	m.mu.Lock()
	m.adoptLocked(accessToken, login, time.Unix(valueOrZero(row.ExpiresTs), 0))
	m.mu.Unlock()

	m.logger.Info("bootstrap credential stored",
		"login", login,
		"access_token", logging.Redact(accessToken))
	return nil
}

// RevokeTokens invalidates the credential upstream and removes it
// from the store.
func (m *Manager) RevokeTokens(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, err := m.store.GetAuthToken(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNoAuthToken) {
			return nil
		}
		return err
	}

	if access, decErr := DecryptToken(row.AccessToken, m.key); decErr == nil {
		if err := m.oauth.Revoke(ctx, access); err != nil {
			m.logger.Warn("upstream revoke failed", "err", err)
		}
	}

	if err := m.store.DeleteAuthToken(ctx); err != nil {
		return errors.Wrap(err, "delete stored credential")
	}
	m.accessToken = ""
	m.botUsername = ""
	m.expiresAt = time.Time{}
	return nil
}

// loginFor resolves the token's login, preferring the validate
// response, then the helix users endpoint, then whatever the stored
// row already carries.
func (m *Manager) loginFor(ctx context.Context, access string, info *TokenInfo, row *store.AuthToken) string {
	if info != nil && info.Login != "" {
		return info.Login
	}
	if login, _, err := m.oauth.UserInfo(ctx, access); err == nil && login != "" {
		return login
	}
	if row.BotUsername != nil {
		return *row.BotUsername
	}
	return ""
}

func (m *Manager) adoptLocked(access, login string, expiresAt time.Time) {
	m.accessToken = access
	if login != "" {
		m.botUsername = login
	}
	m.expiresAt = expiresAt
}

// expired applies the early-refresh buffer. The zero time means "no
// known expiry" and is treated as not expired.
func (m *Manager) expired(at time.Time) bool {
	if at.IsZero() || at.Unix() == 0 {
		return false
	}
	return m.now().After(at.Add(-expiryBuffer))
}

func valueOrZero(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}
