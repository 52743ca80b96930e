package auth

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"

	"github.com/clankbot/clank/internal/logging"
)

// EnsureKey decodes the configured encryption key. When none is
// configured a fresh key is generated and logged once so the operator
// can pin it; tokens encrypted under a generated key do not survive a
// restart without it.
func EnsureKey(configured string, logger *slog.Logger) ([]byte, error) {
	if configured != "" {
		key, err := DecodeKey(configured)
		if err != nil {
			return nil, errors.Wrap(err, "TOKEN_ENCRYPTION_KEY must be base64 of 32 bytes")
		}
		return key, nil
	}

	generated, err := GenerateKey()
	if err != nil {
		return nil, err
	}
	logger.Warn("TOKEN_ENCRYPTION_KEY not set, generated one for this run",
		"key", logging.Redact(generated),
		"hint", "set TOKEN_ENCRYPTION_KEY to persist tokens across restarts")
	key, _ := DecodeKey(generated)
	return key, nil
}

// ValidateStartup guarantees a usable credential before the transport
// starts: bootstrap from the environment when the store is empty,
// then produce a valid token and a known bot login. Errors here are
// fatal.
func (m *Manager) ValidateStartup(ctx context.Context, bootstrapAccess, bootstrapRefresh string) error {
	if bootstrapAccess != "" {
		if err := m.Bootstrap(ctx, bootstrapAccess, bootstrapRefresh); err != nil {
			return errors.Wrap(err, "bootstrap from environment")
		}
	}

	if _, err := m.EnsureValidToken(ctx); err != nil {
		return errors.Wrap(err, "no valid Twitch credential")
	}
	if m.GetBotUsername() == "" {
		return errors.New("could not determine bot username from token")
	}
	return nil
}
