package store

import (
	"context"
	"time"
)

// AuthToken is the singleton OAuth credential row. Token values are
// stored encrypted; decryption happens in the auth layer.
type AuthToken struct {
	ID           int64
	AccessToken  string // AES-GCM ciphertext, base64
	RefreshToken *string
	ExpiresTs    *int64
	BotUsername  *string
	CreatedTs    int64
	UpdatedTs    int64
}

// GetAuthToken returns the stored credential, or ErrNoAuthToken when
// none exists.
func (s *Store) GetAuthToken(ctx context.Context) (*AuthToken, error) {
	tok, err := s.driver.GetAuthToken(ctx)
	if err != nil {
		return nil, err
	}
	if tok == nil {
		return nil, ErrNoAuthToken
	}
	return tok, nil
}

// StoreAuthToken replaces whatever credential exists with the given
// one, keeping the singleton invariant.
func (s *Store) StoreAuthToken(ctx context.Context, token *AuthToken) error {
	now := time.Now().Unix()
	token.CreatedTs = now
	token.UpdatedTs = now
	return s.driver.ReplaceAuthToken(ctx, token)
}

// UpdateAuthToken updates the existing credential in place. Returns
// ErrNoAuthToken when there is nothing to update.
func (s *Store) UpdateAuthToken(ctx context.Context, token *AuthToken) error {
	token.UpdatedTs = time.Now().Unix()
	updated, err := s.driver.UpdateAuthToken(ctx, token)
	if err != nil {
		return err
	}
	if !updated {
		return ErrNoAuthToken
	}
	return nil
}

// DeleteAuthToken removes the stored credential.
func (s *Store) DeleteAuthToken(ctx context.Context) error {
	return s.driver.DeleteAuthToken(ctx)
}
