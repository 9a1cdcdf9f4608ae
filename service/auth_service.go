package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/layer-3/onerecurr/core"
	"github.com/layer-3/onerecurr/ports"
	"github.com/sirupsen/logrus"
)

const keyRevokedPrefix = "oneRecurr_revokedToken_"

// AuthService issues API bearer tokens bound to the active delegated session
type AuthService struct {
	tokenizer ports.Tokenizer
	sessions  *SessionService
	store     ports.Store
	clock     core.Clock
	log       logrus.FieldLogger
}

// NewAuthService creates a new authentication service
func NewAuthService(tokenizer ports.Tokenizer, sessions *SessionService, store ports.Store, log logrus.FieldLogger) *AuthService {
	return &AuthService{
		tokenizer: tokenizer,
		sessions:  sessions,
		store:     store,
		clock:     sessions.clock,
		log:       componentLogger(log, "auth"),
	}
}

// Login creates a fresh session through the connected wallet and returns a
// token for it.
func (s *AuthService) Login(ctx context.Context) (core.SessionStatus, string, error) {
	status, err := s.sessions.CreateSession(ctx)
	if err != nil {
		return core.SessionStatus{}, "", err
	}
	token, err := s.IssueToken()
	if err != nil {
		return core.SessionStatus{}, "", err
	}
	return status, token, nil
}

// IssueToken returns a token for the session that is active right now.
func (s *AuthService) IssueToken() (string, error) {
	grant, err := s.sessions.Grant()
	if err != nil {
		return "", err
	}
	token, err := s.tokenizer.GrantToAccessToken(grant)
	if err != nil {
		return "", fmt.Errorf("failed to create access token: %w", err)
	}
	return token, nil
}

// Logout revokes the token and clears the session it was bound to.
func (s *AuthService) Logout(ctx context.Context, accessToken string) error {
	grant, err := s.ValidateAccessToken(ctx, accessToken)
	if err != nil && !errors.Is(err, core.ErrNoActiveSession) {
		return err
	}
	if grant != nil {
		ttl := grant.ExpiresAt.Sub(s.clock.Now())
		if err := s.store.Set(ctx, keyRevokedPrefix+grant.ID, "1", ttl); err != nil {
			return fmt.Errorf("failed to revoke token: %w", err)
		}
	}
	return s.sessions.ClearSession(ctx)
}

// ValidateAccessToken parses the token and checks that the session it names
// is still the active one.
func (s *AuthService) ValidateAccessToken(ctx context.Context, accessToken string) (*core.SessionGrant, error) {
	grant, err := s.tokenizer.AccessTokenToGrant(accessToken)
	if err != nil {
		return nil, err
	}

	if !s.clock.Now().Before(grant.ExpiresAt) {
		return nil, core.ErrTokenExpired
	}

	_, err = s.store.Get(ctx, keyRevokedPrefix+grant.ID)
	switch {
	case err == nil:
		return nil, fmt.Errorf("%w: revoked", core.ErrInvalidToken)
	case !errors.Is(err, core.ErrKeyNotFound):
		return nil, fmt.Errorf("failed to check token revocation: %w", err)
	}

	if err := s.sessions.ValidateGrant(grant); err != nil {
		s.log.WithField("account", grant.Account.Hex()).Debug("token no longer matches the active session")
		return grant, err
	}
	return grant, nil
}
