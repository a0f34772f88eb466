package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/kenton-clearsky/headachemd-telemetry/models"
)

// ErrNoIdentity is returned when no user identity can be resolved.
var ErrNoIdentity = errors.New("no authenticated user")

// Provider resolves the identity the capture agent records under. The
// agent stays dormant until WaitForUser returns a user; a host application
// supplies whatever implementation matches its auth setup.
type Provider interface {
	// WaitForUser blocks until the initial auth state is known, then
	// returns the current user or ErrNoIdentity.
	WaitForUser(ctx context.Context) (*models.AuthUser, error)
	// CurrentUser returns the resolved user, or nil before resolution.
	CurrentUser() *models.AuthUser
}

// StaticProvider always resolves to a fixed identity. Useful for server
// processes that track under a service identity, and for tests.
type StaticProvider struct {
	User *models.AuthUser
}

func (p *StaticProvider) WaitForUser(ctx context.Context) (*models.AuthUser, error) {
	if p.User == nil {
		return nil, ErrNoIdentity
	}
	return p.User, nil
}

func (p *StaticProvider) CurrentUser() *models.AuthUser { return p.User }

// TokenProvider resolves identity from a dashboard JWT.
type TokenProvider struct {
	Token string
	user  *models.AuthUser
}

func (p *TokenProvider) WaitForUser(ctx context.Context) (*models.AuthUser, error) {
	if p.user != nil {
		return p.user, nil
	}
	claims, err := ValidateJWT(p.Token)
	if err != nil {
		return nil, ErrNoIdentity
	}
	p.user = &models.AuthUser{
		ID:   fmt.Sprintf("%d", claims.UserID),
		Role: claims.Role,
	}
	return p.user, nil
}

func (p *TokenProvider) CurrentUser() *models.AuthUser { return p.user }
