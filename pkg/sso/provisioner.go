package sso

import (
	"context"
	"errors"
	"fmt"

	"github.com/platinummonkey/tenantadmin/pkg/auth"
)

// Accounts is the part of the identity store Google sign-in needs
type Accounts interface {
	GetByGoogleID(ctx context.Context, googleID string) (*auth.User, error)
	GetByEmail(ctx context.Context, email string) (*auth.User, error)
	LinkGoogle(ctx context.Context, id int64, googleID, avatar string) error
	Create(ctx context.Context, u *auth.User) error
	TouchLogin(ctx context.Context, id int64) error
}

// Provisioner maps a verified Google identity onto a local account
type Provisioner struct {
	accounts      Accounts
	autoProvision bool
}

// NewProvisioner creates a Provisioner. With autoProvision false only
// accounts that already exist can sign in with Google.
func NewProvisioner(accounts Accounts, autoProvision bool) *Provisioner {
	return &Provisioner{accounts: accounts, autoProvision: autoProvision}
}

// Resolve returns the account for g, in order: the account already linked
// to the Google subject, an account with the same verified email (which is
// then linked), or a newly created account.
func (p *Provisioner) Resolve(ctx context.Context, g *GoogleUser) (*auth.User, error) {
	user, err := p.accounts.GetByGoogleID(ctx, g.Subject)
	switch {
	case err == nil:
	case errors.Is(err, auth.ErrUserNotFound):
		user, err = p.link(ctx, g)
		if err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	if !user.IsActive() {
		return nil, auth.ErrAccountInactive
	}
	if err := p.accounts.TouchLogin(ctx, user.ID); err != nil {
		return nil, err
	}
	return user, nil
}

func (p *Provisioner) link(ctx context.Context, g *GoogleUser) (*auth.User, error) {
	if !g.EmailVerified {
		return nil, fmt.Errorf("%w: email %s is not verified", ErrLoginRejected, g.Email)
	}

	user, err := p.accounts.GetByEmail(ctx, g.Email)
	if err == nil {
		if user.GoogleID != nil {
			// Linked to a different Google account
			return nil, fmt.Errorf("%w: email %s belongs to another google account", ErrLoginRejected, g.Email)
		}
		if err := p.accounts.LinkGoogle(ctx, user.ID, g.Subject, g.Picture); err != nil {
			return nil, fmt.Errorf("failed to link google account: %w", err)
		}
		subject := g.Subject
		user.GoogleID = &subject
		return user, nil
	}
	if !errors.Is(err, auth.ErrUserNotFound) {
		return nil, err
	}

	if !p.autoProvision {
		return nil, auth.ErrInvalidCredentials
	}
	subject := g.Subject
	user = &auth.User{
		Name:     g.Name,
		Email:    g.Email,
		GoogleID: &subject,
		Avatar:   g.Picture,
	}
	if user.Name == "" {
		user.Name = g.Email
	}
	if err := p.accounts.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}
