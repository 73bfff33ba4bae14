package sso

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// GoogleIssuer is the OpenID Connect issuer of Google accounts
const GoogleIssuer = "https://accounts.google.com"

// ErrLoginRejected is returned when Google vouches for an account this
// deployment does not accept
var ErrLoginRejected = errors.New("google login rejected")

// GoogleConfig configures Google sign-in
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// HostedDomain restricts sign-in to one Google Workspace domain
	HostedDomain string
	// IssuerURL overrides GoogleIssuer; tests point it at a fake provider
	IssuerURL string
}

// Validate checks that the required fields are present
func (c GoogleConfig) Validate() error {
	if c.ClientID == "" {
		return fmt.Errorf("client_id is required")
	}
	if c.ClientSecret == "" {
		return fmt.Errorf("client_secret is required")
	}
	if c.RedirectURL == "" {
		return fmt.Errorf("redirect_url is required")
	}
	return nil
}

// GoogleUser is the verified identity returned by Google
type GoogleUser struct {
	Subject       string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
	HostedDomain  string `json:"hd"`
}

// tokenVerifier is the part of oidc.IDTokenVerifier the provider needs
type tokenVerifier interface {
	Verify(ctx context.Context, rawIDToken string) (*oidc.IDToken, error)
}

// GoogleProvider runs the OAuth2 authorization code flow against Google
// and verifies the returned ID token
type GoogleProvider struct {
	oauth2       *oauth2.Config
	verifier     tokenVerifier
	hostedDomain string
}

// NewGoogleProvider discovers the issuer's endpoints and keys
func NewGoogleProvider(ctx context.Context, cfg GoogleConfig) (*GoogleProvider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	issuer := cfg.IssuerURL
	if issuer == "" {
		issuer = GoogleIssuer
	}

	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}

	oauthConfig := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     provider.Endpoint(),
		RedirectURL:  cfg.RedirectURL,
		Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
	}
	verifier := provider.Verifier(&oidc.Config{ClientID: cfg.ClientID})

	return newGoogleProvider(oauthConfig, verifier, cfg.HostedDomain), nil
}

func newGoogleProvider(oauthConfig *oauth2.Config, verifier tokenVerifier, hostedDomain string) *GoogleProvider {
	return &GoogleProvider{oauth2: oauthConfig, verifier: verifier, hostedDomain: hostedDomain}
}

// AuthCodeURL returns the Google consent URL carrying state
func (p *GoogleProvider) AuthCodeURL(state string) string {
	opts := []oauth2.AuthCodeOption{oauth2.SetAuthURLParam("prompt", "select_account")}
	if p.hostedDomain != "" {
		opts = append(opts, oauth2.SetAuthURLParam("hd", p.hostedDomain))
	}
	return p.oauth2.AuthCodeURL(state, opts...)
}

// Exchange trades an authorization code for a verified Google identity
func (p *GoogleProvider) Exchange(ctx context.Context, code string) (*GoogleUser, error) {
	if code == "" {
		return nil, fmt.Errorf("%w: missing authorization code", ErrLoginRejected)
	}

	token, err := p.oauth2.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange token: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return nil, fmt.Errorf("missing id_token in response")
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("failed to verify ID token: %w", err)
	}

	var user GoogleUser
	if err := idToken.Claims(&user); err != nil {
		return nil, fmt.Errorf("failed to parse claims: %w", err)
	}
	if user.Subject == "" {
		user.Subject = idToken.Subject
	}

	if user.Email == "" {
		return nil, fmt.Errorf("%w: missing email claim", ErrLoginRejected)
	}
	if p.hostedDomain != "" && !strings.EqualFold(user.HostedDomain, p.hostedDomain) {
		return nil, fmt.Errorf("%w: account is outside %s", ErrLoginRejected, p.hostedDomain)
	}

	return &user, nil
}
