// Package sso implements sign-in with Google accounts.
//
// GoogleProvider runs the OAuth2 authorization code flow and verifies the
// returned OpenID Connect ID token. Provisioner maps the verified identity
// onto a local account: first by linked Google subject, then by verified
// email (linking the two), and finally by creating an account when
// auto-provisioning is on. Accounts that are not active cannot sign in.
//
// The OAuth2 state is kept in the session under oauth_state and consumed
// by the callback. A successful sign-in replaces the session with a fresh
// one for the signed-in user.
package sso
