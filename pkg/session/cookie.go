package session

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"
)

// Cookie describes the cookie that carries the session ID
type Cookie struct {
	Name   string
	Path   string
	Domain string
	Secure bool
	MaxAge time.Duration
}

// DefaultCookie returns the cookie settings used when none are configured
func DefaultCookie() Cookie {
	return Cookie{Name: "tenantadmin_session", Path: "/", Secure: true, MaxAge: 24 * time.Hour}
}

// Read returns the session ID sent with r
func (c Cookie) Read(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(c.Name)
	if err != nil || cookie.Value == "" {
		return "", false
	}
	return cookie.Value, true
}

// Write sends the ID of sess to the client
func (c Cookie) Write(w http.ResponseWriter, sess Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.Name,
		Value:    sess.ID(),
		Path:     c.Path,
		Domain:   c.Domain,
		Secure:   c.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(c.MaxAge.Seconds()),
	})
}

// Clear expires the cookie on the client
func (c Cookie) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.Name,
		Value:    "",
		Path:     c.Path,
		Domain:   c.Domain,
		Secure:   c.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

// Begin starts an authenticated session for userID. The previous session,
// if any, is destroyed so a session ID issued before login is never
// promoted.
func Begin(ctx context.Context, store Store, previous Session, userID int64) (Session, error) {
	sess, err := store.New(ctx)
	if err != nil {
		return nil, err
	}
	err = sess.Update(ctx, map[string]string{
		KeyUserID:    FormatID(userID),
		KeyCreatedAt: strconv.FormatInt(time.Now().Unix(), 10),
	})
	if err != nil {
		return nil, err
	}

	if previous != nil {
		if err := previous.Destroy(ctx); err != nil && !errors.Is(err, ErrSessionNotFound) {
			return nil, err
		}
	}
	return sess, nil
}
