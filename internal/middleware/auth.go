// Package middleware holds the http.RoundTrippers every outgoing request
// passes through.
package middleware

import (
	"context"
	"io"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
)

// Refresher renews the access token behind a TokenSource.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// skip auth for these
var open = []string{"/token/", "/token/refresh/"}

func isOpen(req *http.Request) bool {
	for _, p := range open {
		if strings.HasSuffix(req.URL.Path, p) {
			return true
		}
	}
	return false
}

// Auth sets the bearer token from Source. A 401 triggers one refresh and a
// single retry of the request; a second 401 is returned to the caller.
type Auth struct {
	Base      http.RoundTripper
	Source    oauth2.TokenSource
	Refresher Refresher
}

func NewAuth(base http.RoundTripper, src oauth2.TokenSource, r Refresher) *Auth {
	return &Auth{Base: base, Source: src, Refresher: r}
}

func (a *Auth) base() http.RoundTripper {
	if a.Base != nil {
		return a.Base
	}
	return http.DefaultTransport
}

func (a *Auth) RoundTrip(req *http.Request) (*http.Response, error) {
	if isOpen(req) {
		return a.base().RoundTrip(req)
	}
	t := &oauth2.Transport{Source: a.Source, Base: a.base()}

	// keep a replayable body for the retry
	var retryBody func() (io.ReadCloser, error)
	if req.Body == nil || req.Body == http.NoBody {
		retryBody = func() (io.ReadCloser, error) { return http.NoBody, nil }
	} else if req.GetBody != nil {
		retryBody = req.GetBody
	}

	resp, err := t.RoundTrip(req)
	if err != nil || resp.StatusCode != http.StatusUnauthorized || a.Refresher == nil || retryBody == nil {
		return resp, err
	}

	if rerr := a.Refresher.Refresh(req.Context()); rerr != nil {
		// the session is gone; report the first 401
		return resp, nil
	}

	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	body, err := retryBody()
	if err != nil {
		return nil, err
	}
	retry := req.Clone(req.Context())
	retry.Body = body
	return t.RoundTrip(retry)
}

// TokenSourceRefresher is a session: a token source that can renew itself.
type TokenSourceRefresher interface {
	oauth2.TokenSource
	Refresher
}
