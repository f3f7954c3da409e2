package middleware

import (
	"net/http"

	"golang.org/x/time/rate"
)

// RateLimit delays requests to at most rps per second with the given burst.
// A cancelled context aborts the wait.
type RateLimit struct {
	Base http.RoundTripper
	lim  *rate.Limiter
}

func NewRateLimit(base http.RoundTripper, rps float64, burst int) *RateLimit {
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimit{Base: base, lim: rate.NewLimiter(limit, burst)}
}

func (l *RateLimit) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := l.lim.Wait(req.Context()); err != nil {
		if req.Body != nil {
			req.Body.Close()
		}
		return nil, err
	}
	return base(l.Base).RoundTrip(req)
}

func base(rt http.RoundTripper) http.RoundTripper {
	if rt != nil {
		return rt
	}
	return http.DefaultTransport
}
