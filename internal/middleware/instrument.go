package middleware

import (
	"net/http"

	"schedule-client/internal/metrics"
)

// Instrument counts round trips by method and status.
type Instrument struct {
	Base    http.RoundTripper
	Metrics *metrics.Metrics
}

func (i Instrument) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := base(i.Base).RoundTrip(req)
	code := 0
	if resp != nil {
		code = resp.StatusCode
	}
	i.Metrics.ObserveRequest(req.Method, code)
	return resp, err
}

// Stack wraps base as RequestID(RateLimit(Auth(Instrument(base)))). A nil
// source leaves requests unauthenticated.
func Stack(rt http.RoundTripper, src TokenSourceRefresher, m *metrics.Metrics, rps float64, burst int) http.RoundTripper {
	var next http.RoundTripper = Instrument{Base: rt, Metrics: m}
	if src != nil {
		next = NewAuth(next, src, src)
	}
	return RequestID{Base: NewRateLimit(next, rps, burst)}
}
