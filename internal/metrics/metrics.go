// Package metrics holds the prometheus collectors of the client. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"schedule-client/internal/apperr"
)

type Metrics struct {
	CacheOps     *prometheus.CounterVec
	Appointments prometheus.Gauge
	Refreshes    *prometheus.CounterVec
	Requests     *prometheus.CounterVec
}

// New registers the collectors on reg. A nil reg leaves them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CacheOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "schedule_client",
			Name:      "cache_operations_total",
			Help:      "Appointment cache operations by op and result.",
		}, []string{"op", "result"}),
		Appointments: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "schedule_client",
			Name:      "mirrored_appointments",
			Help:      "Appointments currently held in the local mirror.",
		}),
		Refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "schedule_client",
			Name:      "token_refreshes_total",
			Help:      "Access token refresh attempts by result.",
		}, []string{"result"}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "schedule_client",
			Name:      "http_requests_total",
			Help:      "Outgoing HTTP requests by method and status code.",
		}, []string{"method", "code"}),
	}
	if reg != nil {
		reg.MustRegister(m.CacheOps, m.Appointments, m.Refreshes, m.Requests)
	}
	return m
}

// Result labels err by its kind; nil is "ok".
func Result(err error) string {
	if err == nil {
		return "ok"
	}
	var e *apperr.Error
	if errors.As(err, &e) {
		return e.Kind.String()
	}
	return "error"
}

func (m *Metrics) ObserveCacheOp(op string, err error) {
	if m == nil {
		return
	}
	m.CacheOps.WithLabelValues(op, Result(err)).Inc()
}

func (m *Metrics) SetAppointments(n int) {
	if m == nil {
		return
	}
	m.Appointments.Set(float64(n))
}

func (m *Metrics) ObserveRefresh(err error) {
	if m == nil {
		return
	}
	m.Refreshes.WithLabelValues(Result(err)).Inc()
}

// ObserveRequest records one round trip; code 0 means no response.
func (m *Metrics) ObserveRequest(method string, code int) {
	if m == nil {
		return
	}
	label := "none"
	if code != 0 {
		label = strconv.Itoa(code)
	}
	m.Requests.WithLabelValues(method, label).Inc()
}
