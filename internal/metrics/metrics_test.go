package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"schedule-client/internal/apperr"
)

func TestObserve(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveCacheOp("load_all", nil)
	m.ObserveCacheOp("load_all", nil)
	m.ObserveCacheOp("book", apperr.New(apperr.NotFound, "book", "gone"))
	m.SetAppointments(7)
	m.ObserveRefresh(errors.New("boom"))
	m.ObserveRequest("GET", 200)
	m.ObserveRequest("GET", 0)

	if v := testutil.ToFloat64(m.CacheOps.WithLabelValues("load_all", "ok")); v != 2 {
		t.Errorf("load_all ok: got %v", v)
	}
	if v := testutil.ToFloat64(m.CacheOps.WithLabelValues("book", "not found")); v != 1 {
		t.Errorf("book not found: got %v", v)
	}
	if v := testutil.ToFloat64(m.Appointments); v != 7 {
		t.Errorf("gauge: got %v", v)
	}
	if v := testutil.ToFloat64(m.Refreshes.WithLabelValues("error")); v != 1 {
		t.Errorf("refresh error: got %v", v)
	}
	if v := testutil.ToFloat64(m.Requests.WithLabelValues("GET", "none")); v != 1 {
		t.Errorf("request without response: got %v", v)
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.ObserveCacheOp("x", nil)
	m.SetAppointments(1)
	m.ObserveRefresh(nil)
	m.ObserveRequest("GET", 500)
}

func TestRegisterTwiceOnSeparateRegistries(t *testing.T) {
	New(prometheus.NewRegistry())
	New(prometheus.NewRegistry())
	New(nil)
}
