package main

import (
	"sync"
	"testing"

	"schedule-client/internal/session"
)

type stubSnapshots struct {
	mu   sync.Mutex
	cur  session.Snapshot
	subs []func(session.Snapshot)
}

func (s *stubSnapshots) Subscribe(fn func(session.Snapshot)) func() {
	s.mu.Lock()
	s.subs = append(s.subs, fn)
	s.mu.Unlock()
	return func() {}
}

func (s *stubSnapshots) Snapshot() session.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur
}

func (s *stubSnapshots) publish(snap session.Snapshot) {
	s.mu.Lock()
	s.cur = snap
	subs := append([]func(session.Snapshot){}, s.subs...)
	s.mu.Unlock()
	for _, fn := range subs {
		fn(snap)
	}
}

func closed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func TestSessionEndedAlreadyRejected(t *testing.T) {
	st := &stubSnapshots{cur: session.Snapshot{State: session.LoggedOut, Reason: session.ReasonRefreshFailed}}
	done, cancel := sessionEnded(st)
	defer cancel()
	if !closed(done) {
		t.Fatal("a session rejected before subscribing must end the watch")
	}
}

func TestSessionEndedLater(t *testing.T) {
	st := &stubSnapshots{cur: session.Snapshot{State: session.Active}}
	done, cancel := sessionEnded(st)
	defer cancel()
	if closed(done) {
		t.Fatal("active session must not end the watch")
	}

	st.publish(session.Snapshot{State: session.Refreshing})
	if closed(done) {
		t.Fatal("refreshing must not end the watch")
	}
	st.publish(session.Snapshot{State: session.LoggedOut, Reason: session.ReasonUnauthorized})
	st.publish(session.Snapshot{State: session.LoggedOut, Reason: session.ReasonUnauthorized})
	if !closed(done) {
		t.Fatal("rejected session must end the watch")
	}
}
