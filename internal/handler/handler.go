// Package handler is the application service front ends call. It gates
// operations by role, picks the load path for the role and ends the session
// when the server rejects it.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"schedule-client/internal/apperr"
	"schedule-client/internal/booking"
	"schedule-client/internal/cache"
	"schedule-client/internal/model"
	"schedule-client/internal/session"
)

// Sessions is the part of the session the handler needs.
type Sessions interface {
	Login(ctx context.Context, username, password string) error
	Reconciled(ctx context.Context) error
	Logout(ctx context.Context) error
	Invalidate(ctx context.Context) error
	Snapshot() session.Snapshot
	CurrentUser() *model.User
	CurrentRole() model.Role
}

type Handler struct {
	sess  Sessions
	cache *cache.Cache
	flow  *booking.Workflow
	loc   *time.Location
	log   *slog.Logger
}

func New(sess Sessions, c *cache.Cache, flow *booking.Workflow, loc *time.Location, log *slog.Logger) *Handler {
	if loc == nil {
		loc = time.UTC
	}
	if log == nil {
		log = slog.Default()
	}
	return &Handler{sess: sess, cache: c, flow: flow, loc: loc, log: log}
}

func (h *Handler) Cache() *cache.Cache { return h.cache }

func (h *Handler) Location() *time.Location { return h.loc }

// check ends the session on a 401 the transport could not recover from.
func (h *Handler) check(ctx context.Context, err error) error {
	if err == nil || !errors.Is(err, apperr.ErrUnauthorized) {
		return err
	}
	if h.sess.CurrentRole() == model.RoleUnknown {
		return err
	}
	h.log.Warn("server rejected session, logging out", "error", err)
	if ierr := h.sess.Invalidate(context.WithoutCancel(ctx)); ierr != nil {
		h.log.Error("invalidate session", "error", ierr)
	}
	return err
}

func (h *Handler) requireAdmin(op string) error {
	switch h.sess.CurrentRole() {
	case model.RoleAdmin:
		return nil
	case model.RoleUnknown:
		return apperr.New(apperr.Unauthorized, op, "login required")
	default:
		return apperr.New(apperr.Forbidden, op, "administrators only")
	}
}
