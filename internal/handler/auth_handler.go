package handler

import (
	"context"
	"strings"
	"time"

	"schedule-client/internal/apperr"
	"schedule-client/internal/model"
)

// reconcileWait bounds how long the first load waits for the provider's
// user record.
const reconcileWait = 5 * time.Second

// Login signs in and loads the appointments for the resulting role. The token
// claims lack group membership, so the load waits for the reconciled user and
// runs again if the role still changed underneath it. A failed initial load
// does not undo the login.
func (h *Handler) Login(ctx context.Context, username, password string) (*Overview, error) {
	if strings.TrimSpace(username) == "" || password == "" {
		return nil, apperr.New(apperr.Validation, "login", "username and password required")
	}
	if err := h.sess.Login(ctx, username, password); err != nil {
		return nil, err
	}

	wctx, cancel := context.WithTimeout(ctx, reconcileWait)
	err := h.sess.Reconciled(wctx)
	cancel()
	if err != nil {
		h.log.Warn("loading before user reconciliation", "error", err)
	}

	ov, err := h.Refresh(ctx)
	if err != nil {
		return ov, err
	}
	if role := h.sess.CurrentRole(); role != ov.Role && role != model.RoleUnknown {
		h.log.Info("role changed during first load, reloading", "from", ov.Role, "to", role)
		return h.Refresh(ctx)
	}
	return ov, nil
}

// Logout ends the session and forgets the mirror and any selection.
func (h *Handler) Logout(ctx context.Context) error {
	h.flow.Cancel()
	h.cache.Reset()
	return h.sess.Logout(ctx)
}

// WhoAmI returns the signed-in user and role, or Unauthorized.
func (h *Handler) WhoAmI() (*model.User, model.Role, error) {
	u := h.sess.CurrentUser()
	if u == nil {
		return nil, model.RoleUnknown, apperr.New(apperr.Unauthorized, "whoami", "not logged in")
	}
	return u, h.sess.CurrentRole(), nil
}
