package fakeapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"schedule-client/internal/auth"
)

type ctxKey string

const userKey ctxKey = "user"

func userFrom(ctx context.Context) *user {
	u, _ := ctx.Value(userKey).(*user)
	return u
}

// authenticate requires a valid, unrevoked bearer token.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// token from Authorization: Bearer <jwt>
		raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if raw == "" {
			writeDetail(w, http.StatusUnauthorized, "Authentication credentials were not provided.")
			return
		}

		claims, err := auth.ParseToken(raw, s.secret)
		if err != nil {
			writeDetail(w, http.StatusUnauthorized, "Given token not valid for any token type")
			return
		}

		s.mu.Lock()
		u := s.users[claims.Username]
		revoked := s.revoked[raw]
		s.mu.Unlock()
		if u == nil || revoked {
			writeDetail(w, http.StatusUnauthorized, "Given token not valid for any token type")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, u)))
	})
}

func (s *Server) token(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "JSON parse error")
		return
	}
	if req.Username == "" || req.Password == "" {
		field := "username"
		if req.Username != "" {
			field = "password"
		}
		writeJSON(w, http.StatusBadRequest, map[string][]string{field: {"This field may not be blank."}})
		return
	}

	s.mu.Lock()
	u := s.users[req.Username]
	s.mu.Unlock()
	// same answer for unknown user and wrong password
	if u == nil || !auth.CheckPassword(u.hash, req.Password) {
		writeDetail(w, http.StatusUnauthorized, "No active account found with the given credentials")
		return
	}

	access, err := s.issue(u)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, "internal error")
		return
	}
	raw, hash, err := auth.GenerateRefreshToken()
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.mu.Lock()
	s.refresh[hash] = u.Username
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"access": access, "refresh": raw})
}

func (s *Server) refreshToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Refresh string `json:"refresh"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Refresh == "" {
		writeJSON(w, http.StatusBadRequest, map[string][]string{"refresh": {"This field may not be blank."}})
		return
	}

	s.mu.Lock()
	name, ok := s.refresh[auth.HashRefreshToken(req.Refresh)]
	u := s.users[name]
	s.mu.Unlock()
	if !ok || u == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"detail": "Token is invalid or expired",
			"code":   "token_not_valid",
		})
		return
	}

	access, err := s.issue(u)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"access": access})
}

func (s *Server) issue(u *user) (string, error) {
	tok, err := auth.MakeToken(u.model(), s.secret, s.ttl)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.issued = append(s.issued, tok)
	s.mu.Unlock()
	return tok, nil
}

func (s *Server) currentUser(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r.Context())
	writeJSON(w, http.StatusOK, u.model())
}
