package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"schedule-client/internal/model"
)

var (
	ErrBadToken = errors.New("invalid token")
	ErrNoExpiry = errors.New("token has no exp claim")
)

const (
	adminGroup = "admin"
	accessTTL  = 15 * time.Minute
)

// Claims mirrors the identity provider's access token payload.
type Claims struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	IsStaff  *bool  `json:"is_staff,omitempty"`
	jwt.RegisteredClaims
}

// Decode reads the claims without verifying the signature; verification is
// the server's job. Used for display and renewal timing only.
func Decode(raw string) (*Claims, error) {
	c := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, c); err != nil {
		return nil, errors.Join(ErrBadToken, err)
	}
	return c, nil
}

// Expiry returns the exp claim of raw.
func Expiry(raw string) (time.Time, error) {
	c, err := Decode(raw)
	if err != nil {
		return time.Time{}, err
	}
	if c.ExpiresAt == nil {
		return time.Time{}, ErrNoExpiry
	}
	return c.ExpiresAt.Time, nil
}

// ProvisionalUser builds the user known from the token alone.
func (c *Claims) ProvisionalUser() *model.User {
	u := &model.User{
		ID:       c.UserID,
		Username: c.Username,
		Email:    c.Email,
	}
	if c.IsStaff != nil {
		u.IsStaff = *c.IsStaff
	}
	return u
}

// RoleOf derives the role from user attributes. A nil user is unknown.
func RoleOf(u *model.User) model.Role {
	if u == nil {
		return model.RoleUnknown
	}
	if u.IsStaff || u.IsSuperuser || u.IsAdmin || slices.Contains(u.Groups, adminGroup) {
		return model.RoleAdmin
	}
	return model.RolePatient
}

func HashPassword(pw string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	return string(b), err
}

func CheckPassword(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

// MakeToken signs an access token for u. ttl <= 0 uses the 15 min default.
func MakeToken(u model.User, secret string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = accessTTL
	}
	staff := u.IsStaff
	now := time.Now()
	c := Claims{
		UserID:   u.ID,
		Username: u.Username,
		Email:    u.Email,
		IsStaff:  &staff,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte(secret))
}

func ParseToken(raw, secret string) (*Claims, error) {
	tok, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (any, error) {
		// block alg confusion
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrBadToken
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	c, ok := tok.Claims.(*Claims)
	if !ok || !tok.Valid {
		return nil, ErrBadToken
	}
	return c, nil
}

func GenerateRefreshToken() (raw string, hash string, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", err
	}
	raw = hex.EncodeToString(b)
	return raw, HashRefreshToken(raw), nil
}

func HashRefreshToken(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}
