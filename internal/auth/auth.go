// Package auth issues and validates the HS256 bearer tokens the API runs on.
// Platform roles live in the token; party-level checks (applicant, mentor,
// mentee, supervisor) are evaluated against entity fields, not roles.
package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	issuer            = "yescholars"
	secretEnvVariable = "YES_AUTH_SECRET"

	// Leeway tolerated when checking exp/iat against the local clock.
	clockSkew = 5 * time.Second
)

const (
	RoleStaff  = "staff"
	RoleMember = "member"
)

var (
	errMissingSecret = errors.New("auth secret is not configured")

	// ErrInvalidToken indicates the token failed signature or claim checks.
	ErrInvalidToken = errors.New("invalid token")
)

var (
	keyMu     sync.Mutex
	keyLoaded bool
	key       []byte
)

// signingKey reads YES_AUTH_SECRET once and caches it for the process.
func signingKey() ([]byte, error) {
	keyMu.Lock()
	defer keyMu.Unlock()
	if !keyLoaded {
		if raw := strings.TrimSpace(os.Getenv(secretEnvVariable)); raw != "" {
			key = []byte(raw)
		}
		keyLoaded = true
	}
	if len(key) == 0 {
		return nil, errMissingSecret
	}
	return key, nil
}

// ResetSecretForTests drops the cached signing key so tests can swap secrets.
func ResetSecretForTests() {
	keyMu.Lock()
	defer keyMu.Unlock()
	keyLoaded = false
	key = nil
}

// Claims is the token payload: platform roles plus the registered set.
type Claims struct {
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// GenerateToken signs an HS256 token for the user with the given lifetime.
func GenerateToken(userID string, roles []string, ttl time.Duration) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", errors.New("userID is required")
	}
	if ttl <= 0 {
		return "", errors.New("ttl must be greater than zero")
	}
	k, err := signingKey()
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	claims := Claims{
		Roles: normalizeRoles(roles),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(k)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ParseAndValidate checks the signature, issuer, lifetime and subject.
// Every failure collapses to ErrInvalidToken so callers leak nothing.
func ParseAndValidate(raw string) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrInvalidToken
	}
	k, err := signingKey()
	if err != nil {
		return nil, err
	}

	parsed, err := jwt.ParseWithClaims(raw, &Claims{},
		func(*jwt.Token) (any, error) { return k, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(clockSkew),
	)
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}
	claims.Roles = normalizeRoles(claims.Roles)
	return claims, nil
}

// normalizeRoles lower-cases, trims and deduplicates, preserving order.
func normalizeRoles(roles []string) []string {
	seen := make(map[string]struct{}, len(roles))
	var out []string
	for _, r := range roles {
		r = strings.TrimSpace(strings.ToLower(r))
		if r == "" {
			continue
		}
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}

// principal is the authenticated identity carried through a request context.
type principal struct {
	userID string
	roles  []string
}

type principalKey struct{}

// ContextWithUser attaches the authenticated identity to the context.
func ContextWithUser(ctx context.Context, userID string, roles []string) context.Context {
	return context.WithValue(ctx, principalKey{}, principal{
		userID: strings.TrimSpace(userID),
		roles:  normalizeRoles(roles),
	})
}

// UserIDFromContext returns the authenticated user id, if any.
func UserIDFromContext(ctx context.Context) (string, bool) {
	p, ok := ctx.Value(principalKey{}).(principal)
	if !ok || p.userID == "" {
		return "", false
	}
	return p.userID, true
}

// RolesFromContext returns a copy of the normalized roles in the context.
func RolesFromContext(ctx context.Context) []string {
	p, ok := ctx.Value(principalKey{}).(principal)
	if !ok || len(p.roles) == 0 {
		return nil
	}
	out := make([]string, len(p.roles))
	copy(out, p.roles)
	return out
}

// HasRole reports whether the context carries the given platform role.
func HasRole(ctx context.Context, role string) bool {
	role = strings.TrimSpace(strings.ToLower(role))
	if role == "" {
		return false
	}
	for _, r := range RolesFromContext(ctx) {
		if r == role {
			return true
		}
	}
	return false
}
