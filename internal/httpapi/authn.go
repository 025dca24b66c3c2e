package httpapi

import (
	"errors"
	"net/http"
	"os"
	"strings"
	"time"

	"yescholars.org/internal/audit"
	"yescholars.org/internal/auth"
	"yescholars.org/internal/lifecycle"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
	tokenTTL   = 15 * time.Minute
)

var publicPaths = []string{
	"/v1/auth/token",
	"/v1/info",
	"/metrics",
	"/healthz",
	"/readyz",
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}

// withAuth validates the bearer token and stores the principal in the
// request context. Public paths pass through.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		claims, err := auth.ParseAndValidate(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		ctx := auth.ContextWithUser(r.Context(), claims.Subject, claims.Roles)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestsStaff(roles []string) bool {
	for _, r := range roles {
		if strings.EqualFold(strings.TrimSpace(r), auth.RoleStaff) {
			return true
		}
	}
	return false
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

// actorFrom builds the lifecycle actor from the authenticated context.
func actorFrom(r *http.Request) lifecycle.Actor {
	userID, _ := auth.UserIDFromContext(r.Context())
	return lifecycle.Actor{
		UserID: userID,
		Roles:  auth.RolesFromContext(r.Context()),
	}
}

type tokenRequest struct {
	User       string   `json:"user" validate:"required"`
	Roles      []string `json:"roles" validate:"required,min=1,dive,oneof=staff member"`
	Passphrase string   `json:"passphrase,omitempty"`
}

// staffPassphraseEnv holds a bcrypt hash. When set, staff tokens require the
// matching passphrase; member tokens stay self-serve.
const staffPassphraseEnv = "YES_STAFF_PASSPHRASE_HASH"

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (a *API) authToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if !a.decodeValid(w, r, &req) {
		return
	}

	if hash := os.Getenv(staffPassphraseEnv); hash != "" && requestsStaff(req.Roles) {
		if err := auth.VerifyPassphrase(hash, req.Passphrase); err != nil {
			writeError(w, http.StatusForbidden, "staff passphrase required")
			return
		}
	}

	token, err := auth.GenerateToken(req.User, req.Roles, tokenTTL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token generation failed")
		return
	}
	expiresAt := time.Now().UTC().Add(tokenTTL)
	_ = audit.LogEvent(r.Context(), "auth.token.issued", map[string]any{
		"user":       req.User,
		"roles":      req.Roles,
		"expires_at": expiresAt.Format(time.RFC3339),
	})
	writeJSON(w, http.StatusOK, tokenResponse{Token: token, ExpiresAt: expiresAt})
}
