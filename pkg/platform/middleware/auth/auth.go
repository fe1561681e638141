// Package auth verifies caller identity tokens minted by the enclosing
// access-control layer. The core does not mint tokens; it only checks the
// bearer token's signature and role claims before admitting a request.
package auth

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	dErrors "ballotcore/pkg/domain-errors"
	"ballotcore/pkg/platform/httputil"
	"ballotcore/pkg/requestcontext"
)

// Claims are the claims the core consumes from a caller token.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Verifier validates bearer tokens against a shared HMAC key.
type Verifier struct {
	key    []byte
	logger *slog.Logger
}

// NewVerifier constructs a Verifier over the shared verification key.
func NewVerifier(key []byte, logger *slog.Logger) *Verifier {
	return &Verifier{key: key, logger: logger}
}

// Validate parses and verifies a bearer token, returning its claims.
func (v *Verifier) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.key, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.Subject == "" {
		return nil, fmt.Errorf("token missing subject claim")
	}
	return claims, nil
}

// RequireAuth admits only requests carrying a valid bearer token and stores
// the caller's identity in the request context.
func (v *Verifier) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		const bearerPrefix = "Bearer "
		authHeader := r.Header.Get("Authorization")
		raw, ok := strings.CutPrefix(authHeader, bearerPrefix)
		if !ok {
			v.logger.WarnContext(r.Context(), "unauthorized access - missing bearer token",
				"request_id", requestcontext.RequestID(r.Context()))
			httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "missing bearer token"))
			return
		}

		claims, err := v.Validate(raw)
		if err != nil {
			v.logger.WarnContext(r.Context(), "unauthorized access - invalid token",
				"error", err,
				"request_id", requestcontext.RequestID(r.Context()))
			httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "invalid or expired token"))
			return
		}

		ctx := requestcontext.WithActor(r.Context(), claims.Subject, claims.Role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole admits only callers whose token carries the given role.
// It must run after RequireAuth.
func RequireRole(role string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if got := requestcontext.ActorRole(r.Context()); got != role {
				logger.WarnContext(r.Context(), "forbidden - insufficient role",
					"required_role", role,
					"actor_role", got,
					"actor_id", requestcontext.ActorID(r.Context()))
				httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "insufficient role"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
