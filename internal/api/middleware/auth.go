package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/good-yellow-bee/carealert/internal/api/auth"
	"github.com/good-yellow-bee/carealert/internal/logging"
	"github.com/good-yellow-bee/carealert/internal/metrics"
)

type contextKey string

const claimsKey contextKey = "claims"

func jsonUnauthorized(w http.ResponseWriter) {
	writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or expired token")
}

func jsonForbidden(w http.ResponseWriter) {
	writeError(w, http.StatusForbidden, "FORBIDDEN", "access denied")
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}

// bearerToken extracts the token from the Authorization header, or from the
// access_token query parameter for WebSocket clients that cannot set headers.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return parts[1]
		}
		return ""
	}
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return r.URL.Query().Get("access_token")
	}
	return ""
}

// JWTAuth returns middleware that validates operator tokens.
func JWTAuth(verifier *auth.Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				metrics.AuthAttemptsTotal.WithLabelValues("failure").Inc()
				jsonUnauthorized(w)
				return
			}

			claims, err := verifier.ValidateToken(token)
			if err != nil {
				metrics.AuthAttemptsTotal.WithLabelValues("failure").Inc()
				logging.From(r.Context()).Warn("token rejected",
					"remote", getClientIP(r), logging.ErrAttr(err))
				jsonUnauthorized(w)
				return
			}
			metrics.AuthAttemptsTotal.WithLabelValues("success").Inc()

			ctx := context.WithValue(r.Context(), claimsKey, claims)
			ctx = logging.With(ctx, logging.From(ctx).With("operator", claims.Subject))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole returns middleware that requires the caller's role to satisfy
// required. Without authentication configured every request passes.
func RequireRole(required auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := GetClaims(r.Context())
			if claims != nil && !claims.Role.Allows(required) {
				jsonForbidden(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetClaims returns the token claims from context, nil when unauthenticated.
func GetClaims(ctx context.Context) *auth.Claims {
	if v := ctx.Value(claimsKey); v != nil {
		if c, ok := v.(*auth.Claims); ok {
			return c
		}
	}
	return nil
}

// GetSubject returns the operator id from context.
func GetSubject(ctx context.Context) string {
	if c := GetClaims(ctx); c != nil {
		return c.Subject
	}
	return ""
}
