package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/jwtauth/v5"
)

type subjectKey string

const subjectCtxKey subjectKey = "subject"

// NewTokenAuth returns an HS256 verifier, or nil when secret is empty.
func NewTokenAuth(secret string) *jwtauth.JWTAuth {
	if strings.TrimSpace(secret) == "" {
		return nil
	}
	return jwtauth.New("HS256", []byte(secret), nil)
}

// Authenticator rejects requests whose token failed jwtauth.Verifier and
// stores the token subject in the request context.
func Authenticator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, claims, err := jwtauth.FromContext(r.Context())
		if err != nil || token == nil {
			unauthorized(w, "invalid or missing bearer token")
			return
		}
		sub, _ := claims["sub"].(string)
		if strings.TrimSpace(sub) == "" {
			unauthorized(w, "token subject required")
			return
		}
		ctx := context.WithValue(r.Context(), subjectCtxKey, sub)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SubjectFromContext returns the authenticated token subject, if any.
func SubjectFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(subjectCtxKey).(string); ok {
		return v
	}
	return ""
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized", "message": message})
}
