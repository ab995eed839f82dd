package api

import (
	"context"
	"net/http"

	"github.com/go-chi/jwtauth"

	"github.com/tendant/knowledge-content/pkg/kbcontent"
)

type contextKey string

const principalKey contextKey = "kb:principal"

// Claim names read from verified tokens
const (
	ClaimUserID  = "user_id"
	ClaimSubject = "sub"
	ClaimRole    = "role"
)

// NewTokenAuth returns an HS256 verifier for secret.
func NewTokenAuth(secret string) *jwtauth.JWTAuth {
	return jwtauth.New("HS256", []byte(secret), nil)
}

// Authenticator turns the token stored by jwtauth.Verifier into a Principal.
// Requests without a valid token get 401.
func Authenticator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, claims, err := jwtauth.FromContext(r.Context())
		if err != nil || token == nil {
			writeMessage(w, r, http.StatusUnauthorized, "authentication required")
			return
		}

		principal, ok := principalFromClaims(claims)
		if !ok {
			writeMessage(w, r, http.StatusUnauthorized, "token has no user identity")
			return
		}

		ctx := WithPrincipal(r.Context(), principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func principalFromClaims(claims map[string]interface{}) (kbcontent.Principal, bool) {
	id, _ := claims[ClaimUserID].(string)
	if id == "" {
		id, _ = claims[ClaimSubject].(string)
	}
	if id == "" {
		return kbcontent.Principal{}, false
	}
	role, _ := claims[ClaimRole].(string)
	return kbcontent.Principal{ID: id, Role: role}, true
}

// WithPrincipal stores p in ctx
func WithPrincipal(ctx context.Context, p kbcontent.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext returns the caller attached by Authenticator
func PrincipalFromContext(ctx context.Context) (kbcontent.Principal, bool) {
	p, ok := ctx.Value(principalKey).(kbcontent.Principal)
	return p, ok
}
