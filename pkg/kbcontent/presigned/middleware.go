package presigned

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
)

type contextKey string

// ObjectKeyContextKey is the context key for storing the validated object key
const ObjectKeyContextKey contextKey = "presigned:object_key"

// ValidateMiddleware returns middleware that rejects requests without a valid,
// unexpired signature and stores the object key in the request context.
func ValidateMiddleware(signer *Signer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := signer.ValidateRequest(r); err != nil {
				handleValidationError(w, err)
				return
			}

			objectKey, err := signer.ExtractObjectKey(r.URL.Path)
			if err != nil {
				http.Error(w, "Invalid object URL", http.StatusBadRequest)
				return
			}

			ctx := context.WithValue(r.Context(), ObjectKeyContextKey, objectKey)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ObjectKeyFromContext extracts the validated object key from the request context
func ObjectKeyFromContext(ctx context.Context) string {
	if key, ok := ctx.Value(ObjectKeyContextKey).(string); ok {
		return key
	}
	return ""
}

func handleValidationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidExpiration):
		http.Error(w, "Invalid expires parameter", http.StatusBadRequest)
	case errors.Is(err, ErrExpired):
		http.Error(w, "Signed URL has expired", http.StatusForbidden)
	case IsAuthError(err):
		http.Error(w, "Invalid signature", http.StatusForbidden)
	default:
		slog.Error("Presigned: validation error", "err", err)
		http.Error(w, "Forbidden", http.StatusForbidden)
	}
}
