package auth

import (
	"context"
	"fmt"
	"net/http"

	"ms-validation/internal/logger"
	"ms-validation/internal/models"
)

type contextKey string

const identityKey contextKey = "identity"

func Middleware(verifier TokenVerifier, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rawToken, err := ExtractTokenFromRequest(r)
			if err != nil {
				http.Error(w, err.Error(), http.StatusUnauthorized)
				return
			}

			id, err := verifier.Verify(r.Context(), rawToken)
			if err != nil {
				log.LogSecurity("TOKEN_REJECTED", fmt.Sprintf("%s %s: %v", r.Method, r.URL.Path, err))
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), *id)))
		})
	}
}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// UserID extracts the token subject in handlers
func UserID(ctx context.Context) string {
	if id, ok := ctx.Value(identityKey).(Identity); ok {
		return id.Subject
	}
	return ""
}

// ValidatorFrom maps the caller's identity onto the validator performing a scan.
func ValidatorFrom(ctx context.Context) models.Validator {
	id, ok := ctx.Value(identityKey).(Identity)
	if !ok {
		return models.Validator{}
	}
	if id.ManagerID != "" {
		return models.Validator{ManagerID: id.ManagerID}
	}
	return models.Validator{UserID: id.Subject}
}
