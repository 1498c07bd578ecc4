package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	id "bharosa/pkg/domain"
	"bharosa/pkg/requestcontext"
)

// TokenValidator defines the interface for validating member session tokens.
type TokenValidator interface {
	ValidateToken(tokenString string) (*Claims, error)
}

// Claims represents the claims we expect from the token validator.
type Claims struct {
	MemberID string
}

type contextKey string

const memberIDKey contextKey = "member_id"

// WithMemberID returns a context carrying the authenticated member ID.
func WithMemberID(ctx context.Context, memberID id.MemberID) context.Context {
	return context.WithValue(ctx, memberIDKey, memberID)
}

// GetMemberID returns the authenticated member ID from context, or the nil ID.
func GetMemberID(ctx context.Context) id.MemberID {
	if v, ok := ctx.Value(memberIDKey).(id.MemberID); ok {
		return v
	}
	return id.MemberID{}
}

// writeJSONError writes a JSON error response with the given status code and error details.
func writeJSONError(w http.ResponseWriter, status int, errCode, errDesc string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(fmt.Appendf(nil, `{"error":"%s","error_description":"%s"}`, errCode, errDesc))
}

// RequireMember returns middleware that validates a Bearer session token and
// places the member ID in the request context. Requests without a valid token
// are rejected with 401 before reaching any handler.
func RequireMember(validator TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", requestcontext.RequestID(ctx),
				)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "invalid or expired token")
				return
			}

			memberID, err := id.ParseMemberID(claims.MemberID)
			if err != nil || memberID.IsNil() {
				logger.WarnContext(ctx, "unauthorized access - malformed member claim",
					"request_id", requestcontext.RequestID(ctx),
				)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "invalid token claims")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithMemberID(ctx, memberID)))
		})
	}
}

// RequireSystemToken returns middleware guarding system-facing routes
// (scheduler, payment webhook, notary) with a shared token header.
func RequireSystemToken(token string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" || r.Header.Get("X-System-Token") != token {
				logger.WarnContext(r.Context(), "unauthorized system call",
					"path", r.URL.Path,
					"request_id", requestcontext.RequestID(r.Context()),
				)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "invalid system token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
