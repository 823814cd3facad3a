package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/wattlog/wattlog/pkg/log"
)

const bypassUserHeader = "X-User-ID"

// authMiddleware resolves the calling user and stores the id in the context.
// With bypass-auth the X-User-ID header is trusted, otherwise a Firebase ID
// token is required in the Authorization header.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ctx = log.WithAttrs(ctx, slog.String("reqPath", r.URL.Path))

		var userID string
		if s.bypassAuth {
			userID = strings.TrimSpace(r.Header.Get(bypassUserHeader))
			if userID == "" {
				log.Ctx(ctx).WarnContext(ctx, "missing user header with bypassed auth")
				writeJSONError(w, "missing "+bypassUserHeader+" header", http.StatusUnauthorized)
				return
			}
		} else {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				log.Ctx(ctx).WarnContext(ctx, "unauthenticated request")
				writeJSONError(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				log.Ctx(ctx).WarnContext(ctx, "invalid auth header")
				writeJSONError(w, "invalid auth header", http.StatusBadRequest)
				return
			}
			var err error
			userID, err = s.authenticateToken(ctx, parts[1])
			if err != nil {
				log.Ctx(ctx).WarnContext(ctx, "auth token validation failed", slog.Any("error", err))
				writeJSONError(w, "invalid auth token", http.StatusUnauthorized)
				return
			}
		}

		ctx = log.WithUser(ctx, userID)
		log.Ctx(ctx).DebugContext(ctx, "authenticated request")

		ctx = context.WithValue(ctx, userIDContextKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// authenticateToken verifies token and returns its subject, the Firebase uid.
func (s *Server) authenticateToken(ctx context.Context, token string) (string, error) {
	if s.verifier == nil {
		return "", errors.New("no token verifier configured")
	}
	idToken, err := s.verifier(ctx, token)
	if err != nil {
		return "", fmt.Errorf("failed to verify id token: %w", err)
	}
	if idToken.Subject == "" {
		return "", errors.New("id token has no subject")
	}
	return idToken.Subject, nil
}
