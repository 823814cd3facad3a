package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/wattlog/wattlog/pkg/log"
)

// emailVerifier validates a Google-signed ID token and returns its email.
type emailVerifier func(ctx context.Context, rawIDToken string) (string, error)

// googleEmailVerifier verifies tokens minted by Google for audience, which is
// what Cloud Scheduler sends with an OIDC auth header.
func googleEmailVerifier(ctx context.Context, audience string) (emailVerifier, error) {
	provider, err := oidc.NewProvider(ctx, "https://accounts.google.com")
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Google OIDC provider: %w", err)
	}
	verifier := provider.Verifier(&oidc.Config{ClientID: audience})
	return func(ctx context.Context, rawIDToken string) (string, error) {
		idToken, err := verifier.Verify(ctx, rawIDToken)
		if err != nil {
			return "", err
		}
		var claims struct {
			Email         string `json:"email"`
			EmailVerified bool   `json:"email_verified"`
		}
		if err := idToken.Claims(&claims); err != nil {
			return "", fmt.Errorf("failed to parse claims: %w", err)
		}
		if !claims.EmailVerified {
			return "", errors.New("email is not verified")
		}
		return claims.Email, nil
	}, nil
}

// handleUpdate runs one rollover pass over every user. It is meant to be hit
// by a scheduler when the in-process ticker cannot be relied on, like on Cloud
// Run where idle instances get no CPU.
func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ctx = log.WithAttrs(ctx, slog.String("reqPath", r.URL.Path))

	if s.updateVerifier == nil || s.updateEmail == "" {
		writeJSONError(w, "not found", http.StatusNotFound)
		return
	}

	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		writeJSONError(w, "missing authorization header", http.StatusUnauthorized)
		return
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		writeJSONError(w, "invalid authorization header", http.StatusBadRequest)
		return
	}

	email, err := s.updateVerifier(ctx, parts[1])
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "update token validation failed", slog.Any("error", err))
		writeJSONError(w, "invalid id token", http.StatusUnauthorized)
		return
	}
	if subtle.ConstantTimeCompare([]byte(email), []byte(s.updateEmail)) != 1 {
		log.Ctx(ctx).WarnContext(ctx, "update email mismatch", slog.String("got", email), slog.String("want", s.updateEmail))
		writeJSONError(w, "unauthorized email", http.StatusForbidden)
		return
	}
	log.Ctx(ctx).DebugContext(ctx, "update: authorized", slog.String("email", email))

	s.rollover.RunOnce(ctx)

	log.Ctx(ctx).DebugContext(ctx, "update: rollover pass finished")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
