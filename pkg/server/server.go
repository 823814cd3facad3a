package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/levenlabs/go-lflag"
	"github.com/wattlog/wattlog/pkg/aggregate"
	"github.com/wattlog/wattlog/pkg/config"
	"github.com/wattlog/wattlog/pkg/goals"
	"github.com/wattlog/wattlog/pkg/log"
	"github.com/wattlog/wattlog/pkg/metrics"
	"github.com/wattlog/wattlog/pkg/monitor"
	"github.com/wattlog/wattlog/pkg/notify"
	"github.com/wattlog/wattlog/pkg/registry"
	"github.com/wattlog/wattlog/pkg/rollover"
	"github.com/wattlog/wattlog/pkg/storage"
)

// maxBodyBytes limits request bodies to 1MB.
const maxBodyBytes = 1 << 20

type contextKey string

const userIDContextKey contextKey = "userID"

// tokenVerifier validates a Firebase ID token.
type tokenVerifier func(ctx context.Context, rawIDToken string) (*oidc.IDToken, error)

// Server is the HTTP API used by the apps. Every request acts on the data of
// the authenticated user only.
type Server struct {
	db       storage.Database
	cfg      *config.Config
	agg      *aggregate.Aggregator
	registry *registry.Registry
	tracker  *goals.Tracker
	monitor  *monitor.Monitor
	rollover *rollover.Controller

	listenAddr string
	httpServer *http.Server

	verifier   tokenVerifier
	bypassAuth bool
	serverName string

	updateVerifier emailVerifier
	updateEmail    string
}

// Configured initializes the Server with dependencies.
// It uses lflag to register command-line flags for configuration.
func Configured(db storage.Database, cfg *config.Config, notifier notify.Notifier, tracker *goals.Tracker, ctrl *rollover.Controller) *Server {
	srv := &Server{
		db:         db,
		cfg:        cfg,
		tracker:    tracker,
		rollover:   ctrl,
		serverName: "wattlog",
	}
	revision := os.Getenv("K_REVISION")
	if revision != "" {
		srv.serverName = revision
	}

	// get the port from PORT when running in cloud run
	port := os.Getenv("PORT")
	if port == "" {
		// otherwise default to 8080
		port = "8080"
	}

	listenAddr := lflag.String("http-listen", ":"+port, "HTTP server listen address")
	bypassAuth := lflag.Bool("bypass-auth", false, "Trust the X-User-ID header instead of verifying ID tokens (development only)")
	firebaseProjectID := lflag.String("firebase-project-id", "", "Firebase project whose ID tokens are accepted")
	updateEmail := lflag.String("update-specific-email", "", "Service account email allowed to call /update")
	updateAudience := lflag.String("update-specific-audience", "", "Audience of the Google ID tokens sent to /update, empty disables it")

	lflag.Do(func() {
		srv.listenAddr = *listenAddr
		srv.bypassAuth = *bypassAuth

		srv.agg = aggregate.New(cfg.Rates(), aggregate.WithLocation(cfg.Location))
		srv.registry = registry.New(db, registry.WithLocation(cfg.Location), registry.WithCatchUp(ctrl.CatchUp))
		srv.monitor = monitor.New(db, cfg, srv.agg, tracker, notifier)
		ctrl.SetAfterUser(srv.monitor.AfterRollover)

		if *updateAudience != "" {
			if *updateEmail == "" {
				log.Ctx(context.Background()).Error("update-specific-email is required with update-specific-audience")
				os.Exit(1)
			}
			v, err := googleEmailVerifier(context.Background(), *updateAudience)
			if err != nil {
				log.Ctx(context.Background()).Error("failed to set up update verifier", slog.Any("error", err))
				os.Exit(1)
			}
			srv.updateVerifier = v
			srv.updateEmail = *updateEmail
		}

		if srv.bypassAuth {
			log.Ctx(context.Background()).Warn("authentication is bypassed, X-User-ID is trusted")
			return
		}
		if *firebaseProjectID == "" {
			log.Ctx(context.Background()).Error("firebase-project-id is required unless bypass-auth is set")
			os.Exit(1)
		}
		provider, err := oidc.NewProvider(context.Background(), "https://securetoken.google.com/"+*firebaseProjectID)
		if err != nil {
			log.Ctx(context.Background()).Error("failed to initialize Firebase OIDC provider", slog.Any("error", err))
			os.Exit(1)
		}
		srv.verifier = provider.Verifier(&oidc.Config{ClientID: *firebaseProjectID}).Verify
	})

	return srv
}

func (s *Server) setupHandler() http.Handler {
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("GET /api/stats", s.handleStats)
	apiMux.HandleFunc("GET /api/stats/export", s.handleExport)
	apiMux.HandleFunc("GET /api/devices", s.handleListDevices)
	apiMux.HandleFunc("POST /api/devices", s.handleAddDevice)
	apiMux.HandleFunc("PUT /api/devices/{id}", s.handleEditDevice)
	apiMux.HandleFunc("DELETE /api/devices/{id}", s.handleDeleteDevice)
	apiMux.HandleFunc("GET /api/archive", s.handleArchive)
	apiMux.HandleFunc("GET /api/goals", s.handleListGoals)
	apiMux.HandleFunc("GET /api/goals/archive", s.handleListArchivedGoals)
	apiMux.HandleFunc("POST /api/goals", s.handleCreateGoal)
	apiMux.HandleFunc("DELETE /api/goals/{id}", s.handleDeleteGoal)
	apiMux.HandleFunc("GET /api/settings", s.handleGetSettings)
	apiMux.HandleFunc("POST /api/settings", s.handleUpdateSettings)
	apiMux.HandleFunc("POST /api/rollover", s.handleRollover)

	mux := http.NewServeMux()
	mux.Handle("/api/", s.authMiddleware(apiMux))
	mux.HandleFunc("POST /update", s.handleUpdate)
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.Handle("/metrics", metrics.Handler())
	return s.revisionMiddleware(gziphandler.GzipHandler(s.securityHeadersMiddleware(mux)))
}

func (s *Server) getUserID(r *http.Request) string {
	if userID, ok := r.Context().Value(userIDContextKey).(string); ok && userID != "" {
		return userID
	}
	// we want to have a stack trace when this happens
	panic("no userID in context")
}

// Run starts the HTTP server and blocks until the context is canceled or an error occurs.
// It also handles graceful shutdown when the context is done.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.listenAddr,
		Handler:      s.setupHandler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	// use a channel to capturing server errors
	errChan := make(chan error, 1)
	go func() {
		defer close(errChan)
		log.Ctx(ctx).InfoContext(ctx, "starting server", slog.String("addr", s.listenAddr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Ctx(ctx).InfoContext(ctx, "shutting down server")
		s.monitor.StopAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func writeJSONError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{Error: msg}); err != nil {
		slog.Warn("failed to write error response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

// decodeBody decodes a size limited JSON body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(v)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) revisionMiddleware(next http.Handler) http.Handler {
	if s.serverName == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", s.serverName)
		next.ServeHTTP(w, r)
	})
}
