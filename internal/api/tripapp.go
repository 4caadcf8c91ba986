package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/teris-io/shortid"
	"github.com/tripwish/triproom/internal/config"
	"github.com/tripwish/triproom/internal/database"
	"github.com/tripwish/triproom/internal/server"
)

type TripApp struct {
	log            *log.Logger
	db             database.TripRepository
	mux            *http.Server
	ss             *server.SyncServer
	signingKey     []byte
	allowedOrigins []string
}

func NewTripApp(mux *http.ServeMux, logger *log.Logger, ss *server.SyncServer, db database.TripRepository, cfg *config.Config) *TripApp {
	s := &TripApp{
		log:            logger,
		db:             db,
		ss:             ss,
		signingKey:     cfg.SigningKey,
		allowedOrigins: cfg.AllowedOrigins,
	}

	mux.HandleFunc("POST /api/auth/register", s.createAccount)
	mux.HandleFunc("POST /api/auth/login", s.login)
	mux.HandleFunc("GET /api/auth/session", s.authMiddleware(s.session))
	mux.Handle("GET /api/auth/logout", s.authMiddleware(s.logout))
	mux.Handle("GET /api/account", s.authMiddleware(s.account))
	mux.Handle("POST /api/rooms", s.authMiddleware(s.createRoom))
	mux.Handle("GET /api/rooms", s.authMiddleware(s.getRoom))
	mux.Handle("DELETE /api/rooms", s.authMiddleware(s.deleteRoom))
	mux.Handle("POST /api/rooms/{roomId}/members", s.authMiddleware(s.joinRoom))
	mux.Handle("DELETE /api/rooms/{roomId}/members", s.authMiddleware(s.leaveRoom))
	mux.Handle("GET /api/memberships", s.authMiddleware(s.getMemberships))
	mux.Handle("GET /api/rooms/{roomId}/wants", s.authMiddleware(s.getWants))
	mux.Handle("POST /api/rooms/{roomId}/votes/{wantId}", s.authMiddleware(s.toggleVote))
	mux.Handle("GET /api/rooms/{roomId}/schedule", s.authMiddleware(s.getSchedule))
	mux.Handle("GET /ws", s.authMiddleware(s.serveWs))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	s.mux = srv
	return s
}

func (s *TripApp) generateShortId() (string, error) {
	return shortid.Generate()
}

func (s *TripApp) Start() error {
	s.log.Printf("starting server on %s\n", s.mux.Addr)
	return s.mux.ListenAndServe()
}

func (s *TripApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
