package api

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cadence/internal/config"
	"cadence/internal/infra"
	"cadence/internal/infra/redisq"
	"cadence/internal/usecase"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// NewServer wires the admin API against the configured store and queue.
func NewServer() *Server {
	ctx := log.Logger.WithContext(context.Background())
	cfg := config.Load()

	cli := redisq.New(cfg.Redis)
	if err := cli.Init(ctx); err != nil {
		log.Ctx(ctx).Fatal().Err(err).Str("addr", cfg.Redis.Addr).Msg("failed to initialise redis queue")
	}

	store, closer, err := infra.OpenStore(ctx, cfg)
	if err != nil {
		log.Ctx(ctx).Fatal().Err(err).Msg("failed to open schedule store")
	}

	locks := usecase.NewLocker()
	h := &Handler{
		Admin: &usecase.Admin{Store: store, Q: cli, Locks: locks},
		Sync:  &usecase.Synchronizer{Store: store, Q: cli, Locks: locks},
		Q:     cli,
	}

	return &Server{
		router:     h.Routes(),
		corsOrigin: cfg.API.CORSOrigin,
		closers:    []func() error{closer.Close, cli.Close},
	}
}

type Server struct {
	router     *chi.Mux
	corsOrigin string
	closers    []func() error
}

// Run method of the Server struct runs the HTTP server on the specified port. It initializes
// a new HTTP server instance with the specified port and the server's router.
func (s *Server) Run(port int) {
	addr := fmt.Sprintf(":%d", port)

	h := chainMiddleware(
		s.router,
		recoverHandler,
		requestIDHandler,
		realIPHandler,
		loggerHandler(func(w http.ResponseWriter, r *http.Request) bool { return r.URL.Path == "/" }),
		corsHandler(s.corsOrigin),
	)

	httpServer := http.Server{
		Addr:         addr,
		Handler:      h,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	done := make(chan bool)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info().Msg("Server is shutting down...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(ctx); err != nil {
			log.Fatal().Err(err).Msg("Server forced to shutdown")
		}

		close(done)
	}()

	log.Info().Msgf("server serving on port %d", port)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("Failed to listen and serve")
	}

	<-done
	for _, c := range s.closers {
		if err := c(); err != nil {
			log.Warn().Err(err).Msg("failed to close resource")
		}
	}
	log.Info().Msg("Server stopped")
}
