package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/vovakirdan/pairchat/internal/api"
	"github.com/vovakirdan/pairchat/internal/auth"
	"github.com/vovakirdan/pairchat/internal/config"
	"github.com/vovakirdan/pairchat/internal/log"
	"github.com/vovakirdan/pairchat/internal/relay"
	"github.com/vovakirdan/pairchat/internal/store"
)

func newServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the history API and the live relay",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			log.Init(cfg.Log)
			if !cfg.Log.Pretty {
				gin.SetMode(gin.ReleaseMode)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, log.L())
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file")
	return cmd
}

// server is the HTTP surface: the api under /api, the relay at /ws.
type server struct {
	handler http.Handler
	hub     *relay.Hub
}

func newServer(st store.Store, cfg *config.Config, logger zerolog.Logger) *server {
	a := auth.New(cfg.Server.Token, cfg.Server.JWTSecret)
	hub := relay.NewHub(logger.With().Str("component", "relay").Logger())
	r := api.NewRouter(api.NewHandler(st, a), logger)
	r.GET("/ws", gin.WrapH(relay.NewHandler(hub, cfg.WebSocket, a, logger)))

	var h http.Handler = r
	if len(cfg.Server.CORSOrigins) > 0 {
		h = cors.New(cors.Options{
			AllowedOrigins:   cfg.Server.CORSOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID"},
			AllowCredentials: true,
		}).Handler(r)
	}
	return &server{handler: h, hub: hub}
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Backend {
	case "redis":
		return store.NewRedis(ctx, cfg.Redis)
	case "memory":
		return store.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// runServe serves until ctx ends, then drains connections.
func runServe(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	srv := newServer(st, cfg, logger)
	httpSrv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           srv.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", httpSrv.Addr).Str("store", cfg.Store.Backend).Msg("pairchat listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		// Websockets are hijacked, so Shutdown does not wait for them.
		srv.hub.Close()
		return httpSrv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
