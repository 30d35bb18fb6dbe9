// gatewaysim is a development push gateway: a token issuer, a REST
// persistence API backed by SQLite, and a websocket relay for the
// realtime protocol. It exists so clients can be exercised end to end
// without the production marketplace backend.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/motormarket/realtime/internal/auth"
	"github.com/motormarket/realtime/internal/log"
	"github.com/motormarket/realtime/internal/store/sqlite"
)

func main() {
	var (
		addr     = flag.String("addr", ":8090", "HTTP listen address")
		dbPath   = flag.String("db", "gatewaysim.db", "SQLite database path")
		secret   = flag.String("secret", "dev-secret-not-for-production", "token signing secret")
		tokenTTL = flag.Duration("token-ttl", 24*time.Hour, "issued token lifetime")
		logLevel = flag.String("log-level", "info", "log level")
	)
	flag.Parse()

	logger := log.New(*logLevel, "console")

	db, err := sqlite.New(*dbPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("open store")
	}
	defer db.Close()

	g := &gateway{
		store: db,
		hub:   newHub(logger),
		tokenCfg: &auth.TokenConfig{
			Secret:   []byte(*secret),
			Issuer:   "gatewaysim",
			Audience: "motormarket-realtime",
			TTL:      *tokenTTL,
		},
		log: logger.With().Str("component", "gateway").Logger(),
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	g.routes(router)

	srv := &http.Server{
		Addr:              *addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
	}()

	logger.Info().Str("addr", *addr).Str("db", *dbPath).Msg("gateway simulator listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server exited")
	}
	logger.Info().Msg("gateway simulator stopped")
}
