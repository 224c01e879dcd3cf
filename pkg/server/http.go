package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/Depado/ginprom"
	"github.com/deskhub/app/api/routes"
	"github.com/deskhub/pkg/broadcast"
	"github.com/deskhub/pkg/config"
	"github.com/deskhub/pkg/database"
	"github.com/deskhub/pkg/domains/ingest"
	"github.com/deskhub/pkg/domains/session"
	"github.com/deskhub/pkg/logging"
	"github.com/deskhub/pkg/middleware"
	"github.com/deskhub/pkg/protocol/wa"
	"github.com/deskhub/pkg/storage"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

const shutdownTimeout = 10 * time.Second

// LaunchHttpServer wires the session supervisor behind the HTTP API and
// serves until ctx is cancelled, then drains requests and closes every
// session.
func LaunchHttpServer(ctx context.Context, cfg *config.Config, log *logging.Logger) error {
	httpLog := log.Sub("http")
	httpLog.Info().Msg("Starting HTTP Server...")
	gin.SetMode(gin.ReleaseMode)

	app := gin.New()
	app.Use(gin.LoggerWithFormatter(func(log gin.LogFormatterParams) string {
		return fmt.Sprintf("[%s] - %s \"%s %s %s %d %s\"\n",
			log.TimeStamp.Format("2006-01-02 15:04:05"),
			log.ClientIP,
			log.Method,
			log.Path,
			log.Request.Proto,
			log.StatusCode,
			log.Latency,
		)
	}))
	app.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	app.Use(gin.Recovery())
	app.Use(otelgin.Middleware(cfg.App.Name))
	app.Use(middleware.ClaimIp())
	app.Use(cors.New(corsConfig(cfg.Allows)))

	p := ginprom.New(
		ginprom.Engine(app),
		ginprom.Subsystem("gin"),
		ginprom.Path("/metrics"),
		ginprom.Ignore("/docs/*any"),
	)
	app.Use(p.Instrument())

	gateway, closeGateway := newGateway(cfg.Broker, log)
	defer closeGateway()

	attachments, err := storage.NewFileStore(cfg.Media.Dir, cfg.Media.BaseURL, log)
	if err != nil {
		return fmt.Errorf("media store: %w", err)
	}
	if cfg.Media.BaseURL != "" {
		app.Static(cfg.Media.BaseURL, cfg.Media.Dir)
	}

	auth, err := wa.NewAuthStore(cfg.Session.AuthDir, log)
	if err != nil {
		return fmt.Errorf("auth store: %w", err)
	}

	db := database.DBClient()
	pipeline := ingest.NewPipeline(ingest.NewRepo(db), gateway.fanout, attachments, log)
	manager := session.NewManager(
		session.NewRepo(db),
		auth,
		wa.NewDialer(log),
		pipeline,
		gateway.fanout,
		cfg.Session,
		log,
	)

	api := app.Group("/api/v1")
	routes.SessionRoutes(api.Group("/sessions"), manager)
	routes.RealtimeRoutes(api.Group("/realtime"), gateway.hub)

	go func() {
		if err := manager.RestoreAll(ctx); err != nil {
			httpLog.Error().Err(err).Msg("failed to restore sessions")
		}
	}()

	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.App.Host, cfg.App.Port),
		Handler:           app,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		httpLog.Info().Str("addr", srv.Addr).Msg("Server is running")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			_ = manager.Shutdown(context.Background())
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}

	httpLog.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		httpLog.Warn().Err(err).Msg("http shutdown incomplete")
	}
	return manager.Shutdown(shutdownCtx)
}

type gateways struct {
	hub    *broadcast.Hub
	fanout broadcast.Fanout
}

// newGateway always serves websockets and adds the AMQP mirror when a
// broker is configured and reachable.
func newGateway(cfg config.Broker, log *logging.Logger) (gateways, func()) {
	hub := broadcast.NewHub(log)
	g := gateways{hub: hub, fanout: broadcast.Fanout{hub}}
	if cfg.URL == "" {
		return g, func() {}
	}

	pub, err := broadcast.NewAMQPPublisher(broadcast.AMQPConfig{URL: cfg.URL, Exchange: cfg.Exchange}, log)
	if err != nil {
		log.Warn().Err(err).Msg("broker unavailable, events stay local")
		return g, func() {}
	}
	g.fanout = append(g.fanout, pub)
	return g, pub.Close
}

func corsConfig(allows config.Allows) cors.Config {
	c := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPut, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Content-Type", "Authorization", "X-Requested-With", "Origin", "Accept"},
		AllowOrigins:     []string{"*"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}
	if len(allows.Methods) > 0 {
		c.AllowMethods = allows.Methods
	}
	if len(allows.Headers) > 0 {
		c.AllowHeaders = allows.Headers
	}
	if len(allows.Origins) > 0 {
		c.AllowOrigins = allows.Origins
	}
	return c
}
