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

	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/gin-gonic/gin"
	cli "github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/igdrones/ig-docs-backend/internal/auth"
	"github.com/igdrones/ig-docs-backend/internal/bootstrap"
	"github.com/igdrones/ig-docs-backend/internal/config"
	"github.com/igdrones/ig-docs-backend/internal/documents"
	"github.com/igdrones/ig-docs-backend/internal/notifications"
	"github.com/igdrones/ig-docs-backend/internal/notifications/websocket"
	"github.com/igdrones/ig-docs-backend/internal/workflows"
	"github.com/igdrones/ig-docs-backend/pkg/security"
)

func main() {
	cmd := &cli.Command{
		Name:  "ig-docs-api",
		Usage: "Serve the document approval API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the JSON configuration file",
				Value:   "config.json",
				Sources: cli.EnvVars("CONFIG_PATH"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.BoolFlag{
				Name:    "migrate",
				Usage:   "Run schema migrations before serving",
				Value:   true,
				Sources: cli.EnvVars("AUTO_MIGRATE"),
			},
		},
		Action: run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, command *cli.Command) error {
	cfg, err := config.LoadConfig(command.String("config"))
	if err != nil {
		return err
	}
	if lvl := command.String("log-level"); lvl != "" {
		cfg.Logging.Level = lvl
	}

	logger, err := bootstrap.NewLogger(cfg.Logging.Level, cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync()

	db, err := bootstrap.OpenDatabase(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}
	if command.Bool("migrate") {
		if err := bootstrap.Migrate(db); err != nil {
			return err
		}
		logger.Info("Schema migrated")
	}

	if err := documents.RegisterValidators(); err != nil {
		return fmt.Errorf("failed to register validators: %w", err)
	}

	objects, err := bootstrap.NewObjectStore(ctx, cfg)
	if err != nil {
		return err
	}

	directory := auth.NewDirectory(db)

	var (
		channels []notifications.Channel
		sockets  *websocket.Manager
	)
	if cfg.Notifications.SNSTopicARN != "" || cfg.Notifications.SESSender != "" {
		awsCfg, err := cfg.AWS.LoadAWSConfig(ctx)
		if err != nil {
			return err
		}
		if cfg.Notifications.SNSTopicARN != "" {
			channels = append(channels, notifications.NewSNSChannel(sns.NewFromConfig(awsCfg), cfg.Notifications.SNSTopicARN))
		}
		if cfg.Notifications.SESSender != "" {
			channels = append(channels, notifications.NewEmailChannel(sesv2.NewFromConfig(awsCfg), directory, cfg.Notifications.SESSender))
		}
	}
	if cfg.Notifications.WebsocketEnabled {
		sockets = websocket.NewManager(logger, cfg.Server.AllowedOrigins)
		defer sockets.Close()
		channels = append(channels, sockets)
	}
	notifier := notifications.NewService(db, logger, cfg.Notifications.Timeout, channels...)

	workflowService := workflows.NewService(workflows.NewRepository(db), directory, logger)
	documentService := documents.NewService(
		documents.NewRepository(db),
		workflowService,
		directory,
		bootstrap.NewStorageProvider(objects, cfg.Storage),
		documents.NewSignatureService(
			security.NewSigner(cfg.Security.SignatureTitle, cfg.Security.SignatureIssuer),
			security.NewValidator(cfg.Storage.MaxUploadBytes),
		),
		notifier,
		logger,
	)

	gin.SetMode(cfg.Server.Mode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger), cors(cfg.Server.AllowedOrigins))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now(),
		})
	})

	requireAuth := auth.RequireAuth(auth.NewTokenVerifier(cfg.Security.JWTSecret, cfg.Security.JWTIssuer), logger)

	api := router.Group("/api/v1", requireAuth)
	{
		auth.RegisterRoutes(api, auth.NewHandler(directory, logger))
		workflows.NewHandler(workflowService, logger).RegisterRoutes(api)
		documents.NewHandler(documentService, logger, cfg.Storage.MaxUploadBytes).RegisterRoutes(api)
		notifications.NewHandler(notifier, logger).RegisterRoutes(api)
	}
	if sockets != nil {
		router.GET("/ws", requireAuth, sockets.ServeWS)
	}

	srv := &http.Server{
		Addr:         cfg.Server.GetServerAddr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()
	logger.Info("Server started", zap.String("addr", srv.Addr), zap.String("storage", cfg.Storage.Driver), zap.Int("channels", len(channels)))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-quit:
	}
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("Server exiting")
	return nil
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if p, ok := auth.PrincipalFrom(c); ok {
			fields = append(fields, zap.String("user_id", p.UserID.String()))
		}
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			logger.Error("Request failed", fields...)
		default:
			logger.Debug("Request served", fields...)
		}
	}
}

func cors(allowed []string) gin.HandlerFunc {
	origins := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		origins[o] = true
	}
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		switch {
		case len(origins) == 0:
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		case origins[origin]:
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
			c.Writer.Header().Add("Vary", "Origin")
		}
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Content-Disposition")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
