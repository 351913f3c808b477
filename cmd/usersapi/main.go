package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/tavernchat/users-api/internal/config"
	"github.com/tavernchat/users-api/internal/content"
	"github.com/tavernchat/users-api/internal/export"
	"github.com/tavernchat/users-api/internal/invites"
	"github.com/tavernchat/users-api/internal/logging"
	"github.com/tavernchat/users-api/internal/metrics"
	"github.com/tavernchat/users-api/internal/middleware"
	"github.com/tavernchat/users-api/internal/monitor"
	"github.com/tavernchat/users-api/internal/routes"
	"github.com/tavernchat/users-api/internal/store/dynamo"
	"github.com/tavernchat/users-api/internal/store/redisstore"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/pprof"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/sirupsen/logrus"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger := logging.New(cfg)

	// Initialize metrics
	if err := metrics.Init(); err != nil {
		logger.WithError(err).Fatal("Failed to initialize metrics")
	}

	// Initialize tracing
	tracingShutdown, err := middleware.InitTracing(&cfg.Observability, cfg.Server.Environment, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to setup tracing")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracingShutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("Failed to shutdown tracing")
		}
	}()

	// Create Fiber app
	app := fiber.New(fiber.Config{
		AppName:      "Users API",
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}

			logger.WithError(err).WithFields(logrus.Fields{
				"method": c.Method(),
				"path":   c.Path(),
				"status": code,
			}).Error("Request error")

			return c.Status(code).JSON(fiber.Map{
				"error": fiber.Map{
					"code":     "INTERNAL_ERROR",
					"message":  "Internal server error",
					"trace_id": c.Get("X-Request-ID"),
				},
			})
		},
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(helmet.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORS.AllowOrigins,
		AllowMethods:     "GET,POST,HEAD,PUT,DELETE,PATCH,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,X-Requested-With,X-Real-IP",
		AllowCredentials: true,
		MaxAge:           86400,
	}))
	app.Use(otelfiber.Middleware())

	// pprof for memory profiling (accessible at /debug/pprof/)
	app.Use(pprof.New())

	// Initialize middleware manager (Redis, sessions)
	middlewareManager, err := middleware.NewManager(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize middleware manager")
	}
	defer middlewareManager.Close()

	// Initialize AWS SDK clients
	awsCfg, err := loadAWSConfig(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load AWS config")
	}
	dynamoClient := dynamodb.NewFromConfig(awsCfg)

	logger.WithFields(logrus.Fields{
		"region":      cfg.DynamoDB.Region,
		"users_table": cfg.DynamoDB.UsersTableName,
	}).Info("DynamoDB client initialized")

	var s3Client *s3.Client
	if cfg.Export.S3Bucket != "" {
		s3Client = s3.NewFromConfig(awsCfg)
		logger.WithField("bucket", cfg.Export.S3Bucket).Info("S3 export archiving enabled")
	}

	// Wire domain services
	userStore := dynamo.NewUserStore(dynamoClient, cfg.DynamoDB.UsersTableName, logger)
	invitationValidator := invites.NewValidator(dynamoClient, cfg.DynamoDB.InvitationsTableName, cfg.Auth.InvitationRequired, logger)
	contentManager := content.NewManager(&cfg.Content, logger)
	requestMonitor := monitor.NewRequestMonitor(monitor.DefaultMaxHistory)
	exporter := export.NewExporter(&cfg.Export, cfg.Content.DataRoot, s3Client, logger)
	codeCache := redisstore.NewRecoveryCodeCache(middlewareManager.RedisClient, cfg.Auth.RecoveryCodeTTL)

	usersHandler := routes.NewUsersHandler(&cfg.Auth, routes.UsersHandlerDeps{
		Users:           userStore,
		Sessions:        middlewareManager.Sessions,
		Codes:           codeCache,
		LoginLimiter:    redisstore.NewRateLimiter(middlewareManager.RedisClient, "login", cfg.RateLimit.Login, logger),
		RecoverLimiter:  redisstore.NewRateLimiter(middlewareManager.RedisClient, "recover", cfg.RateLimit.Recover, logger),
		RegisterLimiter: redisstore.NewRateLimiter(middlewareManager.RedisClient, "register", cfg.RateLimit.Register, logger),
		Invites:         invitationValidator,
		Content:         contentManager,
		Activity:        requestMonitor,
	}, logger)

	// Setup routes
	routes.Setup(app, cfg, logger, routes.Dependencies{
		Users:          usersHandler,
		Monitor:        routes.NewMonitorHandler(requestMonitor, logger),
		Export:         routes.NewExportHandler(exporter, logger),
		Admin:          routes.NewAdminHandler(middlewareManager.RedisClient, logger),
		RequestMonitor: requestMonitor,
		Session:        middlewareManager.Session,
		Ready:          routes.ReadyProbe(middlewareManager, userStore.HealthCheck()),
	})

	// Graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-c
		logger.Info("Gracefully shutting down...")
		if err := app.Shutdown(); err != nil {
			logger.WithError(err).Error("Server shutdown failed")
		}
	}()

	// Start server
	logger.WithField("port", cfg.Server.Port).Info("Starting Users API server")
	if err := app.Listen(":" + cfg.Server.Port); err != nil {
		logger.WithError(err).Fatal("Server failed to start")
	}
}

func loadAWSConfig(cfg *config.Config, logger *logrus.Logger) (aws.Config, error) {
	ctx := context.Background()

	var awsCfg aws.Config
	var err error

	if cfg.AWS.Profile != "" {
		// Use specific profile for local development
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.DynamoDB.Region),
			awsconfig.WithSharedConfigProfile(cfg.AWS.Profile),
		)
	} else {
		// IRSA in Kubernetes: the SDK detects AWS_WEB_IDENTITY_TOKEN_FILE and
		// AWS_ROLE_ARN on its own
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.DynamoDB.Region),
		)
	}

	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}

	creds, credErr := awsCfg.Credentials.Retrieve(ctx)
	if credErr != nil {
		logger.WithError(credErr).Warn("Failed to retrieve credentials (will retry on first API call)")
	} else {
		logger.WithFields(logrus.Fields{
			"provider":          creds.Source,
			"has_session_token": creds.SessionToken != "",
			"region":            cfg.DynamoDB.Region,
		}).Debug("AWS credentials retrieved")
	}

	return awsCfg, nil
}
