package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/apex/log"
	jsonhandler "github.com/apex/log/handlers/json"
	"github.com/apex/log/handlers/text"
	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"contribapp/caption"
	"contribapp/config"
	"contribapp/database"
	"contribapp/handlers"
	"contribapp/ingestion"
	"contribapp/ledger"
	"contribapp/media"
	"contribapp/metrics"
	"contribapp/middleware"
	"contribapp/rabbitmq"
	"contribapp/service"
	"contribapp/verification"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debugf("No .env file loaded: %v", err)
	}
	cfg := config.Load()
	setupLogging(cfg)

	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET must be set")
	}
	if err := os.MkdirAll(cfg.UploadsDir, 0o755); err != nil {
		log.Fatalf("Failed to create uploads directory %s: %v", cfg.UploadsDir, err)
	}

	metrics.Register()

	db, err := database.NewDatabase(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	if err := db.EnsureTables(context.Background()); err != nil {
		log.Fatalf("Failed to create tables: %v", err)
	}

	store := media.NewDiskStore(cfg.UploadsDir, cfg.UploadsURLPrefix)
	processor := media.NewProcessor(
		store,
		media.GoexifExtractor{},
		media.NewNormalizer(cfg.MediaMaxWidth, cfg.MediaMaxHeight, cfg.MediaJPEGQuality, cfg.MediaMaxPixels),
		db,
	)

	var captioner ingestion.Captioner
	if cfg.CaptionAPIToken != "" {
		captioner = caption.NewClient(caption.Config{
			Endpoint:       cfg.CaptionEndpoint,
			Token:          cfg.CaptionAPIToken,
			MaxAttempts:    cfg.CaptionMaxAttempts,
			BaseDelay:      cfg.CaptionBaseDelay,
			MaxDelay:       cfg.CaptionMaxDelay,
			RequestTimeout: cfg.CaptionRequestTimeout,
		})
	} else {
		log.Warn("CAPTION_API_TOKEN is not set, images will not be captioned")
	}

	var events service.EventPublisher
	if cfg.AMQPURL != "" {
		publisher, err := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			log.Fatalf("Failed to create RabbitMQ publisher: %v", err)
		}
		defer publisher.Close()
		events = publisher
	} else {
		log.Warn("AMQP_URL is not set, contribution events will not be published")
	}

	var blacklist middleware.TokenBlacklist
	if cfg.RedisURL != "" {
		redisBlacklist, err := middleware.NewRedisBlacklist(cfg.RedisURL)
		if err != nil {
			log.Fatalf("Failed to configure Redis: %v", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := redisBlacklist.Ping(ctx); err != nil {
			log.Warnf("Redis is not reachable yet: %v", err)
		}
		cancel()
		defer redisBlacklist.Close()
		blacklist = redisBlacklist
	} else {
		log.Warn("REDIS_URL is not set, revoked tokens are not checked")
	}

	svc := service.New(
		db,
		verification.NewVerifier(cfg.VerificationThresholdKm),
		ingestion.NewOrchestrator(processor, captioner, cfg.MediaWorkers),
		ledger.NewClient(cfg.LedgerBaseURL, cfg.LedgerTimeout),
		store,
		events,
		service.Options{
			Reward:                 cfg.LedgerReward,
			SubmissionTimeout:      cfg.SubmissionTimeout,
			CreatedRoutingKey:      cfg.AMQPCreatedRoutingKey,
			LedgerFailedRoutingKey: cfg.AMQPLedgerFailedRoutingKey,
		},
	)

	h := handlers.NewHandlers(svc, handlers.UploadLimits{
		MaxFiles:     cfg.MaxUploadFiles,
		MaxFileBytes: cfg.MaxUploadFileBytes,
	})
	router := setupRouter(cfg, h, middleware.AuthMiddleware([]byte(cfg.JWTSecret), blacklist))

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Infof("Starting HTTP server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start HTTP server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	// In-flight submissions may still be waiting on captions.
	ctx, cancel := context.WithTimeout(context.Background(), cfg.SubmissionTimeout+5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("Server forced to shutdown: %v", err)
	}

	log.Info("Server exited")
}

func setupLogging(cfg *config.Config) {
	switch cfg.LogFormat {
	case "json":
		log.SetHandler(jsonhandler.New(os.Stderr))
	default:
		log.SetHandler(text.New(os.Stderr))
	}
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)

	if cfg.LogLevel == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
}

func setupRouter(cfg *config.Config, h *handlers.Handlers, auth gin.HandlerFunc) *gin.Engine {
	router := gin.Default()
	router.MaxMultipartMemory = int64(cfg.MaxUploadFiles) * cfg.MaxUploadFileBytes

	router.Use(cors.New(cors.Config{
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowOrigins:     cfg.CORSAllowedOrigins,
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	router.Use(gzip.Gzip(gzip.DefaultCompression))

	router.Static(cfg.UploadsURLPrefix, cfg.UploadsDir)

	posts := router.Group("/api/posts", auth)
	{
		posts.POST("/create", h.CreatePost)
		posts.GET("/:id", h.GetPost)
		posts.GET("/:id/verification", h.GetVerification)
		posts.POST("/:id/ledger/retry", h.RetryLedger)
		posts.DELETE("/delete/:id", h.DeletePost)
	}

	router.GET("/health", h.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return router
}
