package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"bitbucket.org/mmdatafocus/drum_backend/config"
	"bitbucket.org/mmdatafocus/drum_backend/events"
	"bitbucket.org/mmdatafocus/drum_backend/middlewares"
	"bitbucket.org/mmdatafocus/drum_backend/models"
	"bitbucket.org/mmdatafocus/drum_backend/utils"
	"bitbucket.org/mmdatafocus/drum_backend/workflow"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const defaultPort = "8080"

// app holds what handlers need. The scanner is installed once the database is connected,
// so requests that arrive earlier get 503.
type app struct {
	logger *logrus.Logger
	hub    *events.Hub
	now    func() time.Time
	ready  func() bool

	mu      sync.RWMutex
	scanner workflow.Scanner
	idem    workflow.IdempotencyStore
}

func newApp(logger *logrus.Logger, hub *events.Hub) *app {
	return &app{
		logger: logger,
		hub:    hub,
		now:    func() time.Time { return time.Now().UTC() },
		ready:  func() bool { return config.GetDB() != nil },
	}
}

func (a *app) setScanner(s workflow.Scanner, idem workflow.IdempotencyStore) {
	a.mu.Lock()
	a.scanner = s
	a.idem = idem
	a.mu.Unlock()
}

func (a *app) currentScanner() (workflow.Scanner, workflow.IdempotencyStore) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.scanner, a.idem
}

func corsConfig() cors.Config {
	corsConfig := cors.DefaultConfig()
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		corsConfig.AllowOrigins = utils.SplitAndTrim(allowedOrigins)
		if len(corsConfig.AllowOrigins) == 0 {
			corsConfig.AllowOrigins = []string{}
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "OPTIONS")
	corsConfig.AddAllowHeaders("Origin", "Content-Type", "Authorization", middlewares.CorrelationHeader, middlewares.ScannerHeader)
	corsConfig.AddExposeHeaders("Content-Length", "Content-Disposition", middlewares.CorrelationHeader)
	corsConfig.AllowCredentials = !corsConfig.AllowAllOrigins
	return corsConfig
}

func (a *app) readinessGate() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		if a.ready != nil && !a.ready() {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"message": "service starting"})
			return
		}
		c.Next()
	}
}

// newRouter wires middleware and routes. limiter may be nil.
func (a *app) newRouter(limiter *middlewares.RateLimiter) *gin.Engine {
	r := gin.New()
	r.Use(middlewares.CorrelationMiddleware())
	r.Use(a.readinessGate())
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	r.Use(cors.New(corsConfig()))
	if limiter != nil {
		r.Use(limiter.Middleware())
	}
	r.Use(middlewares.AuthMiddleware())
	r.Use(middlewares.ScannerMiddleware())
	r.Use(customErrorLogger(a.logger))
	r.Use(gin.Recovery())

	api := r.Group("/api")
	{
		api.POST("/barcodes/scan", a.scanHandler())
		api.POST("/barcodes/scan/batch", a.batchScanHandler())

		api.GET("/drums", middlewares.LoaderMiddleware(), a.listDrumsHandler())
		api.GET("/drums/sse", a.sseHandler(events.TopicDrumStatus))
		api.GET("/drums/:id", a.getDrumHandler())

		api.GET("/orders", a.listOrdersHandler())
		api.POST("/orders", a.createOrderHandler())
		api.GET("/orders/active", a.activeOrdersHandler())
		api.GET("/orders/next-po-number", a.nextPoNumberHandler())
		api.GET("/orders/sse", a.sseHandler(events.TopicOrderUpdate))

		api.GET("/transactions", a.listTransactionsHandler())
		api.GET("/reports/transactions.xlsx", a.transactionsReportHandler())
	}

	r.POST("/pubsub/scans", a.pubsubScanHandler())

	ops := r.Group("/internal/ops", middlewares.RequireRole(middlewares.RoleOps))
	{
		ops.GET("/outbox", a.outboxStatusHandler())
		ops.POST("/outbox/replay", a.outboxReplayHandler())
	}

	r.NoRoute(customNotFoundHandler)
	return r
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"message": "route not found"})
}

func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			logger.WithFields(logrus.Fields{
				"path":   c.FullPath(),
				"status": c.Writer.Status(),
			}).Error(c.Errors.String())
		}
	}
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	hub := events.NewHub(logger)
	a := newApp(logger, hub)

	// Redis connects after the listener is up, so the limiter looks the client up per request.
	limiter := middlewares.RateLimiterFromEnv(config.GetRedisDB)

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: a.newRouter(limiter),
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	config.ConnectDatabaseWithRetry()
	// Scanning works without Redis, so give up on it after a bounded wait.
	redisCtx, cancelRedis := context.WithTimeout(sigCtx, 30*time.Second)
	config.ConnectRedisWithRetry(redisCtx)
	cancelRedis()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable(db)
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	bgCtx, cancelBackground := context.WithCancel(context.Background())
	defer cancelBackground()

	// With Redis, every instance hears every event through the relay; without it only local clients do.
	var notifier events.Notifier = hub
	if rdb := config.GetRedisDB(); rdb != nil {
		channel := os.Getenv("EVENTS_REDIS_CHANNEL")
		notifier = &events.RedisPublisher{Client: rdb, Channel: channel}
		go func() {
			if err := events.RunRedisRelay(bgCtx, rdb, channel, hub, logger); err != nil {
				config.LogError(logger, "server.go", "main", "redis relay stopped", nil, err)
			}
		}()
	}

	svc := workflow.NewScanService(workflow.NewGormLedgerStore(db), notifier, workflow.ScanPolicyFromEnv(), logger)
	svc.Locker = workflow.DrumLockerFromConfig()
	a.setScanner(svc, &workflow.GormIdempotencyStore{DB: db})

	if svc.Policy.RecordOutbox {
		go workflow.NewOutboxDispatcher(db, logger).Run(bgCtx)
	}
	if config.ScannerSubscription() != "" {
		if err := RunScannerWorkflow(bgCtx, a); err != nil {
			config.LogError(logger, "server.go", "main", "start scanner subscription", nil, err)
		}
	}

	logger.WithFields(logrus.Fields{
		"info":           "Connection Established",
		"cooldown":       svc.Policy.Cooldown.String(),
		"verify":         svc.Policy.VerifyTransitions,
		"over_delivery":  svc.Policy.OverDelivery,
		"outbox_enabled": svc.Policy.RecordOutbox,
	}).Info("drum scan service listening on :", port)
	log.Println("Server started successfully")

	select {
	case <-sigCtx.Done():
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	cancelBackground()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}
	svc.Flush()

	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}
