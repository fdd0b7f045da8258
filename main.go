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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/mehmetcc/session-token-service/docs"
	"github.com/mehmetcc/session-token-service/internal/authentication"
	"github.com/mehmetcc/session-token-service/internal/metrics"
	"github.com/mehmetcc/session-token-service/internal/person"
	"github.com/mehmetcc/session-token-service/internal/refreshtoken"
	"github.com/mehmetcc/session-token-service/internal/token"
	"github.com/mehmetcc/session-token-service/internal/utils"
)

// @title           Session Token Service API
// @version         1.0
// @description     Sign-up, sign-in and rotating refresh tokens with reuse detection.
//
// @BasePath  /api/v1
//
// @securityDefinitions.apikey  BearerAuth
// @in                          header
// @name                        Authorization
func main() {
	// load config
	cfg, err := utils.LoadConfig(".env")
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// init logger
	logger, err := utils.NewLogger(cfg.Server.Env)
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	clock := utils.SystemClock()

	// init database
	db, err := utils.InitDatabase(cfg.Database.DSN(), clock)
	if err != nil {
		logger.Fatal("failed to connect to the database", zap.Error(err))
	}
	models := []any{&person.Person{}}
	if cfg.Store.Backend == utils.StoreBackendPostgres {
		models = append(models, &refreshtoken.RefreshTokenRecord{})
	}
	if err := utils.Migrate(db, models...); err != nil {
		logger.Fatal("failed to migrate database", zap.Error(err))
	}

	records, closeStore, err := newRecordRepository(cfg, db, clock)
	if err != nil {
		logger.Fatal("failed to initialize refresh token store", zap.Error(err), zap.String("backend", cfg.Store.Backend))
	}
	defer closeStore()
	logger.Info("refresh token store ready", zap.String("backend", cfg.Store.Backend))

	// metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	//
	// WIRE UP SERVICES
	//
	codec, err := token.NewCodec(cfg.Token.Secret, cfg.Token.Issuer, clock, logger)
	if err != nil {
		logger.Fatal("failed to initialize token codec", zap.Error(err))
	}
	engine := refreshtoken.NewEngine(records, clock, logger, m, cfg.Store.Timeout)

	personService, err := person.NewPersonService(person.NewPersonRepository(db), clock, logger, 0)
	if err != nil {
		logger.Fatal("failed to initialize person service", zap.Error(err))
	}
	authService := authentication.NewAuthenticationService(
		personService,
		personService,
		codec,
		engine,
		logger,
		cfg.Token.AccessTokenTTL,
		cfg.Token.RefreshTokenTTL,
	)
	gate := authentication.NewGate(codec, logger, m)
	refreshLimiter := authentication.NewClientRateLimiter(cfg.RateLimit.RefreshPerSecond, cfg.RateLimit.RefreshBurst, clock)

	// init Gin router
	if cfg.Server.Env != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger), m.Instrument())

	router.GET("/metrics", gin.WrapH(m.Handler()))

	//
	// SWAGGER (protected by Basic Auth, not JWT)
	//
	if cfg.Admin.Username != "" {
		swaggerGroup := router.Group("/swagger", gin.BasicAuth(gin.Accounts{
			cfg.Admin.Username: cfg.Admin.Password,
		}))
		swaggerGroup.GET("/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := router.Group("/api/v1")
	api.Use(gate.Middleware())

	api.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	authenticated := api.Group("/", authentication.RequireAuthenticated())
	admin := api.Group("/", authentication.RequireRole(person.Admin))

	authentication.NewAuthHandler(api, authService, logger, refreshLimiter.Middleware())
	authentication.NewAccountHandler(authenticated, admin, personService, engine, logger)
	person.NewPersonHandler(api, admin, personService, logger)

	//
	// START SERVER
	//
	addr := fmt.Sprintf(":%s", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	// graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	} else {
		logger.Info("server stopped gracefully")
	}
}
