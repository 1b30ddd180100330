package main

import (
	"context"
	"os"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"

	"github.com/LoveACE-Team/LoveACE/internal/api/handlers"
	"github.com/LoveACE-Team/LoveACE/internal/api/middleware"
	"github.com/LoveACE-Team/LoveACE/internal/config"
	"github.com/LoveACE-Team/LoveACE/internal/crypto"
	"github.com/LoveACE-Team/LoveACE/internal/database"
	"github.com/LoveACE-Team/LoveACE/internal/debug"
	"github.com/LoveACE-Team/LoveACE/internal/evaluation"
	"github.com/LoveACE-Team/LoveACE/internal/jwc"
	"github.com/LoveACE-Team/LoveACE/internal/portal"
	"github.com/LoveACE-Team/LoveACE/internal/telemetry"
)

// inviteRetention is how long an unused invite code stays redeemable.
const inviteRetention = 30 * 24 * time.Hour

func main() {
	cfg, err := config.Load(os.Getenv("LOVEACE_CONFIG"))
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	level := cfg.LogLevel
	if cfg.Debug {
		level = "debug"
	}
	logger, logCloser, err := telemetry.NewLogger(cfg.LogDir, level)
	if err != nil {
		os.Stderr.WriteString("failed to set up logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer logCloser.Close()

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	logger.Info("opening database", "path", cfg.DatabasePath)
	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Dev-only: clear persisted task snapshots.
	if os.Getenv("LOVEACE_DEV_PRUNE_TASKS") == "1" || os.Getenv("LOVEACE_DEV_PRUNE_TASKS") == "true" {
		logger.Warn("LOVEACE_DEV_PRUNE_TASKS enabled, clearing evaluation_tasks")
		if err := debug.PruneTasks(db.DB, logger); err != nil {
			logger.Warn("failed to prune tasks", "error", err)
		}
	}

	sealer, err := crypto.NewSealer(cfg.MasterSecret)
	if err != nil {
		logger.Error("failed to create sealer", "error", err)
		os.Exit(1)
	}
	jwtManager, err := crypto.NewJWTManager(cfg.MasterSecret)
	if err != nil {
		logger.Error("failed to create JWT manager", "error", err)
		os.Exit(1)
	}

	users := database.NewUserStore(db, sealer)
	invites := database.NewInviteStore(db)
	bindings := database.NewBindingStore(db)
	tasks := database.NewTaskStore(db)

	portalCfg := portal.Config{
		LoginURL:            cfg.Portal.LoginURL,
		ProbeURL:            cfg.Portal.BaseURL,
		RequestTimeout:      cfg.Portal.RequestTimeout(),
		MaxRetries:          cfg.Portal.MaxRetries,
		MaxReconnectRetries: cfg.Portal.MaxReconnectRetries,
		ActivityTimeout:     cfg.Portal.ActivityTimeout(),
		MonitorInterval:     cfg.Portal.MonitorInterval(),
		Backoff: portal.Backoff{
			Base:   cfg.Portal.RetryBaseDelay(),
			Max:    cfg.Portal.RetryMaxDelay(),
			Factor: cfg.Portal.RetryExponentialBase,
		},
		DefaultHeaders: cfg.Portal.DefaultHeaders,
	}
	transport, err := portal.NewTransport(portalCfg)
	if err != nil {
		logger.Error("failed to create portal transport", "error", err)
		os.Exit(1)
	}
	authenticator := portal.NewCASAuthenticator(portalCfg)
	sessions := portal.NewManager(portalCfg, transport, authenticator, users, logger)

	monitor := portal.NewMonitor(sessions, portalCfg, logger)
	if err := monitor.Start(); err != nil {
		logger.Error("failed to start activity monitor", "error", err)
		os.Exit(1)
	}
	defer monitor.Stop()

	housekeeping := cron.New()
	housekeeping.AddFunc("@every 1h", func() {
		n, err := invites.PruneUnused(context.Background(), inviteRetention)
		if err != nil {
			logger.Warn("failed to prune invites", "error", err)
			return
		}
		if n > 0 {
			logger.Info("pruned stale invites", "count", n)
		}
	})
	housekeeping.Start()
	defer housekeeping.Stop()

	hub := handlers.NewUpdatesHub(logger)
	controller := evaluation.NewController(tasks, hub,
		func(principal string) evaluation.Runner {
			client := jwc.NewClient(sessions, cfg.Portal.BaseURL, principal)
			client.SetPageSize(cfg.Evaluation.PageSize)
			return evaluation.NewRunner(client)
		},
		evaluation.Config{CountdownSeconds: cfg.Evaluation.CountdownSeconds},
		logger)
	hub.SetStatus(controller.Status)

	if err := controller.Restore(context.Background()); err != nil {
		logger.Error("failed to restore evaluation tasks", "error", err)
		os.Exit(1)
	}

	authHandler := handlers.NewAuthHandler(users, invites, sessions, authenticator, jwtManager, logger)
	evaluationHandler := handlers.NewEvaluationHandler(controller, logger)
	academicsHandler := handlers.NewAcademicsHandler(sessions, cfg.Portal.BaseURL)
	electricityHandler := handlers.NewElectricityHandler(sessions, bindings, cfg.Portal.ISIMBaseURL)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.LoggingMiddleware(logger))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"*"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
	}))

	router.GET("/", func(c *gin.Context) {
		c.String(200, "LoveACE server")
	})

	v1 := router.Group("/v1")
	{
		v1.POST("/auth/invite", authHandler.PostInvite)
		v1.POST("/auth/register", authHandler.PostRegister)
		v1.POST("/auth/login", authHandler.PostLogin)
	}

	protected := v1.Group("")
	protected.Use(middleware.AuthMiddleware(jwtManager, users))
	{
		protected.GET("/auth/status", authHandler.GetStatus)

		protected.POST("/evaluation", evaluationHandler.PostInit)
		protected.GET("/updates", hub.Handle)
		protected.GET("/evaluation/:id", evaluationHandler.GetTask)
		protected.POST("/evaluation/:id/pause", evaluationHandler.PostPause)
		protected.POST("/evaluation/:id/resume", evaluationHandler.PostResume)
		protected.POST("/evaluation/:id/terminate", evaluationHandler.PostTerminate)

		protected.GET("/academics/info", academicsHandler.GetInfo)
		protected.GET("/academics/plan", academicsHandler.GetPlan)

		protected.GET("/electricity", electricityHandler.GetElectricity)
		protected.GET("/electricity/buildings", electricityHandler.GetBuildings)
		protected.GET("/electricity/floors", electricityHandler.GetFloors)
		protected.GET("/electricity/rooms", electricityHandler.GetRooms)
		protected.POST("/electricity/binding", electricityHandler.PostBinding)
	}

	logger.Info("server starting", "addr", cfg.Addr, "database", cfg.DatabasePath)
	if err := router.Run(cfg.Addr); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}
