package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"classtrack/internal/audit"
	"classtrack/internal/auth"
	"classtrack/internal/checkin"
	"classtrack/internal/clock"
	"classtrack/internal/config"
	"classtrack/internal/directory"
	"classtrack/internal/httpmiddleware"
	"classtrack/internal/metrics"
	"classtrack/internal/queue"
	"classtrack/internal/report"
	"classtrack/internal/session"
	"classtrack/internal/store"
	"classtrack/internal/token"
)

func main() {
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clk := clock.Real{}
	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "classtrack:audit")
	}

	var (
		db           *store.DB
		sessionStore session.Store
		recordStore  checkin.RecordStore
		recordReader report.RecordReader
		dir          directory.Directory
		history      token.HistoryRecorder
	)
	if cfg.StoreBackend == "memory" {
		mem := session.NewMemory()
		sessionStore = mem
		recMem := checkin.NewMemory(mem)
		recordStore = recMem
		recordReader = recMem
		static := directory.NewStatic()
		seedDemoRoster(static)
		dir = static
		log.Println("store backend: memory (demo roster seeded, data is not durable)")
	} else {
		var err error
		db, err = store.NewDB(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("db connect failed: %w", err)
		}
		defer db.Close()
		if err := store.EnsureSchema(ctx, db.Client); err != nil {
			return fmt.Errorf("schema bootstrap failed: %w", err)
		}
		sessionStore = session.NewRepository(db.Client)
		repo := checkin.NewRepository(db.Client)
		recordStore = repo
		recordReader = repo
		dir = directory.NewRepository(db.Client)
		history = token.NewRepository(db.Client)
	}

	gen := token.NewGenerator(cfg.TokenTTL, clk, token.ActiveFunc(func(ctx context.Context, id string) (bool, error) {
		s, err := sessionStore.Get(ctx, id)
		if err != nil {
			return false, err
		}
		return s.State == session.Active, nil
	}), history)

	publishClosed := func(s session.Session, trigger string) {
		metrics.SessionsClosed.WithLabelValues(trigger).Inc()
		gen.Drop(s.ID)
		e := audit.Event{
			Kind:       audit.KindSessionClosed,
			SessionID:  s.ID,
			Detail:     trigger,
			OccurredAt: time.Now().UTC(),
		}
		body, err := e.Encode()
		if err != nil {
			return
		}
		if err := q.Publish(ctx, queue.Message{Type: e.Kind, Body: body}); err != nil {
			log.Printf("audit publish failed: %v", err)
		}
	}

	mgr := session.NewManager(sessionStore, dir, clk, cfg.ActivateGrace, publishClosed)
	coord := checkin.NewCoordinator(sessionStore, recordStore, gen, dir, clk, cfg.DepTimeout, cfg.DepRetryBackoff)
	reports := report.NewService(sessionStore, recordReader, dir)

	sweeper := session.NewSweeper(mgr, sessionStore, func(ctx context.Context, id string) error {
		_, err := gen.RotateIfNeeded(ctx, id)
		return err
	}, cfg.SweepInterval)
	go sweeper.Run(ctx)

	h := NewHandler(mgr, gen, coord, reports, q)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := db != nil || cfg.StoreBackend == "memory"
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	// Dev-only token mint, stands in for the platform's auth service.
	if cfg.Env == "dev" {
		r.POST("/v1/auth/dev-token", func(c *gin.Context) {
			var req struct {
				Subject string `json:"subject" binding:"required"`
				Role    string `json:"role" binding:"required"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			signed, exp, err := auth.Issue(req.Subject, req.Role, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
				return
			}
			c.JSON(http.StatusCreated, gin.H{"access_token": signed, "expires_at": exp.Unix()})
		})
	}

	authGroup := r.Group("/v1", auth.UserAuth(cfg.JWTSigningKey, cfg.JWTIssuer))

	teacherOnly := authGroup.Group("", auth.RequireRole(auth.RoleTeacher))
	teacherOnly.POST("/sessions", h.CreateSession)
	teacherOnly.POST("/sessions/:id/activate", h.ActivateSession)
	teacherOnly.POST("/sessions/:id/close", h.CloseSession)
	teacherOnly.GET("/sessions/:id/token", h.CurrentToken)
	teacherOnly.POST("/sessions/:id/checkins/:student/override", h.OverrideCheckin)

	authGroup.GET("/sessions/:id", h.GetSession)
	authGroup.POST("/sessions/:id/checkins", h.SubmitCheckin)
	authGroup.GET("/sessions/:id/rate", h.SessionRate)
	authGroup.GET("/sessions/:id/absentees", h.SessionAbsentees)
	authGroup.GET("/history", h.History)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")
	cancel()

	// Give outstanding requests 10 seconds to complete.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

// seedDemoRoster gives memory mode a usable course so QR check-ins can be
// exercised without Postgres.
func seedDemoRoster(d *directory.Static) {
	d.AddTeacher("course-demo", "teacher-demo")
	for i := 1; i <= 5; i++ {
		d.Enroll("course-demo", fmt.Sprintf("student-%03d", i))
	}
}

// CORS middleware for browser requests.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Security headers middleware.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
