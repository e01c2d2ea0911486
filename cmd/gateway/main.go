package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/scormetry/scormetry/internal/activity"
	api "github.com/scormetry/scormetry/internal/api/http"
	auth "github.com/scormetry/scormetry/internal/auth/middleware"
	"github.com/scormetry/scormetry/internal/cache"
	"github.com/scormetry/scormetry/internal/config"
	"github.com/scormetry/scormetry/internal/db"
	"github.com/scormetry/scormetry/internal/grading"
	"github.com/scormetry/scormetry/internal/logger"
	"github.com/scormetry/scormetry/internal/metrics"
	"github.com/scormetry/scormetry/internal/ratelimit"
	rbac "github.com/scormetry/scormetry/internal/rbac"
	syncx "github.com/scormetry/scormetry/internal/sync"
	"github.com/scormetry/scormetry/internal/tracing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// the logger is configured from cfg, so this one goes to a bare logger
		zap.NewExample().Fatal("load config", zap.Error(err))
	}

	log := logger.New(logger.Options{Debug: cfg.Log.Debug, File: cfg.Log.File})
	defer func() { _ = log.Sync() }()
	zap.ReplaceGlobals(log)

	metrics.Init()

	if cfg.Tracing.Enabled {
		shutdown, err := tracing.Init("scormetry-gateway", cfg.Tracing.CollectorEndpoint)
		if err != nil {
			log.Fatal("tracing init", zap.Error(err))
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(ctx)
		}()
	}

	// --- DB ---
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dbh, err := db.Open(ctx, db.Driver(cfg.DB.Driver), cfg.DB.DSN)
	if err != nil {
		log.Fatal("db open failed", zap.Error(err))
	}
	defer dbh.Close()

	// --- Scoring ---
	policy := grading.MissingAsZero
	if cfg.Scoring.MissingPolicy == "exclude" {
		policy = grading.MissingExcluded
	}
	opts := []activity.Option{
		activity.WithLogger(log.Named("activity")),
		activity.WithSiteID(cfg.SiteID),
		activity.WithEvents(syncx.NewEventRepo(dbh)),
		activity.WithAggregator(grading.NewAggregator(
			grading.WithMissingScorePolicy(policy),
			grading.WithLogger(log.Named("grading")),
		)),
	}
	if cfg.Redis.Addr != "" {
		rdb, err := cache.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Warn("redis unavailable, preview cache disabled", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		} else {
			defer rdb.Close()
			opts = append(opts, activity.WithCache(cache.NewReportCache(rdb, cfg.Redis.TTL)))
		}
	}
	svc := activity.NewService(activity.NewSQLStore(dbh), opts...)

	authSvc := auth.NewAuthService(cfg.Auth.Secret, cfg.Auth.TokenTTL)

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	previewLimiter := ratelimit.New(cfg.RateLimit.MaxRequests, cfg.RateLimit.Window, func(r *http.Request) string {
		if sub := auth.SubjectFromContext(r.Context()); sub != "" {
			return sub
		}
		return ratelimit.ClientIP(r)
	})
	go previewLimiter.Cleanup(runCtx)

	// --- Router ---
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, logger.Middleware(log), middleware.Recoverer)
	r.Use(metrics.Middleware)
	if cfg.Tracing.Enabled {
		r.Use(tracing.Middleware)
	}
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins(),
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Local login (enabled offline by default; can be enabled online via config)
	if cfg.Auth.EnableLocal {
		r.Post("/auth/login", auth.LoginHandler(authSvc, dbh))
	}

	// Protected API (JWT → stored role → RBAC)
	r.Group(func(pr chi.Router) {
		pr.Use(auth.JWTMiddleware(authSvc))
		pr.Use(auth.AttachRoleFromDB(dbh, cfg.Auth.AllowClaimRole))

		pr.With(rbac.Require("rubric:create")).Post("/rubrics", api.CreateRubricHandler(svc))
		pr.With(rbac.RequireAny("rubric:view", "score:submit")).Get("/rubrics", api.ListRubricsHandler(svc))
		pr.With(rbac.RequireAny("rubric:view", "score:submit")).Get("/rubrics/{rubricID}", api.GetRubricHandler(svc))
		pr.With(rbac.RequireAny("rubric:view", "score:submit")).Get("/rubrics/{rubricID}/bands", api.RubricBandHandler(svc))

		pr.Route("/activities", func(ar chi.Router) {
			ar.With(rbac.Require("activity:create")).Post("/", api.CreateActivityHandler(svc))
			ar.With(rbac.Require("activity:view")).Get("/", api.ListActivitiesHandler(svc))

			ar.Route("/{activityID}", func(ar chi.Router) {
				ar.With(rbac.Require("activity:view")).Get("/", api.GetActivityHandler(svc))
				ar.With(rbac.Require("activity:create")).Post("/groups", api.CreateGroupHandler(svc))
				ar.With(rbac.Require("activity:view")).Get("/groups", api.ListGroupsHandler(svc))

				// Judges
				ar.With(rbac.Require("score:preview"), previewLimiter.Middleware).
					Post("/preview", api.PreviewHandler(svc))
				ar.With(rbac.Require("score:submit")).
					Put("/scores/{entityType}/{entityID}", api.SaveScoresHandler(svc))
				ar.With(rbac.Require("score:view-all")).
					Get("/scores/{entityType}/{entityID}", api.GetScoresHandler(svc))

				// Students
				ar.With(rbac.Require("score:view-own")).
					Get("/my-grades", api.StudentGradesHandler(svc))
				ar.With(rbac.RequireOwnerOr("score:view-all", api.IsStudentSelf)).
					Get("/students/{studentID}/grades", api.StudentGradesHandler(svc))
			})
		})

		// Users (teacher/admin)
		pr.With(rbac.Require("users:bulk_upsert")).
			Post("/users/bulk", api.BulkUpsertUsersHandler(dbh))
		pr.With(rbac.Require("users:list")).
			Get("/users", api.ListUsersHandler(dbh))
		pr.With(rbac.Require("user:change_password")).
			Post("/users/change-password", api.ChangePasswordHandler(dbh))
		pr.With(rbac.Require("users:update_role")).
			Patch("/users/{userID}/role", api.UpdateUserRoleHandler(dbh))
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := dbh.PingContext(ctx); err != nil {
			http.Error(w, "db unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info("listening",
			zap.String("addr", cfg.HTTPAddr),
			zap.String("mode", string(cfg.Mode)),
			zap.String("db", cfg.DB.Driver),
			zap.String("site", cfg.SiteID))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("listen", zap.Error(err))
			stop()
		}
	}()

	<-runCtx.Done()
	log.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("forced shutdown", zap.Error(err))
		os.Exit(1)
	}
}
