package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bastion/internal/analytics"
	"bastion/internal/apitoken"
	"bastion/internal/credential"
	"bastion/internal/csrf"
	"bastion/internal/event"
	"bastion/internal/incident"
	incidenthandler "bastion/internal/incident/handler"
	incidentmetrics "bastion/internal/incident/metrics"
	"bastion/internal/platform/config"
	"bastion/internal/platform/httpserver"
	"bastion/internal/platform/logger"
	"bastion/internal/platform/tracer"
	ratelimitmetrics "bastion/internal/ratelimit/metrics"
	ratelimitservice "bastion/internal/ratelimit/service"
	"bastion/internal/ratelimit/store/counter"
	"bastion/internal/threat"
	httptransport "bastion/internal/transport/http"
)

// main wires the security pipeline end to end: event bus, guards, incident
// orchestrator, analytics, and the HTTP surface. Business logic stays in the
// internal packages; this file is wiring and lifecycle only.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	log.Info("initializing bastion",
		"addr", cfg.Addr,
		"production", cfg.Production,
	)

	trc := tracer.NewOTel()

	// Event bus: async so guards never block on fan-out.
	eventStore := event.NewInMemoryStore()
	bus := event.NewPublisher(eventStore,
		event.WithAsyncBuffer(1024),
		event.WithPublisherLogger(log),
	)
	defer bus.Close()

	// Guards.
	csrfGuard, err := csrf.NewGuard(csrf.NewInMemoryTokenStore(), cfg.CSRFTokenTTL)
	if err != nil {
		log.Error("failed to build csrf guard", "error", err)
		os.Exit(1)
	}

	sessions, err := credential.New(cfg.SessionSealKey, cfg.SessionTTL,
		credential.WithLogger(log),
		credential.WithScopeInvalidator(csrfGuard),
		credential.WithEventEmitter(&sessionEventEmitter{bus: bus, logger: log}),
	)
	if err != nil {
		log.Error("failed to build credential store", "error", err)
		os.Exit(1)
	}

	limiter, err := ratelimitservice.New(counter.New(),
		ratelimitservice.WithLogger(log),
		ratelimitservice.WithEmitter(bus),
		ratelimitservice.WithMetrics(ratelimitmetrics.New()),
		ratelimitservice.WithTracer(trc),
	)
	if err != nil {
		log.Error("failed to build rate limiter", "error", err)
		os.Exit(1)
	}

	detector := threat.NewDetector()

	// Incident response.
	blocks := incident.NewInMemoryBlockStore()
	orchestrator, err := incident.New(
		incident.Config{
			CooldownWindow:     cfg.CooldownWindow,
			BlockTTL:           cfg.BlockTTL,
			HighEventThreshold: cfg.HighEventThreshold,
			EventRetention:     cfg.EventRetention,
			SweepInterval:      time.Minute,
		},
		blocks,
		limiter,
		incident.WithLogger(log),
		incident.WithMetrics(incidentmetrics.New()),
		incident.WithTracer(trc),
		incident.WithEmitter(bus),
		incident.WithPruner(bus),
	)
	if err != nil {
		log.Error("failed to build incident orchestrator", "error", err)
		os.Exit(1)
	}
	bus.Subscribe(orchestrator)

	landscape := analytics.New(analytics.DefaultConfig(), bus, orchestrator)

	adminTokens := apitoken.New(cfg.JWTSigningKey, "bastion", "bastion-admin", time.Hour)

	// Demo directory: replaced by a real identity backend in deployment.
	directory := credential.NewDirectory()
	seedAccounts(directory, log)

	authHandler := httptransport.NewAuthHandler(
		directory, sessions, csrfGuard, bus, log, cfg.SessionTTL, cfg.Production)
	formsHandler := httptransport.NewFormsHandler(log)
	incidentHandler := incidenthandler.New(orchestrator, limiter, landscape, bus, log)

	router := httptransport.NewRouter(httptransport.RouterDeps{
		Logger:      log,
		Tracer:      trc,
		Sessions:    sessions,
		CSRFGuard:   csrfGuard,
		Detector:    detector,
		RateLimiter: limiter,
		BlockStore:  blocks,
		AdminTokens: adminTokens,
		Emitter:     bus,
		Auth:        authHandler,
		Forms:       formsHandler,
		Incident:    incidentHandler,
	})

	srv := httpserver.New(cfg.Addr, router)

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orchestratorDone := make(chan struct{})
	go func() {
		defer close(orchestratorDone)
		if err := orchestrator.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("incident orchestrator stopped", "error", err)
		}
	}()

	log.Info("starting http server", "addr", cfg.Addr)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-runCtx.Done()
	log.Info("shutting down server gracefully")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	<-orchestratorDone

	log.Info("server stopped")
}

// seedAccounts registers demo credentials so the pipeline is exercisable out
// of the box. Production deployments point the directory at real accounts.
func seedAccounts(directory *credential.Directory, log *slog.Logger) {
	seeds := []struct {
		email    string
		password string
		role     credential.Role
	}{
		{"admin@example.com", "admin-dev-password", credential.RoleAdmin},
		{"tutor@example.com", "tutor-dev-password", credential.RoleTutor},
		{"member@example.com", "member-dev-password", credential.RoleMember},
	}
	for _, s := range seeds {
		if _, err := directory.Register(s.email, s.password, s.role); err != nil {
			log.Warn("failed to seed account", "error", err)
		}
	}
}
