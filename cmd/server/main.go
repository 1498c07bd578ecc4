package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	circlehandler "bharosa/internal/circle/handler"
	circleservice "bharosa/internal/circle/service"
	circlestore "bharosa/internal/circle/store"
	"bharosa/internal/loan/consensus"
	loanhandler "bharosa/internal/loan/handler"
	loanmetrics "bharosa/internal/loan/metrics"
	loanservice "bharosa/internal/loan/service"
	loanstore "bharosa/internal/loan/store"
	loantracer "bharosa/internal/loan/tracer"
	"bharosa/internal/loan/workers/deadline"
	memberhandler "bharosa/internal/member/handler"
	memberservice "bharosa/internal/member/service"
	memberstore "bharosa/internal/member/store"
	"bharosa/internal/platform/config"
	"bharosa/internal/platform/database"
	"bharosa/internal/platform/health"
	"bharosa/internal/platform/logger"
	"bharosa/internal/session"
	tokenmetrics "bharosa/internal/token/metrics"
	tokenservice "bharosa/internal/token/service"
	tokenstore "bharosa/internal/token/store"
	httptransport "bharosa/internal/transport/http"
	trustmetrics "bharosa/internal/trust/metrics"
	trustservice "bharosa/internal/trust/service"
	vouchhandler "bharosa/internal/vouch/handler"
	vouchservice "bharosa/internal/vouch/service"
	vouchstore "bharosa/internal/vouch/store"
)

// main wires the domain services together and keeps the server lifecycle
// small. Business logic lives in the internal service packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	log.Info("initializing bharosa",
		"addr", cfg.Addr,
		"consensus_policy", cfg.ConsensusPolicy,
		"postgres", cfg.DatabaseURL != "",
	)

	dbCfg := database.DefaultConfig()
	dbCfg.URL = cfg.DatabaseURL
	pool, err := database.New(dbCfg)
	if err != nil {
		log.Error("database init failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close() //nolint:errcheck // process is exiting

	var (
		members memberservice.Store
		tokens  tokenservice.Store
		circles circleservice.Store
		vouches vouchservice.Store
		loans   loanservice.Store
	)
	if pool != nil {
		db := pool.DB()
		members = memberstore.NewPostgres(db)
		tokens = tokenstore.NewPostgres(db)
		circles = circlestore.NewPostgres(db)
		vouches = vouchstore.NewPostgres(db)
		loans = loanstore.NewPostgres(db)
	} else {
		log.Warn("no DATABASE_URL set, using in-memory stores")
		members = memberstore.NewInMemory()
		tokens = tokenstore.NewInMemory()
		circles = circlestore.NewInMemory()
		vouches = vouchstore.NewInMemory()
		loans = loanstore.NewInMemory()
	}

	sessions := session.NewService(cfg.JWTSigningKey, "bharosa", cfg.SessionTTL)

	tokenSvc := tokenservice.New(tokens,
		tokenservice.WithLogger(log),
		tokenservice.WithMetrics(tokenmetrics.New()),
	)
	circleSvc := circleservice.New(circles, circleservice.WithLogger(log))
	vouchSvc := vouchservice.New(vouches, tokenSvc, circleSvc, vouchservice.WithLogger(log))
	memberSvc := memberservice.New(members, sessions, tokenSvc, memberservice.WithLogger(log))

	trustSvc := trustservice.New(vouchSvc, circleSvc, memberSvc, memberSvc,
		trustservice.WithLogger(log),
		trustservice.WithMetrics(trustmetrics.New()),
	)

	loanSvc := loanservice.New(loans, circleSvc, tokenSvc, vouchSvc, trustSvc,
		loanservice.WithLogger(log),
		loanservice.WithMetrics(loanmetrics.New()),
		loanservice.WithTracer(loantracer.NewOTel()),
		loanservice.WithPolicy(consensus.ByName(cfg.ConsensusPolicy)),
		loanservice.WithVotingWindow(cfg.VotingWindow),
		loanservice.WithGraceWindow(cfg.GraceWindow),
	)

	// The score calculator, loan engine, and registries observe each other,
	// so the remaining edges are bound after construction.
	trustservice.WithRepaymentFacts(loanSvc)(trustSvc)
	memberservice.WithScoreSource(trustSvc)(memberSvc)
	circleservice.WithMembershipObserver(trustSvc)(circleSvc)
	vouchservice.WithTrustObserver(trustSvc)(vouchSvc)

	healthHandler := health.New()
	if pool != nil {
		healthHandler.RegisterCheck("postgres", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return pool.Health(ctx)
		})
	}

	router := httptransport.NewRouter(httptransport.Handlers{
		Member: memberhandler.New(memberSvc, trustSvc, tokenSvc, log),
		Circle: circlehandler.New(circleSvc, log),
		Vouch:  vouchhandler.New(vouchSvc, log),
		Loan:   loanhandler.New(loanSvc, log),
		Health: healthHandler,
	}, sessions, cfg.SystemToken, log)

	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()
	sweeper := deadline.New(loanSvc,
		deadline.WithLogger(log),
		deadline.WithInterval(cfg.WorkerInterval),
	)
	go func() {
		if err := sweeper.Start(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("deadline worker stopped", "error", err)
		}
	}()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Info("starting http server", "addr", cfg.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server gracefully")
	stopWorker()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}
