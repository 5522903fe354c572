// Command server wires internal/bootstrap.Container into an HTTP
// listener and a robfig/cron/v3 scheduler, the external tick mechanism
// internal/jobs.Orchestrator expects.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/robfig/cron/v3"

	"github.com/r3e-network/security-governance-core/infrastructure/middleware"
	"github.com/r3e-network/security-governance-core/internal/bootstrap"
	"github.com/r3e-network/security-governance-core/internal/config"
	"github.com/r3e-network/security-governance-core/internal/httpapi"
	"github.com/r3e-network/security-governance-core/internal/ledger"
	"github.com/r3e-network/security-governance-core/internal/platform/database"
	"github.com/r3e-network/security-governance-core/internal/platform/migrations"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address (defaults to config or :8080)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	rootCtx := context.Background()

	stores, closeStores, err := openStores(rootCtx, cfg)
	if err != nil {
		log.Fatalf("open stores: %v", err)
	}
	defer closeStores()

	container, err := bootstrap.New(rootCtx, cfg, stores)
	if err != nil {
		log.Fatalf("construct container: %v", err)
	}

	listenAddr := determineAddr(*addr, cfg)
	router := httpapi.NewRouter(container, cfg.Auth.JWTSecret)
	httpServer := &http.Server{
		Addr:              listenAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	scheduler := cron.New()
	registerTicks(scheduler, container, rootCtx)
	scheduler.Start()

	shutdown := middleware.NewGracefulShutdown(httpServer, 10*time.Second)
	shutdown.OnShutdown(func() {
		<-scheduler.Stop().Done()
	})
	shutdown.OnShutdown(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Stop(stopCtx); err != nil {
			container.Logger.WithError(err).Warn("container shutdown")
		}
	})
	shutdown.ListenForSignals()

	go func() {
		container.Logger.WithFields(map[string]interface{}{"addr": listenAddr}).Info("security-governance-core listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server: %v", err)
		}
	}()

	shutdown.Wait()
}

// registerTicks schedules the four periodic sweeps internal/bootstrap
// registered against the job orchestrator. The periods mirror the
// Definition.Period values set in bootstrap.registerJobs: cron is the
// external trigger the orchestrator deliberately does not own.
func registerTicks(scheduler *cron.Cron, c *bootstrap.Container, ctx context.Context) {
	tick := func(jobName string) func() {
		return func() {
			if err := c.Jobs.Tick(ctx, jobName); err != nil {
				c.Logger.WithError(err).WithField("job", jobName).Warn("job tick failed")
			}
		}
	}

	mustAddFunc(scheduler, "@every 24h", tick("accessAuditor"))
	mustAddFunc(scheduler, "@every 24h", tick("liquidityAnalyzer"))
	mustAddFunc(scheduler, "@every 10m", tick("velocityCalculator"))
	mustAddFunc(scheduler, "@every 10m", tick("cachePruner"))
}

func mustAddFunc(scheduler *cron.Cron, spec string, fn func()) {
	if _, err := scheduler.AddFunc(spec, fn); err != nil {
		log.Fatalf("schedule %q: %v", spec, err)
	}
}

// openStores establishes the durable postgres-backed ledger store when
// cfg.Database.DSN is configured, applying the embedded schema with
// golang-migrate first. With no DSN set (the default, e.g. local dev),
// it falls back to bootstrap's in-memory stores. The returned close
// func is always safe to call, even on the in-memory path.
func openStores(ctx context.Context, cfg *config.Config) (bootstrap.Stores, func(), error) {
	noop := func() {}
	if strings.TrimSpace(cfg.Database.DSN) == "" {
		return bootstrap.Stores{}, noop, nil
	}

	db, err := database.Open(ctx, cfg.Database.DSN)
	if err != nil {
		return bootstrap.Stores{}, noop, fmt.Errorf("open database: %w", err)
	}
	if cfg.Database.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	}
	if cfg.Database.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	}
	if cfg.Database.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
	}

	if err := migrations.Apply(db); err != nil {
		db.Close()
		return bootstrap.Stores{}, noop, fmt.Errorf("apply migrations: %w", err)
	}

	sqlxDB := sqlx.NewDb(db, "postgres")
	stores := bootstrap.Stores{Ledger: ledger.NewPostgresStore(sqlxDB)}
	closeFn := func() { db.Close() }
	return stores, closeFn, nil
}

func determineAddr(flagAddr string, cfg *config.Config) string {
	addr := strings.TrimSpace(flagAddr)
	if addr != "" {
		return addr
	}
	if cfg != nil {
		host := strings.TrimSpace(cfg.Server.Host)
		port := cfg.Server.Port
		if port != 0 {
			if host == "" {
				host = "0.0.0.0"
			}
			return fmt.Sprintf("%s:%d", host, port)
		}
	}
	return ":8080"
}
