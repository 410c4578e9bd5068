package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gormpg "gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"autolog/pkg/bus"
	"autolog/pkg/db"
	"autolog/pkg/sink"
	"autolog/pkg/telemetry"
	"autolog/services/api"
	"autolog/services/api/internal/config"
)

func main() {
	if err := run("autolog-api"); err != nil {
		log.New(os.Stderr, "", log.LstdFlags).Fatal(err)
	}
}

func run(serviceName string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, middleware, logger, err := telemetry.Init(ctx, serviceName)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "%s: telemetry shutdown error: %v\n", serviceName, err)
		}
	}()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	pool, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer pool.Close()

	if cfg.AutoMigrate {
		if err := db.Migrate(ctx, pool); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		logger.Printf("migrations applied")
	}

	ormDB, err := gorm.Open(gormpg.Open(cfg.DatabaseURL), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return fmt.Errorf("open orm: %w", err)
	}

	store := &api.Store{DB: pool, ORM: ormDB}

	if cfg.NATSURL != "" {
		b, err := bus.New(cfg.NATSURL)
		if err != nil {
			return fmt.Errorf("connect bus: %w", err)
		}
		defer b.Close()
		store.Bus = b
	}

	pgSink, err := sink.NewPostgres(pool, sink.WithDestination(cfg.SchemaName, cfg.TableName))
	if err != nil {
		return fmt.Errorf("create sink: %w", err)
	}

	app, err := api.New(store, pgSink, api.Config{Schema: cfg.SchemaName, Table: cfg.TableName})
	if err != nil {
		return fmt.Errorf("create api: %w", err)
	}

	routes, err := app.Routes()
	if err != nil {
		return fmt.Errorf("build routes: %w", err)
	}

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           middleware(routes),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Printf("collector listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	logger.Printf("collector stopped")
	return nil
}
