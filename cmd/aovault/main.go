// Package main wires together the vault service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/aovault/aovault/internal/api"
	"github.com/aovault/aovault/internal/clock/system"
	"github.com/aovault/aovault/internal/config"
	"github.com/aovault/aovault/internal/content"
	"github.com/aovault/aovault/internal/fetch"
	"github.com/aovault/aovault/internal/importer"
	"github.com/aovault/aovault/internal/logging"
	"github.com/aovault/aovault/internal/metrics"
	"github.com/aovault/aovault/internal/monitor"
	"github.com/aovault/aovault/internal/ratelimit"
	"github.com/aovault/aovault/internal/scrape"
	"github.com/aovault/aovault/internal/store/memory"
	"github.com/aovault/aovault/internal/store/postgres"
	"github.com/aovault/aovault/internal/transport"
	"github.com/aovault/aovault/internal/vault"
)

type stores struct {
	works    vault.WorkStore
	chapters vault.ChapterStore
	health   vault.HealthStore
	close    func()
}

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := system.New()

	st, err := openStores(ctx, cfg, clock)
	if err != nil {
		logger.Fatal("store init failed", zap.Error(err))
	}
	defer st.close()

	limiter := ratelimit.New(cfg.MinSpacing(), clock)
	strategies := []transport.Strategy{
		transport.NewDirect(transport.DirectConfig{
			UserAgent:     cfg.Archive.UserAgent,
			PageTimeout:   cfg.PageTimeout(),
			BinaryTimeout: cfg.EpubTimeout(),
		}, logger.Named("direct")),
	}
	proxy := transport.NewProxy(transport.ProxyConfig{
		WorkerURL: cfg.Proxy.WorkerURL,
		Timeout:   cfg.ProxyTimeout(),
	}, logger.Named("proxy"))
	if proxy.Configured() {
		strategies = append(strategies, proxy)
	}
	orchestrator := fetch.New(limiter, cfg.RetryCeiling(), logger.Named("fetch"), strategies...)

	site := scrape.Site{BaseURL: cfg.Archive.BaseURL}
	imp := importer.New(st.works, st.chapters, orchestrator, site, cfg.Storage.EpubDir, clock, logger.Named("importer"))
	resolver := content.New(st.works, st.chapters, orchestrator, site, logger.Named("content"))

	mon := monitor.New(
		st.health,
		time.Duration(cfg.Monitor.IntervalMinutes)*time.Minute,
		time.Duration(cfg.Monitor.RetentionDays)*24*time.Hour,
		clock,
		logger.Named("monitor"),
		monitor.NewArchiveAgent(nil, cfg.Archive.BaseURL, cfg.Proxy.WorkerURL, cfg.Archive.UserAgent, clock),
		monitor.NewStoreAgent(st.health, clock),
	)
	if cfg.Monitor.Enabled {
		go mon.Run(ctx)
	}

	apiServer := api.NewServer(st.works, st.health, imp, resolver, mon, clock, cfg, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
}

// openStores picks Postgres when a DSN is configured, the in-memory store
// otherwise.
func openStores(ctx context.Context, cfg config.Config, clock vault.Clock) (stores, error) {
	if cfg.DB.DSN == "" {
		mem := memory.New(clock)
		return stores{works: mem, chapters: mem, health: mem, close: func() {}}, nil
	}
	pg, err := postgres.New(ctx, postgres.Config{
		DSN:      cfg.DB.DSN,
		MaxConns: cfg.DB.MaxConns,
		MinConns: cfg.DB.MinConns,
	})
	if err != nil {
		return stores{}, err
	}
	if err := pg.EnsureSchema(ctx); err != nil {
		pg.Close()
		return stores{}, err
	}
	return stores{works: pg, chapters: pg, health: pg, close: pg.Close}, nil
}
