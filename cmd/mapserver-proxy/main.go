package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/maxcollombin/mapserver-proxy/internal/core/cache"
	"github.com/maxcollombin/mapserver-proxy/internal/core/cache/memstore"
	"github.com/maxcollombin/mapserver-proxy/internal/core/cache/redisstore"
	"github.com/maxcollombin/mapserver-proxy/internal/core/catalog"
	"github.com/maxcollombin/mapserver-proxy/internal/core/config"
	"github.com/maxcollombin/mapserver-proxy/internal/core/health"
	"github.com/maxcollombin/mapserver-proxy/internal/core/httpclient"
	"github.com/maxcollombin/mapserver-proxy/internal/core/observability"
	"github.com/maxcollombin/mapserver-proxy/internal/core/server"
	"github.com/maxcollombin/mapserver-proxy/internal/core/translator"
	"github.com/maxcollombin/mapserver-proxy/internal/logger"
	kafkainval "github.com/maxcollombin/mapserver-proxy/pkg/invalidation/kafka"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	servicesFlag := flag.String("services", "", "path to the services config (overrides SERVICES_CONFIG)")
	flag.Parse()

	cfg := config.FromEnv()
	if *servicesFlag != "" {
		cfg.ServicesPath = strings.TrimSpace(*servicesFlag)
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   strings.ToLower(os.Getenv("LOG_CONSOLE")) == "true",
		Component: "mapserver-proxy",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	observability.ExposeBuildInfo(Version)
	appLog.Info("starting mapserver-proxy",
		"addr", cfg.Addr,
		"version", Version,
		"pygeoapi", cfg.PygeoapiURL,
		"services", cfg.ServicesPath)

	services, err := config.LoadServices(cfg.ServicesPath)
	if err != nil {
		appLog.Error("failed to load services config", "path", cfg.ServicesPath, "err", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store cache.Interface
	switch cfg.CacheDriver {
	case "", "none":
	case "memory":
		store = memstore.New(cfg.CacheMaxEntries, cfg.CacheTTL)
	case "redis":
		rc, err := redisstore.New(ctx, cfg.RedisAddr,
			redisstore.WithReadTimeout(cfg.CacheOpTimeout),
			redisstore.WithWriteTimeout(cfg.CacheOpTimeout))
		if err != nil {
			appLog.Error("redis cache init failed", "addr", cfg.RedisAddr, "err", err)
			return 1
		}
		defer func() {
			if err := rc.Close(); err != nil {
				appLog.Error("redis close", "err", err)
			}
		}()
		store = rc
	default:
		appLog.Error("unknown cache driver", "driver", cfg.CacheDriver)
		return 1
	}

	httpClient := httpclient.NewOutbound()
	schemaClient, err := translator.NewSchemaClient(appLog, httpClient, cfg.PygeoapiURL,
		cfg.UpstreamTimeout, store, cfg.SchemaTTL)
	if err != nil {
		appLog.Error("schema client init failed", "err", err)
		return 1
	}
	cat := catalog.New(appLog, services, schemaClient, cfg.SchemaTTL, cfg.SchemaCacheSize)

	proxy, err := translator.New(appLog, httpClient, cfg.PygeoapiURL, cat, translator.Options{
		Cache:        store,
		CacheTTL:     cfg.CacheTTL,
		Timeout:      cfg.UpstreamTimeout,
		DefaultLimit: cfg.DefaultLimit,
		MaxLimit:     cfg.MaxLimit,
	})
	if err != nil {
		appLog.Error("translator init failed", "err", err)
		return 1
	}

	invalCfg := kafkainval.FromEnv()
	invalCfg.Enabled = cfg.Invalidation.Enabled
	invalCfg.Driver = kafkainval.Driver(cfg.Invalidation.Driver)
	runner := kafkainval.New(invalCfg, store, kafkainval.Options{
		Logger:   appLog,
		Register: prometheus.DefaultRegisterer,
		Schemas:  cat,
	})
	if err := runner.Start(ctx); err != nil {
		appLog.Error("invalidation runner start failed", "err", err)
		return 1
	}
	defer runner.Stop()

	reporters := []health.ReadinessReporter{cat, runner}
	if err := server.Run(ctx, cfg, appLog, proxy, reporters...); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}
