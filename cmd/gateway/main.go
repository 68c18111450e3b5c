// Command gateway is the image-archive access gateway's entry point. It
// wires configuration, storage, the FITS cutout core and the HTTP
// transport together, and keeps the process lifecycle small, following
// the teacher's cmd/server/main.go shape.
package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"time"

	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"fitsgw/internal/fits/cutout"
	"fitsgw/internal/fits/stream"
	"fitsgw/internal/gateway/access"
	"fitsgw/internal/gateway/audit"
	"fitsgw/internal/gateway/filestream"
	"fitsgw/internal/gateway/fswalk"
	gatewayhttp "fitsgw/internal/gateway/http"
	"fitsgw/internal/gateway/session"
	"fitsgw/internal/platform/config"
	"fitsgw/internal/platform/httpserver"
	"fitsgw/internal/platform/logger"
	"fitsgw/internal/platform/metrics"
	platformredis "fitsgw/internal/platform/redis"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.LogLevel)
	m := metrics.New()

	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		log.Error("failed to open postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	redisClient, err := platformredis.New(config.RedisFromEnv())
	if err != nil {
		log.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	accessStore := access.New(db)
	sessionValidator := session.New(cfg.JWTSigningKey, redisClient, config.SessionCacheTTL)
	auditStore := audit.New(db)

	var auditPublisher *audit.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		auditPublisher, err = audit.NewPublisher(ctx, cfg.KafkaBrokers, cfg.KafkaTopic)
		cancel()
		if err != nil {
			log.Error("failed to connect to kafka", "error", err)
			os.Exit(1)
		}
		defer auditPublisher.Close()
	}

	cutoutService := cutout.NewService(openFitsFile)
	fileService := filestream.New(filestream.OSOpener)
	lister := fswalk.New()

	var handlerOpts []gatewayhttp.Option
	if redisClient != nil {
		handlerOpts = append(handlerOpts, gatewayhttp.WithListingCache(listingCache{redisClient}, config.ListingCacheTTL))
	}

	handler := gatewayhttp.New(cfg.DataRoot, cutoutService, fileService, lister, accessStore, auditStore, log, m, handlerOpts...)

	router := gatewayhttp.NewRouter(handler, session.OptionalAuth(sessionValidator, log))

	srv := httpserver.New(cfg.Addr, router)

	g, ctx := errgroup.WithContext(context.Background())

	g.Go(func() error {
		log.Info("starting fitsgw", "addr", cfg.Addr, "data_root", cfg.DataRoot)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	if auditPublisher != nil {
		worker := audit.NewWorker(auditStore, auditPublisher, log, 2*time.Second)
		g.Go(func() error {
			return worker.Run(ctx)
		})
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	select {
	case <-quit:
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}

	if err := g.Wait(); err != nil && err != http.ErrServerClosed {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

// openFitsFile is the cutout.Opener backing production requests: it
// opens the source FITS file for random-access reads, matching the
// teacher's pattern of a thin func-typed seam instead of an interface
// where only one implementation will ever exist in production.
func openFitsFile(path string) (src stream.Source, closeFn func() error, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}

// listingCache adapts *platformredis.Client to gatewayhttp.ListingCache.
type listingCache struct {
	client *platformredis.Client
}

func (c listingCache) Get(ctx context.Context, key string) (string, error) {
	return c.client.Get(ctx, key).Result()
}

func (c listingCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}
