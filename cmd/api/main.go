package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/redis/go-redis/v9"

	"sql-workbench/internal/api"
	"sql-workbench/internal/approval"
	"sql-workbench/internal/config"
	"sql-workbench/internal/notify"
	"sql-workbench/internal/queue"
	"sql-workbench/internal/ratelimit"
	"sql-workbench/internal/scheduler"
	"sql-workbench/internal/store"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt)
		<-ch
		cancel()
	}()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		log.Fatalf("migrations: %v", err)
	}

	q := queue.NewRedisQueue(cfg)
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	limiter := ratelimit.NewTokenBucket(redisClient, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)

	var notifier notify.Notifier
	if cfg.SMTPAddr != "" {
		notifier = notify.NewSMTPNotifier(cfg.SMTPAddr, cfg.SMTPFrom, cfg.SMTPUsername, cfg.SMTPPassword)
	}
	emitter := notify.NewEmitter(st, notifier)

	// The cron runner lives in the worker; schedule changes reach it over
	// a Redis channel.
	registry := scheduler.NewRemoteRegistry(redisClient)
	approvals := approval.NewService(st, registry, emitter)

	server := api.New(cfg, st, q, limiter, approvals, registry)
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	log.Printf("api listening on :%s", cfg.HTTPPort)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}
