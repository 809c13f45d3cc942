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

	"github.com/redis/go-redis/v9"

	"github.com/mahaj/placement-chat/pkg/auth"
	"github.com/mahaj/placement-chat/pkg/bridge"
	"github.com/mahaj/placement-chat/pkg/config"
	"github.com/mahaj/placement-chat/pkg/presence"
	"github.com/mahaj/placement-chat/pkg/relay"
	"github.com/mahaj/placement-chat/pkg/room"
	"github.com/mahaj/placement-chat/pkg/store"
	"github.com/mahaj/placement-chat/pkg/upload"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Message store: Scylla when hosts are configured, in-memory otherwise.
	var messages store.Store
	if len(cfg.ScyllaHosts) > 0 {
		scylla, err := store.NewScylla(cfg.ScyllaHosts, cfg.ScyllaKeyspace, cfg.SnowflakeNode, log)
		if err != nil {
			log.Error("connect scylla", "err", err)
			os.Exit(1)
		}
		defer scylla.Close()
		messages = scylla
	} else {
		log.Warn("SCYLLA_HOSTS not set, using in-memory store; messages are lost on restart")
		messages = store.NewMemory()
	}

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
	}
	pres := presence.NewTracker(rdb, log)

	router := room.NewRouter(log)

	// Fan-out is local unless Kafka brokers are configured, in which case
	// every instance re-broadcasts the topic into its own router.
	var fanout relay.Fanout = router
	if len(cfg.KafkaBrokers) > 0 {
		kb := bridge.NewKafka(cfg.KafkaBrokers, cfg.KafkaTopic, router, log)
		defer kb.Close()
		go func() {
			if err := kb.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("kafka bridge stopped", "err", err)
			}
		}()
		fanout = kb
	}

	uploads, err := upload.NewService(cfg.UploadDir, cfg.UploadMaxBytes, log)
	if err != nil {
		log.Error("init uploads", "err", err)
		os.Exit(1)
	}

	tokens := auth.NewTokens([]byte(cfg.JWTSecret), cfg.TokenTTL)

	srv := &server{
		cfg:      cfg,
		log:      log,
		messages: messages,
		router:   router,
		fanout:   fanout,
		presence: pres,
		uploads:  uploads,
		tokens:   tokens,
	}

	httpSrv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv.routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("chat server listening", "addr", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	log.Info("stopped")
}
