package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"recipeshare/services/rs-realtime/internal/audit"
	"recipeshare/services/rs-realtime/internal/auth"
	"recipeshare/services/rs-realtime/internal/config"
	"recipeshare/services/rs-realtime/internal/db"
	"recipeshare/services/rs-realtime/internal/hub"
	"recipeshare/services/rs-realtime/internal/metrics"
	"recipeshare/services/rs-realtime/internal/notify"
	"recipeshare/services/rs-realtime/internal/presence"
	"recipeshare/services/rs-realtime/internal/queue"
	"recipeshare/services/rs-realtime/internal/repo"
	"recipeshare/services/rs-realtime/internal/ws"
)

// Version is injected via -ldflags "-X main.Version=..."
var Version = "dev"

func main() {
	var cfgPaths string
	flag.StringVar(&cfgPaths, "c", "./config.yml", "config file path (supports: a.yml,b.yml)")
	flag.Parse()

	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg, err := config.Load(cfgPaths)
	if err != nil {
		log.Fatal("load config failed", zap.Error(err))
	}
	log.Info("rs-realtime starting", zap.String("version", Version), zap.String("addr", cfg.HTTP.Addr))

	metrics.Register()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.Database,
	})
	defer rdb.Close()
	{
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		err := rdb.Ping(ctx).Err()
		cancel()
		if err != nil {
			log.Fatal("redis init failed", zap.Error(err))
		}
	}

	mysql, err := db.Open(context.Background(), cfg.MySQL.DSN, db.Options{
		MaxOpen:     cfg.MySQL.MaxOpenConns,
		MaxIdle:     cfg.MySQL.MaxIdleConns,
		ConnMaxLife: cfg.MySQL.ConnMaxLife,
	}, log)
	if err != nil {
		log.Fatal("mysql init failed", zap.Error(err))
	}
	defer mysql.Close()

	recipes := repo.NewRecipeRepo(mysql)
	users := repo.NewUserRepo(mysql, rdb, cfg.Cache.ProfileTTL, log)

	h := hub.New(log)
	pres := presence.New(rdb, cfg.Presence.TTL, log)
	sessions := auth.NewSessionStore(rdb, cfg.Auth.Token.RedisPrefix)
	router := notify.NewRouter(h, users, pres, log)

	handler := ws.NewHandler(h, sessions, pres, log, ws.Options{
		TokenHeader:   cfg.Auth.Token.Header,
		BearerPrefix:  cfg.Auth.Token.BearerPrefix,
		TokenQueryKey: cfg.Auth.Token.QueryKey,
		WriteTimeout:  cfg.WS.WriteTimeout,
		ReadTimeout:   cfg.WS.ReadTimeout,
		QueueSize:     cfg.WS.QueueSize,
	})
	pres.SetKicker(handler.Kick)
	handler.OnOnline(func(uid int64) {
		log.Debug("user online", zap.Int64("uid", uid))
	})
	handler.OnOffline(func(uid int64) {
		log.Debug("user offline", zap.Int64("uid", uid))
	})

	publisher := queue.NewPublisher(rdb, cfg.Audit.Stream)
	reader := queue.NewGroupReader(rdb, cfg.Audit.Stream, cfg.Audit.Group, cfg.Audit.Consumer, log)
	gate := audit.NewGate(cfg.Audit.Denylist)
	consumer := audit.NewConsumer(reader, recipes, users, router, gate, log, audit.Options{
		Tick:  cfg.Audit.Tick,
		Batch: cfg.Audit.Batch,
	})

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()
	consumer.Start(rootCtx)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.Handle("/ws", handler)

	// Internal surface for the API service: hand a recipe over for
	// screening, or terminate a user's live session.
	mux.HandleFunc("/internal/submit", func(w http.ResponseWriter, r *http.Request) {
		var q struct {
			RecipeID int64 `json:"recipe_id"`
			UserID   int64 `json:"user_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if q.RecipeID <= 0 || q.UserID <= 0 {
			http.Error(w, "recipe_id and user_id required", http.StatusBadRequest)
			return
		}
		id, err := publisher.EnqueueRecipe(r.Context(), q.RecipeID, q.UserID)
		if err != nil {
			log.Error("submit enqueue failed", zap.Int64("recipe_id", q.RecipeID), zap.Error(err))
			http.Error(w, "enqueue failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"record_id": id})
	})
	mux.HandleFunc("/internal/kick", func(w http.ResponseWriter, r *http.Request) {
		var q struct {
			UID int64 `json:"uid"`
		}
		if err := json.NewDecoder(r.Body).Decode(&q); err != nil || q.UID <= 0 {
			http.Error(w, "uid required", http.StatusBadRequest)
			return
		}
		if err := pres.Kick(r.Context(), q.UID); err != nil {
			log.Warn("kick presence clear failed", zap.Int64("uid", q.UID), zap.Error(err))
		}
		w.WriteHeader(http.StatusNoContent)
	})

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 2 * time.Second,
	}
	go func() {
		log.Info("rs-realtime listening", zap.String("addr", cfg.HTTP.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch
	log.Info("rs-realtime shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	consumer.Stop()
	h.CloseAll()
	rootCancel()
}
