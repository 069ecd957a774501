package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/koopa0/system-design/14-game-session/internal/admin"
	"github.com/koopa0/system-design/14-game-session/internal/broadcast"
	"github.com/koopa0/system-design/14-game-session/internal/config"
	"github.com/koopa0/system-design/14-game-session/internal/gateway"
	"github.com/koopa0/system-design/14-game-session/internal/handler"
	"github.com/koopa0/system-design/14-game-session/internal/matchmaking"
	"github.com/koopa0/system-design/14-game-session/internal/notify"
	"github.com/koopa0/system-design/14-game-session/internal/room"
	"github.com/koopa0/system-design/14-game-session/internal/session"
	"github.com/koopa0/system-design/14-game-session/internal/sim/games"
	"github.com/koopa0/system-design/14-game-session/internal/store"
	"github.com/koopa0/system-design/14-game-session/internal/store/migrations"
	"github.com/koopa0/system-design/14-game-session/pkg/logger"
)

func main() {
	// 解析命令行參數
	var (
		configPath = flag.String("config", "", "配置檔路徑（YAML）")
		logLevel   = flag.String("log-level", "", "日誌級別 (debug, info, warn, error)，覆蓋配置檔")
		logFormat  = flag.String("log-format", "", "日誌格式 (text, json)，覆蓋配置檔")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "載入配置失敗: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("服務異常結束", "error", err)
		os.Exit(1)
	}
}

// infra 外部依賴，關閉時依相反順序釋放
type infra struct {
	redis *redis.Client
	pool  *pgxpool.Pool
	nats  *nats.Conn
}

func (i *infra) close() {
	if i.nats != nil {
		if err := i.nats.Drain(); err != nil {
			i.nats.Close()
		}
	}
	if i.pool != nil {
		i.pool.Close()
	}
	if i.redis != nil {
		_ = i.redis.Close()
	}
}

// run 組裝所有元件並啟動服務，ctx 取消時優雅關閉
func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	deps := &infra{}
	defer deps.close()

	recorder, err := setupRecorder(ctx, cfg, deps, log)
	if err != nil {
		return err
	}
	defer recorder.Close()

	if cfg.UseNATS() {
		nc, err := notify.Connect(cfg.NATS.URL, log)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		deps.nats = nc
	}

	// 核心元件
	sessions := session.NewRegistry(log)
	hub := broadcast.NewHub(sessions, log)
	rooms := room.NewRegistry(room.Options{
		Modes:               cfg.Modes,
		Factory:             games.NewFactory(cfg.Modes, nil),
		Sessions:            sessions,
		Hub:                 hub,
		Recorder:            recorder,
		Logger:              log.With("component", "rooms"),
		SweepInterval:       cfg.Rooms.SweepInterval,
		AdminAttachTimeout:  cfg.Rooms.AdminAttachTimeout,
		PlayerAttachTimeout: cfg.Rooms.PlayerAttachTimeout,
		TerminalTTL:         cfg.Rooms.TerminalTTL,
	})

	publisher := notify.NewEventPublisher(deps.nats, cfg.NATS.EventSubject, log)
	controller := admin.NewController(rooms, sessions, publisher, log.With("component", "admin"))

	notifier, err := notify.New(cfg, rooms, deps.nats, log)
	if err != nil {
		return fmt.Errorf("setup notifier: %w", err)
	}

	queue := matchmaking.New(matchmaking.Options{
		Modes:         cfg.Modes,
		Activity:      rooms,
		Notifier:      notifier,
		Admin:         controller,
		Recorder:      recorder,
		Logger:        log.With("component", "matchmaking"),
		Interval:      cfg.Matchmaking.Interval,
		RequestTTL:    cfg.Matchmaking.RequestTTL,
		NotifyTimeout: cfg.Matchmaking.NotifyTimeout,
	})
	rooms.SetReleaser(queue)

	var responder *notify.Responder
	if cfg.Matchmaking.Notify == config.NotifyNATS {
		responder = notify.NewResponder(deps.nats, rooms, log)
		if err := responder.Start(cfg.Matchmaking.NotifySubject); err != nil {
			return fmt.Errorf("start formation responder: %w", err)
		}
	}

	gw := gateway.New(queue, rooms, sessions, hub, log.With("component", "gateway"))
	api := handler.New(handler.Options{
		Rooms:         rooms,
		Queue:         queue,
		Sessions:      sessions,
		Players:       recorder,
		Gateway:       gw,
		RecorderStats: recorder.Stats,
		Logger:        log.With("component", "http"),
	})

	// 設置路由
	mux := http.NewServeMux()
	api.Register(mux)
	gw.Register(mux)

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	rooms.Start()
	queue.Start(ctx)

	serverErr := make(chan error, 1)
	go func() {
		log.Info("遊戲會話服務啟動",
			"addr", server.Addr,
			"notify", cfg.Matchmaking.Notify,
			"modes", len(cfg.Modes),
			"redis", cfg.Redis.Enabled,
			"postgres", cfg.Postgres.Enabled,
			"nats", deps.nats != nil)

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("收到關閉信號，開始優雅關閉...")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// 停止接受新連線
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("服務器關閉失敗", "error", err)
	}

	// 拒絕等待中的請求 → 拆除房間（關閉 admin 與玩家連線）→ 關閉剩餘連線
	queue.Stop()
	rooms.Stop()
	controller.Stop()
	gw.Stop()
	if responder != nil {
		if err := responder.Stop(); err != nil {
			log.Warn("停止組隊回應者失敗", "error", err)
		}
	}

	log.Info("服務器已關閉", "recorder", recorder.Stats())
	return nil
}

// setupRecorder 依配置選擇狀態與歷史的儲存後端
func setupRecorder(ctx context.Context, cfg *config.Config, deps *infra, log *slog.Logger) (*store.Recorder, error) {
	mem := store.NewMemoryStore()
	var (
		statuses store.StatusStore  = mem
		history  store.HistoryStore = mem
	)

	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		deps.redis = client
		statuses = store.NewRedisStatusStore(client)
		log.Info("Redis 已連線", "addr", cfg.Redis.Addr)
	}

	if cfg.Postgres.Enabled {
		if err := migrations.Run(cfg.PostgresURL(), log); err != nil {
			return nil, fmt.Errorf("run migrations: %w", err)
		}

		pool, err := store.NewPool(ctx, cfg.PostgresDSN(), cfg.Postgres.MaxConns, cfg.Postgres.MinConns)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		deps.pool = pool
		history = store.NewPostgresHistoryStore(pool)
		log.Info("PostgreSQL 已連線", "host", cfg.Postgres.Host, "dbname", cfg.Postgres.DBName)
	}

	return store.NewRecorder(statuses, history, cfg.Recorder.BufferSize, log.With("component", "recorder")), nil
}
