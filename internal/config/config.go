// Package config 載入遊戲會話服務的配置
//
// 配置來源優先序：預設值 < YAML 檔案 < 環境變數。
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"sort"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// 遊戲種類
const (
	GamePong = "pong"
	GameArea = "area"
)

// 預設模式名稱
const (
	ModePongClassic = "PONG_CLASSIC"
	ModePongDuo     = "PONG_DUO"
	ModeAgario      = "AGARIO"
)

// 配對通知方式
const (
	NotifyLocal = "local"
	NotifyHTTP  = "http"
	NotifyNATS  = "nats"
)

// Mode 單一遊戲模式的配置
type Mode struct {
	// Players 開局所需的玩家人數（配對時每組人數）
	Players int `yaml:"players"`
	// Game 遊戲種類：pong 或 area
	Game string `yaml:"game"`
	// TickInterval 模擬 tick 間隔
	TickInterval time.Duration `yaml:"tick_interval"`
	// Lobby 為 true 時走大廳（start_game / join_game），不走配對佇列
	Lobby bool `yaml:"lobby"`
	// AutoStart 為 true 時引擎建立後立即開始，不等 ready
	AutoStart bool `yaml:"auto_start"`
	// Capacity 大廳房間可容納的最大玩家數
	Capacity int `yaml:"capacity"`
}

// Config 整個應用的配置
type Config struct {
	Server struct {
		Port            int           `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		IdleTimeout     time.Duration `yaml:"idle_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		// PublicURL 提供給 admin 控制器與 HTTP 通知的對外位址
		PublicURL string `yaml:"public_url"`
	} `yaml:"server"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
	} `yaml:"redis"`

	Postgres struct {
		Enabled  bool   `yaml:"enabled"`
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		DBName   string `yaml:"dbname"`
		MaxConns int32  `yaml:"max_conns"`
		MinConns int32  `yaml:"min_conns"`
	} `yaml:"postgres"`

	NATS struct {
		// Enabled 發布房間事件；notify 為 nats 時一定會連線
		Enabled bool   `yaml:"enabled"`
		URL     string `yaml:"url"`
		// EventSubject 房間生命週期事件的 subject 前綴
		EventSubject string `yaml:"event_subject"`
	} `yaml:"nats"`

	Matchmaking struct {
		Interval   time.Duration `yaml:"interval"`
		RequestTTL time.Duration `yaml:"request_ttl"`
		// Notify 組隊通知方式：local、http、nats
		Notify        string        `yaml:"notify"`
		NotifyURL     string        `yaml:"notify_url"`
		NotifySubject string        `yaml:"notify_subject"`
		NotifyTimeout time.Duration `yaml:"notify_timeout"`
	} `yaml:"matchmaking"`

	Rooms struct {
		SweepInterval       time.Duration `yaml:"sweep_interval"`
		AdminAttachTimeout  time.Duration `yaml:"admin_attach_timeout"`
		PlayerAttachTimeout time.Duration `yaml:"player_attach_timeout"`
		TerminalTTL         time.Duration `yaml:"terminal_ttl"`
	} `yaml:"rooms"`

	Recorder struct {
		BufferSize int `yaml:"buffer_size"`
	} `yaml:"recorder"`

	Modes map[string]Mode `yaml:"modes"`
}

// Default 回傳預設配置
func Default() *Config {
	cfg := &Config{}

	cfg.Server.Port = 8080
	cfg.Server.ReadTimeout = 15 * time.Second
	cfg.Server.WriteTimeout = 15 * time.Second
	cfg.Server.IdleTimeout = 60 * time.Second
	cfg.Server.ShutdownTimeout = 30 * time.Second

	cfg.Log.Level = "info"
	cfg.Log.Format = "text"

	cfg.Redis.Addr = "localhost:6379"
	cfg.Redis.PoolSize = 10

	cfg.Postgres.Host = "localhost"
	cfg.Postgres.Port = 5432
	cfg.Postgres.User = "postgres"
	cfg.Postgres.Password = "postgres"
	cfg.Postgres.DBName = "game_session"
	cfg.Postgres.MaxConns = 10
	cfg.Postgres.MinConns = 2

	cfg.NATS.URL = "nats://localhost:4222"
	cfg.NATS.EventSubject = "game.events"

	cfg.Matchmaking.Interval = time.Second
	cfg.Matchmaking.RequestTTL = 5 * time.Minute
	cfg.Matchmaking.Notify = NotifyLocal
	cfg.Matchmaking.NotifySubject = "game.formation"
	cfg.Matchmaking.NotifyTimeout = 5 * time.Second

	cfg.Rooms.SweepInterval = 10 * time.Second
	cfg.Rooms.AdminAttachTimeout = 30 * time.Second
	cfg.Rooms.PlayerAttachTimeout = time.Minute
	cfg.Rooms.TerminalTTL = time.Minute

	cfg.Recorder.BufferSize = 256

	cfg.Modes = DefaultModes()
	return cfg
}

// DefaultModes 回傳內建的遊戲模式
func DefaultModes() map[string]Mode {
	return map[string]Mode{
		ModePongClassic: {Players: 2, Game: GamePong, TickInterval: 25 * time.Millisecond},
		ModePongDuo:     {Players: 4, Game: GamePong, TickInterval: 25 * time.Millisecond},
		ModeAgario: {
			Players:      1,
			Game:         GameArea,
			TickInterval: 50 * time.Millisecond,
			Lobby:        true,
			AutoStart:    true,
			Capacity:     10,
		},
	}
}

// Load 從 YAML 檔案載入配置，path 為空時只使用預設值與環境變數
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		// #nosec G304 - path 來自命令列參數
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv 套用環境變數覆蓋（生產環境常用）
func (c *Config) applyEnv() {
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.Redis.Addr = addr
		c.Redis.Enabled = true
	}
	if os.Getenv("DATABASE_URL") != "" {
		c.Postgres.Enabled = true
	}
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		c.NATS.URL = natsURL
		c.NATS.Enabled = true
	}
	if port := os.Getenv("HTTP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}
}

// Validate 檢查配置是否合理
func (c *Config) Validate() error {
	if len(c.Modes) == 0 {
		return fmt.Errorf("config: at least one mode is required")
	}
	for name, m := range c.Modes {
		if m.Players <= 0 {
			return fmt.Errorf("config: mode %s: players must be positive", name)
		}
		if m.TickInterval <= 0 {
			return fmt.Errorf("config: mode %s: tick_interval must be positive", name)
		}
		if m.Game != GamePong && m.Game != GameArea {
			return fmt.Errorf("config: mode %s: unknown game %q", name, m.Game)
		}
		if m.Game == GamePong && m.Players != 2 && m.Players != 4 {
			return fmt.Errorf("config: mode %s: pong needs 2 or 4 players", name)
		}
	}
	switch c.Matchmaking.Notify {
	case NotifyLocal, NotifyNATS:
	case NotifyHTTP:
		if c.Matchmaking.NotifyURL == "" {
			return fmt.Errorf("config: matchmaking.notify_url is required for http notify")
		}
	default:
		return fmt.Errorf("config: unknown matchmaking.notify %q", c.Matchmaking.Notify)
	}
	if c.Matchmaking.Interval <= 0 {
		return fmt.Errorf("config: matchmaking.interval must be positive")
	}
	return nil
}

// QueueModes 回傳走配對佇列的模式（排序後）
func (c *Config) QueueModes() []string {
	var names []string
	for name, m := range c.Modes {
		if !m.Lobby {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// PostgresDSN 生成 PostgreSQL 連線字串
func (c *Config) PostgresDSN() string {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		return dsn
	}

	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.Postgres.Host,
		c.Postgres.Port,
		c.Postgres.User,
		c.Postgres.Password,
		c.Postgres.DBName,
	)
}

// UseNATS 是否需要 NATS 連線
func (c *Config) UseNATS() bool {
	return c.NATS.Enabled || c.Matchmaking.Notify == NotifyNATS
}

// PostgresURL 生成 URL 格式的連線字串（資料庫遷移需要）
func (c *Config) PostgresURL() string {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		return dsn
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.Postgres.User, c.Postgres.Password),
		Host:     net.JoinHostPort(c.Postgres.Host, strconv.Itoa(c.Postgres.Port)),
		Path:     "/" + c.Postgres.DBName,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

// Addr 回傳 HTTP 監聽位址
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}
