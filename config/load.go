package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"trade-router-go/infrastructure/logger"
)

// AppConfig holds the main runtime configuration.
type AppConfig struct {
	Env     string        `yaml:"env"`
	Log     logger.Config `yaml:"log"`
	Server  ServerConfig  `yaml:"server"`
	Store   StoreConfig   `yaml:"store"`
	Queue   QueueConfig   `yaml:"queue"`
	Worker  WorkerConfig  `yaml:"worker"`
	Routing RoutingConfig `yaml:"routing"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"` // 监听地址，例如 :8080
}

// StoreConfig 订单存储配置。
type StoreConfig struct {
	Dir      string `yaml:"dir"`      // badger 数据目录
	InMemory bool   `yaml:"inMemory"` // 测试/演示用，不落盘
}

// QueueConfig 任务队列配置。
type QueueConfig struct {
	Dir                string `yaml:"dir"`                // badger 数据目录
	InMemory           bool   `yaml:"inMemory"`           // 测试/演示用，不落盘
	MaxAttempts        int    `yaml:"maxAttempts"`        // 单任务最大尝试次数
	BackoffBaseMs      int    `yaml:"backoffBaseMs"`      // 重试退避基数（指数翻倍）
	CompletedRetention int    `yaml:"completedRetention"` // 已完成任务保留条数
	FailedRetention    int    `yaml:"failedRetention"`    // 终态失败任务保留条数
}

// WorkerConfig 工作池配置。
type WorkerConfig struct {
	Concurrency      int `yaml:"concurrency"`      // 并发执行上限
	WindowLimit      int `yaml:"windowLimit"`      // 滑动窗口内允许的任务启动数
	WindowIntervalMs int `yaml:"windowIntervalMs"` // 滑动窗口长度（毫秒）
}

// RoutingConfig 路由选择配置。
type RoutingConfig struct {
	ConfirmationDelayMs int           `yaml:"confirmationDelayMs"` // 模拟链上确认等待
	ExecMinDelayMs      int           `yaml:"execMinDelayMs"`      // 模拟执行延迟下限
	ExecMaxDelayMs      int           `yaml:"execMaxDelayMs"`      // 模拟执行延迟上限
	Venues              []VenueConfig `yaml:"venues"`
}

// VenueConfig 单个模拟执行场所的报价参数。
type VenueConfig struct {
	Name           string  `yaml:"name"`
	PriceMin       float64 `yaml:"priceMin"`
	PriceMax       float64 `yaml:"priceMax"`
	FeeRate        float64 `yaml:"feeRate"`
	QuoteLatencyMs int     `yaml:"quoteLatencyMs"`
}

// Default 返回内置默认配置（两个模拟场所，参数与生产模拟一致）。
func Default() AppConfig {
	return AppConfig{
		Env: "dev",
		Log: logger.DefaultConfig(),
		Server: ServerConfig{
			Addr: ":8080",
		},
		Store: StoreConfig{
			Dir: "data/orders",
		},
		Queue: QueueConfig{
			Dir:                "data/queue",
			MaxAttempts:        3,
			BackoffBaseMs:      1000,
			CompletedRetention: 100,
			FailedRetention:    50,
		},
		Worker: WorkerConfig{
			Concurrency:      10,
			WindowLimit:      100,
			WindowIntervalMs: 60000,
		},
		Routing: RoutingConfig{
			ConfirmationDelayMs: 2000,
			ExecMinDelayMs:      2000,
			ExecMaxDelayMs:      3000,
			Venues: []VenueConfig{
				{Name: "UniswapV3", PriceMin: 0.95, PriceMax: 1.05, FeeRate: 0.003, QuoteLatencyMs: 200},
				{Name: "SushiSwap", PriceMin: 0.94, PriceMax: 1.06, FeeRate: 0.002, QuoteLatencyMs: 200},
			},
		},
	}
}

// Load reads YAML config from path and applies basic validation.
func Load(path string) (AppConfig, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadWithEnvOverrides loads config then overrides runtime fields from env vars if present.
func LoadWithEnvOverrides(path string) (AppConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	if v := os.Getenv("TR_SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("TR_STORE_DIR"); v != "" {
		cfg.Store.Dir = v
	}
	if v := os.Getenv("TR_QUEUE_DIR"); v != "" {
		cfg.Queue.Dir = v
	}
	if v := os.Getenv("TR_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	return cfg, Validate(cfg)
}

// Validate ensures required fields are present.
func Validate(cfg AppConfig) error {
	if cfg.Env == "" {
		return errors.New("env is required")
	}
	if cfg.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	if !cfg.Store.InMemory && cfg.Store.Dir == "" {
		return errors.New("store.dir is required unless store.inMemory")
	}
	if !cfg.Queue.InMemory && cfg.Queue.Dir == "" {
		return errors.New("queue.dir is required unless queue.inMemory")
	}
	if cfg.Queue.MaxAttempts <= 0 {
		return errors.New("queue.maxAttempts must be > 0")
	}
	if cfg.Queue.BackoffBaseMs < 0 {
		return errors.New("queue.backoffBaseMs must be >= 0")
	}
	if cfg.Queue.CompletedRetention <= 0 || cfg.Queue.FailedRetention <= 0 {
		return errors.New("queue retention counts must be > 0")
	}
	if cfg.Worker.Concurrency <= 0 {
		return errors.New("worker.concurrency must be > 0")
	}
	if cfg.Worker.WindowLimit <= 0 {
		return errors.New("worker.windowLimit must be > 0")
	}
	if cfg.Worker.WindowIntervalMs <= 0 {
		return errors.New("worker.windowIntervalMs must be > 0")
	}
	if cfg.Routing.ConfirmationDelayMs < 0 {
		return errors.New("routing.confirmationDelayMs must be >= 0")
	}
	if cfg.Routing.ExecMinDelayMs < 0 || cfg.Routing.ExecMaxDelayMs < cfg.Routing.ExecMinDelayMs {
		return errors.New("routing exec delay bounds are invalid")
	}
	if len(cfg.Routing.Venues) == 0 {
		return errors.New("routing.venues config is required")
	}
	seen := make(map[string]bool, len(cfg.Routing.Venues))
	for _, v := range cfg.Routing.Venues {
		if v.Name == "" {
			return errors.New("venue name is required")
		}
		if seen[v.Name] {
			return fmt.Errorf("venue %s is duplicated", v.Name)
		}
		seen[v.Name] = true
		if v.PriceMin <= 0 || v.PriceMax < v.PriceMin {
			return fmt.Errorf("venue %s price range is invalid", v.Name)
		}
		if v.FeeRate < 0 || v.FeeRate >= 1 {
			return fmt.Errorf("venue %s feeRate must be in [0,1)", v.Name)
		}
		if v.QuoteLatencyMs < 0 {
			return fmt.Errorf("venue %s quoteLatencyMs must be >= 0", v.Name)
		}
	}
	return nil
}
