package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"poolserve/internal/logger"

	"gopkg.in/yaml.v3"
)

// FileConfig は設定ファイルの構造
type FileConfig struct {
	Server ServerConfig `yaml:"server" json:"server"`
	Pool   PoolConfig   `yaml:"pool" json:"pool"`
	Admin  AdminConfig  `yaml:"admin" json:"admin"`
	Log    LogConfig    `yaml:"log" json:"log"`
	Faults FaultsConfig `yaml:"faults" json:"faults"`
}

// ServerConfig は接続受付の設定
type ServerConfig struct {
	Addr           string `yaml:"addr" json:"addr"`
	MaxConnections int    `yaml:"max_connections" json:"max_connections"`
	DocRoot        string `yaml:"doc_root" json:"doc_root"`
	SleepDelay     string `yaml:"sleep_delay" json:"sleep_delay"`
}

// PoolConfig はワーカープールの設定
type PoolConfig struct {
	Workers       int `yaml:"workers" json:"workers"`
	QueueCapacity int `yaml:"queue_capacity" json:"queue_capacity"`
}

// AdminConfig は管理APIの設定
type AdminConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Addr    string `yaml:"addr" json:"addr"`
}

// LogConfig はログ設定
type LogConfig struct {
	Level string `yaml:"level" json:"level"`
}

// FaultsConfig は障害注入の設定
type FaultsConfig struct {
	Enabled   bool    `yaml:"enabled" json:"enabled"`
	PanicRate float64 `yaml:"panic_rate" json:"panic_rate"`
	DelayRate float64 `yaml:"delay_rate" json:"delay_rate"`
	Delay     string  `yaml:"delay" json:"delay"`
}

// Runtime は検証・変換済みの実行時設定
type Runtime struct {
	Addr           string
	MaxConnections int
	DocRoot        string
	SleepDelay     time.Duration

	Workers       int
	QueueCapacity int

	AdminEnabled bool
	AdminAddr    string

	LogLevel logger.Level

	FaultsEnabled bool
	PanicRate     float64
	DelayRate     float64
	FaultDelay    time.Duration
}

// Default はデフォルトの実行時設定を返す
func Default() Runtime {
	return Runtime{
		Addr:           "127.0.0.1:7878",
		MaxConnections: 0,
		DocRoot:        "public",
		SleepDelay:     10 * time.Second,
		Workers:        4,
		QueueCapacity:  0,
		AdminEnabled:   false,
		AdminAddr:      "127.0.0.1:9090",
		LogLevel:       logger.LevelInfo,
		FaultDelay:     100 * time.Millisecond,
	}
}

// LoadFile は設定ファイルを読み込む
func LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config FileConfig
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}

	return &config, nil
}

// Validate は設定を検証する
// workers: 0 は「未指定」としてデフォルトを使う。明示的な0サイズのプールは
// worker.ErrZeroSize としてプール作成時に報告される
func (f *FileConfig) Validate() error {
	if f.Server.MaxConnections < 0 {
		return fmt.Errorf("server.max_connections must be non-negative")
	}

	if f.Pool.Workers < 0 {
		return fmt.Errorf("pool.workers must be non-negative")
	}

	if f.Pool.QueueCapacity < 0 {
		return fmt.Errorf("pool.queue_capacity must be non-negative")
	}

	if f.Faults.PanicRate < 0 || f.Faults.PanicRate > 1 {
		return fmt.Errorf("faults.panic_rate must be between 0 and 1")
	}

	if f.Faults.DelayRate < 0 || f.Faults.DelayRate > 1 {
		return fmt.Errorf("faults.delay_rate must be between 0 and 1")
	}

	if _, err := logger.ParseLevel(f.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}

	return nil
}

// ToRuntime はFileConfigを実行時設定に変換する
func (f *FileConfig) ToRuntime() (Runtime, error) {
	rt := Default()

	if f.Server.Addr != "" {
		rt.Addr = f.Server.Addr
	}
	if f.Server.MaxConnections > 0 {
		rt.MaxConnections = f.Server.MaxConnections
	}
	if f.Server.DocRoot != "" {
		rt.DocRoot = f.Server.DocRoot
	}
	if f.Server.SleepDelay != "" {
		d, err := time.ParseDuration(f.Server.SleepDelay)
		if err != nil {
			return rt, fmt.Errorf("invalid sleep_delay: %w", err)
		}
		rt.SleepDelay = d
	}

	if f.Pool.Workers > 0 {
		rt.Workers = f.Pool.Workers
	}
	if f.Pool.QueueCapacity > 0 {
		rt.QueueCapacity = f.Pool.QueueCapacity
	}

	rt.AdminEnabled = f.Admin.Enabled
	if f.Admin.Addr != "" {
		rt.AdminAddr = f.Admin.Addr
	}

	level, err := logger.ParseLevel(f.Log.Level)
	if err != nil {
		return rt, err
	}
	rt.LogLevel = level

	rt.FaultsEnabled = f.Faults.Enabled
	rt.PanicRate = f.Faults.PanicRate
	rt.DelayRate = f.Faults.DelayRate
	if f.Faults.Delay != "" {
		d, err := time.ParseDuration(f.Faults.Delay)
		if err != nil {
			return rt, fmt.Errorf("invalid faults delay: %w", err)
		}
		rt.FaultDelay = d
	}

	return rt, nil
}
