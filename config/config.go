// Package config 服务配置：默认值 → 可选 YAML 文件 → HAYATOS_* 环境变量 → 命令行参数
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"hayatos/data/db"
	"hayatos/errors"
	"hayatos/logging"
	"hayatos/patterns/retry"
)

// EnvPrefix 环境变量前缀，server.addr 对应 HAYATOS_SERVER_ADDR
const EnvPrefix = "HAYATOS"

// Config 服务配置
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  db.DBConfig     `mapstructure:"database"`
	Log       LogConfig       `mapstructure:"log"`
	Query     QueryConfig     `mapstructure:"query"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Queue     QueueConfig     `mapstructure:"queue"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Limits    LimitsConfig    `mapstructure:"limits"`
	Account   AccountConfig   `mapstructure:"account"`
	Snowflake SnowflakeConfig `mapstructure:"snowflake"`
	// Startup 启动时连接外部依赖的重试策略
	Startup retry.Config `mapstructure:"startup"`
}

// ServerConfig HTTP 服务
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// PrincipalHeader 上游认证网关写入的用户标识头
	PrincipalHeader string `mapstructure:"principal_header"`
}

// LogConfig 日志
type LogConfig struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"`
	Output   string `mapstructure:"output"`
	Sampling bool   `mapstructure:"sampling"`
}

// Zap 转换为 zap 配置
func (c LogConfig) Zap() logging.ZapConfig {
	return logging.ZapConfig{Level: c.Level, Format: c.Format, Output: c.Output, Sampling: c.Sampling}
}

// QueryConfig 查询编译
type QueryConfig struct {
	DefaultLimit int `mapstructure:"default_limit"`
	MaxLimit     int `mapstructure:"max_limit"`
	// AllowPartial 聚合查询中部分来源失败时仍返回其余结果
	AllowPartial bool `mapstructure:"allow_partial"`
}

// CacheConfig 进程内内容缓存
type CacheConfig struct {
	MaxSize int           `mapstructure:"max_size"`
	TTL     time.Duration `mapstructure:"ttl"`
}

// RedisConfig Redis 连接，Addr 为空表示不使用 Redis
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// Enabled 是否配置了 Redis
func (c RedisConfig) Enabled() bool { return c.Addr != "" }

// QueueConfig 任务队列
type QueueConfig struct {
	// Driver memory|redis|nats
	Driver     string        `mapstructure:"driver"`
	Workers    int           `mapstructure:"workers"`
	Size       int           `mapstructure:"size"`
	MaxDeliver int           `mapstructure:"max_deliver"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

// NATSConfig JetStream
type NATSConfig struct {
	URL     string        `mapstructure:"url"`
	Stream  string        `mapstructure:"stream"`
	AckWait time.Duration `mapstructure:"ack_wait"`
}

// LimitsConfig 每个调用方的令牌桶
type LimitsConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// AccountConfig 账号删除
type AccountConfig struct {
	DeletionGrace time.Duration `mapstructure:"deletion_grace"`
	// SweepSchedule cron 表达式，到期删除请求的扫描周期
	SweepSchedule string `mapstructure:"sweep_schedule"`
}

// SnowflakeConfig id 生成
type SnowflakeConfig struct {
	Node int64 `mapstructure:"node"`
}

var defaults = map[string]any{
	"server.addr":             ":8080",
	"server.read_timeout":     "10s",
	"server.write_timeout":    "30s",
	"server.shutdown_timeout": "15s",
	"server.principal_header": "X-User-ID",

	"database.driver":             "sqlite",
	"database.dsn":                "hayatos.db",
	"database.max_open_conns":     10,
	"database.max_idle_conns":     5,
	"database.conn_max_lifetime":  "30m",
	"database.conn_max_idle_time": "5m",

	"log.level":    "info",
	"log.format":   "json",
	"log.output":   "stdout",
	"log.sampling": false,

	"query.default_limit": 20,
	"query.max_limit":     100,
	"query.allow_partial": false,

	"cache.max_size": 1000,
	"cache.ttl":      "10m",

	"redis.addr":      "",
	"redis.password":  "",
	"redis.db":        0,
	"redis.cache_ttl": "10m",

	"queue.driver":      "memory",
	"queue.workers":     4,
	"queue.size":        1000,
	"queue.max_deliver": 5,
	"queue.retry_delay": "5s",

	"nats.url":      "nats://127.0.0.1:4222",
	"nats.stream":   "HAYATOS_JOBS",
	"nats.ack_wait": "30s",

	"limits.rps":   20.0,
	"limits.burst": 40,

	"account.deletion_grace": "720h",
	"account.sweep_schedule": "@every 1m",

	"snowflake.node": 1,

	"startup.attempts":      5,
	"startup.initial_delay": "500ms",
	"startup.multiplier":    2.0,
	"startup.max_delay":     "5s",
}

// NewViper 返回已设置默认值与环境变量映射的 viper 实例，命令行参数可在此之上绑定
func NewViper() *viper.Viper {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load 读取配置，path 为空时只使用默认值与环境变量
func Load(v *viper.Viper, path string) (*Config, error) {
	if v == nil {
		v = NewViper()
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %q: %w", path, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 汇总全部不合法的配置项
func (c *Config) Validate() error {
	var fields []errors.FieldError
	add := func(field, rule, msg string) {
		fields = append(fields, errors.FieldError{Field: field, Rule: rule, Message: msg})
	}
	switch strings.ToLower(c.Database.Driver) {
	case "sqlite", "postgres", "pgx":
	default:
		add("database.driver", "one_of", fmt.Sprintf("unsupported driver %q", c.Database.Driver))
	}
	if c.Query.MaxLimit < 1 {
		add("query.max_limit", "min", "must be >= 1")
	}
	if c.Query.DefaultLimit < 1 || c.Query.DefaultLimit > c.Query.MaxLimit {
		add("query.default_limit", "range", "must be between 1 and query.max_limit")
	}
	switch c.Queue.Driver {
	case "memory":
	case "redis":
		if !c.Redis.Enabled() {
			add("redis.addr", "required", "required when queue.driver is redis")
		}
	case "nats":
		if c.NATS.URL == "" {
			add("nats.url", "required", "required when queue.driver is nats")
		}
	default:
		add("queue.driver", "one_of", fmt.Sprintf("unsupported queue driver %q", c.Queue.Driver))
	}
	if c.Limits.RPS < 0 {
		add("limits.rps", "min", "must be >= 0")
	}
	if c.Startup.MaxAttempts < 1 {
		add("startup.attempts", "min", "must be >= 1")
	}
	if c.Account.DeletionGrace < 0 {
		add("account.deletion_grace", "min", "must be >= 0")
	}
	if len(fields) > 0 {
		return errors.NewValidationErrors(fields)
	}
	return nil
}
