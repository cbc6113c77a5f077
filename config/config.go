package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config 全局配置
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Realtime  RealtimeConfig  `mapstructure:"realtime"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Wall      WallConfig      `mapstructure:"wall"`
	Client    ClientConfig    `mapstructure:"client"`
	Profile   ProfileConfig   `mapstructure:"profile"`
	Log       LogConfig       `mapstructure:"log"`
	Sentry    SentryConfig    `mapstructure:"sentry"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"` // debug, release, test
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Addr 监听地址
func (s ServerConfig) Addr() string { return fmt.Sprintf(":%d", s.Port) }

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // postgres, sqlite
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// RedisConfig Addr 为空表示不启用缓存
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

type RealtimeConfig struct {
	Backend      string        `mapstructure:"backend"` // memory, redis, postgres
	Channel      string        `mapstructure:"channel"`
	QueueSize    int           `mapstructure:"queue_size"`
	RelayWorkers int           `mapstructure:"relay_workers"`
	RelayClaim   int           `mapstructure:"relay_claim"`
	RelayPoll    time.Duration `mapstructure:"relay_poll"`
	PingInterval time.Duration `mapstructure:"ping_interval"`
}

type StorageConfig struct {
	Root           string   `mapstructure:"root"`
	MaxUploadBytes int64    `mapstructure:"max_upload_bytes"`
	AllowedTypes   []string `mapstructure:"allowed_types"`
}

// WallConfig 服务端与客户端共享的墙参数
type WallConfig struct {
	FeedLimit        int    `mapstructure:"feed_limit"`
	MaxContentLength int    `mapstructure:"max_content_length"`
	Bucket           string `mapstructure:"bucket"`
}

type ClientConfig struct {
	ServerURL     string        `mapstructure:"server_url"`
	Author        string        `mapstructure:"author"`
	SubmitTimeout time.Duration `mapstructure:"submit_timeout"`
	LoadTimeout   time.Duration `mapstructure:"load_timeout"`
	RetainFailed  bool          `mapstructure:"retain_failed"`
	Timezone      string        `mapstructure:"timezone"`
}

// ProfileConfig 静态个人资料面板
type ProfileConfig struct {
	Networks string `mapstructure:"networks"`
	Location string `mapstructure:"location"`
}

type LogConfig struct {
	Level       string   `mapstructure:"level"`
	Format      string   `mapstructure:"format"` // json, console
	OutputPaths []string `mapstructure:"output_paths"`
}

type SentryConfig struct {
	DSN         string  `mapstructure:"dsn"`
	Environment string  `mapstructure:"environment"`
	SampleRate  float64 `mapstructure:"sample_rate"`
}

type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Endpoint    string `mapstructure:"endpoint"`
	ServiceName string `mapstructure:"service_name"`
	Insecure    bool   `mapstructure:"insecure"`
}

type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "30s")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "wall.db")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.cache_ttl", "30s")

	v.SetDefault("realtime.backend", "memory")
	v.SetDefault("realtime.channel", "wall_post_changes")
	v.SetDefault("realtime.queue_size", 256)
	v.SetDefault("realtime.relay_workers", 1)
	v.SetDefault("realtime.relay_claim", 64)
	v.SetDefault("realtime.relay_poll", "50ms")
	v.SetDefault("realtime.ping_interval", "30s")

	v.SetDefault("storage.root", "./data/storage")
	v.SetDefault("storage.max_upload_bytes", 5<<20)
	v.SetDefault("storage.allowed_types", []string{"image/jpeg", "image/png", "image/gif"})

	v.SetDefault("wall.feed_limit", 50)
	v.SetDefault("wall.max_content_length", 280)
	v.SetDefault("wall.bucket", "wall-photos")

	v.SetDefault("client.server_url", "http://localhost:8080")
	v.SetDefault("client.author", "Jazzer Giancarlo M. Ancheta")
	v.SetDefault("client.submit_timeout", "30s")
	v.SetDefault("client.load_timeout", "10s")
	v.SetDefault("client.retain_failed", false)
	v.SetDefault("client.timezone", "Local")

	v.SetDefault("profile.networks", "Mariano MMSU Alum")
	v.SetDefault("profile.location", "Laoag City, Ilocos Norte")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output_paths", []string{"stdout"})

	v.SetDefault("sentry.environment", "development")
	v.SetDefault("sentry.sample_rate", 1.0)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4318")
	v.SetDefault("tracing.service_name", "wall-server")
	v.SetDefault("tracing.insecure", true)

	v.SetDefault("rate_limit.rps", 20)
	v.SetDefault("rate_limit.burst", 40)
}

// Load 读取配置：默认值 < 配置文件 < 环境变量(WALL_*) < 命令行参数。
// configFile 为空时在 . 与 ./config 下查找 config.*，找不到不报错。
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix("WALL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		if err := bindFlags(v, flags); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// bindFlags 将 "server-url" 形式的 flag 绑定到 "client.server_url" 等配置键
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	var err error
	flags.VisitAll(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok || err != nil {
			return
		}
		err = v.BindPFlag(key, f)
	})
	if err != nil {
		return fmt.Errorf("bind flags: %w", err)
	}
	return nil
}

var flagKeys = map[string]string{
	"port":       "server.port",
	"db-driver":  "database.driver",
	"db-dsn":     "database.dsn",
	"redis-addr": "redis.addr",
	"realtime":   "realtime.backend",
	"storage":    "storage.root",
	"server-url": "client.server_url",
	"author":     "client.author",
	"log-level":  "log.level",
	"log-file":   "log.output_paths",
}

// Validate 校验取值范围
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	switch c.Realtime.Backend {
	case "memory", "redis", "postgres":
	default:
		return fmt.Errorf("unsupported realtime backend %q", c.Realtime.Backend)
	}
	if c.Realtime.Backend == "redis" && c.Redis.Addr == "" {
		return errors.New("realtime backend redis requires redis.addr")
	}
	if c.Realtime.Backend == "postgres" && c.Database.Driver != "postgres" {
		return errors.New("realtime backend postgres requires database.driver postgres")
	}
	// sqlite 无 SKIP LOCKED，多个 relay worker 会重复认领同一批变更
	if c.Database.Driver == "sqlite" && c.Realtime.RelayWorkers > 1 {
		return errors.New("realtime.relay_workers must be 1 with database.driver sqlite")
	}
	if c.Wall.FeedLimit <= 0 {
		return errors.New("wall.feed_limit must be positive")
	}
	if c.Wall.MaxContentLength <= 0 {
		return errors.New("wall.max_content_length must be positive")
	}
	if c.Storage.MaxUploadBytes <= 0 {
		return errors.New("storage.max_upload_bytes must be positive")
	}
	return nil
}
