package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 应用配置
type Config struct {
	Env       string          `mapstructure:"env"` // 环境: development, production
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	CORS      CORSConfig      `mapstructure:"cors"`
	Log       LogConfig       `mapstructure:"log"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Live      LiveConfig      `mapstructure:"live"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Artifact  ArtifactConfig  `mapstructure:"artifact"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver          string `mapstructure:"driver"` // sqlite, postgres
	Path            string `mapstructure:"path"`   // sqlite 文件路径
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"dbname"`
	SSLMode         string `mapstructure:"sslmode"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`  // 秒
	ConnMaxIdleTime int    `mapstructure:"conn_max_idle_time"` // 秒
}

// CORSConfig CORS 配置
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
	MaxAge         int      `mapstructure:"max_age"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level"`  // 日志级别: debug, info, warn, error
	Format string `mapstructure:"format"` // 日志格式: json, text
	Output string `mapstructure:"output"` // 输出位置: stdout, file, both
	Dir    string `mapstructure:"dir"`    // 文件输出目录
}

// RateLimitConfig 限流配置,RPS 为 0 时不限流
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// TracingConfig OTLP 追踪配置
type TracingConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"` // host:port
	Insecure bool   `mapstructure:"insecure"`
}

// PipelineConfig 阶段流水线配置
type PipelineConfig struct {
	Workers        int           `mapstructure:"workers"`
	QueueSize      int           `mapstructure:"queue_size"`
	ContentTimeout time.Duration `mapstructure:"content_timeout"`
	ImageTimeout   time.Duration `mapstructure:"image_timeout"`
	EnhanceTimeout time.Duration `mapstructure:"enhance_timeout"`
	StaleAfter     time.Duration `mapstructure:"stale_after"` // generating 超过该时长视为超时
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`
	BatchLimit     int           `mapstructure:"batch_limit"`   // 批量操作并发数
	SiteURL        string        `mapstructure:"site_url"`      // 内链校验使用的站点
	SiblingHosts   []string      `mapstructure:"sibling_hosts"` // 同一站点的其他域名
}

// LiveConfig 实时状态通道配置
type LiveConfig struct {
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
}

// ProvidersConfig 外部生成服务配置
type ProvidersConfig struct {
	ContentURL  string        `mapstructure:"content_url"`
	ImageURL    string        `mapstructure:"image_url"`
	EnhancerURL string        `mapstructure:"enhancer_url"`
	APIKey      string        `mapstructure:"api_key"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// ArtifactConfig 草稿存储配置
type ArtifactConfig struct {
	Backend   string `mapstructure:"backend"` // database, minio
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// Load 加载配置,支持 .env、配置文件和环境变量
func Load(configPath string) (*Config, error) {
	// .env 不存在时忽略
	_ = godotenv.Load()

	v := viper.New()

	// 设置默认值
	setDefaults(v)

	// 如果提供了配置文件路径,从文件加载
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		// 尝试从默认位置加载
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("$HOME/.genqueue")
		// 忽略配置文件不存在的错误,使用默认值
		_ = v.ReadInConfig()
	}

	// 支持环境变量
	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return unmarshal(v)
}

// unmarshal 解析配置并校验
func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	switch c.Artifact.Backend {
	case "database", "minio":
	default:
		return fmt.Errorf("unsupported artifact backend %q", c.Artifact.Backend)
	}
	if c.Pipeline.Workers <= 0 {
		return fmt.Errorf("pipeline.workers must be positive")
	}
	if c.Pipeline.ContentTimeout <= 0 || c.Pipeline.ImageTimeout <= 0 || c.Pipeline.EnhanceTimeout <= 0 {
		return fmt.Errorf("pipeline timeouts must be positive")
	}
	return nil
}

// IsProduction 判断是否为生产环境
func IsProduction(cfg *Config) bool {
	if cfg == nil {
		return false
	}
	return cfg.Env == "production"
}

// Default 返回默认配置
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// setDefaults 设置配置默认值
func setDefaults(v *viper.Viper) {
	// 环境变量
	env := v.GetString("env")
	if env == "" {
		env = os.Getenv("APP_ENV")
		if env == "" {
			env = "development"
		}
	}
	v.SetDefault("env", env)

	// 服务器默认配置
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)

	// 数据库默认配置
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "genqueue.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "genqueue")
	v.SetDefault("database.sslmode", "disable")

	// 数据库连接池配置（根据环境设置默认值）
	if env == "production" {
		v.SetDefault("database.max_idle_conns", 20)
		v.SetDefault("database.max_open_conns", 200)
		v.SetDefault("database.conn_max_lifetime", 3600) // 1 小时
		v.SetDefault("database.conn_max_idle_time", 300) // 5 分钟
	} else {
		v.SetDefault("database.max_idle_conns", 10)
		v.SetDefault("database.max_open_conns", 100)
		v.SetDefault("database.conn_max_lifetime", 3600) // 1 小时
		v.SetDefault("database.conn_max_idle_time", 600) // 10 分钟
	}

	// CORS 默认配置
	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{"Content-Type", "Authorization", "X-Request-ID", "X-Operator"})
	v.SetDefault("cors.max_age", 86400)

	// 日志配置（根据环境设置默认值）
	if env == "production" {
		v.SetDefault("log.level", "info")
		v.SetDefault("log.format", "json")
	} else {
		v.SetDefault("log.level", "debug")
		v.SetDefault("log.format", "text")
	}
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.dir", "logs")

	// 限流
	v.SetDefault("rate_limit.rps", 0)
	v.SetDefault("rate_limit.burst", 50)

	// 追踪
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4318")
	v.SetDefault("tracing.insecure", true)

	// 流水线
	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.queue_size", 1000)
	v.SetDefault("pipeline.content_timeout", 5*time.Minute)
	v.SetDefault("pipeline.image_timeout", 3*time.Minute)
	v.SetDefault("pipeline.enhance_timeout", 3*time.Minute)
	v.SetDefault("pipeline.stale_after", 15*time.Minute)
	v.SetDefault("pipeline.sweep_interval", time.Minute)
	v.SetDefault("pipeline.batch_limit", 8)
	v.SetDefault("pipeline.site_url", "")
	v.SetDefault("pipeline.sibling_hosts", []string{})

	// 实时通道
	v.SetDefault("live.poll_interval", 2*time.Second)
	v.SetDefault("live.idle_timeout", 10*time.Minute)
	v.SetDefault("live.heartbeat_interval", 30*time.Second)

	// 外部服务
	v.SetDefault("providers.content_url", "http://localhost:9001")
	v.SetDefault("providers.image_url", "http://localhost:9002")
	v.SetDefault("providers.enhancer_url", "http://localhost:9003")
	v.SetDefault("providers.api_key", "")
	v.SetDefault("providers.timeout", 10*time.Minute)

	// 草稿存储
	v.SetDefault("artifact.backend", "database")
	v.SetDefault("artifact.endpoint", "localhost:9000")
	v.SetDefault("artifact.access_key", "")
	v.SetDefault("artifact.secret_key", "")
	v.SetDefault("artifact.bucket", "genqueue-drafts")
	v.SetDefault("artifact.use_ssl", false)
}
