package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 全局配置
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Auth     AuthConfig     `yaml:"auth"`
	Log      LogConfig      `yaml:"log"`
	Device   DeviceConfig   `yaml:"device"`
	Cache    CacheConfig    `yaml:"cache"`
	Batch    BatchConfig    `yaml:"batch"`
}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	Mode         string `yaml:"mode"` // debug, release
	ReadTimeout  int    `yaml:"read_timeout"`
	WriteTimeout int    `yaml:"write_timeout"`

	/* 为空时允许所有来源 */
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`

	/* 后台维护任务间隔（会话清理、内存缓存回收） */
	MaintenanceInterval time.Duration `yaml:"maintenance_interval"`
}

// DatabaseConfig 设备注册表存储
type DatabaseConfig struct {
	Type     string `yaml:"type"` // sqlite, mysql, postgres
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"db_name"`
	SSLMode  string `yaml:"ssl_mode"`
	Charset  string `yaml:"charset"`

	SQLitePath string `yaml:"sqlite_path"`

	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
	LogLevel     string `yaml:"log_level"` // silent, error, warn, info
}

/*
RedisConfig 外部缓存
功能：Addr 为空时不连接 Redis，状态缓存与任务存储回退到进程内实现
*/
type RedisConfig struct {
	Addr         string `yaml:"addr"`
	Password     string `yaml:"password"`
	DB           int    `yaml:"db"`
	PoolSize     int    `yaml:"pool_size"`
	MinIdleConns int    `yaml:"min_idle_conns"`
	MaxRetries   int    `yaml:"max_retries"`
}

// AuthConfig API 认证
type AuthConfig struct {
	JWTSecret     string            `yaml:"jwt_secret"`
	JWTExpiration int               `yaml:"jwt_expiration"` // 小时
	Operators     []OperatorAccount `yaml:"operators"`
}

/* OperatorAccount 运维账号，密码以 bcrypt 哈希保存 */
type OperatorAccount struct {
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password_hash"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	OutputPath string `yaml:"output_path"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

/*
DeviceConfig 矿机控制面访问策略
功能：请求超时、重试退避、会话有效期与注册默认值
*/
type DeviceConfig struct {
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	MaxRetries        int           `yaml:"max_retries"`
	InitialBackoff    time.Duration `yaml:"initial_backoff"`
	MaxBackoff        time.Duration `yaml:"max_backoff"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	/* 退避随机因子 [0,1)，0 表示严格指数退避 */
	BackoffJitter float64 `yaml:"backoff_jitter"`

	/* 设备登录未返回 timeout_s 时使用 */
	SessionTTL time.Duration `yaml:"session_ttl"`

	DefaultPort     int    `yaml:"default_port"`
	DefaultUsername string `yaml:"default_username"`

	/* 舰队状态并发查询上限 */
	MaxParallel int `yaml:"max_parallel"`

	/* 矿机普遍使用自签名证书 */
	TLSInsecureSkipVerify bool `yaml:"tls_insecure_skip_verify"`
}

// CacheConfig 缓存 TTL
type CacheConfig struct {
	StatusTTL     time.Duration `yaml:"status_ttl"`
	FleetTTL      time.Duration `yaml:"fleet_ttl"`
	JobTTL        time.Duration `yaml:"job_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// BatchConfig 批量任务
type BatchConfig struct {
	MaxConcurrency int           `yaml:"max_concurrency"`
	MaxDevices     int           `yaml:"max_devices"`
	DeviceTimeout  time.Duration `yaml:"device_timeout"`
}

// LoadConfig 从文件加载配置，未出现的字段保留默认值
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cfg.warnInsecureDefaults()
	return cfg, nil
}

func (c *Config) warnInsecureDefaults() {
	if c.Server.Mode != "release" {
		return
	}
	if c.Auth.JWTSecret == defaultJWTSecret || len(c.Auth.JWTSecret) < 16 {
		fmt.Println("[SECURITY WARNING] release mode with default or short auth.jwt_secret")
	}
	if len(c.Auth.Operators) == 0 {
		fmt.Println("[SECURITY WARNING] no auth.operators configured, API login is disabled")
	}
}

/*
Validate 校验配置取值范围
功能：拒绝会让重试循环或并发池失效的配置
*/
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	if c.Device.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("device.max_retries must be >= 0"))
	}
	if c.Device.BackoffMultiplier < 1 {
		errs = append(errs, fmt.Errorf("device.backoff_multiplier must be >= 1"))
	}
	if c.Device.BackoffJitter < 0 || c.Device.BackoffJitter >= 1 {
		errs = append(errs, fmt.Errorf("device.backoff_jitter must be in [0,1)"))
	}
	if c.Device.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("device.request_timeout must be positive"))
	}
	if c.Batch.MaxConcurrency < 1 {
		errs = append(errs, fmt.Errorf("batch.max_concurrency must be >= 1"))
	}
	return errors.Join(errs...)
}

// LoadConfigOrDefault 加载配置或使用默认值
func LoadConfigOrDefault(path string) *Config {
	if path == "" {
		return DefaultConfig()
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		fmt.Printf("Failed to load config: %v, using defaults\n", err)
		return DefaultConfig()
	}
	return cfg
}

const defaultJWTSecret = "change-this-secret-in-production"

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:                "0.0.0.0",
			Port:                8080,
			Mode:                "debug",
			ReadTimeout:         30,
			WriteTimeout:        60,
			MaintenanceInterval: time.Minute,
		},
		Database: DatabaseConfig{
			Type:         "sqlite",
			SQLitePath:   "./data/minerfleet.db",
			Host:         "localhost",
			Port:         3306,
			User:         "root",
			DBName:       "minerfleet",
			SSLMode:      "disable",
			Charset:      "utf8mb4",
			MaxOpenConns: 25,
			MaxIdleConns: 5,
			LogLevel:     "warn",
		},
		Redis: RedisConfig{
			Addr:         "",
			PoolSize:     10,
			MinIdleConns: 3,
			MaxRetries:   3,
		},
		Auth: AuthConfig{
			JWTSecret:     defaultJWTSecret,
			JWTExpiration: 24,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "console",
			OutputPath: "./logs/minerfleet.log",
			MaxSize:    100,
			MaxBackups: 10,
			MaxAge:     30,
			Compress:   true,
		},
		Device: DeviceConfig{
			RequestTimeout:        30 * time.Second,
			MaxRetries:            3,
			InitialBackoff:        time.Second,
			MaxBackoff:            10 * time.Second,
			BackoffMultiplier:     2,
			BackoffJitter:         0.2,
			SessionTTL:            24 * time.Hour,
			DefaultPort:           80,
			DefaultUsername:       "root",
			MaxParallel:           32,
			TLSInsecureSkipVerify: true,
		},
		Cache: CacheConfig{
			StatusTTL:     60 * time.Second,
			FleetTTL:      120 * time.Second,
			JobTTL:        time.Hour,
			SweepInterval: time.Minute,
		},
		Batch: BatchConfig{
			MaxConcurrency: 10,
			MaxDevices:     100,
			DeviceTimeout:  45 * time.Minute,
		},
	}
}

// SaveConfig 保存配置到文件
func SaveConfig(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	/* 0600：含设备与数据库凭据 */
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
