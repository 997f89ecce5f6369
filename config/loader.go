// =============================================================================
// 📦 MeetingFlow 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithValidator((*config.Config).Validate).
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量（MEETINGFLOW_*）
// =============================================================================
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix 环境变量默认前缀
const EnvPrefix = "MEETINGFLOW"

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 MeetingFlow 的完整配置结构
type Config struct {
	Server      ServerConfig      `yaml:"server" json:"server" env:"SERVER"`
	Meeting     MeetingConfig     `yaml:"meeting" json:"meeting" env:"MEETING"`
	Transcriber TranscriberConfig `yaml:"transcriber" json:"transcriber" env:"TRANSCRIBER"`
	Verifier    VerifierConfig    `yaml:"verifier" json:"verifier" env:"VERIFIER"`
	TTS         TTSConfig         `yaml:"tts" json:"tts" env:"TTS"`
	Intent      IntentConfig      `yaml:"intent" json:"intent" env:"INTENT"`
	Database    DatabaseConfig    `yaml:"database" json:"database" env:"DATABASE"`
	Redis       RedisConfig       `yaml:"redis" json:"redis" env:"REDIS"`
	JWT         JWTConfig         `yaml:"jwt" json:"jwt" env:"JWT"`
	Log         LogConfig         `yaml:"log" json:"log" env:"LOG"`
	Telemetry   TelemetryConfig   `yaml:"telemetry" json:"telemetry" env:"TELEMETRY"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port" json:"http_port" env:"HTTP_PORT"`
	// Metrics 端口，0 表示不启动独立的 metrics 服务
	MetricsPort     int           `yaml:"metrics_port" json:"metrics_port" env:"METRICS_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// 每个 IP 的限流
	RateLimitRPS   float64 `yaml:"rate_limit_rps" json:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `yaml:"rate_limit_burst" json:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// CORS 允许的来源，为空时拒绝跨域
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins" json:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
}

// MeetingConfig 会话与身份对齐参数
type MeetingConfig struct {
	// 声纹结果的新鲜度窗口
	VerificationWindow time.Duration `yaml:"verification_window" json:"verification_window" env:"VERIFICATION_WINDOW"`
	// 声纹分数必须严格大于该值
	ConfidenceThreshold float64 `yaml:"confidence_threshold" json:"confidence_threshold" env:"CONFIDENCE_THRESHOLD"`
	// 每次送识别的采样数
	ChunkSamples      int           `yaml:"chunk_samples" json:"chunk_samples" env:"CHUNK_SAMPLES"`
	InboxSize         int           `yaml:"inbox_size" json:"inbox_size" env:"INBOX_SIZE"`
	OutboxSize        int           `yaml:"outbox_size" json:"outbox_size" env:"OUTBOX_SIZE"`
	SideEffectTimeout time.Duration `yaml:"side_effect_timeout" json:"side_effect_timeout" env:"SIDE_EFFECT_TIMEOUT"`
	SendTimeout       time.Duration `yaml:"send_timeout" json:"send_timeout" env:"SEND_TIMEOUT"`
	// 出勤日期所用时区，IANA 名称，空为本地时区
	AttendanceTimezone string `yaml:"attendance_timezone" json:"attendance_timezone" env:"ATTENDANCE_TIMEZONE"`
	// 副作用协程池
	Workers   int `yaml:"workers" json:"workers" env:"WORKERS"`
	QueueSize int `yaml:"queue_size" json:"queue_size" env:"QUEUE_SIZE"`
}

// TranscriberConfig 流式转写服务
type TranscriberConfig struct {
	URL         string        `yaml:"url" json:"url" env:"URL"`
	APIKey      string        `yaml:"api_key" json:"api_key" env:"API_KEY"`
	Language    string        `yaml:"language" json:"language" env:"LANGUAGE"`
	DialTimeout time.Duration `yaml:"dial_timeout" json:"dial_timeout" env:"DIAL_TIMEOUT"`
}

// VerifierConfig 声纹识别服务
type VerifierConfig struct {
	BaseURL string        `yaml:"base_url" json:"base_url" env:"BASE_URL"`
	Timeout time.Duration `yaml:"timeout" json:"timeout" env:"TIMEOUT"`
	// 熔断：连续失败次数与恢复等待
	BreakerThreshold    int           `yaml:"breaker_threshold" json:"breaker_threshold" env:"BREAKER_THRESHOLD"`
	BreakerResetTimeout time.Duration `yaml:"breaker_reset_timeout" json:"breaker_reset_timeout" env:"BREAKER_RESET_TIMEOUT"`
}

// TTSConfig 语音合成
type TTSConfig struct {
	APIKey  string        `yaml:"api_key" json:"api_key" env:"API_KEY"`
	BaseURL string        `yaml:"base_url" json:"base_url" env:"BASE_URL"`
	Model   string        `yaml:"model" json:"model" env:"MODEL"`
	Voice   string        `yaml:"voice" json:"voice" env:"VOICE"`
	Format  string        `yaml:"format" json:"format" env:"FORMAT"`
	Timeout time.Duration `yaml:"timeout" json:"timeout" env:"TIMEOUT"`
}

// IntentConfig 指令识别（Azure OpenAI Responses API）
type IntentConfig struct {
	Endpoint   string        `yaml:"endpoint" json:"endpoint" env:"ENDPOINT"`
	APIKey     string        `yaml:"api_key" json:"api_key" env:"API_KEY"`
	Model      string        `yaml:"model" json:"model" env:"MODEL"`
	APIVersion string        `yaml:"api_version" json:"api_version" env:"API_VERSION"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout" env:"TIMEOUT"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动类型: postgres, mysql, sqlite；为空则只在内存中记录出勤
	Driver string `yaml:"driver" json:"driver" env:"DRIVER"`
	// DSN 非空时优先使用
	DSN      string `yaml:"dsn" json:"dsn" env:"DSN"`
	Host     string `yaml:"host" json:"host" env:"HOST"`
	Port     int    `yaml:"port" json:"port" env:"PORT"`
	User     string `yaml:"user" json:"user" env:"USER"`
	Password string `yaml:"password" json:"password" env:"PASSWORD"`
	// 数据库名；SQLite 为文件路径
	Name    string `yaml:"name" json:"name" env:"NAME"`
	SSLMode string `yaml:"ssl_mode" json:"ssl_mode" env:"SSL_MODE"`

	MaxOpenConns        int           `yaml:"max_open_conns" json:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns        int           `yaml:"max_idle_conns" json:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime     time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
	ConnMaxIdleTime     time.Duration `yaml:"conn_max_idle_time" json:"conn_max_idle_time" env:"CONN_MAX_IDLE_TIME"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval" json:"health_check_interval" env:"HEALTH_CHECK_INTERVAL"`

	// 启动时按模型建表，生产环境建议使用 migrate 子命令
	AutoMigrate bool `yaml:"auto_migrate" json:"auto_migrate" env:"AUTO_MIGRATE"`
}

// RedisConfig Redis 配置，Addr 为空时不启用档案缓存
type RedisConfig struct {
	Addr         string        `yaml:"addr" json:"addr" env:"ADDR"`
	Password     string        `yaml:"password" json:"password" env:"PASSWORD"`
	DB           int           `yaml:"db" json:"db" env:"DB"`
	PoolSize     int           `yaml:"pool_size" json:"pool_size" env:"POOL_SIZE"`
	MinIdleConns int           `yaml:"min_idle_conns" json:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	KeyPrefix    string        `yaml:"key_prefix" json:"key_prefix" env:"KEY_PREFIX"`
	ProfileTTL   time.Duration `yaml:"profile_ttl" json:"profile_ttl" env:"PROFILE_TTL"`
	PurgeOnStart bool          `yaml:"purge_on_start" json:"purge_on_start" env:"PURGE_ON_START"`
}

// JWTConfig JWT 认证配置，Secret 与 PublicKey 均为空时不启用
type JWTConfig struct {
	// HS256 密钥
	Secret string `yaml:"secret" json:"secret" env:"SECRET"`
	// RS256 公钥（PEM）
	PublicKey string `yaml:"public_key" json:"public_key" env:"PUBLIC_KEY"`
	Issuer    string `yaml:"issuer" json:"issuer" env:"ISSUER"`
	Audience  string `yaml:"audience" json:"audience" env:"AUDIENCE"`
}

// Enabled 是否配置了任一验证密钥
func (j JWTConfig) Enabled() bool {
	return j.Secret != "" || j.PublicKey != ""
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" json:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format           string   `yaml:"format" json:"format" env:"FORMAT"`
	OutputPaths      []string `yaml:"output_paths" json:"output_paths" env:"OUTPUT_PATHS"`
	EnableCaller     bool     `yaml:"enable_caller" json:"enable_caller" env:"ENABLE_CALLER"`
	EnableStacktrace bool     `yaml:"enable_stacktrace" json:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" json:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" json:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" json:"sample_rate" env:"SAMPLE_RATE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	lookupEnv  func(string) (string, bool)
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix: EnvPrefix,
		lookupEnv: os.LookupEnv,
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}
	return cfg, nil
}

// loadFromFile 文件不存在时保留默认值
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// setFieldsFromEnv 按 env tag 递归覆盖，键名为 PREFIX_SECTION_FIELD
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		tag := t.Field(i).Tag.Get("env")
		if tag == "" || tag == "-" {
			continue
		}
		key := prefix + "_" + tag

		if field.Kind() == reflect.Struct && field.Type() != reflect.TypeOf(time.Time{}) {
			if err := l.setFieldsFromEnv(field, key); err != nil {
				return err
			}
			continue
		}

		value, ok := l.lookupEnv(key)
		if !ok || value == "" {
			continue
		}
		if err := setFieldValue(field, value); err != nil {
			return fmt.Errorf("failed to set %s: %w", key, err)
		}
	}
	return nil
}

var durationType = reflect.TypeOf(time.Duration(0))

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == durationType {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
			return nil
		}
		i, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(i)

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			out := make([]string, 0, len(parts))
			for _, p := range parts {
				if p = strings.TrimSpace(p); p != "" {
					out = append(out, p)
				}
			}
			field.Set(reflect.ValueOf(out))
		}
	}
	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载并校验配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).WithValidator((*Config).Validate).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Validate 校验配置
func (c *Config) Validate() error {
	var errs []string

	validPort := func(p int) bool { return p > 0 && p <= 65535 }
	if !validPort(c.Server.HTTPPort) {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Server.MetricsPort != 0 && !validPort(c.Server.MetricsPort) {
		errs = append(errs, "invalid metrics port")
	}
	if c.Server.MetricsPort != 0 && c.Server.MetricsPort == c.Server.HTTPPort {
		errs = append(errs, "metrics port must differ from HTTP port")
	}

	if c.Meeting.VerificationWindow <= 0 {
		errs = append(errs, "verification_window must be positive")
	}
	if c.Meeting.ConfidenceThreshold <= 0 || c.Meeting.ConfidenceThreshold > 1 {
		errs = append(errs, "confidence_threshold must be in (0, 1]")
	}
	if c.Meeting.ChunkSamples <= 0 {
		errs = append(errs, "chunk_samples must be positive")
	}
	if c.Meeting.AttendanceTimezone != "" {
		if _, err := time.LoadLocation(c.Meeting.AttendanceTimezone); err != nil {
			errs = append(errs, fmt.Sprintf("invalid attendance_timezone %q", c.Meeting.AttendanceTimezone))
		}
	}

	switch strings.ToLower(c.Database.Driver) {
	case "", "postgres", "postgresql", "mysql", "sqlite", "sqlite3":
	default:
		errs = append(errs, fmt.Sprintf("unsupported database driver %q", c.Database.Driver))
	}

	switch c.Log.Format {
	case "", "json", "console":
	default:
		errs = append(errs, fmt.Sprintf("unsupported log format %q", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Location 返回出勤日期所用时区
func (m MeetingConfig) Location() *time.Location {
	if m.AttendanceTimezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(m.AttendanceTimezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// ConnString 返回 GORM 使用的连接串
func (d DatabaseConfig) ConnString() string {
	if d.DSN != "" {
		return d.DSN
	}
	switch strings.ToLower(d.Driver) {
	case "postgres", "postgresql":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite", "sqlite3":
		return fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", d.Name)
	default:
		return ""
	}
}
