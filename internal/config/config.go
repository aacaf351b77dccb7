// Package config 全局配置加载与管理。
//
// 所有字段通过 struct tag 声明环境变量映射:
//
//	`env:"VAR_NAME" default:"value" min:"0" toml:"var_name"`
//
// Load() 使用反射自动填充，无需手动逐行赋值。
package config

import (
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	pkgerr "github.com/multi-agent/transcript-sync/pkg/errors"
	"github.com/multi-agent/transcript-sync/pkg/logger"
	"github.com/multi-agent/transcript-sync/pkg/util"
)

// 推送通道类型。
const (
	TransportSSE       = "sse"
	TransportWebSocket = "ws"
)

// Config 应用全局配置，字段名与 .env 变量一一对应。
type Config struct {
	// 后端
	BackendURL       string `env:"BACKEND_URL" default:"http://127.0.0.1:4096" toml:"backend_url"`
	BackendDirectory string `env:"BACKEND_DIRECTORY" toml:"backend_directory"`
	HTTPTimeoutSec   int    `env:"HTTP_TIMEOUT_SEC" default:"30" min:"1" toml:"http_timeout_sec"`

	// 会话
	ProjectID string `env:"PROJECT_ID" toml:"project_id"`
	SessionID string `env:"SESSION_ID" toml:"session_id"`

	// 推送通道
	StreamTransport  string `env:"STREAM_TRANSPORT" default:"sse" toml:"stream_transport"`
	StreamPath       string `env:"STREAM_PATH" default:"/event" toml:"stream_path"`
	ReconnectDelayMS int    `env:"RECONNECT_DELAY_MS" default:"3000" min:"100" toml:"reconnect_delay_ms"`

	// 原始事件记录: 内存保留最近 N 条, 可选 JSONL 落盘供 synctl replay 使用
	EventBufferSize int    `env:"EVENT_BUFFER_SIZE" default:"200" min:"1" toml:"event_buffer_size"`
	EventLogPath    string `env:"EVENT_LOG_PATH" toml:"event_log_path"`

	// HTTP 面板
	ListenAddr string `env:"LISTEN_ADDR" default:":8080" toml:"listen_addr"`

	// PostgreSQL (可选, 为空时使用内存偏好 + 无转录缓存)
	PostgresConnStr        string `env:"POSTGRES_CONNECTION_STRING" toml:"postgres_connection_string"`
	PostgresSchema         string `env:"POSTGRES_SCHEMA" default:"public" toml:"postgres_schema"`
	PostgresPoolMinSize    int    `env:"POSTGRES_POOL_MIN_SIZE" default:"1" min:"1" toml:"postgres_pool_min_size"`
	PostgresPoolMaxSize    int    `env:"POSTGRES_POOL_MAX_SIZE" default:"10" min:"1" toml:"postgres_pool_max_size"`
	PostgresPoolTimeoutSec int    `env:"POSTGRES_POOL_TIMEOUT_SEC" default:"10" min:"1" toml:"postgres_pool_timeout_sec"`
	MigrationsDir          string `env:"MIGRATIONS_DIR" default:"migrations" toml:"migrations_dir"`

	// 转录缓存: 有 PostgreSQL 时使用 PG, 否则使用 SQLite 文件 (路径为空则禁用)
	TranscriptCacheEnabled bool   `env:"TRANSCRIPT_CACHE_ENABLED" default:"true" toml:"transcript_cache_enabled"`
	TranscriptSQLitePath   string `env:"TRANSCRIPT_SQLITE_PATH" toml:"transcript_sqlite_path"`

	// 可选 TOML 配置文件, 其中出现的键覆盖环境变量
	ConfigFile string `env:"CONFIG_FILE" toml:"-"`

	// 日志
	LogLevel string `env:"LOG_LEVEL" default:"INFO" toml:"log_level"`
	LogDir   string `env:"LOG_DIR" toml:"log_dir"`
	LogEnv   string `env:"LOG_ENV" default:"production" toml:"log_env"`
}

// Load 从环境变量加载配置 (通过反射读取 struct tag)。
func Load() *Config {
	var cfg Config
	if err := util.LoadFromEnv(&cfg); err != nil {
		logger.Warn("config: invalid environment values, defaults used", logger.FieldError, err)
	}
	cfg.normalize()
	return &cfg
}

// LoadWithFile 加载环境变量后叠加 CONFIG_FILE 指定的 TOML 文件。
// 优先级: 文件 > 环境变量 > 默认值。
func LoadWithFile() (*Config, error) {
	cfg := Load()
	if cfg.ConfigFile == "" {
		return cfg, nil
	}
	if err := cfg.ApplyFile(cfg.ConfigFile); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyFile 用 TOML 文件中出现的键覆盖当前值; 未出现的键保持不变。
func (c *Config) ApplyFile(path string) error {
	if _, err := os.Stat(path); err != nil {
		return pkgerr.Wrapf(err, "Config.ApplyFile", "stat %s", path)
	}
	md, err := toml.DecodeFile(path, c)
	if err != nil {
		return pkgerr.Wrapf(err, "Config.ApplyFile", "decode %s", path)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return pkgerr.Newf("Config.ApplyFile", "unknown keys in %s: %s", path, strings.Join(keys, ", "))
	}
	c.normalize()
	return nil
}

func (c *Config) normalize() {
	c.StreamTransport = strings.ToLower(strings.TrimSpace(c.StreamTransport))
	c.BackendURL = strings.TrimRight(strings.TrimSpace(c.BackendURL), "/")
	if c.ReconnectDelayMS < 100 {
		c.ReconnectDelayMS = 100
	}
	if c.HTTPTimeoutSec < 1 {
		c.HTTPTimeoutSec = 1
	}
}

// Validate 检查无法靠默认值修正的配置组合。
func (c *Config) Validate() error {
	switch c.StreamTransport {
	case TransportSSE, TransportWebSocket:
	default:
		return pkgerr.Newf("Config.Validate", "unsupported STREAM_TRANSPORT %q (want sse|ws)", c.StreamTransport)
	}
	if c.BackendURL == "" {
		return pkgerr.New("Config.Validate", "BACKEND_URL is empty")
	}
	if !strings.HasPrefix(c.StreamPath, "/") {
		return pkgerr.Newf("Config.Validate", "STREAM_PATH must start with '/': %q", c.StreamPath)
	}
	return nil
}

// ReconnectDelay 推送通道断开后的固定重连间隔。
func (c *Config) ReconnectDelay() time.Duration {
	return time.Duration(c.ReconnectDelayMS) * time.Millisecond
}

// HTTPTimeout 后端 REST 请求超时。
func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutSec) * time.Second
}

// TranscriptCacheBackend 返回转录缓存后端: "postgres" / "sqlite" / "" (禁用)。
func (c *Config) TranscriptCacheBackend() string {
	switch {
	case !c.TranscriptCacheEnabled:
		return ""
	case c.PostgresEnabled():
		return "postgres"
	case strings.TrimSpace(c.TranscriptSQLitePath) != "":
		return "sqlite"
	default:
		return ""
	}
}

// PostgresEnabled 是否配置了 PostgreSQL。
func (c *Config) PostgresEnabled() bool {
	return strings.TrimSpace(c.PostgresConnStr) != ""
}
