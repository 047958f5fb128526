package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvConfigPath 是未通过命令行指定配置时读取的环境变量。
const EnvConfigPath = "SONICPILOT_CONFIG"

// Config 描述了 SonicPilot 在启动阶段需要加载的全部配置。
type Config struct {
	Server   ServerConfig   `json:"server" yaml:"server"`
	Session  SessionConfig  `json:"session" yaml:"session"`
	Storage  StorageConfig  `json:"storage" yaml:"storage"`
	Agent    AgentConfig    `json:"agent" yaml:"agent"`
	Quote    QuoteConfig    `json:"quote" yaml:"quote"`
	LLM      LLMConfig      `json:"llm" yaml:"llm"`
	Web3     Web3Config     `json:"web3" yaml:"web3"`
	Catalog  CatalogConfig  `json:"catalog" yaml:"catalog"`
	Outcomes OutcomeConfig  `json:"outcomes" yaml:"outcomes"`
	Alerting AlertingConfig `json:"alerting" yaml:"alerting"`
	Logging  LoggingConfig  `json:"logging" yaml:"logging"`
	Runtime  RuntimeConfig  `json:"runtime" yaml:"runtime"`
}

// ServerConfig 控制 HTTP 服务的监听地址、会话 Cookie 与限流参数。
type ServerConfig struct {
	Address        string `json:"address" yaml:"address"`
	SessionCookie  string `json:"session_cookie" yaml:"session_cookie"`
	SecureCookie   bool   `json:"secure_cookie" yaml:"secure_cookie"`
	RequestsPerMin int    `json:"requests_per_min" yaml:"requests_per_min"`
	Burst          int    `json:"burst" yaml:"burst"`
}

// SessionConfig 指定向导会话的存储方式。
type SessionConfig struct {
	Driver     string      `json:"driver" yaml:"driver"`
	TTLSeconds int         `json:"ttl_seconds" yaml:"ttl_seconds"`
	Redis      RedisConfig `json:"redis" yaml:"redis"`
}

// TTL 返回会话过期时间。
func (s SessionConfig) TTL() time.Duration {
	return time.Duration(s.TTLSeconds) * time.Second
}

// RedisConfig 描述 Redis 连接参数。
type RedisConfig struct {
	Address  string `json:"address" yaml:"address"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
	Prefix   string `json:"prefix" yaml:"prefix"`
}

// StorageConfig 统一描述持久化后端的连接信息。
type StorageConfig struct {
	TokenStore TokenStoreConfig `json:"token_store" yaml:"token_store"`
}

// TokenStoreConfig 描述已发行代币记录的存储，memory 驱动会写入 data_dir 下的日志文件。
type TokenStoreConfig struct {
	Driver                 string `json:"driver" yaml:"driver"`
	DSN                    string `json:"dsn" yaml:"dsn"`
	MaxOpenConns           int    `json:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds" yaml:"conn_max_lifetime_seconds"`
}

// AgentConfig 描述链上执行代理的地址。
type AgentConfig struct {
	URL            string        `json:"url" yaml:"url"`
	Connection     string        `json:"connection" yaml:"connection"`
	TimeoutSeconds int           `json:"timeout_seconds" yaml:"timeout_seconds"`
	Breaker        BreakerConfig `json:"breaker" yaml:"breaker"`
}

// Timeout 返回代理调用超时。
func (a AgentConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSeconds) * time.Second
}

// BreakerConfig 控制熔断器行为。
type BreakerConfig struct {
	MaxFailures     uint32 `json:"max_failures" yaml:"max_failures"`
	OpenSeconds     int    `json:"open_seconds" yaml:"open_seconds"`
	IntervalSeconds int    `json:"interval_seconds" yaml:"interval_seconds"`
}

// QuoteConfig 描述兑换报价服务。
type QuoteConfig struct {
	BaseURL        string        `json:"base_url" yaml:"base_url"`
	Chain          string        `json:"chain" yaml:"chain"`
	NativeToken    string        `json:"native_token" yaml:"native_token"`
	TimeoutSeconds int           `json:"timeout_seconds" yaml:"timeout_seconds"`
	Breaker        BreakerConfig `json:"breaker" yaml:"breaker"`
}

// Timeout 返回报价调用超时。
func (q QuoteConfig) Timeout() time.Duration {
	return time.Duration(q.TimeoutSeconds) * time.Second
}

// LLMConfig 用于配置大模型推理的调用方式。
type LLMConfig struct {
	Provider       string `json:"provider" yaml:"provider"`
	APIKey         string `json:"api_key" yaml:"api_key"`
	APIKeyEnv      string `json:"api_key_env" yaml:"api_key_env"`
	BaseURL        string `json:"base_url" yaml:"base_url"`
	LaunchModel    string `json:"launch_model" yaml:"launch_model"`
	ResearchModel  string `json:"research_model" yaml:"research_model"`
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds"`
}

// Timeout 返回大模型调用超时。
func (l LLMConfig) Timeout() time.Duration {
	return time.Duration(l.TimeoutSeconds) * time.Second
}

// ResolveAPIKey 优先使用显式配置，其次读取 api_key_env 指定的环境变量。
func (l LLMConfig) ResolveAPIKey() string {
	if key := strings.TrimSpace(l.APIKey); key != "" {
		return key
	}
	if l.APIKeyEnv == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(l.APIKeyEnv))
}

// Web3Config 包含访问区块链节点所需的 RPC 地址，留空时持仓余额取自发行记录。
type Web3Config struct {
	RPCURL string `json:"rpc_url" yaml:"rpc_url"`
}

// CatalogConfig 指定代币行情目录文件。
type CatalogConfig struct {
	Source string `json:"source" yaml:"source"`
	TopN   int    `json:"top_n" yaml:"top_n"`
}

// OutcomeConfig 描述终态事件的投递方式。
type OutcomeConfig struct {
	Driver   string         `json:"driver" yaml:"driver"`
	Redis    RedisConfig    `json:"redis" yaml:"redis"`
	Queue    string         `json:"queue" yaml:"queue"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq" yaml:"rabbitmq"`
}

// RabbitMQConfig 描述 RabbitMQ 连接。
type RabbitMQConfig struct {
	URL     string `json:"url" yaml:"url"`
	Durable bool   `json:"durable" yaml:"durable"`
}

// AlertingConfig 配置告警通知。
type AlertingConfig struct {
	WebhookURL string `json:"webhook_url" yaml:"webhook_url"`
}

// LoggingConfig 与 pkg/logger.Config 一一对应。
type LoggingConfig struct {
	Level       string      `json:"level" yaml:"level"`
	Format      string      `json:"format" yaml:"format"`
	OutputPaths []string    `json:"output_paths" yaml:"output_paths"`
	Audit       AuditConfig `json:"audit" yaml:"audit"`
}

// AuditConfig 控制审计日志。
type AuditConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	Path       string `json:"path" yaml:"path"`
	MaxSizeMB  int    `json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `json:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" yaml:"max_age_days"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir" yaml:"data_dir"`
}

// ResolvePath 返回显式路径，未提供时回退到环境变量。
func ResolvePath(flagValue string) string {
	if strings.TrimSpace(flagValue) != "" {
		return flagValue
	}
	return strings.TrimSpace(os.Getenv(EnvConfigPath))
}

// Load 负责解析指定路径的配置文件，按扩展名选择 JSON 或 YAML。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(content, &cfg)
	default:
		err = json.Unmarshal(content, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default 返回不依赖配置文件的默认配置，baseDir 用于解析相对路径。
func Default(baseDir string) *Config {
	cfg := &Config{}
	cfg.applyDefaults(baseDir)
	return cfg
}

// Validate 检查驱动组合是否完整。
func (c *Config) Validate() error {
	switch c.Session.Driver {
	case "memory":
	case "redis":
		if c.Session.Redis.Address == "" {
			return errors.New("session.redis.address 不能为空")
		}
	default:
		return fmt.Errorf("不支持的会话驱动: %s", c.Session.Driver)
	}

	switch c.Storage.TokenStore.Driver {
	case "memory":
	case "mysql":
		if c.Storage.TokenStore.DSN == "" {
			return errors.New("storage.token_store.dsn 不能为空")
		}
	default:
		return fmt.Errorf("不支持的存储驱动: %s", c.Storage.TokenStore.Driver)
	}

	switch c.Outcomes.Driver {
	case "memory":
	case "redis":
		if c.Outcomes.Redis.Address == "" {
			return errors.New("outcomes.redis.address 不能为空")
		}
	case "rabbitmq":
		if c.Outcomes.RabbitMQ.URL == "" {
			return errors.New("outcomes.rabbitmq.url 不能为空")
		}
	default:
		return fmt.Errorf("不支持的事件驱动: %s", c.Outcomes.Driver)
	}
	return nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.SessionCookie == "" {
		c.Server.SessionCookie = "sonicpilot_session"
	}
	if c.Server.RequestsPerMin <= 0 {
		c.Server.RequestsPerMin = 120
	}
	if c.Server.Burst <= 0 {
		c.Server.Burst = 20
	}

	if c.Session.Driver == "" {
		c.Session.Driver = "memory"
	}
	if c.Session.TTLSeconds <= 0 {
		c.Session.TTLSeconds = 7200
	}
	if c.Session.Redis.Prefix == "" {
		c.Session.Redis.Prefix = "sonicpilot:session:"
	}

	if c.Storage.TokenStore.Driver == "" {
		c.Storage.TokenStore.Driver = "memory"
	}

	if c.Agent.URL == "" {
		c.Agent.URL = "http://localhost:8000"
	}
	if c.Agent.Connection == "" {
		c.Agent.Connection = "sonic"
	}
	if c.Agent.TimeoutSeconds <= 0 {
		c.Agent.TimeoutSeconds = 30
	}

	if c.Quote.BaseURL == "" {
		c.Quote.BaseURL = "https://aggregator-api.kyberswap.com"
	}
	if c.Quote.Chain == "" {
		c.Quote.Chain = "sonic"
	}
	if c.Quote.NativeToken == "" {
		c.Quote.NativeToken = "0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE"
	}
	if c.Quote.TimeoutSeconds <= 0 {
		c.Quote.TimeoutSeconds = 15
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.LLM.APIKeyEnv == "" {
		c.LLM.APIKeyEnv = "OPENAI_API_KEY"
	}
	if c.LLM.LaunchModel == "" {
		c.LLM.LaunchModel = "gpt-4o-mini"
	}
	if c.LLM.ResearchModel == "" {
		c.LLM.ResearchModel = c.LLM.LaunchModel
	}
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = 30
	}

	if c.Catalog.TopN <= 0 {
		c.Catalog.TopN = 6
	}
	c.Catalog.Source = resolve(baseDir, c.Catalog.Source)

	if c.Outcomes.Driver == "" {
		c.Outcomes.Driver = "memory"
	}
	if c.Outcomes.Queue == "" {
		c.Outcomes.Queue = "sonicpilot.outcomes"
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else {
		c.Runtime.DataDir = resolve(baseDir, c.Runtime.DataDir)
	}
	if c.Logging.Audit.Enabled && c.Logging.Audit.Path == "" {
		c.Logging.Audit.Path = filepath.Join(c.Runtime.DataDir, "audit.log")
	}
}

func resolve(baseDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}
