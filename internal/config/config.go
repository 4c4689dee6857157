package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config 描述 VelocityVault 进程启动时需要加载的全部配置。
type Config struct {
	Server        ServerConfig        `json:"server"`
	Clearnode     ClearnodeConfig     `json:"clearnode"`
	Chain         ChainConfig         `json:"chain"`
	Storage       StorageConfig       `json:"storage"`
	Queue         QueueConfig         `json:"queue"`
	Agent         AgentConfig         `json:"agent"`
	ENS           ENSConfig           `json:"ens"`
	Routing       RoutingConfig       `json:"routing"`
	Monitor       MonitorConfig       `json:"monitor"`
	Observability ObservabilityConfig `json:"observability"`
	Logging       LoggingConfig       `json:"logging"`
	Runtime       RuntimeConfig       `json:"runtime"`
}

// ServerConfig 控制后端 API 的监听地址与跨域来源。
type ServerConfig struct {
	Address     string   `json:"address"`
	CORSOrigins []string `json:"cors_origins"`
}

// ClearnodeConfig 描述链下清算节点的连接与鉴权参数。
type ClearnodeConfig struct {
	URL                   string `json:"url"`
	Application           string `json:"application"`
	Scope                 string `json:"scope"`
	AllowanceAsset        string `json:"allowance_asset"`
	AllowanceAmount       string `json:"allowance_amount"`
	SessionTTLSeconds     int    `json:"session_ttl_seconds"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds"`
	DialTimeoutSeconds    int    `json:"dial_timeout_seconds"`
	ChainID               int64  `json:"chain_id"`
	TokenAddress          string `json:"token_address"`
	TransferDestination   string `json:"transfer_destination"`
	CustodyAddress        string `json:"custody_address"`
	AdjudicatorAddress    string `json:"adjudicator_address"`
}

// ChainConfig 包含链上合约与节点访问参数。
type ChainConfig struct {
	DefinitionsPath string `json:"definitions_path"`
	DefaultChain    string `json:"default_chain"`
	RPCURL          string `json:"rpc_url"`
	VaultAddress    string `json:"vault_address"`
	AgentPrivateKey string `json:"agent_private_key"`
}

// StorageConfig 统一描述业务数据与交易意图的存储后端。
type StorageConfig struct {
	Portfolio StoreConfig `json:"portfolio"`
	Intents   StoreConfig `json:"intents"`
}

// StoreConfig 指定存储驱动，目前支持 memory 与 mysql。
type StoreConfig struct {
	Driver                 string `json:"driver"`
	DSN                    string `json:"dsn"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
}

// QueueConfig 描述交易意图队列。
type QueueConfig struct {
	Driver    string `json:"driver"`
	Buffer    int    `json:"buffer"`
	RedisURL  string `json:"redis_url"`
	RedisKey  string `json:"redis_key"`
	AMQPURL   string `json:"amqp_url"`
	QueueName string `json:"queue_name"`
}

// AgentConfig 控制交易代理的工作协程与演示参数。
type AgentConfig struct {
	Workers               int    `json:"workers"`
	MaxRetries            int    `json:"max_retries"`
	ProfitRate            string `json:"profit_rate"`
	HealthIntervalSeconds int    `json:"health_interval_seconds"`
	AlertWebhookURL       string `json:"alert_webhook_url"`
}

// ENSConfig 描述 ENS 文本记录读写所需的信息。
type ENSConfig struct {
	RPCURL          string `json:"rpc_url"`
	ResolverAddress string `json:"resolver_address"`
	PrivateKey      string `json:"private_key"`
	InitialCapital  string `json:"initial_capital"`
}

// RoutingConfig 描述 LI.FI 跨链路由查询参数。
type RoutingConfig struct {
	BaseURL        string  `json:"base_url"`
	Integrator     string  `json:"integrator"`
	FromChainID    int64   `json:"from_chain_id"`
	ToChainID      int64   `json:"to_chain_id"`
	FromToken      string  `json:"from_token"`
	ToToken        string  `json:"to_token"`
	Slippage       float64 `json:"slippage"`
	Order          string  `json:"order"`
	TimeoutSeconds int     `json:"timeout_seconds"`
}

// MonitorConfig 控制监控进程的重连退避策略。
type MonitorConfig struct {
	Enabled           bool `json:"enabled"`
	BackoffBaseMillis int  `json:"backoff_base_millis"`
	BackoffMaxSeconds int  `json:"backoff_max_seconds"`
	MaxRetries        int  `json:"max_retries"`
	// JitterFactor 是每次等待的随机浮动比例，取值 (0, 1]。
	JitterFactor float64 `json:"jitter_factor"`
}

// ObservabilityConfig 控制指标导出。
type ObservabilityConfig struct {
	MetricsEnabled bool   `json:"metrics_enabled"`
	MetricsPath    string `json:"metrics_path"`
	// MetricsAddress 非空时指标在独立端口导出，否则挂载在 API 路由上。
	MetricsAddress string `json:"metrics_address"`
}

// LoggingConfig 映射到 pkg/logger 的配置。
type LoggingConfig struct {
	Level      string   `json:"level"`
	Format     string   `json:"format"`
	Outputs    []string `json:"outputs"`
	AuditPath  string   `json:"audit_path"`
	MaxSizeMB  int      `json:"max_size_mb"`
	MaxBackups int      `json:"max_backups"`
	MaxAgeDays int      `json:"max_age_days"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
}

// Default 返回仅依赖默认值与环境变量的配置。
func Default() *Config {
	cfg := &Config{}
	wd, err := os.Getwd()
	if err != nil {
		wd = "."
	}
	cfg.applyDefaults(wd)
	return cfg
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":3001"
	}
	if len(c.Server.CORSOrigins) == 0 {
		c.Server.CORSOrigins = []string{"http://localhost:3000", "http://localhost:5173"}
	}

	cn := &c.Clearnode
	setString(&cn.URL, "wss://clearnet-sandbox.yellow.com/ws")
	setString(&cn.Application, "VelocityVault")
	setString(&cn.Scope, "velocityvault.app")
	setString(&cn.AllowanceAsset, "ytest.usd")
	setString(&cn.AllowanceAmount, "1000000000")
	setInt(&cn.SessionTTLSeconds, 3600)
	setInt(&cn.RequestTimeoutSeconds, 30)
	setInt(&cn.DialTimeoutSeconds, 10)
	if cn.ChainID == 0 {
		cn.ChainID = 11155111
	}
	setString(&cn.TokenAddress, "0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238")
	setString(&cn.TransferDestination, "0x0000000000000000000000000000000000000001")
	setString(&cn.CustodyAddress, "0x019B65A265EB3363822f2752141b3dF16131b262")
	setString(&cn.AdjudicatorAddress, "0x7c7ccbc98469190849BCC6c926307794fDfB11F2")

	setString(&c.Chain.DefaultChain, "sepolia")
	if c.Chain.DefinitionsPath != "" && !filepath.IsAbs(c.Chain.DefinitionsPath) {
		c.Chain.DefinitionsPath = filepath.Join(baseDir, c.Chain.DefinitionsPath)
	}

	for _, store := range []*StoreConfig{&c.Storage.Portfolio, &c.Storage.Intents} {
		setString(&store.Driver, "memory")
		store.Driver = strings.ToLower(store.Driver)
		setInt(&store.MaxOpenConns, 10)
		setInt(&store.MaxIdleConns, 5)
		setInt(&store.ConnMaxLifetimeSeconds, 300)
	}

	setString(&c.Queue.Driver, "memory")
	c.Queue.Driver = strings.ToLower(c.Queue.Driver)
	setInt(&c.Queue.Buffer, 128)
	setString(&c.Queue.RedisKey, "velocityvault:intents")
	setString(&c.Queue.QueueName, "velocityvault.intents")

	setInt(&c.Agent.Workers, 2)
	setInt(&c.Agent.MaxRetries, 3)
	setString(&c.Agent.ProfitRate, "0.05")
	setInt(&c.Agent.HealthIntervalSeconds, 60)

	setString(&c.ENS.InitialCapital, "10000")

	r := &c.Routing
	setString(&r.BaseURL, "https://li.quest/v1")
	setString(&r.Integrator, "velocityvault-hackmoney-2026")
	if r.FromChainID == 0 {
		r.FromChainID = 11155111
	}
	if r.ToChainID == 0 {
		r.ToChainID = 10
	}
	setString(&r.FromToken, "0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238")
	setString(&r.ToToken, "0x0b2C639c533813f4Aa9D7837CAf62653d097Ff85")
	if r.Slippage <= 0 {
		r.Slippage = 0.03
	}
	setString(&r.Order, "RECOMMENDED")
	setInt(&r.TimeoutSeconds, 15)

	setInt(&c.Monitor.BackoffBaseMillis, 1000)
	setInt(&c.Monitor.BackoffMaxSeconds, 60)
	if c.Monitor.JitterFactor <= 0 || c.Monitor.JitterFactor > 1 {
		c.Monitor.JitterFactor = 0.5
	}
	setInt(&c.Monitor.MaxRetries, 8)

	setString(&c.Observability.MetricsPath, "/metrics")

	setString(&c.Logging.Level, "info")
	setString(&c.Logging.Format, "json")

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}
	if c.Logging.AuditPath != "" && !filepath.IsAbs(c.Logging.AuditPath) {
		c.Logging.AuditPath = filepath.Join(c.Runtime.DataDir, c.Logging.AuditPath)
	}
}

// ApplyEnv 使用环境变量覆盖敏感或部署相关的字段。lookup 通常为 os.LookupEnv。
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	env := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}

	var host, port string
	env("HOST", &host)
	env("PORT", &port)
	if port != "" {
		c.Server.Address = net.JoinHostPort(host, port)
	}
	var origins string
	env("CORS_ORIGIN", &origins)
	if origins != "" {
		c.Server.CORSOrigins = splitList(origins)
	}

	env("YELLOW_WS_URL", &c.Clearnode.URL)
	env("RPC_URL", &c.Chain.RPCURL)
	env("VAULT_ADDRESS", &c.Chain.VaultAddress)
	env("AGENT_PRIVATE_KEY", &c.Chain.AgentPrivateKey)
	env("RPC_URL", &c.ENS.RPCURL)
	env("ENS_RESOLVER_ADDRESS", &c.ENS.ResolverAddress)
	env("PRIVATE_KEY", &c.ENS.PrivateKey)
	env("MYSQL_DSN", &c.Storage.Portfolio.DSN)
	env("INTENT_MYSQL_DSN", &c.Storage.Intents.DSN)
	env("REDIS_URL", &c.Queue.RedisURL)
	env("RABBITMQ_URL", &c.Queue.AMQPURL)
	env("LIFI_BASE_URL", &c.Routing.BaseURL)
	env("LOG_LEVEL", &c.Logging.Level)
}

// Validate 检查驱动名称等枚举字段。
func (c *Config) Validate() error {
	var errs []error
	for name, store := range map[string]StoreConfig{"portfolio": c.Storage.Portfolio, "intents": c.Storage.Intents} {
		switch store.Driver {
		case "memory":
		case "mysql":
			if store.DSN == "" {
				errs = append(errs, fmt.Errorf("storage.%s 使用 mysql 时必须提供 dsn", name))
			}
		default:
			errs = append(errs, fmt.Errorf("storage.%s 不支持的驱动: %s", name, store.Driver))
		}
	}
	switch c.Queue.Driver {
	case "memory":
	case "redis":
		if c.Queue.RedisURL == "" {
			errs = append(errs, errors.New("queue 使用 redis 时必须提供 redis_url"))
		}
	case "rabbitmq":
		if c.Queue.AMQPURL == "" {
			errs = append(errs, errors.New("queue 使用 rabbitmq 时必须提供 amqp_url"))
		}
	default:
		errs = append(errs, fmt.Errorf("queue 不支持的驱动: %s", c.Queue.Driver))
	}
	if !strings.HasPrefix(c.Clearnode.URL, "ws://") && !strings.HasPrefix(c.Clearnode.URL, "wss://") {
		errs = append(errs, fmt.Errorf("clearnode.url 必须是 websocket 地址: %s", c.Clearnode.URL))
	}
	return errors.Join(errs...)
}

// RequestTimeout 返回清算节点请求的超时时间。
func (c ClearnodeConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// DialTimeout 返回建立连接的超时时间。
func (c ClearnodeConfig) DialTimeout() time.Duration {
	return time.Duration(c.DialTimeoutSeconds) * time.Second
}

// SessionTTL 返回会话授权的有效期。
func (c ClearnodeConfig) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLSeconds) * time.Second
}

// ConnMaxLifetime 返回连接最大存活时间。
func (s StoreConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(s.ConnMaxLifetimeSeconds) * time.Second
}

// HealthInterval 返回健康日志的输出间隔。
func (a AgentConfig) HealthInterval() time.Duration {
	return time.Duration(a.HealthIntervalSeconds) * time.Second
}

// Timeout 返回路由查询的 HTTP 超时。
func (r RoutingConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutSeconds) * time.Second
}

func setString(dst *string, def string) {
	if strings.TrimSpace(*dst) == "" {
		*dst = def
	}
}

func setInt(dst *int, def int) {
	if *dst <= 0 {
		*dst = def
	}
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
