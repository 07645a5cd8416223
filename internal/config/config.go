package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/trifle-labs/clawdice-frontend-sub000/pkg/circuitbreaker"
	"gopkg.in/yaml.v3"
)

// Config 配置
type Config struct {
	Service    ServiceConfig    `yaml:"service" json:"service"`
	Log        LogConfig        `yaml:"log" json:"log"`
	Blockchain BlockchainConfig `yaml:"blockchain" json:"blockchain"`
	Relay      RelayConfig      `yaml:"relay" json:"relay"`
	Indexer    IndexerConfig    `yaml:"indexer" json:"indexer"`
	Game       GameConfig       `yaml:"game" json:"game"`
	Session    SessionConfig    `yaml:"session" json:"session"`
	Sweeper    SweeperConfig    `yaml:"sweeper" json:"sweeper"`
	Storage    StorageConfig    `yaml:"storage" json:"storage"`
	Redis      RedisConfig      `yaml:"redis" json:"redis"`
	Database   DatabaseConfig   `yaml:"database" json:"database"`
	Kafka      KafkaConfig      `yaml:"kafka" json:"kafka"`
	HTTP       HTTPConfig       `yaml:"http" json:"http"`
}

// ServiceConfig 服务配置
type ServiceConfig struct {
	Name string `yaml:"name" json:"name"`
	Env  string `yaml:"env" json:"env"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	Output string `yaml:"output" json:"output"`
}

// BlockchainConfig 区块链配置
type BlockchainConfig struct {
	RPCURL        string        `yaml:"rpc_url" json:"rpc_url"`
	BackupRPCURLs []string      `yaml:"backup_rpc_urls" json:"backup_rpc_urls"`
	ChainID       int64         `yaml:"chain_id" json:"chain_id"`
	DiceContract  string        `yaml:"dice_contract" json:"dice_contract"`
	TokenAddress  string        `yaml:"token_address" json:"token_address"` // 为空时用原生币下注
	VaultAddress  string        `yaml:"vault_address" json:"vault_address"`
	PrivateKey    string        `yaml:"private_key" json:"-"`
	MaxRetries    int           `yaml:"max_retries" json:"max_retries"`
	RetryInterval time.Duration `yaml:"retry_interval" json:"retry_interval"`
	GasMultiplier float64       `yaml:"gas_multiplier" json:"gas_multiplier"`
}

// RelayConfig 代付中继配置 (ERC-4337 bundler + paymaster)
type RelayConfig struct {
	Enabled        bool                  `yaml:"enabled" json:"enabled"`
	BundlerURL     string                `yaml:"bundler_url" json:"bundler_url"`
	PaymasterURL   string                `yaml:"paymaster_url" json:"paymaster_url"`
	EntryPoint     string                `yaml:"entry_point" json:"entry_point"`
	AccountFactory string                `yaml:"account_factory" json:"account_factory"`
	ReceiptTimeout time.Duration         `yaml:"receipt_timeout" json:"receipt_timeout"`
	ReceiptPoll    time.Duration         `yaml:"receipt_poll" json:"receipt_poll"`
	Breaker        circuitbreaker.Config `yaml:"breaker" json:"breaker"`
}

// IndexerConfig 事件索引服务配置
type IndexerConfig struct {
	BaseURL       string        `yaml:"base_url" json:"base_url"`
	APIKey        string        `yaml:"api_key" json:"-"`
	Timeout       time.Duration `yaml:"timeout" json:"timeout"`
	BlockCacheTTL time.Duration `yaml:"block_cache_ttl" json:"block_cache_ttl"`
	LiveEnabled   bool          `yaml:"live_enabled" json:"live_enabled"`
}

// GameConfig 下注流程配置
type GameConfig struct {
	HouseEdgeBP       int64         `yaml:"house_edge_bp" json:"house_edge_bp"`
	BetLookupAttempts int           `yaml:"bet_lookup_attempts" json:"bet_lookup_attempts"`
	BetLookupInterval time.Duration `yaml:"bet_lookup_interval" json:"bet_lookup_interval"`
	FallbackDelay     time.Duration `yaml:"fallback_delay" json:"fallback_delay"`
	BlockPollInterval time.Duration `yaml:"block_poll_interval" json:"block_poll_interval"`
	BlockWaitTimeout  time.Duration `yaml:"block_wait_timeout" json:"block_wait_timeout"`
	ReceiptTimeout    time.Duration `yaml:"receipt_timeout" json:"receipt_timeout"`
	ClaimWindow       uint64        `yaml:"claim_window" json:"claim_window"`
	ClaimEarlyRetries int           `yaml:"claim_early_retries" json:"claim_early_retries"`
}

// SessionConfig 会话授权配置
type SessionConfig struct {
	DefaultDuration time.Duration `yaml:"default_duration" json:"default_duration"`
	DefaultMaxBet   string        `yaml:"default_max_bet" json:"default_max_bet"` // 代币单位, 十进制
	VerifyDelay     time.Duration `yaml:"verify_delay" json:"verify_delay"`
	VerifyCron      string        `yaml:"verify_cron" json:"verify_cron"`
}

// SweeperConfig 自动开奖配置
type SweeperConfig struct {
	Enabled      bool   `yaml:"enabled" json:"enabled"`
	HistoryLimit int    `yaml:"history_limit" json:"history_limit"`
	Cron         string `yaml:"cron" json:"cron"` // 为空时只在连接时扫描一次
}

// StorageConfig 本地存储配置
type StorageConfig struct {
	Driver string `yaml:"driver" json:"driver"` // memory, redis, sql
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Addresses []string `yaml:"addresses" json:"addresses"`
	Password  string   `yaml:"password" json:"-"`
	DB        int      `yaml:"db" json:"db"`
	PoolSize  int      `yaml:"pool_size" json:"pool_size"`
	KeyPrefix string   `yaml:"key_prefix" json:"key_prefix"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver          string `yaml:"driver" json:"driver"` // postgres, sqlite
	Host            string `yaml:"host" json:"host"`
	Port            int    `yaml:"port" json:"port"`
	Database        string `yaml:"database" json:"database"`
	User            string `yaml:"user" json:"user"`
	Password        string `yaml:"password" json:"-"`
	Path            string `yaml:"path" json:"path"` // sqlite 文件
	MaxConnections  int    `yaml:"max_connections" json:"max_connections"`
	MaxIdleConns    int    `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
}

// DSN 返回 postgres 连接串
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable TimeZone=UTC",
		c.Host, c.Port, c.User, c.Password, c.Database)
}

// KafkaConfig Kafka 配置, brokers 为空时不发布事件
type KafkaConfig struct {
	Brokers  []string `yaml:"brokers" json:"brokers"`
	ClientID string   `yaml:"client_id" json:"client_id"`
}

// HTTPConfig 本地控制接口配置
type HTTPConfig struct {
	Addr string `yaml:"addr" json:"addr"`
}

// Load 加载配置
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse 解析 yaml 内容, 展开环境变量并填充默认值
func Parse(data []byte) (*Config, error) {
	content := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(content), &cfg); err != nil {
		return nil, err
	}
	setDefaults(&cfg)
	return &cfg, nil
}

// Validate 校验必填项
func (c *Config) Validate() error {
	var errs []error
	if c.Blockchain.RPCURL == "" {
		errs = append(errs, errors.New("blockchain.rpc_url is required"))
	}
	if c.Blockchain.DiceContract == "" {
		errs = append(errs, errors.New("blockchain.dice_contract is required"))
	}
	if c.Relay.Enabled && (c.Relay.BundlerURL == "" || c.Relay.EntryPoint == "" || c.Relay.AccountFactory == "") {
		errs = append(errs, errors.New("relay requires bundler_url, entry_point and account_factory"))
	}
	if c.Indexer.BlockCacheTTL > 10*time.Second {
		errs = append(errs, errors.New("indexer.block_cache_ttl must not exceed 10s"))
	}
	switch c.Storage.Driver {
	case "memory", "redis", "sql":
	default:
		errs = append(errs, fmt.Errorf("unknown storage.driver %q", c.Storage.Driver))
	}
	if c.Game.HouseEdgeBP < 0 || c.Game.HouseEdgeBP >= 10000 {
		errs = append(errs, errors.New("game.house_edge_bp must be in [0, 10000)"))
	}
	return errors.Join(errs...)
}

// expandEnvVars 展开环境变量 ${VAR:default}
func expandEnvVars(s string) string {
	var b strings.Builder
	rest := s
	for {
		start := strings.Index(rest, "${")
		if start == -1 {
			break
		}
		end := strings.Index(rest[start:], "}")
		if end == -1 {
			break
		}
		end += start

		name, def, _ := strings.Cut(rest[start+2:end], ":")
		value := os.Getenv(name)
		if value == "" {
			value = def
		}
		b.WriteString(rest[:start])
		b.WriteString(value)
		rest = rest[end+1:]
	}
	b.WriteString(rest)
	return b.String()
}

// setDefaults 设置默认值
func setDefaults(cfg *Config) {
	if cfg.Service.Name == "" {
		cfg.Service.Name = "clawdice"
	}
	if cfg.Service.Env == "" {
		cfg.Service.Env = "dev"
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}

	if cfg.Blockchain.ChainID == 0 {
		cfg.Blockchain.ChainID = 8453 // Base
	}
	if cfg.Blockchain.MaxRetries == 0 {
		cfg.Blockchain.MaxRetries = 3
	}
	if cfg.Blockchain.RetryInterval == 0 {
		cfg.Blockchain.RetryInterval = time.Second
	}
	if cfg.Blockchain.GasMultiplier == 0 {
		cfg.Blockchain.GasMultiplier = 1.2
	}

	if cfg.Relay.ReceiptTimeout == 0 {
		cfg.Relay.ReceiptTimeout = 60 * time.Second
	}
	if cfg.Relay.ReceiptPoll == 0 {
		cfg.Relay.ReceiptPoll = 2 * time.Second
	}

	if cfg.Indexer.BaseURL == "" {
		cfg.Indexer.BaseURL = "https://api.indexsupply.net"
	}
	if cfg.Indexer.Timeout == 0 {
		cfg.Indexer.Timeout = 15 * time.Second
	}
	if cfg.Indexer.BlockCacheTTL == 0 {
		cfg.Indexer.BlockCacheTTL = 10 * time.Second
	}

	if cfg.Game.HouseEdgeBP == 0 {
		cfg.Game.HouseEdgeBP = 100
	}
	if cfg.Game.BetLookupAttempts == 0 {
		cfg.Game.BetLookupAttempts = 5
	}
	if cfg.Game.BetLookupInterval == 0 {
		cfg.Game.BetLookupInterval = time.Second
	}
	if cfg.Game.FallbackDelay == 0 {
		cfg.Game.FallbackDelay = 3 * time.Second
	}
	if cfg.Game.BlockPollInterval == 0 {
		cfg.Game.BlockPollInterval = time.Second
	}
	if cfg.Game.BlockWaitTimeout == 0 {
		cfg.Game.BlockWaitTimeout = 2 * time.Minute
	}
	if cfg.Game.ReceiptTimeout == 0 {
		cfg.Game.ReceiptTimeout = 2 * time.Minute
	}
	if cfg.Game.ClaimWindow == 0 {
		cfg.Game.ClaimWindow = 256
	}
	if cfg.Game.ClaimEarlyRetries == 0 {
		cfg.Game.ClaimEarlyRetries = 3
	}

	if cfg.Session.DefaultDuration == 0 {
		cfg.Session.DefaultDuration = 24 * time.Hour
	}
	if cfg.Session.DefaultMaxBet == "" {
		cfg.Session.DefaultMaxBet = "1000"
	}
	if cfg.Session.VerifyDelay == 0 {
		cfg.Session.VerifyDelay = 5 * time.Second
	}
	if cfg.Session.VerifyCron == "" {
		cfg.Session.VerifyCron = "@every 5m"
	}

	if cfg.Sweeper.HistoryLimit == 0 {
		cfg.Sweeper.HistoryLimit = 100
	}

	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "memory"
	}

	if cfg.Redis.PoolSize == 0 {
		cfg.Redis.PoolSize = 10
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = "clawdice:"
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "clawdice.db"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConnections == 0 {
		cfg.Database.MaxConnections = 10
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 2
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 3600
	}

	if cfg.Kafka.ClientID == "" {
		cfg.Kafka.ClientID = cfg.Service.Name
	}

	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = "127.0.0.1:8787"
	}
}

// GetEnvInt 获取环境变量整数值
func GetEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

// GetEnvString 获取环境变量字符串值
func GetEnvString(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
