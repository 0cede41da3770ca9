package config

import (
	"log"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig       `mapstructure:"server"`
	Auth        AuthConfig         `mapstructure:"auth"`
	Database    DatabaseConfig     `mapstructure:"database"`
	Redis       RedisConfig        `mapstructure:"redis"`
	Chain       ChainConfig        `mapstructure:"chain"`
	Policy      PolicyConfig       `mapstructure:"policy"`
	Metrics     MetricsConfig      `mapstructure:"metrics"`
	SubAccounts []SubAccountConfig `mapstructure:"subaccounts"`
}

type ServerConfig struct {
	Port   string `mapstructure:"port"`
	LogDir string `mapstructure:"log_dir"`
}

type AuthConfig struct {
	AdminKey       string `mapstructure:"admin_key"`
	AdminSecretKey string `mapstructure:"admin_secret_key"`
	OracleKey      string `mapstructure:"oracle_key"`
}

type DatabaseConfig struct {
	DSN               string `mapstructure:"dsn"`
	RecordRetentionDays int  `mapstructure:"record_retention_days"`
}

type RedisConfig struct {
	Addr                  string `mapstructure:"addr"`
	Password              string `mapstructure:"password"`
	DB                    int    `mapstructure:"db"`
	IdempotencyTTLSeconds int    `mapstructure:"idempotency_ttl_seconds"`
}

type ChainConfig struct {
	RPCURL           string `mapstructure:"rpc_url"`
	ChainID          int64  `mapstructure:"chain_id"`
	VaultAddress     string `mapstructure:"vault_address"`
	ModulePrivateKey string `mapstructure:"module_private_key"`
	CallTimeoutMs    int    `mapstructure:"call_timeout_ms"`
	CallRetries      int    `mapstructure:"call_retries"`
}

type PolicyConfig struct {
	AbsoluteMaxSpendingBps int64 `mapstructure:"absolute_max_spending_bps"` // global bps ceiling for any sub-account
	ValuationMaxAgeSeconds int64 `mapstructure:"valuation_max_age_seconds"` // older snapshots are degraded-trust
	LossToleranceBps       int64 `mapstructure:"loss_tolerance_bps"`        // slack on the acquired-balance guard
	ReadOnly               bool  `mapstructure:"read_only"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type SubAccountConfig struct {
	ID           string   `mapstructure:"id"`
	Name         string   `mapstructure:"name"`
	APIKey       string   `mapstructure:"api_key"`
	Address      string   `mapstructure:"address"`
	Capabilities []string `mapstructure:"capabilities"`
	Roles        []string `mapstructure:"roles"`
	Allowlist    []string `mapstructure:"allowlist"`
	MaxSpendingBps int64  `mapstructure:"max_spending_bps"`
	WindowSeconds  int64  `mapstructure:"window_seconds"`
	QPS          float64  `mapstructure:"qps"`
	Burst        int      `mapstructure:"burst"`
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./configs")

	// Environment variables support
	// e.g. VAULTGATE_AUTH_ORACLE_KEY
	viper.SetEnvPrefix("vaultgate")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Defaults
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.log_dir", "./logs")
	viper.SetDefault("redis.idempotency_ttl_seconds", 86400)
	viper.SetDefault("database.record_retention_days", 90)
	viper.SetDefault("chain.chain_id", 1)
	viper.SetDefault("chain.call_timeout_ms", 5000)
	viper.SetDefault("chain.call_retries", 1)
	viper.SetDefault("policy.absolute_max_spending_bps", 2000)
	viper.SetDefault("policy.valuation_max_age_seconds", 3600)
	viper.SetDefault("policy.loss_tolerance_bps", 0)
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("No config file found, using defaults and env vars")
		} else {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
