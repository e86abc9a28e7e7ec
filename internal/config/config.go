package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// BaseConfig holds base configuration
type BaseConfig struct {
	Debug     bool   `mapstructure:"debug"`
	SentryDSN string `mapstructure:"sentry_dsn"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`  // in seconds
	WriteTimeout int    `mapstructure:"write_timeout"` // in seconds
	IdleTimeout  int    `mapstructure:"idle_timeout"`  // in seconds
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTPublicKey string   `mapstructure:"jwt_public_key"`
	APIKeys      []string `mapstructure:"api_keys"`
}

// ContractConfig holds TUT token contract configuration
type ContractConfig struct {
	RPCURL string `mapstructure:"rpc_url"`
	// WebSocketURL is required by the chain emitter for log subscriptions
	WebSocketURL    string        `mapstructure:"websocket_url"`
	ContractAddress string        `mapstructure:"contract_address"`
	OperatorKey     string        `mapstructure:"operator_key"`
	CallTimeout     time.Duration `mapstructure:"call_timeout"`
	MaxRetryElapsed time.Duration `mapstructure:"max_retry_elapsed"`
}

// NATSConfig holds NATS JetStream configuration
type NATSConfig struct {
	URL           string        `mapstructure:"url"`
	StreamName    string        `mapstructure:"stream_name"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
}

// CatalogConfig holds catalog service client configuration
type CatalogConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// PricingConfig holds order pricing configuration
type PricingConfig struct {
	// TaxRate is the sales tax applied to the cash subtotal, e.g. "0.08"
	TaxRate string `mapstructure:"tax_rate"`
	// Shipping is the flat shipping charge, e.g. "0"
	Shipping string `mapstructure:"shipping"`
}

// EmitterConfig holds chain emitter tuning
type EmitterConfig struct {
	// Chain labels the persisted block cursor
	Chain           string        `mapstructure:"chain"`
	StartBlock      uint64        `mapstructure:"start_block"`
	CursorSaveFreq  uint64        `mapstructure:"cursor_save_freq"`
	CursorSaveDelay time.Duration `mapstructure:"cursor_save_delay"`
}

// APIConfig holds configuration for the API server binary
type APIConfig struct {
	BaseConfig `mapstructure:",squash"`
	Server     ServerConfig   `mapstructure:"server"`
	Database   DatabaseConfig `mapstructure:"database"`
	Auth       AuthConfig     `mapstructure:"auth"`
	Contract   ContractConfig `mapstructure:"contract"`
	NATS       NATSConfig     `mapstructure:"nats"`
	Catalog    CatalogConfig  `mapstructure:"catalog"`
	Pricing    PricingConfig  `mapstructure:"pricing"`
}

// LoadAPIConfig loads configuration for the API server
func LoadAPIConfig(configFile string, envPath string) (*APIConfig, error) {
	v := configureViper("api", configFile, envPath)

	// Set defaults
	v.SetDefault("debug", false)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10)
	v.SetDefault("server.write_timeout", 10)
	v.SetDefault("server.idle_timeout", 120)
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("contract.call_timeout", "15s")
	v.SetDefault("contract.max_retry_elapsed", "30s")
	v.SetDefault("nats.stream_name", "LEDGER_EVENTS")
	v.SetDefault("nats.max_reconnects", 10)
	v.SetDefault("nats.reconnect_wait", "2s")
	v.SetDefault("catalog.timeout", "10s")
	v.SetDefault("pricing.tax_rate", "0.08")
	v.SetDefault("pricing.shipping", "0")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			// Config file not found, use environment variables
		} else {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config APIConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

// ChainEmitterConfig holds configuration for the chain emitter binary
type ChainEmitterConfig struct {
	BaseConfig `mapstructure:",squash"`
	Database   DatabaseConfig `mapstructure:"database"`
	Contract   ContractConfig `mapstructure:"contract"`
	NATS       NATSConfig     `mapstructure:"nats"`
	Emitter    EmitterConfig  `mapstructure:"emitter"`
}

// LoadChainEmitterConfig loads configuration for the chain emitter
func LoadChainEmitterConfig(configFile string, envPath string) (*ChainEmitterConfig, error) {
	v := configureViper("chain-emitter", configFile, envPath)

	// Set defaults
	v.SetDefault("debug", false)
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("contract.call_timeout", "15s")
	v.SetDefault("contract.max_retry_elapsed", "30s")
	v.SetDefault("nats.stream_name", "LEDGER_EVENTS")
	v.SetDefault("nats.max_reconnects", 10)
	v.SetDefault("nats.reconnect_wait", "2s")
	v.SetDefault("emitter.chain", "tut:ethereum")
	v.SetDefault("emitter.cursor_save_freq", 2)
	v.SetDefault("emitter.cursor_save_delay", "30s")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			// Config file not found, use environment variables
		} else {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config ChainEmitterConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

// configureViper returns a viper instance with the config file and environment variables set
func configureViper(service string, configFile string, envPath string) *viper.Viper {
	v := viper.New()

	// Load environment variables
	loadEnv(envPath, service)

	// Set config file
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(fmt.Sprintf("cmd/%s/", service))
		v.AddConfigPath("config/")
	}

	// Set environment variables
	v.SetEnvPrefix("TUT_ENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicitly bind all environment variables
	bindAllEnvVars(v)
	return v
}

// bindAllEnvVars explicitly binds all possible environment variables.
// Required for viper to map env vars to config struct fields when no config file exists.
func bindAllEnvVars(v *viper.Viper) {
	keys := []string{
		"debug",
		"sentry_dsn",
		// Database
		"database.host",
		"database.port",
		"database.user",
		"database.password",
		"database.dbname",
		"database.sslmode",
		"database.max_open_conns",
		"database.max_idle_conns",
		"database.conn_max_lifetime",
		"database.conn_max_idle_time",
		// Server
		"server.host",
		"server.port",
		"server.read_timeout",
		"server.write_timeout",
		"server.idle_timeout",
		// Auth
		"auth.jwt_public_key",
		"auth.api_keys",
		// Contract
		"contract.rpc_url",
		"contract.websocket_url",
		"contract.contract_address",
		"contract.operator_key",
		"contract.call_timeout",
		"contract.max_retry_elapsed",
		// NATS
		"nats.url",
		"nats.stream_name",
		"nats.max_reconnects",
		"nats.reconnect_wait",
		// Catalog
		"catalog.base_url",
		"catalog.timeout",
		// Pricing
		"pricing.tax_rate",
		"pricing.shipping",
		// Emitter
		"emitter.chain",
		"emitter.start_block",
		"emitter.cursor_save_freq",
		"emitter.cursor_save_delay",
	}

	for _, key := range keys {
		_ = v.BindEnv(key)
	}
}

// loadEnv loads environment variables from the config directory
func loadEnv(envPath string, service string) {
	envFiles := []string{".env", ".env.local"}
	if service != "" {
		envFiles = append(envFiles, ".env."+service+".local")
	}

	if envPath == "" {
		envPath = "config/"
	}

	for _, envFile := range envFiles {
		candidate := filepath.Join(envPath, envFile)
		_ = godotenv.Overload(candidate) // Overload lets later files override earlier ones
	}
}

// ChdirRepoRoot changes the current working directory to the repository root
func ChdirRepoRoot() {
	cwd, _ := os.Getwd()
	for range 5 {
		if _, err := os.Stat(filepath.Join(cwd, "config")); err == nil {
			_ = os.Chdir(cwd)
			return
		}
		cwd = filepath.Dir(cwd)
	}
}

// DSN returns the database connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}
