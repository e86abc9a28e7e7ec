package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAPIConfig(t *testing.T) {
	tests := []struct {
		name        string
		configFile  string
		expectError bool
		validate    func(*testing.T, *APIConfig)
	}{
		{
			name: "valid config file",
			configFile: `
debug: true
sentry_dsn: "https://sentry.example.com"
server:
  host: 127.0.0.1
  port: 9090
  read_timeout: 20
database:
  host: localhost
  port: 5432
  user: testuser
  password: testpass
  dbname: testdb
  sslmode: require
auth:
  jwt_public_key: "test-key"
  api_keys:
    - "admin-key-1"
    - "admin-key-2"
contract:
  rpc_url: "http://localhost:8545"
  contract_address: "0x1234567890123456789012345678901234567890"
  call_timeout: "5s"
nats:
  url: "nats://localhost:4222"
  stream_name: "TEST_STREAM"
  max_reconnects: 5
  reconnect_wait: "5s"
catalog:
  base_url: "http://catalog.internal:8000"
  timeout: "3s"
pricing:
  tax_rate: "0.08"
  shipping: "4.99"
`,
			expectError: false,
			validate: func(t *testing.T, cfg *APIConfig) {
				assert.True(t, cfg.Debug)
				assert.Equal(t, "https://sentry.example.com", cfg.SentryDSN)
				assert.Equal(t, "127.0.0.1", cfg.Server.Host)
				assert.Equal(t, 9090, cfg.Server.Port)
				assert.Equal(t, 20, cfg.Server.ReadTimeout)
				assert.Equal(t, "localhost", cfg.Database.Host)
				assert.Equal(t, 5432, cfg.Database.Port)
				assert.Equal(t, "testuser", cfg.Database.User)
				assert.Equal(t, "require", cfg.Database.SSLMode)
				assert.Equal(t, "test-key", cfg.Auth.JWTPublicKey)
				assert.Len(t, cfg.Auth.APIKeys, 2)
				assert.Equal(t, "0x1234567890123456789012345678901234567890", cfg.Contract.ContractAddress)
				assert.Equal(t, "5s", cfg.Contract.CallTimeout.String())
				assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
				assert.Equal(t, "TEST_STREAM", cfg.NATS.StreamName)
				assert.Equal(t, "http://catalog.internal:8000", cfg.Catalog.BaseURL)
				assert.Equal(t, "0.08", cfg.Pricing.TaxRate)
				assert.Equal(t, "4.99", cfg.Pricing.Shipping)
			},
		},
		{
			name: "config with defaults",
			configFile: `
database:
  host: localhost
  user: testuser
  password: testpass
  dbname: testdb
nats:
  url: "nats://localhost:4222"
catalog:
  base_url: "http://catalog.internal:8000"
`,
			expectError: false,
			validate: func(t *testing.T, cfg *APIConfig) {
				// Check defaults
				assert.Equal(t, "0.0.0.0", cfg.Server.Host)
				assert.Equal(t, 8080, cfg.Server.Port)
				assert.Equal(t, 5432, cfg.Database.Port)
				assert.Equal(t, "disable", cfg.Database.SSLMode)
				assert.Equal(t, "LEDGER_EVENTS", cfg.NATS.StreamName)
				assert.Equal(t, 10, cfg.NATS.MaxReconnects)
				assert.Equal(t, "2s", cfg.NATS.ReconnectWait.String())
				assert.Equal(t, "15s", cfg.Contract.CallTimeout.String())
				assert.Equal(t, "10s", cfg.Catalog.Timeout.String())
				assert.Equal(t, "0.08", cfg.Pricing.TaxRate)
				assert.Equal(t, "0", cfg.Pricing.Shipping)
			},
		},
		{
			name:        "missing config file",
			configFile:  "",
			expectError: false,
			validate:    nil,
		},
		{
			name: "invalid yaml",
			configFile: `
				server:
				  port: invalid
			`,
			expectError: true, // Invalid port should cause unmarshal error
			validate:    nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			var configFile string

			if tt.configFile != "" {
				configFile = filepath.Join(tmpDir, "config.yaml")
				err := os.WriteFile(configFile, []byte(tt.configFile), 0600)
				require.NoError(t, err)
			} else {
				configFile = filepath.Join(tmpDir, "nonexistent.yaml")
			}

			cfg, err := LoadAPIConfig(configFile, "")

			if tt.expectError {
				assert.Error(t, err)
				assert.Nil(t, cfg)
			} else {
				if tt.validate != nil {
					require.NoError(t, err)
					require.NotNil(t, cfg)
					tt.validate(t, cfg)
				}
			}
		})
	}
}

func TestLoadChainEmitterConfig(t *testing.T) {
	tests := []struct {
		name        string
		configFile  string
		expectError bool
		validate    func(*testing.T, *ChainEmitterConfig)
	}{
		{
			name: "valid config file",
			configFile: `
debug: true
database:
  host: localhost
  user: testuser
  password: testpass
  dbname: testdb
contract:
  rpc_url: "http://localhost:8545"
  websocket_url: "ws://localhost:8546"
  contract_address: "0x1234567890123456789012345678901234567890"
nats:
  url: "nats://localhost:4222"
  stream_name: "TEST_STREAM"
emitter:
  chain: "tut:sepolia"
  start_block: 1000
  cursor_save_freq: 10
  cursor_save_delay: "10s"
`,
			expectError: false,
			validate: func(t *testing.T, cfg *ChainEmitterConfig) {
				assert.True(t, cfg.Debug)
				assert.Equal(t, "ws://localhost:8546", cfg.Contract.WebSocketURL)
				assert.Equal(t, "TEST_STREAM", cfg.NATS.StreamName)
				assert.Equal(t, "tut:sepolia", cfg.Emitter.Chain)
				assert.Equal(t, uint64(1000), cfg.Emitter.StartBlock)
				assert.Equal(t, uint64(10), cfg.Emitter.CursorSaveFreq)
				assert.Equal(t, "10s", cfg.Emitter.CursorSaveDelay.String())
			},
		},
		{
			name: "config with defaults",
			configFile: `
database:
  host: localhost
  user: testuser
  password: testpass
  dbname: testdb
contract:
  websocket_url: "ws://localhost:8546"
  contract_address: "0x1234567890123456789012345678901234567890"
nats:
  url: "nats://localhost:4222"
`,
			expectError: false,
			validate: func(t *testing.T, cfg *ChainEmitterConfig) {
				// Check defaults
				assert.Equal(t, "tut:ethereum", cfg.Emitter.Chain)
				assert.Equal(t, uint64(0), cfg.Emitter.StartBlock)
				assert.Equal(t, uint64(2), cfg.Emitter.CursorSaveFreq)
				assert.Equal(t, "30s", cfg.Emitter.CursorSaveDelay.String())
				assert.Equal(t, "LEDGER_EVENTS", cfg.NATS.StreamName)
				assert.Equal(t, 5432, cfg.Database.Port)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			configFile := filepath.Join(tmpDir, "config.yaml")
			err := os.WriteFile(configFile, []byte(tt.configFile), 0600)
			require.NoError(t, err)

			cfg, err := LoadChainEmitterConfig(configFile, "")

			if tt.expectError {
				assert.Error(t, err)
				assert.Nil(t, cfg)
			} else {
				if tt.validate != nil {
					require.NoError(t, err)
					require.NotNil(t, cfg)
					tt.validate(t, cfg)
				}
			}
		})
	}
}
