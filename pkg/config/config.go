package config

import (
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/flare-foundation/go-flare-common/pkg/logger"
)

const (
	mainnetRPCURL = "https://mainnet.ckb.dev/rpc"
	testnetRPCURL = "https://testnet.ckb.dev/rpc"
)

func ReadFile(filepath string, cfg interface{}) error {
	_, err := toml.DecodeFile(filepath, cfg)
	return err
}

type BaseConfig struct {
	DB      DB            `toml:"db"`
	Logger  logger.Config `toml:"logger"`
	Chain   Chain         `toml:"chain"`
	Sync    Sync          `toml:"sync"`
	Clear   Clear         `toml:"clear"`
	Timeout Timeout       `toml:"timeout"`
	Metrics Metrics       `toml:"metrics"`
}

var DefaultBaseConfig = BaseConfig{
	DB:      defaultDB,
	Logger:  defaultLogger,
	Chain:   defaultChain,
	Sync:    defaultSync,
	Clear:   defaultClear,
	Timeout: defaultTimeout,
}

// ApplyEnvOverrides replaces connection settings with the values of the
// corresponding environment variables, when set.
func (c *BaseConfig) ApplyEnvOverrides() {
	if v, ok := os.LookupEnv("DB_HOST"); ok {
		c.DB.Host = v
	}
	if v, ok := os.LookupEnv("DB_PORT"); ok {
		if port, err := strconv.Atoi(v); err == nil {
			c.DB.Port = port
		} else {
			logger.Warnf("ignoring invalid DB_PORT %q", v)
		}
	}
	if v, ok := os.LookupEnv("DB_USERNAME"); ok {
		c.DB.Username = v
	}
	if v, ok := os.LookupEnv("DB_PASSWORD"); ok {
		c.DB.Password = v
	}
	if v, ok := os.LookupEnv("DB_NAME"); ok {
		c.DB.DBName = v
	}
	if v, ok := os.LookupEnv("CKB_RPC_URL"); ok {
		c.Chain.RPCURL = v
	}
}

type DB struct {
	Host             string `toml:"host"`
	Port             int    `toml:"port"`
	Username         string `toml:"username"`
	Password         string `toml:"password"`
	DBName           string `toml:"db_name"`
	LogQueries       bool   `toml:"log_queries"`
	DropTableAtStart bool   `toml:"drop_table_at_start"`
}

var defaultDB = DB{
	Host: "localhost",
	Port: 5432,
}

var defaultLogger = logger.Config{
	Level:       "INFO",
	Console:     true,
	MaxFileSize: 10,
}

type Chain struct {
	IsMainnet             bool     `toml:"is_mainnet"`
	RPCURL                string   `toml:"rpc_url"`
	RequestTimeoutMillis  uint64   `toml:"request_timeout_millis"`
	MaxConcurrentRequests int64    `toml:"max_concurrent_requests"`
	UDTCodeHashes         []string `toml:"udt_code_hashes"`
	CellCacheMB           int      `toml:"cell_cache_mb"`
}

// Endpoint returns the configured RPC URL or the public endpoint of the
// selected network.
func (c Chain) Endpoint() string {
	if c.RPCURL != "" {
		return c.RPCURL
	}
	if c.IsMainnet {
		return mainnetRPCURL
	}

	return testnetRPCURL
}

var defaultChain = Chain{
	RequestTimeoutMillis:  10000,
	MaxConcurrentRequests: 16,
	CellCacheMB:           64,
}

type Sync struct {
	StartHeight uint64 `toml:"start_height"`
	Workers     int    `toml:"workers"`
	ChunkSize   int    `toml:"chunk_size"`
	// Zero means the whole distance to the tip is synced in one pass.
	BlockLimitPerInterval uint64 `toml:"block_limit_per_interval"`
	// Zero disables the scheduled sync loop.
	IntervalMillis       uint64 `toml:"interval_millis"`
	ExtractConcurrency   int    `toml:"extract_concurrency"`
	ReportIntervalBlocks uint64 `toml:"report_interval_blocks"`
}

var defaultSync = Sync{
	Workers:              8,
	ChunkSize:            5,
	IntervalMillis:       3000,
	ExtractConcurrency:   16,
	ReportIntervalBlocks: 100,
}

type Clear struct {
	// Nil disables compaction.
	Confirmations  *uint64 `toml:"confirmations"`
	IntervalMillis uint64  `toml:"interval_millis"`
}

var defaultClear = Clear{
	IntervalMillis: 60000,
}

type Timeout struct {
	BackoffMaxElapsedTimeSeconds int `toml:"backoff_max_elapsed_time_seconds"`
}

var defaultTimeout = Timeout{
	BackoffMaxElapsedTimeSeconds: 300,
}

type Metrics struct {
	// Empty disables the metrics server.
	Address string `toml:"address"`
}
