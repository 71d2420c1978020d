package lib

import (
	"os"
	"path/filepath"

	"github.com/alecthomas/units"
)

/* This file implements the 'user controlled' configuration of each module of the consensus core */

const (
	// FILE NAMES in the 'data directory'
	ConfigFilePath  = "config.json"  // the file path for the node configuration
	GenesisFilePath = "genesis.json" // the file path for the genesis miner list and start time
)

// Config is the structure of the user configuration options for the consensus core
type Config struct {
	MainConfig      // main options spanning over all modules
	ConsensusConfig // round scheduling policy options
	StoreConfig     // persistence options
	MetricsConfig   // telemetry options
}

// DefaultConfig() returns a Config with developer set options
func DefaultConfig() Config {
	return Config{
		MainConfig:      DefaultMainConfig(),
		ConsensusConfig: DefaultConsensusConfig(),
		StoreConfig:     DefaultStoreConfig(),
		MetricsConfig:   DefaultMetricsConfig(),
	}
}

// MAIN CONFIG BELOW

type MainConfig struct {
	LogLevel string `json:"logLevel"` // any level includes the levels above it: debug < info < warning < error
	ChainId  uint64 `json:"chainId"`  // the identifier of this particular chain
}

// DefaultMainConfig() sets log level to 'info'
func DefaultMainConfig() MainConfig {
	return MainConfig{
		LogLevel: "info",
		ChainId:  1,
	}
}

// GetLoggerConfig() converts the main config log level into a LoggerConfig
func (m *MainConfig) GetLoggerConfig() LoggerConfig {
	return LoggerConfig{Level: LogLevelFromString(m.LogLevel)}
}

// CONSENSUS CONFIG BELOW

// ConsensusConfig defines the round scheduling policy
// NOTES:
// - every value here is policy, not protocol law: the quorum fraction and the evil miner
//   threshold in particular may be tuned per chain
// - all durations are in milliseconds to keep round arithmetic integer based and deterministic
type ConsensusConfig struct {
	MiningIntervalMS     uint64 `json:"miningIntervalMS"`     // the width of a single miner's time slot
	MaxTinyBlocksCount   uint64 `json:"maxTinyBlocksCount"`   // how many additional blocks a miner may produce inside one slot
	TinyBlockToleranceMS uint64 `json:"tinyBlockToleranceMS"` // allowed skew between a claimed mining time and the block header time
	MaxFutureDriftMS     uint64 `json:"maxFutureDriftMS"`     // how far into the future a block header time may run
	PeriodSeconds        uint64 `json:"periodSeconds"`        // the length of a term in seconds of blockchain age
	MaximumMissedBlocks  uint64 `json:"maximumMissedBlocks"`  // missed time slots within one round before a miner is marked evil
	LibLagSeverityRounds uint64 `json:"libLagSeverityRounds"` // rounds the LIB may lag before the tiny block allowance is throttled
}

// DefaultConsensusConfig() returns the standard mainnet policy constants
func DefaultConsensusConfig() ConsensusConfig {
	return ConsensusConfig{
		MiningIntervalMS:     4000,
		MaxTinyBlocksCount:   8,
		TinyBlockToleranceMS: 500,
		MaxFutureDriftMS:     4000,
		PeriodSeconds:        604800, // 7 days
		MaximumMissedBlocks:  3,
		LibLagSeverityRounds: 2,
	}
}

// MinersCountOfConsent() returns the quorum size for LIB and term change consensus: floor(2N/3) + 1
func (c *ConsensusConfig) MinersCountOfConsent(minerCount int) int {
	return minerCount*2/3 + 1
}

// STORE CONFIG BELOW

type StoreConfig struct {
	DataDirPath      string `json:"dataDirPath"`      // the directory where the database and logs live
	DBName           string `json:"dbName"`           // the name of the database directory
	InMemory         bool   `json:"inMemory"`         // in-memory only database (testing)
	RoundRetention   uint64 `json:"roundRetention"`   // how many historical rounds are kept before pruning
	ValueLogFileSize int64  `json:"valueLogFileSize"` // badger value log file size in bytes
}

// DefaultStoreConfig() returns the default persistence options
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		DataDirPath:      DefaultDataDirPath(),
		DBName:           "aedpos",
		RoundRetention:   100,
		ValueLogFileSize: int64(256 * units.MiB),
	}
}

// METRICS CONFIG BELOW

type MetricsConfig struct {
	MetricsEnabled    bool   `json:"metricsEnabled"`    // whether the prometheus server is exposed
	PrometheusAddress string `json:"prometheusAddress"` // the listen address of the /metrics endpoint
}

// DefaultMetricsConfig() exposes metrics on the conventional prometheus port
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		MetricsEnabled:    false,
		PrometheusAddress: "0.0.0.0:9090",
	}
}

// NewConfigFromFile() populates a Config from a JSON file, applying defaults for absent fields
func NewConfigFromFile(filePath string) (Config, ErrorI) {
	bz, err := os.ReadFile(filePath)
	if err != nil {
		return Config{}, ErrReadFile(err)
	}
	c := DefaultConfig()
	if e := UnmarshalJSON(bz, &c); e != nil {
		return Config{}, e
	}
	return c, nil
}

// WriteToFile() saves the Config object to a JSON file
func (c Config) WriteToFile(filepath string) ErrorI {
	configBz, err := MarshalJSONIndent(c)
	if err != nil {
		return err
	}
	if e := os.WriteFile(filepath, configBz, os.ModePerm); e != nil {
		return ErrWriteFile(e)
	}
	return nil
}

// DefaultDataDirPath() returns the default data directory path under the user's home directory
func DefaultDataDirPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		panic(err)
	}
	return filepath.Join(home, ".aedpos")
}
