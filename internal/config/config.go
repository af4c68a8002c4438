// Package config defines process configuration and its loading hooks.
//
// Conventions:
//   - Defaults live in New; Load layers a YAML file and env vars on top.
//   - The contract address is optional. An empty address is a degraded,
//     non-fatal state surfaced by the session controller.
package config

import (
	"strings"
	"time"
)

// Monad testnet defaults.
const (
	DefaultRPCURL  = "https://testnet-rpc.monad.xyz"
	DefaultChainID = 10143
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// ContractAddress is the hex address of the game contract.
	ContractAddress string `koanf:"contract_address"`

	// RPCURL and ChainID select the chain the wallet signs for.
	RPCURL  string `koanf:"rpc_url"`
	ChainID int64  `koanf:"chain_id"`

	// PrivateKeys is a comma separated list of hex keys the local wallet may connect.
	PrivateKeys string `koanf:"private_keys"`

	// PollIntervalMS is the score refresh interval.
	PollIntervalMS int `koanf:"poll_interval_ms"`

	// ReadTimeoutMS bounds a single contract read.
	ReadTimeoutMS int `koanf:"read_timeout_ms"`

	// DispatchWorkers and DispatchQueueSize size the action dispatcher.
	DispatchWorkers   int `koanf:"dispatch_workers"`
	DispatchQueueSize int `koanf:"dispatch_queue_size"`
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:          "info",
		Addr:              ":9080",
		RPCURL:            DefaultRPCURL,
		ChainID:           DefaultChainID,
		PollIntervalMS:    1500,
		ReadTimeoutMS:     10000,
		DispatchWorkers:   2,
		DispatchQueueSize: 16,
	}
}

// PollInterval returns PollIntervalMS as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// ReadTimeout returns ReadTimeoutMS as a duration.
func (c *Config) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutMS) * time.Millisecond
}

// Keys splits PrivateKeys, dropping blanks and any 0x prefix.
func (c *Config) Keys() []string {
	var keys []string
	for _, k := range strings.Split(c.PrivateKeys, ",") {
		k = strings.TrimPrefix(strings.TrimSpace(k), "0x")
		if k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// Configured reports whether a contract address was supplied.
func (c *Config) Configured() bool {
	return strings.TrimSpace(c.ContractAddress) != ""
}
