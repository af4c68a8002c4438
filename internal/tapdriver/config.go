// Package tapdriver exercises a running popkomodo session over its HTTP API:
// it connects a wallet, picks a team when needed, sends taps concurrently,
// submits them in capped batches and checks the on-chain score moved.
package tapdriver

import (
	"errors"
	"time"
)

// Config holds configuration for a driver run.
type Config struct {
	BaseURL      string        // Base URL of the service
	Account      string        // Wallet address to connect; empty picks the first
	Team         string        // Team to choose when the account has none
	Taps         int           // Total taps to send
	Workers      int           // Concurrent tap senders
	Timeout      time.Duration // HTTP request timeout
	PollInterval time.Duration // How often /view is re-read while waiting
	Deadline     time.Duration // Upper bound for any single wait
	Verbose      bool          // Log every batch
}

// Stats holds run statistics.
type Stats struct {
	TapsSent      int
	TapsAccepted  int
	TapsRefused   int
	Batches       int
	PopsConfirmed int
	ScoreBefore   uint64
	ScoreAfter    uint64
	StartTime     time.Time
	EndTime       time.Time
	Duration      time.Duration
}

// Errors reported by Run.
var (
	ErrUnhealthy    = errors.New("service is not healthy")
	ErrUnconfigured = errors.New("service has no contract address")
	ErrNoTeam       = errors.New("account has no team and none was requested")
	ErrTimeout      = errors.New("timed out waiting for the session")
	ErrWriteFailed  = errors.New("contract write failed")
	ErrScoreMoved   = errors.New("team score did not reflect confirmed pops")
)

// batchCap is the most pops a single submission can carry.
const batchCap = 200

// Defaults applied by Run to unset fields.
const (
	DefaultWorkers      = 4
	DefaultTimeout      = 30 * time.Second
	DefaultPollInterval = 500 * time.Millisecond
	DefaultDeadline     = 2 * time.Minute
)

func (c *Config) normalize() {
	if c.Workers < 1 {
		c.Workers = DefaultWorkers
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.Deadline <= 0 {
		c.Deadline = DefaultDeadline
	}
}
