package service

import (
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/okian/popkomodo/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithContract binds the game contract. Without it the service stays in the
// unconfigured state and refuses every mutating operation.
func WithContract(c Contract) Option {
	return func(s *Service) {
		s.contract = c
	}
}

// WithPollInterval sets how often scores are re-read while connected.
func WithPollInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithClock sets the clock used for polling and latency measurement.
func WithClock(c clockwork.Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithWorkerCount sets the number of dispatch workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets how many prepared actions may wait for a worker.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}
