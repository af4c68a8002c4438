package evm

import (
	"time"

	"github.com/okian/popkomodo/pkg/logger"
)

const defaultReadTimeout = 10 * time.Second

type options struct {
	readTimeout time.Duration
	logger      logger.Logger
}

// Option configures a Client.
type Option func(*options)

// WithReadTimeout bounds each eth_call. Non-positive values are ignored.
func WithReadTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.readTimeout = d
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}
