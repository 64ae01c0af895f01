package dma

import (
	"github.com/usnistgov/pcidma/core/nnduration"
)

// Default configuration values.
const (
	DefaultPollInterval  nnduration.Microseconds = 10
	DefaultDMATimeout    nnduration.Microseconds = 10000
	DefaultSkipTimeout   nnduration.Microseconds = 1000000
	DefaultInterfaceName                         = "dma"
)

// Config contains Dispatcher configuration.
type Config struct {
	// Interface is the DMA interface name that appears in lock names.
	// Two dispatchers with different interface names never share a lock.
	Interface string `json:"interface,omitempty"`

	// PollInterval is the sleep duration between hardware status checks.
	PollInterval nnduration.Microseconds `json:"pollInterval,omitempty"`

	// BusyPoll disables sleeping between hardware status checks.
	BusyPoll bool `json:"busyPoll,omitempty"`

	// DefaultTimeout is the timeout of Write and of ActionContinue waits.
	DefaultTimeout nnduration.Microseconds `json:"defaultTimeout,omitempty"`

	// SkipTimeout bounds the duration of Skip.
	SkipTimeout nnduration.Microseconds `json:"skipTimeout,omitempty"`
}

func (cfg *Config) applyDefaults() {
	if cfg.Interface == "" {
		cfg.Interface = DefaultInterfaceName
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.DefaultTimeout == 0 {
		cfg.DefaultTimeout = DefaultDMATimeout
	}
	if cfg.SkipTimeout == 0 {
		cfg.SkipTimeout = DefaultSkipTimeout
	}
}

// Poller returns the Poller described by this configuration.
func (cfg Config) Poller() Poller {
	return Poller{
		Interval: cfg.PollInterval.DurationOr(DefaultPollInterval),
		Busy:     cfg.BusyPoll,
	}
}
