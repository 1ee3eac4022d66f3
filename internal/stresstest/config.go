package stresstest

import (
	"fmt"
	"time"
)

// DefaultRequestTimeout bounds a single call when Config.RequestTimeout is zero.
const DefaultRequestTimeout = 10 * time.Second

// Config describes one benchmark of a single operation.
type Config struct {
	Operation      string
	Values         map[string]any
	Concurrency    int
	TotalRequests  int
	RampUp         time.Duration // workers start evenly spread over this window
	Duration       time.Duration // zero runs until TotalRequests complete
	RequestTimeout time.Duration
}

// Validate validates the benchmark configuration
func (c *Config) Validate() error {
	if c.Operation == "" {
		return fmt.Errorf("operation is required")
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be greater than 0")
	}
	if c.Concurrency > 1000 {
		return fmt.Errorf("concurrency cannot exceed 1000")
	}
	if c.TotalRequests <= 0 {
		return fmt.Errorf("total requests must be greater than 0")
	}
	if c.TotalRequests > 1000000 {
		return fmt.Errorf("total requests cannot exceed 1,000,000")
	}
	if c.RampUp < 0 {
		return fmt.Errorf("ramp-up duration cannot be negative")
	}
	if c.Duration < 0 {
		return fmt.Errorf("test duration cannot be negative")
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("request timeout cannot be negative")
	}
	return nil
}

func (c *Config) requestTimeout() time.Duration {
	if c.RequestTimeout == 0 {
		return DefaultRequestTimeout
	}
	return c.RequestTimeout
}

// workerDelay is the start offset of worker i during ramp-up.
func (c *Config) workerDelay(i int) time.Duration {
	if c.RampUp == 0 || c.Concurrency <= 1 {
		return 0
	}
	return c.RampUp * time.Duration(i) / time.Duration(c.Concurrency)
}
