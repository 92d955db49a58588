package health

import (
	"context"
	"fmt"
)

// Usage is a point-in-time reading of a bounded resource.
type Usage struct {
	Used     int
	Capacity int // <= 0 means unbounded
	Details  map[string]any
}

// CapacityCheckerConfig configures a CapacityChecker.
type CapacityCheckerConfig struct {
	// WarningThreshold is the used/capacity ratio that triggers degraded status.
	// Value should be between 0 and 1. Default: 0.8 (80%)
	WarningThreshold float64

	// CriticalThreshold is the used/capacity ratio that triggers unhealthy status.
	// Value should be between 0 and 1 inclusive. Default: 1.0 (saturated)
	CriticalThreshold float64
}

// CapacityChecker reports how close a bounded resource is to saturation,
// such as dispatch slots in a bulkhead.
type CapacityChecker struct {
	name   string
	config CapacityCheckerConfig
	read   func() Usage
}

// NewCapacityChecker creates a checker that calls read on every check.
func NewCapacityChecker(name string, config CapacityCheckerConfig, read func() Usage) *CapacityChecker {
	if config.WarningThreshold <= 0 || config.WarningThreshold >= 1 {
		config.WarningThreshold = 0.8
	}
	if config.CriticalThreshold <= 0 || config.CriticalThreshold > 1 {
		config.CriticalThreshold = 1
	}
	if config.CriticalThreshold < config.WarningThreshold {
		config.CriticalThreshold = min(config.WarningThreshold+0.1, 1)
	}
	return &CapacityChecker{name: name, config: config, read: read}
}

// Name returns the name of this checker.
func (c *CapacityChecker) Name() string { return c.name }

// Check performs the capacity check.
func (c *CapacityChecker) Check(ctx context.Context) Result {
	select {
	case <-ctx.Done():
		return Unhealthy("context cancelled", ctx.Err())
	default:
	}

	u := c.read()
	details := make(map[string]any, len(u.Details)+2)
	for k, v := range u.Details {
		details[k] = v
	}
	details["used"] = u.Used
	details["capacity"] = u.Capacity

	if u.Capacity <= 0 {
		return Healthy(fmt.Sprintf("%d in use, unbounded", u.Used)).WithDetails(details)
	}

	ratio := float64(u.Used) / float64(u.Capacity)
	details["usage_percent"] = ratio * 100

	switch {
	case ratio >= c.config.CriticalThreshold:
		return Unhealthy(fmt.Sprintf("%s saturated: %d/%d", c.name, u.Used, u.Capacity), ErrCheckFailed).WithDetails(details)
	case ratio >= c.config.WarningThreshold:
		return Degraded(fmt.Sprintf("%s under pressure: %d/%d", c.name, u.Used, u.Capacity)).WithDetails(details)
	default:
		return Healthy(fmt.Sprintf("%d/%d in use", u.Used, u.Capacity)).WithDetails(details)
	}
}
