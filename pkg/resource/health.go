// pkg/resource/health.go
package resource

import (
	"context"
	"fmt"
)

// goroutineWarnRatio is the share of the goroutine budget at which the
// check reports unhealthy.
const goroutineWarnRatio = 0.8

// ResourceHealthCheck reports the resource manager's budgets to the health
// checker.
type ResourceHealthCheck struct {
	manager *ResourceManager
}

// NewResourceHealthCheck creates a new health check for the resource manager.
func NewResourceHealthCheck(manager *ResourceManager) *ResourceHealthCheck {
	return &ResourceHealthCheck{
		manager: manager,
	}
}

// Name returns the name of this health check.
func (r *ResourceHealthCheck) Name() string {
	return "resources"
}

// Check measures heap usage and fails when it is over the limit or when the
// tracked goroutines are close to their budget.
func (r *ResourceHealthCheck) Check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := r.manager.CheckMemoryUsage(); err != nil {
		return err
	}

	stats := r.manager.GetResourceStats()
	threshold := int64(float64(stats.MaxGoroutines) * goroutineWarnRatio)
	if stats.GoroutineCount > threshold {
		return fmt.Errorf("goroutine count %d exceeds %.0f%% threshold (%d/%d)",
			stats.GoroutineCount, goroutineWarnRatio*100, threshold, stats.MaxGoroutines)
	}

	return nil
}
