package health

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"codevibe-chat/backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Status represents the health status of a component
type Status string

const (
	// StatusUp indicates a component is working correctly
	StatusUp Status = "up"
	// StatusDown indicates a component is not working
	StatusDown Status = "down"
	// StatusDegraded indicates a component is working but with reduced functionality
	StatusDegraded Status = "degraded"
)

// Component represents a system component that can be health-checked
type Component struct {
	Name        string    `json:"name"`
	Status      Status    `json:"status"`
	Critical    bool      `json:"critical"`
	Description string    `json:"description,omitempty"`
	Error       string    `json:"error,omitempty"`
	LastChecked time.Time `json:"last_checked"`
}

// Check probes one dependency
type Check func(ctx context.Context) (Status, string, error)

type registration struct {
	check    Check
	critical bool
}

// Checker runs registered checks and keeps their last result
type Checker struct {
	mu         sync.RWMutex
	checks     map[string]registration
	components map[string]*Component
	timeout    time.Duration
	log        *logger.Logger
	listeners  []func(healthy bool)
}

// NewChecker creates a new health checker; timeout bounds each check
func NewChecker(log *logger.Logger, timeout time.Duration) *Checker {
	if log == nil {
		log = logger.NewDiscard()
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	c := &Checker{
		checks:     make(map[string]registration),
		components: make(map[string]*Component),
		timeout:    timeout,
		log:        log,
	}
	c.Register("self", false, func(context.Context) (Status, string, error) {
		return StatusUp, "health checker is running", nil
	})
	return c
}

// Register adds a check. A critical component that is down makes the system unhealthy.
func (c *Checker) Register(name string, critical bool, check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.checks[name] = registration{check: check, critical: critical}
	c.components[name] = &Component{
		Name:        name,
		Status:      StatusDown,
		Critical:    critical,
		Description: "not checked yet",
	}
}

// OnChange registers a callback invoked after every run with the overall result
func (c *Checker) OnChange(fn func(healthy bool)) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

// RunChecks executes all registered health checks
func (c *Checker) RunChecks(ctx context.Context) {
	c.mu.RLock()
	checks := make(map[string]registration, len(c.checks))
	for k, v := range c.checks {
		checks[k] = v
	}
	c.mu.RUnlock()

	results := make(map[string]Component, len(checks))
	for name, reg := range checks {
		checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
		status, description, err := reg.check(checkCtx)
		cancel()

		comp := Component{
			Name:        name,
			Status:      status,
			Critical:    reg.critical,
			Description: description,
			LastChecked: time.Now(),
		}
		if err != nil {
			comp.Error = err.Error()
			c.log.Warn("health check failed", "component", name, "status", string(status), "error", err.Error())
		}
		results[name] = comp
	}

	c.mu.Lock()
	for name, comp := range results {
		comp := comp
		c.components[name] = &comp
	}
	listeners := append([]func(bool){}, c.listeners...)
	c.mu.Unlock()

	healthy := c.IsSystemHealthy()
	for _, fn := range listeners {
		fn(healthy)
	}
}

// Start runs checks immediately and then every period until ctx ends
func (c *Checker) Start(ctx context.Context, period time.Duration) {
	go func() {
		c.RunChecks(ctx)

		ticker := time.NewTicker(period)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				c.RunChecks(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// GetStatus returns copies of the components sorted by name
func (c *Checker) GetStatus() []Component {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]Component, 0, len(c.components))
	for _, v := range c.components {
		result = append(result, *v)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// IsSystemHealthy returns true if all critical components are up
func (c *Checker) IsSystemHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, comp := range c.components {
		if comp.Critical && comp.Status == StatusDown {
			return false
		}
	}
	return true
}

// Handler serves the last known component status
func (c *Checker) Handler() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		status := http.StatusOK
		overall := "ok"
		if !c.IsSystemHealthy() {
			status = http.StatusServiceUnavailable
			overall = "unavailable"
		}

		ctx.JSON(status, gin.H{
			"status":     overall,
			"timestamp":  time.Now().Format(time.RFC3339),
			"components": c.GetStatus(),
		})
	}
}

// RegisterDatabaseCheck registers a critical check that pings the database
func (c *Checker) RegisterDatabaseCheck(db *gorm.DB) {
	c.Register("database", true, func(ctx context.Context) (Status, string, error) {
		sqlDB, err := db.DB()
		if err != nil {
			return StatusDown, "database handle unavailable", err
		}
		if err := sqlDB.PingContext(ctx); err != nil {
			return StatusDown, "database ping failed", err
		}
		return StatusUp, "database connection is established", nil
	})
}

// RegisterRedisCheck registers a non-critical check; without redis only the
// key-value history is degraded
func (c *Checker) RegisterRedisCheck(client redis.UniversalClient) {
	c.Register("redis", false, func(ctx context.Context) (Status, string, error) {
		if err := client.Ping(ctx).Err(); err != nil {
			return StatusDegraded, "redis ping failed", err
		}
		return StatusUp, "redis is reachable", nil
	})
}
