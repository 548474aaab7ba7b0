package health

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/meetbot/meetbot/internal/circuitbreaker"
)

// RedisHealthChecker checks Redis connectivity
type RedisHealthChecker struct {
	client  redis.UniversalClient
	wrapper *circuitbreaker.RedisWrapper
	logger  *zap.Logger
	timeout time.Duration
}

// NewRedisHealthChecker creates a Redis health checker
func NewRedisHealthChecker(client redis.UniversalClient, wrapper *circuitbreaker.RedisWrapper, logger *zap.Logger) *RedisHealthChecker {
	return &RedisHealthChecker{
		client:  client,
		wrapper: wrapper,
		logger:  logger,
		timeout: 5 * time.Second,
	}
}

func (r *RedisHealthChecker) Name() string           { return "redis" }
func (r *RedisHealthChecker) IsCritical() bool       { return true }
func (r *RedisHealthChecker) Timeout() time.Duration { return r.timeout }

func (r *RedisHealthChecker) Check(ctx context.Context) CheckResult {
	startTime := time.Now()
	result := CheckResult{
		Component: "redis",
		Critical:  true,
		Timestamp: startTime,
	}

	// Check circuit breaker state
	if r.wrapper != nil && r.wrapper.IsCircuitBreakerOpen() {
		result.Status = StatusUnhealthy
		result.Error = "circuit breaker open"
		result.Message = "Redis circuit breaker is open"
		result.Duration = time.Since(startTime)
		return result
	}

	// Try to ping Redis
	err := r.client.Ping(ctx).Err()
	result.Duration = time.Since(startTime)

	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = "Redis ping failed"
		result.Details = map[string]interface{}{
			"error":      err.Error(),
			"latency_ms": result.Duration.Milliseconds(),
		}
		return result
	}

	// Check if degraded (high latency)
	if result.Duration > 100*time.Millisecond {
		result.Status = StatusDegraded
		result.Message = "Redis responding but with high latency"
	} else {
		result.Status = StatusHealthy
		result.Message = "Redis healthy"
	}

	result.Details = map[string]interface{}{
		"latency_ms":           result.Duration.Milliseconds(),
		"circuit_breaker_open": false,
	}

	return result
}

// DatabaseHealthChecker checks PostgreSQL connectivity
type DatabaseHealthChecker struct {
	db      *sql.DB
	wrapper *circuitbreaker.DatabaseWrapper
	logger  *zap.Logger
	timeout time.Duration
}

// NewDatabaseHealthChecker creates a database health checker
func NewDatabaseHealthChecker(db *sql.DB, wrapper *circuitbreaker.DatabaseWrapper, logger *zap.Logger) *DatabaseHealthChecker {
	return &DatabaseHealthChecker{
		db:      db,
		wrapper: wrapper,
		logger:  logger,
		timeout: 5 * time.Second,
	}
}

func (d *DatabaseHealthChecker) Name() string           { return "database" }
func (d *DatabaseHealthChecker) IsCritical() bool       { return true }
func (d *DatabaseHealthChecker) Timeout() time.Duration { return d.timeout }

func (d *DatabaseHealthChecker) Check(ctx context.Context) CheckResult {
	startTime := time.Now()
	result := CheckResult{
		Component: "database",
		Critical:  true,
		Timestamp: startTime,
	}

	// Check circuit breaker state
	if d.wrapper != nil && d.wrapper.IsCircuitBreakerOpen() {
		result.Status = StatusUnhealthy
		result.Error = "circuit breaker open"
		result.Message = "Database circuit breaker is open"
		result.Duration = time.Since(startTime)
		return result
	}

	// Try to ping database
	err := d.db.PingContext(ctx)
	result.Duration = time.Since(startTime)

	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = "Database ping failed"
		result.Details = map[string]interface{}{
			"error":      err.Error(),
			"latency_ms": result.Duration.Milliseconds(),
		}
		return result
	}

	// Get connection stats
	stats := d.db.Stats()

	// Check for connection pool issues
	if stats.OpenConnections >= stats.MaxOpenConnections && stats.MaxOpenConnections > 0 {
		result.Status = StatusDegraded
		result.Message = "Database connection pool exhausted"
	} else if result.Duration > 100*time.Millisecond {
		result.Status = StatusDegraded
		result.Message = "Database responding but with high latency"
	} else {
		result.Status = StatusHealthy
		result.Message = "Database healthy"
	}

	result.Details = map[string]interface{}{
		"latency_ms":           result.Duration.Milliseconds(),
		"open_connections":     stats.OpenConnections,
		"max_open_connections": stats.MaxOpenConnections,
		"idle_connections":     stats.Idle,
		"in_use_connections":   stats.InUse,
		"circuit_breaker_open": false,
	}

	return result
}

// SchedulerPinger is the subset of the workload scheduler used for health
// checks, satisfied by controller/scheduler.Scheduler.
type SchedulerPinger interface {
	Ping(ctx context.Context) error
}

// SchedulerHealthChecker checks the Bot Lifecycle Controller's workload
// scheduler backend (Docker daemon reachability).
type SchedulerHealthChecker struct {
	scheduler SchedulerPinger
	logger    *zap.Logger
	timeout   time.Duration
}

// NewSchedulerHealthChecker creates a workload-scheduler health checker.
func NewSchedulerHealthChecker(scheduler SchedulerPinger, logger *zap.Logger) *SchedulerHealthChecker {
	return &SchedulerHealthChecker{scheduler: scheduler, logger: logger, timeout: 5 * time.Second}
}

func (s *SchedulerHealthChecker) Name() string           { return "scheduler" }
func (s *SchedulerHealthChecker) IsCritical() bool       { return true }
func (s *SchedulerHealthChecker) Timeout() time.Duration { return s.timeout }

func (s *SchedulerHealthChecker) Check(ctx context.Context) CheckResult {
	startTime := time.Now()
	result := CheckResult{Component: "scheduler", Critical: true, Timestamp: startTime}

	err := s.scheduler.Ping(ctx)
	result.Duration = time.Since(startTime)
	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = "workload scheduler unreachable"
		return result
	}

	result.Status = StatusHealthy
	result.Message = "workload scheduler healthy"
	result.Details = map[string]interface{}{"latency_ms": result.Duration.Milliseconds()}
	return result
}

// CustomHealthChecker allows for custom health check logic
type CustomHealthChecker struct {
	name     string
	critical bool
	timeout  time.Duration
	checkFn  func(ctx context.Context) CheckResult
}

// NewCustomHealthChecker creates a custom health checker
func NewCustomHealthChecker(name string, critical bool, timeout time.Duration, checkFn func(ctx context.Context) CheckResult) *CustomHealthChecker {
	return &CustomHealthChecker{
		name:     name,
		critical: critical,
		timeout:  timeout,
		checkFn:  checkFn,
	}
}

func (c *CustomHealthChecker) Name() string           { return c.name }
func (c *CustomHealthChecker) IsCritical() bool       { return c.critical }
func (c *CustomHealthChecker) Timeout() time.Duration { return c.timeout }

func (c *CustomHealthChecker) Check(ctx context.Context) CheckResult {
	return c.checkFn(ctx)
}
