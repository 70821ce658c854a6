package ygggo_orm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/yggai/ygggo_orm/dialect"
)

// HealthStatus represents the health of an executor and its pool.
type HealthStatus struct {
	Healthy           bool           `json:"healthy"`
	LastChecked       time.Time      `json:"last_checked"`
	ResponseTime      time.Duration  `json:"response_time"`
	ConnectionsActive int            `json:"connections_active"`
	ConnectionsIdle   int            `json:"connections_idle"`
	ConnectionsMax    int            `json:"connections_max"`
	Errors            []HealthError  `json:"errors,omitempty"`
	Details           map[string]any `json:"details,omitempty"`
}

// HealthError represents a failed health check step.
type HealthError struct {
	Type        string    `json:"type"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	Recoverable bool      `json:"recoverable"`
}

// HealthCheckConfig configures health check behavior.
type HealthCheckConfig struct {
	Timeout            time.Duration `json:"timeout"`
	TestQuery          string        `json:"test_query"`
	MonitoringInterval time.Duration `json:"monitoring_interval"`
}

// DefaultHealthCheckConfig returns default health check configuration.
func DefaultHealthCheckConfig() HealthCheckConfig {
	return HealthCheckConfig{
		Timeout:            5 * time.Second,
		TestQuery:          "SELECT 1",
		MonitoringInterval: 30 * time.Second,
	}
}

// HealthCheck pings the database, runs the test query and reports pool
// statistics.
func (e *Executor) HealthCheck(ctx context.Context) *HealthStatus {
	return e.HealthCheckWithConfig(ctx, DefaultHealthCheckConfig())
}

// HealthCheckWithConfig is HealthCheck with custom settings.
func (e *Executor) HealthCheckWithConfig(ctx context.Context, cfg HealthCheckConfig) *HealthStatus {
	start := time.Now()
	status := &HealthStatus{
		LastChecked: start,
		Details:     make(map[string]any),
	}
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	pingStart := time.Now()
	if err := e.Ping(ctx); err != nil {
		status.addError("connectivity", fmt.Sprintf("ping failed: %v", err), true)
	}
	status.Details["ping_time"] = time.Since(pingStart)

	if cfg.TestQuery != "" {
		queryStart := time.Now()
		rec, err := e.SelectFirst(ctx, dialect.SelectStmt(cfg.TestQuery))
		switch {
		case err != nil:
			status.addError("query_execution", fmt.Sprintf("test query failed: %v", err), true)
		case len(rec) == 0:
			status.addError("query_execution", "test query returned no rows", true)
		}
		status.Details["query_time"] = time.Since(queryStart)
	}

	s := e.pool.Stats()
	status.ConnectionsActive = s.InUse
	status.ConnectionsIdle = s.Idle
	status.ConnectionsMax = s.MaxSize
	status.Details["pool_stats"] = map[string]any{
		"open":          s.Open,
		"waiting":       s.Waiting,
		"wait_attempts": s.WaitAttempts,
		"exhausted":     s.Exhausted,
		"leaks":         s.Leaks,
	}

	status.ResponseTime = time.Since(start)
	status.Healthy = len(status.Errors) == 0
	return status
}

func (s *HealthStatus) addError(kind, msg string, recoverable bool) {
	s.Errors = append(s.Errors, HealthError{
		Type:        kind,
		Message:     msg,
		Timestamp:   time.Now(),
		Recoverable: recoverable,
	})
}

// HealthMonitor runs HealthCheck periodically and keeps the last result.
type HealthMonitor struct {
	exec   *Executor
	config HealthCheckConfig

	mu      sync.RWMutex
	status  *HealthStatus
	stop    chan struct{}
	done    chan struct{}
	running bool
}

// NewHealthMonitor creates a monitor for exec. Call Start to begin.
func NewHealthMonitor(exec *Executor, cfg HealthCheckConfig) *HealthMonitor {
	if cfg.MonitoringInterval <= 0 {
		cfg.MonitoringInterval = DefaultHealthCheckConfig().MonitoringInterval
	}
	return &HealthMonitor{exec: exec, config: cfg}
}

// Start begins monitoring. The first check runs immediately.
func (hm *HealthMonitor) Start() error {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	if hm.running {
		return fmt.Errorf("health monitoring is already running")
	}
	hm.stop = make(chan struct{})
	hm.done = make(chan struct{})
	hm.running = true
	go hm.loop(hm.stop, hm.done)
	return nil
}

// Stop ends monitoring and waits for the running check to finish.
func (hm *HealthMonitor) Stop() error {
	hm.mu.Lock()
	if !hm.running {
		hm.mu.Unlock()
		return fmt.Errorf("health monitoring is not running")
	}
	close(hm.stop)
	done := hm.done
	hm.running = false
	hm.mu.Unlock()
	<-done
	return nil
}

func (hm *HealthMonitor) IsRunning() bool {
	hm.mu.RLock()
	defer hm.mu.RUnlock()
	return hm.running
}

// Status returns the last recorded status, or nil before the first check.
func (hm *HealthMonitor) Status() *HealthStatus {
	hm.mu.RLock()
	defer hm.mu.RUnlock()
	return hm.status
}

func (hm *HealthMonitor) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(hm.config.MonitoringInterval)
	defer ticker.Stop()

	hm.check()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			hm.check()
		}
	}
}

func (hm *HealthMonitor) check() {
	status := hm.exec.HealthCheckWithConfig(context.Background(), hm.config)
	hm.mu.Lock()
	hm.status = status
	hm.mu.Unlock()
}
