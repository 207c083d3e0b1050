package handlers

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// HealthChecker reports the aggregated state of the service's dependencies.
type HealthChecker interface {
	Check(ctx context.Context) HealthStatus
}

// HealthCheckFunc probes one dependency; nil means it is usable.
type HealthCheckFunc func(ctx context.Context) error

// HealthStatus is the body of /health and /ready.
//
// Healthy turns false on any failed check. Ready turns false only when a
// required check failed, so a dead snapshot cache degrades the service
// without taking it out of rotation.
type HealthStatus struct {
	Healthy   bool                   `json:"healthy"`
	Ready     bool                   `json:"ready"`
	Message   string                 `json:"message,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
	Uptime    string                 `json:"uptime,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version,omitempty"`
}

// CheckResult is one probe outcome.
type CheckResult struct {
	Healthy  bool   `json:"healthy"`
	Optional bool   `json:"optional,omitempty"`
	Message  string `json:"message,omitempty"`
	Duration string `json:"duration,omitempty"`
}

type registeredCheck struct {
	name     string
	probe    HealthCheckFunc
	optional bool
}

// CompositeHealthChecker runs every registered probe concurrently, each under
// its own timeout.
type CompositeHealthChecker struct {
	mu      sync.RWMutex
	checks  map[string]registeredCheck
	timeout time.Duration

	version string
	since   time.Time
}

// NewCompositeHealthChecker returns a checker with a 2s per-probe timeout.
func NewCompositeHealthChecker(version string) *CompositeHealthChecker {
	return &CompositeHealthChecker{
		checks:  make(map[string]registeredCheck),
		timeout: 2 * time.Second,
		version: version,
		since:   time.Now(),
	}
}

// SetTimeout changes the per-probe timeout.
func (c *CompositeHealthChecker) SetTimeout(timeout time.Duration) {
	c.mu.Lock()
	c.timeout = timeout
	c.mu.Unlock()
}

// AddCheck registers a required probe, replacing one with the same name.
func (c *CompositeHealthChecker) AddCheck(name string, check HealthCheckFunc) {
	c.register(registeredCheck{name: name, probe: check})
}

// AddOptionalCheck registers a probe that cannot make the service unready.
func (c *CompositeHealthChecker) AddOptionalCheck(name string, check HealthCheckFunc) {
	c.register(registeredCheck{name: name, probe: check, optional: true})
}

func (c *CompositeHealthChecker) register(rc registeredCheck) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[rc.name] = rc
}

// RemoveCheck drops a probe. Unknown names are ignored.
func (c *CompositeHealthChecker) RemoveCheck(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.checks, name)
}

// snapshot copies the registry in name order.
func (c *CompositeHealthChecker) snapshot() ([]registeredCheck, time.Duration) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]registeredCheck, 0, len(c.checks))
	for _, rc := range c.checks {
		out = append(out, rc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out, c.timeout
}

// Check implements HealthChecker.
func (c *CompositeHealthChecker) Check(ctx context.Context) HealthStatus {
	checks, timeout := c.snapshot()

	status := HealthStatus{
		Healthy:   true,
		Ready:     true,
		Checks:    make(map[string]CheckResult, len(checks)),
		Uptime:    time.Since(c.since).Truncate(time.Second).String(),
		Timestamp: time.Now().UTC(),
		Version:   c.version,
	}
	if len(checks) == 0 {
		status.Message = "No health checks registered"
		return status
	}

	results := make([]CheckResult, len(checks))
	var wg sync.WaitGroup
	for i, rc := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = runCheck(ctx, rc, timeout)
		}()
	}
	wg.Wait()

	var failed []string
	for i, rc := range checks {
		res := results[i]
		status.Checks[rc.name] = res
		if res.Healthy {
			continue
		}
		failed = append(failed, rc.name)
		status.Healthy = false
		if !rc.optional {
			status.Ready = false
		}
	}

	switch {
	case len(failed) == 0:
		status.Message = "All checks passed"
	default:
		status.Message = "Some checks failed: " + strings.Join(failed, ", ")
	}
	return status
}

func runCheck(ctx context.Context, rc registeredCheck, timeout time.Duration) CheckResult {
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	began := time.Now()
	err := rc.probe(probeCtx)
	res := CheckResult{
		Healthy:  err == nil,
		Optional: rc.optional,
		Message:  "OK",
		Duration: time.Since(began).Round(time.Millisecond).String(),
	}
	if err != nil {
		res.Message = err.Error()
	}
	return res
}

// Pinger is implemented by every store and by the Redis cache.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewPingCheck adapts a Pinger to a HealthCheckFunc.
func NewPingCheck(p Pinger) HealthCheckFunc {
	return p.Ping
}
