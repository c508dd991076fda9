package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Reasons passed to the unhealthy callback
const (
	ReasonCaptureStalled     = "capture_stalled"
	ReasonDeviceUnresponsive = "device_unresponsive"
)

// DeviceInterface is the minimal device surface needed for health checking;
// adb.Controller implements it
type DeviceInterface interface {
	Shell(command string) (string, error)
}

// UnhealthyCallback is called when the capture source becomes unhealthy
type UnhealthyCallback func(reason string, err error)

// Health is a point-in-time health report
type Health struct {
	Healthy      bool      `json:"healthy"`
	Reason       string    `json:"reason,omitempty"`
	Error        string    `json:"error,omitempty"`
	LastActivity time.Time `json:"lastActivity"`
}

// HealthChecker watches the capture source: frames must keep arriving, and
// the device behind it must answer a trivial command
type HealthChecker struct {
	device DeviceInterface
	now    func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup

	stallTimeout  time.Duration
	checkInterval time.Duration
	onUnhealthy   UnhealthyCallback

	mu               sync.RWMutex
	lastActivityTime time.Time
	stalled          bool
	reason           string
	lastErr          error
}

// NewHealthChecker creates a health checker. device may be nil for capture
// sources without a device behind them.
func NewHealthChecker(device DeviceInterface) *HealthChecker {
	return &HealthChecker{
		device:           device,
		now:              time.Now,
		stallTimeout:     10 * time.Second,
		checkInterval:    10 * time.Second,
		lastActivityTime: time.Now(),
	}
}

// WithUnhealthyCallback sets the callback for unhealthy events
func (hc *HealthChecker) WithUnhealthyCallback(callback UnhealthyCallback) *HealthChecker {
	hc.onUnhealthy = callback
	return hc
}

// WithCheckInterval sets the health check interval
func (hc *HealthChecker) WithCheckInterval(interval time.Duration) *HealthChecker {
	hc.checkInterval = interval
	return hc
}

// WithStallTimeout sets how long the source may go without a frame
func (hc *HealthChecker) WithStallTimeout(d time.Duration) *HealthChecker {
	hc.stallTimeout = d
	return hc
}

// Start begins health monitoring until ctx ends or Stop is called
func (hc *HealthChecker) Start(ctx context.Context) {
	ctx, hc.cancel = context.WithCancel(ctx)
	hc.wg.Add(1)
	go hc.run(ctx)
}

// Stop stops health monitoring
func (hc *HealthChecker) Stop() {
	if hc.cancel != nil {
		hc.cancel()
	}
	hc.wg.Wait()
}

// RecordActivity marks a successful capture
func (hc *HealthChecker) RecordActivity() {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.lastActivityTime = hc.now()
	if hc.stalled {
		hc.stalled = false
		hc.reason = ""
		hc.lastErr = nil
	}
}

// Status reports the current health
func (hc *HealthChecker) Status() Health {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	h := Health{
		Healthy:      hc.reason == "",
		Reason:       hc.reason,
		LastActivity: hc.lastActivityTime,
	}
	if hc.lastErr != nil {
		h.Error = hc.lastErr.Error()
	}
	return h
}

func (hc *HealthChecker) run(ctx context.Context) {
	defer hc.wg.Done()

	ticker := time.NewTicker(hc.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hc.performHealthChecks()
		}
	}
}

// performHealthChecks runs all health checks once
func (hc *HealthChecker) performHealthChecks() {
	if err := hc.checkIfStalled(); err != nil {
		hc.report(ReasonCaptureStalled, err)
		return
	}
	if err := hc.CheckDeviceResponsive(); err != nil {
		hc.report(ReasonDeviceUnresponsive, err)
		return
	}

	hc.mu.Lock()
	if !hc.stalled {
		hc.reason = ""
		hc.lastErr = nil
	}
	hc.mu.Unlock()
}

func (hc *HealthChecker) checkIfStalled() error {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	since := hc.now().Sub(hc.lastActivityTime)
	if since <= hc.stallTimeout {
		return nil
	}
	hc.stalled = true
	return fmt.Errorf("no frame captured for %v", since.Round(time.Millisecond))
}

// CheckDeviceResponsive verifies the device answers a trivial command
func (hc *HealthChecker) CheckDeviceResponsive() error {
	if hc.device == nil {
		return nil
	}
	if _, err := hc.device.Shell("echo ok"); err != nil {
		return fmt.Errorf("device responsiveness check failed: %w", err)
	}
	return nil
}

func (hc *HealthChecker) report(reason string, err error) {
	hc.mu.Lock()
	hc.reason = reason
	hc.lastErr = err
	hc.mu.Unlock()

	if hc.onUnhealthy != nil {
		hc.onUnhealthy(reason, err)
	}
}
