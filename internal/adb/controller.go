package adb

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// runFunc executes the adb binary with args and returns combined output
type runFunc func(ctx context.Context, path string, args ...string) ([]byte, error)

func execRun(ctx context.Context, path string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, path, args...).Output()
}

// Controller talks to one emulator or device over adb and serves as a
// capture source
type Controller struct {
	path    string
	device  string // Device ID: "127.0.0.1:port" or a serial
	timeout time.Duration
	run     runFunc

	mu        sync.Mutex
	connected bool
	width     int
	height    int
}

// NewController creates a controller for the local TCP port of an emulator
func NewController(adbPath, port string) *Controller {
	return NewSerialController(adbPath, fmt.Sprintf("127.0.0.1:%s", port))
}

// NewSerialController creates a controller for an explicit device serial
func NewSerialController(adbPath, serial string) *Controller {
	return &Controller{
		path:    adbPath,
		device:  serial,
		timeout: 5 * time.Second,
		run:     execRun,
	}
}

// WithTimeout bounds every adb invocation
func (c *Controller) WithTimeout(d time.Duration) *Controller {
	c.timeout = d
	return c
}

// Device returns the adb device ID
func (c *Controller) Device() string {
	return c.device
}

// Connect establishes connection to the ADB device. Serials that are not
// host:port pairs are assumed to be attached already.
func (c *Controller) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if strings.Contains(c.device, ":") {
		output, err := c.exec(context.Background(), "connect", c.device)
		if err != nil {
			return fmt.Errorf("failed to connect to device %s: %w, output: %s", c.device, err, output)
		}
		if !strings.Contains(string(output), "connected") {
			return fmt.Errorf("unexpected connect output: %s", strings.TrimSpace(string(output)))
		}
	}

	c.connected = true
	return nil
}

// Disconnect releases the device
func (c *Controller) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected && strings.Contains(c.device, ":") {
		c.exec(context.Background(), "disconnect", c.device)
	}
	c.connected = false
	return nil
}

// IsConnected returns whether the controller is connected
func (c *Controller) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Controller) exec(ctx context.Context, args ...string) ([]byte, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	output, err := c.run(ctx, c.path, args...)
	if ctx.Err() == context.DeadlineExceeded {
		return output, fmt.Errorf("adb command timed out after %v", c.timeout)
	}
	return output, err
}
