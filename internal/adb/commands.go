package adb

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"strings"

	"jordanella.com/cost-ruler/internal/cv"
)

// Shell executes a shell command and returns output
func (c *Controller) Shell(command string) (string, error) {
	output, err := c.exec(context.Background(), "-s", c.device, "shell", command)
	if err != nil {
		return "", fmt.Errorf("shell command failed: %w, output: %s", err, output)
	}
	return strings.TrimSpace(string(output)), nil
}

// ScreencapPNG streams a PNG screenshot straight from the device without
// touching its storage
func (c *Controller) ScreencapPNG(ctx context.Context) ([]byte, error) {
	output, err := c.exec(ctx, "-s", c.device, "exec-out", "screencap", "-p")
	if err != nil {
		return nil, fmt.Errorf("screencap failed: %w", err)
	}
	if !bytes.HasPrefix(output, pngMagic) {
		// Old adbd builds route exec-out through a pty and mangle line endings
		output = bytes.ReplaceAll(output, []byte("\r\n"), []byte("\n"))
		if !bytes.HasPrefix(output, pngMagic) {
			return nil, fmt.Errorf("screencap returned %d bytes that are not a PNG", len(output))
		}
	}
	return output, nil
}

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

// CaptureFrame takes a screenshot and decodes it
func (c *Controller) CaptureFrame() (*image.RGBA, error) {
	data, err := c.ScreencapPNG(context.Background())
	if err != nil {
		return nil, err
	}

	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode screenshot: %w", err)
	}

	rgba := cv.ToRGBA(img)
	b := rgba.Bounds()

	c.mu.Lock()
	c.width, c.height = b.Dx(), b.Dy()
	c.mu.Unlock()

	return rgba, nil
}

// GetDimensions returns the size of the last screenshot, falling back to
// the device's reported screen size
func (c *Controller) GetDimensions() (width, height int) {
	c.mu.Lock()
	width, height = c.width, c.height
	c.mu.Unlock()

	if width > 0 && height > 0 {
		return width, height
	}
	w, h, err := c.GetWindowSize()
	if err != nil {
		return 0, 0
	}
	return w, h
}

// GetWindowSize returns the current window/screen size
func (c *Controller) GetWindowSize() (width, height int, err error) {
	output, err := c.Shell("wm size")
	if err != nil {
		return 0, 0, err
	}
	return parseWindowSize(output)
}

// parseWindowSize handles "Physical size: WxH" with an optional
// "Override size: WxH" line, which wins
func parseWindowSize(output string) (int, int, error) {
	var w, h int
	found := false
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		var lw, lh int
		if _, err := fmt.Sscanf(line, "Physical size: %dx%d", &lw, &lh); err == nil && !found {
			w, h, found = lw, lh, true
			continue
		}
		if _, err := fmt.Sscanf(line, "Override size: %dx%d", &lw, &lh); err == nil {
			w, h, found = lw, lh, true
		}
	}
	if !found {
		return 0, 0, fmt.Errorf("failed to parse window size: %s", output)
	}
	return w, h, nil
}
