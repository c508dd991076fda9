//go:build !windows

package cv

import (
	"errors"
	"image"
)

var errWindowCaptureUnsupported = errors.New("window capture is only available on windows")

// WindowCapture is unavailable on this platform
type WindowCapture struct{}

// FindWindowByTitle always fails outside windows
func FindWindowByTitle(title string) (uintptr, error) {
	return 0, errWindowCaptureUnsupported
}

// NewWindowCaptureByTitle always fails outside windows
func NewWindowCaptureByTitle(title string) (*WindowCapture, error) {
	return nil, errWindowCaptureUnsupported
}

// NewWindowCapture always fails outside windows
func NewWindowCapture(hwnd uintptr) (*WindowCapture, error) {
	return nil, errWindowCaptureUnsupported
}

func (wc *WindowCapture) CaptureFrame() (*image.RGBA, error) {
	return nil, errWindowCaptureUnsupported
}

func (wc *WindowCapture) GetDimensions() (width, height int) {
	return 0, 0
}
