package cv

import (
	"errors"
	"fmt"
	"image"
	"strings"
	"time"
)

// Capturer interface for different capture methods
type Capturer interface {
	CaptureFrame() (*image.RGBA, error)
	GetDimensions() (width, height int)
}

// Frame is a raw capture with the time it was taken
type Frame struct {
	Image      *image.RGBA
	CapturedAt time.Time
}

// Resolution returns the frame size
func (f Frame) Resolution() Resolution {
	if f.Image == nil {
		return Resolution{}
	}
	b := f.Image.Bounds()
	return Resolution{Width: b.Dx(), Height: b.Dy()}
}

// ErrCapture wraps every failure reported by a capture source
var ErrCapture = errors.New("capture failed")

// CaptureMethod defines how frames are captured
type CaptureMethod int

const (
	// CaptureMethodADB captures via adb screencap
	CaptureMethodADB CaptureMethod = iota
	// CaptureMethodMuMu resolves the adb endpoint of a MuMu Player instance
	CaptureMethodMuMu
	// CaptureMethodWindow captures directly from a window handle (Windows only)
	CaptureMethodWindow
	// CaptureMethodReplay plays back PNG files from a directory
	CaptureMethodReplay
)

func (m CaptureMethod) String() string {
	switch m {
	case CaptureMethodADB:
		return "adb"
	case CaptureMethodMuMu:
		return "mumu"
	case CaptureMethodWindow:
		return "window"
	case CaptureMethodReplay:
		return "replay"
	default:
		return "unknown"
	}
}

// ParseCaptureMethod parses a capture method name
func ParseCaptureMethod(s string) (CaptureMethod, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "adb", "minicap":
		return CaptureMethodADB, nil
	case "mumu":
		return CaptureMethodMuMu, nil
	case "window":
		return CaptureMethodWindow, nil
	case "replay":
		return CaptureMethodReplay, nil
	default:
		return CaptureMethodADB, fmt.Errorf("unknown capture method %q", s)
	}
}
