//go:build windows

package cv

import (
	"fmt"
	"image"
	"sync"
	"syscall"
	"unsafe"
)

var (
	user32                     = syscall.NewLazyDLL("user32.dll")
	gdi32                      = syscall.NewLazyDLL("gdi32.dll")
	procFindWindow             = user32.NewProc("FindWindowW")
	procGetDC                  = user32.NewProc("GetDC")
	procReleaseDC              = user32.NewProc("ReleaseDC")
	procGetClientRect          = user32.NewProc("GetClientRect")
	procCreateCompatibleDC     = gdi32.NewProc("CreateCompatibleDC")
	procCreateCompatibleBitmap = gdi32.NewProc("CreateCompatibleBitmap")
	procSelectObject           = gdi32.NewProc("SelectObject")
	procBitBlt                 = gdi32.NewProc("BitBlt")
	procDeleteDC               = gdi32.NewProc("DeleteDC")
	procDeleteObject           = gdi32.NewProc("DeleteObject")
	procGetDIBits              = gdi32.NewProc("GetDIBits")
)

const (
	srcCopy      = 0x00CC0020
	biRGB        = 0
	dibRGBColors = 0
)

type rect struct {
	Left, Top, Right, Bottom int32
}

type bitmapInfoHeader struct {
	Size          uint32
	Width         int32
	Height        int32
	Planes        uint16
	BitCount      uint16
	Compression   uint32
	SizeImage     uint32
	XPelsPerMeter int32
	YPelsPerMeter int32
	ClrUsed       uint32
	ClrImportant  uint32
}

type bitmapInfo struct {
	Header bitmapInfoHeader
	Colors [1]uint32
}

// WindowCapture copies the client area of an emulator window with GDI
type WindowCapture struct {
	hwnd uintptr

	mu     sync.Mutex
	width  int
	height int
	buffer []byte
}

// FindWindowByTitle finds a window handle by its exact title
func FindWindowByTitle(title string) (uintptr, error) {
	titlePtr, err := syscall.UTF16PtrFromString(title)
	if err != nil {
		return 0, err
	}

	hwnd, _, _ := procFindWindow.Call(0, uintptr(unsafe.Pointer(titlePtr)))
	if hwnd == 0 {
		return 0, fmt.Errorf("window not found: %s", title)
	}
	return hwnd, nil
}

// NewWindowCaptureByTitle finds the window and prepares a capture for it
func NewWindowCaptureByTitle(title string) (*WindowCapture, error) {
	hwnd, err := FindWindowByTitle(title)
	if err != nil {
		return nil, err
	}
	return NewWindowCapture(hwnd)
}

// NewWindowCapture creates a new window capture handler
func NewWindowCapture(hwnd uintptr) (*WindowCapture, error) {
	if hwnd == 0 {
		return nil, fmt.Errorf("invalid window handle")
	}

	wc := &WindowCapture{hwnd: hwnd}
	if err := wc.UpdateDimensions(); err != nil {
		return nil, err
	}
	return wc, nil
}

// CaptureFrame captures the current client area. The window size is
// re-read on every call so a resized emulator changes resolution cleanly.
func (wc *WindowCapture) CaptureFrame() (*image.RGBA, error) {
	wc.mu.Lock()
	defer wc.mu.Unlock()

	if err := wc.updateDimensionsLocked(); err != nil {
		return nil, err
	}

	hdcWindow, _, err := procGetDC.Call(wc.hwnd)
	if hdcWindow == 0 {
		return nil, fmt.Errorf("failed to get window DC: %v", err)
	}
	defer procReleaseDC.Call(wc.hwnd, hdcWindow)

	hdcMem, _, err := procCreateCompatibleDC.Call(hdcWindow)
	if hdcMem == 0 {
		return nil, fmt.Errorf("failed to create compatible DC: %v", err)
	}
	defer procDeleteDC.Call(hdcMem)

	hBitmap, _, err := procCreateCompatibleBitmap.Call(hdcWindow, uintptr(wc.width), uintptr(wc.height))
	if hBitmap == 0 {
		return nil, fmt.Errorf("failed to create compatible bitmap: %v", err)
	}
	defer procDeleteObject.Call(hBitmap)

	procSelectObject.Call(hdcMem, hBitmap)

	ret, _, err := procBitBlt.Call(hdcMem, 0, 0, uintptr(wc.width), uintptr(wc.height), hdcWindow, 0, 0, srcCopy)
	if ret == 0 {
		return nil, fmt.Errorf("BitBlt failed: %v", err)
	}

	var bi bitmapInfo
	bi.Header.Size = uint32(unsafe.Sizeof(bi.Header))
	bi.Header.Width = int32(wc.width)
	bi.Header.Height = -int32(wc.height) // top-down
	bi.Header.Planes = 1
	bi.Header.BitCount = 32
	bi.Header.Compression = biRGB

	size := wc.width * wc.height * 4
	if cap(wc.buffer) < size {
		wc.buffer = make([]byte, size)
	}
	buffer := wc.buffer[:size]

	ret, _, err = procGetDIBits.Call(
		hdcMem,
		hBitmap,
		0,
		uintptr(wc.height),
		uintptr(unsafe.Pointer(&buffer[0])),
		uintptr(unsafe.Pointer(&bi)),
		dibRGBColors,
	)
	if ret == 0 {
		return nil, fmt.Errorf("GetDIBits failed: %v", err)
	}

	// GDI hands back BGRA with an undefined alpha byte
	img := image.NewRGBA(image.Rect(0, 0, wc.width, wc.height))
	for i := 0; i < size; i += 4 {
		img.Pix[i] = buffer[i+2]
		img.Pix[i+1] = buffer[i+1]
		img.Pix[i+2] = buffer[i]
		img.Pix[i+3] = 255
	}

	return img, nil
}

// GetDimensions returns the window dimensions
func (wc *WindowCapture) GetDimensions() (width, height int) {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	return wc.width, wc.height
}

// UpdateDimensions refreshes window dimensions
func (wc *WindowCapture) UpdateDimensions() error {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	return wc.updateDimensionsLocked()
}

func (wc *WindowCapture) updateDimensionsLocked() error {
	var r rect
	ret, _, err := procGetClientRect.Call(wc.hwnd, uintptr(unsafe.Pointer(&r)))
	if ret == 0 {
		return fmt.Errorf("failed to get client rect: %v", err)
	}

	width := int(r.Right - r.Left)
	height := int(r.Bottom - r.Top)
	if width <= 0 || height <= 0 {
		return fmt.Errorf("invalid window dimensions: %dx%d", width, height)
	}

	wc.width, wc.height = width, height
	return nil
}
