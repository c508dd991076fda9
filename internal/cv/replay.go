package cv

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// ReplayCapturer plays back a directory of PNG captures in name order.
// It paces itself to interval and loops when Loop is set.
type ReplayCapturer struct {
	files    []string
	interval time.Duration
	loop     bool
	sleep    func(time.Duration)

	mu     sync.Mutex
	next   int
	last   time.Time
	width  int
	height int
}

// NewReplayCapturer lists the PNG files in dir
func NewReplayCapturer(dir string, interval time.Duration, loop bool) (*ReplayCapturer, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read replay directory: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".png") {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no PNG files in %s", dir)
	}
	sort.Strings(files)

	return &ReplayCapturer{
		files:    files,
		interval: interval,
		loop:     loop,
		sleep:    time.Sleep,
	}, nil
}

// Len returns the number of frames in the replay
func (rc *ReplayCapturer) Len() int {
	return len(rc.files)
}

// CaptureFrame decodes the next file
func (rc *ReplayCapturer) CaptureFrame() (*image.RGBA, error) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.next >= len(rc.files) {
		if !rc.loop {
			return nil, fmt.Errorf("replay exhausted after %d frames", len(rc.files))
		}
		rc.next = 0
	}

	if rc.interval > 0 && !rc.last.IsZero() {
		if wait := rc.interval - time.Since(rc.last); wait > 0 {
			rc.sleep(wait)
		}
	}
	rc.last = time.Now()

	path := rc.files[rc.next]
	rc.next++

	img, err := LoadPNG(path)
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	rc.width, rc.height = b.Dx(), b.Dy()
	return img, nil
}

// GetDimensions returns the size of the last decoded frame
func (rc *ReplayCapturer) GetDimensions() (width, height int) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.width, rc.height
}

// LoadPNG decodes a PNG file into RGBA
func LoadPNG(path string) (*image.RGBA, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return ToRGBA(img), nil
}

// SavePNG encodes img to path
func SavePNG(img image.Image, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
