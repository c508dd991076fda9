package cv

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"sync/atomic"
)

var outlineColor = color.RGBA{R: 255, A: 255}

// Dumper writes captured frames with the bar region outlined, for
// diagnosing misreads
type Dumper struct {
	dir   string
	count atomic.Int64
}

// NewDumper creates dir if needed
func NewDumper(dir string) (*Dumper, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create dump directory: %w", err)
	}
	return &Dumper{dir: dir}, nil
}

// Dir returns the output directory
func (d *Dumper) Dir() string {
	return d.dir
}

// Dump writes one annotated frame and returns its path. The frame itself
// is not modified.
func (d *Dumper) Dump(frame Frame, region Region, sample FrameSample) (string, error) {
	if frame.Image == nil {
		return "", fmt.Errorf("nothing to dump")
	}

	img := CropRegion(frame.Image, frame.Image.Bounds())
	outline := region.ToImageRectangle().Inset(-1).Intersect(img.Bounds())
	if !outline.Empty() {
		drawRect(img, outline, outlineColor)
	}

	label := "invalid_" + string(sample.Reason)
	if sample.Valid {
		label = fmt.Sprintf("%.3f", sample.FillRatio)
	}
	if sample.Reason == ReasonNone && !sample.Valid {
		label = "unread"
	}

	n := d.count.Add(1)
	name := fmt.Sprintf("%06d_%s_%s.png", n, frame.CapturedAt.Format("150405.000"), label)
	path := filepath.Join(d.dir, name)
	if err := SavePNG(img, path); err != nil {
		return "", err
	}
	return path, nil
}
