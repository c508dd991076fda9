package estimator

import (
	"fmt"
	"math"
)

// Timecode formats a frame count as MM:SS:FF at fps frames per second.
// Minutes keep counting past 99.
func Timecode(totalFrames int, fps float64) string {
	rate := int(math.Round(fps))
	if rate <= 0 {
		rate = 30
	}
	if totalFrames < 0 {
		totalFrames = 0
	}

	ff := totalFrames % rate
	secs := totalFrames / rate
	return fmt.Sprintf("%02d:%02d:%02d", secs/60, secs%60, ff)
}
