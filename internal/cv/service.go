package cv

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Service timestamps frames from a Capturer. It is the capture source
// consumed by the capture-and-read loop.
type Service struct {
	capturer Capturer
	now      func() time.Time

	// Added to the capture start time to account for device-side latency
	latencyCompensation time.Duration

	mu        sync.Mutex
	lastFrame Frame
}

// NewService creates a new capture service
func NewService(capturer Capturer) *Service {
	return &Service{
		capturer: capturer,
		now:      time.Now,
	}
}

// WithLatencyCompensation shifts captured_at by d
func (s *Service) WithLatencyCompensation(d time.Duration) *Service {
	s.latencyCompensation = d
	return s
}

// WithClock replaces the time source
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Next captures a frame. The capture call may block for as long as the
// backend needs; it runs without holding any lock.
func (s *Service) Next(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}

	started := s.now()
	img, err := s.capturer.CaptureFrame()
	if err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrCapture, err)
	}
	if img == nil {
		return Frame{}, fmt.Errorf("%w: empty frame", ErrCapture)
	}

	frame := Frame{Image: img, CapturedAt: started.Add(s.latencyCompensation)}

	s.mu.Lock()
	s.lastFrame = frame
	s.mu.Unlock()

	return frame, nil
}

// LastFrame returns the most recent successful capture
func (s *Service) LastFrame() (Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastFrame, s.lastFrame.Image != nil
}

// GetDimensions returns the capture dimensions
func (s *Service) GetDimensions() (width, height int) {
	return s.capturer.GetDimensions()
}
