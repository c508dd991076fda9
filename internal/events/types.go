package events

import "time"

// EventType represents different types of events in the system
type EventType string

const (
	// Wildcard subscribes to every event type
	Wildcard EventType = "*"

	// Estimator events
	EventTypeStateUpdated   EventType = "state.updated"
	EventTypeRunningChanged EventType = "estimator.running_changed"
	EventTypeWraparound     EventType = "estimator.wraparound"
	EventTypeEstimatorReset EventType = "estimator.reset"
	EventTypeLapToggled     EventType = "estimator.lap_toggled"

	// Calibration events
	EventTypeCalibrationStateChanged EventType = "calibration.state_changed"
	EventTypeCalibrationProgress     EventType = "calibration.progress"
	EventTypeCalibrationCompleted    EventType = "calibration.completed"
	EventTypeCalibrationFailed       EventType = "calibration.failed"

	// Profile events
	EventTypeProfileActivated EventType = "profile.activated"
	EventTypeProfileSaved     EventType = "profile.saved"
	EventTypeProfileRenamed   EventType = "profile.renamed"
	EventTypeProfileDeleted   EventType = "profile.deleted"
	EventTypeProfilesReloaded EventType = "profile.reloaded"

	// Capture events
	EventTypeCaptureError          EventType = "capture.error"
	EventTypeUnsupportedResolution EventType = "capture.unsupported_resolution"

	// Error events
	EventTypeError EventType = "error"
)

// Event represents a system event with metadata
type Event struct {
	Type      EventType              // Type of event
	Source    string                 // Component that emitted event (e.g., "estimator", "calibration")
	Timestamp time.Time              // When the event occurred
	Data      map[string]interface{} // Event-specific data
}

// EventHandler is a function that processes an event
type EventHandler func(Event)

// SubscriptionID uniquely identifies a subscription
type SubscriptionID int64

// EventBus defines the interface for event pub/sub
type EventBus interface {
	// Subscribe registers a handler for a specific event type, or Wildcard
	Subscribe(eventType EventType, handler EventHandler) SubscriptionID

	// Unsubscribe removes a subscription by ID
	Unsubscribe(id SubscriptionID)

	// Publish queues an event, blocking while the queue is full
	Publish(event Event)

	// TryPublish queues an event or drops it when the queue is full
	TryPublish(event Event) bool

	// Stop stops the event bus and drains remaining events
	Stop()
}

// Helper functions to create common events

// NewStateUpdatedEvent carries one estimator snapshot
func NewStateUpdatedEvent(snapshot interface{}) Event {
	return Event{
		Type:      EventTypeStateUpdated,
		Source:    "estimator",
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"snapshot": snapshot,
		},
	}
}

// NewRunningChangedEvent reports the estimator starting or stopping
func NewRunningChangedEvent(running bool, reason string) Event {
	return Event{
		Type:      EventTypeRunningChanged,
		Source:    "estimator",
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"running": running,
			"reason":  reason,
		},
	}
}

// NewWraparoundEvent reports a completed regeneration cycle
func NewWraparoundEvent(cycles int, totalFrames int) Event {
	return Event{
		Type:      EventTypeWraparound,
		Source:    "estimator",
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"cycles":       cycles,
			"total_frames": totalFrames,
		},
	}
}

// NewLapToggledEvent reports the lap timer starting or stopping
func NewLapToggledEvent(running bool, frames int) Event {
	return Event{
		Type:      EventTypeLapToggled,
		Source:    "estimator",
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"running": running,
			"frames":  frames,
		},
	}
}

// NewEstimatorResetEvent reports a manual estimator reset
func NewEstimatorResetEvent() Event {
	return Event{
		Type:      EventTypeEstimatorReset,
		Source:    "estimator",
		Timestamp: time.Now(),
		Data:      map[string]interface{}{},
	}
}

// NewCalibrationStateEvent reports a calibration state transition
func NewCalibrationStateEvent(sessionID, from, to string) Event {
	return Event{
		Type:      EventTypeCalibrationStateChanged,
		Source:    "calibration",
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"session_id": sessionID,
			"from":       from,
			"to":         to,
		},
	}
}

// NewCalibrationProgressEvent reports how much of the cycle has been seen
func NewCalibrationProgressEvent(sessionID string, progress float64, samples int) Event {
	return Event{
		Type:      EventTypeCalibrationProgress,
		Source:    "calibration",
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"session_id": sessionID,
			"progress":   progress,
			"samples":    samples,
		},
	}
}

// NewCalibrationCompletedEvent reports a fitted profile
func NewCalibrationCompletedEvent(sessionID, profileName string, cycleLength int) Event {
	return Event{
		Type:      EventTypeCalibrationCompleted,
		Source:    "calibration",
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"session_id":   sessionID,
			"profile":      profileName,
			"cycle_length": cycleLength,
		},
	}
}

// NewCalibrationFailedEvent reports why a session failed
func NewCalibrationFailedEvent(sessionID, reason string, err error) Event {
	data := map[string]interface{}{
		"session_id": sessionID,
		"reason":     reason,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	return Event{
		Type:      EventTypeCalibrationFailed,
		Source:    "calibration",
		Timestamp: time.Now(),
		Data:      data,
	}
}

// NewProfileEvent reports a profile store change
func NewProfileEvent(eventType EventType, name string, extra map[string]interface{}) Event {
	data := map[string]interface{}{
		"profile": name,
	}
	for k, v := range extra {
		data[k] = v
	}
	return Event{
		Type:      eventType,
		Source:    "profiles",
		Timestamp: time.Now(),
		Data:      data,
	}
}

// NewCaptureErrorEvent reports a failed capture
func NewCaptureErrorEvent(err error) Event {
	return Event{
		Type:      EventTypeCaptureError,
		Source:    "capture",
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"error": err.Error(),
		},
	}
}

// NewUnsupportedResolutionEvent reports a frame size with no known bar
func NewUnsupportedResolutionEvent(width, height int) Event {
	return Event{
		Type:      EventTypeUnsupportedResolution,
		Source:    "capture",
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"width":  width,
			"height": height,
		},
	}
}

// NewErrorEvent creates an error event
func NewErrorEvent(source string, errorType string, message string, context map[string]interface{}) Event {
	data := map[string]interface{}{
		"error_type": errorType,
		"message":    message,
	}
	for k, v := range context {
		data[k] = v
	}
	return Event{
		Type:      EventTypeError,
		Source:    source,
		Timestamp: time.Now(),
		Data:      data,
	}
}
