package logging

import (
	"fmt"

	"jordanella.com/cost-ruler/internal/events"
)

// EventLogger subscribes to the event bus and logs every event except the
// per-tick state updates
type EventLogger struct {
	logger         *Logger
	eventBus       events.EventBus
	subscriptionID events.SubscriptionID
}

// NewEventLogger creates a new event logger
func NewEventLogger(eventBus events.EventBus) *EventLogger {
	el := &EventLogger{
		logger:   NewLogger("EventLogger"),
		eventBus: eventBus,
	}
	el.subscriptionID = eventBus.Subscribe(events.Wildcard, el.handleEvent)
	return el
}

// handleEvent handles incoming events and logs them
func (el *EventLogger) handleEvent(event events.Event) {
	if event.Type == events.EventTypeStateUpdated {
		return
	}

	context := map[string]interface{}{
		"event_type": string(event.Type),
		"source":     event.Source,
	}
	for k, v := range event.Data {
		context[k] = v
	}

	msg := fmt.Sprintf("Event: %s", event.Type)
	switch event.Type {
	case events.EventTypeCaptureError, events.EventTypeCalibrationFailed,
		events.EventTypeUnsupportedResolution, events.EventTypeError:
		el.logger.WarnWithContext(msg, context)
	case events.EventTypeCalibrationProgress:
		el.logger.DebugWithContext(msg, context)
	default:
		el.logger.InfoWithContext(msg, context)
	}
}

// Close unsubscribes from the bus
func (el *EventLogger) Close() error {
	el.eventBus.Unsubscribe(el.subscriptionID)
	return nil
}
