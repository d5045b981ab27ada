package protocol

import "time"

// EventFrame is one server-to-client push on the WebSocket feed.
type EventFrame struct {
	Type    string      `json:"type"` // always "event"
	Event   string      `json:"event"`
	Ts      int64       `json:"ts"`
	Payload interface{} `json:"payload,omitempty"`
}

// NewEvent builds an EventFrame stamped with the current time.
func NewEvent(event string, payload interface{}) *EventFrame {
	return &EventFrame{
		Type:    "event",
		Event:   event,
		Ts:      time.Now().UnixMilli(),
		Payload: payload,
	}
}
