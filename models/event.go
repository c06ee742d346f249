package models

import "time"

// EventType names an attendance action that can be queued for replay.
type EventType string

const (
	EventPunchIn    EventType = "PUNCH_IN"
	EventPunchOut   EventType = "PUNCH_OUT"
	EventBreakStart EventType = "BREAK_START"
	EventBreakStop  EventType = "BREAK_STOP"
)

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	switch t {
	case EventPunchIn, EventPunchOut, EventBreakStart, EventBreakStop:
		return true
	}
	return false
}

// PendingEvent is an attendance action waiting to be replayed against the backend.
type PendingEvent struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	Location   string    `json:"location,omitempty"`
	IPAddress  string    `json:"ipAddress,omitempty"`
	DeviceInfo string    `json:"deviceInfo,omitempty"`
	BreakType  BreakType `json:"breakType,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	Attempts   int       `json:"attempts"`
}
