package models

// ServerStatus is the attendance status hint reported by the backend.
type ServerStatus string

const (
	StatusNotCheckedIn ServerStatus = "not-checked-in"
	StatusCheckedIn    ServerStatus = "checked-in"
	StatusOnBreak      ServerStatus = "on-break"
	StatusCheckedOut   ServerStatus = "checked-out"
)

// BreakType classifies a pause within a work session.
type BreakType string

const (
	BreakLunch    BreakType = "lunch"
	BreakTea      BreakType = "tea"
	BreakPersonal BreakType = "personal"
	BreakMeeting  BreakType = "meeting"
	BreakOther    BreakType = "other"
)

// Valid reports whether t is one of the known break types.
func (t BreakType) Valid() bool {
	switch t {
	case BreakLunch, BreakTea, BreakPersonal, BreakMeeting, BreakOther:
		return true
	}
	return false
}

// Stamp wraps a raw server timestamp. It is kept as a string so a malformed value
// can be treated as absent instead of failing the whole payload.
type Stamp struct {
	Time string `json:"time"`
}

// Break is a single pause entry of the day.
type Break struct {
	StartTime string    `json:"startTime"`
	EndTime   *string   `json:"endTime,omitempty"`
	BreakType BreakType `json:"breakType"`
	IsActive  bool      `json:"isActive"`
	Reason    string    `json:"reason,omitempty"`
}

// AttendanceRecord is today's attendance as reported by GET /attendance/today.
type AttendanceRecord struct {
	Date              string       `json:"date,omitempty"`
	CheckIn           *Stamp       `json:"checkIn,omitempty"`
	CheckOut          *Stamp       `json:"checkOut,omitempty"`
	Breaks            []Break      `json:"breaks"`
	TotalBreakTime    int          `json:"totalBreakTime"`    // minutes
	TotalWorkingHours float64      `json:"totalWorkingHours"` // minutes, despite the name
	Status            ServerStatus `json:"status,omitempty"`
}

// UIStatus is the client side view of the user's attendance.
type UIStatus string

const (
	UILoggedOut  UIStatus = "LOGGED_OUT"
	UILoggedIn   UIStatus = "LOGGED_IN"
	UIWorking    UIStatus = "WORKING"
	UIOnBreak    UIStatus = "ON_BREAK"
	UICheckedOut UIStatus = "CHECKED_OUT"
)
