// Package attendance reconciles the backend attendance record with local client
// state: status resolution, the offline action queue and refresh throttling.
package attendance

import (
	"time"

	"github.com/cppla/punchclock/models"
)

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// parseTime parses a server timestamp. Timestamps without zone are read as local time.
func parseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func stampTime(s *models.Stamp) (time.Time, bool) {
	if s == nil {
		return time.Time{}, false
	}
	return parseTime(s.Time)
}

// ActiveBreak returns the open break of record, or nil. A break is open when its start
// parses and it has no end time, or when the backend flags it active and its end time
// does not parse. Entries with an unparseable start are ignored.
func ActiveBreak(record *models.AttendanceRecord) *models.Break {
	if record == nil {
		return nil
	}
	for i := range record.Breaks {
		b := &record.Breaks[i]
		if _, ok := parseTime(b.StartTime); !ok {
			continue
		}
		if b.EndTime == nil || *b.EndTime == "" {
			return b
		}
		if _, ok := parseTime(*b.EndTime); !ok && b.IsActive {
			return b
		}
	}
	return nil
}

// Resolve derives the UI status from the backend record and the login state.
//
// A checkout, reported either way, is terminal for the day. Otherwise a known explicit
// status wins over what the timestamps suggest, and the timestamps are only consulted
// when the status is missing or unrecognised. Malformed timestamps count as absent.
func Resolve(record *models.AttendanceRecord, authenticated bool) models.UIStatus {
	if !authenticated {
		return models.UILoggedOut
	}
	if record == nil {
		return models.UILoggedIn
	}
	_, checkedOut := stampTime(record.CheckOut)
	if record.Status == models.StatusCheckedOut || checkedOut {
		return models.UICheckedOut
	}
	switch record.Status {
	case models.StatusOnBreak:
		return models.UIOnBreak
	case models.StatusCheckedIn:
		return models.UIWorking
	case models.StatusNotCheckedIn:
		return models.UILoggedIn
	}
	if ActiveBreak(record) != nil {
		return models.UIOnBreak
	}
	if _, checkedIn := stampTime(record.CheckIn); checkedIn {
		return models.UIWorking
	}
	return models.UILoggedIn
}

// transitions is the attendance state machine: which action is valid in which
// status and where it leads.
var transitions = map[models.UIStatus]map[models.EventType]models.UIStatus{
	models.UILoggedIn: {
		models.EventPunchIn: models.UIWorking,
	},
	models.UIWorking: {
		models.EventPunchOut:   models.UICheckedOut,
		models.EventBreakStart: models.UIOnBreak,
	},
	models.UIOnBreak: {
		models.EventBreakStop: models.UIWorking,
	},
}

// Transition returns the status reached by applying action in status.
func Transition(status models.UIStatus, action models.EventType) (models.UIStatus, bool) {
	next, ok := transitions[status][action]
	return next, ok
}

// Actions lists which attendance actions the UI may offer.
type Actions struct {
	PunchIn    bool `json:"punchIn"`
	PunchOut   bool `json:"punchOut"`
	StartBreak bool `json:"startBreak"`
	EndBreak   bool `json:"endBreak"`
}

// AllowedActions returns the actions valid in status.
func AllowedActions(status models.UIStatus) Actions {
	_, in := Transition(status, models.EventPunchIn)
	_, out := Transition(status, models.EventPunchOut)
	_, start := Transition(status, models.EventBreakStart)
	_, stop := Transition(status, models.EventBreakStop)
	return Actions{PunchIn: in, PunchOut: out, StartBreak: start, EndBreak: stop}
}

// SameDay reports whether record belongs to the calendar day of now. Records without any
// usable date are assumed current.
func SameDay(record *models.AttendanceRecord, now time.Time) bool {
	if record == nil {
		return true
	}
	y, m, d := now.Date()
	if t, ok := stampTime(record.CheckIn); ok {
		ry, rm, rd := t.In(now.Location()).Date()
		return ry == y && rm == m && rd == d
	}
	if record.Date != "" {
		if t, err := time.ParseInLocation("2006-01-02", record.Date, now.Location()); err == nil {
			ry, rm, rd := t.Date()
			return ry == y && rm == m && rd == d
		}
		if t, ok := parseTime(record.Date); ok {
			ry, rm, rd := t.In(now.Location()).Date()
			return ry == y && rm == m && rd == d
		}
	}
	return true
}

// Project resolves record and then applies the still queued actions, oldest first, so
// offline punches show up before the backend has seen them. Actions that are not valid
// in the running status are skipped.
func Project(record *models.AttendanceRecord, authenticated bool, pending []models.PendingEvent) models.UIStatus {
	status := Resolve(record, authenticated)
	if !authenticated {
		return status
	}
	for _, ev := range pending {
		if next, ok := Transition(status, ev.Type); ok {
			status = next
		}
	}
	return status
}
