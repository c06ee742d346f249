package attendance

import (
	"time"

	"github.com/cppla/punchclock/models"
)

// LiveBreakMinutes returns the break time of the day as of now.
//
// totalBreakTime from the backend covers completed breaks only; the running break is
// added here from its start time. Partial minutes are dropped.
func LiveBreakMinutes(record *models.AttendanceRecord, now time.Time) int {
	if record == nil {
		return 0
	}
	total := record.TotalBreakTime
	if total < 0 {
		total = 0
	}
	if b := ActiveBreak(record); b != nil {
		if start, ok := parseTime(b.StartTime); ok && now.After(start) {
			total += int(now.Sub(start) / time.Minute)
		}
	}
	return total
}

// LiveWorkingMinutes returns the worked time of the day excluding breaks.
func LiveWorkingMinutes(record *models.AttendanceRecord, now time.Time) int {
	if record == nil {
		return 0
	}
	in, ok := stampTime(record.CheckIn)
	if !ok {
		return 0
	}
	if out, ok := stampTime(record.CheckOut); ok {
		if record.TotalWorkingHours > 0 {
			return int(record.TotalWorkingHours)
		}
		now = out
	}
	if !now.After(in) {
		return 0
	}
	worked := int(now.Sub(in)/time.Minute) - LiveBreakMinutes(record, now)
	if worked < 0 {
		return 0
	}
	return worked
}
