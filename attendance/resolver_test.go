package attendance

import (
	"testing"
	"time"

	"github.com/cppla/punchclock/models"
)

func strp(s string) *string { return &s }

func TestResolvePriority(t *testing.T) {
	cases := []struct {
		name   string
		record *models.AttendanceRecord
		auth   bool
		want   models.UIStatus
	}{
		{"unauthenticated wins over everything", &models.AttendanceRecord{Status: models.StatusCheckedIn}, false, models.UILoggedOut},
		{"nil record", nil, true, models.UILoggedIn},
		{"empty record", &models.AttendanceRecord{}, true, models.UILoggedIn},
		{"explicit not checked in", &models.AttendanceRecord{Status: models.StatusNotCheckedIn}, true, models.UILoggedIn},
		{"explicit checked out", &models.AttendanceRecord{Status: models.StatusCheckedOut}, true, models.UICheckedOut},
		{"checkout timestamp only", &models.AttendanceRecord{
			CheckIn:  &models.Stamp{Time: "2026-03-02T09:00:00Z"},
			CheckOut: &models.Stamp{Time: "2026-03-02T17:00:00Z"},
		}, true, models.UICheckedOut},
		{"checkout beats active break", &models.AttendanceRecord{
			CheckIn:  &models.Stamp{Time: "2026-03-02T09:00:00Z"},
			CheckOut: &models.Stamp{Time: "2026-03-02T17:00:00Z"},
			Breaks:   []models.Break{{StartTime: "2026-03-02T12:00:00Z", IsActive: true}},
		}, true, models.UICheckedOut},
		{"checkout timestamp beats explicit checked-in", &models.AttendanceRecord{
			Status:   models.StatusCheckedIn,
			CheckOut: &models.Stamp{Time: "2026-03-02T17:00:00Z"},
		}, true, models.UICheckedOut},
		{"explicit on break", &models.AttendanceRecord{Status: models.StatusOnBreak}, true, models.UIOnBreak},
		{"active break derived", &models.AttendanceRecord{
			CheckIn: &models.Stamp{Time: "2026-03-02T09:00:00Z"},
			Breaks: []models.Break{
				{StartTime: "2026-03-02T10:00:00Z", EndTime: strp("2026-03-02T10:15:00Z")},
				{StartTime: "2026-03-02T12:00:00Z", IsActive: true},
			},
		}, true, models.UIOnBreak},
		{"explicit checked in wins over open break", &models.AttendanceRecord{
			Status: models.StatusCheckedIn,
			Breaks: []models.Break{{StartTime: "2026-03-02T12:00:00Z"}},
		}, true, models.UIWorking},
		{"explicit checked in", &models.AttendanceRecord{Status: models.StatusCheckedIn}, true, models.UIWorking},
		{"check-in timestamp only", &models.AttendanceRecord{CheckIn: &models.Stamp{Time: "2026-03-02 09:00:00"}}, true, models.UIWorking},
		{"closed breaks only", &models.AttendanceRecord{
			CheckIn: &models.Stamp{Time: "2026-03-02T09:00:00Z"},
			Breaks:  []models.Break{{StartTime: "2026-03-02T10:00:00Z", EndTime: strp("2026-03-02T10:15:00Z")}},
		}, true, models.UIWorking},
		{"explicit not checked in wins over stray check-in", &models.AttendanceRecord{
			Status:  models.StatusNotCheckedIn,
			CheckIn: &models.Stamp{Time: "2026-03-02T09:00:00Z"},
		}, true, models.UILoggedIn},
	}
	for _, tc := range cases {
		if got := Resolve(tc.record, tc.auth); got != tc.want {
			t.Fatalf("%s: expected %s, got %s", tc.name, tc.want, got)
		}
	}
}

func TestResolveMalformedTimestampsFallThrough(t *testing.T) {
	rec := &models.AttendanceRecord{
		CheckIn:  &models.Stamp{Time: "2026-03-02T09:00:00Z"},
		CheckOut: &models.Stamp{Time: "yesterday-ish"},
		Breaks:   []models.Break{{StartTime: "lunchtime", IsActive: true}},
	}
	if got := Resolve(rec, true); got != models.UIWorking {
		t.Fatalf("expected malformed checkout and break to be ignored, got %s", got)
	}

	rec = &models.AttendanceRecord{CheckIn: &models.Stamp{Time: "not a date"}}
	if got := Resolve(rec, true); got != models.UILoggedIn {
		t.Fatalf("expected malformed check-in to degrade to LOGGED_IN, got %s", got)
	}
}

func TestResolveActiveFlagOverridesMalformedBreakEnd(t *testing.T) {
	rec := &models.AttendanceRecord{
		CheckIn: &models.Stamp{Time: "2026-03-02T09:00:00Z"},
		Breaks:  []models.Break{{StartTime: "2026-03-02T12:00:00Z", EndTime: strp("garbage"), IsActive: true}},
	}
	if ActiveBreak(rec) == nil {
		t.Fatalf("expected break flagged active with unreadable end to be open")
	}
	if got := Resolve(rec, true); got != models.UIOnBreak {
		t.Fatalf("expected ON_BREAK, got %s", got)
	}

	rec.Breaks[0].IsActive = false
	if ActiveBreak(rec) != nil {
		t.Fatalf("expected inactive break with unreadable end to stay closed")
	}
	if got := Resolve(rec, true); got != models.UIWorking {
		t.Fatalf("expected WORKING, got %s", got)
	}
}

func TestResolveIsTotal(t *testing.T) {
	valid := map[models.UIStatus]bool{
		models.UILoggedOut: true, models.UILoggedIn: true, models.UIWorking: true,
		models.UIOnBreak: true, models.UICheckedOut: true,
	}
	stamps := []*models.Stamp{nil, {Time: ""}, {Time: "garbage"}, {Time: "2026-03-02T09:00:00Z"}}
	breaks := [][]models.Break{
		nil,
		{{StartTime: "2026-03-02T12:00:00Z", IsActive: true}},
		{{StartTime: "2026-03-02T12:00:00Z", EndTime: strp("2026-03-02T12:30:00Z")}},
		{{StartTime: "bad", EndTime: strp("bad")}},
	}
	statuses := []models.ServerStatus{"", models.StatusNotCheckedIn, models.StatusCheckedIn, models.StatusOnBreak, models.StatusCheckedOut, "weird"}

	for _, auth := range []bool{true, false} {
		if got := Resolve(nil, auth); !valid[got] {
			t.Fatalf("nil record auth=%v produced %q", auth, got)
		}
		for _, in := range stamps {
			for _, out := range stamps {
				for _, br := range breaks {
					for _, st := range statuses {
						rec := &models.AttendanceRecord{CheckIn: in, CheckOut: out, Breaks: br, Status: st}
						if got := Resolve(rec, auth); !valid[got] {
							t.Fatalf("record %+v auth=%v produced %q", rec, auth, got)
						}
					}
				}
			}
		}
	}
}

func TestAllowedActionsFollowTransitions(t *testing.T) {
	cases := map[models.UIStatus]Actions{
		models.UILoggedOut:  {},
		models.UILoggedIn:   {PunchIn: true},
		models.UIWorking:    {PunchOut: true, StartBreak: true},
		models.UIOnBreak:    {EndBreak: true},
		models.UICheckedOut: {},
	}
	for status, want := range cases {
		if got := AllowedActions(status); got != want {
			t.Fatalf("%s: expected %+v, got %+v", status, want, got)
		}
	}
	if next, ok := Transition(models.UICheckedOut, models.EventPunchIn); ok {
		t.Fatalf("punch-in after checkout must be refused, got %s", next)
	}
	if next, ok := Transition(models.UIOnBreak, models.EventBreakStop); !ok || next != models.UIWorking {
		t.Fatalf("expected break stop to return to WORKING, got %s ok=%v", next, ok)
	}
}

func TestSameDay(t *testing.T) {
	now := time.Date(2026, 3, 2, 15, 0, 0, 0, time.Local)
	today := &models.AttendanceRecord{CheckIn: &models.Stamp{Time: time.Date(2026, 3, 2, 9, 0, 0, 0, time.Local).Format(time.RFC3339)}}
	yesterday := &models.AttendanceRecord{CheckIn: &models.Stamp{Time: time.Date(2026, 3, 1, 9, 0, 0, 0, time.Local).Format(time.RFC3339)}}
	dated := &models.AttendanceRecord{Date: "2026-03-01"}

	if !SameDay(today, now) {
		t.Fatalf("expected today's record to be current")
	}
	if SameDay(yesterday, now) {
		t.Fatalf("expected yesterday's record to be stale")
	}
	if SameDay(dated, now) {
		t.Fatalf("expected dated record from yesterday to be stale")
	}
	if !SameDay(&models.AttendanceRecord{}, now) || !SameDay(nil, now) {
		t.Fatalf("records without a date are assumed current")
	}
}

func TestLiveBreakAndWorkingMinutes(t *testing.T) {
	in := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	rec := &models.AttendanceRecord{
		CheckIn:        &models.Stamp{Time: in.Format(time.RFC3339)},
		TotalBreakTime: 15,
		Breaks: []models.Break{
			{StartTime: in.Add(time.Hour).Format(time.RFC3339), EndTime: strp(in.Add(75 * time.Minute).Format(time.RFC3339))},
			{StartTime: in.Add(3 * time.Hour).Format(time.RFC3339), IsActive: true},
		},
	}
	now := in.Add(3*time.Hour + 10*time.Minute + 30*time.Second)

	if got := LiveBreakMinutes(rec, now); got != 25 {
		t.Fatalf("expected 15 completed + 10 running = 25, got %d", got)
	}
	if got := LiveWorkingMinutes(rec, now); got != 190-25 {
		t.Fatalf("expected %d working minutes, got %d", 190-25, got)
	}

	rec.CheckOut = &models.Stamp{Time: in.Add(8 * time.Hour).Format(time.RFC3339)}
	rec.TotalWorkingHours = 450
	if got := LiveWorkingMinutes(rec, now.Add(5*time.Hour)); got != 450 {
		t.Fatalf("expected backend total after checkout, got %d", got)
	}
	if got := LiveWorkingMinutes(nil, now); got != 0 {
		t.Fatalf("expected 0 for nil record, got %d", got)
	}
}

func TestProjectAppliesQueuedActions(t *testing.T) {
	pending := []models.PendingEvent{
		{Type: models.EventPunchIn},
		{Type: models.EventBreakStart},
		{Type: models.EventPunchIn}, // invalid while on break, skipped
	}
	if got := Project(nil, true, pending); got != models.UIOnBreak {
		t.Fatalf("expected ON_BREAK, got %s", got)
	}
	if got := Project(nil, false, pending); got != models.UILoggedOut {
		t.Fatalf("expected LOGGED_OUT when unauthenticated, got %s", got)
	}
	checkedOut := &models.AttendanceRecord{Status: models.StatusCheckedOut}
	if got := Project(checkedOut, true, pending); got != models.UICheckedOut {
		t.Fatalf("checkout must stay terminal, got %s", got)
	}
}
