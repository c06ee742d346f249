package attendance

import (
	"sync"
	"time"
)

// Throttle keys of the polled resources. Unrelated resources never throttle each other.
const (
	KeyAttendance = "attendance"
	KeyDashboard  = "dashboard"
	KeyPerformer  = "performer"
	KeyTeam       = "team"
	KeyWidgets    = "widgets"
)

// PollingThrottle rate limits refreshes per key. Timer, realtime and manual refreshes
// of one resource share its key so they are limited together.
type PollingThrottle struct {
	mu   sync.Mutex
	last map[string]time.Time
	now  func() time.Time
}

// NewPollingThrottle creates a throttle reading time from clock (time.Now when nil).
func NewPollingThrottle(clock func() time.Time) *PollingThrottle {
	if clock == nil {
		clock = time.Now
	}
	return &PollingThrottle{last: make(map[string]time.Time), now: clock}
}

// ShouldProceed reports whether at least minInterval passed since the last allowed call
// for key. Only allowed calls move the window.
func (p *PollingThrottle) ShouldProceed(key string, minInterval time.Duration) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	if last, ok := p.last[key]; ok && now.Sub(last) < minInterval {
		return false
	}
	p.last[key] = now
	return true
}

// Reset forgets the window of key.
func (p *PollingThrottle) Reset(key string) {
	p.mu.Lock()
	delete(p.last, key)
	p.mu.Unlock()
}

// ResetAll forgets every window, used on logout.
func (p *PollingThrottle) ResetAll() {
	p.mu.Lock()
	p.last = make(map[string]time.Time)
	p.mu.Unlock()
}
