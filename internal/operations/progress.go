package operations

import (
	"fmt"
	"sync"
	"time"
)

// ProgressTracker estimates time remaining from a 0..100 percentage.
type ProgressTracker struct {
	mu        sync.Mutex
	startTime time.Time
	percent   int
	now       func() time.Time
}

// NewProgressTracker creates a new progress tracker
func NewProgressTracker() *ProgressTracker {
	return &ProgressTracker{startTime: time.Now(), now: time.Now}
}

// Update records the latest percentage. Values outside 0..100 are clamped.
func (p *ProgressTracker) Update(percent int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case percent < 0:
		percent = 0
	case percent > 100:
		percent = 100
	}
	p.percent = percent
}

// Percent returns the last recorded percentage.
func (p *ProgressTracker) Percent() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.percent
}

// ETA returns a human estimate, or "" while nothing can be said.
func (p *ProgressTracker) ETA() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.percent <= 0 || p.percent >= 100 {
		return ""
	}
	elapsed := p.now().Sub(p.startTime)
	remaining := time.Duration(float64(elapsed) * float64(100-p.percent) / float64(p.percent))
	return formatDuration(remaining)
}

// Elapsed returns the time since the tracker was created.
func (p *ProgressTracker) Elapsed() time.Duration {
	return p.now().Sub(p.startTime)
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%.0f seconds", d.Seconds())
	case d < time.Hour:
		return fmt.Sprintf("%.1f minutes", d.Minutes())
	default:
		return fmt.Sprintf("%.1f hours", d.Hours())
	}
}
