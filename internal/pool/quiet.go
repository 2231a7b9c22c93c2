package pool

import "time"

// QuietHours pauses dispatch during the night. From and To are hours of
// the local day; a window with From > To wraps around midnight.
type QuietHours struct {
	Enabled bool `yaml:"enabled"`
	From    int  `yaml:"from"`
	To      int  `yaml:"to"`
}

// DefaultQuietHours pauses between 23:00 and 06:00.
func DefaultQuietHours() QuietHours {
	return QuietHours{From: 23, To: 6}
}

// Active reports whether t falls inside the window.
func (q QuietHours) Active(t time.Time) bool {
	if !q.Enabled || q.From == q.To {
		return false
	}
	h := t.Hour()
	if q.From < q.To {
		return h >= q.From && h < q.To
	}
	return h >= q.From || h < q.To
}

// Remaining returns how long until the window ends, zero outside of it.
func (q QuietHours) Remaining(t time.Time) time.Duration {
	if !q.Active(t) {
		return 0
	}
	end := time.Date(t.Year(), t.Month(), t.Day(), q.To, 0, 0, 0, t.Location())
	if !end.After(t) {
		end = end.AddDate(0, 0, 1)
	}
	return end.Sub(t)
}
