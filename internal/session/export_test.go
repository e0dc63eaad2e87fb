package session

import "time"

// SetNow replaces the clock of the manager for testing purposes.
func (m *Manager) SetNow(now func() time.Time) {
	m.now = now
}
