package attempt

import (
	"log/slog"
	"time"

	"github.com/al-bashkir/reachable/internal/logsanitize"
)

// cleanupLoop periodically removes expired attempts until Stop is called.
func (m *Manager) cleanupLoop() {
	for {
		select {
		case <-m.cleanupTicker.C:
			m.cleanup(time.Now())
		case <-m.stopCleanup:
			return
		}
	}
}

// cleanup removes attempts that expired before now.
func (m *Manager) cleanup(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	expired := 0
	for id, a := range m.attempts {
		if !a.Expired(now) {
			continue
		}
		if !a.ResultWritten {
			slog.Warn("login attempt expired without a result",
				"attempt_id", id,
				"host", logsanitize.Sanitize(a.Host),
				"method", a.Method,
			)
		}
		delete(m.attempts, id)
		if m.current == id {
			m.current = ""
		}
		expired++
	}

	if expired > 0 {
		slog.Info("cleaned up expired login attempts", "count", expired)
	}
}
