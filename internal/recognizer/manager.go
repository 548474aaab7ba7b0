package recognizer

import (
	"sync"
	"time"

	"github.com/meetbot/meetbot/internal/metrics"
)

// clientManager enforces server-wide capacity (max_clients) and per-session
// connection-time limits, and a janitor sweeps sessions that overstayed
// their welcome.
type clientManager struct {
	mu                sync.Mutex
	maxClients        int
	maxConnectionTime time.Duration
	sessions          map[string]*session
}

func newClientManager(maxClients int, maxConnectionTime time.Duration) *clientManager {
	return &clientManager{
		maxClients:        maxClients,
		maxConnectionTime: maxConnectionTime,
		sessions:          map[string]*session{},
	}
}

// admit reserves a slot for uid, or reports the server is full along with
// the estimated wait in minutes until the soonest slot frees up.
func (m *clientManager) admit(uid string, sess *session) (waitMinutes int, full bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sessions) >= m.maxClients {
		soonest := m.maxConnectionTime
		for _, s := range m.sessions {
			remaining := s.maxConnTime - time.Since(s.startedAt)
			if remaining < soonest {
				soonest = remaining
			}
		}
		wait := int(soonest.Minutes())
		if wait < 1 {
			wait = 1
		}
		return wait, true
	}
	m.sessions[uid] = sess
	metrics.ActiveSessions.Set(float64(len(m.sessions)))
	return 0, false
}

func (m *clientManager) remove(uid string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, uid)
	metrics.ActiveSessions.Set(float64(len(m.sessions)))
}

func (m *clientManager) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// sweepTimedOut cancels every session that has exceeded its
// max_connection_time, called periodically by the janitor.
func (m *clientManager) sweepTimedOut() {
	m.mu.Lock()
	timedOut := make([]*session, 0)
	for _, s := range m.sessions {
		if time.Since(s.startedAt) >= s.maxConnTime {
			timedOut = append(timedOut, s)
		}
	}
	m.mu.Unlock()

	for _, s := range timedOut {
		s.cancel()
	}
}

// runJanitor periodically sweeps timed-out sessions until stop is closed.
func (m *clientManager) runJanitor(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.sweepTimedOut()
		}
	}
}
