package session

import (
	"context"
	"time"
)

// HealthOutput holds the result of a health check.
type HealthOutput struct {
	Status      string       `json:"status"`
	Checks      HealthChecks `json:"checks"`
	Address     string       `json:"address"`
	Exchanges   int          `json:"exchanges"`
	PeersOnline int          `json:"peersOnline"`
	Clients     int          `json:"clients"`
	Timestamp   string       `json:"timestamp"`
}

// HealthChecks holds individual health check results.
type HealthChecks struct {
	COMMS   bool  `json:"comms"`
	Session bool  `json:"session"`
	Mirror  *bool `json:"mirror,omitempty"`
}

// Health reports whether the session can exchange stanzas. The mirror
// check only runs when one was configured.
func (s *Session) Health(ctx context.Context) *HealthOutput {
	out := &HealthOutput{
		Checks: HealthChecks{
			COMMS:   s.nc != nil && s.nc.IsConnected(),
			Session: s.isStarted(),
		},
		Address:   s.local,
		Exchanges: len(s.registry.EnumerateExchanges()),
		Clients:   len(s.announcer.Clients()),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	for _, p := range s.directory.List() {
		if p.Online {
			out.PeersOnline++
		}
	}

	healthy := out.Checks.COMMS && out.Checks.Session
	if s.mirrorCheck != nil {
		ok := s.mirrorCheck(ctx) == nil
		out.Checks.Mirror = &ok
		healthy = healthy && ok
	}

	out.Status = "healthy"
	if !healthy {
		out.Status = "unhealthy"
	}
	return out
}
