package domain

import (
	"fmt"
	"time"
)

// Status enumerates the derived lifecycle states of a monitored agent.
type Status string

const (
	StatusRunning Status = "running"
	StatusStopped Status = "stopped"
	StatusError   Status = "error"
	StatusUnknown Status = "unknown"
)

// ParseStatus validates a status string supplied at an API boundary.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusRunning, StatusStopped, StatusError, StatusUnknown:
		return Status(s), nil
	}
	return "", fmt.Errorf("unknown agent status %q", s)
}

// Agent represents a monitored AI workload. Agents are created implicitly on
// first metric arrival and never deleted.
type Agent struct {
	AgentID     string
	Name        string
	Description string
	Status      Status
	LastSeen    time.Time
	Metadata    map[string]string
	CreatedAt   time.Time
}

// DeriveStatus computes an agent's effective status from its last stored
// status and the time of its most recent metric. An agent with no metric
// within the liveness timeout is reported as unknown regardless of what it
// last claimed. Centralised so the registry and the live view never disagree.
func DeriveStatus(last Status, lastSeen, now time.Time, timeout time.Duration) Status {
	if lastSeen.IsZero() {
		return StatusUnknown
	}
	if timeout > 0 && now.Sub(lastSeen) > timeout {
		return StatusUnknown
	}
	if last == "" {
		return StatusRunning
	}
	return last
}
