package supervisor

import "time"

// State is the lifecycle position of a component.
type State string

const (
	StatePending  State = "pending"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateDegraded State = "degraded"
	StateFailed   State = "failed"
	StateBlocked  State = "blocked"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
)

// AllStates lists every state, for metrics that export one series per state.
var AllStates = []string{
	string(StatePending), string(StateStarting), string(StateRunning), string(StateDegraded),
	string(StateFailed), string(StateBlocked), string(StateStopping), string(StateStopped),
}

// Up reports whether the component is alive and usable by dependents.
func (s State) Up() bool {
	return s == StateRunning || s == StateDegraded
}

// Record is the observable status of one component.
type Record struct {
	Name       string    `json:"name"`
	Kind       Kind      `json:"kind"`
	PID        int       `json:"pid,omitempty"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	Restarts   int       `json:"restarts"`
	Attempts   int       `json:"attempts"`
	MaxRetries int       `json:"max_retries"`
	LastHealth time.Time `json:"last_health,omitempty"`
	State      State     `json:"state"`
	LastError  string    `json:"last_error,omitempty"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	Order      int       `json:"order"`
	Autostart  bool      `json:"autostart"`
	DependsOn  []string  `json:"depends_on,omitempty"`
}

// Uptime is the time since the current instance started, or zero.
func (r Record) Uptime(now time.Time) time.Duration {
	if !r.State.Up() || r.StartedAt.IsZero() {
		return 0
	}
	return now.Sub(r.StartedAt)
}
