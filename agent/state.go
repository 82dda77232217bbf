package agent

// State is the run controller's lifecycle state (spec.md §3 "AgentState").
// Legal transitions: Idle->Running (prompt/continue), Running->Aborting
// (abort), {Running,Aborting}->Idle (run termination or reset). No other
// transition is permitted; in particular Idle never transitions directly
// to Aborting.
type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateAborting State = "aborting"
)

// Snapshot is the observable run state a watcher reads (spec.md §3
// "AgentSnapshot"). LastError is nil unless the most recent run ended
// Failed or Canceled.
type Snapshot struct {
	State        State
	TurnIndex    int
	MessageCount int
	IsStreaming  bool
	LastError    *string
}
