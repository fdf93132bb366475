package wallet

import (
	"fmt"
	"time"
)

// ID identifies one wallet run. Run is shared by every wallet of a test run
// and Seq is the scheduler sequence number, so the pair is unique.
type ID struct {
	Run       string
	Seq       uint64
	CreatedAt time.Time
}

func (id ID) String() string {
	return fmt.Sprintf("%s-%d", id.Run, id.Seq)
}

// StageOutcome is the result of one protocol stage, retries included.
type StageOutcome struct {
	Duration  time.Duration `json:"duration"`
	Success   bool          `json:"success"`
	ErrorKind ErrorKind     `json:"error_kind,omitempty"`
	Attempts  int           `json:"attempts"`
}

// Record is the lifecycle of one virtual user. It is owned by the Machine
// until Run returns and is read-only afterwards.
type Record struct {
	ID        ID
	State     State
	Stages    map[Stage]StageOutcome
	Success   bool
	ErrorKind ErrorKind
	Err       string
	StartedAt time.Time
	EndedAt   time.Time
}

// Terminal reports whether the run reached Completed or Failed.
func (r Record) Terminal() bool {
	return r.State.Terminal()
}

// Aborted reports whether the run was cancelled before reaching a terminal state.
func (r Record) Aborted() bool {
	return !r.State.Terminal() && !r.EndedAt.IsZero()
}

// Duration is the wall time from the first stage to the end of teardown.
func (r Record) Duration() time.Duration {
	if r.EndedAt.IsZero() {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}

// Stage returns the outcome of s and whether it ran at all.
func (r Record) Stage(s Stage) (StageOutcome, bool) {
	out, ok := r.Stages[s]
	return out, ok
}
