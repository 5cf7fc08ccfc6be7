package recording

import (
	"errors"
	"fmt"
	"time"

	"github.com/relabs-tech/grip_recorder/internal/readings"
)

var (
	ErrValidation  = errors.New("recording: invalid parameters")
	ErrBusy        = errors.New("recording: a run is already in progress")
	ErrTransportIO = errors.New("recording: transport failure")
	ErrTimeout     = errors.New("recording: timed out")
	ErrPersistence = errors.New("recording: could not save readings")
)

// State is a stage of a run.
type State int

const (
	Idle State = iota
	Arming
	Moving
	Waiting // open-loop wait, the tail of Moving
	Stopping
	Finalizing
	Failed
)

var stateNames = [...]string{"idle", "arming", "moving", "waiting", "stopping", "finalizing", "failed"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	for i, name := range stateNames {
		if name == string(b) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", b)
}

// Event is published to observers on every state change.
type Event struct {
	SessionID string    `json:"session_id"`
	State     State     `json:"state"`
	Time      time.Time `json:"time"`
	Message   string    `json:"message,omitempty"`
	Result    *Result   `json:"result,omitempty"` // set on the terminal event
}

// Observer receives events synchronously on the run goroutine and must not
// block.
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) OnEvent(e Event) { f(e) }

// Result is the outcome of one Run. It is always populated, even on failure.
type Result struct {
	SessionID  string            `json:"session_id"`
	State      State             `json:"state"` // Idle on success, Failed otherwise
	Params     Params            `json:"params"`
	Start      time.Time         `json:"start,omitempty"`
	Finished   time.Time         `json:"finished"`
	Wait       time.Duration     `json:"wait_ns"`
	Response   string            `json:"response,omitempty"`
	Samples    int               `json:"samples"`  // received while armed
	Retained   int               `json:"retained"` // at or after Start
	NonNumeric int               `json:"non_numeric"`
	Dropped    uint64            `json:"dropped"`
	Artifact   readings.Artifact `json:"artifact"`
	Persisted  bool              `json:"persisted"`
	Aborted    bool              `json:"aborted"`
	Cause      string            `json:"cause,omitempty"`
}

// OK reports whether the run finished without failing.
func (r *Result) OK() bool {
	return r.State != Failed && r.Cause == ""
}
