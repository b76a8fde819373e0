package harness

import (
	"time"
)

// State tracks an iteration through its lifecycle.
type State string

const (
	StateCreated       State = "Created"
	StateLaunching     State = "Launching"
	StateAwaitingReady State = "AwaitingReady"
	StateDriving       State = "Driving"
	StateScanning      State = "Scanning"
	StateClassified    State = "Classified"
	StateTornDown      State = "TornDown"
)

// FailureReason is the iteration-level failure taxonomy. Reasons never
// propagate past the iteration controller; they are recorded and the run
// continues.
type FailureReason string

const (
	ReasonNone                  FailureReason = ""
	ReasonLaunchFailure         FailureReason = "LaunchFailure"
	ReasonServerStartFailure    FailureReason = "ServerStartFailure"
	ReasonReadinessTimeout      FailureReason = "ReadinessTimeout"
	ReasonEnvironmentDied       FailureReason = "EnvironmentDied"
	ReasonPromptConnectionError FailureReason = "PromptConnectionError"
	ReasonPatternMismatch       FailureReason = "PatternMismatch"
	ReasonErrorPatternDetected  FailureReason = "ErrorPatternDetected"
	ReasonAborted               FailureReason = "Aborted"
)

// Iteration is one test cycle. It is mutated only by the controller and is
// immutable once classified.
type Iteration struct {
	Index   int           `json:"index"`
	Start   time.Time     `json:"start"`
	End     time.Time     `json:"end"`
	State   State         `json:"-"`
	Success bool          `json:"success"`
	Reason  FailureReason `json:"reason,omitempty"`
	Detail  string        `json:"detail,omitempty"`
	LogPath string        `json:"log_path"`
}

func (it *Iteration) classify(success bool, reason FailureReason, detail string) {
	if it.State == StateClassified || it.State == StateTornDown {
		return
	}
	it.State = StateClassified
	it.Success = success
	it.Reason = reason
	it.Detail = detail
	it.End = time.Now()
}

// Status is the suffix embedded into the renamed log artifact.
func (it *Iteration) Status() string {
	if it.Success {
		return "SUCCESS"
	}
	return "FAIL"
}
