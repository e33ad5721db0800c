package domain

import (
	"encoding/json"
	"strings"
)

// PlaceholderContent is returned as result content when a finished run
// produced none of the known output fields.
const PlaceholderContent = "No content available"

// Output names that carry the analysis payload, in precedence order.
const (
	OutputSummary = "summary"
	OutputOutput  = "output"
)

// RunHandle identifies one remote pipeline execution. It is opaque.
type RunHandle string

func (h RunHandle) String() string { return string(h) }

// RunState is the locally normalized state of a remote run.
type RunState string

const (
	RunStatePending RunState = "PENDING"
	RunStateRunning RunState = "RUNNING"
	RunStateDone    RunState = "DONE"
	RunStateFailed  RunState = "FAILED"
	RunStateUnknown RunState = "UNKNOWN"
)

// ParseRunState maps a remote state token onto RunState. Absent and
// unrecognised tokens become RunStateUnknown.
func ParseRunState(raw string) RunState {
	switch RunState(strings.ToUpper(strings.TrimSpace(raw))) {
	case RunStatePending:
		return RunStatePending
	case RunStateRunning:
		return RunStateRunning
	case RunStateDone:
		return RunStateDone
	case RunStateFailed:
		return RunStateFailed
	default:
		return RunStateUnknown
	}
}

// Terminal reports whether no further transition can leave the state.
func (s RunState) Terminal() bool {
	return s == RunStateDone || s == RunStateFailed
}

// RunStatus is a snapshot of a remote run as reported by the platform.
type RunStatus struct {
	Handle   RunHandle `json:"run_id"`
	State    RunState  `json:"state"`
	RawState string    `json:"raw_state,omitempty"`

	// Outputs is only meaningful when State is RunStateDone.
	Outputs map[string]string `json:"outputs,omitempty"`

	// FinishedAt is passed through exactly as the platform sent it.
	FinishedAt json.RawMessage `json:"finished_ts,omitempty"`
	Cost       *float64        `json:"credit_cost,omitempty"`
	InputURL   string          `json:"input_url,omitempty"`
}

// Content returns the run's payload. The boolean is false for any state
// other than DONE, in which case outputs are ignored entirely.
func (s *RunStatus) Content() (string, bool) {
	if s == nil || s.State != RunStateDone {
		return "", false
	}
	for _, name := range []string{OutputSummary, OutputOutput} {
		if v := s.Outputs[name]; v != "" {
			return v, true
		}
	}
	return PlaceholderContent, true
}

// ResultMetadata describes the run that produced a Result.
type ResultMetadata struct {
	RunHandle  RunHandle       `json:"run_id"`
	State      RunState        `json:"state"`
	FinishedAt json.RawMessage `json:"finished_ts,omitempty"`
	Cost       *float64        `json:"credit_cost,omitempty"`
}

// Result is the normalized outcome of a successful run, identical for
// video and channel pipelines.
type Result struct {
	Content  string         `json:"content"`
	Metadata ResultMetadata `json:"metadata"`
}

// NewResult builds a Result from a DONE status. It returns nil for any
// other state.
func NewResult(status *RunStatus) *Result {
	content, ok := status.Content()
	if !ok {
		return nil
	}
	return &Result{
		Content: content,
		Metadata: ResultMetadata{
			RunHandle:  status.Handle,
			State:      status.State,
			FinishedAt: status.FinishedAt,
			Cost:       status.Cost,
		},
	}
}

// PipelineKind selects which remote automation handles a URL.
type PipelineKind string

const (
	PipelineVideo   PipelineKind = "video"
	PipelineChannel PipelineKind = "channel"
)

// Valid reports whether k is a known pipeline kind.
func (k PipelineKind) Valid() bool {
	return k == PipelineVideo || k == PipelineChannel
}

// DecodeOutputs converts a raw outputs object into string values. String
// values are kept as-is; any other JSON value is kept as its JSON text.
func DecodeOutputs(raw map[string]json.RawMessage) map[string]string {
	if len(raw) == 0 {
		return nil
	}
	out := make(map[string]string, len(raw))
	for name, value := range raw {
		if len(value) == 0 || string(value) == "null" {
			continue
		}
		var s string
		if err := json.Unmarshal(value, &s); err == nil {
			out[name] = s
			continue
		}
		out[name] = string(value)
	}
	return out
}
