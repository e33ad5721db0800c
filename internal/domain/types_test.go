package domain

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestParseRunState(t *testing.T) {
	tests := []struct {
		raw  string
		want RunState
	}{
		{"DONE", RunStateDone},
		{"done", RunStateDone},
		{" FAILED ", RunStateFailed},
		{"RUNNING", RunStateRunning},
		{"PENDING", RunStatePending},
		{"", RunStateUnknown},
		{"QUEUED", RunStateUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			if got := ParseRunState(tt.raw); got != tt.want {
				t.Errorf("ParseRunState(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestRunStatus_ContentPrecedence(t *testing.T) {
	tests := []struct {
		name    string
		outputs map[string]string
		want    string
	}{
		{"summary wins over output", map[string]string{"summary": "A", "output": "B"}, "A"},
		{"output when no summary", map[string]string{"output": "B"}, "B"},
		{"empty summary falls through", map[string]string{"summary": "", "output": "B"}, "B"},
		{"placeholder when empty", map[string]string{}, PlaceholderContent},
		{"placeholder when nil", nil, PlaceholderContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status := &RunStatus{Handle: "r1", State: RunStateDone, Outputs: tt.outputs}
			got, ok := status.Content()
			if !ok {
				t.Fatal("expected content for DONE status")
			}
			if got != tt.want {
				t.Errorf("Content() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRunStatus_ContentIgnoredUnlessDone(t *testing.T) {
	for _, state := range []RunState{RunStatePending, RunStateRunning, RunStateFailed, RunStateUnknown} {
		status := &RunStatus{Handle: "r1", State: state, Outputs: map[string]string{"summary": "leaked"}}
		if got, ok := status.Content(); ok || got != "" {
			t.Errorf("state %s: Content() = (%q, %v), want no content", state, got, ok)
		}
		if NewResult(status) != nil {
			t.Errorf("state %s: NewResult() should be nil", state)
		}
	}
}

func TestNewResult(t *testing.T) {
	cost := 12.0
	status := &RunStatus{
		Handle:     "r1",
		State:      RunStateDone,
		Outputs:    map[string]string{"summary": "hello"},
		FinishedAt: json.RawMessage(`1714557600`),
		Cost:       &cost,
	}

	res := NewResult(status)
	if res == nil {
		t.Fatal("NewResult() = nil")
	}
	if res.Content != "hello" {
		t.Errorf("Content = %q, want hello", res.Content)
	}
	if res.Metadata.RunHandle != "r1" || res.Metadata.State != RunStateDone {
		t.Errorf("Metadata = %+v", res.Metadata)
	}
	if res.Metadata.Cost == nil || *res.Metadata.Cost != 12 {
		t.Errorf("Cost = %v, want 12", res.Metadata.Cost)
	}

	body, err := json.Marshal(res.Metadata)
	if err != nil {
		t.Fatal(err)
	}
	var meta map[string]any
	if err := json.Unmarshal(body, &meta); err != nil {
		t.Fatal(err)
	}
	if meta["finished_ts"] != float64(1714557600) {
		t.Errorf("finished_ts = %#v, want the number the platform sent", meta["finished_ts"])
	}
}

func TestResultMetadata_OmitsMissingFinishedAt(t *testing.T) {
	body, err := json.Marshal(ResultMetadata{RunHandle: "r1", State: RunStateDone})
	if err != nil {
		t.Fatal(err)
	}
	if got := string(body); got != `{"run_id":"r1","state":"DONE"}` {
		t.Errorf("Marshal() = %s", got)
	}
}

func TestDecodeOutputs(t *testing.T) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(`{"summary":"text","output":{"k":1},"empty":null}`), &raw); err != nil {
		t.Fatal(err)
	}

	got := DecodeOutputs(raw)
	if got["summary"] != "text" {
		t.Errorf("summary = %q", got["summary"])
	}
	if got["output"] != `{"k":1}` {
		t.Errorf("output = %q", got["output"])
	}
	if _, ok := got["empty"]; ok {
		t.Error("null outputs should be dropped")
	}

	body, err := json.Marshal(&RunStatus{Handle: "r1", State: RunStateDone, Outputs: got})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(body), `"empty"`) {
		t.Errorf("status body still carries the null output: %s", body)
	}
}
