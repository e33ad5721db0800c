package pipeline

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/tjfontaine/insight-gateway/internal/domain"
)

// inputName is the pipeline input that carries the caller's URL.
const inputName = "link"

// PipelineInput is a single named input to a pipeline run.
type PipelineInput struct {
	InputName string `json:"input_name"`
	Value     string `json:"value"`
}

// StartRequest is the body of a start call in body mode.
type StartRequest struct {
	UserID         string          `json:"user_id"`
	SavedItemID    string          `json:"saved_item_id"`
	PipelineInputs []PipelineInput `json:"pipeline_inputs"`
}

// StartResponse is the platform's answer to a start call.
type StartResponse struct {
	RunID string `json:"run_id"`
	URL   string `json:"url,omitempty"`
}

// RunResponse is the platform's run snapshot.
type RunResponse struct {
	RunID      string                     `json:"run_id,omitempty"`
	State      string                     `json:"state"`
	Outputs    map[string]json.RawMessage `json:"outputs,omitempty"`
	Inputs     map[string]json.RawMessage `json:"inputs,omitempty"`
	FinishedTS json.RawMessage            `json:"finished_ts,omitempty"`
	CreditCost json.RawMessage            `json:"credit_cost,omitempty"`
}

// toRunStatus converts the wire snapshot into a domain status. Outputs are
// only carried over for DONE runs.
func (r *RunResponse) toRunStatus(handle domain.RunHandle) *domain.RunStatus {
	state := domain.ParseRunState(r.State)
	status := &domain.RunStatus{
		Handle:     handle,
		State:      state,
		RawState:   r.State,
		FinishedAt: rawValue(r.FinishedTS),
		Cost:       rawFloat(r.CreditCost),
		InputURL:   rawText(r.Inputs[inputName]),
	}
	if state == domain.RunStateDone {
		status.Outputs = domain.DecodeOutputs(r.Outputs)
	}
	return status
}

// rawValue keeps a JSON value verbatim, dropping absent and null values.
func rawValue(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}

// rawText renders a JSON scalar as text: strings unquoted, numbers as-is.
func rawText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

// rawFloat parses a number or numeric string. Anything else yields nil.
func rawFloat(raw json.RawMessage) *float64 {
	text := rawText(raw)
	if text == "" {
		return nil
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return nil
	}
	return &f
}
