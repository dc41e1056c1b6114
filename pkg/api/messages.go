package api

import (
	"encoding/json"
	"errors"
)

// Notice is the step-ready notification exchanged through the message
// broker. It is produced when a step row is inserted and consumed by a
// dispatch process, which asks the router to run the step.
type Notice struct {
	Params     Params     `json:"request_params,omitempty"`
	Topic      string     `json:"topic"`
	StepKind   StepKind   `json:"step_kind"`
	StepID     StepID     `json:"step_id"`
	WorkflowID WorkflowID `json:"workflow_id"`
}

var ErrEmptyNotice = errors.New("notice has no step id")

// Encode serializes the notice for the broker
func (n *Notice) Encode() ([]byte, error) {
	return json.Marshal(n)
}

// DecodeNotice parses a broker payload. A payload without a step id is
// rejected; the consumer acknowledges and logs such messages rather
// than requeueing them
func DecodeNotice(body []byte) (*Notice, error) {
	var n Notice
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, err
	}
	if n.StepID == 0 {
		return nil, ErrEmptyNotice
	}
	return &n, nil
}
