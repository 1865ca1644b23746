package server

import "time"

// SubmitPipelineRequest is the POST /pipelines request body.
type SubmitPipelineRequest struct {
	// DOT is the pipeline graph in the graph text format (§4.1). Required.
	DOT string `json:"dot"`

	// Transforms, if non-empty, names the transform stages to apply
	// (subset/order of "stylesheet", "variables", "prompts"); empty means
	// the default Builtins() pipeline.
	Transforms []string `json:"transforms,omitempty"`

	// PipelineID is optional. If empty, a ULID is generated.
	PipelineID string `json:"pipelineId,omitempty"`
}

// PipelineStatus is returned by GET /pipelines/:id.
type PipelineStatus struct {
	ID             string     `json:"id"`
	Status         string     `json:"status"` // running, completed, cancelled, failed
	Outcome        string     `json:"outcome,omitempty"`
	CompletedNodes []string   `json:"completedNodes,omitempty"`
	FailureReason  string     `json:"failureReason,omitempty"`
	StartedAt      time.Time  `json:"startedAt"`
	LastEventAt    *time.Time `json:"lastEventAt,omitempty"`
}

// QuestionResponse is the GET /pipelines/:id/questions response body.
type QuestionResponse struct {
	Question *QuestionPayload `json:"question"`
}

// QuestionPayload mirrors interview.Question for the wire.
type QuestionPayload struct {
	Text    string           `json:"text"`
	Options []OptionPayload  `json:"options"`
	NodeID  string           `json:"nodeId"`
}

type OptionPayload struct {
	Key             string `json:"key"`
	Label           string `json:"label"`
	TargetEdgeIndex int    `json:"targetEdgeIndex,omitempty"`
}

// AnswerRequest is the POST /pipelines/:id/questions body.
type AnswerRequest struct {
	Value string `json:"value"`
	Text  string `json:"text,omitempty"`
}

// ErrorResponse is a standard error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}
