package flowctx

import "fmt"

// StageStatus is the result status a handler reports for a stage.
type StageStatus string

const (
	StatusSuccess        StageStatus = "SUCCESS"
	StatusPartialSuccess  StageStatus = "PARTIAL_SUCCESS"
	StatusFail            StageStatus = "FAIL"
	StatusRetry           StageStatus = "RETRY"
	StatusSkipped         StageStatus = "SKIPPED"
)

// ParseStageStatus canonicalizes common aliases (e.g. "skip"/"failure") onto
// the five recognized statuses.
func ParseStageStatus(s string) (StageStatus, error) {
	switch s {
	case string(StatusSuccess), "success":
		return StatusSuccess, nil
	case string(StatusPartialSuccess), "partial_success", "partial":
		return StatusPartialSuccess, nil
	case string(StatusFail), "fail", "failure":
		return StatusFail, nil
	case string(StatusRetry), "retry":
		return StatusRetry, nil
	case string(StatusSkipped), "skip", "skipped":
		return StatusSkipped, nil
	default:
		return "", fmt.Errorf("unrecognized stage status %q", s)
	}
}

// Outcome is what a handler returns for a single stage execution.
type Outcome struct {
	Status           StageStatus       `json:"status"`
	FailureReason    string            `json:"failureReason,omitempty"`
	Notes            string            `json:"notes,omitempty"`
	ContextUpdates   map[string]string `json:"contextUpdates,omitempty"`
	PreferredLabel   string            `json:"preferredLabel,omitempty"`
	SuggestedNextIDs []string          `json:"suggestedNextIds,omitempty"`
}

// Canonicalize normalizes Status to one of the five recognized values,
// returning an error if it cannot be recognized.
func (o Outcome) Canonicalize() (Outcome, error) {
	canon, err := ParseStageStatus(string(o.Status))
	if err != nil {
		return o, err
	}
	o.Status = canon
	return o, nil
}

func Fail(reason string) Outcome {
	return Outcome{Status: StatusFail, FailureReason: reason}
}

func Success(notes string) Outcome {
	return Outcome{Status: StatusSuccess, Notes: notes}
}
