package server

import (
	"fmt"
	"sync"
	"time"

	"github.com/meshrun/meshrun/internal/interview"
	"github.com/meshrun/meshrun/internal/runner"
)

// PipelineState tracks one running or completed pipeline.
type PipelineState struct {
	ID          string
	Broadcaster *Broadcaster
	Interviewer *interview.WebInterviewer
	Cancel      func()
	StartedAt   time.Time

	mu     sync.Mutex
	result runner.Result
	err    error
	done   bool
}

func (ps *PipelineState) SetResult(res runner.Result, err error) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.result = res
	ps.err = err
	ps.done = true
}

func (ps *PipelineState) Status() PipelineStatus {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	st := PipelineStatus{ID: ps.ID, Status: "running", StartedAt: ps.StartedAt}
	if !ps.done {
		return st
	}
	switch {
	case ps.err != nil:
		st.Status = "failed"
		st.FailureReason = ps.err.Error()
	case ps.result.Failed && ps.result.FailureReason == "cancelled":
		st.Status = "cancelled"
		st.FailureReason = ps.result.FailureReason
	case ps.result.Failed:
		st.Status = "failed"
		st.FailureReason = ps.result.FailureReason
	default:
		st.Status = "completed"
	}
	st.Outcome = string(ps.result.Outcome.Status)
	st.CompletedNodes = ps.result.CompletedNodes
	return st
}

func (ps *PipelineState) ContextValues() map[string]string {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.result.Context == nil {
		return map[string]string{}
	}
	return ps.result.Context
}

// PipelineRegistry tracks every pipeline managed by this server instance.
type PipelineRegistry struct {
	mu        sync.RWMutex
	pipelines map[string]*PipelineState
}

func NewPipelineRegistry() *PipelineRegistry {
	return &PipelineRegistry{pipelines: map[string]*PipelineState{}}
}

func (r *PipelineRegistry) Register(id string, ps *PipelineState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.pipelines[id]; exists {
		return fmt.Errorf("pipeline %s already exists", id)
	}
	r.pipelines[id] = ps
	return nil
}

func (r *PipelineRegistry) Get(id string) (*PipelineState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ps, ok := r.pipelines[id]
	return ps, ok
}

func (r *PipelineRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.pipelines))
	for id := range r.pipelines {
		ids = append(ids, id)
	}
	return ids
}

func (r *PipelineRegistry) CancelAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, ps := range r.pipelines {
		if ps.Cancel != nil {
			ps.Cancel()
		}
	}
}
