package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/meshrun/meshrun/internal/emit"
	"github.com/meshrun/meshrun/internal/graph"
	"github.com/meshrun/meshrun/internal/handler"
	"github.com/meshrun/meshrun/internal/interview"
	"github.com/meshrun/meshrun/internal/runner"
	"github.com/meshrun/meshrun/internal/transform"
	"github.com/meshrun/meshrun/internal/validate"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "pipelines": len(s.registry.List())})
}

func (s *Server) handleSubmitPipeline(w http.ResponseWriter, r *http.Request) {
	var req SubmitPipelineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.DOT == "" {
		writeError(w, http.StatusBadRequest, "dot is required")
		return
	}

	g, err := graph.Parse(req.DOT)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("parsing graph: %v", err))
		return
	}
	pipeline := transform.Builtins()
	if len(req.Transforms) > 0 {
		byName := map[string]transform.Transform{"stylesheet": transform.Stylesheet, "variables": transform.VariableExpansion, "prompts": transform.PromptFileInlining}
		var stages []transform.Transform
		for _, name := range req.Transforms {
			t, ok := byName[name]
			if !ok {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown transform %q", name))
				return
			}
			stages = append(stages, t)
		}
		pipeline = transform.Compose(stages...)
	}
	g, err = pipeline(g)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("applying transforms: %v", err))
		return
	}
	if _, err := validate.ValidateOrRaise(g, s.handlers); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("validating graph: %v", err))
		return
	}

	interviewer := interview.NewWebInterviewer()
	pipelineCtx, cancel := context.WithCancel(s.baseCtx)

	rn, err := runner.New(runner.Options{
		Graph:      g,
		Registry:   s.handlers,
		Emitter:    emit.New(),
		PipelineID: req.PipelineID,
		Metrics:    s.metrics,
	})
	if err != nil {
		cancel()
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("creating runner: %v", err))
		return
	}

	broadcaster := NewBroadcaster()
	ps := &PipelineState{
		ID:          rn.PipelineID(),
		Broadcaster: broadcaster,
		Interviewer: interviewer,
		Cancel:      cancel,
		StartedAt:   time.Now().UTC(),
	}
	if err := s.registry.Register(ps.ID, ps); err != nil {
		cancel()
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	go broadcaster.Pump(rn.Events())
	go func() {
		ex := &handler.Execution{Interviewer: interviewer}
		res, err := rn.Run(pipelineCtx, ex)
		ps.SetResult(res, err)
	}()

	writeJSON(w, http.StatusCreated, map[string]string{"id": ps.ID, "status": "running"})
}

func (s *Server) handleGetPipeline(w http.ResponseWriter, r *http.Request) {
	ps, ok := s.registry.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "pipeline not found")
		return
	}
	writeJSON(w, http.StatusOK, ps.Status())
}

func (s *Server) handlePipelineEvents(w http.ResponseWriter, r *http.Request) {
	ps, ok := s.registry.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "pipeline not found")
		return
	}
	WriteSSE(w, r, ps.Broadcaster)
}

func (s *Server) handleCancelPipeline(w http.ResponseWriter, r *http.Request) {
	ps, ok := s.registry.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "pipeline not found")
		return
	}
	ps.Cancel()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}

func (s *Server) handleGetContext(w http.ResponseWriter, r *http.Request) {
	ps, ok := s.registry.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "pipeline not found")
		return
	}
	writeJSON(w, http.StatusOK, ps.ContextValues())
}

func (s *Server) handleGetQuestions(w http.ResponseWriter, r *http.Request) {
	ps, ok := s.registry.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "pipeline not found")
		return
	}
	q, pending := ps.Interviewer.PendingAny()
	if !pending {
		writeJSON(w, http.StatusOK, QuestionResponse{Question: nil})
		return
	}
	opts := make([]OptionPayload, len(q.Options))
	for i, o := range q.Options {
		opts[i] = OptionPayload{Key: o.Key, Label: o.Label, TargetEdgeIndex: o.TargetEdgeIndex}
	}
	writeJSON(w, http.StatusOK, QuestionResponse{Question: &QuestionPayload{Text: q.Text, Options: opts, NodeID: q.NodeID}})
}

func (s *Server) handleAnswerQuestion(w http.ResponseWriter, r *http.Request) {
	ps, ok := s.registry.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "pipeline not found")
		return
	}
	var req AnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid body: %v", err))
		return
	}
	q, pending := ps.Interviewer.PendingAny()
	if !pending {
		writeError(w, http.StatusNotFound, "no pending question")
		return
	}
	if !ps.Interviewer.Answer(q.NodeID, interview.Answer{Value: req.Value, Text: req.Text}) {
		writeError(w, http.StatusNotFound, "question not found or already answered")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "answered"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
