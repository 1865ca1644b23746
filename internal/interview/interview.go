// Package interview implements the human-gate interviewer protocol: asking
// a human (or a stand-in) a multiple-choice question derived from a stage's
// outgoing edges, and resuming once an answer arrives.
package interview

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Option is one answerable choice, usually derived from an outgoing edge's
// label.
type Option struct {
	Key             string `json:"key"`
	Label           string `json:"label"`
	TargetEdgeIndex int    `json:"targetEdgeIndex,omitempty"`
}

// Question is presented to an interviewer for a single wait.human stage.
type Question struct {
	Text    string   `json:"text"`
	Options []Option `json:"options"`
	NodeID  string   `json:"nodeId"`
}

// Answer is what an interviewer returns for a Question.
type Answer struct {
	Value          string  `json:"value"`
	Text           string  `json:"text,omitempty"`
	SelectedOption *Option `json:"selectedOption,omitempty"`
}

// Interviewer is the pluggable contract a wait.human handler calls.
type Interviewer interface {
	Ask(ctx context.Context, q Question) (Answer, error)
}

// InterviewerFunc adapts a function to the Interviewer interface.
type InterviewerFunc func(ctx context.Context, q Question) (Answer, error)

func (f InterviewerFunc) Ask(ctx context.Context, q Question) (Answer, error) { return f(ctx, q) }

var ErrNoPendingAnswer = errors.New("interview: no queued answer available")

// QueueInterviewer serves a pre-loaded FIFO of answers; asking when the
// queue is empty is an error.
type QueueInterviewer struct {
	mu      sync.Mutex
	answers []Answer
}

func NewQueueInterviewer(answers ...Answer) *QueueInterviewer {
	return &QueueInterviewer{answers: answers}
}

func (q *QueueInterviewer) Push(a Answer) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.answers = append(q.answers, a)
}

func (q *QueueInterviewer) Ask(_ context.Context, question Question) (Answer, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.answers) == 0 {
		return Answer{}, fmt.Errorf("%w (question %q had %d options)", ErrNoPendingAnswer, question.Text, len(question.Options))
	}
	next := q.answers[0]
	q.answers = q.answers[1:]
	return next, nil
}

// AutoApproveInterviewer always selects the first option.
type AutoApproveInterviewer struct{}

func (AutoApproveInterviewer) Ask(_ context.Context, q Question) (Answer, error) {
	if len(q.Options) == 0 {
		return Answer{}, fmt.Errorf("interview: question %q has no options to auto-approve", q.Text)
	}
	opt := q.Options[0]
	return Answer{Value: opt.Key, Text: opt.Label, SelectedOption: &opt}, nil
}

// CallbackInterviewer hands the question to a host-supplied function,
// letting an embedding application (CLI, test harness, agent loop) decide.
type CallbackInterviewer struct {
	Callback func(ctx context.Context, q Question) (Answer, error)
}

func (c *CallbackInterviewer) Ask(ctx context.Context, q Question) (Answer, error) {
	if c.Callback == nil {
		return Answer{}, errors.New("interview: callback interviewer has no callback configured")
	}
	return c.Callback(ctx, q)
}

// Pair records one question/answer round trip.
type Pair struct {
	Question Question
	Answer   Answer
	Err      error
}

// RecordingInterviewer wraps another interviewer and records every
// question/answer pair, useful for tests and audit trails.
type RecordingInterviewer struct {
	Inner Interviewer

	mu      sync.Mutex
	history []Pair
}

func NewRecordingInterviewer(inner Interviewer) *RecordingInterviewer {
	return &RecordingInterviewer{Inner: inner}
}

func (r *RecordingInterviewer) Ask(ctx context.Context, q Question) (Answer, error) {
	a, err := r.Inner.Ask(ctx, q)
	r.mu.Lock()
	r.history = append(r.history, Pair{Question: q, Answer: a, Err: err})
	r.mu.Unlock()
	return a, err
}

func (r *RecordingInterviewer) History() []Pair {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Pair, len(r.history))
	copy(out, r.history)
	return out
}

// WebInterviewer is a single-slot rendezvous: Ask blocks until a remote HTTP
// handler deposits an answer via Answer(), or the context is cancelled.
type WebInterviewer struct {
	mu      sync.Mutex
	pending map[string]*slot // nodeID -> slot
}

type slot struct {
	question Question
	answerCh chan Answer
}

func NewWebInterviewer() *WebInterviewer {
	return &WebInterviewer{pending: map[string]*slot{}}
}

func (w *WebInterviewer) Ask(ctx context.Context, q Question) (Answer, error) {
	s := &slot{question: q, answerCh: make(chan Answer, 1)}
	w.mu.Lock()
	w.pending[q.NodeID] = s
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		delete(w.pending, q.NodeID)
		w.mu.Unlock()
	}()

	select {
	case a := <-s.answerCh:
		return a, nil
	case <-ctx.Done():
		return Answer{}, ctx.Err()
	}
}

// Pending returns the question currently waiting for an answer on nodeID,
// if any — used by the HTTP control plane's GET /questions endpoint.
func (w *WebInterviewer) Pending(nodeID string) (Question, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	s, ok := w.pending[nodeID]
	if !ok {
		return Question{}, false
	}
	return s.question, true
}

// PendingAny returns any one pending question, if the caller doesn't know
// the node id up front (single-question-at-a-time pipelines).
func (w *WebInterviewer) PendingAny() (Question, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, s := range w.pending {
		return s.question, true
	}
	return Question{}, false
}

// Answer deposits an answer for the pending question on nodeID. Returns
// false if no question is pending for that node.
func (w *WebInterviewer) Answer(nodeID string, a Answer) bool {
	w.mu.Lock()
	s, ok := w.pending[nodeID]
	w.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case s.answerCh <- a:
		return true
	default:
		return false
	}
}

// OptionsFromLabels parses "[K] label" markers off a list of edge labels, in
// order, falling back to positional keys ("0", "1", ...) for labels with no
// leading marker.
func OptionsFromLabels(labels []string) []Option {
	opts := make([]Option, 0, len(labels))
	for i, label := range labels {
		key, text := splitOptionMarker(label)
		if key == "" {
			key = fmt.Sprintf("%d", i)
			text = label
		}
		opts = append(opts, Option{Key: key, Label: text, TargetEdgeIndex: i})
	}
	return opts
}

// splitOptionMarker parses a leading "[K] " marker, returning ("", label) if
// none is present.
func splitOptionMarker(label string) (key, text string) {
	label = strings.TrimSpace(label)
	if !strings.HasPrefix(label, "[") {
		return "", label
	}
	end := strings.Index(label, "]")
	if end < 0 {
		return "", label
	}
	key = strings.TrimSpace(label[1:end])
	text = strings.TrimSpace(label[end+1:])
	if key == "" {
		return "", label
	}
	return key, text
}
