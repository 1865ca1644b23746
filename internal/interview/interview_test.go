package interview

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestOptionsFromLabelsWithMarkers(t *testing.T) {
	opts := OptionsFromLabels([]string{"[A] Ship", "[R] Revise", "plain label"})
	if len(opts) != 3 {
		t.Fatalf("len(opts)=%d, want 3", len(opts))
	}
	if opts[0].Key != "A" || opts[0].Label != "Ship" {
		t.Fatalf("opts[0]=%+v, want Key=A Label=Ship", opts[0])
	}
	if opts[1].Key != "R" || opts[1].Label != "Revise" {
		t.Fatalf("opts[1]=%+v, want Key=R Label=Revise", opts[1])
	}
	if opts[2].Key != "2" || opts[2].Label != "plain label" {
		t.Fatalf("opts[2]=%+v, want positional key 2 and the label verbatim", opts[2])
	}
	for i, o := range opts {
		if o.TargetEdgeIndex != i {
			t.Fatalf("opts[%d].TargetEdgeIndex=%d, want %d", i, o.TargetEdgeIndex, i)
		}
	}
}

func TestQueueInterviewerServesFIFO(t *testing.T) {
	q := NewQueueInterviewer(Answer{Value: "first"}, Answer{Value: "second"})
	a1, err := q.Ask(context.Background(), Question{})
	if err != nil || a1.Value != "first" {
		t.Fatalf("Ask()=%+v,%v, want first,nil", a1, err)
	}
	a2, err := q.Ask(context.Background(), Question{})
	if err != nil || a2.Value != "second" {
		t.Fatalf("Ask()=%+v,%v, want second,nil", a2, err)
	}
	if _, err := q.Ask(context.Background(), Question{}); !errors.Is(err, ErrNoPendingAnswer) {
		t.Fatalf("expected ErrNoPendingAnswer on an empty queue, got %v", err)
	}
}

func TestQueueInterviewerPush(t *testing.T) {
	q := NewQueueInterviewer()
	q.Push(Answer{Value: "pushed"})
	a, err := q.Ask(context.Background(), Question{})
	if err != nil || a.Value != "pushed" {
		t.Fatalf("Ask()=%+v,%v, want pushed,nil", a, err)
	}
}

func TestAutoApproveInterviewerSelectsFirstOption(t *testing.T) {
	q := Question{Options: []Option{{Key: "A", Label: "Ship"}, {Key: "R", Label: "Revise"}}}
	a, err := AutoApproveInterviewer{}.Ask(context.Background(), q)
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if a.Value != "A" || a.SelectedOption == nil || a.SelectedOption.Key != "A" {
		t.Fatalf("Ask()=%+v, want first option selected", a)
	}
}

func TestAutoApproveInterviewerErrorsWithNoOptions(t *testing.T) {
	if _, err := (AutoApproveInterviewer{}).Ask(context.Background(), Question{}); err == nil {
		t.Fatal("expected an error when there are no options to auto-approve")
	}
}

func TestCallbackInterviewerRequiresCallback(t *testing.T) {
	c := &CallbackInterviewer{}
	if _, err := c.Ask(context.Background(), Question{}); err == nil {
		t.Fatal("expected an error for a callback interviewer with no callback set")
	}
}

func TestCallbackInterviewerDelegates(t *testing.T) {
	c := &CallbackInterviewer{Callback: func(ctx context.Context, q Question) (Answer, error) {
		return Answer{Value: q.Text}, nil
	}}
	a, err := c.Ask(context.Background(), Question{Text: "echoed"})
	if err != nil || a.Value != "echoed" {
		t.Fatalf("Ask()=%+v,%v, want echoed,nil", a, err)
	}
}

func TestRecordingInterviewerRecordsHistory(t *testing.T) {
	r := NewRecordingInterviewer(AutoApproveInterviewer{})
	q := Question{NodeID: "review", Options: []Option{{Key: "A", Label: "Ship"}}}
	if _, err := r.Ask(context.Background(), q); err != nil {
		t.Fatalf("Ask: %v", err)
	}
	hist := r.History()
	if len(hist) != 1 || hist[0].Question.NodeID != "review" {
		t.Fatalf("History()=%+v, want one entry for node review", hist)
	}
}

func TestWebInterviewerAskAndAnswer(t *testing.T) {
	w := NewWebInterviewer()
	done := make(chan Answer, 1)
	go func() {
		a, err := w.Ask(context.Background(), Question{NodeID: "review"})
		if err != nil {
			t.Errorf("Ask: %v", err)
			return
		}
		done <- a
	}()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, ok := w.Pending("review"); ok {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if _, ok := w.Pending("review"); !ok {
		t.Fatal("expected a pending question for node review")
	}
	if !w.Answer("review", Answer{Value: "A"}) {
		t.Fatal("Answer should succeed for a pending question")
	}

	select {
	case a := <-done:
		if a.Value != "A" {
			t.Fatalf("Ask returned %+v, want Value=A", a)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Ask to return")
	}

	if _, ok := w.Pending("review"); ok {
		t.Fatal("question should no longer be pending once answered")
	}
}

func TestWebInterviewerAnswerWithNoPendingQuestion(t *testing.T) {
	w := NewWebInterviewer()
	if w.Answer("missing", Answer{Value: "A"}) {
		t.Fatal("Answer should return false when nothing is pending for that node")
	}
}

func TestWebInterviewerAskRespectsContextCancellation(t *testing.T) {
	w := NewWebInterviewer()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := w.Ask(ctx, Question{NodeID: "review"}); err == nil {
		t.Fatal("expected an error when the context is already cancelled")
	}
}

func TestWebInterviewerPendingAny(t *testing.T) {
	w := NewWebInterviewer()
	if _, ok := w.PendingAny(); ok {
		t.Fatal("PendingAny should report false with nothing pending")
	}
	go func() { _, _ = w.Ask(context.Background(), Question{NodeID: "x"}) }()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, ok := w.PendingAny(); ok {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("timed out waiting for PendingAny to report the question")
}
