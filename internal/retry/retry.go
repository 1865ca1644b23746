// Package retry implements per-stage retry policy assembly and the retry
// loop with exponential backoff and jitter.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"time"

	"github.com/meshrun/meshrun/internal/flowctx"
	"github.com/meshrun/meshrun/internal/graph"
	"github.com/meshrun/meshrun/internal/handler"
)

// Policy is a fully-resolved retry policy for one stage execution.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Factor       float64
	Jitter       float64 // 0..1, fraction of the computed delay to perturb by
	ShouldRetry  func(err error) bool
}

// preset is a named, reusable backoff shape. maxAttempts here is the
// preset's own default attempt count before any node/graph override.
type preset struct {
	maxAttempts  int
	initialDelay time.Duration
	maxDelay     time.Duration
	factor       float64
	jitter       float64
}

var presets = map[string]preset{
	"standard": {maxAttempts: 3, initialDelay: 500 * time.Millisecond, maxDelay: 30 * time.Second, factor: 2.0, jitter: 0.5},
	"aggressive": {maxAttempts: 5, initialDelay: 200 * time.Millisecond, maxDelay: 10 * time.Second, factor: 2.0, jitter: 0.5},
	"patient":   {maxAttempts: 2, initialDelay: 2 * time.Second, maxDelay: 60 * time.Second, factor: 3.0, jitter: 0.25},
	"none":      {maxAttempts: 1, initialDelay: 0, maxDelay: 0, factor: 1.0, jitter: 0},
}

// defaultShouldRetry retries any non-nil error; handler-level control over
// retry-worthiness flows through the RETRY outcome status instead.
func defaultShouldRetry(err error) bool { return err != nil }

// PresetOverride replaces one named preset's shape, e.g. from a loaded
// config file. Attempts not set (zero) leave the preset's own default in
// place; a config loader should only populate the fields it read.
type PresetOverride struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Factor       float64
	Jitter       float64
}

// ApplyPresetOverrides replaces or adds named presets before any pipeline
// run starts. It is not safe to call concurrently with BuildPolicy.
func ApplyPresetOverrides(overrides map[string]PresetOverride) {
	for name, o := range overrides {
		base, ok := presets[name]
		if !ok {
			base = presets["standard"]
		}
		if o.MaxAttempts > 0 {
			base.maxAttempts = o.MaxAttempts
		}
		if o.InitialDelay > 0 {
			base.initialDelay = o.InitialDelay
		}
		if o.MaxDelay > 0 {
			base.maxDelay = o.MaxDelay
		}
		if o.Factor > 0 {
			base.factor = o.Factor
		}
		if o.Jitter > 0 {
			base.jitter = o.Jitter
		}
		presets[name] = base
	}
}

// BuildPolicy resolves a node's retry policy per §4.5: a named preset
// (default "standard"), overridden by node.max_retries, then
// graph.default_max_retry.
func BuildPolicy(n *graph.Node, g *graph.Graph) Policy {
	name := n.Attr("retry_policy", "standard")
	p, ok := presets[name]
	if !ok {
		p = presets["standard"]
	}
	maxAttempts := p.maxAttempts
	if mr, ok := n.Attrs.Get("max_retries"); ok {
		if iv, ok := mr.AsInt(); ok {
			maxAttempts = 1 + int(iv)
		}
	} else if mr, ok := g.Attrs.Get("default_max_retry"); ok {
		if iv, ok := mr.AsInt(); ok {
			maxAttempts = 1 + int(iv)
		}
	}
	return Policy{
		MaxAttempts:  maxAttempts,
		InitialDelay: p.initialDelay,
		MaxDelay:     p.maxDelay,
		Factor:       p.factor,
		Jitter:       p.jitter,
		ShouldRetry:  defaultShouldRetry,
	}
}

// DelayForAttempt computes delay = min(maxDelay, initialDelay * factor^(attempt-1)),
// perturbed by uniform jitter in [-jitter, +jitter] of the computed delay.
// rng may be nil, in which case no jitter is applied (deterministic, for
// tests).
func DelayForAttempt(attempt int, p Policy, rng *rand.Rand) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := float64(p.InitialDelay) * math.Pow(p.Factor, float64(attempt-1))
	if p.MaxDelay > 0 && base > float64(p.MaxDelay) {
		base = float64(p.MaxDelay)
	}
	if rng != nil && p.Jitter > 0 {
		perturb := (rng.Float64()*2 - 1) * p.Jitter
		base = base * (1 + perturb)
		if base < 0 {
			base = 0
		}
	}
	return time.Duration(base)
}

// Result is what the retry loop returns once it stops retrying.
type Result struct {
	Outcome  flowctx.Outcome
	Attempts int
}

// Run executes h under the retry policy, sleeping between attempts per
// DelayForAttempt, honoring ctx cancellation between attempts.
func Run(ctx context.Context, p Policy, rng *rand.Rand, n *graph.Node, h handler.Handler, exec *handler.Execution, sleep func(time.Duration)) Result {
	if sleep == nil {
		sleep = func(d time.Duration) { time.Sleep(d) }
	}
	skipRetry := false
	if sr, ok := h.(handler.SingleExecutionHandler); ok {
		skipRetry = sr.SkipRetry()
	}
	maxAttempts := p.MaxAttempts
	if skipRetry {
		maxAttempts = 1
	}

	allowPartial := n.AttrBool("allow_partial", false)
	retryCountKey := "internal.retry_count." + n.ID

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Result{Outcome: flowctx.Fail(fmt.Sprintf("cancelled: %v", err)), Attempts: attempt - 1}
		}

		outcome, err := h.Execute(ctx, exec)
		if err != nil {
			if p.ShouldRetry != nil && p.ShouldRetry(err) && attempt < maxAttempts {
				setRetryCount(exec, retryCountKey, attempt)
				sleep(DelayForAttempt(attempt, p, rng))
				continue
			}
			return Result{Outcome: flowctx.Fail(err.Error()), Attempts: attempt}
		}

		switch outcome.Status {
		case flowctx.StatusSuccess, flowctx.StatusPartialSuccess:
			clearRetryCount(exec, retryCountKey)
			return Result{Outcome: outcome, Attempts: attempt}
		case flowctx.StatusRetry:
			if attempt < maxAttempts {
				setRetryCount(exec, retryCountKey, attempt)
				sleep(DelayForAttempt(attempt, p, rng))
				continue
			}
			if allowPartial {
				outcome.Status = flowctx.StatusPartialSuccess
				outcome.Notes = joinNotes(outcome.Notes, "retries exhausted, partial accepted")
				clearRetryCount(exec, retryCountKey)
				return Result{Outcome: outcome, Attempts: attempt}
			}
			outcome.Status = flowctx.StatusFail
			if outcome.FailureReason == "" {
				outcome.FailureReason = "max retries exceeded"
			}
			return Result{Outcome: outcome, Attempts: attempt}
		case flowctx.StatusFail:
			return Result{Outcome: outcome, Attempts: attempt}
		default:
			return Result{Outcome: outcome, Attempts: attempt}
		}
	}
	return Result{Outcome: flowctx.Fail("retry loop exited without a terminal outcome"), Attempts: maxAttempts}
}

// setRetryCount and clearRetryCount implement §4.5's internal.retry_count.{id}
// bookkeeping: recorded on every RETRY before the backoff sleep, cleared once
// the stage lands on SUCCESS or PARTIAL_SUCCESS.
func setRetryCount(exec *handler.Execution, key string, attempt int) {
	if exec == nil || exec.Context == nil {
		return
	}
	exec.Context.Set(key, strconv.Itoa(attempt))
}

func clearRetryCount(exec *handler.Execution, key string) {
	if exec == nil || exec.Context == nil {
		return
	}
	exec.Context.Delete(key)
}

func joinNotes(existing, add string) string {
	if existing == "" {
		return add
	}
	return existing + "; " + add
}
