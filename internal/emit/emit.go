// Package emit implements the pipeline runner's lifecycle event stream: a
// fan-out channel where each consumer gets its own ordered, lazily-iterated
// queue. Delivery is best-effort — a slow or absent consumer never blocks
// the runner.
package emit

import "sync"

// Kind enumerates the lifecycle events a runner emits.
type Kind string

const (
	PipelineStarted   Kind = "PIPELINE_STARTED"
	PipelineCompleted Kind = "PIPELINE_COMPLETED"
	PipelineFailed    Kind = "PIPELINE_FAILED"
	PipelineRestarted Kind = "PIPELINE_RESTARTED"
	StageStarted      Kind = "STAGE_STARTED"
	StageCompleted    Kind = "STAGE_COMPLETED"
	StageFailed       Kind = "STAGE_FAILED"
	StageRetrying     Kind = "STAGE_RETRYING"
	CheckpointSaved   Kind = "CHECKPOINT_SAVED"
	ToolHookPre       Kind = "TOOL_HOOK_PRE"
	ToolHookPost      Kind = "TOOL_HOOK_POST"
)

// Event is one lifecycle occurrence.
type Event struct {
	Kind       Kind                   `json:"kind"`
	Timestamp  int64                  `json:"timestamp"` // unix nanos, stamped by the caller
	PipelineID string                 `json:"pipelineId"`
	Data       map[string]interface{} `json:"data,omitempty"`
}

// bufferSize bounds each consumer's queue; Emit drops the oldest event
// rather than block the runner when a consumer falls behind.
const bufferSize = 256

// consumer is one registered subscriber: a slice-backed queue holding at
// most bufferSize events, guarded by mu and signalled through cond.
type consumer struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Event
	closed bool
}

func newConsumer() *consumer {
	c := &consumer{}
	c.cond = sync.NewCond(&c.mu)
	return c
}

func (c *consumer) push(e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if len(c.queue) >= bufferSize {
		c.queue = c.queue[1:] // drop oldest; best-effort delivery
	}
	c.queue = append(c.queue, e)
	c.cond.Signal()
}

// next blocks until an event is available or the consumer is closed. The
// ok=false return means the stream is done.
func (c *consumer) next() (Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.queue) == 0 && !c.closed {
		c.cond.Wait()
	}
	if len(c.queue) == 0 {
		return Event{}, false
	}
	e := c.queue[0]
	c.queue = c.queue[1:]
	return e, true
}

func (c *consumer) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.cond.Broadcast()
}

// Emitter is the fan-out channel. The zero value is ready to use; New
// returns one.
type Emitter struct {
	mu        sync.Mutex
	consumers []*consumer
	closed    bool
}

func New() *Emitter {
	return &Emitter{}
}

// Emit delivers e to every currently-registered consumer. Safe to call
// concurrently; never blocks on a slow consumer.
func (em *Emitter) Emit(e Event) {
	em.mu.Lock()
	defer em.mu.Unlock()
	if em.closed {
		return
	}
	for _, c := range em.consumers {
		c.push(e)
	}
}

// Stream is a lazy iterator over one consumer's events.
type Stream struct {
	c *consumer
}

// Next blocks for the next event. ok is false once the emitter has been
// closed and the consumer's backlog is drained.
func (s *Stream) Next() (Event, bool) {
	return s.c.next()
}

// Events registers a new consumer eagerly (so events emitted between this
// call and the first Next() call are not lost) and returns its lazy
// iterator.
func (em *Emitter) Events() *Stream {
	em.mu.Lock()
	defer em.mu.Unlock()
	c := newConsumer()
	if em.closed {
		c.closed = true
	} else {
		em.consumers = append(em.consumers, c)
	}
	return &Stream{c: c}
}

// Close signals every current and future-drained consumer to terminate and
// drops pending waiters. Further Emit calls are no-ops.
func (em *Emitter) Close() {
	em.mu.Lock()
	defer em.mu.Unlock()
	if em.closed {
		return
	}
	em.closed = true
	for _, c := range em.consumers {
		c.shutdown()
	}
}
