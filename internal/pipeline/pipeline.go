// Package pipeline implements the per-call frame pipeline.
//
// A call runs as a linear chain of processors owned by a single [Task]. The
// task drains an injection inbox on one goroutine and walks each frame
// through the chain depth-first, which makes it the single writer: at most
// one frame is in flight between any two adjacent processors, and delivery
// order is guaranteed by construction rather than by locking.
//
// Frames travel downstream (telephony input → speech recognition → observers
// → response generation → speech synthesis → telephony output) or upstream.
// The upstream direction carries the barge-in [InterruptFrame]; when it
// reaches the head of the chain the task re-emits it downstream so that every
// buffering processor observes the interruption.
//
// Asynchronous work (timers, provider callbacks, background analysis)
// re-enters the pipeline through a [Handle], which funnels frames into the
// inbox instead of touching the chain directly.
package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Head is the injection origin for frames entering the chain from outside,
// such as media from the telephony read loop.
const Head = -1

// defaultInboxSize absorbs bursts of 20 ms telephony media frames without
// blocking the read loop.
const defaultInboxSize = 512

// State is the lifecycle state of a [Task].
type State int

const (
	// StateConstructing is the state between NewTask and the first frame.
	StateConstructing State = iota

	// StateRunning means the task is dispatching frames.
	StateRunning

	// StateDraining means an end frame is flushing through the chain.
	StateDraining

	// StateEnded means the task has stopped; injections are discarded.
	StateEnded
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateConstructing:
		return "constructing"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

type injection struct {
	from  int
	frame Frame
	dir   Direction
}

// Task owns one call's processor chain and runs it to completion.
type Task struct {
	procs    []Processor
	emitters []*Emitter
	inbox    chan injection
	done     chan struct{}
	log      *slog.Logger
	deadline time.Duration

	// ctx is the run context; set once at the top of Run and only read by
	// the dispatch goroutine.
	ctx context.Context

	mu        sync.Mutex
	state     State
	endReason string
	endSeen   bool
}

// Option configures a Task during construction.
type Option func(*Task)

// WithLogger sets the task's logger. Callers season it with the call
// identifier so every pipeline log line carries call_sid.
func WithLogger(log *slog.Logger) Option {
	return func(t *Task) {
		if log != nil {
			t.log = log
		}
	}
}

// WithDeadline bounds the call duration. When the deadline passes the task
// injects a graceful EndFrame (reason "hard_limit") so the post-call flow
// still runs; if the chain has not wound down at 1.2× the deadline the run
// context is cancelled outright.
func WithDeadline(d time.Duration) Option {
	return func(t *Task) { t.deadline = d }
}

// WithInboxSize overrides the injection inbox capacity.
func WithInboxSize(n int) Option {
	return func(t *Task) {
		if n > 0 {
			t.inbox = make(chan injection, n)
		}
	}
}

// NewTask builds a task over procs, ordered head (call input) to tail (call
// output). Processors implementing [Bindable] receive a [Handle] bound to
// their own chain position.
func NewTask(procs []Processor, opts ...Option) *Task {
	t := &Task{
		procs: procs,
		inbox: make(chan injection, defaultInboxSize),
		done:  make(chan struct{}),
		log:   slog.Default(),
		state: StateConstructing,
	}
	for _, o := range opts {
		o(t)
	}
	t.emitters = make([]*Emitter, len(procs))
	for i := range procs {
		t.emitters[i] = &Emitter{task: t, idx: i}
		if b, ok := procs[i].(Bindable); ok {
			b.Bind(&Handle{task: t, idx: i})
		}
	}
	return t
}

// State reports the task's lifecycle state.
func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// EndReason reports the reason carried by the end frame that stopped the
// task, or "" while the task is live.
func (t *Task) EndReason() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.endReason
}

// Done is closed when Run returns.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Inject queues a frame for dispatch from the given chain position. It is
// safe from any goroutine; the frame enters the chain in injection order on
// the task's dispatch goroutine. Injections after the task has ended are
// discarded.
func (t *Task) Inject(from int, frame Frame, dir Direction) {
	select {
	case t.inbox <- injection{from: from, frame: frame, dir: dir}:
	case <-t.done:
	}
}

// Run dispatches frames until an end or cancel frame has walked the chain,
// or ctx is cancelled. It returns nil on a graceful end and the context
// error on cancellation. Run must be called exactly once.
func (t *Task) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer close(t.done)
	t.ctx = ctx

	if t.deadline > 0 {
		soft := time.AfterFunc(t.deadline, func() {
			t.Inject(Head, EndFrame{Reason: "hard_limit"}, Downstream)
		})
		defer soft.Stop()
		hard := time.AfterFunc(t.deadline+t.deadline/5, cancel)
		defer hard.Stop()
	}

	for {
		select {
		case <-ctx.Done():
			t.setState(StateEnded)
			return ctx.Err()
		case in := <-t.inbox:
			if t.State() == StateConstructing {
				t.setState(StateRunning)
			}
			switch f := in.frame.(type) {
			case EndFrame:
				// End frames always drain from the head so every processor
				// flushes, regardless of where they were injected.
				t.drain(f)
				return nil
			case CancelFrame:
				t.log.Info("pipeline cancelled")
				t.dispatch(Head, f, Downstream)
				t.setState(StateEnded)
				return nil
			default:
				t.dispatch(in.from, in.frame, in.dir)
				// A processor emitted an end frame mid-walk; processors
				// upstream of it have not flushed yet, so drain from the
				// head. (Repeated EndFrames are no-ops by contract.)
				if reason, seen := t.takeEnd(); seen {
					t.drain(EndFrame{Reason: reason})
					return nil
				}
			}
		}
	}
}

func (t *Task) drain(f EndFrame) {
	t.mu.Lock()
	t.state = StateDraining
	t.endReason = f.Reason
	t.mu.Unlock()
	t.log.Info("pipeline draining", "reason", f.Reason)
	t.dispatch(Head, f, Downstream)
	t.setState(StateEnded)
}

// dispatch delivers frame to the processor adjacent to from in dir and lets
// the chain run depth-first from there. A processor error is logged and the
// frame continues past it, so one misbehaving stage degrades rather than
// stalls the call.
func (t *Task) dispatch(from int, frame Frame, dir Direction) {
	if ef, ok := frame.(EndFrame); ok {
		t.noteEnd(ef.Reason)
	}

	to := from + 1
	if dir == Upstream {
		to = from - 1
	}
	if to < 0 {
		// Upstream frames stop at the head; the interrupt is re-broadcast
		// downstream so buffering processors see it.
		if _, ok := frame.(InterruptFrame); ok {
			t.dispatch(Head, frame, Downstream)
		}
		return
	}
	if to >= len(t.procs) {
		// Past the tail: the output transport already consumed it.
		return
	}

	p := t.procs[to]
	if err := p.Process(t.ctx, frame, dir, t.emitters[to]); err != nil {
		t.log.Error("processor error",
			"processor", p.Name(),
			"frame", FrameName(frame),
			"dir", dir.String(),
			"err", err)
		t.dispatch(to, frame, dir)
	}
}

func (t *Task) setState(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

func (t *Task) noteEnd(reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.endSeen || t.state == StateDraining || t.state == StateEnded {
		return
	}
	t.endSeen = true
	t.endReason = reason
}

func (t *Task) takeEnd() (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.endSeen {
		return "", false
	}
	t.endSeen = false
	return t.endReason, true
}

// Handle lets a processor inject frames into a running task from outside a
// Process call. All injections funnel through the inbox, preserving the
// single-writer guarantee.
type Handle struct {
	task *Task
	idx  int
}

// InjectDownstream queues frame for downstream dispatch from this
// processor's position.
func (h *Handle) InjectDownstream(frame Frame) {
	h.task.Inject(h.idx, frame, Downstream)
}

// InjectUpstream queues frame for upstream dispatch from this processor's
// position.
func (h *Handle) InjectUpstream(frame Frame) {
	h.task.Inject(h.idx, frame, Upstream)
}

// After schedules frame for downstream injection once d elapses. The
// returned cancel stops the timer; cancelling after the frame fired is a
// no-op. The goodbye path uses this to end the call after a silence window
// and cancels it when the user speaks again.
func (h *Handle) After(d time.Duration, frame Frame) (cancel func()) {
	timer := time.AfterFunc(d, func() {
		h.InjectDownstream(frame)
	})
	return func() { timer.Stop() }
}
