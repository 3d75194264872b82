package pipeline

import "context"

// Processor is one stage of a call pipeline. A processor receives frames one
// at a time, transforms or reacts to them, and emits zero or more frames to
// its neighbours through the [Emitter].
//
// Frames do not continue past a processor on their own: pass-through is
// explicit via out.Forward(frame, dir). A processor that returns without
// emitting swallows the frame.
//
// Process runs on the task's single dispatch goroutine, so a processor needs
// no locking for state that only Process touches. Long or blocking work must
// run in a background goroutine and re-enter the pipeline through a [Handle].
type Processor interface {
	// Name identifies the processor in logs.
	Name() string

	// Process handles one frame travelling in dir.
	Process(ctx context.Context, frame Frame, dir Direction, out *Emitter) error
}

// Bindable is implemented by processors that inject frames from outside a
// Process call, from timers or provider callbacks for example. The task
// binds a [Handle] to each such processor during construction.
type Bindable interface {
	Bind(h *Handle)
}

// Emitter routes frames from one processor to its neighbours. Delivery is
// synchronous and depth-first: the emitted frame is fully processed by the
// rest of the chain before the emitting call returns.
type Emitter struct {
	task *Task
	idx  int
}

// Forward sends frame to the adjacent processor in dir. This is the explicit
// pass-through used by processors that let a frame continue unchanged.
func (e *Emitter) Forward(frame Frame, dir Direction) {
	e.task.dispatch(e.idx, frame, dir)
}

// Downstream sends frame towards the call output.
func (e *Emitter) Downstream(frame Frame) {
	e.task.dispatch(e.idx, frame, Downstream)
}

// Upstream sends frame towards the call input.
func (e *Emitter) Upstream(frame Frame) {
	e.task.dispatch(e.idx, frame, Upstream)
}
