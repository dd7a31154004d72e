package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// State is the lifecycle phase of a Task.
type State string

const (
	StateCreated    State = "created"
	StateRunning    State = "running"
	StateCancelling State = "cancelling"
	StateTerminated State = "terminated"
)

// Params configure a running task. Sample rates are advisory for the
// endpoints; the task itself never touches audio payloads.
type Params struct {
	AudioInSampleRate  int
	AudioOutSampleRate int
	AllowInterruptions bool
	EnableMetrics      bool
}

// ErrTerminated is returned by QueueFrame once the task has unwound.
var ErrTerminated = errors.New("pipeline task terminated")

const frameBuffer = 64

// Task is the cancellable unit of work wrapping one running pipeline.
// Frames queued from outside enter at the head of the chain, in FIFO order
// relative to each other, interleaved with but never reordering source audio.
type Task struct {
	pipeline *Pipeline
	params   Params

	inject chan Frame
	done   chan struct{}

	mu        sync.Mutex
	state     State
	cancelled bool
	cancel    context.CancelFunc

	cancelOnce sync.Once
}

func NewTask(p *Pipeline, params Params) *Task {
	return &Task{
		pipeline: p,
		params:   params,
		state:    StateCreated,
		inject:   make(chan Frame, frameBuffer),
		done:     make(chan struct{}),
	}
}

// Params returns the task's configuration.
func (t *Task) Params() Params {
	return t.params
}

// State reports the current lifecycle phase.
func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// QueueFrame injects a frame at the head of the chain. It blocks while the
// pipeline is saturated and fails once the task has terminated.
func (t *Task) QueueFrame(ctx context.Context, f Frame) error {
	select {
	case <-t.done:
		return ErrTerminated
	default:
	}
	select {
	case t.inject <- f:
		return nil
	case <-t.done:
		return ErrTerminated
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel requests cooperative termination. It is idempotent and
// one-directional: once requested it cannot be rescinded. Frames already
// queued may still be delivered before the stages unwind.
func (t *Task) Cancel() {
	t.cancelOnce.Do(func() {
		t.mu.Lock()
		t.cancelled = true
		if t.state == StateRunning {
			t.state = StateCancelling
		}
		cancel := t.cancel
		t.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	})
}

// Run wires the stage channels and drives every stage to completion. It
// returns the first stage failure, or nil when the task unwound through
// cancellation (its own or the parent context's).
func (t *Task) Run(ctx context.Context) error {
	t.mu.Lock()
	if t.state != StateCreated {
		state := t.state
		t.mu.Unlock()
		return fmt.Errorf("pipeline task already %s", state)
	}
	runCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.state = StateRunning
	preCancelled := t.cancelled
	if preCancelled {
		t.state = StateCancelling
	}
	t.mu.Unlock()

	defer func() {
		cancel()
		t.mu.Lock()
		t.state = StateTerminated
		t.mu.Unlock()
		close(t.done)
	}()

	if preCancelled {
		return nil
	}

	stages := t.pipeline.Stages()

	var (
		failMu   sync.Mutex
		firstErr error
	)
	fail := func(err error) {
		if err == nil || errors.Is(err, context.Canceled) {
			return
		}
		failMu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		failMu.Unlock()
		cancel()
	}

	var wg sync.WaitGroup
	runStage := func(s Stage, in <-chan Frame, out chan Frame) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if out != nil {
				defer close(out)
			}
			if err := s.Run(runCtx, in, out); err != nil {
				fail(fmt.Errorf("stage %s: %w", s.Name(), err))
			}
		}()
	}

	// Source output and external injections merge into the head of the chain
	// through a single goroutine, so injected frames keep their queue order
	// and never reorder audio already in flight.
	sourceOut := make(chan Frame, frameBuffer)
	headIn := make(chan Frame, frameBuffer)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(headIn)
		src := sourceOut
		forward := func(f Frame) bool {
			select {
			case headIn <- f:
				return true
			case <-runCtx.Done():
				return false
			}
		}
		for {
			if src == nil {
				select {
				case f := <-t.inject:
					if !forward(f) {
						return
					}
				case <-runCtx.Done():
					return
				}
				continue
			}
			select {
			case f, ok := <-src:
				if !ok {
					src = nil
					continue
				}
				if !forward(f) {
					return
				}
			case f := <-t.inject:
				if !forward(f) {
					return
				}
			case <-runCtx.Done():
				return
			}
		}
	}()

	runStage(stages[0], nil, sourceOut)

	in := (<-chan Frame)(headIn)
	for _, s := range stages[1 : len(stages)-1] {
		out := make(chan Frame, frameBuffer)
		runStage(s, in, out)
		in = out
	}

	// The sink gets a drained output channel so a misbehaving stage cannot
	// wedge the chain by writing downstream of the end.
	sinkOut := make(chan Frame, frameBuffer)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case _, ok := <-sinkOut:
				if !ok {
					return
				}
			case <-runCtx.Done():
				return
			}
		}
	}()
	runStage(stages[len(stages)-1], in, sinkOut)

	wg.Wait()

	failMu.Lock()
	defer failMu.Unlock()
	return firstErr
}
