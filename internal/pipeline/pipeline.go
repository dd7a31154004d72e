package pipeline

import (
	"context"
	"errors"
)

// Stage is one processing step in a strictly linear chain. A source ignores
// its input channel; a sink never writes to its output channel. Run must
// return promptly once ctx is cancelled or the input channel closes, and must
// not close either channel itself.
type Stage interface {
	Name() string
	Run(ctx context.Context, in <-chan Frame, out chan<- Frame) error
}

// Pipeline is an ordered chain of stages: source, processors, sink.
// No branching, no fan-out.
type Pipeline struct {
	stages []Stage
}

// New assembles a linear pipeline. At least a source and a sink are required.
func New(stages ...Stage) (*Pipeline, error) {
	if len(stages) < 2 {
		return nil, errors.New("pipeline needs at least a source and a sink")
	}
	for _, s := range stages {
		if s == nil {
			return nil, errors.New("pipeline stage must not be nil")
		}
	}
	return &Pipeline{stages: stages}, nil
}

// Stages returns the chain in order.
func (p *Pipeline) Stages() []Stage {
	out := make([]Stage, len(p.stages))
	copy(out, p.stages)
	return out
}
