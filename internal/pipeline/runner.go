package pipeline

import (
	"context"
	"log"
)

// Runner drives a task to completion and surfaces terminal failure. It does
// not retry: a broken pipeline ends the session.
type Runner struct{}

func NewRunner() *Runner {
	return &Runner{}
}

// Run blocks until the task reaches terminated. A clean cancellation (room
// emptied, signal received) returns nil; stage failures are returned as-is.
func (r *Runner) Run(ctx context.Context, task *Task) error {
	log.Printf("runner: pipeline task starting")
	if err := task.Run(ctx); err != nil {
		log.Printf("runner: pipeline task failed: %v", err)
		return err
	}
	log.Printf("runner: pipeline task terminated")
	return nil
}
