package assistant

import (
	"github.com/antoniostano/chorus/internal/pipeline"
)

// Transport is the slice of the room collaborator the assembler needs.
type Transport interface {
	Input() pipeline.Stage
	Output() pipeline.Stage
}

// BuildPipeline assembles the three-stage chain: room audio in, the voice
// service, room audio out. The chain is stateless with respect to
// participants; presence-awareness lives in the Controller.
func BuildPipeline(t Transport, voiceStage pipeline.Stage) (*pipeline.Pipeline, error) {
	return pipeline.New(t.Input(), voiceStage, t.Output())
}
