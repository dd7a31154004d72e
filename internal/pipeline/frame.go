package pipeline

// Frame is one discrete unit of data moving through the stage chain.
type Frame interface {
	frame()
}

// AudioFrame carries one opaque chunk of PCM audio. The payload passes through
// the chain untouched; only the endpoints interpret it.
type AudioFrame struct {
	PCM        []byte
	SampleRate int
	Channels   int
}

func (AudioFrame) frame() {}

// TextFrame carries a synthetic announcement for the voice stage to speak.
type TextFrame struct {
	Text string
}

func (TextFrame) frame() {}
