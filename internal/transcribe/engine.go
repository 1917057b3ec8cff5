// Package transcribe turns raw capture audio into transcript chunks.
package transcribe

import "context"

// EngineSampleRate is the sample rate every engine receives. Audio captured
// at other rates is resampled before transcription.
const EngineSampleRate = 16000

// Segment is one recognized span of speech.
type Segment struct {
	StartSec float64
	EndSec   float64
	Text     string
}

// Options tune a single transcription call.
type Options struct {
	BeamSize  int
	VADFilter bool
}

// Engine abstracts a speech-to-text backend. Samples are mono float32 PCM
// in [-1, 1] at EngineSampleRate.
type Engine interface {
	Transcribe(ctx context.Context, samples []float32, opts Options) ([]Segment, error)
}
