package transcribe

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ivanglie/scribe/internal/audio"
)

// ErrAlreadyRunning is returned when Start is called on a running worker.
var ErrAlreadyRunning = errors.New("worker already running")

// ErrNoEngine is returned when Start is called without a speech engine.
var ErrNoEngine = errors.New("no speech engine configured")

// ChunkFunc receives each transcribed window: the joined segment text and
// the processed mono samples at EngineSampleRate that produced it.
type ChunkFunc func(text string, window []float32)

// Config tunes the worker. Zero values fall back to defaults.
type Config struct {
	Channels     int           // input channel count, default 1
	Window       time.Duration // accumulation window, default 30s
	QueueSize    int           // pending buffer cap, default 20
	BeamSize     int           // decoder beam width, default 5
	DisableVAD   bool          // voice activity filtering is on unless set
	PollInterval time.Duration // queue poll timeout, default 200ms
	StopTimeout  time.Duration // max wait for drain on Stop, default 10s
}

func (c *Config) applyDefaults() {
	if c.Channels <= 0 {
		c.Channels = 1
	}
	if c.Window <= 0 {
		c.Window = 30 * time.Second
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 20
	}
	if c.BeamSize <= 0 {
		c.BeamSize = 5
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 200 * time.Millisecond
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = 10 * time.Second
	}
}

// Worker accumulates capture buffers into fixed windows and transcribes each
// window on its own goroutine. Capture threads never block: when the queue
// is full, the incoming buffer is dropped.
type Worker struct {
	engine Engine
	cfg    Config

	sampleRate int
	onChunk    ChunkFunc

	running atomic.Bool
	stopped atomic.Bool
	queue   chan []int16
	done    chan struct{}
}

// NewWorker creates a worker around the given engine.
func NewWorker(engine Engine, cfg Config) *Worker {
	cfg.applyDefaults()
	return &Worker{engine: engine, cfg: cfg}
}

// Start launches the processing goroutine. sampleRate is the rate of the
// buffers that will be fed; onChunk is invoked once per transcribed window
// that produced non-empty text.
func (w *Worker) Start(sampleRate int, onChunk ChunkFunc) error {
	if w.engine == nil {
		return ErrNoEngine
	}
	if !w.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	w.sampleRate = sampleRate
	w.onChunk = onChunk
	w.stopped.Store(false)
	w.queue = make(chan []int16, w.cfg.QueueSize)
	w.done = make(chan struct{})
	go w.loop()
	return nil
}

// FeedAudio queues a buffer of interleaved PCM samples for transcription.
// The buffer is copied, so the caller may reuse it. Calls before Start or
// after Stop are ignored; a full queue drops the buffer.
func (w *Worker) FeedAudio(samples []int16) {
	if !w.running.Load() || w.stopped.Load() {
		return
	}
	buf := make([]int16, len(samples))
	copy(buf, samples)
	select {
	case w.queue <- buf:
	default:
		slog.Debug("audio queue full, dropping buffer", "samples", len(samples))
	}
}

// Stop drains pending audio, flushes any partial window, and waits for the
// processing goroutine to exit. Waiting is bounded; on timeout the goroutine
// is abandoned with a warning.
func (w *Worker) Stop() {
	if !w.running.Load() {
		return
	}
	w.stopped.Store(true)
	select {
	case <-w.done:
	case <-time.After(w.cfg.StopTimeout):
		slog.Warn("transcription worker did not drain in time", "timeout", w.cfg.StopTimeout)
	}
	w.running.Store(false)
}

func (w *Worker) loop() {
	defer close(w.done)

	windowFrames := int(w.cfg.Window.Seconds() * float64(w.sampleRate))
	var acc [][]int16
	var accFrames int

	for {
		select {
		case buf := <-w.queue:
			acc = append(acc, buf)
			accFrames += len(buf) / w.cfg.Channels
			if accFrames >= windowFrames {
				w.process(acc)
				acc, accFrames = nil, 0
			}
		case <-time.After(w.cfg.PollInterval):
			if !w.stopped.Load() {
				continue
			}
			if len(acc) > 0 {
				w.process(acc)
				acc, accFrames = nil, 0
			}
			if len(w.queue) == 0 {
				return
			}
		}
	}
}

// process converts one accumulated window and hands it to the engine.
// Engine failures affect only this window.
func (w *Worker) process(bufs [][]int16) {
	total := 0
	for _, b := range bufs {
		total += len(b)
	}
	joined := make([]int16, 0, total)
	for _, b := range bufs {
		joined = append(joined, b...)
	}

	samples := audio.Int16ToFloat32(joined)
	samples = audio.DownmixMono(samples, w.cfg.Channels)
	samples = audio.Resample(samples, w.sampleRate, EngineSampleRate)

	opts := Options{BeamSize: w.cfg.BeamSize, VADFilter: !w.cfg.DisableVAD}
	segments, err := w.engine.Transcribe(context.Background(), samples, opts)
	if err != nil {
		slog.Error("transcribing chunk", "error", err, "samples", len(samples))
		return
	}

	parts := make([]string, 0, len(segments))
	for _, seg := range segments {
		if t := strings.TrimSpace(seg.Text); t != "" {
			parts = append(parts, t)
		}
	}
	text := strings.Join(parts, " ")
	if text == "" {
		return
	}
	w.onChunk(text, samples)
}
