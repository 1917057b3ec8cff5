package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

const captureReadSize = 8192

// PipeCapture reads interleaved little-endian 16-bit PCM from a named pipe
// or file, typically a FIFO fed by ffmpeg or arecord. The pipe is opened
// read-write so a missing writer never blocks Start, and Close unblocks the
// read loop on Stop.
type PipeCapture struct {
	path       string
	sampleRate int
	channels   int

	mu      sync.Mutex
	file    *os.File
	samples []int16
	done    chan struct{}
}

func NewPipeCapture(path string, sampleRate, channels int) *PipeCapture {
	return &PipeCapture{
		path:       path,
		sampleRate: sampleRate,
		channels:   channels,
	}
}

func (c *PipeCapture) SampleRate() int { return c.sampleRate }
func (c *PipeCapture) Channels() int   { return c.channels }

// Start opens the pipe and begins delivering PCM buffers to onAudio from a
// reader goroutine until Stop is called or the stream ends.
func (c *PipeCapture) Start(onAudio func(samples []int16)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.file != nil {
		return fmt.Errorf("capture already started")
	}

	f, err := os.OpenFile(c.path, os.O_RDWR, 0)
	if err != nil {
		// Regular files reject O_RDWR only on permission problems; retry
		// read-only so prerecorded PCM files work too.
		f, err = os.Open(c.path)
		if err != nil {
			return fmt.Errorf("opening audio pipe %s: %w", c.path, err)
		}
	}

	c.file = f
	c.samples = nil
	c.done = make(chan struct{})

	go c.readLoop(f, onAudio, c.done)
	return nil
}

func (c *PipeCapture) readLoop(f *os.File, onAudio func([]int16), done chan struct{}) {
	defer close(done)

	buf := make([]byte, captureReadSize)
	var carry []byte
	for {
		n, err := f.Read(buf)
		if n > 0 {
			data := append(carry, buf[:n]...)
			sampleCount := len(data) / 2
			carry = append([]byte(nil), data[sampleCount*2:]...)

			chunk := make([]int16, sampleCount)
			for i := 0; i < sampleCount; i++ {
				chunk[i] = int16(binary.LittleEndian.Uint16(data[i*2 : i*2+2]))
			}

			c.mu.Lock()
			c.samples = append(c.samples, chunk...)
			c.mu.Unlock()

			onAudio(chunk)
		}
		if err != nil {
			if err != io.EOF && !errors.Is(err, os.ErrClosed) {
				slog.Debug("capture read ended", "path", c.path, "error", err)
			}
			return
		}
	}
}

// Stop closes the pipe and waits for the reader goroutine to exit.
func (c *PipeCapture) Stop() error {
	c.mu.Lock()
	f := c.file
	done := c.done
	c.file = nil
	c.mu.Unlock()

	if f == nil {
		return nil
	}
	err := f.Close()
	<-done
	return err
}

// Duration reports seconds of audio captured since Start.
func (c *PipeCapture) Duration() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channels == 0 || c.sampleRate == 0 {
		return 0
	}
	frames := len(c.samples) / c.channels
	return float64(frames) / float64(c.sampleRate)
}

// Samples returns the full buffered recording for archiving.
func (c *PipeCapture) Samples() []int16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]int16, len(c.samples))
	copy(out, c.samples)
	return out
}
