// Package session coordinates capture, transcription, persistence, and
// archiving for one recording session at a time.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ivanglie/scribe/internal/storage"
	"github.com/ivanglie/scribe/internal/transcribe"
)

var (
	// ErrSessionActive is returned when StartSession is called while a
	// session is already recording.
	ErrSessionActive = errors.New("a session is already active")

	// ErrNoSession is returned when StopSession is called with no active
	// session.
	ErrNoSession = errors.New("no active session")
)

// Capture abstracts the audio input device. Implementations deliver
// interleaved PCM buffers to the callback from their own goroutine.
type Capture interface {
	Start(onAudio func(samples []int16)) error
	Stop() error
	SampleRate() int
	Channels() int
	// Duration reports seconds of audio captured since Start.
	Duration() float64
	// Samples returns the full buffered recording for archiving.
	Samples() []int16
}

// Transcriber is the worker surface the controller drives.
type Transcriber interface {
	Start(sampleRate int, onChunk transcribe.ChunkFunc) error
	FeedAudio(samples []int16)
	Stop()
}

// Store is the persistence surface the controller needs.
type Store interface {
	CreateSession(storage.Session) error
	GetSession(id string) (storage.Session, error)
	AddChunk(storage.Chunk) error
	EndSession(id string, endTime time.Time, duration float64, audioFile string) error
	DeleteSession(id string) error
}

// Archiver persists session audio to disk.
type Archiver interface {
	SaveCompleteRecording(sessionID string, samples []int16, sampleRate, channels int, startTime time.Time) (string, error)
	SaveChunkAudio(sessionID string, index int, samples []float32, sampleRate int) (string, error)
}

// Observer receives session lifecycle notifications. All methods are called
// from controller or worker goroutines; implementations must be safe for
// concurrent use.
type Observer interface {
	ChunkTranscribed(sessionID string, chunk storage.Chunk)
	SessionEnded(sess storage.Session)
}

// Config tunes controller behavior.
type Config struct {
	ArchiveRecordings bool // write a complete WAV per session
	SaveChunkAudio    bool // write each transcribed window as chunk audio
}

// Controller owns the Idle -> Recording -> Finalizing -> Idle lifecycle.
// It holds only the identity of the current session; all reads go through
// the store.
type Controller struct {
	store    Store
	worker   Transcriber
	capture  Capture
	archiver Archiver
	observer Observer
	cfg      Config

	mu         sync.Mutex
	currentID  string
	startedAt  time.Time
	chunkIndex int
}

// NewController wires the controller's collaborators. observer may be nil.
func NewController(store Store, worker Transcriber, capture Capture, archiver Archiver, observer Observer, cfg Config) *Controller {
	return &Controller{
		store:    store,
		worker:   worker,
		capture:  capture,
		archiver: archiver,
		observer: observer,
		cfg:      cfg,
	}
}

// CurrentSessionID returns the id of the active session, or "" when idle.
func (c *Controller) CurrentSessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentID
}

// StartSession creates a session row, starts the transcription worker, and
// begins capture. A failure at any step rolls back the previous ones so no
// half-started session remains.
func (c *Controller) StartSession(title string) (storage.Session, error) {
	c.mu.Lock()
	if c.currentID != "" {
		c.mu.Unlock()
		return storage.Session{}, ErrSessionActive
	}
	c.mu.Unlock()

	now := time.Now().UTC()
	if title == "" {
		title = "Meeting " + now.Format("2006-01-02 15:04")
	}
	id := uuid.New().String()

	sess := storage.Session{ID: id, Title: title, StartTime: now}
	if err := c.store.CreateSession(sess); err != nil {
		return storage.Session{}, fmt.Errorf("creating session: %w", err)
	}

	if err := c.worker.Start(c.capture.SampleRate(), c.handleChunk(id)); err != nil {
		if delErr := c.store.DeleteSession(id); delErr != nil {
			slog.Error("rolling back session row", "session", id, "error", delErr)
		}
		return storage.Session{}, fmt.Errorf("starting transcription worker: %w", err)
	}

	if err := c.capture.Start(c.worker.FeedAudio); err != nil {
		c.worker.Stop()
		if delErr := c.store.DeleteSession(id); delErr != nil {
			slog.Error("rolling back session row", "session", id, "error", delErr)
		}
		return storage.Session{}, fmt.Errorf("starting audio capture: %w", err)
	}

	c.mu.Lock()
	c.currentID = id
	c.startedAt = now
	c.chunkIndex = 0
	c.mu.Unlock()

	slog.Info("session started", "session", id, "title", title)
	return c.store.GetSession(id)
}

// StopSession ends the active session: capture stops, the worker drains and
// flushes its partial window, the complete recording is archived, and the
// session row is finalized as completed.
func (c *Controller) StopSession() (storage.Session, error) {
	c.mu.Lock()
	id := c.currentID
	c.mu.Unlock()
	if id == "" {
		return storage.Session{}, ErrNoSession
	}

	if err := c.capture.Stop(); err != nil {
		slog.Warn("stopping audio capture", "session", id, "error", err)
	}

	// Drain before finalizing so every pending chunk lands in the store.
	c.worker.Stop()

	end := time.Now().UTC()
	duration := c.capture.Duration()
	if duration <= 0 {
		c.mu.Lock()
		duration = end.Sub(c.startedAt).Seconds()
		c.mu.Unlock()
	}

	var audioFile string
	if c.cfg.ArchiveRecordings && c.archiver != nil {
		samples := c.capture.Samples()
		if len(samples) > 0 {
			c.mu.Lock()
			start := c.startedAt
			c.mu.Unlock()
			name, err := c.archiver.SaveCompleteRecording(id, samples, c.capture.SampleRate(), c.capture.Channels(), start)
			if err != nil {
				slog.Error("archiving recording", "session", id, "error", err)
			} else {
				audioFile = name
			}
		}
	}

	if err := c.store.EndSession(id, end, duration, audioFile); err != nil {
		return storage.Session{}, fmt.Errorf("finalizing session: %w", err)
	}

	c.mu.Lock()
	c.currentID = ""
	c.mu.Unlock()

	sess, err := c.store.GetSession(id)
	if err != nil {
		return storage.Session{}, err
	}
	if c.observer != nil {
		c.observer.SessionEnded(sess)
	}
	slog.Info("session ended", "session", id, "duration_seconds", duration)
	return sess, nil
}

// handleChunk persists each transcribed window. Runs on the worker
// goroutine; persistence failures are logged so transcription continues.
func (c *Controller) handleChunk(sessionID string) transcribe.ChunkFunc {
	return func(text string, window []float32) {
		c.mu.Lock()
		index := c.chunkIndex
		c.chunkIndex++
		c.mu.Unlock()

		var audioFile string
		if c.cfg.SaveChunkAudio && c.archiver != nil {
			path, err := c.archiver.SaveChunkAudio(sessionID, index, window, transcribe.EngineSampleRate)
			if err != nil {
				slog.Warn("saving chunk audio", "session", sessionID, "chunk", index, "error", err)
			} else {
				audioFile = path
			}
		}

		chunk := storage.Chunk{
			SessionID: sessionID,
			Index:     index,
			Text:      text,
			Timestamp: time.Now().UTC(),
			AudioFile: audioFile,
		}
		if err := c.store.AddChunk(chunk); err != nil {
			slog.Error("persisting chunk", "session", sessionID, "chunk", index, "error", err)
			return
		}
		if c.observer != nil {
			c.observer.ChunkTranscribed(sessionID, chunk)
		}
	}
}
