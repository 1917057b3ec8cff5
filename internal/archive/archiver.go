// Package archive persists session audio to disk: one complete WAV per
// session in a rotated recordings folder, plus optional per-chunk segments.
package archive

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ivanglie/scribe/internal/audio"
)

const recordingPrefix = "meeting_"

// Archiver writes WAV files under a recordings directory (complete
// recordings, rotated) and an audio directory (per-chunk segments).
type Archiver struct {
	recordingsDir string
	audioDir      string
	maxRecordings int
}

// New creates an archiver. maxRecordings caps how many complete recordings
// are kept; zero or negative disables rotation.
func New(recordingsDir, audioDir string, maxRecordings int) *Archiver {
	return &Archiver{
		recordingsDir: recordingsDir,
		audioDir:      audioDir,
		maxRecordings: maxRecordings,
	}
}

// SaveCompleteRecording writes the full session audio as
// meeting_<timestamp>_<short id>.wav and returns the file name. Older
// recordings beyond the cap are evicted before writing, so the cap holds
// even if the write fails midway.
func (a *Archiver) SaveCompleteRecording(sessionID string, samples []int16, sampleRate, channels int, startTime time.Time) (string, error) {
	if err := os.MkdirAll(a.recordingsDir, 0o755); err != nil {
		return "", fmt.Errorf("creating recordings directory: %w", err)
	}

	a.evictOld()
	a.checkFreeSpace(len(samples) * 2)

	name := fmt.Sprintf("%s%s_%s.wav", recordingPrefix, startTime.Format("20060102_150405"), shortID(sessionID))
	path := filepath.Join(a.recordingsDir, name)
	if err := audio.WriteWAV(path, samples, sampleRate, channels); err != nil {
		return "", fmt.Errorf("writing recording: %w", err)
	}
	return name, nil
}

// SaveChunkAudio writes one transcribed window under a per-session subfolder
// as chunk_NNNN.wav and returns the absolute path.
func (a *Archiver) SaveChunkAudio(sessionID string, index int, samples []float32, sampleRate int) (string, error) {
	dir := filepath.Join(a.audioDir, shortID(sessionID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating chunk audio directory: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("chunk_%04d.wav", index))
	if err := audio.WriteWAV(path, audio.Float32ToInt16(samples), sampleRate, 1); err != nil {
		return "", fmt.Errorf("writing chunk audio: %w", err)
	}
	return path, nil
}

// RemoveSessionAudio deletes a session's chunk audio folder. Missing folders
// are not an error.
func (a *Archiver) RemoveSessionAudio(sessionID string) error {
	return os.RemoveAll(filepath.Join(a.audioDir, shortID(sessionID)))
}

// evictOld removes the oldest recordings so that after the next write at
// most maxRecordings files remain. Eviction failures are logged, not fatal.
func (a *Archiver) evictOld() {
	if a.maxRecordings <= 0 {
		return
	}

	entries, err := os.ReadDir(a.recordingsDir)
	if err != nil {
		slog.Warn("listing recordings for rotation", "error", err)
		return
	}

	type recording struct {
		name    string
		modTime time.Time
	}
	var recordings []recording
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), recordingPrefix) || !strings.HasSuffix(e.Name(), ".wav") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		recordings = append(recordings, recording{name: e.Name(), modTime: info.ModTime()})
	}

	excess := len(recordings) - a.maxRecordings + 1
	if excess <= 0 {
		return
	}

	sort.Slice(recordings, func(i, j int) bool {
		return recordings[i].modTime.Before(recordings[j].modTime)
	})
	for _, r := range recordings[:excess] {
		path := filepath.Join(a.recordingsDir, r.name)
		if err := os.Remove(path); err != nil {
			slog.Warn("evicting old recording", "file", r.name, "error", err)
			continue
		}
		slog.Info("evicted old recording", "file", r.name)
	}
}

// checkFreeSpace warns when the volume looks too small for the pending
// write. The write proceeds regardless; running out of space surfaces as a
// write error.
func (a *Archiver) checkFreeSpace(needed int) {
	free, ok := freeBytes(a.recordingsDir)
	if !ok {
		return
	}
	if free < uint64(needed)+wavHeaderSize {
		slog.Warn("low disk space for recording", "free_bytes", free, "needed_bytes", needed)
	}
}

const wavHeaderSize = 44

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
