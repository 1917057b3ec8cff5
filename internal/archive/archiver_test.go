package archive

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ivanglie/scribe/internal/audio"
)

func testSamples(n int) []int16 {
	s := make([]int16, n)
	for i := range s {
		s[i] = int16(i % 1000)
	}
	return s
}

func TestSaveCompleteRecording(t *testing.T) {
	dir := t.TempDir()
	a := New(dir, filepath.Join(dir, "audio"), 10)

	start := time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC)
	name, err := a.SaveCompleteRecording("0c9a7c41-dead-beef", testSamples(16000), 16000, 1, start)
	if err != nil {
		t.Fatalf("SaveCompleteRecording: %v", err)
	}

	want := "meeting_20260115_103000_0c9a7c41.wav"
	if name != want {
		t.Errorf("file name = %q, want %q", name, want)
	}

	samples, rate, channels, err := audio.ReadWAV(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("ReadWAV: %v", err)
	}
	if rate != 16000 || channels != 1 {
		t.Errorf("rate/channels = %d/%d, want 16000/1", rate, channels)
	}
	if len(samples) != 16000 {
		t.Errorf("got %d samples, want 16000", len(samples))
	}
}

func TestRotation_CapsRecordingCount(t *testing.T) {
	dir := t.TempDir()
	a := New(dir, filepath.Join(dir, "audio"), 3)

	// Seed old recordings with strictly increasing mtimes so eviction order
	// is deterministic.
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		name := filepath.Join(dir, "meeting_2026010"+string(rune('1'+i))+"_000000_old.wav")
		if err := os.WriteFile(name, []byte("stub"), 0o644); err != nil {
			t.Fatalf("seeding recording: %v", err)
		}
		mtime := base.Add(time.Duration(i) * time.Minute)
		if err := os.Chtimes(name, mtime, mtime); err != nil {
			t.Fatalf("setting mtime: %v", err)
		}
	}

	if _, err := a.SaveCompleteRecording("new-session", testSamples(100), 16000, 1, time.Now()); err != nil {
		t.Fatalf("SaveCompleteRecording: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	var recordings []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "meeting_") {
			recordings = append(recordings, e.Name())
		}
	}
	if len(recordings) != 3 {
		t.Fatalf("%d recordings after rotation, want 3: %v", len(recordings), recordings)
	}
	// The oldest seeded file must be gone.
	for _, name := range recordings {
		if name == "meeting_20260101_000000_old.wav" {
			t.Error("oldest recording survived rotation")
		}
	}
}

func TestRotation_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	a := New(dir, filepath.Join(dir, "audio"), 1)

	other := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(other, []byte("keep me"), 0o644); err != nil {
		t.Fatalf("writing file: %v", err)
	}

	if _, err := a.SaveCompleteRecording("s1", testSamples(10), 16000, 1, time.Now()); err != nil {
		t.Fatalf("SaveCompleteRecording: %v", err)
	}

	if _, err := os.Stat(other); err != nil {
		t.Errorf("unrelated file removed by rotation: %v", err)
	}
}

func TestRotation_Disabled(t *testing.T) {
	dir := t.TempDir()
	a := New(dir, filepath.Join(dir, "audio"), 0)

	for i := 0; i < 5; i++ {
		start := time.Date(2026, 1, 1, 0, 0, i, 0, time.UTC)
		if _, err := a.SaveCompleteRecording("sess", testSamples(10), 16000, 1, start); err != nil {
			t.Fatalf("SaveCompleteRecording %d: %v", i, err)
		}
	}

	entries, _ := os.ReadDir(dir)
	count := 0
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "meeting_") {
			count++
		}
	}
	if count != 5 {
		t.Errorf("%d recordings with rotation disabled, want 5", count)
	}
}

func TestSaveChunkAudio(t *testing.T) {
	dir := t.TempDir()
	a := New(filepath.Join(dir, "recordings"), filepath.Join(dir, "audio"), 10)

	samples := make([]float32, 16000)
	path, err := a.SaveChunkAudio("0c9a7c41-dead-beef", 3, samples, 16000)
	if err != nil {
		t.Fatalf("SaveChunkAudio: %v", err)
	}

	want := filepath.Join(dir, "audio", "0c9a7c41", "chunk_0003.wav")
	if path != want {
		t.Errorf("path = %q, want %q", path, want)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("chunk file missing: %v", err)
	}
}

func TestRemoveSessionAudio(t *testing.T) {
	dir := t.TempDir()
	a := New(filepath.Join(dir, "recordings"), filepath.Join(dir, "audio"), 10)

	if _, err := a.SaveChunkAudio("sess-to-remove", 0, make([]float32, 100), 16000); err != nil {
		t.Fatalf("SaveChunkAudio: %v", err)
	}
	if err := a.RemoveSessionAudio("sess-to-remove"); err != nil {
		t.Fatalf("RemoveSessionAudio: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "audio", "sess-to-")); !os.IsNotExist(err) {
		t.Errorf("session audio folder still present: %v", err)
	}

	// Removing again is a no-op.
	if err := a.RemoveSessionAudio("sess-to-remove"); err != nil {
		t.Errorf("second RemoveSessionAudio: %v", err)
	}
}
