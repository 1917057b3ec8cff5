package storage

import (
	"errors"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func createTestSession(t *testing.T, s *Store, id string) {
	t.Helper()
	sess := Session{
		ID:        id,
		Title:     "Meeting 2026-01-15 10:00",
		StartTime: time.Now().UTC(),
	}
	if err := s.CreateSession(sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
}

func TestMigrations_Applied(t *testing.T) {
	s := openTestStore(t)

	versions, err := s.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	want := []int{1, 2, 3, 4}
	if len(versions) != len(want) {
		t.Fatalf("applied %v migrations, want %v", versions, want)
	}
	for i, v := range versions {
		if v != want[i] {
			t.Errorf("migration %d = %d, want %d", i, v, want[i])
		}
	}
}

func TestMigrations_ReopenIsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	createTestSession(t, s, "sess-1")
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	defer s2.Close()

	versions, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(versions) != 4 {
		t.Errorf("applied migrations after reopen = %v, want 4 entries", versions)
	}
}

func TestMigrations_RecoversFromUnrecordedApply(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	// Simulate a crash between applying migration 2 and recording it: the
	// column exists but the version row is gone.
	if _, err := s.DB().Exec(`DELETE FROM schema_version WHERE version = 2`); err != nil {
		t.Fatalf("deleting version row: %v", err)
	}
	s.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen after partial apply: %v", err)
	}
	defer s2.Close()

	versions, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(versions) != 4 {
		t.Errorf("applied migrations = %v, want 4 entries", versions)
	}
}

func TestCreateAndGetSession(t *testing.T) {
	s := openTestStore(t)
	createTestSession(t, s, "sess-get")

	sess, err := s.GetSession("sess-get")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if sess.Status != StatusInProgress {
		t.Errorf("status = %q, want %q", sess.Status, StatusInProgress)
	}
	if sess.Transcript != "" {
		t.Errorf("new session transcript = %q, want empty", sess.Transcript)
	}
	if !sess.EndTime.IsZero() {
		t.Errorf("new session has end time %v", sess.EndTime)
	}

	if _, err := s.GetSession("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetSession(missing) = %v, want ErrNotFound", err)
	}
}

func TestAddChunk_ExtendsTranscript(t *testing.T) {
	s := openTestStore(t)
	createTestSession(t, s, "sess-chunks")

	texts := []string{"hello there", "second chunk", "third one"}
	for i, text := range texts {
		chunk := Chunk{
			SessionID: "sess-chunks",
			Index:     i,
			Text:      text,
			Timestamp: time.Now().UTC(),
		}
		if err := s.AddChunk(chunk); err != nil {
			t.Fatalf("AddChunk %d: %v", i, err)
		}
	}

	sess, err := s.GetSession("sess-chunks")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	want := "hello there second chunk third one"
	if sess.Transcript != want {
		t.Errorf("transcript = %q, want %q", sess.Transcript, want)
	}

	chunks, err := s.GetSessionChunks("sess-chunks")
	if err != nil {
		t.Fatalf("GetSessionChunks: %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	for i, c := range chunks {
		if c.Index != i {
			t.Errorf("chunk %d has index %d", i, c.Index)
		}
	}

	n, err := s.ChunkCount("sess-chunks")
	if err != nil {
		t.Fatalf("ChunkCount: %v", err)
	}
	if n != 3 {
		t.Errorf("ChunkCount = %d, want 3", n)
	}
}

func TestAddChunk_EmptyTextKeepsTranscript(t *testing.T) {
	s := openTestStore(t)
	createTestSession(t, s, "sess-empty")

	if err := s.AddChunk(Chunk{SessionID: "sess-empty", Index: 0, Text: "first", Timestamp: time.Now().UTC()}); err != nil {
		t.Fatalf("AddChunk: %v", err)
	}
	if err := s.AddChunk(Chunk{SessionID: "sess-empty", Index: 1, Text: "   ", Timestamp: time.Now().UTC()}); err != nil {
		t.Fatalf("AddChunk blank: %v", err)
	}

	sess, err := s.GetSession("sess-empty")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if sess.Transcript != "first" {
		t.Errorf("transcript = %q, want %q", sess.Transcript, "first")
	}
}

func TestAddChunk_MissingSession(t *testing.T) {
	s := openTestStore(t)

	err := s.AddChunk(Chunk{SessionID: "nope", Index: 0, Text: "x", Timestamp: time.Now().UTC()})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("AddChunk on missing session = %v, want ErrNotFound", err)
	}
}

func TestEndSession(t *testing.T) {
	s := openTestStore(t)
	createTestSession(t, s, "sess-end")

	end := time.Now().UTC()
	if err := s.EndSession("sess-end", end, 123.5, "meeting_20260115_sess-end.wav"); err != nil {
		t.Fatalf("EndSession: %v", err)
	}

	sess, err := s.GetSession("sess-end")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if sess.Status != StatusCompleted {
		t.Errorf("status = %q, want %q", sess.Status, StatusCompleted)
	}
	if sess.DurationSeconds != 123.5 {
		t.Errorf("duration = %v, want 123.5", sess.DurationSeconds)
	}
	if sess.AudioFile != "meeting_20260115_sess-end.wav" {
		t.Errorf("audio file = %q", sess.AudioFile)
	}

	if err := s.EndSession("missing", end, 0, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("EndSession(missing) = %v, want ErrNotFound", err)
	}
}

func TestCrashRecovery_MarksInterrupted(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	createTestSession(t, s, "sess-crashed")
	createTestSession(t, s, "sess-crashed-2")
	if err := s.EndSession("sess-crashed-2", time.Now().UTC(), 10, ""); err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	// No clean stop: close the handle with sess-crashed still in progress.
	s.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	sess, err := s2.GetSession("sess-crashed")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if sess.Status != StatusInterrupted {
		t.Errorf("crashed session status = %q, want %q", sess.Status, StatusInterrupted)
	}
	if sess.EndTime.IsZero() {
		t.Error("crashed session has no end time after recovery")
	}

	done, err := s2.GetSession("sess-crashed-2")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if done.Status != StatusCompleted {
		t.Errorf("completed session status = %q after recovery, want %q", done.Status, StatusCompleted)
	}
}

func TestDeleteSession_Cascades(t *testing.T) {
	s := openTestStore(t)
	createTestSession(t, s, "sess-del")

	for i := 0; i < 3; i++ {
		if err := s.AddChunk(Chunk{SessionID: "sess-del", Index: i, Text: "t", Timestamp: time.Now().UTC()}); err != nil {
			t.Fatalf("AddChunk: %v", err)
		}
	}
	in := Insight{
		ID:          "ins-1",
		SessionID:   "sess-del",
		Type:        InsightSummary,
		Content:     "a summary",
		Provider:    "ollama",
		Model:       "mistral-nemo",
		GeneratedAt: time.Now().UTC(),
	}
	if err := s.SaveInsight(in); err != nil {
		t.Fatalf("SaveInsight: %v", err)
	}

	if err := s.DeleteSession("sess-del"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}

	var chunks, insights int
	if err := s.DB().QueryRow(`SELECT COUNT(*) FROM chunks WHERE session_id = 'sess-del'`).Scan(&chunks); err != nil {
		t.Fatalf("counting chunks: %v", err)
	}
	if chunks != 0 {
		t.Errorf("%d chunk rows remain after delete", chunks)
	}
	if err := s.DB().QueryRow(`SELECT COUNT(*) FROM insights WHERE session_id = 'sess-del'`).Scan(&insights); err != nil {
		t.Fatalf("counting insights: %v", err)
	}
	if insights != 0 {
		t.Errorf("%d insight rows remain after delete", insights)
	}

	if err := s.DeleteSession("sess-del"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second DeleteSession = %v, want ErrNotFound", err)
	}
}

func TestUpdateSessionTitle(t *testing.T) {
	s := openTestStore(t)
	createTestSession(t, s, "sess-title")

	if err := s.UpdateSessionTitle("sess-title", "Sprint planning"); err != nil {
		t.Fatalf("UpdateSessionTitle: %v", err)
	}
	sess, err := s.GetSession("sess-title")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if sess.Title != "Sprint planning" {
		t.Errorf("title = %q", sess.Title)
	}

	if err := s.UpdateSessionTitle("missing", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateSessionTitle(missing) = %v, want ErrNotFound", err)
	}
}

func TestListSessions_Ordering(t *testing.T) {
	s := openTestStore(t)

	base := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"older", "newer"} {
		sess := Session{ID: id, Title: id, StartTime: base.Add(time.Duration(i) * time.Hour)}
		if err := s.CreateSession(sess); err != nil {
			t.Fatalf("CreateSession: %v", err)
		}
	}

	sessions, err := s.ListSessions(10, 0)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("got %d sessions, want 2", len(sessions))
	}
	if sessions[0].ID != "newer" || sessions[1].ID != "older" {
		t.Errorf("order = [%s, %s], want [newer, older]", sessions[0].ID, sessions[1].ID)
	}
}

func TestSaveInsight_Upsert(t *testing.T) {
	s := openTestStore(t)
	createTestSession(t, s, "sess-ins")

	first := Insight{
		ID:          "ins-a",
		SessionID:   "sess-ins",
		Type:        InsightSummary,
		Content:     "v1",
		GeneratedAt: time.Now().UTC(),
	}
	if err := s.SaveInsight(first); err != nil {
		t.Fatalf("SaveInsight: %v", err)
	}

	second := first
	second.ID = "ins-b"
	second.Content = "v2"
	if err := s.SaveInsight(second); err != nil {
		t.Fatalf("SaveInsight replace: %v", err)
	}

	got, err := s.GetInsight("sess-ins", InsightSummary, "")
	if err != nil {
		t.Fatalf("GetInsight: %v", err)
	}
	if got.Content != "v2" {
		t.Errorf("content = %q, want v2", got.Content)
	}

	insights, err := s.ListInsights("sess-ins")
	if err != nil {
		t.Fatalf("ListInsights: %v", err)
	}
	if len(insights) != 1 {
		t.Errorf("got %d insights after upsert, want 1", len(insights))
	}
}

func TestSaveInsight_CustomPromptsAreDistinct(t *testing.T) {
	s := openTestStore(t)
	createTestSession(t, s, "sess-custom")

	for i, prompt := range []string{"list risks", "list decisions"} {
		in := Insight{
			ID:           "ins-" + string(rune('a'+i)),
			SessionID:    "sess-custom",
			Type:         InsightCustom,
			Content:      "content",
			CustomPrompt: prompt,
			GeneratedAt:  time.Now().UTC(),
		}
		if err := s.SaveInsight(in); err != nil {
			t.Fatalf("SaveInsight %q: %v", prompt, err)
		}
	}

	insights, err := s.ListInsights("sess-custom")
	if err != nil {
		t.Fatalf("ListInsights: %v", err)
	}
	if len(insights) != 2 {
		t.Errorf("got %d insights, want 2 distinct custom prompts", len(insights))
	}

	if err := s.DeleteInsight("sess-custom", InsightCustom, "list risks"); err != nil {
		t.Fatalf("DeleteInsight: %v", err)
	}
	if _, err := s.GetInsight("sess-custom", InsightCustom, "list risks"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetInsight after delete = %v, want ErrNotFound", err)
	}
}
