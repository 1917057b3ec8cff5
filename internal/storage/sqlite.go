package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database with methods for sessions, chunks, and insights.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir, runs pending
// migrations, and marks sessions left in progress by a previous crash as
// interrupted. Pass ":memory:" as dataDir for an in-memory database
// (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "scribe.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	// Chunk and insight rows must go away with their session.
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	recovered, err := s.recoverInterrupted()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("recovering interrupted sessions: %w", err)
	}
	if recovered > 0 {
		slog.Warn("marked crashed sessions as interrupted", "count", recovered)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying database handle for tests and diagnostics.
func (s *Store) DB() *sql.DB {
	return s.db
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			// A crash between applying a migration and recording it leaves
			// the schema change in place without a version row. Treat the
			// re-run as applied rather than failing startup.
			if !isAlreadyApplied(err) {
				return fmt.Errorf("applying migration %d: %w", version, err)
			}
			if _, err := s.db.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
				return fmt.Errorf("recording migration %d: %w", version, err)
			}
			continue
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func isAlreadyApplied(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "duplicate column name") || strings.Contains(msg, "already exists")
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// recoverInterrupted marks sessions left in progress by a previous run as
// interrupted and returns how many were recovered.
func (s *Store) recoverInterrupted() (int, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(
		`UPDATE sessions SET status = ?, end_time = ? WHERE status = ?`,
		StatusInterrupted, now, StatusInProgress,
	)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// --- Sessions ---

func (s *Store) CreateSession(sess Session) error {
	_, err := s.db.Exec(`
		INSERT INTO sessions (id, title, start_time, duration_seconds, transcript, status, created_at)
		VALUES (?, ?, ?, 0, '', ?, ?)`,
		sess.ID, sess.Title, sess.StartTime.UTC().Format(time.RFC3339),
		StatusInProgress, time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

const sessionColumns = `id, title, start_time, end_time, duration_seconds, transcript, status, audio_file, created_at`

func scanSession(row interface{ Scan(...any) error }) (Session, error) {
	var sess Session
	var startTime, createdAt string
	var endTime, audioFile sql.NullString
	err := row.Scan(&sess.ID, &sess.Title, &startTime, &endTime,
		&sess.DurationSeconds, &sess.Transcript, &sess.Status, &audioFile, &createdAt)
	if err == sql.ErrNoRows {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, err
	}
	if sess.StartTime, err = time.Parse(time.RFC3339, startTime); err != nil {
		return Session{}, fmt.Errorf("parsing start_time: %w", err)
	}
	if endTime.Valid && endTime.String != "" {
		if sess.EndTime, err = time.Parse(time.RFC3339, endTime.String); err != nil {
			return Session{}, fmt.Errorf("parsing end_time: %w", err)
		}
	}
	sess.AudioFile = audioFile.String
	if sess.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Session{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return sess, nil
}

func (s *Store) GetSession(id string) (Session, error) {
	row := s.db.QueryRow(`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

func (s *Store) ListSessions(limit, offset int) ([]Session, error) {
	rows, err := s.db.Query(`
		SELECT `+sessionColumns+` FROM sessions
		ORDER BY start_time DESC LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, sess)
	}
	return results, rows.Err()
}

// EndSession finalizes a session as completed.
func (s *Store) EndSession(id string, endTime time.Time, duration float64, audioFile string) error {
	return s.finalize(id, StatusCompleted, endTime, duration, audioFile)
}

// MarkInterrupted finalizes a session as interrupted.
func (s *Store) MarkInterrupted(id string, endTime time.Time, duration float64) error {
	return s.finalize(id, StatusInterrupted, endTime, duration, "")
}

func (s *Store) finalize(id, status string, endTime time.Time, duration float64, audioFile string) error {
	var audio any
	if audioFile != "" {
		audio = audioFile
	}
	res, err := s.db.Exec(`
		UPDATE sessions SET status = ?, end_time = ?, duration_seconds = ?, audio_file = COALESCE(?, audio_file)
		WHERE id = ?`,
		status, endTime.UTC().Format(time.RFC3339), duration, audio, id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) UpdateSessionTitle(id, title string) error {
	res, err := s.db.Exec(`UPDATE sessions SET title = ? WHERE id = ?`, title, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteSession removes a session. Chunk and insight rows cascade.
func (s *Store) DeleteSession(id string) error {
	res, err := s.db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Chunks ---

// AddChunk inserts a chunk row and extends the parent session's transcript in
// a single transaction, so the two can never diverge.
func (s *Store) AddChunk(c Chunk) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning chunk transaction: %w", err)
	}
	defer tx.Rollback()

	var transcript string
	err = tx.QueryRow(`SELECT transcript FROM sessions WHERE id = ?`, c.SessionID).Scan(&transcript)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	var audio any
	if c.AudioFile != "" {
		audio = c.AudioFile
	}
	if _, err := tx.Exec(`
		INSERT INTO chunks (session_id, chunk_index, text, timestamp, audio_file)
		VALUES (?, ?, ?, ?, ?)`,
		c.SessionID, c.Index, c.Text, c.Timestamp.UTC().Format(time.RFC3339), audio,
	); err != nil {
		return fmt.Errorf("inserting chunk: %w", err)
	}

	if text := strings.TrimSpace(c.Text); text != "" {
		if transcript == "" {
			transcript = text
		} else {
			transcript = transcript + " " + text
		}
		if _, err := tx.Exec(`UPDATE sessions SET transcript = ? WHERE id = ?`, transcript, c.SessionID); err != nil {
			return fmt.Errorf("updating transcript: %w", err)
		}
	}

	return tx.Commit()
}

func (s *Store) GetSessionChunks(sessionID string) ([]Chunk, error) {
	rows, err := s.db.Query(`
		SELECT id, session_id, chunk_index, text, timestamp, audio_file
		FROM chunks WHERE session_id = ? ORDER BY chunk_index ASC`, sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Chunk
	for rows.Next() {
		var c Chunk
		var timestamp string
		var audioFile sql.NullString
		if err := rows.Scan(&c.ID, &c.SessionID, &c.Index, &c.Text, &timestamp, &audioFile); err != nil {
			return nil, err
		}
		if c.Timestamp, err = time.Parse(time.RFC3339, timestamp); err != nil {
			return nil, fmt.Errorf("parsing chunk timestamp: %w", err)
		}
		c.AudioFile = audioFile.String
		results = append(results, c)
	}
	return results, rows.Err()
}

func (s *Store) ChunkCount(sessionID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM chunks WHERE session_id = ?`, sessionID).Scan(&n)
	return n, err
}

// --- Insights ---

// SaveInsight inserts or replaces an insight. At most one row exists per
// (session, type, custom prompt) combination.
func (s *Store) SaveInsight(in Insight) error {
	var prompt any
	if in.CustomPrompt != "" {
		prompt = in.CustomPrompt
	}
	_, err := s.db.Exec(`
		INSERT INTO insights (id, session_id, insight_type, content, custom_prompt, provider, model, generated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, insight_type, COALESCE(custom_prompt, '')) DO UPDATE SET
			content = excluded.content,
			provider = excluded.provider,
			model = excluded.model,
			generated_at = excluded.generated_at`,
		in.ID, in.SessionID, in.Type, in.Content, prompt, in.Provider, in.Model,
		in.GeneratedAt.UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetInsight(sessionID, insightType, customPrompt string) (Insight, error) {
	row := s.db.QueryRow(`
		SELECT id, session_id, insight_type, content, custom_prompt, provider, model, generated_at
		FROM insights
		WHERE session_id = ? AND insight_type = ? AND COALESCE(custom_prompt, '') = ?`,
		sessionID, insightType, customPrompt,
	)
	return scanInsight(row)
}

func (s *Store) ListInsights(sessionID string) ([]Insight, error) {
	rows, err := s.db.Query(`
		SELECT id, session_id, insight_type, content, custom_prompt, provider, model, generated_at
		FROM insights WHERE session_id = ? ORDER BY generated_at ASC`, sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Insight
	for rows.Next() {
		in, err := scanInsight(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, in)
	}
	return results, rows.Err()
}

func (s *Store) DeleteInsight(sessionID, insightType, customPrompt string) error {
	res, err := s.db.Exec(`
		DELETE FROM insights
		WHERE session_id = ? AND insight_type = ? AND COALESCE(custom_prompt, '') = ?`,
		sessionID, insightType, customPrompt,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanInsight(row interface{ Scan(...any) error }) (Insight, error) {
	var in Insight
	var generatedAt string
	var prompt, provider, model sql.NullString
	err := row.Scan(&in.ID, &in.SessionID, &in.Type, &in.Content, &prompt, &provider, &model, &generatedAt)
	if err == sql.ErrNoRows {
		return Insight{}, ErrNotFound
	}
	if err != nil {
		return Insight{}, err
	}
	in.CustomPrompt = prompt.String
	in.Provider = provider.String
	in.Model = model.String
	if in.GeneratedAt, err = time.Parse(time.RFC3339, generatedAt); err != nil {
		return Insight{}, fmt.Errorf("parsing generated_at: %w", err)
	}
	return in, nil
}
