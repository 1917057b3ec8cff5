package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Session status values.
const (
	StatusInProgress  = "in_progress"
	StatusCompleted   = "completed"
	StatusInterrupted = "interrupted"
)

// Insight types.
const (
	InsightSummary     = "summary"
	InsightActionItems = "action_items"
	InsightCustom      = "custom"
)

type Session struct {
	ID              string
	Title           string
	StartTime       time.Time
	EndTime         time.Time // zero when still in progress
	DurationSeconds float64
	Transcript      string
	Status          string // "in_progress", "completed", "interrupted"
	AudioFile       string
	CreatedAt       time.Time
}

type Chunk struct {
	ID        int64
	SessionID string
	Index     int
	Text      string
	Timestamp time.Time
	AudioFile string
}

type Insight struct {
	ID           string
	SessionID    string
	Type         string // "summary", "action_items", "custom"
	Content      string
	CustomPrompt string // empty unless Type is "custom"
	Provider     string
	Model        string
	GeneratedAt  time.Time
}
