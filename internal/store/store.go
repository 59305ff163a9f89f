// ABOUTME: Store interface and data types for console gateway persistence
// ABOUTME: Defines Turn, SessionSummary, Job structs and the Store interface

package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// Role constants for turn roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Job source constants. Managed jobs are owned by the internal registry and
// mirrored into the external scheduler; external jobs were created out-of-band
// and are never mutated by the synchronizer.
const (
	JobSourceManaged  = "managed"
	JobSourceExternal = "external"
)

// Turn represents a single message unit within a session.
// Timestamp is wall-clock seconds with fractional precision.
type Turn struct {
	Role      string
	Content   string
	Timestamp float64
	ToolName  string // For tool turns: name of the tool invoked
	ToolArgs  string // Serialized argument summary
	ToolRes   string // Result payload
	ToolOK    bool   // Success/failure indicator
}

// SessionSummary describes one session for listing purposes.
// Updated is the timestamp of the most recent turn.
type SessionSummary struct {
	Name     string
	Display  string
	Messages int
	Updated  float64
}

// Job represents a scheduled job definition in the internal registry
type Job struct {
	ID            string
	Schedule      string // Cron expression (5-field)
	Payload       string // Message processed through the engine on trigger
	Enabled       bool
	LastTriggered float64 // Zero if never triggered
	Source        string  // "managed" or "external"
}

// Store defines the interface for session and job persistence
type Store interface {
	// Sessions (append-only turn sequences)
	AppendTurn(ctx context.Context, session string, turn *Turn) error
	ListSessions(ctx context.Context, prefix string) ([]*SessionSummary, error)
	GetTurns(ctx context.Context, session string) ([]*Turn, error)
	DeleteSession(ctx context.Context, session string) error

	// Job registry
	SaveJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, id string) (*Job, error)
	ListJobs(ctx context.Context) ([]*Job, error)
	DeleteJob(ctx context.Context, id string) error
	MarkJobTriggered(ctx context.Context, id string, at float64) error

	// Close releases any resources held by the store
	Close() error
}
