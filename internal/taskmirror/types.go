package taskmirror

import (
	"encoding/json"
	"errors"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidInput   = errors.New("invalid input")
	ErrNotImplemented = errors.New("not implemented")
)

// Task statuses as reported by the authority.
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusBlocked    = "blocked"
)

// Task is a unit of tracked work mirrored from the authority. Tasks with an
// empty ParentID are roots; Children holds summaries one level deep.
type Task struct {
	ID               string  `json:"id"`
	ParentID         *string `json:"parent_id,omitempty"`
	Title            string  `json:"title"`
	Description      string  `json:"description,omitempty"`
	Status           string  `json:"status"`
	AssignedAgent    *string `json:"assigned_agent,omitempty"`
	Phase            *string `json:"phase,omitempty"`
	Result           *string `json:"result,omitempty"`
	AutoAccept       bool    `json:"auto_accept,omitempty"`
	Source           string  `json:"source,omitempty"`
	CreatedAt        string  `json:"created_at,omitempty"`
	UpdatedAt        string  `json:"updated_at,omitempty"`
	Children         []Task  `json:"children,omitempty"`
	PendingQuestions int     `json:"pending_questions,omitempty"`
}

// IsRoot reports whether the task belongs in the root collection.
func (t Task) IsRoot() bool {
	return t.ParentID == nil || *t.ParentID == ""
}

// Stats is the authority's flat aggregate record. It is always replaced
// whole, never merged field by field.
type Stats struct {
	Total            int `json:"total"`
	Pending          int `json:"pending"`
	InProgress       int `json:"in_progress"`
	Completed        int `json:"completed"`
	Failed           int `json:"failed"`
	Blocked          int `json:"blocked"`
	PendingQuestions int `json:"pending_questions"`
}

// Activity is one entry of the append-only, newest-first activity log.
type Activity struct {
	ID        int64   `json:"id"`
	TaskID    string  `json:"task_id"`
	EventType string  `json:"event_type"`
	Agent     *string `json:"agent,omitempty"`
	Message   string  `json:"message"`
	Metadata  string  `json:"metadata,omitempty"`
	CreatedAt string  `json:"created_at,omitempty"`
}

// Question is a mutable entry: Answer may be filled in after first arrival.
type Question struct {
	ID           string   `json:"id"`
	TaskID       string   `json:"task_id"`
	Agent        *string  `json:"agent,omitempty"`
	Question     string   `json:"question"`
	QuestionType string   `json:"question_type,omitempty"`
	Options      []string `json:"options,omitempty"`
	Context      *string  `json:"context,omitempty"`
	Answer       *string  `json:"answer,omitempty"`
	AnsweredAt   *string  `json:"answered_at,omitempty"`
	AutoAccepted bool     `json:"auto_accepted,omitempty"`
	CreatedAt    string   `json:"created_at,omitempty"`
}

// Answered reports whether the question has been answered.
func (q Question) Answered() bool {
	return q.Answer != nil
}

// Artifact is an auxiliary file registered against a task. Artifacts arrive
// only through fetches; there is no push type for them.
type Artifact struct {
	ID           string `json:"id"`
	TaskID       string `json:"task_id"`
	ArtifactType string `json:"artifact_type"`
	Label        string `json:"label"`
	FilePath     string `json:"file_path"`
	MimeType     string `json:"mime_type,omitempty"`
	Metadata     string `json:"metadata,omitempty"`
	CreatedAt    string `json:"created_at,omitempty"`
}

// ProcessStatus describes a worker process the authority runs for a task.
type ProcessStatus struct {
	Status   string `json:"status"`
	PID      int    `json:"pid,omitempty"`
	ExitCode *int   `json:"exit_code,omitempty"`
	Orphaned bool   `json:"orphaned,omitempty"`
}

// ServiceStatus describes one managed side-channel service.
type ServiceStatus struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Command string `json:"command,omitempty"`
	Cwd     string `json:"cwd,omitempty"`
	Port    *int   `json:"port,omitempty"`
	Status  string `json:"status"`
	PID     *int   `json:"pid,omitempty"`
	Uptime  *int64 `json:"uptime,omitempty"`
}

// Agent describes an available agent definition on the authority.
type Agent struct {
	Name        string `json:"name"`
	Filename    string `json:"filename"`
	Description string `json:"description,omitempty"`
}

// Envelope is the push-channel frame: a type tag plus an opaque payload.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// InitPayload is the full-state snapshot sent on every connect.
type InitPayload struct {
	Tasks    []Task          `json:"tasks"`
	Stats    Stats           `json:"stats"`
	Services []ServiceStatus `json:"services,omitempty"`
}
