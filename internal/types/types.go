package types

import (
	"encoding/json"
	"time"
)

// Document is a schemaless record as stored in a remote collection.
// Every document carries its server-assigned ID in the "id" field.
type Document map[string]any

// ID returns the document's identifier, or "" when absent.
func (d Document) ID() string {
	id, _ := d["id"].(string)
	return id
}

// Version returns the document's optimistic-concurrency counter, or 0 when absent.
func (d Document) Version() int64 {
	switch v := d["version"].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}

// Clone returns a shallow copy of the document.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// ActionKind discriminates the mutation kinds an offline action can carry.
type ActionKind string

const (
	ActionCreate ActionKind = "create"
	ActionUpdate ActionKind = "update"
	ActionDelete ActionKind = "delete"
)

// QueuedAction is a mutation deferred for later replay.
//
// Kind is the tag of the union: create carries a full document payload,
// update carries a patch plus the target DocumentID, delete carries only
// the target DocumentID.
type QueuedAction struct {
	ID         string     `json:"id"`
	Kind       ActionKind `json:"kind"`
	Collection string     `json:"collection"`
	DocumentID string     `json:"document_id,omitempty"`
	Payload    Document   `json:"payload,omitempty"`
	EnqueuedAt time.Time  `json:"enqueued_at"`
	RetryCount int        `json:"retry_count"`
}

// TaskStatus represents the lifecycle state of a task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
)

// TaskPriority represents the urgency of a task.
type TaskPriority string

const (
	PriorityLow    TaskPriority = "low"
	PriorityMedium TaskPriority = "medium"
	PriorityHigh   TaskPriority = "high"
)

// Task is a group-owned versioned to-do item.
//
// Version is incremented by the server on every confirmed update. A client
// update must carry the version it observed; a mismatch at apply time is a
// conflict and the update is rejected.
type Task struct {
	ID               string       `json:"id"`
	GroupID          string       `json:"group_id"`
	AssigneeID       string       `json:"assignee_id,omitempty"`
	CreatorID        string       `json:"creator_id"`
	Title            string       `json:"title"`
	Description      string       `json:"description,omitempty"`
	Status           TaskStatus   `json:"status"`
	Priority         TaskPriority `json:"priority"`
	Category         string       `json:"category,omitempty"`
	DueDate          *time.Time   `json:"due_date,omitempty"`
	Tags             []string     `json:"tags"`
	Watchers         []string     `json:"watchers"`
	MentionedUserIDs []string     `json:"mentioned_user_ids"`
	Version          int64        `json:"version"`
	CompletedAt      *time.Time   `json:"completed_at,omitempty"`
	CompletedBy      string       `json:"completed_by,omitempty"`
	ArchivedAt       *time.Time   `json:"archived_at,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

// PointType classifies a ledger entry. The sign of an entry's effect on the
// aggregate total is determined by its type, never by the Amount field.
type PointType string

const (
	PointEarned       PointType = "earned"
	PointDeducted     PointType = "deducted"
	PointBonus        PointType = "bonus"
	PointPenalty      PointType = "penalty"
	PointManualAdd    PointType = "manual_add"
	PointManualDeduct PointType = "manual_deduct"
)

// Additive reports whether entries of this type add to the aggregate total.
func (t PointType) Additive() bool {
	switch t {
	case PointEarned, PointBonus, PointManualAdd:
		return true
	default:
		return false
	}
}

// PointHistoryEntry is a pending-until-approved record of a point-value change.
//
// An entry is created unapproved. A finalized entry (ApprovedBy set) is
// terminal: approved entries are immutable except for amount correction,
// rejected entries cannot be re-approved.
type PointHistoryEntry struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	GroupID     string     `json:"group_id"`
	Type        PointType  `json:"type"`
	Amount      int64      `json:"amount"`
	Reason      string     `json:"reason"`
	TaskID      string     `json:"task_id,omitempty"`
	TaskTitle   string     `json:"task_title,omitempty"`
	Description string     `json:"description,omitempty"`
	IsApproved  bool       `json:"is_approved"`
	ApprovedAt  *time.Time `json:"approved_at,omitempty"`
	ApprovedBy  string     `json:"approved_by,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Finalized reports whether the entry has been approved or rejected.
func (e PointHistoryEntry) Finalized() bool {
	return e.ApprovedBy != ""
}

// PointStats is the derived per-(user, group) aggregate. It is recomputed
// wholesale from approved entries and overwritten, never updated incrementally.
type PointStats struct {
	UserID         string    `json:"user_id"`
	GroupID        string    `json:"group_id"`
	TotalPoints    int64     `json:"total_points"`
	EarnedPoints   int64     `json:"earned_points"`
	DeductedPoints int64     `json:"deducted_points"`
	BonusPoints    int64     `json:"bonus_points"`
	CurrentStreak  int       `json:"current_streak"`
	LongestStreak  int       `json:"longest_streak"`
	CompletionRate float64   `json:"completion_rate"`
	Rank           int       `json:"rank"`
	TotalMembers   int       `json:"total_members"`
	LastUpdated    time.Time `json:"last_updated"`
}

// Notification is a user-facing message written to the remote store.
type Notification struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	Kind      string     `json:"kind"`
	Title     string     `json:"title"`
	Body      string     `json:"body,omitempty"`
	Read      bool       `json:"read"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// ConnectivityState is a snapshot of the two orthogonal connectivity signals.
// IsOnline reflects the platform network signal; IsConnected reflects the
// active reachability probe. They may diverge: online with an unreachable
// store means the device has a link but the remote store does not answer.
type ConnectivityState struct {
	IsOnline    bool `json:"is_online"`
	IsConnected bool `json:"is_connected"`
}

// SyncStatus is the UI-facing view of the sync subsystem.
type SyncStatus struct {
	ConnectivityState
	PendingActions int `json:"pending_actions"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// MarshalJSON ensures nil slices in Task marshal as [] not null.
func (t Task) MarshalJSON() ([]byte, error) {
	if t.Tags == nil {
		t.Tags = []string{}
	}
	if t.Watchers == nil {
		t.Watchers = []string{}
	}
	if t.MentionedUserIDs == nil {
		t.MentionedUserIDs = []string{}
	}
	type Alias Task
	return json.Marshal(Alias(t))
}
