// Package validation provides field-level input checks for API payloads.
package validation

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/hearthapp/hearth/internal/types"
)

// FieldError represents a single field validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Collector accumulates validation errors without failing on first.
type Collector struct {
	errors []FieldError
}

// Add appends a validation error to the collector if non-nil.
func (c *Collector) Add(err *FieldError) {
	if err != nil {
		c.errors = append(c.errors, *err)
	}
}

// HasErrors returns true if the collector has accumulated any errors.
func (c *Collector) HasErrors() bool {
	return len(c.errors) > 0
}

// Errors returns all accumulated validation errors.
func (c *Collector) Errors() []FieldError {
	return c.errors
}

// Required returns an error if the value is empty or whitespace-only.
func Required(field, value string) *FieldError {
	if strings.TrimSpace(value) == "" {
		return &FieldError{
			Field:   field,
			Message: "is required",
		}
	}
	return nil
}

// MaxLength returns an error if the value exceeds max runes.
func MaxLength(field, value string, max int) *FieldError {
	if utf8.RuneCountInString(value) > max {
		return &FieldError{
			Field:   field,
			Message: fmt.Sprintf("exceeds maximum length of %d characters", max),
		}
	}
	return nil
}

// CleanText returns an error if the value is not valid UTF-8 or contains
// null bytes.
func CleanText(field, value string) *FieldError {
	if !utf8.ValidString(value) {
		return &FieldError{
			Field:   field,
			Message: "must be valid UTF-8",
		}
	}
	if strings.Contains(value, "\x00") {
		return &FieldError{
			Field:   field,
			Message: "must not contain null bytes",
		}
	}
	return nil
}

// ULID returns an error if the value is not a valid ULID format.
// ULIDs are 26 characters using Crockford Base32 (excludes I, L, O, U).
func ULID(field, value string) *FieldError {
	if len(value) != 26 {
		return &FieldError{
			Field:   field,
			Message: "must be a valid ULID (26 characters)",
		}
	}

	const crockfordBase32 = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"
	for _, r := range value {
		upper := strings.ToUpper(string(r))
		if !strings.Contains(crockfordBase32, upper) {
			return &FieldError{
				Field:   field,
				Message: "must be a valid ULID (invalid character)",
			}
		}
	}
	return nil
}

// Enum returns an error if the value is not in the allowed list.
func Enum(field, value string, allowed []string) *FieldError {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return &FieldError{
		Field:   field,
		Message: fmt.Sprintf("must be one of: %s", strings.Join(allowed, ", ")),
	}
}

// NonNegative returns an error if the value is below zero.
func NonNegative(field string, value int64) *FieldError {
	if value < 0 {
		return &FieldError{
			Field:   field,
			Message: "must be non-negative",
		}
	}
	return nil
}

const (
	maxTitleLength       = 200
	maxDescriptionLength = 2000
	maxReasonLength      = 500
)

// Task validates a task payload for create or full update.
func Task(task types.Task) []FieldError {
	var c Collector
	c.Add(Required("title", task.Title))
	c.Add(MaxLength("title", task.Title, maxTitleLength))
	c.Add(CleanText("title", task.Title))
	c.Add(MaxLength("description", task.Description, maxDescriptionLength))
	c.Add(CleanText("description", task.Description))
	c.Add(Required("group_id", task.GroupID))
	if task.Status != "" {
		c.Add(Enum("status", string(task.Status), []string{
			string(types.TaskPending),
			string(types.TaskInProgress),
			string(types.TaskCompleted),
		}))
	}
	if task.Priority != "" {
		c.Add(Enum("priority", string(task.Priority), []string{
			string(types.PriorityLow),
			string(types.PriorityMedium),
			string(types.PriorityHigh),
		}))
	}
	return c.Errors()
}

// PointEntry validates a point history payload before recording.
func PointEntry(entry types.PointHistoryEntry) []FieldError {
	var c Collector
	c.Add(Required("user_id", entry.UserID))
	c.Add(Required("group_id", entry.GroupID))
	c.Add(NonNegative("amount", entry.Amount))
	c.Add(MaxLength("reason", entry.Reason, maxReasonLength))
	c.Add(CleanText("reason", entry.Reason))
	c.Add(Enum("type", string(entry.Type), []string{
		string(types.PointEarned),
		string(types.PointDeducted),
		string(types.PointBonus),
		string(types.PointPenalty),
		string(types.PointManualAdd),
		string(types.PointManualDeduct),
	}))
	return c.Errors()
}

// QueuedAction validates an offline action submitted for deferred replay.
func QueuedAction(action types.QueuedAction) []FieldError {
	var c Collector
	c.Add(Required("collection", action.Collection))
	c.Add(Enum("kind", string(action.Kind), []string{
		string(types.ActionCreate),
		string(types.ActionUpdate),
		string(types.ActionDelete),
	}))
	if action.Kind != types.ActionCreate {
		c.Add(Required("document_id", action.DocumentID))
	}
	return c.Errors()
}
