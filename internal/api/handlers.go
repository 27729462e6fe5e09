package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hearthapp/hearth/internal/ledger"
	"github.com/hearthapp/hearth/internal/reconcile"
	"github.com/hearthapp/hearth/internal/types"
	"github.com/hearthapp/hearth/internal/validation"
	"github.com/hearthapp/hearth/pkg/offline"
)

// TasksCollection is the remote collection task mutations target.
const TasksCollection = "tasks"

// Handler implements the API handlers
type Handler struct {
	client  *offline.Client
	ledger  *ledger.Service
	apiKey  string
	version string
}

// NewHandler creates a new Handler.
func NewHandler(client *offline.Client, svc *ledger.Service, apiKey, version string) *Handler {
	return &Handler{
		client:  client,
		ledger:  svc,
		apiKey:  apiKey,
		version: version,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// Health returns the health status
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, types.HealthResponse{
		Status:  "healthy",
		Version: h.version,
	})
}

// SyncStatus handles GET /api/v1/sync/status
func (h *Handler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.client.Status())
}

// PendingActions handles GET /api/v1/sync/queue
func (h *Handler) PendingActions(w http.ResponseWriter, r *http.Request) {
	actions := h.client.PendingActions()
	if actions == nil {
		actions = []types.QueuedAction{}
	}
	writeJSON(w, http.StatusOK, actions)
}

// QueueAction handles POST /api/v1/sync/queue
func (h *Handler) QueueAction(w http.ResponseWriter, r *http.Request) {
	var action types.QueuedAction
	if err := json.NewDecoder(r.Body).Decode(&action); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return
	}

	if errs := validation.QueuedAction(action); len(errs) > 0 {
		WriteProblemWithErrors(w, r, "Action contains invalid fields", errs)
		return
	}

	queued, err := h.client.QueueOfflineAction(action)
	if err != nil {
		MapDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, queued)
}

// ReplayQueue handles POST /api/v1/sync/queue/replay
func (h *Handler) ReplayQueue(w http.ResponseWriter, r *http.Request) {
	if err := h.client.SyncPendingActions(r.Context()); err != nil {
		MapDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.client.Status())
}

// ClearQueue handles DELETE /api/v1/sync/queue
func (h *Handler) ClearQueue(w http.ResponseWriter, r *http.Request) {
	if err := h.client.ClearPendingActions(); err != nil {
		MapDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetNetworkState handles POST /api/v1/sync/network
func (h *Handler) SetNetworkState(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Online bool `json:"online"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return
	}

	h.client.SetOnline(req.Online)
	writeJSON(w, http.StatusOK, h.client.Status())
}

// EnableOfflineMode handles POST /api/v1/sync/offline-mode
func (h *Handler) EnableOfflineMode(w http.ResponseWriter, r *http.Request) {
	h.client.EnableOfflineMode(r.Context())
	writeJSON(w, http.StatusOK, h.client.Status())
}

// DisableOfflineMode handles DELETE /api/v1/sync/offline-mode
func (h *Handler) DisableOfflineMode(w http.ResponseWriter, r *http.Request) {
	h.client.DisableOfflineMode(r.Context())
	writeJSON(w, http.StatusOK, h.client.Status())
}

// taskResponse pairs the reconciler outcome with the document the UI should
// render.
type taskResponse struct {
	State    string         `json:"state"`
	Document types.Document `json:"document,omitempty"`
}

func reconcileStatus(result reconcile.Result, okStatus int) int {
	if result.State == reconcile.StateQueued {
		return http.StatusAccepted
	}
	return okStatus
}

// CreateTask handles POST /api/v1/tasks
func (h *Handler) CreateTask(w http.ResponseWriter, r *http.Request) {
	var task types.Task
	if err := json.NewDecoder(r.Body).Decode(&task); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return
	}

	if errs := validation.Task(task); len(errs) > 0 {
		WriteProblemWithErrors(w, r, "Task contains invalid fields", errs)
		return
	}

	doc, err := types.ToDocument(task)
	if err != nil {
		WriteProblem(w, r, http.StatusBadRequest, "Task cannot be serialized")
		return
	}

	result, err := h.client.Reconciler().Create(r.Context(), TasksCollection, doc)
	if err != nil {
		MapDomainError(w, r, err)
		return
	}

	writeJSON(w, reconcileStatus(result, http.StatusCreated), taskResponse{
		State:    string(result.State),
		Document: result.Document,
	})
}

// UpdateTask handles PATCH /api/v1/tasks/{id}
func (h *Handler) UpdateTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var patch types.Document
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return
	}
	if len(patch) == 0 {
		WriteProblem(w, r, http.StatusBadRequest, "Empty patch")
		return
	}

	result, err := h.client.Reconciler().Update(r.Context(), TasksCollection, id, patch)
	if err != nil {
		MapDomainError(w, r, err)
		return
	}

	if result.State == reconcile.StateConflicted {
		// The caller must refresh: the body carries the authoritative record.
		writeJSON(w, http.StatusConflict, taskResponse{
			State:    string(result.State),
			Document: result.Document,
		})
		return
	}

	h.maybeAwardCompletion(r, patch, result.Document)

	writeJSON(w, reconcileStatus(result, http.StatusOK), taskResponse{
		State:    string(result.State),
		Document: result.Document,
	})
}

// DeleteTask handles DELETE /api/v1/tasks/{id}
func (h *Handler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	result, err := h.client.Reconciler().Delete(r.Context(), TasksCollection, id)
	if err != nil {
		MapDomainError(w, r, err)
		return
	}

	if result.State == reconcile.StateQueued {
		writeJSON(w, http.StatusAccepted, taskResponse{State: string(result.State)})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// maybeAwardCompletion records the task-completion award when an update moves
// a task to completed. Best effort: the award is a pending ledger entry and a
// failure never fails the task update.
func (h *Handler) maybeAwardCompletion(r *http.Request, patch, doc types.Document) {
	status, _ := patch["status"].(string)
	if status != string(types.TaskCompleted) || doc == nil {
		return
	}

	assignee, _ := doc["assignee_id"].(string)
	groupID, _ := doc["group_id"].(string)
	title, _ := doc["title"].(string)
	if assignee == "" || groupID == "" {
		return
	}

	err := h.ledger.AwardPointsForTaskCompletion(r.Context(), assignee, groupID, doc.ID(), title)
	if err != nil {
		slog.Warn("task completion award failed",
			"task_id", doc.ID(),
			"user_id", assignee,
			"error", err,
		)
	}
}

// CreatePointEntry handles POST /api/v1/points
func (h *Handler) CreatePointEntry(w http.ResponseWriter, r *http.Request) {
	var entry types.PointHistoryEntry
	if err := json.NewDecoder(r.Body).Decode(&entry); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return
	}

	if errs := validation.PointEntry(entry); len(errs) > 0 {
		WriteProblemWithErrors(w, r, "Entry contains invalid fields", errs)
		return
	}

	created, err := h.ledger.AddPointHistory(r.Context(), entry)
	if err != nil {
		MapDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// ApprovePointEntry handles POST /api/v1/points/{id}/approve
func (h *Handler) ApprovePointEntry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req struct {
		ApprovedBy string `json:"approved_by"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return
	}
	if req.ApprovedBy == "" {
		WriteProblem(w, r, http.StatusBadRequest, "approved_by is required")
		return
	}

	if err := h.ledger.ApprovePointHistory(r.Context(), id, req.ApprovedBy); err != nil {
		MapDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RejectPointEntry handles POST /api/v1/points/{id}/reject
func (h *Handler) RejectPointEntry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req struct {
		RejectedBy string `json:"rejected_by"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return
	}
	if req.RejectedBy == "" {
		WriteProblem(w, r, http.StatusBadRequest, "rejected_by is required")
		return
	}

	if err := h.ledger.RejectPointHistory(r.Context(), id, req.RejectedBy); err != nil {
		MapDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AdjustPoints handles POST /api/v1/points/adjust
func (h *Handler) AdjustPoints(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID  string `json:"user_id"`
		GroupID string `json:"group_id"`
		Amount  int64  `json:"amount"`
		Actor   string `json:"actor"`
		Reason  string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return
	}
	if req.UserID == "" || req.GroupID == "" || req.Actor == "" {
		WriteProblem(w, r, http.StatusBadRequest, "user_id, group_id and actor are required")
		return
	}

	if err := h.ledger.ManuallyAdjustPoints(r.Context(), req.UserID, req.GroupID, req.Amount, req.Actor, req.Reason); err != nil {
		MapDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PointHistory handles GET /api/v1/points
func (h *Handler) PointHistory(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	groupID := r.URL.Query().Get("group_id")
	if userID == "" || groupID == "" {
		WriteProblem(w, r, http.StatusBadRequest, "user_id and group_id are required")
		return
	}

	var approved *bool
	if v := r.URL.Query().Get("approved"); v != "" {
		b := v == "true"
		approved = &b
	}

	entries, err := h.ledger.GetPointHistory(r.Context(), userID, groupID, approved)
	if err != nil {
		MapDomainError(w, r, err)
		return
	}
	if entries == nil {
		entries = []types.PointHistoryEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// PointStats handles GET /api/v1/points/stats
func (h *Handler) PointStats(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	groupID := r.URL.Query().Get("group_id")
	if userID == "" || groupID == "" {
		WriteProblem(w, r, http.StatusBadRequest, "user_id and group_id are required")
		return
	}

	stats, err := h.ledger.GetPointStats(r.Context(), userID, groupID)
	if err != nil {
		MapDomainError(w, r, err)
		return
	}
	if stats == nil {
		// No approved entries yet: an all-zero aggregate, not an error.
		stats = &types.PointStats{UserID: userID, GroupID: groupID}
	}
	writeJSON(w, http.StatusOK, stats)
}
