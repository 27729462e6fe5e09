// Package ledger implements the point-ledger approval workflow: entries are
// recorded pending, and a separate approval step is the only path by which an
// entry affects visible totals.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hearthapp/hearth/internal/remote"
	"github.com/hearthapp/hearth/internal/types"
)

// Remote collections the ledger operates on.
const (
	CollectionHistory       = "point_history"
	CollectionStats         = "point_stats"
	CollectionUsers         = "users"
	CollectionNotifications = "notifications"
)

// taskCompletionPoints is the fixed award for completing a task.
const taskCompletionPoints = 10

// historyQueryLimit bounds how many entries a stats resummation reads.
const historyQueryLimit = 1000

var (
	// ErrEntryNotFound indicates the referenced ledger entry does not exist.
	ErrEntryNotFound = errors.New("point history entry not found")

	// ErrEntryFinalized indicates the entry has already been approved or
	// rejected; finalized entries are terminal and cannot change state.
	ErrEntryFinalized = errors.New("point history entry already finalized")

	// ErrNegativeAmount indicates an entry amount below zero. Amounts are
	// stored non-negative; the sign comes from the entry type.
	ErrNegativeAmount = errors.New("point amount must be non-negative")
)

// Service is the ledger workflow over the remote document store.
//
// Approvals for the same (user, group) pair serialize through a keyed mutex:
// stats are recomputed wholesale, so unsequenced concurrent recomputations
// would race last-write-wins and lose updates.
type Service struct {
	remote remote.Store

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewService creates a ledger Service.
func NewService(store remote.Store) *Service {
	return &Service{
		remote: store,
		locks:  make(map[string]*sync.Mutex),
	}
}

// AddPointHistory records a new entry in the pending state. Pending entries
// never affect PointStats.
func (s *Service) AddPointHistory(ctx context.Context, entry types.PointHistoryEntry) (types.PointHistoryEntry, error) {
	if entry.UserID == "" || entry.GroupID == "" {
		return types.PointHistoryEntry{}, errors.New("user ID and group ID are required")
	}
	if entry.Amount < 0 {
		return types.PointHistoryEntry{}, ErrNegativeAmount
	}
	switch entry.Type {
	case types.PointEarned, types.PointDeducted, types.PointBonus,
		types.PointPenalty, types.PointManualAdd, types.PointManualDeduct:
	default:
		return types.PointHistoryEntry{}, fmt.Errorf("unknown point type %q", entry.Type)
	}

	entry.ID = ulid.Make().String()
	entry.CreatedAt = time.Now().UTC()
	entry.IsApproved = false
	entry.ApprovedAt = nil
	entry.ApprovedBy = ""

	doc, err := types.ToDocument(entry)
	if err != nil {
		return types.PointHistoryEntry{}, err
	}
	id, err := s.remote.Create(ctx, CollectionHistory, doc)
	if err != nil {
		return types.PointHistoryEntry{}, fmt.Errorf("add point history: %w", err)
	}
	entry.ID = id

	slog.Info("point history recorded",
		"entry_id", entry.ID,
		"user_id", entry.UserID,
		"type", string(entry.Type),
		"amount", entry.Amount,
		"component", "ledger",
	)
	return entry, nil
}

// ApprovePointHistory finalizes a pending entry as approved, applies its
// signed amount to the user's aggregate total and recomputes PointStats.
// This is the only path by which an entry affects visible totals.
func (s *Service) ApprovePointHistory(ctx context.Context, entryID, approver string) error {
	// The first read only learns which pair lock to take.
	entry, err := s.getEntry(ctx, entryID)
	if err != nil {
		return err
	}

	unlock := s.lockPair(entry.UserID, entry.GroupID)
	defer unlock()

	// Re-read under the lock: a concurrent reviewer may have finalized the
	// entry between the first read and lock acquisition. Terminality, not
	// just stats consistency, depends on this check being serialized.
	entry, err = s.getEntry(ctx, entryID)
	if err != nil {
		return err
	}
	if entry.Finalized() {
		return ErrEntryFinalized
	}

	now := time.Now().UTC()
	err = s.remote.Update(ctx, CollectionHistory, entryID, types.Document{
		"is_approved": true,
		"approved_at": now.Format(time.RFC3339),
		"approved_by": approver,
	})
	if err != nil {
		return fmt.Errorf("approve point history %s: %w", entryID, err)
	}

	// Sign is classified from the type; amounts are stored non-negative.
	delta := entry.Amount
	if !entry.Type.Additive() {
		delta = -delta
	}
	if err := s.applyUserPoints(ctx, entry.UserID, delta); err != nil {
		return err
	}

	if err := s.updatePointStatsLocked(ctx, entry.UserID, entry.GroupID); err != nil {
		return err
	}

	s.notify(ctx, entry, approver)

	slog.Info("point history approved",
		"entry_id", entryID,
		"user_id", entry.UserID,
		"approved_by", approver,
		"delta", delta,
		"component", "ledger",
	)
	return nil
}

// RejectPointHistory finalizes a pending entry as rejected. Rejection has no
// aggregate effect and is terminal; re-approval requires a new entry.
// Rejecting an already-rejected entry is a no-op.
func (s *Service) RejectPointHistory(ctx context.Context, entryID, rejecter string) error {
	entry, err := s.getEntry(ctx, entryID)
	if err != nil {
		return err
	}

	unlock := s.lockPair(entry.UserID, entry.GroupID)
	defer unlock()

	// Same re-read as approval: only the state observed under the pair lock
	// decides whether the entry is still pending.
	entry, err = s.getEntry(ctx, entryID)
	if err != nil {
		return err
	}
	if entry.Finalized() {
		if !entry.IsApproved {
			return nil // already rejected, idempotent marker
		}
		return ErrEntryFinalized
	}

	now := time.Now().UTC()
	err = s.remote.Update(ctx, CollectionHistory, entryID, types.Document{
		"is_approved": false,
		"approved_at": now.Format(time.RFC3339),
		"approved_by": rejecter,
	})
	if err != nil {
		return fmt.Errorf("reject point history %s: %w", entryID, err)
	}

	slog.Info("point history rejected",
		"entry_id", entryID,
		"user_id", entry.UserID,
		"rejected_by", rejecter,
		"component", "ledger",
	)
	return nil
}

// CorrectPointAmount adjusts the stored amount of an entry. The sole
// permitted mutation of an approved entry; stats are recomputed when the
// entry already counts toward them.
func (s *Service) CorrectPointAmount(ctx context.Context, entryID string, amount int64) error {
	if amount < 0 {
		return ErrNegativeAmount
	}
	entry, err := s.getEntry(ctx, entryID)
	if err != nil {
		return err
	}

	err = s.remote.Update(ctx, CollectionHistory, entryID, types.Document{
		"amount": amount,
	})
	if err != nil {
		return fmt.Errorf("correct point amount %s: %w", entryID, err)
	}

	if entry.IsApproved {
		unlock := s.lockPair(entry.UserID, entry.GroupID)
		defer unlock()
		return s.updatePointStatsLocked(ctx, entry.UserID, entry.GroupID)
	}
	return nil
}

// ManuallyAdjustPoints records a manual adjustment and approves it
// immediately. A positive amount adds, a negative amount deducts.
func (s *Service) ManuallyAdjustPoints(ctx context.Context, userID, groupID string, amount int64, actor, reason string) error {
	typ := types.PointManualAdd
	if amount < 0 {
		typ = types.PointManualDeduct
		amount = -amount
	}

	entry, err := s.AddPointHistory(ctx, types.PointHistoryEntry{
		UserID:  userID,
		GroupID: groupID,
		Type:    typ,
		Amount:  amount,
		Reason:  reason,
	})
	if err != nil {
		return err
	}
	return s.ApprovePointHistory(ctx, entry.ID, actor)
}

// AwardPointsForTaskCompletion records the fixed task-completion award as a
// pending entry referencing the task.
func (s *Service) AwardPointsForTaskCompletion(ctx context.Context, userID, groupID, taskID, taskTitle string) error {
	_, err := s.AddPointHistory(ctx, types.PointHistoryEntry{
		UserID:    userID,
		GroupID:   groupID,
		Type:      types.PointEarned,
		Amount:    taskCompletionPoints,
		Reason:    "task_completion",
		TaskID:    taskID,
		TaskTitle: taskTitle,
	})
	return err
}

// UpdatePointStats recomputes the (user, group) aggregate from approved
// entries only and overwrites the stored snapshot.
func (s *Service) UpdatePointStats(ctx context.Context, userID, groupID string) error {
	unlock := s.lockPair(userID, groupID)
	defer unlock()
	return s.updatePointStatsLocked(ctx, userID, groupID)
}

// updatePointStatsLocked does the resummation. Callers hold the pair lock.
func (s *Service) updatePointStatsLocked(ctx context.Context, userID, groupID string) error {
	entries, err := s.queryHistory(ctx, userID, groupID)
	if err != nil {
		return err
	}

	var earned, manual, deducted, bonus int64
	for _, e := range entries {
		if !e.IsApproved {
			continue
		}
		switch e.Type {
		case types.PointEarned:
			earned += e.Amount
		case types.PointManualAdd:
			manual += e.Amount
		case types.PointBonus:
			bonus += e.Amount
		case types.PointDeducted, types.PointPenalty, types.PointManualDeduct:
			deducted += e.Amount
		}
	}

	stats := types.PointStats{
		UserID:         userID,
		GroupID:        groupID,
		TotalPoints:    earned + manual + bonus - deducted,
		EarnedPoints:   earned + manual,
		DeductedPoints: deducted,
		BonusPoints:    bonus,
		Rank:           1,
		TotalMembers:   1,
		LastUpdated:    time.Now().UTC(),
	}

	doc, err := types.ToDocument(stats)
	if err != nil {
		return err
	}
	statsID := statsKey(userID, groupID)
	doc["id"] = statsID

	// Overwrite the prior snapshot; create it on first approval.
	if err := s.remote.Update(ctx, CollectionStats, statsID, doc); err != nil {
		if !errors.Is(err, remote.ErrNotFound) {
			return fmt.Errorf("write point stats %s: %w", statsID, err)
		}
		if _, err := s.remote.Create(ctx, CollectionStats, doc); err != nil {
			return fmt.Errorf("create point stats %s: %w", statsID, err)
		}
	}
	return nil
}

// GetPointStats returns the stored aggregate snapshot, or nil when none
// exists yet.
func (s *Service) GetPointStats(ctx context.Context, userID, groupID string) (*types.PointStats, error) {
	doc, err := s.remote.Get(ctx, CollectionStats, statsKey(userID, groupID))
	if err != nil {
		if errors.Is(err, remote.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get point stats: %w", err)
	}

	var stats types.PointStats
	if err := types.FromDocument(doc, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// GetPointHistory returns entries for the pair, newest first. The approved
// filter narrows to approved (true), unapproved (false) or all (nil).
func (s *Service) GetPointHistory(ctx context.Context, userID, groupID string, approved *bool) ([]types.PointHistoryEntry, error) {
	entries, err := s.queryHistory(ctx, userID, groupID)
	if err != nil {
		return nil, err
	}
	if approved == nil {
		return entries, nil
	}

	filtered := entries[:0]
	for _, e := range entries {
		if e.IsApproved == *approved {
			filtered = append(filtered, e)
		}
	}
	return filtered, nil
}

func (s *Service) queryHistory(ctx context.Context, userID, groupID string) ([]types.PointHistoryEntry, error) {
	docs, err := s.remote.Query(ctx, CollectionHistory, remote.QueryOptions{
		Filters: []remote.Filter{
			{Field: "user_id", Value: userID},
			{Field: "group_id", Value: groupID},
		},
		OrderBy: "created_at",
		Desc:    true,
		Limit:   historyQueryLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("query point history: %w", err)
	}

	entries := make([]types.PointHistoryEntry, 0, len(docs))
	for _, doc := range docs {
		var e types.PointHistoryEntry
		if err := types.FromDocument(doc, &e); err != nil {
			slog.Warn("skipping malformed point history entry",
				"entry_id", doc.ID(),
				"error", err,
				"component", "ledger",
			)
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (s *Service) getEntry(ctx context.Context, entryID string) (types.PointHistoryEntry, error) {
	doc, err := s.remote.Get(ctx, CollectionHistory, entryID)
	if err != nil {
		if errors.Is(err, remote.ErrNotFound) {
			return types.PointHistoryEntry{}, ErrEntryNotFound
		}
		return types.PointHistoryEntry{}, fmt.Errorf("get point history %s: %w", entryID, err)
	}

	var entry types.PointHistoryEntry
	if err := types.FromDocument(doc, &entry); err != nil {
		return types.PointHistoryEntry{}, err
	}
	if entry.ID == "" {
		entry.ID = entryID
	}
	return entry, nil
}

// applyUserPoints adds the signed delta to the user's aggregate point total.
func (s *Service) applyUserPoints(ctx context.Context, userID string, delta int64) error {
	user, err := s.remote.Get(ctx, CollectionUsers, userID)
	if err != nil {
		if errors.Is(err, remote.ErrNotFound) {
			// No profile yet: nothing to apply against; stats still reflect
			// the approval.
			return nil
		}
		return fmt.Errorf("get user %s: %w", userID, err)
	}

	var current int64
	switch v := user["points"].(type) {
	case float64:
		current = int64(v)
	case int64:
		current = v
	case int:
		current = int64(v)
	}

	err = s.remote.Update(ctx, CollectionUsers, userID, types.Document{
		"points": current + delta,
	})
	if err != nil {
		return fmt.Errorf("update user points %s: %w", userID, err)
	}
	return nil
}

// notify writes an approval notification. Best effort: a notification
// failure never fails the approval.
func (s *Service) notify(ctx context.Context, entry types.PointHistoryEntry, approver string) {
	doc, err := types.ToDocument(types.Notification{
		UserID:    entry.UserID,
		Kind:      "points_approved",
		Title:     "Points approved",
		Body:      fmt.Sprintf("%d points (%s) approved", entry.Amount, entry.Reason),
		CreatedAt: time.Now().UTC(),
	})
	if err == nil {
		_, err = s.remote.Create(ctx, CollectionNotifications, doc)
	}
	if err != nil {
		slog.Warn("approval notification failed",
			"entry_id", entry.ID,
			"error", err,
			"component", "ledger",
		)
	}
}

// lockPair acquires the serialization lock for one (user, group) pair.
func (s *Service) lockPair(userID, groupID string) func() {
	s.mu.Lock()
	k := statsKey(userID, groupID)
	l, ok := s.locks[k]
	if !ok {
		l = &sync.Mutex{}
		s.locks[k] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}

func statsKey(userID, groupID string) string {
	return userID + "_" + groupID
}
