// Package scanner expires tasks whose deadline has passed and fines their
// assignees.
package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"agrotasks/internal/domain"
	"agrotasks/internal/engine"
	"agrotasks/internal/events"
	"agrotasks/internal/repo"
)

// Scanner sweeps the task store for expired tasks. It shares the engine's
// store, configuration and notification channel.
type Scanner struct {
	Engine engine.Engine
}

func New(eng engine.Engine) Scanner {
	return Scanner{Engine: eng}
}

func (s Scanner) logger() *slog.Logger {
	if s.Engine.Logger != nil {
		return s.Engine.Logger
	}
	return slog.Default()
}

// graceDays returns, per expirable status, how many whole days past the
// deadline a task may stay in it. A task expires once deadline+grace < today.
func (s Scanner) graceDays() []struct {
	status domain.Status
	days   int
} {
	p := s.Engine.Config.Penalty
	return []struct {
		status domain.Status
		days   int
	}{
		{domain.StatusPending, p.PendingGraceDays},
		{domain.StatusInProgress, p.InProgressGraceDays},
	}
}

// Sweep expires every task past its grace period as of today and returns the
// ids it moved to overdue. Each task is expired in its own transaction
// together with its fine, so an interrupted sweep can simply be run again:
// tasks already overdue no longer match.
func (s Scanner) Sweep(ctx context.Context, today time.Time) ([]int64, error) {
	started := time.Now()
	today = domain.DateOf(today)
	amount := s.Engine.Config.PenaltyAmount()
	if !amount.IsPositive() {
		return nil, fmt.Errorf("penalty amount %q: %w", s.Engine.Config.Penalty.Amount, engine.ErrValidationFailed)
	}

	var expired []int64
	for _, g := range s.graceDays() {
		cutoff := today.AddDate(0, 0, -g.days)
		candidates, err := s.Engine.Repo.ListExpiredCandidates(ctx, g.status, cutoff)
		if err != nil {
			return expired, fmt.Errorf("list %s candidates: %w: %w", g.status, engine.ErrStoreUnavailable, err)
		}
		for _, t := range candidates {
			if err := ctx.Err(); err != nil {
				return expired, err
			}
			ok, err := s.expire(ctx, t)
			if err != nil {
				s.logger().Error("expire task failed", "task_id", t.ID, "err", err)
				return expired, err
			}
			if ok {
				expired = append(expired, t.ID)
			}
		}
	}
	s.Engine.Metrics.Sweep(time.Since(started))
	s.logger().Info("sweep finished", "today", today.Format(domain.DateLayout), "expired", len(expired))
	return expired, nil
}

// expire moves one task to overdue and records its fine atomically. It
// reports false when the task changed since it was listed.
func (s Scanner) expire(ctx context.Context, t domain.Task) (bool, error) {
	ctx = context.WithoutCancel(ctx)
	eng := s.Engine
	at := eng.LocalNow()

	tx, err := eng.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("%w: %w", engine.ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	assignee := t.AssignedTo
	ok, err := eng.Repo.ConditionalUpdate(ctx, tx, t.ID,
		repo.TaskGuard{Status: t.Status(), AssignedTo: &assignee, Deadline: &t.Deadline},
		repo.TaskPatch{State: domain.Overdue{}, UpdatedAt: at})
	if err != nil {
		return false, fmt.Errorf("%w: %w", engine.ErrStoreUnavailable, err)
	}
	if !ok {
		s.logger().Debug("task changed before expiry, skipped", "task_id", t.ID)
		return false, nil
	}
	taskID := t.ID
	fine, err := eng.Repo.InsertFine(ctx, tx, domain.Fine{
		UserID:    t.AssignedTo,
		Amount:    eng.Config.PenaltyAmount(),
		Reason:    eng.Config.Penalty.Reason,
		TaskID:    &taskID,
		CreatedAt: at,
	})
	if err != nil {
		return false, fmt.Errorf("%w: %w", engine.ErrStoreUnavailable, err)
	}
	w := events.Writer{Now: eng.LocalNow}
	if err := w.Append(ctx, tx, domain.EventTaskOverdue, t.ID, domain.SystemActor, events.EventPayload{
		"from":     t.Status(),
		"deadline": t.Deadline.Format(domain.DateLayout),
		"fine_id":  fine.ID,
		"amount":   fine.Amount.String(),
	}); err != nil {
		return false, fmt.Errorf("%w: %w", engine.ErrStoreUnavailable, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("%w: %w", engine.ErrStoreUnavailable, err)
	}
	eng.Metrics.Transition(domain.EventTaskOverdue)
	eng.Metrics.FineCreated()

	if eng.Notifier != nil {
		t.State = domain.Overdue{}
		eng.Notifier.Notify(ctx, t.AssignedTo, domain.EventTaskOverdue, t.Summary())
	}
	return true, nil
}
