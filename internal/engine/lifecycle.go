package engine

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"agrotasks/internal/domain"
	"agrotasks/internal/engine/auth"
	"agrotasks/internal/events"
)

func boolPtr(v bool) *bool { return &v }

// Accept moves a pending task to in progress. Only the assignee may accept.
func (e Engine) Accept(ctx context.Context, taskID, actorID int64) (domain.Task, error) {
	_, task, err := e.transition(ctx, domain.EventTaskAccepted, taskID, actorID,
		func(_ context.Context, _ *sql.Tx, t domain.Task, rel auth.Relation, _ time.Time) (change, error) {
			if !rel.Any(auth.Assignee) {
				return change{}, invalid("task %d: only the assignee can accept", t.ID)
			}
			if t.Status() != domain.StatusPending {
				return change{}, invalid("task %d is %s, not pending", t.ID, t.Status())
			}
			return change{
				guard:   guardFor(t),
				patch:   patchTo(domain.InProgress{}, boolPtr(true)),
				payload: events.EventPayload{"from": t.Status()},
			}, nil
		})
	if err != nil {
		return task, err
	}
	e.notify(ctx, actorID, domain.EventTaskAccepted, task, task.AssignedBy)
	return task, nil
}

// Reject cancels a pending task with the assignee's reason.
func (e Engine) Reject(ctx context.Context, taskID, actorID int64, comment string) (domain.Task, error) {
	comment = strings.TrimSpace(comment)
	if comment == "" {
		e.Metrics.Refused(domain.EventTaskRejected, "validation_failed")
		return domain.Task{}, validation("task %d: a rejection comment is required", taskID)
	}
	_, task, err := e.transition(ctx, domain.EventTaskRejected, taskID, actorID,
		func(_ context.Context, _ *sql.Tx, t domain.Task, rel auth.Relation, _ time.Time) (change, error) {
			if !rel.Any(auth.Assignee) {
				return change{}, invalid("task %d: only the assignee can reject", t.ID)
			}
			if t.Status() != domain.StatusPending {
				return change{}, invalid("task %d is %s, not pending", t.ID, t.Status())
			}
			return change{
				guard:   guardFor(t),
				patch:   patchTo(domain.Canceled{Reason: comment}, nil),
				payload: events.EventPayload{"comment": comment},
			}, nil
		})
	if err != nil {
		return task, err
	}
	e.notify(ctx, actorID, domain.EventTaskRejected, task, task.AssignedBy)
	return task, nil
}

// ExtendDeadline moves the deadline of an accepted or overdue task. A zero
// until adds tasks.extend_days to the current deadline; otherwise the
// deadline becomes until, which must be later than the current one. The
// status is left as it is.
func (e Engine) ExtendDeadline(ctx context.Context, taskID, actorID int64, until time.Time) (domain.Task, error) {
	_, task, err := e.transition(ctx, domain.EventTaskExtended, taskID, actorID,
		func(_ context.Context, _ *sql.Tx, t domain.Task, rel auth.Relation, _ time.Time) (change, error) {
			if !rel.Any(auth.Assignee) {
				return change{}, invalid("task %d: only the assignee can extend the deadline", t.ID)
			}
			if s := t.Status(); s != domain.StatusInProgress && s != domain.StatusOverdue {
				return change{}, invalid("task %d is %s; only accepted or overdue tasks can be extended", t.ID, s)
			}
			next := t.Deadline.AddDate(0, 0, e.Config.Tasks.ExtendDays)
			if !until.IsZero() {
				next = domain.DateOf(until)
			}
			if !next.After(t.Deadline) {
				return change{}, validation("task %d: new deadline %s is not after %s", t.ID,
					next.Format(domain.DateLayout), t.Deadline.Format(domain.DateLayout))
			}
			guard := guardFor(t)
			old := t.Deadline
			guard.Deadline = &old
			patch := patchTo(t.State, nil)
			patch.Deadline = &next
			return change{
				guard: guard,
				patch: patch,
				payload: events.EventPayload{
					"from": old.Format(domain.DateLayout),
					"to":   next.Format(domain.DateLayout),
				},
			}, nil
		})
	if err != nil {
		return task, err
	}
	e.notify(ctx, actorID, domain.EventTaskExtended, task, task.AssignedBy)
	return task, nil
}
