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

// Report is what the assignee submits on completion. Both parts are optional.
type Report struct {
	Text       string
	Attachment *domain.Attachment
}

func (r Report) empty() bool {
	return strings.TrimSpace(r.Text) == "" && r.Attachment == nil
}

// Complete submits the work for confirmation. A non-empty report is stored as
// a TaskReport; the description is never modified.
func (e Engine) Complete(ctx context.Context, taskID, actorID int64, report Report) (domain.Task, error) {
	if err := validateAttachment(report.Attachment); err != nil {
		e.Metrics.Refused(domain.EventTaskCompleted, ErrorCode(err))
		return domain.Task{}, err
	}
	_, task, err := e.transition(ctx, domain.EventTaskCompleted, taskID, actorID,
		func(_ context.Context, _ *sql.Tx, t domain.Task, rel auth.Relation, now time.Time) (change, error) {
			if !rel.Any(auth.Assignee) {
				return change{}, invalid("task %d: only the assignee can complete", t.ID)
			}
			if s := t.Status(); s != domain.StatusInProgress && s != domain.StatusOverdue {
				return change{}, invalid("task %d is %s; only accepted or overdue tasks can be completed", t.ID, s)
			}
			c := change{
				guard:   guardFor(t),
				patch:   patchTo(domain.WaitConfirm{}, nil),
				payload: events.EventPayload{"from": t.Status(), "has_report": !report.empty()},
			}
			if !report.empty() {
				c.after = func(ctx context.Context, tx *sql.Tx, t domain.Task) error {
					_, err := e.Repo.InsertReport(ctx, tx, domain.TaskReport{
						TaskID:      t.ID,
						AuthorID:    actorID,
						Text:        strings.TrimSpace(report.Text),
						Attachment:  report.Attachment,
						SubmittedAt: now,
					})
					return err
				}
			}
			return c, nil
		})
	if err != nil {
		return task, err
	}
	e.notify(ctx, actorID, domain.EventTaskCompleted, task, task.AssignedBy)
	return task, nil
}

// Confirm accepts the submitted work and completes the task.
func (e Engine) Confirm(ctx context.Context, taskID, actorID int64) (domain.Task, error) {
	return e.review(ctx, domain.EventTaskConfirmed, taskID, actorID, func(now time.Time) domain.State {
		return domain.Completed{At: now}
	})
}

// Return sends the submitted work back to the assignee for rework.
func (e Engine) Return(ctx context.Context, taskID, actorID int64) (domain.Task, error) {
	return e.review(ctx, domain.EventTaskReturned, taskID, actorID, func(time.Time) domain.State {
		return domain.InProgress{Returned: true}
	})
}

// review resolves a task waiting for confirmation. The assigner or an
// administrator decides; both parties hear the outcome.
func (e Engine) review(ctx context.Context, event string, taskID, actorID int64, next func(time.Time) domain.State) (domain.Task, error) {
	_, task, err := e.transition(ctx, event, taskID, actorID,
		func(_ context.Context, _ *sql.Tx, t domain.Task, rel auth.Relation, now time.Time) (change, error) {
			if !rel.Any(auth.Assigner | auth.Admin) {
				return change{}, invalid("task %d: only the assigner or an administrator can review", t.ID)
			}
			if t.Status() != domain.StatusWaitConfirm || t.ConfirmStatus() != domain.ConfirmWait {
				return change{}, invalid("task %d is %s and does not wait for confirmation", t.ID, t.Status())
			}
			guard := guardFor(t)
			wait := domain.ConfirmWait
			guard.ConfirmStatus = &wait
			return change{
				guard:   guard,
				patch:   patchTo(next(now), nil),
				payload: events.EventPayload{"assignee": t.AssignedTo},
			}, nil
		})
	if err != nil {
		return task, err
	}
	e.notify(ctx, actorID, event, task, task.AssignedTo, task.AssignedBy)
	return task, nil
}

// Reports lists the completion reports of a task, oldest first.
func (e Engine) Reports(ctx context.Context, taskID int64) ([]domain.TaskReport, error) {
	if _, err := e.GetTask(ctx, taskID); err != nil {
		return nil, err
	}
	reports, err := e.Repo.ListReports(ctx, taskID)
	if err != nil {
		return nil, e.storeError("list reports", taskID, 0, err)
	}
	return reports, nil
}
