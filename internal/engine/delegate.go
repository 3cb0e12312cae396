package engine

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"agrotasks/internal/domain"
	"agrotasks/internal/engine/auth"
	"agrotasks/internal/events"
	"agrotasks/internal/repo"
)

// Delegate hands a task to another employee and restarts it as pending and
// unaccepted. Numbers, title, description, deadline and priority are kept.
// The assignee, the assigner or an administrator may delegate. Only the new
// assignee is notified.
func (e Engine) Delegate(ctx context.Context, taskID, toID, actorID int64) (domain.Task, error) {
	before, task, err := e.transition(ctx, domain.EventTaskDelegated, taskID, actorID,
		func(ctx context.Context, tx *sql.Tx, t domain.Task, rel auth.Relation, _ time.Time) (change, error) {
			if !rel.Any(auth.Assignee | auth.Assigner | auth.Admin) {
				return change{}, invalid("task %d: actor %d may not delegate it", t.ID, actorID)
			}
			if !t.Status().Active() {
				return change{}, invalid("task %d is %s and cannot be delegated", t.ID, t.Status())
			}
			if toID == t.AssignedTo {
				return change{}, validation("task %d is already assigned to %d", t.ID, toID)
			}
			emp, err := e.Repo.GetEmployeeTx(ctx, tx, toID)
			if errors.Is(err, repo.ErrNotFound) {
				return change{}, validation("unknown employee %d", toID)
			}
			if err != nil {
				return change{}, e.storeError(domain.EventTaskDelegated, t.ID, actorID, err)
			}
			if !emp.Eligible() {
				return change{}, validation("employee %d is not confirmed or not active", toID)
			}
			patch := patchTo(domain.Pending{}, boolPtr(false))
			patch.AssignedTo = &toID
			return change{
				guard:   guardFor(t),
				patch:   patch,
				payload: events.EventPayload{"from": t.AssignedTo, "to": toID, "status": t.Status()},
			}, nil
		})
	if err != nil {
		return task, err
	}
	e.logger().Debug("task delegated", "task_id", task.ID, "from", before.AssignedTo, "to", task.AssignedTo)
	e.notify(ctx, actorID, domain.EventTaskDelegated, task, task.AssignedTo)
	return task, nil
}

// DelegationCandidates lists employees the task may be delegated to: confirmed
// and active, excluding the actor and the current assignee.
func (e Engine) DelegationCandidates(ctx context.Context, taskID, actorID int64) ([]domain.Employee, error) {
	t, err := e.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	all, err := e.Repo.ListEligibleAssignees(ctx, actorID)
	if err != nil {
		return nil, e.storeError("delegation candidates", taskID, actorID, err)
	}
	res := make([]domain.Employee, 0, len(all))
	for _, emp := range all {
		if emp.ID != t.AssignedTo {
			res = append(res, emp)
		}
	}
	return res, nil
}
