package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"agrotasks/internal/config"
	"agrotasks/internal/domain"
	"agrotasks/internal/engine/auth"
	"agrotasks/internal/events"
	"agrotasks/internal/metrics"
	"agrotasks/internal/notify"
	"agrotasks/internal/numbering"
	"agrotasks/internal/repo"
)

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Auth     auth.Service
	Config   *config.Config
	Notifier notify.Notifier
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	Now      func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Config: cfg,
		Logger: slog.Default(),
		Now:    time.Now,
	}
}

// LocalNow is the engine clock: the current instant in the configured
// timezone. Everything that stamps or dates a task reads time through it.
func (e Engine) LocalNow() time.Time {
	now := time.Now
	if e.Now != nil {
		now = e.Now
	}
	return now().In(e.Config.Location())
}

// Today is the current calendar date in the configured timezone.
func (e Engine) Today() time.Time {
	return domain.DateOf(e.LocalNow())
}

func (e Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e Engine) appendEvent(ctx context.Context, tx *sql.Tx, evtType string, taskID, actorID int64, payload events.EventPayload) error {
	return events.Writer{Now: e.LocalNow}.Append(ctx, tx, evtType, taskID, actorID, payload)
}

// storeError classifies a repository failure. Missing rows become ErrNotFound;
// anything else is logged and reported as ErrStoreUnavailable.
func (e Engine) storeError(op string, taskID, actorID int64, err error) error {
	if errors.Is(err, repo.ErrNotFound) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	e.logger().Error("store failure", "op", op, "task_id", taskID, "actor_id", actorID, "err", err)
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrInvalidTransition)...)
}

func validation(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrValidationFailed)...)
}

// notify tells recipients about event on t. The actor and the system are
// never notified of their own action, and nobody is notified twice.
func (e Engine) notify(ctx context.Context, actorID int64, event string, t domain.Task, recipients ...int64) {
	if e.Notifier == nil {
		return
	}
	seen := make(map[int64]bool, len(recipients))
	for _, id := range recipients {
		if id == actorID || id == domain.SystemActor || seen[id] {
			continue
		}
		seen[id] = true
		e.Notifier.Notify(ctx, id, event, t.Summary())
	}
}

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	Title       string
	Description string
	Attachment  *domain.Attachment
	// Priority defaults to tasks.default_priority when zero.
	Priority   int
	AssigneeID int64
	Deadline   time.Time
	ActorID    int64
}

func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	task, err := e.createTask(context.WithoutCancel(ctx), opts)
	if err != nil {
		e.Metrics.Refused(domain.EventTaskCreated, ErrorCode(err))
		return task, err
	}
	e.Metrics.Transition(domain.EventTaskCreated)
	e.logger().Info("task created", "task_id", task.ID, "global_num", task.GlobalNum, "actor_id", opts.ActorID, "assigned_to", task.AssignedTo)
	e.notify(ctx, opts.ActorID, domain.EventTaskCreated, task, task.AssignedTo)
	return task, nil
}

func (e Engine) createTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	title := strings.TrimSpace(opts.Title)
	if title == "" {
		return domain.Task{}, validation("title is required")
	}
	if opts.Priority == 0 {
		opts.Priority = e.Config.Tasks.DefaultPriority
	}
	if opts.Priority < 1 || opts.Priority > 5 {
		return domain.Task{}, validation("priority %d out of range 1..5", opts.Priority)
	}
	if err := validateAttachment(opts.Attachment); err != nil {
		return domain.Task{}, err
	}
	if opts.Deadline.IsZero() {
		return domain.Task{}, validation("deadline is required")
	}
	now := e.LocalNow()
	deadline := domain.DateOf(opts.Deadline)
	if deadline.Before(domain.DateOf(now)) {
		return domain.Task{}, validation("deadline %s is in the past", deadline.Format(domain.DateLayout))
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, e.storeError("create task", 0, opts.ActorID, err)
	}
	defer tx.Rollback()

	for _, id := range []int64{opts.ActorID, opts.AssigneeID} {
		if err := e.requireEligible(ctx, tx, id); err != nil {
			return domain.Task{}, err
		}
	}
	num, err := numbering.Next(ctx, tx, now, opts.AssigneeID)
	if err != nil {
		return domain.Task{}, e.storeError("create task", 0, opts.ActorID, err)
	}
	task, err := e.Repo.InsertTask(ctx, tx, repo.NewTask{
		GlobalNum:   num.Global,
		UserNum:     num.User,
		NumPeriod:   num.Period,
		Title:       title,
		Description: opts.Description,
		Attachment:  opts.Attachment,
		Priority:    opts.Priority,
		AssignedBy:  opts.ActorID,
		AssignedTo:  opts.AssigneeID,
		Deadline:    deadline,
		CreatedAt:   now,
	})
	if err != nil {
		return domain.Task{}, e.storeError("create task", 0, opts.ActorID, err)
	}
	if err := e.appendEvent(ctx, tx, domain.EventTaskCreated, task.ID, opts.ActorID, events.EventPayload{
		"global_num":  task.GlobalNum,
		"user_num":    task.UserNum,
		"assigned_to": task.AssignedTo,
		"deadline":    deadline.Format(domain.DateLayout),
	}); err != nil {
		return domain.Task{}, e.storeError("create task", task.ID, opts.ActorID, err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, e.storeError("create task", task.ID, opts.ActorID, err)
	}
	return task, nil
}

// requireEligible fails with ErrValidationFailed unless the employee exists,
// is confirmed and is active.
func (e Engine) requireEligible(ctx context.Context, tx *sql.Tx, employeeID int64) error {
	emp, err := e.Repo.GetEmployeeTx(ctx, tx, employeeID)
	if errors.Is(err, repo.ErrNotFound) {
		return validation("unknown employee %d", employeeID)
	}
	if err != nil {
		return e.storeError("lookup employee", 0, employeeID, err)
	}
	if !emp.Eligible() {
		return validation("employee %d is not confirmed or not active", employeeID)
	}
	return nil
}

func validateAttachment(a *domain.Attachment) error {
	if a == nil {
		return nil
	}
	if strings.TrimSpace(a.FileID) == "" {
		return validation("attachment file id is required")
	}
	if !a.Kind.Valid() {
		return validation("unknown attachment kind %q", a.Kind)
	}
	return nil
}

func (e Engine) GetTask(ctx context.Context, id int64) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, id)
	if err != nil {
		return t, e.storeError("get task", id, 0, err)
	}
	return t, nil
}

func (e Engine) ListTasks(ctx context.Context, f repo.TaskFilters) ([]domain.Task, error) {
	tasks, err := e.Repo.ListTasks(ctx, f)
	if err != nil {
		return nil, e.storeError("list tasks", 0, 0, err)
	}
	return tasks, nil
}

const inboxLimit = 50

// Inbox lists what waits for the employee: open tasks assigned to them and
// completed work they assigned that awaits confirmation.
func (e Engine) Inbox(ctx context.Context, employeeID int64) ([]domain.Task, error) {
	tasks, err := e.Repo.ListInbox(ctx, employeeID, inboxLimit)
	if err != nil {
		return nil, e.storeError("inbox", 0, employeeID, err)
	}
	return tasks, nil
}

// change is the write a transition makes once its preconditions hold.
type change struct {
	guard   repo.TaskGuard
	patch   repo.TaskPatch
	payload events.EventPayload
	// after runs in the same transaction once the task row is updated.
	after func(ctx context.Context, tx *sql.Tx, t domain.Task) error
}

type planFunc func(ctx context.Context, tx *sql.Tx, t domain.Task, rel auth.Relation, now time.Time) (change, error)

func guardFor(t domain.Task) repo.TaskGuard {
	assignee := t.AssignedTo
	return repo.TaskGuard{Status: t.Status(), AssignedTo: &assignee}
}

// transition runs one actor command as a single transaction: read the task,
// let plan check it, apply the conditional write and append the audit event.
// A write that matches no row yields ErrInvalidTransition and changes nothing.
func (e Engine) transition(ctx context.Context, event string, taskID, actorID int64, plan planFunc) (before, after domain.Task, err error) {
	ctx = context.WithoutCancel(ctx)
	defer func() {
		if err != nil {
			e.Metrics.Refused(event, ErrorCode(err))
		}
	}()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return before, after, e.storeError(event, taskID, actorID, err)
	}
	defer tx.Rollback()

	before, err = e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return before, after, e.storeError(event, taskID, actorID, err)
	}
	rel, err := e.Auth.RelationTo(ctx, tx, before, actorID)
	if err != nil {
		return before, after, e.storeError(event, taskID, actorID, err)
	}
	now := e.LocalNow()
	c, err := plan(ctx, tx, before, rel, now)
	if err != nil {
		return before, after, err
	}
	c.patch.UpdatedAt = now
	ok, err := e.Repo.ConditionalUpdate(ctx, tx, taskID, c.guard, c.patch)
	if err != nil {
		return before, after, e.storeError(event, taskID, actorID, err)
	}
	if !ok {
		return before, after, invalid("%s task %d: state changed concurrently", event, taskID)
	}
	after, err = e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return before, after, e.storeError(event, taskID, actorID, err)
	}
	if c.after != nil {
		if err := c.after(ctx, tx, after); err != nil {
			return before, after, e.storeError(event, taskID, actorID, err)
		}
	}
	if err := e.appendEvent(ctx, tx, event, taskID, actorID, c.payload); err != nil {
		return before, after, e.storeError(event, taskID, actorID, err)
	}
	if err := tx.Commit(); err != nil {
		return before, after, e.storeError(event, taskID, actorID, err)
	}
	e.Metrics.Transition(event)
	e.logger().Info("task transition", "event", event, "task_id", taskID, "actor_id", actorID,
		"from", before.Status(), "to", after.Status())
	return before, after, nil
}

func patchTo(state domain.State, accepted *bool) repo.TaskPatch {
	return repo.TaskPatch{State: state, Accepted: accepted}
}

// Events returns audit events, newest first.
func (e Engine) Events(ctx context.Context, f repo.EventFilters) ([]domain.Event, error) {
	items, err := e.Repo.LatestEvents(ctx, f)
	if err != nil {
		return nil, e.storeError("list events", f.TaskID, 0, err)
	}
	return items, nil
}
