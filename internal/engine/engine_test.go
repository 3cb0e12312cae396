package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/shopspring/decimal"

	"agrotasks/internal/config"
	"agrotasks/internal/db"
	"agrotasks/internal/domain"
	"agrotasks/internal/engine"
	"agrotasks/internal/engine/auth"
	"agrotasks/internal/migrate"
	"agrotasks/internal/notify"
	"agrotasks/internal/repo"
)

const (
	boss     int64 = 100
	worker   int64 = 200
	helper   int64 = 300
	newbie   int64 = 400
	retired  int64 = 500
	overseer int64 = 600
)

var testNow = time.Date(2024, 5, 20, 9, 30, 0, 0, time.UTC)

type testEnv struct {
	Engine   engine.Engine
	Notified *notify.Recorder
	Ctx      context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	cfg.Timezone = "UTC"
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return testNow }
	rec := &notify.Recorder{}
	eng.Notifier = rec
	ctx := context.Background()

	for _, emp := range []domain.Employee{
		{ID: boss, FullName: "Anna Boss", IsConfirmed: true, IsActive: true},
		{ID: worker, FullName: "Boris Worker", IsConfirmed: true, IsActive: true},
		{ID: helper, FullName: "Vera Helper", IsConfirmed: true, IsActive: true},
		{ID: newbie, FullName: "Gleb Newbie", IsActive: true},
		{ID: retired, FullName: "Dmitry Retired", IsConfirmed: true},
		{ID: overseer, FullName: "Elena Admin", IsConfirmed: true, IsActive: true, IsAdmin: true},
	} {
		if _, err := eng.AddEmployee(ctx, emp); err != nil {
			t.Fatalf("seed employee %d: %v", emp.ID, err)
		}
	}
	return testEnv{Engine: eng, Notified: rec, Ctx: ctx}
}

func (env testEnv) createTask(t *testing.T, assignee int64) domain.Task {
	t.Helper()
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		Title:       "Inspect the grain dryer",
		Description: "Check burners and belts",
		AssigneeID:  assignee,
		Deadline:    testNow.AddDate(0, 0, 1),
		ActorID:     boss,
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

func (env testEnv) mustTask(t *testing.T, id int64) domain.Task {
	t.Helper()
	task, err := env.Engine.GetTask(env.Ctx, id)
	if err != nil {
		t.Fatalf("get task %d: %v", id, err)
	}
	return task
}

func expectErr(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("expected %v, got %v", target, err)
	}
}

func TestLocalNowUsesConfiguredZone(t *testing.T) {
	cfg := config.Default()
	cfg.Timezone = "Asia/Tashkent"
	eng := engine.New(nil, cfg)
	eng.Now = func() time.Time { return time.Date(2024, 5, 20, 21, 0, 0, 0, time.UTC) }

	now := eng.LocalNow()
	if now.Location().String() != "Asia/Tashkent" || now.Hour() != 2 {
		t.Fatalf("LocalNow = %s", now)
	}
	if got := eng.Today(); !got.Equal(time.Date(2024, 5, 21, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("Today = %s, want 2024-05-21", got.Format(domain.DateLayout))
	}

	eng.Now = nil
	if d := time.Since(eng.LocalNow()); d < 0 || d > time.Minute {
		t.Fatalf("LocalNow without a clock is %s off wall time", d)
	}
}

func TestCreateTaskStartsPending(t *testing.T) {
	env := newTestEnv(t)
	first := env.createTask(t, worker)
	second := env.createTask(t, worker)
	other := env.createTask(t, helper)

	if first.Status() != domain.StatusPending || first.Accepted {
		t.Fatalf("new task should be pending and unaccepted, got %s accepted=%v", first.Status(), first.Accepted)
	}
	if first.GlobalNum != "2024-05-0001" || second.GlobalNum != "2024-05-0002" || other.GlobalNum != "2024-05-0003" {
		t.Fatalf("unexpected global numbers %s %s %s", first.GlobalNum, second.GlobalNum, other.GlobalNum)
	}
	if first.UserNum != 1 || second.UserNum != 2 || other.UserNum != 1 {
		t.Fatalf("unexpected user numbers %d %d %d", first.UserNum, second.UserNum, other.UserNum)
	}
	if first.Priority != 1 {
		t.Fatalf("expected default priority 1, got %d", first.Priority)
	}
	if got := env.Notified.For(worker); len(got) != 2 || got[0] != domain.EventTaskCreated {
		t.Fatalf("assignee should be told about new tasks, got %v", got)
	}
	if got := env.Notified.For(boss); len(got) != 0 {
		t.Fatalf("assigner should not be notified of own action, got %v", got)
	}
}

func TestCreateTaskValidation(t *testing.T) {
	env := newTestEnv(t)
	tomorrow := testNow.AddDate(0, 0, 1)
	cases := map[string]engine.TaskCreateOptions{
		"empty title":          {Title: "  ", AssigneeID: worker, Deadline: tomorrow, ActorID: boss},
		"priority too high":    {Title: "x", Priority: 6, AssigneeID: worker, Deadline: tomorrow, ActorID: boss},
		"deadline in the past": {Title: "x", AssigneeID: worker, Deadline: testNow.AddDate(0, 0, -1), ActorID: boss},
		"no deadline":          {Title: "x", AssigneeID: worker, ActorID: boss},
		"unknown assignee":     {Title: "x", AssigneeID: 999, Deadline: tomorrow, ActorID: boss},
		"unconfirmed assignee": {Title: "x", AssigneeID: newbie, Deadline: tomorrow, ActorID: boss},
		"inactive assignee":    {Title: "x", AssigneeID: retired, Deadline: tomorrow, ActorID: boss},
		"bad attachment kind": {Title: "x", AssigneeID: worker, Deadline: tomorrow, ActorID: boss,
			Attachment: &domain.Attachment{FileID: "f", Kind: "audio"}},
	}
	for name, opts := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := env.Engine.CreateTask(env.Ctx, opts)
			expectErr(t, err, engine.ErrValidationFailed)
		})
	}
	tasks, err := env.Engine.ListTasks(env.Ctx, repo.TaskFilters{})
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 0 {
		t.Fatalf("rejected creates must not store tasks, found %d", len(tasks))
	}
}

func TestCreateTaskDeadlineTodayAllowed(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		Title: "Same day", AssigneeID: worker, Deadline: testNow, ActorID: boss, Priority: 5,
		Attachment: &domain.Attachment{FileID: "file-1", Kind: domain.AttachmentPhoto},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if task.Deadline.Format(domain.DateLayout) != "2024-05-20" || task.Attachment == nil || task.Attachment.FileID != "file-1" {
		t.Fatalf("unexpected task %+v", task)
	}
}

func TestConcurrentCreatesYieldDistinctNumbers(t *testing.T) {
	env := newTestEnv(t)
	const n = 12
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		users = map[int]bool{}
		globs = map[string]bool{}
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
				Title: "parallel", AssigneeID: worker, Deadline: testNow, ActorID: boss,
			})
			if err != nil {
				t.Errorf("create: %v", err)
				return
			}
			mu.Lock()
			users[task.UserNum] = true
			globs[task.GlobalNum] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	if len(users) != n || len(globs) != n {
		t.Fatalf("expected %d distinct numbers, got %d user and %d global", n, len(users), len(globs))
	}
}

func TestAcceptOnlyFromPending(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, worker)

	accepted, err := env.Engine.Accept(env.Ctx, task.ID, worker)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if accepted.Status() != domain.StatusInProgress || !accepted.Accepted {
		t.Fatalf("expected in_progress and accepted, got %s %v", accepted.Status(), accepted.Accepted)
	}
	_, err = env.Engine.Accept(env.Ctx, task.ID, worker)
	expectErr(t, err, engine.ErrInvalidTransition)

	after := env.mustTask(t, task.ID)
	if after.Status() != domain.StatusInProgress || !after.UpdatedAt.Equal(accepted.UpdatedAt) {
		t.Fatalf("failed accept must not touch the task: %+v", after)
	}
	if got := env.Notified.For(boss); len(got) != 1 || got[0] != domain.EventTaskAccepted {
		t.Fatalf("assigner should hear about acceptance once, got %v", got)
	}
}

func TestOnlyAssigneeActsOnPendingTask(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, worker)

	for _, actor := range []int64{boss, helper, overseer} {
		_, err := env.Engine.Accept(env.Ctx, task.ID, actor)
		expectErr(t, err, engine.ErrInvalidTransition)
		_, err = env.Engine.Reject(env.Ctx, task.ID, actor, "not mine")
		expectErr(t, err, engine.ErrInvalidTransition)
	}
	if got := env.mustTask(t, task.ID).Status(); got != domain.StatusPending {
		t.Fatalf("expected pending, got %s", got)
	}
}

func TestUnknownTask(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.Accept(env.Ctx, 4242, worker)
	expectErr(t, err, engine.ErrNotFound)
	_, err = env.Engine.GetTask(env.Ctx, 4242)
	expectErr(t, err, engine.ErrNotFound)
	_, err = env.Engine.Reports(env.Ctx, 4242)
	expectErr(t, err, engine.ErrNotFound)
}

// Scenario B.
func TestRejectCancelsTask(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, worker)

	_, err := env.Engine.Reject(env.Ctx, task.ID, worker, "   ")
	expectErr(t, err, engine.ErrValidationFailed)

	rejected, err := env.Engine.Reject(env.Ctx, task.ID, worker, "wrong person")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.Status() != domain.StatusCanceled || rejected.RejectComment() != "wrong person" {
		t.Fatalf("expected canceled with comment, got %s %q", rejected.Status(), rejected.RejectComment())
	}
	_, err = env.Engine.Accept(env.Ctx, task.ID, worker)
	expectErr(t, err, engine.ErrInvalidTransition)
}

// Scenario C.
func TestDelegateResetsTask(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, worker)
	if _, err := env.Engine.Accept(env.Ctx, task.ID, worker); err != nil {
		t.Fatalf("accept: %v", err)
	}
	env.Notified.Reset()

	delegated, err := env.Engine.Delegate(env.Ctx, task.ID, helper, worker)
	if err != nil {
		t.Fatalf("delegate: %v", err)
	}
	if delegated.Status() != domain.StatusPending || delegated.Accepted || delegated.AssignedTo != helper {
		t.Fatalf("expected pending unaccepted task for helper, got %s %v %d", delegated.Status(), delegated.Accepted, delegated.AssignedTo)
	}
	if delegated.GlobalNum != task.GlobalNum || delegated.UserNum != task.UserNum ||
		delegated.Title != task.Title || delegated.Description != task.Description ||
		!delegated.Deadline.Equal(task.Deadline) || delegated.Priority != task.Priority {
		t.Fatalf("delegation must preserve identity fields: before %+v after %+v", task, delegated)
	}
	if got := env.Notified.For(helper); len(got) != 1 || got[0] != domain.EventTaskDelegated {
		t.Fatalf("new assignee should be notified, got %v", got)
	}
	if got := env.Notified.Messages(); len(got) != 1 {
		t.Fatalf("only the new assignee is notified, got %v", got)
	}

	// The previous assignee lost the task.
	_, err = env.Engine.Accept(env.Ctx, task.ID, worker)
	expectErr(t, err, engine.ErrInvalidTransition)
	if _, err := env.Engine.Accept(env.Ctx, task.ID, helper); err != nil {
		t.Fatalf("new assignee accept: %v", err)
	}
}

func TestDelegateRules(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, worker)

	_, err := env.Engine.Delegate(env.Ctx, task.ID, worker, boss)
	expectErr(t, err, engine.ErrValidationFailed)
	_, err = env.Engine.Delegate(env.Ctx, task.ID, 999, boss)
	expectErr(t, err, engine.ErrValidationFailed)
	_, err = env.Engine.Delegate(env.Ctx, task.ID, retired, boss)
	expectErr(t, err, engine.ErrValidationFailed)
	_, err = env.Engine.Delegate(env.Ctx, task.ID, newbie, boss)
	expectErr(t, err, engine.ErrValidationFailed)
	_, err = env.Engine.Delegate(env.Ctx, task.ID, boss, helper)
	expectErr(t, err, engine.ErrInvalidTransition)

	if _, err := env.Engine.Delegate(env.Ctx, task.ID, helper, boss); err != nil {
		t.Fatalf("assigner delegate: %v", err)
	}
	if _, err := env.Engine.Delegate(env.Ctx, task.ID, worker, overseer); err != nil {
		t.Fatalf("admin delegate: %v", err)
	}
	if _, err := env.Engine.Reject(env.Ctx, task.ID, worker, "no time"); err != nil {
		t.Fatalf("reject: %v", err)
	}
	_, err = env.Engine.Delegate(env.Ctx, task.ID, helper, boss)
	expectErr(t, err, engine.ErrInvalidTransition)
}

func TestDelegationCandidates(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, worker)
	cands, err := env.Engine.DelegationCandidates(env.Ctx, task.ID, boss)
	if err != nil {
		t.Fatalf("candidates: %v", err)
	}
	var ids []int64
	for _, c := range cands {
		ids = append(ids, c.ID)
	}
	// Sorted by name: Elena Admin, Vera Helper.
	if len(ids) != 2 || ids[0] != overseer || ids[1] != helper {
		t.Fatalf("unexpected candidates %v", ids)
	}
}

func TestCompleteConfirmLoop(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, worker)

	_, err := env.Engine.Complete(env.Ctx, task.ID, worker, engine.Report{Text: "done"})
	expectErr(t, err, engine.ErrInvalidTransition)
	if _, err := env.Engine.Accept(env.Ctx, task.ID, worker); err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.Confirm(env.Ctx, task.ID, boss)
	expectErr(t, err, engine.ErrInvalidTransition)

	done, err := env.Engine.Complete(env.Ctx, task.ID, worker, engine.Report{
		Text:       "belts replaced",
		Attachment: &domain.Attachment{FileID: "photo-1", Kind: domain.AttachmentPhoto},
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status() != domain.StatusWaitConfirm || done.ConfirmStatus() != domain.ConfirmWait {
		t.Fatalf("expected wait_confirm/wait, got %s/%s", done.Status(), done.ConfirmStatus())
	}
	if done.Description != task.Description {
		t.Fatalf("description must stay immutable, got %q", done.Description)
	}

	_, err = env.Engine.Confirm(env.Ctx, task.ID, worker)
	expectErr(t, err, engine.ErrInvalidTransition)

	returned, err := env.Engine.Return(env.Ctx, task.ID, boss)
	if err != nil {
		t.Fatalf("return: %v", err)
	}
	if returned.Status() != domain.StatusInProgress || returned.ConfirmStatus() != domain.ConfirmRejected {
		t.Fatalf("expected in_progress/rejected, got %s/%s", returned.Status(), returned.ConfirmStatus())
	}
	if _, err := env.Engine.Complete(env.Ctx, task.ID, worker, engine.Report{}); err != nil {
		t.Fatalf("complete again: %v", err)
	}

	env.Notified.Reset()
	confirmed, err := env.Engine.Confirm(env.Ctx, task.ID, overseer)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if confirmed.Status() != domain.StatusCompleted || confirmed.ConfirmStatus() != domain.ConfirmConfirmed || confirmed.CompletedAt() == nil {
		t.Fatalf("expected completed with timestamp, got %+v", confirmed)
	}
	if len(env.Notified.For(worker)) != 1 || len(env.Notified.For(boss)) != 1 || len(env.Notified.For(overseer)) != 0 {
		t.Fatalf("both parties hear the outcome, actor does not: %v", env.Notified.Messages())
	}

	completedAt := *confirmed.CompletedAt()
	env.Engine.Now = func() time.Time { return testNow.Add(48 * time.Hour) }
	_, err = env.Engine.Confirm(env.Ctx, task.ID, boss)
	expectErr(t, err, engine.ErrInvalidTransition)
	_, err = env.Engine.Return(env.Ctx, task.ID, boss)
	expectErr(t, err, engine.ErrInvalidTransition)
	if got := env.mustTask(t, task.ID).CompletedAt(); got == nil || !got.Equal(completedAt) {
		t.Fatalf("completed_at must never change, was %v now %v", completedAt, got)
	}

	reports, err := env.Engine.Reports(env.Ctx, task.ID)
	if err != nil {
		t.Fatalf("reports: %v", err)
	}
	if len(reports) != 1 || reports[0].Text != "belts replaced" || reports[0].Attachment == nil {
		t.Fatalf("expected one stored report, got %+v", reports)
	}
}

func TestConcurrentConfirmsOnlyOneWins(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, worker)
	if _, err := env.Engine.Accept(env.Ctx, task.ID, worker); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Complete(env.Ctx, task.ID, worker, engine.Report{Text: "ok"}); err != nil {
		t.Fatal(err)
	}

	const n = 6
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.Engine.Confirm(env.Ctx, task.ID, boss)
		}(i)
	}
	wg.Wait()
	wins := 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, engine.ErrInvalidTransition):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one successful confirm, got %d", wins)
	}
}

func TestExtendDeadline(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, worker)

	_, err := env.Engine.ExtendDeadline(env.Ctx, task.ID, worker, time.Time{})
	expectErr(t, err, engine.ErrInvalidTransition)
	if _, err := env.Engine.Accept(env.Ctx, task.ID, worker); err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.ExtendDeadline(env.Ctx, task.ID, boss, time.Time{})
	expectErr(t, err, engine.ErrInvalidTransition)

	extended, err := env.Engine.ExtendDeadline(env.Ctx, task.ID, worker, time.Time{})
	if err != nil {
		t.Fatalf("extend: %v", err)
	}
	if got := extended.Deadline.Format(domain.DateLayout); got != "2024-05-24" {
		t.Fatalf("expected deadline 2024-05-24, got %s", got)
	}
	if extended.Status() != domain.StatusInProgress {
		t.Fatalf("extension must not change status, got %s", extended.Status())
	}

	_, err = env.Engine.ExtendDeadline(env.Ctx, task.ID, worker, time.Date(2024, 5, 24, 0, 0, 0, 0, time.UTC))
	expectErr(t, err, engine.ErrValidationFailed)
	moved, err := env.Engine.ExtendDeadline(env.Ctx, task.ID, worker, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("extend to date: %v", err)
	}
	if got := moved.Deadline.Format(domain.DateLayout); got != "2024-06-01" {
		t.Fatalf("expected 2024-06-01, got %s", got)
	}
}

func TestInboxOrdering(t *testing.T) {
	env := newTestEnv(t)
	pending := env.createTask(t, worker)
	inProgress := env.createTask(t, worker)
	if _, err := env.Engine.Accept(env.Ctx, inProgress.ID, worker); err != nil {
		t.Fatal(err)
	}
	waiting := env.createTask(t, worker)
	if _, err := env.Engine.Accept(env.Ctx, waiting.ID, worker); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Complete(env.Ctx, waiting.ID, worker, engine.Report{}); err != nil {
		t.Fatal(err)
	}

	inbox, err := env.Engine.Inbox(env.Ctx, worker)
	if err != nil {
		t.Fatal(err)
	}
	if len(inbox) != 2 || inbox[0].ID != pending.ID || inbox[1].ID != inProgress.ID {
		t.Fatalf("unexpected worker inbox %+v", inbox)
	}
	bossInbox, err := env.Engine.Inbox(env.Ctx, boss)
	if err != nil {
		t.Fatal(err)
	}
	if len(bossInbox) != 1 || bossInbox[0].ID != waiting.ID {
		t.Fatalf("assigner should see the task waiting for confirmation, got %+v", bossInbox)
	}
}

func TestFineAdministration(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, worker)
	amount := decimal.RequireFromString("250.50")

	_, err := env.Engine.AddFine(env.Ctx, engine.FineOptions{UserID: worker, Amount: amount, Reason: "late", ActorID: boss})
	var forbidden auth.ForbiddenError
	if !errors.As(err, &forbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if engine.ErrorCode(err) != "forbidden" {
		t.Fatalf("unexpected code %s", engine.ErrorCode(err))
	}
	_, err = env.Engine.AddFine(env.Ctx, engine.FineOptions{UserID: worker, Amount: decimal.Zero, Reason: "late", ActorID: overseer})
	expectErr(t, err, engine.ErrValidationFailed)

	taskID := task.ID
	fine, err := env.Engine.AddFine(env.Ctx, engine.FineOptions{UserID: worker, Amount: amount, Reason: "late", TaskID: &taskID, ActorID: overseer})
	if err != nil {
		t.Fatalf("add fine: %v", err)
	}
	if fine.Status != domain.FinePending || !fine.Amount.Equal(amount) || fine.CreatedBy == nil || *fine.CreatedBy != overseer {
		t.Fatalf("unexpected fine %+v", fine)
	}

	_, err = env.Engine.ConfirmFine(env.Ctx, fine.ID, worker)
	if !errors.As(err, &forbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	confirmed, err := env.Engine.ConfirmFine(env.Ctx, fine.ID, overseer)
	if err != nil || confirmed.Status != domain.FineConfirmed {
		t.Fatalf("confirm fine: %v %+v", err, confirmed)
	}
	_, err = env.Engine.CancelFine(env.Ctx, fine.ID, overseer)
	expectErr(t, err, engine.ErrInvalidTransition)
	_, err = env.Engine.CancelFine(env.Ctx, 9999, overseer)
	expectErr(t, err, engine.ErrNotFound)

	fines, err := env.Engine.ListFines(env.Ctx, repo.FineFilters{UserID: worker, Status: domain.FineConfirmed})
	if err != nil || len(fines) != 1 {
		t.Fatalf("list fines: %v %+v", err, fines)
	}
}

func TestMonthStats(t *testing.T) {
	env := newTestEnv(t)
	done := env.createTask(t, worker)
	for _, step := range []func() error{
		func() error { _, err := env.Engine.Accept(env.Ctx, done.ID, worker); return err },
		func() error { _, err := env.Engine.Complete(env.Ctx, done.ID, worker, engine.Report{}); return err },
		func() error { _, err := env.Engine.Confirm(env.Ctx, done.ID, boss); return err },
	} {
		if err := step(); err != nil {
			t.Fatal(err)
		}
	}
	env.createTask(t, worker)
	fine, err := env.Engine.AddFine(env.Ctx, engine.FineOptions{UserID: worker, Amount: decimal.NewFromInt(350), Reason: "late", ActorID: overseer})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.ConfirmFine(env.Ctx, fine.ID, overseer); err != nil {
		t.Fatal(err)
	}
	// Pending fines do not count.
	if _, err := env.Engine.AddFine(env.Ctx, engine.FineOptions{UserID: worker, Amount: decimal.NewFromInt(1000), Reason: "late", ActorID: overseer}); err != nil {
		t.Fatal(err)
	}

	stats, err := env.Engine.MonthStats(env.Ctx, worker, testNow)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Period != "2024-05" || stats.Total != 2 || stats.ByStatus[domain.StatusCompleted] != 1 || stats.ByStatus[domain.StatusPending] != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if !stats.FinesTotal.Equal(decimal.NewFromInt(350)) || stats.Rating != 10-3 {
		t.Fatalf("unexpected fines/rating %s %d", stats.FinesTotal, stats.Rating)
	}
}

func TestTransitionsAreAudited(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, worker)
	if _, err := env.Engine.Accept(env.Ctx, task.ID, worker); err != nil {
		t.Fatal(err)
	}
	_, _ = env.Engine.Accept(env.Ctx, task.ID, worker)

	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, repo.EventFilters{TaskID: task.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(evts) != 2 || evts[0].Type != domain.EventTaskAccepted || evts[1].Type != domain.EventTaskCreated {
		t.Fatalf("expected created+accepted events only, got %+v", evts)
	}
	if evts[0].ActorID != worker {
		t.Fatalf("expected actor %d, got %d", worker, evts[0].ActorID)
	}
}

func TestErrorCode(t *testing.T) {
	cases := map[error]string{
		nil:                          "",
		engine.ErrNotFound:           "not_found",
		engine.ErrInvalidTransition:  "invalid_transition",
		engine.ErrValidationFailed:   "validation_failed",
		engine.ErrStoreUnavailable:   "store_unavailable",
		auth.ForbiddenError{}:        "forbidden",
		errors.New("something else"): "internal",
	}
	for err, want := range cases {
		if got := engine.ErrorCode(err); got != want {
			t.Errorf("ErrorCode(%v) = %q, want %q", err, got, want)
		}
	}
}
