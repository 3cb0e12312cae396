package scanner_test

import (
	"context"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agrotasks/internal/config"
	"agrotasks/internal/db"
	"agrotasks/internal/domain"
	"agrotasks/internal/engine"
	"agrotasks/internal/migrate"
	"agrotasks/internal/notify"
	"agrotasks/internal/repo"
	"agrotasks/internal/scanner"
)

const (
	boss   int64 = 1
	worker int64 = 2
)

var start = time.Date(2024, 5, 20, 8, 0, 0, 0, time.UTC)

type fixture struct {
	eng      *engine.Engine
	scan     scanner.Scanner
	notified *notify.Recorder
	clock    *time.Time
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))

	cfg := config.Default()
	cfg.Timezone = "UTC"
	clock := start
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return clock }
	rec := &notify.Recorder{}
	eng.Notifier = rec
	for _, emp := range []domain.Employee{
		{ID: boss, FullName: "Boss", IsConfirmed: true, IsActive: true},
		{ID: worker, FullName: "Worker", IsConfirmed: true, IsActive: true},
	} {
		_, err := eng.AddEmployee(context.Background(), emp)
		require.NoError(t, err)
	}
	return fixture{eng: &eng, scan: scanner.New(eng), notified: rec, clock: &clock}
}

func (f fixture) create(t *testing.T, deadline time.Time) domain.Task {
	t.Helper()
	task, err := f.eng.CreateTask(context.Background(), engine.TaskCreateOptions{
		Title: "Harvest plot 7", AssigneeID: worker, Deadline: deadline, ActorID: boss,
	})
	require.NoError(t, err)
	return task
}

func (f fixture) fines(t *testing.T, taskID int64) []domain.Fine {
	t.Helper()
	fines, err := f.eng.Repo.ListFines(context.Background(), repo.FineFilters{TaskID: taskID})
	require.NoError(t, err)
	return fines
}

func day(offset int) time.Time {
	return domain.DateOf(start).AddDate(0, 0, offset)
}

// Scenario A.
func TestOverdueThenCompleteAndConfirm(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.create(t, day(1))
	require.Equal(t, domain.StatusPending, task.Status())

	_, err := f.eng.Accept(ctx, task.ID, worker)
	require.NoError(t, err)

	*f.clock = start.AddDate(0, 0, 2)
	ids, err := f.scan.Sweep(ctx, day(2))
	require.NoError(t, err)
	assert.Equal(t, []int64{task.ID}, ids)

	got, err := f.eng.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOverdue, got.Status())
	fines := f.fines(t, task.ID)
	require.Len(t, fines, 1)
	assert.True(t, fines[0].Amount.Equal(decimal.NewFromInt(1000)))
	assert.Equal(t, "deadline exceeded", fines[0].Reason)
	assert.Equal(t, domain.FinePending, fines[0].Status)
	assert.Equal(t, worker, fines[0].UserID)
	assert.Nil(t, fines[0].CreatedBy)
	assert.Contains(t, f.notified.For(worker), domain.EventTaskOverdue)

	done, err := f.eng.Complete(ctx, task.ID, worker, engine.Report{Text: "done"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusWaitConfirm, done.Status())
	assert.Equal(t, domain.ConfirmWait, done.ConfirmStatus())

	confirmed, err := f.eng.Confirm(ctx, task.ID, boss)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, confirmed.Status())
	assert.Equal(t, domain.ConfirmConfirmed, confirmed.ConfirmStatus())
	assert.NotNil(t, confirmed.CompletedAt())
}

func TestSweepIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.create(t, day(0))
	b := f.create(t, day(0))
	for _, id := range []int64{a.ID, b.ID} {
		_, err := f.eng.Accept(ctx, id, worker)
		require.NoError(t, err)
	}

	first, err := f.scan.Sweep(ctx, day(1))
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{a.ID, b.ID}, first)

	second, err := f.scan.Sweep(ctx, day(1))
	require.NoError(t, err)
	assert.Empty(t, second)
	later, err := f.scan.Sweep(ctx, day(5))
	require.NoError(t, err)
	assert.Empty(t, later)

	assert.Len(t, f.fines(t, a.ID), 1)
	assert.Len(t, f.fines(t, b.ID), 1)
}

func TestSweepGraceDays(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pending := f.create(t, day(0))
	accepted := f.create(t, day(0))
	_, err := f.eng.Accept(ctx, accepted.ID, worker)
	require.NoError(t, err)

	// On the deadline itself nothing expires.
	ids, err := f.scan.Sweep(ctx, day(0))
	require.NoError(t, err)
	assert.Empty(t, ids)

	// deadline <= today-1: pending and accepted work expire on the same day.
	ids, err = f.scan.Sweep(ctx, day(1))
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{pending.ID, accepted.ID}, ids)
	assert.Len(t, f.fines(t, pending.ID), 1)
	assert.Len(t, f.fines(t, accepted.ID), 1)
}

func TestSweepWithPendingGrace(t *testing.T) {
	f := newFixture(t)
	f.eng.Config.Penalty.PendingGraceDays = 1
	f.scan = scanner.New(*f.eng)
	ctx := context.Background()
	pending := f.create(t, day(0))
	accepted := f.create(t, day(0))
	_, err := f.eng.Accept(ctx, accepted.ID, worker)
	require.NoError(t, err)

	ids, err := f.scan.Sweep(ctx, day(1))
	require.NoError(t, err)
	assert.Equal(t, []int64{accepted.ID}, ids)

	ids, err = f.scan.Sweep(ctx, day(2))
	require.NoError(t, err)
	assert.Equal(t, []int64{pending.ID}, ids)
}

func TestSweepStampsWithEngineClock(t *testing.T) {
	f := newFixture(t)
	f.eng.Config.Timezone = "Asia/Tashkent"
	f.scan = scanner.New(*f.eng)
	ctx := context.Background()
	task := f.create(t, day(0))
	*f.clock = day(1).Add(2 * time.Hour)
	want := f.eng.LocalNow()
	require.Equal(t, "Asia/Tashkent", want.Location().String())

	ids, err := f.scan.Sweep(ctx, day(1))
	require.NoError(t, err)
	require.Equal(t, []int64{task.ID}, ids)

	fines := f.fines(t, task.ID)
	require.Len(t, fines, 1)
	assert.True(t, fines[0].CreatedAt.Equal(want), "fine stamped %s, clock %s", fines[0].CreatedAt, want)
	got, err := f.eng.Repo.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.True(t, got.UpdatedAt.Equal(want), "task stamped %s, clock %s", got.UpdatedAt, want)
	evts, err := f.eng.Repo.LatestEvents(ctx, repo.EventFilters{TaskID: task.ID, Type: domain.EventTaskOverdue})
	require.NoError(t, err)
	require.Len(t, evts, 1)
	assert.Equal(t, want.UTC().Format(time.RFC3339), evts[0].TS)
}

func TestSweepSkipsSettledTasks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rejected := f.create(t, day(0))
	_, err := f.eng.Reject(ctx, rejected.ID, worker, "not my field")
	require.NoError(t, err)
	waiting := f.create(t, day(0))
	_, err = f.eng.Accept(ctx, waiting.ID, worker)
	require.NoError(t, err)
	_, err = f.eng.Complete(ctx, waiting.ID, worker, engine.Report{Text: "ok"})
	require.NoError(t, err)

	ids, err := f.scan.Sweep(ctx, day(10))
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.Empty(t, f.fines(t, rejected.ID))
	assert.Empty(t, f.fines(t, waiting.ID))
}

func TestSweepAfterExtension(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.create(t, day(0))
	_, err := f.eng.Accept(ctx, task.ID, worker)
	require.NoError(t, err)
	_, err = f.eng.ExtendDeadline(ctx, task.ID, worker, time.Time{})
	require.NoError(t, err)

	ids, err := f.scan.Sweep(ctx, day(3))
	require.NoError(t, err)
	assert.Empty(t, ids)
	ids, err = f.scan.Sweep(ctx, day(4))
	require.NoError(t, err)
	assert.Equal(t, []int64{task.ID}, ids)
}

func TestSchedulerDisabled(t *testing.T) {
	f := newFixture(t)
	f.eng.Config.Scanner.Enabled = false
	_, err := scanner.NewScheduler(scanner.New(*f.eng))
	assert.ErrorIs(t, err, scanner.ErrDisabled)
}

func TestSchedulerStopsWithContext(t *testing.T) {
	f := newFixture(t)
	sched, err := scanner.NewScheduler(f.scan)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sched.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
