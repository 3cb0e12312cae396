package agrotaskssdk_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agrotasks/internal/config"
	"agrotasks/internal/db"
	"agrotasks/internal/domain"
	"agrotasks/internal/engine"
	"agrotasks/internal/migrate"
	"agrotasks/internal/scanner"
	"agrotasks/internal/server"
	agrotaskssdk "agrotasks/sdk/go"
)

const secret = "sdk-secret"

func newAPI(t *testing.T) *httptest.Server {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))

	cfg := config.Default()
	cfg.Timezone = "UTC"
	e := engine.New(conn, cfg)
	e.Now = func() time.Time { return time.Date(2024, 5, 20, 8, 0, 0, 0, time.UTC) }
	for _, emp := range []domain.Employee{
		{ID: 1, FullName: "Anna Boss", IsConfirmed: true, IsActive: true},
		{ID: 2, FullName: "Boris Worker", IsConfirmed: true, IsActive: true},
	} {
		_, err := e.AddEmployee(context.Background(), emp)
		require.NoError(t, err)
	}
	handler, err := server.New(server.Config{
		Engine:  e,
		Scanner: scanner.New(e),
		Auth:    server.AuthConfig{JWTSecret: secret},
	})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func clientFor(t *testing.T, srv *httptest.Server, employeeID int64) *agrotaskssdk.Client {
	t.Helper()
	token, err := server.IssueToken(secret, employeeID, time.Hour)
	require.NoError(t, err)
	return agrotaskssdk.New(srv.URL, token)
}

func TestClientDrivesTaskLifecycle(t *testing.T) {
	srv := newAPI(t)
	ctx := context.Background()
	boss := clientFor(t, srv, 1)
	worker := clientFor(t, srv, 2)

	task, err := boss.CreateTask(ctx, agrotaskssdk.NewTask{Title: "Mow the east field", AssigneeID: 2, Deadline: "2024-05-22"})
	require.NoError(t, err)
	assert.Equal(t, "pending", task.Status)

	inbox, err := worker.Inbox(ctx)
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, task.ID, inbox[0].ID)

	task, err = worker.Accept(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "in_progress", task.Status)

	task, err = worker.Extend(ctx, task.ID, "")
	require.NoError(t, err)
	assert.Equal(t, "2024-05-25", task.Deadline)

	task, err = worker.Complete(ctx, task.ID, "done before rain", nil)
	require.NoError(t, err)
	assert.Equal(t, "wait_confirm", task.Status)

	task, err = boss.Return(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "in_progress", task.Status)

	events, err := boss.TaskEvents(ctx, task.ID, 10)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, domain.EventTaskReturned, events[0].Type)
}

func TestClientDecodesErrorEnvelope(t *testing.T) {
	srv := newAPI(t)
	ctx := context.Background()
	boss := clientFor(t, srv, 1)

	task, err := boss.CreateTask(ctx, agrotaskssdk.NewTask{Title: "Feed the cattle", AssigneeID: 2, Deadline: "2024-05-21"})
	require.NoError(t, err)

	_, err = boss.Accept(ctx, task.ID)
	var apiErr *agrotaskssdk.APIError
	require.True(t, errors.As(err, &apiErr), "expected APIError, got %v", err)
	assert.Equal(t, 409, apiErr.StatusCode)
	assert.True(t, apiErr.IsInvalidTransition())

	_, err = boss.AddFine(ctx, 2, "100", "late", nil)
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "forbidden", apiErr.Code)

	anonymous := agrotaskssdk.New(srv.URL, "")
	_, err = anonymous.Inbox(ctx)
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 401, apiErr.StatusCode)
}
