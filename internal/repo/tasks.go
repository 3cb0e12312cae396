package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"agrotasks/internal/domain"
)

const taskColumns = `id,global_num,user_num,title,description,file_id,file_kind,priority,assigned_by,assigned_to,deadline,status,is_accepted,confirm_status,reject_comment,created_at,updated_at,completed_at`

func scanTask(row rowScanner) (domain.Task, error) {
	var (
		t                                       domain.Task
		fileID, fileKind, confirm, reject, done sql.NullString
		deadline, status, createdAt, updatedAt  string
	)
	err := row.Scan(&t.ID, &t.GlobalNum, &t.UserNum, &t.Title, &t.Description, &fileID, &fileKind, &t.Priority,
		&t.AssignedBy, &t.AssignedTo, &deadline, &status, &t.Accepted, &confirm, &reject, &createdAt, &updatedAt, &done)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if fileID.Valid {
		t.Attachment = &domain.Attachment{FileID: fileID.String, Kind: domain.AttachmentKind(fileKind.String)}
	}
	if t.Deadline, err = domain.ParseDate(deadline); err != nil {
		return t, fmt.Errorf("task %d deadline: %w", t.ID, err)
	}
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return t, err
	}
	if t.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return t, err
	}
	cols := domain.StateColumns{
		Status:        domain.Status(status),
		ConfirmStatus: domain.ConfirmStatus(confirm.String),
	}
	if done.Valid {
		at, err := parseTime(done.String)
		if err != nil {
			return t, err
		}
		cols.CompletedAt = &at
	}
	if reject.Valid {
		cols.RejectComment = &reject.String
	}
	if t.State, err = domain.StateFromColumns(cols); err != nil {
		return t, fmt.Errorf("task %d: %w", t.ID, err)
	}
	return t, nil
}

func scanTasks(rows *sql.Rows) ([]domain.Task, error) {
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// NewTask carries the insert-time fields of a task.
type NewTask struct {
	GlobalNum   string
	UserNum     int
	NumPeriod   string
	Title       string
	Description string
	Attachment  *domain.Attachment
	Priority    int
	AssignedBy  int64
	AssignedTo  int64
	Deadline    time.Time
	CreatedAt   time.Time
}

// InsertTask stores a new pending task and returns it with its id.
func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, n NewTask) (domain.Task, error) {
	var fileID, fileKind any
	if n.Attachment != nil {
		fileID, fileKind = n.Attachment.FileID, string(n.Attachment.Kind)
	}
	now := formatTime(n.CreatedAt)
	res, err := tx.ExecContext(ctx, `INSERT INTO tasks(global_num,user_num,num_period,num_owner,title,description,file_id,file_kind,priority,assigned_by,assigned_to,deadline,status,is_accepted,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,0,?,?)`,
		n.GlobalNum, n.UserNum, n.NumPeriod, n.AssignedTo, n.Title, n.Description, fileID, fileKind, n.Priority,
		n.AssignedBy, n.AssignedTo, formatDate(n.Deadline), string(domain.StatusPending), now, now)
	if err != nil {
		return domain.Task{}, fmt.Errorf("insert task: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.Task{}, err
	}
	return getTask(ctx, tx, id)
}

func getTask(ctx context.Context, q querier, id int64) (domain.Task, error) {
	return scanTask(q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
}

func (r Repo) GetTask(ctx context.Context, id int64) (domain.Task, error) {
	return getTask(ctx, r.DB, id)
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, id int64) (domain.Task, error) {
	return getTask(ctx, tx, id)
}

// TaskGuard is the state a conditional update expects to find.
type TaskGuard struct {
	Status        domain.Status
	ConfirmStatus *domain.ConfirmStatus
	AssignedTo    *int64
	Deadline      *time.Time
}

// TaskPatch lists the columns a transition writes. State is always written.
type TaskPatch struct {
	State      domain.State
	Accepted   *bool
	AssignedTo *int64
	Deadline   *time.Time
	UpdatedAt  time.Time
}

// ConditionalUpdate applies patch only if the row still matches guard. It
// reports whether a row was changed; false means the task moved on since it
// was read.
func (r Repo) ConditionalUpdate(ctx context.Context, tx *sql.Tx, id int64, guard TaskGuard, patch TaskPatch) (bool, error) {
	if patch.State == nil {
		return false, errors.New("task patch without state")
	}
	cols := domain.Columns(patch.State)
	var completedAt any
	if cols.CompletedAt != nil {
		completedAt = formatTime(*cols.CompletedAt)
	}
	var rejectComment any
	if cols.RejectComment != nil {
		rejectComment = *cols.RejectComment
	}
	sets := []string{"status=?", "confirm_status=?", "completed_at=?", "reject_comment=?", "updated_at=?"}
	args := []any{string(cols.Status), nullable(string(cols.ConfirmStatus)), completedAt, rejectComment, formatTime(patch.UpdatedAt)}
	if patch.Accepted != nil {
		sets = append(sets, "is_accepted=?")
		args = append(args, *patch.Accepted)
	}
	if patch.AssignedTo != nil {
		sets = append(sets, "assigned_to=?")
		args = append(args, *patch.AssignedTo)
	}
	if patch.Deadline != nil {
		sets = append(sets, "deadline=?")
		args = append(args, formatDate(*patch.Deadline))
	}

	where := []string{"id=?", "status=?"}
	args = append(args, id, string(guard.Status))
	if guard.ConfirmStatus != nil {
		where = append(where, "confirm_status IS ?")
		args = append(args, nullable(string(*guard.ConfirmStatus)))
	}
	if guard.AssignedTo != nil {
		where = append(where, "assigned_to=?")
		args = append(args, *guard.AssignedTo)
	}
	if guard.Deadline != nil {
		where = append(where, "deadline=?")
		args = append(args, formatDate(*guard.Deadline))
	}
	query := fmt.Sprintf(`UPDATE tasks SET %s WHERE %s`, strings.Join(sets, ","), strings.Join(where, " AND "))
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("update task %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

type TaskFilters struct {
	AssignedTo int64
	AssignedBy int64
	Statuses   []domain.Status
	Limit      int
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.AssignedTo != 0 {
		clauses = append(clauses, "assigned_to=?")
		args = append(args, f.AssignedTo)
	}
	if f.AssignedBy != 0 {
		clauses = append(clauses, "assigned_by=?")
		args = append(args, f.AssignedBy)
	}
	if len(f.Statuses) > 0 {
		clauses = append(clauses, "status IN ("+placeholders(len(f.Statuses))+")")
		for _, s := range f.Statuses {
			args = append(args, string(s))
		}
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + taskColumns + ` FROM tasks ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanTasks(rows)
}

func (r Repo) ListTasksByAssignee(ctx context.Context, assigneeID int64) ([]domain.Task, error) {
	return r.ListTasks(ctx, TaskFilters{AssignedTo: assigneeID})
}

// ListExpiredCandidates returns tasks in status whose deadline is strictly
// before cutoff, oldest deadline first.
func (r Repo) ListExpiredCandidates(ctx context.Context, status domain.Status, cutoff time.Time) ([]domain.Task, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE status=? AND deadline < ? ORDER BY deadline, id`,
		string(status), formatDate(cutoff))
	if err != nil {
		return nil, err
	}
	return scanTasks(rows)
}

// ListInbox returns what needs the user's attention: their own open tasks and
// reports they were asked to confirm.
func (r Repo) ListInbox(ctx context.Context, userID int64, limit int) ([]domain.Task, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks
WHERE (assigned_to=? AND status IN ('pending','in_progress','overdue'))
   OR (assigned_by=? AND status='wait_confirm' AND confirm_status='wait')
ORDER BY
	CASE status
		WHEN 'overdue' THEN 0
		WHEN 'pending' THEN 1
		WHEN 'in_progress' THEN 2
		WHEN 'wait_confirm' THEN 3
		ELSE 4
	END,
	deadline, id
LIMIT ?`, userID, userID, limit)
	if err != nil {
		return nil, err
	}
	return scanTasks(rows)
}

// CountTasksByStatus counts tasks assigned to userID created in [from, to).
func (r Repo) CountTasksByStatus(ctx context.Context, userID int64, from, to time.Time) (map[domain.Status]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM tasks WHERE assigned_to=? AND created_at >= ? AND created_at < ? GROUP BY status`,
		userID, formatTime(from), formatTime(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[domain.Status]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[domain.Status(status)] = count
	}
	return res, rows.Err()
}
