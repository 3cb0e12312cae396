package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"agrotasks/internal/domain"
)

const employeeColumns = `id,full_name,is_confirmed,is_active,is_admin,created_at`

func scanEmployee(row rowScanner) (domain.Employee, error) {
	var e domain.Employee
	var createdAt string
	err := row.Scan(&e.ID, &e.FullName, &e.IsConfirmed, &e.IsActive, &e.IsAdmin, &createdAt)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	if err != nil {
		return e, err
	}
	e.CreatedAt, err = parseTime(createdAt)
	return e, err
}

func scanEmployees(rows *sql.Rows) ([]domain.Employee, error) {
	defer rows.Close()
	var res []domain.Employee
	for rows.Next() {
		e, err := scanEmployee(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// UpsertEmployee registers an employee or renames an existing one. Flags of an
// existing employee are left alone.
func (r Repo) UpsertEmployee(ctx context.Context, e domain.Employee) (domain.Employee, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO employees(id,full_name,is_confirmed,is_active,is_admin,created_at) VALUES (?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET full_name=excluded.full_name`,
		e.ID, e.FullName, e.IsConfirmed, e.IsActive, e.IsAdmin, formatTime(e.CreatedAt))
	if err != nil {
		return domain.Employee{}, fmt.Errorf("upsert employee %d: %w", e.ID, err)
	}
	return r.GetEmployee(ctx, e.ID)
}

func (r Repo) GetEmployee(ctx context.Context, id int64) (domain.Employee, error) {
	return scanEmployee(r.DB.QueryRowContext(ctx, `SELECT `+employeeColumns+` FROM employees WHERE id=?`, id))
}

func (r Repo) GetEmployeeTx(ctx context.Context, tx *sql.Tx, id int64) (domain.Employee, error) {
	return scanEmployee(tx.QueryRowContext(ctx, `SELECT `+employeeColumns+` FROM employees WHERE id=?`, id))
}

// EmployeeFlags lists the directory flags to change; nil fields are kept.
type EmployeeFlags struct {
	Confirmed *bool
	Active    *bool
	Admin     *bool
}

func (r Repo) SetEmployeeFlags(ctx context.Context, id int64, f EmployeeFlags) (domain.Employee, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE employees SET
	is_confirmed=COALESCE(?,is_confirmed),
	is_active=COALESCE(?,is_active),
	is_admin=COALESCE(?,is_admin)
WHERE id=?`, nullableBool(f.Confirmed), nullableBool(f.Active), nullableBool(f.Admin), id)
	if err != nil {
		return domain.Employee{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.Employee{}, ErrNotFound
	}
	return r.GetEmployee(ctx, id)
}

func (r Repo) ListEmployees(ctx context.Context) ([]domain.Employee, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+employeeColumns+` FROM employees ORDER BY full_name, id`)
	if err != nil {
		return nil, err
	}
	return scanEmployees(rows)
}

// ListEligibleAssignees returns confirmed active employees other than
// excluding, ordered by name.
func (r Repo) ListEligibleAssignees(ctx context.Context, excluding int64) ([]domain.Employee, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+employeeColumns+` FROM employees
WHERE is_confirmed=1 AND is_active=1 AND id<>?
ORDER BY full_name, id`, excluding)
	if err != nil {
		return nil, err
	}
	return scanEmployees(rows)
}

func nullableBool(v *bool) any {
	if v == nil {
		return nil
	}
	return *v
}
