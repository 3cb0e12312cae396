package engine

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"agrotasks/internal/domain"
	"agrotasks/internal/engine/auth"
	"agrotasks/internal/repo"
)

// AddEmployee registers an employee in the directory, or renames an existing
// one. Registration and approval conversations live outside this module.
func (e Engine) AddEmployee(ctx context.Context, emp domain.Employee) (domain.Employee, error) {
	if emp.ID <= 0 {
		return domain.Employee{}, validation("employee id must be positive")
	}
	emp.FullName = strings.TrimSpace(emp.FullName)
	if emp.FullName == "" {
		return domain.Employee{}, validation("employee name is required")
	}
	if emp.CreatedAt.IsZero() {
		emp.CreatedAt = e.LocalNow()
	}
	out, err := e.Repo.UpsertEmployee(ctx, emp)
	if err != nil {
		return out, e.storeError("add employee", 0, emp.ID, err)
	}
	return out, nil
}

func (e Engine) UpdateEmployee(ctx context.Context, id int64, flags repo.EmployeeFlags) (domain.Employee, error) {
	out, err := e.Repo.SetEmployeeFlags(ctx, id, flags)
	if err != nil {
		return out, e.storeError("update employee", 0, id, err)
	}
	return out, nil
}

func (e Engine) ConfirmEmployee(ctx context.Context, id int64) (domain.Employee, error) {
	return e.UpdateEmployee(ctx, id, repo.EmployeeFlags{Confirmed: boolPtr(true), Active: boolPtr(true)})
}

func (e Engine) DeactivateEmployee(ctx context.Context, id int64) (domain.Employee, error) {
	return e.UpdateEmployee(ctx, id, repo.EmployeeFlags{Active: boolPtr(false)})
}

func (e Engine) ListEmployees(ctx context.Context) ([]domain.Employee, error) {
	emps, err := e.Repo.ListEmployees(ctx)
	if err != nil {
		return nil, e.storeError("list employees", 0, 0, err)
	}
	return emps, nil
}

// IsAdmin reports whether the employee is an active administrator.
func (e Engine) IsAdmin(ctx context.Context, employeeID int64) (bool, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, e.storeError("check admin", 0, employeeID, err)
	}
	defer tx.Rollback()
	ok, err := e.Auth.IsAdmin(ctx, tx, employeeID)
	if err != nil {
		return false, e.storeError("check admin", 0, employeeID, err)
	}
	return ok, nil
}

// RequireAdmin fails with auth.ForbiddenError unless the employee is an
// active administrator.
func (e Engine) RequireAdmin(ctx context.Context, employeeID int64, action string) error {
	ok, err := e.IsAdmin(ctx, employeeID)
	if err != nil {
		return err
	}
	if !ok {
		return auth.ForbiddenError{Action: action}
	}
	return nil
}

func (e Engine) requireAdminTx(ctx context.Context, tx *sql.Tx, employeeID int64, action string) error {
	err := e.Auth.RequireAdmin(ctx, tx, employeeID, action)
	var forbidden auth.ForbiddenError
	if err != nil && !errors.As(err, &forbidden) {
		return e.storeError(action, 0, employeeID, err)
	}
	return err
}
