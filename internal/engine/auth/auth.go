// Package auth decides which employees may act on a task.
package auth

import (
	"context"
	"database/sql"
	"fmt"

	"agrotasks/internal/domain"
)

// ForbiddenError indicates an administrator-only action by a regular employee.
type ForbiddenError struct {
	Action string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("%s requires an administrator", e.Action)
}

// Relation is the set of roles an actor holds towards one task.
type Relation uint8

const (
	Assignee Relation = 1 << iota
	Assigner
	Admin
)

// Any reports whether r holds at least one of roles.
func (r Relation) Any(roles Relation) bool {
	return r&roles != 0
}

// Service answers role questions from the employee directory.
type Service struct{}

// IsAdmin reports whether the employee is an active administrator. Unknown
// ids are not administrators.
func (Service) IsAdmin(ctx context.Context, tx *sql.Tx, employeeID int64) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM employees WHERE id=? AND is_admin=1 AND is_active=1`, employeeID).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (s Service) RequireAdmin(ctx context.Context, tx *sql.Tx, employeeID int64, action string) error {
	ok, err := s.IsAdmin(ctx, tx, employeeID)
	if err != nil {
		return err
	}
	if !ok {
		return ForbiddenError{Action: action}
	}
	return nil
}

// RelationTo computes the roles actorID holds towards t.
func (s Service) RelationTo(ctx context.Context, tx *sql.Tx, t domain.Task, actorID int64) (Relation, error) {
	var r Relation
	if actorID == t.AssignedTo {
		r |= Assignee
	}
	if actorID == t.AssignedBy {
		r |= Assigner
	}
	admin, err := s.IsAdmin(ctx, tx, actorID)
	if err != nil {
		return 0, err
	}
	if admin {
		r |= Admin
	}
	return r, nil
}
