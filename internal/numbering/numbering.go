// Package numbering hands out the human-facing task numbers.
//
// Counters live in the task_counters table and are advanced with a single
// upsert inside the transaction that inserts the task, so two concurrent
// creations can never observe the same value and a rolled back creation
// leaves no gap.
package numbering

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"agrotasks/internal/domain"
)

const globalScope = ""

// Number identifies a task in the month it was created.
type Number struct {
	Period string
	Global string
	User   int
}

func userScope(assigneeID int64) string {
	return fmt.Sprintf("user:%d", assigneeID)
}

// Next reserves the global and per-assignee numbers for a task created at now.
// Periods follow the calendar month of now in its own location.
func Next(ctx context.Context, tx *sql.Tx, now time.Time, assigneeID int64) (Number, error) {
	period := domain.Period(now)
	global, err := advance(ctx, tx, period, globalScope)
	if err != nil {
		return Number{}, err
	}
	user, err := advance(ctx, tx, period, userScope(assigneeID))
	if err != nil {
		return Number{}, err
	}
	return Number{
		Period: period,
		Global: FormatGlobal(period, global),
		User:   int(user),
	}, nil
}

// FormatGlobal renders a global number such as 2024-05-0007.
func FormatGlobal(period string, n int64) string {
	return fmt.Sprintf("%s-%04d", period, n)
}

func advance(ctx context.Context, tx *sql.Tx, period, scope string) (int64, error) {
	var value int64
	err := tx.QueryRowContext(ctx, `INSERT INTO task_counters(period,scope,value) VALUES (?,?,1)
ON CONFLICT(period,scope) DO UPDATE SET value=value+1
RETURNING value`, period, scope).Scan(&value)
	if err != nil {
		return 0, fmt.Errorf("advance counter %s/%q: %w", period, scope, err)
	}
	return value, nil
}
