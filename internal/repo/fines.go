package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"agrotasks/internal/domain"

	"github.com/shopspring/decimal"
)

const fineColumns = `id,user_id,amount,reason,task_id,status,created_by,created_at,updated_at`

func scanFine(row rowScanner) (domain.Fine, error) {
	var (
		f                    domain.Fine
		amount, status       string
		taskID, createdBy    sql.NullInt64
		createdAt, updatedAt string
	)
	err := row.Scan(&f.ID, &f.UserID, &amount, &f.Reason, &taskID, &status, &createdBy, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return f, ErrNotFound
	}
	if err != nil {
		return f, err
	}
	if f.Amount, err = decimal.NewFromString(amount); err != nil {
		return f, fmt.Errorf("fine %d amount: %w", f.ID, err)
	}
	f.Status = domain.FineStatus(status)
	if taskID.Valid {
		f.TaskID = &taskID.Int64
	}
	if createdBy.Valid {
		f.CreatedBy = &createdBy.Int64
	}
	if f.CreatedAt, err = parseTime(createdAt); err != nil {
		return f, err
	}
	f.UpdatedAt, err = parseTime(updatedAt)
	return f, err
}

// InsertFine stores a pending fine and returns it with its id.
func (r Repo) InsertFine(ctx context.Context, tx *sql.Tx, f domain.Fine) (domain.Fine, error) {
	if f.Status == "" {
		f.Status = domain.FinePending
	}
	now := formatTime(f.CreatedAt)
	res, err := tx.ExecContext(ctx, `INSERT INTO fines(user_id,amount,reason,task_id,status,created_by,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?)`,
		f.UserID, f.Amount.String(), f.Reason, nullableIDPtr(f.TaskID), string(f.Status), nullableIDPtr(f.CreatedBy), now, now)
	if err != nil {
		return domain.Fine{}, fmt.Errorf("insert fine for user %d: %w", f.UserID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.Fine{}, err
	}
	return scanFine(tx.QueryRowContext(ctx, `SELECT `+fineColumns+` FROM fines WHERE id=?`, id))
}

func (r Repo) GetFine(ctx context.Context, id int64) (domain.Fine, error) {
	return scanFine(r.DB.QueryRowContext(ctx, `SELECT `+fineColumns+` FROM fines WHERE id=?`, id))
}

func (r Repo) GetFineTx(ctx context.Context, tx *sql.Tx, id int64) (domain.Fine, error) {
	return scanFine(tx.QueryRowContext(ctx, `SELECT `+fineColumns+` FROM fines WHERE id=?`, id))
}

// SetFineStatus moves a fine from one status to another. It reports false when
// the fine was not in from.
func (r Repo) SetFineStatus(ctx context.Context, tx *sql.Tx, id int64, from, to domain.FineStatus, now time.Time) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE fines SET status=?, updated_at=? WHERE id=? AND status=?`,
		string(to), formatTime(now), id, string(from))
	if err != nil {
		return false, fmt.Errorf("update fine %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

type FineFilters struct {
	UserID int64
	TaskID int64
	Status domain.FineStatus
	Limit  int
}

func (r Repo) ListFines(ctx context.Context, f FineFilters) ([]domain.Fine, error) {
	var clauses []string
	var args []any
	if f.UserID != 0 {
		clauses = append(clauses, "user_id=?")
		args = append(args, f.UserID)
	}
	if f.TaskID != 0 {
		clauses = append(clauses, "task_id=?")
		args = append(args, f.TaskID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, string(f.Status))
	}
	query := `SELECT ` + fineColumns + ` FROM fines`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Fine
	for rows.Next() {
		fine, err := scanFine(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, fine)
	}
	return res, rows.Err()
}

// SumFines totals fines of userID in status created in [from, to). Amounts
// are summed as decimals, not in SQL.
func (r Repo) SumFines(ctx context.Context, userID int64, status domain.FineStatus, from, to time.Time) (decimal.Decimal, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT amount FROM fines WHERE user_id=? AND status=? AND created_at >= ? AND created_at < ?`,
		userID, string(status), formatTime(from), formatTime(to))
	if err != nil {
		return decimal.Zero, err
	}
	defer rows.Close()
	total := decimal.Zero
	for rows.Next() {
		var amount string
		if err := rows.Scan(&amount); err != nil {
			return decimal.Zero, err
		}
		d, err := decimal.NewFromString(amount)
		if err != nil {
			return decimal.Zero, fmt.Errorf("fine amount %q: %w", amount, err)
		}
		total = total.Add(d)
	}
	return total, rows.Err()
}
