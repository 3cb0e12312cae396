package repo

import (
	"context"
	"database/sql"

	"agrotasks/internal/domain"
)

type EventFilters struct {
	TaskID int64
	Type   string
	Limit  int
}

// LatestEvents returns audit events newest first.
func (r Repo) LatestEvents(ctx context.Context, f EventFilters) ([]domain.Event, error) {
	query := `SELECT id,ts,type,task_id,actor_id,payload_json FROM events WHERE 1=1`
	var args []any
	if f.TaskID != 0 {
		query += " AND task_id=?"
		args = append(args, f.TaskID)
	}
	if f.Type != "" {
		query += " AND type=?"
		args = append(args, f.Type)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var taskID sql.NullInt64
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &taskID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		if taskID.Valid {
			e.TaskID = &taskID.Int64
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
