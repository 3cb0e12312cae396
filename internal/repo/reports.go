package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"agrotasks/internal/domain"
)

func (r Repo) InsertReport(ctx context.Context, tx *sql.Tx, rep domain.TaskReport) (domain.TaskReport, error) {
	var fileID, fileKind any
	if rep.Attachment != nil {
		fileID, fileKind = rep.Attachment.FileID, string(rep.Attachment.Kind)
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO task_reports(task_id,author_id,text,file_id,file_kind,submitted_at) VALUES (?,?,?,?,?,?)`,
		rep.TaskID, rep.AuthorID, rep.Text, fileID, fileKind, formatTime(rep.SubmittedAt))
	if err != nil {
		return rep, fmt.Errorf("insert report for task %d: %w", rep.TaskID, err)
	}
	rep.ID, err = res.LastInsertId()
	rep.SubmittedAt = rep.SubmittedAt.UTC().Truncate(time.Second)
	return rep, err
}

// ListReports returns a task's reports, oldest first.
func (r Repo) ListReports(ctx context.Context, taskID int64) ([]domain.TaskReport, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,task_id,author_id,text,file_id,file_kind,submitted_at FROM task_reports WHERE task_id=? ORDER BY id`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TaskReport
	for rows.Next() {
		var rep domain.TaskReport
		var fileID, fileKind sql.NullString
		var submitted string
		if err := rows.Scan(&rep.ID, &rep.TaskID, &rep.AuthorID, &rep.Text, &fileID, &fileKind, &submitted); err != nil {
			return nil, err
		}
		if fileID.Valid {
			rep.Attachment = &domain.Attachment{FileID: fileID.String, Kind: domain.AttachmentKind(fileKind.String)}
		}
		if rep.SubmittedAt, err = parseTime(submitted); err != nil {
			return nil, err
		}
		res = append(res, rep)
	}
	return res, rows.Err()
}
