package server

import (
	"time"

	"agrotasks/internal/domain"
)

// Request payloads

type AttachmentRequest struct {
	FileID string `json:"file_id" minLength:"1"`
	Kind   string `json:"kind" enum:"photo,video,document"`
}

func (a *AttachmentRequest) domain() *domain.Attachment {
	if a == nil {
		return nil
	}
	return &domain.Attachment{FileID: a.FileID, Kind: domain.AttachmentKind(a.Kind)}
}

type CreateTaskRequest struct {
	Title       string             `json:"title" minLength:"1"`
	Description string             `json:"description,omitempty"`
	Attachment  *AttachmentRequest `json:"attachment,omitempty"`
	Priority    int                `json:"priority,omitempty" minimum:"0" maximum:"5"`
	AssigneeID  int64              `json:"assignee_id"`
	Deadline    string             `json:"deadline" format:"date" example:"2024-05-31"`
}

type RejectTaskRequest struct {
	Comment string `json:"comment"`
}

type DelegateTaskRequest struct {
	AssigneeID int64 `json:"assignee_id"`
}

type ExtendTaskRequest struct {
	// Until is the new deadline; when empty the configured number of days is added.
	Until string `json:"until,omitempty" format:"date"`
}

type CompleteTaskRequest struct {
	Text       string             `json:"text,omitempty"`
	Attachment *AttachmentRequest `json:"attachment,omitempty"`
}

type CreateFineRequest struct {
	UserID int64  `json:"user_id"`
	Amount string `json:"amount" example:"1000"`
	Reason string `json:"reason" minLength:"1"`
	TaskID *int64 `json:"task_id,omitempty"`
}

type SweepRequest struct {
	Date string `json:"date,omitempty" format:"date"`
}

// Response payloads

type TaskResponse struct {
	ID            int64              `json:"id"`
	GlobalNum     string             `json:"global_num"`
	UserNum       int                `json:"user_num"`
	Title         string             `json:"title"`
	Description   string             `json:"description,omitempty"`
	Attachment    *domain.Attachment `json:"attachment,omitempty"`
	Priority      int                `json:"priority"`
	AssignedBy    int64              `json:"assigned_by"`
	AssignedTo    int64              `json:"assigned_to"`
	Deadline      string             `json:"deadline" format:"date"`
	Status        string             `json:"status" enum:"pending,in_progress,wait_confirm,completed,overdue,canceled"`
	ConfirmStatus string             `json:"confirm_status,omitempty"`
	IsAccepted    bool               `json:"is_accepted"`
	RejectComment string             `json:"reject_comment,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
	CompletedAt   *time.Time         `json:"completed_at,omitempty"`
}

func taskResponse(t domain.Task) TaskResponse {
	return TaskResponse{
		ID:            t.ID,
		GlobalNum:     t.GlobalNum,
		UserNum:       t.UserNum,
		Title:         t.Title,
		Description:   t.Description,
		Attachment:    t.Attachment,
		Priority:      t.Priority,
		AssignedBy:    t.AssignedBy,
		AssignedTo:    t.AssignedTo,
		Deadline:      t.Deadline.Format(domain.DateLayout),
		Status:        string(t.Status()),
		ConfirmStatus: string(t.ConfirmStatus()),
		IsAccepted:    t.Accepted,
		RejectComment: t.RejectComment(),
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
		CompletedAt:   t.CompletedAt(),
	}
}

func mapTasks(items []domain.Task) []TaskResponse {
	out := make([]TaskResponse, 0, len(items))
	for _, t := range items {
		out = append(out, taskResponse(t))
	}
	return out
}

type FineResponse struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Amount    string    `json:"amount"`
	Reason    string    `json:"reason"`
	TaskID    *int64    `json:"task_id,omitempty"`
	Status    string    `json:"status" enum:"pending,confirmed,canceled"`
	CreatedBy *int64    `json:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func fineResponse(f domain.Fine) FineResponse {
	return FineResponse{
		ID:        f.ID,
		UserID:    f.UserID,
		Amount:    f.Amount.String(),
		Reason:    f.Reason,
		TaskID:    f.TaskID,
		Status:    string(f.Status),
		CreatedBy: f.CreatedBy,
		CreatedAt: f.CreatedAt,
		UpdatedAt: f.UpdatedAt,
	}
}

type StatsResponse struct {
	UserID     int64          `json:"user_id"`
	Period     string         `json:"period" example:"2024-05"`
	Total      int            `json:"total"`
	ByStatus   map[string]int `json:"by_status"`
	FinesTotal string         `json:"fines_total"`
	Rating     int64          `json:"rating"`
}

func statsResponse(s domain.MonthStats) StatsResponse {
	by := make(map[string]int, len(s.ByStatus))
	for k, v := range s.ByStatus {
		by[string(k)] = v
	}
	return StatsResponse{
		UserID:     s.UserID,
		Period:     s.Period,
		Total:      s.Total,
		ByStatus:   by,
		FinesTotal: s.FinesTotal.String(),
		Rating:     s.Rating,
	}
}

type SweepResponse struct {
	Date    string  `json:"date" format:"date"`
	Expired []int64 `json:"expired"`
}
