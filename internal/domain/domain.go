package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the storage and wire layout of calendar dates.
const DateLayout = time.DateOnly

// SystemActor is the actor id recorded for transitions nobody initiated.
const SystemActor int64 = 0

type AttachmentKind string

const (
	AttachmentPhoto    AttachmentKind = "photo"
	AttachmentVideo    AttachmentKind = "video"
	AttachmentDocument AttachmentKind = "document"
)

func (k AttachmentKind) Valid() bool {
	return k == AttachmentPhoto || k == AttachmentVideo || k == AttachmentDocument
}

// Attachment references a blob held by the chat transport.
type Attachment struct {
	FileID string         `json:"file_id"`
	Kind   AttachmentKind `json:"kind"`
}

type Task struct {
	ID          int64
	GlobalNum   string
	UserNum     int
	Title       string
	Description string
	Attachment  *Attachment
	Priority    int
	AssignedBy  int64
	AssignedTo  int64
	Deadline    time.Time
	State       State
	Accepted    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (t Task) Status() Status { return t.State.Status() }

func (t Task) ConfirmStatus() ConfirmStatus { return t.State.ConfirmStatus() }

// CompletedAt is non-nil only for completed tasks.
func (t Task) CompletedAt() *time.Time {
	if c, ok := t.State.(Completed); ok {
		at := c.At
		return &at
	}
	return nil
}

// RejectComment is the assignee's refusal reason for canceled tasks.
func (t Task) RejectComment() string {
	if c, ok := t.State.(Canceled); ok {
		return c.Reason
	}
	return ""
}

func (t Task) Summary() TaskSummary {
	return TaskSummary{
		ID:         t.ID,
		GlobalNum:  t.GlobalNum,
		Title:      t.Title,
		Deadline:   t.Deadline.Format(DateLayout),
		Status:     t.Status(),
		AssignedBy: t.AssignedBy,
		AssignedTo: t.AssignedTo,
	}
}

type taskJSON struct {
	ID            int64         `json:"id"`
	GlobalNum     string        `json:"global_num"`
	UserNum       int           `json:"user_num"`
	Title         string        `json:"title"`
	Description   string        `json:"description,omitempty"`
	Attachment    *Attachment   `json:"attachment,omitempty"`
	Priority      int           `json:"priority"`
	AssignedBy    int64         `json:"assigned_by"`
	AssignedTo    int64         `json:"assigned_to"`
	Deadline      string        `json:"deadline"`
	Status        Status        `json:"status"`
	ConfirmStatus ConfirmStatus `json:"confirm_status,omitempty"`
	IsAccepted    bool          `json:"is_accepted"`
	RejectComment string        `json:"reject_comment,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty"`
}

// MarshalJSON renders the task in its flat column form.
func (t Task) MarshalJSON() ([]byte, error) {
	if t.State == nil {
		return nil, fmt.Errorf("task %d has no state", t.ID)
	}
	return json.Marshal(taskJSON{
		ID:            t.ID,
		GlobalNum:     t.GlobalNum,
		UserNum:       t.UserNum,
		Title:         t.Title,
		Description:   t.Description,
		Attachment:    t.Attachment,
		Priority:      t.Priority,
		AssignedBy:    t.AssignedBy,
		AssignedTo:    t.AssignedTo,
		Deadline:      t.Deadline.Format(DateLayout),
		Status:        t.Status(),
		ConfirmStatus: t.ConfirmStatus(),
		IsAccepted:    t.Accepted,
		RejectComment: t.RejectComment(),
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
		CompletedAt:   t.CompletedAt(),
	})
}

// TaskSummary is the part of a task shown in notifications.
type TaskSummary struct {
	ID         int64  `json:"id"`
	GlobalNum  string `json:"global_num"`
	Title      string `json:"title"`
	Deadline   string `json:"deadline"`
	Status     Status `json:"status"`
	AssignedBy int64  `json:"assigned_by"`
	AssignedTo int64  `json:"assigned_to"`
}

// TaskReport is one submission of completed work.
type TaskReport struct {
	ID          int64       `json:"id"`
	TaskID      int64       `json:"task_id"`
	AuthorID    int64       `json:"author_id"`
	Text        string      `json:"text,omitempty"`
	Attachment  *Attachment `json:"attachment,omitempty"`
	SubmittedAt time.Time   `json:"submitted_at"`
}

type FineStatus string

const (
	FinePending   FineStatus = "pending"
	FineConfirmed FineStatus = "confirmed"
	FineCanceled  FineStatus = "canceled"
)

func (s FineStatus) Valid() bool {
	return s == FinePending || s == FineConfirmed || s == FineCanceled
}

type Fine struct {
	ID        int64           `json:"id"`
	UserID    int64           `json:"user_id"`
	Amount    decimal.Decimal `json:"amount"`
	Reason    string          `json:"reason"`
	TaskID    *int64          `json:"task_id,omitempty"`
	Status    FineStatus      `json:"status"`
	CreatedBy *int64          `json:"created_by,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type Employee struct {
	ID          int64     `json:"id"`
	FullName    string    `json:"full_name"`
	IsConfirmed bool      `json:"is_confirmed"`
	IsActive    bool      `json:"is_active"`
	IsAdmin     bool      `json:"is_admin"`
	CreatedAt   time.Time `json:"created_at"`
}

// Eligible reports whether tasks may be assigned to the employee.
func (e Employee) Eligible() bool {
	return e.IsConfirmed && e.IsActive
}

// Event types shared by the audit log and notifications.
const (
	EventTaskCreated   = "task.created"
	EventTaskAccepted  = "task.accepted"
	EventTaskRejected  = "task.rejected"
	EventTaskDelegated = "task.delegated"
	EventTaskExtended  = "task.extended"
	EventTaskCompleted = "task.completed"
	EventTaskConfirmed = "task.confirmed"
	EventTaskReturned  = "task.returned"
	EventTaskOverdue   = "task.overdue"
	EventFineCreated   = "fine.created"
	EventFineConfirmed = "fine.confirmed"
	EventFineCanceled  = "fine.canceled"
)

type Event struct {
	ID      int64  `json:"id"`
	TS      string `json:"ts" format:"date-time"`
	Type    string `json:"type"`
	TaskID  *int64 `json:"task_id,omitempty"`
	ActorID int64  `json:"actor_id"`
	Payload string `json:"payload_json"`
}

// MonthStats is a per-employee summary of one calendar month.
type MonthStats struct {
	UserID     int64           `json:"user_id"`
	Period     string          `json:"period"`
	Total      int             `json:"total"`
	ByStatus   map[Status]int  `json:"by_status"`
	FinesTotal decimal.Decimal `json:"fines_total"`
	Rating     int64           `json:"rating"`
}

// Rating scores a month: ten points per completed task, minus five per
// overdue one, minus one per hundred of confirmed fines.
func Rating(completed, overdue int, fines decimal.Decimal) int64 {
	return int64(completed)*10 - int64(overdue)*5 - fines.Div(decimal.NewFromInt(100)).Floor().IntPart()
}

// DateOf returns the calendar date of t, as observed in t's location, at
// UTC midnight. Deadlines and sweep dates are all kept in this form.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD date as UTC midnight.
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, s, time.UTC)
}

// Period is the numbering period key (calendar month) containing t.
func Period(t time.Time) string {
	return t.Format("2006-01")
}
