// Package agrotaskssdk is a small client for the agrotasks HTTP API, meant
// for chat gateways that relay employee commands.
package agrotaskssdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal agrotasks HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	// EmployeeID is sent as X-Employee-Id when no token is set. The server
	// only honours it in development mode.
	EmployeeID int64
	Language   string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL:     baseURL,
		BasePath:    "/v1",
		BearerToken: token,
		Timeout:     10 * time.Second,
	}
}

// Task represents the API task model.
type Task struct {
	ID            int64      `json:"id"`
	GlobalNum     string     `json:"global_num"`
	UserNum       int        `json:"user_num"`
	Title         string     `json:"title"`
	Description   string     `json:"description,omitempty"`
	Attachment    *File      `json:"attachment,omitempty"`
	Priority      int        `json:"priority"`
	AssignedBy    int64      `json:"assigned_by"`
	AssignedTo    int64      `json:"assigned_to"`
	Deadline      string     `json:"deadline"`
	Status        string     `json:"status"`
	ConfirmStatus string     `json:"confirm_status,omitempty"`
	IsAccepted    bool       `json:"is_accepted"`
	RejectComment string     `json:"reject_comment,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// File references a blob held by the chat transport.
type File struct {
	FileID string `json:"file_id"`
	Kind   string `json:"kind"`
}

// NewTask are the fields of a task to create.
type NewTask struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Attachment  *File  `json:"attachment,omitempty"`
	Priority    int    `json:"priority,omitempty"`
	AssigneeID  int64  `json:"assignee_id"`
	Deadline    string `json:"deadline"`
}

type Employee struct {
	ID          int64  `json:"id"`
	FullName    string `json:"full_name"`
	IsConfirmed bool   `json:"is_confirmed"`
	IsActive    bool   `json:"is_active"`
	IsAdmin     bool   `json:"is_admin"`
}

// Fine amounts are decimal strings.
type Fine struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Amount    string    `json:"amount"`
	Reason    string    `json:"reason"`
	TaskID    *int64    `json:"task_id,omitempty"`
	Status    string    `json:"status"`
	CreatedBy *int64    `json:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type Stats struct {
	UserID     int64          `json:"user_id"`
	Period     string         `json:"period"`
	Total      int            `json:"total"`
	ByStatus   map[string]int `json:"by_status"`
	FinesTotal string         `json:"fines_total"`
	Rating     int64          `json:"rating"`
}

// Event represents a log entry.
type Event struct {
	ID      int64  `json:"id"`
	TS      string `json:"ts"`
	Type    string `json:"type"`
	TaskID  *int64 `json:"task_id,omitempty"`
	ActorID int64  `json:"actor_id"`
	Payload string `json:"payload_json"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// IsInvalidTransition reports whether the command was refused because the
// task moved on. The caller should re-read the task.
func (e *APIError) IsInvalidTransition() bool {
	return e.Code == "invalid_transition"
}

// CreateTask creates a task assigned by the caller.
func (c *Client) CreateTask(ctx context.Context, t NewTask) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, "tasks", t, &resp)
	return resp, err
}

func (c *Client) Task(ctx context.Context, id int64) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, taskPath(id, ""), nil, &resp)
	return resp, err
}

// Inbox returns the tasks waiting for the caller.
func (c *Client) Inbox(ctx context.Context) ([]Task, error) {
	var resp []Task
	err := c.do(ctx, http.MethodGet, "inbox", nil, &resp)
	return resp, err
}

func (c *Client) Accept(ctx context.Context, id int64) (Task, error) {
	return c.taskAction(ctx, id, "accept", nil)
}

func (c *Client) Reject(ctx context.Context, id int64, comment string) (Task, error) {
	return c.taskAction(ctx, id, "reject", map[string]any{"comment": comment})
}

func (c *Client) Delegate(ctx context.Context, id, assigneeID int64) (Task, error) {
	return c.taskAction(ctx, id, "delegate", map[string]any{"assignee_id": assigneeID})
}

// Extend moves the deadline to until (YYYY-MM-DD), or by the server's
// configured number of days when until is empty.
func (c *Client) Extend(ctx context.Context, id int64, until string) (Task, error) {
	var body any
	if until != "" {
		body = map[string]any{"until": until}
	}
	return c.taskAction(ctx, id, "extend", body)
}

func (c *Client) Complete(ctx context.Context, id int64, text string, file *File) (Task, error) {
	var body any
	if text != "" || file != nil {
		body = map[string]any{"text": text, "attachment": file}
	}
	return c.taskAction(ctx, id, "complete", body)
}

func (c *Client) Confirm(ctx context.Context, id int64) (Task, error) {
	return c.taskAction(ctx, id, "confirm", nil)
}

func (c *Client) Return(ctx context.Context, id int64) (Task, error) {
	return c.taskAction(ctx, id, "return", nil)
}

// Candidates lists employees the task can be delegated to.
func (c *Client) Candidates(ctx context.Context, id int64) ([]Employee, error) {
	var resp []Employee
	err := c.do(ctx, http.MethodGet, taskPath(id, "candidates"), nil, &resp)
	return resp, err
}

// TaskEvents returns the audit trail of a task, newest first.
func (c *Client) TaskEvents(ctx context.Context, id int64, limit int) ([]Event, error) {
	endpoint := taskPath(id, "events")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Fines lists fines. Zero userID means all fines visible to the caller.
func (c *Client) Fines(ctx context.Context, userID int64, status string) ([]Fine, error) {
	q := url.Values{}
	if userID != 0 {
		q.Set("user_id", strconv.FormatInt(userID, 10))
	}
	if status != "" {
		q.Set("status", status)
	}
	endpoint := "fines"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp []Fine
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) AddFine(ctx context.Context, userID int64, amount, reason string, taskID *int64) (Fine, error) {
	body := map[string]any{
		"user_id": userID,
		"amount":  amount,
		"reason":  reason,
	}
	if taskID != nil {
		body["task_id"] = *taskID
	}
	var resp Fine
	err := c.do(ctx, http.MethodPost, "fines", body, &resp)
	return resp, err
}

func (c *Client) ConfirmFine(ctx context.Context, id int64) (Fine, error) {
	var resp Fine
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("fines/%d/confirm", id), nil, &resp)
	return resp, err
}

func (c *Client) CancelFine(ctx context.Context, id int64) (Fine, error) {
	var resp Fine
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("fines/%d/cancel", id), nil, &resp)
	return resp, err
}

// Stats returns monthly statistics; month is YYYY-MM or empty for the
// current month.
func (c *Client) Stats(ctx context.Context, employeeID int64, month string) (Stats, error) {
	endpoint := fmt.Sprintf("employees/%d/stats", employeeID)
	if month != "" {
		endpoint += "?month=" + url.QueryEscape(month)
	}
	var resp Stats
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) taskAction(ctx context.Context, id int64, action string, body any) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, taskPath(id, action), body, &resp)
	return resp, err
}

func taskPath(id int64, action string) string {
	p := fmt.Sprintf("tasks/%d", id)
	if action != "" {
		p += "/" + action
	}
	return p
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Language != "" {
		req.Header.Set("Accept-Language", c.Language)
	}
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.EmployeeID != 0:
		req.Header.Set("X-Employee-Id", strconv.FormatInt(c.EmployeeID, 10))
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code, apiErr.Message = env.Error.Code, env.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if c.BasePath != "" {
		base += "/" + strings.Trim(c.BasePath, "/")
	}
	return base
}
