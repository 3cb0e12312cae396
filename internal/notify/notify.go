// Package notify delivers task notifications to employees.
//
// Delivery is fire-and-forget: Notify returns immediately, sinks run on a
// goroutine, and failures are logged and counted but never retried.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"agrotasks/internal/domain"
	"agrotasks/internal/metrics"
)

const defaultSendTimeout = 10 * time.Second

// Notifier is the channel the engine reports transitions to.
type Notifier interface {
	Notify(ctx context.Context, userID int64, event string, task domain.TaskSummary)
}

// Message is one notification addressed to one employee.
type Message struct {
	ID     string             `json:"id"`
	UserID int64              `json:"user_id"`
	Event  string             `json:"event"`
	Text   string             `json:"text"`
	Task   domain.TaskSummary `json:"task"`
	SentAt time.Time          `json:"sent_at"`
}

type Sink interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// TextFunc renders the human-readable text of a notification.
type TextFunc func(event string, task domain.TaskSummary) string

type Dispatcher struct {
	Sinks   []Sink
	Text    TextFunc
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Timeout time.Duration
	Now     func() time.Time

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func (d *Dispatcher) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

func (d *Dispatcher) Notify(ctx context.Context, userID int64, event string, task domain.TaskSummary) {
	if len(d.Sinks) == 0 {
		return
	}
	now := time.Now
	if d.Now != nil {
		now = d.Now
	}
	msg := Message{
		ID:     uuid.NewString(),
		UserID: userID,
		Event:  event,
		Task:   task,
		SentAt: now().UTC(),
	}
	if d.Text != nil {
		msg.Text = d.Text(event, task)
	}
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.logger().Warn("notification dropped after close", "user_id", userID, "event", event, "task_id", task.ID)
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()
	go func() {
		defer d.wg.Done()
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		for _, sink := range d.Sinks {
			err := sink.Send(sendCtx, msg)
			d.Metrics.Notification(sink.Name(), err)
			if err != nil {
				d.logger().Warn("notification delivery failed",
					"sink", sink.Name(), "user_id", userID, "event", event, "task_id", task.ID, "err", err)
			}
		}
	}()
}

// Wait blocks until every notification sent so far has been handed to all
// sinks.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Close stops accepting notifications and waits for the ones in flight.
// Notify calls after Close are dropped.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.wg.Wait()
}

// LogSink writes notifications to the structured log.
type LogSink struct {
	Logger *slog.Logger
}

func (LogSink) Name() string { return "log" }

func (s LogSink) Send(ctx context.Context, msg Message) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "notification",
		"id", msg.ID, "user_id", msg.UserID, "event", msg.Event,
		"task_id", msg.Task.ID, "global_num", msg.Task.GlobalNum, "text", msg.Text)
	return nil
}

// Recorder keeps notifications in memory. It delivers synchronously and is
// meant for tests and dry runs.
type Recorder struct {
	mu   sync.Mutex
	sent []Message
}

func (r *Recorder) Notify(_ context.Context, userID int64, event string, task domain.TaskSummary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, Message{UserID: userID, Event: event, Task: task})
}

func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.sent...)
}

// For returns the events delivered to userID in order.
func (r *Recorder) For(userID int64) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var events []string
	for _, m := range r.sent {
		if m.UserID == userID {
			events = append(events, m.Event)
		}
	}
	return events
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	r.sent = nil
	r.mu.Unlock()
}
