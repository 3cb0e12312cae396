package domain

import (
	"fmt"
	"time"
)

type Status string

const (
	StatusPending     Status = "pending"
	StatusInProgress  Status = "in_progress"
	StatusWaitConfirm Status = "wait_confirm"
	StatusCompleted   Status = "completed"
	StatusOverdue     Status = "overdue"
	StatusCanceled    Status = "canceled"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{StatusPending, StatusInProgress, StatusWaitConfirm, StatusCompleted, StatusOverdue, StatusCanceled}

// Active reports whether work on the task is still expected from the assignee.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusInProgress || s == StatusOverdue
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCanceled
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusWaitConfirm, StatusCompleted, StatusOverdue, StatusCanceled:
		return true
	}
	return false
}

type ConfirmStatus string

const (
	ConfirmNone      ConfirmStatus = ""
	ConfirmWait      ConfirmStatus = "wait"
	ConfirmConfirmed ConfirmStatus = "confirmed"
	ConfirmRejected  ConfirmStatus = "rejected"
)

// State is the lifecycle position of a task. The set of implementations is
// closed; each carries only the data that is meaningful in that position, so
// combinations such as a completion time on a pending task cannot be built.
type State interface {
	Status() Status
	ConfirmStatus() ConfirmStatus
	sealed()
}

type Pending struct{}

// InProgress is an accepted task. Returned is set when the assigner sent the
// last report back for rework.
type InProgress struct {
	Returned bool
}

type WaitConfirm struct{}

type Completed struct {
	At time.Time
}

type Overdue struct{}

type Canceled struct {
	Reason string
}

func (Pending) Status() Status     { return StatusPending }
func (InProgress) Status() Status  { return StatusInProgress }
func (WaitConfirm) Status() Status { return StatusWaitConfirm }
func (Completed) Status() Status   { return StatusCompleted }
func (Overdue) Status() Status     { return StatusOverdue }
func (Canceled) Status() Status    { return StatusCanceled }

func (Pending) ConfirmStatus() ConfirmStatus { return ConfirmNone }
func (s InProgress) ConfirmStatus() ConfirmStatus {
	if s.Returned {
		return ConfirmRejected
	}
	return ConfirmNone
}
func (WaitConfirm) ConfirmStatus() ConfirmStatus { return ConfirmWait }
func (Completed) ConfirmStatus() ConfirmStatus   { return ConfirmConfirmed }
func (Overdue) ConfirmStatus() ConfirmStatus     { return ConfirmNone }
func (Canceled) ConfirmStatus() ConfirmStatus    { return ConfirmNone }

func (Pending) sealed()     {}
func (InProgress) sealed()  {}
func (WaitConfirm) sealed() {}
func (Completed) sealed()   {}
func (Overdue) sealed()     {}
func (Canceled) sealed()    {}

// StateColumns is the flattened storage form of a State.
type StateColumns struct {
	Status        Status
	ConfirmStatus ConfirmStatus
	CompletedAt   *time.Time
	RejectComment *string
}

// Columns flattens s for persistence.
func Columns(s State) StateColumns {
	c := StateColumns{Status: s.Status(), ConfirmStatus: s.ConfirmStatus()}
	switch v := s.(type) {
	case Completed:
		at := v.At
		c.CompletedAt = &at
	case Canceled:
		reason := v.Reason
		c.RejectComment = &reason
	}
	return c
}

// StateFromColumns rebuilds a State from stored columns, rejecting
// combinations that no State can produce.
func StateFromColumns(c StateColumns) (State, error) {
	var s State
	switch c.Status {
	case StatusPending:
		s = Pending{}
	case StatusInProgress:
		s = InProgress{Returned: c.ConfirmStatus == ConfirmRejected}
	case StatusWaitConfirm:
		s = WaitConfirm{}
	case StatusCompleted:
		if c.CompletedAt == nil {
			return nil, fmt.Errorf("completed task without completed_at")
		}
		s = Completed{At: *c.CompletedAt}
	case StatusOverdue:
		s = Overdue{}
	case StatusCanceled:
		if c.RejectComment == nil {
			return nil, fmt.Errorf("canceled task without reject comment")
		}
		s = Canceled{Reason: *c.RejectComment}
	default:
		return nil, fmt.Errorf("unknown task status %q", c.Status)
	}
	if s.ConfirmStatus() != c.ConfirmStatus {
		return nil, fmt.Errorf("confirm status %q inconsistent with status %s", c.ConfirmStatus, c.Status)
	}
	if c.CompletedAt != nil && c.Status != StatusCompleted {
		return nil, fmt.Errorf("completed_at set on %s task", c.Status)
	}
	if c.RejectComment != nil && c.Status != StatusCanceled {
		return nil, fmt.Errorf("reject comment set on %s task", c.Status)
	}
	return s, nil
}
