package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"agrotasks/internal/domain"
	"agrotasks/internal/events"
	"agrotasks/internal/repo"
)

// FineOptions describe a fine issued by an administrator.
type FineOptions struct {
	UserID  int64
	Amount  decimal.Decimal
	Reason  string
	TaskID  *int64
	ActorID int64
}

// AddFine records a pending fine. Administrators only.
func (e Engine) AddFine(ctx context.Context, opts FineOptions) (domain.Fine, error) {
	ctx = context.WithoutCancel(ctx)
	reason := strings.TrimSpace(opts.Reason)
	if reason == "" {
		return domain.Fine{}, validation("fine reason is required")
	}
	if !opts.Amount.IsPositive() {
		return domain.Fine{}, validation("fine amount must be positive, got %s", opts.Amount)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Fine{}, e.storeError("add fine", 0, opts.ActorID, err)
	}
	defer tx.Rollback()

	if err := e.requireAdminTx(ctx, tx, opts.ActorID, "issuing a fine"); err != nil {
		return domain.Fine{}, err
	}
	if _, err := e.Repo.GetEmployeeTx(ctx, tx, opts.UserID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Fine{}, validation("unknown employee %d", opts.UserID)
		}
		return domain.Fine{}, e.storeError("add fine", 0, opts.ActorID, err)
	}
	var taskID int64
	if opts.TaskID != nil {
		taskID = *opts.TaskID
		if _, err := e.Repo.GetTaskTx(ctx, tx, taskID); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return domain.Fine{}, validation("unknown task %d", taskID)
			}
			return domain.Fine{}, e.storeError("add fine", taskID, opts.ActorID, err)
		}
	}
	actor := opts.ActorID
	fine, err := e.Repo.InsertFine(ctx, tx, domain.Fine{
		UserID:    opts.UserID,
		Amount:    opts.Amount,
		Reason:    reason,
		TaskID:    opts.TaskID,
		CreatedBy: &actor,
		CreatedAt: e.LocalNow(),
	})
	if err != nil {
		return domain.Fine{}, e.storeError("add fine", taskID, opts.ActorID, err)
	}
	if err := e.appendEvent(ctx, tx, domain.EventFineCreated, taskID, opts.ActorID, events.EventPayload{
		"fine_id": fine.ID,
		"user_id": fine.UserID,
		"amount":  fine.Amount.String(),
		"reason":  fine.Reason,
	}); err != nil {
		return domain.Fine{}, e.storeError("add fine", taskID, opts.ActorID, err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Fine{}, e.storeError("add fine", taskID, opts.ActorID, err)
	}
	e.Metrics.FineCreated()
	return fine, nil
}

func (e Engine) ConfirmFine(ctx context.Context, fineID, actorID int64) (domain.Fine, error) {
	return e.resolveFine(ctx, fineID, actorID, domain.FineConfirmed, domain.EventFineConfirmed)
}

func (e Engine) CancelFine(ctx context.Context, fineID, actorID int64) (domain.Fine, error) {
	return e.resolveFine(ctx, fineID, actorID, domain.FineCanceled, domain.EventFineCanceled)
}

// resolveFine moves a pending fine to its final status. Administrators only;
// a fine that is no longer pending yields ErrInvalidTransition.
func (e Engine) resolveFine(ctx context.Context, fineID, actorID int64, to domain.FineStatus, event string) (domain.Fine, error) {
	ctx = context.WithoutCancel(ctx)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Fine{}, e.storeError(event, 0, actorID, err)
	}
	defer tx.Rollback()

	if err := e.requireAdminTx(ctx, tx, actorID, "resolving a fine"); err != nil {
		return domain.Fine{}, err
	}
	ok, err := e.Repo.SetFineStatus(ctx, tx, fineID, domain.FinePending, to, e.LocalNow())
	if err != nil {
		return domain.Fine{}, e.storeError(event, 0, actorID, err)
	}
	fine, err := e.Repo.GetFineTx(ctx, tx, fineID)
	if err != nil {
		return domain.Fine{}, e.storeError(event, 0, actorID, err)
	}
	if !ok {
		return fine, invalid("fine %d is already %s", fineID, fine.Status)
	}
	var taskID int64
	if fine.TaskID != nil {
		taskID = *fine.TaskID
	}
	if err := e.appendEvent(ctx, tx, event, taskID, actorID, events.EventPayload{"fine_id": fineID}); err != nil {
		return domain.Fine{}, e.storeError(event, taskID, actorID, err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Fine{}, e.storeError(event, taskID, actorID, err)
	}
	e.logger().Info("fine resolved", "fine_id", fineID, "status", to, "actor_id", actorID)
	return fine, nil
}

func (e Engine) ListFines(ctx context.Context, f repo.FineFilters) ([]domain.Fine, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, validation("unknown fine status %q", f.Status)
	}
	fines, err := e.Repo.ListFines(ctx, f)
	if err != nil {
		return nil, e.storeError("list fines", f.TaskID, 0, err)
	}
	return fines, nil
}

// ParseAmount parses a positive decimal fine amount.
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("amount %q: %w", s, ErrValidationFailed)
	}
	if !d.IsPositive() {
		return decimal.Zero, validation("amount %s must be positive", d)
	}
	return d, nil
}
