package resolution

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/erazemk/knjiznica/internal/apperr"
	"github.com/erazemk/knjiznica/internal/model"
	"github.com/erazemk/knjiznica/internal/store"
)

// effect is the side effect an approved request has on the borrow ledger and
// the borrower's account. The set of implementations is closed: effectFor is
// the only constructor.
type effect interface {
	apply(ctx context.Context, tx *sql.Tx, rec *model.BorrowRecord, now time.Time) (*model.ActionData, error)
}

type extendBorrow struct {
	days int
}

type reportLoss struct {
	status         string
	action         string
	suspensionDays int
}

type earlyReturn struct{}

type changeDueDate struct {
	due time.Time
}

type messageOnly struct{}

// effectFor validates the admin-supplied action data against the request type
// and returns the effect to apply. Nothing is touched here.
func effectFor(req *model.Request, data *model.ActionData, p Policy) (effect, error) {
	switch req.Type {
	case model.RequestExtendBorrow:
		return extendBorrow{days: p.ExtendDays}, nil

	case model.RequestReportLost, model.RequestReportDamage:
		days, err := suspensionDays(data, p)
		if err != nil {
			return nil, err
		}
		if req.Type == model.RequestReportLost {
			return reportLoss{status: model.BorrowLost, action: model.ActionReportLost, suspensionDays: days}, nil
		}
		return reportLoss{status: model.BorrowDamaged, action: model.ActionReportDamage, suspensionDays: days}, nil

	case model.RequestEarlyReturn:
		return earlyReturn{}, nil

	case model.RequestChangeDueDate:
		switch {
		case data != nil && data.NewDueDate != nil:
			return changeDueDate{due: data.NewDueDate.UTC()}, nil
		case req.RequestedDate != nil:
			return changeDueDate{due: req.RequestedDate.UTC()}, nil
		}
		return nil, apperr.Validation("change of due date needs a new due date", map[string]any{"field": "newDueDate"})

	case model.RequestOther:
		return messageOnly{}, nil
	}

	return nil, apperr.Internal(fmt.Sprintf("request %d has unknown type %q", req.ID, req.Type), nil)
}

func suspensionDays(data *model.ActionData, p Policy) (int, error) {
	if data == nil || data.SuspensionDays == nil {
		return p.DefaultSuspensionDays, nil
	}
	days := *data.SuspensionDays
	if days < 1 || days > p.MaxSuspensionDays {
		return 0, apperr.Validation(
			fmt.Sprintf("suspension days must be between 1 and %d", p.MaxSuspensionDays),
			map[string]any{"suspensionDays": days},
		)
	}
	return days, nil
}

func (e extendBorrow) apply(ctx context.Context, tx *sql.Tx, rec *model.BorrowRecord, _ time.Time) (*model.ActionData, error) {
	oldDue, newDue, err := store.ExtendDueDate(ctx, tx, rec.ID, e.days)
	if err != nil {
		return nil, err
	}
	return &model.ActionData{ActionType: model.ActionExtendBorrow, OldDueDate: &oldDue, NewDueDate: &newDue}, nil
}

func (e reportLoss) apply(ctx context.Context, tx *sql.Tx, rec *model.BorrowRecord, now time.Time) (*model.ActionData, error) {
	if err := store.RemoveCopy(ctx, tx, rec.ID, e.status, now); err != nil {
		return nil, err
	}
	if _, err := store.Suspend(ctx, tx, rec.UserID, e.suspensionDays, now); err != nil {
		return nil, err
	}
	days := e.suspensionDays
	return &model.ActionData{ActionType: e.action, SuspensionDays: &days}, nil
}

func (earlyReturn) apply(ctx context.Context, tx *sql.Tx, rec *model.BorrowRecord, now time.Time) (*model.ActionData, error) {
	if err := store.MarkReturned(ctx, tx, rec.ID, now); err != nil {
		return nil, err
	}
	return &model.ActionData{ActionType: model.ActionEarlyReturn}, nil
}

func (e changeDueDate) apply(ctx context.Context, tx *sql.Tx, rec *model.BorrowRecord, _ time.Time) (*model.ActionData, error) {
	oldDue, err := store.SetDueDate(ctx, tx, rec.ID, e.due)
	if err != nil {
		return nil, err
	}
	newDue := e.due
	return &model.ActionData{ActionType: model.ActionChangeDueDate, OldDueDate: &oldDue, NewDueDate: &newDue}, nil
}

func (messageOnly) apply(context.Context, *sql.Tx, *model.BorrowRecord, time.Time) (*model.ActionData, error) {
	return &model.ActionData{ActionType: model.ActionMessageOnly}, nil
}
