// Package resolution applies an administrator's decision on a library request.
//
// A resolution loads the request, its borrow record, the book and the
// borrower inside one write transaction, applies the side effects for the
// request type and writes the outcome back onto the request. Either all of
// it commits or none of it does.
package resolution

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/erazemk/knjiznica/internal/apperr"
	"github.com/erazemk/knjiznica/internal/model"
	"github.com/erazemk/knjiznica/internal/store"
)

// SystemResponsePrefix marks admin responses written by the engine itself.
const SystemResponsePrefix = "system: "

// Policy holds the tunable durations of the engine, in days.
type Policy struct {
	ExtendDays            int
	DefaultSuspensionDays int
	MaxSuspensionDays     int
}

// DefaultPolicy returns the standard library policy.
func DefaultPolicy() Policy {
	return Policy{
		ExtendDays:            7,
		DefaultSuspensionDays: 14,
		MaxSuspensionDays:     90,
	}
}

// Validate checks that the policy is usable.
func (p Policy) Validate() error {
	if p.ExtendDays < 1 {
		return fmt.Errorf("extend days must be positive, got %d", p.ExtendDays)
	}
	if p.MaxSuspensionDays < 1 {
		return fmt.Errorf("max suspension days must be positive, got %d", p.MaxSuspensionDays)
	}
	if p.DefaultSuspensionDays < 1 || p.DefaultSuspensionDays > p.MaxSuspensionDays {
		return fmt.Errorf("default suspension days must be between 1 and %d, got %d",
			p.MaxSuspensionDays, p.DefaultSuspensionDays)
	}
	return nil
}

// Input is an administrator's decision on one request.
type Input struct {
	RequestID     int64
	AdminID       int64
	Decision      string
	AdminResponse string
	ActionData    *model.ActionData
}

// Engine resolves requests against a database.
type Engine struct {
	DB     *sql.DB
	Policy Policy
	Now    func() time.Time
	Retry  []store.RetryOption
}

// New creates an engine with the given policy and the wall clock.
func New(db *sql.DB, policy Policy) *Engine {
	return &Engine{
		DB:     db,
		Policy: policy,
		Now:    time.Now,
	}
}

// Resolve approves or rejects a pending request. Transient storage failures
// are retried as a whole; if they persist the error is Unavailable.
//
// If the borrow record was already closed, the request is rejected with a
// system response, that rejection is committed, and BorrowRecordClosed is
// returned.
func (e *Engine) Resolve(ctx context.Context, in Input) (*model.Request, error) {
	switch in.Decision {
	case model.RequestApproved, model.RequestRejected:
	default:
		return nil, apperr.Validation("decision must be approved or rejected", map[string]any{"decision": in.Decision})
	}

	var resolved *model.Request
	err := store.Retry(ctx, func(ctx context.Context) error {
		var err error
		resolved, err = e.resolveOnce(ctx, in)
		return err
	}, e.Retry...)
	if err != nil {
		if store.IsTransient(err) {
			return nil, apperr.Unavailable(err)
		}
		return nil, err
	}
	return resolved, nil
}

// resolveOnce runs one attempt. The resolved request is read back inside the
// transaction, so nothing after the commit can fail and trigger a retry.
func (e *Engine) resolveOnce(ctx context.Context, in Input) (*model.Request, error) {
	now := e.Now().UTC()

	var req *model.Request
	var outcome error
	err := store.InTx(ctx, e.DB, func(tx *sql.Tx) error {
		var err error
		req, err = store.LockRequest(ctx, tx, in.RequestID)
		if err != nil {
			return err
		}
		if !req.Pending() {
			return apperr.AlreadyResolved(req.ID, req.Status)
		}

		if in.Decision == model.RequestRejected {
			err := store.FinalizeRequest(ctx, tx, req.ID, store.Resolution{
				Status:        model.RequestRejected,
				AdminResponse: in.AdminResponse,
				ResolvedBy:    &in.AdminID,
				ResolvedAt:    now,
			})
			if err != nil {
				return err
			}
			req, err = store.GetRequest(ctx, tx, req.ID)
			return err
		}

		eff, err := effectFor(req, in.ActionData, e.Policy)
		if err != nil {
			return err
		}

		rec, err := store.GetBorrow(ctx, tx, req.BorrowRecordID)
		if err != nil {
			return err
		}
		if rec == nil {
			return apperr.Internal(fmt.Sprintf("borrow record %d of request %d is missing", req.BorrowRecordID, req.ID), nil)
		}
		if !rec.Open() {
			// Commit the automatic rejection and report the conflict.
			outcome = apperr.BorrowRecordClosed(rec.ID, rec.Status)
			return store.FinalizeRequest(ctx, tx, req.ID, store.Resolution{
				Status:        model.RequestRejected,
				AdminResponse: fmt.Sprintf("%sborrow record is already %s", SystemResponsePrefix, rec.Status),
				ResolvedAt:    now,
			})
		}

		data, err := eff.apply(ctx, tx, rec, now)
		if err != nil {
			return err
		}

		err = store.FinalizeRequest(ctx, tx, req.ID, store.Resolution{
			Status:        model.RequestApproved,
			AdminResponse: in.AdminResponse,
			ActionData:    data,
			ResolvedBy:    &in.AdminID,
			ResolvedAt:    now,
		})
		if err != nil {
			return err
		}
		req, err = store.GetRequest(ctx, tx, req.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	if outcome != nil {
		slog.Warn("request auto-rejected, borrow record closed",
			"request", req.ID, "borrow_record", req.BorrowRecordID, "admin", in.AdminID)
		return nil, outcome
	}

	slog.Info("request resolved", "request", req.ID, "type", req.Type,
		"status", req.Status, "admin", in.AdminID)
	return req, nil
}
