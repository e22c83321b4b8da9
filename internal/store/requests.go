package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	jsoniter "github.com/json-iterator/go"

	"github.com/erazemk/knjiznica/internal/apperr"
	"github.com/erazemk/knjiznica/internal/model"
)

var actionJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// NewRequest holds the fields a requester supplies.
type NewRequest struct {
	RequesterID    int64
	BorrowRecordID int64
	Type           model.RequestType
	Reason         string
	Description    string
	RequestedDate  *time.Time
}

// RequestFilter narrows ListRequests. Zero values mean no filter.
type RequestFilter struct {
	RequesterID    int64
	BorrowRecordID int64
	Status         string
	Type           model.RequestType
}

// Resolution is the terminal outcome written onto a pending request.
type Resolution struct {
	Status        string
	AdminResponse string
	ActionData    *model.ActionData
	ResolvedBy    *int64
	ResolvedAt    time.Time
}

var requestColumns = []any{
	"id", "borrow_record_id", "requester_id", "type", "reason", "description", "requested_date",
	"status", "admin_response", "action_data", "resolved_by", "created_at", "resolved_at",
}

// CreateRequest files a request against a borrow record. The record must
// exist, belong to the requester and still be checked out, and the requester
// must not be suspended. Nothing besides the request row is written.
func CreateRequest(ctx context.Context, db *sql.DB, in NewRequest, now time.Time) (*model.Request, error) {
	if !in.Type.Valid() {
		return nil, apperr.Validation("unknown request type", map[string]any{"type": in.Type})
	}

	var requestID int64
	err := InTx(ctx, db, func(tx *sql.Tx) error {
		cfg, err := GetUserConfig(ctx, tx, in.RequesterID)
		if err != nil {
			return err
		}
		if cfg != nil && cfg.Suspended() {
			return apperr.UserSuspended(in.RequesterID)
		}

		rec, err := GetBorrow(ctx, tx, in.BorrowRecordID)
		if err != nil {
			return err
		}
		if rec == nil {
			return apperr.InvalidReference("borrow record does not exist")
		}
		if rec.UserID != in.RequesterID {
			return apperr.InvalidReference("borrow record belongs to another user")
		}
		if !rec.Open() {
			return apperr.InvalidReference(fmt.Sprintf("borrow record is %s", rec.Status))
		}

		result, err := tx.ExecContext(ctx,
			`INSERT INTO requests (borrow_record_id, requester_id, type, reason, description,
			                       requested_date, status, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, 'pending', ?)`,
			in.BorrowRecordID, in.RequesterID, string(in.Type), in.Reason, nullString(in.Description),
			nullTime(in.RequestedDate), now.UTC(),
		)
		if err != nil {
			return fmt.Errorf("creating request: %w", err)
		}
		requestID, err = result.LastInsertId()
		if err != nil {
			return fmt.Errorf("getting request id: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return GetRequest(ctx, db, requestID)
}

// GetRequest returns a request by ID.
func GetRequest(ctx context.Context, q Querier, id int64) (*model.Request, error) {
	rows, err := queryDataset(ctx, q, dialect.From("requests").Select(requestColumns...).Where(goqu.C("id").Eq(id)))
	if err != nil {
		return nil, fmt.Errorf("getting request: %w", err)
	}
	defer rows.Close()

	reqs, err := scanRequests(rows)
	if err != nil {
		return nil, err
	}
	if len(reqs) == 0 {
		return nil, nil
	}
	return &reqs[0], nil
}

// ListRequests returns requests matching the filter, newest first.
func ListRequests(ctx context.Context, q Querier, f RequestFilter) ([]model.Request, error) {
	ds := dialect.From("requests").Select(requestColumns...)
	if f.RequesterID > 0 {
		ds = ds.Where(goqu.C("requester_id").Eq(f.RequesterID))
	}
	if f.BorrowRecordID > 0 {
		ds = ds.Where(goqu.C("borrow_record_id").Eq(f.BorrowRecordID))
	}
	if f.Status != "" {
		ds = ds.Where(goqu.C("status").Eq(f.Status))
	}
	if f.Type != "" {
		ds = ds.Where(goqu.C("type").Eq(string(f.Type)))
	}

	rows, err := queryDataset(ctx, q, ds.Order(goqu.C("created_at").Desc(), goqu.C("id").Desc()))
	if err != nil {
		return nil, fmt.Errorf("listing requests: %w", err)
	}
	defer rows.Close()

	return scanRequests(rows)
}

func scanRequests(rows *sql.Rows) ([]model.Request, error) {
	var reqs []model.Request
	for rows.Next() {
		var r model.Request
		var reqType string
		var description, adminResponse, actionData sql.NullString
		if err := rows.Scan(&r.ID, &r.BorrowRecordID, &r.RequesterID, &reqType, &r.Reason, &description,
			&r.RequestedDate, &r.Status, &adminResponse, &actionData, &r.ResolvedBy,
			&r.CreatedAt, &r.ResolvedAt); err != nil {
			return nil, fmt.Errorf("scanning request: %w", err)
		}
		r.Type = model.RequestType(reqType)
		r.Description = description.String
		r.AdminResponse = adminResponse.String
		if actionData.Valid && actionData.String != "" {
			r.ActionData = &model.ActionData{}
			if err := actionJSON.UnmarshalFromString(actionData.String, r.ActionData); err != nil {
				return nil, fmt.Errorf("decoding action data of request %d: %w", r.ID, err)
			}
		}
		reqs = append(reqs, r)
	}
	return reqs, rows.Err()
}

// LockRequest takes the request row into the caller's write transaction and
// returns its current state. It fails with NotFound for unknown IDs.
func LockRequest(ctx context.Context, tx *sql.Tx, id int64) (*model.Request, error) {
	result, err := tx.ExecContext(ctx, `UPDATE requests SET status = status WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("locking request: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, apperr.NotFoundWithID("request", id)
	}
	return GetRequest(ctx, tx, id)
}

// FinalizeRequest writes a terminal outcome onto a request that is still
// pending. It fails with AlreadyResolved if another caller got there first.
func FinalizeRequest(ctx context.Context, q Querier, id int64, res Resolution) error {
	switch res.Status {
	case model.RequestApproved, model.RequestRejected:
	default:
		return fmt.Errorf("invalid terminal status %q", res.Status)
	}

	var actionData any
	if res.ActionData != nil {
		encoded, err := actionJSON.MarshalToString(res.ActionData)
		if err != nil {
			return fmt.Errorf("encoding action data: %w", err)
		}
		actionData = encoded
	}

	result, err := q.ExecContext(ctx,
		`UPDATE requests
		 SET status = ?, admin_response = ?, action_data = ?, resolved_by = ?, resolved_at = ?
		 WHERE id = ? AND status = 'pending'`,
		res.Status, nullString(res.AdminResponse), actionData, res.ResolvedBy, res.ResolvedAt.UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("finalizing request: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return requestNotPending(ctx, q, id)
	}
	return nil
}

// MarkVoided rescinds a pending request on behalf of its requester. No other
// entity is touched.
func MarkVoided(ctx context.Context, db *sql.DB, id, requesterID int64, now time.Time) error {
	return InTx(ctx, db, func(tx *sql.Tx) error {
		req, err := LockRequest(ctx, tx, id)
		if err != nil {
			return err
		}
		if req.RequesterID != requesterID {
			return apperr.NotOwner("request")
		}

		result, err := tx.ExecContext(ctx,
			`UPDATE requests SET status = 'voided', resolved_at = ? WHERE id = ? AND status = 'pending'`,
			now.UTC(), id,
		)
		if err != nil {
			return fmt.Errorf("voiding request: %w", err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return requestNotPending(ctx, tx, id)
		}
		return nil
	})
}

func requestNotPending(ctx context.Context, q Querier, id int64) error {
	req, err := GetRequest(ctx, q, id)
	if err != nil {
		return err
	}
	if req == nil {
		return apperr.NotFoundWithID("request", id)
	}
	return apperr.AlreadyResolved(id, req.Status)
}
