// Package requests is the entry point for filing, rescinding and resolving
// library requests. It checks input shape and caller authorization, then
// hands off to the store and the resolution engine.
package requests

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/erazemk/knjiznica/internal/apperr"
	"github.com/erazemk/knjiznica/internal/auth"
	"github.com/erazemk/knjiznica/internal/model"
	"github.com/erazemk/knjiznica/internal/resolution"
	"github.com/erazemk/knjiznica/internal/store"
)

// CreateInput is what a requester submits.
type CreateInput struct {
	BorrowRecordID int64             `json:"borrow_record_id" validate:"gt=0"`
	Type           model.RequestType `json:"type" validate:"required,request_type"`
	Reason         string            `json:"reason" validate:"required,max=500"`
	Description    string            `json:"description" validate:"max=1000"`
	RequestedDate  *time.Time        `json:"requested_date" validate:"required_if=Type change_due_date"`
}

// ResolveInput is an administrator's decision.
type ResolveInput struct {
	Decision      string            `json:"decision" validate:"required,oneof=approved rejected"`
	AdminResponse string            `json:"admin_response" validate:"max=1000"`
	ActionData    *model.ActionData `json:"action_data"`
}

// ListFilter narrows List.
type ListFilter struct {
	RequesterID    int64             `json:"requester_id"`
	BorrowRecordID int64             `json:"borrow_record_id"`
	Status         string            `json:"status" validate:"omitempty,oneof=pending approved rejected voided"`
	Type           model.RequestType `json:"type" validate:"omitempty,request_type"`
}

// Service exposes the request operations to callers with an identity.
type Service struct {
	DB       *sql.DB
	Engine   *resolution.Engine
	Now      func() time.Time
	Retry    []store.RetryOption
	validate *validator.Validate
}

// NewService creates a request service backed by db and engine.
func NewService(db *sql.DB, engine *resolution.Engine) *Service {
	return &Service{
		DB:       db,
		Engine:   engine,
		Now:      time.Now,
		validate: newValidator(),
	}
}

// Create files a new pending request on behalf of the caller.
func (s *Service) Create(ctx context.Context, caller auth.Identity, in CreateInput) (*model.Request, error) {
	in.Reason = strings.TrimSpace(in.Reason)
	in.Description = strings.TrimSpace(in.Description)
	if err := check(s.validate, in); err != nil {
		return nil, err
	}

	var req *model.Request
	err := s.retry(ctx, func(ctx context.Context) error {
		var err error
		req, err = store.CreateRequest(ctx, s.DB, store.NewRequest{
			RequesterID:    caller.UserID,
			BorrowRecordID: in.BorrowRecordID,
			Type:           in.Type,
			Reason:         in.Reason,
			Description:    in.Description,
			RequestedDate:  in.RequestedDate,
		}, s.Now())
		return err
	})
	if err != nil {
		return nil, err
	}

	slog.Info("request created", "user", caller.Username, "request", req.ID,
		"type", req.Type, "borrow_record", req.BorrowRecordID)
	return req, nil
}

// Rescind withdraws a pending request. Only its requester may do so.
func (s *Service) Rescind(ctx context.Context, caller auth.Identity, requestID int64) error {
	err := s.retry(ctx, func(ctx context.Context) error {
		return store.MarkVoided(ctx, s.DB, requestID, caller.UserID, s.Now())
	})
	if err != nil {
		return err
	}

	slog.Info("request rescinded", "user", caller.Username, "request", requestID)
	return nil
}

// Resolve applies an administrator's decision through the engine.
func (s *Service) Resolve(ctx context.Context, caller auth.Identity, requestID int64, in ResolveInput) (*model.Request, error) {
	if !caller.IsAdmin() {
		return nil, apperr.NotAdmin()
	}
	in.AdminResponse = strings.TrimSpace(in.AdminResponse)
	if err := check(s.validate, in); err != nil {
		return nil, err
	}

	return s.Engine.Resolve(ctx, resolution.Input{
		RequestID:     requestID,
		AdminID:       caller.UserID,
		Decision:      in.Decision,
		AdminResponse: in.AdminResponse,
		ActionData:    in.ActionData,
	})
}

// Get returns one request. Members may only see their own.
func (s *Service) Get(ctx context.Context, caller auth.Identity, requestID int64) (*model.Request, error) {
	req, err := store.GetRequest(ctx, s.DB, requestID)
	if err != nil {
		return nil, unavailableIfTransient(err)
	}
	if req == nil {
		return nil, apperr.NotFoundWithID("request", requestID)
	}
	if !caller.IsAdmin() && req.RequesterID != caller.UserID {
		return nil, apperr.NotOwner("request")
	}
	return req, nil
}

// List returns requests matching f. Members only ever see their own, whatever
// requester the filter names.
func (s *Service) List(ctx context.Context, caller auth.Identity, f ListFilter) ([]model.Request, error) {
	if err := check(s.validate, f); err != nil {
		return nil, err
	}
	if !caller.IsAdmin() {
		f.RequesterID = caller.UserID
	}

	reqs, err := store.ListRequests(ctx, s.DB, store.RequestFilter{
		RequesterID:    f.RequesterID,
		BorrowRecordID: f.BorrowRecordID,
		Status:         f.Status,
		Type:           f.Type,
	})
	if err != nil {
		return nil, unavailableIfTransient(err)
	}
	return reqs, nil
}

func (s *Service) retry(ctx context.Context, fn store.RetryableFunc) error {
	return unavailableIfTransient(store.Retry(ctx, fn, s.Retry...))
}

func unavailableIfTransient(err error) error {
	if store.IsTransient(err) {
		return apperr.Unavailable(err)
	}
	return err
}
