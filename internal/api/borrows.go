package api

import (
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/erazemk/knjiznica/internal/apperr"
	"github.com/erazemk/knjiznica/internal/model"
	"github.com/erazemk/knjiznica/internal/store"
)

// BorrowsHandler handles the borrow ledger endpoints.
type BorrowsHandler struct {
	DB       *sql.DB
	LoanDays int
}

type createBorrowRequest struct {
	BookID int64 `json:"book_id"`
	UserID int64 `json:"user_id"`
}

// Create handles POST /api/borrows. Members borrow for themselves; librarians
// may check a book out to another user.
func (h *BorrowsHandler) Create(w http.ResponseWriter, r *http.Request) {
	caller := identity(r)

	var req createBorrowRequest
	if err := decodeJSON(w, r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.BookID <= 0 {
		jsonError(w, http.StatusBadRequest, "book_id required")
		return
	}

	userID := caller.UserID
	if req.UserID != 0 && req.UserID != caller.UserID {
		if !caller.AtLeast(model.RoleLibrarian) {
			writeError(w, r, apperr.Forbidden("only librarians may borrow on behalf of another user"))
			return
		}
		userID = req.UserID
	}

	rec, err := store.CreateBorrow(r.Context(), h.DB, userID, req.BookID, h.LoanDays, time.Now())
	if err != nil {
		writeError(w, r, err)
		return
	}

	slog.Info("book borrowed", "user", caller.Username, "borrower", userID,
		"book", rec.BookID, "borrow_record", rec.ID, "due", rec.DueDate)
	jsonResponse(w, http.StatusCreated, rec)
}

// List handles GET /api/borrows?user_id=&book_id=&status=&overdue=true.
// Members only see their own records.
func (h *BorrowsHandler) List(w http.ResponseWriter, r *http.Request) {
	caller := identity(r)
	q := r.URL.Query()

	userID, ok := queryID(r, "user_id")
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid user_id")
		return
	}
	bookID, ok := queryID(r, "book_id")
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid book_id")
		return
	}
	if !caller.AtLeast(model.RoleLibrarian) {
		userID = caller.UserID
	}

	f := store.BorrowFilter{UserID: userID, BookID: bookID, Status: q.Get("status")}
	if q.Get("overdue") == "true" {
		now := time.Now()
		f.OverdueAt = &now
	}

	records, err := store.ListBorrows(r.Context(), h.DB, f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if records == nil {
		records = []model.BorrowRecord{}
	}
	jsonResponse(w, http.StatusOK, records)
}

// Get handles GET /api/borrows/{id}.
func (h *BorrowsHandler) Get(w http.ResponseWriter, r *http.Request) {
	caller := identity(r)
	id, ok := pathID(r)
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid borrow id")
		return
	}

	rec, err := store.GetBorrow(r.Context(), h.DB, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if rec == nil {
		writeError(w, r, apperr.NotFoundWithID("borrow record", id))
		return
	}
	if rec.UserID != caller.UserID && !caller.AtLeast(model.RoleLibrarian) {
		writeError(w, r, apperr.NotOwner("borrow record"))
		return
	}
	jsonResponse(w, http.StatusOK, rec)
}

// Return handles POST /api/borrows/{id}/return, a direct return at the desk.
func (h *BorrowsHandler) Return(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid borrow id")
		return
	}

	rec, err := store.ReturnBorrow(r.Context(), h.DB, id, time.Now())
	if err != nil {
		writeError(w, r, err)
		return
	}

	slog.Info("book returned", "user", identity(r).Username, "borrow_record", id, "book", rec.BookID)
	jsonResponse(w, http.StatusOK, rec)
}
