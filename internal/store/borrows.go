package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"

	"github.com/erazemk/knjiznica/internal/apperr"
	"github.com/erazemk/knjiznica/internal/model"
)

// BorrowFilter narrows ListBorrows. Zero values mean no filter.
type BorrowFilter struct {
	UserID    int64
	BookID    int64
	Status    string
	OverdueAt *time.Time
}

var borrowColumns = []any{
	"br.id", "br.user_id", "br.book_id", "br.borrow_date", "br.due_date", "br.return_date", "br.status",
	goqu.I("b.title").As("book_title"), goqu.I("u.username").As("username"),
}

func borrowDataset() *goqu.SelectDataset {
	return dialect.From(goqu.T("borrow_records").As("br")).
		Select(borrowColumns...).
		Join(goqu.T("books").As("b"), goqu.On(goqu.I("b.id").Eq(goqu.I("br.book_id")))).
		Join(goqu.T("users").As("u"), goqu.On(goqu.I("u.id").Eq(goqu.I("br.user_id"))))
}

// CreateBorrow checks a copy of a book out to a user. The account must be
// approved, a copy must be available, and the user may not already hold an
// open borrow of the same book.
func CreateBorrow(ctx context.Context, db *sql.DB, userID, bookID int64, loanDays int, now time.Time) (*model.BorrowRecord, error) {
	if loanDays <= 0 {
		return nil, apperr.Validation("loan days must be positive", map[string]any{"loan_days": loanDays})
	}
	now = now.UTC()

	var borrowID int64
	err := InTx(ctx, db, func(tx *sql.Tx) error {
		cfg, err := GetUserConfig(ctx, tx, userID)
		if err != nil {
			return err
		}
		if cfg == nil {
			return apperr.NotFoundWithID("user", userID)
		}
		if cfg.Suspended() {
			return apperr.UserSuspended(userID)
		}
		if !cfg.CanBorrow() {
			return apperr.Forbidden("account is not approved for borrowing")
		}

		book, err := GetBook(ctx, tx, bookID)
		if err != nil {
			return err
		}
		if book == nil || book.DeletedAt != nil {
			return apperr.NotFoundWithID("book", bookID)
		}

		var open int
		err = tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM borrow_records WHERE user_id = ? AND book_id = ? AND status = 'borrowed'`,
			userID, bookID,
		).Scan(&open)
		if err != nil {
			return fmt.Errorf("checking open borrows: %w", err)
		}
		if open > 0 {
			return apperr.Conflict("book is already borrowed by this user")
		}

		result, err := tx.ExecContext(ctx,
			`UPDATE books SET available_copies = available_copies - 1, updated_at = ?
			 WHERE id = ? AND available_copies > 0`,
			now, bookID,
		)
		if err != nil {
			return fmt.Errorf("reserving copy: %w", err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return apperr.InvalidState("no copies available")
		}

		result, err = tx.ExecContext(ctx,
			`INSERT INTO borrow_records (user_id, book_id, borrow_date, due_date, status)
			 VALUES (?, ?, ?, ?, 'borrowed')`,
			userID, bookID, now, now.AddDate(0, 0, loanDays),
		)
		if err != nil {
			return fmt.Errorf("recording borrow: %w", err)
		}
		borrowID, err = result.LastInsertId()
		if err != nil {
			return fmt.Errorf("getting borrow id: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return GetBorrow(ctx, db, borrowID)
}

// GetBorrow returns a borrow record by ID.
func GetBorrow(ctx context.Context, q Querier, id int64) (*model.BorrowRecord, error) {
	rows, err := queryDataset(ctx, q, borrowDataset().Where(goqu.I("br.id").Eq(id)))
	if err != nil {
		return nil, fmt.Errorf("getting borrow record: %w", err)
	}
	defer rows.Close()

	records, err := scanBorrows(rows)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}

// ListBorrows returns borrow records matching the filter, newest first.
func ListBorrows(ctx context.Context, q Querier, f BorrowFilter) ([]model.BorrowRecord, error) {
	ds := borrowDataset()
	if f.UserID > 0 {
		ds = ds.Where(goqu.I("br.user_id").Eq(f.UserID))
	}
	if f.BookID > 0 {
		ds = ds.Where(goqu.I("br.book_id").Eq(f.BookID))
	}
	if f.Status != "" {
		ds = ds.Where(goqu.I("br.status").Eq(f.Status))
	}
	if f.OverdueAt != nil {
		ds = ds.Where(
			goqu.I("br.status").Eq(model.BorrowBorrowed),
			goqu.I("br.due_date").Lt(f.OverdueAt.UTC()),
		)
	}

	rows, err := queryDataset(ctx, q, ds.Order(goqu.I("br.borrow_date").Desc(), goqu.I("br.id").Desc()))
	if err != nil {
		return nil, fmt.Errorf("listing borrow records: %w", err)
	}
	defer rows.Close()

	return scanBorrows(rows)
}

func scanBorrows(rows *sql.Rows) ([]model.BorrowRecord, error) {
	var records []model.BorrowRecord
	for rows.Next() {
		var r model.BorrowRecord
		if err := rows.Scan(&r.ID, &r.UserID, &r.BookID, &r.BorrowDate, &r.DueDate, &r.ReturnDate, &r.Status,
			&r.BookTitle, &r.Username); err != nil {
			return nil, fmt.Errorf("scanning borrow record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// openBorrow loads a record that must still be checked out.
func openBorrow(ctx context.Context, q Querier, id int64) (*model.BorrowRecord, error) {
	rec, err := GetBorrow(ctx, q, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, apperr.NotFoundWithID("borrow record", id)
	}
	if !rec.Open() {
		return nil, apperr.InvalidState(fmt.Sprintf("borrow record %d is %s", id, rec.Status))
	}
	return rec, nil
}

// updateOpenBorrow runs an UPDATE guarded by status = 'borrowed' and fails
// with InvalidState if the record was closed in the meantime.
func updateOpenBorrow(ctx context.Context, q Querier, id int64, set string, args ...any) error {
	args = append(args, id)
	result, err := q.ExecContext(ctx,
		`UPDATE borrow_records SET `+set+` WHERE id = ? AND status = 'borrowed'`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("updating borrow record: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return apperr.InvalidState(fmt.Sprintf("borrow record %d is no longer open", id))
	}
	return nil
}

// ExtendDueDate pushes the due date of an open record back by days and
// returns the due dates before and after.
func ExtendDueDate(ctx context.Context, q Querier, id int64, days int) (time.Time, time.Time, error) {
	if days <= 0 {
		return time.Time{}, time.Time{}, apperr.Validation("extension days must be positive", map[string]any{"days": days})
	}
	rec, err := openBorrow(ctx, q, id)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}

	oldDue := rec.DueDate.UTC()
	newDue := oldDue.AddDate(0, 0, days)
	if err := updateOpenBorrow(ctx, q, id, `due_date = ?`, newDue); err != nil {
		return time.Time{}, time.Time{}, err
	}
	return oldDue, newDue, nil
}

// SetDueDate replaces the due date of an open record and returns the old one.
func SetDueDate(ctx context.Context, q Querier, id int64, newDue time.Time) (time.Time, error) {
	rec, err := openBorrow(ctx, q, id)
	if err != nil {
		return time.Time{}, err
	}
	if !newDue.After(rec.BorrowDate) {
		return time.Time{}, apperr.Validation("new due date must be after the borrow date",
			map[string]any{"borrow_date": rec.BorrowDate, "new_due_date": newDue})
	}

	oldDue := rec.DueDate.UTC()
	if err := updateOpenBorrow(ctx, q, id, `due_date = ?`, newDue.UTC()); err != nil {
		return time.Time{}, err
	}
	return oldDue, nil
}

// MarkReturned closes an open record as returned and puts the copy back on
// the shelf.
func MarkReturned(ctx context.Context, q Querier, id int64, now time.Time) error {
	rec, err := openBorrow(ctx, q, id)
	if err != nil {
		return err
	}
	if err := updateOpenBorrow(ctx, q, id, `status = 'returned', return_date = ?`, now.UTC()); err != nil {
		return err
	}

	_, err = q.ExecContext(ctx,
		`UPDATE books SET available_copies = available_copies + 1, updated_at = ? WHERE id = ?`,
		now.UTC(), rec.BookID,
	)
	if err != nil {
		return fmt.Errorf("restocking copy: %w", err)
	}
	return nil
}

// RemoveCopy closes an open record as lost or damaged and takes the copy out
// of circulation. Available copies are untouched since the copy was out.
func RemoveCopy(ctx context.Context, q Querier, id int64, status string, now time.Time) error {
	if status != model.BorrowLost && status != model.BorrowDamaged {
		return apperr.Validation("copy can only be removed as lost or damaged", map[string]any{"status": status})
	}
	rec, err := openBorrow(ctx, q, id)
	if err != nil {
		return err
	}
	if err := updateOpenBorrow(ctx, q, id, `status = ?`, status); err != nil {
		return err
	}

	_, err = q.ExecContext(ctx,
		`UPDATE books SET total_copies = total_copies - 1, updated_at = ? WHERE id = ?`,
		now.UTC(), rec.BookID,
	)
	if err != nil {
		return fmt.Errorf("removing copy from circulation: %w", err)
	}
	return nil
}

// ReturnBorrow is a direct return at the desk, outside any request.
func ReturnBorrow(ctx context.Context, db *sql.DB, id int64, now time.Time) (*model.BorrowRecord, error) {
	err := InTx(ctx, db, func(tx *sql.Tx) error {
		return MarkReturned(ctx, tx, id, now)
	})
	if err != nil {
		return nil, err
	}
	return GetBorrow(ctx, db, id)
}
