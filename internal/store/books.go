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

// BookFilter narrows ListBooks. Zero values mean no filter.
type BookFilter struct {
	Search        string
	Category      string
	AvailableOnly bool
}

var bookColumns = []any{
	"id", "title", "author", "isbn", "published_year", "category", "description", "cover_mime",
	"total_copies", "available_copies", "created_at", "updated_at", "deleted_at",
}

// CreateBook adds a title to the catalog with all copies available.
func CreateBook(ctx context.Context, q Querier, b model.Book) (*model.Book, error) {
	if b.TotalCopies < 0 {
		return nil, apperr.Validation("total copies must not be negative", nil)
	}
	now := time.Now().UTC()
	result, err := q.ExecContext(ctx,
		`INSERT INTO books (title, author, isbn, published_year, category, description,
		                    total_copies, available_copies, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.Title, b.Author, b.ISBN, b.PublishedYear, b.Category, nullString(b.Description),
		b.TotalCopies, b.TotalCopies, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("creating book: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting book id: %w", err)
	}
	return GetBook(ctx, q, id)
}

// GetBook returns a book by ID.
func GetBook(ctx context.Context, q Querier, id int64) (*model.Book, error) {
	rows, err := queryDataset(ctx, q, dialect.From("books").Select(bookColumns...).Where(goqu.C("id").Eq(id)))
	if err != nil {
		return nil, fmt.Errorf("getting book: %w", err)
	}
	defer rows.Close()

	books, err := scanBooks(rows)
	if err != nil {
		return nil, err
	}
	if len(books) == 0 {
		return nil, nil
	}
	return &books[0], nil
}

// ListBooks returns non-deleted books matching the filter, ordered by title.
func ListBooks(ctx context.Context, q Querier, f BookFilter) ([]model.Book, error) {
	ds := dialect.From("books").Select(bookColumns...).Where(goqu.C("deleted_at").IsNull())

	if f.Search != "" {
		pattern := "%" + f.Search + "%"
		ds = ds.Where(goqu.Or(
			goqu.C("title").Like(pattern),
			goqu.C("author").Like(pattern),
			goqu.C("isbn").Eq(f.Search),
		))
	}
	if f.Category != "" {
		ds = ds.Where(goqu.C("category").Eq(f.Category))
	}
	if f.AvailableOnly {
		ds = ds.Where(goqu.C("available_copies").Gt(0))
	}

	rows, err := queryDataset(ctx, q, ds.Order(goqu.C("title").Asc(), goqu.C("id").Asc()))
	if err != nil {
		return nil, fmt.Errorf("listing books: %w", err)
	}
	defer rows.Close()

	return scanBooks(rows)
}

func scanBooks(rows *sql.Rows) ([]model.Book, error) {
	var books []model.Book
	for rows.Next() {
		var b model.Book
		var description, coverMime sql.NullString
		if err := rows.Scan(&b.ID, &b.Title, &b.Author, &b.ISBN, &b.PublishedYear, &b.Category,
			&description, &coverMime, &b.TotalCopies, &b.AvailableCopies,
			&b.CreatedAt, &b.UpdatedAt, &b.DeletedAt); err != nil {
			return nil, fmt.Errorf("scanning book: %w", err)
		}
		b.Description = description.String
		b.CoverMime = coverMime.String
		books = append(books, b)
	}
	return books, rows.Err()
}

// UpdateBook updates a book's descriptive fields.
func UpdateBook(ctx context.Context, q Querier, b model.Book) error {
	_, err := q.ExecContext(ctx,
		`UPDATE books SET title = ?, author = ?, isbn = ?, published_year = ?, category = ?,
		                  description = ?, updated_at = ?
		 WHERE id = ? AND deleted_at IS NULL`,
		b.Title, b.Author, b.ISBN, b.PublishedYear, b.Category, nullString(b.Description),
		time.Now().UTC(), b.ID,
	)
	if err != nil {
		return fmt.Errorf("updating book: %w", err)
	}
	return nil
}

// SetTotalCopies changes the number of copies a library owns. The difference
// is applied to the available copies, so the total can never drop below the
// number currently checked out.
func SetTotalCopies(ctx context.Context, db *sql.DB, id int64, total int) (*model.Book, error) {
	if total < 0 {
		return nil, apperr.Validation("total copies must not be negative", nil)
	}

	err := InTx(ctx, db, func(tx *sql.Tx) error {
		book, err := GetBook(ctx, tx, id)
		if err != nil {
			return err
		}
		if book == nil || book.DeletedAt != nil {
			return apperr.NotFoundWithID("book", id)
		}
		if total < book.CheckedOut() {
			return apperr.InvalidState(fmt.Sprintf("%d copies are checked out, cannot reduce total to %d", book.CheckedOut(), total))
		}

		delta := total - book.TotalCopies
		_, err = tx.ExecContext(ctx,
			`UPDATE books SET total_copies = ?, available_copies = available_copies + ?, updated_at = ?
			 WHERE id = ?`,
			total, delta, time.Now().UTC(), id,
		)
		if err != nil {
			return fmt.Errorf("setting total copies: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return GetBook(ctx, db, id)
}

// DeleteBook soft-deletes a book that has no copies out on loan.
func DeleteBook(ctx context.Context, q Querier, id int64) error {
	result, err := q.ExecContext(ctx,
		`UPDATE books SET deleted_at = ?
		 WHERE id = ? AND deleted_at IS NULL
		   AND NOT EXISTS (SELECT 1 FROM borrow_records WHERE book_id = ? AND status = 'borrowed')`,
		time.Now().UTC(), id, id,
	)
	if err != nil {
		return fmt.Errorf("deleting book: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return apperr.InvalidState("book not found or still on loan")
	}
	return nil
}

// SetBookCover stores a book's cover image.
func SetBookCover(ctx context.Context, q Querier, id int64, data []byte, mime string) error {
	_, err := q.ExecContext(ctx,
		`UPDATE books SET cover = ?, cover_mime = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		data, mime, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("setting book cover: %w", err)
	}
	return nil
}

// GetBookCover returns a book's cover image data and MIME type.
func GetBookCover(ctx context.Context, q Querier, id int64) ([]byte, string, error) {
	var cover []byte
	var mime sql.NullString
	err := q.QueryRowContext(ctx,
		`SELECT cover, cover_mime FROM books WHERE id = ?`, id,
	).Scan(&cover, &mime)
	if err == sql.ErrNoRows {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("getting book cover: %w", err)
	}
	return cover, mime.String, nil
}
