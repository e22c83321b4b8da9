package model

import "time"

// BorrowRecord is a single checkout of one book copy by one user.
type BorrowRecord struct {
	ID         int64      `json:"id"`
	UserID     int64      `json:"user_id"`
	BookID     int64      `json:"book_id"`
	BorrowDate time.Time  `json:"borrow_date"`
	DueDate    time.Time  `json:"due_date"`
	ReturnDate *time.Time `json:"return_date,omitempty"`
	Status     string     `json:"status"`

	// Joined fields (not always populated).
	BookTitle string `json:"book_title,omitempty"`
	Username  string `json:"username,omitempty"`
}

// Borrow statuses.
const (
	BorrowBorrowed = "borrowed"
	BorrowReturned = "returned"
	BorrowLost     = "lost"
	BorrowDamaged  = "damaged"
)

// Open reports whether the record is still checked out.
func (b *BorrowRecord) Open() bool {
	return b.Status == BorrowBorrowed
}

// Overdue reports whether an open record is past its due date at now.
func (b *BorrowRecord) Overdue(now time.Time) bool {
	return b.Open() && now.After(b.DueDate)
}
