package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/erazemk/knjiznica/internal/model"
)

var testNow = time.Date(2024, 1, 3, 9, 0, 0, 0, time.UTC)

func createMember(t *testing.T, database *sql.DB, username string) *model.User {
	t.Helper()
	user, err := CreateAccount(context.Background(), database, NewAccount{
		Username:     username,
		PasswordHash: "hash",
		Role:         model.RoleMember,
		FullName:     username,
		Status:       model.AccountApproved,
	})
	if err != nil {
		t.Fatalf("CreateAccount(%s): %v", username, err)
	}
	return user
}

func createBook(t *testing.T, database *sql.DB, title string, copies int) *model.Book {
	t.Helper()
	book, err := CreateBook(context.Background(), database, model.Book{Title: title, TotalCopies: copies})
	if err != nil {
		t.Fatalf("CreateBook(%s): %v", title, err)
	}
	return book
}

func createBorrow(t *testing.T, database *sql.DB, userID, bookID int64) *model.BorrowRecord {
	t.Helper()
	rec, err := CreateBorrow(context.Background(), database, userID, bookID, 7, testNow)
	if err != nil {
		t.Fatalf("CreateBorrow: %v", err)
	}
	return rec
}
