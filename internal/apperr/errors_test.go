package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("resolving: %w", AlreadyResolved(7, "approved"))

	if !errors.Is(err, ErrAlreadyResolved) {
		t.Error("expected wrapped error to match ErrAlreadyResolved")
	}
	if errors.Is(err, ErrBorrowRecordClosed) {
		t.Error("did not expect match against a different code")
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want Kind
	}{
		{Validation("bad", nil), KindValidation},
		{InvalidReference("no such borrow"), KindValidation},
		{NotAdmin(), KindAuthorization},
		{NotOwner("request"), KindAuthorization},
		{NotFound("request"), KindNotFound},
		{AlreadyResolved(1, "rejected"), KindStateConflict},
		{BorrowRecordClosed(1, "returned"), KindStateConflict},
		{UserSuspended(1), KindStateConflict},
		{Unavailable(errors.New("busy")), KindTransient},
		{errors.New("plain"), KindInternal},
	}

	for _, tt := range tests {
		if got := KindOf(tt.err); got != tt.want {
			t.Errorf("KindOf(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestAsFallsBackToInternal(t *testing.T) {
	appErr := As(errors.New("boom"))
	if appErr.Code != CodeInternal {
		t.Errorf("expected %s, got %s", CodeInternal, appErr.Code)
	}
	if appErr.HTTPStatus != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", appErr.HTTPStatus)
	}

	orig := NotOwner("request")
	if got := As(fmt.Errorf("wrapped: %w", orig)); got != orig {
		t.Error("expected As to return the original AppError")
	}
}
