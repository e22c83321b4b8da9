package resolution

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erazemk/knjiznica/internal/apperr"
	"github.com/erazemk/knjiznica/internal/db"
	"github.com/erazemk/knjiznica/internal/model"
	"github.com/erazemk/knjiznica/internal/store"
)

var testNow = time.Date(2024, 1, 3, 9, 0, 0, 0, time.UTC)

type fixture struct {
	t      *testing.T
	db     *sql.DB
	engine *Engine
	admin  *model.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return fixtureOn(t, db.NewTestDB(t))
}

// newFileFixture uses an on-disk database so that concurrent callers get
// their own connections and contend on the SQLite write lock.
func newFileFixture(t *testing.T) *fixture {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "knjiznica.sqlite3"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, db.Migrate(database))
	return fixtureOn(t, database)
}

func fixtureOn(t *testing.T, database *sql.DB) *fixture {
	t.Helper()
	engine := New(database, DefaultPolicy())
	engine.Now = func() time.Time { return testNow }

	f := &fixture{t: t, db: database, engine: engine}
	f.admin = f.user("admin", model.RoleAdmin)
	return f
}

func (f *fixture) user(name, role string) *model.User {
	f.t.Helper()
	u, err := store.CreateAccount(context.Background(), f.db, store.NewAccount{
		Username:     name,
		PasswordHash: "hash",
		Role:         role,
		FullName:     name,
		Status:       model.AccountApproved,
	})
	require.NoError(f.t, err)
	return u
}

func (f *fixture) book(title string, copies int) *model.Book {
	f.t.Helper()
	b, err := store.CreateBook(context.Background(), f.db, model.Book{Title: title, TotalCopies: copies})
	require.NoError(f.t, err)
	return b
}

// borrow checks a book out at testNow, due a week later on 2024-01-10.
func (f *fixture) borrow(userID, bookID int64) *model.BorrowRecord {
	f.t.Helper()
	rec, err := store.CreateBorrow(context.Background(), f.db, userID, bookID, 7, testNow)
	require.NoError(f.t, err)
	return rec
}

func (f *fixture) request(rec *model.BorrowRecord, typ model.RequestType, requested *time.Time) *model.Request {
	f.t.Helper()
	req, err := store.CreateRequest(context.Background(), f.db, store.NewRequest{
		RequesterID:    rec.UserID,
		BorrowRecordID: rec.ID,
		Type:           typ,
		Reason:         "please",
		RequestedDate:  requested,
	}, testNow)
	require.NoError(f.t, err)
	return req
}

func (f *fixture) resolve(req *model.Request, decision string, data *model.ActionData) (*model.Request, error) {
	return f.engine.Resolve(context.Background(), Input{
		RequestID:     req.ID,
		AdminID:       f.admin.ID,
		Decision:      decision,
		AdminResponse: "ok",
		ActionData:    data,
	})
}

type snapshot struct {
	borrow *model.BorrowRecord
	book   *model.Book
	config *model.UserConfig
}

func (f *fixture) snapshot(rec *model.BorrowRecord) snapshot {
	f.t.Helper()
	ctx := context.Background()
	b, err := store.GetBorrow(ctx, f.db, rec.ID)
	require.NoError(f.t, err)
	book, err := store.GetBook(ctx, f.db, rec.BookID)
	require.NoError(f.t, err)
	cfg, err := store.GetUserConfig(ctx, f.db, rec.UserID)
	require.NoError(f.t, err)
	return snapshot{borrow: b, book: book, config: cfg}
}

func (f *fixture) requireUnchanged(before snapshot, rec *model.BorrowRecord) {
	f.t.Helper()
	after := f.snapshot(rec)
	assert.Equal(f.t, before.borrow.Status, after.borrow.Status)
	assert.True(f.t, before.borrow.DueDate.Equal(after.borrow.DueDate))
	assert.Equal(f.t, before.borrow.ReturnDate == nil, after.borrow.ReturnDate == nil)
	assert.Equal(f.t, before.book.TotalCopies, after.book.TotalCopies)
	assert.Equal(f.t, before.book.AvailableCopies, after.book.AvailableCopies)
	assert.Equal(f.t, before.config.Status, after.config.Status)
	assert.Equal(f.t, before.config.SuspendedUntil == nil, after.config.SuspendedUntil == nil)
}

func intPtr(v int) *int { return &v }

func TestExtendBorrowAddsSevenDays(t *testing.T) {
	f := newFixture(t)
	ana := f.user("ana", model.RoleMember)
	rec := f.borrow(ana.ID, f.book("Alamut", 1).ID)
	req := f.request(rec, model.RequestExtendBorrow, nil)

	resolved, err := f.resolve(req, model.RequestApproved, nil)
	require.NoError(t, err)

	oldDue := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)
	newDue := time.Date(2024, 1, 17, 9, 0, 0, 0, time.UTC)

	assert.Equal(t, model.RequestApproved, resolved.Status)
	require.NotNil(t, resolved.ActionData)
	assert.Equal(t, model.ActionExtendBorrow, resolved.ActionData.ActionType)
	require.NotNil(t, resolved.ActionData.OldDueDate)
	require.NotNil(t, resolved.ActionData.NewDueDate)
	assert.True(t, resolved.ActionData.OldDueDate.Equal(oldDue))
	assert.True(t, resolved.ActionData.NewDueDate.Equal(newDue))
	require.NotNil(t, resolved.ResolvedBy)
	assert.Equal(t, f.admin.ID, *resolved.ResolvedBy)

	after := f.snapshot(rec)
	assert.True(t, after.borrow.DueDate.Equal(newDue))
	assert.Equal(t, model.BorrowBorrowed, after.borrow.Status)
}

func TestReportLostRemovesCopyAndSuspends(t *testing.T) {
	f := newFixture(t)
	book := f.book("Alamut", 3)
	ana := f.user("ana", model.RoleMember)
	rec := f.borrow(ana.ID, book.ID)
	f.borrow(f.user("bor", model.RoleMember).ID, book.ID)
	f.borrow(f.user("cene", model.RoleMember).ID, book.ID)
	req := f.request(rec, model.RequestReportLost, nil)

	resolved, err := f.resolve(req, model.RequestApproved, &model.ActionData{SuspensionDays: intPtr(14)})
	require.NoError(t, err)

	require.NotNil(t, resolved.ActionData)
	assert.Equal(t, model.ActionReportLost, resolved.ActionData.ActionType)
	require.NotNil(t, resolved.ActionData.SuspensionDays)
	assert.Equal(t, 14, *resolved.ActionData.SuspensionDays)

	after := f.snapshot(rec)
	assert.Equal(t, 2, after.book.TotalCopies)
	assert.Equal(t, 0, after.book.AvailableCopies)
	assert.Equal(t, model.BorrowLost, after.borrow.Status)
	assert.Equal(t, model.AccountSuspended, after.config.Status)
	require.NotNil(t, after.config.SuspendedUntil)
	assert.True(t, after.config.SuspendedUntil.Equal(testNow.AddDate(0, 0, 14)))
}

func TestReportDamageUsesDefaultSuspension(t *testing.T) {
	f := newFixture(t)
	ana := f.user("ana", model.RoleMember)
	rec := f.borrow(ana.ID, f.book("Alamut", 2).ID)
	req := f.request(rec, model.RequestReportDamage, nil)

	resolved, err := f.resolve(req, model.RequestApproved, nil)
	require.NoError(t, err)
	assert.Equal(t, model.ActionReportDamage, resolved.ActionData.ActionType)
	assert.Equal(t, 14, *resolved.ActionData.SuspensionDays)

	after := f.snapshot(rec)
	assert.Equal(t, model.BorrowDamaged, after.borrow.Status)
	assert.Equal(t, 1, after.book.TotalCopies)
	assert.Equal(t, 1, after.book.AvailableCopies)
	assert.True(t, after.config.SuspendedUntil.After(testNow))
}

func TestSuspensionDaysOutOfRange(t *testing.T) {
	for _, days := range []int{0, -3, 91} {
		f := newFixture(t)
		ana := f.user("ana", model.RoleMember)
		rec := f.borrow(ana.ID, f.book("Alamut", 1).ID)
		req := f.request(rec, model.RequestReportLost, nil)
		before := f.snapshot(rec)

		_, err := f.resolve(req, model.RequestApproved, &model.ActionData{SuspensionDays: intPtr(days)})
		assert.ErrorIs(t, err, apperr.ErrValidation, "days=%d", days)

		f.requireUnchanged(before, rec)
		got, err := store.GetRequest(context.Background(), f.db, req.ID)
		require.NoError(t, err)
		assert.Equal(t, model.RequestPending, got.Status)
	}
}

func TestEarlyReturn(t *testing.T) {
	f := newFixture(t)
	ana := f.user("ana", model.RoleMember)
	rec := f.borrow(ana.ID, f.book("Alamut", 1).ID)
	req := f.request(rec, model.RequestEarlyReturn, nil)

	resolved, err := f.resolve(req, model.RequestApproved, nil)
	require.NoError(t, err)
	assert.Equal(t, model.ActionEarlyReturn, resolved.ActionData.ActionType)

	after := f.snapshot(rec)
	assert.Equal(t, model.BorrowReturned, after.borrow.Status)
	require.NotNil(t, after.borrow.ReturnDate)
	assert.Equal(t, 1, after.book.AvailableCopies)
}

func TestChangeDueDate(t *testing.T) {
	requested := time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC)
	override := time.Date(2024, 1, 25, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		data *model.ActionData
		want time.Time
	}{
		{"requested date", nil, requested},
		{"admin override", &model.ActionData{NewDueDate: &override}, override},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ana := f.user("ana", model.RoleMember)
			rec := f.borrow(ana.ID, f.book("Alamut", 1).ID)
			req := f.request(rec, model.RequestChangeDueDate, &requested)

			resolved, err := f.resolve(req, model.RequestApproved, tt.data)
			require.NoError(t, err)
			assert.Equal(t, model.ActionChangeDueDate, resolved.ActionData.ActionType)
			assert.True(t, resolved.ActionData.OldDueDate.Equal(rec.DueDate))
			assert.True(t, resolved.ActionData.NewDueDate.Equal(tt.want))

			after := f.snapshot(rec)
			assert.True(t, after.borrow.DueDate.Equal(tt.want))
		})
	}
}

func TestChangeDueDateWithoutDate(t *testing.T) {
	f := newFixture(t)
	ana := f.user("ana", model.RoleMember)
	rec := f.borrow(ana.ID, f.book("Alamut", 1).ID)
	req := f.request(rec, model.RequestChangeDueDate, nil)
	before := f.snapshot(rec)

	_, err := f.resolve(req, model.RequestApproved, nil)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	f.requireUnchanged(before, rec)
}

func TestOtherIsMessageOnly(t *testing.T) {
	f := newFixture(t)
	ana := f.user("ana", model.RoleMember)
	rec := f.borrow(ana.ID, f.book("Alamut", 1).ID)
	req := f.request(rec, model.RequestOther, nil)
	before := f.snapshot(rec)

	resolved, err := f.resolve(req, model.RequestApproved, nil)
	require.NoError(t, err)
	assert.Equal(t, model.ActionMessageOnly, resolved.ActionData.ActionType)
	f.requireUnchanged(before, rec)
}

func TestRejectHasNoSideEffects(t *testing.T) {
	for _, typ := range model.RequestTypes {
		t.Run(string(typ), func(t *testing.T) {
			f := newFixture(t)
			ana := f.user("ana", model.RoleMember)
			rec := f.borrow(ana.ID, f.book("Alamut", 1).ID)
			requested := testNow.AddDate(0, 0, 30)
			req := f.request(rec, typ, &requested)
			before := f.snapshot(rec)

			// Out-of-range action data is irrelevant to a rejection.
			resolved, err := f.resolve(req, model.RequestRejected, &model.ActionData{SuspensionDays: intPtr(500)})
			require.NoError(t, err)
			assert.Equal(t, model.RequestRejected, resolved.Status)
			assert.Equal(t, "ok", resolved.AdminResponse)
			assert.Nil(t, resolved.ActionData)
			f.requireUnchanged(before, rec)
		})
	}
}

func TestSecondResolveIsAlreadyResolved(t *testing.T) {
	f := newFixture(t)
	ana := f.user("ana", model.RoleMember)
	rec := f.borrow(ana.ID, f.book("Alamut", 1).ID)
	req := f.request(rec, model.RequestExtendBorrow, nil)

	_, err := f.resolve(req, model.RequestApproved, nil)
	require.NoError(t, err)
	before := f.snapshot(rec)

	_, err = f.resolve(req, model.RequestApproved, nil)
	assert.ErrorIs(t, err, apperr.ErrAlreadyResolved)
	_, err = f.resolve(req, model.RequestRejected, nil)
	assert.ErrorIs(t, err, apperr.ErrAlreadyResolved)

	f.requireUnchanged(before, rec)
}

func TestConcurrentResolveAppliesOnce(t *testing.T) {
	f := newFixture(t)
	ana := f.user("ana", model.RoleMember)
	rec := f.borrow(ana.ID, f.book("Alamut", 3).ID)
	req := f.request(rec, model.RequestReportLost, nil)

	const callers = 8
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.resolve(req, model.RequestApproved, nil)
		}()
	}
	wg.Wait()

	var wins int
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, apperr.ErrAlreadyResolved)
	}
	assert.Equal(t, 1, wins)

	after := f.snapshot(rec)
	assert.Equal(t, 2, after.book.TotalCopies)
	assert.Equal(t, model.BorrowLost, after.borrow.Status)
}

func TestClosedBorrowAutoRejects(t *testing.T) {
	f := newFixture(t)
	ana := f.user("ana", model.RoleMember)
	rec := f.borrow(ana.ID, f.book("Alamut", 1).ID)
	extend := f.request(rec, model.RequestExtendBorrow, nil)
	lost := f.request(rec, model.RequestReportLost, nil)

	// A direct return at the desk closes the record first.
	_, err := store.ReturnBorrow(context.Background(), f.db, rec.ID, testNow)
	require.NoError(t, err)
	before := f.snapshot(rec)

	_, err = f.resolve(lost, model.RequestApproved, nil)
	assert.ErrorIs(t, err, apperr.ErrBorrowRecordClosed)
	assert.Equal(t, apperr.KindStateConflict, apperr.KindOf(err))

	got, err := store.GetRequest(context.Background(), f.db, lost.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestRejected, got.Status)
	assert.True(t, strings.HasPrefix(got.AdminResponse, SystemResponsePrefix))
	assert.Nil(t, got.ResolvedBy)
	f.requireUnchanged(before, rec)

	// Rejecting a request on a closed record is still allowed.
	resolved, err := f.resolve(extend, model.RequestRejected, nil)
	require.NoError(t, err)
	assert.Equal(t, model.RequestRejected, resolved.Status)
}

func TestResolveValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Resolve(context.Background(), Input{RequestID: 1, AdminID: f.admin.ID, Decision: "maybe"})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = f.engine.Resolve(context.Background(), Input{RequestID: 999, AdminID: f.admin.ID, Decision: model.RequestApproved})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestPolicyValidate(t *testing.T) {
	assert.NoError(t, DefaultPolicy().Validate())
	assert.Error(t, Policy{ExtendDays: 0, DefaultSuspensionDays: 14, MaxSuspensionDays: 90}.Validate())
	assert.Error(t, Policy{ExtendDays: 7, DefaultSuspensionDays: 100, MaxSuspensionDays: 90}.Validate())
	assert.Error(t, Policy{ExtendDays: 7, DefaultSuspensionDays: 0, MaxSuspensionDays: 90}.Validate())
}

func TestConcurrentResolveOnFileDatabase(t *testing.T) {
	f := newFileFixture(t)
	ana := f.user("ana", model.RoleMember)

	for round := range 3 {
		book := f.book("Alamut", 3)
		rec := f.borrow(ana.ID, book.ID)
		lost := f.request(rec, model.RequestReportLost, nil)
		extend := f.request(rec, model.RequestExtendBorrow, nil)
		before := f.snapshot(rec)

		const callers = 8
		errs := make([]error, callers)
		var wg sync.WaitGroup
		for i := range callers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				req := lost
				if i%2 == 1 {
					req = extend
				}
				_, errs[i] = f.resolve(req, model.RequestApproved, nil)
			}()
		}
		wg.Wait()

		var wins int
		for _, err := range errs {
			if err == nil {
				wins++
				continue
			}
			require.Truef(t, errors.Is(err, apperr.ErrAlreadyResolved) || errors.Is(err, apperr.ErrBorrowRecordClosed),
				"round %d: unexpected error %v", round, err)
		}

		after := f.snapshot(rec)
		// The loss always lands; the extension either ran before it or was
		// auto-rejected on the closed record. Each side effect applies once.
		require.Equal(t, model.BorrowLost, after.borrow.Status, "round %d", round)
		assert.Equal(t, before.book.TotalCopies-1, after.book.TotalCopies, "round %d", round)
		assert.Equal(t, before.book.AvailableCopies, after.book.AvailableCopies, "round %d", round)
		assert.Equal(t, model.AccountSuspended, after.config.Status, "round %d", round)

		got, err := store.GetRequest(context.Background(), f.db, lost.ID)
		require.NoError(t, err)
		assert.Equal(t, model.RequestApproved, got.Status, "round %d", round)
		got, err = store.GetRequest(context.Background(), f.db, extend.ID)
		require.NoError(t, err)
		assert.False(t, got.Pending(), "round %d", round)
		if got.Status == model.RequestApproved {
			assert.Equal(t, 2, wins, "round %d", round)
			assert.True(t, after.borrow.DueDate.Equal(before.borrow.DueDate.AddDate(0, 0, 7)), "round %d", round)
		} else {
			assert.Equal(t, 1, wins, "round %d", round)
			assert.True(t, after.borrow.DueDate.Equal(before.borrow.DueDate), "round %d", round)
		}

		_, err = store.Unsuspend(context.Background(), f.db, ana.ID, testNow)
		require.NoError(t, err)
	}
}

func TestResolveRacesDirectReturn(t *testing.T) {
	f := newFileFixture(t)
	ana := f.user("ana", model.RoleMember)

	for round := range 5 {
		book := f.book("Alamut", 3)
		rec := f.borrow(ana.ID, book.ID)
		req := f.request(rec, model.RequestReportLost, nil)
		before := f.snapshot(rec)

		var resolveErr, returnErr error
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, resolveErr = f.resolve(req, model.RequestApproved, nil)
		}()
		go func() {
			defer wg.Done()
			_, returnErr = store.ReturnBorrow(context.Background(), f.db, rec.ID, testNow)
		}()
		wg.Wait()

		after := f.snapshot(rec)
		got, err := store.GetRequest(context.Background(), f.db, req.ID)
		require.NoError(t, err)

		if resolveErr == nil {
			// Loss applied first; the desk return found the record closed.
			assert.ErrorIs(t, returnErr, apperr.ErrInvalidState, "round %d", round)
			assert.Equal(t, model.BorrowLost, after.borrow.Status, "round %d", round)
			assert.Equal(t, before.book.TotalCopies-1, after.book.TotalCopies, "round %d", round)
			assert.Equal(t, before.book.AvailableCopies, after.book.AvailableCopies, "round %d", round)
			assert.Equal(t, model.AccountSuspended, after.config.Status, "round %d", round)
			assert.Equal(t, model.RequestApproved, got.Status, "round %d", round)
		} else {
			// Return applied first; the request was rejected by the system.
			assert.ErrorIs(t, resolveErr, apperr.ErrBorrowRecordClosed, "round %d", round)
			assert.NoError(t, returnErr, "round %d", round)
			assert.Equal(t, model.BorrowReturned, after.borrow.Status, "round %d", round)
			assert.Equal(t, before.book.TotalCopies, after.book.TotalCopies, "round %d", round)
			assert.Equal(t, before.book.AvailableCopies+1, after.book.AvailableCopies, "round %d", round)
			assert.Equal(t, model.AccountApproved, after.config.Status, "round %d", round)
			assert.Equal(t, model.RequestRejected, got.Status, "round %d", round)
		}

		_, err = store.Unsuspend(context.Background(), f.db, ana.ID, testNow)
		require.NoError(t, err)
	}
}

func TestFailedSideEffectRollsBackResolution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ana := f.user("ana", model.RoleMember)
	book := f.book("Alamut", 2)
	rec := f.borrow(ana.ID, book.ID)
	req := f.request(rec, model.RequestReportLost, nil)

	// Without a profile row the suspension fails after the copy was removed.
	_, err := f.db.ExecContext(ctx, `DELETE FROM user_configs WHERE user_id = ?`, ana.ID)
	require.NoError(t, err)

	_, err = f.resolve(req, model.RequestApproved, nil)
	require.ErrorIs(t, err, apperr.ErrNotFound)

	got, err := store.GetRequest(ctx, f.db, req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestPending, got.Status)
	assert.Nil(t, got.ActionData)
	assert.Nil(t, got.ResolvedAt)

	gotBook, err := store.GetBook(ctx, f.db, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, gotBook.TotalCopies)
	assert.Equal(t, 1, gotBook.AvailableCopies)

	gotRec, err := store.GetBorrow(ctx, f.db, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BorrowBorrowed, gotRec.Status)
}

func TestResolveReturnsCommittedRequestInOneAttempt(t *testing.T) {
	f := newFixture(t)
	ana := f.user("ana", model.RoleMember)
	rec := f.borrow(ana.ID, f.book("Alamut", 1).ID)
	req := f.request(rec, model.RequestExtendBorrow, nil)

	var attempts atomic.Int32
	f.engine.Now = func() time.Time {
		attempts.Add(1)
		return testNow
	}

	resolved, err := f.resolve(req, model.RequestApproved, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(1), attempts.Load())

	stored, err := store.GetRequest(context.Background(), f.db, req.ID)
	require.NoError(t, err)
	assert.Equal(t, stored.Status, resolved.Status)
	assert.Equal(t, stored.ResolvedBy, resolved.ResolvedBy)
	require.NotNil(t, resolved.ActionData)
	assert.Equal(t, stored.ActionData.ActionType, resolved.ActionData.ActionType)
	assert.True(t, stored.ActionData.NewDueDate.Equal(*resolved.ActionData.NewDueDate))
}
