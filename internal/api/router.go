package api

import (
	"database/sql"
	"net/http"

	"github.com/erazemk/knjiznica/internal/model"
	"github.com/erazemk/knjiznica/internal/requests"
	"github.com/erazemk/knjiznica/internal/resolution"
)

// Options configures the API router.
type Options struct {
	JWTSecret string
	LoanDays  int
	Policy    resolution.Policy
}

// NewRouter creates the API router with all endpoints registered.
func NewRouter(db *sql.DB, opts Options) http.Handler {
	if opts.LoanDays <= 0 {
		opts.LoanDays = 14
	}
	if opts.Policy == (resolution.Policy{}) {
		opts.Policy = resolution.DefaultPolicy()
	}

	mux := http.NewServeMux()

	engine := resolution.New(db, opts.Policy)
	authHandler := &AuthHandler{DB: db, JWTSecret: opts.JWTSecret}
	usersHandler := &UsersHandler{DB: db}
	booksHandler := &BooksHandler{DB: db}
	borrowsHandler := &BorrowsHandler{DB: db, LoanDays: opts.LoanDays}
	requestsHandler := &RequestsHandler{Service: requests.NewService(db, engine)}

	authMW := AuthMiddleware(opts.JWTSecret, db)
	requireAdmin := RequireRole(model.RoleAdmin)
	requireLibrarian := RequireRole(model.RoleLibrarian)

	// Public: login.
	mux.HandleFunc("POST /api/auth/login", authHandler.Login)

	// Authenticated routes.
	mux.Handle("PUT /api/auth/password", authMW(http.HandlerFunc(authHandler.ChangePassword)))
	mux.Handle("POST /api/auth/logout", authMW(http.HandlerFunc(authHandler.Logout)))

	// Accounts (admin only).
	mux.Handle("GET /api/users", authMW(requireAdmin(http.HandlerFunc(usersHandler.List))))
	mux.Handle("POST /api/users", authMW(requireAdmin(http.HandlerFunc(usersHandler.Create))))
	mux.Handle("GET /api/users/{id}", authMW(requireAdmin(http.HandlerFunc(usersHandler.Get))))
	mux.Handle("PUT /api/users/{id}", authMW(requireAdmin(http.HandlerFunc(usersHandler.Update))))
	mux.Handle("PUT /api/users/{id}/password", authMW(requireAdmin(http.HandlerFunc(usersHandler.ResetPassword))))
	mux.Handle("DELETE /api/users/{id}", authMW(requireAdmin(http.HandlerFunc(usersHandler.Delete))))
	mux.Handle("PUT /api/users/{id}/status", authMW(requireAdmin(http.HandlerFunc(usersHandler.SetStatus))))
	mux.Handle("POST /api/users/{id}/unsuspend", authMW(requireAdmin(http.HandlerFunc(usersHandler.Unsuspend))))

	// Catalog: read (all roles), write (librarian+).
	mux.Handle("GET /api/books", authMW(http.HandlerFunc(booksHandler.List)))
	mux.Handle("POST /api/books", authMW(requireLibrarian(http.HandlerFunc(booksHandler.Create))))
	mux.Handle("GET /api/books/{id}", authMW(http.HandlerFunc(booksHandler.Get)))
	mux.Handle("PUT /api/books/{id}", authMW(requireLibrarian(http.HandlerFunc(booksHandler.Update))))
	mux.Handle("DELETE /api/books/{id}", authMW(requireLibrarian(http.HandlerFunc(booksHandler.Delete))))
	mux.Handle("PUT /api/books/{id}/cover", authMW(requireLibrarian(http.HandlerFunc(booksHandler.UploadCover))))
	mux.Handle("GET /api/books/{id}/cover", authMW(http.HandlerFunc(booksHandler.GetCover)))

	// Borrowing.
	mux.Handle("POST /api/borrows", authMW(http.HandlerFunc(borrowsHandler.Create)))
	mux.Handle("GET /api/borrows", authMW(http.HandlerFunc(borrowsHandler.List)))
	mux.Handle("GET /api/borrows/{id}", authMW(http.HandlerFunc(borrowsHandler.Get)))
	mux.Handle("POST /api/borrows/{id}/return", authMW(requireLibrarian(http.HandlerFunc(borrowsHandler.Return))))

	// Requests: members file and rescind their own, admins resolve.
	mux.Handle("POST /api/requests", authMW(http.HandlerFunc(requestsHandler.Create)))
	mux.Handle("GET /api/requests", authMW(http.HandlerFunc(requestsHandler.List)))
	mux.Handle("GET /api/requests/{id}", authMW(http.HandlerFunc(requestsHandler.Get)))
	mux.Handle("POST /api/requests/{id}/rescind", authMW(http.HandlerFunc(requestsHandler.Rescind)))
	mux.Handle("POST /api/requests/{id}/resolve", authMW(http.HandlerFunc(requestsHandler.Resolve)))

	return mux
}
