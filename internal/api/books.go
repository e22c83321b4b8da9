package api

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/erazemk/knjiznica/internal/apperr"
	"github.com/erazemk/knjiznica/internal/cover"
	"github.com/erazemk/knjiznica/internal/model"
	"github.com/erazemk/knjiznica/internal/store"
)

// BooksHandler handles catalog endpoints.
type BooksHandler struct {
	DB *sql.DB
}

type bookRequest struct {
	Title         string `json:"title"`
	Author        string `json:"author"`
	ISBN          string `json:"isbn"`
	PublishedYear int    `json:"published_year"`
	Category      string `json:"category"`
	Description   string `json:"description"`
	TotalCopies   *int   `json:"total_copies"`
}

func (req bookRequest) book() model.Book {
	b := model.Book{
		Title:         req.Title,
		Author:        req.Author,
		ISBN:          req.ISBN,
		PublishedYear: req.PublishedYear,
		Category:      req.Category,
		Description:   req.Description,
	}
	if req.TotalCopies != nil {
		b.TotalCopies = *req.TotalCopies
	}
	return b
}

// List handles GET /api/books?q=&category=&available=true.
func (h *BooksHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	books, err := store.ListBooks(r.Context(), h.DB, store.BookFilter{
		Search:        q.Get("q"),
		Category:      q.Get("category"),
		AvailableOnly: q.Get("available") == "true",
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if books == nil {
		books = []model.Book{}
	}
	jsonResponse(w, http.StatusOK, books)
}

// Create handles POST /api/books.
func (h *BooksHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req bookRequest
	if err := decodeJSON(w, r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Title == "" {
		jsonError(w, http.StatusBadRequest, "title required")
		return
	}

	book, err := store.CreateBook(r.Context(), h.DB, req.book())
	if err != nil {
		writeError(w, r, err)
		return
	}

	slog.Info("book created", "user", identity(r).Username, "book", book.ID,
		"title", book.Title, "copies", book.TotalCopies)
	jsonResponse(w, http.StatusCreated, book)
}

// Get handles GET /api/books/{id}.
func (h *BooksHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid book id")
		return
	}

	book, err := store.GetBook(r.Context(), h.DB, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if book == nil || book.DeletedAt != nil {
		writeError(w, r, apperr.NotFoundWithID("book", id))
		return
	}
	jsonResponse(w, http.StatusOK, book)
}

// Update handles PUT /api/books/{id}. A total_copies field changes the number
// of copies owned; it cannot drop below the copies out on loan.
func (h *BooksHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid book id")
		return
	}

	var req bookRequest
	if err := decodeJSON(w, r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Title == "" {
		jsonError(w, http.StatusBadRequest, "title required")
		return
	}

	existing, err := store.GetBook(r.Context(), h.DB, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if existing == nil || existing.DeletedAt != nil {
		writeError(w, r, apperr.NotFoundWithID("book", id))
		return
	}

	b := req.book()
	b.ID = id
	if err := store.UpdateBook(r.Context(), h.DB, b); err != nil {
		writeError(w, r, err)
		return
	}

	if req.TotalCopies != nil && *req.TotalCopies != existing.TotalCopies {
		if _, err := store.SetTotalCopies(r.Context(), h.DB, id, *req.TotalCopies); err != nil {
			writeError(w, r, err)
			return
		}
	}

	book, err := store.GetBook(r.Context(), h.DB, id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	slog.Info("book updated", "user", identity(r).Username, "book", id, "copies", book.TotalCopies)
	jsonResponse(w, http.StatusOK, book)
}

// Delete handles DELETE /api/books/{id}.
func (h *BooksHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid book id")
		return
	}

	if err := store.DeleteBook(r.Context(), h.DB, id); err != nil {
		writeError(w, r, err)
		return
	}

	slog.Info("book deleted", "user", identity(r).Username, "book", id)
	w.WriteHeader(http.StatusNoContent)
}

// UploadCover handles PUT /api/books/{id}/cover with a multipart "cover" file.
func (h *BooksHandler) UploadCover(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid book id")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, cover.MaxUploadSize+(64<<10))
	if err := r.ParseMultipartForm(cover.MaxUploadSize); err != nil {
		jsonError(w, http.StatusBadRequest, "file too large or invalid multipart form")
		return
	}

	file, _, err := r.FormFile("cover")
	if err != nil {
		jsonError(w, http.StatusBadRequest, "cover file required")
		return
	}
	defer file.Close()

	data, err := cover.Normalize(file)
	if err != nil {
		writeError(w, r, err)
		return
	}

	book, err := store.GetBook(r.Context(), h.DB, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if book == nil || book.DeletedAt != nil {
		writeError(w, r, apperr.NotFoundWithID("book", id))
		return
	}

	if err := store.SetBookCover(r.Context(), h.DB, id, data, cover.MIME); err != nil {
		writeError(w, r, err)
		return
	}

	slog.Info("book cover uploaded", "user", identity(r).Username, "book", id, "bytes", len(data))
	jsonResponse(w, http.StatusOK, map[string]string{"message": "cover uploaded"})
}

// GetCover handles GET /api/books/{id}/cover.
func (h *BooksHandler) GetCover(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid book id")
		return
	}

	data, mime, err := store.GetBookCover(r.Context(), h.DB, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if data == nil {
		jsonError(w, http.StatusNotFound, "no cover")
		return
	}

	w.Header().Set("Content-Type", mime)
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Write(data)
}
