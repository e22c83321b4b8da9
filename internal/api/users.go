package api

import (
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/erazemk/knjiznica/internal/apperr"
	"github.com/erazemk/knjiznica/internal/auth"
	"github.com/erazemk/knjiznica/internal/model"
	"github.com/erazemk/knjiznica/internal/store"
)

// UsersHandler handles account management endpoints (admin only).
type UsersHandler struct {
	DB *sql.DB
}

type createUserRequest struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	Role      string `json:"role"`
	FullName  string `json:"full_name"`
	Email     string `json:"email"`
	ClassName string `json:"class_name"`
	Status    string `json:"status"`
}

type updateUserRequest struct {
	Role      string `json:"role"`
	FullName  string `json:"full_name"`
	Email     string `json:"email"`
	ClassName string `json:"class_name"`
}

type resetPasswordRequest struct {
	Password string `json:"password"`
}

type setStatusRequest struct {
	Status string `json:"status"`
}

type accountResponse struct {
	*model.User
	Profile *model.UserConfig `json:"profile,omitempty"`
}

// List handles GET /api/users.
func (h *UsersHandler) List(w http.ResponseWriter, r *http.Request) {
	users, err := store.ListUsers(r.Context(), h.DB)
	if err != nil {
		slog.Error("failed to list users", "error", err)
		writeError(w, r, err)
		return
	}
	if users == nil {
		users = []model.User{}
	}
	jsonResponse(w, http.StatusOK, users)
}

// Create handles POST /api/users. Accounts created by an admin are approved
// unless another status is given.
func (h *UsersHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Username == "" || req.Password == "" || req.Role == "" {
		jsonError(w, http.StatusBadRequest, "username, password, and role required")
		return
	}
	if !model.ValidRole(req.Role) {
		jsonError(w, http.StatusBadRequest, "invalid role")
		return
	}
	if err := model.ValidatePassword(req.Password); err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}
	switch req.Status {
	case "":
		req.Status = model.AccountApproved
	case model.AccountPending, model.AccountApproved, model.AccountRejected:
	default:
		jsonError(w, http.StatusBadRequest, "invalid account status")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}

	user, err := store.CreateAccount(r.Context(), h.DB, store.NewAccount{
		Username:     req.Username,
		PasswordHash: hash,
		Role:         req.Role,
		FullName:     req.FullName,
		Email:        req.Email,
		ClassName:    req.ClassName,
		Status:       req.Status,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	slog.Info("user created", "user", identity(r).Username, "new_user", req.Username,
		"role", req.Role, "status", req.Status)
	jsonResponse(w, http.StatusCreated, user)
}

// Get handles GET /api/users/{id}.
func (h *UsersHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	user, err := store.GetUser(r.Context(), h.DB, id)
	if err != nil {
		slog.Error("failed to get user", "error", err)
		writeError(w, r, err)
		return
	}
	if user == nil {
		writeError(w, r, apperr.NotFoundWithID("user", id))
		return
	}

	profile, err := store.GetUserConfig(r.Context(), h.DB, id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	jsonResponse(w, http.StatusOK, accountResponse{User: user, Profile: profile})
}

// Update handles PUT /api/users/{id}. The profile fields are replaced; an
// empty role leaves the role unchanged.
func (h *UsersHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	var req updateUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Role != "" && !model.ValidRole(req.Role) {
		jsonError(w, http.StatusBadRequest, "invalid role")
		return
	}

	user, err := store.GetUser(r.Context(), h.DB, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if user == nil || user.DeletedAt != nil {
		writeError(w, r, apperr.NotFoundWithID("user", id))
		return
	}

	if req.Role != "" && req.Role != user.Role {
		if err := store.UpdateUserRole(r.Context(), h.DB, id, req.Role); err != nil {
			writeError(w, r, err)
			return
		}
		slog.Info("user role updated", "user", identity(r).Username, "target_user", user.Username, "new_role", req.Role)
	}
	if err := store.UpdateUserProfile(r.Context(), h.DB, id, req.FullName, req.Email, req.ClassName); err != nil {
		writeError(w, r, err)
		return
	}

	h.Get(w, r)
}

// ResetPassword handles PUT /api/users/{id}/password.
func (h *UsersHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	var req resetPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := model.ValidatePassword(req.Password); err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	target, err := store.GetUser(r.Context(), h.DB, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if target == nil || target.DeletedAt != nil {
		writeError(w, r, apperr.NotFoundWithID("user", id))
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := store.UpdateUserPassword(r.Context(), h.DB, id, hash); err != nil {
		writeError(w, r, err)
		return
	}

	slog.Info("user password reset", "user", identity(r).Username, "target_user", target.Username)
	jsonResponse(w, http.StatusOK, map[string]string{"message": "password reset"})
}

// Delete handles DELETE /api/users/{id}.
func (h *UsersHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	caller := identity(r)
	if caller.UserID == id {
		jsonError(w, http.StatusBadRequest, "cannot delete yourself")
		return
	}

	target, err := store.GetUser(r.Context(), h.DB, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if target == nil || target.DeletedAt != nil {
		writeError(w, r, apperr.NotFoundWithID("user", id))
		return
	}

	if err := store.DeleteUser(r.Context(), h.DB, id); err != nil {
		writeError(w, r, err)
		return
	}

	slog.Info("user deleted", "user", caller.Username, "deleted_user", target.Username)
	jsonResponse(w, http.StatusOK, map[string]string{"message": "user deleted"})
}

// SetStatus handles PUT /api/users/{id}/status.
func (h *UsersHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	var req setStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := store.SetAccountStatus(r.Context(), h.DB, id, req.Status); err != nil {
		writeError(w, r, err)
		return
	}

	slog.Info("account status changed", "user", identity(r).Username, "target_user", id, "status", req.Status)
	h.respondProfile(w, r, id)
}

// Unsuspend handles POST /api/users/{id}/unsuspend. Lifting a suspension
// that is not in force succeeds without changes.
func (h *UsersHandler) Unsuspend(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	lifted, err := store.Unsuspend(r.Context(), h.DB, id, time.Now())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if lifted {
		slog.Info("suspension lifted", "user", identity(r).Username, "target_user", id)
	}
	h.respondProfile(w, r, id)
}

func (h *UsersHandler) respondProfile(w http.ResponseWriter, r *http.Request, id int64) {
	profile, err := store.GetUserConfig(r.Context(), h.DB, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if profile == nil {
		writeError(w, r, apperr.NotFoundWithID("user", id))
		return
	}
	jsonResponse(w, http.StatusOK, profile)
}
