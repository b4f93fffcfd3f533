package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/compasslabs/compass/internal/model"
)

type adminUsersData struct {
	Users []model.User
}

func (h *Handler) handleAdminUsersPage(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers()
	if err != nil {
		h.fail(w, err)
		return
	}
	h.render(w, r, "admin_users.html", "comPASS · Users", "", adminUsersData{Users: users})
}

func (h *Handler) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	username := strings.TrimSpace(r.FormValue("username"))
	displayName := strings.TrimSpace(r.FormValue("display_name"))
	password := r.FormValue("password")
	role := model.UserRole(r.FormValue("role"))

	if username == "" || password == "" {
		http.Error(w, "username and password are required", http.StatusBadRequest)
		return
	}
	if role != model.UserRoleInstructor && role != model.UserRoleAdmin {
		http.Error(w, "unknown role", http.StatusBadRequest)
		return
	}
	if displayName == "" {
		displayName = username
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		h.fail(w, err)
		return
	}
	id, err := h.store.CreateUser(model.User{
		Username:     username,
		DisplayName:  displayName,
		PasswordHash: string(hash),
		Role:         role,
		Active:       true,
	})
	if err != nil {
		h.fail(w, err)
		return
	}

	slog.Info("user created", "id", id, "username", username, "role", role)
	http.Redirect(w, r, h.path("/admin/users"), http.StatusSeeOther)
}

func (h *Handler) handleSetUserActive(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil {
		http.Error(w, "bad user id", http.StatusBadRequest)
		return
	}
	active := r.FormValue("active") == "true"

	// An admin locking themselves out is unrecoverable without shell
	// access, so refuse it.
	if self := model.UserFromContext(r.Context()); self != nil && self.ID == id && !active {
		http.Error(w, "cannot disable your own account", http.StatusBadRequest)
		return
	}

	if err := h.store.SetUserActive(id, active); err != nil {
		h.fail(w, err)
		return
	}
	slog.Info("user active flag changed", "id", id, "active", active)
	http.Redirect(w, r, h.path("/admin/users"), http.StatusSeeOther)
}
