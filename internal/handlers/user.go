package handlers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"concord-backend/internal/httperr"
	"concord-backend/internal/models"

	"github.com/go-chi/chi/v5"
)

const searchResultCap = 20

// SearchUsers does a case-insensitive substring match over names and email,
// excluding the caller, for starting new conversations.
func (h *Handler) SearchUsers(w http.ResponseWriter, r *http.Request) {
	userID := h.userID(r)

	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		httperr.Write(h.sugar, w, httperr.New(httperr.Validation, "Search query can't be empty"))
		return
	}

	pattern := "%" + strings.ToLower(query) + "%"

	rows, err := h.db.QueryContext(r.Context(), `
		SELECT id, username, display_name, picture
		FROM users
		WHERE id != ?
			AND (LOWER(username) LIKE ? OR LOWER(display_name) LIKE ? OR LOWER(email) LIKE ?)
		LIMIT ?
	`, userID, pattern, pattern, pattern, searchResultCap)
	if err != nil {
		httperr.Write(h.sugar, w, err)
		return
	}
	defer rows.Close()

	users := []models.User{}

	for rows.Next() {
		var user models.User
		var picture sql.NullString

		if err := rows.Scan(&user.ID, &user.UserName, &user.DisplayName, &picture); err != nil {
			httperr.Write(h.sugar, w, err)
			return
		}

		user.Picture = picture.String
		users = append(users, user)
	}

	if err := rows.Err(); err != nil {
		httperr.Write(h.sugar, w, err)
		return
	}

	if err := json.NewEncoder(w).Encode(users); err != nil {
		h.sugar.Error(err)
	}
}

// GetUserInfo returns a user's public profile; "self" resolves to the caller.
func (h *Handler) GetUserInfo(w http.ResponseWriter, r *http.Request) {
	userID := h.userID(r)

	paramUserID := chi.URLParam(r, "userID")

	var requestedUserID int64
	if paramUserID == "self" {
		requestedUserID = userID
	} else {
		var err error
		requestedUserID, err = strconv.ParseInt(paramUserID, 10, 64)
		if err != nil {
			httperr.Write(h.sugar, w, httperr.New(httperr.Validation, "Invalid user ID"))
			return
		}
	}

	var user models.User
	var picture sql.NullString

	err := h.db.QueryRowContext(r.Context(), "SELECT id, display_name, picture FROM users WHERE id = ?", requestedUserID).
		Scan(&user.ID, &user.DisplayName, &picture)
	if errors.Is(err, sql.ErrNoRows) {
		httperr.Write(h.sugar, w, httperr.New(httperr.NotFound, "User not found"))
		return
	}
	if err != nil {
		httperr.Write(h.sugar, w, err)
		return
	}
	user.Picture = picture.String

	if err := json.NewEncoder(w).Encode(user); err != nil {
		h.sugar.Error(err)
	}
}

// UpdateUserInfo changes the caller's display name and/or avatar.
func (h *Handler) UpdateUserInfo(w http.ResponseWriter, r *http.Request) {
	userID := h.userID(r)

	displayName := r.FormValue("displayName")
	if displayName != "" {
		if _, err := h.db.ExecContext(r.Context(), "UPDATE users SET display_name = ? WHERE id = ?", displayName, userID); err != nil {
			httperr.Write(h.sugar, w, err)
			return
		}
	}

	fileName, err := h.uploads.SaveImage(r, "picture")
	if err == nil {
		if _, err := h.db.ExecContext(r.Context(), "UPDATE users SET picture = ? WHERE id = ?", "/cdn/attachments/"+fileName, userID); err != nil {
			httperr.Write(h.sugar, w, err)
			return
		}
	} else if err != http.ErrMissingFile {
		h.sugar.Debug(err)
		httperr.Write(h.sugar, w, httperr.New(httperr.Validation, "Picture could not be processed"))
		return
	}

	w.WriteHeader(http.StatusOK)
}
