package handlers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"concord-backend/internal/httperr"
	"concord-backend/internal/models"
	"concord-backend/internal/snowflake"
)

// Login exchanges an identity token from the external login provider for a
// session cookie, upserting the identity row on the way. The provider owns
// registration, password handling and the rest of the account lifecycle.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	type LoginRequest struct {
		IDToken    string `json:"idToken" validate:"required"`
		RememberMe bool   `json:"rememberMe"`
	}

	var login LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&login); err != nil {
		h.sugar.Debug(err)
		httperr.Write(h.sugar, w, httperr.New(httperr.Validation, "Malformed login request"))
		return
	}

	if err := h.validate.Struct(login); err != nil {
		h.sugar.Debug(err)
		httperr.Write(h.sugar, w, httperr.New(httperr.Validation, "idToken is required"))
		return
	}

	claims, err := h.tokens.VerifyIdentity(login.IDToken)
	if err != nil {
		h.sugar.Debug(err)
		httperr.Write(h.sugar, w, httperr.New(httperr.Unauthenticated, "Couldn't verify identity token"))
		return
	}

	user, err := h.upsertUser(r, claims.Subject, claims.Email, claims.Name, claims.GivenName, claims.FamilyName, claims.Picture)
	if err != nil {
		httperr.Write(h.sugar, w, err)
		return
	}

	cookie, err := h.tokens.CreateSession(login.RememberMe, user.ID)
	if err != nil {
		httperr.Write(h.sugar, w, err)
		return
	}
	http.SetCookie(w, &cookie)

	if err := json.NewEncoder(w).Encode(user); err != nil {
		h.sugar.Error(err)
	}
}

// upsertUser creates the identity row on first login and refreshes the
// provider-owned display fields on every later one. The snowflake ID is
// assigned once and never changes.
func (h *Handler) upsertUser(r *http.Request, subject string, email string, name string, givenName string, familyName string, picture string) (models.User, error) {
	ctx := r.Context()

	displayName := name
	if displayName == "" {
		displayName = strings.TrimSpace(givenName + " " + familyName)
	}
	if displayName == "" {
		displayName = strings.Split(email, "@")[0]
	}

	var user models.User
	err := h.db.QueryRowContext(ctx,
		"SELECT id, email, username, display_name, picture FROM users WHERE subject = ?",
		subject).Scan(&user.ID, &user.Email, &user.UserName, &user.DisplayName, &user.Picture)

	if errors.Is(err, sql.ErrNoRows) {
		id, err := snowflake.Generate()
		if err != nil {
			return models.User{}, err
		}

		user = models.User{
			ID:          id,
			Email:       email,
			UserName:    fmt.Sprintf("user%d", id),
			DisplayName: displayName,
			Picture:     picture,
		}

		_, err = h.db.ExecContext(ctx,
			"INSERT INTO users (id, subject, email, username, display_name, picture) VALUES (?, ?, ?, ?, ?, ?)",
			user.ID, subject, user.Email, user.UserName, user.DisplayName, user.Picture)
		if err != nil {
			return models.User{}, err
		}

		h.sugar.Debugf("Created user ID %d for subject [%s]", user.ID, subject)
		return user, nil
	}
	if err != nil {
		return models.User{}, err
	}

	user.Email = email
	user.DisplayName = displayName
	if picture != "" {
		user.Picture = picture
	}

	_, err = h.db.ExecContext(ctx,
		"UPDATE users SET email = ?, display_name = ?, picture = ? WHERE id = ?",
		user.Email, user.DisplayName, user.Picture, user.ID)
	if err != nil {
		return models.User{}, err
	}

	return user, nil
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	deleteJwtCookie := &http.Cookie{
		Name:     "JWT",
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
	}
	http.SetCookie(w, deleteJwtCookie)
	w.WriteHeader(http.StatusOK)
}
