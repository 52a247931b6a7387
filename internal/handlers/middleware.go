package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

type UserIDKeyType struct{}

func AllowCors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Credentials", "true")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// UserVerifier authenticates the request from the JWT session cookie, renews
// the cookie when it is getting old, and passes the user ID down via context.
func (h *Handler) UserVerifier(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		jwtCookie, err := r.Cookie("JWT")
		if err != nil {
			h.sugar.Debug(err)
			switch {
			case errors.Is(err, http.ErrNoCookie):
				http.Error(w, "No jwt cookie was provided", http.StatusUnauthorized)
			default:
				http.Error(w, "Couldn't read jwt cookie", http.StatusInternalServerError)
			}
			return
		}

		userToken, err := h.tokens.VerifySession(jwtCookie.Value)
		if err != nil {
			h.sugar.Debug(err)
			http.Error(w, "Couldn't verify JWT", http.StatusUnauthorized)
			return
		}

		expired := time.Now().UTC().After(userToken.ExpiresAt.UTC())
		if expired {
			http.Error(w, "Login expired", http.StatusUnauthorized)
			return
		}

		// check if user exists, cached to keep this off the hot path
		key := fmt.Sprintf("user_exists:%d", userToken.UserID)

		userFound := false

		value, err := h.kv.Get(key)
		if err != nil {
			h.sugar.Error(err)
			http.Error(w, "", http.StatusInternalServerError)
			return
		}

		if value == "" { // user isn't cached
			dbErr := h.db.QueryRow("SELECT EXISTS(SELECT 1 FROM users WHERE id = ?)", userToken.UserID).Scan(&userFound)
			if dbErr != nil {
				h.sugar.Error(dbErr)
				http.Error(w, "", http.StatusInternalServerError)
				return
			}
			if userFound {
				if err := h.kv.Set(key, "y", 15*time.Minute); err != nil {
					h.sugar.Error(err)
					http.Error(w, "", http.StatusInternalServerError)
					return
				}
			} else {
				h.sugar.Warnf("User ID %d has a valid session but no identity row", userToken.UserID)
			}
		} else {
			userFound = true
		}

		// the token can outlive the account, clean the cookie up if it did
		if !userFound {
			deleteJwtCookie := &http.Cookie{
				Name:     "JWT",
				Value:    "",
				Path:     "/",
				Expires:  time.Unix(0, 0),
				HttpOnly: true,
			}

			http.SetCookie(w, deleteJwtCookie)
			http.Error(w, "", http.StatusUnauthorized)
			return
		}

		// renew JWT and cookie
		timeSinceLast := time.Now().UTC().Sub(userToken.IssuedAt.Time)

		if timeSinceLast >= 15*time.Minute {
			updatedCookie, err := h.tokens.CreateSession(userToken.Remember, userToken.UserID)
			if err != nil {
				h.sugar.Error(err)
				http.Error(w, "Couldn't renew cookie", http.StatusInternalServerError)
				return
			}

			http.SetCookie(w, &updatedCookie)
		}

		// this passes the authenticated user's ID to next handler
		ctx := context.WithValue(r.Context(), UserIDKeyType{}, userToken.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) userID(r *http.Request) int64 {
	return r.Context().Value(UserIDKeyType{}).(int64)
}
