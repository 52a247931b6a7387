package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"concord-backend/internal/httperr"
	"concord-backend/internal/hub"
	"concord-backend/internal/snowflake"

	"github.com/go-chi/chi/v5"
)

// otherUserID parses the {userID} route param and checks the user exists.
// DM access needs no membership check, being a participant is enough.
func (h *Handler) otherUserID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	callerID := h.userID(r)

	otherID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || otherID == 0 {
		httperr.Write(h.sugar, w, httperr.New(httperr.Validation, "Invalid user ID"))
		return 0, false
	}
	if otherID == callerID {
		httperr.Write(h.sugar, w, httperr.New(httperr.Validation, "Can't open a conversation with yourself"))
		return 0, false
	}

	var exists bool
	if err := h.db.QueryRowContext(r.Context(), "SELECT EXISTS(SELECT 1 FROM users WHERE id = ?)", otherID).Scan(&exists); err != nil {
		httperr.Write(h.sugar, w, err)
		return 0, false
	}
	if !exists {
		httperr.Write(h.sugar, w, httperr.New(httperr.NotFound, "User not found"))
		return 0, false
	}

	return otherID, true
}

// GetConversations lists the caller's DM conversations with the other
// participant projected in and a last message preview.
func (h *Handler) GetConversations(w http.ResponseWriter, r *http.Request) {
	userID := h.userID(r)

	conversations, err := h.dms.Conversations(r.Context(), userID)
	if err != nil {
		httperr.Write(h.sugar, w, err)
		return
	}

	if err := json.NewEncoder(w).Encode(conversations); err != nil {
		h.sugar.Error(err)
	}
}

func (h *Handler) GetDirectMessages(w http.ResponseWriter, r *http.Request) {
	userID := h.userID(r)

	otherID, ok := h.otherUserID(w, r)
	if !ok {
		return
	}

	messages, err := h.dms.Messages(r.Context(), userID, otherID)
	if err != nil {
		httperr.Write(h.sugar, w, err)
		return
	}

	if err := json.NewEncoder(w).Encode(messages); err != nil {
		h.sugar.Error(err)
	}
}

// CreateDirectMessage lazily resolves the conversation, persists the
// message, re-reads the hydrated row and fans it out on the pair scope.
func (h *Handler) CreateDirectMessage(w http.ResponseWriter, r *http.Request) {
	userID := h.userID(r)

	otherID, ok := h.otherUserID(w, r)
	if !ok {
		return
	}

	content, imageURL, err := h.messageContent(r)
	if err != nil {
		httperr.Write(h.sugar, w, err)
		return
	}

	// the conversation row exists from the first message onward
	if _, err := h.dms.ResolveOrCreate(r.Context(), userID, otherID); err != nil {
		httperr.Write(h.sugar, w, err)
		return
	}

	messageID, err := snowflake.Generate()
	if err != nil {
		httperr.Write(h.sugar, w, err)
		return
	}

	_, err = h.db.ExecContext(r.Context(),
		"INSERT INTO messages (id, channel_id, user_id, recipient_id, content, image_url) VALUES (?, NULL, ?, ?, ?, ?)",
		messageID, userID, otherID, content, imageURL)
	if err != nil {
		httperr.Write(h.sugar, w, err)
		return
	}

	msg, err := h.hydrateMessage(r, messageID)
	if err != nil {
		httperr.Write(h.sugar, w, err)
		return
	}

	h.hub.Publish(hub.DM(userID, otherID), hub.Event{Type: hub.MessageCreated, Data: msg})

	if err := json.NewEncoder(w).Encode(msg); err != nil {
		h.sugar.Error(err)
	}
}
