package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"concord-backend/internal/httperr"
	"concord-backend/internal/hub"
	"concord-backend/internal/invites"
	"concord-backend/internal/models"

	"github.com/go-chi/chi/v5"
)

// CreateInvite lets any member mint an invite code for their server.
func (h *Handler) CreateInvite(w http.ResponseWriter, r *http.Request) {
	userID := h.userID(r)

	serverID, err := strconv.ParseInt(chi.URLParam(r, "serverID"), 10, 64)
	if err != nil || serverID == 0 {
		httperr.Write(h.sugar, w, httperr.New(httperr.Validation, "Invalid server ID"))
		return
	}

	isMember, err := h.checker.IsMember(r.Context(), userID, serverID)
	if err != nil {
		httperr.Write(h.sugar, w, err)
		return
	}
	if !isMember {
		h.sugar.Warnf("User ID [%d] tried to create an invite for server ID [%d] without membership", userID, serverID)
		httperr.Write(h.sugar, w, httperr.New(httperr.Forbidden, "You are not a member of this server"))
		return
	}

	type CreateInviteRequest struct {
		MaxUses   *int       `json:"maxUses" validate:"omitempty,min=1"`
		ExpiresAt *time.Time `json:"expiresAt"`
	}

	var request CreateInviteRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		h.sugar.Debug(err)
		httperr.Write(h.sugar, w, httperr.New(httperr.Validation, "Malformed request body"))
		return
	}
	if err := h.validate.Struct(request); err != nil {
		h.sugar.Debug(err)
		httperr.Write(h.sugar, w, httperr.New(httperr.Validation, "maxUses must be at least 1 when set"))
		return
	}
	if request.ExpiresAt != nil && request.ExpiresAt.Before(time.Now()) {
		httperr.Write(h.sugar, w, httperr.New(httperr.Validation, "expiresAt is already in the past"))
		return
	}

	invite, err := h.invites.Create(r.Context(), serverID, userID, request.MaxUses, request.ExpiresAt)
	if err != nil {
		httperr.Write(h.sugar, w, err)
		return
	}

	if err := json.NewEncoder(w).Encode(invite); err != nil {
		h.sugar.Error(err)
	}
}

// GetInvitePreview is the public pre-join view, no session required.
func (h *Handler) GetInvitePreview(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	preview, err := h.invites.Preview(r.Context(), code)
	if errors.Is(err, invites.ErrNotFound) {
		httperr.Write(h.sugar, w, httperr.New(httperr.NotFound, "Invite not found"))
		return
	}
	if err != nil {
		httperr.Write(h.sugar, w, err)
		return
	}

	if err := json.NewEncoder(w).Encode(preview); err != nil {
		h.sugar.Error(err)
	}
}

// JoinServer redeems an invite code and returns the joined server with its
// channels. The membership and the use-count increment land atomically in
// the invite service.
func (h *Handler) JoinServer(w http.ResponseWriter, r *http.Request) {
	userID := h.userID(r)
	code := chi.URLParam(r, "code")

	server, err := h.invites.Redeem(r.Context(), code, userID)
	if err != nil {
		switch {
		case errors.Is(err, invites.ErrNotFound):
			httperr.Write(h.sugar, w, httperr.New(httperr.NotFound, "Invite not found"))
		case errors.Is(err, invites.ErrExpired):
			httperr.Write(h.sugar, w, httperr.New(httperr.Conflict, "This invite has expired"))
		case errors.Is(err, invites.ErrAlreadyMember):
			httperr.Write(h.sugar, w, httperr.New(httperr.Conflict, "You are already a member of this server"))
		case errors.Is(err, invites.ErrExhaustedUses):
			httperr.Write(h.sugar, w, httperr.New(httperr.Conflict, "This invite has no uses left"))
		default:
			httperr.Write(h.sugar, w, err)
		}
		return
	}

	channels, err := h.channelList(r, server.ID)
	if err != nil {
		httperr.Write(h.sugar, w, err)
		return
	}

	var member models.User
	if err := h.db.QueryRowContext(r.Context(), "SELECT id, display_name, picture FROM users WHERE id = ?", userID).
		Scan(&member.ID, &member.DisplayName, &member.Picture); err == nil {
		h.hub.Publish(hub.Server(server.ID), hub.Event{Type: hub.MemberJoined, Data: member})
	} else {
		h.sugar.Error(err)
	}

	if err := json.NewEncoder(w).Encode(serverWithChannels{Server: server, Channels: channels}); err != nil {
		h.sugar.Error(err)
	}
}
