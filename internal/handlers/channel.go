package handlers

import (
	"encoding/json"
	"net/http"

	"concord-backend/internal/httperr"
	"concord-backend/internal/hub"
	"concord-backend/internal/models"
	"concord-backend/internal/snowflake"
)

// CreateChannel adds a channel to a server the caller is a member of and
// announces it on the server scope.
func (h *Handler) CreateChannel(w http.ResponseWriter, r *http.Request) {
	userID := h.userID(r)

	type CreateChannelRequest struct {
		Name        string `json:"name" validate:"required,max=32"`
		Type        string `json:"type" validate:"required,oneof=text voice"`
		Description string `json:"description" validate:"max=256"`
		ServerID    int64  `json:"serverID,string" validate:"required"`
	}

	var request CreateChannelRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		h.sugar.Debug(err)
		httperr.Write(h.sugar, w, httperr.New(httperr.Validation, "Malformed request body"))
		return
	}
	if err := h.validate.Struct(request); err != nil {
		h.sugar.Debug(err)
		httperr.Write(h.sugar, w, httperr.New(httperr.Validation, "Channel needs a name up to 32 characters and a type of text or voice"))
		return
	}

	isMember, err := h.checker.IsMember(r.Context(), userID, request.ServerID)
	if err != nil {
		httperr.Write(h.sugar, w, err)
		return
	}
	if !isMember {
		h.sugar.Warnf("User ID [%d] tried to create a channel in server ID [%d] they aren't a member of", userID, request.ServerID)
		httperr.Write(h.sugar, w, httperr.New(httperr.Forbidden, "You are not a member of this server"))
		return
	}

	channelID, err := snowflake.Generate()
	if err != nil {
		httperr.Write(h.sugar, w, err)
		return
	}

	channel := models.Channel{
		ID:          channelID,
		ServerID:    request.ServerID,
		Name:        request.Name,
		Type:        request.Type,
		Description: request.Description,
	}

	_, err = h.db.ExecContext(r.Context(),
		"INSERT INTO channels (id, server_id, name, type, description) VALUES (?, ?, ?, ?, ?)",
		channel.ID, channel.ServerID, channel.Name, channel.Type, channel.Description)
	if err != nil {
		httperr.Write(h.sugar, w, err)
		return
	}

	h.hub.Publish(hub.Server(channel.ServerID), hub.Event{Type: hub.ChannelCreated, Data: channel})

	if err := json.NewEncoder(w).Encode(channel); err != nil {
		h.sugar.Error(err)
	}
}
