package handlers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"concord-backend/internal/httperr"
	"concord-backend/internal/models"
	"concord-backend/internal/snowflake"

	"github.com/go-chi/chi/v5"
)

type serverWithChannels struct {
	models.Server
	Channels []models.Channel `json:"channels"`
}

// CreateServer creates the server, the creator's owner membership and the
// default general channel in one transaction so no server ever exists
// without a member or a channel.
func (h *Handler) CreateServer(w http.ResponseWriter, r *http.Request) {
	userID := h.userID(r)

	type CreateServerRequest struct {
		Name string `json:"name" validate:"required,max=64"`
	}

	var request CreateServerRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		h.sugar.Debug(err)
		httperr.Write(h.sugar, w, httperr.New(httperr.Validation, "Malformed request body"))
		return
	}
	if err := h.validate.Struct(request); err != nil {
		h.sugar.Debug(err)
		httperr.Write(h.sugar, w, httperr.New(httperr.Validation, "Server name is required and at most 64 characters"))
		return
	}

	serverID, err := snowflake.Generate()
	if err != nil {
		httperr.Write(h.sugar, w, err)
		return
	}
	channelID, err := snowflake.Generate()
	if err != nil {
		httperr.Write(h.sugar, w, err)
		return
	}

	server := models.Server{
		ID:      serverID,
		OwnerID: userID,
		Name:    request.Name,
	}
	general := models.Channel{
		ID:       channelID,
		ServerID: serverID,
		Name:     "general",
		Type:     models.ChannelTypeText,
	}

	tx, err := h.db.BeginTx(r.Context(), nil)
	if err != nil {
		httperr.Write(h.sugar, w, err)
		return
	}
	defer tx.Rollback()

	if _, err := tx.Exec("INSERT INTO servers (id, owner_id, name, picture) VALUES (?, ?, ?, '')", server.ID, server.OwnerID, server.Name); err != nil {
		httperr.Write(h.sugar, w, err)
		return
	}
	if _, err := tx.Exec("INSERT INTO server_members (server_id, user_id, role, since) VALUES (?, ?, ?, ?)", server.ID, userID, models.RoleOwner, time.Now().UnixMilli()); err != nil {
		httperr.Write(h.sugar, w, err)
		return
	}
	if _, err := tx.Exec("INSERT INTO channels (id, server_id, name, type) VALUES (?, ?, ?, ?)", general.ID, general.ServerID, general.Name, general.Type); err != nil {
		httperr.Write(h.sugar, w, err)
		return
	}

	if err := tx.Commit(); err != nil {
		httperr.Write(h.sugar, w, err)
		return
	}

	if err := json.NewEncoder(w).Encode(serverWithChannels{Server: server, Channels: []models.Channel{general}}); err != nil {
		h.sugar.Error(err)
	}
}

// GetServerList returns the servers the caller is a member of.
func (h *Handler) GetServerList(w http.ResponseWriter, r *http.Request) {
	userID := h.userID(r)

	rows, err := h.db.QueryContext(r.Context(),
		"SELECT s.id, s.owner_id, s.name, s.picture FROM servers s JOIN server_members m ON s.id = m.server_id WHERE m.user_id = ?",
		userID)
	if err != nil {
		httperr.Write(h.sugar, w, err)
		return
	}
	defer rows.Close()

	servers := []models.Server{}

	for rows.Next() {
		var server models.Server
		var picture sql.NullString

		if err := rows.Scan(&server.ID, &server.OwnerID, &server.Name, &picture); err != nil {
			httperr.Write(h.sugar, w, err)
			return
		}

		server.Picture = picture.String
		servers = append(servers, server)
	}

	if err := rows.Err(); err != nil {
		httperr.Write(h.sugar, w, err)
		return
	}

	if err := json.NewEncoder(w).Encode(servers); err != nil {
		h.sugar.Error(err)
	}
}

// GetServer returns one server with its channel list, members only.
func (h *Handler) GetServer(w http.ResponseWriter, r *http.Request) {
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
		h.sugar.Warnf("User ID [%d] tried to read server ID [%d] without membership", userID, serverID)
		httperr.Write(h.sugar, w, httperr.New(httperr.Forbidden, "You are not a member of this server"))
		return
	}

	var result serverWithChannels
	var picture sql.NullString

	err = h.db.QueryRowContext(r.Context(), "SELECT id, owner_id, name, picture FROM servers WHERE id = ?", serverID).
		Scan(&result.ID, &result.OwnerID, &result.Name, &picture)
	if errors.Is(err, sql.ErrNoRows) {
		httperr.Write(h.sugar, w, httperr.New(httperr.NotFound, "Server not found"))
		return
	}
	if err != nil {
		httperr.Write(h.sugar, w, err)
		return
	}
	result.Picture = picture.String

	result.Channels, err = h.channelList(r, serverID)
	if err != nil {
		httperr.Write(h.sugar, w, err)
		return
	}

	if err := json.NewEncoder(w).Encode(result); err != nil {
		h.sugar.Error(err)
	}
}

func (h *Handler) channelList(r *http.Request, serverID int64) ([]models.Channel, error) {
	rows, err := h.db.QueryContext(r.Context(),
		"SELECT id, server_id, name, type, description FROM channels WHERE server_id = ?", serverID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	channels := []models.Channel{}

	for rows.Next() {
		var channel models.Channel
		var description sql.NullString

		if err := rows.Scan(&channel.ID, &channel.ServerID, &channel.Name, &channel.Type, &description); err != nil {
			return nil, err
		}

		channel.Description = description.String
		channels = append(channels, channel)
	}

	return channels, rows.Err()
}
