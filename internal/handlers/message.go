package handlers

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"strconv"

	"concord-backend/internal/httperr"
	"concord-backend/internal/hub"
	"concord-backend/internal/models"
	"concord-backend/internal/snowflake"

	"github.com/go-chi/chi/v5"
)

const maxMessageLength = 4000

// hydrateMessage re-reads a persisted message joined with its author so the
// sender and every subscriber see the same fully populated representation.
func (h *Handler) hydrateMessage(r *http.Request, messageID int64) (models.Message, error) {
	var msg models.Message
	var channelID, recipientID sql.NullInt64
	var content, imageURL sql.NullString

	err := h.db.QueryRowContext(r.Context(), `
		SELECT
			messages.id,
			messages.channel_id,
			messages.user_id,
			messages.recipient_id,
			messages.content,
			messages.image_url,
			users.display_name,
			users.picture
		FROM
			messages
		JOIN
			users ON messages.user_id = users.id
		WHERE
			messages.id = ?
	`, messageID).Scan(&msg.ID, &channelID, &msg.UserID, &recipientID, &content, &imageURL, &msg.User.DisplayName, &msg.User.Picture)
	if err != nil {
		return models.Message{}, err
	}

	if channelID.Valid {
		msg.ChannelID = &channelID.Int64
	}
	if recipientID.Valid {
		msg.RecipientID = &recipientID.Int64
	}
	msg.Content = content.String
	msg.ImageURL = imageURL.String
	msg.User.ID = msg.UserID

	return msg, nil
}

// messageContent pulls the multipart content and optional image out of the
// request. A message needs at least one of the two.
func (h *Handler) messageContent(r *http.Request) (string, string, error) {
	content := r.FormValue("content")
	if len(content) > maxMessageLength {
		return "", "", httperr.New(httperr.Validation, "Message is too long")
	}

	imageURL := ""
	fileName, err := h.uploads.SaveImage(r, "image")
	if err == nil {
		imageURL = "/cdn/attachments/" + fileName
	} else if err != http.ErrMissingFile {
		h.sugar.Debug(err)
		return "", "", httperr.New(httperr.Validation, "Image could not be processed")
	}

	if content == "" && imageURL == "" {
		return "", "", httperr.New(httperr.Validation, "Message needs text content or an image")
	}

	return content, imageURL, nil
}

// CreateChannelMessage persists a message, re-reads the hydrated row and
// fans it out to everyone watching the channel.
func (h *Handler) CreateChannelMessage(w http.ResponseWriter, r *http.Request) {
	userID := h.userID(r)

	channelID, err := strconv.ParseInt(chi.URLParam(r, "channelID"), 10, 64)
	if err != nil || channelID == 0 {
		httperr.Write(h.sugar, w, httperr.New(httperr.Validation, "Invalid channel ID"))
		return
	}

	canRead, err := h.checker.CanReadChannel(r.Context(), userID, channelID)
	if err != nil {
		httperr.Write(h.sugar, w, err)
		return
	}
	if !canRead {
		h.sugar.Warnf("User ID [%d] tried to post in channel ID [%d] without membership", userID, channelID)
		httperr.Write(h.sugar, w, httperr.New(httperr.Forbidden, "You are not a member of this server"))
		return
	}

	content, imageURL, err := h.messageContent(r)
	if err != nil {
		httperr.Write(h.sugar, w, err)
		return
	}

	messageID, err := snowflake.Generate()
	if err != nil {
		httperr.Write(h.sugar, w, err)
		return
	}

	_, err = h.db.ExecContext(r.Context(),
		"INSERT INTO messages (id, channel_id, user_id, recipient_id, content, image_url) VALUES (?, ?, ?, NULL, ?, ?)",
		messageID, channelID, userID, content, imageURL)
	if err != nil {
		httperr.Write(h.sugar, w, err)
		return
	}

	msg, err := h.hydrateMessage(r, messageID)
	if err != nil {
		httperr.Write(h.sugar, w, err)
		return
	}

	h.hub.Publish(hub.Channel(channelID), hub.Event{Type: hub.MessageCreated, Data: msg})

	if err := json.NewEncoder(w).Encode(msg); err != nil {
		h.sugar.Error(err)
	}
}

// GetChannelMessages returns a channel's history newest first with the
// author projection joined in.
func (h *Handler) GetChannelMessages(w http.ResponseWriter, r *http.Request) {
	userID := h.userID(r)

	channelID, err := strconv.ParseInt(chi.URLParam(r, "channelID"), 10, 64)
	if err != nil || channelID == 0 {
		httperr.Write(h.sugar, w, httperr.New(httperr.Validation, "Invalid channel ID"))
		return
	}

	canRead, err := h.checker.CanReadChannel(r.Context(), userID, channelID)
	if err != nil {
		httperr.Write(h.sugar, w, err)
		return
	}
	if !canRead {
		httperr.Write(h.sugar, w, httperr.New(httperr.Forbidden, "You are not a member of this server"))
		return
	}

	rows, err := h.db.QueryContext(r.Context(), `
		SELECT
			messages.id,
			messages.channel_id,
			messages.user_id,
			messages.content,
			messages.image_url,
			users.display_name,
			users.picture
		FROM
			messages
		JOIN
			users ON messages.user_id = users.id
		WHERE
			messages.channel_id = ?
		ORDER BY messages.id DESC
	`, channelID)
	if err != nil {
		httperr.Write(h.sugar, w, err)
		return
	}
	defer rows.Close()

	messages := []models.Message{}

	for rows.Next() {
		var msg models.Message
		var msgChannelID sql.NullInt64
		var content, imageURL sql.NullString

		if err := rows.Scan(&msg.ID, &msgChannelID, &msg.UserID, &content, &imageURL, &msg.User.DisplayName, &msg.User.Picture); err != nil {
			httperr.Write(h.sugar, w, err)
			return
		}

		if msgChannelID.Valid {
			msg.ChannelID = &msgChannelID.Int64
		}
		msg.Content = content.String
		msg.ImageURL = imageURL.String
		msg.User.ID = msg.UserID

		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		httperr.Write(h.sugar, w, err)
		return
	}

	if err := json.NewEncoder(w).Encode(messages); err != nil {
		h.sugar.Error(err)
	}
}
