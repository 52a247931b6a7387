package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"concord-backend/internal/httperr"
	"concord-backend/internal/hub"

	"github.com/go-chi/chi/v5"
)

// sseName maps a hub event type to the SSE event name clients listen on.
func sseName(eventType string) string {
	if eventType == hub.MessageCreated {
		return "message"
	}
	return eventType
}

// streamEvents holds the response open as a Server-Sent Events stream fed
// from one hub subscription. It returns when the client goes away or the
// hub drops the subscription.
func (h *Handler) streamEvents(w http.ResponseWriter, r *http.Request, scope hub.Scope) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		httperr.Write(h.sugar, w, fmt.Errorf("response writer does not support streaming"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sub := h.hub.Subscribe(scope)
	defer h.hub.Unsubscribe(sub)

	if _, err := fmt.Fprintf(w, "event: %s\ndata: {}\n\n", hub.Connected); err != nil {
		return
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			// client went away, drop the subscription promptly
			return
		case event, open := <-sub.C():
			if !open {
				return
			}

			payload, err := json.Marshal(event.Data)
			if err != nil {
				h.sugar.Error(err)
				continue
			}

			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", sseName(event.Type), payload); err != nil {
				// write failures only ever affect this one connection
				h.sugar.Debugf("Dropping event stream on scope %v: %v", scope, err)
				return
			}
			flusher.Flush()
		}
	}
}

// ChannelEvents opens the push stream for one channel.
func (h *Handler) ChannelEvents(w http.ResponseWriter, r *http.Request) {
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

	h.streamEvents(w, r, hub.Channel(channelID))
}

// DirectMessageEvents opens the push stream for the caller's conversation
// with the given user.
func (h *Handler) DirectMessageEvents(w http.ResponseWriter, r *http.Request) {
	userID := h.userID(r)

	otherID, ok := h.otherUserID(w, r)
	if !ok {
		return
	}

	h.streamEvents(w, r, hub.DM(userID, otherID))
}
