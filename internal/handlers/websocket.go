package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"concord-backend/internal/hub"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// wsRequest is a control frame from the client. One socket can watch any
// number of scopes at once by sending subscribe frames.
type wsRequest struct {
	Action string `json:"action"` // subscribe or unsubscribe
	Scope  string `json:"scope"`  // channel, dm or server
	ID     int64  `json:"id,string"`
}

// wsEvent wraps a hub event with the scope it arrived on so the client can
// route it without keeping per-scope sockets.
type wsEvent struct {
	Scope string `json:"scope"`
	ID    int64  `json:"id,string"`
	Type  string `json:"type"`
	Data  any    `json:"data"`
}

// resolveScope maps a control frame to a hub scope, running the same access
// checks the REST endpoints do.
func (h *Handler) resolveScope(ctx context.Context, userID int64, req wsRequest) (hub.Scope, bool) {
	switch req.Scope {
	case "channel":
		canRead, err := h.checker.CanReadChannel(ctx, userID, req.ID)
		if err != nil {
			h.sugar.Error(err)
			return hub.Scope{}, false
		}
		return hub.Channel(req.ID), canRead
	case "server":
		isMember, err := h.checker.IsMember(ctx, userID, req.ID)
		if err != nil {
			h.sugar.Error(err)
			return hub.Scope{}, false
		}
		return hub.Server(req.ID), isMember
	case "dm":
		// the caller is always one half of the pair, nothing else to check
		if req.ID == 0 || req.ID == userID {
			return hub.Scope{}, false
		}
		return hub.DM(userID, req.ID), true
	}
	return hub.Scope{}, false
}

// HandleWebSocket upgrades the connection and bridges hub subscriptions onto
// it. Reads and writes each get their own goroutine; every subscription gets
// a forwarder feeding the single writer.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID := h.userID(r)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.sugar.Error(err)
		return
	}
	defer conn.Close()

	h.sugar.Debugf("User ID [%d] connected over WebSocket", userID)

	writeCh := make(chan []byte, 16)
	done := make(chan struct{})

	var mutex sync.Mutex
	subs := make(map[hub.Scope]*hub.Subscription)

	defer func() {
		mutex.Lock()
		for _, sub := range subs {
			h.hub.Unsubscribe(sub)
		}
		subs = nil
		mutex.Unlock()
	}()

	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()
		for {
			select {
			case payload := <-writeCh:
				if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
					h.sugar.Debugf("User ID [%d] WebSocket write failed: %v", userID, err)
					return
				}
			case <-done:
				return
			}
		}
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			break
		}

		var req wsRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			h.sugar.Debugf("User ID [%d] sent a malformed WebSocket frame: %v", userID, err)
			continue
		}

		scope, allowed := h.resolveScope(r.Context(), userID, req)

		switch req.Action {
		case "subscribe":
			if !allowed {
				h.sugar.Warnf("User ID [%d] tried to subscribe to a scope they can't read", userID)
				continue
			}

			mutex.Lock()
			if _, exists := subs[scope]; exists {
				mutex.Unlock()
				continue
			}
			sub := h.hub.Subscribe(scope)
			subs[scope] = sub
			mutex.Unlock()

			wg.Add(1)
			go func(req wsRequest, sub *hub.Subscription) {
				defer wg.Done()
				for event := range sub.C() {
					frame, err := json.Marshal(wsEvent{Scope: req.Scope, ID: req.ID, Type: event.Type, Data: event.Data})
					if err != nil {
						h.sugar.Error(err)
						continue
					}
					select {
					case writeCh <- frame:
					case <-done:
						return
					}
				}
			}(req, sub)

		case "unsubscribe":
			mutex.Lock()
			if sub, exists := subs[scope]; exists {
				delete(subs, scope)
				h.hub.Unsubscribe(sub)
			}
			mutex.Unlock()
		}
	}

	close(done)

	mutex.Lock()
	for scope, sub := range subs {
		delete(subs, scope)
		h.hub.Unsubscribe(sub)
	}
	mutex.Unlock()

	wg.Wait()

	h.sugar.Debugf("User ID [%d] disconnected from WebSocket", userID)
}
