package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"concord-backend/internal/database"
	"concord-backend/internal/hub"
	"concord-backend/internal/jwt"
	"concord-backend/internal/keyValue"
	"concord-backend/internal/models"
	"concord-backend/internal/snowflake"
	"concord-backend/internal/uploads"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const (
	testSessionSecret  = "session-secret"
	testIdentitySecret = "identity-secret"
)

type env struct {
	h   *Handler
	srv *httptest.Server
}

func newTestEnv(t *testing.T) *env {
	t.Helper()

	// the worker ID sticks for the whole test binary, later calls error out
	snowflake.Setup(1)

	db, err := database.OpenSqlite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("opening sqlite: %v", err)
	}

	sugar := zap.NewNop().Sugar()

	h := New(
		sugar,
		db,
		hub.New(sugar),
		keyValue.New(sugar, nil, true),
		jwt.New(testSessionSecret, testIdentitySecret, false),
		uploads.New(t.TempDir()),
	)

	srv := httptest.NewServer(h.Router(&models.ConfigFile{}))

	t.Cleanup(func() {
		srv.Close()
		db.Close()
	})

	return &env{h: h, srv: srv}
}

// createUser inserts an identity row directly and mints a session cookie for
// it, skipping the login provider round trip.
func (e *env) createUser(t *testing.T, name string) (int64, *http.Cookie) {
	t.Helper()

	id, err := snowflake.Generate()
	if err != nil {
		t.Fatalf("generating user ID: %v", err)
	}

	_, err = e.h.db.Exec(
		"INSERT INTO users (id, subject, email, username, display_name, picture) VALUES (?, ?, ?, ?, ?, '')",
		id, "sub-"+name, name+"@example.com", name, name)
	if err != nil {
		t.Fatalf("inserting user %s: %v", name, err)
	}

	cookie, err := e.h.tokens.CreateSession(false, id)
	if err != nil {
		t.Fatalf("minting session: %v", err)
	}

	return id, &cookie
}

func (e *env) do(t *testing.T, method string, path string, cookie *http.Cookie, contentType string, body io.Reader) *http.Response {
	t.Helper()

	req, err := http.NewRequest(method, e.srv.URL+path, body)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}

	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()

	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return out
}

func jsonBody(t *testing.T, v any) *bytes.Reader {
	t.Helper()

	payload, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshaling body: %v", err)
	}
	return bytes.NewReader(payload)
}

func messageBody(t *testing.T, content string) (io.Reader, string) {
	t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("content", content); err != nil {
		t.Fatalf("writing multipart field: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("closing multipart writer: %v", err)
	}

	return &buf, w.FormDataContentType()
}

func (e *env) createServer(t *testing.T, cookie *http.Cookie, name string) serverWithChannels {
	t.Helper()

	resp := e.do(t, http.MethodPost, "/api/servers", cookie, "application/json",
		jsonBody(t, map[string]string{"name": name}))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("creating server: got status %d", resp.StatusCode)
	}
	return decode[serverWithChannels](t, resp)
}

func waitForEvent(t *testing.T, sub *hub.Subscription) hub.Event {
	t.Helper()

	select {
	case event, open := <-sub.C():
		if !open {
			t.Fatal("subscription closed before an event arrived")
		}
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for an event")
	}
	return hub.Event{}
}

func TestRequestsWithoutSessionRejected(t *testing.T) {
	e := newTestEnv(t)

	resp := e.do(t, http.MethodGet, "/api/servers", nil, "", nil)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a session cookie, got %d", resp.StatusCode)
	}
}

func TestLoginCreatesAndReusesIdentity(t *testing.T) {
	e := newTestEnv(t)

	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS512, jwt.IdentityClaims{
		Email: "ada@example.com",
		Name:  "Ada Lovelace",
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   "provider-1",
			ExpiresAt: jwtlib.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	idToken, err := token.SignedString([]byte(testIdentitySecret))
	if err != nil {
		t.Fatalf("signing identity token: %v", err)
	}

	login := func() models.User {
		resp := e.do(t, http.MethodPost, "/api/auth/login", nil, "application/json",
			jsonBody(t, map[string]any{"idToken": idToken}))
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("login: got status %d", resp.StatusCode)
		}

		foundCookie := false
		for _, c := range resp.Cookies() {
			if c.Name == "JWT" && c.Value != "" {
				foundCookie = true
			}
		}
		if !foundCookie {
			t.Fatal("login response set no JWT cookie")
		}

		return decode[models.User](t, resp)
	}

	first := login()
	if first.DisplayName != "Ada Lovelace" {
		t.Fatalf("display name = %q, want Ada Lovelace", first.DisplayName)
	}

	second := login()
	if second.ID != first.ID {
		t.Fatalf("second login minted a new identity: %d != %d", second.ID, first.ID)
	}

	resp := e.do(t, http.MethodPost, "/api/auth/login", nil, "application/json",
		jsonBody(t, map[string]any{"idToken": "not-a-token"}))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a bad identity token, got %d", resp.StatusCode)
	}
}

func TestCreateServerCreatesGeneralChannelAndOwner(t *testing.T) {
	e := newTestEnv(t)
	userID, cookie := e.createUser(t, "alice")

	server := e.createServer(t, cookie, "Test")

	if server.Name != "Test" {
		t.Fatalf("server name = %q, want Test", server.Name)
	}
	if server.OwnerID != userID {
		t.Fatalf("owner ID = %d, want %d", server.OwnerID, userID)
	}
	if len(server.Channels) != 1 {
		t.Fatalf("expected exactly one default channel, got %d", len(server.Channels))
	}
	if server.Channels[0].Name != "general" || server.Channels[0].Type != models.ChannelTypeText {
		t.Fatalf("default channel = %q/%q, want general/text", server.Channels[0].Name, server.Channels[0].Type)
	}

	var role string
	err := e.h.db.QueryRow("SELECT role FROM server_members WHERE server_id = ? AND user_id = ?", server.ID, userID).Scan(&role)
	if err != nil {
		t.Fatalf("reading membership: %v", err)
	}
	if role != models.RoleOwner {
		t.Fatalf("creator role = %q, want %q", role, models.RoleOwner)
	}
}

func TestChannelMessageReachesSubscribers(t *testing.T) {
	e := newTestEnv(t)
	userID, cookie := e.createUser(t, "alice")

	server := e.createServer(t, cookie, "Test")
	channelID := server.Channels[0].ID

	sub := e.h.hub.Subscribe(hub.Channel(channelID))
	defer e.h.hub.Unsubscribe(sub)

	body, contentType := messageBody(t, "hello")
	resp := e.do(t, http.MethodPost, fmt.Sprintf("/api/channels/%d/messages", channelID), cookie, contentType, body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("posting message: got status %d", resp.StatusCode)
	}

	msg := decode[models.Message](t, resp)
	if msg.Content != "hello" {
		t.Fatalf("message content = %q, want hello", msg.Content)
	}
	if msg.ChannelID == nil || *msg.ChannelID != channelID {
		t.Fatal("message did not come back bound to the channel")
	}
	if msg.User.DisplayName != "alice" {
		t.Fatalf("author projection = %q, want alice", msg.User.DisplayName)
	}

	event := waitForEvent(t, sub)
	if event.Type != hub.MessageCreated {
		t.Fatalf("event type = %q, want %q", event.Type, hub.MessageCreated)
	}
	published, ok := event.Data.(models.Message)
	if !ok {
		t.Fatalf("event payload has type %T", event.Data)
	}
	if published.ID != msg.ID || published.Content != "hello" {
		t.Fatal("published message does not match the response message")
	}
	if published.UserID != userID {
		t.Fatalf("published author = %d, want %d", published.UserID, userID)
	}

	resp = e.do(t, http.MethodGet, fmt.Sprintf("/api/channels/%d/messages", channelID), cookie, "", nil)
	messages := decode[[]models.Message](t, resp)
	if len(messages) != 1 || messages[0].Content != "hello" {
		t.Fatalf("channel history = %+v, want the one hello message", messages)
	}
}

func TestNonMemberCannotReadChannel(t *testing.T) {
	e := newTestEnv(t)
	_, owner := e.createUser(t, "alice")
	_, outsider := e.createUser(t, "bob")

	server := e.createServer(t, owner, "Private")
	channelID := server.Channels[0].ID

	resp := e.do(t, http.MethodGet, fmt.Sprintf("/api/channels/%d/messages", channelID), outsider, "", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for a non-member read, got %d", resp.StatusCode)
	}

	body, contentType := messageBody(t, "sneaky")
	resp = e.do(t, http.MethodPost, fmt.Sprintf("/api/channels/%d/messages", channelID), outsider, contentType, body)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for a non-member post, got %d", resp.StatusCode)
	}
}

func TestDirectMessageConversationFlow(t *testing.T) {
	e := newTestEnv(t)
	aliceID, alice := e.createUser(t, "alice")
	bobID, bob := e.createUser(t, "bob")

	sub := e.h.hub.Subscribe(hub.DM(bobID, aliceID))
	defer e.h.hub.Unsubscribe(sub)

	body, contentType := messageBody(t, "hi bob")
	resp := e.do(t, http.MethodPost, fmt.Sprintf("/api/dm/%d/messages", bobID), alice, contentType, body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("posting DM: got status %d", resp.StatusCode)
	}

	msg := decode[models.Message](t, resp)
	if msg.RecipientID == nil || *msg.RecipientID != bobID {
		t.Fatal("DM did not come back bound to the recipient")
	}
	if msg.ChannelID != nil {
		t.Fatal("DM must not carry a channel ID")
	}

	// the subscription was opened with the pair in the other order, the
	// scope still has to match
	event := waitForEvent(t, sub)
	published, ok := event.Data.(models.Message)
	if !ok || published.Content != "hi bob" {
		t.Fatalf("event payload = %+v", event.Data)
	}

	resp = e.do(t, http.MethodGet, "/api/dm/conversations", bob, "", nil)
	conversations := decode[[]models.ConversationView](t, resp)
	if len(conversations) != 1 {
		t.Fatalf("bob has %d conversations, want 1", len(conversations))
	}
	if conversations[0].Other.ID != aliceID {
		t.Fatalf("conversation partner = %d, want %d", conversations[0].Other.ID, aliceID)
	}
	if conversations[0].LastMessage != "hi bob" {
		t.Fatalf("conversation preview = %q, want hi bob", conversations[0].LastMessage)
	}

	resp = e.do(t, http.MethodGet, fmt.Sprintf("/api/dm/%d/messages", aliceID), bob, "", nil)
	messages := decode[[]models.Message](t, resp)
	if len(messages) != 1 || messages[0].Content != "hi bob" {
		t.Fatalf("bob's history = %+v, want the one hi bob message", messages)
	}

	resp = e.do(t, http.MethodPost, fmt.Sprintf("/api/dm/%d/messages", aliceID), alice, contentType, bytes.NewReader(nil))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for messaging yourself, got %d", resp.StatusCode)
	}
}

func TestInviteLifecycleOverHttp(t *testing.T) {
	e := newTestEnv(t)
	_, alice := e.createUser(t, "alice")
	bobID, bob := e.createUser(t, "bob")

	server := e.createServer(t, alice, "Club")

	resp := e.do(t, http.MethodPost, fmt.Sprintf("/api/servers/%d/invites", server.ID), alice, "application/json",
		jsonBody(t, map[string]any{}))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("creating invite: got status %d", resp.StatusCode)
	}
	invite := decode[models.Invite](t, resp)
	if invite.Code == "" {
		t.Fatal("invite came back without a code")
	}

	// preview is public, no cookie
	resp = e.do(t, http.MethodGet, "/api/invites/"+invite.Code, nil, "", nil)
	preview := decode[models.InvitePreview](t, resp)
	if preview.ServerName != "Club" || preview.MemberCount != 1 {
		t.Fatalf("preview = %+v, want Club with 1 member", preview)
	}

	sub := e.h.hub.Subscribe(hub.Server(server.ID))
	defer e.h.hub.Unsubscribe(sub)

	resp = e.do(t, http.MethodPost, "/api/invites/"+invite.Code+"/join", bob, "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("joining: got status %d", resp.StatusCode)
	}
	joined := decode[serverWithChannels](t, resp)
	if joined.ID != server.ID || len(joined.Channels) != 1 {
		t.Fatalf("join response = %+v, want server %d with its general channel", joined, server.ID)
	}

	event := waitForEvent(t, sub)
	if event.Type != hub.MemberJoined {
		t.Fatalf("event type = %q, want %q", event.Type, hub.MemberJoined)
	}
	member, ok := event.Data.(models.User)
	if !ok || member.ID != bobID {
		t.Fatalf("member joined payload = %+v, want bob", event.Data)
	}

	resp = e.do(t, http.MethodGet, "/api/servers", bob, "", nil)
	servers := decode[[]models.Server](t, resp)
	if len(servers) != 1 || servers[0].ID != server.ID {
		t.Fatalf("bob's server list = %+v, want just %d", servers, server.ID)
	}

	resp = e.do(t, http.MethodPost, "/api/invites/"+invite.Code+"/join", bob, "", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 joining twice, got %d", resp.StatusCode)
	}

	resp = e.do(t, http.MethodPost, "/api/invites/nope1234/join", bob, "", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for an unknown code, got %d", resp.StatusCode)
	}
}

func TestSearchUsersExcludesCaller(t *testing.T) {
	e := newTestEnv(t)
	_, alice := e.createUser(t, "alice")
	bobID, _ := e.createUser(t, "bob")
	e.createUser(t, "bobby")

	resp := e.do(t, http.MethodGet, "/api/users/search?q=BOB", alice, "", nil)
	results := decode[[]models.User](t, resp)
	if len(results) != 2 {
		t.Fatalf("search for bob returned %d users, want 2", len(results))
	}

	resp = e.do(t, http.MethodGet, "/api/users/search?q=alice", alice, "", nil)
	results = decode[[]models.User](t, resp)
	if len(results) != 0 {
		t.Fatalf("search must exclude the caller, got %+v", results)
	}

	resp = e.do(t, http.MethodGet, fmt.Sprintf("/api/users/%d", bobID), alice, "", nil)
	user := decode[models.User](t, resp)
	if user.ID != bobID || user.DisplayName != "bob" {
		t.Fatalf("user lookup = %+v, want bob", user)
	}

	resp = e.do(t, http.MethodGet, "/api/users/search", alice, "", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for an empty query, got %d", resp.StatusCode)
	}
}

func TestChannelEventStreamDeliversMessages(t *testing.T) {
	e := newTestEnv(t)
	_, alice := e.createUser(t, "alice")

	server := e.createServer(t, alice, "Test")
	channelID := server.Channels[0].ID

	req, err := http.NewRequest(http.MethodGet, e.srv.URL+fmt.Sprintf("/api/channels/%d/events", channelID), nil)
	if err != nil {
		t.Fatalf("building stream request: %v", err)
	}
	req.AddCookie(alice)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("opening stream: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q, want text/event-stream", ct)
	}

	lines := make(chan string, 16)
	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := resp.Body.Read(buf)
			if n > 0 {
				lines <- string(buf[:n])
			}
			if err != nil {
				close(lines)
				return
			}
		}
	}()

	readChunk := func() string {
		select {
		case chunk, open := <-lines:
			if !open {
				t.Fatal("stream closed early")
			}
			return chunk
		case <-time.After(2 * time.Second):
			t.Fatal("timed out reading the stream")
		}
		return ""
	}

	if chunk := readChunk(); !bytes.Contains([]byte(chunk), []byte("event: connected")) {
		t.Fatalf("first frame = %q, want the connected event", chunk)
	}

	body, contentType := messageBody(t, "streamed")
	postResp := e.do(t, http.MethodPost, fmt.Sprintf("/api/channels/%d/messages", channelID), alice, contentType, body)
	postResp.Body.Close()

	chunk := readChunk()
	if !bytes.Contains([]byte(chunk), []byte("event: message")) {
		t.Fatalf("stream frame = %q, want a message event", chunk)
	}
	if !bytes.Contains([]byte(chunk), []byte("streamed")) {
		t.Fatalf("stream frame = %q, want the message content", chunk)
	}
}
