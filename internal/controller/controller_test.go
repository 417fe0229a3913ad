package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/sharetube/syncserver/internal/repository/connection/inmemory"
	roomRedis "github.com/sharetube/syncserver/internal/repository/room/redis"
	"github.com/sharetube/syncserver/internal/service/room"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*httptest.Server, *controller) {
	t.Helper()

	s := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { rc.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	connRepo := inmemory.NewRepo(logger)
	roomService := room.NewService(roomRedis.NewRepo(rc, time.Hour, logger), connRepo, &room.Config{Secret: testSecret}, logger)
	c := NewController(roomService, logger, Config{
		Secret:       testSecret,
		SendBuffer:   16,
		WriteTimeout: time.Second,
		ReadLimit:    1024,
	})

	srv := httptest.NewServer(c.GetMux())
	t.Cleanup(func() {
		connRepo.Close()
		srv.Close()
	})

	return srv, c
}

const testSecret = "test-secret"

type apiResponse struct {
	Data   json.RawMessage `json:"data"`
	Error  string          `json:"error"`
	Errors []any           `json:"errors"`
}

// doJSON sends a request from a Firefox browser identified by fingerprint.
func doJSON(t *testing.T, method, url, fingerprint, token string, body any) (int, apiResponse) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0")
	if fingerprint != "" {
		req.Header.Set("St-Fingerprint", fingerprint)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out apiResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))

	return resp.StatusCode, out
}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })

	return ws
}

func readMessage(t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(3*time.Second)))
	var msg map[string]any
	require.NoError(t, ws.ReadJSON(&msg))

	return msg
}

func sendJSON(t *testing.T, ws *websocket.Conn, msg any) {
	t.Helper()
	require.NoError(t, ws.WriteJSON(msg))
}

func assertSilent(t *testing.T, ws *websocket.Conn) {
	t.Helper()

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, data, err := ws.ReadMessage()
	require.Error(t, err, "unexpected message %s", data)
	var netErr net.Error
	require.ErrorAs(t, err, &netErr)
	assert.True(t, netErr.Timeout())
}

type createdRoom struct {
	Room   room.Room `json:"room"`
	UserId string    `json:"user_id"`
	Token  string    `json:"token"`
}

func createRoom(t *testing.T, srv *httptest.Server, fingerprint, username string) createdRoom {
	t.Helper()

	status, body := doJSON(t, http.MethodPost, srv.URL+"/api/v1/rooms", fingerprint, "", map[string]any{"username": username})
	require.Equal(t, http.StatusCreated, status)
	var created createdRoom
	require.NoError(t, json.Unmarshal(body.Data, &created))
	require.Len(t, created.Room.Code, 6)
	require.NotEmpty(t, created.UserId)

	return created
}

type joinResult struct {
	Status  string           `json:"status"`
	UserId  string           `json:"user_id"`
	Request room.JoinRequest `json:"request"`
	Token   string           `json:"token"`
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(0), body["rooms"])
}

func TestRoomNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	status, body := doJSON(t, http.MethodGet, srv.URL+"/api/v1/rooms/NOPE00", "", "", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, room.ErrRoomNotFound.Error(), body.Error)

	status, _ = doJSON(t, http.MethodPost, srv.URL+"/api/v1/rooms/NOPE00/join-requests", "bob", "", map[string]any{"username": "bob"})
	assert.Equal(t, http.StatusNotFound, status)
}

func TestCreateRoomValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	status, body := doJSON(t, http.MethodPost, srv.URL+"/api/v1/rooms", "alice", "", map[string]any{"username": ""})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.NotEmpty(t, body.Errors)

	status, _ = doJSON(t, http.MethodPost, srv.URL+"/api/v1/rooms", "alice", "", map[string]any{"username": "alice", "unknown": 1})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
}

func TestWatchTogetherFlow(t *testing.T) {
	srv, _ := newTestServer(t)
	api := srv.URL + "/api/v1/rooms"

	// alice creates the room and joins over websocket
	created := createRoom(t, srv, "alice", "alice")
	code := created.Room.Code

	alice := dialWS(t, srv)
	sendJSON(t, alice, map[string]any{"type": "join", "roomCode": code, "token": created.Token, "username": "alice"})
	assert.Equal(t, "room_update", readMessage(t, alice)["type"])

	// bob asks to join and waits
	status, body := doJSON(t, http.MethodPost, api+"/"+code+"/join-requests", "bob", "", map[string]any{"username": "bob"})
	require.Equal(t, http.StatusAccepted, status)
	var pending joinResult
	require.NoError(t, json.Unmarshal(body.Data, &pending))
	assert.Equal(t, room.StatusPending, pending.Status)
	assert.Equal(t, "Firefox", pending.Request.Browser)
	assert.Equal(t, "121.0", pending.Request.BrowserVersion)
	assert.NotEqual(t, created.UserId, pending.UserId)
	require.NotEmpty(t, pending.Token)

	notice := readMessage(t, alice)
	assert.Equal(t, "join_request", notice["type"])

	bob := dialWS(t, srv)
	sendJSON(t, bob, map[string]any{"type": "join", "roomCode": code, "token": pending.Token, "username": "bob"})
	assert.Equal(t, map[string]any{
		"type": "approval_status", "userId": pending.UserId, "requestId": pending.Request.Id, "status": "pending",
	}, readMessage(t, bob))

	// a pending token is not a member token
	status, _ = doJSON(t, http.MethodPatch, api+"/"+code, "bob", pending.Token, map[string]any{"is_playing": true})
	assert.Equal(t, http.StatusForbidden, status)

	// only the host may approve
	approveURL := api + "/" + code + "/join-requests/" + pending.Request.Id + "/approve"
	status, _ = doJSON(t, http.MethodPost, approveURL, "", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = doJSON(t, http.MethodPost, approveURL, "alice", created.Token, nil)
	require.Equal(t, http.StatusOK, status)

	assert.Equal(t, map[string]any{
		"type": "approval_status", "userId": pending.UserId, "requestId": pending.Request.Id, "status": "approved",
	}, readMessage(t, bob))
	assert.Equal(t, "room_update", readMessage(t, bob)["type"])
	assert.Equal(t, map[string]any{"type": "user_joined", "username": "bob"}, readMessage(t, alice))

	// polling returns the member token
	status, body = doJSON(t, http.MethodGet, api+"/"+code+"/join-requests/"+pending.Request.Id, "bob", "", nil)
	require.Equal(t, http.StatusOK, status)
	var polled struct {
		Request room.JoinRequest `json:"request"`
		Token   string           `json:"token"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &polled))
	assert.Equal(t, room.StatusApproved, polled.Request.Status)
	require.NotEmpty(t, polled.Token)

	status, _ = doJSON(t, http.MethodPost, approveURL, "bob", polled.Token, nil)
	assert.Equal(t, http.StatusForbidden, status, "non-host must not approve")

	status, _ = doJSON(t, http.MethodGet, api+"/"+code+"/join-requests/"+pending.Request.Id, "mallory", "", nil)
	assert.Equal(t, http.StatusNotFound, status)

	// bob seeks, alice follows
	sendJSON(t, bob, map[string]any{"type": "seek", "payload": map[string]any{"position": 42.5}})
	assert.Equal(t, map[string]any{"type": "seek", "position": 42.5, "username": "bob"}, readMessage(t, alice))

	// durable update reaches everyone
	status, _ = doJSON(t, http.MethodPatch, api+"/"+code, "", polled.Token, map[string]any{"is_playing": true, "playback_position": 50})
	require.Equal(t, http.StatusOK, status)
	for _, ws := range []*websocket.Conn{alice, bob} {
		msg := readMessage(t, ws)
		assert.Equal(t, "room_update", msg["type"])
		payload, ok := msg["payload"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, true, payload["is_playing"])
		assert.Equal(t, float64(50), payload["playback_position"])
	}

	status, _ = doJSON(t, http.MethodPatch, api+"/"+code, "", polled.Token, map[string]any{"playback_position": -1})
	assert.Equal(t, http.StatusBadRequest, status)

	// bob drops
	require.NoError(t, bob.Close())
	assert.Equal(t, map[string]any{"type": "user_left", "username": "bob"}, readMessage(t, alice))

	require.Eventually(t, func() bool {
		status, body := doJSON(t, http.MethodGet, api+"/"+code+"/participants", "", "", nil)
		if status != http.StatusOK {
			return false
		}
		var participants []map[string]any
		if err := json.Unmarshal(body.Data, &participants); err != nil || len(participants) != 2 {
			return false
		}
		return participants[1]["status"] == room.StatusLeft
	}, 3*time.Second, 20*time.Millisecond)
}

func TestRosterHidesUserIds(t *testing.T) {
	srv, _ := newTestServer(t)
	created := createRoom(t, srv, "alice", "alice")

	status, body := doJSON(t, http.MethodGet, srv.URL+"/api/v1/rooms/"+created.Room.Code+"/participants", "mallory", "", nil)
	require.Equal(t, http.StatusOK, status)

	var participants []map[string]any
	require.NoError(t, json.Unmarshal(body.Data, &participants))
	require.Len(t, participants, 1)
	assert.Equal(t, "alice", participants[0]["username"])
	assert.Equal(t, true, participants[0]["is_host"])
	assert.NotContains(t, participants[0], "user_id")
	assert.NotContains(t, string(body.Data), created.UserId)
}

func TestClientCannotChooseIdentity(t *testing.T) {
	srv, _ := newTestServer(t)
	api := srv.URL + "/api/v1/rooms"
	created := createRoom(t, srv, "alice", "alice")
	code := created.Room.Code

	// a header naming the host's id is ignored
	req, err := http.NewRequest(http.MethodPost, api+"/"+code+"/join-requests", strings.NewReader(`{"username":"mallory"}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("St-User-Id", created.UserId)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var body apiResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	var spoofed joinResult
	require.NoError(t, json.Unmarshal(body.Data, &spoofed))
	assert.Equal(t, room.StatusPending, spoofed.Status)
	assert.NotEqual(t, created.UserId, spoofed.UserId)

	status, _ := doJSON(t, http.MethodGet, api+"/"+code+"/join-requests", "", spoofed.Token, nil)
	assert.Equal(t, http.StatusForbidden, status)
	status, _ = doJSON(t, http.MethodPatch, api+"/"+code, "", spoofed.Token, map[string]any{"is_playing": true})
	assert.Equal(t, http.StatusForbidden, status)
}

func TestWSJoinRequiresRoomToken(t *testing.T) {
	srv, _ := newTestServer(t)
	alicesRoom := createRoom(t, srv, "alice", "alice")
	carolsRoom := createRoom(t, srv, "carol", "carol")
	code := alicesRoom.Room.Code

	alice := dialWS(t, srv)
	sendJSON(t, alice, map[string]any{"type": "join", "roomCode": code, "token": alicesRoom.Token})
	assert.Equal(t, "room_update", readMessage(t, alice)["type"])

	foreign, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"room_code": code,
		"user_id":   alicesRoom.UserId,
		"is_host":   true,
	}).SignedString([]byte("other-secret"))
	require.NoError(t, err)

	mallory := dialWS(t, srv)
	sendJSON(t, mallory, map[string]any{"type": "join", "roomCode": code, "userId": alicesRoom.UserId, "username": "alice"})
	sendJSON(t, mallory, map[string]any{"type": "join", "roomCode": code, "token": foreign})
	sendJSON(t, mallory, map[string]any{"type": "join", "roomCode": code, "token": carolsRoom.Token})

	// the connection survives and joins the room its token was issued for
	sendJSON(t, mallory, map[string]any{"type": "join", "roomCode": carolsRoom.Room.Code, "token": carolsRoom.Token})
	msg := readMessage(t, mallory)
	assert.Equal(t, "room_update", msg["type"])
	payload, ok := msg["payload"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, carolsRoom.Room.Code, payload["code"])

	assertSilent(t, alice)
}

func TestUnjoinedMessagesAreDropped(t *testing.T) {
	srv, _ := newTestServer(t)
	created := createRoom(t, srv, "alice", "alice")

	ws := dialWS(t, srv)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("not json")))
	sendJSON(t, ws, map[string]any{"type": "dance"})
	sendJSON(t, ws, map[string]any{"type": "seek", "payload": map[string]any{"position": 1}})
	sendJSON(t, ws, map[string]any{"type": "join", "roomCode": created.Room.Code, "token": "garbage"})

	// the connection survives and can still join as a real participant
	sendJSON(t, ws, map[string]any{"type": "join", "roomCode": created.Room.Code, "token": created.Token, "username": "alice"})
	assert.Equal(t, "room_update", readMessage(t, ws)["type"])
}

func TestJoinedConnectionCannotSwitchRooms(t *testing.T) {
	srv, _ := newTestServer(t)
	first := createRoom(t, srv, "alice", "alice")
	second := createRoom(t, srv, "alice", "alice")
	require.Equal(t, first.UserId, second.UserId)

	alice := dialWS(t, srv)
	sendJSON(t, alice, map[string]any{"type": "join", "roomCode": first.Room.Code, "token": first.Token})
	assert.Equal(t, "room_update", readMessage(t, alice)["type"])

	secondTab := dialWS(t, srv)
	sendJSON(t, secondTab, map[string]any{"type": "join", "roomCode": first.Room.Code, "token": first.Token})
	assert.Equal(t, "room_update", readMessage(t, secondTab)["type"])
	assert.Equal(t, map[string]any{"type": "user_joined", "username": "alice"}, readMessage(t, alice))

	sendJSON(t, alice, map[string]any{"type": "join", "roomCode": second.Room.Code, "token": second.Token})

	// still in the first room: the next frame the other tab sees is the seek, not user_left
	sendJSON(t, alice, map[string]any{"type": "seek", "payload": map[string]any{"position": 9}})
	assert.Equal(t, map[string]any{"type": "seek", "position": float64(9), "username": "alice"}, readMessage(t, secondTab))

	assertSilent(t, alice)
}

func TestOversizedFrameIsDropped(t *testing.T) {
	srv, _ := newTestServer(t)
	created := createRoom(t, srv, "alice", "alice")

	ws := dialWS(t, srv)
	padding := strings.Repeat("x", 4096)
	sendJSON(t, ws, map[string]any{"type": "join", "roomCode": created.Room.Code, "token": created.Token, "padding": padding})

	sendJSON(t, ws, map[string]any{"type": "join", "roomCode": created.Room.Code, "token": created.Token})
	assert.Equal(t, "room_update", readMessage(t, ws)["type"])
	assertSilent(t, ws)
}

func TestShutdownClosesWebsockets(t *testing.T) {
	srv, c := newTestServer(t)

	idle := dialWS(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, c.Shutdown(ctx))

	require.NoError(t, idle.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, _, err := idle.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)

	late, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer late.Close()
	require.NoError(t, late.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, _, err = late.ReadMessage()
	assert.Error(t, err)
}
