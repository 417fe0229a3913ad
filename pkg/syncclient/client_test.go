package syncclient

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer records the frames a client sends and pushes the scripted ones back.
func fakeServer(t *testing.T, push []string, received chan<- map[string]any) *httptest.Server {
	t.Helper()

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		for _, frame := range push {
			if err := ws.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
				return
			}
		}

		for {
			var msg map[string]any
			if err := ws.ReadJSON(&msg); err != nil {
				return
			}
			received <- msg
		}
	}))
	t.Cleanup(srv.Close)

	return srv
}

func testToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("server-secret"))
	require.NoError(t, err)

	return token
}

func dialTest(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := Dial(ctx, Config{
		URL:      "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		Token:    testToken(t, jwt.MapClaims{"room_code": "ABC123", "user_id": "bob-id", "pending": true}),
		Username: "bob",
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	return c
}

func receive(t *testing.T, received <-chan map[string]any) map[string]any {
	t.Helper()

	select {
	case msg := <-received:
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a client frame")
		return nil
	}
}

func TestClientJoinsAndReconciles(t *testing.T) {
	received := make(chan map[string]any, 8)
	srv := fakeServer(t, []string{
		`{"type":"approval_status","userId":"bob-id","requestId":"r1","status":"approved"}`,
		`{"type":"room_update","payload":{"video_url":"https://example.com/a.mp4","playback_position":12,"is_playing":false}}`,
		`{"type":"user_joined","username":"alice"}`,
		`{"type":"seek","position":42,"username":"alice"}`,
	}, received)

	c := dialTest(t, srv)

	join := receive(t, received)
	assert.Equal(t, "join", join["type"])
	assert.Equal(t, "ABC123", join["roomCode"])
	assert.Equal(t, "bob", join["username"])
	assert.NotEmpty(t, join["token"])
	assert.NotContains(t, join, "userId")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var kinds []ActionKind
	done := make(chan error, 1)
	go func() {
		done <- c.Run(ctx, func(state LocalState, msg Message, actions []Action) {
			for _, a := range actions {
				kinds = append(kinds, a.Kind)
			}
			if msg.Type == MessageTypeSeek {
				cancel()
			}
		})
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("client did not stop")
	}

	assert.Equal(t, []ActionKind{ActionLoad, ActionSeek}, kinds)

	state := c.State()
	assert.Equal(t, AdmissionApproved, state.Admission)
	assert.Equal(t, "https://example.com/a.mp4", state.VideoURL)
	assert.Equal(t, 42.0, state.Position)
	assert.Equal(t, []string{"alice"}, state.Viewers)
}

func TestClientSendsUpdates(t *testing.T) {
	received := make(chan map[string]any, 8)
	srv := fakeServer(t, nil, received)

	c := dialTest(t, srv)
	receive(t, received)

	playing := true
	position := 7.5
	require.NoError(t, c.UpdateRoom(RoomPayload{IsPlaying: &playing, PlaybackPosition: &position}))

	update := receive(t, received)
	assert.Equal(t, "room_update", update["type"])
	payload := update["payload"].(map[string]any)
	assert.Equal(t, true, payload["is_playing"])
	assert.Equal(t, 7.5, payload["playback_position"])
	assert.NotEmpty(t, payload["updated_at"])

	state := c.State()
	assert.True(t, state.IsPlaying)
	assert.False(t, state.LastInteraction.IsZero())

	require.NoError(t, c.Seek(99))
	seek := receive(t, received)
	assert.Equal(t, "seek", seek["type"])
	assert.Equal(t, map[string]any{"position": 99.0}, seek["payload"])

	assert.Equal(t, 99.0, c.State().Position)
}

func TestDialRejectsTokenWithoutRoom(t *testing.T) {
	srv := fakeServer(t, nil, make(chan map[string]any, 1))

	_, err := Dial(context.Background(), Config{
		URL:   "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		Token: testToken(t, jwt.MapClaims{"user_id": "bob-id"}),
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, err)

	_, err = Dial(context.Background(), Config{
		URL:   "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		Token: "garbage",
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, err)
}
