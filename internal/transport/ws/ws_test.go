package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/moodroom/moodroom/internal/config"
	"github.com/moodroom/moodroom/internal/hub"
	"github.com/moodroom/moodroom/internal/protocol"
	"github.com/moodroom/moodroom/internal/store"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := config.Default()
	cfg.StaticPath = ""
	manager := hub.NewManager(context.Background(), cfg, store.NewMemoryStore())
	srv := httptest.NewServer(SetupRouter(cfg, manager))
	t.Cleanup(func() {
		srv.Close()
		manager.Shutdown()
	})
	return srv
}

func dialRoom(t *testing.T, srv *httptest.Server, room string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/rooms/" + room
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readServerMessage(t *testing.T, conn *websocket.Conn) protocol.ServerMessage {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	msg, err := protocol.DecodeServer(data)
	require.NoError(t, err)
	return msg
}

func writeClientMessage(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	data, err := protocol.Encode(v)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func TestWS_ConnectDeliversInitBeforeAnythingElse(t *testing.T) {
	srv := newTestServer(t)
	conn := dialRoom(t, srv, "lobby")

	msg := readServerMessage(t, conn)
	require.IsType(t, protocol.Init{}, msg)
}

func TestWS_JoinAndChatAcrossConnections(t *testing.T) {
	srv := newTestServer(t)

	alice := dialRoom(t, srv, "lobby")
	bob := dialRoom(t, srv, "lobby")
	require.IsType(t, protocol.Init{}, readServerMessage(t, alice))
	require.IsType(t, protocol.Init{}, readServerMessage(t, bob))

	writeClientMessage(t, alice, protocol.NewJoin("alice", "bear", "#ff8800"))
	joined, ok := readServerMessage(t, bob).(protocol.PlayerJoined)
	require.True(t, ok)
	require.Equal(t, "alice", joined.Player.Name)

	writeClientMessage(t, bob, protocol.NewJoin("bob", "fox", "#0088ff"))
	require.IsType(t, protocol.PlayerJoined{}, readServerMessage(t, alice))

	writeClientMessage(t, alice, protocol.NewChat("hello room"))
	for _, conn := range []*websocket.Conn{alice, bob} {
		chat, ok := readServerMessage(t, conn).(protocol.ChatBroadcast)
		require.True(t, ok)
		require.Equal(t, "hello room", chat.Message.Text)
		require.Equal(t, joined.Player.ID, chat.Message.SenderID)
	}
}

func TestWS_CloseTakesDisconnectPath(t *testing.T) {
	srv := newTestServer(t)

	alice := dialRoom(t, srv, "lobby")
	bob := dialRoom(t, srv, "lobby")
	require.IsType(t, protocol.Init{}, readServerMessage(t, alice))
	require.IsType(t, protocol.Init{}, readServerMessage(t, bob))

	writeClientMessage(t, alice, protocol.NewJoin("alice", "bear", "#ff8800"))
	joined, ok := readServerMessage(t, bob).(protocol.PlayerJoined)
	require.True(t, ok)

	require.NoError(t, alice.Close())

	left, ok := readServerMessage(t, bob).(protocol.PlayerLeft)
	require.True(t, ok)
	require.Equal(t, joined.Player.ID, left.ID)
}

func TestWS_RoomsAreAddressedByPath(t *testing.T) {
	srv := newTestServer(t)

	lobby := dialRoom(t, srv, "lobby")
	attic := dialRoom(t, srv, "attic")
	require.IsType(t, protocol.Init{}, readServerMessage(t, lobby))
	require.IsType(t, protocol.Init{}, readServerMessage(t, attic))

	writeClientMessage(t, lobby, protocol.NewJoin("alice", "bear", "#ff8800"))
	writeClientMessage(t, lobby, protocol.NewPing())
	require.IsType(t, protocol.Pong{}, readServerMessage(t, lobby))

	// The attic heard nothing about the lobby join.
	writeClientMessage(t, attic, protocol.NewPing())
	require.IsType(t, protocol.Pong{}, readServerMessage(t, attic))
}

func TestHTTP_HealthAndRoomList(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	conn := dialRoom(t, srv, "lobby")
	require.IsType(t, protocol.Init{}, readServerMessage(t, conn))

	listResp, err := http.Get(srv.URL + "/api/rooms")
	require.NoError(t, err)
	defer listResp.Body.Close()
	require.Equal(t, http.StatusOK, listResp.StatusCode)

	var rooms []hub.RoomInfo
	require.NoError(t, json.NewDecoder(listResp.Body).Decode(&rooms))
	require.Len(t, rooms, 1)
	require.Equal(t, "lobby", string(rooms[0].ID))
	require.Equal(t, 1, rooms[0].Connections)
}
