package client

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/moodroom/moodroom/internal/config"
	"github.com/moodroom/moodroom/internal/domain"
	"github.com/moodroom/moodroom/internal/hub"
	"github.com/moodroom/moodroom/internal/protocol"
	"github.com/moodroom/moodroom/internal/store"
	"github.com/moodroom/moodroom/internal/transport/ws"
)

// newTestServer runs the real router and hub behind httptest and
// returns the ws URL for the lobby room plus the manager, so tests can
// drop live connections from the server side.
func newTestServer(t *testing.T, mutate func(*config.Config)) (string, *hub.Manager) {
	t.Helper()
	cfg := config.Default()
	cfg.StaticPath = ""
	if mutate != nil {
		mutate(cfg)
	}
	manager := hub.NewManager(context.Background(), cfg, store.NewMemoryStore())
	srv := httptest.NewServer(ws.SetupRouter(cfg, manager))
	t.Cleanup(func() {
		srv.Close()
		manager.Shutdown()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/rooms/lobby", manager
}

func testOptions(url string) Options {
	return Options{
		URL:               url,
		Identity:          Identity{Name: "alice", Avatar: "bear", AvatarColor: "#ff8800"},
		HeartbeatInterval: 50 * time.Millisecond,
		MoveRate:          100,
		MinMoveDelta:      0.001,
		ReconnectAttempts: 3,
		BackoffBase:       10 * time.Millisecond,
		BackoffCap:        50 * time.Millisecond,
	}
}

func TestAgent_JoinsAndMirrorsRoomState(t *testing.T) {
	url, _ := newTestServer(t, nil)
	agent := New(testOptions(url))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- agent.Run(ctx) }()

	require.Eventually(t, func() bool {
		return agent.State() == StateJoined
	}, 3*time.Second, 10*time.Millisecond)

	// A second participant joins over a raw socket.
	raw, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer raw.Close()
	_, _, err = raw.ReadMessage() // init
	require.NoError(t, err)
	joinFrame, err := protocol.Encode(protocol.NewJoin("bob", "fox", "#0088ff"))
	require.NoError(t, err)
	require.NoError(t, raw.WriteMessage(websocket.TextMessage, joinFrame))

	require.Eventually(t, func() bool {
		for _, p := range agent.Mirror().Players() {
			if p.Name == "bob" {
				return true
			}
		}
		return false
	}, 3*time.Second, 10*time.Millisecond)

	// The hub's broadcast copy of our own chat lands in the mirror.
	agent.SendChat("hi")
	require.Eventually(t, func() bool {
		for _, m := range agent.Mirror().Chat() {
			if m.Text == "hi" {
				return true
			}
		}
		return false
	}, 3*time.Second, 10*time.Millisecond)

	agent.SetMood("joyful")
	require.Eventually(t, func() bool {
		return agent.Mirror().Mood() == domain.Mood("joyful")
	}, 3*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("agent did not stop on cancel")
	}
	require.Equal(t, StateDisconnected, agent.State())
}

func TestAgent_SurfacesCapacityRejection(t *testing.T) {
	url, _ := newTestServer(t, func(cfg *config.Config) {
		cfg.MaxPlayers = 1
	})

	// Seat the only slot over a raw socket.
	raw, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer raw.Close()
	_, _, err = raw.ReadMessage() // init
	require.NoError(t, err)
	joinFrame, err := protocol.Encode(protocol.NewJoin("first", "bear", "#fff"))
	require.NoError(t, err)
	require.NoError(t, raw.WriteMessage(websocket.TextMessage, joinFrame))

	var gotErr atomic.Value
	opts := testOptions(url)
	opts.OnError = func(msg string) { gotErr.Store(msg) }
	agent := New(opts)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = agent.Run(ctx) }()

	require.Eventually(t, func() bool {
		v, _ := gotErr.Load().(string)
		return v == "room is full"
	}, 3*time.Second, 10*time.Millisecond)
}

func TestAgent_ReconnectReplacesMirrorWithFreshSnapshot(t *testing.T) {
	url, manager := newTestServer(t, nil)
	agent := New(testOptions(url))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = agent.Run(ctx) }()
	require.Eventually(t, func() bool {
		return agent.State() == StateJoined
	}, 3*time.Second, 10*time.Millisecond)

	// Populate the mirror with another participant and a chat line.
	raw, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer raw.Close()
	_, _, err = raw.ReadMessage() // init
	require.NoError(t, err)
	joinFrame, err := protocol.Encode(protocol.NewJoin("bob", "fox", "#0088ff"))
	require.NoError(t, err)
	require.NoError(t, raw.WriteMessage(websocket.TextMessage, joinFrame))
	agent.SendChat("before-drop")

	require.Eventually(t, func() bool {
		return len(agent.Mirror().Players()) == 1 && len(agent.Mirror().Chat()) == 1
	}, 3*time.Second, 10*time.Millisecond)

	// Drop every live connection from the server side.
	manager.Stop("lobby")

	// The agent must come back by itself, re-send join, and treat the
	// fresh init as fully authoritative: the stale players and chat
	// from before the drop are gone, not merged.
	require.Eventually(t, func() bool {
		return agent.State() == StateJoined &&
			len(agent.Mirror().Players()) == 0 &&
			len(agent.Mirror().Chat()) == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestAgent_GivesUpAfterReconnectBudget(t *testing.T) {
	opts := testOptions("ws://127.0.0.1:1/ws/rooms/lobby")
	opts.ReconnectAttempts = 3
	agent := New(opts)

	err := agent.Run(context.Background())
	require.ErrorIs(t, err, ErrRetriesExhausted)
	require.Equal(t, StateDisconnected, agent.State())
}

func TestAgent_CancelDuringBackoffStopsPromptly(t *testing.T) {
	opts := testOptions("ws://127.0.0.1:1/ws/rooms/lobby")
	opts.ReconnectAttempts = 10
	opts.BackoffBase = 5 * time.Second
	opts.BackoffCap = 5 * time.Second
	agent := New(opts)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- agent.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("backoff ignored cancellation")
	}
}

func TestAgent_MoveIsThrottledOnTheWire(t *testing.T) {
	url, _ := newTestServer(t, nil)

	// Observer socket joins so it receives the agent's move broadcasts.
	raw, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer raw.Close()
	_, _, err = raw.ReadMessage() // init
	require.NoError(t, err)
	joinFrame, err := protocol.Encode(protocol.NewJoin("observer", "owl", "#222"))
	require.NoError(t, err)
	require.NoError(t, raw.WriteMessage(websocket.TextMessage, joinFrame))

	opts := testOptions(url)
	opts.MoveRate = 10
	agent := New(opts)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = agent.Run(ctx) }()
	require.Eventually(t, func() bool {
		return agent.State() == StateJoined
	}, 3*time.Second, 10*time.Millisecond)

	for i := 0; i < 50; i++ {
		agent.Move(domain.Vec3{X: float64(i)}, 0)
		time.Sleep(4 * time.Millisecond)
	}

	moves := 0
	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		_ = raw.SetReadDeadline(deadline)
		_, data, err := raw.ReadMessage()
		if err != nil {
			break
		}
		msg, err := protocol.DecodeServer(data)
		if err != nil {
			continue
		}
		if _, ok := msg.(protocol.PlayerMoved); ok {
			moves++
		}
	}
	require.GreaterOrEqual(t, moves, 1)
	require.LessOrEqual(t, moves, 6, "50 samples in ~200ms at 10/s must collapse to a handful of sends")
}
