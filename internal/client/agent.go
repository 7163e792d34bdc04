// Package client is the sync agent: it keeps one participant's local
// state bridged to a room hub over a single WebSocket, reconnecting
// with bounded backoff when the link drops.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/moodroom/moodroom/internal/domain"
	"github.com/moodroom/moodroom/internal/protocol"
)

// State is the connection lifecycle of the agent.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateJoined
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateJoined:
		return "joined"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

var ErrRetriesExhausted = errors.New("client: reconnect attempts exhausted")

// Identity is the local display identity sent with join.
type Identity struct {
	Name        string
	Avatar      string
	AvatarColor string
}

type Options struct {
	URL      string // e.g. ws://host:8080/ws/rooms/lobby
	Identity Identity

	HeartbeatInterval time.Duration
	MoveRate          int // updates per second
	MinMoveDelta      float64
	ReconnectAttempts int
	BackoffBase       time.Duration
	BackoffCap        time.Duration
	ChatHistory       int

	// OnError receives hub error payloads (e.g. "room is full").
	OnError func(message string)
}

func (o *Options) withDefaults() {
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 30 * time.Second
	}
	if o.MoveRate <= 0 {
		o.MoveRate = 10
	}
	if o.ReconnectAttempts <= 0 {
		o.ReconnectAttempts = 5
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = 500 * time.Millisecond
	}
	if o.BackoffCap <= 0 {
		o.BackoffCap = 8 * time.Second
	}
	if o.ChatHistory <= 0 {
		o.ChatHistory = 50
	}
}

// Agent mirrors hub state locally and throttles outbound movement.
// The agent's own avatar is driven by local input, not round-tripped.
type Agent struct {
	opts   Options
	mirror *Mirror
	state  atomic.Int32

	mu       sync.Mutex
	outbound chan []byte // nil while no session is live
	throttle *moveThrottle
}

func New(opts Options) *Agent {
	opts.withDefaults()
	return &Agent{
		opts:   opts,
		mirror: NewMirror(opts.ChatHistory),
	}
}

func (a *Agent) State() State { return State(a.state.Load()) }

func (a *Agent) Mirror() *Mirror { return a.mirror }

func (a *Agent) setState(s State) {
	a.state.Store(int32(s))
	log.Debug().Str("module", "client.agent").Str("state", s.String()).Msg("state change")
}

// Run dials, joins and pumps until the context is cancelled or the
// reconnect budget runs out. It always leaves the agent Disconnected.
func (a *Agent) Run(ctx context.Context) error {
	defer a.setState(StateDisconnected)

	attempts := 0
	reconnecting := false
	for {
		if reconnecting {
			a.setState(StateReconnecting)
		} else {
			a.setState(StateConnecting)
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, a.opts.URL, nil)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			attempts++
			if attempts >= a.opts.ReconnectAttempts {
				return fmt.Errorf("%w: %d attempts, last error: %v", ErrRetriesExhausted, attempts, err)
			}
			if err := a.backoff(ctx, attempts); err != nil {
				return err
			}
			reconnecting = true
			continue
		}

		attempts = 0
		a.session(ctx, conn)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		// Unexpected close: retry, fresh init will replace the mirror.
		reconnecting = true
		attempts++
		if attempts >= a.opts.ReconnectAttempts {
			return ErrRetriesExhausted
		}
		if err := a.backoff(ctx, attempts); err != nil {
			return err
		}
	}
}

// backoff sleeps the capped doubling delay for the given attempt,
// aborting immediately on cancellation.
func (a *Agent) backoff(ctx context.Context, attempt int) error {
	delay := a.opts.BackoffBase << (attempt - 1)
	if delay > a.opts.BackoffCap || delay <= 0 {
		delay = a.opts.BackoffCap
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// session owns one live connection: join, heartbeat, write and read
// pumps. It returns when the connection dies or ctx is cancelled.
func (a *Agent) session(ctx context.Context, conn *websocket.Conn) {
	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	outbound := make(chan []byte, 64)
	a.mu.Lock()
	a.outbound = outbound
	a.throttle = newMoveThrottle(a.opts.MoveRate, a.opts.MinMoveDelta)
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.outbound = nil
		a.mu.Unlock()
		_ = conn.Close()
	}()

	// Unblock the read pump when the session dies for any reason.
	go func() {
		<-sessCtx.Done()
		_ = conn.Close()
	}()

	a.enqueue(protocol.NewJoin(a.opts.Identity.Name, a.opts.Identity.Avatar, a.opts.Identity.AvatarColor))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		a.writePump(sessCtx, conn, outbound)
	}()

	a.readPump(sessCtx, conn)
	cancel()
	wg.Wait()
}

func (a *Agent) writePump(ctx context.Context, conn *websocket.Conn, outbound <-chan []byte) {
	heartbeat := time.NewTicker(a.opts.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case data := <-outbound:
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debug().Err(err).Str("module", "client.agent").Msg("write error")
				return
			}
		case <-heartbeat.C:
			data, err := protocol.Encode(protocol.NewPing())
			if err != nil {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
}

func (a *Agent) readPump(ctx context.Context, conn *websocket.Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			log.Debug().Err(err).Str("module", "client.agent").Msg("connection closed")
			return
		}
		a.apply(data)
	}
}

// apply folds one inbound frame into the mirror. Frames outside the
// closed server set are dropped, same policy as the hub.
func (a *Agent) apply(data []byte) {
	msg, err := protocol.DecodeServer(data)
	if err != nil {
		log.Debug().Err(err).Str("module", "client.agent").Msg("dropping frame")
		return
	}

	switch msg := msg.(type) {
	case protocol.Init:
		// Join ack: the snapshot is fully authoritative.
		a.mirror.Apply(msg)
		a.setState(StateJoined)
	case protocol.ErrorReply:
		log.Warn().Str("module", "client.agent").Str("message", msg.Message).Msg("hub error")
		if a.opts.OnError != nil {
			a.opts.OnError(msg.Message)
		}
	case protocol.Pong:
		// Liveness only, no state.
	default:
		a.mirror.Apply(msg)
	}
}

// Move reports a local movement sample. Sends are rate-bounded and
// below-threshold samples are suppressed entirely.
func (a *Agent) Move(pos domain.Vec3, rot float64) {
	a.mu.Lock()
	ok := a.throttle != nil && a.throttle.allow(pos, rot)
	a.mu.Unlock()
	if !ok {
		return
	}
	a.enqueue(protocol.NewMove(pos, rot))
}

// SendChat submits chat text; the hub's broadcast copy is canonical.
func (a *Agent) SendChat(text string) {
	a.enqueue(protocol.NewChat(text))
}

// SetMood proposes a room mood, last writer wins.
func (a *Agent) SetMood(mood domain.Mood) {
	a.enqueue(protocol.NewUpdateMood(mood))
}

func (a *Agent) enqueue(v any) {
	data, err := protocol.Encode(v)
	if err != nil {
		log.Error().Err(err).Str("module", "client.agent").Msg("encode outbound")
		return
	}
	a.mu.Lock()
	outbound := a.outbound
	a.mu.Unlock()
	if outbound == nil {
		return
	}
	select {
	case outbound <- data:
	default:
		log.Warn().Str("module", "client.agent").Msg("outbound buffer full, dropping")
	}
}
