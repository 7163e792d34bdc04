// Package hub owns live room session state. Each room is a serial
// actor: one goroutine consumes one inbound event channel, so room
// state needs no locks and every client observes mutations in the
// order the loop committed them.
package hub

import (
	"context"
	"math"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/moodroom/moodroom/internal/config"
	"github.com/moodroom/moodroom/internal/domain"
	"github.com/moodroom/moodroom/internal/protocol"
)

var spawnPosition = domain.Vec3{X: 0, Y: 0, Z: 0}

const spawnRotation = 0.0

type event interface{ event() }

type connectEvent struct {
	id   domain.PlayerID
	send chan []byte
}

type frameEvent struct {
	id   domain.PlayerID
	data []byte
}

type disconnectEvent struct {
	id domain.PlayerID
	// send identifies which connection generation is leaving; nil
	// means unconditional.
	send <-chan []byte
}

func (connectEvent) event()    {}
func (frameEvent) event()      {}
func (disconnectEvent) event() {}

// Room is the authoritative actor for one room. All fields below the
// inbound channel are owned by the run loop and never touched outside it.
type Room struct {
	id      domain.RoomID
	cfg     *config.Config
	ctx     context.Context
	cancel  context.CancelFunc
	inbound chan event
	onStop  func(domain.RoomID)

	conns      map[domain.PlayerID]chan []byte
	players    map[domain.PlayerID]*domain.Player
	mood       domain.Mood
	chat       []domain.ChatMessage
	emptySince time.Time

	connCount   atomic.Int64
	playerCount atomic.Int64
}

func NewRoom(parent context.Context, id domain.RoomID, cfg *config.Config, onStop func(domain.RoomID)) *Room {
	ctx, cancel := context.WithCancel(parent)
	return &Room{
		id:      id,
		cfg:     cfg,
		ctx:     ctx,
		cancel:  cancel,
		inbound: make(chan event, 256),
		onStop:  onStop,
		conns:   make(map[domain.PlayerID]chan []byte),
		players: make(map[domain.PlayerID]*domain.Player),
		mood:    domain.DefaultMood,
	}
}

func (r *Room) ID() domain.RoomID { return r.id }

// Info is safe to call from any goroutine.
func (r *Room) Info() RoomInfo {
	return RoomInfo{
		ID:          r.id,
		Players:     int(r.playerCount.Load()),
		Connections: int(r.connCount.Load()),
	}
}

type RoomInfo struct {
	ID          domain.RoomID `json:"id"`
	Players     int           `json:"players"`
	Connections int           `json:"connections"`
}

// Connect registers a connection identity with the room and returns
// the channel its write pump must drain. The channel is closed when
// the room drops the connection or shuts down.
func (r *Room) Connect(id domain.PlayerID) <-chan []byte {
	send := make(chan []byte, r.cfg.SendBuffer)
	select {
	case r.inbound <- connectEvent{id: id, send: send}:
	case <-r.ctx.Done():
		close(send)
	}
	return send
}

// Forward hands a raw inbound frame to the room loop.
func (r *Room) Forward(id domain.PlayerID, data []byte) {
	select {
	case r.inbound <- frameEvent{id: id, data: data}:
	case <-r.ctx.Done():
	}
}

// Disconnect runs the leave path for a connection. Safe to call more
// than once and for identities that never joined.
func (r *Room) Disconnect(id domain.PlayerID) {
	select {
	case r.inbound <- disconnectEvent{id: id}:
	case <-r.ctx.Done():
	}
}

// Leave is the pump-owned variant of Disconnect: it only tears the
// connection down while send is still the channel registered for id,
// so a stale pump cannot remove a replacement connection that reused
// the identity.
func (r *Room) Leave(id domain.PlayerID, send <-chan []byte) {
	select {
	case r.inbound <- disconnectEvent{id: id, send: send}:
	case <-r.ctx.Done():
	}
}

// Stop cancels the room; the run loop tears everything down.
func (r *Room) Stop() { r.cancel() }

// Run is the actor loop. It must be the only goroutine touching room state.
func (r *Room) Run() {
	sweep := time.NewTicker(r.cfg.SweepEvery)
	defer sweep.Stop()
	defer r.shutdown()

	log.Info().Str("module", "hub.room").Str("room", string(r.id)).Msg("room started")
	for {
		select {
		case <-r.ctx.Done():
			return
		case ev := <-r.inbound:
			r.dispatch(ev)
		case now := <-sweep.C:
			r.sweep(now)
		}
	}
}

func (r *Room) dispatch(ev event) {
	switch ev := ev.(type) {
	case connectEvent:
		r.handleConnect(ev.id, ev.send)
	case frameEvent:
		r.handleFrame(ev.id, ev.data)
	case disconnectEvent:
		r.handleDisconnect(ev)
	}
}

func (r *Room) handleConnect(id domain.PlayerID, send chan []byte) {
	if old, ok := r.conns[id]; ok {
		// Same identity reconnected before the old pump died.
		close(old)
		r.connCount.Add(-1)
	}
	r.conns[id] = send
	r.connCount.Add(1)
	r.emptySince = time.Time{}

	players := make([]domain.Player, 0, len(r.players))
	for _, p := range r.players {
		players = append(players, *p)
	}
	history := r.chat
	if n := r.cfg.InitChat; len(history) > n {
		history = history[len(history)-n:]
	}
	r.sendTo(id, protocol.NewInit(players, r.mood, history))
	log.Info().Str("module", "hub.room").Str("room", string(r.id)).Str("conn", string(id)).Msg("connection registered")
}

func (r *Room) handleFrame(id domain.PlayerID, data []byte) {
	msg, err := protocol.DecodeClient(data)
	if err != nil {
		// Malformed input is dropped, never escalated.
		log.Debug().Err(err).Str("module", "hub.room").Str("room", string(r.id)).Msg("dropping frame")
		return
	}

	switch msg := msg.(type) {
	case protocol.Join:
		r.handleJoin(id, msg)
	case protocol.Move:
		r.handleMove(id, msg)
	case protocol.Chat:
		r.handleChat(id, msg)
	case protocol.UpdateMood:
		r.handleMood(msg)
	case protocol.Ping:
		r.sendTo(id, protocol.NewPong())
	}
}

func (r *Room) handleJoin(id domain.PlayerID, msg protocol.Join) {
	if _, ok := r.players[id]; ok {
		return
	}
	if len(r.players) >= r.cfg.MaxPlayers {
		r.sendTo(id, protocol.NewErrorReply("room is full"))
		log.Info().Str("module", "hub.room").Str("room", string(r.id)).Str("conn", string(id)).Msg("join rejected, room full")
		return
	}

	name := msg.Name
	if name == "" {
		name = "guest"
	}
	p := &domain.Player{
		ID:          id,
		Name:        name,
		Avatar:      msg.Avatar,
		AvatarColor: msg.AvatarColor,
		Position:    spawnPosition,
		Rotation:    spawnRotation,
		IsActive:    true,
		LastActive:  time.Now(),
	}
	r.players[id] = p
	r.playerCount.Add(1)
	r.broadcast(protocol.NewPlayerJoined(*p), id)
	log.Info().Str("module", "hub.room").Str("room", string(r.id)).Str("player", string(id)).Str("name", name).Msg("player joined")
}

func (r *Room) handleMove(id domain.PlayerID, msg protocol.Move) {
	p, ok := r.players[id]
	if !ok {
		return
	}
	// Client positions are trusted as-is; only non-finite components
	// are held back so they cannot poison snapshots.
	p.Position = finiteVec(msg.Position, p.Position)
	if !math.IsNaN(msg.Rotation) && !math.IsInf(msg.Rotation, 0) {
		p.Rotation = msg.Rotation
	}
	p.IsActive = true
	p.LastActive = time.Now()
	r.broadcast(protocol.NewPlayerMoved(id, p.Position, p.Rotation), id)
}

func (r *Room) handleChat(id domain.PlayerID, msg protocol.Chat) {
	p, ok := r.players[id]
	if !ok {
		return
	}
	if msg.Text == "" || utf8.RuneCountInString(msg.Text) > domain.MaxChatLength {
		return
	}
	m := domain.NewChatMessage(id, p.Name, msg.Text, time.Now())
	r.chat = append(r.chat, m)
	if len(r.chat) > r.cfg.ChatHistory {
		r.chat = r.chat[len(r.chat)-r.cfg.ChatHistory:]
	}
	// Sender included: its UI must reflect the stored copy.
	r.broadcast(protocol.NewChatBroadcast(m), "")
}

func (r *Room) handleMood(msg protocol.UpdateMood) {
	r.mood = msg.Mood
	r.broadcast(protocol.NewMoodChange(r.mood), "")
}

func (r *Room) handleDisconnect(ev disconnectEvent) {
	id := ev.id
	send, ok := r.conns[id]
	if ok && ev.send != nil && send != ev.send {
		// Stale pump from a superseded connection; the identity now
		// belongs to a live replacement.
		return
	}
	if ok {
		delete(r.conns, id)
		close(send)
		r.connCount.Add(-1)
	}
	if _, joined := r.players[id]; joined {
		delete(r.players, id)
		r.playerCount.Add(-1)
		r.broadcast(protocol.NewPlayerLeft(id), id)
		log.Info().Str("module", "hub.room").Str("room", string(r.id)).Str("player", string(id)).Msg("player left")
	}
	if len(r.conns) == 0 && r.emptySince.IsZero() {
		r.emptySince = time.Now()
	}
}

// sweep marks idle players inactive without removing them, and retires
// the room once it has been empty past the grace period.
func (r *Room) sweep(now time.Time) {
	for _, p := range r.players {
		if p.IsActive && now.Sub(p.LastActive) > r.cfg.IdleWindow {
			p.IsActive = false
			log.Debug().Str("module", "hub.room").Str("room", string(r.id)).Str("player", string(p.ID)).Msg("player idle")
		}
	}
	if len(r.conns) == 0 && !r.emptySince.IsZero() && now.Sub(r.emptySince) > r.cfg.RoomGrace {
		log.Info().Str("module", "hub.room").Str("room", string(r.id)).Msg("room empty, stopping")
		r.cancel()
	}
}

// broadcast fans an encoded envelope out to every registered
// connection except the one named. Sends are fire-and-forget: a full
// send buffer drops the frame rather than stalling the loop.
func (r *Room) broadcast(v any, except domain.PlayerID) {
	data, err := protocol.Encode(v)
	if err != nil {
		log.Error().Err(err).Str("module", "hub.room").Str("room", string(r.id)).Msg("encode broadcast")
		return
	}
	for id, send := range r.conns {
		if id == except {
			continue
		}
		r.trySend(id, send, data)
	}
}

func (r *Room) sendTo(id domain.PlayerID, v any) {
	send, ok := r.conns[id]
	if !ok {
		return
	}
	data, err := protocol.Encode(v)
	if err != nil {
		log.Error().Err(err).Str("module", "hub.room").Str("room", string(r.id)).Msg("encode reply")
		return
	}
	r.trySend(id, send, data)
}

func (r *Room) trySend(id domain.PlayerID, send chan []byte, data []byte) {
	select {
	case send <- data:
	default:
		log.Warn().Str("module", "hub.room").Str("room", string(r.id)).Str("conn", string(id)).Msg("send buffer full, dropping frame")
	}
}

func (r *Room) shutdown() {
	// Drain queued events so a connect that raced the shutdown does not
	// leave its write pump blocked on an unclosed channel.
	for {
		select {
		case ev := <-r.inbound:
			if c, ok := ev.(connectEvent); ok {
				close(c.send)
			}
			continue
		default:
		}
		break
	}
	for id, send := range r.conns {
		close(send)
		delete(r.conns, id)
	}
	r.connCount.Store(0)
	r.players = make(map[domain.PlayerID]*domain.Player)
	r.playerCount.Store(0)
	if r.onStop != nil {
		r.onStop(r.id)
	}
	log.Info().Str("module", "hub.room").Str("room", string(r.id)).Msg("room stopped")
}

func finiteVec(next, prev domain.Vec3) domain.Vec3 {
	out := prev
	if finite(next.X) {
		out.X = next.X
	}
	if finite(next.Y) {
		out.Y = next.Y
	}
	if finite(next.Z) {
		out.Z = next.Z
	}
	return out
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
