// Package server implements the chat service: the rendezvous listener
// that admits users, the per-user session endpoints, and the registry
// that routes messages between them.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/parley-project/parley/internal/config"
	"github.com/parley-project/parley/internal/events"
	"github.com/parley-project/parley/internal/network"
	"github.com/parley-project/parley/internal/protocol"
	"github.com/parley-project/parley/internal/util"
)

// BaseRoom is the room every user starts in. It always exists and can
// never be deleted.
const BaseRoom = "general"

// ServerSender is the sender name on server-generated room messages
// such as join and leave announcements. Clients may not register it.
const ServerSender = "Server"

// Core is the chat registry. It owns the rendezvous socket, the session
// map and the room list, and implements Router for the sessions it
// creates.
type Core struct {
	cfg     *config.Config
	bus     *events.EventBus
	logger  zerolog.Logger
	limiter *rate.Limiter

	mu       sync.RWMutex
	sessions map[string]*Session
	rooms    []string

	conn    *net.UDPConn
	started time.Time
}

// NewCore creates a Core with only the base room.
func NewCore(cfg *config.Config, bus *events.EventBus) *Core {
	chat := cfg.GetChatData()

	var limiter *rate.Limiter
	if chat.HelloRatePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(chat.HelloRatePerSec), chat.HelloBurst)
	}

	return &Core{
		cfg:      cfg,
		bus:      bus,
		logger:   util.ComponentLogger("core"),
		limiter:  limiter,
		sessions: make(map[string]*Session),
		rooms:    []string{BaseRoom},
	}
}

// Listen binds the rendezvous socket. Split from Serve so callers can
// learn the bound address before traffic starts.
func (c *Core) Listen(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", c.cfg.GetChatData().RendezvousPort)

	lc := network.ReuseAddrListenConfig()
	pc, err := lc.ListenPacket(ctx, "udp4", addr)
	if err != nil {
		return fmt.Errorf("failed to bind rendezvous port %s: %w", addr, err)
	}

	c.conn = pc.(*net.UDPConn)
	c.started = time.Now()
	c.logger.Info().Str("addr", c.conn.LocalAddr().String()).Msg("rendezvous listener started")
	return nil
}

// Addr returns the bound rendezvous address. Only valid after Listen.
func (c *Core) Addr() *net.UDPAddr {
	return c.conn.LocalAddr().(*net.UDPAddr)
}

// Serve reads the rendezvous socket until the context is cancelled.
// Only HELLO packets are meaningful here; everything else is dropped.
func (c *Core) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		c.conn.Close()
	}()

	buf := make([]byte, protocol.MaxDatagramSize)
	for {
		n, remote, err := c.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				c.logger.Info().Msg("rendezvous listener stopping")
				return nil
			}
			c.logger.Error().Err(err).Msg("rendezvous read failed")
			continue
		}

		if c.limiter != nil && !c.limiter.Allow() {
			c.logger.Warn().Str("remote", remote.String()).Msg("join request dropped by rate limiter")
			continue
		}

		pkt, err := protocol.DecodeServerBound(buf[:n])
		if err != nil {
			c.logger.Warn().Err(err).Str("remote", remote.String()).Msg("dropping malformed datagram on rendezvous port")
			continue
		}

		hello, ok := pkt.(*protocol.Hello)
		if !ok {
			c.logger.Warn().
				Str("type", pkt.Type().String()).
				Str("remote", remote.String()).
				Msg("non-HELLO packet on rendezvous port, ignoring")
			continue
		}

		c.handleHello(ctx, remote, hello.Name)
	}
}

// Start is Listen followed by Serve.
func (c *Core) Start(ctx context.Context) error {
	if err := c.Listen(ctx); err != nil {
		return err
	}
	return c.Serve(ctx)
}

func (c *Core) handleHello(ctx context.Context, remote *net.UDPAddr, name string) {
	if !c.nameAcceptable(name) {
		c.logger.Info().Str("user", name).Str("remote", remote.String()).Msg("rejecting join, unacceptable name")
		c.replyNameTaken(remote)
		c.bus.Emit(ctx, events.Event{
			Type:    events.EventNameRejected,
			Source:  "core",
			Payload: events.RejectPayload{Name: name, Remote: remote.String()},
		})
		return
	}

	c.mu.Lock()
	if _, exists := c.sessions[name]; exists {
		c.mu.Unlock()
		c.logger.Info().Str("user", name).Str("remote", remote.String()).Msg("rejecting join, name already taken")
		c.replyNameTaken(remote)
		c.bus.Emit(ctx, events.Event{
			Type:    events.EventNameRejected,
			Source:  "core",
			Payload: events.RejectPayload{Name: name, Remote: remote.String()},
		})
		return
	}

	sess, err := NewSession(name, BaseRoom, c.cfg.SessionTimeout(), c, c.bus, func() { c.remove(name) })
	if err != nil {
		c.mu.Unlock()
		c.logger.Error().Err(err).Str("user", name).Msg("failed to create session endpoint")
		return
	}
	c.sessions[name] = sess
	c.mu.Unlock()

	sess.Start(ctx)

	c.logger.Info().
		Str("user", name).
		Int("session_port", sess.Port()).
		Str("remote", remote.String()).
		Msg("user joined")

	data, err := protocol.BuildPort(sess.Port())
	if err != nil {
		c.logger.Error().Err(err).Str("user", name).Msg("failed to encode port reply")
		return
	}
	if _, err := c.conn.WriteToUDP(data, remote); err != nil {
		c.logger.Warn().Err(err).Str("user", name).Msg("failed to send port reply")
	}

	// The newcomer receives its own initial state once its first
	// heartbeat lands; established sessions get the refresh now.
	c.pushUserList(sess)

	c.bus.Emit(ctx, events.Event{
		Type:    events.EventSessionJoined,
		Source:  "core",
		Payload: events.SessionPayload{Name: name, Port: sess.Port(), Room: BaseRoom},
	})
}

// nameAcceptable enforces the registration rules: non-empty, within the
// length limit, no commas (the user list separator), and not the
// reserved server name.
func (c *Core) nameAcceptable(name string) bool {
	if name == "" || name == ServerSender {
		return false
	}
	if max := c.cfg.GetChatData().MaxNameLength; max > 0 && len(name) > max {
		return false
	}
	for _, r := range name {
		if r == ',' {
			return false
		}
	}
	return true
}

func (c *Core) replyNameTaken(remote *net.UDPAddr) {
	data, err := protocol.BuildNameTaken()
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to encode rejection")
		return
	}
	if _, err := c.conn.WriteToUDP(data, remote); err != nil {
		c.logger.Warn().Err(err).Msg("failed to send rejection")
	}
}

// remove drops a session from the registry after its goroutine exits
// and refreshes everyone's user list.
func (c *Core) remove(name string) {
	c.mu.Lock()
	_, present := c.sessions[name]
	delete(c.sessions, name)
	c.mu.Unlock()

	if !present {
		return
	}
	c.logger.Info().Str("user", name).Msg("session removed")
	c.pushUserList(nil)
}

// pushUserList sends the current user list to every active session
// except the given one.
func (c *Core) pushUserList(except *Session) {
	data, err := protocol.BuildUserList(c.ListUsers())
	if err != nil {
		c.logger.Warn().Err(err).Msg("failed to encode user list")
		return
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.sessions {
		if s == except {
			continue
		}
		s.Send(data)
	}
}

// pushRoomList sends the current room list to every active session.
func (c *Core) pushRoomList() {
	data, err := protocol.BuildRoomList(c.ListRooms())
	if err != nil {
		c.logger.Warn().Err(err).Msg("failed to encode room list")
		return
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.sessions {
		s.Send(data)
	}
}

// Broadcast sends a message to every active session, the sender
// included.
func (c *Core) Broadcast(message string) {
	data, err := protocol.BuildBroadcast(message)
	if err != nil {
		c.logger.Warn().Err(err).Msg("failed to encode broadcast")
		return
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.sessions {
		s.Send(data)
	}
}

// SendPrivate delivers a message to the named recipient. The recipient
// is what gets validated; the sender already proved itself by owning a
// session.
func (c *Core) SendPrivate(sender, recipient, message string) error {
	c.mu.RLock()
	sess, ok := c.sessions[recipient]
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSuchUser, recipient)
	}

	data, err := protocol.BuildPrivate(sender, message)
	if err != nil {
		return fmt.Errorf("failed to encode private message: %w", err)
	}
	sess.Send(data)
	return nil
}

// ListUsers returns the registered user names, sorted.
func (c *Core) ListUsers() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.sessions))
	for name := range c.sessions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ListRooms returns the rooms in creation order, base room first.
func (c *Core) ListRooms() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rooms := make([]string, len(c.rooms))
	copy(rooms, c.rooms)
	return rooms
}

func (c *Core) roomExistsLocked(name string) bool {
	for _, r := range c.rooms {
		if r == name {
			return true
		}
	}
	return false
}

// CreateRoom adds a room. Creation does not move anyone into it.
func (c *Core) CreateRoom(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrNoSuchRoom)
	}

	c.mu.Lock()
	if c.roomExistsLocked(name) {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrRoomExists, name)
	}
	c.rooms = append(c.rooms, name)
	c.mu.Unlock()

	c.logger.Info().Str("room", name).Msg("room created")
	c.pushRoomList()
	c.bus.Emit(context.Background(), events.Event{
		Type:    events.EventRoomCreated,
		Source:  "core",
		Payload: events.RoomPayload{Room: name},
	})
	return nil
}

// DeleteRoom removes a room, first moving its members back to the base
// room. The base room itself is protected.
func (c *Core) DeleteRoom(name string) error {
	if name == BaseRoom {
		return ErrBaseRoom
	}

	c.mu.RLock()
	if !c.roomExistsLocked(name) {
		c.mu.RUnlock()
		return fmt.Errorf("%w: %s", ErrNoSuchRoom, name)
	}
	var members []string
	for _, s := range c.sessions {
		if s.CurrentRoom() == name {
			members = append(members, s.Name())
		}
	}
	c.mu.RUnlock()

	for _, user := range members {
		if err := c.SwitchRoom(user, BaseRoom); err != nil {
			c.logger.Warn().Err(err).Str("user", user).Msg("failed to evict user from deleted room")
		}
	}

	c.mu.Lock()
	for i, r := range c.rooms {
		if r == name {
			c.rooms = append(c.rooms[:i], c.rooms[i+1:]...)
			break
		}
	}
	c.mu.Unlock()

	c.logger.Info().Str("room", name).Int("evicted", len(members)).Msg("room deleted")
	c.pushRoomList()
	c.bus.Emit(context.Background(), events.Event{
		Type:    events.EventRoomDeleted,
		Source:  "core",
		Payload: events.RoomPayload{Room: name},
	})
	return nil
}

// SendRoomMessage delivers a message to every active session in the
// room except the sender, who already sees it locally. Unknown rooms
// are a silent no-op.
func (c *Core) SendRoomMessage(sender, room, message string) {
	c.mu.RLock()
	if !c.roomExistsLocked(room) {
		c.mu.RUnlock()
		return
	}
	var targets []*Session
	for _, s := range c.sessions {
		if s.Name() == sender {
			continue
		}
		if s.CurrentRoom() == room {
			targets = append(targets, s)
		}
	}
	c.mu.RUnlock()

	data, err := protocol.BuildRoomMessageDelivery(sender, message)
	if err != nil {
		c.logger.Warn().Err(err).Str("room", room).Msg("failed to encode room message")
		return
	}
	for _, t := range targets {
		t.Send(data)
	}
}

// SwitchRoom moves a user to another room: the old room hears the
// departure, the user gets the switch confirmation, the new room hears
// the arrival, in that order.
func (c *Core) SwitchRoom(user, room string) error {
	c.mu.RLock()
	sess, ok := c.sessions[user]
	exists := c.roomExistsLocked(room)
	c.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSuchUser, user)
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrNoSuchRoom, room)
	}

	old := sess.CurrentRoom()
	c.SendRoomMessage(ServerSender, old, fmt.Sprintf("%s left this room", user))

	sess.SetRoom(room)
	if data, err := protocol.BuildRoomSwitch(room); err == nil {
		sess.Send(data)
	} else {
		c.logger.Warn().Err(err).Str("user", user).Msg("failed to encode switch confirmation")
	}

	c.SendRoomMessage(ServerSender, room, fmt.Sprintf("%s joined this room", user))

	c.logger.Info().Str("user", user).Str("from", old).Str("to", room).Msg("room switched")
	c.bus.Emit(context.Background(), events.Event{
		Type:    events.EventRoomSwitched,
		Source:  "core",
		Payload: events.RoomPayload{Room: room, Actor: user, From: old},
	})
	return nil
}

// SessionInfo is a read-only view of a session for the admin API.
type SessionInfo struct {
	Name  string `json:"name"`
	Port  int    `json:"port"`
	Room  string `json:"room"`
	State string `json:"state"`
	Peer  string `json:"peer,omitempty"`
}

// Sessions returns a snapshot of all sessions, sorted by name.
func (c *Core) Sessions() []SessionInfo {
	c.mu.RLock()
	infos := make([]SessionInfo, 0, len(c.sessions))
	for _, s := range c.sessions {
		infos = append(infos, SessionInfo{
			Name:  s.Name(),
			Port:  s.Port(),
			Room:  s.CurrentRoom(),
			State: s.State().String(),
			Peer:  s.Peer(),
		})
	}
	c.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// SessionCount returns the number of registered sessions.
func (c *Core) SessionCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sessions)
}

// Uptime reports how long the rendezvous listener has been up.
func (c *Core) Uptime() time.Duration {
	if c.started.IsZero() {
		return 0
	}
	return time.Since(c.started)
}
