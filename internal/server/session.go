package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/parley-project/parley/internal/events"
	"github.com/parley-project/parley/internal/protocol"
	"github.com/parley-project/parley/internal/util"
)

// SessionState tracks where a session is in its lifecycle.
type SessionState int32

const (
	// StateJoined means the HELLO was accepted and the endpoint is bound,
	// but the session goroutine has not started reading yet.
	StateJoined SessionState = iota
	// StateAwaitingHeartbeat means the endpoint is reading but the peer
	// address is still unknown; nothing can be sent to the client yet.
	StateAwaitingHeartbeat
	// StateActive means the first heartbeat arrived and two-way traffic
	// is possible.
	StateActive
	// StateTimedOut means the liveness deadline expired.
	StateTimedOut
	// StateClosed means the session was shut down by the server.
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateJoined:
		return "joined"
	case StateAwaitingHeartbeat:
		return "awaiting_heartbeat"
	case StateActive:
		return "active"
	case StateTimedOut:
		return "timed_out"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// Router is the routing surface a session dispatches decoded packets
// into. The registry implements it; sessions never talk to each other
// directly.
type Router interface {
	Broadcast(message string)
	SendPrivate(sender, recipient, message string) error
	ListUsers() []string
	ListRooms() []string
	CreateRoom(name string) error
	DeleteRoom(name string) error
	SendRoomMessage(sender, room, message string)
	SwitchRoom(user, room string) error
}

// Session owns one user's dedicated UDP endpoint. A single goroutine
// reads from the socket; every read arms a fresh deadline, so the
// deadline doubles as the liveness timer.
type Session struct {
	name    string
	port    int
	timeout time.Duration
	router  Router
	bus     *events.EventBus
	onClose func()
	conn    *net.UDPConn
	logger  zerolog.Logger

	mu    sync.Mutex
	peer  *net.UDPAddr
	room  string
	state SessionState
}

// NewSession binds an ephemeral UDP endpoint for the named user. The
// onClose hook runs exactly once, after the session goroutine exits for
// any reason.
func NewSession(name, room string, timeout time.Duration, router Router, bus *events.EventBus, onClose func()) (*Session, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		return nil, fmt.Errorf("failed to bind session endpoint: %w", err)
	}

	s := &Session{
		name:    name,
		port:    conn.LocalAddr().(*net.UDPAddr).Port,
		timeout: timeout,
		router:  router,
		bus:     bus,
		onClose: onClose,
		conn:    conn,
		room:    room,
		state:   StateJoined,
	}
	s.logger = util.ComponentLogger("session").With().Str("user", name).Int("port", s.port).Logger()
	return s, nil
}

// Name returns the user this session belongs to.
func (s *Session) Name() string { return s.name }

// Port returns the endpoint port announced to the client.
func (s *Session) Port() int { return s.port }

// CurrentRoom returns the room the user is in.
func (s *Session) CurrentRoom() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}

// SetRoom moves the session to another room. Announcements are the
// router's job.
func (s *Session) SetRoom(room string) {
	s.mu.Lock()
	s.room = room
	s.mu.Unlock()
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Peer returns the client address learned from the first heartbeat, or
// an empty string while the session is still awaiting it.
func (s *Session) Peer() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.peer == nil {
		return ""
	}
	return s.peer.String()
}

func (s *Session) setState(st SessionState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Start launches the session goroutine.
func (s *Session) Start(ctx context.Context) {
	s.setState(StateAwaitingHeartbeat)
	go s.recvLoop(ctx)
}

func (s *Session) recvLoop(ctx context.Context) {
	defer s.onClose()
	defer s.conn.Close()

	buf := make([]byte, protocol.MaxDatagramSize)
	for {
		select {
		case <-ctx.Done():
			s.close(ctx)
			return
		default:
		}

		s.conn.SetReadDeadline(time.Now().Add(s.timeout))
		n, remote, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				s.logger.Info().Dur("timeout", s.timeout).Msg("liveness deadline expired, tearing down session")
				s.setState(StateTimedOut)
				s.bus.Emit(ctx, events.Event{
					Type:    events.EventSessionTimedOut,
					Source:  "session",
					Payload: events.SessionPayload{Name: s.name, Port: s.port, Room: s.CurrentRoom()},
				})
				return
			}
			s.logger.Warn().Err(err).Msg("session endpoint read failed, closing")
			s.close(ctx)
			return
		}

		pkt, err := protocol.DecodeServerBound(buf[:n])
		if err != nil {
			s.logger.Warn().Err(err).Str("remote", remote.String()).Msg("dropping malformed packet")
			continue
		}
		s.handlePacket(ctx, pkt, remote)
	}
}

func (s *Session) close(ctx context.Context) {
	s.setState(StateClosed)
	s.bus.Emit(ctx, events.Event{
		Type:    events.EventSessionClosed,
		Source:  "session",
		Payload: events.SessionPayload{Name: s.name, Port: s.port, Room: s.CurrentRoom()},
	})
}

func (s *Session) handlePacket(ctx context.Context, pkt protocol.Packet, remote *net.UDPAddr) {
	switch p := pkt.(type) {
	case *protocol.Heartbeat:
		s.heartbeat(ctx, remote)
	case *protocol.Broadcast:
		s.router.Broadcast(p.Message)
	case *protocol.PrivateSend:
		if err := s.router.SendPrivate(s.name, p.Recipient, p.Message); err != nil {
			s.logger.Warn().Err(err).Str("recipient", p.Recipient).Msg("private message undeliverable")
		}
	case *protocol.RoomMessageSend:
		s.router.SendRoomMessage(s.name, s.CurrentRoom(), p.Message)
	case *protocol.RoomSwitch:
		if err := s.router.SwitchRoom(s.name, p.Room); err != nil {
			s.logger.Warn().Err(err).Str("room", p.Room).Msg("room switch rejected")
		}
	case *protocol.CreateRoom:
		if err := s.router.CreateRoom(p.Room); err != nil {
			s.logger.Warn().Err(err).Str("room", p.Room).Msg("room creation rejected")
		}
	case *protocol.DeleteRoom:
		if err := s.router.DeleteRoom(p.Room); err != nil {
			s.logger.Warn().Err(err).Str("room", p.Room).Msg("room deletion rejected")
		}
	default:
		s.logger.Warn().Str("type", pkt.Type().String()).Msg("unexpected packet type on session endpoint")
	}
}

// heartbeat refreshes liveness. The first one also fixes the peer
// address and triggers the initial state push.
func (s *Session) heartbeat(ctx context.Context, remote *net.UDPAddr) {
	s.mu.Lock()
	if s.state == StateActive {
		// Liveness only; the read deadline has already been re-armed.
		s.mu.Unlock()
		return
	}
	s.peer = remote
	s.state = StateActive
	room := s.room
	s.mu.Unlock()

	s.logger.Info().Str("peer", remote.String()).Msg("session activated by first heartbeat")

	s.pushBuilt(protocol.BuildUserList(s.router.ListUsers()))
	s.pushBuilt(protocol.BuildRoomList(s.router.ListRooms()))
	s.pushBuilt(protocol.BuildRoomSwitch(room))

	s.bus.Emit(ctx, events.Event{
		Type:    events.EventSessionActive,
		Source:  "session",
		Payload: events.SessionPayload{Name: s.name, Port: s.port, Room: room},
	})
}

func (s *Session) pushBuilt(data []byte, err error) {
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to encode state push")
		return
	}
	s.Send(data)
}

// Send delivers a datagram to the client, best effort. It is a no-op
// until the first heartbeat has fixed the peer address.
func (s *Session) Send(data []byte) {
	s.mu.Lock()
	peer := s.peer
	active := s.state == StateActive
	s.mu.Unlock()

	if !active || peer == nil {
		return
	}
	if _, err := s.conn.WriteToUDP(data, peer); err != nil {
		s.logger.Warn().Err(err).Msg("send to client failed")
	}
}
