// Package client implements the interactive chat client: the join
// handshake, the heartbeat and receive loops, and the command line the
// user types into.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/parley-project/parley/internal/protocol"
	"github.com/parley-project/parley/internal/util"
)

// ErrNameTaken is returned by Join when the server rejects the chosen
// username.
var ErrNameTaken = errors.New("name already taken")

const joinTimeout = 5 * time.Second

// Client is a chat client for one user. Join establishes the session,
// Run drives it until the user quits or the context is cancelled.
type Client struct {
	name      string
	server    *net.UDPAddr
	heartbeat time.Duration

	conn    *net.UDPConn
	session *net.UDPAddr

	state  *mirror
	out    io.Writer
	outMu  sync.Mutex
	logger zerolog.Logger
}

// New creates a client for the given user against a rendezvous address.
// Chat output is written to out; log lines go through zerolog.
func New(name string, server *net.UDPAddr, heartbeat time.Duration, out io.Writer) *Client {
	return &Client{
		name:      name,
		server:    server,
		heartbeat: heartbeat,
		state:     newMirror(),
		out:       out,
		logger:    util.ComponentLogger("client").With().Str("user", name).Logger(),
	}
}

// State returns the current mirrored server state.
func (c *Client) State() Snapshot {
	return c.state.load()
}

// Join performs the rendezvous handshake: HELLO out, PORT or rejection
// back. On success the client knows its dedicated session endpoint but
// is not live until Run sends the first heartbeat.
func (c *Client) Join(ctx context.Context) error {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		return fmt.Errorf("failed to bind local socket: %w", err)
	}
	c.conn = conn

	hello, err := protocol.BuildHello(c.name)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to encode join request: %w", err)
	}
	if _, err := conn.WriteToUDP(hello, c.server); err != nil {
		conn.Close()
		return fmt.Errorf("failed to send join request: %w", err)
	}

	deadline := time.Now().Add(joinTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetReadDeadline(deadline)

	buf := make([]byte, protocol.MaxDatagramSize)
	n, _, err := conn.ReadFromUDP(buf)
	if err != nil {
		conn.Close()
		return fmt.Errorf("no reply from server at %s: %w", c.server, err)
	}
	conn.SetReadDeadline(time.Time{})

	pkt, err := protocol.DecodeClientBound(buf[:n])
	if err != nil {
		conn.Close()
		return fmt.Errorf("unreadable reply from server: %w", err)
	}

	switch p := pkt.(type) {
	case *protocol.PortReply:
		c.session = &net.UDPAddr{IP: c.server.IP, Port: int(p.Port)}
		c.logger.Info().Int("session_port", int(p.Port)).Msg("joined")
		return nil
	case *protocol.NameTaken:
		conn.Close()
		return ErrNameTaken
	default:
		conn.Close()
		return fmt.Errorf("unexpected reply to join request: %s", pkt.Type())
	}
}

// Run drives the session: a heartbeat ticker, the receive loop, and the
// interactive command loop reading from in. It returns when the user
// quits, in reaches EOF, or the context is cancelled.
func (c *Client) Run(ctx context.Context, in io.Reader) error {
	if c.session == nil {
		return errors.New("not joined")
	}
	defer c.conn.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.heartbeatLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		c.recvLoop(ctx)
	}()

	err := c.commandLoop(ctx, in)

	cancel()
	c.conn.Close()
	wg.Wait()
	return err
}

// heartbeatLoop announces liveness. The first beat is sent immediately:
// it is what teaches the server this client's address.
func (c *Client) heartbeatLoop(ctx context.Context) {
	beat, err := protocol.BuildHeartbeat()
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to encode heartbeat")
		return
	}

	send := func() {
		if _, err := c.conn.WriteToUDP(beat, c.session); err != nil {
			c.logger.Warn().Err(err).Msg("heartbeat send failed")
		}
	}
	send()

	ticker := time.NewTicker(c.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			send()
		}
	}
}

func (c *Client) recvLoop(ctx context.Context) {
	buf := make([]byte, protocol.MaxDatagramSize)
	for {
		n, _, err := c.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				c.logger.Warn().Err(err).Msg("receive failed")
			}
			return
		}

		pkt, err := protocol.DecodeClientBound(buf[:n])
		if err != nil {
			c.logger.Warn().Err(err).Msg("dropping malformed packet")
			continue
		}
		c.handlePacket(pkt)
	}
}

func (c *Client) handlePacket(pkt protocol.Packet) {
	switch p := pkt.(type) {
	case *protocol.Broadcast:
		c.printf("[Broadcast] %s", p.Message)
	case *protocol.PrivateDelivery:
		c.printf("[%s -> You]: %s", p.Sender, p.Message)
	case *protocol.RoomMessageDelivery:
		c.printf("[%s]: %s", p.Sender, p.Message)
	case *protocol.UserList:
		c.state.setUsers(p.Names)
	case *protocol.RoomList:
		c.state.setRooms(p.Names)
	case *protocol.RoomSwitch:
		c.state.setCurrentRoom(p.Room)
		c.printf("-- now in room '%s'", p.Room)
	default:
		c.logger.Warn().Str("type", pkt.Type().String()).Msg("unexpected packet from server")
	}
}

func (c *Client) commandLoop(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := scanner.Text()
		if line == "" {
			continue
		}
		if quit := c.handleLine(line); quit {
			return nil
		}
	}
	return scanner.Err()
}

// send encodes and ships a packet to the session endpoint.
func (c *Client) send(data []byte, err error) {
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to encode packet")
		c.printf("!! message too long, not sent")
		return
	}
	if _, err := c.conn.WriteToUDP(data, c.session); err != nil {
		c.logger.Warn().Err(err).Msg("send failed")
	}
}

// printf writes a chat line. Serialized so the receive loop and the
// command loop never interleave partial lines.
func (c *Client) printf(format string, args ...interface{}) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	fmt.Fprintf(c.out, format+"\n", args...)
}
