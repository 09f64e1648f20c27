package server

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/parley-project/parley/internal/config"
	"github.com/parley-project/parley/internal/events"
	"github.com/parley-project/parley/internal/protocol"
)

func testConfig(timeoutMS int) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Chat.RendezvousPort = 0
	cfg.Chat.SessionTimeoutMS = timeoutMS
	cfg.Chat.HelloRatePerSec = 0
	return cfg
}

func startCore(t *testing.T, timeoutMS int, bus *events.EventBus) *Core {
	t.Helper()

	if bus == nil {
		bus = events.NewEventBus()
	}
	core := NewCore(testConfig(timeoutMS), bus)

	ctx, cancel := context.WithCancel(context.Background())
	if err := core.Listen(ctx); err != nil {
		t.Fatalf("Listen() failed: %v", err)
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		core.Serve(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		<-done
	})
	return core
}

// testClient drives the wire protocol from a single UDP socket, the way
// a real client does: HELLO to the rendezvous port, everything else to
// the session port it was assigned.
type testClient struct {
	t           *testing.T
	name        string
	conn        *net.UDPConn
	sessionPort int
}

func dialClient(t *testing.T, name string) *testClient {
	t.Helper()

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		t.Fatalf("failed to bind client socket: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return &testClient{t: t, name: name, conn: conn}
}

func (c *testClient) join(core *Core) protocol.Packet {
	c.t.Helper()

	addr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: core.Addr().Port}
	data, err := protocol.BuildHello(c.name)
	if err != nil {
		c.t.Fatalf("failed to build HELLO: %v", err)
	}
	if _, err := c.conn.WriteToUDP(data, addr); err != nil {
		c.t.Fatalf("failed to send HELLO: %v", err)
	}

	pkt := c.read()
	if reply, ok := pkt.(*protocol.PortReply); ok {
		c.sessionPort = int(reply.Port)
	}
	return pkt
}

func (c *testClient) send(data []byte, err error) {
	c.t.Helper()

	if err != nil {
		c.t.Fatalf("failed to build packet: %v", err)
	}
	addr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: c.sessionPort}
	if _, err := c.conn.WriteToUDP(data, addr); err != nil {
		c.t.Fatalf("failed to send packet: %v", err)
	}
}

func (c *testClient) read() protocol.Packet {
	c.t.Helper()

	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, protocol.MaxDatagramSize)
	n, _, err := c.conn.ReadFromUDP(buf)
	if err != nil {
		c.t.Fatalf("%s: read failed: %v", c.name, err)
	}
	pkt, err := protocol.DecodeClientBound(buf[:n])
	if err != nil {
		c.t.Fatalf("%s: decode failed: %v", c.name, err)
	}
	return pkt
}

func (c *testClient) expectSilence(d time.Duration) {
	c.t.Helper()

	c.conn.SetReadDeadline(time.Now().Add(d))
	buf := make([]byte, protocol.MaxDatagramSize)
	n, _, err := c.conn.ReadFromUDP(buf)
	if err == nil {
		c.t.Fatalf("%s: expected no traffic, got %d bytes: %x", c.name, n, buf[:n])
	}
	if netErr, ok := err.(net.Error); !ok || !netErr.Timeout() {
		c.t.Fatalf("%s: expected read timeout, got %v", c.name, err)
	}
}

// activate sends the first heartbeat and consumes the three-packet
// initial state push, returning the user list it carried.
func (c *testClient) activate() []string {
	c.t.Helper()

	c.send(protocol.BuildHeartbeat())

	users, ok := c.read().(*protocol.UserList)
	if !ok {
		c.t.Fatalf("%s: first push was not USER_LIST", c.name)
	}
	if _, ok := c.read().(*protocol.RoomList); !ok {
		c.t.Fatalf("%s: second push was not ROOM_LIST", c.name)
	}
	sw, ok := c.read().(*protocol.RoomSwitch)
	if !ok {
		c.t.Fatalf("%s: third push was not ROOM_SWITCH", c.name)
	}
	if sw.Room != BaseRoom {
		c.t.Fatalf("%s: starting room = %q, want %q", c.name, sw.Room, BaseRoom)
	}
	return users.Names
}

func (c *testClient) expectUserList(want []string) {
	c.t.Helper()

	pkt, ok := c.read().(*protocol.UserList)
	if !ok {
		c.t.Fatalf("%s: expected USER_LIST", c.name)
	}
	assertNames(c.t, c.name, pkt.Names, want)
}

func (c *testClient) expectRoomList(want []string) {
	c.t.Helper()

	pkt, ok := c.read().(*protocol.RoomList)
	if !ok {
		c.t.Fatalf("%s: expected ROOM_LIST", c.name)
	}
	assertNames(c.t, c.name, pkt.Names, want)
}

func (c *testClient) expectRoomMessage(sender, message string) {
	c.t.Helper()

	pkt, ok := c.read().(*protocol.RoomMessageDelivery)
	if !ok {
		c.t.Fatalf("%s: expected ROOM_MESSAGE", c.name)
	}
	if pkt.Sender != sender || pkt.Message != message {
		c.t.Fatalf("%s: room message = (%q, %q), want (%q, %q)", c.name, pkt.Sender, pkt.Message, sender, message)
	}
}

func (c *testClient) expectRoomSwitch(room string) {
	c.t.Helper()

	pkt, ok := c.read().(*protocol.RoomSwitch)
	if !ok {
		c.t.Fatalf("%s: expected ROOM_SWITCH", c.name)
	}
	if pkt.Room != room {
		c.t.Fatalf("%s: switched to %q, want %q", c.name, pkt.Room, room)
	}
}

func assertNames(t *testing.T, who string, got, want []string) {
	t.Helper()

	if len(got) != len(want) {
		t.Fatalf("%s: names = %v, want %v", who, got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("%s: names = %v, want %v", who, got, want)
		}
	}
}

func TestJoinAssignsSessionPort(t *testing.T) {
	core := startCore(t, 2000, nil)

	alice := dialClient(t, "alice")
	reply, ok := alice.join(core).(*protocol.PortReply)
	if !ok {
		t.Fatal("expected PORT reply to HELLO")
	}
	if reply.Port <= 0 {
		t.Fatalf("session port = %d, want > 0", reply.Port)
	}
	if reply.Port == int32(core.Addr().Port) {
		t.Fatal("session port must differ from the rendezvous port")
	}
	if core.SessionCount() != 1 {
		t.Fatalf("SessionCount() = %d, want 1", core.SessionCount())
	}
}

func TestDuplicateNameRejected(t *testing.T) {
	core := startCore(t, 2000, nil)

	first := dialClient(t, "alice")
	if _, ok := first.join(core).(*protocol.PortReply); !ok {
		t.Fatal("first join should succeed")
	}

	second := dialClient(t, "alice")
	if _, ok := second.join(core).(*protocol.NameTaken); !ok {
		t.Fatal("second join with the same name should be rejected")
	}
	if core.SessionCount() != 1 {
		t.Fatalf("SessionCount() = %d, want 1", core.SessionCount())
	}
}

func TestUnacceptableNamesRejected(t *testing.T) {
	core := startCore(t, 2000, nil)

	tests := []struct {
		label string
		name  string
	}{
		{"empty", ""},
		{"too long", "abcdefghijklmnopqrstuvwxyz0123456789"},
		{"contains comma", "al,ice"},
		{"reserved", ServerSender},
	}
	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			c := dialClient(t, tt.name)
			if _, ok := c.join(core).(*protocol.NameTaken); !ok {
				t.Fatalf("join with %s name should be rejected", tt.label)
			}
		})
	}
	if core.SessionCount() != 0 {
		t.Fatalf("SessionCount() = %d, want 0", core.SessionCount())
	}
}

func TestFirstHeartbeatPushesInitialState(t *testing.T) {
	core := startCore(t, 2000, nil)

	alice := dialClient(t, "alice")
	alice.join(core)
	users := alice.activate()
	assertNames(t, "alice", users, []string{"alice"})
}

func TestJoinRefreshesEstablishedSessions(t *testing.T) {
	core := startCore(t, 2000, nil)

	alice := dialClient(t, "alice")
	alice.join(core)
	alice.activate()

	bob := dialClient(t, "bob")
	bob.join(core)

	// Alice hears about bob immediately; bob's own state arrives with
	// his first heartbeat.
	alice.expectUserList([]string{"alice", "bob"})
	users := bob.activate()
	assertNames(t, "bob", users, []string{"alice", "bob"})
}

func TestBroadcastReachesEveryone(t *testing.T) {
	core := startCore(t, 2000, nil)

	alice := dialClient(t, "alice")
	alice.join(core)
	alice.activate()

	bob := dialClient(t, "bob")
	bob.join(core)
	alice.expectUserList([]string{"alice", "bob"})
	bob.activate()

	alice.send(protocol.BuildBroadcast("hello all"))

	for _, c := range []*testClient{alice, bob} {
		pkt, ok := c.read().(*protocol.Broadcast)
		if !ok {
			t.Fatalf("%s: expected BROADCAST", c.name)
		}
		if pkt.Message != "hello all" {
			t.Fatalf("%s: message = %q", c.name, pkt.Message)
		}
	}
}

func TestPrivateDeliveredToRecipientOnly(t *testing.T) {
	core := startCore(t, 2000, nil)

	alice := dialClient(t, "alice")
	alice.join(core)
	alice.activate()

	bob := dialClient(t, "bob")
	bob.join(core)
	alice.expectUserList([]string{"alice", "bob"})
	bob.activate()

	alice.send(protocol.BuildPrivate("bob", "psst"))

	pkt, ok := bob.read().(*protocol.PrivateDelivery)
	if !ok {
		t.Fatal("bob: expected PRIVATE delivery")
	}
	if pkt.Sender != "alice" || pkt.Message != "psst" {
		t.Fatalf("bob: delivery = (%q, %q), want (alice, psst)", pkt.Sender, pkt.Message)
	}
	alice.expectSilence(200 * time.Millisecond)
}

func TestPrivateToUnknownUserIsDropped(t *testing.T) {
	core := startCore(t, 2000, nil)

	alice := dialClient(t, "alice")
	alice.join(core)
	alice.activate()

	alice.send(protocol.BuildPrivate("nobody", "anyone there?"))
	alice.expectSilence(200 * time.Millisecond)

	// The failed delivery must not affect the sender's session.
	alice.send(protocol.BuildBroadcast("still here"))
	if _, ok := alice.read().(*protocol.Broadcast); !ok {
		t.Fatal("alice: session should survive a failed private delivery")
	}
}

func TestRouterRoomErrors(t *testing.T) {
	core := NewCore(testConfig(2000), events.NewEventBus())

	if err := core.CreateRoom("dev"); err != nil {
		t.Fatalf("CreateRoom(dev) failed: %v", err)
	}
	if err := core.CreateRoom("dev"); err == nil {
		t.Fatal("duplicate CreateRoom should fail")
	}
	if err := core.DeleteRoom(BaseRoom); err != ErrBaseRoom {
		t.Fatalf("DeleteRoom(%s) = %v, want ErrBaseRoom", BaseRoom, err)
	}
	if err := core.DeleteRoom("missing"); err == nil {
		t.Fatal("DeleteRoom of unknown room should fail")
	}
	if err := core.SwitchRoom("ghost", BaseRoom); err == nil {
		t.Fatal("SwitchRoom for unknown user should fail")
	}

	assertNames(t, "rooms", core.ListRooms(), []string{BaseRoom, "dev"})
	if err := core.DeleteRoom("dev"); err != nil {
		t.Fatalf("DeleteRoom(dev) failed: %v", err)
	}
	assertNames(t, "rooms", core.ListRooms(), []string{BaseRoom})
}

func TestRoomSwitchAnnouncements(t *testing.T) {
	core := startCore(t, 2000, nil)

	alice := dialClient(t, "alice")
	alice.join(core)
	alice.activate()

	bob := dialClient(t, "bob")
	bob.join(core)
	alice.expectUserList([]string{"alice", "bob"})
	bob.activate()

	bob.send(protocol.BuildCreateRoom("dev"))
	alice.expectRoomList([]string{BaseRoom, "dev"})
	bob.expectRoomList([]string{BaseRoom, "dev"})

	bob.send(protocol.BuildRoomSwitch("dev"))

	// Fixed order: departure in the old room, confirmation to the
	// mover, arrival in the new room. Bob is in the old room for the
	// departure and in the new one for the arrival, so he sees all
	// three.
	alice.expectRoomMessage(ServerSender, "bob left this room")
	bob.expectRoomMessage(ServerSender, "bob left this room")
	bob.expectRoomSwitch("dev")
	bob.expectRoomMessage(ServerSender, "bob joined this room")
	alice.expectSilence(200 * time.Millisecond)
}

func TestRoomMessageExcludesSender(t *testing.T) {
	core := startCore(t, 2000, nil)

	alice := dialClient(t, "alice")
	alice.join(core)
	alice.activate()

	bob := dialClient(t, "bob")
	bob.join(core)
	alice.expectUserList([]string{"alice", "bob"})
	bob.activate()

	alice.send(protocol.BuildRoomMessageSend("morning"))

	bob.expectRoomMessage("alice", "morning")
	alice.expectSilence(200 * time.Millisecond)
}

func TestDeleteRoomEvictsMembers(t *testing.T) {
	core := startCore(t, 2000, nil)

	alice := dialClient(t, "alice")
	alice.join(core)
	alice.activate()

	bob := dialClient(t, "bob")
	bob.join(core)
	alice.expectUserList([]string{"alice", "bob"})
	bob.activate()

	bob.send(protocol.BuildCreateRoom("dev"))
	alice.expectRoomList([]string{BaseRoom, "dev"})
	bob.expectRoomList([]string{BaseRoom, "dev"})

	bob.send(protocol.BuildRoomSwitch("dev"))
	alice.expectRoomMessage(ServerSender, "bob left this room")
	bob.expectRoomMessage(ServerSender, "bob left this room")
	bob.expectRoomSwitch("dev")
	bob.expectRoomMessage(ServerSender, "bob joined this room")

	alice.send(protocol.BuildDeleteRoom("dev"))

	// Bob is forced back to the base room before the room disappears.
	bob.expectRoomMessage(ServerSender, "bob left this room")
	bob.expectRoomSwitch(BaseRoom)
	bob.expectRoomMessage(ServerSender, "bob joined this room")
	alice.expectRoomMessage(ServerSender, "bob joined this room")

	alice.expectRoomList([]string{BaseRoom})
	bob.expectRoomList([]string{BaseRoom})
	assertNames(t, "rooms", core.ListRooms(), []string{BaseRoom})
}

func TestSessionTimeoutRemovesUser(t *testing.T) {
	bus := events.NewEventBus()
	timedOut := make(chan string, 1)
	bus.Subscribe(events.EventSessionTimedOut, "test", func(ctx context.Context, ev events.Event) error {
		if p, ok := ev.Payload.(events.SessionPayload); ok {
			timedOut <- p.Name
		}
		return nil
	})

	core := startCore(t, 250, bus)

	alice := dialClient(t, "alice")
	alice.join(core)
	alice.activate()

	bob := dialClient(t, "bob")
	bob.join(core)
	alice.expectUserList([]string{"alice", "bob"})
	bob.activate()

	// Only bob keeps heartbeating; alice goes quiet and must be reaped.
	beat, err := protocol.BuildHeartbeat()
	if err != nil {
		t.Fatalf("failed to build heartbeat: %v", err)
	}
	bobSession := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: bob.sessionPort}
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				bob.conn.WriteToUDP(beat, bobSession)
			}
		}
	}()

	select {
	case name := <-timedOut:
		if name != "alice" {
			t.Fatalf("timed out user = %q, want alice", name)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for session timeout event")
	}

	deadline := time.Now().Add(time.Second)
	for core.SessionCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("SessionCount() = %d, want 1 after timeout", core.SessionCount())
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Survivors get a refreshed user list.
	bob.expectUserList([]string{"bob"})
}
