package client

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/parley-project/parley/internal/protocol"
)

// fakeRendezvous answers the first HELLO on a loopback socket with the
// given reply builder.
func fakeRendezvous(t *testing.T, reply func() ([]byte, error)) *net.UDPAddr {
	t.Helper()

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		t.Fatalf("failed to bind fake rendezvous: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	go func() {
		buf := make([]byte, protocol.MaxDatagramSize)
		n, remote, err := conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		pkt, err := protocol.DecodeServerBound(buf[:n])
		if err != nil {
			return
		}
		if _, ok := pkt.(*protocol.Hello); !ok {
			return
		}
		if data, err := reply(); err == nil {
			conn.WriteToUDP(data, remote)
		}
	}()

	return conn.LocalAddr().(*net.UDPAddr)
}

func TestJoinLearnsSessionPort(t *testing.T) {
	addr := fakeRendezvous(t, func() ([]byte, error) {
		return protocol.BuildPort(4242)
	})

	c := New("alice", addr, time.Second, io.Discard)
	if err := c.Join(context.Background()); err != nil {
		t.Fatalf("Join() failed: %v", err)
	}
	defer c.conn.Close()

	if c.session == nil || c.session.Port != 4242 {
		t.Fatalf("session = %v, want port 4242", c.session)
	}
}

func TestJoinRejectedName(t *testing.T) {
	addr := fakeRendezvous(t, protocol.BuildNameTaken)

	c := New("alice", addr, time.Second, io.Discard)
	err := c.Join(context.Background())
	if !errors.Is(err, ErrNameTaken) {
		t.Fatalf("Join() error = %v, want ErrNameTaken", err)
	}
}

func TestJoinTimesOutWithoutServer(t *testing.T) {
	// A bound but silent socket: the HELLO goes nowhere useful.
	silent, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		t.Fatalf("failed to bind silent socket: %v", err)
	}
	defer silent.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	c := New("alice", silent.LocalAddr().(*net.UDPAddr), time.Second, io.Discard)
	if err := c.Join(ctx); err == nil {
		t.Fatal("Join() should fail when the server never answers")
	}
}

func TestRunHeartbeatsAndMirrorsState(t *testing.T) {
	// The fake session endpoint the PORT reply points at.
	sess, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		t.Fatalf("failed to bind fake session endpoint: %v", err)
	}
	defer sess.Close()
	sessPort := sess.LocalAddr().(*net.UDPAddr).Port

	addr := fakeRendezvous(t, func() ([]byte, error) {
		return protocol.BuildPort(sessPort)
	})

	c := New("alice", addr, 50*time.Millisecond, io.Discard)
	if err := c.Join(context.Background()); err != nil {
		t.Fatalf("Join() failed: %v", err)
	}

	pr, pw := io.Pipe()
	runDone := make(chan error, 1)
	go func() { runDone <- c.Run(context.Background(), pr) }()

	// Two heartbeats prove both the immediate first beat and the ticker.
	var clientAddr *net.UDPAddr
	buf := make([]byte, protocol.MaxDatagramSize)
	for i := 0; i < 2; i++ {
		sess.SetReadDeadline(time.Now().Add(2 * time.Second))
		n, remote, err := sess.ReadFromUDP(buf)
		if err != nil {
			t.Fatalf("heartbeat %d not received: %v", i+1, err)
		}
		pkt, err := protocol.DecodeServerBound(buf[:n])
		if err != nil {
			t.Fatalf("heartbeat %d undecodable: %v", i+1, err)
		}
		if _, ok := pkt.(*protocol.Heartbeat); !ok {
			t.Fatalf("packet %d is %s, want HEARTBEAT", i+1, pkt.Type())
		}
		clientAddr = remote
	}

	// Push state the way the server does after the first heartbeat.
	push := func(data []byte, err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("failed to build push: %v", err)
		}
		sess.WriteToUDP(data, clientAddr)
	}
	push(protocol.BuildUserList([]string{"alice", "bob"}))
	push(protocol.BuildRoomList([]string{"general", "dev"}))
	push(protocol.BuildRoomSwitch("general"))

	deadline := time.Now().Add(2 * time.Second)
	for {
		snap := c.State()
		if len(snap.Users) == 2 && len(snap.Rooms) == 2 && snap.CurrentRoom == "general" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("state never mirrored, snapshot = %+v", snap)
		}
		time.Sleep(10 * time.Millisecond)
	}

	pw.Close()
	select {
	case err := <-runDone:
		if err != nil {
			t.Fatalf("Run() returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after input closed")
	}
}
