package protocol_test

import (
	"bytes"
	"encoding/binary"
	"reflect"
	"strings"
	"testing"

	"github.com/parley-project/parley/internal/protocol"
)

func TestServerBoundRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		data func() ([]byte, error)
		want protocol.Packet
	}{
		{
			name: "hello",
			data: func() ([]byte, error) { return protocol.BuildHello("alice") },
			want: &protocol.Hello{Name: "alice"},
		},
		{
			name: "hello with multibyte name",
			data: func() ([]byte, error) { return protocol.BuildHello("renée") },
			want: &protocol.Hello{Name: "renée"},
		},
		{
			name: "heartbeat",
			data: protocol.BuildHeartbeat,
			want: &protocol.Heartbeat{},
		},
		{
			name: "broadcast",
			data: func() ([]byte, error) { return protocol.BuildBroadcast("hello everyone") },
			want: &protocol.Broadcast{Message: "hello everyone"},
		},
		{
			name: "private send",
			data: func() ([]byte, error) { return protocol.BuildPrivate("bob", "hi") },
			want: &protocol.PrivateSend{Recipient: "bob", Message: "hi"},
		},
		{
			name: "room switch",
			data: func() ([]byte, error) { return protocol.BuildRoomSwitch("lounge") },
			want: &protocol.RoomSwitch{Room: "lounge"},
		},
		{
			name: "room message",
			data: func() ([]byte, error) { return protocol.BuildRoomMessageSend("anyone here?") },
			want: &protocol.RoomMessageSend{Message: "anyone here?"},
		},
		{
			name: "create room",
			data: func() ([]byte, error) { return protocol.BuildCreateRoom("lounge") },
			want: &protocol.CreateRoom{Room: "lounge"},
		},
		{
			name: "delete room",
			data: func() ([]byte, error) { return protocol.BuildDeleteRoom("lounge") },
			want: &protocol.DeleteRoom{Room: "lounge"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := tt.data()
			if err != nil {
				t.Fatalf("encode failed: %v", err)
			}
			got, err := protocol.DecodeServerBound(data)
			if err != nil {
				t.Fatalf("DecodeServerBound() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("DecodeServerBound() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestClientBoundRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		data func() ([]byte, error)
		want protocol.Packet
	}{
		{
			name: "port",
			data: func() ([]byte, error) { return protocol.BuildPort(49152) },
			want: &protocol.PortReply{Port: 49152},
		},
		{
			name: "name taken",
			data: protocol.BuildNameTaken,
			want: &protocol.NameTaken{},
		},
		{
			name: "broadcast",
			data: func() ([]byte, error) { return protocol.BuildBroadcast("server notice") },
			want: &protocol.Broadcast{Message: "server notice"},
		},
		{
			name: "private delivery",
			data: func() ([]byte, error) { return protocol.BuildPrivate("alice", "hi") },
			want: &protocol.PrivateDelivery{Sender: "alice", Message: "hi"},
		},
		{
			name: "user list",
			data: func() ([]byte, error) { return protocol.BuildUserList([]string{"alice", "bob"}) },
			want: &protocol.UserList{Names: []string{"alice", "bob"}},
		},
		{
			name: "empty user list",
			data: func() ([]byte, error) { return protocol.BuildUserList(nil) },
			want: &protocol.UserList{},
		},
		{
			name: "room list",
			data: func() ([]byte, error) { return protocol.BuildRoomList([]string{"general", "lounge"}) },
			want: &protocol.RoomList{Names: []string{"general", "lounge"}},
		},
		{
			name: "room switch confirmation",
			data: func() ([]byte, error) { return protocol.BuildRoomSwitch("lounge") },
			want: &protocol.RoomSwitch{Room: "lounge"},
		},
		{
			name: "room message delivery",
			data: func() ([]byte, error) { return protocol.BuildRoomMessageDelivery("Server", "bob joined this room") },
			want: &protocol.RoomMessageDelivery{Sender: "Server", Message: "bob joined this room"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := tt.data()
			if err != nil {
				t.Fatalf("encode failed: %v", err)
			}
			got, err := protocol.DecodeClientBound(data)
			if err != nil {
				t.Fatalf("DecodeClientBound() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("DecodeClientBound() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestDecodeErrors(t *testing.T) {
	unknownTag := make([]byte, 4)
	binary.BigEndian.PutUint32(unknownTag, 999)

	// HELLO declaring a 100-byte name but carrying only 3 bytes.
	truncated := &bytes.Buffer{}
	binary.Write(truncated, binary.BigEndian, int32(protocol.TypeHello))
	binary.Write(truncated, binary.BigEndian, int32(100))
	truncated.WriteString("abc")

	// PRIVATE with a negative length prefix.
	negative := &bytes.Buffer{}
	binary.Write(negative, binary.BigEndian, int32(protocol.TypePrivate))
	binary.Write(negative, binary.BigEndian, int32(-5))

	tests := []struct {
		name string
		data []byte
	}{
		{"empty datagram", nil},
		{"short datagram", []byte{0x00, 0x01}},
		{"unknown tag", unknownTag},
		{"truncated string", truncated.Bytes()},
		{"negative string length", negative.Bytes()},
		{"oversized datagram", make([]byte, protocol.MaxDatagramSize+1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := protocol.DecodeServerBound(tt.data); err == nil {
				t.Error("DecodeServerBound() expected error, got nil")
			}
		})
	}
}

func TestBuildOversizedFails(t *testing.T) {
	big := strings.Repeat("x", protocol.MaxDatagramSize)
	if _, err := protocol.BuildBroadcast(big); err == nil {
		t.Fatal("BuildBroadcast() expected ErrOversized, got nil")
	}

	// A payload that fits must succeed.
	small := strings.Repeat("x", 100)
	if _, err := protocol.BuildBroadcast(small); err != nil {
		t.Fatalf("BuildBroadcast() unexpected error: %v", err)
	}
}

func TestStringLengthCountsBytesNotRunes(t *testing.T) {
	msg := "héllo" // 5 runes, 6 bytes in UTF-8
	data, err := protocol.BuildBroadcast(msg)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	declared := int32(binary.BigEndian.Uint32(data[4:8]))
	if declared != int32(len([]byte(msg))) {
		t.Errorf("declared length = %d, want byte length %d", declared, len([]byte(msg)))
	}
}
