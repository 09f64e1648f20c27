// Package protocol implements the binary wire format spoken between the
// parley client and server. Every packet travels in a single UDP datagram:
// a 4-byte type tag in network byte order followed by a type-specific
// payload. Strings are encoded as [int32 byte-length][UTF-8 bytes], where
// the length counts bytes after UTF-8 encoding, not characters.
package protocol

import "fmt"

// PacketType is the 4-byte tag leading every datagram. Tags are assigned
// by declaration order and must match exactly on both ends of the wire.
type PacketType int32

const (
	TypeHello       PacketType = iota + 1 // client -> rendezvous: requested username
	TypePort                              // server -> client: dedicated session port
	TypeNameTaken                         // server -> client: username already in use
	TypeHeartbeat                         // client -> session: liveness + address disclosure
	TypeBroadcast                         // both: message to every connected user
	TypePrivate                           // c->s: recipient + message, s->c: sender + message
	TypeUserList                          // server -> client: comma-joined usernames
	TypeRoomList                          // server -> client: comma-joined room names
	TypeRoomSwitch                        // both: room switch request / confirmation
	TypeRoomMessage                       // c->s: message, s->c: sender + message
	TypeCreateRoom                        // client -> session: new room name
	TypeDeleteRoom                        // client -> session: room name to delete
)

var packetTypeNames = map[PacketType]string{
	TypeHello:       "HELLO",
	TypePort:        "PORT",
	TypeNameTaken:   "NAME_ALREADY_TAKEN",
	TypeHeartbeat:   "HEARTBEAT",
	TypeBroadcast:   "BROADCAST",
	TypePrivate:     "PRIVATE",
	TypeUserList:    "USER_LIST",
	TypeRoomList:    "ROOM_LIST",
	TypeRoomSwitch:  "ROOM_SWITCH",
	TypeRoomMessage: "ROOM_MESSAGE",
	TypeCreateRoom:  "CREATE_ROOM",
	TypeDeleteRoom:  "DELETE_ROOM",
}

// String returns the wire name of the packet type.
func (t PacketType) String() string {
	if name, ok := packetTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", int32(t))
}

// MaxDatagramSize is the largest datagram either side will send or accept.
// Oversized payloads are a caller error; there is no fragmentation.
const MaxDatagramSize = 1024

// TagSize is the size of the leading type tag in bytes.
const TagSize = 4

// Packet is implemented by every decoded wire packet.
type Packet interface {
	Type() PacketType
}

// ---- Packets arriving at the server (client -> server) ----

// Hello requests a session under the given username. It is the only
// packet the rendezvous port accepts.
type Hello struct {
	Name string
}

// Heartbeat keeps a session alive. The first heartbeat a session receives
// also discloses the client's effective source address.
type Heartbeat struct{}

// PrivateSend asks the server to relay a message to a single user.
type PrivateSend struct {
	Recipient string
	Message   string
}

// RoomMessageSend posts a message to the sender's current room. The room
// itself is server-side state and never travels on the wire.
type RoomMessageSend struct {
	Message string
}

// CreateRoom asks the server to create a new room.
type CreateRoom struct {
	Room string
}

// DeleteRoom asks the server to delete an existing room.
type DeleteRoom struct {
	Room string
}

// ---- Packets arriving at the client (server -> client) ----

// PortReply carries the ephemeral port of the newly created session.
type PortReply struct {
	Port int32
}

// NameTaken rejects a Hello whose username is already registered.
type NameTaken struct{}

// PrivateDelivery is a relayed private message, tagged with the sender.
type PrivateDelivery struct {
	Sender  string
	Message string
}

// UserList replaces the client's mirrored user list wholesale.
type UserList struct {
	Names []string
}

// RoomList replaces the client's mirrored room list wholesale.
type RoomList struct {
	Names []string
}

// RoomMessageDelivery is a room-scoped message, tagged with the sender.
// Join/leave announcements arrive here authored by "Server".
type RoomMessageDelivery struct {
	Sender  string
	Message string
}

// ---- Packets used in both directions ----

// Broadcast is a message delivered to every connected user. The payload
// is identical in both directions.
type Broadcast struct {
	Message string
}

// RoomSwitch is a room change request (client -> server) or the server's
// confirmation of one (server -> client).
type RoomSwitch struct {
	Room string
}

func (Hello) Type() PacketType               { return TypeHello }
func (Heartbeat) Type() PacketType           { return TypeHeartbeat }
func (PrivateSend) Type() PacketType         { return TypePrivate }
func (RoomMessageSend) Type() PacketType     { return TypeRoomMessage }
func (CreateRoom) Type() PacketType          { return TypeCreateRoom }
func (DeleteRoom) Type() PacketType          { return TypeDeleteRoom }
func (PortReply) Type() PacketType           { return TypePort }
func (NameTaken) Type() PacketType           { return TypeNameTaken }
func (PrivateDelivery) Type() PacketType     { return TypePrivate }
func (UserList) Type() PacketType            { return TypeUserList }
func (RoomList) Type() PacketType            { return TypeRoomList }
func (RoomMessageDelivery) Type() PacketType { return TypeRoomMessage }
func (Broadcast) Type() PacketType           { return TypeBroadcast }
func (RoomSwitch) Type() PacketType          { return TypeRoomSwitch }
