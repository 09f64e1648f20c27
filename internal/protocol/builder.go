package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
)

// ErrOversized is returned when an encoded packet would exceed
// MaxDatagramSize. The protocol has no fragmentation; callers must keep
// payloads short.
var ErrOversized = fmt.Errorf("packet exceeds %d bytes", MaxDatagramSize)

// PacketBuilder constructs binary packets for sending over the wire.
type PacketBuilder struct {
	buf bytes.Buffer
}

// NewPacketBuilder creates a builder with the given type tag already written.
func NewPacketBuilder(t PacketType) *PacketBuilder {
	b := &PacketBuilder{}
	binary.Write(&b.buf, binary.BigEndian, int32(t))
	return b
}

// WriteInt32 writes an int32 in network byte order.
func (b *PacketBuilder) WriteInt32(v int32) *PacketBuilder {
	binary.Write(&b.buf, binary.BigEndian, v)
	return b
}

// WriteString writes a length-prefixed UTF-8 string.
// Format: [byte-length:4][string bytes...]
func (b *PacketBuilder) WriteString(s string) *PacketBuilder {
	data := []byte(s)
	binary.Write(&b.buf, binary.BigEndian, int32(len(data)))
	b.buf.Write(data)
	return b
}

// Len returns the current size of the packet being built.
func (b *PacketBuilder) Len() int {
	return b.buf.Len()
}

// Build returns the constructed datagram, or ErrOversized if it would
// not fit in a single datagram.
func (b *PacketBuilder) Build() ([]byte, error) {
	if b.buf.Len() > MaxDatagramSize {
		return nil, ErrOversized
	}
	return b.buf.Bytes(), nil
}

// String returns a hex dump of the current packet for debugging.
func (b *PacketBuilder) String() string {
	data := b.buf.Bytes()
	return fmt.Sprintf("PacketBuilder[%d bytes]: %x", len(data), data)
}

// ---- Pre-built packet constructors ----

// BuildHello creates a HELLO join request for the rendezvous port.
func BuildHello(name string) ([]byte, error) {
	return NewPacketBuilder(TypeHello).WriteString(name).Build()
}

// BuildPort creates a PORT reply carrying a session's ephemeral port.
func BuildPort(port int) ([]byte, error) {
	return NewPacketBuilder(TypePort).WriteInt32(int32(port)).Build()
}

// BuildNameTaken creates a NAME_ALREADY_TAKEN rejection. No payload.
func BuildNameTaken() ([]byte, error) {
	return NewPacketBuilder(TypeNameTaken).Build()
}

// BuildHeartbeat creates a HEARTBEAT packet. No payload.
func BuildHeartbeat() ([]byte, error) {
	return NewPacketBuilder(TypeHeartbeat).Build()
}

// BuildBroadcast creates a BROADCAST packet. The same encoding is used
// in both directions.
func BuildBroadcast(message string) ([]byte, error) {
	return NewPacketBuilder(TypeBroadcast).WriteString(message).Build()
}

// BuildPrivate creates a PRIVATE packet. The first string is the
// recipient when sent by a client and the sender when relayed by the
// server; the encoding is identical.
func BuildPrivate(name, message string) ([]byte, error) {
	return NewPacketBuilder(TypePrivate).WriteString(name).WriteString(message).Build()
}

// BuildUserList creates a USER_LIST push with comma-joined usernames.
func BuildUserList(names []string) ([]byte, error) {
	return NewPacketBuilder(TypeUserList).WriteString(strings.Join(names, ",")).Build()
}

// BuildRoomList creates a ROOM_LIST push with comma-joined room names.
func BuildRoomList(names []string) ([]byte, error) {
	return NewPacketBuilder(TypeRoomList).WriteString(strings.Join(names, ",")).Build()
}

// BuildRoomSwitch creates a ROOM_SWITCH request or confirmation.
func BuildRoomSwitch(room string) ([]byte, error) {
	return NewPacketBuilder(TypeRoomSwitch).WriteString(room).Build()
}

// BuildRoomMessageSend creates a client-side ROOM_MESSAGE. The target
// room is the sender's current room, tracked server-side.
func BuildRoomMessageSend(message string) ([]byte, error) {
	return NewPacketBuilder(TypeRoomMessage).WriteString(message).Build()
}

// BuildRoomMessageDelivery creates a server-side ROOM_MESSAGE tagged
// with the sender's name.
func BuildRoomMessageDelivery(sender, message string) ([]byte, error) {
	return NewPacketBuilder(TypeRoomMessage).WriteString(sender).WriteString(message).Build()
}

// BuildCreateRoom creates a CREATE_ROOM request.
func BuildCreateRoom(room string) ([]byte, error) {
	return NewPacketBuilder(TypeCreateRoom).WriteString(room).Build()
}

// BuildDeleteRoom creates a DELETE_ROOM request.
func BuildDeleteRoom(room string) ([]byte, error) {
	return NewPacketBuilder(TypeDeleteRoom).WriteString(room).Build()
}
