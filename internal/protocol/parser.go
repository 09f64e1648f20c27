package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strings"
)

// The same type tag can carry direction-dependent payloads (PRIVATE and
// ROOM_MESSAGE), so each side decodes with the function matching the
// traffic it receives.

// DecodeServerBound parses a datagram sent by a client to the server.
func DecodeServerBound(data []byte) (Packet, error) {
	t, r, err := splitTag(data)
	if err != nil {
		return nil, err
	}

	switch t {
	case TypeHello:
		name, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("failed to parse HELLO name: %w", err)
		}
		return &Hello{Name: name}, nil

	case TypeHeartbeat:
		return &Heartbeat{}, nil

	case TypeBroadcast:
		msg, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("failed to parse BROADCAST message: %w", err)
		}
		return &Broadcast{Message: msg}, nil

	case TypePrivate:
		recipient, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("failed to parse PRIVATE recipient: %w", err)
		}
		msg, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("failed to parse PRIVATE message: %w", err)
		}
		return &PrivateSend{Recipient: recipient, Message: msg}, nil

	case TypeRoomSwitch:
		room, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("failed to parse ROOM_SWITCH room: %w", err)
		}
		return &RoomSwitch{Room: room}, nil

	case TypeRoomMessage:
		msg, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("failed to parse ROOM_MESSAGE message: %w", err)
		}
		return &RoomMessageSend{Message: msg}, nil

	case TypeCreateRoom:
		room, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("failed to parse CREATE_ROOM room: %w", err)
		}
		return &CreateRoom{Room: room}, nil

	case TypeDeleteRoom:
		room, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DELETE_ROOM room: %w", err)
		}
		return &DeleteRoom{Room: room}, nil

	default:
		return nil, fmt.Errorf("unknown server-bound packet type: %s", t)
	}
}

// DecodeClientBound parses a datagram sent by the server to a client.
func DecodeClientBound(data []byte) (Packet, error) {
	t, r, err := splitTag(data)
	if err != nil {
		return nil, err
	}

	switch t {
	case TypePort:
		var port int32
		if err := binary.Read(r, binary.BigEndian, &port); err != nil {
			return nil, fmt.Errorf("failed to parse PORT payload: %w", err)
		}
		return &PortReply{Port: port}, nil

	case TypeNameTaken:
		return &NameTaken{}, nil

	case TypeBroadcast:
		msg, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("failed to parse BROADCAST message: %w", err)
		}
		return &Broadcast{Message: msg}, nil

	case TypePrivate:
		sender, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("failed to parse PRIVATE sender: %w", err)
		}
		msg, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("failed to parse PRIVATE message: %w", err)
		}
		return &PrivateDelivery{Sender: sender, Message: msg}, nil

	case TypeUserList:
		joined, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("failed to parse USER_LIST payload: %w", err)
		}
		return &UserList{Names: splitNames(joined)}, nil

	case TypeRoomList:
		joined, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("failed to parse ROOM_LIST payload: %w", err)
		}
		return &RoomList{Names: splitNames(joined)}, nil

	case TypeRoomSwitch:
		room, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("failed to parse ROOM_SWITCH room: %w", err)
		}
		return &RoomSwitch{Room: room}, nil

	case TypeRoomMessage:
		sender, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("failed to parse ROOM_MESSAGE sender: %w", err)
		}
		msg, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("failed to parse ROOM_MESSAGE message: %w", err)
		}
		return &RoomMessageDelivery{Sender: sender, Message: msg}, nil

	default:
		return nil, fmt.Errorf("unknown client-bound packet type: %s", t)
	}
}

// splitTag validates the leading type tag and returns a reader positioned
// at the payload.
func splitTag(data []byte) (PacketType, *bytes.Reader, error) {
	if len(data) > MaxDatagramSize {
		return 0, nil, fmt.Errorf("datagram too large: %d bytes (max %d)", len(data), MaxDatagramSize)
	}
	if len(data) < TagSize {
		return 0, nil, fmt.Errorf("datagram too short: %d bytes", len(data))
	}

	r := bytes.NewReader(data)
	var tag int32
	if err := binary.Read(r, binary.BigEndian, &tag); err != nil {
		return 0, nil, fmt.Errorf("failed to read type tag: %w", err)
	}
	return PacketType(tag), r, nil
}

// readString reads a length-prefixed UTF-8 string. A declared length that
// exceeds the remaining buffer is a decode error, not a short read.
func readString(r *bytes.Reader) (string, error) {
	var length int32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return "", fmt.Errorf("failed to read string length: %w", err)
	}

	if length < 0 {
		return "", fmt.Errorf("negative string length: %d", length)
	}
	if int(length) > r.Len() {
		return "", fmt.Errorf("declared string length %d exceeds remaining %d bytes", length, r.Len())
	}
	if length == 0 {
		return "", nil
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("failed to read string payload: %w", err)
	}
	return string(buf), nil
}

// splitNames splits a comma-joined name list. An empty payload means an
// empty list, not a single empty name.
func splitNames(joined string) []string {
	if joined == "" {
		return nil
	}
	return strings.Split(joined, ",")
}
