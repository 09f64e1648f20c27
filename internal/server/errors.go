package server

import "errors"

// Routing errors reported back to the packet-processing boundary. They
// are logged there and never tear down a session.
var (
	ErrNoSuchUser = errors.New("no such user")
	ErrNoSuchRoom = errors.New("no such room")
	ErrRoomExists = errors.New("room already exists")
	ErrBaseRoom   = errors.New("the base room cannot be deleted")
)
