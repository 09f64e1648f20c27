package client

import (
	"fmt"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/parley-project/parley/internal/protocol"
)

// MaxNameLength mirrors the server-side username limit so bad names are
// rejected before any traffic is sent.
const MaxNameLength = 32

// ValidateName checks a username against the registration rules: it
// must be non-empty, at most MaxNameLength bytes, must not contain a
// comma (the user list separator), and must not be the reserved server
// name.
func ValidateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("name must not be empty")
	case len(name) > MaxNameLength:
		return fmt.Errorf("name must be at most %d characters", MaxNameLength)
	case strings.ContainsRune(name, ','):
		return fmt.Errorf("name must not contain a comma")
	case name == "Server":
		return fmt.Errorf("name %q is reserved", name)
	}
	return nil
}

// parseCommand splits an input line into a command and its argument.
// Lines not starting with a slash are room messages with an empty
// command.
func parseCommand(line string) (cmd, arg string) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return "", line
	}
	cmd, arg, _ = strings.Cut(line, " ")
	return strings.ToLower(cmd), strings.TrimSpace(arg)
}

// handleLine executes one input line. It returns true when the user
// asked to quit.
func (c *Client) handleLine(line string) bool {
	cmd, arg := parseCommand(line)

	switch cmd {
	case "":
		// Plain text goes to the current room. The server does not echo
		// room messages back to the sender, so echo locally.
		if c.state.load().CurrentRoom == "" {
			c.printf("!! not in a room yet, waiting for the server")
			return false
		}
		c.send(protocol.BuildRoomMessageSend(arg))
		c.printf("[You]: %s", arg)

	case "/bc", "/broadcast":
		if arg == "" {
			c.printf("usage: /bc <message>")
			return false
		}
		c.send(protocol.BuildBroadcast(arg))

	case "/msg":
		recipient, message, _ := strings.Cut(arg, " ")
		message = strings.TrimSpace(message)
		if recipient == "" || message == "" {
			c.printf("usage: /msg <user> <message>")
			return false
		}
		if !c.state.hasUser(recipient) {
			c.printf("!! no user named '%s' (see /users)", recipient)
			return false
		}
		c.send(protocol.BuildPrivate(recipient, message))
		c.printf("[You -> %s]: %s", recipient, message)

	case "/room", "/switch":
		if arg == "" {
			c.printf("usage: /room <name>")
			return false
		}
		if !c.state.hasRoom(arg) {
			c.printf("!! no room named '%s' (see /rooms)", arg)
			return false
		}
		c.send(protocol.BuildRoomSwitch(arg))

	case "/createroom":
		if arg == "" {
			c.printf("usage: /createroom <name>")
			return false
		}
		c.send(protocol.BuildCreateRoom(arg))

	case "/deleteroom":
		if arg == "" {
			c.printf("usage: /deleteroom <name>")
			return false
		}
		c.send(protocol.BuildDeleteRoom(arg))

	case "/users":
		snap := c.state.load()
		c.renderList("User", snap.Users)

	case "/rooms":
		snap := c.state.load()
		c.renderListWithMark("Room", snap.Rooms, snap.CurrentRoom)

	case "/help":
		c.printHelp()

	case "/quit", "/exit":
		return true

	default:
		c.printf("unknown command %s (see /help)", cmd)
	}
	return false
}

// renderList prints a one-column table of names.
func (c *Client) renderList(header string, names []string) {
	c.outMu.Lock()
	defer c.outMu.Unlock()

	table := tablewriter.NewWriter(c.out)
	table.SetHeader([]string{header})
	for _, name := range names {
		table.Append([]string{name})
	}
	table.Render()
}

// renderListWithMark prints names with a marker on the current one.
func (c *Client) renderListWithMark(header string, names []string, current string) {
	c.outMu.Lock()
	defer c.outMu.Unlock()

	table := tablewriter.NewWriter(c.out)
	table.SetHeader([]string{header, ""})
	for _, name := range names {
		mark := ""
		if name == current {
			mark = "*"
		}
		table.Append([]string{name, mark})
	}
	table.Render()
}

func (c *Client) printHelp() {
	c.printf(`commands:
  <text>               send to the current room
  /bc <message>        broadcast to everyone
  /msg <user> <text>   private message
  /room <name>         switch room
  /createroom <name>   create a room
  /deleteroom <name>   delete a room (members move to general)
  /users               list online users
  /rooms               list rooms (* marks the current one)
  /quit                leave`)
}
