package hub

import (
	"net"

	"github.com/danmuck/nodehub/internal/protocol/frame"
)

// Event is the closed set of work items consumed by the dispatcher.
type Event interface {
	Kind() string
	sealed()
}

// ConnectedEvent carries a freshly accepted socket. The dispatcher builds the
// Conn so connection lifetime is owned in one place.
type ConnectedEvent struct {
	Conn net.Conn
	IP   string
}

// DisconnectedEvent reports that a connection's peer went away.
type DisconnectedEvent struct {
	Conn *Conn
}

// MessageEvent carries one decoded frame from a connection.
type MessageEvent struct {
	Conn  *Conn
	Frame frame.Frame
}

// TaskEvent runs Fn on the dispatcher goroutine.
type TaskEvent struct {
	Fn func(*State)
}

type stopEvent struct{}

func (ConnectedEvent) Kind() string    { return "connected" }
func (DisconnectedEvent) Kind() string { return "disconnected" }
func (MessageEvent) Kind() string      { return "message" }
func (TaskEvent) Kind() string         { return "task" }
func (stopEvent) Kind() string         { return "stop" }

func (ConnectedEvent) sealed()    {}
func (DisconnectedEvent) sealed() {}
func (MessageEvent) sealed()      {}
func (TaskEvent) sealed()         {}
func (stopEvent) sealed()         {}

// Poster accepts events from producer goroutines.
type Poster interface {
	Post(Event) error
}
