// Package hub owns the node hub runtime.
//
// Ownership boundary:
//   - acceptor: accepts sockets and posts Connected events
//   - connections: one reader goroutine per socket, posting MessageReceived and
//     Disconnected events
//   - dispatcher: the single goroutine that consumes events in FIFO order and is
//     the only writer of the registry, the unregistered set, and routing decisions
//   - local handler: hub-control requests addressed to id 0
//   - admin: read-only HTTP surface served through dispatcher tasks
//
// Anything reached through *State must only be used on the dispatcher
// goroutine.
package hub
