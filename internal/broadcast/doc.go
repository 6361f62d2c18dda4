// Package broadcast fans change-feed INSERT events out to subscribed WebSocket connections.
//
// The Dispatcher handles events of a batch in order, delivers each message to its
// conversation's connections in parallel (bounded by Config.Concurrency) and removes
// connections the gateway reports as gone. A batch always completes; faults end up in
// the BatchReport and the logs.
package broadcast
