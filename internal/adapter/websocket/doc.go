// Package websocket delivers chat messages to connected clients.
//
// Gateway terminates WebSocket connections in this process and pushes payloads to
// them by connection ID. ManagementClient pushes the same payloads to a remote
// gateway over its management API. Both implement domain.Pusher.
package websocket
