// Package broadcast fans committed registry snapshots out to dashboard WebSocket clients.
//
// The Hub is an actor: a single goroutine owns the client set and the latest frame, and
// every operation arrives over its command channel. Per-connection writer goroutines
// absorb slow clients; a client whose buffer is full is dropped instead of stalling the hub.
package broadcast
