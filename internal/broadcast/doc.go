// Package broadcast pushes index updates to real-time clients.
//
// The Scheduler is an actor: one goroutine owns the client registry, the
// Idle/Active state and both tickers, and every change arrives as a command.
// Polls run off the actor goroutine and report back through the command
// channel. Each websocket Client has its own writer goroutine so a slow
// client never blocks a broadcast.
package broadcast
