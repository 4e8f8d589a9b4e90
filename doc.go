// Package commandloop is the client half of a page command channel built on
// repeated HTTP request/response cycles instead of a persistent socket.
//
// The client runs two independent systems:
//  1. Poll Loop - asks the server for a command, dispatches it through a
//     closed registry, optionally replies, then waits the current poll
//     interval (which the server may change at runtime) before asking again.
//  2. Event sender - reports UI activations to the server as fire-and-forget
//     onclick envelopes.
//
// Control flow is strictly client initiated. Every failure is reported to an
// injectable diagnostics sink and never stops the loop.
package commandloop
