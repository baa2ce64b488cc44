// Package ipc implements the channel a plugin sub-process uses to talk back to
// its host.
//
// A channel is a Connect RPC service served by the host on a unix-domain
// socket named after the channel. The sub-process dials the socket, performs a
// handshake, then holds a server stream open. The host pushes envelopes down
// that stream and the sub-process answers each one with a Reply call:
//
//	host                         sub-process
//	 |  <-- Handshake ------------  |
//	 |  <-- Subscribe ------------  |
//	 |  --- Envelope{ready} ----->  |
//	 |  --- Envelope{kind} ------>  |  Handler.Handle
//	 |  <-- Reply{id, payload} ---  |
//	 |  --- Envelope{shutdown} -->  |  exit 0
//
// Runner is the generic sub-process entry point: it builds the sub-process
// fx container, attaches to the channel and runs the message loop until the
// host asks it to stop, the channel closes or the parent process dies.
package ipc
