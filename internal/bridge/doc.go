// Package bridge extends one pipeline edge over a websocket.
//
// A socket_client stage forwards its input to a remote socket_server and
// emits what the server sends back; the server does the mirror image for a
// single peer at a time. Both sides exchange the JSON envelope frames
// produced by Codec, optionally encrypted with a shared Fernet key that is
// configured out of band.
//
// A second peer that connects while a handler is active is closed with
// code 1013 (try again later). Messages the server would send that are
// older than the current connection are dropped, and everything still
// queued when a peer leaves is discarded.
package bridge
