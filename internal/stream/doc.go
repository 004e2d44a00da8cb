// Package stream is the observer side of the progress stream. It owns one
// websocket connection per run (a Session), drives the connection state
// machine, and decodes every inbound message once into tagged events. It
// never touches a progress.Model itself; events are handed to the caller in
// arrival order.
package stream
