// Package websocket carries the platform's signaling channels over
// gorilla/websocket.
//
// Every channel speaks the same framing: JSON objects discriminated by a
// "type" field. A connection opens, sends an auth frame, receives a cookies
// frame with its session id, and from then on exchanges channel-specific
// frames. Failures surface as error frames on the offending connection;
// they never close the socket.
//
// # Channels
//
// Five channel kinds exist. Invitations and notifications are per-user
// fanout channels, chat is point-to-point relay, game channels are scoped
// to a single game session and relay paddle/ball snapshots, and the
// tournament channel drives room membership.
//
// # Pumps
//
// Each client runs a read pump and a write pump. The read pump owns the
// socket's inbound side and enforces the pong deadline; the write pump owns
// the outbound side and the ping ticker. All frame handling happens on the
// read pump goroutine, so per-connection dispatch is serial.
package websocket
