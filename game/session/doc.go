// Package session implements the game session registry for the Pong
// coordinator.
//
// The session package implements:
//   - Thread-safe game session storage and retrieval
//   - Unique game ID generation
//   - Atomic paddle role assignment (left, right, spectator)
//   - Opaque game-state snapshot storage
//   - Completion, match-result recording, and grace-period eviction
//
// Role Assignment:
//
// Roles are not chosen at creation time. The first distinct user to attach
// to the game channel takes the left paddle, the second takes the right, and
// everyone after that spectates. Attach runs entirely under the manager lock,
// so two sockets attaching at the same instant can never both be assigned
// left.
//
// Reclaim Policy:
//
// What happens to a paddle slot whose owner disconnects is deliberately a
// configuration choice, not an inference. ReclaimSameUser keeps the
// assignment so the same user id gets the slot back on reconnect;
// ForfeitOnDisconnect releases it permanently.
//
// Snapshots:
//
// The State snapshot (paddle positions, ball position, scores, game-over
// flag) is produced by the clients' physics loops. The manager stores the
// latest snapshot and the transport relays it; neither interprets it.
//
// Lifecycle:
//
// A game is owned by the manager from Create until either Complete (which
// records the result through the Recorder collaborator) or until all
// participants have been detached past the grace period, after which
// CleanupExpired evicts it.
package session
