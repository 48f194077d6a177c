// Package invite routes friend-to-friend game invitations between the live
// connections of two specific users. Invitations are ephemeral signaling
// state: nothing here is persisted and nothing is queued for offline users.
package invite

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/paddleclash/coordinator/registry"
)

var (
	ErrInviteeOffline = errors.New("invitee has no live connections")
	ErrInviterOffline = errors.New("inviter has no live connections")
)

// InviteNotice is the frame delivered to the invitee's invitation-channel
// connections.
type InviteNotice struct {
	Type       string `json:"type"` // "invite"
	FromUserID string `json:"fromUserId"`
}

// GameStartNotice is the frame relayed back to the original inviter once the
// invitee has created the game. Duplicate deliveries for the same game id are
// safe for clients to ignore; the broker does not deduplicate. That burden
// sits with the consumer by contract.
type GameStartNotice struct {
	Type       string `json:"type"` // "game_start"
	FromUserID string `json:"fromUserId"`
	GameID     string `json:"gameId"`
}

// Invitation is the ephemeral record of one outstanding invite.
type Invitation struct {
	Inviter   string
	Invitee   string
	CreatedAt time.Time
}

type pairKey struct {
	inviter string
	invitee string
}

// Broker delivers invite and game_start signaling frames. At most one
// invitation is live per ordered (inviter, invitee) pair; a repeated invite
// supersedes the previous one rather than duplicating it.
type Broker struct {
	mu      sync.Mutex
	pending map[pairKey]Invitation

	conns  *registry.Registry
	logger *zap.Logger
	now    func() time.Time
}

// NewBroker creates an invitation broker backed by the connection registry.
func NewBroker(conns *registry.Registry, logger *zap.Logger) *Broker {
	return &Broker{
		pending: make(map[pairKey]Invitation),
		conns:   conns,
		logger:  logger.Named("invite"),
		now:     time.Now,
	}
}

// Invite delivers an invite frame to all of the invitee's live
// invitation-channel connections. The invitee must be online: with zero live
// connections the invite is dropped and ErrInviteeOffline returned, which
// callers report to the originator as a typed failure frame, never as a
// coordinator failure.
func (b *Broker) Invite(fromUserID, toUserID string) error {
	targets := b.conns.ConnectionsByUser(toUserID, registry.ChannelInvitations)
	if len(targets) == 0 {
		b.logger.Debug("invite dropped, invitee offline",
			zap.String("from", fromUserID),
			zap.String("to", toUserID),
		)
		return ErrInviteeOffline
	}

	b.mu.Lock()
	b.pending[pairKey{fromUserID, toUserID}] = Invitation{
		Inviter:   fromUserID,
		Invitee:   toUserID,
		CreatedAt: b.now(),
	}
	b.mu.Unlock()

	notice := InviteNotice{Type: "invite", FromUserID: fromUserID}
	for _, conn := range targets {
		conn.Send(notice)
	}

	b.logger.Info("invite delivered",
		zap.String("from", fromUserID),
		zap.String("to", toUserID),
		zap.Int("connections", len(targets)),
	)
	return nil
}

// AcceptAndStart relays a game_start frame carrying the new game id back to
// the original inviter. fromUserID is the accepting party (the invitee), who
// has already created the game session on its own; toUserID is the inviter.
// The pending invitation for the pair, if any, is cleared.
func (b *Broker) AcceptAndStart(fromUserID, toUserID, gameID string) error {
	b.mu.Lock()
	delete(b.pending, pairKey{inviter: toUserID, invitee: fromUserID})
	b.mu.Unlock()

	targets := b.conns.ConnectionsByUser(toUserID, registry.ChannelInvitations)
	if len(targets) == 0 {
		return ErrInviterOffline
	}

	notice := GameStartNotice{Type: "game_start", FromUserID: fromUserID, GameID: gameID}
	for _, conn := range targets {
		conn.Send(notice)
	}

	b.logger.Info("game start relayed",
		zap.String("from", fromUserID),
		zap.String("to", toUserID),
		zap.String("gameID", gameID),
	)
	return nil
}

// Pending returns the live invitation for an (inviter, invitee) pair.
func (b *Broker) Pending(fromUserID, toUserID string) (Invitation, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	inv, ok := b.pending[pairKey{fromUserID, toUserID}]
	return inv, ok
}

// Sweep expires invitations older than maxAge. Absence of action is a valid
// terminal state for an invitation, so sweeping only reclaims memory; no
// frames are sent. Returns the number expired.
func (b *Broker) Sweep(maxAge time.Duration) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	cutoff := b.now().Add(-maxAge)
	removed := 0
	for key, inv := range b.pending {
		if inv.CreatedAt.Before(cutoff) {
			delete(b.pending, key)
			removed++
		}
	}
	return removed
}
