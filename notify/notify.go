// Package notify implements best-effort advisory message delivery. There is
// no delivery guarantee, no retry, and no queueing for offline users.
package notify

import (
	"go.uber.org/zap"

	"github.com/paddleclash/coordinator/registry"
)

// MessageFrame is the advisory toast pushed to clients.
type MessageFrame struct {
	Type    string `json:"type"` // "message"
	Message string `json:"message"`
}

// Fanout pushes display strings to every live connection of a user.
type Fanout struct {
	conns  *registry.Registry
	logger *zap.Logger
}

// NewFanout creates a notification fanout backed by the connection registry.
func NewFanout(conns *registry.Registry, logger *zap.Logger) *Fanout {
	return &Fanout{
		conns:  conns,
		logger: logger.Named("notify"),
	}
}

// Notify delivers a message frame to all of the user's live
// notifications-channel connections. A user with zero live connections
// receives nothing; that is not an error.
func (f *Fanout) Notify(userID, message string) {
	f.NotifyOn(registry.ChannelNotifications, userID, message)
}

// NotifyOn delivers a message frame on a specific channel. The invitations
// channel also carries advisory toasts, so signaling flows can surface
// outcomes where the user is actually listening.
func (f *Fanout) NotifyOn(kind registry.ChannelKind, userID, message string) {
	targets := f.conns.ConnectionsByUser(userID, kind)
	if len(targets) == 0 {
		return
	}

	frame := MessageFrame{Type: "message", Message: message}
	delivered := 0
	for _, conn := range targets {
		if conn.Send(frame) {
			delivered++
		}
	}

	f.logger.Debug("notification fanned out",
		zap.String("userID", userID),
		zap.String("channel", string(kind)),
		zap.Int("delivered", delivered),
	)
}
