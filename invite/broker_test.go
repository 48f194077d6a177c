package invite

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/paddleclash/coordinator/registry"
)

type fakeConn struct {
	id string

	mu   sync.Mutex
	sent []any
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(v any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, v)
	return true
}

func (c *fakeConn) frames() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]any(nil), c.sent...)
}

func connect(r *registry.Registry, id, userID string) *fakeConn {
	conn := &fakeConn{id: id}
	r.Register(conn, registry.ChannelInvitations, "")
	r.BindUser(id, userID)
	return conn
}

func TestBroker_Invite(t *testing.T) {
	t.Run("delivers to every invitee connection", func(t *testing.T) {
		r := registry.New(zap.NewNop())
		b := NewBroker(r, zap.NewNop())

		var tabs []*fakeConn
		for i := 0; i < 2; i++ {
			tabs = append(tabs, connect(r, fmt.Sprintf("bob%d", i), "bob"))
		}

		if err := b.Invite("alice", "bob"); err != nil {
			t.Fatalf("Invite failed: %v", err)
		}

		for i, tab := range tabs {
			frames := tab.frames()
			if len(frames) != 1 {
				t.Fatalf("Tab %d: expected 1 frame, got %d", i, len(frames))
			}
			notice, ok := frames[0].(InviteNotice)
			if !ok {
				t.Fatalf("Tab %d: unexpected frame %T", i, frames[0])
			}
			if notice.FromUserID != "alice" {
				t.Errorf("Expected frame from 'alice', got '%s'", notice.FromUserID)
			}
		}

		if _, ok := b.Pending("alice", "bob"); !ok {
			t.Error("Expected pending invitation after delivery")
		}
	})

	t.Run("offline invitee", func(t *testing.T) {
		r := registry.New(zap.NewNop())
		b := NewBroker(r, zap.NewNop())
		connect(r, "a1", "alice")

		err := b.Invite("alice", "bob")
		if !errors.Is(err, ErrInviteeOffline) {
			t.Fatalf("Expected ErrInviteeOffline, got %v", err)
		}
		if _, ok := b.Pending("alice", "bob"); ok {
			t.Error("Dropped invite left a pending record")
		}
	})

	t.Run("repeated invite supersedes", func(t *testing.T) {
		r := registry.New(zap.NewNop())
		b := NewBroker(r, zap.NewNop())
		bob := connect(r, "b1", "bob")

		b.Invite("alice", "bob")
		b.Invite("alice", "bob")

		if len(bob.frames()) != 2 {
			t.Errorf("Expected 2 delivered frames, got %d", len(bob.frames()))
		}
		if _, ok := b.Pending("alice", "bob"); !ok {
			t.Error("Expected a single pending invitation")
		}
	})
}

func TestBroker_AcceptAndStart(t *testing.T) {
	t.Run("relays game id to the inviter", func(t *testing.T) {
		r := registry.New(zap.NewNop())
		b := NewBroker(r, zap.NewNop())
		alice := connect(r, "a1", "alice")
		connect(r, "b1", "bob")

		b.Invite("alice", "bob")
		if err := b.AcceptAndStart("bob", "alice", "game-42"); err != nil {
			t.Fatalf("AcceptAndStart failed: %v", err)
		}

		frames := alice.frames()
		if len(frames) != 1 {
			t.Fatalf("Expected 1 frame for inviter, got %d", len(frames))
		}
		notice, ok := frames[0].(GameStartNotice)
		if !ok {
			t.Fatalf("Unexpected frame %T", frames[0])
		}
		if notice.GameID != "game-42" || notice.FromUserID != "bob" {
			t.Errorf("Wrong game_start frame: %+v", notice)
		}

		if _, ok := b.Pending("alice", "bob"); ok {
			t.Error("Pending invitation survived acceptance")
		}
	})

	t.Run("inviter went offline", func(t *testing.T) {
		r := registry.New(zap.NewNop())
		b := NewBroker(r, zap.NewNop())
		connect(r, "b1", "bob")

		err := b.AcceptAndStart("bob", "alice", "game-42")
		if !errors.Is(err, ErrInviterOffline) {
			t.Errorf("Expected ErrInviterOffline, got %v", err)
		}
	})
}

func TestBroker_Sweep(t *testing.T) {
	r := registry.New(zap.NewNop())
	b := NewBroker(r, zap.NewNop())
	connect(r, "b1", "bob")

	base := time.Now()
	b.now = func() time.Time { return base }
	b.Invite("alice", "bob")

	removed := b.Sweep(2 * time.Minute)
	if removed != 0 {
		t.Fatalf("Expected nothing swept yet, got %d", removed)
	}

	b.now = func() time.Time { return base.Add(5 * time.Minute) }
	removed = b.Sweep(2 * time.Minute)
	if removed != 1 {
		t.Fatalf("Expected 1 invitation swept, got %d", removed)
	}
	if _, ok := b.Pending("alice", "bob"); ok {
		t.Error("Swept invitation still pending")
	}
}
