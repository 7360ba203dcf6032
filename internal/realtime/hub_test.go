package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"sidra.tn/internal/auth"
)

// fakeValidator resolves tokens of the form "<id>:<role>:<structure>".
func fakeValidator(token string) (*auth.Claims, error) {
	parts := strings.Split(token, ":")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return nil, auth.ErrInvalidToken
	}
	return &auth.Claims{
		Role:        parts[1],
		StructureID: parts[2],
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: parts[0],
		},
	}, nil
}

func newTestHub() *Hub {
	return NewHub(NewAuthenticator(fakeValidator))
}

// nextFrame drains one frame or fails.
func nextFrame(t *testing.T, c *Conn) Frame {
	t.Helper()
	select {
	case f, ok := <-c.Frames():
		if !ok {
			t.Fatal("connection closed")
		}
		return f
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
	}
	return Frame{}
}

func expectNoFrame(t *testing.T, c *Conn) {
	t.Helper()
	select {
	case f := <-c.Frames():
		t.Fatalf("unexpected frame: %+v", f)
	default:
	}
}

func connect(t *testing.T, h *Hub, token string) *Conn {
	t.Helper()
	c := h.Connect(context.Background(), token)
	f := nextFrame(t, c)
	if f.Type != FrameConnected {
		t.Fatalf("expected connected frame, got %+v", f)
	}
	return c
}

func TestConnectBindsIdentity(t *testing.T) {
	h := newTestHub()

	c := connect(t, h, "7:UTILISATEUR:A")
	id := c.Identity()
	if !id.Authenticated || id.Actor.ID != "7" || id.Actor.Role != auth.RoleStandardUser {
		t.Fatalf("unexpected identity: %+v", id)
	}

	// A bad token still completes the handshake, as anonymous.
	anon := connect(t, h, "garbage")
	if anon.Identity().Authenticated {
		t.Fatal("invalid token produced an authenticated session")
	}

	// Pending accounts are policy-equivalent to anonymous.
	pending := connect(t, h, "p1:PENDING:A")
	if pending.Identity().Authenticated {
		t.Fatal("pending account bound as authenticated")
	}
}

func TestSubscribeUserQueue(t *testing.T) {
	h := newTestHub()

	user7 := connect(t, h, "7:UTILISATEUR:A")
	if err := user7.Subscribe(UserQueue("7")); err != nil {
		t.Fatalf("subscribe own queue: %v", err)
	}

	err := user7.Subscribe(UserQueue("8"))
	if !errors.Is(err, auth.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	f := nextFrame(t, user7)
	if f.Type != FrameError || f.Destination != UserQueue("8") {
		t.Fatalf("expected error frame for denied subscribe, got %+v", f)
	}

	// Anonymous sessions are denied on every private queue.
	anon := connect(t, h, "")
	for _, dest := range []string{UserQueue("7"), UserQueue("8")} {
		if err := anon.Subscribe(dest); !errors.Is(err, auth.ErrForbidden) {
			t.Fatalf("anonymous subscribe on %s: %v", dest, err)
		}
		nextFrame(t, anon) // error frame
	}

	// The connection outlives denials.
	if err := h.HandleFrame(anon, Frame{Type: FrameHeartbeat}); err != nil {
		t.Fatalf("heartbeat after denial: %v", err)
	}
}

func TestPublishAdminBroadcast(t *testing.T) {
	h := newTestHub()

	sa := connect(t, h, "sa:SUPER_ADMIN:")
	structAdmin := connect(t, h, "a1:ADMIN_STRUCTURE:B")
	user := connect(t, h, "u1:UTILISATEUR:A")

	if err := structAdmin.Subscribe(DestAdminNotifications); err != nil {
		t.Fatalf("structure admin subscribe: %v", err)
	}
	if err := user.Subscribe(DestAdminNotifications); !errors.Is(err, auth.ErrForbidden) {
		t.Fatalf("standard user subscribed to admin channel: %v", err)
	}
	nextFrame(t, user) // error frame

	// Structure admin may receive but not send.
	if err := h.Publish(structAdmin, DestAdminNotifications, json.RawMessage(`{"msg":"hi"}`)); !errors.Is(err, auth.ErrForbidden) {
		t.Fatalf("structure admin published admin broadcast: %v", err)
	}
	nextFrame(t, structAdmin) // error frame

	if err := h.Publish(sa, DestAdminNotifications, json.RawMessage(`{"msg":"maintenance"}`)); err != nil {
		t.Fatalf("super admin publish: %v", err)
	}

	got := nextFrame(t, structAdmin)
	if got.Type != FrameMessage || got.Destination != DestAdminNotifications {
		t.Fatalf("unexpected frame: %+v", got)
	}
	if got.Sender != "sa" {
		t.Fatalf("sender not stamped server-side: %+v", got)
	}
	if got.Timestamp.IsZero() {
		t.Fatal("timestamp not stamped")
	}

	// The non-subscriber saw nothing.
	expectNoFrame(t, user)
}

func TestHandleFrameDispatch(t *testing.T) {
	h := newTestHub()

	user := connect(t, h, "7:UTILISATEUR:A")
	if err := h.HandleFrame(user, Frame{Type: FrameSubscribe, Destination: UserQueue("7")}); err != nil {
		t.Fatalf("subscribe via frame: %v", err)
	}

	sa := connect(t, h, "sa:SUPER_ADMIN:")
	if err := h.HandleFrame(sa, Frame{Type: FrameSend, Destination: UserQueue("7"), Body: json.RawMessage(`1`)}); !errors.Is(err, auth.ErrForbidden) {
		t.Fatalf("super admin published to a foreign private queue: %v", err)
	}

	if err := h.HandleFrame(user, Frame{Type: FrameType("gossip")}); err != nil {
		t.Fatalf("unknown frame type must not error the transport: %v", err)
	}
	f := nextFrame(t, user)
	if f.Type != FrameError {
		t.Fatalf("expected error frame for unknown type, got %+v", f)
	}

	if err := h.HandleFrame(user, Frame{Type: FrameDisconnect}); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if _, ok := <-user.Frames(); ok {
		t.Fatal("expected closed frame channel after disconnect")
	}
}

func TestPingReachesLiveSessions(t *testing.T) {
	h := newTestHub()

	// A live session of the user, subscribed to its private queue.
	viewer := connect(t, h, "7:UTILISATEUR:A")
	if err := viewer.Subscribe(UserQueue("7")); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	// The ping arrives on a second, short-lived connection of the same
	// user; the pong must still land on the live session.
	pinger := connect(t, h, "7:UTILISATEUR:A")
	h.Ping(pinger)
	h.Disconnect(pinger)

	f := nextFrame(t, viewer)
	if f.Type != FrameMessage || f.Destination != UserQueue("7") {
		t.Fatalf("unexpected pong frame: %+v", f)
	}
	var body map[string]any
	if err := json.Unmarshal(f.Body, &body); err != nil || body["type"] != "PONG" {
		t.Fatalf("unexpected pong body: %s err=%v", f.Body, err)
	}
}

func TestPingAnonymousAnsweredDirectly(t *testing.T) {
	h := newTestHub()

	anon := connect(t, h, "")
	h.Ping(anon)
	f := nextFrame(t, anon)
	if f.Type != FrameMessage || f.Destination != "" {
		t.Fatalf("unexpected pong frame: %+v", f)
	}
	var body map[string]any
	if err := json.Unmarshal(f.Body, &body); err != nil || body["type"] != "PONG" {
		t.Fatalf("unexpected pong body: %s err=%v", f.Body, err)
	}
}

func TestContextDisconnects(t *testing.T) {
	h := newTestHub()
	ctx, cancel := context.WithCancel(context.Background())
	c := h.Connect(ctx, "7:UTILISATEUR:A")
	nextFrame(t, c)

	cancel()
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-c.Frames():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("connection not closed after context cancel")
		}
	}
}
