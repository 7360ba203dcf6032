package realtime

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"sidra.tn/internal/obs"
)

// connState tracks the per-connection lifecycle:
// connecting -> authenticated -> (subscribed)* -> closed. The identity is
// bound during Connect and never re-resolved mid-session.
type connState int

const (
	stateConnecting connState = iota
	stateAuthenticated
	stateClosed
)

const outboundBuffer = 16

// Hub fans frames out to all connections subscribed to a destination,
// enforcing the destination policy on every subscribe and publish.
// Connections share nothing mutable beyond the hub's registry.
type Hub struct {
	authn *Authenticator

	mu    sync.RWMutex
	conns map[int]*Conn
	next  int
}

// NewHub creates an empty hub over the given authenticator.
func NewHub(authn *Authenticator) *Hub {
	if authn == nil {
		authn = NewAuthenticator(nil)
	}
	return &Hub{authn: authn, conns: make(map[int]*Conn)}
}

// Conn is one realtime session. Its identity is immutable after the
// handshake; its subscription set grows and shrinks over the session.
type Conn struct {
	id  int
	hub *Hub

	identity Identity

	mu    sync.Mutex
	state connState
	subs  map[string]struct{}
	out   chan Frame
}

// Connect performs the handshake. An invalid credential does not reject
// the connection; see Authenticator.OnConnect. The connection is torn
// down when ctx ends.
func (h *Hub) Connect(ctx context.Context, rawToken string) *Conn {
	identity := h.authn.OnConnect(rawToken)

	c := &Conn{
		hub:      h,
		identity: identity,
		state:    stateAuthenticated,
		subs:     make(map[string]struct{}),
		out:      make(chan Frame, outboundBuffer),
	}

	h.mu.Lock()
	c.id = h.next
	h.next++
	h.conns[c.id] = c
	h.mu.Unlock()

	connected := Frame{Type: FrameConnected, Timestamp: time.Now().UTC()}
	if identity.Authenticated {
		connected.Sender = identity.Actor.ID
	}
	c.push(connected)

	go func() {
		<-ctx.Done()
		h.Disconnect(c)
	}()

	return c
}

// Disconnect closes the connection and releases its registration.
func (h *Hub) Disconnect(c *Conn) {
	h.mu.Lock()
	delete(h.conns, c.id)
	h.mu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == stateClosed {
		return
	}
	c.state = stateClosed
	close(c.out)
}

// Frames is the outbound stream for the transport layer to drain.
func (c *Conn) Frames() <-chan Frame { return c.out }

// Identity returns the identity bound at handshake time.
func (c *Conn) Identity() Identity { return c.identity }

// push delivers a frame, dropping it when the subscriber is slow so one
// stalled client cannot block the hub.
func (c *Conn) push(f Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == stateClosed {
		return
	}
	select {
	case c.out <- f:
	default:
	}
}

// pushError signals a denied or malformed frame back to the sender. The
// connection stays open: a denial is terminal for the frame, not the
// session.
func (c *Conn) pushError(dest string, reason string) {
	c.push(Frame{
		Type:        FrameError,
		Destination: dest,
		Error:       reason,
		Timestamp:   time.Now().UTC(),
	})
}

// Subscribe registers the connection on a destination after a policy
// check. Denials emit an error frame and return the denial.
func (c *Conn) Subscribe(dest string) error {
	decision := AuthorizeDestination(c.identity, dest, DirSubscribe)
	if !decision.Allowed {
		obs.RecordRealtimeDenied(string(DirSubscribe))
		c.pushError(dest, string(decision.Reason))
		return decision.Err()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == stateClosed {
		return nil
	}
	c.subs[dest] = struct{}{}
	return nil
}

// Unsubscribe removes a registration. Dropping a subscription needs no
// policy: it only narrows what the connection receives.
func (c *Conn) Unsubscribe(dest string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subs, dest)
}

// subscribedTo reports whether the connection's subscriptions cover dest.
func (c *Conn) subscribedTo(dest string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subs[dest]; ok {
		return true
	}
	for sub := range c.subs {
		if strings.HasSuffix(sub, ".*") && strings.HasPrefix(dest, sub[:len(sub)-1]) {
			return true
		}
	}
	return false
}

// Publish applies the publish policy for the sender, then fans the
// message out. The sender identity and timestamp are stamped server-side
// so they cannot be forged.
func (h *Hub) Publish(c *Conn, dest string, body json.RawMessage) error {
	decision := AuthorizeDestination(c.identity, dest, DirPublish)
	if !decision.Allowed {
		obs.RecordRealtimeDenied(string(DirPublish))
		c.pushError(dest, string(decision.Reason))
		return decision.Err()
	}

	frame := Frame{
		Type:        FrameMessage,
		Destination: dest,
		Body:        body,
		Sender:      c.identity.Actor.ID,
		Timestamp:   time.Now().UTC(),
	}
	h.fanOut(frame)
	return nil
}

// Broadcast delivers a server-originated frame, bypassing sender policy.
// Used by domain services to notify about federation and similar events;
// subscriber-side policy was already enforced at subscribe time.
func (h *Hub) Broadcast(dest string, body json.RawMessage) {
	h.fanOut(Frame{
		Type:        FrameMessage,
		Destination: dest,
		Body:        body,
		Timestamp:   time.Now().UTC(),
	})
}

func (h *Hub) fanOut(frame Frame) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.conns {
		if c.subscribedTo(frame.Destination) {
			c.push(frame)
		}
	}
}

// Ping answers a connectivity probe. The pong is fanned out on the
// sender's private queue so every live session of that user sees it,
// including sessions other than the one that pinged. Anonymous
// connections have no private queue and get the pong directly.
func (h *Hub) Ping(c *Conn) {
	body, _ := json.Marshal(map[string]any{
		"type":    "PONG",
		"message": "realtime channel operational",
	})
	if c.identity.Authenticated {
		h.Broadcast(UserQueue(c.identity.Actor.ID), body)
		return
	}
	c.push(Frame{
		Type:      FrameMessage,
		Body:      body,
		Timestamp: time.Now().UTC(),
	})
}

// HandleFrame dispatches one inbound frame from a transport. Lifecycle
// frames are accepted without a policy check; everything else goes
// through the destination policy. Unknown frame types are answered with
// an error frame rather than dropped silently.
func (h *Hub) HandleFrame(c *Conn, f Frame) error {
	if f.Type.Lifecycle() {
		if f.Type == FrameDisconnect {
			h.Disconnect(c)
		}
		return nil
	}
	switch f.Type {
	case FrameSubscribe:
		return c.Subscribe(f.Destination)
	case FrameUnsubscribe:
		c.Unsubscribe(f.Destination)
		return nil
	case FrameSend:
		return h.Publish(c, f.Destination, f.Body)
	default:
		c.pushError(f.Destination, "unsupported frame type")
		return nil
	}
}
