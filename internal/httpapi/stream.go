package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"sidra.tn/internal/realtime"
)

// streamToken pulls the realtime credential from the query string or the
// Authorization header. Empty is fine: the hub binds an anonymous
// identity.
func streamToken(r *http.Request) string {
	if t := r.URL.Query().Get("access_token"); t != "" {
		return t
	}
	if t, err := extractBearerToken(r.Header.Get(authHeader)); err == nil {
		return t
	}
	return ""
}

// Stream serves the realtime channel over Server-Sent Events. Requested
// destinations go through the destination policy; a denied subscription
// surfaces as an error frame on the stream, not as an HTTP failure.
func (a *API) Stream(w http.ResponseWriter, r *http.Request) {
	if a.hub == nil {
		writeError(w, http.StatusServiceUnavailable, "streaming disabled")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	conn := a.hub.Connect(r.Context(), streamToken(r))
	defer a.hub.Disconnect(conn)

	for _, dest := range splitDestinations(r.URL.Query().Get("destinations")) {
		// Denial already pushed as an error frame on the stream.
		_ = a.hub.HandleFrame(conn, realtime.Frame{Type: realtime.FrameSubscribe, Destination: dest})
	}

	_, _ = w.Write([]byte(": stream started\n\n"))
	flusher.Flush()

	for frame := range conn.Frames() {
		payload, err := json.Marshal(frame)
		if err != nil {
			continue
		}
		_, _ = w.Write([]byte("event: " + string(frame.Type) + "\n"))
		_, _ = w.Write([]byte("data: "))
		_, _ = w.Write(payload)
		_, _ = w.Write([]byte("\n\n"))
		flusher.Flush()
	}
}

type publishRequest struct {
	Destination string          `json:"destination"`
	Body        json.RawMessage `json:"body"`
}

// StreamPublish sends one frame through the destination policy using an
// ephemeral connection bound to the caller's token.
func (a *API) StreamPublish(w http.ResponseWriter, r *http.Request) {
	if a.hub == nil {
		writeError(w, http.StatusServiceUnavailable, "streaming disabled")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req publishRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conn := a.hub.Connect(r.Context(), streamToken(r))
	defer a.hub.Disconnect(conn)

	frame := realtime.Frame{Type: realtime.FrameSend, Destination: req.Destination, Body: req.Body}
	if err := a.hub.HandleFrame(conn, frame); err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":      "published",
		"destination": req.Destination,
	})
}

// StreamPing answers on the caller's private queue, reaching any live
// stream the caller holds.
func (a *API) StreamPing(w http.ResponseWriter, r *http.Request) {
	if a.hub == nil {
		writeError(w, http.StatusServiceUnavailable, "streaming disabled")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	conn := a.hub.Connect(r.Context(), streamToken(r))
	defer a.hub.Disconnect(conn)
	a.hub.Ping(conn)

	id := conn.Identity()
	dest := ""
	if id.Authenticated {
		dest = realtime.UserQueue(id.Actor.ID)
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":      "pong_sent",
		"destination": dest,
	})
}

func splitDestinations(raw string) []string {
	var out []string
	for _, d := range strings.Split(raw, ",") {
		if d = strings.TrimSpace(d); d != "" {
			out = append(out, d)
		}
	}
	return out
}
