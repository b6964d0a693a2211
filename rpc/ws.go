package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"escrowauction/core/events"
	"escrowauction/observability"
)

const (
	wsWriteTimeout = 10 * time.Second
)

// handleEventsWS streams committed events. Clients resume with ?cursor=<seq>
// and may narrow the stream with ?types=a,b.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	if _, authErr := s.auth.resolve(r); authErr != nil {
		http.Error(w, authErr.Message, http.StatusUnauthorized)
		return
	}
	cursor := strings.TrimSpace(r.URL.Query().Get("cursor"))
	filter := parseTypeFilter(r.URL.Query().Get("types"))
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")
	// reads are only drained to observe the client closing
	ctx := conn.CloseRead(r.Context())
	if err := s.streamEvents(ctx, conn, cursor, filter); err != nil {
		if status := websocket.CloseStatus(err); status == -1 {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) streamEvents(ctx context.Context, conn *websocket.Conn, cursor string, filter map[string]struct{}) error {
	hub := s.host.Hub()
	updates, cancel, backlog := hub.Subscribe(ctx, cursor)
	defer func() {
		cancel()
		observability.Auction().SetSubscribers(hub.Subscribers())
	}()
	observability.Auction().SetSubscribers(hub.Subscribers())

	last := cursor
	for _, rec := range backlog {
		if err := writeRecord(ctx, conn, rec, filter); err != nil {
			return err
		}
		last = rec.Cursor
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case rec, ok := <-updates:
			if !ok {
				if err := ctx.Err(); err != nil {
					return err
				}
				// the hub dropped this subscriber for falling behind
				return conn.Close(websocket.StatusTryAgainLater, "stream lagged, resume from cursor "+last)
			}
			if err := writeRecord(ctx, conn, rec, filter); err != nil {
				return err
			}
			last = rec.Cursor
		}
	}
}

func parseTypeFilter(raw string) map[string]struct{} {
	var filter map[string]struct{}
	for _, part := range strings.Split(raw, ",") {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		if filter == nil {
			filter = make(map[string]struct{})
		}
		filter[trimmed] = struct{}{}
	}
	return filter
}

func writeRecord(ctx context.Context, conn *websocket.Conn, rec events.Record, filter map[string]struct{}) error {
	if filter != nil && rec.Event != nil {
		if _, ok := filter[rec.Event.Type]; !ok {
			return nil
		}
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
