package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/event-booking/internal/allocator"
	"github.com/iliyamo/event-booking/internal/broadcast"
	"github.com/iliyamo/event-booking/internal/middleware"
	"github.com/iliyamo/event-booking/internal/model"
	"github.com/iliyamo/event-booking/internal/notify"
	"github.com/iliyamo/event-booking/internal/wsconn"
)

// LiveHandler upgrades GET /v1/live to a websocket and lets the client
// watch one event at a time.
type LiveHandler struct {
	hub          *broadcast.Hub
	svc          Booking
	upgrader     websocket.Upgrader
	writeTimeout time.Duration
	pongWait     time.Duration
	log          *slog.Logger
}

// NewLiveHandler returns a LiveHandler registering its connections on hub.
// A peer silent for longer than pongWait is disconnected.
func NewLiveHandler(hub *broadcast.Hub, svc Booking, writeTimeout, pongWait time.Duration, log *slog.Logger) *LiveHandler {
	return &LiveHandler{
		hub: hub,
		svc: svc,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The handshake is authenticated by token, not cookie, so a
			// foreign origin gains nothing.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		writeTimeout: writeTimeout,
		pongWait:     pongWait,
		log:          log,
	}
}

// clientMessage is a client to server frame.
type clientMessage struct {
	Type    string `json:"type"`
	EventID string `json:"event_id"`
}

// Serve runs one connection until the peer goes away, the hub drops it or
// the hub closes.  The connection is deregistered exactly once, on return.
func (h *LiveHandler) Serve(c echo.Context) error {
	subject, _ := middleware.Identity(c)
	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader has already answered the client.
		h.log.Debug("websocket upgrade failed", slog.Any("error", err))
		return nil
	}
	conn := wsconn.New(ws, wsconn.WithWriteWait(h.writeTimeout), wsconn.WithPongWait(h.pongWait))
	connID := uuid.NewString()
	log := h.log.With(slog.String("conn_id", connID), slog.String("subject_id", subject))

	if err := h.hub.Register(connID, subject, conn); err != nil {
		log.Info("live connection refused", slog.Any("error", err))
		_ = conn.Close()
		return nil
	}
	defer func() {
		h.hub.Deregister(connID)
		_ = conn.Close()
		log.Debug("live connection closed")
	}()
	go conn.KeepAlive()
	log.Debug("live connection opened")

	for {
		raw, err := conn.ReadMessage()
		if err != nil {
			if wsconn.IsUnexpectedClose(err) && conn.IsOpen() {
				log.Info("live connection read failed", slog.Any("error", err))
			}
			return nil
		}
		var msg clientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			h.sendError(conn, "BAD_REQUEST", "invalid message format")
			continue
		}
		switch msg.Type {
		case "subscribe":
			h.subscribe(conn, connID, msg.EventID)
		case "unsubscribe":
			h.hub.Unsubscribe(connID, msg.EventID)
		default:
			h.sendError(conn, "BAD_REQUEST", "unknown message type")
		}
	}
}

// subscribe joins the event's watcher set, then sends a snapshot read
// after joining.  The snapshot is written directly and may race a hub
// delivery; wsconn serializes the two writes.  A change committed in between can reach the client both
// as an update and inside the snapshot; the version field lets the client
// drop whichever is older.
func (h *LiveHandler) subscribe(conn *wsconn.Conn, connID, eventID string) {
	ctx, cancel := context.WithTimeout(context.Background(), h.writeTimeout)
	defer cancel()
	if _, err := h.svc.Event(ctx, eventID); err != nil {
		h.sendAllocatorError(conn, err)
		return
	}
	h.hub.Subscribe(connID, eventID)
	ev, err := h.svc.Event(ctx, eventID)
	if err != nil {
		h.sendAllocatorError(conn, err)
		return
	}
	snapshot := model.SeatChange{
		EventID:        ev.ID,
		AvailableSeats: ev.AvailableSeats,
		SeatCapacity:   ev.SeatCapacity,
		Version:        ev.Version,
		Timestamp:      time.Now().UTC(),
	}
	_ = conn.SendJSON(ctx, notify.Message{Type: notify.TypeSnapshot, Data: snapshot})
}

func (h *LiveHandler) sendAllocatorError(conn *wsconn.Conn, err error) {
	var ae *allocator.Error
	if errors.As(err, &ae) {
		h.sendError(conn, string(ae.Code), ae.Message)
		return
	}
	h.log.Error("live lookup failed", slog.Any("error", err))
	h.sendError(conn, "INTERNAL", "internal error")
}

func (h *LiveHandler) sendError(conn *wsconn.Conn, code, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), h.writeTimeout)
	defer cancel()
	_ = conn.SendJSON(ctx, notify.Message{Type: notify.TypeError, Data: notify.ErrorData{Code: code, Message: message}})
}
