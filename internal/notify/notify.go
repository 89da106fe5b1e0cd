// Package notify carries committed seat changes to live clients, either
// straight into the local hub or through NATS so several front ends can
// share one allocator.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/iliyamo/event-booking/internal/broadcast"
	"github.com/iliyamo/event-booking/internal/model"
)

// Frame types on the live connection.
const (
	TypeSeatUpdate = "seat_update"
	TypeSnapshot   = "snapshot"
	TypeError      = "error"
)

// Message is the envelope of every server to client frame.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// ErrorData is the payload of an error frame.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Encode builds one frame.
func Encode(typ string, data any) ([]byte, error) {
	return json.Marshal(Message{Type: typ, Data: data})
}

// Notifier delivers a committed seat change.  Implementations are
// best-effort; a returned error is for logging only.
type Notifier interface {
	Notify(ctx context.Context, change model.SeatChange) error
}

// Local broadcasts seat changes through an in-process hub.
type Local struct {
	hub *broadcast.Hub
	log *slog.Logger
}

// NewLocal returns a Local notifier for hub.
func NewLocal(hub *broadcast.Hub, log *slog.Logger) *Local {
	return &Local{hub: hub, log: log}
}

func (l *Local) Notify(ctx context.Context, change model.SeatChange) error {
	msg, err := Encode(TypeSeatUpdate, change)
	if err != nil {
		return err
	}
	n := l.hub.Broadcast(ctx, change.EventID, msg)
	l.log.Debug("seat change broadcast",
		slog.String("event_id", change.EventID),
		slog.String("kind", string(change.Kind)),
		slog.Int64("version", change.Version),
		slog.Int("delivered", n))
	return nil
}

// Multi fans a change out to several notifiers and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, change model.SeatChange) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, change); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
