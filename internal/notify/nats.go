package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/iliyamo/event-booking/internal/model"
)

// DefaultSubjectPrefix is the NATS subject root for seat changes.
const DefaultSubjectPrefix = "seats"

// ConnectNATS dials url and keeps reconnecting forever, logging state
// changes.
func ConnectNATS(url, name string, log *slog.Logger) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("nats disconnected", slog.Any("error", err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			log.Error("nats error", slog.String("subject", subject), slog.Any("error", err))
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return nc, nil
}

// Subject returns the subject seat changes of eventID are published on.
func Subject(prefix, eventID string) string { return prefix + "." + eventID }

// NATSPublisher publishes seat changes as JSON on <prefix>.<eventID>.
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
}

// NewNATSPublisher returns a publisher on nc.  An empty prefix means
// DefaultSubjectPrefix.
func NewNATSPublisher(nc *nats.Conn, prefix string) *NATSPublisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSPublisher{nc: nc, prefix: prefix}
}

func (p *NATSPublisher) Notify(_ context.Context, change model.SeatChange) error {
	body, err := json.Marshal(change)
	if err != nil {
		return err
	}
	if err := p.nc.Publish(Subject(p.prefix, change.EventID), body); err != nil {
		return fmt.Errorf("publish seat change: %w", err)
	}
	return nil
}

// RelayNATS subscribes to every seat change under prefix and hands each
// to local, typically the hub of this process.  Unsubscribe or drain the
// returned subscription to stop.
func RelayNATS(nc *nats.Conn, prefix string, local Notifier, log *slog.Logger) (*nats.Subscription, error) {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	sub, err := nc.Subscribe(prefix+".>", relayHandler(local, log))
	if err != nil {
		return nil, fmt.Errorf("subscribe %s.>: %w", prefix, err)
	}
	return sub, nil
}

func relayHandler(local Notifier, log *slog.Logger) nats.MsgHandler {
	return func(m *nats.Msg) {
		var change model.SeatChange
		if err := json.Unmarshal(m.Data, &change); err != nil {
			log.Warn("dropping malformed seat change", slog.String("subject", m.Subject), slog.Any("error", err))
			return
		}
		if change.EventID == "" {
			log.Warn("dropping seat change without event id", slog.String("subject", m.Subject))
			return
		}
		if err := local.Notify(context.Background(), change); err != nil {
			log.Warn("relay seat change", slog.String("event_id", change.EventID), slog.Any("error", err))
		}
	}
}
