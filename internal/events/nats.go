package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

var _ Publisher = (*NATS)(nil)

// NATS publishes events as JSON messages on the Subject* subjects.
type NATS struct {
	conn *nats.Conn
}

// NewNATS connects to url. The connection reconnects forever; disconnects
// and reconnects are logged.
func NewNATS(url string, logger *slog.Logger) (*NATS, error) {
	conn, err := nats.Connect(url,
		nats.Name("vibehub"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", slog.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("events: connecting to nats: %w", err)
	}
	return &NATS{conn: conn}, nil
}

func (n *NATS) PublishVibeCreated(_ context.Context, e VibeCreated) error {
	return n.publish(SubjectVibeCreated, e)
}

func (n *NATS) PublishVibeDeleted(_ context.Context, e VibeDeleted) error {
	return n.publish(SubjectVibeDeleted, e)
}

func (n *NATS) PublishVoteCast(_ context.Context, e VoteCast) error {
	return n.publish(SubjectVoteCast, e)
}

func (n *NATS) publish(subject string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("events: encoding %s: %w", subject, err)
	}
	if err := n.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("events: publishing %s: %w", subject, err)
	}
	return nil
}

// Conn exposes the connection for subscribers.
func (n *NATS) Conn() *nats.Conn { return n.conn }

// Ping round-trips to the server. Used by the health check.
func (n *NATS) Ping(ctx context.Context) error {
	return n.conn.FlushWithContext(ctx)
}

// Close flushes buffered messages and closes the connection.
func (n *NATS) Close() error {
	return n.conn.Drain()
}
