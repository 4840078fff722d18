package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/RenatoCabral2022/segment-recorder/internal/metrics"
)

// NATS publishes events as JSON on {prefix}.{subject}.
type NATS struct {
	conn   *nats.Conn
	prefix string
	logger *zap.Logger
}

// Connect dials the broker. The connection retries in the background, so an
// unreachable broker at startup does not fail the daemon.
func Connect(url, token, prefix string, logger *zap.Logger) (*NATS, error) {
	opts := []nats.Option{
		nats.Name("segment-recorder"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &NATS{conn: nc, prefix: prefix, logger: logger}, nil
}

// Subject returns the full subject for a relative one.
func (n *NATS) Subject(subject string) string {
	if n.prefix == "" {
		return subject
	}
	return n.prefix + "." + subject
}

func (n *NATS) Publish(subject string, data any) error {
	full := n.Subject(subject)
	payload, err := json.Marshal(data)
	if err != nil {
		metrics.EventsPublishedTotal.WithLabelValues(subject, "error").Inc()
		return fmt.Errorf("marshal payload: %w", err)
	}
	if err := n.conn.Publish(full, payload); err != nil {
		metrics.EventsPublishedTotal.WithLabelValues(subject, "error").Inc()
		return fmt.Errorf("publish %s: %w", full, err)
	}
	metrics.EventsPublishedTotal.WithLabelValues(subject, "ok").Inc()
	return nil
}

// Conn exposes the underlying connection.
func (n *NATS) Conn() *nats.Conn {
	return n.conn
}

func (n *NATS) Close() {
	if err := n.conn.Drain(); err != nil {
		n.conn.Close()
	}
}
