package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// Publisher is the subset of *nats.Conn used for delivery.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSNotifier publishes each notification on <prefix>.<channel>.
type NATSNotifier struct {
	Conn   Publisher
	Prefix string
	Now    func() time.Time
}

type natsMessage struct {
	Channel string `json:"channel"`
	Message string `json:"message"`
	TS      string `json:"ts"`
}

// DialNATS connects to url and returns a notifier plus the connection for shutdown.
func DialNATS(url, prefix string) (*NATSNotifier, *nats.Conn, error) {
	nc, err := nats.Connect(url, nats.Name("gateline"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return &NATSNotifier{Conn: nc, Prefix: prefix}, nc, nil
}

func (n NATSNotifier) Subject(channel string) string {
	prefix := strings.Trim(n.Prefix, ".")
	if prefix == "" {
		return channel
	}
	return prefix + "." + channel
}

func (n NATSNotifier) Notify(ctx context.Context, channel, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := time.Now
	if n.Now != nil {
		now = n.Now
	}
	data, err := json.Marshal(natsMessage{Channel: channel, Message: message, TS: now().UTC().Format(time.RFC3339)})
	if err != nil {
		return err
	}
	if err := n.Conn.Publish(n.Subject(channel), data); err != nil {
		return fmt.Errorf("nats publish %s: %w", n.Subject(channel), err)
	}
	return nil
}
