package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// publisher is the part of *nats.Conn the sink uses.
type publisher interface {
	Publish(subject string, data []byte) error
}

// NATSSink publishes notifications on <prefix>.<user id> so a chat gateway
// can subscribe per user or with a wildcard.
type NATSSink struct {
	conn   publisher
	prefix string
}

const defaultSubjectPrefix = "agrotasks.notify"

func NewNATSSink(conn *nats.Conn, prefix string) *NATSSink {
	if prefix = strings.Trim(prefix, ". "); prefix == "" {
		prefix = defaultSubjectPrefix
	}
	return &NATSSink{conn: conn, prefix: prefix}
}

// ConnectNATS dials url with reconnects enabled.
func ConnectNATS(url string) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name("agrotasks"),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return conn, nil
}

func (*NATSSink) Name() string { return "nats" }

func (s *NATSSink) Subject(userID int64) string {
	return fmt.Sprintf("%s.%d", s.prefix, userID)
}

func (s *NATSSink) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled before publish: %w", err)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return s.conn.Publish(s.Subject(msg.UserID), data)
}
