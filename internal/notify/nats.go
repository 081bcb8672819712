package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

type publisher interface {
	Publish(subject string, data []byte) error
}

// NATS publishes signals as JSON on a subject.
type NATS struct {
	conn    publisher
	subject string
	close   func()
}

// DialNATS connects to url and publishes on subject.
func DialNATS(url, subject string) (*NATS, error) {
	nc, err := nats.Connect(url,
		nats.Name("dossierline"),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return &NATS{conn: nc, subject: subject, close: nc.Close}, nil
}

func (n *NATS) QuoteReady(ctx context.Context, sig QuoteReady) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled before publish: %w", err)
	}
	data, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("marshal quote signal: %w", err)
	}
	if err := n.conn.Publish(n.subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", n.subject, err)
	}
	return nil
}

func (n *NATS) Close() {
	if n.close != nil {
		n.close()
	}
}
