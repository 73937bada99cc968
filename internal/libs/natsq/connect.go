package natsq

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
)

type Config struct {
	Name          string
	MaxReconnects int
}

func NewConnect(url string, cfg Config) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return nc, nil
}

// Bus adapts a NATS connection to the publish/request interfaces the
// services consume, keeping them testable without the host channel.
type Bus struct {
	nc *nats.Conn
}

func NewBus(nc *nats.Conn) *Bus {
	return &Bus{nc: nc}
}

func (b *Bus) Publish(subject string, data []byte) error {
	return b.nc.Publish(subject, data)
}

func (b *Bus) Request(ctx context.Context, subject string, data []byte) ([]byte, error) {
	msg, err := b.nc.RequestWithContext(ctx, subject, data)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", subject, err)
	}
	return msg.Data, nil
}
