package nats

import (
	"github.com/ValerySidorin/zoomgrab/pkg/queue/message"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
)

type Config struct {
	Url string `yaml:"url"`
}

type NatsClient struct {
	conn *nats.Conn
	log  log.Logger
}

func NewNatsClient(cfg Config, log log.Logger) (*NatsClient, error) {
	conn, err := nats.Connect(cfg.Url)
	if err != nil {
		return nil, errors.Wrap(err, "initialize nats connection")
	}

	level.Debug(log).Log("msg", "connected to nats", "url", cfg.Url)

	return &NatsClient{
		conn: conn,
		log:  log,
	}, nil
}

func (n *NatsClient) Pub(channel string, msg *message.Message) error {
	if err := n.conn.Publish(channel, []byte(msg.String())); err != nil {
		return errors.Wrap(err, "nats publish")
	}

	return nil
}
