package queue

import (
	"github.com/ValerySidorin/zoomgrab/pkg/queue/message"
	"github.com/ValerySidorin/zoomgrab/pkg/queue/nats"
	"github.com/go-kit/log"
	"github.com/pkg/errors"
)

type Config struct {
	Type string      `yaml:"type"`
	Nats nats.Config `yaml:"nats"`
}

// Publisher announces acquisition outcomes. Consumers live downstream
// and own their subscriptions; this side only publishes.
type Publisher interface {
	Pub(channel string, msg *message.Message) error
}

func NewPublisher(cfg Config, log log.Logger) (Publisher, error) {
	switch cfg.Type {
	case "nats":
		return nats.NewNatsClient(cfg.Nats, log)
	default:
		return nil, errors.New("invalid queue type")
	}
}
