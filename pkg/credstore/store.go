package credstore

import (
	"context"

	"github.com/ValerySidorin/zoomgrab/pkg/credstore/fs"
	"github.com/ValerySidorin/zoomgrab/pkg/credstore/pg"
	"github.com/ValerySidorin/zoomgrab/pkg/credstore/record"
	"github.com/go-kit/log"
	"github.com/pkg/errors"
)

type Config struct {
	Store string    `yaml:"store"`
	FS    fs.Config `yaml:"fs"`
	PG    pg.Config `yaml:"pg"`
}

// Store persists credential records keyed by recording reference.
// Save is last-write-wins per reference; Load and Save must be safe
// under concurrent access to distinct keys.
type Store interface {
	Load(ctx context.Context, reference string) (*record.Record, bool, error)
	Save(ctx context.Context, rec *record.Record) error
}

func NewStore(ctx context.Context, cfg Config, log log.Logger) (Store, error) {
	switch cfg.Store {
	case "fs":
		return fs.NewStore(cfg.FS, log)
	case "pg":
		return pg.NewStore(ctx, cfg.PG, log)
	case "":
		// Sessions must function correctly with the store absent.
		return nopStore{}, nil
	}

	return nil, errors.Errorf("invalid credential store: %s", cfg.Store)
}

type nopStore struct{}

func (nopStore) Load(ctx context.Context, reference string) (*record.Record, bool, error) {
	return nil, false, nil
}

func (nopStore) Save(ctx context.Context, rec *record.Record) error {
	return nil
}
