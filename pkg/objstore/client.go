package objstore

import (
	"context"
	"io"

	"github.com/ValerySidorin/zoomgrab/pkg/objstore/minio"
	"github.com/pkg/errors"
)

const (
	Bucket = "zoomgrab"
)

type Config struct {
	Store string       `yaml:"store"`
	Minio minio.Config `yaml:"minio"`
}

// Writer archives completed recordings to durable object storage.
type Writer interface {
	Store(ctx context.Context, recordingID string, r io.Reader) error
}

func NewWriter(cfg Config, bucket string) (Writer, error) {
	switch cfg.Store {
	case "minio":
		return minio.NewWriter(cfg.Minio, bucket)
	}

	return nil, errors.Errorf("invalid store for writer: %s", cfg.Store)
}
