package fs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/ValerySidorin/zoomgrab/pkg/credstore/record"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
)

type Config struct {
	Dir string `yaml:"dir"`
}

// Store keeps one JSON file per recording reference under a directory.
// Writes go through a temp file and rename, so a reader never observes
// a partially written record.
type Store struct {
	cfg Config
	log log.Logger

	mtx sync.Mutex
}

func NewStore(cfg Config, log log.Logger) (*Store, error) {
	if cfg.Dir == "" {
		return nil, errors.New("fs credential store requires a dir")
	}

	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "fs credential store create dir")
	}

	return &Store{
		cfg: cfg,
		log: log,
	}, nil
}

func (s *Store) Load(ctx context.Context, reference string) (*record.Record, bool, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	data, err := os.ReadFile(s.path(reference))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}

		return nil, false, errors.Wrap(err, "fs credential store read record")
	}

	rec := record.Record{}
	if err := json.Unmarshal(data, &rec); err != nil {
		// A corrupt record is treated as absent: the store is an
		// optimization, and the next save overwrites it.
		level.Warn(s.log).Log("msg", "discarding corrupt credential record", "reference", reference, "err", err.Error())
		return nil, false, nil
	}

	return &rec, true, nil
}

func (s *Store) Save(ctx context.Context, rec *record.Record) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return errors.Wrap(err, "fs credential store marshal record")
	}

	path := s.path(rec.Reference)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return errors.Wrap(err, "fs credential store write record")
	}

	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrap(err, "fs credential store rename record")
	}

	return nil
}

func (s *Store) path(reference string) string {
	sum := sha256.Sum256([]byte(reference))
	return filepath.Join(s.cfg.Dir, hex.EncodeToString(sum[:8])+".json")
}
