package pg

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/ValerySidorin/zoomgrab/pkg/credstore/record"
	"github.com/go-kit/log"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
)

type Config struct {
	Conn string `yaml:"conn"`
}

// querier is the subset of pgx.Conn the store uses. A single pgx
// connection is not safe for concurrent use, so every call holds the
// store's mutex.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close(ctx context.Context) error
}

type Store struct {
	cfg Config
	log log.Logger

	mtx  sync.Mutex
	conn querier
}

func NewStore(ctx context.Context, cfg Config, log log.Logger) (*Store, error) {
	conn, err := pgx.Connect(ctx, cfg.Conn)
	if err != nil {
		return nil, errors.Wrap(err, "pg credential store init conn")
	}

	q := `create table if not exists public.credentials
	(reference text primary key, cookies jsonb not null, asset_url text not null, csrf_token text not null, saved_at timestamptz not null);`
	if _, err := conn.Exec(ctx, q); err != nil {
		return nil, errors.Wrap(err, "pg credential store init credentials table")
	}

	return &Store{
		cfg:  cfg,
		log:  log,
		conn: conn,
	}, nil
}

func (s *Store) Load(ctx context.Context, reference string) (*record.Record, bool, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	q := `select reference, cookies, asset_url, csrf_token, saved_at from credentials where reference = $1;`

	rec := record.Record{}
	var cookies []byte
	err := s.conn.QueryRow(ctx, q, reference).Scan(&rec.Reference, &cookies, &rec.AssetURL, &rec.CSRFToken, &rec.SavedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}

		return nil, false, errors.Wrap(err, "pg credential store query record")
	}

	if err := json.Unmarshal(cookies, &rec.Cookies); err != nil {
		return nil, false, errors.Wrap(err, "pg credential store unmarshal cookies")
	}

	return &rec, true, nil
}

// Save upserts by reference. Last write wins; there is no merge.
func (s *Store) Save(ctx context.Context, rec *record.Record) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	cookies, err := json.Marshal(rec.Cookies)
	if err != nil {
		return errors.Wrap(err, "pg credential store marshal cookies")
	}

	q := `insert into credentials(reference, cookies, asset_url, csrf_token, saved_at)
	values($1, $2, $3, $4, $5)
	on conflict (reference) do update
	set cookies = excluded.cookies,
	asset_url = excluded.asset_url,
	csrf_token = excluded.csrf_token,
	saved_at = excluded.saved_at;`

	if _, err := s.conn.Exec(ctx, q, rec.Reference, cookies, rec.AssetURL, rec.CSRFToken, rec.SavedAt); err != nil {
		return errors.Wrap(err, "pg credential store upsert record")
	}

	return nil
}

func (s *Store) Close(ctx context.Context) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	return s.conn.Close(ctx)
}
