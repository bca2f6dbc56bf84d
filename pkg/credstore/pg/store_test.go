package pg

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ValerySidorin/zoomgrab/pkg/credstore/record"
	"github.com/go-kit/log"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

type storedRow struct {
	reference string
	cookies   []byte
	assetURL  string
	csrfToken string
	savedAt   time.Time
}

type fakeRow struct {
	row *storedRow
	err error
}

func (r *fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}

	*(dest[0].(*string)) = r.row.reference
	*(dest[1].(*[]byte)) = r.row.cookies
	*(dest[2].(*string)) = r.row.assetURL
	*(dest[3].(*string)) = r.row.csrfToken
	*(dest[4].(*time.Time)) = r.row.savedAt
	return nil
}

// fakeConn mimics a single pgx connection: it trips the overlap flag
// whenever a second call arrives while one is in flight.
type fakeConn struct {
	mtx  sync.Mutex
	rows map[string]storedRow

	active  *atomic.Int32
	overlap *atomic.Bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		rows:    make(map[string]storedRow),
		active:  atomic.NewInt32(0),
		overlap: atomic.NewBool(false),
	}
}

func (c *fakeConn) enter() func() {
	if c.active.Inc() > 1 {
		c.overlap.Store(true)
	}
	time.Sleep(time.Millisecond)

	return func() { c.active.Dec() }
}

func (c *fakeConn) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	defer c.enter()()

	if strings.HasPrefix(sql, "insert") {
		c.mtx.Lock()
		c.rows[args[0].(string)] = storedRow{
			reference: args[0].(string),
			cookies:   args[1].([]byte),
			assetURL:  args[2].(string),
			csrfToken: args[3].(string),
			savedAt:   args[4].(time.Time),
		}
		c.mtx.Unlock()
	}

	return pgconn.CommandTag{}, nil
}

func (c *fakeConn) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	defer c.enter()()

	c.mtx.Lock()
	row, ok := c.rows[args[0].(string)]
	c.mtx.Unlock()

	if !ok {
		return &fakeRow{err: pgx.ErrNoRows}
	}

	return &fakeRow{row: &row}
}

func (c *fakeConn) Close(ctx context.Context) error {
	return nil
}

func newTestStore(conn querier) *Store {
	return &Store{
		log:  log.NewNopLogger(),
		conn: conn,
	}
}

func TestStoreRoundTrip(t *testing.T) {
	s := newTestStore(newFakeConn())
	ctx := context.Background()

	rec := record.New("https://example.zoom.us/rec/share/abc",
		map[string]string{"_zm_ssid": "s1"},
		"https://example.zoom.us/nws/recording/1.0/play/info/REC1", "tok")

	require.NoError(t, s.Save(ctx, rec))

	got, found, err := s.Load(ctx, rec.Reference)
	require.NoError(t, err)
	require.True(t, found)

	assert.Equal(t, rec.Reference, got.Reference)
	assert.Equal(t, rec.Cookies, got.Cookies)
	assert.Equal(t, rec.AssetURL, got.AssetURL)
	assert.Equal(t, rec.CSRFToken, got.CSRFToken)
}

func TestStoreLoadAbsent(t *testing.T) {
	s := newTestStore(newFakeConn())

	_, found, err := s.Load(context.Background(), "never-saved")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStoreSerializesConcurrentAccess(t *testing.T) {
	conn := newFakeConn()
	s := newTestStore(conn)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			ref := fmt.Sprintf("rec/%d", i)
			if err := s.Save(ctx, record.New(ref, map[string]string{"sid": ref}, "", "")); err != nil {
				t.Error(err)
				return
			}

			if _, _, err := s.Load(ctx, ref); err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()

	assert.False(t, conn.overlap.Load(), "calls must never interleave on the single connection")
	assert.Len(t, conn.rows, 8)
}
