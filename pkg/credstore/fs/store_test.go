package fs

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/ValerySidorin/zoomgrab/pkg/credstore/record"
	"github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	s, err := NewStore(Config{Dir: t.TempDir()}, log.NewNopLogger())
	require.NoError(t, err)

	return s
}

func TestStoreRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := record.New("https://example.zoom.us/rec/share/abc",
		map[string]string{"_zm_ssid": "s1", "cred": "c1"},
		"https://example.zoom.us/nws/recording/1.0/play/info/REC1", "tok")

	require.NoError(t, s.Save(ctx, rec))

	got, found, err := s.Load(ctx, rec.Reference)
	require.NoError(t, err)
	require.True(t, found)

	assert.Equal(t, rec.Reference, got.Reference)
	assert.Equal(t, rec.Cookies, got.Cookies)
	assert.Equal(t, rec.AssetURL, got.AssetURL)
	assert.Equal(t, rec.CSRFToken, got.CSRFToken)
	assert.False(t, got.SavedAt.IsZero())
}

func TestStoreLoadAbsent(t *testing.T) {
	s := newTestStore(t)

	_, found, err := s.Load(context.Background(), "never-saved")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStoreLastWriteWins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ref := "https://example.zoom.us/rec/share/abc"

	require.NoError(t, s.Save(ctx, record.New(ref, map[string]string{"sid": "old"}, "", "")))
	require.NoError(t, s.Save(ctx, record.New(ref, map[string]string{"sid": "new"}, "", "tok2")))

	got, found, err := s.Load(ctx, ref)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "new", got.Cookies["sid"])
	assert.Equal(t, "tok2", got.CSRFToken)
}

func TestStoreCorruptRecordTreatedAsAbsent(t *testing.T) {
	s := newTestStore(t)
	ref := "https://example.zoom.us/rec/share/abc"

	require.NoError(t, os.WriteFile(s.path(ref), []byte("{not json"), 0o600))

	_, found, err := s.Load(context.Background(), ref)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStoreConcurrentDistinctReferences(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			ref := fmt.Sprintf("rec/%d", i)
			if err := s.Save(ctx, record.New(ref, map[string]string{"sid": ref}, "", "")); err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < 8; i++ {
		ref := fmt.Sprintf("rec/%d", i)
		got, found, err := s.Load(ctx, ref)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, ref, got.Cookies["sid"])
	}
}
