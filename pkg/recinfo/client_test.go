package recinfo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ValerySidorin/zoomgrab/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const playInfoBody = `{
	"status": true,
	"result": {
		"mp4Url": "https://ssrweb.zoom.us/replay/stream.mp4",
		"fileSize": 1048576,
		"duration": 1800000,
		"meetingTopic": "Weekly Sync"
	}
}`

func testTransferContext() session.TransferContext {
	return session.TransferContext{
		Cookies:   map[string]string{"_zm_ssid": "abc123"},
		UserAgent: "test-agent",
		Origin:    "https://example.zoom.us",
		Referer:   "https://example.zoom.us/rec/share/abc",
		CSRFToken: "tok-1",
	}
}

func TestGetPlayInfo(t *testing.T) {
	var got *http.Request
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(context.Background())
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(playInfoBody))
	}))
	defer ts.Close()

	info, err := NewClient(Config{}).GetPlayInfo(context.Background(), ts.URL, testTransferContext())
	require.NoError(t, err)

	assert.Equal(t, "https://ssrweb.zoom.us/replay/stream.mp4", info.MP4URL)
	assert.Equal(t, int64(1048576), info.FileSize)
	assert.Equal(t, int64(1800000), info.DurationMS)
	assert.Equal(t, "Weekly Sync", info.MeetingTopic)

	// The request replays the session context headers.
	require.NotNil(t, got)
	assert.Equal(t, "test-agent", got.Header.Get("User-Agent"))
	assert.Equal(t, "https://example.zoom.us", got.Header.Get("Origin"))
	assert.Equal(t, "https://example.zoom.us/rec/share/abc", got.Header.Get("Referer"))
	assert.Equal(t, "_zm_ssid=abc123", got.Header.Get("Cookie"))
	assert.Equal(t, "tok-1", got.Header.Get("zoom-csrftoken"))
	assert.Equal(t, requestedWithHeader, got.Header.Get("x-requested-with"))
}

func TestGetPlayInfoOmitsEmptyCSRFToken(t *testing.T) {
	var got *http.Request
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(context.Background())
		_, _ = w.Write([]byte(playInfoBody))
	}))
	defer ts.Close()

	tc := testTransferContext()
	tc.CSRFToken = ""

	_, err := NewClient(Config{}).GetPlayInfo(context.Background(), ts.URL, tc)
	require.NoError(t, err)

	_, set := got.Header["Zoom-Csrftoken"]
	assert.False(t, set)
}

func TestGetPlayInfoRejectedStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer ts.Close()

	_, err := NewClient(Config{}).GetPlayInfo(context.Background(), ts.URL, testTransferContext())
	assert.Error(t, err)
}

func TestGetPlayInfoMissingMediaURL(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"result": {"fileSize": 10}}`))
	}))
	defer ts.Close()

	_, err := NewClient(Config{}).GetPlayInfo(context.Background(), ts.URL, testTransferContext())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no media url")
}
