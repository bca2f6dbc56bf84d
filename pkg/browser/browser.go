package browser

import (
	"context"
	"time"

	"github.com/ValerySidorin/zoomgrab/pkg/capture"
)

type Cookie struct {
	Name   string
	Value  string
	Domain string
	Path   string
}

// Driver is the page-driving boundary of a session. The orchestrator
// depends on it instead of a concrete browser, so its state machine can
// run against a fixture in tests.
type Driver interface {
	// AttachRecorder subscribes the recorder to the network event feed.
	// Must be called before the first Navigate.
	AttachRecorder(ctx context.Context, rec *capture.Recorder) error

	Navigate(ctx context.Context, url string) error
	Reload(ctx context.Context) error

	// Visible waits up to the given duration for the selector to become
	// visible. A timeout is not an error: the affordance is just absent.
	Visible(ctx context.Context, sel string, wait time.Duration) (bool, error)
	Click(ctx context.Context, sel string) error
	SetValue(ctx context.Context, sel string, value string) error

	CurrentURL(ctx context.Context) (string, error)
	Cookies(ctx context.Context) ([]Cookie, error)
	SetCookies(ctx context.Context, url string, cookies []Cookie) error

	UserAgent() string
	Close() error
}
