package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/ValerySidorin/zoomgrab/pkg/session"
	util_http "github.com/ValerySidorin/zoomgrab/pkg/util/http"
	"github.com/cavaliergopher/grab/v3"
	gklog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/backoff"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"
	"golang.org/x/net/publicsuffix"
)

const (
	defaultBufferSize       = 8192
	defaultStallTimeout     = 30 * time.Second
	defaultProgressInterval = 1 * time.Second
)

type Config struct {
	BufferSize       int            `yaml:"buffer_size"`
	StallTimeout     time.Duration  `yaml:"stall_timeout"`
	ProgressInterval time.Duration  `yaml:"progress_interval"`
	Backoff          backoff.Config `yaml:"backoff"`
}

func (c *Config) applyDefaults() {
	if c.BufferSize <= 0 {
		c.BufferSize = defaultBufferSize
	}
	if c.StallTimeout <= 0 {
		c.StallTimeout = defaultStallTimeout
	}
	if c.ProgressInterval <= 0 {
		c.ProgressInterval = defaultProgressInterval
	}
	if c.Backoff.MinBackoff <= 0 {
		c.Backoff.MinBackoff = 1 * time.Second
	}
	if c.Backoff.MaxBackoff <= 0 {
		c.Backoff.MaxBackoff = 32 * time.Second
	}
	if c.Backoff.MaxRetries <= 0 {
		c.Backoff.MaxRetries = 5
	}
}

// Task is one transfer: the asset URL, the authenticated context to
// fetch it with, and where the bytes go. No two tasks may share a
// destination path concurrently.
type Task struct {
	URL          string
	Destination  string
	DeclaredSize int64
	Transfer     session.TransferContext
}

type Result struct {
	Path     string
	Bytes    int64
	Attempts int
	Resumed  bool
}

// Error carries the terminal failure kind plus the task state at the
// moment the transfer was abandoned.
type Error struct {
	Kind     session.ErrorKind
	Bytes    int64
	Attempts int
	Cause    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("download failed: %s (bytes: %d, attempts: %d)", e.Kind, e.Bytes, e.Attempts)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}

	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) ErrorKind() session.ErrorKind {
	return e.Kind
}

// Fetcher performs chunked, resumable transfers. A partial file on disk
// is the resumption checkpoint: on retry the remaining byte range is
// requested when the server advertises partial-content support, and the
// transfer restarts from zero otherwise.
type Fetcher struct {
	cfg Config
	log gklog.Logger

	bytesTotal   prometheus.Counter
	retriesTotal prometheus.Counter
}

func New(cfg Config, reg prometheus.Registerer, log gklog.Logger) *Fetcher {
	cfg.applyDefaults()
	log = gklog.With(log, "service", "fetcher")

	bytesTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "download_bytes_total",
		Help: "Bytes written to local storage across all transfers.",
	})
	retriesTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "download_retries_total",
		Help: "Transfer attempts re-issued after a recoverable failure.",
	})
	if reg != nil {
		prometheus.WrapRegistererWithPrefix("zoomgrab_", reg).MustRegister(bytesTotal, retriesTotal)
	}

	return &Fetcher{
		cfg:          cfg,
		log:          log,
		bytesTotal:   bytesTotal,
		retriesTotal: retriesTotal,
	}
}

// Download fetches the task's URL to its destination. On success the
// destination's byte length equals the server-declared size when one
// was declared.
func (f *Fetcher) Download(ctx context.Context, task Task) (*Result, error) {
	if err := os.MkdirAll(filepath.Dir(task.Destination), 0o755); err != nil {
		return nil, &Error{Kind: session.DestinationUnwritable, Cause: errors.Wrap(err, "create destination dir")}
	}

	client, err := f.newGrabClient(task)
	if err != nil {
		return nil, &Error{Kind: session.TransferInterrupted, Cause: err}
	}

	transferred := atomic.NewInt64(0)
	resumed := false

	b := backoff.New(ctx, f.cfg.Backoff)
	var lastErr error

	for b.Ongoing() {
		if b.NumRetries() > 0 {
			f.retriesTotal.Inc()
			level.Info(f.log).Log("msg", "retrying transfer", "attempt", b.NumRetries()+1, "offset", transferred.Load())
		}

		resp, err := f.attempt(ctx, client, task, transferred)
		if err == nil {
			if resp.DidResume {
				resumed = true
			}

			return f.verify(task, resp, transferred, b.NumRetries()+1, resumed)
		}

		if resp != nil && resp.DidResume {
			resumed = true
		}

		if ctx.Err() != nil {
			return nil, &Error{Kind: session.Cancelled, Bytes: transferred.Load(), Attempts: b.NumRetries() + 1, Cause: ctx.Err()}
		}

		if kind, terminal := classify(err); terminal {
			return nil, &Error{Kind: kind, Bytes: transferred.Load(), Attempts: b.NumRetries() + 1, Cause: err}
		}

		lastErr = err
		level.Warn(f.log).Log("msg", "recoverable transfer failure", "err", err.Error(), "offset", transferred.Load())
		b.Wait()
	}

	if ctx.Err() != nil {
		return nil, &Error{Kind: session.Cancelled, Bytes: transferred.Load(), Attempts: b.NumRetries(), Cause: ctx.Err()}
	}

	if lastErr == nil {
		lastErr = b.Err()
	}

	return nil, &Error{Kind: session.TransferInterrupted, Bytes: transferred.Load(), Attempts: b.NumRetries(), Cause: lastErr}
}

func (f *Fetcher) newGrabClient(task Task) (*grab.Client, error) {
	u, err := url.Parse(task.URL)
	if err != nil {
		return nil, errors.Wrap(err, "parse task url")
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, errors.Wrap(err, "init cookie jar")
	}

	cookies := make([]*http.Cookie, 0, len(task.Transfer.Cookies))
	for name, value := range task.Transfer.Cookies {
		cookies = append(cookies, &http.Cookie{Name: name, Value: value})
	}
	jar.SetCookies(u, cookies)

	client := grab.NewClient()
	client.BufferSize = f.cfg.BufferSize
	client.UserAgent = task.Transfer.UserAgent
	client.HTTPClient = &http.Client{Jar: jar}

	return client, nil
}

// attempt runs one grab transfer to completion or failure, watching for
// stalls. A connection that dies without an error surfaces as frozen
// progress; the watchdog cancels the attempt so the outer loop can
// resume it.
func (f *Fetcher) attempt(ctx context.Context, client *grab.Client, task Task, transferred *atomic.Int64) (*grab.Response, error) {
	req, err := grab.NewRequest(task.Destination, task.URL)
	if err != nil {
		return nil, errors.Wrap(err, "create transfer request")
	}

	if task.Transfer.Origin != "" {
		req.HTTPRequest.Header.Set("Origin", task.Transfer.Origin)
	}
	if task.Transfer.Referer != "" {
		req.HTTPRequest.Header.Set("Referer", task.Transfer.Referer)
	}

	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	req = req.WithContext(attemptCtx)

	resp := client.Do(req)

	stall := time.NewTicker(f.cfg.StallTimeout)
	defer stall.Stop()

	progress := time.NewTicker(f.cfg.ProgressInterval)
	defer progress.Stop()

	prevComplete := resp.BytesComplete()

	for {
		select {
		case <-progress.C:
			complete := resp.BytesComplete()
			if delta := complete - transferred.Load(); delta > 0 {
				f.bytesTotal.Add(float64(delta))
				transferred.Store(complete)
			}

			level.Debug(f.log).Log("msg", fmt.Sprintf("transferred %d / %d bytes (%.2f%%)",
				complete,
				resp.Size(),
				100*resp.Progress()))
		case <-stall.C:
			complete := resp.BytesComplete()
			if complete == prevComplete {
				level.Error(f.log).Log("msg", "transfer made no progress within stall timeout, canceling attempt")
				cancel()
			}
			prevComplete = complete
		case <-resp.Done:
			if complete := resp.BytesComplete(); complete > transferred.Load() {
				f.bytesTotal.Add(float64(complete - transferred.Load()))
				transferred.Store(complete)
			}

			return resp, resp.Err()
		}
	}
}

func (f *Fetcher) verify(task Task, resp *grab.Response, transferred *atomic.Int64, attempts int, resumed bool) (*Result, error) {
	fi, err := os.Stat(task.Destination)
	if err != nil {
		return nil, &Error{Kind: session.DestinationUnwritable, Bytes: transferred.Load(), Attempts: attempts, Cause: errors.Wrap(err, "stat destination")}
	}

	declared := task.DeclaredSize
	if declared <= 0 {
		declared = resp.Size()
	}

	if declared > 0 && fi.Size() != declared {
		return nil, &Error{
			Kind:     session.TransferInterrupted,
			Bytes:    fi.Size(),
			Attempts: attempts,
			Cause:    errors.Errorf("destination size %d does not match declared size %d", fi.Size(), declared),
		}
	}

	level.Info(f.log).Log("msg", "transfer complete", "path", task.Destination, "bytes", fi.Size(), "attempts", attempts, "resumed", resumed)

	return &Result{
		Path:     task.Destination,
		Bytes:    fi.Size(),
		Attempts: attempts,
		Resumed:  resumed,
	}, nil
}

// classify splits failures into recoverable and terminal. Authorization
// rejections and unwritable destinations are never retried.
func classify(err error) (session.ErrorKind, bool) {
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return session.DestinationUnwritable, true
	}

	var statusErr grab.StatusCodeError
	if errors.As(err, &statusErr) {
		if !util_http.IsRetryableStatusCode(int(statusErr)) {
			return session.TransferInterrupted, true
		}
	}

	return session.TransferInterrupted, false
}
