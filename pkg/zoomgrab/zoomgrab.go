package zoomgrab

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ValerySidorin/zoomgrab/pkg/browser"
	"github.com/ValerySidorin/zoomgrab/pkg/capture"
	"github.com/ValerySidorin/zoomgrab/pkg/credstore"
	"github.com/ValerySidorin/zoomgrab/pkg/fetcher"
	"github.com/ValerySidorin/zoomgrab/pkg/objstore"
	"github.com/ValerySidorin/zoomgrab/pkg/queue"
	"github.com/ValerySidorin/zoomgrab/pkg/queue/message"
	"github.com/ValerySidorin/zoomgrab/pkg/recinfo"
	"github.com/ValerySidorin/zoomgrab/pkg/session"
	gklog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/services"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

const channelName = "zoomgrab"

type RecordingConfig struct {
	URL        string `yaml:"url"`
	Password   string `yaml:"password"`
	OutputDir  string `yaml:"output_dir"`
	OutputFile string `yaml:"output_file"`
}

type Config struct {
	Recording RecordingConfig  `yaml:"recording"`
	Browser   browser.Config   `yaml:"browser"`
	Session   session.Config   `yaml:"session"`
	RecInfo   recinfo.Config   `yaml:"rec_info"`
	Fetcher   fetcher.Config   `yaml:"fetcher"`
	CredStore credstore.Config `yaml:"cred_store"`
	ObjStore  objstore.Config  `yaml:"obj_store"`
	Queue     queue.Config     `yaml:"queue"`
}

type Request struct {
	Reference  string
	Password   string
	OutputDir  string
	OutputFile string
}

type Result struct {
	AssetURL     string
	FilePath     string
	Bytes        int64
	MeetingTopic string
	Transfer     session.TransferContext
}

// Acquirer runs the whole acquisition: browser session to discover the
// asset, authenticated transfer to local storage, then the optional
// archive upload and completion notification. Independent acquisitions
// for distinct references may run concurrently; they share only the
// credential store.
type Acquirer struct {
	services.Service

	cfg Config
	log gklog.Logger
	reg prometheus.Registerer

	creds      credstore.Store
	recInfo    *recinfo.Client
	fetcher    *fetcher.Fetcher
	objWriter  objstore.Writer
	pub        queue.Publisher
	newBrowser func(ctx context.Context, cfg browser.Config, log gklog.Logger) (browser.Driver, error)

	result *Result
}

func New(ctx context.Context, cfg Config, reg prometheus.Registerer, log gklog.Logger) (*Acquirer, error) {
	log = gklog.With(log, "service", "acquirer")

	creds, err := credstore.NewStore(ctx, cfg.CredStore, log)
	if err != nil {
		return nil, errors.Wrap(err, "acquirer init credential store")
	}

	a := &Acquirer{
		cfg:     cfg,
		log:     log,
		reg:     reg,
		creds:   creds,
		recInfo: recinfo.NewClient(cfg.RecInfo),
		fetcher: fetcher.New(cfg.Fetcher, reg, log),
		newBrowser: func(ctx context.Context, cfg browser.Config, log gklog.Logger) (browser.Driver, error) {
			return browser.New(ctx, cfg, log)
		},
	}

	if cfg.ObjStore.Store != "" {
		writer, err := objstore.NewWriter(cfg.ObjStore, objstore.Bucket)
		if err != nil {
			return nil, errors.Wrap(err, "acquirer connect to obj store as writer")
		}
		a.objWriter = writer
	}

	if cfg.Queue.Type != "" {
		pub, err := queue.NewPublisher(cfg.Queue, log)
		if err != nil {
			return nil, errors.Wrap(err, "acquirer connect to queue")
		}
		a.pub = pub
	}

	a.Service = services.NewBasicService(nil, a.running, nil)

	return a, nil
}

func (a *Acquirer) running(ctx context.Context) error {
	res, err := a.Acquire(ctx, Request{
		Reference:  a.cfg.Recording.URL,
		Password:   a.cfg.Recording.Password,
		OutputDir:  a.cfg.Recording.OutputDir,
		OutputFile: a.cfg.Recording.OutputFile,
	})
	if err != nil {
		return err
	}

	a.result = res
	return nil
}

// Result returns the outcome of the service run, once terminated.
func (a *Acquirer) Result() *Result {
	return a.result
}

// Acquire runs one full acquisition for one recording reference.
func (a *Acquirer) Acquire(ctx context.Context, req Request) (*Result, error) {
	res, err := a.acquire(ctx, req)
	if err != nil {
		a.notify(req.Reference, message.OutcomeFailed)
		return nil, err
	}

	a.notify(req.Reference, message.OutcomeCompleted)
	return res, nil
}

func (a *Acquirer) acquire(ctx context.Context, req Request) (*Result, error) {
	if req.Reference == "" {
		return nil, errors.New("no recording reference supplied")
	}

	drv, err := a.newBrowser(ctx, a.cfg.Browser, a.log)
	if err != nil {
		return nil, errors.Wrap(err, "start browser")
	}

	captured := capture.NewLog()
	defer captured.Detach()

	orch := session.New(a.cfg.Session, drv, captured, a.creds, a.reg, a.log)

	resolved, err := orch.Run(ctx, session.Request{
		Reference: req.Reference,
		Password:  req.Password,
	})
	if err != nil {
		if cErr := drv.Close(); cErr != nil {
			level.Warn(a.log).Log("msg", "browser close failed", "err", cErr.Error())
		}

		return nil, err
	}

	// The transfer context is fixed now; the browser is no longer needed
	// and holds a whole process worth of memory.
	if err := drv.Close(); err != nil {
		level.Warn(a.log).Log("msg", "browser close failed", "err", err.Error())
	}

	mediaURL := resolved.AssetURL
	declaredSize := resolved.Exchange.Size
	topic := ""

	if resolved.NeedsInfoLookup() {
		info, err := a.recInfo.GetPlayInfo(ctx, resolved.AssetURL, resolved.Transfer)
		if err != nil {
			return nil, &fetcher.Error{Kind: session.TransferInterrupted, Cause: errors.Wrap(err, "resolve media url")}
		}

		mediaURL = info.MP4URL
		declaredSize = info.FileSize
		topic = info.MeetingTopic

		if info.DurationMS > 0 {
			level.Info(a.log).Log("msg", "recording info resolved", "topic", topic, "duration_min", fmt.Sprintf("%.1f", float64(info.DurationMS)/60000), "declared_size", declaredSize)
		}
	}

	dest := destinationPath(req, topic)

	dres, err := a.fetcher.Download(ctx, fetcher.Task{
		URL:          mediaURL,
		Destination:  dest,
		DeclaredSize: declaredSize,
		Transfer:     resolved.Transfer.Clone(),
	})
	if err != nil {
		return nil, err
	}

	a.archive(ctx, req.Reference, resolved.AssetURL, dres.Path)

	return &Result{
		AssetURL:     resolved.AssetURL,
		FilePath:     dres.Path,
		Bytes:        dres.Bytes,
		MeetingTopic: topic,
		Transfer:     resolved.Transfer,
	}, nil
}

// archive uploads the finished file to object storage when configured.
// Archival is supplementary: a failure is logged, not surfaced.
func (a *Acquirer) archive(ctx context.Context, reference string, assetURL string, path string) {
	if a.objWriter == nil {
		return
	}

	file, err := os.Open(path)
	if err != nil {
		level.Warn(a.log).Log("msg", "archive open failed", "err", err.Error())
		return
	}
	defer file.Close()

	if err := a.objWriter.Store(ctx, RecordingID(assetURL, reference), file); err != nil {
		level.Warn(a.log).Log("msg", "archive upload failed", "err", err.Error())
		return
	}

	level.Info(a.log).Log("msg", "recording archived", "path", path)
}

func (a *Acquirer) notify(reference string, outcome string) {
	if a.pub == nil {
		return
	}

	msg := &message.Message{RecordingID: reference, Outcome: outcome}
	if err := a.pub.Pub(channelName, msg); err != nil {
		level.Warn(a.log).Log("msg", "queue publish failed", "err", err.Error())
		return
	}

	level.Debug(a.log).Log("msg", fmt.Sprintf("sent message '%s' to channel '%s'", msg, channelName))
}

// RecordingID extracts the provider's recording identifier from the
// play-info URL, falling back to the tail of the recording reference.
func RecordingID(assetURL string, reference string) string {
	if idx := strings.Index(assetURL, capture.InfoRoutePattern); idx >= 0 {
		id := assetURL[idx+len(capture.InfoRoutePattern):]
		if q := strings.IndexAny(id, "?/"); q >= 0 {
			id = id[:q]
		}
		if id != "" {
			return id
		}
	}

	ref := strings.TrimRight(reference, "/")
	if idx := strings.LastIndex(ref, "/"); idx >= 0 {
		ref = ref[idx+1:]
	}
	if q := strings.Index(ref, "?"); q >= 0 {
		ref = ref[:q]
	}
	if ref == "" {
		ref = "recording"
	}

	return ref
}

func destinationPath(req Request, topic string) string {
	if req.OutputFile != "" {
		return filepath.Join(req.OutputDir, req.OutputFile)
	}

	name := sanitizeFilename(topic)
	if name == "" {
		name = "recording"
	}

	stamp := time.Now().Format("20060102_150405")
	return filepath.Join(req.OutputDir, fmt.Sprintf("%s_%s.mp4", name, stamp))
}

func sanitizeFilename(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '-', r == '_':
			b.WriteRune(r)
		}

		if b.Len() >= 50 {
			break
		}
	}

	return strings.TrimSpace(b.String())
}
