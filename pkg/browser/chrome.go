package browser

import (
	"context"
	"net/url"
	"time"

	"github.com/ValerySidorin/zoomgrab/pkg/capture"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
)

const (
	defaultUserAgent       = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/136.0.0.0 Safari/537.36"
	defaultPageLoadTimeout = 30 * time.Second
	defaultActionTimeout   = 10 * time.Second
)

type Config struct {
	Headful         bool          `yaml:"headful"`
	ExecPath        string        `yaml:"exec_path"`
	UserAgent       string        `yaml:"user_agent"`
	PageLoadTimeout time.Duration `yaml:"page_load_timeout"`
}

// Chrome drives one dedicated browser context over CDP. Each session
// owns its own Chrome; nothing is shared between instances.
type Chrome struct {
	cfg Config
	log log.Logger

	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
}

func New(ctx context.Context, cfg Config, log log.Logger) (*Chrome, error) {
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.PageLoadTimeout <= 0 {
		cfg.PageLoadTimeout = defaultPageLoadTimeout
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserAgent(cfg.UserAgent),
	)
	if cfg.Headful {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, cancel := chromedp.NewContext(allocCtx)

	return &Chrome{
		cfg:         cfg,
		log:         log,
		ctx:         browserCtx,
		cancel:      cancel,
		allocCancel: allocCancel,
	}, nil
}

// AttachRecorder subscribes to the CDP network feed and enables network
// tracking. The subscription is in place before the browser loads any
// page, so the recorder sees every exchange.
func (c *Chrome) AttachRecorder(ctx context.Context, rec *capture.Recorder) error {
	chromedp.ListenTarget(c.ctx, rec.HandleEvent)

	if err := c.run(ctx, defaultActionTimeout, network.Enable()); err != nil {
		return errors.Wrap(err, "chrome enable network tracking")
	}

	return nil
}

func (c *Chrome) Navigate(ctx context.Context, url string) error {
	level.Debug(c.log).Log("msg", "navigating", "url", url)

	if err := c.run(ctx, c.cfg.PageLoadTimeout, chromedp.Navigate(url)); err != nil {
		return errors.Wrap(err, "chrome navigate")
	}

	return nil
}

func (c *Chrome) Reload(ctx context.Context) error {
	if err := c.run(ctx, c.cfg.PageLoadTimeout, chromedp.Reload()); err != nil {
		return errors.Wrap(err, "chrome reload")
	}

	return nil
}

func (c *Chrome) Visible(ctx context.Context, sel string, wait time.Duration) (bool, error) {
	err := c.run(ctx, wait, chromedp.WaitVisible(sel, chromedp.ByQuery))
	if err == nil {
		return true, nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return false, nil
	}

	return false, errors.Wrap(err, "chrome wait visible")
}

func (c *Chrome) Click(ctx context.Context, sel string) error {
	if err := c.run(ctx, defaultActionTimeout, chromedp.Click(sel, chromedp.ByQuery)); err != nil {
		return errors.Wrap(err, "chrome click")
	}

	return nil
}

func (c *Chrome) SetValue(ctx context.Context, sel string, value string) error {
	if err := c.run(ctx, defaultActionTimeout, chromedp.SetValue(sel, value, chromedp.ByQuery)); err != nil {
		return errors.Wrap(err, "chrome set value")
	}

	return nil
}

func (c *Chrome) CurrentURL(ctx context.Context) (string, error) {
	var loc string
	if err := c.run(ctx, defaultActionTimeout, chromedp.Location(&loc)); err != nil {
		return "", errors.Wrap(err, "chrome get location")
	}

	return loc, nil
}

func (c *Chrome) Cookies(ctx context.Context) ([]Cookie, error) {
	var raw []*network.Cookie
	err := c.run(ctx, defaultActionTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		raw, err = storage.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, errors.Wrap(err, "chrome get cookies")
	}

	cookies := make([]Cookie, 0, len(raw))
	for _, c := range raw {
		cookies = append(cookies, Cookie{
			Name:   c.Name,
			Value:  c.Value,
			Domain: c.Domain,
			Path:   c.Path,
		})
	}

	return cookies, nil
}

func (c *Chrome) SetCookies(ctx context.Context, rawURL string, cookies []Cookie) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return errors.Wrap(err, "chrome parse cookie url")
	}

	params := make([]*network.CookieParam, 0, len(cookies))
	for _, ck := range cookies {
		domain := ck.Domain
		if domain == "" {
			domain = u.Hostname()
		}

		params = append(params, &network.CookieParam{
			Name:   ck.Name,
			Value:  ck.Value,
			Domain: domain,
			Path:   ck.Path,
		})
	}

	err = c.run(ctx, defaultActionTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		return storage.SetCookies(params).Do(ctx)
	}))
	if err != nil {
		return errors.Wrap(err, "chrome set cookies")
	}

	return nil
}

func (c *Chrome) UserAgent() string {
	return c.cfg.UserAgent
}

func (c *Chrome) Close() error {
	err := chromedp.Cancel(c.ctx)

	c.cancel()
	c.allocCancel()

	if err != nil {
		return errors.Wrap(err, "chrome close")
	}

	return nil
}

// run executes actions on the browser context with a per-call deadline,
// aborting early if the caller's context is cancelled.
func (c *Chrome) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	tctx, cancel := context.WithTimeout(c.ctx, timeout)
	defer cancel()

	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(tctx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		return err
	}

	return nil
}
