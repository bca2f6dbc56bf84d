package session

import (
	"context"
	"strings"
	"time"

	"github.com/ValerySidorin/zoomgrab/pkg/browser"
	"github.com/ValerySidorin/zoomgrab/pkg/capture"
	"github.com/ValerySidorin/zoomgrab/pkg/credstore"
	credrec "github.com/ValerySidorin/zoomgrab/pkg/credstore/record"
	gklog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/backoff"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/lo"
)

type SelectorConfig struct {
	Consent          string `yaml:"consent"`
	Passcode         string `yaml:"passcode"`
	PasscodeFallback string `yaml:"passcode_fallback"`
	Submit           string `yaml:"submit"`
	SubmitFallback   string `yaml:"submit_fallback"`
	Player           string `yaml:"player"`
}

func (c *SelectorConfig) applyDefaults() {
	if c.Consent == "" {
		c.Consent = "#onetrust-accept-btn-handler"
	}
	if c.Passcode == "" {
		c.Passcode = "#passcode"
	}
	if c.PasscodeFallback == "" {
		c.PasscodeFallback = `input[type="password"]`
	}
	if c.Submit == "" {
		c.Submit = "#passcode_btn"
	}
	if c.SubmitFallback == "" {
		c.SubmitFallback = `button[type="button"]`
	}
	if c.Player == "" {
		c.Player = ".video-player"
	}
}

type Config struct {
	AffordanceWait      time.Duration  `yaml:"affordance_wait"`
	SettleWait          time.Duration  `yaml:"settle_wait"`
	AssetWait           time.Duration  `yaml:"asset_wait"`
	PollInterval        time.Duration  `yaml:"poll_interval"`
	MaxPasswordAttempts int            `yaml:"max_password_attempts"`
	MaxConsentAttempts  int            `yaml:"max_consent_attempts"`
	Backoff             backoff.Config `yaml:"backoff"`
	Selectors           SelectorConfig `yaml:"selectors"`
}

func (c *Config) applyDefaults() {
	if c.AffordanceWait <= 0 {
		c.AffordanceWait = 2 * time.Second
	}
	if c.SettleWait <= 0 {
		c.SettleWait = 2 * time.Second
	}
	if c.AssetWait <= 0 {
		c.AssetWait = 30 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 1 * time.Second
	}
	if c.MaxPasswordAttempts <= 0 {
		c.MaxPasswordAttempts = 3
	}
	if c.MaxConsentAttempts <= 0 {
		c.MaxConsentAttempts = 3
	}
	if c.Backoff.MinBackoff <= 0 {
		c.Backoff.MinBackoff = 1 * time.Second
	}
	if c.Backoff.MaxBackoff <= 0 {
		c.Backoff.MaxBackoff = 16 * time.Second
	}
	if c.Backoff.MaxRetries <= 0 {
		c.Backoff.MaxRetries = 3
	}
	c.Selectors.applyDefaults()
}

// Orchestrator drives one browser context through the acquisition state
// machine: Navigating -> ConsentCheck -> PasswordCheck (-> PasswordEntry)
// -> AwaitingAsset -> Resolved, with Failed reachable from any state.
// One orchestrator owns one session; independent sessions share only the
// credential store.
type Orchestrator struct {
	cfg Config
	log gklog.Logger

	drv      browser.Driver
	captured *capture.Log
	creds    credstore.Store

	sessionsTotal *prometheus.CounterVec
}

func New(cfg Config, drv browser.Driver, captured *capture.Log, creds credstore.Store, reg prometheus.Registerer, log gklog.Logger) *Orchestrator {
	cfg.applyDefaults()
	log = gklog.With(log, "service", "session")

	sessionsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sessions_total",
		Help: "Count of concluded sessions by outcome.",
	}, []string{"outcome"})
	if reg != nil {
		// One orchestrator is built per session; later sessions share the
		// first registration.
		if err := prometheus.WrapRegistererWithPrefix("zoomgrab_", reg).Register(sessionsTotal); err != nil {
			are := prometheus.AlreadyRegisteredError{}
			if errors.As(err, &are) {
				sessionsTotal = are.ExistingCollector.(*prometheus.CounterVec)
			}
		}
	}

	return &Orchestrator{
		cfg:           cfg,
		log:           log,
		drv:           drv,
		captured:      captured,
		creds:         creds,
		sessionsTotal: sessionsTotal,
	}
}

// Run executes one session to its terminal state. On failure the
// returned error is a *Error carrying the failure kind and the last
// known session state.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Resolved, error) {
	st := &sessionState{state: StateNavigating}

	if err := o.drv.AttachRecorder(ctx, capture.NewRecorder(o.captured)); err != nil {
		// Without the interceptor no asset can ever be discovered.
		return nil, o.fail(st, NavigationError, errors.Wrap(err, "attach network recorder"))
	}

	o.installSavedCredentials(ctx, req.Reference)

	if err := o.navigate(ctx, st, req.Reference); err != nil {
		if ctx.Err() != nil {
			return nil, o.fail(st, Cancelled, ctx.Err())
		}

		return nil, o.fail(st, NavigationError, err)
	}

	st.state = StateConsentCheck
	o.acknowledgeConsent(ctx, st)

	st.state = StatePasswordCheck
	gated, err := o.passwordGatePresent(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, o.fail(st, Cancelled, ctx.Err())
		}

		return nil, o.fail(st, NavigationError, err)
	}

	if gated {
		if req.Password == "" {
			return nil, o.fail(st, PasswordRequired, errors.New("recording is password gated and no password was supplied"))
		}

		if err := o.authenticate(ctx, st, req.Password); err != nil {
			if ctx.Err() != nil {
				return nil, o.fail(st, Cancelled, ctx.Err())
			}

			return nil, o.fail(st, AuthenticationRejected, err)
		}
	}

	st.state = StateAwaitingAsset
	ex, err := o.awaitAsset(ctx, st)
	if err != nil {
		if ctx.Err() != nil {
			return nil, o.fail(st, Cancelled, ctx.Err())
		}

		return nil, o.fail(st, AssetNotFound, err)
	}

	tc, err := o.transferContext(ctx, *ex)
	if err != nil {
		if ctx.Err() != nil {
			return nil, o.fail(st, Cancelled, ctx.Err())
		}

		return nil, o.fail(st, NavigationError, err)
	}

	st.state = StateResolved
	o.sessionsTotal.WithLabelValues("resolved").Inc()
	level.Info(o.log).Log("msg", "session resolved", "asset_url", ex.URL, "exchanges", o.captured.Len())

	res := &Resolved{
		AssetURL: ex.URL,
		Exchange: *ex,
		Transfer: tc,
	}

	o.saveCredentials(ctx, req.Reference, res)

	return res, nil
}

type sessionState struct {
	state            State
	navAttempts      int
	passwordAttempts int
}

func (o *Orchestrator) fail(st *sessionState, kind ErrorKind, cause error) error {
	o.sessionsTotal.WithLabelValues(string(kind)).Inc()
	level.Error(o.log).Log("msg", "session failed", "kind", kind, "state", st.state, "err", cause.Error())

	return &Error{
		Kind:             kind,
		State:            st.state,
		NavAttempts:      st.navAttempts,
		PasswordAttempts: st.passwordAttempts,
		Exchanges:        o.captured.Len(),
		Cause:            cause,
	}
}

func (o *Orchestrator) installSavedCredentials(ctx context.Context, reference string) {
	if o.creds == nil {
		return
	}

	rec, found, err := o.creds.Load(ctx, reference)
	if err != nil {
		// The store is an optimization, never a correctness requirement.
		level.Warn(o.log).Log("msg", "could not load saved credentials", "err", err.Error())
		return
	}

	if !found {
		return
	}

	cookies := make([]browser.Cookie, 0, len(rec.Cookies))
	for name, value := range rec.Cookies {
		cookies = append(cookies, browser.Cookie{Name: name, Value: value})
	}

	if err := o.drv.SetCookies(ctx, reference, cookies); err != nil {
		level.Warn(o.log).Log("msg", "could not install saved credentials", "err", err.Error())
		return
	}

	level.Debug(o.log).Log("msg", "installed saved credentials", "cookies", len(cookies), "saved_at", rec.SavedAt)
}

func (o *Orchestrator) saveCredentials(ctx context.Context, reference string, res *Resolved) {
	if o.creds == nil {
		return
	}

	rec := credrec.New(reference, res.Transfer.Cookies, res.AssetURL, res.Transfer.CSRFToken)
	if err := o.creds.Save(ctx, rec); err != nil {
		level.Warn(o.log).Log("msg", "could not save credentials", "err", err.Error())
	}
}

func (o *Orchestrator) navigate(ctx context.Context, st *sessionState, reference string) error {
	b := backoff.New(ctx, o.cfg.Backoff)

	var navErr error
	for b.Ongoing() {
		navErr = o.drv.Navigate(ctx, reference)
		if navErr == nil {
			st.navAttempts = b.NumRetries()
			return nil
		}

		level.Warn(o.log).Log("msg", "navigation attempt failed", "attempt", b.NumRetries()+1, "err", navErr.Error())
		b.Wait()
	}

	st.navAttempts = b.NumRetries()
	if navErr == nil {
		navErr = b.Err()
	}

	return errors.Wrap(navErr, "navigate to recording")
}

// acknowledgeConsent clicks away the consent banner if present. Consent
// dialogs are best-effort: after the attempt budget the session proceeds
// regardless.
func (o *Orchestrator) acknowledgeConsent(ctx context.Context, st *sessionState) {
	for i := 0; i < o.cfg.MaxConsentAttempts; i++ {
		visible, err := o.drv.Visible(ctx, o.cfg.Selectors.Consent, o.cfg.AffordanceWait)
		if err != nil || !visible {
			return
		}

		level.Debug(o.log).Log("msg", "acknowledging consent banner")
		if err := o.drv.Click(ctx, o.cfg.Selectors.Consent); err != nil {
			level.Warn(o.log).Log("msg", "consent acknowledgement failed", "err", err.Error())
			return
		}

		if err := sleepCtx(ctx, o.cfg.SettleWait); err != nil {
			return
		}
	}
}

func (o *Orchestrator) passwordGatePresent(ctx context.Context) (bool, error) {
	visible, err := o.drv.Visible(ctx, o.cfg.Selectors.Passcode, o.cfg.AffordanceWait)
	if err != nil {
		return false, errors.Wrap(err, "check password gate")
	}
	if visible {
		return true, nil
	}

	visible, err = o.drv.Visible(ctx, o.cfg.Selectors.PasscodeFallback, o.cfg.AffordanceWait)
	if err != nil {
		return false, errors.Wrap(err, "check password gate")
	}
	if visible {
		return true, nil
	}

	return false, nil
}

func (o *Orchestrator) loggedIn(ctx context.Context) bool {
	visible, err := o.drv.Visible(ctx, o.cfg.Selectors.Player, o.cfg.AffordanceWait)
	if err == nil && visible {
		return true
	}

	loc, err := o.drv.CurrentURL(ctx)
	if err != nil {
		return false
	}

	return strings.Contains(loc, "/play/")
}

func (o *Orchestrator) authenticate(ctx context.Context, st *sessionState, password string) error {
	for st.passwordAttempts < o.cfg.MaxPasswordAttempts {
		st.state = StatePasswordEntry
		st.passwordAttempts++

		level.Debug(o.log).Log("msg", "submitting password", "attempt", st.passwordAttempts)
		if err := o.submitPassword(ctx, password); err != nil {
			return err
		}

		if err := sleepCtx(ctx, o.cfg.SettleWait); err != nil {
			return err
		}

		st.state = StatePasswordCheck
		o.acknowledgeConsent(ctx, st)

		if o.loggedIn(ctx) {
			return nil
		}

		gated, err := o.passwordGatePresent(ctx)
		if err != nil {
			return err
		}
		if !gated {
			return nil
		}
	}

	return errors.Errorf("password gate still present after %d attempts", st.passwordAttempts)
}

func (o *Orchestrator) submitPassword(ctx context.Context, password string) error {
	sel := o.cfg.Selectors.Passcode
	visible, err := o.drv.Visible(ctx, sel, o.cfg.AffordanceWait)
	if err != nil {
		return errors.Wrap(err, "locate password field")
	}
	if !visible {
		sel = o.cfg.Selectors.PasscodeFallback
	}

	if err := o.drv.SetValue(ctx, sel, password); err != nil {
		return errors.Wrap(err, "fill password field")
	}

	if err := o.drv.Click(ctx, o.cfg.Selectors.Submit); err != nil {
		if err := o.drv.Click(ctx, o.cfg.Selectors.SubmitFallback); err != nil {
			return errors.Wrap(err, "submit password")
		}
	}

	return nil
}

// awaitAsset polls the captured exchanges until one matches the asset
// pattern or the bounded wait expires. This is the session's sole
// suspension point before handoff.
func (o *Orchestrator) awaitAsset(ctx context.Context, st *sessionState) (*capture.Exchange, error) {
	deadline := time.Now().Add(o.cfg.AssetWait)

	t := time.NewTicker(o.cfg.PollInterval)
	defer t.Stop()

	polls := 0
	for {
		if ex, ok := SelectAsset(o.captured.Snapshot()); ok {
			return &ex, nil
		}

		if time.Now().After(deadline) {
			return nil, errors.Errorf("no asset exchange within %s (%d exchanges captured)", o.cfg.AssetWait, o.captured.Len())
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}

		// The banner can appear late and block the player from loading.
		// Bound the re-check by the asset deadline so a sticky banner
		// cannot extend the wait.
		polls++
		if polls%5 == 0 {
			cctx, cancel := context.WithDeadline(ctx, deadline)
			o.acknowledgeConsent(cctx, st)
			cancel()
		}
	}
}

// SelectAsset picks the asset exchange from a snapshot: among all
// matches, the first by observation order whose declared size is the
// largest. The primary media stream dominates byte count over thumbnails
// and preview segments.
func SelectAsset(exs []capture.Exchange) (capture.Exchange, bool) {
	matches := lo.Filter(exs, func(e capture.Exchange, _ int) bool {
		return e.IsAsset()
	})
	if len(matches) == 0 {
		return capture.Exchange{}, false
	}

	largest := lo.MaxBy(matches, func(a capture.Exchange, b capture.Exchange) bool {
		return a.Size > b.Size
	})

	best, _ := lo.Find(matches, func(e capture.Exchange) bool {
		return e.Size == largest.Size
	})

	return best, true
}

func (o *Orchestrator) transferContext(ctx context.Context, ex capture.Exchange) (TransferContext, error) {
	cookies := make(map[string]string)

	browserCookies, err := o.drv.Cookies(ctx)
	if err != nil {
		return TransferContext{}, errors.Wrap(err, "read browser cookies")
	}
	for _, c := range browserCookies {
		cookies[c.Name] = c.Value
	}

	// The captured request's own cookie header wins: it is exactly what
	// the provider accepted.
	if raw := ex.RequestHeaders["cookie"]; raw != "" {
		for _, pair := range strings.Split(raw, ";") {
			if name, value, ok := strings.Cut(strings.TrimSpace(pair), "="); ok {
				cookies[name] = value
			}
		}
	}

	referer := ex.RequestHeaders["referer"]
	if referer == "" {
		if loc, err := o.drv.CurrentURL(ctx); err == nil {
			referer = loc
		}
	}

	return TransferContext{
		Cookies:   cookies,
		UserAgent: o.drv.UserAgent(),
		Origin:    originOf(ex.URL),
		Referer:   referer,
		CSRFToken: ex.RequestHeaders["zoom-csrftoken"],
	}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
