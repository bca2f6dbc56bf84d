package session

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/ValerySidorin/zoomgrab/pkg/capture"
)

// State is the orchestrator's position in the acquisition flow. A
// session ends in either Resolved or Failed; there is no intermediate
// outcome visible to callers.
type State string

const (
	StateNavigating    State = "Navigating"
	StateConsentCheck  State = "ConsentCheck"
	StatePasswordCheck State = "PasswordCheck"
	StatePasswordEntry State = "PasswordEntry"
	StateAwaitingAsset State = "AwaitingAsset"
	StateResolved      State = "Resolved"
	StateFailed        State = "Failed"
)

type ErrorKind string

const (
	NavigationError        ErrorKind = "NavigationError"
	PasswordRequired       ErrorKind = "PasswordRequired"
	AuthenticationRejected ErrorKind = "AuthenticationRejected"
	AssetNotFound          ErrorKind = "AssetNotFound"
	TransferInterrupted    ErrorKind = "TransferInterrupted"
	DestinationUnwritable  ErrorKind = "DestinationUnwritable"
	Cancelled              ErrorKind = "Cancelled"
)

// Error carries the terminal failure kind plus the last known session
// state, so a caller can tell "never found the page" from "found the
// gate, wrong password" from "found the asset, network died".
type Error struct {
	Kind             ErrorKind
	State            State
	NavAttempts      int
	PasswordAttempts int
	Exchanges        int
	Cause            error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("session failed: %s (state: %s, nav attempts: %d, password attempts: %d, exchanges: %d)",
		e.Kind, e.State, e.NavAttempts, e.PasswordAttempts, e.Exchanges)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}

	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) ErrorKind() ErrorKind {
	return e.Kind
}

type kinder interface {
	ErrorKind() ErrorKind
}

// KindOf extracts the failure kind from a session or transfer error, or
// empty if the error carries no kind.
func KindOf(err error) ErrorKind {
	var k kinder
	if errors.As(err, &k) {
		return k.ErrorKind()
	}

	return ""
}

type Request struct {
	Reference string
	Password  string
}

// TransferContext is the authenticated material needed to fetch the
// asset outside the browser that discovered it. It is a value type,
// fixed at the moment the asset exchange is confirmed.
type TransferContext struct {
	Cookies   map[string]string
	UserAgent string
	Origin    string
	Referer   string
	CSRFToken string
}

func (tc TransferContext) CookieHeader() string {
	pairs := make([]string, 0, len(tc.Cookies))
	for name, value := range tc.Cookies {
		pairs = append(pairs, name+"="+value)
	}

	return strings.Join(pairs, "; ")
}

func (tc TransferContext) Clone() TransferContext {
	cookies := make(map[string]string, len(tc.Cookies))
	for k, v := range tc.Cookies {
		cookies[k] = v
	}

	res := tc
	res.Cookies = cookies
	return res
}

// Resolved is the successful outcome of a session: the discovered asset
// location and the context required to fetch it.
type Resolved struct {
	AssetURL string
	Exchange capture.Exchange
	Transfer TransferContext
}

// NeedsInfoLookup reports whether the discovered location is the
// provider's play-info route rather than the media stream itself. The
// direct media URL then comes from the info response body.
func (r *Resolved) NeedsInfoLookup() bool {
	return strings.Contains(r.AssetURL, capture.InfoRoutePattern)
}

func originOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}

	return u.Scheme + "://" + u.Host
}
