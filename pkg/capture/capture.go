package capture

import (
	"strings"
	"sync"

	"go.uber.org/atomic"
)

// InfoRoutePattern is the asset-serving route of the hosting provider.
// The exchange hitting it carries the authenticated materials needed to
// resolve the direct media URL outside the browser.
const InfoRoutePattern = "/nws/recording/1.0/play/info/"

// Exchange is one observed request/response pair. It is never mutated
// after being appended, so callers may inspect snapshots while capture
// continues.
type Exchange struct {
	Seq            int
	Method         string
	URL            string
	RequestHeaders map[string]string
	Status         int
	ContentType    string
	Size           int64
}

// IsAsset reports whether the exchange looks like the recording asset:
// a successful response on the provider's play-info route, or a
// successful media response.
func (e Exchange) IsAsset() bool {
	if e.Status < 200 || e.Status > 299 {
		return false
	}

	if strings.Contains(e.URL, InfoRoutePattern) {
		return true
	}

	return strings.HasPrefix(e.ContentType, "video/")
}

// Log is the append-only collection of captured exchanges for one
// session. Appends and snapshots are safe to interleave from the
// browser's event goroutine and the orchestrator's polling loop.
type Log struct {
	mtx       sync.Mutex
	exchanges []Exchange
	seq       *atomic.Int64
	detached  *atomic.Bool
}

func NewLog() *Log {
	return &Log{
		seq:      atomic.NewInt64(0),
		detached: atomic.NewBool(false),
	}
}

// Append records a completed exchange. Appends after Detach are dropped.
func (l *Log) Append(ex Exchange) {
	if l.detached.Load() {
		return
	}

	l.mtx.Lock()
	defer l.mtx.Unlock()

	ex.Seq = int(l.seq.Inc() - 1)
	l.exchanges = append(l.exchanges, ex)
}

// Snapshot returns a copy of all exchanges observed so far, ordered by
// observation time.
func (l *Log) Snapshot() []Exchange {
	l.mtx.Lock()
	defer l.mtx.Unlock()

	res := make([]Exchange, len(l.exchanges))
	copy(res, l.exchanges)
	return res
}

func (l *Log) Len() int {
	l.mtx.Lock()
	defer l.mtx.Unlock()

	return len(l.exchanges)
}

// Detach stops accepting appends and clears the collection. Called at
// session end, after which the browser event feed may still fire.
func (l *Log) Detach() {
	l.detached.Store(true)

	l.mtx.Lock()
	defer l.mtx.Unlock()

	l.exchanges = nil
}
