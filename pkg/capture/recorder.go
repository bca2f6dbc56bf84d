package capture

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/network"
)

// Recorder correlates CDP request and response events into completed
// exchanges. One Recorder feeds one Log; it must be attached to the
// browser's event feed before the first navigation so no exchange is
// missed.
type Recorder struct {
	log *Log

	mtx     sync.Mutex
	pending map[network.RequestID]pendingRequest
}

type pendingRequest struct {
	method  string
	headers map[string]string
}

func NewRecorder(log *Log) *Recorder {
	return &Recorder{
		log:     log,
		pending: make(map[network.RequestID]pendingRequest),
	}
}

// HandleEvent consumes one raw CDP event. Events other than network
// request/response pairs are ignored.
func (r *Recorder) HandleEvent(ev interface{}) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		r.mtx.Lock()
		r.pending[e.RequestID] = pendingRequest{
			method:  e.Request.Method,
			headers: flattenHeaders(e.Request.Headers),
		}
		r.mtx.Unlock()
	case *network.EventResponseReceived:
		r.mtx.Lock()
		p, ok := r.pending[e.RequestID]
		delete(r.pending, e.RequestID)
		r.mtx.Unlock()

		if !ok {
			return
		}

		r.log.Append(Exchange{
			Method:         p.method,
			URL:            e.Response.URL,
			RequestHeaders: p.headers,
			Status:         int(e.Response.Status),
			ContentType:    e.Response.MimeType,
			Size:           contentLength(e.Response.Headers),
		})
	}
}

func flattenHeaders(h network.Headers) map[string]string {
	res := make(map[string]string, len(h))
	for k, v := range h {
		res[strings.ToLower(k)] = fmt.Sprint(v)
	}

	return res
}

func contentLength(h network.Headers) int64 {
	for k, v := range h {
		if strings.EqualFold(k, "Content-Length") {
			size, err := strconv.ParseInt(fmt.Sprint(v), 10, 64)
			if err != nil {
				return 0
			}

			return size
		}
	}

	return 0
}
