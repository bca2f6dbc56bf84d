package recinfo

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ValerySidorin/zoomgrab/pkg/session"
	util_http "github.com/ValerySidorin/zoomgrab/pkg/util/http"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"
)

const requestedWithHeader = "XMLHttpRequest, OWASP CSRFGuard Project"

type Config struct {
	Timeout  time.Duration `yaml:"timeout"`
	RetryMax int           `yaml:"retry_max"`
}

// PlayInfo is the provider's description of one recording: the direct
// media URL plus the metadata the server declares for it.
type PlayInfo struct {
	MP4URL       string
	FileSize     int64
	DurationMS   int64
	MeetingTopic string
}

type playInfoResponse struct {
	Result struct {
		MP4URL       string `json:"mp4Url"`
		FileSize     int64  `json:"fileSize"`
		Duration     int64  `json:"duration"`
		MeetingTopic string `json:"meetingTopic"`
	} `json:"result"`
}

// Client resolves the direct media URL from the captured play-info
// exchange, replaying the session's transfer context outside the
// browser.
type Client struct {
	httpClient *retryablehttp.Client
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 3
	}

	c := retryablehttp.NewClient()
	c.RetryMax = cfg.RetryMax
	c.HTTPClient.Timeout = cfg.Timeout
	c.Logger = nil

	return &Client{
		httpClient: c,
	}
}

func (c *Client) GetPlayInfo(ctx context.Context, infoURL string, tc session.TransferContext) (*PlayInfo, error) {
	req, err := retryablehttp.NewRequest("GET", infoURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "get play info")
	}

	req.Header.Set("User-Agent", tc.UserAgent)
	req.Header.Set("Origin", tc.Origin)
	req.Header.Set("Referer", tc.Referer)
	req.Header.Set("Cookie", tc.CookieHeader())
	req.Header.Set("x-requested-with", requestedWithHeader)
	if tc.CSRFToken != "" {
		req.Header.Set("zoom-csrftoken", tc.CSRFToken)
	}

	resp, err := c.httpClient.Do(req.WithContext(ctx))
	if err != nil {
		return nil, errors.Wrap(err, "get play info")
	}
	defer resp.Body.Close()

	if err := util_http.EnsureSuccessStatusCode(resp); err != nil {
		return nil, errors.Wrap(err, "get play info")
	}

	res := playInfoResponse{}
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, errors.Wrap(err, "get play info")
	}

	if res.Result.MP4URL == "" {
		return nil, errors.New("play info response has no media url")
	}

	return &PlayInfo{
		MP4URL:       res.Result.MP4URL,
		FileSize:     res.Result.FileSize,
		DurationMS:   res.Result.Duration,
		MeetingTopic: res.Result.MeetingTopic,
	}, nil
}
