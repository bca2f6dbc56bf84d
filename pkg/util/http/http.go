package http

import (
	"errors"
	"net/http"
)

func isSuccessStatusCode(resp *http.Response) bool {
	return resp.StatusCode >= 200 && resp.StatusCode <= 299
}

func EnsureSuccessStatusCode(resp *http.Response) error {
	if !isSuccessStatusCode(resp) {
		return errors.New("http response did not indicate success status code: " + resp.Status)
	}
	return nil
}

// IsRetryableStatusCode reports whether a failed request is worth
// re-issuing. Auth rejections and other client errors are terminal,
// except 408 and 429 which indicate a transient server-side condition.
func IsRetryableStatusCode(code int) bool {
	if code == http.StatusRequestTimeout || code == http.StatusTooManyRequests {
		return true
	}

	return code >= 500
}
