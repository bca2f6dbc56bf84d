package record

import "time"

// Record is the durable artifact of a session: the cookie set and
// identifying metadata for one recording reference. Staleness policy is
// the caller's concern; the store never expires records itself.
type Record struct {
	Reference string            `json:"reference"`
	Cookies   map[string]string `json:"cookies"`
	AssetURL  string            `json:"asset_url"`
	CSRFToken string            `json:"csrf_token"`
	SavedAt   time.Time         `json:"saved_at"`
}

func New(reference string, cookies map[string]string, assetURL string, csrfToken string) *Record {
	return &Record{
		Reference: reference,
		Cookies:   cookies,
		AssetURL:  assetURL,
		CSRFToken: csrfToken,
		SavedAt:   time.Now().UTC(),
	}
}
