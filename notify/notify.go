package notify

import (
	"bytes"
	"encoding/json"
	"net/http"

	"vidserve/logging"
	"vidserve/store"
)

// Webhook posts processing outcomes to a configured URL. Delivery is
// fire-and-forget: failures are logged and never affect the record state.
type Webhook struct {
	url    string
	client *http.Client
}

type payload struct {
	VideoID uint   `json:"videoId"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
}

// New returns a webhook notifier, or nil when no URL is configured.
// A nil *Webhook is safe to call.
func New(url string, client *http.Client) *Webhook {
	if url == "" {
		return nil
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Webhook{url: url, client: client}
}

// Notify dispatches asynchronously and returns immediately.
func (w *Webhook) Notify(videoID uint, status store.VideoStatus, cause string) {
	if w == nil {
		return
	}
	go w.send(payload{VideoID: videoID, Status: string(status), Error: cause})
}

func (w *Webhook) send(p payload) {
	body, err := json.Marshal(p)
	if err != nil {
		logging.Warnf("webhook payload encode failed: %v", err)
		return
	}
	resp, err := w.client.Post(w.url, "application/json", bytes.NewReader(body))
	if err != nil {
		logging.Warnw("webhook delivery failed", "videoId", p.VideoID, "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		logging.Warnw("webhook rejected", "videoId", p.VideoID, "status", resp.Status)
	}
}
