package hostlink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rcliao/learnsync/internal/offline"
)

// RemoteHost is the offline.Host seen by a process that does not own the
// hub: it forwards signals to a hub running elsewhere over plain HTTP.
type RemoteHost struct {
	base string
	http *http.Client
}

// NewRemoteHost returns a host for the hub at hubURL. hc may be nil.
func NewRemoteHost(hubURL string, hc *http.Client) *RemoteHost {
	if hc == nil {
		hc = &http.Client{Timeout: 5 * time.Second}
	}
	return &RemoteHost{base: strings.TrimRight(hubURL, "/"), http: hc}
}

// Controlling asks the hub whether any worker is connected.
func (h *RemoteHost) Controlling() bool {
	ctx, cancel := context.WithTimeout(context.Background(), h.http.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.base+"/stats", nil)
	if err != nil {
		return false
	}
	resp, err := h.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false
	}
	var body struct {
		Workers int `json:"workers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false
	}
	return body.Workers > 0
}

// PostMessage forwards m to the hub's /signal route.
func (h *RemoteHost) PostMessage(ctx context.Context, m offline.Message) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.base+"/signal", bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.http.Do(req)
	if err != nil {
		return fmt.Errorf("signal hub: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("signal hub: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

var _ offline.Host = (*RemoteHost)(nil)
