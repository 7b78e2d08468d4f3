package hostlink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rcliao/learnsync/internal/logging"
	"github.com/rcliao/learnsync/internal/offline"
)

// MessageHandler acts on one host signal.
type MessageHandler func(ctx context.Context, m offline.Message) error

// WebSocketURL converts a hub base URL (http, https, ws or wss) into the
// worker registration URL.
func WebSocketURL(base string) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return "", fmt.Errorf("parse hub url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported hub url scheme %q", u.Scheme)
	}
	if !strings.HasSuffix(u.Path, "/host") {
		u.Path += "/host"
	}
	return u.String(), nil
}

// Listen registers with the hub at hubURL and calls handle for each message,
// one at a time, until ctx is done or the connection drops. It returns nil
// when ctx ends the session.
func Listen(ctx context.Context, hubURL string, handle MessageHandler, logger *slog.Logger) error {
	logger = logging.OrDefault(logger)
	wsURL, err := WebSocketURL(hubURL)
	if err != nil {
		return err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial hub: %w", err)
	}
	defer conn.Close()
	logger.Info("registered with hub", "url", wsURL)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			conn.Close()
		case <-stop:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read hub message: %w", err)
		}

		var m offline.Message
		if err := json.Unmarshal(raw, &m); err != nil {
			logger.Warn("ignoring malformed hub message", "err", err)
			continue
		}
		if m.Type != offline.TriggerSync && m.Type != offline.ManualSync {
			logger.Warn("ignoring unknown hub message", "type", m.Type)
			continue
		}
		if err := handle(ctx, m); err != nil {
			logger.Error("handle hub message failed", "type", m.Type, "err", err)
		}
	}
}

// Follow keeps a Listen session alive, reconnecting after retry whenever the
// hub is unreachable or the connection drops.
func Follow(ctx context.Context, hubURL string, handle MessageHandler, retry time.Duration, logger *slog.Logger) {
	logger = logging.OrDefault(logger)
	for {
		err := Listen(ctx, hubURL, handle, logger)
		if ctx.Err() != nil {
			return
		}
		logger.Warn("hub connection lost, retrying", "err", err, "in", retry)
		select {
		case <-ctx.Done():
			return
		case <-time.After(retry):
		}
	}
}
