package hostlink

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/learnsync/internal/logging"
	"github.com/rcliao/learnsync/internal/offline"
)

func newTestHub(t *testing.T, stats StatsFunc) (*Hub, *httptest.Server) {
	t.Helper()
	h := NewHub(stats, logging.Discard())
	srv := httptest.NewServer(h.Handler())
	t.Cleanup(func() {
		h.Close()
		srv.Close()
	})
	return h, srv
}

func TestWebSocketURL(t *testing.T) {
	got, err := WebSocketURL("http://127.0.0.1:7420")
	require.NoError(t, err)
	assert.Equal(t, "ws://127.0.0.1:7420/host", got)

	got, err = WebSocketURL("https://sync.example.test/")
	require.NoError(t, err)
	assert.Equal(t, "wss://sync.example.test/host", got)

	got, err = WebSocketURL("ws://localhost/host")
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost/host", got)

	_, err = WebSocketURL("ftp://localhost")
	assert.Error(t, err)
}

func TestPostMessageWithoutWorker(t *testing.T) {
	h, _ := newTestHub(t, nil)
	assert.False(t, h.Controlling())
	err := h.PostMessage(context.Background(), offline.Message{Type: offline.TriggerSync})
	assert.ErrorIs(t, err, ErrNoWorker)
}

func TestWorkerReceivesMessages(t *testing.T) {
	h, srv := newTestHub(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan offline.Message, 4)
	listenErr := make(chan error, 1)
	go func() {
		listenErr <- Listen(ctx, srv.URL, func(_ context.Context, m offline.Message) error {
			got <- m
			return nil
		}, logging.Discard())
	}()

	require.Eventually(t, h.Controlling, 2*time.Second, 10*time.Millisecond)

	at := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	require.NoError(t, h.PostMessage(ctx, offline.Message{Type: offline.TriggerSync, At: at}))
	require.NoError(t, h.PostMessage(ctx, offline.Message{Type: offline.ManualSync, At: at}))

	for _, want := range []offline.MessageKind{offline.TriggerSync, offline.ManualSync} {
		select {
		case m := <-got:
			assert.Equal(t, want, m.Type)
			assert.True(t, m.At.Equal(at))
		case <-time.After(2 * time.Second):
			t.Fatalf("message %s not delivered", want)
		}
	}

	cancel()
	select {
	case err := <-listenErr:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("listen did not return")
	}
	require.Eventually(t, func() bool { return !h.Controlling() }, 2*time.Second, 10*time.Millisecond)
}

func TestHealthAndStats(t *testing.T) {
	_, srv := newTestHub(t, func(context.Context) (any, error) {
		return map[string]int{"pending_actions": 3}, nil
	})

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Workers int            `json:"workers"`
		Engine  map[string]int `json:"engine"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 0, body.Workers)
	assert.Equal(t, 3, body.Engine["pending_actions"])
}

func TestListenFailsWhenHubDown(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := Listen(context.Background(), url, func(context.Context, offline.Message) error { return nil }, logging.Discard())
	assert.Error(t, err)
}

func TestRemoteHostForwardsSignals(t *testing.T) {
	h, srv := newTestHub(t, nil)
	rh := NewRemoteHost(srv.URL, nil)

	assert.False(t, rh.Controlling())
	err := rh.PostMessage(context.Background(), offline.Message{Type: offline.ManualSync})
	assert.ErrorContains(t, err, "status 503")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	got := make(chan offline.Message, 1)
	go Listen(ctx, srv.URL, func(_ context.Context, m offline.Message) error {
		got <- m
		return nil
	}, logging.Discard())
	require.Eventually(t, h.Controlling, 2*time.Second, 10*time.Millisecond)

	assert.True(t, rh.Controlling())
	require.NoError(t, rh.PostMessage(ctx, offline.Message{Type: offline.ManualSync}))
	select {
	case m := <-got:
		assert.Equal(t, offline.ManualSync, m.Type)
		assert.False(t, m.At.IsZero())
	case <-time.After(2 * time.Second):
		t.Fatal("signal not forwarded")
	}
}

func TestSignalRejectsUnknownType(t *testing.T) {
	_, srv := newTestHub(t, nil)
	resp, err := http.Post(srv.URL+"/signal", "application/json", strings.NewReader(`{"type":"PURGE"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
