package api

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal-core/internal/events"
)

func streamURL(t *testing.T, srv *httptest.Server, token string) string {
	t.Helper()
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	if token != "" {
		u += "?token=" + url.QueryEscape(token)
	}
	return u
}

func TestEventStreamRequiresToken(t *testing.T) {
	env := newTestEnv(t, nil)
	srv := httptest.NewServer(env.server.Router)
	t.Cleanup(srv.Close)

	_, resp, err := websocket.DefaultDialer.Dial(streamURL(t, srv, ""), nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	bad, err := IssueToken("ops", "wrong-secret", time.Hour)
	require.NoError(t, err)
	_, resp, err = websocket.DefaultDialer.Dial(streamURL(t, srv, bad), nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestEventStreamDeliversSignalOutcomes(t *testing.T) {
	env := newTestEnv(t, nil)
	srv := httptest.NewServer(env.server.Router)
	t.Cleanup(srv.Close)

	token, err := IssueToken("ops", testSecret, time.Hour)
	require.NoError(t, err)
	conn, _, err := websocket.DefaultDialer.Dial(streamURL(t, srv, token), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	// the handler subscribes after the upgrade, so publish until one arrives
	done := make(chan struct{})
	defer close(done)
	go func() {
		tick := time.NewTicker(20 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-done:
				return
			case <-tick.C:
				env.server.opts.Bus.Publish(events.EventSignalHandled, events.SignalOutcome{Account: "main", Symbol: "ETHUSDT", Action: "OPEN_LONG"})
			}
		}
	}()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var got map[string]any
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "ETHUSDT", got["symbol"])
	assert.Equal(t, "OPEN_LONG", got["action"])
}

func TestEventStreamChecksOrigin(t *testing.T) {
	env := newTestEnv(t, func(o *Options) { o.WSOrigins = []string{"https://ops.example.com"} })
	srv := httptest.NewServer(env.server.Router)
	t.Cleanup(srv.Close)

	token, err := IssueToken("ops", testSecret, time.Hour)
	require.NoError(t, err)

	_, resp, err := websocket.DefaultDialer.Dial(streamURL(t, srv, token), http.Header{"Origin": {"https://evil.example.com"}})
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(streamURL(t, srv, token), http.Header{"Origin": {"https://ops.example.com"}})
	require.NoError(t, err)
	_ = conn.Close()
}

func TestEventStreamDefaultsToSameHost(t *testing.T) {
	env := newTestEnv(t, nil)
	srv := httptest.NewServer(env.server.Router)
	t.Cleanup(srv.Close)

	token, err := IssueToken("ops", testSecret, time.Hour)
	require.NoError(t, err)
	_, resp, err := websocket.DefaultDialer.Dial(streamURL(t, srv, token), http.Header{"Origin": {"https://evil.example.com"}})
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
