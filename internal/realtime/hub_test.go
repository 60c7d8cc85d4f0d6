package realtime_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/straye-as/purchase-api/internal/realtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func startHub(t *testing.T, allowOrigin func(string) bool) (*realtime.Hub, *httptest.Server) {
	t.Helper()
	hub := realtime.NewHub(allowOrigin, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := uuid.Parse(r.URL.Query().Get("user"))
		if err != nil {
			http.Error(w, "bad user", http.StatusBadRequest)
			return
		}
		hub.ServeWS(w, r, userID)
	}))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, userID uuid.UUID, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?user=" + userID.String()
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestHub_PublishReachesOnlyTargetUser(t *testing.T) {
	hub, srv := startHub(t, nil)
	alice := uuid.New()
	bob := uuid.New()

	aliceConn := dial(t, srv, alice, nil)
	bobConn := dial(t, srv, bob, nil)
	require.Eventually(t, func() bool {
		return hub.Connections(alice) == 1 && hub.Connections(bob) == 1
	}, 2*time.Second, 10*time.Millisecond)

	hub.Publish(alice, "notification", map[string]string{"subject": "Request approved"})

	_ = aliceConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := aliceConn.ReadMessage()
	require.NoError(t, err)

	var event struct {
		Type string            `json:"type"`
		Data map[string]string `json:"data"`
	}
	require.NoError(t, json.Unmarshal(raw, &event))
	assert.Equal(t, "notification", event.Type)
	assert.Equal(t, "Request approved", event.Data["subject"])

	_ = bobConn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err = bobConn.ReadMessage()
	assert.Error(t, err)
}

func TestHub_MultipleConnectionsPerUser(t *testing.T) {
	hub, srv := startHub(t, nil)
	user := uuid.New()

	first := dial(t, srv, user, nil)
	second := dial(t, srv, user, nil)
	require.Eventually(t, func() bool { return hub.Connections(user) == 2 }, 2*time.Second, 10*time.Millisecond)

	hub.Publish(user, "notification", "hello")

	for _, conn := range []*websocket.Conn{first, second} {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err)
		assert.Contains(t, string(raw), "hello")
	}
}

func TestHub_UnregistersOnDisconnect(t *testing.T) {
	hub, srv := startHub(t, nil)
	user := uuid.New()

	conn := dial(t, srv, user, nil)
	require.Eventually(t, func() bool { return hub.Connections(user) == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return hub.Connections(user) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_RejectsUnknownOrigin(t *testing.T) {
	_, srv := startHub(t, func(origin string) bool { return origin == "https://purchase.example.com" })

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?user=" + uuid.NewString()
	header := http.Header{"Origin": []string{"https://evil.example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header = http.Header{"Origin": []string{"https://purchase.example.com"}}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	_ = conn.Close()
}

func TestHub_PublishWithoutConnectionsIsNoop(t *testing.T) {
	hub, _ := startHub(t, nil)
	assert.NotPanics(t, func() {
		hub.Publish(uuid.New(), "notification", "nobody listening")
	})
}
