package services

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"crmflow/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFeedTestServer(t *testing.T, feed *ExecutionFeed, tenantID uint) *httptest.Server {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/feed", func(c *gin.Context) {
		feed.HandleWebSocket(c, tenantID)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func dialFeed(t *testing.T, srv *httptest.Server) *websocket.Conn {
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/feed"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitForClients(t *testing.T, feed *ExecutionFeed, want int) {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if feed.ClientCount() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("client count never reached %d (got %d)", want, feed.ClientCount())
}

func TestExecutionFeed_BroadcastToTenant(t *testing.T) {
	feed := NewExecutionFeed(logrus.New())
	srv := newFeedTestServer(t, feed, 1)
	conn := dialFeed(t, srv)
	waitForClients(t, feed, 1)

	record := &models.ExecutionRecord{
		ID:          5,
		RuleID:      3,
		TenantID:    1,
		TriggerKind: "lead_created",
		Matched:     true,
	}
	feed.Broadcast(record)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg FeedMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "execution_record", msg.Type)
	require.NotNil(t, msg.Data)
	assert.Equal(t, uint(3), msg.Data.RuleID)
	assert.True(t, msg.Data.Matched)
}

func TestExecutionFeed_TenantIsolation(t *testing.T) {
	feed := NewExecutionFeed(logrus.New())
	srv := newFeedTestServer(t, feed, 2)
	conn := dialFeed(t, srv)
	waitForClients(t, feed, 1)

	// 租户 1 的记录不应推送给租户 2 的客户端
	feed.Broadcast(&models.ExecutionRecord{ID: 1, TenantID: 1, TriggerKind: "deal_won"})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	var msg FeedMessage
	err := conn.ReadJSON(&msg)
	assert.Error(t, err, "cross-tenant record must not arrive")
}

func TestExecutionFeed_ClientDisconnect(t *testing.T) {
	feed := NewExecutionFeed(logrus.New())
	srv := newFeedTestServer(t, feed, 1)
	conn := dialFeed(t, srv)
	waitForClients(t, feed, 1)

	require.NoError(t, conn.Close())
	waitForClients(t, feed, 0)
}
