package services

import (
	"net/http"
	"sync"
	"time"

	"crmflow/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// FeedMessage is one execution record pushed to dashboard clients.
type FeedMessage struct {
	Type      string                  `json:"type"`
	Data      *models.ExecutionRecord `json:"data"`
	Timestamp time.Time               `json:"timestamp"`
}

type feedClient struct {
	tenantID uint
	conn     *websocket.Conn
	send     chan FeedMessage
}

// ExecutionFeed is a websocket hub that streams execution records to the
// automation dashboard as they are written. Clients only ever receive
// records of their own tenant.
type ExecutionFeed struct {
	mu       sync.RWMutex
	clients  map[*feedClient]struct{}
	upgrader websocket.Upgrader
	logger   *logrus.Logger
}

func NewExecutionFeed(logger *logrus.Logger) *ExecutionFeed {
	if logger == nil {
		logger = logrus.New()
	}
	return &ExecutionFeed{
		clients: make(map[*feedClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// HandleWebSocket upgrades the request and keeps streaming until the client
// goes away. tenantID comes from the authenticated context, never from the
// request.
func (f *ExecutionFeed) HandleWebSocket(c *gin.Context, tenantID uint) {
	conn, err := f.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		f.logger.Warnf("execution feed: upgrade: %v", err)
		return
	}
	client := &feedClient{
		tenantID: tenantID,
		conn:     conn,
		send:     make(chan FeedMessage, 32),
	}

	f.mu.Lock()
	f.clients[client] = struct{}{}
	f.mu.Unlock()
	f.logger.Infof("execution feed: tenant %d client connected", tenantID)

	go f.writeLoop(client)
	f.readLoop(client)
}

func (f *ExecutionFeed) writeLoop(client *feedClient) {
	for msg := range client.send {
		if err := client.conn.WriteJSON(msg); err != nil {
			f.remove(client)
			return
		}
	}
}

// readLoop drains (and discards) client frames so pings and close frames are
// processed; the feed is one-way.
func (f *ExecutionFeed) readLoop(client *feedClient) {
	defer f.remove(client)
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (f *ExecutionFeed) remove(client *feedClient) {
	f.mu.Lock()
	if _, ok := f.clients[client]; ok {
		delete(f.clients, client)
		close(client.send)
		f.logger.Infof("execution feed: tenant %d client disconnected", client.tenantID)
	}
	f.mu.Unlock()
	_ = client.conn.Close()
}

// Broadcast fans an execution record out to the record's tenant's clients.
// Slow clients are dropped rather than blocking the engine.
func (f *ExecutionFeed) Broadcast(record *models.ExecutionRecord) {
	msg := FeedMessage{Type: "execution_record", Data: record, Timestamp: time.Now()}
	f.mu.RLock()
	var stale []*feedClient
	for client := range f.clients {
		if client.tenantID != record.TenantID {
			continue
		}
		select {
		case client.send <- msg:
		default:
			stale = append(stale, client)
		}
	}
	f.mu.RUnlock()
	for _, client := range stale {
		f.remove(client)
	}
}

// ClientCount reports connected dashboard clients.
func (f *ExecutionFeed) ClientCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.clients)
}
