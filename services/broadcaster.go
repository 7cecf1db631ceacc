package services

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/DaZeTw/LOL-PaperReader-sub000/internal/database"
	"github.com/DaZeTw/LOL-PaperReader-sub000/internal/logger"
	"github.com/DaZeTw/LOL-PaperReader-sub000/models"
	"github.com/DaZeTw/LOL-PaperReader-sub000/utils"
)

// Broadcaster fans document events out to WebSocket subscribers. Events
// arrive over Redis pub/sub so a split API/worker deployment still
// reaches every connected client. One reader goroutine drains the
// subscription, which preserves per-document ordering.
type Broadcaster struct {
	rdb    *redis.Client
	stores *database.Stores

	mu    sync.Mutex
	conns map[string]map[*websocket.Conn]*wsClient

	cancel context.CancelFunc
	done   chan struct{}
}

// wsClient serializes writes to one connection. gorilla/websocket allows
// at most one concurrent writer per conn, and the connect-time snapshot
// can race the bus reader's tick without this.
type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) write(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

func NewBroadcaster(rdb *redis.Client, stores *database.Stores) *Broadcaster {
	return &Broadcaster{
		rdb:    rdb,
		stores: stores,
		conns:  make(map[string]map[*websocket.Conn]*wsClient),
	}
}

// Start subscribes to the status bus and relays events until Stop or
// context cancellation.
func (b *Broadcaster) Start(ctx context.Context) {
	ctx, b.cancel = context.WithCancel(ctx)
	b.done = make(chan struct{})

	pubsub := b.rdb.PSubscribe(ctx, StatusChannel("*"))

	go func() {
		defer close(b.done)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				docID := strings.TrimPrefix(msg.Channel, StatusChannel(""))
				b.send(docID, []byte(msg.Payload))
			}
		}
	}()
}

func (b *Broadcaster) Stop() {
	if b.cancel != nil {
		b.cancel()
		<-b.done
	}
}

// Connect registers a subscriber and immediately pushes the current
// snapshot so the client never starts blind.
func (b *Broadcaster) Connect(conn *websocket.Conn, docID string) {
	client := &wsClient{conn: conn}
	b.mu.Lock()
	set, ok := b.conns[docID]
	if !ok {
		set = make(map[*websocket.Conn]*wsClient)
		b.conns[docID] = set
	}
	set[conn] = client
	b.mu.Unlock()

	b.sendSnapshot(client, docID)
}

func (b *Broadcaster) Disconnect(conn *websocket.Conn, docID string) {
	b.mu.Lock()
	if set, ok := b.conns[docID]; ok {
		delete(set, conn)
		if len(set) == 0 {
			delete(b.conns, docID)
		}
	}
	b.mu.Unlock()
	conn.Close()
}

// send writes the payload to every subscriber of the document. The set
// is copied under lock and written outside it; failed writes evict.
func (b *Broadcaster) send(docID string, payload []byte) {
	b.mu.Lock()
	set := b.conns[docID]
	targets := make([]*wsClient, 0, len(set))
	for _, c := range set {
		targets = append(targets, c)
	}
	b.mu.Unlock()

	for _, client := range targets {
		if err := client.write(payload); err != nil {
			logger.Debug("websocket write failed, evicting", "document_id", docID, "error", err)
			b.Disconnect(client.conn, docID)
		}
	}
}

func (b *Broadcaster) sendSnapshot(client *wsClient, docID string) {
	ctx, cancelFn := utils.WithTimeout()
	defer cancelFn()

	doc, err := b.stores.GetDocument(ctx, docID)
	if err != nil {
		logger.Warn("snapshot on connect failed", "document_id", docID, "error", err)
		return
	}
	payload, err := json.Marshal(statusWireMessage{
		Type:           models.EventKindStatus,
		StatusSnapshot: models.BuildSnapshot(doc),
	})
	if err != nil {
		return
	}
	if err := client.write(payload); err != nil {
		b.Disconnect(client.conn, docID)
	}
}

// SubscriberCount reports the current number of connections for a
// document. Used by the readiness endpoint and tests.
func (b *Broadcaster) SubscriberCount(docID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.conns[docID])
}
