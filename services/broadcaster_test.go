package services

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wsPair upgrades a real loopback connection and hands back both ends.
func wsPair(t *testing.T) (server, client *websocket.Conn) {
	t.Helper()

	upgrader := websocket.Upgrader{}
	serverCh := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		serverCh <- conn
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	server = <-serverCh
	t.Cleanup(func() { server.Close() })
	return server, client
}

func registerConn(b *Broadcaster, conn *websocket.Conn, docID string) *wsClient {
	wc := &wsClient{conn: conn}
	b.mu.Lock()
	set, ok := b.conns[docID]
	if !ok {
		set = make(map[*websocket.Conn]*wsClient)
		b.conns[docID] = set
	}
	set[conn] = wc
	b.mu.Unlock()
	return wc
}

func TestBroadcasterSendAndEvict(t *testing.T) {
	server, client := wsPair(t)
	b := NewBroadcaster(nil, nil)
	registerConn(b, server, "doc1")
	require.Equal(t, 1, b.SubscriberCount("doc1"))

	payload := []byte(`{"status":"ready"}`)
	b.send("doc1", payload)

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := client.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, payload, msg)

	// A dead connection is evicted on the next send.
	require.NoError(t, server.Close())
	b.send("doc1", payload)
	assert.Equal(t, 0, b.SubscriberCount("doc1"))
}

func TestBroadcasterSendScopedToDocument(t *testing.T) {
	server, client := wsPair(t)
	b := NewBroadcaster(nil, nil)
	registerConn(b, server, "doc1")

	b.send("doc2", []byte(`{"status":"ready"}`))
	b.send("doc1", []byte(`{"status":"parsing"}`))

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := client.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"parsing"}`, string(msg))
}

// Bus ticks and connect-time snapshots target the same connection from
// different goroutines; gorilla allows one writer at a time, so the
// per-connection lock must serialize them.
func TestBroadcasterConcurrentWritesSerialized(t *testing.T) {
	server, client := wsPair(t)
	b := NewBroadcaster(nil, nil)
	wc := registerConn(b, server, "doc1")

	const rounds = 20
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			b.send("doc1", []byte(`{"kind":"tick"}`))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			_ = wc.write([]byte(`{"kind":"snapshot"}`))
		}
	}()

	for i := 0; i < 2*rounds; i++ {
		client.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, msg, err := client.ReadMessage()
		require.NoError(t, err)
		assert.True(t, json.Valid(msg), "frame %d is not intact JSON", i)
	}
	wg.Wait()
}
