package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"trade-router-go/config"
	"trade-router-go/internal/pubsub"
	"trade-router-go/internal/queue"
	"trade-router-go/internal/store"
	"trade-router-go/order"
)

type testEnv struct {
	store *store.MemoryStore
	queue *queue.Queue
	pub   *pubsub.Publisher
	srv   *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	q, err := queue.Open(queue.Config{
		InMemory:           true,
		MaxAttempts:        3,
		BackoffBase:        time.Millisecond,
		CompletedRetention: 100,
		FailedRetention:    50,
	}, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })

	st := store.NewMemoryStore()
	pub := pubsub.NewPublisher(nil, nil)
	t.Cleanup(func() { pub.Close() })

	s := NewServer(config.ServerConfig{Addr: ":0"}, st, q, pub, nil, nil)
	ts := httptest.NewServer(s.Router())
	t.Cleanup(ts.Close)

	return &testEnv{store: st, queue: q, pub: pub, srv: ts}
}

func postJSON(t *testing.T, url string, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	return resp
}

func TestCreateOrderAcceptsImmediate(t *testing.T) {
	env := newTestEnv(t)
	resp := postJSON(t, env.srv.URL+"/api/orders",
		`{"tokenIn":"ETH","tokenOut":"USDC","amount":100,"orderType":"IMMEDIATE"}`)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var o order.Order
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&o))
	require.NotEmpty(t, o.ID)
	require.Equal(t, order.StatusPending, o.Status)

	stored, err := env.store.FindByID(context.Background(), o.ID)
	require.NoError(t, err)
	require.Equal(t, order.StatusPending, stored.Status)
	require.Equal(t, 1, env.queue.GetMetrics().Waiting, "accepted order must be queued")
}

func TestCreateOrderRejectsMissingFields(t *testing.T) {
	env := newTestEnv(t)
	resp := postJSON(t, env.srv.URL+"/api/orders",
		`{"tokenIn":"ETH","amount":100,"orderType":"IMMEDIATE"}`)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, 0, env.queue.GetMetrics().Waiting)
}

func TestCreateOrderRejectsUnknownType(t *testing.T) {
	env := newTestEnv(t)
	resp := postJSON(t, env.srv.URL+"/api/orders",
		`{"tokenIn":"ETH","tokenOut":"USDC","amount":100,"orderType":"MARKET"}`)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCreateOrderRejectsNonImmediate(t *testing.T) {
	env := newTestEnv(t)
	resp := postJSON(t, env.srv.URL+"/api/orders",
		`{"tokenIn":"ETH","tokenOut":"USDC","amount":100,"orderType":"CONDITIONAL_LIMIT"}`)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	require.Equal(t, 0, env.queue.GetMetrics().Waiting)
}

func TestGetOrder(t *testing.T) {
	env := newTestEnv(t)
	o := &order.Order{ID: "ord-1", TokenIn: "ETH", TokenOut: "USDC", Amount: 100,
		Type: order.TypeImmediate, Status: order.StatusPending}
	require.NoError(t, env.store.Create(context.Background(), o))

	resp, err := http.Get(env.srv.URL + "/api/orders/ord-1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp2, err := http.Get(env.srv.URL + "/api/orders/ghost")
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusNotFound, resp2.StatusCode)
}

func TestHealthReportsQueueAndConnections(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.queue.Enqueue(context.Background(), queue.Job{ID: "ord-1"})
	require.NoError(t, err)

	resp, err := http.Get(env.srv.URL + "/api/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Status string `json:"status"`
		Queue  struct {
			Waiting int `json:"waiting"`
		} `json:"queue"`
		ActiveConnections int `json:"activeConnections"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "ok", body.Status)
	require.Equal(t, 1, body.Queue.Waiting)
	require.Equal(t, 0, body.ActiveConnections)
}

func wsURL(httpURL, path string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http") + path
}

func TestSubscribeSendsSnapshotThenUpdates(t *testing.T) {
	env := newTestEnv(t)
	o := &order.Order{ID: "ord-ws", TokenIn: "ETH", TokenOut: "USDC", Amount: 100,
		Type: order.TypeImmediate, Status: order.StatusPending}
	require.NoError(t, env.store.Create(context.Background(), o))

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(env.srv.URL, "/api/ws/orders/ord-ws"), nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	var snapshot order.StatusUpdate
	require.NoError(t, conn.ReadJSON(&snapshot))
	require.Equal(t, "ord-ws", snapshot.OrderID)
	require.Equal(t, order.StatusPending, snapshot.Status, "first frame is the current-state snapshot")

	env.pub.Publish("ord-ws", order.NewUpdate("ord-ws", order.StatusRouting, time.Now()))
	var next order.StatusUpdate
	require.NoError(t, conn.ReadJSON(&next))
	require.Equal(t, order.StatusRouting, next.Status)
}

func TestSubscribeUnknownOrderFailsHandshake(t *testing.T) {
	env := newTestEnv(t)
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(env.srv.URL, "/api/ws/orders/ghost"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSubscriberDisconnectUnregisters(t *testing.T) {
	env := newTestEnv(t)
	o := &order.Order{ID: "ord-dc", TokenIn: "ETH", TokenOut: "USDC", Amount: 100,
		Type: order.TypeImmediate, Status: order.StatusPending}
	require.NoError(t, env.store.Create(context.Background(), o))

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(env.srv.URL, "/api/ws/orders/ord-dc"), nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	var snapshot order.StatusUpdate
	require.NoError(t, conn.ReadJSON(&snapshot))
	require.True(t, env.pub.Has("ord-dc"))

	conn.Close()
	deadline := time.Now().Add(2 * time.Second)
	for env.pub.Has("ord-dc") && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	require.False(t, env.pub.Has("ord-dc"), "read loop must release the registration on disconnect")
}
