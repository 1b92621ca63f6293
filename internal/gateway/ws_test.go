package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestManager(t *testing.T, tokens TokenStore) (*ConnectionManager, *httptest.Server) {
	t.Helper()
	manager := NewConnectionManager(tokens, 60, time.Minute, 100*time.Millisecond, 2, 5*time.Second)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		manager.HandleConnection(r.Context(), conn)
	}))
	t.Cleanup(server.Close)
	return manager, server
}

func connectWS(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + server.URL[len("http"):]
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var msg map[string]any
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, data))
}

func TestConnectionRejectedWithoutValidToken(t *testing.T) {
	tokens := NewMemTokenStore()
	_, server := setupTestManager(t, tokens)
	conn := connectWS(t, server)

	writeJSON(t, conn, clientFrame{Token: "not-a-real-token"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	assert.Error(t, err)
}

func TestConnectionEstablishedWithValidToken(t *testing.T) {
	tokens := NewMemTokenStore()
	manager, server := setupTestManager(t, tokens)
	token, err := tokens.Issue(context.Background(), "session-1")
	require.NoError(t, err)

	conn := connectWS(t, server)
	writeJSON(t, conn, clientFrame{Token: token})

	msg := readJSON(t, conn)
	assert.Equal(t, "connected", msg["type"])

	assert.Eventually(t, func() bool { return manager.ActiveConnections() == 1 }, time.Second, 10*time.Millisecond)
}

func TestTokenIsSingleUse(t *testing.T) {
	tokens := NewMemTokenStore()
	token, err := tokens.Issue(context.Background(), "session-1")
	require.NoError(t, err)

	_, ok, err := tokens.Consume(context.Background(), token)
	require.NoError(t, err)
	assert.True(t, ok)

	_, ok, err = tokens.Consume(context.Background(), token)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBroadcastReachesOnlySubscribedConversation(t *testing.T) {
	tokens := NewMemTokenStore()
	manager, server := setupTestManager(t, tokens)

	tokenA, _ := tokens.Issue(context.Background(), "conv-a")
	connA := connectWS(t, server)
	writeJSON(t, connA, clientFrame{Token: tokenA})
	readJSON(t, connA) // connected

	tokenB, _ := tokens.Issue(context.Background(), "conv-b")
	connB := connectWS(t, server)
	writeJSON(t, connB, clientFrame{Token: tokenB})
	readJSON(t, connB) // connected

	assert.Eventually(t, func() bool { return manager.ActiveConnections() == 2 }, time.Second, 10*time.Millisecond)

	manager.BroadcastStatus("conv-a", "job-1", "planning")

	msg := readJSON(t, connA)
	assert.Equal(t, "status", msg["type"])
	assert.Equal(t, "job-1", msg["jobId"])

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, _, err := connB.Read(ctx)
	assert.Error(t, err, "conv-b should not receive conv-a's broadcast")
}

func TestPingIsAnsweredWithPong(t *testing.T) {
	tokens := NewMemTokenStore()
	_, server := setupTestManager(t, tokens)
	token, _ := tokens.Issue(context.Background(), "session-1")

	conn := connectWS(t, server)
	writeJSON(t, conn, clientFrame{Token: token})
	readJSON(t, conn) // connected

	writeJSON(t, conn, clientFrame{Type: "ping"})
	msg := readJSON(t, conn)
	assert.Equal(t, "pong", msg["type"])
}

func TestConnectionClosedAfterMissedHeartbeats(t *testing.T) {
	tokens := NewMemTokenStore()
	_, server := setupTestManager(t, tokens)
	token, _ := tokens.Issue(context.Background(), "session-1")

	conn := connectWS(t, server)
	writeJSON(t, conn, clientFrame{Token: token})
	readJSON(t, conn) // connected

	// Never answer the server's pings; after maxMissedPongs (2) heartbeat
	// ticks (100ms each) the server closes with code 4002.
	for i := 0; i < 5; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		msg, err := func() (map[string]any, error) {
			defer cancel()
			_, data, err := conn.Read(ctx)
			if err != nil {
				return nil, err
			}
			var m map[string]any
			return m, json.Unmarshal(data, &m)
		}()
		if err != nil {
			var closeErr websocket.CloseError
			if errors.As(err, &closeErr) {
				assert.Equal(t, websocket.StatusCode(closeMissedHeartbeat), closeErr.Code)
				return
			}
			t.Fatalf("unexpected read error: %v", err)
		}
		_ = msg
	}
	t.Fatal("connection was not closed after missed heartbeats")
}
