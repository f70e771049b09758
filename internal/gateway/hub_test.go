package gateway

import (
	"encoding/json"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tastream/internal/model"
)

func result(name string, tf int, token string, v float64) model.IndicatorResult {
	return model.IndicatorResult{
		Name:     name,
		Token:    token,
		Exchange: "NSE",
		TF:       tf,
		Value:    v,
		TS:       time.Unix(1705314600, 0).UTC(),
		Ready:    true,
	}
}

func TestFiltersFromQuery(t *testing.T) {
	q, _ := url.ParseQuery("tf=60&tf=300s&tf=bad&token=NSE:2885&indicator=EMA_10")
	f := FiltersFromQuery(q)
	assert.Equal(t, []int{60, 300}, f.TFs)
	assert.Equal(t, []string{"NSE:2885"}, f.Tokens)
	assert.Equal(t, []string{"EMA_10"}, f.Indicators)
}

func TestFiltersMatch(t *testing.T) {
	r := result("EMA_10", 60, "2885", 1)

	assert.True(t, Filters{}.Match(&r))
	assert.True(t, Filters{TFs: []int{60, 300}}.Match(&r))
	assert.False(t, Filters{TFs: []int{300}}.Match(&r))
	assert.True(t, Filters{Tokens: []string{"NSE:2885"}}.Match(&r))
	assert.False(t, Filters{Tokens: []string{"NSE:1333"}}.Match(&r))
	assert.False(t, Filters{Indicators: []string{"SMA_20"}}.Match(&r))
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	if query != "" {
		u += "?" + query
	}
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelopes(t *testing.T, conn *websocket.Conn) []Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var out []Envelope
	for _, line := range strings.Split(string(data), "\n") {
		var env Envelope
		require.NoError(t, json.Unmarshal([]byte(line), &env))
		out = append(out, env)
	}
	return out
}

func waitClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return h.ClientCount() == n }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_PublishFiltered(t *testing.T) {
	h := NewHub()
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn := dial(t, srv, "tf=60&indicator=EMA_10")
	waitClients(t, h, 1)

	h.Publish([]model.IndicatorResult{
		result("SMA_20", 60, "2885", 1),
		result("EMA_10", 300, "2885", 2),
		result("EMA_10", 60, "2885", 3),
	})

	envs := readEnvelopes(t, conn)
	require.Len(t, envs, 1)
	assert.Equal(t, "result", envs[0].Type)
	assert.Equal(t, "pub:ind:EMA_10:60s:NSE:2885", envs[0].Channel)
	assert.Equal(t, 3.0, envs[0].Data.Value)
	assert.False(t, envs[0].Initial)
}

func TestHub_SkipsNotReady(t *testing.T) {
	h := NewHub()
	r := result("EMA_10", 60, "2885", 0)
	r.Ready = false
	h.Publish([]model.IndicatorResult{r})
	assert.Empty(t, h.latest)
}

func TestHub_InitialStateExcludesLive(t *testing.T) {
	h := NewHub()
	closed := result("EMA_10", 60, "2885", 10)
	live := result("EMA_10", 60, "2885", 11)
	live.Live = true
	h.Publish([]model.IndicatorResult{closed, live})

	srv := httptest.NewServer(h)
	defer srv.Close()

	conn := dial(t, srv, "")
	envs := readEnvelopes(t, conn)
	require.Len(t, envs, 1)
	assert.True(t, envs[0].Initial)
	assert.Equal(t, 10.0, envs[0].Data.Value)
}

func TestHub_SubscribeMessage(t *testing.T) {
	h := NewHub()
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn := dial(t, srv, "")
	waitClients(t, h, 1)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type":    "SUBSCRIBE",
		"filters": Filters{Tokens: []string{"NSE:1333"}},
	}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"subscribed"`)

	h.Publish([]model.IndicatorResult{
		result("EMA_10", 60, "2885", 1),
		result("EMA_10", 60, "1333", 2),
	})
	envs := readEnvelopes(t, conn)
	require.Len(t, envs, 1)
	assert.Equal(t, "1333", envs[0].Data.Token)
}

func TestHub_ClientCountCallback(t *testing.T) {
	h := NewHub()
	var last int
	counts := make(chan int, 8)
	h.OnClientCount = func(n int) { counts <- n }

	srv := httptest.NewServer(h)
	defer srv.Close()

	conn := dial(t, srv, "")
	select {
	case last = <-counts:
	case <-time.After(2 * time.Second):
		t.Fatal("no count after connect")
	}
	assert.Equal(t, 1, last)

	conn.Close()
	select {
	case last = <-counts:
	case <-time.After(2 * time.Second):
		t.Fatal("no count after disconnect")
	}
	assert.Equal(t, 0, last)
}
