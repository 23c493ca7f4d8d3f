package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/ratecore/internal/domain"
	"github.com/alanyoungcy/ratecore/internal/store/memory"
)

var (
	dai  = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
	usdc = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestEventAsset(t *testing.T) {
	index := []byte(`{"event":"index_published","index":{"asset":"` + dai.Hex() + `"}}`)
	assert.Equal(t, dai, eventAsset(index))

	swap := []byte(`{"event":"swap_opened","indicator":{"asset":"` + usdc.Hex() + `"}}`)
	assert.Equal(t, usdc, eventAsset(swap))

	assert.Equal(t, common.Address{}, eventAsset([]byte(`not json`)))
	assert.Equal(t, common.Address{}, eventAsset([]byte(`{"event":"other"}`)))
}

func TestClientSubscriptionFilter(t *testing.T) {
	c := &client{
		subs:   map[string]bool{domain.ChannelIndexes: true, domain.ChannelSoap: true},
		assets: make(map[common.Address]bool),
	}
	assert.True(t, c.wants(domain.ChannelSoap, usdc), "no asset filter means every asset")

	c.handleSubscription(subscribeMsg{Action: "subscribe", Assets: []string{dai.Hex(), "bogus"}})
	assert.True(t, c.wants(domain.ChannelSoap, dai))
	assert.False(t, c.wants(domain.ChannelSoap, usdc))

	c.handleSubscription(subscribeMsg{Action: "unsubscribe", Channels: []string{domain.ChannelSoap}})
	assert.False(t, c.wants(domain.ChannelSoap, dai))
	assert.True(t, c.wants(domain.ChannelIndexes, dai))

	c.handleSubscription(subscribeMsg{Action: "replace", Channels: []string{domain.ChannelSoap}})
	assert.False(t, c.wants(domain.ChannelSoap, dai), "unknown actions are ignored")
}

func TestHubRelaysBusEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := memory.NewSignalBus()
	hub := NewHub(bus, discardLogger(), Config{Mode: "Server"})
	go func() { _ = hub.Run(ctx) }()

	srv := httptest.NewServer(httpHandler(hub))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var status struct {
		Channel string         `json:"channel"`
		Data    map[string]any `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&status))
	assert.Equal(t, "status", status.Channel)
	assert.Equal(t, "server", status.Data["mode"])

	// The hub subscribes asynchronously; publish until the event lands.
	event := []byte(`{"event":"index_published","index":{"asset":"` + dai.Hex() + `"}}`)
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				_ = bus.Publish(ctx, domain.ChannelIndexes, event)
			}
		}
	}()

	var env struct {
		Channel string          `json:"channel"`
		Data    json.RawMessage `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&env))
	assert.Equal(t, domain.ChannelIndexes, env.Channel)
	assert.JSONEq(t, string(event), string(env.Data))
}

func httpHandler(h *Hub) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", h.HandleWS)
	return mux
}
