package server

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaymesh/go-rmc/internal/config"
	"github.com/relaymesh/go-rmc/internal/storage"
	"github.com/relaymesh/go-rmc/pkg/channel"
	"github.com/relaymesh/go-rmc/pkg/engine"
	"github.com/relaymesh/go-rmc/pkg/identity"
	"github.com/relaymesh/go-rmc/pkg/ledger"
	"github.com/relaymesh/go-rmc/pkg/transport"
)

type captureDispatcher struct {
	packets []transport.Packet
}

func (d *captureDispatcher) Enqueue(pkt transport.Packet) {
	d.packets = append(d.packets, pkt)
}

type testRelay struct {
	server     *Server
	engine     *engine.Engine
	dispatcher *captureDispatcher
}

func newTestRelay(t *testing.T, handler engine.Handler) *testRelay {
	t.Helper()

	cfg := &config.Config{}
	cfg.Server.AdminKey = "test-admin-key"

	reg := channel.NewRegistry()
	_, err := reg.Establish(channel.Config{
		ChannelID:       "c1",
		LocalPort:       "app",
		RemotePort:      "app",
		RemoteChannelID: "c1-peer",
	})
	require.NoError(t, err)

	eng, err := engine.New(engine.Config{
		Registry: reg,
		Ledger:   ledger.NewMemoryLedger(),
		Handler:  handler,
	})
	require.NoError(t, err)

	disp := &captureDispatcher{}
	srv := New(cfg, storage.NewMemoryStore(), eng, disp, zerolog.Nop())
	return &testRelay{server: srv, engine: eng, dispatcher: disp}
}

func (tr *testRelay) request(t *testing.T, method, path string, body any, admin bool) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if admin {
		req.Header.Set("X-Admin-Key", "test-admin-key")
	}

	w := httptest.NewRecorder()
	tr.server.Handler().ServeHTTP(w, req)
	return w
}

func decodeJSON[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestServer_Health(t *testing.T) {
	tr := newTestRelay(t, nil)

	w := tr.request(t, http.MethodGet, "/health", nil, false)
	assert.Equal(t, http.StatusOK, w.Code)

	w = tr.request(t, http.MethodGet, "/ready", nil, false)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServer_SendMessage(t *testing.T) {
	tr := newTestRelay(t, nil)

	w := tr.request(t, http.MethodPost, "/v1/messages", SendMessageRequest{
		ChannelID: "c1",
		Payload:   []byte("hello"),
	}, false)
	require.Equal(t, http.StatusAccepted, w.Code)

	resp := decodeJSON[map[string]any](t, w)
	assert.Equal(t, "SENT", resp["state"])

	// The packet reached the dispatch queue with the ledger's sequence.
	require.Len(t, tr.dispatcher.packets, 1)
	pkt := tr.dispatcher.packets[0]
	assert.Equal(t, "c1", pkt.ChannelID)
	assert.Equal(t, uint64(0), pkt.Sequence)
	assert.Equal(t, []byte("hello"), pkt.Payload)
	assert.Equal(t, resp["messageId"], pkt.MessageID)
}

func TestServer_SendMessageUnknownChannel(t *testing.T) {
	tr := newTestRelay(t, nil)

	w := tr.request(t, http.MethodPost, "/v1/messages", SendMessageRequest{
		ChannelID: "nope",
		Payload:   []byte("hello"),
	}, false)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Empty(t, tr.dispatcher.packets)
}

func TestServer_GetMessage(t *testing.T) {
	tr := newTestRelay(t, nil)

	w := tr.request(t, http.MethodPost, "/v1/messages", SendMessageRequest{
		ChannelID: "c1",
		Payload:   []byte("hello"),
	}, false)
	require.Equal(t, http.StatusAccepted, w.Code)
	sent := decodeJSON[map[string]any](t, w)

	w = tr.request(t, http.MethodGet, "/v1/messages/"+sent["messageId"].(string), nil, false)
	require.Equal(t, http.StatusOK, w.Code)

	msg := decodeJSON[messageView](t, w)
	assert.Equal(t, "c1", msg.ChannelID)
	assert.Equal(t, "SENT", msg.State)
	assert.Equal(t, "OUTBOUND", msg.Direction)
}

func TestServer_GetMessageNotFound(t *testing.T) {
	tr := newTestRelay(t, nil)

	unknown := identity.Derive("c9", 9, []byte("x"), identity.Outbound)
	w := tr.request(t, http.MethodGet, "/v1/messages/"+unknown.String(), nil, false)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = tr.request(t, http.MethodGet, "/v1/messages/not-hex", nil, false)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServer_Deliver(t *testing.T) {
	tr := newTestRelay(t, engine.HandlerFunc(
		func(ctx context.Context, payload []byte) engine.HandlerResult {
			return engine.Accept([]byte("pong"))
		}))

	pkt := transport.Packet{
		ChannelID: "c1",
		Sequence:  0,
		Payload:   []byte("ping"),
	}

	w := tr.request(t, http.MethodPost, "/v1/deliver", pkt, false)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decodeJSON[transport.DeliveryResponse](t, w)
	assert.Equal(t, string(engine.OutcomeProcessed), resp.Outcome)
	assert.Equal(t, []byte("pong"), resp.Response)

	// Redelivery of the same packet is a duplicate, still HTTP 200.
	w = tr.request(t, http.MethodPost, "/v1/deliver", pkt, false)
	require.Equal(t, http.StatusOK, w.Code)
	resp = decodeJSON[transport.DeliveryResponse](t, w)
	assert.Equal(t, string(engine.OutcomeDuplicate), resp.Outcome)
}

func TestServer_DeliverOutOfOrder(t *testing.T) {
	tr := newTestRelay(t, nil)

	w := tr.request(t, http.MethodPost, "/v1/deliver", transport.Packet{
		ChannelID: "c1",
		Sequence:  5,
		Payload:   []byte("early"),
	}, false)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decodeJSON[transport.DeliveryResponse](t, w)
	assert.Equal(t, string(engine.OutcomeOutOfOrder), resp.Outcome)
}

func TestServer_DeliverUnknownChannel(t *testing.T) {
	tr := newTestRelay(t, nil)

	w := tr.request(t, http.MethodPost, "/v1/deliver", transport.Packet{
		ChannelID: "nope",
		Sequence:  0,
		Payload:   []byte("hi"),
	}, false)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_Ack(t *testing.T) {
	tr := newTestRelay(t, nil)

	w := tr.request(t, http.MethodPost, "/v1/messages", SendMessageRequest{
		ChannelID: "c1",
		Payload:   []byte("hello"),
	}, false)
	require.Equal(t, http.StatusAccepted, w.Code)
	sent := decodeJSON[map[string]any](t, w)
	msgID := sent["messageId"].(string)

	w = tr.request(t, http.MethodPost, "/v1/ack", AckRequest{
		MessageID: msgID,
		Success:   true,
		Ack:       []byte("done"),
	}, false)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = tr.request(t, http.MethodGet, "/v1/messages/"+msgID, nil, false)
	msg := decodeJSON[messageView](t, w)
	assert.Equal(t, "ACKNOWLEDGED", msg.State)
	assert.True(t, msg.AckSuccess)

	// A second acknowledgment conflicts with the closed record.
	w = tr.request(t, http.MethodPost, "/v1/ack", AckRequest{
		MessageID: msgID,
		Success:   true,
	}, false)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestServer_ChannelAdminRequiresKey(t *testing.T) {
	tr := newTestRelay(t, nil)

	w := tr.request(t, http.MethodPost, "/v1/channels", EstablishChannelRequest{
		LocalPort:       "a",
		RemotePort:      "b",
		RemoteChannelID: "r",
	}, false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = tr.request(t, http.MethodGet, "/v1/channels", nil, false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestServer_ChannelLifecycle(t *testing.T) {
	tr := newTestRelay(t, nil)

	w := tr.request(t, http.MethodPost, "/v1/channels", EstablishChannelRequest{
		ID:              "orders",
		LocalPort:       "app",
		RemotePort:      "app",
		RemoteChannelID: "orders-peer",
		SequenceStart:   1,
		Pattern:         "one-way",
	}, true)
	require.Equal(t, http.StatusCreated, w.Code)

	created := decodeJSON[channelView](t, w)
	assert.Equal(t, "orders", created.ID)
	assert.Equal(t, "one-way", created.Pattern)
	assert.Equal(t, uint64(1), created.NextSend)
	assert.True(t, created.Active)

	// Re-establishing the same id conflicts.
	w = tr.request(t, http.MethodPost, "/v1/channels", EstablishChannelRequest{
		ID:              "orders",
		LocalPort:       "app",
		RemotePort:      "app",
		RemoteChannelID: "orders-peer",
	}, true)
	assert.Equal(t, http.StatusConflict, w.Code)

	// Close deactivates but keeps the channel listed.
	w = tr.request(t, http.MethodPost, "/v1/channels/orders/close", nil, true)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = tr.request(t, http.MethodGet, "/v1/channels/orders", nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	closed := decodeJSON[channelView](t, w)
	assert.False(t, closed.Active)

	// Remove is the only path that frees the id.
	w = tr.request(t, http.MethodDelete, "/v1/channels/orders", nil, true)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = tr.request(t, http.MethodGet, "/v1/channels/orders", nil, true)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = tr.request(t, http.MethodPost, "/v1/channels", EstablishChannelRequest{
		ID:              "orders",
		LocalPort:       "app",
		RemotePort:      "app",
		RemoteChannelID: "orders-peer",
	}, true)
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestServer_EstablishInvalidConfig(t *testing.T) {
	tr := newTestRelay(t, nil)

	w := tr.request(t, http.MethodPost, "/v1/channels", EstablishChannelRequest{
		ID: "broken",
	}, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = tr.request(t, http.MethodPost, "/v1/channels", EstablishChannelRequest{
		LocalPort:       "a",
		RemotePort:      "b",
		RemoteChannelID: "r",
		Pattern:         "carrier-pigeon",
	}, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
