package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaymesh/go-rmc/pkg/compression"
	"github.com/relaymesh/go-rmc/pkg/engine"
	"github.com/relaymesh/go-rmc/pkg/identity"
)

func testPacket() Packet {
	id := identity.Derive("c1", 0, []byte("hello"), identity.Outbound)
	return Packet{
		ChannelID: "c1",
		MessageID: id.String(),
		Sequence:  0,
		Payload:   []byte("hello"),
	}
}

func relayStub(t *testing.T, respond func(pkt Packet) DeliveryResponse) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var pkt Packet
		require.NoError(t, json.NewDecoder(r.Body).Decode(&pkt))

		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(respond(pkt)))
	}))
}

func TestHTTPTransport_DispatchProcessed(t *testing.T) {
	pkt := testPacket()

	srv := relayStub(t, func(got Packet) DeliveryResponse {
		assert.Equal(t, pkt.MessageID, got.MessageID)
		assert.Equal(t, []byte("hello"), got.Payload)
		return DeliveryResponse{
			Outcome:   string(engine.OutcomeProcessed),
			MessageID: got.MessageID,
			Response:  []byte("world"),
		}
	})
	defer srv.Close()

	var acked struct {
		id      identity.MessageID
		success bool
		ack     []byte
	}
	tr := NewHTTPTransport(nil,
		StaticEndpoints(map[string]string{"c1": srv.URL}),
		WithAck(func(ctx context.Context, id identity.MessageID, success bool, ack []byte) error {
			acked.id, acked.success, acked.ack = id, success, ack
			return nil
		}))

	require.NoError(t, tr.Dispatch(context.Background(), pkt))
	assert.Equal(t, pkt.MessageID, acked.id.String())
	assert.True(t, acked.success)
	assert.Equal(t, []byte("world"), acked.ack)
}

func TestHTTPTransport_DispatchRejected(t *testing.T) {
	srv := relayStub(t, func(got Packet) DeliveryResponse {
		return DeliveryResponse{
			Outcome:   string(engine.OutcomeRejected),
			MessageID: got.MessageID,
			Reason:    "declined",
		}
	})
	defer srv.Close()

	var success bool
	var ack []byte
	tr := NewHTTPTransport(nil,
		StaticEndpoints(map[string]string{"c1": srv.URL}),
		WithAck(func(ctx context.Context, id identity.MessageID, s bool, a []byte) error {
			success, ack = s, a
			return nil
		}))

	require.NoError(t, tr.Dispatch(context.Background(), testPacket()))
	assert.False(t, success)
	assert.Equal(t, []byte("declined"), ack)
}

func TestHTTPTransport_DuplicateIsSuccess(t *testing.T) {
	srv := relayStub(t, func(got Packet) DeliveryResponse {
		return DeliveryResponse{Outcome: string(engine.OutcomeDuplicate), MessageID: got.MessageID}
	})
	defer srv.Close()

	acks := 0
	tr := NewHTTPTransport(nil,
		StaticEndpoints(map[string]string{"c1": srv.URL}),
		WithAck(func(ctx context.Context, id identity.MessageID, s bool, a []byte) error {
			acks++
			return nil
		}))

	require.NoError(t, tr.Dispatch(context.Background(), testPacket()))
	assert.Zero(t, acks)
}

func TestHTTPTransport_OutOfOrderIsDispatchFailure(t *testing.T) {
	srv := relayStub(t, func(got Packet) DeliveryResponse {
		return DeliveryResponse{Outcome: string(engine.OutcomeOutOfOrder), Reason: "cursor at 3"}
	})
	defer srv.Close()

	tr := NewHTTPTransport(nil, StaticEndpoints(map[string]string{"c1": srv.URL}))

	err := tr.Dispatch(context.Background(), testPacket())
	assert.ErrorIs(t, err, ErrDispatchFailed)
}

func TestHTTPTransport_ServerErrorIsDispatchFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	tr := NewHTTPTransport(nil, StaticEndpoints(map[string]string{"c1": srv.URL}))

	err := tr.Dispatch(context.Background(), testPacket())
	assert.ErrorIs(t, err, ErrDispatchFailed)
}

func TestHTTPTransport_NoRoute(t *testing.T) {
	tr := NewHTTPTransport(nil, StaticEndpoints(nil))

	err := tr.Dispatch(context.Background(), testPacket())
	assert.ErrorIs(t, err, ErrNoRoute)
}

func TestHTTPTransport_CompressedPayload(t *testing.T) {
	gz := compression.NewGzip()

	srv := relayStub(t, func(got Packet) DeliveryResponse {
		assert.True(t, got.Compressed)
		restored, err := gz.Decompress(got.Payload)
		require.NoError(t, err)
		assert.Equal(t, []byte("hello"), restored)
		return DeliveryResponse{Outcome: string(engine.OutcomeProcessed), MessageID: got.MessageID}
	})
	defer srv.Close()

	tr := NewHTTPTransport(nil,
		StaticEndpoints(map[string]string{"c1": srv.URL}),
		WithCompressor(gz))

	pkt := testPacket()
	pkt.Compressed = true
	require.NoError(t, tr.Dispatch(context.Background(), pkt))
}

func TestHTTPTransport_CompressionWithoutCompressor(t *testing.T) {
	tr := NewHTTPTransport(nil, StaticEndpoints(map[string]string{"c1": "http://unused"}))

	pkt := testPacket()
	pkt.Compressed = true
	err := tr.Dispatch(context.Background(), pkt)
	assert.ErrorIs(t, err, ErrDispatchFailed)
}
