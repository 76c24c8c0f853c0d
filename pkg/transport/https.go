package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/relaymesh/go-rmc/pkg/compression"
	"github.com/relaymesh/go-rmc/pkg/engine"
	"github.com/relaymesh/go-rmc/pkg/identity"
)

// TLS version constants
const (
	TLS12 = tls.VersionTLS12
	TLS13 = tls.VersionTLS13
)

// Recommended TLS 1.2 cipher suites for relay-to-relay traffic
var RecommendedTLS12CipherSuites = []uint16{
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
}

// HTTPConfig contains HTTPS client configuration.
type HTTPConfig struct {
	MinTLSVersion   uint16
	MaxTLSVersion   uint16
	CipherSuites    []uint16
	Certificates    []tls.Certificate
	RootCAs         *x509.CertPool
	Timeout         time.Duration
	IdleConnTimeout time.Duration
}

// DefaultHTTPConfig returns a default HTTPS configuration.
func DefaultHTTPConfig() *HTTPConfig {
	return &HTTPConfig{
		MinTLSVersion:   TLS12,
		MaxTLSVersion:   TLS13,
		CipherSuites:    RecommendedTLS12CipherSuites,
		Timeout:         30 * time.Second,
		IdleConnTimeout: 90 * time.Second,
	}
}

// AckFunc feeds an acknowledgment carried in a delivery response back
// into the sending engine.
type AckFunc func(ctx context.Context, id identity.MessageID, success bool, ack []byte) error

// HTTPTransport dispatches packets to a remote relay over HTTPS with a
// JSON envelope. When the remote relay reports a handler verdict in its
// response, the transport closes the loop by invoking the configured
// AckFunc.
type HTTPTransport struct {
	client     *http.Client
	endpoints  EndpointFunc
	ack        AckFunc
	compressor compression.Compressor
}

// HTTPOption configures an HTTPTransport.
type HTTPOption func(*HTTPTransport)

// WithAck installs the acknowledgment callback.
func WithAck(ack AckFunc) HTTPOption {
	return func(t *HTTPTransport) { t.ack = ack }
}

// WithCompressor enables payload compression for packets that request it.
func WithCompressor(c compression.Compressor) HTTPOption {
	return func(t *HTTPTransport) { t.compressor = c }
}

// NewHTTPTransport creates an HTTPS transport resolving endpoints with
// the given EndpointFunc.
func NewHTTPTransport(cfg *HTTPConfig, endpoints EndpointFunc, opts ...HTTPOption) *HTTPTransport {
	if cfg == nil {
		cfg = DefaultHTTPConfig()
	}

	tlsConfig := &tls.Config{
		MinVersion:   cfg.MinTLSVersion,
		MaxVersion:   cfg.MaxTLSVersion,
		CipherSuites: cfg.CipherSuites,
		Certificates: cfg.Certificates,
		RootCAs:      cfg.RootCAs,
	}

	t := &HTTPTransport{
		client: &http.Client{
			Transport: &http.Transport{
				TLSClientConfig:     tlsConfig,
				IdleConnTimeout:     cfg.IdleConnTimeout,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
			},
			Timeout: cfg.Timeout,
		},
		endpoints: endpoints,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Dispatch posts the packet to the channel's remote relay. Transport and
// server errors come back wrapped in ErrDispatchFailed and may be
// retried with the same packet.
func (t *HTTPTransport) Dispatch(ctx context.Context, pkt Packet) error {
	endpoint, err := t.endpoints(ctx, pkt.ChannelID)
	if err != nil {
		return err
	}

	if pkt.Compressed {
		if t.compressor == nil {
			return fmt.Errorf("%w: compression requested but no compressor configured", ErrDispatchFailed)
		}
		compressed, err := t.compressor.Compress(pkt.Payload)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrDispatchFailed, err)
		}
		pkt.Payload = compressed
	}

	body, err := json.Marshal(pkt)
	if err != nil {
		return fmt.Errorf("%w: encoding packet: %v", ErrDispatchFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDispatchFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "go-rmc/1.0")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDispatchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: status %d: %s", ErrDispatchFailed, resp.StatusCode, detail)
	}

	var delivery DeliveryResponse
	if err := json.NewDecoder(resp.Body).Decode(&delivery); err != nil {
		return fmt.Errorf("%w: decoding delivery response: %v", ErrDispatchFailed, err)
	}

	return t.settle(ctx, pkt, delivery)
}

func (t *HTTPTransport) settle(ctx context.Context, pkt Packet, delivery DeliveryResponse) error {
	switch engine.Outcome(delivery.Outcome) {
	case engine.OutcomeProcessed, engine.OutcomeRejected:
		if t.ack == nil {
			return nil
		}
		id, err := identity.ParseMessageID(pkt.MessageID)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrDispatchFailed, err)
		}
		success := engine.Outcome(delivery.Outcome) == engine.OutcomeProcessed
		ack := delivery.Response
		if !success {
			ack = []byte(delivery.Reason)
		}
		return t.ack(ctx, id, success, ack)

	case engine.OutcomeDuplicate:
		// The remote already has the message; redelivery achieved its goal.
		return nil

	default:
		return fmt.Errorf("%w: remote reported %s: %s", ErrDispatchFailed, delivery.Outcome, delivery.Reason)
	}
}

var _ Transport = (*HTTPTransport)(nil)
