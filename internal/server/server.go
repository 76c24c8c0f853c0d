// Package server provides the HTTP surface of the RMC relay daemon.
//
// The server exposes three API groups:
//
// # Relay Endpoint
//
// POST /v1/deliver - Receives packets dispatched by a remote relay. The
// delivery verdict (processed, rejected, duplicate, out-of-order,
// conflict) travels back in the response body, so for request-reply
// channels the acknowledgment needs no separate round trip.
//
// POST /v1/ack - Receives asynchronous acknowledgments for one-way
// channels whose verdicts arrive out of band.
//
// # Application API
//
//   - POST /v1/messages          - Submit a payload for delivery
//   - GET  /v1/messages/{id}     - Look up a message's lifecycle record
//
// # Channel Administration (requires X-Admin-Key)
//
//   - POST   /v1/channels                - Establish a channel
//   - GET    /v1/channels                - List channels and cursors
//   - GET    /v1/channels/{id}           - Get one channel
//   - POST   /v1/channels/{id}/close     - Deactivate a channel
//   - DELETE /v1/channels/{id}           - Remove a channel (resets cursors)
//
// # Health
//
//   - GET /health - Liveness probe
//   - GET /ready  - Readiness probe (checks ledger connectivity)
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/relaymesh/go-rmc/internal/config"
	"github.com/relaymesh/go-rmc/internal/storage"
	"github.com/relaymesh/go-rmc/pkg/channel"
	"github.com/relaymesh/go-rmc/pkg/compression"
	"github.com/relaymesh/go-rmc/pkg/engine"
	"github.com/relaymesh/go-rmc/pkg/exchange"
	"github.com/relaymesh/go-rmc/pkg/identity"
	"github.com/relaymesh/go-rmc/pkg/ledger"
	"github.com/relaymesh/go-rmc/pkg/transport"
)

// Dispatcher queues outbound packets for delivery and redispatch.
type Dispatcher interface {
	Enqueue(pkt transport.Packet)
}

// Server is the RMC relay HTTP server
type Server struct {
	config     *config.Config
	logger     zerolog.Logger
	httpSrv    *http.Server
	store      storage.Store
	engine     *engine.Engine
	dispatcher Dispatcher
	compressor compression.Compressor
}

// New creates a relay server around an engine and its ledger store.
func New(cfg *config.Config, store storage.Store, eng *engine.Engine, disp Dispatcher, logger zerolog.Logger) *Server {
	s := &Server{
		config:     cfg,
		logger:     logger,
		store:      store,
		engine:     eng,
		dispatcher: disp,
		compressor: compression.NewGzip(),
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	s.httpSrv = &http.Server{
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Handler returns the server's HTTP handler, used by tests.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Start begins listening on the specified address
func (s *Server) Start(addr string) error {
	s.httpSrv.Addr = addr
	s.logger.Info().Str("addr", addr).Bool("tls", s.config.Server.TLS.Enabled).Msg("starting server")
	if s.config.Server.TLS.Enabled {
		return s.httpSrv.ListenAndServeTLS(
			s.config.Server.TLS.CertFile,
			s.config.Server.TLS.KeyFile,
		)
	}
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		return err
	}
	if s.store != nil {
		return s.store.Close(ctx)
	}
	return nil
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	base := strings.TrimSuffix(s.config.Server.BasePath, "/")

	// Health checks (no auth required)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)

	// Relay-to-relay endpoints
	mux.HandleFunc("POST "+base+"/v1/deliver", s.handleDeliver)
	mux.HandleFunc("POST "+base+"/v1/ack", s.handleAck)

	// Application API
	mux.HandleFunc("POST "+base+"/v1/messages", s.handleSendMessage)
	mux.HandleFunc("GET "+base+"/v1/messages/{messageID}", s.handleGetMessage)

	// Channel administration (admin-only)
	mux.HandleFunc("POST "+base+"/v1/channels", s.withAdmin(s.handleEstablishChannel))
	mux.HandleFunc("GET "+base+"/v1/channels", s.withAdmin(s.handleListChannels))
	mux.HandleFunc("GET "+base+"/v1/channels/{channelID}", s.withAdmin(s.handleGetChannel))
	mux.HandleFunc("POST "+base+"/v1/channels/{channelID}/close", s.withAdmin(s.handleCloseChannel))
	mux.HandleFunc("DELETE "+base+"/v1/channels/{channelID}", s.withAdmin(s.handleRemoveChannel))
}

// withAdmin gates channel administration behind the configured API key.
func (s *Server) withAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		apiKey := r.Header.Get("X-Admin-Key")
		if apiKey == "" || apiKey != s.config.Server.AdminKey {
			s.jsonError(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// Health handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, map[string]string{"status": "ok"}, http.StatusOK)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.jsonError(w, "ledger not ready", http.StatusServiceUnavailable)
		return
	}
	s.jsonResponse(w, map[string]string{"status": "ready"}, http.StatusOK)
}

// Relay handlers

func (s *Server) handleDeliver(w http.ResponseWriter, r *http.Request) {
	var pkt transport.Packet
	if err := json.NewDecoder(r.Body).Decode(&pkt); err != nil {
		s.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if pkt.ChannelID == "" {
		s.jsonError(w, "channelId is required", http.StatusBadRequest)
		return
	}

	payload := pkt.Payload
	if pkt.Compressed {
		restored, err := s.compressor.Decompress(payload)
		if err != nil {
			s.logger.Warn().Err(err).Str("channel", pkt.ChannelID).Msg("decompression failed")
			s.jsonError(w, "payload decompression failed", http.StatusBadRequest)
			return
		}
		payload = restored
	}

	result, err := s.engine.Receive(r.Context(), pkt.ChannelID, pkt.Sequence, payload)
	if err != nil {
		switch {
		case errors.Is(err, channel.ErrChannelNotFound):
			s.jsonError(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, channel.ErrChannelInactive):
			s.jsonError(w, err.Error(), http.StatusGone)
		default:
			s.logger.Error().Err(err).Str("channel", pkt.ChannelID).Msg("delivery processing failed")
			s.jsonError(w, "internal error", http.StatusInternalServerError)
		}
		return
	}

	s.logger.Info().
		Str("channel", pkt.ChannelID).
		Uint64("sequence", pkt.Sequence).
		Str("outcome", string(result.Outcome)).
		Msg("delivery processed")

	s.jsonResponse(w, transport.DeliveryResponse{
		Outcome:   string(result.Outcome),
		MessageID: result.MessageID.String(),
		Response:  result.Response,
		Reason:    result.Reason,
	}, http.StatusOK)
}

// AckRequest carries an out-of-band acknowledgment.
type AckRequest struct {
	MessageID string `json:"messageId"`
	Success   bool   `json:"success"`
	Ack       []byte `json:"ack,omitempty"`
}

func (s *Server) handleAck(w http.ResponseWriter, r *http.Request) {
	var req AckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	id, err := identity.ParseMessageID(req.MessageID)
	if err != nil {
		s.jsonError(w, "invalid message id", http.StatusBadRequest)
		return
	}

	if err := s.engine.Acknowledge(r.Context(), id, req.Success, req.Ack); err != nil {
		switch {
		case errors.Is(err, ledger.ErrNotFound):
			s.jsonError(w, "message not found", http.StatusNotFound)
		case errors.Is(err, ledger.ErrInvalidTransition):
			s.jsonError(w, "message not awaiting acknowledgment", http.StatusConflict)
		default:
			s.logger.Error().Err(err).Str("message_id", req.MessageID).Msg("acknowledgment failed")
			s.jsonError(w, "internal error", http.StatusInternalServerError)
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Message handlers

// SendMessageRequest submits one payload for delivery on a channel.
type SendMessageRequest struct {
	ChannelID string `json:"channelId"`
	Payload   []byte `json:"payload"` // Base64 encoded in JSON
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.ChannelID == "" {
		s.jsonError(w, "channelId is required", http.StatusBadRequest)
		return
	}

	id, err := s.engine.Send(r.Context(), req.ChannelID, req.Payload)
	if err != nil {
		switch {
		case errors.Is(err, channel.ErrChannelNotFound):
			s.jsonError(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, channel.ErrChannelInactive):
			s.jsonError(w, err.Error(), http.StatusGone)
		default:
			s.logger.Error().Err(err).Str("channel", req.ChannelID).Msg("send failed")
			s.jsonError(w, "internal error", http.StatusInternalServerError)
		}
		return
	}

	msg, err := s.engine.Get(r.Context(), id)
	if err != nil {
		s.logger.Error().Err(err).Str("message_id", id.String()).Msg("reading back sent message")
		s.jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}

	compress := false
	if ch, err := s.engine.Registry().Get(req.ChannelID); err == nil {
		compress = ch.Config().Compress
	}

	if s.dispatcher != nil {
		s.dispatcher.Enqueue(transport.Packet{
			ChannelID:  req.ChannelID,
			MessageID:  id.String(),
			Sequence:   msg.Sequence,
			Payload:    msg.Payload,
			Compressed: compress,
		})
	}

	s.logger.Info().
		Str("channel", req.ChannelID).
		Str("message_id", id.String()).
		Uint64("sequence", msg.Sequence).
		Msg("message queued for dispatch")

	s.jsonResponse(w, map[string]any{
		"messageId": id.String(),
		"sequence":  msg.Sequence,
		"state":     msg.State,
	}, http.StatusAccepted)
}

// messageView is the JSON shape of a ledger record.
type messageView struct {
	MessageID  string    `json:"messageId"`
	ChannelID  string    `json:"channelId"`
	Sequence   uint64    `json:"sequence"`
	Direction  string    `json:"direction"`
	State      string    `json:"state"`
	Ack        []byte    `json:"ack,omitempty"`
	AckSuccess bool      `json:"ackSuccess"`
	Reason     string    `json:"reason,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

func (s *Server) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	id, err := identity.ParseMessageID(r.PathValue("messageID"))
	if err != nil {
		s.jsonError(w, "invalid message id", http.StatusBadRequest)
		return
	}

	msg, err := s.engine.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			s.jsonError(w, "message not found", http.StatusNotFound)
			return
		}
		s.logger.Error().Err(err).Str("message_id", id.String()).Msg("message lookup failed")
		s.jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}

	s.jsonResponse(w, messageView{
		MessageID:  msg.ID.String(),
		ChannelID:  msg.ChannelID,
		Sequence:   msg.Sequence,
		Direction:  string(msg.Direction),
		State:      string(msg.State),
		Ack:        msg.Ack,
		AckSuccess: msg.AckSuccess,
		Reason:     msg.Reason,
		CreatedAt:  msg.CreatedAt,
		UpdatedAt:  msg.UpdatedAt,
	}, http.StatusOK)
}

// Channel handlers

// EstablishChannelRequest creates a new channel.
type EstablishChannelRequest struct {
	ID              string `json:"id,omitempty"`
	LocalPort       string `json:"localPort"`
	RemotePort      string `json:"remotePort"`
	RemoteChannelID string `json:"remoteChannelId"`
	SequenceStart   uint64 `json:"sequenceStart,omitempty"`
	Pattern         string `json:"pattern,omitempty"`
	Compress        bool   `json:"compress,omitempty"`
}

// channelView is the JSON shape of a channel and its cursors.
type channelView struct {
	ID              string `json:"id"`
	LocalPort       string `json:"localPort"`
	RemotePort      string `json:"remotePort"`
	RemoteChannelID string `json:"remoteChannelId"`
	Pattern         string `json:"pattern"`
	Compress        bool   `json:"compress"`
	Active          bool   `json:"active"`
	NextSend        uint64 `json:"nextSend"`
	NextRecv        uint64 `json:"nextRecv"`
}

func viewOf(ch *channel.Channel) channelView {
	cfg := ch.Config()
	nextSend, nextRecv := ch.Cursors()
	return channelView{
		ID:              ch.ID(),
		LocalPort:       cfg.LocalPort,
		RemotePort:      cfg.RemotePort,
		RemoteChannelID: cfg.RemoteChannelID,
		Pattern:         string(ch.Pattern()),
		Compress:        cfg.Compress,
		Active:          ch.Active(),
		NextSend:        nextSend,
		NextRecv:        nextRecv,
	}
}

func (s *Server) handleEstablishChannel(w http.ResponseWriter, r *http.Request) {
	var req EstablishChannelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	var pattern exchange.Pattern
	if req.Pattern != "" {
		parsed, err := exchange.Parse(req.Pattern)
		if err != nil {
			s.jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		pattern = parsed
	}

	ch, err := s.engine.Registry().Establish(channel.Config{
		ChannelID:       req.ID,
		LocalPort:       req.LocalPort,
		RemotePort:      req.RemotePort,
		RemoteChannelID: req.RemoteChannelID,
		SequenceStart:   req.SequenceStart,
		Pattern:         pattern,
		Compress:        req.Compress,
	})
	if err != nil {
		switch {
		case errors.Is(err, channel.ErrChannelExists):
			s.jsonError(w, err.Error(), http.StatusConflict)
		case errors.Is(err, channel.ErrInvalidConfig):
			s.jsonError(w, err.Error(), http.StatusBadRequest)
		default:
			s.logger.Error().Err(err).Msg("channel establishment failed")
			s.jsonError(w, "internal error", http.StatusInternalServerError)
		}
		return
	}

	s.logger.Info().Str("channel", ch.ID()).Msg("channel established")
	s.jsonResponse(w, viewOf(ch), http.StatusCreated)
}

func (s *Server) handleListChannels(w http.ResponseWriter, r *http.Request) {
	channels := s.engine.Registry().List()
	views := make([]channelView, 0, len(channels))
	for _, ch := range channels {
		views = append(views, viewOf(ch))
	}
	s.jsonResponse(w, map[string]any{
		"channels": views,
		"total":    len(views),
	}, http.StatusOK)
}

func (s *Server) handleGetChannel(w http.ResponseWriter, r *http.Request) {
	ch, err := s.engine.Registry().Get(r.PathValue("channelID"))
	if err != nil {
		s.jsonError(w, "channel not found", http.StatusNotFound)
		return
	}
	s.jsonResponse(w, viewOf(ch), http.StatusOK)
}

func (s *Server) handleCloseChannel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("channelID")
	if err := s.engine.Registry().Close(id); err != nil {
		s.jsonError(w, "channel not found", http.StatusNotFound)
		return
	}
	s.logger.Info().Str("channel", id).Msg("channel closed")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveChannel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("channelID")
	if err := s.engine.Registry().Remove(id); err != nil {
		s.jsonError(w, "channel not found", http.StatusNotFound)
		return
	}
	s.logger.Info().Str("channel", id).Msg("channel removed")
	w.WriteHeader(http.StatusNoContent)
}

// Helper functions

func (s *Server) jsonResponse(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error().Err(err).Msg("encoding response")
	}
}

func (s *Server) jsonError(w http.ResponseWriter, message string, status int) {
	s.jsonResponse(w, map[string]string{"error": message}, status)
}
