package http

import (
	"context"
	"errors"
	"io"
	stdhttp "net/http"
	"strconv"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/vovakirdan/wirechat-relay/internal/auth"
	"github.com/vovakirdan/wirechat-relay/internal/config"
	"github.com/vovakirdan/wirechat-relay/internal/core"
	"github.com/vovakirdan/wirechat-relay/internal/metrics"
	"github.com/vovakirdan/wirechat-relay/internal/proto"
)

var errSlowConsumer = errors.New("slow consumer")

// WSHandler upgrades HTTP connections and bridges them to core sessions.
type WSHandler struct {
	hub             *core.Hub
	tokens          *auth.JWTConfig
	maxMessageBytes int64
	rateLimit       int
	log             *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(hub *core.Hub, cfg *config.Config, tokens *auth.JWTConfig, logger *zerolog.Logger) stdhttp.Handler {
	return &WSHandler{
		hub:             hub,
		tokens:          tokens,
		maxMessageBytes: cfg.MaxMessageBytes,
		rateLimit:       cfg.Chat.RateLimit,
		log:             logger,
	}
}

// ServeHTTP accepts GET /ws?offset=<id>&resume=<token>&protocol=<n>.
func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	query := r.URL.Query()

	var offset int64
	if raw := query.Get("offset"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			stdhttp.Error(w, "offset must be a non-negative integer", stdhttp.StatusBadRequest)
			return
		}
		offset = v
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.CloseNow()
	if h.maxMessageBytes > 0 {
		conn.SetReadLimit(h.maxMessageBytes)
	}

	ctx := r.Context()

	if raw := query.Get("protocol"); raw != "" {
		if v, err := strconv.Atoi(raw); err != nil || v != proto.ProtocolVersion {
			_ = wsjson.Write(ctx, conn, proto.Outbound{
				Type:  proto.OutboundTypeError,
				Error: &proto.Error{Code: errCodeUnsupportedVersion, Msg: "unsupported protocol version"},
			})
			conn.Close(websocket.StatusPolicyViolation, "unsupported protocol version")
			return
		}
	}

	session := h.hub.Connect(core.Handshake{
		ServerOffset: offset,
		ResumeID:     h.resumeID(query.Get("resume")),
	})
	defer h.hub.Disconnect(session)

	log := h.log.With().Str("session_id", session.ID).Logger()

	// The session frame goes out before anything the session loop emits.
	if err := wsjson.Write(ctx, conn, sessionOutbound(session, h.issueToken(session.ID))); err != nil {
		log.Warn().Err(err).Msg("write session event")
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return h.hub.Serve(gctx, session)
	})
	g.Go(func() error {
		return h.readLoop(gctx, conn, session, &log)
	})
	g.Go(func() error {
		return h.writeLoop(gctx, conn, session, &log)
	})
	err = g.Wait()

	status, reason := closeStatus(err)
	if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
		log.Warn().Err(err).Msg("ws connection closed with error")
	}
	conn.Close(status, reason)
}

// closeStatus maps the error that ended a connection to a close frame.
func closeStatus(err error) (websocket.StatusCode, string) {
	switch {
	case err == nil, errors.Is(err, context.Canceled), errors.Is(err, io.EOF):
		return websocket.StatusNormalClosure, "closing"
	case errors.Is(err, errSlowConsumer):
		return websocket.StatusTryAgainLater, errSlowConsumer.Error()
	}
	if s := websocket.CloseStatus(err); s == websocket.StatusNormalClosure || s == websocket.StatusGoingAway {
		return s, "closing"
	} else if s != -1 {
		return s, err.Error()
	}
	return websocket.StatusInternalError, err.Error()
}

func (h *WSHandler) resumeID(token string) string {
	if token == "" || h.tokens == nil {
		return ""
	}
	claims, err := auth.ValidateResumeToken(h.tokens, token)
	if err != nil {
		h.log.Debug().Err(err).Msg("ignoring resume token")
		return ""
	}
	return claims.SessionID
}

func (h *WSHandler) issueToken(sessionID string) string {
	if h.tokens == nil {
		return ""
	}
	token, err := auth.GenerateResumeToken(h.tokens, sessionID)
	if err != nil {
		h.log.Warn().Err(err).Str("session_id", sessionID).Msg("failed to sign resume token")
		return ""
	}
	return token
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, session *core.Session, log *zerolog.Logger) error {
	limiter := newRateLimiter(h.rateLimit)

	for {
		var inbound proto.Inbound
		if err := wsjson.Read(ctx, conn, &inbound); err != nil {
			log.Debug().Err(err).Msg("read ws inbound")
			return err
		}

		if !limiter.allow() {
			metrics.RejectedMessages.WithLabelValues("rate_limited").Inc()
			if err := writeError(ctx, conn, inbound.Seq, &proto.Error{Code: errCodeRateLimited, Msg: "too many messages"}); err != nil {
				return err
			}
			continue
		}

		cmd, protoErr := inboundToCommand(inbound)
		if protoErr != nil {
			log.Debug().Str("type", inbound.Type).Str("code", protoErr.Code).Msg("rejected inbound")
			if err := writeError(ctx, conn, inbound.Seq, protoErr); err != nil {
				return err
			}
			continue
		}

		select {
		case session.Commands <- cmd:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, session *core.Session, log *zerolog.Logger) error {
	for {
		select {
		case event := <-session.Events:
			if err := wsjson.Write(ctx, conn, outboundFromEvent(event)); err != nil {
				log.Debug().Err(err).Msg("write ws event")
				return err
			}
		case <-session.Lagged():
			metrics.SlowConsumers.Inc()
			log.Warn().Msg("dropping slow consumer")
			return errSlowConsumer
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func writeError(ctx context.Context, conn *websocket.Conn, seq int64, protoErr *proto.Error) error {
	return wsjson.Write(ctx, conn, proto.Outbound{
		Type:  proto.OutboundTypeError,
		Seq:   seq,
		Error: protoErr,
	})
}
