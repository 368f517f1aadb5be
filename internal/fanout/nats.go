package fanout

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-relay/internal/core"
)

// DefaultNATSPrefix is the subject root for room messages.
const DefaultNATSPrefix = "wirechat.room"

const natsPending = 1024

// NATS fans messages out over core NATS subjects, one subject per room.
type NATS struct {
	conn   *nats.Conn
	prefix string
	origin string
	log    *zerolog.Logger
}

// NewNATS connects to natsURL with unlimited reconnects.
func NewNATS(natsURL, prefix, origin string, logger *zerolog.Logger) (*NATS, error) {
	if prefix == "" {
		prefix = DefaultNATSPrefix
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "fanout").Str("driver", "nats").Logger()

	conn, err := nats.Connect(natsURL,
		nats.Name("wirechat-relay-"+origin),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			l.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			l.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	return &NATS{conn: conn, prefix: prefix, origin: origin, log: &l}, nil
}

// subject encodes room so that dots and wildcards in room names stay one token.
func (n *NATS) subject(room string) string {
	return n.prefix + "." + base64.RawURLEncoding.EncodeToString([]byte(room))
}

// Publish sends msg and flushes so a returned nil means the server has it.
func (n *NATS) Publish(ctx context.Context, msg core.Message) error {
	data, err := encode(n.origin, msg)
	if err != nil {
		return err
	}
	if err := n.conn.Publish(n.subject(msg.Room), data); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	if _, ok := ctx.Deadline(); ok {
		err = n.conn.FlushWithContext(ctx)
	} else {
		err = n.conn.Flush()
	}
	if err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}
	return nil
}

// Listen subscribes to every room subject and delivers until ctx is done.
func (n *NATS) Listen(ctx context.Context, deliver func(core.Message)) error {
	ch := make(chan *nats.Msg, natsPending)
	sub, err := n.conn.ChanSubscribe(n.prefix+".>", ch)
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	if err := n.conn.Flush(); err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}
	n.log.Info().Str("subject", n.prefix+".>").Msg("fan-out subscribed")

	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return errors.New("nats subscription closed")
			}
			msg, origin, err := decode(m.Data)
			if err != nil {
				n.log.Warn().Err(err).Str("subject", m.Subject).Msg("dropping malformed fan-out payload")
				continue
			}
			n.log.Debug().Int64("message_id", msg.ID).Str("room", msg.Room).Str("origin", origin).Msg("fan-out message received")
			deliver(msg)
		}
	}
}

// Close closes the NATS connection.
func (n *NATS) Close() error {
	n.conn.Close()
	return nil
}

var _ core.Fanout = (*NATS)(nil)
