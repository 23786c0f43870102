package relay

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/oatsaysai/general-store-in-discord/internal/apperr"
)

// MaxNotifyPayload stays under PostgreSQL's 8000 byte NOTIFY limit
const MaxNotifyPayload = 7500

const compressedPrefix = "z:"

var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	zstdDecoder, _ = zstd.NewReader(nil)
)

// EncodePayload renders msg for NOTIFY. Oversized messages are compressed;
// if that is still too large the state is dropped and the message is
// flagged stale so that receivers re-read storage.
func EncodePayload(msg Message) (string, error) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return "", errors.Wrap(err, "marshal message")
	}
	if len(raw) <= MaxNotifyPayload {
		return string(raw), nil
	}
	packed := compressedPrefix + base64.StdEncoding.EncodeToString(zstdEncoder.EncodeAll(raw, nil))
	if len(packed) <= MaxNotifyPayload {
		return packed, nil
	}
	if len(msg.State) > 0 {
		msg.State = nil
		msg.Stale = true
		return EncodePayload(msg)
	}
	return "", errors.Wrapf(apperr.ErrBadRequest, "%s message of %d bytes does not fit a notification", msg.Type, len(raw))
}

// DecodePayload reverses EncodePayload
func DecodePayload(payload string) (Message, error) {
	raw := []byte(payload)
	if rest, ok := strings.CutPrefix(payload, compressedPrefix); ok {
		packed, err := base64.StdEncoding.DecodeString(rest)
		if err != nil {
			return Message{}, errors.Wrap(apperr.ErrBadRequest, "bad base64 payload")
		}
		raw, err = zstdDecoder.DecodeAll(packed, nil)
		if err != nil {
			return Message{}, errors.Wrap(apperr.ErrBadRequest, "bad zstd payload")
		}
	}
	return Decode(raw)
}

// PGBus relays messages between processes through PostgreSQL LISTEN/NOTIFY.
// Messages reach local subscribers only once they come back from the
// server, so every process, the publisher included, sees the same order.
type PGBus struct {
	pool    *pgxpool.Pool
	channel string
	hub     *Hub
	log     *log.Entry
}

// NewPGBus creates a bus on the given notification channel
func NewPGBus(pool *pgxpool.Pool, channel string, logger *log.Entry) *PGBus {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	logger = logger.WithFields(log.Fields{"component": "pgbus", "channel": channel})
	return &PGBus{
		pool:    pool,
		channel: channel,
		hub:     NewHub(logger),
		log:     logger,
	}
}

// Publish sends msg with pg_notify
func (b *PGBus) Publish(ctx context.Context, msg Message) error {
	payload, err := EncodePayload(msg)
	if err != nil {
		return err
	}
	if _, err := b.pool.Exec(ctx, "SELECT pg_notify($1, $2)", b.channel, payload); err != nil {
		return errors.Wrap(err, "pg_notify")
	}
	return nil
}

// Subscribe registers a handler for messages received by Listen
func (b *PGBus) Subscribe(h Handler) func() {
	return b.hub.Subscribe(h)
}

// Listen holds a dedicated connection and forwards notifications to the
// subscribers until ctx ends. Lost connections are re-established.
func (b *PGBus) Listen(ctx context.Context) error {
	defer b.hub.Close()
	for {
		err := b.listenOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		b.log.WithError(err).Warn("Notification listener stopped, reconnecting")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(2 * time.Second):
		}
	}
}

func (b *PGBus) listenOnce(ctx context.Context) error {
	conn, err := b.pool.Acquire(ctx)
	if err != nil {
		return errors.Wrap(err, "acquire listener connection")
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{b.channel}.Sanitize()); err != nil {
		return errors.Wrap(err, "listen")
	}
	b.log.Info("Listening for notifications")

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return errors.Wrap(err, "wait for notification")
		}
		msg, err := DecodePayload(n.Payload)
		if err != nil {
			b.log.WithError(err).Warn("Dropping malformed notification")
			continue
		}
		if err := b.hub.Publish(ctx, msg); err != nil {
			return err
		}
	}
}
