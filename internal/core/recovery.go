package core

import (
	"context"
	"fmt"
	"time"

	"github.com/vovakirdan/wirechat-relay/internal/metrics"
	"github.com/vovakirdan/wirechat-relay/internal/store"
)

const defaultReplayBatch = 200

// Replayer streams the messages a reconnecting session missed.
type Replayer struct {
	store store.MessageStore
	batch int
}

// NewReplayer builds a replayer reading batch messages per store scan.
func NewReplayer(st store.MessageStore, batch int) *Replayer {
	if batch <= 0 {
		batch = defaultReplayBatch
	}
	return &Replayer{store: st, batch: batch}
}

// Missed returns every message of room with id > afterID, oldest first.
func (r *Replayer) Missed(ctx context.Context, room string, afterID int64) ([]Message, error) {
	var missed []Message
	err := r.scan(ctx, room, afterID, func(page []Message) error {
		missed = append(missed, page...)
		return nil
	})
	return missed, err
}

// Replay sends the session every message of its room newer than its server
// offset, to that session only. Resumed sessions are skipped since their
// buffered messages were restored with them. The returned slice is what was
// computed from the store; it is the same for the same store state and offset.
func (r *Replayer) Replay(ctx context.Context, s *Session) ([]Message, error) {
	if s.Recovered() {
		return nil, nil
	}

	// Live messages arriving meanwhile wait until the replay is queued.
	s.holdLive()

	var replayed []Message
	err := r.scan(ctx, s.Room(), s.ServerOffset(), func(page []Message) error {
		for _, msg := range page {
			if err := s.emit(ctx, chatEvent(msg)); err != nil {
				return err
			}
			replayed = append(replayed, msg)
		}
		return nil
	})
	metrics.RecoveryReplayed.Add(float64(len(replayed)))
	if releaseErr := s.releaseLive(ctx); err == nil {
		err = releaseErr
	}
	return replayed, err
}

func (r *Replayer) scan(ctx context.Context, room string, afterID int64, page func([]Message) error) error {
	cursor := afterID
	for {
		start := time.Now()
		rows, err := r.store.ScanRoom(ctx, room, cursor, r.batch)
		metrics.StoreLatency.WithLabelValues("scan").Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.StoreErrors.WithLabelValues("scan").Inc()
			return fmt.Errorf("scan room %q after %d: %w", room, cursor, err)
		}
		if len(rows) == 0 {
			return nil
		}

		if err := page(messagesFromStore(rows)); err != nil {
			return err
		}
		if len(rows) < r.batch {
			return nil
		}
		cursor = rows[len(rows)-1].ID
	}
}
