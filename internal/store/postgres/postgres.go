package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vovakirdan/wirechat-relay/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id            BIGSERIAL PRIMARY KEY,
	client_offset TEXT UNIQUE,
	room          TEXT NOT NULL,
	nickname      TEXT NOT NULL,
	content       TEXT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_messages_room_id ON messages(room, id);
`

// PostgresStore implements store.MessageStore on a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// New connects to databaseURL and applies the schema.
func New(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Append inserts a message stamped with createdAt. A conflicting
// client_offset inserts nothing and RETURNING yields no row, which is
// reported as store.ErrDuplicateOffset.
func (s *PostgresStore) Append(ctx context.Context, room, nickname, clientOffset, content string, createdAt time.Time) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO messages (client_offset, room, nickname, content, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (client_offset) DO NOTHING
		RETURNING id
	`, clientOffset, room, nickname, content, createdAt.UTC()).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, store.ErrDuplicateOffset
		}
		return 0, fmt.Errorf("insert message: %w", err)
	}
	return id, nil
}

// ScanRoom returns messages of room with id > afterID, oldest first.
func (s *PostgresStore) ScanRoom(ctx context.Context, room string, afterID int64, limit int) ([]store.Message, error) {
	query := `
		SELECT id, COALESCE(client_offset, ''), room, nickname, content, created_at
		FROM messages
		WHERE room = $1 AND id > $2
		ORDER BY id ASC
	`
	args := []any{room, afterID}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	return collectMessages(rows)
}

// LatestInRoom returns the newest limit messages of room, oldest first.
func (s *PostgresStore) LatestInRoom(ctx context.Context, room string, limit int) ([]store.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, client_offset, room, nickname, content, created_at
		FROM (
			SELECT id, COALESCE(client_offset, '') AS client_offset, room, nickname, content, created_at
			FROM messages
			WHERE room = $1
			ORDER BY id DESC
			LIMIT $2
		) latest
		ORDER BY id ASC
	`, room, limit)
	if err != nil {
		return nil, fmt.Errorf("query latest messages: %w", err)
	}
	return collectMessages(rows)
}

func collectMessages(rows pgx.Rows) ([]store.Message, error) {
	messages, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.Message, error) {
		var msg store.Message
		err := row.Scan(&msg.ID, &msg.ClientOffset, &msg.Room, &msg.Nickname, &msg.Content, &msg.CreatedAt)
		return msg, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan messages: %w", err)
	}
	return messages, nil
}
