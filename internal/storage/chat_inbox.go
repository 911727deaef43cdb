package storage

import (
	"context"
	"fmt"
	"time"

	"faccende/internal/core"
)

// SaveChatMessage stores an inbound chat message. Re-delivery of the same
// message id is a no-op so broker redeliveries never duplicate the inbox.
func (r *Repository) SaveChatMessage(ctx context.Context, msg core.Message) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO chat_messages (id, sender, body, received_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		msg.ID, msg.Sender, msg.Body, msg.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("save chat message: %w", err)
	}
	return nil
}

// UnprocessedChatMessages returns messages received at or after since that
// the intake pipeline has not yet consumed, oldest first.
func (r *Repository) UnprocessedChatMessages(ctx context.Context, since time.Time) ([]core.Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, sender, body, received_at
		FROM chat_messages
		WHERE processed_at IS NULL AND received_at >= ?
		ORDER BY received_at ASC, id ASC`, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("list chat messages: %w", err)
	}
	defer rows.Close()

	var msgs []core.Message
	for rows.Next() {
		var msg core.Message
		if err := rows.Scan(&msg.ID, &msg.Sender, &msg.Body, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("scan chat message: %w", err)
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chat messages: %w", err)
	}
	return msgs, nil
}

// MarkChatMessageProcessed stamps a message as consumed by the pipeline.
func (r *Repository) MarkChatMessageProcessed(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE chat_messages SET processed_at = ? WHERE id = ? AND processed_at IS NULL`,
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("mark chat message processed: %w", err)
	}
	return nil
}
