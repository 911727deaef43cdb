package chat

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"faccende/internal/core"
)

// Inbox is the durable store the consumer lands messages in, decoupling
// broker delivery from pipeline runs.
type Inbox interface {
	SaveChatMessage(ctx context.Context, msg core.Message) error
	UnprocessedChatMessages(ctx context.Context, since time.Time) ([]core.Message, error)
	MarkChatMessageProcessed(ctx context.Context, id string) error
}

type broker interface {
	ConsumeInbound(ctx context.Context, handler func(*InboundMessage) error) error
	PublishReply(ctx context.Context, reply *ReplyMessage) error
}

// Source adapts the chat bridge to the pipeline. Run consumes broker
// deliveries into the inbox; FetchNew drains the inbox for intake.
type Source struct {
	client broker
	inbox  Inbox
}

func NewSource(client *Client, inbox Inbox) *Source {
	return &Source{client: client, inbox: inbox}
}

func (s *Source) Type() core.SourceType {
	return core.SourceChat
}

// Run consumes inbound chat messages until the context is cancelled. Each
// message is landed in the inbox and acknowledged to the sender with a
// short receipt.
func (s *Source) Run(ctx context.Context) error {
	return s.client.ConsumeInbound(ctx, func(msg *InboundMessage) error {
		if err := s.inbox.SaveChatMessage(ctx, core.Message{
			ID:        msg.ID,
			Sender:    msg.Sender,
			Timestamp: msg.Timestamp,
			Body:      msg.Body,
		}); err != nil {
			return fmt.Errorf("store chat message: %w", err)
		}

		if err := s.client.PublishReply(ctx, &ReplyMessage{
			To:        msg.Sender,
			Body:      "Got it, I'll look into it.",
			Timestamp: time.Now().UTC(),
		}); err != nil {
			slog.WarnContext(ctx, "Failed to acknowledge chat message",
				"id", msg.ID,
				"error", err)
		}
		return nil
	})
}

// FetchNew returns inbox messages not yet consumed by the pipeline. They
// stay unprocessed until Acknowledge, so a message whose intake failed is
// returned again on the next cycle.
func (s *Source) FetchNew(ctx context.Context, since time.Time) ([]core.Message, error) {
	msgs, err := s.inbox.UnprocessedChatMessages(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("fetch chat messages: %w", err)
	}
	return msgs, nil
}

// Acknowledge marks one inbox message processed. Task deduplication makes
// a re-read after a missed acknowledgement harmless.
func (s *Source) Acknowledge(ctx context.Context, messageID string) error {
	if err := s.inbox.MarkChatMessageProcessed(ctx, messageID); err != nil {
		return fmt.Errorf("mark chat message processed: %w", err)
	}
	return nil
}

func (s *Source) SendReply(ctx context.Context, recipient, text string) error {
	return s.client.PublishReply(ctx, &ReplyMessage{
		To:        recipient,
		Body:      text,
		Timestamp: time.Now().UTC(),
	})
}
