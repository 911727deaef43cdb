// Package sources defines the collaborator interface the intake pipeline
// pulls messages from, with one adapter per message channel.
package sources

import (
	"context"
	"time"

	"faccende/internal/core"
)

// Source is a channel of inbound household messages. FetchNew returns
// messages received at or after since, oldest first. Acknowledge marks a
// message as fully processed; the pipeline calls it only after the
// message reached a terminal state, so a message whose extraction failed
// is fetched again on the next cycle. SendReply delivers a short
// acknowledgement back on the same channel; replies are best effort and
// a failed reply never blocks intake.
type Source interface {
	Type() core.SourceType
	FetchNew(ctx context.Context, since time.Time) ([]core.Message, error)
	Acknowledge(ctx context.Context, messageID string) error
	SendReply(ctx context.Context, recipient, text string) error
}
