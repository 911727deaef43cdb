// Package gmail adapts a Gmail inbox as a task source. Authentication
// uses a pre-authorized OAuth token file; the interactive grant flow
// lives in the faccende-oauth command.
package gmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"faccende/internal/core"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

type Source struct {
	service    *gmailapi.Service
	maxResults int64
}

// NewSource builds a Gmail source from a credentials file and a token
// file produced by the oauth command. The client refreshes the access
// token automatically from the stored refresh token.
func NewSource(ctx context.Context, credentialsFile, tokenFile string, maxResults int64) (*Source, error) {
	b, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read credentials file: %w", err)
	}

	config, err := google.ConfigFromJSON(b, gmailapi.GmailReadonlyScope, gmailapi.GmailSendScope)
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}

	token, err := tokenFromFile(tokenFile)
	if err != nil {
		return nil, fmt.Errorf("load token: %w", err)
	}

	service, err := gmailapi.NewService(ctx, option.WithHTTPClient(config.Client(ctx, token)))
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}

	if maxResults <= 0 {
		maxResults = 50
	}
	return &Source{service: service, maxResults: maxResults}, nil
}

func (s *Source) Type() core.SourceType {
	return core.SourceEmail
}

// FetchNew lists inbox messages received at or after since and loads each
// in full. A message that fails to load is skipped rather than failing
// the whole fetch.
func (s *Source) FetchNew(ctx context.Context, since time.Time) ([]core.Message, error) {
	query := fmt.Sprintf("in:inbox after:%d", since.Unix())
	list, err := s.service.Users.Messages.List("me").
		Q(query).
		MaxResults(s.maxResults).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	msgs := make([]core.Message, 0, len(list.Messages))
	for _, ref := range list.Messages {
		full, err := s.service.Users.Messages.Get("me", ref.Id).
			Format("full").
			Context(ctx).
			Do()
		if err != nil {
			slog.WarnContext(ctx, "Failed to load email", "id", ref.Id, "error", err)
			continue
		}

		msg := core.Message{
			ID:        full.Id,
			Timestamp: time.UnixMilli(full.InternalDate).UTC(),
			Body:      extractBody(full.Payload),
		}
		for _, h := range full.Payload.Headers {
			switch h.Name {
			case "Subject":
				msg.Subject = h.Value
			case "From":
				msg.Sender = h.Value
			}
		}
		msgs = append(msgs, msg)
	}

	sort.Slice(msgs, func(i, j int) bool {
		if msgs[i].Timestamp.Equal(msgs[j].Timestamp) {
			return msgs[i].ID < msgs[j].ID
		}
		return msgs[i].Timestamp.Before(msgs[j].Timestamp)
	})
	return msgs, nil
}

// Acknowledge is a no-op: the mailbox is polled by timestamp window and
// keeps no per-message processed state. Dedup keys absorb re-fetches.
func (s *Source) Acknowledge(ctx context.Context, messageID string) error {
	return nil
}

// SendReply sends a plain-text email to the recipient.
func (s *Source) SendReply(ctx context.Context, recipient, text string) error {
	raw := fmt.Sprintf("To: %s\r\nSubject: Your household assistant\r\nContent-Type: text/plain; charset=\"UTF-8\"\r\n\r\n%s",
		recipient, text)
	_, err := s.service.Users.Messages.Send("me", &gmailapi.Message{
		Raw: base64.URLEncoding.EncodeToString([]byte(raw)),
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("send reply: %w", err)
	}
	return nil
}

func tokenFromFile(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	token := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(token); err != nil {
		return nil, fmt.Errorf("decode token file %s: %w", path, err)
	}
	return token, nil
}
