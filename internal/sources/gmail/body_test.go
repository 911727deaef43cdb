package gmail

import (
	"encoding/base64"
	"testing"

	gmailapi "google.golang.org/api/gmail/v1"
)

func encoded(s string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(s))
}

func TestExtractBody(t *testing.T) {
	tests := []struct {
		name    string
		payload *gmailapi.MessagePart
		want    string
	}{
		{
			name:    "nil payload",
			payload: nil,
			want:    "",
		},
		{
			name: "plain body at top level",
			payload: &gmailapi.MessagePart{
				MimeType: "text/plain",
				Body:     &gmailapi.MessagePartBody{Data: encoded("hello there")},
			},
			want: "hello there",
		},
		{
			name: "prefers plain over html in multipart",
			payload: &gmailapi.MessagePart{
				MimeType: "multipart/alternative",
				Parts: []*gmailapi.MessagePart{
					{
						MimeType: "text/html",
						Body:     &gmailapi.MessagePartBody{Data: encoded("<p>rich</p>")},
					},
					{
						MimeType: "text/plain",
						Body:     &gmailapi.MessagePartBody{Data: encoded("plain")},
					},
				},
			},
			want: "plain",
		},
		{
			name: "falls back to stripped html",
			payload: &gmailapi.MessagePart{
				MimeType: "text/html",
				Body: &gmailapi.MessagePartBody{
					Data: encoded("<html><body><p>Your bill is <b>due</b>.</p></body></html>"),
				},
			},
			want: "Your bill is due .",
		},
		{
			name: "nested multipart",
			payload: &gmailapi.MessagePart{
				MimeType: "multipart/mixed",
				Parts: []*gmailapi.MessagePart{
					{
						MimeType: "multipart/alternative",
						Parts: []*gmailapi.MessagePart{
							{
								MimeType: "text/plain",
								Body:     &gmailapi.MessagePartBody{Data: encoded("deep body")},
							},
						},
					},
				},
			},
			want: "deep body",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractBody(tt.payload); got != tt.want {
				t.Errorf("extractBody() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHTMLToText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"entities", "Fish &amp; chips", "Fish & chips"},
		{"drops scripts", "<script>alert(1)</script>hello", "hello"},
		{"drops styles", "<style>p{}</style>world", "world"},
		{"collapses spaces", "a    b\t\tc", "a b c"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := htmlToText(tt.in); got != tt.want {
				t.Errorf("htmlToText(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
