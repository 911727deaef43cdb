package gmail

import (
	"encoding/base64"
	"html"
	"regexp"
	"strings"

	gmailapi "google.golang.org/api/gmail/v1"
)

var (
	htmlTagPattern    = regexp.MustCompile(`(?s)<(script|style)[^>]*>.*?</(script|style)>|<[^>]*>`)
	whitespacePattern = regexp.MustCompile(`[ \t]+`)
	blankLinePattern  = regexp.MustCompile(`\n{3,}`)
)

// extractBody pulls a plain-text body out of a message payload, preferring
// a text/plain part and falling back to stripped text/html.
func extractBody(payload *gmailapi.MessagePart) string {
	if payload == nil {
		return ""
	}
	if text := findPart(payload, "text/plain"); text != "" {
		return strings.TrimSpace(text)
	}
	if htmlBody := findPart(payload, "text/html"); htmlBody != "" {
		return htmlToText(htmlBody)
	}
	return ""
}

func findPart(part *gmailapi.MessagePart, mimeType string) string {
	if part.MimeType == mimeType && part.Body != nil && part.Body.Data != "" {
		return decodeBody(part.Body.Data)
	}
	for _, child := range part.Parts {
		if text := findPart(child, mimeType); text != "" {
			return text
		}
	}
	return ""
}

func decodeBody(data string) string {
	if decoded, err := base64.RawURLEncoding.DecodeString(data); err == nil {
		return string(decoded)
	}
	if decoded, err := base64.URLEncoding.DecodeString(data); err == nil {
		return string(decoded)
	}
	return ""
}

func htmlToText(s string) string {
	s = htmlTagPattern.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)
	s = whitespacePattern.ReplaceAllString(s, " ")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	s = strings.Join(lines, "\n")
	s = blankLinePattern.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
