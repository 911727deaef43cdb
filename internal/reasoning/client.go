package reasoning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"faccende/internal/core"
)

// Completion is a single model response plus the token usage reported for
// it. Usage drives cost settlement, so it is surfaced even when the text
// later fails to parse.
type Completion struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
}

// Completer abstracts the reasoning backend for the gateway.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (Completion, error)
}

// Client talks to a Gemini-style generateContent endpoint over plain HTTP.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

func NewClient(baseURL, apiKey, model string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type generateRequest struct {
	Contents          []content        `json:"contents"`
	SystemInstruction *content         `json:"systemInstruction,omitempty"`
	GenerationConfig  generationConfig `json:"generationConfig"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature      float64 `json:"temperature"`
	ResponseMimeType string  `json:"response_mime_type,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []part `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

const maxRetries = 3

// Complete sends one prompt and returns the model's text plus token usage.
// Rate limits (429) are retried with exponential backoff; network errors
// and 5xx responses map to ErrServiceUnavailable.
func (c *Client) Complete(ctx context.Context, system, prompt string) (Completion, error) {
	if c.apiKey == "" {
		return Completion{}, fmt.Errorf("api key not configured: %w", core.ErrServiceUnavailable)
	}

	reqBody := generateRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: prompt}}}},
		GenerationConfig: generationConfig{
			Temperature:      0.2,
			ResponseMimeType: "application/json",
		},
	}
	if system != "" {
		reqBody.SystemInstruction = &content{Parts: []part{{Text: system}}}
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return Completion{}, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, c.model, c.apiKey)

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return Completion{}, fmt.Errorf("backoff interrupted: %w", ctx.Err())
			}
		}

		completion, retryable, err := c.do(ctx, url, payload)
		if err == nil {
			return completion, nil
		}
		if !retryable {
			// Usage is reported even for unusable responses so the
			// caller can settle whatever was billed.
			return completion, err
		}
		lastErr = err
		slog.WarnContext(ctx, "Reasoning call retrying",
			"attempt", attempt+1,
			"model", c.model,
			"error", err)
	}
	return Completion{}, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *Client) do(ctx context.Context, url string, payload []byte) (Completion, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return Completion{}, false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Completion{}, true, fmt.Errorf("reasoning request: %v: %w", err, core.ErrServiceUnavailable)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Completion{}, true, fmt.Errorf("read response: %v: %w", err, core.ErrServiceUnavailable)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return Completion{}, true, fmt.Errorf("rate limited: %w", core.ErrServiceUnavailable)
	case resp.StatusCode >= 500:
		return Completion{}, true, fmt.Errorf("upstream status %d: %w", resp.StatusCode, core.ErrServiceUnavailable)
	case resp.StatusCode != http.StatusOK:
		return Completion{}, false, fmt.Errorf("upstream status %d: %s: %w",
			resp.StatusCode, strings.TrimSpace(string(body)), core.ErrServiceUnavailable)
	}

	var parsed generateResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Completion{}, false, fmt.Errorf("parse response envelope: %w", core.ErrMalformedResponse)
	}
	if parsed.Error != nil {
		return Completion{}, false, fmt.Errorf("upstream error: %s: %w", parsed.Error.Message, core.ErrServiceUnavailable)
	}

	completion := Completion{
		PromptTokens:     parsed.UsageMetadata.PromptTokenCount,
		CompletionTokens: parsed.UsageMetadata.CandidatesTokenCount,
	}

	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		// Usage may still be billed on an empty candidate list.
		return completion, false, fmt.Errorf("no completion returned: %w", core.ErrMalformedResponse)
	}

	var sb strings.Builder
	for _, p := range parsed.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	completion.Text = strings.TrimSpace(sb.String())
	return completion, false, nil
}
