package message

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

// Fallback values used whenever the AI service misbehaves. Message
// creation and summary display never fail because of it.
const (
	DefaultSummary   = "Could not summarize text."
	DefaultCommunity = "general"
)

// AIClient calls the text-generation sidecar over HTTP. Every call is
// best-effort: failures and timeouts degrade to a default value instead
// of propagating an error.
type AIClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewAIClient(baseURL string, timeout time.Duration) *AIClient {
	return &AIClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Summarize calls POST /api/summarize and returns a one-sentence summary.
func (c *AIClient) Summarize(ctx context.Context, text string) string {
	body, _ := json.Marshal(map[string]string{"text": text})
	var result struct {
		Summary string `json:"summary"`
	}
	if err := c.post(ctx, "/api/summarize", body, &result); err != nil {
		log.Printf("ai-service summarize (degraded): %v", err)
		return DefaultSummary
	}
	if strings.TrimSpace(result.Summary) == "" {
		return DefaultSummary
	}
	return strings.TrimSpace(result.Summary)
}

// SuggestCommunity calls POST /api/suggest-community and returns a single
// lowercase alphanumeric token.
func (c *AIClient) SuggestCommunity(ctx context.Context, title, text string) string {
	body, _ := json.Marshal(map[string]string{"title": title, "text": text})
	var result struct {
		Community string `json:"community"`
	}
	if err := c.post(ctx, "/api/suggest-community", body, &result); err != nil {
		log.Printf("ai-service suggest-community (degraded): %v", err)
		return DefaultCommunity
	}
	if tag := sanitizeCommunity(result.Community); tag != "" {
		return tag
	}
	return DefaultCommunity
}

func (c *AIClient) post(ctx context.Context, path string, body []byte, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("ai-service %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ai-service %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("ai-service %s returned %d: %s", path, resp.StatusCode, string(msg))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("ai-service %s: decode: %w", path, err)
	}
	return nil
}

// sanitizeCommunity reduces a suggestion to one lowercase alphanumeric word.
func sanitizeCommunity(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
