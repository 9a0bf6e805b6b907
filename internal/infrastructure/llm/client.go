package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"TubeDigest/internal/config"
	"TubeDigest/internal/domain"
	"TubeDigest/internal/ports"
	"TubeDigest/internal/proxy"
)

// Client talks to an OpenAI-compatible chat-completions API. It serves both
// summarization and open-ended chat. The speech-llm policy class always
// resolves direct, so these calls never go through a proxy.
type Client struct {
	endpoint         string
	model            string
	apiKey           string
	summaryPrompt    string
	chatSystemPrompt string
	httpClient       *http.Client
}

var (
	_ ports.Summarizer = (*Client)(nil)
	_ ports.ChatModel  = (*Client)(nil)
)

// NewClient builds a client from configuration and the network policy.
func NewClient(cfg config.LLMConfig, proxies *proxy.Policy) *Client {
	return &Client{
		endpoint:         cfg.Endpoint,
		model:            cfg.Model,
		apiKey:           cfg.APIKey,
		summaryPrompt:    cfg.SummaryPrompt,
		chatSystemPrompt: cfg.ChatSystemPrompt,
		httpClient:       proxies.HTTPClient(proxy.ClassSpeechLLM, 120*time.Second),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Summarize condenses a transcript into the key spoken points.
func (c *Client) Summarize(ctx context.Context, text string) (string, error) {
	messages := []chatMessage{
		{Role: "system", Content: c.summaryPrompt},
		{Role: "user", Content: text},
	}
	reply, err := c.complete(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}
	return reply, nil
}

// Converse answers the latest user turn given the whole chat history.
func (c *Client) Converse(ctx context.Context, history []domain.ChatTurn) (string, error) {
	messages := make([]chatMessage, 0, len(history)+1)
	if c.chatSystemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: c.chatSystemPrompt})
	}
	for _, turn := range history {
		messages = append(messages, chatMessage{Role: string(turn.Role), Content: turn.Text})
	}
	reply, err := c.complete(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("converse: %w", err)
	}
	return reply, nil
}

func (c *Client) complete(ctx context.Context, messages []chatMessage) (string, error) {
	if c.apiKey == "" || c.endpoint == "" || c.model == "" {
		return "", fmt.Errorf("llm client misconfigured")
	}

	body, err := json.Marshal(map[string]any{
		"model":    c.model,
		"messages": messages,
	})
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", fmt.Errorf("%w: rate limited", domain.ErrQuota)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("llm error %s: %s", resp.Status, strings.TrimSpace(string(payload)))
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("llm returned no choices")
	}
	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}
