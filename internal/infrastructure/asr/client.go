package asr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"TubeDigest/internal/config"
	"TubeDigest/internal/domain"
	"TubeDigest/internal/ports"
	"TubeDigest/internal/proxy"
)

// Client drives an asynchronous transcription service: submit the audio URL,
// poll the task until it settles, then fetch the transcript document. Like
// every speech-llm call it always goes out direct.
type Client struct {
	endpoint     string
	tasksBase    string
	apiKey       string
	model        string
	pollInterval time.Duration
	pollTimeout  time.Duration
	httpClient   *http.Client
	logger       *slog.Logger
}

var _ ports.Transcriber = (*Client)(nil)

// NewClient builds the transcriber from configuration and the network policy.
func NewClient(cfg config.ASRConfig, proxies *proxy.Policy, logger *slog.Logger) (*Client, error) {
	parsed, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse asr endpoint: %w", err)
	}
	return &Client{
		endpoint:     cfg.Endpoint,
		tasksBase:    parsed.Scheme + "://" + parsed.Host + "/api/v1/tasks/",
		apiKey:       cfg.APIKey,
		model:        cfg.Model,
		pollInterval: cfg.PollInterval,
		pollTimeout:  cfg.PollTimeout,
		httpClient:   proxies.HTTPClient(proxy.ClassSpeechLLM, 60*time.Second),
		logger:       logger.With("component", "asr"),
	}, nil
}

// Transcribe converts the audio behind refURL into plain text.
func (c *Client) Transcribe(ctx context.Context, refURL string) (string, error) {
	taskID, err := c.submit(ctx, refURL)
	if err != nil {
		return "", err
	}
	c.logger.Info("transcription task submitted", "task_id", taskID)

	resultURL, err := c.waitForResult(ctx, taskID)
	if err != nil {
		return "", err
	}
	return c.fetchTranscript(ctx, resultURL)
}

func (c *Client) submit(ctx context.Context, refURL string) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("asr client misconfigured: missing api key")
	}

	body, err := json.Marshal(map[string]any{
		"model":      c.model,
		"input":      map[string]any{"file_urls": []string{refURL}},
		"parameters": map[string]any{"language_hints": []string{"zh", "en"}},
	})
	if err != nil {
		return "", fmt.Errorf("marshal submit payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-DashScope-Async", "enable")

	var parsed struct {
		Output struct {
			TaskID string `json:"task_id"`
		} `json:"output"`
	}
	if err := c.doJSON(req, &parsed); err != nil {
		return "", fmt.Errorf("submit transcription: %w", err)
	}
	if parsed.Output.TaskID == "" {
		return "", fmt.Errorf("%w: submit returned no task id", domain.ErrTranscription)
	}
	return parsed.Output.TaskID, nil
}

func (c *Client) waitForResult(ctx context.Context, taskID string) (string, error) {
	deadline := time.Now().Add(c.pollTimeout)
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		status, resultURL, err := c.pollTask(ctx, taskID)
		if err != nil {
			return "", err
		}
		switch status {
		case "SUCCEEDED":
			if resultURL == "" {
				return "", fmt.Errorf("%w: task %s finished without a result", domain.ErrTranscription, taskID)
			}
			return resultURL, nil
		case "FAILED":
			return "", fmt.Errorf("%w: task %s failed", domain.ErrTranscription, taskID)
		}

		if time.Now().After(deadline) {
			return "", fmt.Errorf("%w: task %s still %s after %s", domain.ErrTranscription, taskID, status, c.pollTimeout)
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) pollTask(ctx context.Context, taskID string) (string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.tasksBase+taskID, nil)
	if err != nil {
		return "", "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	var parsed struct {
		Output struct {
			TaskStatus string `json:"task_status"`
			Results    []struct {
				TranscriptionURL string `json:"transcription_url"`
			} `json:"results"`
		} `json:"output"`
	}
	if err := c.doJSON(req, &parsed); err != nil {
		return "", "", fmt.Errorf("poll task %s: %w", taskID, err)
	}

	var resultURL string
	if len(parsed.Output.Results) > 0 {
		resultURL = parsed.Output.Results[0].TranscriptionURL
	}
	return parsed.Output.TaskStatus, resultURL, nil
}

func (c *Client) fetchTranscript(ctx context.Context, resultURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resultURL, nil)
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}

	var parsed struct {
		Transcripts []struct {
			Text string `json:"text"`
		} `json:"transcripts"`
	}
	if err := c.doJSON(req, &parsed); err != nil {
		return "", fmt.Errorf("fetch transcript: %w", err)
	}
	if len(parsed.Transcripts) == 0 {
		return "", fmt.Errorf("%w: transcript document is empty", domain.ErrTranscription)
	}
	return strings.TrimSpace(parsed.Transcripts[0].Text), nil
}

func (c *Client) doJSON(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: rate limited", domain.ErrQuota)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("asr error %s: %s", resp.Status, strings.TrimSpace(string(payload)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
