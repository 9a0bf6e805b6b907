package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"TubeDigest/internal/domain"
	"TubeDigest/internal/ports"
	"TubeDigest/internal/proxy"
)

const apiBase = "https://api.telegram.org/bot"

// Client talks to the Telegram Bot API. Outbound calls go through the
// chat-transport proxy class, so an explicit proxy applies and the system
// proxy never does.
type Client struct {
	baseURL  string
	botToken string
	client   *http.Client
}

var _ ports.Transport = (*Client)(nil)

// NewClient registers the bot token and builds the HTTP client from the
// network policy.
func NewClient(botToken string, proxies *proxy.Policy) *Client {
	return &Client{
		baseURL:  apiBase,
		botToken: botToken,
		client:   proxies.HTTPClient(proxy.ClassChatTransport, 90*time.Second),
	}
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

type apiMessage struct {
	MessageID int64 `json:"message_id"`
	Chat      struct {
		ID int64 `json:"id"`
	} `json:"chat"`
}

// SendMessage posts a text message and returns the handle needed to edit it
// later.
func (c *Client) SendMessage(ctx context.Context, userID, text string) (domain.MessageHandle, error) {
	form := url.Values{}
	form.Set("chat_id", userID)
	form.Set("text", text)

	raw, err := c.callForm(ctx, "sendMessage", form)
	if err != nil {
		return domain.MessageHandle{}, err
	}

	var msg apiMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return domain.MessageHandle{}, fmt.Errorf("decode sendMessage result: %w", err)
	}
	return domain.MessageHandle{
		ChatID:    strconv.FormatInt(msg.Chat.ID, 10),
		MessageID: msg.MessageID,
	}, nil
}

// EditMessage replaces the text of a previously sent message. Telegram
// rejects edits that change nothing; that case is treated as success.
func (c *Client) EditMessage(ctx context.Context, handle domain.MessageHandle, text string) error {
	form := url.Values{}
	form.Set("chat_id", handle.ChatID)
	form.Set("message_id", strconv.FormatInt(handle.MessageID, 10))
	form.Set("text", text)

	_, err := c.callForm(ctx, "editMessageText", form)
	if err != nil && strings.Contains(err.Error(), "message is not modified") {
		return nil
	}
	return err
}

// SendFile uploads a local file as a document.
func (c *Client) SendFile(ctx context.Context, userID, path, caption string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)
	go func() {
		defer pw.Close()
		defer writer.Close()
		_ = writer.WriteField("chat_id", userID)
		if caption != "" {
			_ = writer.WriteField("caption", caption)
		}
		part, err := writer.CreateFormFile("document", filepath.Base(path))
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, file); err != nil {
			pw.CloseWithError(err)
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.methodURL("sendDocument"), pr)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: send document: %v", domain.ErrNetwork, err)
	}
	defer resp.Body.Close()

	return decodeAPIError(resp)
}

type update struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		Text string `json:"text"`
		From *struct {
			ID int64 `json:"id"`
		} `json:"from"`
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
	} `json:"message"`
}

// Update is one inbound Telegram update already reduced to the bot's message
// model.
type Update struct {
	ID      int64
	Message domain.InboundMessage
	HasText bool
}

// GetUpdates long-polls for new messages. timeoutSec is the server-side hold
// time of the poll.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeoutSec int) ([]Update, error) {
	form := url.Values{}
	form.Set("offset", strconv.FormatInt(offset, 10))
	form.Set("timeout", strconv.Itoa(timeoutSec))
	form.Set("allowed_updates", `["message"]`)

	raw, err := c.callForm(ctx, "getUpdates", form)
	if err != nil {
		return nil, err
	}

	var updates []update
	if err := json.Unmarshal(raw, &updates); err != nil {
		return nil, fmt.Errorf("decode updates: %w", err)
	}

	out := make([]Update, 0, len(updates))
	for _, u := range updates {
		item := Update{ID: u.UpdateID}
		if u.Message != nil && u.Message.Text != "" {
			userID := strconv.FormatInt(u.Message.Chat.ID, 10)
			if u.Message.From != nil {
				userID = strconv.FormatInt(u.Message.From.ID, 10)
			}
			item.Message = parseInbound(userID, u.Message.Text)
			item.HasText = true
		}
		out = append(out, item)
	}
	return out, nil
}

// parseInbound splits a leading slash command off the message text. The
// optional @botname suffix on commands is dropped.
func parseInbound(userID, text string) domain.InboundMessage {
	msg := domain.InboundMessage{UserID: userID, Text: text}
	if !strings.HasPrefix(text, "/") {
		return msg
	}
	command := strings.Fields(text)[0][1:]
	if at := strings.Index(command, "@"); at >= 0 {
		command = command[:at]
	}
	msg.Command = strings.ToLower(command)
	return msg
}

func (c *Client) callForm(ctx context.Context, method string, form url.Values) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.methodURL(method), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrNetwork, method, err)
	}
	defer resp.Body.Close()

	if err := decodeAPIError(resp); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", method, err)
	}
	var parsed apiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", method, err)
	}
	if !parsed.OK {
		return nil, fmt.Errorf("telegram %s: %s", method, parsed.Description)
	}
	return parsed.Result, nil
}

func decodeAPIError(resp *http.Response) error {
	if resp.StatusCode < http.StatusBadRequest {
		return nil
	}
	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	var parsed apiResponse
	if json.Unmarshal(payload, &parsed) == nil && parsed.Description != "" {
		return fmt.Errorf("telegram error %s: %s", resp.Status, parsed.Description)
	}
	return fmt.Errorf("telegram error %s: %s", resp.Status, strings.TrimSpace(string(payload)))
}

func (c *Client) methodURL(method string) string {
	return c.baseURL + c.botToken + "/" + method
}
