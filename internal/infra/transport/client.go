// Package transport is the sole boundary to the remote chat backend: an
// authenticated REST client for message operations and a websocket feed for
// realtime delivery. It maps HTTP status codes to the typed error taxonomy
// and normalizes every payload on the way in; nothing above this layer sees
// a raw server shape.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"chatsync/internal/domain/chat"
)

// DefaultMaxUploadBytes bounds media uploads checked locally before any
// network call.
const DefaultMaxUploadBytes = 10 << 20

var allowedExtensions = map[chat.Kind][]string{
	chat.KindImage:    {".jpg", ".jpeg", ".png", ".gif", ".webp"},
	chat.KindVideo:    {".mp4", ".webm", ".mov"},
	chat.KindDocument: {".pdf", ".doc", ".docx", ".txt"},
}

// Config defines REST client settings.
type Config struct {
	BaseURL        string
	Token          string
	Timeout        time.Duration
	MaxUploadBytes int64
}

// Client wraps the chat REST API.
type Client struct {
	baseURL        string
	token          string
	httpClient     *http.Client
	normalizer     chat.Normalizer
	maxUploadBytes int64
	logger         *slog.Logger
}

// NewClient returns a typed client for the chat backend.
func NewClient(cfg Config, normalizer chat.Normalizer, logger *slog.Logger) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("transport: base URL required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	maxUpload := cfg.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = DefaultMaxUploadBytes
	}
	return &Client{
		baseURL:        base,
		token:          cfg.Token,
		httpClient:     &http.Client{Timeout: timeout},
		normalizer:     normalizer,
		maxUploadBytes: maxUpload,
		logger:         logger,
	}, nil
}

type historyResponse struct {
	Messages []chat.RawMessage `json:"messages"`
}

// History fetches the message window for a conversation. An unknown
// conversation is an empty one, not an error.
func (c *Client) History(ctx context.Context, conversationID string) ([]chat.Message, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.conversationPath(conversationID, "messages"), nil, "")
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{Op: "history", Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &AuthError{Status: resp.StatusCode}
	case resp.StatusCode != http.StatusOK:
		return nil, &NetworkError{Op: "history", Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	var payload historyResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, &NetworkError{Op: "history", Err: fmt.Errorf("decode response: %w", err)}
	}
	return c.normalizer.NormalizeAll(payload.Messages), nil
}

type sendRequest struct {
	Content string `json:"content"`
	Kind    string `json:"kind"`
}

// SendText posts a text message and returns the server-confirmed echo. The
// request carries an idempotency key; the caller decides whether to retry.
func (c *Client) SendText(ctx context.Context, conversationID, content string) (chat.Message, error) {
	body, err := json.Marshal(sendRequest{Content: content, Kind: string(chat.KindText)})
	if err != nil {
		return chat.Message{}, &SendError{Err: err}
	}
	req, err := c.newRequest(ctx, http.MethodPost, c.conversationPath(conversationID, "messages"), bytes.NewReader(body), "application/json")
	if err != nil {
		return chat.Message{}, err
	}
	req.Header.Set("Idempotency-Key", uuid.NewString())
	return c.doSend(req)
}

// SendMedia uploads a file as a multipart request. Size and extension are
// validated locally; a rejection never reaches the network.
func (c *Client) SendMedia(ctx context.Context, conversationID, filename string, content io.Reader, size int64, kind chat.Kind) (chat.Message, error) {
	if err := c.validateUpload(filename, size, kind); err != nil {
		return chat.Message{}, err
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", path.Base(filename))
	if err != nil {
		return chat.Message{}, &SendError{Err: err}
	}
	if _, err := io.Copy(part, io.LimitReader(content, c.maxUploadBytes+1)); err != nil {
		return chat.Message{}, &SendError{Err: err}
	}
	if int64(buf.Len()) > c.maxUploadBytes {
		return chat.Message{}, &ValidationError{Field: "file", Reason: "content larger than declared size limit"}
	}
	if err := writer.WriteField("kind", string(kind)); err != nil {
		return chat.Message{}, &SendError{Err: err}
	}
	if err := writer.Close(); err != nil {
		return chat.Message{}, &SendError{Err: err}
	}

	req, err := c.newRequest(ctx, http.MethodPost, c.conversationPath(conversationID, "media"), &buf, writer.FormDataContentType())
	if err != nil {
		return chat.Message{}, err
	}
	req.Header.Set("Idempotency-Key", uuid.NewString())
	return c.doSend(req)
}

// Delete removes a message by durable id. Deleting an already-deleted
// message succeeds: the backend answers 404 and local state simply stops
// matching on removal.
func (c *Client) Delete(ctx context.Context, conversationID, messageID string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, c.conversationPath(conversationID, "messages", messageID), nil, "")
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &DeleteError{Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &AuthError{Status: resp.StatusCode}
	case resp.StatusCode == http.StatusNotFound:
		return nil
	case resp.StatusCode >= 300:
		return &DeleteError{Status: resp.StatusCode}
	}
	return nil
}

type markReadRequest struct {
	MessageIDs []string `json:"message_ids"`
}

// MarkRead reports the given messages as read.
func (c *Client) MarkRead(ctx context.Context, conversationID string, messageIDs []string) error {
	if len(messageIDs) == 0 {
		return nil
	}
	body, err := json.Marshal(markReadRequest{MessageIDs: messageIDs})
	if err != nil {
		return &NetworkError{Op: "mark read", Err: err}
	}
	req, err := c.newRequest(ctx, http.MethodPost, c.conversationPath(conversationID, "read"), bytes.NewReader(body), "application/json")
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &NetworkError{Op: "mark read", Err: err}
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &AuthError{Status: resp.StatusCode}
	case resp.StatusCode >= 300:
		return &NetworkError{Op: "mark read", Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}
	return nil
}

func (c *Client) doSend(req *http.Request) (chat.Message, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return chat.Message{}, &SendError{Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return chat.Message{}, &AuthError{Status: resp.StatusCode}
	case resp.StatusCode >= 300:
		return chat.Message{}, &SendError{Status: resp.StatusCode}
	}

	var raw chat.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return chat.Message{}, &SendError{Err: fmt.Errorf("decode confirmation: %w", err)}
	}
	return c.normalizer.Normalize(raw), nil
}

func (c *Client) validateUpload(filename string, size int64, kind chat.Kind) error {
	if strings.TrimSpace(filename) == "" {
		return &ValidationError{Field: "file", Reason: "filename required"}
	}
	if size <= 0 {
		return &ValidationError{Field: "file", Reason: "empty file"}
	}
	if size > c.maxUploadBytes {
		return &ValidationError{Field: "file", Reason: fmt.Sprintf("exceeds %d byte limit", c.maxUploadBytes)}
	}
	if kind == chat.KindText {
		return &ValidationError{Field: "kind", Reason: "text messages cannot carry a file"}
	}
	exts, restricted := allowedExtensions[kind]
	if !restricted {
		return nil
	}
	ext := strings.ToLower(path.Ext(filename))
	for _, allowed := range exts {
		if ext == allowed {
			return nil
		}
	}
	return &ValidationError{Field: "file", Reason: fmt.Sprintf("extension %q not allowed for kind %s", ext, kind)}
}

func (c *Client) conversationPath(conversationID string, parts ...string) string {
	segments := append([]string{"api", "v1", "conversations", conversationID}, parts...)
	return c.baseURL + "/" + path.Join(segments...)
}

func (c *Client) newRequest(ctx context.Context, method, url string, body io.Reader, contentType string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, &NetworkError{Op: method + " " + url, Err: err}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}
