// Package api is the request/response client for the chat backend, used for
// history loads and whenever the real-time channel is unavailable.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"chat-client/internal/models"
	"chat-client/internal/observability"
)

const maxErrorBody = 64 << 10

// ErrUnauthorized is matched by errors for 401 responses.
var ErrUnauthorized = errors.New("unauthorized")

// Error is a failed backend call.
type Error struct {
	Op     string
	Status int
	Detail string
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Detail != "" && e.Status != 0:
		return fmt.Sprintf("%s: %s (status %d)", e.Op, e.Detail, e.Status)
	case e.Detail != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Detail)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: status %d", e.Op, e.Status)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	return target == ErrUnauthorized && e.Status == http.StatusUnauthorized
}

// Options configures a Client.
type Options struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Client calls the private chat endpoints with a bearer token.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	validate   *validator.Validate
	logger     *zap.Logger
}

// NewClient builds a Client whose transport is traced with otelhttp.
func NewClient(opts Options, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/") + "/api/v1/chats/private",
		token:   strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(opts.Token), "Bearer ")),
		httpClient: &http.Client{
			Timeout:   opts.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		validate: validator.New(),
		logger:   logger,
	}
}

// History returns the conversation with friendID. A missing conversation is
// an empty history.
func (c *Client) History(ctx context.Context, friendID int64) ([]models.Message, error) {
	var msgs []models.Message
	err := c.do(ctx, "history", http.MethodGet, "/"+strconv.FormatInt(friendID, 10), nil, &msgs)
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		return []models.Message{}, nil
	}
	if err != nil {
		return nil, err
	}
	for i := range msgs {
		msgs[i].IsTemp = false
		msgs[i].TempID = ""
		msgs[i].MessageType = models.InferMessageType(msgs[i].MessageType, msgs[i].Content)
	}
	return msgs, nil
}

// SendMessage posts a message to friendID and returns the stored record.
func (c *Client) SendMessage(ctx context.Context, friendID int64, req models.SendRequest) (models.Message, error) {
	if err := c.validate.Struct(req); err != nil {
		return models.Message{}, &Error{Op: "send message", Detail: "invalid request", Err: err}
	}
	if req.MessageType == models.MessageTypeVoice {
		// The REST endpoint files voice notes under the generic "file" type.
		req.MessageType = "file"
	}
	var msg models.Message
	if err := c.do(ctx, "send message", http.MethodPost, "/"+strconv.FormatInt(friendID, 10), req, &msg); err != nil {
		return models.Message{}, err
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	msg.MessageType = models.InferMessageType(msg.MessageType, msg.Content)
	return msg, nil
}

type editRequest struct {
	Content string `json:"content" validate:"required"`
}

// EditMessage replaces the content of message id.
func (c *Client) EditMessage(ctx context.Context, id int64, content string) (models.Message, error) {
	req := editRequest{Content: content}
	if err := c.validate.Struct(req); err != nil {
		return models.Message{}, &Error{Op: "edit message", Detail: "content is required", Err: err}
	}
	var msg models.Message
	if err := c.do(ctx, "edit message", http.MethodPatch, "/"+strconv.FormatInt(id, 10), req, &msg); err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

// DeleteMessage deletes message id for the current user.
func (c *Client) DeleteMessage(ctx context.Context, id int64) error {
	return c.do(ctx, "delete message", http.MethodDelete, "/"+strconv.FormatInt(id, 10), nil, nil)
}

// UnsendMessage retracts message id for both participants and returns the
// retracted record.
func (c *Client) UnsendMessage(ctx context.Context, id int64) (models.Message, error) {
	var msg models.Message
	if err := c.do(ctx, "unsend message", http.MethodDelete, "/"+strconv.FormatInt(id, 10)+"/unsend", nil, &msg); err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

type markReadRequest struct {
	MessageIDs []int64 `json:"message_ids" validate:"required,min=1,dive,gt=0"`
}

// MarkRead marks ids as read by the current user.
func (c *Client) MarkRead(ctx context.Context, ids []int64) error {
	req := markReadRequest{MessageIDs: ids}
	if err := c.validate.Struct(req); err != nil {
		return &Error{Op: "mark read", Detail: "no messages to mark", Err: err}
	}
	return c.do(ctx, "mark read", http.MethodPost, "/read", req, nil)
}

func (c *Client) do(ctx context.Context, op, method, path string, body, out any) (err error) {
	start := time.Now()
	defer func() { observability.ObserveFallback(op, start, err) }()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return &Error{Op: op, Err: fmt.Errorf("failed to marshal request: %w", err)}
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return &Error{Op: op, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &Error{Op: op, Err: fmt.Errorf("failed to send request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		apiErr := &Error{Op: op, Status: resp.StatusCode, Detail: errorDetail(raw)}
		c.logger.Debug("backend call failed",
			zap.String("op", op), zap.Int("status", resp.StatusCode), zap.String("detail", apiErr.Detail))
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return nil
}

// errorDetail extracts a human-readable message from an error body. It
// understands {"detail": "..."}, {"detail": [{"msg": "..."}]}, {"msg": ...}
// and {"message": ...}.
func errorDetail(raw []byte) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}

	var body struct {
		Detail  json.RawMessage `json:"detail"`
		Msg     string          `json:"msg"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		var s string
		if json.Unmarshal(raw, &s) == nil {
			return s
		}
		return strings.TrimSpace(string(raw))
	}

	if len(body.Detail) > 0 {
		var s string
		if json.Unmarshal(body.Detail, &s) == nil && s != "" {
			return s
		}
		var items []json.RawMessage
		if json.Unmarshal(body.Detail, &items) == nil {
			parts := make([]string, 0, len(items))
			for _, item := range items {
				var text string
				if json.Unmarshal(item, &text) == nil {
					parts = append(parts, text)
					continue
				}
				var v struct {
					Msg string `json:"msg"`
				}
				if json.Unmarshal(item, &v) == nil && v.Msg != "" {
					parts = append(parts, v.Msg)
				}
			}
			if len(parts) > 0 {
				return strings.Join(parts, ", ")
			}
		}
	}
	if body.Msg != "" {
		return body.Msg
	}
	return body.Message
}
