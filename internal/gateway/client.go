package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultTimeout = 10 * time.Second

// Client calls the Telnyx v2 messaging API
type Client struct {
	cfg    Config
	client *http.Client
}

// NewClient creates a provider client. A zero timeout means 10 seconds.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

type sendRequest struct {
	From               string `json:"from"`
	To                 string `json:"to"`
	Text               string `json:"text"`
	MessagingProfileID string `json:"messaging_profile_id,omitempty"`
}

type messageRecord struct {
	ID          string     `json:"id"`
	CompletedAt *time.Time `json:"completed_at"`
	To          []struct {
		PhoneNumber string `json:"phone_number"`
		Status      string `json:"status"`
	} `json:"to"`
	Errors []apiError `json:"errors"`
}

type messageResponse struct {
	Data messageRecord `json:"data"`
}

type apiError struct {
	Code   string `json:"code"`
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

type errorResponse struct {
	Errors []apiError `json:"errors"`
}

// From returns the configured sender number
func (c *Client) From() string {
	return c.cfg.FromNumber
}

// Send submits one message. A non-2xx answer or a timeout is returned as *Error.
func (c *Client) Send(ctx context.Context, to, text string) (*SendResult, error) {
	start := time.Now()

	reqBody, err := json.Marshal(sendRequest{
		From:               c.cfg.FromNumber,
		To:                 to,
		Text:               text,
		MessagingProfileID: c.cfg.MessagingProfileID,
	})
	if err != nil {
		return nil, err
	}

	var resp messageResponse
	if err := c.do(ctx, http.MethodPost, "/messages", reqBody, &resp); err != nil {
		return nil, err
	}
	if resp.Data.ID == "" {
		return nil, &Error{Detail: "missing message id in response"}
	}

	result := &SendResult{
		MessageID: resp.Data.ID,
		Latency:   time.Since(start),
	}
	if len(resp.Data.To) > 0 {
		result.Status = resp.Data.To[0].Status
	}
	return result, nil
}

// MessageStatus fetches the provider's current record for a message
func (c *Client) MessageStatus(ctx context.Context, messageID string) (*Status, error) {
	var resp messageResponse
	if err := c.do(ctx, http.MethodGet, "/messages/"+url.PathEscape(messageID), nil, &resp); err != nil {
		return nil, err
	}

	status := &Status{
		MessageID:   resp.Data.ID,
		CompletedAt: resp.Data.CompletedAt,
	}
	if len(resp.Data.To) > 0 {
		status.Status = resp.Data.To[0].Status
	}
	for _, e := range resp.Data.Errors {
		status.Errors = append(status.Errors, e.describe())
	}
	return status, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if isTimeout(ctx, err) {
			return &Error{Timeout: true, Detail: err.Error()}
		}
		return &Error{Detail: err.Error()}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &Error{StatusCode: resp.StatusCode, Detail: errorDetail(respBody)}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return &Error{StatusCode: resp.StatusCode, Detail: fmt.Sprintf("failed to decode json: %v", err)}
	}
	return nil
}

func (e apiError) describe() string {
	switch {
	case e.Detail != "":
		return e.Detail
	case e.Title != "":
		return e.Title
	default:
		return e.Code
	}
}

func errorDetail(body []byte) string {
	var er errorResponse
	if err := json.Unmarshal(body, &er); err == nil && len(er.Errors) > 0 {
		parts := make([]string, 0, len(er.Errors))
		for _, e := range er.Errors {
			parts = append(parts, e.describe())
		}
		return strings.Join(parts, "; ")
	}
	text := strings.TrimSpace(string(body))
	if text == "" {
		return "empty response body"
	}
	if len(text) > 512 {
		text = text[:512]
	}
	return text
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
