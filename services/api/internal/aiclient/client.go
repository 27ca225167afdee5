package aiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultTimeout bounds one question round trip.
	DefaultTimeout = 60 * time.Second
	pingTimeout    = 5 * time.Second
	maxBodyBytes   = 4 << 20
)

// ErrTimeout is returned when the AI service did not answer in time.
var ErrTimeout = errors.New("ai service timed out")

// Client calls the AI microservice over JSON/HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// APIError is a non-success answer from the AI service.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return e.Message
}

// Question is the request body of POST /chat.
type Question struct {
	Question  string   `json:"question"`
	PDFIDs    []string `json:"pdf_ids"`
	UserID    string   `json:"user_id"`
	SessionID string   `json:"session_id"`
}

// Answer is the decoded successful reply. References are the raw list
// entries, untouched.
type Answer struct {
	Answer     string
	References []json.RawMessage
}

type chatResponse struct {
	Status     string            `json:"status"`
	Answer     string            `json:"answer"`
	Message    string            `json:"message"`
	Error      string            `json:"error"`
	References []json.RawMessage `json:"references"`
}

// NewClient constructs an AI service client. timeout <= 0 uses DefaultTimeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// BaseURL returns the configured service root.
func (c *Client) BaseURL() string { return c.baseURL }

// Ask posts a question and waits for the answer. Anything other than HTTP 200
// with status "success" is an error.
func (c *Client) Ask(ctx context.Context, q Question) (Answer, error) {
	if q.PDFIDs == nil {
		q.PDFIDs = []string{}
	}
	data, err := json.Marshal(q)
	if err != nil {
		return Answer{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat", bytes.NewReader(data))
	if err != nil {
		return Answer{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(ctx, err) {
			return Answer{}, ErrTimeout
		}
		return Answer{}, fmt.Errorf("call ai service: %w", err)
	}
	defer resp.Body.Close()

	var out chatResponse
	decodeErr := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&out)
	if resp.StatusCode != http.StatusOK {
		msg := firstNonEmpty(out.Message, out.Error, resp.Status)
		return Answer{}, &APIError{Status: resp.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		if isTimeout(ctx, decodeErr) {
			return Answer{}, ErrTimeout
		}
		return Answer{}, &APIError{Status: resp.StatusCode, Message: "invalid response from ai service"}
	}
	if out.Status != "success" {
		return Answer{}, &APIError{Status: resp.StatusCode, Message: firstNonEmpty(out.Message, out.Error, "unknown error")}
	}
	refs := out.References
	if refs == nil {
		refs = []json.RawMessage{}
	}
	return Answer{Answer: out.Answer, References: refs}, nil
}

// Ping probes GET /health with a short timeout and returns the HTTP status.
func (c *Client) Ping(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(ctx, err) {
			return 0, ErrTimeout
		}
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
	return resp.StatusCode, nil
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
