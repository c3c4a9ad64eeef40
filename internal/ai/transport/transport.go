// Package transport holds the HTTP plumbing shared by the HTTP-based providers
// and the error type every provider reports failures with.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"
)

// maxErrorBody caps how much of a failed response body is kept in the error.
const maxErrorBody = 2048

// ProviderError is a failed call to a generation provider. StatusCode is 0 for
// failures that never produced an HTTP response.
type ProviderError struct {
	Provider   string
	StatusCode int
	Code       string
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Provider, e.Message, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Provider, e.Message)
	}
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Transient reports whether retrying the call may succeed: rate limiting,
// server errors, timeouts and dropped connections.
func (e *ProviderError) Transient() bool {
	if e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusRequestTimeout {
		return true
	}
	if e.StatusCode >= 500 {
		return true
	}
	if e.StatusCode != 0 {
		return false
	}
	return isNetworkTransient(e.Err)
}

// IsTransient reports whether err is worth retrying. Errors that are not a
// ProviderError are judged by their network cause alone.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Transient()
	}
	return isNetworkTransient(err)
}

func isNetworkTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// Client posts JSON to a provider endpoint.
type Client struct {
	provider string
	http     *http.Client
}

// NewClient returns a Client for provider. A zero timeout leaves deadlines to
// the request context.
func NewClient(provider string, timeout time.Duration) *Client {
	return &Client{provider: provider, http: &http.Client{Timeout: timeout}}
}

// PostJSON sends body as JSON to url and decodes a 2xx response into out.
// Non-2xx responses become a ProviderError whose Message is taken from the
// error body when errMessage can extract one.
func (c *Client) PostJSON(ctx context.Context, url string, headers map[string]string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding %s request: %w", c.provider, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building %s request: %w", c.provider, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &ProviderError{Provider: c.provider, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		code, msg := errMessage(raw)
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &ProviderError{Provider: c.provider, StatusCode: resp.StatusCode, Code: code, Message: msg}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &ProviderError{Provider: c.provider, Message: "decoding response", Err: err}
	}
	return nil
}

// errMessage pulls a message out of the error bodies the supported providers
// return: {"error":{"message","type"|"code"}} or {"error":"..."}.
func errMessage(raw []byte) (code, msg string) {
	var nested struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    any    `json:"code"`
		} `json:"error"`
	}
	if json.Unmarshal(raw, &nested) == nil && nested.Error.Message != "" {
		code = nested.Error.Type
		if s, ok := nested.Error.Code.(string); ok && s != "" {
			code = s
		}
		return code, nested.Error.Message
	}

	var flat struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &flat) == nil && flat.Error != "" {
		return "", flat.Error
	}

	if len(raw) > 0 && len(raw) < 300 {
		return "", string(bytes.TrimSpace(raw))
	}
	return "", ""
}
