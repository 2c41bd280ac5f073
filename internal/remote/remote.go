// Package remote implements the Remote HTTP API client: the boundary the
// Sync Engine replays outbox items against (spec.md §6). It classifies
// every response into the error kinds the propagation policy (spec.md
// §7) reacts to, and retries transient network failures with
// sethvargo/go-retry before giving up and letting the Sync Engine's own
// backoff state machine take over.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"
)

// Credentials carries the bearer token the client attaches to every
// request. It is passed explicitly at construction time (composition
// root), never forwarded implicitly — per the open question on
// background-worker credential handoff (spec.md §9, decided in
// DESIGN.md): a message-channel equivalent is this struct, built once
// and handed to both the foreground and background engine instances.
type Credentials struct {
	BearerToken string
}

// DefaultTimeout is the HTTP client's request timeout (spec.md §6).
const DefaultTimeout = 10 * time.Second

// transientRetryAttempts bounds the client's own short retry loop around
// a single transient network failure (connection refused, timeout, DNS).
// This is independent of — and much tighter than — the Sync Engine's
// outbox-level backoff in internal/outbox, which governs whole-item
// re-delivery across minutes, not a single HTTP round trip.
const transientRetryAttempts = 3

// Client talks to the remote reading-journal API.
type Client struct {
	baseURL string
	creds   Credentials
	http    *http.Client
}

// New constructs a Client against baseURL (e.g. "http://localhost:8080").
func New(baseURL string, creds Credentials) *Client {
	return &Client{
		baseURL: baseURL,
		creds:   creds,
		http:    &http.Client{Timeout: DefaultTimeout},
	}
}

// WithHTTPClient overrides the underlying *http.Client, used by tests to
// point at an httptest.Server or inject fault-injecting transports.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.http = hc
	return c
}

// CreateMemoResponse is the body POST /api/v1/memos returns on success.
type CreateMemoResponse struct {
	ID int64 `json:"id"`
}

// CreateMemo posts a memo payload with the given idempotency key and
// returns the server-assigned id.
func (c *Client) CreateMemo(ctx context.Context, payload []byte, idempotencyKey string) (int64, error) {
	var resp CreateMemoResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/memos", payload, idempotencyKey, &resp); err != nil {
		return 0, err
	}
	return resp.ID, nil
}

// UpdateMemo PUTs a memo payload to /api/v1/memos/{id}.
func (c *Client) UpdateMemo(ctx context.Context, serverID int64, payload []byte) error {
	path := fmt.Sprintf("/api/v1/memos/%d", serverID)
	return c.doJSON(ctx, http.MethodPut, path, payload, "", nil)
}

// DeleteMemo DELETEs /api/v1/memos/{id}. A 404 is treated as success by
// the caller (spec.md §7); this method still returns ErrNotFound, and the
// Sync Engine and Facade each check for it with errors.Is.
func (c *Client) DeleteMemo(ctx context.Context, serverID int64) error {
	path := fmt.Sprintf("/api/v1/memos/%d", serverID)
	return c.doJSON(ctx, http.MethodDelete, path, nil, "", nil)
}

// CreateShelfEntryResponse is the body POST /api/v1/user/books returns.
type CreateShelfEntryResponse struct {
	UserBookID int64 `json:"userBookId"`
}

// CreateShelfEntry posts a shelf entry payload and returns the
// server-assigned userBookId.
func (c *Client) CreateShelfEntry(ctx context.Context, payload []byte, idempotencyKey string) (int64, error) {
	var resp CreateShelfEntryResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/user/books", payload, idempotencyKey, &resp); err != nil {
		return 0, err
	}
	return resp.UserBookID, nil
}

// UpdateShelfEntry PUTs a partial shelf payload to /api/v1/user/books/{id}.
func (c *Client) UpdateShelfEntry(ctx context.Context, serverID int64, payload []byte) error {
	path := fmt.Sprintf("/api/v1/user/books/%d", serverID)
	return c.doJSON(ctx, http.MethodPut, path, payload, "", nil)
}

// DeleteShelfEntry DELETEs /api/v1/user/books/{id}.
func (c *Client) DeleteShelfEntry(ctx context.Context, serverID int64) error {
	path := fmt.Sprintf("/api/v1/user/books/%d", serverID)
	return c.doJSON(ctx, http.MethodDelete, path, nil, "", nil)
}

// TodayFlow fetches the today-flow read model (spec.md §6, supplemented
// read endpoint, SPEC_FULL.md §4.6).
func (c *Client) TodayFlow(ctx context.Context, query string) (json.RawMessage, error) {
	var raw json.RawMessage
	path := "/api/v1/memos/today-flow"
	if query != "" {
		path += "?" + query
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, "", &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// MemosByBook fetches /api/v1/memos/books/{userBookId}.
func (c *Client) MemosByBook(ctx context.Context, userBookID, query string) (json.RawMessage, error) {
	var raw json.RawMessage
	path := fmt.Sprintf("/api/v1/memos/books/%s", userBookID)
	if query != "" {
		path += "?" + query
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, "", &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// MemoDates fetches /api/v1/memos/dates.
func (c *Client) MemoDates(ctx context.Context, query string) (json.RawMessage, error) {
	var raw json.RawMessage
	path := "/api/v1/memos/dates"
	if query != "" {
		path += "?" + query
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, "", &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// ListShelfEntries fetches /api/v1/user/books.
func (c *Client) ListShelfEntries(ctx context.Context) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/user/books", nil, "", &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// StartReading calls POST /api/v1/user/books/{userBookId}/start-reading.
func (c *Client) StartReading(ctx context.Context, serverID int64, payload []byte) error {
	path := fmt.Sprintf("/api/v1/user/books/%d/start-reading", serverID)
	return c.doJSON(ctx, http.MethodPost, path, payload, "", nil)
}

// doJSON performs one HTTP round trip, retrying pure transport failures
// (connection refused, timeout) a few times before classifying the
// outcome. It never retries a response that reached the server — that
// decision belongs to the Sync Engine's outbox-level backoff.
func (c *Client) doJSON(ctx context.Context, method, path string, body []byte, idempotencyKey string, out any) error {
	var resp *http.Response
	backoff := retry.WithMaxRetries(transientRetryAttempts, retry.NewConstant(200*time.Millisecond))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var reqBody io.Reader
		if body != nil {
			reqBody = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if idempotencyKey != "" {
			req.Header.Set("Idempotency-Key", idempotencyKey)
		}
		if c.creds.BearerToken != "" {
			req.Header.Set("Authorization", "Bearer "+c.creds.BearerToken)
		}

		r, doErr := c.http.Do(req)
		if doErr != nil {
			if isTransportTransient(doErr) {
				return retry.RetryableError(fmt.Errorf("%w: %v", ErrNetworkTransient, doErr))
			}
			return fmt.Errorf("%w: %v", ErrNetworkTransient, doErr)
		}
		resp = r
		return nil
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return classifyAndDecode(resp, out)
}

func classifyAndDecode(resp *http.Response, out any) error {
	kind := classifyStatus(resp.StatusCode)
	if kind == nil {
		if out == nil || resp.StatusCode == http.StatusNoContent {
			io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}

	body, _ := io.ReadAll(resp.Body)
	return &StatusError{Kind: kind, StatusCode: resp.StatusCode, Body: string(body)}
}

// isTransportTransient reports whether err represents a connection-level
// failure worth a short local retry (as opposed to a context
// cancellation, which must propagate immediately).
func isTransportTransient(err error) bool {
	return !isContextErr(err)
}

// isContextErr reports whether err is (or wraps, as *url.Error does) a
// context cancellation or deadline, which must propagate immediately
// rather than be retried as a transient network failure.
func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
