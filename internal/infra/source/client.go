// Package source is the HTTP client for the remote mail API that the sync
// pipeline lists and fetches from.
package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/vietddude/inboxsync/internal/core/domain"
	"github.com/vietddude/inboxsync/internal/indexing/metrics"
	"github.com/vietddude/inboxsync/internal/indexing/syncer"
)

const serviceName = "source"

var (
	// ErrNotFound is returned when the remote item does not exist.
	ErrNotFound = errors.New("remote item not found")
)

// Config holds remote API settings.
type Config struct {
	BaseURL  string        `yaml:"base_url"`
	Token    string        `yaml:"token"`
	Timeout  time.Duration `yaml:"timeout"`
	PageSize int           `yaml:"page_size"`
}

// StatusError is a non-200 response. It exposes StatusCode so the retry
// package can classify it.
type StatusError struct {
	Code       int
	RetryAfter time.Duration
	Body       string
}

func (e *StatusError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("http %d (retry after %s): %s", e.Code, e.RetryAfter, e.Body)
	}
	return fmt.Sprintf("http %d: %s", e.Code, e.Body)
}

// StatusCode returns the HTTP status.
func (e *StatusError) StatusCode() int {
	return e.Code
}

// Is makes 404 responses match ErrNotFound.
func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.Code == http.StatusNotFound
}

// Client implements syncer.Source over HTTP+JSON.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client

	Monitor *Monitor
}

var _ syncer.Source = (*Client)(nil)

// NewClient creates a client for cfg.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		Monitor: NewMonitor(),
	}
}

type listResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	NextPageToken string `json:"nextPageToken"`
}

type messageResponse struct {
	ID         string    `json:"id"`
	ThreadID   string    `json:"threadId"`
	Subject    string    `json:"subject"`
	From       string    `json:"from"`
	Snippet    string    `json:"snippet"`
	Body       string    `json:"body"`
	LabelIDs   []string  `json:"labelIds"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// List returns one page of message ids.
func (c *Client) List(ctx context.Context, req syncer.ListRequest) (syncer.ListPage, error) {
	q := url.Values{}
	if req.Query != "" {
		q.Set("q", req.Query)
	}
	if req.PageToken != "" {
		q.Set("pageToken", req.PageToken)
	}
	if req.MaxResults > 0 {
		q.Set("maxResults", strconv.Itoa(req.MaxResults))
	}

	var resp listResponse
	if err := c.get(ctx, "list", "/messages?"+q.Encode(), &resp); err != nil {
		return syncer.ListPage{}, err
	}

	page := syncer.ListPage{
		IDs:           make([]string, 0, len(resp.Messages)),
		NextPageToken: resp.NextPageToken,
	}
	for _, m := range resp.Messages {
		page.IDs = append(page.IDs, m.ID)
	}
	return page, nil
}

// Get fetches one message.
func (c *Client) Get(ctx context.Context, id string) (*domain.Message, error) {
	var resp messageResponse
	if err := c.get(ctx, "get", "/messages/"+url.PathEscape(id), &resp); err != nil {
		return nil, err
	}

	msgID := resp.ID
	if msgID == "" {
		msgID = id
	}
	return &domain.Message{
		ID:         msgID,
		ThreadID:   resp.ThreadID,
		Subject:    resp.Subject,
		Sender:     resp.From,
		Snippet:    resp.Snippet,
		Body:       resp.Body,
		Labels:     resp.LabelIDs,
		ReceivedAt: resp.ReceivedAt,
	}, nil
}

func (c *Client) get(ctx context.Context, method, path string, out any) error {
	start := time.Now()
	metrics.RemoteCallsTotal.WithLabelValues(serviceName, method).Inc()
	defer func() {
		metrics.RemoteLatency.WithLabelValues(serviceName, method).Observe(time.Since(start).Seconds())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.Monitor.RecordFailure()
		metrics.RemoteErrorsTotal.WithLabelValues(serviceName, "transport").Inc()
		return fmt.Errorf("%s call: %w", method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.Monitor.RecordFailure()
		return fmt.Errorf("read response: %w", err)
	}

	// Rate limit and IP block detection
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusForbidden {
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		c.Monitor.RecordThrottle(resp.StatusCode, retryAfter)
		metrics.RemoteErrorsTotal.WithLabelValues(serviceName, "throttle").Inc()
		return &StatusError{Code: resp.StatusCode, RetryAfter: retryAfter, Body: trimBody(body)}
	}

	if resp.StatusCode != http.StatusOK {
		c.Monitor.RecordFailure()
		metrics.RemoteErrorsTotal.WithLabelValues(serviceName, strconv.Itoa(resp.StatusCode)).Inc()
		return &StatusError{Code: resp.StatusCode, Body: trimBody(body)}
	}

	if err := json.Unmarshal(body, out); err != nil {
		c.Monitor.RecordFailure()
		metrics.RemoteErrorsTotal.WithLabelValues(serviceName, "decode").Inc()
		return fmt.Errorf("parse response: %w", err)
	}

	c.Monitor.RecordRequest(time.Since(start))
	return nil
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

func trimBody(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		return s[:limit]
	}
	return s
}
