package source

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vietddude/inboxsync/internal/indexing/syncer"
	"github.com/vietddude/inboxsync/internal/infra/retry"
)

func TestClient_List(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages" {
			t.Errorf("expected path /messages, got %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("unexpected authorization header %q", got)
		}
		q := r.URL.Query()
		if q.Get("q") != "after:2024/03/01" || q.Get("pageToken") != "p1" || q.Get("maxResults") != "2" {
			t.Errorf("unexpected query %v", q)
		}

		_ = json.NewEncoder(w).Encode(map[string]any{
			"messages":      []map[string]string{{"id": "a"}, {"id": "b"}},
			"nextPageToken": "p2",
		})
	}))
	defer server.Close()

	c := NewClient(Config{BaseURL: server.URL + "/", Token: "secret", Timeout: 5 * time.Second})
	page, err := c.List(context.Background(), syncer.ListRequest{
		Query:      "after:2024/03/01",
		PageToken:  "p1",
		MaxResults: 2,
	})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(page.IDs) != 2 || page.IDs[0] != "a" || page.IDs[1] != "b" || page.NextPageToken != "p2" {
		t.Errorf("unexpected page: %+v", page)
	}
	if stats := c.Monitor.Stats(); stats.Requests != 1 || stats.Failures != 0 {
		t.Errorf("unexpected monitor stats: %+v", stats)
	}
}

func TestClient_Get(t *testing.T) {
	received := time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages/m-1" {
			t.Errorf("expected path /messages/m-1, got %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":         "m-1",
			"threadId":   "t-1",
			"subject":    "Hello",
			"from":       "bob@example.com",
			"snippet":    "Hi there",
			"body":       "Hi there, full text",
			"labelIds":   []string{"INBOX", "UNREAD"},
			"receivedAt": received,
		})
	}))
	defer server.Close()

	c := NewClient(Config{BaseURL: server.URL})
	msg, err := c.Get(context.Background(), "m-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if msg.ID != "m-1" || msg.ThreadID != "t-1" || msg.Sender != "bob@example.com" || msg.Body != "Hi there, full text" {
		t.Errorf("unexpected message: %+v", msg)
	}
	if len(msg.Labels) != 2 || !msg.ReceivedAt.Equal(received) {
		t.Errorf("unexpected labels/date: %v %v", msg.Labels, msg.ReceivedAt)
	}
}

func TestClient_ErrorClassification(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		retryAfter  string
		retryable   bool
		rateLimited bool
		notFound    bool
	}{
		{"rate limited", http.StatusTooManyRequests, "7", true, true, false},
		{"forbidden quota", http.StatusForbidden, "", true, true, false},
		{"unavailable", http.StatusServiceUnavailable, "", true, true, false},
		{"server error", http.StatusInternalServerError, "", true, false, false},
		{"not found", http.StatusNotFound, "", false, false, true},
		{"bad request", http.StatusBadRequest, "", false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.retryAfter != "" {
					w.Header().Set("Retry-After", tt.retryAfter)
				}
				http.Error(w, "nope", tt.status)
			}))
			defer server.Close()

			c := NewClient(Config{BaseURL: server.URL})
			_, err := c.Get(context.Background(), "x")

			var se *StatusError
			if !errors.As(err, &se) || se.Code != tt.status {
				t.Fatalf("expected StatusError %d, got %v", tt.status, err)
			}
			if got := retry.IsRetryable(err); got != tt.retryable {
				t.Errorf("IsRetryable = %v, want %v", got, tt.retryable)
			}
			if got := retry.IsRateLimit(err); got != tt.rateLimited {
				t.Errorf("IsRateLimit = %v, want %v", got, tt.rateLimited)
			}
			if got := errors.Is(err, ErrNotFound); got != tt.notFound {
				t.Errorf("errors.Is(ErrNotFound) = %v, want %v", got, tt.notFound)
			}
			if tt.retryAfter == "7" && se.RetryAfter != 7*time.Second {
				t.Errorf("expected retry-after 7s, got %v", se.RetryAfter)
			}
		})
	}
}

func TestClient_MonitorRecordsThrottles(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "60")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	c := NewClient(Config{BaseURL: server.URL})
	for i := 0; i < 3; i++ {
		_, _ = c.List(context.Background(), syncer.ListRequest{})
	}

	stats := c.Monitor.Stats()
	if stats.ThrottleCount429 != 3 || stats.Failures != 3 {
		t.Errorf("unexpected monitor stats: %+v", stats)
	}
	if stats.RetryAfter <= 0 || stats.RetryAfter > time.Minute {
		t.Errorf("expected remaining retry-after within a minute, got %v", stats.RetryAfter)
	}
}

func TestParseRetryAfter(t *testing.T) {
	if got := parseRetryAfter("30"); got != 30*time.Second {
		t.Errorf("parseRetryAfter(30) = %v", got)
	}
	if got := parseRetryAfter(""); got != 0 {
		t.Errorf("parseRetryAfter(\"\") = %v", got)
	}
	if got := parseRetryAfter("garbage"); got != 0 {
		t.Errorf("parseRetryAfter(garbage) = %v", got)
	}
	future := time.Now().Add(2 * time.Minute).UTC().Format(http.TimeFormat)
	if got := parseRetryAfter(future); got <= time.Minute || got > 2*time.Minute {
		t.Errorf("parseRetryAfter(date) = %v", got)
	}
}
