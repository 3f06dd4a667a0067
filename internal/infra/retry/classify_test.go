package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

type statusErr struct{ code int }

func (e *statusErr) Error() string   { return fmt.Sprintf("http %d", e.code) }
func (e *statusErr) StatusCode() int { return e.code }

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err    error
		expect bool
	}{
		{errors.New("429 Too Many Requests"), true},
		{errors.New("project rate limit exceeded"), true},
		{errors.New("quota exceeded"), true},
		{errors.New("RESOURCE_EXHAUSTED: resource exhausted"), true},
		{errors.New("connection reset by peer"), true},
		{errors.New("i/o timeout"), true},
		{ErrCallTimeout, true},
		{fmt.Errorf("classify: %w", context.DeadlineExceeded), true},
		{&statusErr{429}, true},
		{&statusErr{403}, true},
		{&statusErr{500}, true},
		{&statusErr{502}, true},
		{&statusErr{504}, true},
		{fmt.Errorf("wrapped: %w", &statusErr{503}), true},
		{&statusErr{400}, false},
		{&statusErr{404}, false},
		{errors.New("invalid argument"), false},
		{context.Canceled, false},
		{nil, false},
	}

	for _, tt := range tests {
		if got := IsRetryable(tt.err); got != tt.expect {
			t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.expect)
		}
	}
}

func TestIsRateLimit(t *testing.T) {
	tests := []struct {
		err    error
		expect bool
	}{
		{&statusErr{429}, true},
		{&statusErr{403}, true},
		{&statusErr{503}, true},
		{&statusErr{500}, false},
		{errors.New("Too Many Requests"), true},
		{errors.New("daily quota reached"), true},
		{errors.New("connection refused"), false},
		{ErrCallTimeout, false},
	}

	for _, tt := range tests {
		if got := IsRateLimit(tt.err); got != tt.expect {
			t.Errorf("IsRateLimit(%v) = %v, want %v", tt.err, got, tt.expect)
		}
	}
}
