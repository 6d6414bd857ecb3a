package crawler_test

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/JakeFAU/catalog-harvester/internal/crawler"
)

func TestIsTransient(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "deadline exceeded", err: fmt.Errorf("get: %w", context.DeadlineExceeded), want: true},
		{name: "read timeout", err: &net.OpError{Op: "read", Net: "tcp", Err: os.ErrDeadlineExceeded}, want: true},
		{name: "connection refused", err: &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}, want: true},
		{name: "dns failure", err: &net.DNSError{Err: "no such host", Name: "shop.test"}, want: true},
		{name: "canceled", err: fmt.Errorf("get: %w", context.Canceled), want: false},
		{name: "connection reset on read", err: &net.OpError{Op: "read", Net: "tcp", Err: syscall.ECONNRESET}, want: false},
		{name: "fatal status", err: &crawler.StatusError{URL: "https://shop.test", StatusCode: 500}, want: false},
		{name: "plain error", err: errors.New("boom"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, crawler.IsTransient(tt.err))
		})
	}
}

func TestFixedRetryPolicy(t *testing.T) {
	t.Parallel()

	policy := crawler.NewFixedRetryPolicy(3, 2*time.Second)
	transient := &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}

	assert.Equal(t, 3, policy.MaxAttempts())
	assert.True(t, policy.ShouldRetry(transient, 1))
	assert.True(t, policy.ShouldRetry(transient, 2))
	assert.False(t, policy.ShouldRetry(transient, 3))
	assert.False(t, policy.ShouldRetry(errors.New("boom"), 1))
	assert.False(t, policy.ShouldRetry(nil, 1))
	assert.Equal(t, 2*time.Second, policy.Backoff(1))
	assert.Equal(t, 2*time.Second, policy.Backoff(2))
}

func TestFixedRetryPolicyDefaults(t *testing.T) {
	t.Parallel()

	policy := crawler.NewFixedRetryPolicy(0, -time.Second)
	assert.Equal(t, crawler.DefaultMaxAttempts, policy.MaxAttempts())
	assert.Equal(t, crawler.DefaultRetryDelay, policy.Backoff(1))

	assert.Zero(t, crawler.NewFixedRetryPolicy(1, 0).Backoff(1))
}
