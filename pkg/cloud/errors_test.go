package cloud

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestIsAlreadyDoneError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"conflict means create already happened", NewAPIError(http.StatusConflict, "exists", nil), true},
		{"not found means delete already happened", NewAPIError(http.StatusNotFound, "gone", nil), true},
		{"bad request is a real failure", NewAPIError(http.StatusBadRequest, "bad", nil), false},
		{"server error is a real failure", NewAPIError(http.StatusInternalServerError, "boom", nil), false},
		{"wrapped api error still matches", fmt.Errorf("create bucket: %w", NewAPIError(http.StatusConflict, "exists", nil)), true},
		{"plain error never matches", errors.New("exists"), false},
		{"nil never matches", nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsAlreadyDoneError(tc.err); got != tc.want {
				t.Fatalf("IsAlreadyDoneError(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"throttling retries", NewAPIError(http.StatusTooManyRequests, "slow down", nil), true},
		{"server error retries", NewAPIError(http.StatusInternalServerError, "boom", nil), true},
		{"bad gateway retries", NewAPIError(http.StatusBadGateway, "proxy", nil), true},
		{"service unavailable retries", NewAPIError(http.StatusServiceUnavailable, "maintenance", nil), true},
		{"gateway timeout retries", NewAPIError(http.StatusGatewayTimeout, "slow", nil), true},
		{"deadline exceeded retries", context.DeadlineExceeded, true},
		{"bad request never retries", NewAPIError(http.StatusBadRequest, "bad", nil), false},
		{"forbidden never retries", NewAPIError(http.StatusForbidden, "denied", nil), false},
		{"conflict never retries", NewAPIError(http.StatusConflict, "exists", nil), false},
		{"plain error never retries", errors.New("boom"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsRetryable(tc.err); got != tc.want {
				t.Fatalf("IsRetryable(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestAPIErrorUnwrap(t *testing.T) {
	inner := errors.New("sdk failure")
	err := NewAPIError(http.StatusInternalServerError, "boom", inner)
	if !errors.Is(err, inner) {
		t.Fatal("api error must unwrap to the sdk error")
	}
}
