package source

import (
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestSourceError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *SourceError
		want string
	}{
		{
			name: "without wrapped error",
			err:  &SourceError{StatusCode: 404, Class: ErrorClassClient, Message: "not found"},
			want: "source client error (status 404): not found",
		},
		{
			name: "with wrapped error",
			err:  &SourceError{Class: ErrorClassNetwork, Message: "request failed", Err: errors.New("connection refused")},
			want: "source network error (status 0): request failed: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSourceError_Unwrap(t *testing.T) {
	inner := errors.New("boom")
	err := error(&SourceError{Class: ErrorClassNetwork, Err: inner})
	if !errors.Is(err, inner) {
		t.Errorf("errors.Is(err, inner) = false")
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status int
		want   ErrorClass
	}{
		{http.StatusBadRequest, ErrorClassClient},
		{http.StatusNotFound, ErrorClassClient},
		{http.StatusTooManyRequests, ErrorClassRateLimit},
		{http.StatusInternalServerError, ErrorClassServer},
		{http.StatusGatewayTimeout, ErrorClassServer},
	}

	for _, tt := range tests {
		if got := classifyStatus(tt.status); got != tt.want {
			t.Errorf("classifyStatus(%d) = %q, want %q", tt.status, got, tt.want)
		}
	}
}

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		class ErrorClass
		want  bool
	}{
		{ErrorClassClient, false},
		{ErrorClassServer, true},
		{ErrorClassRateLimit, true},
		{ErrorClassNetwork, true},
		{"", false},
	}

	for _, tt := range tests {
		if got := shouldRetry(tt.class); got != tt.want {
			t.Errorf("shouldRetry(%q) = %v, want %v", tt.class, got, tt.want)
		}
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	tests := []struct {
		name  string
		value string
		want  time.Duration
	}{
		{name: "empty", value: "", want: 0},
		{name: "seconds", value: "7", want: 7 * time.Second},
		{name: "negative", value: "-3", want: 0},
		{name: "http date", value: now.Add(30 * time.Second).Format(http.TimeFormat), want: 30 * time.Second},
		{name: "past date", value: now.Add(-time.Minute).Format(http.TimeFormat), want: 0},
		{name: "garbage", value: "soon", want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseRetryAfter(tt.value, now); got != tt.want {
				t.Errorf("parseRetryAfter(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestDecodeItems(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		field   string
		want    int
		wantErr bool
	}{
		{name: "array", body: `[1,2,3]`, want: 3},
		{name: "null array", body: `null`, want: 0},
		{name: "nested", body: `{"a":{"b":[1,2]}}`, field: "a.b", want: 2},
		{name: "missing field", body: `{"a":{}}`, field: "a.b", wantErr: true},
		{name: "not an object", body: `[1]`, field: "a", wantErr: true},
		{name: "not an array", body: `{"a":1}`, field: "a", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, err := decodeItems[int]([]byte(tt.body), tt.field)
			if (err != nil) != tt.wantErr {
				t.Fatalf("decodeItems() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				if !errors.Is(err, ErrDecode) || !strings.Contains(err.Error(), "decode page") {
					t.Errorf("error = %v, want ErrDecode", err)
				}
				return
			}
			if len(items) != tt.want {
				t.Errorf("len(items) = %d, want %d", len(items), tt.want)
			}
		})
	}
}
