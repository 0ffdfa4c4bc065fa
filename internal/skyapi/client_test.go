package skyapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

// recordingSleeper captures retry delays instead of waiting.
type recordingSleeper struct {
	delays []time.Duration
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return nil
}

func newTestClient(s *recordingSleeper) *Client {
	return NewClient(
		oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "tok"}),
		"sub-key",
		Options{RetryBackoff: 10 * time.Second, MaxRetries: 3, Sleep: s.Sleep},
	)
}

func TestClientGet_SendsAuthHeadersAndDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q, want Bearer tok", got)
		}
		if got := r.Header.Get(SubscriptionKeyHeader); got != "sub-key" {
			t.Errorf("%s = %q, want sub-key", SubscriptionKeyHeader, got)
		}
		w.Write([]byte(`{"count":1,"value":[{"id":"g1","amount":{"value":2500.50}}]}`))
	}))
	defer srv.Close()

	resp, err := newTestClient(&recordingSleeper{}).Get(context.Background(), srv.URL+"/gift/v1/gifts", nil)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}

	doc := resp.Document.(map[string]interface{})
	gift := doc["value"].([]interface{})[0].(map[string]interface{})
	amount := gift["amount"].(map[string]interface{})["value"]
	if n, ok := amount.(json.Number); !ok || n.String() != "2500.50" {
		t.Errorf("amount = %#v, want json.Number 2500.50", amount)
	}
}

func TestClientGet_AppendsParamsAndKeepsCursorVerbatim(t *testing.T) {
	var queries []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		queries = append(queries, r.URL.RawQuery)
		w.Write([]byte(`{"value":[]}`))
	}))
	defer srv.Close()

	c := newTestClient(&recordingSleeper{})
	params := url.Values{"gift_type": {"Donation", "PledgePayment"}}
	if _, err := c.Get(context.Background(), srv.URL+"/gifts", params); err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if _, err := c.Get(context.Background(), srv.URL+"/gifts?offset=500&limit=500", nil); err != nil {
		t.Fatalf("Get() error: %v", err)
	}

	want := []string{"gift_type=Donation&gift_type=PledgePayment", "offset=500&limit=500"}
	if !reflect.DeepEqual(queries, want) {
		t.Errorf("queries = %v, want %v", queries, want)
	}
}

func TestClientGet_RetriesTransientStatus(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"value":[]}`))
	}))
	defer srv.Close()

	sleeper := &recordingSleeper{}
	if _, err := newTestClient(sleeper).Get(context.Background(), srv.URL, nil); err != nil {
		t.Fatalf("Get() error: %v", err)
	}

	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	want := []time.Duration{10 * time.Second, 20 * time.Second}
	if !reflect.DeepEqual(sleeper.delays, want) {
		t.Errorf("delays = %v, want %v", sleeper.delays, want)
	}
}

func TestClientGet_GivesUpAfterMaxRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	sleeper := &recordingSleeper{}
	_, err := newTestClient(sleeper).Get(context.Background(), srv.URL, nil)

	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusInternalServerError {
		t.Fatalf("err = %v, want *APIError with status 500", err)
	}
	if calls != 4 {
		t.Errorf("calls = %d, want 4 (1 + 3 retries)", calls)
	}
	want := []time.Duration{10 * time.Second, 20 * time.Second, 40 * time.Second}
	if !reflect.DeepEqual(sleeper.delays, want) {
		t.Errorf("delays = %v, want %v", sleeper.delays, want)
	}
}

func TestClientGet_HonoursRetryAfter(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "3")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	sleeper := &recordingSleeper{}
	if _, err := newTestClient(sleeper).Get(context.Background(), srv.URL, nil); err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if len(sleeper.delays) != 1 || sleeper.delays[0] != 3*time.Second {
		t.Errorf("delays = %v, want [3s]", sleeper.delays)
	}
}

func TestClientGet_HardFailures(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantStatus int
		wantCode   string
		wantMsg    string
		malformed  bool
	}{
		{
			name:       "unauthorized",
			status:     http.StatusUnauthorized,
			body:       `{"statusCode":401,"message":"Access denied due to invalid subscription key."}`,
			wantStatus: 401,
			wantCode:   "401",
			wantMsg:    "Access denied due to invalid subscription key.",
		},
		{
			name:       "bad request list",
			status:     http.StatusBadRequest,
			body:       `[{"message":"Invalid start_gift_date","error_code":5,"error_name":"InvalidParameter"}]`,
			wantStatus: 400,
			wantCode:   "5",
			wantMsg:    "Invalid start_gift_date",
		},
		{
			name:       "forbidden without body",
			status:     http.StatusForbidden,
			wantStatus: 403,
			wantMsg:    "Forbidden",
		},
		{
			name:       "error list on success status",
			status:     http.StatusOK,
			body:       `[{"message":"The requested resource was not found","error_code":"NotFound"}]`,
			wantStatus: 200,
			wantCode:   "NotFound",
			wantMsg:    "The requested resource was not found",
		},
		{
			name:      "malformed json",
			status:    http.StatusOK,
			body:      `{"value": [`,
			malformed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			sleeper := &recordingSleeper{}
			_, err := newTestClient(sleeper).Get(context.Background(), srv.URL, nil)
			if err == nil {
				t.Fatal("Get() expected error")
			}
			if calls != 1 || len(sleeper.delays) != 0 {
				t.Errorf("calls = %d, sleeps = %d; want a single attempt", calls, len(sleeper.delays))
			}

			if tt.malformed {
				if !errors.Is(err, ErrMalformedResponse) {
					t.Errorf("err = %v, want ErrMalformedResponse", err)
				}
				return
			}
			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("err = %v, want *APIError", err)
			}
			if apiErr.StatusCode != tt.wantStatus || apiErr.Code != tt.wantCode || apiErr.Message != tt.wantMsg {
				t.Errorf("APIError = %+v, want status %d code %q message %q", apiErr, tt.wantStatus, tt.wantCode, tt.wantMsg)
			}
		})
	}
}

func TestClientGet_ErrorWordsInDataAreNotErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"value":[{"id":"1","reference":"bad request from donor, error in cheque","message":"unauthorized"}]}`))
	}))
	defer srv.Close()

	if _, err := newTestClient(&recordingSleeper{}).Get(context.Background(), srv.URL, nil); err != nil {
		t.Errorf("Get() error = %v, want success", err)
	}
}

func TestClientGet_RejectsNonHTTPURL(t *testing.T) {
	if _, err := newTestClient(&recordingSleeper{}).Get(context.Background(), "file:///etc/passwd", nil); err == nil {
		t.Error("Get() expected error for file URL")
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", 0},
		{"5", 5 * time.Second},
		{"-1", 0},
		{"soon", 0},
		{now.Add(30 * time.Second).Format(http.TimeFormat), 30 * time.Second},
	}
	for _, tt := range tests {
		if got := parseRetryAfter(tt.in, now); got != tt.want {
			t.Errorf("parseRetryAfter(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
