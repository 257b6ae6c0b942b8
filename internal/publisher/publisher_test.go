package publisher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	logx "postpilot/pkg/logx"
)

func TestErrorClassification(t *testing.T) {
	t.Parallel()

	base := errors.New("boom")

	if Permanent(nil) != nil {
		t.Error("Permanent(nil) should be nil")
	}
	perm := Permanent(base)
	if !IsPermanent(perm) {
		t.Error("IsPermanent(Permanent(err)) = false")
	}
	if !errors.Is(perm, base) {
		t.Error("Permanent should wrap the original error")
	}
	if IsPermanent(base) {
		t.Error("plain error classified as permanent")
	}

	ra := RetryAfter(base, 5*time.Second)
	var hint RetryAfterError
	if !errors.As(ra, &hint) {
		t.Fatal("RetryAfter error does not implement RetryAfterError")
	}
	if hint.RetryAfter() != 5*time.Second {
		t.Errorf("RetryAfter() = %v, want 5s", hint.RetryAfter())
	}
	if IsPermanent(ra) {
		t.Error("retry-after error classified as permanent")
	}
}

func TestRegistryLookup(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	reg.Register("telegram", Func(func(ctx context.Context, req Request) (Result, error) {
		return Result{URL: "https://t.me/x/1"}, nil
	}))

	p, err := reg.Lookup("telegram")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	res, err := p.Publish(context.Background(), Request{PostID: "p1"})
	if err != nil || res.URL == "" {
		t.Fatalf("publish = (%v, %v)", res, err)
	}

	_, err = reg.Lookup("myspace")
	if !errors.Is(err, ErrUnknownPlatform) {
		t.Fatalf("err = %v, want ErrUnknownPlatform", err)
	}
	if !IsPermanent(err) {
		t.Error("unknown platform should be a permanent failure")
	}
}

func TestWebhookPublish(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sekrit" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"url":"https://example.net/posts/42"}`))
	}))
	defer srv.Close()

	wh := NewWebhook("mastodon", WebhookConfig{URL: srv.URL, AuthToken: "sekrit"}, logx.Nop())
	res, err := wh.Publish(context.Background(), Request{PostID: "p1", Caption: "hello"})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if res.URL != "https://example.net/posts/42" {
		t.Errorf("URL = %q", res.URL)
	}
}

func TestWebhookClientErrorIsPermanent(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	wh := NewWebhook("mastodon", WebhookConfig{URL: srv.URL}, logx.Nop())
	_, err := wh.Publish(context.Background(), Request{PostID: "p1"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsPermanent(err) {
		t.Errorf("4xx should be permanent, got %v", err)
	}
}

func TestWebhookRateLimitedCarriesHint(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	wh := NewWebhook("mastodon", WebhookConfig{URL: srv.URL, RetryMax: 1, Timeout: 2 * time.Second}, logx.Nop())
	_, err := wh.Publish(context.Background(), Request{PostID: "p1"})
	if err == nil {
		t.Fatal("expected error")
	}
	if IsPermanent(err) {
		t.Error("429 must stay retryable")
	}
	var hint RetryAfterError
	if !errors.As(err, &hint) {
		t.Fatalf("err = %v, want RetryAfterError", err)
	}
	if hint.RetryAfter() != 7*time.Second {
		t.Errorf("RetryAfter() = %v, want 7s", hint.RetryAfter())
	}
}
