package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"

	"postpilot/internal/catalog"
	logx "postpilot/pkg/logx"
)

// WebhookConfig configures one platform's webhook endpoint.
type WebhookConfig struct {
	// URL receives a JSON POST per publish.
	URL string `json:"url"`
	// AuthToken, when set, is sent as a bearer token.
	AuthToken string `json:"auth_token"`
	// RatePerMinute caps outbound publishes for this platform. Zero means
	// no limit.
	RatePerMinute float64 `json:"rate_per_minute"`
	// Timeout bounds a single HTTP attempt. Default 30s.
	Timeout time.Duration `json:"timeout"`
	// RetryMax is the transport-level retry budget per publish attempt
	// (connection resets, 5xx). Scheduling-level retries are handled by the
	// dispatcher on top of this. Default 2.
	RetryMax int `json:"retry_max"`
}

// Webhook delivers posts to a platform by POSTing them to a configured
// endpoint. The receiving side (a bot, a bridge, the platform's own
// incoming-webhook feature) owns the final platform API call.
type Webhook struct {
	platform string
	cfg      WebhookConfig
	client   *retryablehttp.Client
	limiter  *rate.Limiter
	log      logx.Logger
}

type webhookPayload struct {
	PostID        string             `json:"postId"`
	DestinationID string             `json:"destinationId"`
	Caption       string             `json:"caption"`
	Media         []catalog.MediaRef `json:"media,omitempty"`
}

type webhookResponse struct {
	URL string `json:"url"`
}

func NewWebhook(platform string, cfg WebhookConfig, log logx.Logger) *Webhook {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 2
	}
	client := retryablehttp.NewClient()
	client.RetryMax = cfg.RetryMax
	client.HTTPClient.Timeout = cfg.Timeout
	client.Logger = nil
	// 429 handling belongs to the dispatcher's backoff, not the transport:
	// surface it immediately instead of sleeping through Retry-After here.
	client.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
			return false, nil
		}
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}
	// Hand the final response back so publish errors can be classified.
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler

	var limiter *rate.Limiter
	if cfg.RatePerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerMinute/60), 1)
	}
	return &Webhook{
		platform: platform,
		cfg:      cfg,
		client:   client,
		limiter:  limiter,
		log:      log.With(logx.String("platform", platform)),
	}
}

func (w *Webhook) Publish(ctx context.Context, req Request) (Result, error) {
	if w.limiter != nil {
		if err := w.limiter.Wait(ctx); err != nil {
			return Result{}, err
		}
	}

	payload := webhookPayload{
		PostID:        req.PostID,
		DestinationID: req.DestinationID,
		Caption:       req.Caption,
		Media:         req.Media,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Result{}, Permanent(fmt.Errorf("encode payload: %w", err))
	}

	hreq, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, w.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return Result{}, Permanent(fmt.Errorf("build request: %w", err))
	}
	hreq.Header.Set("Content-Type", "application/json")
	if w.cfg.AuthToken != "" {
		hreq.Header.Set("Authorization", "Bearer "+w.cfg.AuthToken)
	}

	resp, err := w.client.Do(hreq)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return Result{}, fmt.Errorf("webhook %s: %w", w.platform, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var out webhookResponse
		if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
			// A 2xx without a parseable body is still a successful publish.
			out.URL = ""
		}
		w.log.Debug("published", logx.String("post_id", req.PostID), logx.Int("status", resp.StatusCode))
		return Result{URL: out.URL}, nil

	case resp.StatusCode == http.StatusTooManyRequests:
		err := fmt.Errorf("webhook %s: rate limited (429)", w.platform)
		if after := retryAfterHeader(resp); after > 0 {
			return Result{}, RetryAfter(err, after)
		}
		return Result{}, err

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return Result{}, Permanent(fmt.Errorf("webhook %s: rejected with status %d", w.platform, resp.StatusCode))

	default:
		return Result{}, fmt.Errorf("webhook %s: status %d", w.platform, resp.StatusCode)
	}
}

func retryAfterHeader(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}
