package transfer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// HTTPConfig configures an HTTPChannel.
type HTTPConfig struct {
	BaseURL           string
	Token             string
	RequestsPerSecond float64
	Timeout           time.Duration
	RetryCount        int
}

// HTTPChannel talks to a clearinghouse file API:
//
//	PUT /outbound/{name}   upload an 837P
//	GET /inbound           {"files":[{"name":"..."}]}
//	GET /inbound/{name}    raw X12 content
type HTTPChannel struct {
	client  *resty.Client
	limiter *rate.Limiter
	logger  zerolog.Logger

	mu      sync.Mutex
	retryAt time.Time
}

type inboundListing struct {
	Files []struct {
		Name string `json:"name"`
	} `json:"files"`
}

// NewHTTPChannel builds a rate-limited client for cfg.BaseURL.
func NewHTTPChannel(cfg HTTPConfig, logger zerolog.Logger) (*HTTPChannel, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("transfer: clearinghouse URL is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 2
	}
	if cfg.RetryCount < 0 {
		cfg.RetryCount = 0
	}

	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= http.StatusInternalServerError
		})
	if cfg.Token != "" {
		client.SetAuthToken(cfg.Token)
	}

	return &HTTPChannel{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		logger:  logger.With().Str("component", "transfer").Logger(),
	}, nil
}

// wait blocks for the limiter and any backoff a 429 asked for.
func (h *HTTPChannel) wait(ctx context.Context) error {
	h.mu.Lock()
	retryAt := h.retryAt
	h.mu.Unlock()
	if d := time.Until(retryAt); d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	return h.limiter.Wait(ctx)
}

func (h *HTTPChannel) check(resp *resty.Response, op string) error {
	if resp.StatusCode() == http.StatusTooManyRequests {
		secs, _ := strconv.Atoi(resp.Header().Get("Retry-After"))
		if secs <= 0 {
			secs = 30
		}
		h.mu.Lock()
		h.retryAt = time.Now().Add(time.Duration(secs) * time.Second)
		h.mu.Unlock()
		h.logger.Warn().Int("retry_after", secs).Str("op", op).Msg("clearinghouse rate limit hit")
	}
	if resp.IsError() {
		return fmt.Errorf("%s: clearinghouse returned %s", op, resp.Status())
	}
	return nil
}

// Put uploads payload as name.
func (h *HTTPChannel) Put(ctx context.Context, name string, payload []byte) error {
	if err := checkName(name); err != nil {
		return err
	}
	if err := h.wait(ctx); err != nil {
		return err
	}
	resp, err := h.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/edi-x12").
		SetBody(payload).
		Put("/outbound/" + url.PathEscape(name))
	if err != nil {
		return fmt.Errorf("put %s: %w", name, err)
	}
	if err := h.check(resp, "put "+name); err != nil {
		return err
	}
	h.logger.Info().Str("filename", name).Int("bytes", len(payload)).Msg("file uploaded")
	return nil
}

// List returns the names of inbound files the clearinghouse holds.
func (h *HTTPChannel) List(ctx context.Context) ([]string, error) {
	if err := h.wait(ctx); err != nil {
		return nil, err
	}
	var listing inboundListing
	resp, err := h.client.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		SetResult(&listing).
		Get("/inbound")
	if err != nil {
		return nil, fmt.Errorf("list inbound: %w", err)
	}
	if err := h.check(resp, "list inbound"); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(listing.Files))
	for _, f := range listing.Files {
		if checkName(f.Name) == nil {
			names = append(names, f.Name)
		}
	}
	return names, nil
}

// Fetch downloads one inbound file.
func (h *HTTPChannel) Fetch(ctx context.Context, name string) ([]byte, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	if err := h.wait(ctx); err != nil {
		return nil, err
	}
	resp, err := h.client.R().
		SetContext(ctx).
		Get("/inbound/" + url.PathEscape(name))
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", name, err)
	}
	if err := h.check(resp, "fetch "+name); err != nil {
		return nil, err
	}
	return resp.Body(), nil
}
