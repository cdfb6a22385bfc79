// Package upstream fetches the marketplace acceptance coefficient feed under
// a requests-per-window quota.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"coefbot/internal/supply"
	logx "coefbot/pkg/logx"
)

var (
	// ErrUpstream covers transport failures and non-2xx responses.
	ErrUpstream = errors.New("upstream request failed")
	// ErrParse means the response body did not match the expected schema.
	ErrParse = errors.New("upstream response malformed")
)

const (
	DefaultURL               = "https://supplies-api.wildberries.ru/api/v1/acceptance/coefficients"
	DefaultRequestsPerMinute = 6
	DefaultTimeout           = 15 * time.Second
)

type Config struct {
	URL   string
	Token string
	// RequestsPerWindow is R: at most R requests start per Window.
	RequestsPerWindow int
	Window            time.Duration // default one minute
	Timeout           time.Duration
	UserAgent         string
}

// Fetcher is safe for concurrent use; callers beyond the quota block in
// Fetch until a slot frees up or their context ends.
type Fetcher struct {
	client   *resty.Client
	limiter  *rate.Limiter
	url      string
	interval time.Duration
	log      logx.Logger
}

func New(cfg Config, log logx.Logger) (*Fetcher, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		url = DefaultURL
	}
	if cfg.RequestsPerWindow <= 0 {
		cfg.RequestsPerWindow = DefaultRequestsPerMinute
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	client := resty.New()
	client.SetTimeout(cfg.Timeout)
	client.SetHeader("Accept", "application/json")
	if cfg.UserAgent != "" {
		client.SetHeader("User-Agent", cfg.UserAgent)
	}
	if tok := strings.TrimSpace(cfg.Token); tok != "" {
		client.SetAuthToken(tok)
	}

	interval := cfg.Window / time.Duration(cfg.RequestsPerWindow)
	return &Fetcher{
		client:   client,
		limiter:  rate.NewLimiter(rate.Every(interval), cfg.RequestsPerWindow),
		url:      url,
		interval: interval,
		log:      log,
	}, nil
}

// Interval is window/R, the pace at which the quota refills.
func (f *Fetcher) Interval() time.Duration { return f.interval }

// Fetch performs one rate-limited request and decodes the whole feed.
func (f *Fetcher) Fetch(ctx context.Context) (supply.Snapshot, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return supply.Snapshot{}, ctx.Err()
		}
		// The deadline is closer than the next free slot.
		return supply.Snapshot{}, fmt.Errorf("upstream: rate limit wait: %w", context.DeadlineExceeded)
	}

	start := time.Now()
	resp, err := f.client.R().SetContext(ctx).Get(f.url)
	if err != nil {
		if ctx.Err() != nil {
			return supply.Snapshot{}, ctx.Err()
		}
		return supply.Snapshot{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	if code := resp.StatusCode(); code < http.StatusOK || code >= http.StatusMultipleChoices {
		return supply.Snapshot{}, fmt.Errorf("%w: status %d: %s", ErrUpstream, code, snippet(resp.Body()))
	}

	entries, err := Decode(resp.Body())
	if err != nil {
		return supply.Snapshot{}, err
	}
	f.log.Debug("feed fetched",
		logx.Int("entries", len(entries)),
		logx.Duration("took", time.Since(start)),
	)
	return supply.Snapshot{FetchedAt: time.Now().UTC(), Entries: entries}, nil
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
