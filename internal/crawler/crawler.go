// Package crawler fetches a seed page and the pages it links to, breadth
// first up to a depth limit, politely and in parallel.
package crawler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	ragerrors "github.com/Aman-CERP/ragscraper/internal/errors"
)

// maxBodyBytes caps a single page body.
const maxBodyBytes = 10 << 20

// Config controls a crawl.
type Config struct {
	// MaxDepth is the number of link hops followed from the seed; 0 fetches
	// only the seed.
	MaxDepth int
	// MaxPages caps the pages delivered per seed; 0 means no cap.
	MaxPages int
	Workers  int
	// Delay is the minimum interval between requests to one host.
	Delay     time.Duration
	Timeout   time.Duration
	UserAgent string
	// SameHost only follows links on the seed's host.
	SameHost bool

	Client *http.Client
	Logger *slog.Logger
}

// Page is one fetched text page.
type Page struct {
	URL         string
	HTML        []byte
	Depth       int
	ContentType string
	FetchedAt   time.Time
}

// Result summarises a crawl.
type Result struct {
	Pages   int
	Skipped int // non-text responses
	Failed  int
}

// VisitFunc receives every fetched page. It may be called from several
// goroutines at once; an error aborts the crawl.
type VisitFunc func(ctx context.Context, page Page) error

// Crawler fetches pages. One Crawler may run several crawls concurrently;
// they share per-host rate limits.
type Crawler struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New creates a Crawler.
func New(cfg Config) *Crawler {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "ragscraper/1.0"
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Crawler{cfg: cfg, client: client, logger: logger, limiters: map[string]*rate.Limiter{}}
}

type target struct {
	url   string
	depth int
}

// Crawl fetches seed and follows links level by level. A failure to fetch
// the seed is returned (retryable when the server or network was at
// fault); failures further down are logged and counted.
func (c *Crawler) Crawl(ctx context.Context, seed string, visit VisitFunc) (Result, error) {
	start, err := Canonicalize(seed)
	if err != nil {
		return Result{}, ragerrors.New(ragerrors.ErrCodeInvalidPayload, "invalid seed url", err).
			WithDetail("url", seed)
	}
	seedHost := hostOf(start)

	var (
		res      Result
		pages    atomic.Int64
		skipped  atomic.Int64
		failed   atomic.Int64
		seenMu   sync.Mutex
		seen     = map[string]bool{start: true}
		frontier = []target{{url: start}}
	)

	for len(frontier) > 0 {
		var (
			nextMu sync.Mutex
			next   []target
		)
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(c.cfg.Workers)

		for _, t := range frontier {
			if c.cfg.MaxPages > 0 && pages.Load() >= int64(c.cfg.MaxPages) {
				break
			}
			g.Go(func() error {
				if c.cfg.MaxPages > 0 && pages.Load() >= int64(c.cfg.MaxPages) {
					return nil
				}
				page, links, err := c.fetch(gctx, t)
				if err != nil {
					if t.depth == 0 {
						return err
					}
					failed.Add(1)
					c.logger.Debug("crawl_fetch_failed",
						slog.String("url", t.url),
						ragerrors.LogAttr(err))
					return nil
				}
				if page == nil {
					skipped.Add(1)
					return nil
				}
				if n := pages.Add(1); c.cfg.MaxPages > 0 && n > int64(c.cfg.MaxPages) {
					pages.Add(-1)
					return nil
				}
				if err := visit(gctx, *page); err != nil {
					return err
				}

				if t.depth >= c.cfg.MaxDepth {
					return nil
				}
				var fresh []target
				seenMu.Lock()
				for _, l := range links {
					if seen[l] || (c.cfg.SameHost && hostOf(l) != seedHost) {
						continue
					}
					seen[l] = true
					fresh = append(fresh, target{url: l, depth: t.depth + 1})
				}
				seenMu.Unlock()

				nextMu.Lock()
				next = append(next, fresh...)
				nextMu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			res.Pages, res.Skipped, res.Failed = int(pages.Load()), int(skipped.Load()), int(failed.Load())
			return res, err
		}
		frontier = next
	}

	res.Pages, res.Skipped, res.Failed = int(pages.Load()), int(skipped.Load()), int(failed.Load())
	c.logger.Info("crawl_complete",
		slog.String("seed", start),
		slog.Int("pages", res.Pages),
		slog.Int("skipped", res.Skipped),
		slog.Int("failed", res.Failed))
	return res, nil
}

// fetch downloads one page. A nil page with a nil error means the
// response was not text.
func (c *Crawler) fetch(ctx context.Context, t target) (*Page, []string, error) {
	if err := c.limiter(hostOf(t.url)).Wait(ctx); err != nil {
		return nil, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.url, nil)
	if err != nil {
		return nil, nil, ragerrors.New(ragerrors.ErrCodeInvalidPayload, "invalid url", err).WithDetail("url", t.url)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/*;q=0.9,*/*;q=0.1")

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		return nil, nil, ragerrors.New(ragerrors.ErrCodeFetchFailed, "request failed", err).WithDetail("url", t.url)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		e := ragerrors.Newf(ragerrors.ErrCodeFetchFailed, "unexpected status %d", resp.StatusCode).
			WithDetail("url", t.url)
		// Client errors other than throttling will not go away on retry.
		e.Retryable = resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		return nil, nil, e
	}

	contentType := resp.Header.Get("Content-Type")
	if !isText(contentType) {
		c.logger.Debug("crawl_skip_non_text",
			slog.String("url", t.url),
			slog.String("content_type", contentType))
		return nil, nil, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, nil, ragerrors.New(ragerrors.ErrCodeFetchFailed, "failed to read body", err).WithDetail("url", t.url)
	}

	// Redirects change the base for relative links.
	final := t.url
	if resp.Request != nil && resp.Request.URL != nil {
		if u, err := Canonicalize(resp.Request.URL.String()); err == nil {
			final = u
		}
	}

	var links []string
	if t.depth < c.cfg.MaxDepth {
		links = ExtractLinks(final, body)
	}
	return &Page{
		URL:         final,
		HTML:        body,
		Depth:       t.depth,
		ContentType: contentType,
		FetchedAt:   time.Now().UTC(),
	}, links, nil
}

func (c *Crawler) limiter(host string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, ok := c.limiters[host]
	if !ok {
		limit := rate.Inf
		if c.cfg.Delay > 0 {
			limit = rate.Every(c.cfg.Delay)
		}
		l = rate.NewLimiter(limit, 1)
		c.limiters[host] = l
	}
	return l
}

// isText accepts any text/* or *html* media type, and responses that do
// not declare one.
func isText(contentType string) bool {
	if contentType == "" {
		return true
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt = strings.ToLower(contentType)
	}
	return strings.HasPrefix(mt, "text/") || strings.Contains(mt, "html")
}

// Canonicalize normalises a URL for deduplication: lower-case scheme and
// host, no fragment, "/" for an empty path. Only http and https are valid.
func Canonicalize(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("missing host in %q", raw)
	}
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String(), nil
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Host
}
