package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ragerrors "github.com/Aman-CERP/ragscraper/internal/errors"
	"github.com/Aman-CERP/ragscraper/internal/logging"
)

// site serves a fixed set of paths; anything else is a 404.
func site(t *testing.T, pages map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/image.png":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write([]byte{0x89, 'P', 'N', 'G'})
			return
		case "/broken":
			http.Error(w, "down", http.StatusInternalServerError)
			return
		}
		body, ok := pages[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

type collector struct {
	mu    sync.Mutex
	pages []Page
}

func (c *collector) visit(_ context.Context, p Page) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pages = append(c.pages, p)
	return nil
}

func (c *collector) paths(base string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, p := range c.pages {
		out = append(out, strings.TrimPrefix(p.URL, base))
	}
	sort.Strings(out)
	return out
}

func newTestCrawler(depth int) *Crawler {
	return New(Config{MaxDepth: depth, Workers: 4, SameHost: true, Logger: logging.Discard()})
}

func TestCrawl_FollowsLinksToDepthLimit(t *testing.T) {
	// Given: a chain / -> /a -> /b -> /c
	srv := site(t, map[string]string{
		"/":  `<a href="/a">a</a>`,
		"/a": `<a href="/b">b</a>`,
		"/b": `<a href="/c">c</a>`,
		"/c": `end`,
	})
	var c collector

	// When: crawling with a depth of 2
	res, err := newTestCrawler(2).Crawl(context.Background(), srv.URL, c.visit)

	// Then: /c is three hops away and is not fetched
	require.NoError(t, err)
	assert.Equal(t, []string{"/", "/a", "/b"}, c.paths(srv.URL))
	assert.Equal(t, 3, res.Pages)
}

func TestCrawl_DepthZeroFetchesOnlySeed(t *testing.T) {
	srv := site(t, map[string]string{"/": `<a href="/a">a</a>`, "/a": "a"})
	var c collector

	_, err := newTestCrawler(0).Crawl(context.Background(), srv.URL, c.visit)

	require.NoError(t, err)
	assert.Equal(t, []string{"/"}, c.paths(srv.URL))
}

func TestCrawl_RecordsDepthAndContentType(t *testing.T) {
	srv := site(t, map[string]string{"/": `<a href="/a">a</a>`, "/a": "a"})
	var c collector

	_, err := newTestCrawler(1).Crawl(context.Background(), srv.URL+"/#top", c.visit)
	require.NoError(t, err)

	require.Len(t, c.pages, 2)
	for _, p := range c.pages {
		assert.Contains(t, p.ContentType, "text/html")
		assert.False(t, p.FetchedAt.IsZero())
		if strings.HasSuffix(p.URL, "/a") {
			assert.Equal(t, 1, p.Depth)
		} else {
			assert.Equal(t, 0, p.Depth)
			assert.Equal(t, srv.URL+"/", p.URL)
		}
	}
}

func TestCrawl_SkipsNonTextAndCountsFailures(t *testing.T) {
	// Given: a seed linking to an image, a broken page and a missing page
	srv := site(t, map[string]string{
		"/": `<a href="/image.png">i</a><a href="/broken">b</a><a href="/missing">m</a><a href="/ok">ok</a>`,
		"/ok": "fine",
	})
	var c collector

	// When: crawling
	res, err := newTestCrawler(1).Crawl(context.Background(), srv.URL, c.visit)

	// Then: child failures do not fail the crawl
	require.NoError(t, err)
	assert.Equal(t, []string{"/", "/ok"}, c.paths(srv.URL))
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 2, res.Failed)
}

func TestCrawl_SameHostFiltersExternalLinks(t *testing.T) {
	var external sync.Map
	other := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		external.Store(r.URL.Path, true)
		_, _ = fmt.Fprint(w, "external")
	}))
	t.Cleanup(other.Close)
	srv := site(t, map[string]string{"/": `<a href="` + other.URL + `/x">x</a>`})
	var c collector

	_, err := newTestCrawler(1).Crawl(context.Background(), srv.URL, c.visit)

	require.NoError(t, err)
	assert.Len(t, c.pages, 1)
	_, fetched := external.Load("/x")
	assert.False(t, fetched)
}

func TestCrawl_SeedFailures(t *testing.T) {
	srv := site(t, map[string]string{})

	t.Run("client error is permanent", func(t *testing.T) {
		_, err := newTestCrawler(1).Crawl(context.Background(), srv.URL+"/missing", (&collector{}).visit)
		require.Error(t, err)
		assert.Equal(t, ragerrors.ErrCodeFetchFailed, ragerrors.GetCode(err))
		assert.False(t, ragerrors.IsRetryable(err))
	})

	t.Run("server error is retryable", func(t *testing.T) {
		_, err := newTestCrawler(1).Crawl(context.Background(), srv.URL+"/broken", (&collector{}).visit)
		require.Error(t, err)
		assert.True(t, ragerrors.IsRetryable(err))
	})

	t.Run("invalid seed", func(t *testing.T) {
		_, err := newTestCrawler(1).Crawl(context.Background(), "ftp://example.com/", (&collector{}).visit)
		require.Error(t, err)
		assert.Equal(t, ragerrors.ErrCodeInvalidPayload, ragerrors.GetCode(err))
	})
}

func TestCrawl_MaxPagesCapsDelivery(t *testing.T) {
	pages := map[string]string{"/": ""}
	for i := range 10 {
		pages["/"] += fmt.Sprintf(`<a href="/p%d">p</a>`, i)
		pages[fmt.Sprintf("/p%d", i)] = "leaf"
	}
	srv := site(t, pages)
	var c collector

	cr := New(Config{MaxDepth: 1, MaxPages: 4, Workers: 3, SameHost: true, Logger: logging.Discard()})
	res, err := cr.Crawl(context.Background(), srv.URL, c.visit)

	require.NoError(t, err)
	assert.Equal(t, 4, res.Pages)
	assert.Len(t, c.pages, 4)
}

func TestCrawl_VisitErrorAborts(t *testing.T) {
	srv := site(t, map[string]string{"/": `<a href="/a">a</a>`, "/a": "a"})
	stop := errors.New("store down")

	_, err := newTestCrawler(1).Crawl(context.Background(), srv.URL, func(context.Context, Page) error {
		return stop
	})

	assert.ErrorIs(t, err, stop)
}

func TestExtractLinks(t *testing.T) {
	body := []byte(`<html><head><base href="https://docs.example.com/guide/"></head><body>
		<a href="intro">relative</a>
		<a href="/root#section">absolute path</a>
		<a href="#top">fragment only</a>
		<a href="mailto:a@b.c">mail</a>
		<a href="javascript:void(0)">js</a>
		<a href="HTTPS://Docs.Example.com/intro">dup by case</a>
		<a>no href</a>
		<a href="http://other.example.org">other</a>
	</body></html>`)

	links := ExtractLinks("https://ignored.example.com/page", body)

	assert.Equal(t, []string{
		"https://docs.example.com/guide/intro",
		"https://docs.example.com/root",
		"https://docs.example.com/intro",
		"http://other.example.org/",
	}, links)
}

func TestCanonicalize(t *testing.T) {
	tests := []struct {
		in, want string
		wantErr  bool
	}{
		{"HTTP://Example.COM", "http://example.com/", false},
		{"https://example.com/a?b=1#frag", "https://example.com/a?b=1", false},
		{"  https://example.com/x  ", "https://example.com/x", false},
		{"ftp://example.com", "", true},
		{"/relative", "", true},
	}
	for _, tt := range tests {
		got, err := Canonicalize(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestReadSeeds(t *testing.T) {
	seeds, err := ReadSeeds(strings.NewReader("# docs\nhttps://a.example.com\n\n  https://b.example.com  \n#https://c.example.com\n"))

	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, seeds)
}

func TestIsText(t *testing.T) {
	assert.True(t, isText("text/html; charset=utf-8"))
	assert.True(t, isText("text/plain"))
	assert.True(t, isText("application/xhtml+xml"))
	assert.True(t, isText(""))
	assert.False(t, isText("application/pdf"))
	assert.False(t, isText("image/png"))
}
