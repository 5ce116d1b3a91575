// Package scraper fetches web pages concurrently and extracts their readable
// text. A batch never fails as a whole because of a single URL: each page
// reports its own content or error.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("scraper/Scraper")

// ErrInvalidURL marks URLs that are not absolute http(s) addresses.
var ErrInvalidURL = errors.New("scraper: invalid url")

const maxBodyBytes = 5 << 20

// Page is the outcome for one URL.
type Page struct {
	URL     string `json:"url"`
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Batch is the outcome for a list of URLs, in input order.
// Success is true only when every page was fetched.
type Batch struct {
	Success bool   `json:"success"`
	Results []Page `json:"results"`
}

// Fetcher scrapes a batch of URLs.
type Fetcher interface {
	Scrape(ctx context.Context, urls []string) (Batch, error)
}

// Options tunes a Scraper.
type Options struct {
	Timeout     time.Duration // per attempt
	Concurrency int
	MaxRetries  int
	MaxChars    int
	RetryBase   time.Duration // first backoff interval
	UserAgent   string
}

// Scraper is the network-backed Fetcher.
type Scraper struct {
	http *http.Client
	opts Options
}

// New returns a Scraper with defaults filled in.
func New(o Options) *Scraper {
	if o.Timeout <= 0 {
		o.Timeout = 15 * time.Second
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 4
	}
	if o.MaxChars <= 0 {
		o.MaxChars = 20000
	}
	if o.RetryBase <= 0 {
		o.RetryBase = 500 * time.Millisecond
	}
	if o.UserAgent == "" {
		o.UserAgent = "Mozilla/5.0 (compatible; DeepSearchBot/1.0)"
	}
	return &Scraper{http: &http.Client{Timeout: o.Timeout}, opts: o}
}

// Scrape fetches every URL with bounded parallelism. It only returns an
// error when ctx ends; per-URL failures are reported in the batch.
func (s *Scraper) Scrape(ctx context.Context, urls []string) (Batch, error) {
	ctx, span := tracer.Start(ctx, "Scrape")
	defer span.End()
	span.SetAttributes(attribute.Int("scrape.urls", len(urls)))

	pages := make([]Page, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)
	for i, u := range urls {
		g.Go(func() error {
			pages[i].URL = u
			text, err := s.fetch(gctx, u)
			if err != nil {
				pages[i].Error = err.Error()
				return nil
			}
			pages[i].Content = text
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return Batch{}, err
	}

	ok := true
	for _, p := range pages {
		if p.Error != "" {
			ok = false
			break
		}
	}
	span.SetAttributes(attribute.Bool("scrape.success", ok))
	return Batch{Success: ok, Results: pages}, nil
}

func (s *Scraper) fetch(ctx context.Context, raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = s.opts.RetryBase
	var b backoff.BackOff = backoff.WithMaxRetries(eb, uint64(s.opts.MaxRetries))

	var text string
	op := func() error {
		t, err := s.fetchOnce(ctx, u.String())
		if err != nil {
			return err
		}
		text = t
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return "", err
	}
	return text, nil
}

type statusError struct{ code int }

func (e *statusError) Error() string { return fmt.Sprintf("http status %d", e.code) }

func (s *Scraper) fetchOnce(ctx context.Context, u string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", backoff.Permanent(err)
	}
	req.Header.Set("User-Agent", s.opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.5")

	resp, err := s.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", backoff.Permanent(ctx.Err())
		}
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		se := &statusError{code: resp.StatusCode}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return "", se
		}
		return "", backoff.Permanent(se)
	}

	body := io.LimitReader(resp.Body, maxBodyBytes)
	ct, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	var text string
	switch {
	case ct == "" || strings.Contains(ct, "html"):
		text, err = ExtractText(body)
	case strings.HasPrefix(ct, "text/"):
		var raw []byte
		raw, err = io.ReadAll(body)
		text = collapse(string(raw))
	default:
		return "", backoff.Permanent(fmt.Errorf("unsupported content type %q", ct))
	}
	if err != nil {
		return "", err
	}
	return truncate(text, s.opts.MaxChars), nil
}

var (
	spaceRun = regexp.MustCompile(`[ \t\f\r]+`)
	lineRun  = regexp.MustCompile(`\n\s*\n+`)
)

// ExtractText returns the readable text of an HTML document: boilerplate
// elements are dropped and main/article content is preferred when present.
func ExtractText(r io.Reader) (string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", err
	}
	doc.Find("script, style, noscript, svg, iframe, nav, footer, header, form, aside").Remove()

	root := doc.Find("main, article").First()
	if root.Length() == 0 {
		root = doc.Find("body")
	}
	var b strings.Builder
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		b.WriteString("# ")
		b.WriteString(title)
		b.WriteString("\n\n")
	}
	blocks := root.Find("h1, h2, h3, h4, p, li, pre, td, blockquote")
	if blocks.Length() == 0 {
		b.WriteString(root.Text())
	}
	blocks.Each(func(_ int, s *goquery.Selection) {
		if t := strings.Join(strings.Fields(s.Text()), " "); t != "" {
			b.WriteString(t)
			b.WriteString("\n")
		}
	})
	return collapse(b.String()), nil
}

func collapse(s string) string {
	s = spaceRun.ReplaceAllString(s, " ")
	s = lineRun.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
